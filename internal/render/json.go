package render

import (
	"time"

	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
)

type Metadata struct {
	Server          string  `json:"server"`
	URI             string  `json:"uri"`
	RefreshInterval float64 `json:"refreshInterval"`
	MinTime         float64 `json:"minTime"`
	Timestamp       string  `json:"timestamp"`
	Paused          bool    `json:"paused"`
	Reversed        bool    `json:"reversed"`
	ShowAll         bool    `json:"showAll"`
	Message         *string `json:"message"`
}

type Payload struct {
	Queries []query.DisplayOperation `json:"queries"`
	Summary query.Summary            `json:"summary"`
}

// Response is the body of GET /api/currentOp and of each stream message.
type Response struct {
	Success   bool     `json:"success"`
	Metadata  Metadata `json:"metadata"`
	Data      Payload  `json:"data"`
	Timestamp string   `json:"timestamp"`
}

// ErrorResponse is returned with a 4xx or 5xx status.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type JSON struct {
	server string
	uri    string
	now    func() time.Time
}

// NewJSON returns a renderer for server. uri is redacted before use.
func NewJSON(server, uri string) *JSON {
	return &JSON{server: server, uri: RedactURI(uri), now: time.Now}
}

func (j *JSON) Metadata(s prefs.Settings, notice string) Metadata {
	md := Metadata{
		Server:          j.server,
		URI:             j.uri,
		RefreshInterval: s.RefreshInterval,
		MinTime:         s.MinTime,
		Timestamp:       j.now().Format(time.RFC3339),
		Paused:          s.Paused,
		Reversed:        s.Reversed,
		ShowAll:         s.ShowAll,
	}
	if notice != "" {
		msg := query.StripANSI(notice)
		md.Message = &msg
	}
	return md
}

func (j *JSON) Render(res Result, s prefs.Settings, notice string) Response {
	queries := res.Queries
	if queries == nil {
		queries = []query.DisplayOperation{}
	}
	return Response{
		Success:   true,
		Metadata:  j.Metadata(s, notice),
		Data:      Payload{Queries: queries, Summary: res.Summary},
		Timestamp: j.now().UTC().Format(isoMillis),
	}
}
