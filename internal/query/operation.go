package query

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongo-query-top/internal/logging"
)

// Document is a generic record decoded from relaxed extended JSON. Numbers
// are json.Number so 64-bit ids survive the round trip.
type Document = map[string]interface{}

type DriverInfo struct {
	Name    string `bson:"name" json:"name"`
	Version string `bson:"version" json:"version"`
}

type ApplicationInfo struct {
	Name string `bson:"name" json:"name"`
}

// ClientMetadata is the handshake metadata a driver sends. Every part of it
// is optional and depends on the driver.
type ClientMetadata struct {
	Driver      *DriverInfo      `bson:"driver,omitempty" json:"driver,omitempty"`
	Application *ApplicationInfo `bson:"application,omitempty" json:"application,omitempty"`
	Platform    string           `bson:"platform,omitempty" json:"platform,omitempty"`
}

type EffectiveUser struct {
	User string `bson:"user" json:"user"`
	DB   string `bson:"db" json:"db"`
}

// Operation is one entry of the currentOp inprog array. It is never modified
// after Decode; views are projected from it.
type Operation struct {
	Opid             int64           `bson:"opid"`
	Op               string          `bson:"op"`
	Ns               string          `bson:"ns"`
	SecsRunning      int64           `bson:"secs_running"`
	MicrosecsRunning int64           `bson:"microsecs_running"`
	Client           string          `bson:"client"`
	AppName          string          `bson:"appName"`
	ClientMetadata   *ClientMetadata `bson:"clientMetadata,omitempty"`
	PlanSummary      string          `bson:"planSummary"`
	WaitingForLock   bool            `bson:"waitingForLock"`
	Msg              string          `bson:"msg"`
	EffectiveUsers   []EffectiveUser `bson:"effectiveUsers,omitempty"`

	// Command is nil when the record carries no command document.
	Command Document `bson:"-"`
	// Doc is the complete record as the server returned it.
	Doc Document `bson:"-"`
}

// Decode builds an Operation from a raw inprog document.
func Decode(raw bson.Raw) (Operation, error) {
	var op Operation
	if err := bson.Unmarshal(raw, &op); err != nil {
		return op, fmt.Errorf("failed to decode operation: %w", err)
	}
	doc, err := ToDocument(raw)
	if err != nil {
		return op, err
	}
	op.Doc = doc
	if cmd, ok := op.Doc["command"].(Document); ok {
		op.Command = cmd
	}
	return op, nil
}

// ToDocument converts a BSON document to its relaxed extended JSON form.
func ToDocument(raw bson.Raw) (Document, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document to JSON: %w", err)
	}
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(ext))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// FromDocument encodes doc and decodes it back as an Operation.
func FromDocument(doc interface{}) (Operation, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return Operation{}, fmt.Errorf("failed to encode operation: %w", err)
	}
	return Decode(raw)
}

// DecodeAll decodes the inprog entries. Entries that do not decode, such as
// mongos records whose opid is "<shard>:<id>", are logged and left out.
func DecodeAll(inprog []bson.Raw) []Operation {
	ops := make([]Operation, 0, len(inprog))
	for i, raw := range inprog {
		op, err := Decode(raw)
		if err != nil {
			log := logging.Logger.WithField("index", i)
			if v, lerr := raw.LookupErr("opid"); lerr == nil {
				log = log.WithFields(logrus.Fields{"opid": v.String()})
			}
			log.WithError(err).Warn("Skipping operation")
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// MarshalJSON writes the record exactly as the server returned it.
func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.Doc)
}

// RunningSeconds prefers microsecond precision when the server reports it.
func (op *Operation) RunningSeconds() float64 {
	if op.MicrosecsRunning > 0 {
		return float64(op.MicrosecsRunning) / 1e6
	}
	return float64(op.SecsRunning)
}

func (op *Operation) IsCollectionScan() bool {
	return op.PlanSummary == "COLLSCAN"
}

func (op *Operation) DriverName() string {
	if op.ClientMetadata == nil || op.ClientMetadata.Driver == nil {
		return ""
	}
	return op.ClientMetadata.Driver.Name
}

func (op *Operation) ApplicationName() string {
	if op.ClientMetadata == nil || op.ClientMetadata.Application == nil {
		return ""
	}
	return op.ClientMetadata.Application.Name
}

func (op *Operation) Platform() string {
	if op.ClientMetadata == nil {
		return ""
	}
	return op.ClientMetadata.Platform
}
