package query

import "mongo-query-top/internal/geo"

// DisplayOperation is the per-operation view both renderers consume.
type DisplayOperation struct {
	Index            int             `json:"index"`
	Opid             int64           `json:"opid"`
	RunTime          int64           `json:"runTime"`
	RunTimeFormatted string          `json:"runTimeFormatted"`
	Operation        string          `json:"operation"`
	Namespace        string          `json:"namespace"`
	Query            Document        `json:"query"`
	PlanSummary      string          `json:"planSummary,omitempty"`
	IsCollectionScan bool            `json:"isCollectionScan"`
	WaitingForLock   bool            `json:"waitingForLock"`
	Message          *string         `json:"message"`
	Client           *geo.Client     `json:"client"`
	UserAgent        string          `json:"userAgent"`
	EffectiveUsers   []EffectiveUser `json:"effectiveUsers"`
}

// ClientResolver turns a client endpoint into an address with optional geo data.
type ClientResolver interface {
	Resolve(endpoint string) *geo.Client
}

// Project builds the display view of op. index is 1-based.
func Project(op *Operation, index int, resolver ClientResolver) DisplayOperation {
	d := DisplayOperation{
		Index:            index,
		Opid:             op.Opid,
		RunTime:          op.SecsRunning,
		RunTimeFormatted: FormatRunTime(op.SecsRunning),
		Operation:        StripANSI(op.Op),
		Namespace:        StripANSI(op.Ns),
		Query:            Sanitize(op, true),
		PlanSummary:      op.PlanSummary,
		IsCollectionScan: op.IsCollectionScan(),
		WaitingForLock:   op.WaitingForLock,
		UserAgent:        StripANSI(FormatUserAgent(op)),
		EffectiveUsers:   op.EffectiveUsers,
	}
	if op.Msg != "" {
		msg := StripANSI(op.Msg)
		d.Message = &msg
	}
	if op.Client != "" && resolver != nil {
		d.Client = resolver.Resolve(op.Client)
	}
	return d
}
