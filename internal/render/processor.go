// Package render turns one poll of operations into what the terminal and
// the HTTP API show.
package render

import (
	"sort"

	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
)

// Result is one poll after sorting, filtering and aggregation.
type Result struct {
	// All is every operation of the poll in display order.
	All []query.Operation
	// Kept is the subset that passed the filters, in display order.
	Kept    []query.Operation
	Queries []query.DisplayOperation
	Summary query.Summary
}

type Processor struct {
	resolver query.ClientResolver
}

// NewProcessor returns a processor. resolver may be nil, in which case
// client addresses are left out.
func NewProcessor(resolver query.ClientResolver) *Processor {
	return &Processor{resolver: resolver}
}

// Process sorts ops by running time, longest last unless reversed, then
// filters, projects and summarizes them. ops is not modified.
func (p *Processor) Process(ops []query.Operation, s prefs.Settings) Result {
	sorted := make([]query.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MicrosecsRunning < sorted[j].MicrosecsRunning
	})
	if s.Reversed {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}

	kept, skipped := query.Filter(sorted, query.Criteria{ShowAll: s.ShowAll, MinTime: s.MinTime})

	displayed := make([]query.DisplayOperation, 0, len(kept))
	for i := range kept {
		displayed = append(displayed, query.Project(&kept[i], i+1, p.resolver))
	}

	return Result{
		All:     sorted,
		Kept:    kept,
		Queries: displayed,
		Summary: query.Summarize(sorted, displayed, skipped),
	}
}
