package query

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

type LabelCount struct {
	Label string
	Count int
}

// Ranking is a frequency table ordered by descending count. Equal counts
// keep the order in which the labels were first seen.
type Ranking []LabelCount

// Rank counts labels and orders them.
func Rank(labels []string) Ranking {
	pos := make(map[string]int, len(labels))
	var r Ranking
	for _, l := range labels {
		if i, ok := pos[l]; ok {
			r[i].Count++
			continue
		}
		pos[l] = len(r)
		r = append(r, LabelCount{Label: l, Count: 1})
	}
	sort.SliceStable(r, func(i, j int) bool { return r[i].Count > r[j].Count })
	return r
}

// Total is the sum of all counts.
func (r Ranking) Total() int {
	n := 0
	for _, lc := range r {
		n += lc.Count
	}
	return n
}

// MarshalJSON writes an object whose key order is the rank order.
func (r Ranking) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, lc := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(lc.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(lc.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Summary struct {
	TotalQueries     int     `json:"totalQueries"`
	DisplayedQueries int     `json:"displayedQueries"`
	SkippedQueries   int     `json:"skippedQueries"`
	UnindexedQueries int     `json:"unindexedQueries"`
	Operations       Ranking `json:"operations"`
	Namespaces       Ranking `json:"namespaces"`
	UserAgents       Ranking `json:"userAgents"`
}

// Summarize aggregates the whole poll. The frequency tables cover every
// operation; collection scans only count when the operation is not noise.
func Summarize(all []Operation, displayed []DisplayOperation, skipped int) Summary {
	ops := make([]string, 0, len(all))
	nss := make([]string, 0, len(all))
	agents := make([]string, 0, len(all))
	unindexed := 0
	for i := range all {
		op := &all[i]
		ops = append(ops, StripANSI(op.Op))
		nss = append(nss, StripANSI(op.Ns))
		agents = append(agents, StripANSI(FormatUserAgent(op)))
		if op.IsCollectionScan() && !ShouldSkip(op) {
			unindexed++
		}
	}
	return Summary{
		TotalQueries:     len(all),
		DisplayedQueries: len(displayed),
		SkippedQueries:   skipped,
		UnindexedQueries: unindexed,
		Operations:       Rank(ops),
		Namespaces:       Rank(nss),
		UserAgents:       Rank(agents),
	}
}
