package query

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	internalDriverRe  = regexp.MustCompile(`MongoDB Internal Client|NetworkInterfaceTL`)
	phpExtensionRe    = regexp.MustCompile(`(?i)ext-mongodb`)
	housekeepingAppRe = regexp.MustCompile(`(?i)MongoDB (Monitoring Module|Automation Agent)`)
)

// ShouldSkip reports whether op is internal traffic that the default view
// hides. The checks run in a fixed order and the first one that decides wins.
func ShouldSkip(op *Operation) bool {
	// Index builds are always interesting.
	if strings.Contains(op.Ns, "system.indexes") {
		return false
	}

	if strings.HasPrefix(op.Client, "192") {
		return true
	}

	if driver := op.DriverName(); driver != "" {
		// Our own PHP extension is never hidden.
		if phpExtensionRe.MatchString(driver) {
			return false
		}
		if internalDriverRe.MatchString(driver) {
			return true
		}
	}

	if housekeepingAppRe.MatchString(op.AppName) {
		return true
	}

	if op.Command == nil {
		return false
	}
	if isTruthyFlag(op.Command["hello"]) {
		return true
	}
	if isTrue(op.Command["ismaster"]) || isTrue(op.Command["isMaster"]) {
		return true
	}
	if db, _ := op.Command["$db"].(string); db == "config" {
		return true
	}
	return false
}

// Criteria is the part of the preferences the filter looks at.
type Criteria struct {
	ShowAll bool
	MinTime float64
}

// Filter drops noise and operations younger than MinTime. ShowAll returns ops
// untouched. skipped counts everything that was dropped.
func Filter(ops []Operation, c Criteria) (kept []Operation, skipped int) {
	if c.ShowAll {
		return ops, 0
	}
	kept = make([]Operation, 0, len(ops))
	for i := range ops {
		if ShouldSkip(&ops[i]) || ops[i].RunningSeconds() < c.MinTime {
			skipped++
			continue
		}
		kept = append(kept, ops[i])
	}
	return kept, skipped
}

// isTruthyFlag matches the two spellings drivers use for a set flag: 1 and true.
func isTruthyFlag(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 1
	}
	return false
}

func isTrue(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
