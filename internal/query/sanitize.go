package query

import "regexp"

// Housekeeping fields, and fields every view already shows in a column of its own.
var omittedFields = []string{
	"active",
	"client",
	"clientMetadata",
	"connectionId",
	"currentOpTime",
	"desc",
	"flowControlStats",
	// TODO: summarise lock stats (acquire wait counts) instead of dropping them
	"lockStats",
	"locks",
	"microsecs_running",
	"ns",
	"op",
	"opid",
	"secs_running",
	"waitingForFlowControl",
	"waitingForLatch",
}

var omittedCommandFields = []string{
	"$clusterTime",
	"lsid",
}

// The detail view renders these in dedicated fields.
var detailFields = []string{
	"appName",
	"ns",
	"op",
	"planSummary",
	"secs_running",
	"microsecs_running",
}

var noSQLBoosterRe = regexp.MustCompile(`(?i)NoSQLBooster`)

// Sanitize returns a copy of op's record without internal fields. full is
// used by the single query views and drops the fields they show separately.
// When only the command is left, the command itself is returned.
func Sanitize(op *Operation, full bool) Document {
	out := strip(op, full)
	if len(out) == 1 {
		if cmd, ok := out["command"].(Document); ok {
			return cmd
		}
	}
	return out
}

// SanitizeWithRuntime is the partial Sanitize record with secs_running
// added. It is never collapsed to the command.
func SanitizeWithRuntime(op *Operation) Document {
	out := strip(op, false)
	out["secs_running"] = op.SecsRunning
	return out
}

func strip(op *Operation, full bool) Document {
	out := copyDocument(op.Doc)
	omit(out, omittedFields...)

	if cmd, ok := out["command"].(Document); ok {
		cmd = copyDocument(cmd)
		omit(cmd, omittedCommandFields...)
		out["command"] = cmd
	}

	if noSQLBoosterRe.MatchString(op.AppName) {
		omit(out, "clientMetadata")
		if cmd, ok := out["command"].(Document); ok {
			omit(cmd, "$client")
		}
	}

	if full {
		omit(out, detailFields...)
	}
	return out
}

func omit(doc Document, keys ...string) {
	for _, k := range keys {
		delete(doc, k)
	}
}

func copyDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
