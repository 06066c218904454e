package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"mongo-query-top/internal/query"
)

// IndexAdvicePrompt describes op for the model: its sanitized command, the
// namespace, the plan and how long it has been running.
func IndexAdvicePrompt(op *query.Operation) (string, error) {
	var b strings.Builder
	b.WriteString("# Running operation analysis\n\n")
	b.WriteString("Your job is to explain, in concise markdown, why the MongoDB operation below is slow and how to fix it. Use lists for your findings and no intro text.\n")
	b.WriteString("For the ESR rule: analyze the role of each field in the query (equality, sort, or range - only direct equality and the $in operator are equality operators).\n")
	b.WriteString("Don't just say whether an index is used - suggest a better index when applicable, as a createIndex call.\n")
	if op.IsCollectionScan() {
		b.WriteString("The query planner chose a collection scan.\n")
	}

	fmt.Fprintf(&b, "\nNamespace: %s\n", op.Ns)
	fmt.Fprintf(&b, "Operation: %s\n", op.Op)
	if op.PlanSummary != "" {
		fmt.Fprintf(&b, "Plan summary: %s\n", op.PlanSummary)
	}
	fmt.Fprintf(&b, "Running for: %s\n", query.FormatRunTime(op.SecsRunning))
	if ua := query.FormatUserAgent(op); ua != "" {
		fmt.Fprintf(&b, "Originating client: %s\n", ua)
	}

	js, err := json.MarshalIndent(query.Sanitize(op, true), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal operation: %w", err)
	}
	b.WriteString("\n```json\n")
	b.Write(js)
	b.WriteString("\n```\n")
	return b.String(), nil
}
