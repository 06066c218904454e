package query

import (
	"regexp"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

type labelRule struct {
	field func(op *Operation) string
	re    *regexp.Regexp
	// name is the fixed label for a match. Empty means the field value is
	// shown, or only the matching part when partial is set.
	name    string
	partial bool
}

func appName(op *Operation) string         { return op.AppName }
func driverName(op *Operation) string      { return op.DriverName() }
func applicationName(op *Operation) string { return op.ApplicationName() }
func platform(op *Operation) string        { return op.Platform() }

// Checked in order; the first match names the client.
var labelRules = []labelRule{
	{field: appName, re: regexp.MustCompile(`(?i)NoSQLBooster`), name: "NoSQLBooster"},
	{field: appName, re: regexp.MustCompile(`(?i)MongoDB Compass`), name: "MongoDB Compass"},
	{field: appName, re: regexp.MustCompile(`(?i)Studio 3T`), name: "Studio 3T"},
	{field: appName, re: regexp.MustCompile(`(?i)MongoDB Monitoring Module`), name: "MongoDB Monitoring Module"},
	{field: appName, re: regexp.MustCompile(`(?i)MongoDB Automation Agent`), name: "MongoDB Automation Agent"},
	{field: driverName, re: regexp.MustCompile(`(?i)Mongoose`)},
	{field: driverName, re: regexp.MustCompile(`(?i)NetworkInterfaceTL`), name: "NetworkInterfaceTL"},
	{field: applicationName, re: regexp.MustCompile(`(?i)MongoDB Monitoring Module`), name: "MongoDB Monitoring Module"},
	{field: applicationName, re: regexp.MustCompile(`(?i)MongoDB Automation Agent`), name: "MongoDB Automation Agent"},
	{field: applicationName, re: regexp.MustCompile(`(?i)OplogFetcher`), name: "OplogFetcher"},
	{field: driverName, re: regexp.MustCompile(`ext-mongodb:PHP`), name: "PHP ext-mongodb"},
	{field: platform, re: regexp.MustCompile(`(?i)Node(\.js)?\sv\d+\.\d+`), partial: true},
}

var metadataDumper = spew.ConfigState{
	Indent:                  " ",
	MaxDepth:                3,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

// FormatUserAgent names the client that issued op.
func FormatUserAgent(op *Operation) string {
	for _, rule := range labelRules {
		value := rule.field(op)
		if value == "" {
			continue
		}
		m := rule.re.FindString(value)
		if m == "" {
			continue
		}
		switch {
		case rule.name != "":
			return rule.name
		case rule.partial:
			return Printable(m)
		default:
			return Printable(value)
		}
	}

	if op.AppName != "" {
		return Printable(op.AppName)
	}
	if name := op.DriverName(); name != "" {
		return Printable(name)
	}
	if meta, ok := op.Doc["clientMetadata"]; ok && meta != nil {
		return Printable(strings.Join(strings.Fields(metadataDumper.Sdump(meta)), " "))
	}
	return ""
}

// Printable keeps printable ASCII only.
func Printable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		}
	}
	return b.String()
}

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*m")

// StripANSI removes terminal colour codes.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
