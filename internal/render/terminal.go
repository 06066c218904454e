package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"mongo-query-top/internal/db"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
)

const (
	indexWidth  = 4
	idWidth     = 26
	ageWidth    = 10
	opNsWidth   = 26
	minQueryCol = 20
	// two padding cells per column plus the vertical borders
	tableChrome = 5*2 + 6
	defaultCols = 120
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	collScanStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	messageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	lockStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14"))
	flagStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	borderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle       = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

// Terminal renders a poll as a header and a table sized to the terminal.
type Terminal struct {
	server string
	uri    string
	width  int
	height int
	now    func() time.Time
}

func NewTerminal(server, uri string) *Terminal {
	return &Terminal{server: server, uri: RedactURI(uri), width: defaultCols, now: time.Now}
}

// Resize records the terminal size. Non-positive sizes are ignored.
func (t *Terminal) Resize(width, height int) {
	if width > 0 {
		t.width = width
	}
	if height > 0 {
		t.height = height
	}
}

// Header describes what is being shown. status may be nil when server status
// was not fetched.
func (t *Terminal) Header(s prefs.Settings, notice string, status *db.ServerStatus) string {
	parts := []string{
		"db.currentOp() for " + highlightStyle.Render(t.server) + " " + dimStyle.Render("("+t.uri+")") + ".",
		"Refreshing every " + highlightStyle.Render(formatSeconds(s.RefreshInterval)) + ".",
		"Min time " + highlightStyle.Render(formatSeconds(s.MinTime)) + ".",
		"Time: " + highlightStyle.Render(t.now().Format("January 2 2006, 3:04:05 pm")),
		dimStyle.Render(fmt.Sprintf("(%dx%d)", t.width, t.height)),
	}
	if status != nil {
		parts = append(parts, fmt.Sprintf("Connections: %s current, %s available.",
			highlightStyle.Render(humanize.Comma(status.Connections.Current)),
			highlightStyle.Render(humanize.Comma(status.Connections.Available))))
	}

	var flags []string
	if s.Paused {
		flags = append(flags, flagStyle.Render(" PAUSED "))
	}
	if s.Reversed {
		flags = append(flags, flagStyle.Render(" REVERSED "))
	}
	if s.ShowAll {
		flags = append(flags, flagStyle.Render(" ALL "))
	}
	if s.IP != "" {
		flags = append(flags, flagStyle.Render(" IP "+s.IP+" "))
	}

	line := strings.Join(parts, " ")
	if len(flags) > 0 {
		line += " " + strings.Join(flags, " ")
	}
	out := lipgloss.NewStyle().Width(t.width).Render(line)
	if notice != "" {
		out += "\n" + noticeStyle.Render(" "+query.StripANSI(notice)+" ")
	}
	return out
}

func (t *Terminal) queryWidth() int {
	w := t.width - indexWidth - idWidth - ageWidth - opNsWidth - tableChrome
	if w < minQueryCol {
		return minQueryCol
	}
	return w
}

// Body renders the table of displayed operations, followed by the summary
// when more than one operation is shown.
func (t *Terminal) Body(res Result) string {
	if len(res.Queries) == 0 {
		msg := fmt.Sprintf("No queries running, great! (%d skipped)", res.Summary.SkippedQueries)
		return boxStyle.Width(t.width - 2).Render(msg)
	}

	widths := []int{indexWidth, idWidth, ageWidth, opNsWidth, t.queryWidth()}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		BorderRow(true).
		Headers("#", "ID / client / app", "Age", "op / ns", "Query").
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1).Width(widths[col] + 2)
			if row == table.HeaderRow {
				return s.Inherit(headerStyle)
			}
			return s
		})

	for _, d := range res.Queries {
		tbl.Row(
			strconv.Itoa(d.Index),
			t.idCell(d),
			d.RunTimeFormatted,
			d.Operation+"\n"+dimStyle.Render(d.Namespace),
			t.queryCell(d, widths[4]),
		)
	}

	out := tbl.Render()
	if len(res.Queries) > 1 {
		out += "\n" + t.summary(res.Summary)
	}
	return out
}

func (t *Terminal) idCell(d query.DisplayOperation) string {
	lines := []string{strconv.FormatInt(d.Opid, 10)}
	if d.Client != nil {
		client := d.Client.IP
		if loc := d.Client.Location; loc != nil {
			client += " " + strings.Join(nonEmpty(loc.City, loc.Region, loc.Country), ", ")
		}
		lines = append(lines, dimStyle.Render(client))
	}
	if d.UserAgent != "" {
		lines = append(lines, dimStyle.Render(d.UserAgent))
	}
	return strings.Join(lines, "\n")
}

func (t *Terminal) queryCell(d query.DisplayOperation, width int) string {
	q := PrettyQuery(d.Query, width)
	if Trimmed(q) {
		q = dimStyle.Italic(true).Render("(trimmed)") + " " + q
	}
	if d.IsCollectionScan {
		q = collScanStyle.Render(q)
	}
	if d.WaitingForLock {
		q = lockStyle.Render("waiting for lock") + "\n\n" + q
	}
	if d.Message != nil {
		q = messageStyle.Render(*d.Message) + "\n\n" + q
	}
	return q
}

func (t *Terminal) summary(s query.Summary) string {
	lines := []string{
		fmt.Sprintf("%s total, %s displayed, %s skipped, %s unindexed",
			highlightStyle.Render(humanize.Comma(int64(s.TotalQueries))),
			highlightStyle.Render(humanize.Comma(int64(s.DisplayedQueries))),
			highlightStyle.Render(humanize.Comma(int64(s.SkippedQueries))),
			collScanStyle.Render(humanize.Comma(int64(s.UnindexedQueries)))),
		"ops: " + formatRanking(s.Operations),
		"ns: " + formatRanking(s.Namespaces),
		"clients: " + formatRanking(s.UserAgents),
	}
	return boxStyle.Width(t.width - 2).Render(strings.Join(lines, "\n"))
}

func formatRanking(r query.Ranking) string {
	parts := make([]string, 0, len(r))
	for _, lc := range r {
		label := lc.Label
		if label == "" {
			label = "(none)"
		}
		parts = append(parts, fmt.Sprintf("%s %s", label, highlightStyle.Render(humanize.Comma(int64(lc.Count)))))
	}
	return strings.Join(parts, ", ")
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64) + "s"
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
