// Package tui runs the terminal dashboard.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mongo-query-top/internal/db"
	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
	"mongo-query-top/internal/render"
	"mongo-query-top/internal/snapshot"
)

const (
	// subtracted from the refresh interval to make up for render time
	sleepMargin  = 100 * time.Millisecond
	pausedPoll   = 500 * time.Millisecond
	minimumSleep = 100 * time.Millisecond
)

// Deps is what the dashboard polls and renders with. Metrics may be nil.
type Deps struct {
	Conn      db.Connector
	Prefs     *prefs.Preferences
	Processor *render.Processor
	Terminal  *render.Terminal
	Store     *snapshot.Store
	Metrics   *metrics.Metrics
}

type tickMsg time.Time

type pollMsg struct {
	ops    []query.Operation
	status *db.ServerStatus
	took   time.Duration
	err    error
}

type Model struct {
	ctx  context.Context
	deps Deps
	keys keyMap
	help help.Model

	ops    []query.Operation
	status *db.ServerStatus
	result render.Result
	header string
	body   string
	err    error
}

func New(ctx context.Context, deps Deps) Model {
	return Model{
		ctx:  ctx,
		deps: deps,
		keys: defaultKeyMap(),
		help: help.New(),
	}
}

// Err is the fetch error that ended the program, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return m.fetch()
}

// Fetch lists the running operations and reads the connection counts
// together.
func Fetch(ctx context.Context, conn db.Connector, filter db.Filter) ([]query.Operation, *db.ServerStatus, error) {
	var (
		ops    []query.Operation
		status db.ServerStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ops, err = conn.CurrentOp(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		status, err = conn.ServerStatus(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ops, &status, nil
}

func (m Model) fetch() tea.Cmd {
	ctx, conn, filter := m.ctx, m.deps.Conn, db.Filter{IP: m.deps.Prefs.Get().IP}
	return func() tea.Msg {
		start := time.Now()
		ops, status, err := Fetch(ctx, conn, filter)
		return pollMsg{ops: ops, status: status, took: time.Since(start), err: err}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// nextPoll is the refresh interval less the margin.
func nextPoll(s prefs.Settings) time.Duration {
	d := s.Refresh() - sleepMargin
	if d < minimumSleep {
		return minimumSleep
	}
	return d
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.deps.Terminal.Resize(msg.Width, msg.Height)
		m.help.Width = msg.Width
		m.redraw()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if err := m.deps.Conn.Close(m.ctx); err != nil {
				logging.Logger.WithError(err).Warn("Failed to close the database connection")
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.deps.Prefs.TogglePaused()
		case key.Matches(msg, m.keys.Reverse):
			m.deps.Prefs.ToggleReversed()
		case key.Matches(msg, m.keys.ShowAll):
			m.deps.Prefs.ToggleShowAll()
		case key.Matches(msg, m.keys.Snapshot):
			m.deps.Prefs.RequestSnapshot()
			return m, nil
		default:
			return m, nil
		}
		m.redraw()
		return m, nil

	case pollMsg:
		if m.deps.Metrics != nil {
			m.deps.Metrics.ObservePoll(msg.took, msg.err)
		}
		if msg.err != nil {
			logging.Logger.WithError(msg.err).Error("Error running currentOp")
			m.err = msg.err
			return m, tea.Quit
		}
		m.ops, m.status = msg.ops, msg.status
		m.process()
		m.deps.Store.AutoLog(m.ctx, m.result.Kept, m.deps.Prefs.Get())
		m.snapshotIfRequested()
		m.draw()
		return m, tick(nextPoll(m.deps.Prefs.Get()))

	case tickMsg:
		if m.deps.Prefs.Get().Paused {
			m.snapshotIfRequested()
			m.redraw()
			return m, tick(pausedPoll)
		}
		return m, m.fetch()
	}
	return m, nil
}

// redraw processes the cached operations with the current preferences.
func (m *Model) redraw() {
	m.process()
	m.draw()
}

func (m *Model) process() {
	m.result = m.deps.Processor.Process(m.ops, m.deps.Prefs.Get())
	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveSummary(m.result.Summary)
	}
}

func (m *Model) draw() {
	m.header = m.deps.Terminal.Header(m.deps.Prefs.Get(), m.deps.Prefs.Notice(), m.status)
	m.body = m.deps.Terminal.Body(m.result)
}

func (m *Model) snapshotIfRequested() {
	if !m.deps.Prefs.TakeSnapshotRequest() {
		return
	}
	n, err := m.deps.Store.Save(m.result.Kept)
	if err != nil {
		logging.Logger.WithError(err).Error("Failed to write snapshot")
		m.deps.Prefs.SetNotice("Snapshot failed: " + err.Error())
		return
	}
	logging.Logger.WithFields(logrus.Fields{"count": n}).Debug("Snapshot requested from keyboard")
}

func (m Model) View() string {
	if m.err != nil {
		return "Error running db.currentOp(): " + m.err.Error() + "\n"
	}
	var b strings.Builder
	b.WriteString(m.header)
	b.WriteString("\n")
	b.WriteString(m.body)
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Run shows the dashboard until the user quits or a poll fails.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}

// RenderOnce polls once and returns the rendering.
func RenderOnce(ctx context.Context, deps Deps) (string, error) {
	s := deps.Prefs.Get()
	ops, status, err := Fetch(ctx, deps.Conn, db.Filter{IP: s.IP})
	if err != nil {
		return "", err
	}
	res := deps.Processor.Process(ops, s)
	deps.Store.AutoLog(ctx, res.Kept, s)
	return deps.Terminal.Header(s, deps.Prefs.Notice(), status) + "\n" + deps.Terminal.Body(res) + "\n", nil
}
