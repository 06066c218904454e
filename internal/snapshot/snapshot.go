// Package snapshot writes operations to disk, either on request or
// automatically when an operation runs long or scans a collection.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
)

// KindCollScan marks files written because the operation scanned a collection.
const KindCollScan = "collscan"

type FileSystem interface {
	MkdirAll(path string) error
	WriteFile(path string, data []byte) error
}

type DefaultFileSystem struct{}

func (DefaultFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (DefaultFileSystem) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// Notifier is told about every operation written by AutoLog.
type Notifier interface {
	Notify(ctx context.Context, op *query.Operation, reason string) error
}

type Store struct {
	dir      string
	fs       FileSystem
	prefs    *prefs.Preferences
	metrics  *metrics.Metrics
	notifier Notifier
	now      func() time.Time
}

type Option func(*Store)

func WithFileSystem(fs FileSystem) Option { return func(s *Store) { s.fs = fs } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithNotifier(n Notifier) Option { return func(s *Store) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a store writing under logDir/server.
func New(logDir, server string, p *prefs.Preferences, opts ...Option) *Store {
	s := &Store{
		dir:   filepath.Join(logDir, server),
		fs:    DefaultFileSystem{},
		prefs: p,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes ops twice, as returned by the server and sanitized, and
// returns how many were written. The pending snapshot request is cleared
// even when there is nothing to write.
func (s *Store) Save(ops []query.Operation) (int, error) {
	defer s.prefs.Update(func(st *prefs.Settings) { st.Snapshot = false })

	if len(ops) == 0 {
		return 0, nil
	}
	if err := s.fs.MkdirAll(s.dir); err != nil {
		return 0, fmt.Errorf("failed to create snapshot folder: %w", err)
	}

	stamp := strings.ReplaceAll(s.now().Format(time.RFC3339), ":", "-")

	if _, err := s.write(filepath.Join(s.dir, "queries-raw-"+stamp+".json"), ops); err != nil {
		return 0, err
	}

	sanitized := make([]query.Document, 0, len(ops))
	for i := range ops {
		sanitized = append(sanitized, query.Sanitize(&ops[i], false))
	}
	name := filepath.Join(s.dir, "queries-sanitized-"+stamp+".json")
	size, err := s.write(name, sanitized)
	if err != nil {
		return 0, err
	}

	s.prefs.SetNotice(fmt.Sprintf("Wrote %d queries (%s) to %s", len(ops), humanize.Bytes(uint64(size)), name))
	s.observe("manual")
	logging.Logger.WithFields(logrus.Fields{"file": name, "count": len(ops)}).Info("Snapshot written")
	return len(ops), nil
}

// SaveQuery writes one operation as a raw and a sanitized file. kind is
// part of the file names; the runtime trigger uses "".
func (s *Store) SaveQuery(op *query.Operation, kind string) error {
	rawDir := filepath.Join(s.dir, "raw")
	if err := s.fs.MkdirAll(rawDir); err != nil {
		return fmt.Errorf("failed to create query folder: %w", err)
	}

	if kind != "" {
		kind += "-"
	}
	base := fmt.Sprintf("query-%d-%s-%s", op.Opid, fileSafe(op.Ns), kind)

	if _, err := s.write(filepath.Join(rawDir, base+"raw.json"), op); err != nil {
		return err
	}

	sanitized := query.SanitizeWithRuntime(op)
	if _, err := s.write(filepath.Join(s.dir, base+"sanitized.json"), sanitized); err != nil {
		return err
	}

	s.prefs.SetNotice(fmt.Sprintf("Wrote query %d to disk", op.Opid))
	s.observe("auto")
	return nil
}

// AutoLog writes every operation that crosses the auto-log threshold or
// scans a collection, and returns how many were written.
func (s *Store) AutoLog(ctx context.Context, ops []query.Operation, settings prefs.Settings) int {
	written := 0
	for i := range ops {
		op := &ops[i]
		collScan := op.IsCollectionScan()
		if !settings.AutoLog(op.RunningSeconds(), collScan) {
			continue
		}

		kind, reason := "", "long-running query on"
		if collScan {
			kind, reason = KindCollScan, "collection scan on"
		}

		log := logging.Logger.WithFields(logrus.Fields{"opid": op.Opid, "ns": op.Ns, "kind": kind})
		if err := s.SaveQuery(op, kind); err != nil {
			log.WithError(err).Error("Failed to write query")
			continue
		}
		written++

		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, op, reason); err != nil {
				log.WithError(err).Warn("Failed to send alert")
			}
		}
	}
	return written
}

func (s *Store) write(path string, v interface{}) (int, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return len(data), nil
}

func (s *Store) observe(trigger string) {
	if s.metrics != nil {
		s.metrics.SnapshotsTotal.WithLabelValues(trigger).Inc()
	}
}

func fileSafe(ns string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(ns)
}
