// Package alert posts auto-logged operations to a Slack webhook.
package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"

	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/query"
)

// Slack sends one message per operation id. Operations are written to disk
// on every poll they stay slow, so repeats are dropped.
type Slack struct {
	webhookURL string
	server     string
	metrics    *metrics.Metrics

	mu   sync.Mutex
	sent map[int64]struct{}
}

// NewSlack returns nil when webhookURL is empty.
func NewSlack(webhookURL, server string, m *metrics.Metrics) *Slack {
	if webhookURL == "" {
		return nil
	}
	return &Slack{
		webhookURL: webhookURL,
		server:     server,
		metrics:    m,
		sent:       make(map[int64]struct{}),
	}
}

// Message is the alert text for op.
func (s *Slack) Message(op *query.Operation, reason string) string {
	return fmt.Sprintf("%s: %s %s (opid %d, %s)", s.server, reason, op.Ns, op.Opid, query.FormatRunTime(op.SecsRunning))
}

func (s *Slack) Notify(ctx context.Context, op *query.Operation, reason string) error {
	if s == nil {
		return nil
	}
	if !s.claim(op.Opid) {
		return nil
	}

	err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{
		Text: s.Message(op, reason),
	})
	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(metrics.Result(err)).Inc()
	}
	if err != nil {
		s.release(op.Opid)
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	return nil
}

func (s *Slack) claim(opid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sent[opid]; ok {
		return false
	}
	s.sent[opid] = struct{}{}
	return true
}

// release lets a failed alert be retried on the next poll.
func (s *Slack) release(opid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sent, opid)
}
