package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mworkman/handypay/internal/idgen"
	"github.com/mworkman/handypay/internal/metrics"
)

// Sink receives raised alerts for live delivery. Implemented by the
// realtime hub; delivery is best-effort.
type Sink interface {
	AlertRaised(a *Alert)
}

// Service raises, lists, and acknowledges alerts.
type Service struct {
	store  Store
	sink   Sink
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "alerts")}
}

// WithSink attaches a live-delivery sink.
func (s *Service) WithSink(sink Sink) *Service {
	s.sink = sink
	return s
}

// Raise records an alert. Raising must never fail the caller's money
// path: a store error is logged and swallowed, the returned alert still
// carries the incident for the caller's logs.
func (s *Service) Raise(ctx context.Context, kind string, severity Severity, message, jobID string, details map[string]string) *Alert {
	a := &Alert{
		ID:        idgen.WithPrefix("alert_"),
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		JobID:     jobID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}

	logArgs := []any{"alertId", a.ID, "kind", kind, "severity", string(severity), "jobId", jobID}
	switch severity {
	case SeverityCritical:
		s.logger.Error("alert raised: "+message, logArgs...)
	case SeverityWarning:
		s.logger.Warn("alert raised: "+message, logArgs...)
	default:
		s.logger.Info("alert raised: "+message, logArgs...)
	}

	if err := s.store.Create(ctx, a); err != nil {
		s.logger.Error("CRITICAL: alert could not be persisted",
			"alertId", a.ID, "kind", kind, "error", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(severity)).Inc()

	if s.sink != nil {
		s.sink.AlertRaised(a)
	}
	return a
}

// List returns alerts newest first.
func (s *Service) List(ctx context.Context, unackedOnly bool, limit int) ([]*Alert, error) {
	return s.store.List(ctx, unackedOnly, limit)
}

// Ack marks an alert acknowledged by an operator.
func (s *Service) Ack(ctx context.Context, id, ackedBy string) (*Alert, error) {
	if err := s.store.Ack(ctx, id, ackedBy, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}
