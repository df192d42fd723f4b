// Package alert dispatches operator alerts for integrity and reconciliation failures.
package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Alert struct {
	Kind       string            `json:"kind"`
	Severity   Severity          `json:"severity"`
	Summary    string            `json:"summary"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It never fails.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("kind", alert.Kind),
		zap.String("severity", string(alert.Severity)),
		zap.Time("occurred_at", alert.OccurredAt),
	}
	for k, v := range alert.Details {
		fields = append(fields, zap.String(k, v))
	}
	zap.L().Error("ALERT: "+alert.Summary, fields...)
	return nil
}

// Multi fans an alert out to every notifier; one failing channel does not stop the others.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
