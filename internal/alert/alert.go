// Package alert delivers operator notifications without ever blocking the
// trading path.
package alert

import (
	"context"
	"time"

	"alats/internal/model/enum"

	"github.com/yanun0323/logs"
)

// Alert is one operator notification.
type Alert struct {
	Severity enum.Severity `json:"severity"`
	Message  string        `json:"message"`
	Time     time.Time     `json:"time"`
}

// Notifier delivers an alert to one destination.
type Notifier interface {
	Notify(ctx context.Context, severity enum.Severity, message string) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, severity enum.Severity, message string) error {
	switch severity {
	case enum.SeverityCritical:
		logs.Errorf("alert [%s] %s", severity, message)
	case enum.SeverityWarning:
		logs.Warnf("alert [%s] %s", severity, message)
	default:
		logs.Infof("alert [%s] %s", severity, message)
	}
	return nil
}

// FanOut delivers to every notifier and returns the first error.
type FanOut []Notifier

func (f FanOut) Notify(ctx context.Context, severity enum.Severity, message string) error {
	var first error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, severity, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
