// Package notify delivers operational alerts to chat channels. The collector
// raises few events, but the ones it does raise (a tripped disk guard, an
// upstream resolution conflict) are exactly the ones an operator wants pushed
// rather than buried in logs.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event names the collector emits.
const (
	EventGuardTripped       = "guard_tripped"
	EventResolutionConflict = "resolution_conflict"
	EventPhaseFailure       = "phase_failure"
	EventExportComplete     = "export_complete"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to every configured sender, filtered by event
// name. With no senders configured every call is a no-op, so callers never
// need a nil check.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event names; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. Only events named in
// the events slice are forwarded; an empty slice forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to all senders if it passes the event filter.
// Delivery failures are logged and combined; one failing channel does not
// block the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
