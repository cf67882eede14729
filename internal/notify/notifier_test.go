package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventGuardTripped}, discard())

	if err := n.Notify(context.Background(), EventGuardTripped, "guard", "disk full"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), EventExportComplete, "export", "done"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "guard" {
		t.Fatalf("delivered = %v, want only the guard event", sender.titles)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	for _, event := range []string{EventGuardTripped, EventResolutionConflict, EventPhaseFailure} {
		if err := n.Notify(context.Background(), event, event, "x"); err != nil {
			t.Fatalf("Notify(%s): %v", event, err)
		}
	}
	if len(sender.titles) != 3 {
		t.Fatalf("delivered %d events, want 3", len(sender.titles))
	}
}

func TestNotifyCollectsSenderFailures(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("webhook down")}
	n := NewNotifier([]Sender{bad, ok}, nil, discard())

	err := n.Notify(context.Background(), EventPhaseFailure, "t", "m")
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "bad: webhook down") {
		t.Fatalf("error = %v", err)
	}
	if len(ok.titles) != 1 {
		t.Fatal("healthy sender should still deliver")
	}
}

func TestNotifyNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	if err := n.Notify(context.Background(), EventGuardTripped, "t", "m"); err != nil {
		t.Fatalf("Notify with no senders: %v", err)
	}
}
