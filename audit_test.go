package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess, ActorID: "u1"})
	d.Close()

	select {
	case event := <-sink.Events():
		if event.EventType != auditEventLoginSuccess || event.ActorID != "u1" {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	sink := blockingSink{release: blocked}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the drain goroutine, second fills the buffer,
	// the rest must be dropped without blocking.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	}
	close(blocked)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("no events counted as dropped")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(_ context.Context, _ AuditEvent) { <-s.release }

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), AuditEvent{}) // nil receiver is safe
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogout, ActorID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if event.EventType != auditEventLogout || event.ActorID != "u1" || !event.Success {
		t.Fatalf("event = %+v", event)
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(64)
	h := newTestHarnessWithSink(t, nil, sink)
	h.seedUser(t, "u1", "alice@example.com", StatusActive, false)

	result, err := h.engine.Login(context.Background(), loginInput("alice@example.com"))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := h.engine.Logout(context.Background(), result.SessionID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	h.engine.Close()

	types := make(map[string]int)
	for {
		select {
		case event := <-sink.Events():
			if event.Timestamp.IsZero() {
				t.Fatalf("event %s has no timestamp", event.EventType)
			}
			types[event.EventType]++
			continue
		default:
		}
		break
	}

	for _, want := range []string{
		auditEventNewDevice,
		auditEventSessionCreated,
		auditEventLoginSuccess,
		auditEventLogout,
	} {
		if types[want] == 0 {
			t.Fatalf("missing audit event %s, got %v", want, types)
		}
	}
}
