package audit

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// recordingEmitter captures emitted events for test verification.
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type failingEmitter struct{}

func (failingEmitter) Emit(Event) error { return errors.New("sink down") }

func TestEventConstructors_Severity(t *testing.T) {
	t.Log("Verifying every constructor picks the mapped severity")
	events := []Event{
		NewSubmissionReceived("dev", "corr", "cap"),
		NewAuthReject("dev", "corr", "auth.expired", "timestamp outside window"),
		NewSubmissionAdmitted("dev", "corr", 7),
		NewSubmissionRejected("dev", "corr", "missing media"),
		NewAttestationVerified("dev", "corr", "fp"),
		NewAttestationDowngraded("dev", "corr", "untrusted chain"),
		NewAttestationMalformed("dev", "corr", "cbor"),
		NewEvidenceComputed("dev", "corr", "ev", "HIGH", 0),
		NewSubmissionSuperseded("dev", "corr", "cap"),
		NewDeviceRegistered("dev", "corr", "hardware_verified"),
	}
	for _, ev := range events {
		if ev.Severity != SeverityFor(ev.Type) {
			t.Errorf("%s: severity %s, want %s", ev.Type, ev.Severity, SeverityFor(ev.Type))
		}
		if ev.CorrelationID != "corr" {
			t.Errorf("%s: correlation id %q", ev.Type, ev.CorrelationID)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("%s: zero timestamp", ev.Type)
		}
	}

	if got := NewSubmissionAdmitted("dev", "corr", 7).Details["counter"]; got != "7" {
		t.Errorf("counter detail = %q, want 7", got)
	}
}

func TestSeverityFor_Unknown(t *testing.T) {
	if got := SeverityFor("made.up"); got != SeverityWarning {
		t.Errorf("unknown event severity = %s, want WARNING", got)
	}
	for _, et := range AllEventTypes() {
		if _, ok := severityMap[et]; !ok {
			t.Errorf("event type %s missing from severity map", et)
		}
	}
}

func TestMultiEmitter_ContinuesPastFailures(t *testing.T) {
	rec := &recordingEmitter{}
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	m := NewMultiEmitter(logger, failingEmitter{}, rec)
	if err := m.Emit(NewAuthReject("dev", "corr-9", "auth.replay_detected", "counter reused")); err != nil {
		t.Fatalf("MultiEmitter must not return backend errors, got %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected second backend to receive event, got %d", rec.count())
	}
	if !strings.Contains(logBuf.String(), "corr-9") {
		t.Errorf("expected backend failure to be logged with correlation id, got %q", logBuf.String())
	}
}

func TestLogEmitter_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := e.Emit(NewAuthReject("dev-1", "corr-1", "auth.expired", "late")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", "event=auth.reject", "correlation_id=corr-1", "device_id=dev-1", "code=auth.expired"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestStoreEmitter_Persists(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer s.Close()

	e := NewStoreEmitter(s)
	if err := e.Emit(NewSubmissionAdmitted("dev", "corr-2", 3)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	entries, err := s.QueryAuditEntries(store.AuditFilter{CorrelationID: "corr-2"})
	if err != nil {
		t.Fatalf("QueryAuditEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != string(EventSubmissionAdmitted) || entries[0].Details["counter"] != "3" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
	if entries[0].Severity != int(SeverityInfo) {
		t.Errorf("severity = %d, want %d", entries[0].Severity, SeverityInfo)
	}
}
