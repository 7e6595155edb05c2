package audit

import (
	"context"
	"log/slog"
	"sort"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// LogEmitter writes events as slog records at a level derived from severity.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. If logger is nil, slog.Default() is used.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (e *LogEmitter) Emit(ev Event) error {
	level := slog.LevelInfo
	if ev.Severity <= SeverityWarning {
		level = slog.LevelWarn
	}

	args := []any{
		"event", string(ev.Type),
		"correlation_id", ev.CorrelationID,
	}
	if ev.ActorID != "" {
		args = append(args, "device_id", ev.ActorID)
	}
	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, ev.Details[k])
	}

	e.logger.Log(context.Background(), level, "audit", args...)
	return nil
}

// StoreEmitter persists events to the SQLite audit_log table.
type StoreEmitter struct {
	store *store.Store
}

// NewStoreEmitter creates a StoreEmitter backed by s.
func NewStoreEmitter(s *store.Store) *StoreEmitter {
	return &StoreEmitter{store: s}
}

// Emit inserts the event as an audit entry.
func (e *StoreEmitter) Emit(ev Event) error {
	_, err := e.store.InsertAuditEntry(&store.AuditEntry{
		Timestamp:     ev.Timestamp,
		Action:        string(ev.Type),
		Severity:      int(ev.Severity),
		ActorID:       ev.ActorID,
		CorrelationID: ev.CorrelationID,
		Details:       ev.Details,
	})
	return err
}

// MultiEmitter forwards each event to several backends. Backend errors are
// logged and never returned: a failing audit sink must not block submissions.
type MultiEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewMultiEmitter creates an emitter that forwards events to the given backends.
// If logger is nil, slog.Default() is used for error reporting.
func NewMultiEmitter(logger *slog.Logger, backends ...EventEmitter) *MultiEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiEmitter{
		backends: backends,
		logger:   logger,
	}
}

// Emit writes ev to every backend.
func (e *MultiEmitter) Emit(ev Event) error {
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed",
				"event", string(ev.Type),
				"correlation_id", ev.CorrelationID,
				"error", err,
			)
		}
	}
	return nil
}
