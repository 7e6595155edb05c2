// Package audit records security-relevant pipeline events.
//
// Every event carries the correlation id of the submission that produced it,
// so a rejected submission can be traced even though it never reaches
// evidence computation. Backends implement [EventEmitter]: [LogEmitter]
// writes slog records, [StoreEmitter] persists to the SQLite audit_log table
// and [SyslogEmitter] sends RFC 5424 messages to the local syslog daemon.
// [MultiEmitter] fans one event out to several backends.
package audit
