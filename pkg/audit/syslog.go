package audit

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	reconnectBackoffInit = 100 * time.Millisecond
	reconnectBackoffMax  = 30 * time.Second

	// sdID is the structured data element id for all emitted messages.
	sdID = "realitycam@32473"
)

// SyslogEmitter writes audit events to the local syslog daemon as RFC 5424
// messages with structured data.
//
// On write failure the emitter attempts to reconnect to the syslog socket with
// exponential backoff (100ms initial, 30s cap).
type SyslogEmitter struct {
	conn       net.Conn
	hostname   string
	appName    string
	procID     string
	facility   Facility
	socketPath string

	mu              sync.Mutex
	backoff         time.Duration
	lastReconnectAt time.Time
}

// SyslogConfig holds configuration for the syslog writer.
type SyslogConfig struct {
	SocketPath string   // Default: "/dev/log"
	Hostname   string   // Default: os.Hostname()
	AppName    string   // Default: "realitycam"
	Facility   Facility // Default: FacLocal0
}

// NewSyslogEmitter creates a SyslogEmitter. Returns an error if the syslog
// socket is unavailable; callers should fall back to the other backends.
func NewSyslogEmitter(cfg SyslogConfig) (*SyslogEmitter, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/dev/log"
	}
	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			cfg.Hostname = "unknown"
		} else {
			cfg.Hostname = h
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "realitycam"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacLocal0
	}

	conn, err := dialSyslog(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("syslog connect: %w", err)
	}

	return &SyslogEmitter{
		conn:       conn,
		hostname:   cfg.Hostname,
		appName:    cfg.AppName,
		procID:     strconv.Itoa(os.Getpid()),
		facility:   cfg.Facility,
		socketPath: cfg.SocketPath,
	}, nil
}

// Emit converts an audit Event to an RFC 5424 message and writes it to the
// syslog socket. Safe to call on a nil receiver (returns nil).
func (w *SyslogEmitter) Emit(ev Event) error {
	if w == nil {
		return nil
	}
	params := make([]SDParam, 0, 2+len(ev.Details))
	if ev.ActorID != "" {
		params = append(params, SDParam{Name: "device_id", Value: ev.ActorID})
	}
	if ev.CorrelationID != "" {
		params = append(params, SDParam{Name: "correlation_id", Value: ev.CorrelationID})
	}
	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, SDParam{Name: k, Value: ev.Details[k]})
	}

	msg := Message{
		Facility:  w.facility,
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
		Hostname:  w.hostname,
		AppName:   w.appName,
		ProcessID: w.procID,
		MessageID: string(ev.Type),
		SD: []SDElement{{
			ID:     sdID,
			Params: params,
		}},
	}

	return w.writeOrReconnect(FormatMessage(msg))
}

// writeOrReconnect writes data to the syslog socket. On failure it attempts
// one reconnect (subject to backoff) and retries the write.
func (w *SyslogEmitter) writeOrReconnect(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.conn.Write(data)
	if err == nil {
		w.backoff = 0
		return nil
	}

	if reconnErr := w.reconnectLocked(); reconnErr != nil {
		return fmt.Errorf("syslog write failed (%v), reconnect failed: %w", err, reconnErr)
	}

	_, err = w.conn.Write(data)
	if err == nil {
		w.backoff = 0
	}
	return err
}

// reconnectLocked closes the dead connection and dials a new one.
// Must be called with w.mu held.
func (w *SyslogEmitter) reconnectLocked() error {
	if w.backoff > 0 && time.Since(w.lastReconnectAt) < w.backoff {
		return fmt.Errorf("syslog reconnect backoff: retry in %v", w.backoff-time.Since(w.lastReconnectAt))
	}

	w.conn.Close()

	conn, err := dialSyslog(w.socketPath)
	if err != nil {
		w.lastReconnectAt = time.Now()
		if w.backoff == 0 {
			w.backoff = reconnectBackoffInit
		} else {
			w.backoff *= 2
			if w.backoff > reconnectBackoffMax {
				w.backoff = reconnectBackoffMax
			}
		}
		return fmt.Errorf("syslog reconnect: %w", err)
	}

	w.conn = conn
	w.backoff = 0
	w.lastReconnectAt = time.Time{}
	return nil
}

// Close closes the syslog socket connection.
// Safe to call on a nil receiver (returns nil).
func (w *SyslogEmitter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// dialSyslog connects to the local syslog daemon. Tries unixgram first and
// falls back to unix stream sockets.
func dialSyslog(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unixgram", socketPath)
	if err == nil {
		return conn, nil
	}
	return net.Dial("unix", socketPath)
}
