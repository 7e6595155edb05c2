package evidence

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Status is the tri-state outcome of a single verification category.
type Status string

const (
	StatusPass        Status = "pass"
	StatusFail        Status = "fail"
	StatusUnavailable Status = "unavailable"
)

// Valid reports whether s is one of the three defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusUnavailable:
		return true
	default:
		return false
	}
}

// Category identifies one verification dimension of a capture.
type Category string

const (
	CategoryHardwareAttestation Category = "hardware_attestation"
	CategorySceneAnalysis       Category = "scene_analysis"
	CategoryMetadata            Category = "metadata"
)

// Categories returns every category in canonical order.
func Categories() []Category {
	return []Category{
		CategoryHardwareAttestation,
		CategorySceneAnalysis,
		CategoryMetadata,
	}
}

// Metrics holds category-specific numeric measurements.
type Metrics map[string]float64

// Labels holds category-specific categorical findings (e.g. location status).
type Labels map[string]string

// CheckResult is the outcome of one verification category.
// The zero value is not a valid result; use Pass, Fail or Unavailable.
type CheckResult struct {
	status  Status
	reason  string
	metrics Metrics
	labels  Labels
}

// Pass records a check that ran and produced a positive reading.
func Pass(metrics Metrics) CheckResult {
	return CheckResult{status: StatusPass, metrics: maps.Clone(metrics)}
}

// Fail records a check that ran to completion and produced a conclusive
// negative or inconsistent reading.
func Fail(reason string, metrics Metrics) CheckResult {
	return CheckResult{status: StatusFail, reason: reason, metrics: maps.Clone(metrics)}
}

// Unavailable records a check that could not run or lacked usable input.
func Unavailable(reason string) CheckResult {
	return CheckResult{status: StatusUnavailable, reason: reason}
}

// WithMetrics returns a copy of r carrying metrics. Used for unavailable
// results that still have partial diagnostics worth displaying.
func (r CheckResult) WithMetrics(metrics Metrics) CheckResult {
	r.metrics = maps.Clone(metrics)
	return r
}

// WithLabels returns a copy of r carrying labels.
func (r CheckResult) WithLabels(labels Labels) CheckResult {
	r.labels = maps.Clone(labels)
	return r
}

// Status returns the tri-state outcome.
func (r CheckResult) Status() Status { return r.status }

// Reason returns the explanation for a fail or unavailable outcome.
func (r CheckResult) Reason() string { return r.reason }

// IsZero reports whether r was never assigned through a constructor.
func (r CheckResult) IsZero() bool { return r.status == "" }

// Metrics returns a copy of the numeric measurements.
func (r CheckResult) Metrics() Metrics { return maps.Clone(r.metrics) }

// Labels returns a copy of the categorical findings.
func (r CheckResult) Labels() Labels { return maps.Clone(r.labels) }

// Metric returns a single measurement and whether it was present.
func (r CheckResult) Metric(name string) (float64, bool) {
	v, ok := r.metrics[name]
	return v, ok
}

// String renders the result for logs.
func (r CheckResult) String() string {
	if r.reason == "" {
		return string(r.status)
	}
	return fmt.Sprintf("%s (%s)", r.status, r.reason)
}

// resultJSON is the wire form of a CheckResult.
type resultJSON struct {
	Status  Status  `json:"status"`
	Reason  string  `json:"reason,omitempty"`
	Metrics Metrics `json:"metrics,omitempty"`
	Labels  Labels  `json:"labels,omitempty"`
}

// MarshalJSON implements json.Marshaler. Map keys are emitted sorted, so the
// output is deterministic.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("evidence: cannot marshal zero CheckResult")
	}
	return json.Marshal(resultJSON{
		Status:  r.status,
		Reason:  r.reason,
		Metrics: r.metrics,
		Labels:  r.labels,
	})
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown states.
func (r *CheckResult) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("evidence: invalid status %q", raw.Status)
	}
	*r = CheckResult{
		status:  raw.Status,
		reason:  raw.Reason,
		metrics: raw.Metrics,
		labels:  raw.Labels,
	}
	return nil
}
