// Package metadata checks a capture's declared metadata against what the
// server observed.
package metadata

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
)

// LocationStatus classifies the presence of location data.
type LocationStatus string

const (
	LocationSupplied    LocationStatus = "supplied"
	LocationOptedOut    LocationStatus = "opted_out"
	LocationUnavailable LocationStatus = "unavailable"
)

// Location is the optional position attached to a capture.
type Location struct {
	OptedOut  bool     `json:"opted_out,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  float64  `json:"accuracy_m,omitempty"`
}

// Classify reports whether the device supplied a position, the user opted
// out, or the platform had none.
func (l *Location) Classify() LocationStatus {
	switch {
	case l == nil:
		return LocationUnavailable
	case l.OptedOut:
		return LocationOptedOut
	case l.Latitude != nil && l.Longitude != nil:
		return LocationSupplied
	default:
		return LocationUnavailable
	}
}

// Declared is the metadata a device reports for a capture.
type Declared struct {
	CapturedAt  time.Time `json:"captured_at"`
	DeviceModel string    `json:"device_model"`
	Location    *Location `json:"location,omitempty"`
}

// Config controls validation.
type Config struct {
	// CaptureTolerance bounds |received - captured|, inclusive.
	CaptureTolerance time.Duration
	// AllowedModels lists device models with a depth sensor. Matching is
	// exact.
	AllowedModels []string
}

// DefaultAllowedModels are the phone models that ship a LiDAR scanner.
var DefaultAllowedModels = []string{
	"iPhone 12 Pro", "iPhone 12 Pro Max",
	"iPhone 13 Pro", "iPhone 13 Pro Max",
	"iPhone 14 Pro", "iPhone 14 Pro Max",
	"iPhone 15 Pro", "iPhone 15 Pro Max",
	"iPhone 16 Pro", "iPhone 16 Pro Max",
}

// DefaultConfig returns a ten minute tolerance and DefaultAllowedModels.
func DefaultConfig() Config {
	return Config{
		CaptureTolerance: 10 * time.Minute,
		AllowedModels:    slices.Clone(DefaultAllowedModels),
	}
}

// Validator produces the metadata evidence category.
type Validator struct {
	config Config
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a Validator.
func NewValidator(config Config, opts ...Option) *Validator {
	v := &Validator{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks d against the time the submission was received. Any
// mismatch fails the category. A missing or opted-out location never does.
// A missing capture time leaves the category unavailable unless another
// check already failed it.
func (v *Validator) Validate(d *Declared, receivedAt time.Time) evidence.CheckResult {
	if d == nil {
		return evidence.Unavailable("metadata missing")
	}

	var problems []string
	metrics := evidence.Metrics{}

	timeMissing := d.CapturedAt.IsZero()
	if !timeMissing {
		delta := receivedAt.Sub(d.CapturedAt)
		if delta < 0 {
			delta = -delta
		}
		metrics["timestamp_delta_seconds"] = delta.Seconds()
		if delta > v.config.CaptureTolerance {
			problems = append(problems, fmt.Sprintf("capture timestamp off by %s (tolerance %s)", delta, v.config.CaptureTolerance))
		}
	}

	allowed := slices.Contains(v.config.AllowedModels, d.DeviceModel)
	metrics["model_allowed"] = 0
	if allowed {
		metrics["model_allowed"] = 1
	} else {
		problems = append(problems, fmt.Sprintf("device model %q not on allow-list", d.DeviceModel))
	}

	status := d.Location.Classify()
	if status == LocationSupplied {
		if !validCoordinates(*d.Location.Latitude, *d.Location.Longitude) {
			problems = append(problems, "location coordinates out of range")
		}
	}
	labels := evidence.Labels{"location": string(status)}

	if len(problems) > 0 {
		reason := strings.Join(problems, "; ")
		v.logger.Debug("metadata mismatch", "reason", reason)
		return evidence.Fail(reason, metrics).WithLabels(labels)
	}
	if timeMissing {
		return evidence.Unavailable("capture timestamp missing").WithMetrics(metrics).WithLabels(labels)
	}
	return evidence.Pass(metrics).WithLabels(labels)
}

func validCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
