package metadata

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
)

func ptr(f float64) *float64 { return &f }

func TestValidate_TimestampBoundary(t *testing.T) {
	t.Log("A delta equal to the tolerance is valid; one nanosecond beyond is not")
	v := NewValidator(DefaultConfig())
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tol := DefaultConfig().CaptureTolerance

	tests := []struct {
		name     string
		captured time.Time
		want     evidence.Status
	}{
		{"same instant", received, evidence.StatusPass},
		{"exactly tolerance before", received.Add(-tol), evidence.StatusPass},
		{"exactly tolerance after", received.Add(tol), evidence.StatusPass},
		{"one unit beyond before", received.Add(-tol - time.Nanosecond), evidence.StatusFail},
		{"one unit beyond after", received.Add(tol + time.Nanosecond), evidence.StatusFail},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := v.Validate(&Declared{CapturedAt: tc.captured, DeviceModel: "iPhone 15 Pro"}, received)
			if r.Status() != tc.want {
				t.Errorf("status = %s, want %s", r, tc.want)
			}
		})
	}
}

func TestValidate_ModelAllowList(t *testing.T) {
	v := NewValidator(DefaultConfig())
	now := time.Now()

	tests := []struct {
		model string
		want  evidence.Status
	}{
		{"iPhone 15 Pro", evidence.StatusPass},
		{"iPhone 15 Pro Max", evidence.StatusPass},
		{"iPhone 15", evidence.StatusFail},
		{"iPhone 15 Pro ", evidence.StatusFail},
		{"iphone 15 pro", evidence.StatusFail},
		{"", evidence.StatusFail},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			r := v.Validate(&Declared{CapturedAt: now, DeviceModel: tc.model}, now)
			if r.Status() != tc.want {
				t.Errorf("model %q: status = %s, want %s", tc.model, r, tc.want)
			}
			wantAllowed := 0.0
			if tc.want == evidence.StatusPass {
				wantAllowed = 1
			}
			if got, _ := r.Metric("model_allowed"); got != wantAllowed {
				t.Errorf("model_allowed = %v, want %v", got, wantAllowed)
			}
		})
	}
}

func TestValidate_Location(t *testing.T) {
	v := NewValidator(DefaultConfig())
	now := time.Now()

	tests := []struct {
		name       string
		loc        *Location
		wantStatus evidence.Status
		wantLabel  LocationStatus
	}{
		{"absent", nil, evidence.StatusPass, LocationUnavailable},
		{"opted out", &Location{OptedOut: true}, evidence.StatusPass, LocationOptedOut},
		{"empty", &Location{}, evidence.StatusPass, LocationUnavailable},
		{"supplied", &Location{Latitude: ptr(37.33), Longitude: ptr(-122.03)}, evidence.StatusPass, LocationSupplied},
		{"latitude out of range", &Location{Latitude: ptr(91), Longitude: ptr(0)}, evidence.StatusFail, LocationSupplied},
		{"longitude NaN", &Location{Latitude: ptr(0), Longitude: ptr(math.NaN())}, evidence.StatusFail, LocationSupplied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := v.Validate(&Declared{CapturedAt: now, DeviceModel: "iPhone 14 Pro", Location: tc.loc}, now)
			if r.Status() != tc.wantStatus {
				t.Errorf("status = %s, want %s", r, tc.wantStatus)
			}
			if got := r.Labels()["location"]; got != string(tc.wantLabel) {
				t.Errorf("location label = %q, want %q", got, tc.wantLabel)
			}
		})
	}
}

func TestValidate_MissingInput(t *testing.T) {
	v := NewValidator(DefaultConfig())
	if r := v.Validate(nil, time.Now()); r.Status() != evidence.StatusUnavailable {
		t.Errorf("nil metadata: status = %s, want unavailable", r)
	}

	r := v.Validate(&Declared{DeviceModel: "iPhone 14 Pro"}, time.Now())
	if r.Status() != evidence.StatusUnavailable || r.Reason() != "capture timestamp missing" {
		t.Errorf("zero capture time: got %s", r)
	}
	if got, ok := r.Metric("model_allowed"); !ok || got != 1 {
		t.Errorf("model_allowed = %v, %v; checked fields should still be reported", got, ok)
	}

	t.Log("A mismatch elsewhere is still conclusive without a capture time")
	r = v.Validate(&Declared{DeviceModel: "Pixel 9"}, time.Now())
	if r.Status() != evidence.StatusFail || !strings.Contains(r.Reason(), "Pixel 9") {
		t.Errorf("zero capture time with unknown model: got %s", r)
	}
	if _, ok := r.Metric("timestamp_delta_seconds"); ok {
		t.Error("no timestamp delta without a capture time")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	v := NewValidator(DefaultConfig())
	now := time.Now()
	r := v.Validate(&Declared{CapturedAt: now.Add(-time.Hour), DeviceModel: "Pixel 9"}, now)
	if r.Status() != evidence.StatusFail {
		t.Fatalf("status = %s, want fail", r)
	}
	for _, want := range []string{"timestamp", "Pixel 9"} {
		if !strings.Contains(r.Reason(), want) {
			t.Errorf("reason %q missing %q", r.Reason(), want)
		}
	}
	if got, _ := r.Metric("timestamp_delta_seconds"); got != 3600 {
		t.Errorf("timestamp_delta_seconds = %v, want 3600", got)
	}
}
