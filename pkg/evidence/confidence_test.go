package evidence

import (
	"encoding/json"
	"fmt"
	"testing"
)

func resultFor(s Status) CheckResult {
	switch s {
	case StatusPass:
		return Pass(Metrics{"score": 1})
	case StatusFail:
		return Fail("conclusive mismatch", Metrics{"score": 0})
	default:
		return Unavailable("no signal")
	}
}

// expectedConfidence restates the policy independently of Aggregate.
func expectedConfidence(hw, scene, meta Status) ConfidenceLevel {
	if hw == StatusFail || scene == StatusFail || meta == StatusFail {
		return ConfidenceSuspicious
	}
	switch {
	case hw == StatusPass && scene == StatusPass:
		return ConfidenceHigh
	case hw == StatusPass && scene == StatusUnavailable,
		hw == StatusUnavailable && scene == StatusPass:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func TestAggregateTruthTable(t *testing.T) {
	t.Parallel()
	states := []Status{StatusPass, StatusFail, StatusUnavailable}

	rows := 0
	for _, hw := range states {
		for _, scene := range states {
			for _, meta := range states {
				rows++
				name := fmt.Sprintf("hw=%s/scene=%s/meta=%s", hw, scene, meta)
				pkg, err := NewPackage(resultFor(hw), resultFor(scene), resultFor(meta))
				if err != nil {
					t.Fatalf("%s: NewPackage() error = %v", name, err)
				}

				got := Aggregate(pkg)
				want := expectedConfidence(hw, scene, meta)
				if got != want {
					t.Errorf("%s: Aggregate() = %s, want %s", name, got, want)
				}

				hasFail := hw == StatusFail || scene == StatusFail || meta == StatusFail
				if hasFail != (got == ConfidenceSuspicious) {
					t.Errorf("%s: SUSPICIOUS must appear exactly when a category failed, got %s", name, got)
				}
			}
		}
	}

	if rows != 27 {
		t.Fatalf("truth table covered %d rows, want 27", rows)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	t.Parallel()
	pkg, err := NewPackage(Pass(nil), Unavailable("timeout"), Pass(nil))
	if err != nil {
		t.Fatalf("NewPackage() error = %v", err)
	}

	first := Aggregate(pkg)
	for i := 0; i < 100; i++ {
		if got := Aggregate(pkg); got != first {
			t.Fatalf("Aggregate() iteration %d = %s, want %s", i, got, first)
		}
	}
}

func TestAggregateMetadataOnlyGatesSuspicious(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		meta CheckResult
		want ConfidenceLevel
	}{
		{"metadata pass", Pass(nil), ConfidenceHigh},
		{"metadata unavailable", Unavailable("no metadata"), ConfidenceHigh},
		{"metadata fail", Fail("model not allowed", nil), ConfidenceSuspicious},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := NewPackage(Pass(nil), Pass(nil), tt.meta)
			if err != nil {
				t.Fatalf("NewPackage() error = %v", err)
			}
			if got := Aggregate(pkg); got != tt.want {
				t.Errorf("Aggregate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAssessEndToEndExamples(t *testing.T) {
	t.Parallel()

	t.Log("All three categories pass: HIGH")
	high, err := NewPackage(
		Pass(nil),
		Pass(Metrics{"depth_variance": 0.9, "depth_layers": 5, "edge_coherence": 0.85}),
		Pass(nil),
	)
	if err != nil {
		t.Fatalf("NewPackage() error = %v", err)
	}
	if got := Assess(high).Confidence; got != ConfidenceHigh {
		t.Errorf("Assess().Confidence = %s, want HIGH", got)
	}

	t.Log("Depth data missing: MEDIUM")
	medium, err := NewPackage(Pass(nil), Unavailable("depth map missing"), Pass(nil))
	if err != nil {
		t.Fatalf("NewPackage() error = %v", err)
	}
	if got := Assess(medium).Confidence; got != ConfidenceMedium {
		t.Errorf("Assess().Confidence = %s, want MEDIUM", got)
	}
}

func TestAssessmentJSONCarriesConfidence(t *testing.T) {
	t.Parallel()
	pkg, err := NewPackage(Pass(nil), Unavailable("depth map missing"), Pass(nil))
	if err != nil {
		t.Fatalf("NewPackage() error = %v", err)
	}

	data, err := json.Marshal(Assess(pkg))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var decoded Assessment
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded.Confidence != ConfidenceMedium {
		t.Errorf("decoded confidence = %s, want MEDIUM", decoded.Confidence)
	}
	if Aggregate(decoded.Evidence) != decoded.Confidence {
		t.Error("decoded confidence does not match the decoded evidence")
	}
}
