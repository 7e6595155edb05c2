package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIncompletePackage is returned when a package is built without a result
// for every category.
var ErrIncompletePackage = errors.New("evidence package requires a result for every category")

// Package holds exactly one CheckResult per category. It has no setters;
// once built it is immutable.
type Package struct {
	hardware CheckResult
	scene    CheckResult
	metadata CheckResult
}

// NewPackage assembles a package from the three category results.
func NewPackage(hardware, scene, metadata CheckResult) (Package, error) {
	p := Package{hardware: hardware, scene: scene, metadata: metadata}
	for _, cat := range Categories() {
		if r, _ := p.Result(cat); r.IsZero() {
			return Package{}, fmt.Errorf("%w: missing %s", ErrIncompletePackage, cat)
		}
	}
	return p, nil
}

// HardwareAttestation returns the hardware attestation result.
func (p Package) HardwareAttestation() CheckResult { return p.hardware }

// SceneAnalysis returns the depth/scene analysis result.
func (p Package) SceneAnalysis() CheckResult { return p.scene }

// Metadata returns the metadata consistency result.
func (p Package) Metadata() CheckResult { return p.metadata }

// Result returns the result for a category.
func (p Package) Result(c Category) (CheckResult, bool) {
	switch c {
	case CategoryHardwareAttestation:
		return p.hardware, true
	case CategorySceneAnalysis:
		return p.scene, true
	case CategoryMetadata:
		return p.metadata, true
	default:
		return CheckResult{}, false
	}
}

// IsZero reports whether p was built through NewPackage.
func (p Package) IsZero() bool {
	return p.hardware.IsZero() && p.scene.IsZero() && p.metadata.IsZero()
}

type packageJSON struct {
	HardwareAttestation CheckResult `json:"hardware_attestation"`
	SceneAnalysis       CheckResult `json:"scene_analysis"`
	Metadata            CheckResult `json:"metadata"`
}

// MarshalJSON implements json.Marshaler.
func (p Package) MarshalJSON() ([]byte, error) {
	return json.Marshal(packageJSON{
		HardwareAttestation: p.hardware,
		SceneAnalysis:       p.scene,
		Metadata:            p.metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Package) UnmarshalJSON(data []byte) error {
	var raw packageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pkg, err := NewPackage(raw.HardwareAttestation, raw.SceneAnalysis, raw.Metadata)
	if err != nil {
		return err
	}
	*p = pkg
	return nil
}
