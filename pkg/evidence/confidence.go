package evidence

// ConfidenceLevel is the graduated trust verdict for one capture.
type ConfidenceLevel string

const (
	ConfidenceHigh       ConfidenceLevel = "HIGH"
	ConfidenceMedium     ConfidenceLevel = "MEDIUM"
	ConfidenceLow        ConfidenceLevel = "LOW"
	ConfidenceSuspicious ConfidenceLevel = "SUSPICIOUS"
)

// Aggregate maps a package to its confidence level. It is a pure function of
// the three statuses.
func Aggregate(p Package) ConfidenceLevel {
	hw := p.hardware.status
	scene := p.scene.status
	meta := p.metadata.status

	if hw == StatusFail || scene == StatusFail || meta == StatusFail {
		return ConfidenceSuspicious
	}
	if hw == StatusPass && scene == StatusPass {
		return ConfidenceHigh
	}
	// No fail remains, so the non-passing side is unavailable here.
	if hw == StatusPass || scene == StatusPass {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// Assessment pairs a package with the level derived from it so the two are
// never stored apart.
type Assessment struct {
	Evidence   Package         `json:"evidence"`
	Confidence ConfidenceLevel `json:"confidence"`
}

// Assess computes the assessment for p.
func Assess(p Package) Assessment {
	return Assessment{Evidence: p, Confidence: Aggregate(p)}
}
