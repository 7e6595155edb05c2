package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
)

var (
	// ErrNoDepth is returned when the submission carries no depth map.
	ErrNoDepth = errors.New("no depth map")
	// ErrNoValidSamples is returned when range filtering leaves nothing.
	ErrNoValidSamples = errors.New("no valid depth samples")
	// ErrNoImage is returned when no color image accompanies the map.
	ErrNoImage = errors.New("no image")
	// ErrInsufficientSignal marks a measurement the input is too small or
	// too uniform to support.
	ErrInsufficientSignal = errors.New("insufficient signal")
)

// Config holds the analyzer's calibration. Every threshold is runtime
// configuration.
type Config struct {
	MinDepth        float64 `yaml:"min_depth"`
	MaxDepth        float64 `yaml:"max_depth"`
	HistogramBins   int     `yaml:"histogram_bins"`
	LayerNoiseFloor float64 `yaml:"layer_noise_floor"` // fraction of valid samples

	VarianceMin  float64 `yaml:"variance_min"`  // strict
	LayersMin    int     `yaml:"layers_min"`    // inclusive
	CoherenceMin float64 `yaml:"coherence_min"` // strict

	FFTSize               int     `yaml:"fft_size"` // power of two
	PeriodicPeakRatio     float64 `yaml:"periodic_peak_ratio"`
	QuadrantUniformityMax float64 `yaml:"quadrant_uniformity_max"`

	// FailOnThresholdMiss reports a conclusive miss as fail. When false a
	// miss is reported as unavailable.
	FailOnThresholdMiss bool `yaml:"fail_on_threshold_miss"`
}

// DefaultConfig returns the default calibration.
func DefaultConfig() Config {
	return Config{
		MinDepth:              0.1,
		MaxDepth:              20,
		HistogramBins:         64,
		LayerNoiseFloor:       0.02,
		VarianceMin:           0.5,
		LayersMin:             3,
		CoherenceMin:          0.7,
		FFTSize:               128,
		PeriodicPeakRatio:     40,
		QuadrantUniformityMax: 0.1,
		FailOnThresholdMiss:   true,
	}
}

// Validate rejects inconsistent calibration.
func (c Config) Validate() error {
	switch {
	case c.MinDepth < 0 || c.MaxDepth <= c.MinDepth:
		return fmt.Errorf("depth range [%g, %g] is empty", c.MinDepth, c.MaxDepth)
	case c.HistogramBins < 2:
		return fmt.Errorf("histogram_bins must be at least 2, got %d", c.HistogramBins)
	case c.LayerNoiseFloor < 0 || c.LayerNoiseFloor >= 1:
		return fmt.Errorf("layer_noise_floor must be in [0, 1), got %g", c.LayerNoiseFloor)
	case c.LayersMin < 0:
		return fmt.Errorf("layers_min must not be negative, got %d", c.LayersMin)
	case c.CoherenceMin < 0 || c.CoherenceMin > 1:
		return fmt.Errorf("coherence_min must be in [0, 1], got %g", c.CoherenceMin)
	case !isPowerOfTwo(c.FFTSize) || c.FFTSize < 16:
		return fmt.Errorf("fft_size must be a power of two >= 16, got %d", c.FFTSize)
	case c.PeriodicPeakRatio <= 1:
		return fmt.Errorf("periodic_peak_ratio must exceed 1, got %g", c.PeriodicPeakRatio)
	}
	return nil
}

// Metrics are the measurements behind a scene decision. A measurement whose
// Measured flag is false was not computed and its value is zero.
type Metrics struct {
	ValidSamples           int
	ValidFraction          float64
	Variance               float64 // population std dev of valid depths
	Layers                 int
	EdgeCoherence          float64
	CoherenceMeasured      bool
	PeriodicPeakRatio      float64
	PeriodicPattern        bool
	PeriodicMeasured       bool
	QuadrantUniformity     float64
	UniformityMeasured     bool
	FlatRecaptureSuspected bool

	// Unmeasured names each rule term that could not be computed.
	Unmeasured []string
}

// misses lists the measured rule terms m does not satisfy.
func (c Config) misses(m *Metrics) []string {
	var out []string
	if !(m.Variance > c.VarianceMin) {
		out = append(out, fmt.Sprintf("depth_variance %.4g <= %.4g", m.Variance, c.VarianceMin))
	}
	if m.Layers < c.LayersMin {
		out = append(out, fmt.Sprintf("depth_layers %d < %d", m.Layers, c.LayersMin))
	}
	if m.CoherenceMeasured && !(m.EdgeCoherence > c.CoherenceMin) {
		out = append(out, fmt.Sprintf("edge_coherence %.4g <= %.4g", m.EdgeCoherence, c.CoherenceMin))
	}
	if m.PeriodicPattern {
		out = append(out, "periodic pattern detected")
	}
	return out
}

// IsLikelyRealScene applies the decision rule. Every term must have been
// measured.
func (c Config) IsLikelyRealScene(m *Metrics) bool {
	return m.CoherenceMeasured && m.PeriodicMeasured && len(c.misses(m)) == 0
}

// Analyzer computes scene_analysis evidence.
type Analyzer struct {
	config Config
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an Analyzer. config must pass Validate.
func NewAnalyzer(config Config, opts ...Option) *Analyzer {
	a := &Analyzer{config: config, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the analyzer's calibration.
func (a *Analyzer) Config() Config { return a.config }

// Measure computes scene metrics. It returns ErrNoDepth, ErrNoImage,
// ErrNoValidSamples, an error wrapping ErrInvalidMap, or ctx.Err().
func (a *Analyzer) Measure(ctx context.Context, m *Map, img image.Image) (*Metrics, error) {
	if m == nil || len(m.Samples) == 0 {
		return nil, ErrNoDepth
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoImage
	}
	c := a.config

	mask := validMask(m, c.MinDepth, c.MaxDepth)
	dg := depthGrid(m)
	_, stddev, n := meanStdDev(dg.v, mask)
	if n == 0 {
		return nil, ErrNoValidSamples
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics := &Metrics{
		ValidSamples:  n,
		ValidFraction: float64(n) / float64(len(mask)),
		Variance:      stddev,
		Layers:        countLayers(dg.v, mask, c.MinDepth, c.MaxDepth, c.HistogramBins, c.LayerNoiseFloor),
	}

	lum, err := luminanceGrid(ctx, img, m.Width, m.Height)
	if err != nil {
		return nil, err
	}
	coherence, err := edgeCoherence(ctx, dg, mask, lum)
	switch {
	case errors.Is(err, ErrInsufficientSignal):
		metrics.Unmeasured = append(metrics.Unmeasured, "edge_coherence ("+err.Error()+")")
	case err != nil:
		return nil, err
	default:
		metrics.EdgeCoherence, metrics.CoherenceMeasured = coherence, true
	}

	// Upsampling a smaller image onto the FFT grid creates block edges that
	// read as a periodic pattern.
	if b := img.Bounds(); b.Dx() < c.FFTSize || b.Dy() < c.FFTSize {
		metrics.Unmeasured = append(metrics.Unmeasured,
			fmt.Sprintf("periodic_pattern (image %dx%d smaller than %d)", b.Dx(), b.Dy(), c.FFTSize))
	} else {
		spectrum, err := luminanceGrid(ctx, img, c.FFTSize, c.FFTSize)
		if err != nil {
			return nil, err
		}
		if metrics.PeriodicPeakRatio, err = periodicPeakRatio(ctx, spectrum); err != nil {
			return nil, err
		}
		metrics.PeriodicPattern = metrics.PeriodicPeakRatio > c.PeriodicPeakRatio
		metrics.PeriodicMeasured = true
	}

	metrics.QuadrantUniformity, metrics.UniformityMeasured = quadrantUniformity(dg, mask)
	metrics.FlatRecaptureSuspected = metrics.UniformityMeasured &&
		metrics.QuadrantUniformity < c.QuadrantUniformityMax
	return metrics, nil
}

// Analyze measures the scene and applies the decision rule.
func (a *Analyzer) Analyze(ctx context.Context, m *Map, img image.Image) evidence.CheckResult {
	metrics, err := a.Measure(ctx, m, img)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return evidence.Unavailable("timeout")
	case errors.Is(err, context.Canceled):
		return evidence.Unavailable("cancelled")
	case errors.Is(err, ErrNoDepth):
		return evidence.Unavailable("depth sensor data missing")
	case errors.Is(err, ErrNoImage):
		return evidence.Unavailable("image missing")
	case errors.Is(err, ErrNoValidSamples):
		return evidence.Unavailable("no valid depth samples")
	case err != nil:
		return evidence.Unavailable(err.Error())
	}

	em := metrics.Evidence()
	flat := "not_computed"
	if metrics.UniformityMeasured {
		flat = fmt.Sprint(metrics.FlatRecaptureSuspected)
	}
	labels := evidence.Labels{"flat_recapture_suspected": flat}

	// The rule is a conjunction, so a measured miss is conclusive even when
	// another term could not be computed.
	misses := a.config.misses(metrics)
	if len(misses) == 0 {
		if len(metrics.Unmeasured) > 0 {
			return evidence.Unavailable("insufficient signal: " + strings.Join(metrics.Unmeasured, "; ")).
				WithMetrics(em).WithLabels(labels)
		}
		return evidence.Pass(em).WithLabels(labels)
	}
	reason := strings.Join(misses, "; ")
	a.logger.Debug("scene threshold miss", "reason", reason)
	if a.config.FailOnThresholdMiss {
		return evidence.Fail(reason, em).WithLabels(labels)
	}
	return evidence.Unavailable("inconclusive: " + reason).WithMetrics(em).WithLabels(labels)
}

// Evidence converts m to the public metric set. Unmeasured terms are left
// out.
func (m *Metrics) Evidence() evidence.Metrics {
	em := evidence.Metrics{
		"depth_variance": m.Variance,
		"depth_layers":   float64(m.Layers),
		"valid_fraction": m.ValidFraction,
	}
	if m.CoherenceMeasured {
		em["edge_coherence"] = m.EdgeCoherence
	}
	if m.PeriodicMeasured {
		em["periodic_pattern"] = boolMetric(m.PeriodicPattern)
		em["periodic_peak_ratio"] = m.PeriodicPeakRatio
	}
	if m.UniformityMeasured {
		em["quadrant_uniformity"] = m.QuadrantUniformity
	}
	return em
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
