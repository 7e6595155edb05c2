// Package pipeline turns an authenticated capture submission into a stored,
// signed evidence record.
//
// Process runs in four phases:
//
//  1. shape validation and request authentication, either of which rejects
//     the submission before any analysis
//  2. hardware attestation, scene analysis and metadata validation in
//     parallel, each under its own timeout
//  3. aggregation into a confidence level and manifest signing
//  4. persistence and notification
//
// A later submission carrying the same capture key cancels an earlier one
// that has not yet reached phase 3; the earlier call returns ErrSuperseded
// and leaves no trace beyond its admission and audit events.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/manifest"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/publish"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// DefaultCheckTimeout bounds each evidence check.
const DefaultCheckTimeout = 10 * time.Second

// Admitter authenticates a request and advances the device counter.
// *reqauth.Authenticator satisfies it.
type Admitter interface {
	Admit(ctx context.Context, req reqauth.Request) (*store.Admission, *store.Device, error)
}

// HardwareVerifier produces the hardware_attestation result.
// *attestation.Verifier satisfies it.
type HardwareVerifier interface {
	Check(ctx context.Context, device *store.Device, assertion, clientDataHash []byte) evidence.CheckResult
	VerifyRegistration(ctx context.Context, reg attestation.Registration) (*attestation.Result, error)
}

// SceneAnalyzer produces the scene_analysis result.
// *depth.Analyzer satisfies it.
type SceneAnalyzer interface {
	Analyze(ctx context.Context, m *depth.Map, img image.Image) evidence.CheckResult
}

// MetadataValidator produces the metadata result.
// *metadata.Validator satisfies it.
type MetadataValidator interface {
	Validate(d *metadata.Declared, receivedAt time.Time) evidence.CheckResult
}

// EvidenceStore persists results. *store.Store satisfies it.
type EvidenceStore interface {
	InsertEvidence(ctx context.Context, r *store.EvidenceRecord) error
	UpdateDeviceAttestation(ctx context.Context, id string, level store.AttestationLevel, publicKey []byte, fingerprint string, at time.Time) error
}

// Components are the collaborators a Processor drives. Publisher may be nil.
type Components struct {
	Store     EvidenceStore
	Admitter  Admitter
	Hardware  HardwareVerifier
	Scene     SceneAnalyzer
	Metadata  MetadataValidator
	Signer    manifest.Signer
	Publisher publish.Publisher
}

// Config controls processing.
type Config struct {
	CheckTimeout  time.Duration
	EmbedManifest bool // embed into JPEG/PNG media; otherwise sidecar only
}

// DefaultConfig returns the default processing configuration.
func DefaultConfig() Config {
	return Config{CheckTimeout: DefaultCheckTimeout, EmbedManifest: true}
}

// Result is the outcome of one processed submission.
type Result struct {
	EvidenceID      string
	CorrelationID   string
	EvidencePackage evidence.Package
	Confidence      evidence.ConfidenceLevel
	Statement       *manifest.Statement
	Manifest        []byte // DSSE envelope JSON
	SignedMedia     []byte // media with Manifest embedded; nil for unsupported containers
	Device          *store.Device
}

// Processor runs submissions through the evidence pipeline. It is safe for
// concurrent use.
type Processor struct {
	c        Components
	config   Config
	logger   *slog.Logger
	audit    audit.EventEmitter
	now      func() time.Time
	inflight *inflight
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAuditEmitter sets the audit backend.
func WithAuditEmitter(emitter audit.EventEmitter) Option {
	return func(p *Processor) {
		if emitter != nil {
			p.audit = emitter
		}
	}
}

// WithClock overrides the receive clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Processor.
func New(c Components, config Config, opts ...Option) (*Processor, error) {
	switch {
	case c.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case c.Admitter == nil:
		return nil, errors.New("pipeline: admitter is required")
	case c.Hardware == nil, c.Scene == nil, c.Metadata == nil:
		return nil, errors.New("pipeline: all three checks are required")
	case c.Signer == nil:
		return nil, errors.New("pipeline: manifest signer is required")
	}
	if c.Publisher == nil {
		c.Publisher = publish.NopPublisher{}
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultCheckTimeout
	}

	p := &Processor{
		c:        c,
		config:   config,
		logger:   slog.Default(),
		audit:    audit.NopEmitter{},
		now:      time.Now,
		inflight: newInflight(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// checks holds the joined outcome of the parallel phase.
type checks struct {
	hardware evidence.CheckResult
	scene    evidence.CheckResult
	metadata evidence.CheckResult
}

// Process runs sub through the pipeline.
//
// Hard rejections return ErrMalformedSubmission or a *reqauth.AuthError and
// happen before any state changes. Everything after admission produces a
// stored record unless the submission is superseded.
func (p *Processor) Process(ctx context.Context, sub *Submission) (*Result, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: nil submission", ErrMalformedSubmission)
	}
	started := p.now()
	correlationID := sub.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := p.logger.With("correlation_id", correlationID, "device_id", sub.DeviceID)
	p.emit(audit.NewSubmissionReceived(sub.DeviceID, correlationID, sub.CaptureKey))

	// Phase 1: shape, then authentication
	if err := sub.validate(); err != nil {
		if attestation.IsMalformed(err) {
			p.emit(audit.NewAttestationMalformed(sub.DeviceID, correlationID, err.Error()))
		}
		p.emit(audit.NewSubmissionRejected(sub.DeviceID, correlationID, err.Error()))
		log.Warn("submission rejected", "reason", err)
		return nil, err
	}
	body, err := sub.SignedBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSubmission, err)
	}

	admission, device, err := p.c.Admitter.Admit(ctx, reqauth.Request{
		DeviceID:      sub.DeviceID,
		Timestamp:     sub.RequestTime,
		Body:          body,
		Signature:     sub.Signature,
		Counter:       sub.Counter,
		CorrelationID: correlationID,
		CaptureKey:    sub.CaptureKey,
	})
	if err != nil {
		return nil, err
	}

	runCtx, r, displaced := p.inflight.begin(ctx, sub.CaptureKey)
	defer p.inflight.release(r)
	if displaced {
		log.Info("superseding earlier submission", "capture_key", sub.CaptureKey)
	}

	// Phase 2: parallel checks
	bodyHash := reqauth.BodyHash(body)
	res, err := p.runChecks(runCtx, sub, device, bodyHash[:], correlationID, started)
	if err != nil || !p.inflight.commit(r) {
		if err == nil || errors.Is(err, ErrSuperseded) {
			p.emit(audit.NewSubmissionSuperseded(sub.DeviceID, correlationID, sub.CaptureKey))
			log.Info("submission superseded", "capture_key", sub.CaptureKey)
			return nil, ErrSuperseded
		}
		return nil, err
	}

	// A passing hardware check on a capture that carried an attestation
	// object means the object verified against the registered key.
	reattested := sub.Attestation != nil && res.hardware.Status() == evidence.StatusPass
	if reattested && device.AttestationLevel != store.AttestationHardwareVerified {
		at := p.now()
		if err := p.c.Store.UpdateDeviceAttestation(ctx, device.ID, store.AttestationHardwareVerified, nil, "", at); err != nil {
			return nil, fmt.Errorf("persist attestation: %w", err)
		}
		device.AttestationLevel = store.AttestationHardwareVerified
		device.AttestedAt = &at
		p.emit(audit.NewAttestationVerified(device.ID, correlationID, device.KeyFingerprint))
	}

	// Phase 3: aggregate and sign
	pkg, err := evidence.NewPackage(res.hardware, res.scene, res.metadata)
	if err != nil {
		return nil, fmt.Errorf("assemble evidence: %w", err)
	}
	assessment := evidence.Assess(pkg)

	stmt, envelope, signed, err := p.sign(ctx, sub, device, assessment, log)
	if err != nil {
		return nil, err
	}

	// Phase 4: persist and announce
	packageJSON, err := json.Marshal(assessment)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	record := &store.EvidenceRecord{
		ID:          uuid.NewString(),
		AdmissionID: admission.ID,
		DeviceID:    device.ID,
		CaptureKey:  sub.CaptureKey,
		MediaDigest: digest.FromBytes(sub.Media).String(),
		Package:     packageJSON,
		Confidence:  string(assessment.Confidence),
		Manifest:    envelope,
		CreatedAt:   p.now(),
	}
	if err := p.c.Store.InsertEvidence(ctx, record); err != nil {
		return nil, err
	}

	latency := p.now().Sub(started)
	p.emit(audit.NewEvidenceComputed(device.ID, correlationID, record.ID, string(assessment.Confidence), latency))
	log.Info("evidence computed",
		"evidence_id", record.ID,
		"confidence", assessment.Confidence,
		"hardware", res.hardware.Status(),
		"scene", res.scene.Status(),
		"metadata", res.metadata.Status(),
		"latency", latency,
	)

	err = p.c.Publisher.Publish(ctx, publish.Notification{
		EvidenceID:    record.ID,
		DeviceID:      device.ID,
		CorrelationID: correlationID,
		CaptureKey:    sub.CaptureKey,
		MediaDigest:   record.MediaDigest,
		ManifestID:    stmt.Predicate.ManifestID,
		Confidence:    record.Confidence,
		CreatedAt:     record.CreatedAt,
	})
	if err != nil {
		log.Warn("evidence notification failed", "evidence_id", record.ID, "error", err)
	}

	return &Result{
		EvidenceID:      record.ID,
		CorrelationID:   correlationID,
		EvidencePackage: pkg,
		Confidence:      assessment.Confidence,
		Statement:       stmt,
		Manifest:        envelope,
		SignedMedia:     signed,
		Device:          device,
	}, nil
}

// runChecks fans the three checks out and joins them. It returns
// ErrSuperseded when ctx was cancelled by a newer submission.
func (p *Processor) runChecks(ctx context.Context, sub *Submission, device *store.Device, clientDataHash []byte, correlationID string, receivedAt time.Time) (*checks, error) {
	var res checks
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res.hardware = p.bounded(gctx, func(cctx context.Context) evidence.CheckResult {
			if sub.Attestation == nil {
				return p.c.Hardware.Check(cctx, device, sub.Assertion, clientDataHash)
			}
			claimed, err := reqauth.ParsePublicKey(device.PublicKey)
			if err != nil {
				return evidence.Unavailable("attestation unverified: device key unusable")
			}
			result, err := p.c.Hardware.VerifyRegistration(cctx, attestation.Registration{
				DeviceID:      device.ID,
				Envelope:      sub.Attestation.Envelope,
				ClaimedKey:    claimed,
				ChallengeID:   sub.Attestation.ChallengeID,
				CorrelationID: correlationID,
			})
			if err != nil {
				return evidence.Unavailable("attestation unverified: " + err.Error())
			}
			if !result.Verified() {
				p.emit(audit.NewAttestationDowngraded(device.ID, correlationID, result.Reason))
			}
			return attestation.ResultCheck(result)
		})
		return superseded(ctx)
	})

	g.Go(func() error {
		res.scene = p.bounded(gctx, func(cctx context.Context) evidence.CheckResult {
			img, _, err := image.Decode(bytes.NewReader(sub.Media))
			if err != nil {
				if sub.Depth == nil {
					return evidence.Unavailable("depth sensor data missing")
				}
				return evidence.Unavailable("image not decodable")
			}
			return p.c.Scene.Analyze(cctx, sub.Depth, img)
		})
		return superseded(ctx)
	})

	g.Go(func() error {
		res.metadata = p.bounded(gctx, func(context.Context) evidence.CheckResult {
			return p.c.Metadata.Validate(sub.Metadata, receivedAt)
		})
		return superseded(ctx)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	return &res, nil
}

// bounded runs fn under the per-check timeout. A check that overruns is
// reported unavailable even if fn ignores its context.
func (p *Processor) bounded(ctx context.Context, fn func(context.Context) evidence.CheckResult) evidence.CheckResult {
	cctx, cancel := context.WithTimeout(ctx, p.config.CheckTimeout)
	defer cancel()

	done := make(chan evidence.CheckResult, 1)
	go func() { done <- fn(cctx) }()

	select {
	case r := <-done:
		return r
	case <-cctx.Done():
		if ctx.Err() != nil {
			return evidence.Unavailable("cancelled")
		}
		return evidence.Unavailable("timeout")
	}
}

// superseded returns ErrSuperseded once ctx has been cancelled by a newer
// submission for the same capture.
func superseded(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return ErrSuperseded
	}
	return nil
}

// sign builds and signs the manifest and embeds it when the container
// allows.
func (p *Processor) sign(ctx context.Context, sub *Submission, device *store.Device, a evidence.Assessment, log *slog.Logger) (*manifest.Statement, []byte, []byte, error) {
	in := manifest.Input{
		MediaName:   sub.MediaRef,
		Media:       sub.Media,
		DeviceID:    device.ID,
		DeviceModel: device.Model,
		CapturedAt:  sub.RequestTime,
		Evidence:    a.Evidence,
		Confidence:  a.Confidence,
	}
	if sub.Metadata != nil {
		if sub.Metadata.DeviceModel != "" {
			in.DeviceModel = sub.Metadata.DeviceModel
		}
		if !sub.Metadata.CapturedAt.IsZero() {
			in.CapturedAt = sub.Metadata.CapturedAt
		}
	}

	stmt, err := manifest.Build(in)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build manifest: %w", err)
	}
	env, err := manifest.Sign(ctx, p.c.Signer, stmt)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sign manifest: %w", err)
	}
	envelope, err := manifest.MarshalEnvelope(env)
	if err != nil {
		return nil, nil, nil, err
	}
	if !p.config.EmbedManifest {
		return stmt, envelope, nil, nil
	}

	signed, err := manifest.Embed(sub.Media, envelope)
	if errors.Is(err, manifest.ErrUnsupportedContainer) {
		log.Info("media container does not carry manifests, keeping sidecar", "media_ref", sub.MediaRef)
		return stmt, envelope, nil, nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embed manifest: %w", err)
	}
	return stmt, envelope, signed, nil
}

func (p *Processor) emit(ev audit.Event) {
	if err := p.audit.Emit(ev); err != nil {
		p.logger.Warn("audit emit failed", "event", ev.Type, "error", err)
	}
}
