package pipeline

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LucaDeLeo/realitycam-sub004/internal/testutil"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/enrollment"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/manifest"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/publish"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

const testAppID = "TEAMID1234.app.realitycam.capture"

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) has(correlationID string, et audit.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == et && ev.CorrelationID == correlationID {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []publish.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n publish.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fixture struct {
	store     *store.Store
	ca        *testutil.AttestationCA
	issuer    *enrollment.Issuer
	verifier  *attestation.Verifier
	registrar *attestation.Registrar
	signer    manifest.Signer
	events    *recordingEmitter
	published *recordingPublisher
	scene     SceneAnalyzer
	config    Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ca, err := testutil.NewAttestationCA()
	require.NoError(t, err)

	_, manifestKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := manifest.NewEd25519Signer(manifestKey)
	require.NoError(t, err)

	issuer := enrollment.NewIssuer(s)
	verifier := attestation.NewVerifier(attestation.Config{AppID: testAppID, Roots: ca.RootPool()}, issuer)
	return &fixture{
		store:     s,
		ca:        ca,
		issuer:    issuer,
		verifier:  verifier,
		registrar: attestation.NewRegistrar(s, verifier),
		signer:    signer,
		events:    &recordingEmitter{},
		published: &recordingPublisher{},
		scene:     depth.NewAnalyzer(depth.DefaultConfig()),
		config:    DefaultConfig(),
	}
}

func (f *fixture) processor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(Components{
		Store:     f.store,
		Admitter:  reqauth.NewAuthenticator(f.store, reqauth.DefaultConfig(), reqauth.WithAuditEmitter(f.events)),
		Hardware:  f.verifier,
		Scene:     f.scene,
		Metadata:  metadata.NewValidator(metadata.DefaultConfig()),
		Signer:    f.signer,
		Publisher: f.published,
	}, f.config, WithAuditEmitter(f.events))
	require.NoError(t, err)
	return p
}

func newDeviceKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// attestationFor issues a challenge for deviceID and returns an attestation
// object certifying key.
func (f *fixture) attestationFor(t *testing.T, deviceID string, key *ecdsa.PrivateKey) *AttestationProof {
	t.Helper()
	issued, err := f.issuer.Issue(context.Background(), deviceID)
	require.NoError(t, err)
	env, err := f.ca.Envelope(testutil.EnvelopeParams{AppID: testAppID, Key: key, Challenge: issued.Nonce})
	require.NoError(t, err)
	return &AttestationProof{Envelope: env, ChallengeID: issued.ID}
}

func (f *fixture) registerVerified(t *testing.T, deviceID string) *ecdsa.PrivateKey {
	t.Helper()
	key := newDeviceKey(t)
	proof := f.attestationFor(t, deviceID, key)
	d, result, err := f.registrar.Register(context.Background(), attestation.RegisterRequest{
		DeviceID:    deviceID,
		Envelope:    proof.Envelope,
		ChallengeID: proof.ChallengeID,
		Model:       "iPhone 15 Pro",
	})
	require.NoError(t, err)
	require.True(t, result.Verified(), "registration downgraded: %s", result.Reason)
	require.Equal(t, store.AttestationHardwareVerified, d.AttestationLevel)
	return key
}

func (f *fixture) registerUnverified(t *testing.T, deviceID string) *ecdsa.PrivateKey {
	t.Helper()
	key := newDeviceKey(t)
	der, err := reqauth.MarshalPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateDevice(context.Background(), &store.Device{
		ID:             deviceID,
		PublicKey:      der,
		KeyFingerprint: reqauth.KeyFingerprint(der),
		Model:          "iPhone 15 Pro",
	}))
	return key
}

// capture builds a genuine-looking submission. Callers adjust it and then
// call signSubmission.
func capture(t *testing.T, deviceID string, counter uint64) *Submission {
	t.Helper()
	m, img := testutil.RealScene()
	media, err := testutil.EncodePNG(img)
	require.NoError(t, err)
	now := time.Now()
	return &Submission{
		DeviceID:    deviceID,
		RequestTime: now,
		Counter:     counter,
		CaptureKey:  "capture-" + deviceID,
		MediaRef:    "IMG_0001.png",
		Media:       media,
		Depth:       m,
		Metadata: &metadata.Declared{
			CapturedAt:  now.Add(-30 * time.Second),
			DeviceModel: "iPhone 15 Pro",
		},
	}
}

func signSubmission(t *testing.T, sub *Submission, key *ecdsa.PrivateKey) {
	t.Helper()
	body, err := sub.SignedBody()
	require.NoError(t, err)
	sub.Signature, err = reqauth.SignRequest(key, sub.RequestTime, reqauth.BodyHash(body))
	require.NoError(t, err)
}

func TestProcess_HighConfidence(t *testing.T) {
	t.Log("A hardware-verified device submitting a layered scene earns HIGH")
	f := newFixture(t)
	key := f.registerVerified(t, "dev-high")
	p := f.processor(t)

	sub := capture(t, "dev-high", 1)
	sub.CorrelationID = "corr-high"
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, evidence.ConfidenceHigh, res.Confidence)
	assert.Equal(t, evidence.StatusPass, res.EvidencePackage.HardwareAttestation().Status())
	assert.Equal(t, evidence.StatusPass, res.EvidencePackage.SceneAnalysis().Status(), res.EvidencePackage.SceneAnalysis().Reason())
	assert.Equal(t, evidence.StatusPass, res.EvidencePackage.Metadata().Status())
	assert.Equal(t, uint64(1), res.Device.Counter)

	require.NotNil(t, res.SignedMedia, "PNG media carries the manifest")
	v, err := manifest.VerifyMedia(context.Background(), res.SignedMedia, f.signer.Public())
	require.NoError(t, err)
	assert.Equal(t, sub.Media, v.Media, "extraction restores the original bytes")
	assert.Equal(t, evidence.ConfidenceHigh, v.Statement.Predicate.Confidence)
	assert.Equal(t, "dev-high", v.Statement.Predicate.Action.DeviceID)

	rec, err := f.store.GetEvidence(context.Background(), res.EvidenceID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "HIGH", rec.Confidence)
	assert.Equal(t, res.Manifest, rec.Manifest)
	assert.Equal(t, sub.CaptureKey, rec.CaptureKey)

	assert.Equal(t, 1, f.published.count())
	for _, et := range []audit.EventType{audit.EventSubmissionReceived, audit.EventSubmissionAdmitted, audit.EventEvidenceComputed} {
		assert.True(t, f.events.has("corr-high", et), "missing %s", et)
	}
}

func TestProcess_MediumConfidenceForUnverifiedDevice(t *testing.T) {
	t.Log("Without hardware attestation a passing scene caps the verdict at MEDIUM")
	f := newFixture(t)
	key := f.registerUnverified(t, "dev-medium")
	p := f.processor(t)

	sub := capture(t, "dev-medium", 1)
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)

	hw := res.EvidencePackage.HardwareAttestation()
	assert.Equal(t, evidence.StatusUnavailable, hw.Status())
	assert.Equal(t, "attestation unverified", hw.Reason())
	assert.Equal(t, evidence.ConfidenceMedium, res.Confidence)
}

func TestProcess_Verdicts(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(t *testing.T, sub *Submission)
		want     evidence.ConfidenceLevel
		category func(evidence.Package) evidence.CheckResult
		status   evidence.Status
	}{
		{
			name: "flat scene",
			mutate: func(t *testing.T, sub *Submission) {
				sub.Depth = testutil.FlatScene(0.4)
			},
			want:     evidence.ConfidenceSuspicious,
			category: evidence.Package.SceneAnalysis,
			status:   evidence.StatusFail,
		},
		{
			name: "no depth data",
			mutate: func(t *testing.T, sub *Submission) {
				sub.Depth = nil
			},
			want:     evidence.ConfidenceMedium,
			category: evidence.Package.SceneAnalysis,
			status:   evidence.StatusUnavailable,
		},
		{
			name: "model not allowed",
			mutate: func(t *testing.T, sub *Submission) {
				sub.Metadata.DeviceModel = "iPhone 15"
			},
			want:     evidence.ConfidenceSuspicious,
			category: evidence.Package.Metadata,
			status:   evidence.StatusFail,
		},
		{
			name: "capture time far from receipt",
			mutate: func(t *testing.T, sub *Submission) {
				sub.Metadata.CapturedAt = sub.RequestTime.Add(-2 * time.Hour)
			},
			want:     evidence.ConfidenceSuspicious,
			category: evidence.Package.Metadata,
			status:   evidence.StatusFail,
		},
		{
			name: "no metadata",
			mutate: func(t *testing.T, sub *Submission) {
				sub.Metadata = nil
			},
			want:     evidence.ConfidenceHigh,
			category: evidence.Package.Metadata,
			status:   evidence.StatusUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := f.registerVerified(t, "dev-v")
			p := f.processor(t)

			sub := capture(t, "dev-v", 1)
			tt.mutate(t, sub)
			signSubmission(t, sub, key)

			res, err := p.Process(context.Background(), sub)
			require.NoError(t, err)
			r := tt.category(res.EvidencePackage)
			assert.Equal(t, tt.status, r.Status(), r.Reason())
			assert.Equal(t, tt.want, res.Confidence)
		})
	}
}

func TestProcess_Assertion(t *testing.T) {
	f := newFixture(t)
	key := f.registerVerified(t, "dev-assert")
	p := f.processor(t)

	t.Run("bound to the signed body", func(t *testing.T) {
		sub := capture(t, "dev-assert", 1)
		body, err := sub.SignedBody()
		require.NoError(t, err)
		hash := reqauth.BodyHash(body)
		sub.Assertion, err = testutil.Assertion(key, testAppID, 1, hash[:])
		require.NoError(t, err)
		signSubmission(t, sub, key)

		res, err := p.Process(context.Background(), sub)
		require.NoError(t, err)
		v, ok := res.EvidencePackage.HardwareAttestation().Metric("assertion_verified")
		assert.True(t, ok)
		assert.Equal(t, 1.0, v)
		assert.Equal(t, evidence.ConfidenceHigh, res.Confidence)
	})

	t.Run("bound to another body", func(t *testing.T) {
		sub := capture(t, "dev-assert", 2)
		var err error
		sub.Assertion, err = testutil.Assertion(key, testAppID, 2, []byte("some other request"))
		require.NoError(t, err)
		signSubmission(t, sub, key)

		res, err := p.Process(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, evidence.StatusFail, res.EvidencePackage.HardwareAttestation().Status())
		assert.Equal(t, evidence.ConfidenceSuspicious, res.Confidence)
	})
}

func TestProcess_ReattestationPromotesDevice(t *testing.T) {
	t.Log("An attestation object sent with a capture upgrades an unverified device")
	f := newFixture(t)
	key := f.registerUnverified(t, "dev-late")
	p := f.processor(t)

	sub := capture(t, "dev-late", 1)
	sub.Attestation = f.attestationFor(t, "dev-late", key)
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, evidence.ConfidenceHigh, res.Confidence)
	assert.Equal(t, store.AttestationHardwareVerified, res.Device.AttestationLevel)

	d, err := f.store.GetDevice(context.Background(), "dev-late")
	require.NoError(t, err)
	assert.Equal(t, store.AttestationHardwareVerified, d.AttestationLevel)
	assert.NotNil(t, d.AttestedAt)
}

func TestProcess_ReattestationWithOtherKeyIsUnavailable(t *testing.T) {
	f := newFixture(t)
	key := f.registerUnverified(t, "dev-swap")
	p := f.processor(t)

	sub := capture(t, "dev-swap", 1)
	sub.Attestation = f.attestationFor(t, "dev-swap", newDeviceKey(t))
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)
	hw := res.EvidencePackage.HardwareAttestation()
	assert.Equal(t, evidence.StatusUnavailable, hw.Status())
	assert.Contains(t, hw.Reason(), "claimed key")

	d, err := f.store.GetDevice(context.Background(), "dev-swap")
	require.NoError(t, err)
	assert.Equal(t, store.AttestationUnverified, d.AttestationLevel)
}

func TestProcess_MalformedRejectedBeforeAdmission(t *testing.T) {
	f := newFixture(t)
	f.registerUnverified(t, "dev-bad")
	p := f.processor(t)

	tests := []struct {
		name   string
		mutate func(sub *Submission)
	}{
		{"garbage attestation", func(sub *Submission) {
			sub.Attestation = &AttestationProof{Envelope: []byte{0xff, 0x00, 0x13}, ChallengeID: "c"}
		}},
		{"attestation without challenge", func(sub *Submission) {
			sub.Attestation = &AttestationProof{Envelope: []byte{0xa0}}
		}},
		{"no media", func(sub *Submission) { sub.Media = nil }},
		{"inconsistent depth map", func(sub *Submission) { sub.Depth.Samples = sub.Depth.Samples[:10] }},
		{"no device id", func(sub *Submission) { sub.DeviceID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := capture(t, "dev-bad", 1)
			sub.CorrelationID = "corr-" + tt.name
			sub.Signature = []byte("placeholder")
			tt.mutate(sub)

			_, err := p.Process(context.Background(), sub)
			require.ErrorIs(t, err, ErrMalformedSubmission)
			assert.True(t, f.events.has(sub.CorrelationID, audit.EventSubmissionRejected))
		})
	}

	d, err := f.store.GetDevice(context.Background(), "dev-bad")
	require.NoError(t, err)
	assert.Zero(t, d.Counter, "rejections must not advance the counter")
}

func TestProcess_MalformedAttestationIsAudited(t *testing.T) {
	f := newFixture(t)
	key := f.registerUnverified(t, "dev-cbor")
	p := f.processor(t)

	sub := capture(t, "dev-cbor", 1)
	sub.CorrelationID = "corr-cbor"
	sub.Attestation = &AttestationProof{Envelope: []byte("not cbor at all"), ChallengeID: "c"}
	signSubmission(t, sub, key)

	_, err := p.Process(context.Background(), sub)
	require.ErrorIs(t, err, ErrMalformedSubmission)
	assert.True(t, attestation.IsMalformed(err))
	assert.True(t, f.events.has("corr-cbor", audit.EventAttestationMalformed))
}

func TestProcess_AuthRejections(t *testing.T) {
	f := newFixture(t)
	key := f.registerVerified(t, "dev-auth")
	p := f.processor(t)

	t.Run("tampered media", func(t *testing.T) {
		sub := capture(t, "dev-auth", 1)
		signSubmission(t, sub, key)
		sub.Media = append([]byte(nil), sub.Media...)
		sub.Media[len(sub.Media)-1] ^= 0x01

		_, err := p.Process(context.Background(), sub)
		assert.Equal(t, reqauth.ErrCodeInvalidSignature, reqauth.ErrorCode(err))
	})

	t.Run("replayed counter", func(t *testing.T) {
		first := capture(t, "dev-auth", 5)
		signSubmission(t, first, key)
		_, err := p.Process(context.Background(), first)
		require.NoError(t, err)

		replay := capture(t, "dev-auth", 5)
		signSubmission(t, replay, key)
		_, err = p.Process(context.Background(), replay)
		assert.Equal(t, reqauth.ErrCodeReplayDetected, reqauth.ErrorCode(err))
	})

	records, err := f.store.ListEvidenceByDevice(context.Background(), "dev-auth", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1, "only the admitted submission is stored")
}

// stallingAnalyzer blocks its first call until released or cancelled and
// delegates later calls.
type stallingAnalyzer struct {
	next    SceneAnalyzer
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newStallingAnalyzer(t *testing.T) *stallingAnalyzer {
	a := &stallingAnalyzer{
		next:    depth.NewAnalyzer(depth.DefaultConfig()),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { close(a.release) })
	return a
}

func (a *stallingAnalyzer) Analyze(ctx context.Context, m *depth.Map, img image.Image) evidence.CheckResult {
	if a.calls.Add(1) == 1 {
		close(a.started)
		<-a.release
		return evidence.Pass(nil)
	}
	return a.next.Analyze(ctx, m, img)
}

func TestProcess_CheckTimeout(t *testing.T) {
	t.Log("A scene check that overruns is reported unavailable, never pass")
	f := newFixture(t)
	f.scene = newStallingAnalyzer(t)
	f.config.CheckTimeout = 50 * time.Millisecond
	key := f.registerVerified(t, "dev-slow")
	p := f.processor(t)

	sub := capture(t, "dev-slow", 1)
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)
	scene := res.EvidencePackage.SceneAnalysis()
	assert.Equal(t, evidence.StatusUnavailable, scene.Status())
	assert.Equal(t, "timeout", scene.Reason())
	assert.Equal(t, evidence.ConfidenceMedium, res.Confidence)
}

func TestProcess_Superseded(t *testing.T) {
	f := newFixture(t)
	stall := newStallingAnalyzer(t)
	f.scene = stall
	f.config.CheckTimeout = 10 * time.Second
	key := f.registerVerified(t, "dev-dup")
	p := f.processor(t)

	first := capture(t, "dev-dup", 1)
	first.CorrelationID = "corr-first"
	signSubmission(t, first, key)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Process(context.Background(), first)
		done <- outcome{res, err}
	}()

	select {
	case <-stall.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first submission never reached scene analysis")
	}

	second := capture(t, "dev-dup", 2)
	second.CorrelationID = "corr-second"
	signSubmission(t, second, key)
	res, err := p.Process(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, evidence.ConfidenceHigh, res.Confidence)

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("superseded submission did not return")
	}
	require.ErrorIs(t, got.err, ErrSuperseded)
	assert.Nil(t, got.res)
	assert.True(t, f.events.has("corr-first", audit.EventSubmissionSuperseded))

	records, err := f.store.ListEvidenceByDevice(context.Background(), "dev-dup", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.EvidenceID, records[0].ID)
	assert.Equal(t, 1, f.published.count())
	assert.Zero(t, p.inflight.len())
}

func TestProcess_SidecarForUnsupportedContainer(t *testing.T) {
	f := newFixture(t)
	key := f.registerVerified(t, "dev-heic")
	p := f.processor(t)

	sub := capture(t, "dev-heic", 1)
	sub.MediaRef = "IMG_0002.heic"
	sub.Media = []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)
	assert.Nil(t, res.SignedMedia)
	assert.Equal(t, "image not decodable", res.EvidencePackage.SceneAnalysis().Reason())
	assert.Equal(t, evidence.ConfidenceMedium, res.Confidence)

	v, err := manifest.VerifySidecar(context.Background(), res.Manifest, sub.Media, f.signer.Public())
	require.NoError(t, err)
	assert.Equal(t, "IMG_0002.heic", v.Statement.Subject[0].Name)
}

func TestProcess_EmbedDisabled(t *testing.T) {
	f := newFixture(t)
	f.config.EmbedManifest = false
	key := f.registerVerified(t, "dev-side")
	p := f.processor(t)

	sub := capture(t, "dev-side", 1)
	signSubmission(t, sub, key)

	res, err := p.Process(context.Background(), sub)
	require.NoError(t, err)
	assert.Nil(t, res.SignedMedia)
	_, err = manifest.VerifySidecar(context.Background(), res.Manifest, sub.Media, f.signer.Public())
	assert.NoError(t, err)
}

func TestNew_RequiresComponents(t *testing.T) {
	f := newFixture(t)
	full := Components{
		Store:    f.store,
		Admitter: reqauth.NewAuthenticator(f.store, reqauth.DefaultConfig()),
		Hardware: f.verifier,
		Scene:    f.scene,
		Metadata: metadata.NewValidator(metadata.DefaultConfig()),
		Signer:   f.signer,
	}
	_, err := New(full, Config{})
	require.NoError(t, err, "publisher is optional")

	for name, strip := range map[string]func(*Components){
		"store":    func(c *Components) { c.Store = nil },
		"admitter": func(c *Components) { c.Admitter = nil },
		"hardware": func(c *Components) { c.Hardware = nil },
		"scene":    func(c *Components) { c.Scene = nil },
		"metadata": func(c *Components) { c.Metadata = nil },
		"signer":   func(c *Components) { c.Signer = nil },
	} {
		c := full
		strip(&c)
		_, err := New(c, Config{})
		assert.Error(t, err, name)
	}
}

func TestInflight_Supersede(t *testing.T) {
	f := newInflight()
	ctx := context.Background()

	ctx1, r1, displaced := f.begin(ctx, "k")
	assert.False(t, displaced)
	_, r2, displaced := f.begin(ctx, "k")
	assert.True(t, displaced)

	assert.True(t, errors.Is(context.Cause(ctx1), ErrSuperseded))
	assert.False(t, f.commit(r1))
	assert.True(t, f.commit(r2))
	f.release(r1)
	f.release(r2)
	assert.Zero(t, f.len())

	_, r3, displaced := f.begin(ctx, "")
	assert.False(t, displaced)
	assert.True(t, f.commit(r3), "runs without a capture key are never superseded")
	f.release(r3)
}
