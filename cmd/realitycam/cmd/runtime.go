package cmd

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/LucaDeLeo/realitycam-sub004/internal/config"
	"github.com/LucaDeLeo/realitycam-sub004/internal/pipeline"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/enrollment"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/manifest"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/publish"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
)

// challengeStore returns the configured challenge backend.
func challengeStore(ctx context.Context) (enrollment.ChallengeStore, error) {
	if cfg.Attestation.ChallengeStore != config.ChallengeStoreRedis {
		return dataStore, nil
	}
	rs, err := enrollment.NewRedisChallengeStore(ctx, enrollment.RedisConfig{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, rs)
	return rs, nil
}

func newIssuer(ctx context.Context) (*enrollment.Issuer, error) {
	cs, err := challengeStore(ctx)
	if err != nil {
		return nil, err
	}
	return enrollment.NewIssuer(cs,
		enrollment.WithTTL(cfg.Attestation.ChallengeTTL.Std()),
		enrollment.WithLogger(logger),
		enrollment.WithAuditEmitter(emitter),
	), nil
}

func newVerifier(ctx context.Context) (*attestation.Verifier, error) {
	roots := x509.NewCertPool()
	if cfg.Attestation.RootsFile != "" {
		var err error
		roots, err = attestation.LoadRoots(cfg.Attestation.RootsFile)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no attestation roots configured; every attestation will be downgraded")
	}
	issuer, err := newIssuer(ctx)
	if err != nil {
		return nil, err
	}
	return attestation.NewVerifier(attestation.Config{
		AppID:       cfg.Attestation.AppID,
		Roots:       roots,
		Environment: attestation.Environment(cfg.Attestation.Environment),
	}, issuer, attestation.WithLogger(logger)), nil
}

func newSigner() (manifest.Signer, error) {
	if cfg.Manifest.SigningKeyFile == "" {
		return nil, fmt.Errorf("manifest.signing_key_file is not configured")
	}
	data, err := readFile(cfg.Manifest.SigningKeyFile, "signing key")
	if err != nil {
		return nil, err
	}
	return manifest.LoadSigner(data)
}

func newPublisher() (publish.Publisher, error) {
	if cfg.AMQP.URL == "" {
		return publish.NopPublisher{}, nil
	}
	p, err := publish.NewAMQPPublisher(publish.AMQPConfig{
		URL:      cfg.AMQP.URL,
		Exchange: cfg.AMQP.Exchange,
		Queue:    cfg.AMQP.Queue,
		Durable:  cfg.AMQP.Durable,
	})
	if err != nil {
		return nil, err
	}
	closers = append(closers, p)
	return p, nil
}

// newProcessor wires the evidence pipeline from the loaded configuration.
func newProcessor(ctx context.Context) (*pipeline.Processor, error) {
	verifier, err := newVerifier(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := newSigner()
	if err != nil {
		return nil, err
	}
	publisher, err := newPublisher()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Components{
		Store: dataStore,
		Admitter: reqauth.NewAuthenticator(dataStore, cfg.AuthenticatorConfig(),
			reqauth.WithLogger(logger),
			reqauth.WithAuditEmitter(emitter),
		),
		Hardware:  verifier,
		Scene:     depth.NewAnalyzer(cfg.Depth, depth.WithLogger(logger)),
		Metadata:  metadata.NewValidator(cfg.MetadataValidatorConfig(), metadata.WithLogger(logger)),
		Signer:    signer,
		Publisher: publisher,
	}, pipeline.Config{
		CheckTimeout:  cfg.Pipeline.CheckTimeout.Std(),
		EmbedManifest: cfg.Manifest.Embed,
	}, pipeline.WithLogger(logger), pipeline.WithAuditEmitter(emitter))
}
