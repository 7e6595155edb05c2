// Package config loads the realitycam YAML configuration.
//
// Load starts from Default and overlays the file, so a config file only
// needs the values it changes. Relative paths are resolved against the
// directory holding the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Auth        AuthConfig        `yaml:"auth"`
	Attestation AttestationConfig `yaml:"attestation"`
	Depth       depth.Config      `yaml:"depth"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Manifest    ManifestConfig    `yaml:"manifest"`
	Store       StoreConfig       `yaml:"store"`
	Redis       RedisConfig       `yaml:"redis"`
	AMQP        AMQPConfig        `yaml:"amqp"`
	Audit       AuditConfig       `yaml:"audit"`
}

// AuthConfig controls request authentication.
type AuthConfig struct {
	TimestampTolerance Duration `yaml:"timestamp_tolerance"`
}

// Challenge store backends.
const (
	ChallengeStoreSQLite = "sqlite"
	ChallengeStoreRedis  = "redis"
)

// AttestationConfig controls attestation verification and challenges.
type AttestationConfig struct {
	AppID          string   `yaml:"app_id"`
	Environment    string   `yaml:"environment"`
	RootsFile      string   `yaml:"roots_file"`
	ChallengeTTL   Duration `yaml:"challenge_ttl"`
	ChallengeStore string   `yaml:"challenge_store"`
}

// MetadataConfig controls metadata validation.
type MetadataConfig struct {
	CaptureTolerance Duration `yaml:"capture_tolerance"`
	AllowedModels    []string `yaml:"allowed_models"`
}

// PipelineConfig controls evidence computation.
type PipelineConfig struct {
	CheckTimeout Duration `yaml:"check_timeout"`
}

// ManifestConfig controls manifest signing.
type ManifestConfig struct {
	SigningKeyFile string `yaml:"signing_key_file"`
	Embed          bool   `yaml:"embed"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the shared challenge store.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AMQPConfig configures evidence notifications. An empty URL disables them.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
	Durable  bool   `yaml:"durable"`
}

// AuditConfig selects audit sinks. Events are always logged.
type AuditConfig struct {
	Store        bool   `yaml:"store"`
	Syslog       bool   `yaml:"syslog"`
	SyslogSocket string `yaml:"syslog_socket"`
	Facility     string `yaml:"facility"`
}

// Default returns the built-in configuration.
func Default() *Config {
	meta := metadata.DefaultConfig()
	return &Config{
		Auth: AuthConfig{TimestampTolerance: Duration(reqauth.DefaultTimestampTolerance)},
		Attestation: AttestationConfig{
			Environment:    string(attestation.EnvironmentProduction),
			ChallengeTTL:   Duration(5 * time.Minute),
			ChallengeStore: ChallengeStoreSQLite,
		},
		Depth: depth.DefaultConfig(),
		Metadata: MetadataConfig{
			CaptureTolerance: Duration(meta.CaptureTolerance),
			AllowedModels:    meta.AllowedModels,
		},
		Pipeline: PipelineConfig{CheckTimeout: Duration(10 * time.Second)},
		Manifest: ManifestConfig{Embed: true},
		Store:    StoreConfig{Path: store.DefaultPath()},
		Redis:    RedisConfig{KeyPrefix: "realitycam:challenge:"},
		AMQP:     AMQPConfig{Queue: "realitycam.evidence", Durable: true},
		Audit: AuditConfig{
			Store:        true,
			SyslogSocket: "/dev/log",
			Facility:     "local0",
		},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(baseDir string) {
	for _, p := range []*string{&c.Attestation.RootsFile, &c.Manifest.SigningKeyFile, &c.Store.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Auth.TimestampTolerance > 0, "auth.timestamp_tolerance must be positive")

	env := attestation.Environment(c.Attestation.Environment)
	check(env == attestation.EnvironmentProduction || env == attestation.EnvironmentDevelopment,
		"attestation.environment must be production or development, got %q", c.Attestation.Environment)
	check(c.Attestation.ChallengeTTL > 0, "attestation.challenge_ttl must be positive")
	check(c.Attestation.RootsFile == "" || c.Attestation.AppID != "",
		"attestation.app_id is required when roots_file is set")
	switch c.Attestation.ChallengeStore {
	case ChallengeStoreSQLite:
	case ChallengeStoreRedis:
		check(c.Redis.Address != "", "redis.address is required for the redis challenge store")
	default:
		errs = append(errs, fmt.Errorf("attestation.challenge_store must be sqlite or redis, got %q", c.Attestation.ChallengeStore))
	}

	if err := c.Depth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("depth: %w", err))
	}

	check(c.Metadata.CaptureTolerance > 0, "metadata.capture_tolerance must be positive")
	check(len(c.Metadata.AllowedModels) > 0, "metadata.allowed_models must not be empty")
	check(c.Pipeline.CheckTimeout > 0, "pipeline.check_timeout must be positive")
	check(c.Store.Path != "", "store.path is required")

	if c.Audit.Syslog {
		_, err := audit.ParseFacility(c.Audit.Facility)
		check(err == nil, "audit.facility: %v", err)
	}
	return errors.Join(errs...)
}

// MetadataValidatorConfig converts the metadata section.
func (c *Config) MetadataValidatorConfig() metadata.Config {
	return metadata.Config{
		CaptureTolerance: c.Metadata.CaptureTolerance.Std(),
		AllowedModels:    c.Metadata.AllowedModels,
	}
}

// AuthenticatorConfig converts the auth section.
func (c *Config) AuthenticatorConfig() reqauth.Config {
	return reqauth.Config{TimestampTolerance: c.Auth.TimestampTolerance.Std()}
}
