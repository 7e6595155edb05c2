package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realitycam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Auth.TimestampTolerance.Std())
	assert.Equal(t, "production", cfg.Attestation.Environment)
	assert.Equal(t, ChallengeStoreSQLite, cfg.Attestation.ChallengeStore)
	assert.True(t, cfg.Manifest.Embed)
	assert.NotEmpty(t, cfg.Metadata.AllowedModels)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  timestamp_tolerance: 90s
attestation:
  app_id: TEAMID.app.realitycam
  environment: development
  roots_file: roots.pem
depth:
  variance_min: 0.8
metadata:
  allowed_models: ["iPhone 15 Pro"]
manifest:
  signing_key_file: /etc/realitycam/signing.pem
store:
  path: data/realitycam.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, 90*time.Second, cfg.Auth.TimestampTolerance.Std())
	assert.Equal(t, "development", cfg.Attestation.Environment)
	assert.Equal(t, filepath.Join(dir, "roots.pem"), cfg.Attestation.RootsFile)
	assert.Equal(t, filepath.Join(dir, "data", "realitycam.db"), cfg.Store.Path)
	assert.Equal(t, "/etc/realitycam/signing.pem", cfg.Manifest.SigningKeyFile, "absolute paths are kept")
	assert.Equal(t, []string{"iPhone 15 Pro"}, cfg.Metadata.AllowedModels)

	assert.InDelta(t, 0.8, cfg.Depth.VarianceMin, 1e-9)
	assert.Equal(t, Default().Depth.LayersMin, cfg.Depth.LayersMin, "unset depth fields keep their defaults")
	assert.Equal(t, Default().Pipeline.CheckTimeout, cfg.Pipeline.CheckTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad duration", "auth:\n  timestamp_tolerance: soon\n", "invalid duration"},
		{"unknown environment", "attestation:\n  environment: staging\n", "attestation.environment"},
		{"roots without app id", "attestation:\n  roots_file: roots.pem\n", "app_id"},
		{"redis without address", "attestation:\n  challenge_store: redis\n", "redis.address"},
		{"unknown challenge store", "attestation:\n  challenge_store: memcached\n", "challenge_store"},
		{"empty models", "metadata:\n  allowed_models: []\n", "allowed_models"},
		{"zero timeout", "pipeline:\n  check_timeout: 0s\n", "check_timeout"},
		{"bad facility", "audit:\n  syslog: true\n  facility: kern2\n", "audit.facility"},
		{"bad depth", "depth:\n  fft_size: 100\n", "depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}

func TestDuration_RoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(2500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "d: 2.5s\n", string(out))
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Metadata.CaptureTolerance = Duration(time.Minute)
	cfg.Auth.TimestampTolerance = Duration(30 * time.Second)

	assert.Equal(t, time.Minute, cfg.MetadataValidatorConfig().CaptureTolerance)
	assert.Equal(t, cfg.Metadata.AllowedModels, cfg.MetadataValidatorConfig().AllowedModels)
	assert.Equal(t, 30*time.Second, cfg.AuthenticatorConfig().TimestampTolerance)
}
