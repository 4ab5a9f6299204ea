package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/forkline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFile)
	doc := `
paths:
  dir: /srv/forkline
quota:
  warning_hours: 50
  critical_hours: 55
retry:
  max_attempts: 5
  initial_delay: 250ms
fork:
  ready_interval: 2s
  source_repo: origin/project
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50.0, cfg.Quota.WarningHours)
	assert.Equal(t, 55.0, cfg.Quota.CriticalHours)
	assert.Equal(t, 120.0, cfg.Quota.CeilingHours, "untouched fields keep defaults")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2*time.Second, cfg.Fork.ReadyInterval)
	assert.Equal(t, 24, cfg.Fork.ReadyAttempts)
	assert.Equal(t, "origin/project", cfg.Fork.SourceRepo)
	assert.Equal(t, filepath.Join("/srv/forkline", "cache", "active.json"), cfg.StatePath())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"malformed yaml", "quota: [", "failed to parse config"},
		{"inverted thresholds", "quota:\n  warning_hours: 119.5\n  critical_hours: 118\n", "warning_hours"},
		{"redis without address", "state:\n  backend: redis\n", "redis_addr"},
		{"unknown backend", "state:\n  backend: etcd\n", "unknown state.backend"},
		{"lease without wait", "lease:\n  redis_addr: localhost:6379\n  wait: 0s\n", "lease.wait must be positive"},
		{"lease without ttl", "lease:\n  redis_addr: localhost:6379\n  ttl: 0s\n", "lease.ttl must be positive"},
		{"renewal slower than ttl", "lease:\n  redis_addr: localhost:6379\n  renew_interval: 5m\n", "lease.renew_interval"},
		{"reserved secret name", "secrets:\n  - name: GITHUB_TOKEN\n    file: t.txt\n", "reserved GITHUB_ prefix"},
		{"secret without file", "secrets:\n  - name: NEXUS_WALLETS\n", "secrets[0].file is required"},
		{"duplicate secret", "secrets:\n  - name: A\n    file: a\n  - name: a\n    file: b\n", "duplicated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), config.DefaultFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o600))

			_, err := config.Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefault_ThresholdsBelowCeiling(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Less(t, cfg.Quota.WarningHours, cfg.Quota.CriticalHours)
	assert.Less(t, cfg.Quota.CriticalHours, cfg.Quota.CeilingHours)
}

func TestResolve_AbsolutePathUnchanged(t *testing.T) {
	cfg := config.Default()
	abs := filepath.Join(t.TempDir(), "tokens.txt")
	assert.Equal(t, abs, cfg.Resolve(abs))
	assert.Equal(t, filepath.Join(".forkline", "tokens.txt"), cfg.TokensPath())
}
