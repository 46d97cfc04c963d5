package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

const sample = `
listen: 0.0.0.0:9000
store:
  type: sqlite
  path: /var/lib/interpd/journal.db
process:
  start_timeout: 45s
  grace_period: 2s
scheduler:
  max_concurrency: 4
settings:
  - id: python
    name: Python
    group: python
    option:
      per_user: scoped
    runner:
      path: /usr/local/bin/interpreter-worker
    capabilities:
      - name: echo
        default: true
      - name: sleep
    properties:
      PYTHONPATH: /opt/lib
      sleep.parallel: "true"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8090", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 30*time.Second, cfg.Process.StartTimeout)
	assert.Equal(t, 3*time.Second, cfg.Process.GracePeriod)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.TLS.Enabled)
	assert.Equal(t, "certs/interpreterd.crt", cfg.TLS.CertFile)
	assert.Empty(t, cfg.Settings)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(New(), writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "/var/lib/interpd/journal.db", cfg.Store.Path)
	assert.Equal(t, 45*time.Second, cfg.Process.StartTimeout)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrency)

	require.Len(t, cfg.Settings, 1)
	s := cfg.Settings[0]
	assert.Equal(t, "python", s.ID)
	assert.Equal(t, models.PolicyScoped, s.Option.PerUser)
	assert.Equal(t, "/usr/local/bin/interpreter-worker", s.Runner.Path)
	require.Len(t, s.Capabilities, 2)
	assert.True(t, s.Capabilities[0].Default)
	assert.Equal(t, "/opt/lib", s.Properties["PYTHONPATH"])
	assert.Equal(t, "true", s.Properties["sleep.parallel"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INTERPD_LISTEN", "127.0.0.1:7000")
	t.Setenv("INTERPD_STORE_TYPE", "postgres")
	t.Setenv("INTERPD_PROCESS_GRACE_PERIOD", "10s")
	t.Setenv("INTERPD_TLS_ENABLED", "true")

	cfg, err := Load(New(), writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, 10*time.Second, cfg.Process.GracePeriod)
	assert.True(t, cfg.TLS.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad yaml", body: "listen: [unclosed"},
		{name: "bad policy", body: `
settings:
  - id: x
    option: {per_note: private}
    runner: {path: /bin/worker}
    capabilities: [{name: echo}]
`},
		{name: "duplicate id", body: `
settings:
  - id: x
    runner: {path: /bin/worker}
    capabilities: [{name: echo}]
  - id: x
    runner: {path: /bin/worker}
    capabilities: [{name: echo}]
`},
		{name: "missing runner", body: `
settings:
  - id: x
    capabilities: [{name: echo}]
`},
		{name: "negative concurrency", body: "scheduler: {max_concurrency: -1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
