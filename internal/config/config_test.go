package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "default", cfg.Scraper.OrganizationID)
	require.Equal(t, 5, cfg.Scraper.Workers)
	require.Equal(t, 50, cfg.Scraper.MaxConcurrent)
	require.Equal(t, time.Hour, cfg.CacheTTL())
	require.Equal(t, 30*24*time.Hour, cfg.RetentionTTL())
	require.Equal(t, 30*24*time.Hour, cfg.DedupHorizon())
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 10, cfg.Training.FeedbackQuota)
	require.Equal(t, time.Hour, cfg.QuotaWindow())
	require.InDelta(t, 10, cfg.Training.ClampMin, 0.001)
	require.InDelta(t, 95, cfg.Training.ClampMax, 0.001)
	require.InDelta(t, 150, cfg.Scraper.LeadScoreCap, 0.001)
	require.True(t, cfg.Fetch.RespectRobots)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
scraper:
  organization_id: org-42
  workers: 8
  max_concurrent: 16
  cache_ttl_minutes: 5
  lead_score_cap: 120
rate_limit:
  max_requests: 4
  window_seconds: 10
  min_delay_ms: 100
fetch:
  user_agent: prospect-agent
  respect_robots: false
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 3
storage:
  backend: local
  local_dir: /tmp/blobs
  prefix: archives
training:
  feedback_quota: 3
  quota_window_minutes: 30
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, "org-42", cfg.Scraper.OrganizationID)
	require.Equal(t, 8, cfg.Scraper.Workers)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL())
	require.InDelta(t, 120, cfg.Scraper.LeadScoreCap, 0.001)
	require.Equal(t, 10*time.Second, cfg.RateLimitWindow())
	require.Equal(t, 100*time.Millisecond, cfg.MinDelay())
	require.Equal(t, "prospect-agent", cfg.Fetch.UserAgent)
	require.False(t, cfg.Fetch.RespectRobots)
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "/tmp/blobs", cfg.Storage.LocalDir)
	require.Equal(t, 3, cfg.Training.FeedbackQuota)
	require.Equal(t, 30*time.Minute, cfg.QuotaWindow())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		{
			name:   "invalid workers",
			mutate: func(c *Config) { c.Scraper.Workers = 0 },
			want:   "scraper.workers",
		},
		{
			name:   "invalid fetch timeout",
			mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 },
			want:   "fetch.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name:   "auth missing api key",
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "s3" },
			want:   "storage.backend",
		},
		{
			name:   "local backend missing dir",
			mutate: func(c *Config) { c.Storage.Backend = "local" },
			want:   "storage.local_dir",
		},
		{
			name:   "gcs backend missing bucket",
			mutate: func(c *Config) { c.Storage.Backend = "gcs" },
			want:   "storage.gcs_bucket",
		},
		{
			name: "inverted clamp bounds",
			mutate: func(c *Config) {
				c.Training.ClampMin = 90
				c.Training.ClampMax = 20
			},
			want: "clamp",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
