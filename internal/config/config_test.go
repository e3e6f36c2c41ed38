package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Default()
	assert.Equal(t, "http://localhost:8080", s.Endpoint)
	assert.Equal(t, "tiles/", s.TilesDirectory)
	assert.Equal(t, 5, s.MaxRetries)
	assert.Equal(t, time.Second, s.RateLimitWindow)
	assert.Zero(t, s.RetryDelay)
	assert.Zero(t, s.StaleAfter)
	assert.NoError(t, s.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slippytile.yaml")
	content := []byte(`
endpoint: https://tile.openstreetmap.org
tiles_directory: /var/tiles
max_concurrent_downloads: 2
max_retries: 3
rate_limit_requests: 4
rate_limit_window: 2s
stale_after: 1m
validate_images: true
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	s, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://tile.openstreetmap.org", s.Endpoint)
	assert.Equal(t, "/var/tiles", s.TilesDirectory)
	assert.Equal(t, 2, s.MaxConcurrentDownloads)
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 4, s.RateLimitRequests)
	assert.Equal(t, 2*time.Second, s.RateLimitWindow)
	assert.Equal(t, time.Minute, s.StaleAfter)
	assert.True(t, s.ValidateImages)
	// Unset keys keep their defaults.
	assert.Equal(t, "slippytile", s.UserAgent)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SLIPPYTILE_ENDPOINT", "http://env.example")
	t.Setenv("SLIPPYTILE_MAX_RETRIES", "7")
	t.Setenv("SLIPPYTILE_RATE_LIMIT_WINDOW", "500ms")
	t.Setenv("SLIPPYTILE_TIMEOUT", "15")
	t.Setenv("SLIPPYTILE_USE_HTTP2", "false")

	s, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "http://env.example", s.Endpoint)
	assert.Equal(t, 7, s.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, s.RateLimitWindow)
	assert.Equal(t, 15*time.Second, s.Timeout)
	assert.False(t, s.UseHTTP2)
}

func TestLoadDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SLIPPYTILE_TILES_DIRECTORY=/from/dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SLIPPYTILE_TILES_DIRECTORY") })

	s, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", s.TilesDirectory)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("SLIPPYTILE_MAX_RETRIES", "lots")
	_, err := Load("", "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   error
	}{
		{"endpoint", func(s *Settings) { s.Endpoint = " " }, ErrMissingEndpoint},
		{"directory", func(s *Settings) { s.TilesDirectory = "" }, ErrMissingDirectory},
		{"concurrency", func(s *Settings) { s.MaxConcurrentDownloads = 0 }, ErrInvalidConcurrent},
		{"retries", func(s *Settings) { s.MaxRetries = 0 }, ErrInvalidRetries},
		{"window", func(s *Settings) { s.RateLimitWindow = 0 }, ErrInvalidRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			assert.True(t, errors.Is(s.Validate(), tt.want))
		})
	}

	s := Default()
	s.RateLimitRequests = 0
	s.RateLimitWindow = 0
	assert.NoError(t, s.Validate(), "a disabled rate limit needs no window")
}
