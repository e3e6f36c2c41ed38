// Package config loads downloader settings from defaults, an optional YAML
// file, an optional .env file and SLIPPYTILE_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SLIPPYTILE_"

var (
	ErrMissingEndpoint   = errors.New("endpoint is required")
	ErrMissingDirectory  = errors.New("tiles_directory is required")
	ErrInvalidConcurrent = errors.New("max_concurrent_downloads must be >= 1")
	ErrInvalidRetries    = errors.New("max_retries must be >= 1")
	ErrInvalidRateLimit  = errors.New("rate_limit_window must be > 0 when rate_limit_requests > 0")
)

// Settings holds everything the downloader needs.
type Settings struct {
	Endpoint               string        `yaml:"endpoint"`
	TilesDirectory         string        `yaml:"tiles_directory"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	MaxRetries             int           `yaml:"max_retries"`
	RateLimitRequests      int           `yaml:"rate_limit_requests"`
	RateLimitWindow        time.Duration `yaml:"rate_limit_window"`

	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ValidateImages bool          `yaml:"validate_images"`
	UseHTTP2       bool          `yaml:"use_http2"`
	KeepAlive      bool          `yaml:"keep_alive"`
	ProxyURL       string        `yaml:"proxy_url"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	LogLevel       string        `yaml:"log_level"`
	ResumeFile     string        `yaml:"resume_file"`
	ReadCacheSize  int           `yaml:"read_cache_size"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Endpoint:               "http://localhost:8080",
		TilesDirectory:         "tiles/",
		MaxConcurrentDownloads: 8,
		MaxRetries:             5,
		RateLimitRequests:      10,
		RateLimitWindow:        time.Second,
		UserAgent:              "slippytile",
		Timeout:                60 * time.Second,
		UseHTTP2:               true,
		KeepAlive:              true,
		TickInterval:           50 * time.Millisecond,
		StatsInterval:          10 * time.Second,
		LogLevel:               "info",
		ResumeFile:             ".slippytile-resume.json",
		ReadCacheSize:          256,
	}
}

// Load builds settings from defaults, then path (if non-empty), then
// envFile (if present), then the process environment.
func Load(path, envFile string) (*Settings, error) {
	s := Default()

	if path != "" {
		if err := s.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	return s, s.Validate()
}

func (s *Settings) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (s *Settings) applyEnv() error {
	s.Endpoint = getEnv("ENDPOINT", s.Endpoint)
	s.TilesDirectory = getEnv("TILES_DIRECTORY", s.TilesDirectory)
	s.UserAgent = getEnv("USER_AGENT", s.UserAgent)
	s.ProxyURL = getEnv("PROXY_URL", s.ProxyURL)
	s.LogLevel = getEnv("LOG_LEVEL", s.LogLevel)
	s.ResumeFile = getEnv("RESUME_FILE", s.ResumeFile)

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_CONCURRENT_DOWNLOADS", &s.MaxConcurrentDownloads},
		{"MAX_RETRIES", &s.MaxRetries},
		{"RATE_LIMIT_REQUESTS", &s.RateLimitRequests},
		{"READ_CACHE_SIZE", &s.ReadCacheSize},
	}
	for _, v := range ints {
		if *v.dst, err = getIntEnv(v.key, *v.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RATE_LIMIT_WINDOW", &s.RateLimitWindow},
		{"TIMEOUT", &s.Timeout},
		{"RETRY_DELAY", &s.RetryDelay},
		{"STALE_AFTER", &s.StaleAfter},
		{"TICK_INTERVAL", &s.TickInterval},
		{"STATS_INTERVAL", &s.StatsInterval},
	}
	for _, v := range durations {
		if *v.dst, err = getDurationEnv(v.key, *v.dst); err != nil {
			return err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"VALIDATE_IMAGES", &s.ValidateImages},
		{"USE_HTTP2", &s.UseHTTP2},
		{"KEEP_ALIVE", &s.KeepAlive},
	}
	for _, v := range bools {
		if *v.dst, err = getBoolEnv(v.key, *v.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.Endpoint) == "":
		return ErrMissingEndpoint
	case strings.TrimSpace(s.TilesDirectory) == "":
		return ErrMissingDirectory
	case s.MaxConcurrentDownloads < 1:
		return ErrInvalidConcurrent
	case s.MaxRetries < 1:
		return ErrInvalidRetries
	case s.RateLimitRequests > 0 && s.RateLimitWindow <= 0:
		return ErrInvalidRateLimit
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

// getDurationEnv accepts Go duration strings ("250ms") or whole seconds ("10").
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return b, nil
}
