package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPredictURL     = "http://127.0.0.1:8000/predict"
	DefaultSampleInterval = 500 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
	DefaultFrameQuality   = 80
	DefaultFrameMaxWidth  = 640
	DefaultMaxUploadSize  = 100 << 20
	DefaultPort           = "8080"
)

// Config holds everything the controller and its hosts need at startup.
type Config struct {
	PredictURL       string
	SampleInterval   time.Duration
	RequestTimeout   time.Duration
	FrameQuality     int
	FrameMaxWidth    int
	PreviewDir       string
	MaxUploadSize    int64
	DropStaleResults bool
	FFmpegPath       string
	FFprobePath      string
	Port             string
	LogLevel         string
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		PredictURL:     DefaultPredictURL,
		SampleInterval: DefaultSampleInterval,
		RequestTimeout: DefaultRequestTimeout,
		FrameQuality:   DefaultFrameQuality,
		FrameMaxWidth:  DefaultFrameMaxWidth,
		PreviewDir:     filepath.Join(os.TempDir(), "drivewatch-previews"),
		MaxUploadSize:  DefaultMaxUploadSize,
		Port:           DefaultPort,
		LogLevel:       "info",
	}
}

// FromEnv starts from Default and overrides every field whose variable is set.
func FromEnv() (*Config, error) {
	cfg := Default()

	cfg.PredictURL = getEnv("PREDICT_URL", cfg.PredictURL)
	cfg.PreviewDir = getEnv("PREVIEW_DIR", cfg.PreviewDir)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = getEnv("FFPROBE_PATH", cfg.FFprobePath)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.SampleInterval, err = durationEnv("SAMPLE_INTERVAL", cfg.SampleInterval); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.FrameQuality, err = intEnv("FRAME_QUALITY", cfg.FrameQuality); err != nil {
		return nil, err
	}
	if cfg.FrameMaxWidth, err = intEnv("FRAME_MAX_WIDTH", cfg.FrameMaxWidth); err != nil {
		return nil, err
	}

	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
		}
		cfg.MaxUploadSize = size
	}

	if v := os.Getenv("DROP_STALE_RESULTS"); v != "" {
		drop, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DROP_STALE_RESULTS: %w", err)
		}
		cfg.DropStaleResults = drop
	}

	return cfg, nil
}

// Load reads the environment and rejects values the rest of the program
// would otherwise replace or trip over at runtime.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.PredictURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("predict_url must be an absolute URL, got %q", c.PredictURL)
	}

	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}

	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return fmt.Errorf("frame_quality must be between 1 and 100")
	}

	if c.FrameMaxWidth < 0 {
		return fmt.Errorf("frame_max_width cannot be negative")
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}

	if c.PreviewDir == "" {
		return fmt.Errorf("preview_dir cannot be empty")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
