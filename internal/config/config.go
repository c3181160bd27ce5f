package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all KnowYourRights environment variables.
const EnvPrefix = "KYR_"

const (
	CaptureFFmpeg    = "ffmpeg"
	CapturePortAudio = "portaudio"

	LocationNone   = "none"
	LocationStatic = "static"
	LocationIP     = "ip"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	DBPath        string `yaml:"db_path" env:"DB_PATH"`
	RecordingsDir string `yaml:"recordings_dir" env:"RECORDINGS_DIR"`
	JournalDir    string `yaml:"journal_dir" env:"JOURNAL_DIR"`
	DefaultRegion string `yaml:"default_region" env:"DEFAULT_REGION"`

	Model             string `yaml:"model" env:"MODEL"`
	LLMBaseURL        string `yaml:"llm_base_url" env:"LLM_BASE_URL"`
	GenerationTimeout string `yaml:"generation_timeout" env:"GENERATION_TIMEOUT"`

	AlertCountdown int `yaml:"alert_countdown" env:"ALERT_COUNTDOWN"`

	CaptureBackend string `yaml:"capture_backend" env:"CAPTURE_BACKEND"`
	FFmpegCommand  string `yaml:"ffmpeg_command" env:"FFMPEG_COMMAND"`
	AudioFormat    string `yaml:"audio_format" env:"AUDIO_FORMAT"`
	AudioDevice    string `yaml:"audio_device" env:"AUDIO_DEVICE"`
	VideoFormat    string `yaml:"video_format" env:"VIDEO_FORMAT"`
	VideoDevice    string `yaml:"video_device" env:"VIDEO_DEVICE"`
	MicSampleRate  int    `yaml:"mic_sample_rate" env:"MIC_SAMPLE_RATE"`

	LocationMode    string  `yaml:"location_mode" env:"LOCATION_MODE"`
	Latitude        float64 `yaml:"latitude" env:"LATITUDE"`
	Longitude       float64 `yaml:"longitude" env:"LONGITUDE"`
	LocationURL     string  `yaml:"location_url" env:"LOCATION_URL"`
	LocationTimeout string  `yaml:"location_timeout" env:"LOCATION_TIMEOUT"`

	GDriveFolderID        string `yaml:"gdrive_folder_id" env:"GDRIVE_FOLDER_ID"`
	GoogleCredentialsFile string `yaml:"google_credentials_file" env:"GOOGLE_CREDENTIALS_FILE"`

	// Secrets come from env vars only and are never serialized to YAML.
	LLMAPIKey string `yaml:"-" env:"LLM_API_KEY"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/knowyourrights.db",
		RecordingsDir:         "data/recordings",
		JournalDir:            "data/journal",
		DefaultRegion:         "California",
		Model:                 "openai/google/gemini-2.0-flash-001",
		LLMBaseURL:            "https://openrouter.ai/api/v1",
		GenerationTimeout:     "20s",
		AlertCountdown:        3,
		CaptureBackend:        CaptureFFmpeg,
		FFmpegCommand:         "ffmpeg",
		AudioFormat:           "pulse",
		AudioDevice:           "default",
		VideoFormat:           "v4l2",
		VideoDevice:           "/dev/video0",
		MicSampleRate:         16000,
		LocationMode:          LocationIP,
		LocationURL:           "http://ip-api.com/json",
		LocationTimeout:       "3s",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, and validates the result. It returns the
// config, any validation warnings, and an error if the file exists but
// cannot be read or parsed, or if an environment override is malformed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, nil, fmt.Errorf("parse environment: %w", err)
	}

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedGenerationTimeout returns GenerationTimeout as a time.Duration,
// falling back to 20s if the value is invalid.
func (c *Config) ParsedGenerationTimeout() time.Duration {
	return parseDurationOr(c.GenerationTimeout, 20*time.Second)
}

// ParsedLocationTimeout returns LocationTimeout as a time.Duration,
// falling back to 3s if the value is invalid.
func (c *Config) ParsedLocationTimeout() time.Duration {
	return parseDurationOr(c.LocationTimeout, 3*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.LLMAPIKey == "" {
		warnings = append(warnings, "Language model API key not configured \u2014 rights content uses built-in defaults. Set "+EnvPrefix+"LLM_API_KEY.")
	}
	if d, err := time.ParseDuration(cfg.GenerationTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid generation_timeout %q \u2014 using default 20s.", cfg.GenerationTimeout))
	}
	if d, err := time.ParseDuration(cfg.LocationTimeout); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid location_timeout %q \u2014 using default 3s.", cfg.LocationTimeout))
	}
	if cfg.AlertCountdown <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid alert_countdown %d \u2014 using default 3.", cfg.AlertCountdown))
		cfg.AlertCountdown = 3
	}

	switch strings.ToLower(strings.TrimSpace(cfg.CaptureBackend)) {
	case CaptureFFmpeg, CapturePortAudio:
		cfg.CaptureBackend = strings.ToLower(strings.TrimSpace(cfg.CaptureBackend))
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown capture_backend %q \u2014 using ffmpeg.", cfg.CaptureBackend))
		cfg.CaptureBackend = CaptureFFmpeg
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LocationMode)) {
	case LocationNone, LocationStatic, LocationIP:
		cfg.LocationMode = strings.ToLower(strings.TrimSpace(cfg.LocationMode))
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown location_mode %q \u2014 SOS alerts will report location unavailable.", cfg.LocationMode))
		cfg.LocationMode = LocationNone
	}

	return warnings
}
