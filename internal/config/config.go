package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	Mode       string `yaml:"mode"` // portaudio, mock
	SampleRate int    `yaml:"sample_rate"`
	BlockMS    int    `yaml:"block_ms"`
}

type ExtractorConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec
	Command    string  `yaml:"command"`
	ModelPath  string  `yaml:"model_path"`
	NumThreads int     `yaml:"num_threads"`
	Provider   string  `yaml:"provider"`
	Dimension  int     `yaml:"dimension"`
	MinSeconds float64 `yaml:"min_seconds"`
	MinRMS     float64 `yaml:"min_rms"`
}

type EnrollConfig struct {
	DefaultDuration float64 `yaml:"default_duration_sec"`
	SegmentSec      float64 `yaml:"segment_sec"`
	HopSec          float64 `yaml:"hop_sec"`
	MaxConcurrency  int     `yaml:"max_concurrency"`
}

type ProfilesConfig struct {
	Directory string `yaml:"directory"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Capture     CaptureConfig   `yaml:"capture"`
	Extractor   ExtractorConfig `yaml:"extractor"`
	Enroll      EnrollConfig    `yaml:"enroll"`
	Profiles    ProfilesConfig  `yaml:"profiles"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		ServiceName: "roomkit-voiced",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Mode:       "portaudio",
			SampleRate: 16000,
			BlockMS:    100,
		},
		Extractor: ExtractorConfig{
			Mode:       "mock",
			NumThreads: 1,
			Provider:   "cpu",
			Dimension:  192,
			MinSeconds: 0.5,
			MinRMS:     0.001,
		},
		Enroll: EnrollConfig{
			DefaultDuration: 10.0,
			SegmentSec:      3.0,
			HopSec:          2.0,
			MaxConcurrency:  1,
		},
		Profiles: ProfilesConfig{
			Directory: defaultProfilesDir(),
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/enrollments.db",
			RetentionDays: 30,
			MaxAttempts:   10000,
		},
	}
}

// defaultProfilesDir resolves the per-user speaker profile directory.
func defaultProfilesDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "./data/speakers"
	}
	return filepath.Join(base, "roomkit-voice", "speakers")
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "ROOMKIT_SERVICE_NAME")
	overrideString(&cfg.Environment, "ROOMKIT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ROOMKIT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ROOMKIT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ROOMKIT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ROOMKIT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ROOMKIT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "ROOMKIT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "ROOMKIT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ROOMKIT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ROOMKIT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ROOMKIT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ROOMKIT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ROOMKIT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ROOMKIT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ROOMKIT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ROOMKIT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "ROOMKIT_CAPTURE_MODE")
	overrideInt(&cfg.Capture.SampleRate, "ROOMKIT_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.BlockMS, "ROOMKIT_CAPTURE_BLOCK_MS")
	overrideString(&cfg.Extractor.Mode, "ROOMKIT_EXTRACTOR_MODE")
	overrideString(&cfg.Extractor.Command, "ROOMKIT_EXTRACTOR_COMMAND")
	overrideString(&cfg.Extractor.ModelPath, "ROOMKIT_EXTRACTOR_MODEL_PATH")
	overrideInt(&cfg.Extractor.NumThreads, "ROOMKIT_EXTRACTOR_NUM_THREADS")
	overrideString(&cfg.Extractor.Provider, "ROOMKIT_EXTRACTOR_PROVIDER")
	overrideInt(&cfg.Extractor.Dimension, "ROOMKIT_EXTRACTOR_DIMENSION")
	overrideFloat(&cfg.Extractor.MinSeconds, "ROOMKIT_EXTRACTOR_MIN_SECONDS")
	overrideFloat(&cfg.Extractor.MinRMS, "ROOMKIT_EXTRACTOR_MIN_RMS")
	overrideFloat(&cfg.Enroll.DefaultDuration, "ROOMKIT_ENROLL_DEFAULT_DURATION_SEC")
	overrideFloat(&cfg.Enroll.SegmentSec, "ROOMKIT_ENROLL_SEGMENT_SEC")
	overrideFloat(&cfg.Enroll.HopSec, "ROOMKIT_ENROLL_HOP_SEC")
	overrideInt(&cfg.Enroll.MaxConcurrency, "ROOMKIT_ENROLL_MAX_CONCURRENCY")
	overrideString(&cfg.Profiles.Directory, "ROOMKIT_PROFILES_DIRECTORY")
	overrideBool(&cfg.History.Enabled, "ROOMKIT_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "ROOMKIT_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "ROOMKIT_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxAttempts, "ROOMKIT_HISTORY_MAX_ATTEMPTS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Capture.Mode {
	case "portaudio", "mock":
	default:
		return errors.New("capture.mode must be one of portaudio|mock")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.BlockMS <= 0 {
		return errors.New("capture.block_ms must be positive")
	}
	switch cfg.Extractor.Mode {
	case "mock", "exec":
	default:
		return errors.New("extractor.mode must be one of mock|exec")
	}
	if cfg.Extractor.Mode == "exec" && cfg.Extractor.Command == "" {
		return errors.New("extractor.command must be set when mode=exec")
	}
	if cfg.Extractor.NumThreads <= 0 {
		return errors.New("extractor.num_threads must be >= 1")
	}
	if cfg.Extractor.Dimension <= 0 {
		return errors.New("extractor.dimension must be positive")
	}
	if cfg.Enroll.DefaultDuration <= 0 {
		return errors.New("enroll.default_duration_sec must be positive")
	}
	if cfg.Enroll.SegmentSec <= 0 {
		return errors.New("enroll.segment_sec must be positive")
	}
	if cfg.Enroll.HopSec <= 0 {
		return errors.New("enroll.hop_sec must be positive")
	}
	if cfg.Enroll.MaxConcurrency <= 0 {
		return errors.New("enroll.max_concurrency must be >= 1")
	}
	if cfg.Profiles.Directory == "" {
		return errors.New("profiles.directory must not be empty")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	return nil
}
