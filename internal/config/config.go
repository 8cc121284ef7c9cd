package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/browserd/internal/model"
)

const (
	defaultListenAddr      = ":8000"
	defaultDBPath          = ":memory:"
	defaultModel           = "gemini-2.5-pro"
	defaultLLMBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultMaxSteps        = 25
	defaultTaskTimeout     = 10 * time.Minute
	defaultStaticDir       = "frontend"
	defaultLogPollInterval = 50 * time.Millisecond

	envConfigFile      = "BROWSERD_CONFIG"
	envListenAddr      = "BROWSERD_LISTEN_ADDR"
	envDBPath          = "BROWSERD_DB_PATH"
	envLogLevel        = "BROWSERD_LOG_LEVEL"
	envMode            = "BROWSERD_MODE"
	envModel           = "BROWSERD_MODEL"
	envLLMBaseURL      = "BROWSERD_LLM_BASE_URL"
	envHeadless        = "BROWSERD_HEADLESS"
	envInstallDriver   = "BROWSERD_INSTALL_DRIVER"
	envMaxSteps        = "BROWSERD_MAX_STEPS"
	envTaskTimeout     = "BROWSERD_TASK_TIMEOUT"
	envStaticDir       = "BROWSERD_STATIC_DIR"
	envLogPollInterval = "BROWSERD_LOG_POLL_INTERVAL"

	// EnvAPIKey names the credential the agent's model provider requires.
	EnvAPIKey = "GOOGLE_API_KEY"
)

// Config holds application configuration loaded from an optional YAML file and
// environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	Mode       string

	APIKey        string
	Model         string
	LLMBaseURL    string
	Headless      bool
	InstallDriver bool
	MaxSteps      int
	TaskTimeout   time.Duration

	StaticDir       string
	LogPollInterval time.Duration
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// "unset" from zero values.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	DBPath          string `yaml:"db_path"`
	LogLevel        string `yaml:"log_level"`
	Mode            string `yaml:"mode"`
	APIKey          string `yaml:"google_api_key"`
	Model           string `yaml:"model"`
	LLMBaseURL      string `yaml:"llm_base_url"`
	Headless        *bool  `yaml:"headless"`
	InstallDriver   *bool  `yaml:"install_driver"`
	MaxSteps        int    `yaml:"max_steps"`
	TaskTimeout     string `yaml:"task_timeout"`
	StaticDir       string `yaml:"static_dir"`
	LogPollInterval string `yaml:"log_poll_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		Mode:            model.ModeShared,
		Model:           defaultModel,
		LLMBaseURL:      defaultLLMBaseURL,
		MaxSteps:        defaultMaxSteps,
		TaskTimeout:     defaultTaskTimeout,
		StaticDir:       defaultStaticDir,
		LogPollInterval: defaultLogPollInterval,
	}
}

// Load reads configuration with sensible defaults. If BROWSERD_CONFIG names a
// YAML file it is applied first; environment variables override it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if !model.ValidMode(cfg.Mode) {
		return Config{}, fmt.Errorf("invalid mode %q: want %q or %q", cfg.Mode, model.ModeShared, model.ModeIsolated)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.Mode != "" {
		c.Mode = strings.ToLower(fc.Mode)
	}
	if fc.APIKey != "" {
		c.APIKey = fc.APIKey
	}
	if fc.Model != "" {
		c.Model = fc.Model
	}
	if fc.LLMBaseURL != "" {
		c.LLMBaseURL = fc.LLMBaseURL
	}
	if fc.Headless != nil {
		c.Headless = *fc.Headless
	}
	if fc.InstallDriver != nil {
		c.InstallDriver = *fc.InstallDriver
	}
	if fc.MaxSteps > 0 {
		c.MaxSteps = fc.MaxSteps
	}
	if fc.TaskTimeout != "" {
		d, err := time.ParseDuration(fc.TaskTimeout)
		if err != nil {
			return fmt.Errorf("parse task_timeout: %w", err)
		}
		c.TaskTimeout = d
	}
	if fc.StaticDir != "" {
		c.StaticDir = fc.StaticDir
	}
	if fc.LogPollInterval != "" {
		d, err := time.ParseDuration(fc.LogPollInterval)
		if err != nil {
			return fmt.Errorf("parse log_poll_interval: %w", err)
		}
		c.LogPollInterval = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMode); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(envModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(envLLMBaseURL); v != "" {
		c.LLMBaseURL = v
	}
	if v := os.Getenv(envHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envHeadless, err)
		}
		c.Headless = b
	}
	if v := os.Getenv(envInstallDriver); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envInstallDriver, err)
		}
		c.InstallDriver = b
	}
	if v := os.Getenv(envMaxSteps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("parse %s: want a positive integer, got %q", envMaxSteps, v)
		}
		c.MaxSteps = n
	}
	if v := os.Getenv(envTaskTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTaskTimeout, err)
		}
		c.TaskTimeout = d
	}
	if v := os.Getenv(envStaticDir); v != "" {
		c.StaticDir = v
	}
	if v := os.Getenv(envLogPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envLogPollInterval, err)
		}
		c.LogPollInterval = d
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
