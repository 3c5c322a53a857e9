package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Recommended operating resolution for the computer-use model. The viewport
// defaults match it so normalized coordinates map cleanly onto the page.
const (
	DefaultScreenWidth  = 1440
	DefaultScreenHeight = 900
)

// Environment variables accepted for the model credential, in order of
// preference.
const (
	EnvAPIKey    = "GOOGLE_API_KEY"
	EnvAPIKeyAlt = "GENAI_API_KEY"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the driven Chrome instance.
type BrowserConfig struct {
	// Headless is off by default: the point of the demo is watching the
	// model drive a visible window.
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	StartURL string   `mapstructure:"start_url" yaml:"start_url"`
	Width    int      `mapstructure:"width" yaml:"width"`
	Height   int      `mapstructure:"height" yaml:"height"`
	Args     []string `mapstructure:"args" yaml:"args"`
	Debug    bool     `mapstructure:"debug" yaml:"debug"`
}

// NetworkConfig tunes page-load waiting behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PostActionWait is the settle period after every executed action before
	// the screenshot is captured.
	PostActionWait time.Duration `mapstructure:"post_action_wait" yaml:"post_action_wait"`
}

// LLMProvider defines the supported model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the hosted computer-use model.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute throttles calls to the hosted endpoint. Zero
	// disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// AgentConfig holds settings for the agent loop and dispatcher.
type AgentConfig struct {
	LLM LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	// MaxTurns bounds a single goal's model round-trips.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// ExcludedActions are predefined computer-use function names that are
	// never offered to the model and are refused by the dispatcher.
	ExcludedActions []string `mapstructure:"excluded_actions" yaml:"excluded_actions"`
	// AutoApprove skips the interactive confirmation prompt for actions the
	// model flags as sensitive. Off by default.
	AutoApprove bool `mapstructure:"auto_approve" yaml:"auto_approve"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pilot-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.start_url", "https://www.google.com")
	v.SetDefault("browser.width", DefaultScreenWidth)
	v.SetDefault("browser.height", DefaultScreenHeight)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.post_action_wait", "800ms")

	// -- Agent --
	v.SetDefault("agent.llm.provider", "gemini")
	v.SetDefault("agent.llm.model", "gemini-2.5-computer-use-preview-10-2025")
	v.SetDefault("agent.llm.api_timeout", "2m")
	v.SetDefault("agent.llm.temperature", 0.0)
	v.SetDefault("agent.llm.max_tokens", 8192)
	v.SetDefault("agent.llm.requests_per_minute", 0)
	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.auto_approve", false)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This cannot happen with the defaults above, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration instance from a
// viper object. The API key is resolved here so a missing credential is a
// startup error, not a mid-session surprise.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("agent.llm.api_key", EnvAPIKey, EnvAPIKeyAlt)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Agent.LLM.APIKey == "" {
		cfg.Agent.LLM.APIKey = ResolveAPIKey()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ResolveAPIKey returns the model credential from the environment, preferring
// GOOGLE_API_KEY over GENAI_API_KEY. Empty when neither is set.
func ResolveAPIKey() string {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key
	}
	return os.Getenv(EnvAPIKeyAlt)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser.width and browser.height must be positive")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be a positive integer")
	}
	if c.Agent.LLM.Model == "" {
		return fmt.Errorf("agent.llm.model is required")
	}
	if c.Agent.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("agent.llm.requests_per_minute must not be negative")
	}
	return nil
}
