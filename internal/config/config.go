// Package config loads agent configuration with viper and sets up the
// global zap logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/registry"
)

// Config holds the full application configuration.
type Config struct {
	Agent      AgentConfig               `yaml:"agent" mapstructure:"agent"`
	Providers  []registry.ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Experience ExperienceConfig          `yaml:"experience" mapstructure:"experience"`
	Circuit    CircuitConfig             `yaml:"circuit" mapstructure:"circuit"`
	Pricing    []ModelPricing            `yaml:"pricing" mapstructure:"pricing"`
	Batch      BatchConfig               `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	ActiveProvider  string `yaml:"active_provider" mapstructure:"active_provider"`
	FallbackEnabled bool   `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	DemoMode        bool   `yaml:"demo_mode" mapstructure:"demo_mode"`
	CallTimeoutSecs int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	// ProvidersFile, when set, replaces active_provider, fallback_enabled
	// and providers with the contents of a registry YAML file.
	ProvidersFile string `yaml:"providers_file" mapstructure:"providers_file"`
}

// ExperienceConfig selects the experience store backend.
type ExperienceConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ModelPricing is one pricing entry. Pricing is a list rather than a map
// because model ids contain dots, which viper treats as key separators.
type ModelPricing struct {
	Model  string  `yaml:"model" mapstructure:"model"`
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	// Empty means the lowest-priority enabled provider is active.
	v.SetDefault("agent.active_provider", "")
	v.SetDefault("agent.fallback_enabled", true)
	v.SetDefault("agent.demo_mode", false)
	v.SetDefault("agent.call_timeout_secs", 30)
	v.SetDefault("agent.providers_file", "")
	v.SetDefault("providers", defaultProviders())
	v.SetDefault("experience.driver", "json")
	v.SetDefault("experience.path", "logs/agent_experience.json")
	v.SetDefault("experience.database_url", "")
	v.SetDefault("circuit.enabled", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func defaultProviders() []map[string]any {
	return []map[string]any{
		{
			"id":             "gemini",
			"display_name":   "Google Gemini",
			"credential_ref": "GEMINI_API_KEY",
			"model":          "gemini-1.5-flash",
			"enabled":        true,
			"priority":       1,
		},
		{
			"id":             "openai",
			"display_name":   "OpenAI GPT",
			"credential_ref": "OPENAI_API_KEY",
			"model":          "gpt-4",
			"enabled":        false,
			"priority":       2,
		},
		{
			"id":             "anthropic",
			"display_name":   "Anthropic Claude",
			"credential_ref": "ANTHROPIC_API_KEY",
			"model":          "claude-sonnet-4-5-20250929",
			"enabled":        false,
			"priority":       3,
		},
	}
}

// Registry returns the provider registry configuration, read from
// agent.providers_file when set.
func (c *Config) Registry() (registry.Config, error) {
	if c.Agent.ProvidersFile != "" {
		return registry.LoadFile(c.Agent.ProvidersFile)
	}
	return registry.Config{
		ActiveProviderID: c.Agent.ActiveProvider,
		FallbackEnabled:  c.Agent.FallbackEnabled,
		Providers:        c.Providers,
	}, nil
}

// Rates converts the pricing list for the cost calculator.
func (c *Config) Rates() cost.Rates {
	rates := make(cost.Rates, len(c.Pricing))
	for _, p := range c.Pricing {
		if p.Model == "" {
			continue
		}
		rates[p.Model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}

// Validate checks the settings a command needs. mode is one of "analyze",
// "batch" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
			errs = append(errs, "batch.concurrency must be between 1 and 50")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Agent.CallTimeoutSecs < 0 {
		errs = append(errs, "agent.call_timeout_secs must be >= 0")
	}
	switch c.Experience.Driver {
	case "json", "sqlite":
		if c.Experience.Path == "" {
			errs = append(errs, "experience.path is required")
		}
	case "postgres":
		if c.Experience.DatabaseURL == "" {
			errs = append(errs, "experience.database_url is required")
		}
	default:
		errs = append(errs, "experience.driver must be json, sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
