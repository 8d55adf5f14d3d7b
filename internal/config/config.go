package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/promptforge/internal/llm"
)

const envPrefix = "PROMPTFORGE"

type Config struct {
	AppName   string         `mapstructure:"app_name"`
	APIPrefix string         `mapstructure:"api_prefix"`
	Log       LogConfig      `mapstructure:"log"`
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	LLM       llm.Config     `mapstructure:"llm"`
	Refine    RefineConfig   `mapstructure:"refine"`
	Batch     BatchConfig    `mapstructure:"batch"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Host         string  `mapstructure:"host"`
	Port         int     `mapstructure:"port"`
	MaxBodyBytes int64   `mapstructure:"max_body_bytes"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RefineConfig struct {
	CreatorModel string `mapstructure:"creator_model"`
	CriticModel  string `mapstructure:"critic_model"`
	// Iterations is the bound used by auto mode.
	Iterations int `mapstructure:"iterations"`
	// MaxIterations caps what callers may request.
	MaxIterations int           `mapstructure:"max_iterations"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load builds the configuration in priority order:
// defaults -> config file -> .env file -> environment (highest).
// An explicit path must exist; otherwise ./promptforge.yaml and then
// $HOME/.config/promptforge/config.yaml are tried.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, legacy := range legacyEnvOverrides() {
		if err := v.BindEnv(key, envName(key), legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	file, err := configFilePath(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if err := applyDotEnv(v, ".env"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file
	cfg.LLM.Title = cfg.AppName

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "PromptForge")
	v.SetDefault("api_prefix", "/api/v1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.max_body_bytes", 65536)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("database.url", "./data/promptforge.db")

	v.SetDefault("llm.provider", llm.ProviderOpenRouter)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("refine.creator_model", "openai/gpt-4o-mini")
	v.SetDefault("refine.critic_model", "openai/gpt-4o-mini")
	v.SetDefault("refine.iterations", 3)
	v.SetDefault("refine.max_iterations", 20)
	v.SetDefault("refine.run_timeout", "0s")

	v.SetDefault("batch.workers", 4)
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if !llm.IsKnownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(llm.Providers, ", ")))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must not be negative"))
	}
	if c.Refine.MaxIterations < 1 {
		errs = append(errs, errors.New("refine.max_iterations must be at least 1"))
	}
	if c.Refine.Iterations < 0 || c.Refine.Iterations > c.Refine.MaxIterations {
		errs = append(errs, fmt.Errorf("refine.iterations must be between 0 and %d", c.Refine.MaxIterations))
	}
	if c.Refine.RunTimeout < 0 {
		errs = append(errs, errors.New("refine.run_timeout must not be negative"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.workers must be at least 1"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func configFilePath(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	candidates := []string{"promptforge.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "promptforge", "config.yaml"))
	}

	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// applyDotEnv copies values from a dotenv file into v for every key that the
// real environment does not already set.
func applyDotEnv(v *viper.Viper, path string) error {
	if !fileExists(path) {
		return nil
	}

	dot := viper.New()
	dot.SetConfigType("env")
	dot.SetConfigFile(path)
	if err := dot.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	legacy := legacyEnvOverrides()
	for _, key := range v.AllKeys() {
		names := []string{envName(key)}
		if name, ok := legacy[key]; ok {
			names = append(names, name)
		}

		if envSet(names) {
			continue
		}
		for _, name := range names {
			if dot.IsSet(strings.ToLower(name)) {
				v.Set(key, dot.GetString(strings.ToLower(name)))
				break
			}
		}
	}
	return nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func envSet(names []string) bool {
	for _, name := range names {
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}

// legacyEnvOverrides maps config keys to the bare variable names used by
// earlier deployments.
func legacyEnvOverrides() map[string]string {
	return map[string]string{
		"llm.api_key":  "OPENROUTER_API_KEY",
		"database.url": "DATABASE_URL",
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
