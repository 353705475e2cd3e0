package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigDirPerm is the permission for the config directory (0700 = rwx------)
	// Restrictive permissions protect the directory from being accessed by other users
	ConfigDirPerm os.FileMode = 0700
	// ConfigFilePerm is the permission for the config file (0600 = rw-------)
	// The file can hold the JWT secret and database DSN
	ConfigFilePerm os.FileMode = 0600

	dirName = ".vault"
)

type Config struct {
	// Server
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	JWTAudience    string   `mapstructure:"jwt_audience"`

	// Storage
	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	// Upstream AI providers
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxTokens             int    `mapstructure:"max_tokens"`
	ChatContextLimit      int    `mapstructure:"chat_context_limit"`
	DuplicateScanLimit    int    `mapstructure:"duplicate_scan_limit"`
	OpenAIModel           string `mapstructure:"openai_model"`
	OpenAIBaseURL         string `mapstructure:"openai_base_url"`
	GeminiModel           string `mapstructure:"gemini_model"`
	GeminiBaseURL         string `mapstructure:"gemini_base_url"`
	AnthropicModel        string `mapstructure:"anthropic_model"`
	AnthropicBaseURL      string `mapstructure:"anthropic_base_url"`

	CacheEnabled bool   `mapstructure:"cache_enabled"`
	CacheTTLDays int    `mapstructure:"cache_ttl_days"`
	CacheDir     string `mapstructure:"cache_dir"`

	RateLimitEnabled  bool `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int  `mapstructure:"rate_limit_requests"`
	RateLimitWindow   int  `mapstructure:"rate_limit_window_seconds"`

	// Client
	ServerURL            string `mapstructure:"server_url"`
	ClientTimeoutSeconds int    `mapstructure:"client_timeout_seconds"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Dir returns ~/.vault, where the config file, the default sqlite database
// and the response cache live.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func setDefaults(dir string) {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("jwt_audience", "authenticated")

	viper.SetDefault("db_driver", "sqlite")
	viper.SetDefault("db_dsn", filepath.Join(dir, "vault.db"))

	viper.SetDefault("request_timeout_seconds", 60)
	viper.SetDefault("max_tokens", 1024)
	viper.SetDefault("chat_context_limit", 50)
	viper.SetDefault("duplicate_scan_limit", 200)
	viper.SetDefault("openai_model", "gpt-4o-mini")
	viper.SetDefault("openai_base_url", "https://api.openai.com/v1")
	viper.SetDefault("gemini_model", "gemini-2.0-flash")
	viper.SetDefault("gemini_base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	viper.SetDefault("anthropic_model", "claude-3-5-haiku-latest")
	viper.SetDefault("anthropic_base_url", "https://api.anthropic.com/")

	viper.SetDefault("cache_enabled", true)
	viper.SetDefault("cache_ttl_days", 7)
	viper.SetDefault("cache_dir", filepath.Join(dir, "cache"))

	viper.SetDefault("rate_limit_enabled", true)
	viper.SetDefault("rate_limit_requests", 60)       // 60 requests
	viper.SetDefault("rate_limit_window_seconds", 60) // per minute

	viper.SetDefault("server_url", "http://localhost:8080")
	viper.SetDefault("client_timeout_seconds", 120)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
}

func setup(dir string) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)

	// VAULT_JWT_SECRET, VAULT_DB_DSN, ... override the file.
	viper.SetEnvPrefix("VAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	setup(dir)
	setDefaults(dir)

	// Try to read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create directory
			if err := os.MkdirAll(dir, ConfigDirPerm); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
			// Return config with defaults
			config := &Config{}
			if err := viper.Unmarshal(config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, ConfigDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set values
	viper.Set("listen_addr", cfg.ListenAddr)
	viper.Set("allowed_origins", cfg.AllowedOrigins)
	viper.Set("jwt_secret", cfg.JWTSecret)
	viper.Set("jwt_audience", cfg.JWTAudience)
	viper.Set("db_driver", cfg.DBDriver)
	viper.Set("db_dsn", cfg.DBDSN)
	viper.Set("request_timeout_seconds", cfg.RequestTimeoutSeconds)
	viper.Set("max_tokens", cfg.MaxTokens)
	viper.Set("chat_context_limit", cfg.ChatContextLimit)
	viper.Set("duplicate_scan_limit", cfg.DuplicateScanLimit)
	viper.Set("openai_model", cfg.OpenAIModel)
	viper.Set("openai_base_url", cfg.OpenAIBaseURL)
	viper.Set("gemini_model", cfg.GeminiModel)
	viper.Set("gemini_base_url", cfg.GeminiBaseURL)
	viper.Set("anthropic_model", cfg.AnthropicModel)
	viper.Set("anthropic_base_url", cfg.AnthropicBaseURL)
	viper.Set("cache_enabled", cfg.CacheEnabled)
	viper.Set("cache_ttl_days", cfg.CacheTTLDays)
	viper.Set("cache_dir", cfg.CacheDir)
	viper.Set("rate_limit_enabled", cfg.RateLimitEnabled)
	viper.Set("rate_limit_requests", cfg.RateLimitRequests)
	viper.Set("rate_limit_window_seconds", cfg.RateLimitWindow)
	viper.Set("server_url", cfg.ServerURL)
	viper.Set("client_timeout_seconds", cfg.ClientTimeoutSeconds)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	configFile := filepath.Join(dir, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Set restrictive permissions on the config file to protect the JWT secret
	if err := os.Chmod(configFile, ConfigFilePerm); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	return nil
}

func Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("config key cannot be empty")
	}

	// Sanitize key to prevent injection
	key = strings.TrimSpace(key)
	if strings.ContainsAny(key, " \t\n\r") {
		return fmt.Errorf("config key contains invalid characters")
	}

	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, ConfigDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)

	// Try to read existing config (ignore error if file doesn't exist)
	_ = viper.ReadInConfig()

	viper.Set(key, value)

	configFile := filepath.Join(dir, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		// If file doesn't exist, try SafeWriteConfigAs
		if err := viper.SafeWriteConfigAs(configFile); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	if err := os.Chmod(configFile, ConfigFilePerm); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	return nil
}

func Get(key string) interface{} {
	if key == "" {
		return nil
	}

	dir, err := Dir()
	if err != nil {
		return nil
	}

	setup(dir)
	setDefaults(dir)
	_ = viper.ReadInConfig() // Ignore error if config doesn't exist
	return viper.Get(key)
}
