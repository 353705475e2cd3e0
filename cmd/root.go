package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maximbilan/vaultai/internal/config"
)

// cfg is loaded once before any command runs and passed down explicitly.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "vault",
	Short:         "AI proxy and streaming chat relay for your personal vault",
	Long:          `vault serves the AI endpoints of a personal vault and includes a terminal client for them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read .env: %w", err)
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))
		return nil
	},
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var setCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return err
		}
		value := args[1]
		if isSensitiveConfigKey(args[0]) {
			value = maskSecret(value)
		}
		fmt.Printf("Set %s = %s\n", args[0], value)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value := config.Get(args[0])
		if isSensitiveConfigKey(args[0]) {
			if s, ok := value.(string); ok {
				value = maskSecret(s)
			}
		}
		fmt.Printf("%s = %v\n", args[0], value)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", filepath.Join(dir, "config.yaml"))
		if cfg.JWTSecret == "" {
			fmt.Println("Set the token secret before serving with: vault config set jwt_secret YOUR_SECRET")
		}
		return nil
	},
}

// isSensitiveConfigKey reports whether key holds a secret that must be masked.
func isSensitiveConfigKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "jwt_secret", "db_dsn", "session_token":
		return true
	}
	return strings.HasSuffix(key, "_key") || strings.HasSuffix(key, "_secret")
}

// maskSecret keeps the first and last four characters of long values.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

func init() {
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(getCmd)
	configCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
