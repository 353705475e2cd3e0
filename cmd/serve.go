package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/auth"
	"github.com/maximbilan/vaultai/internal/cache"
	"github.com/maximbilan/vaultai/internal/config"
	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/ratelimit"
	"github.com/maximbilan/vaultai/internal/server"
	"github.com/maximbilan/vaultai/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the AI proxy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		authn, err := auth.New(cfg.JWTSecret, cfg.JWTAudience)
		if err != nil {
			return fmt.Errorf("%w. Run: vault config set jwt_secret YOUR_SECRET", err)
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		svc, err := newService(cfg, st)
		if err != nil {
			return err
		}

		var limiter *ratelimit.Registry
		if cfg.RateLimitEnabled {
			limiter = ratelimit.NewRegistry(cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindow)*time.Second)
		}

		srv := server.New(svc, authn, server.Options{
			Addr:           cfg.ListenAddr,
			AllowedOrigins: cfg.AllowedOrigins,
			Limiter:        limiter,
			Logger:         slog.Default(),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for a user",
	Long:  `Signs a session token with jwt_secret. Use it with "vault login" or as VAULT_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		authn, err := auth.New(cfg.JWTSecret, cfg.JWTAudience)
		if err != nil {
			return err
		}
		token, err := authn.Issue(user, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func openStore(cfg *config.Config) (*store.SQLStore, error) {
	dialect, err := store.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	if dialect == store.SQLite && cfg.DBDSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), config.ConfigDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func newFactory(cfg *config.Config) *provider.Factory {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return provider.NewFactory(map[provider.Kind]provider.Settings{
		provider.OpenAI:    {Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL},
		provider.Gemini:    {Model: cfg.GeminiModel, BaseURL: cfg.GeminiBaseURL},
		provider.Anthropic: {Model: cfg.AnthropicModel, BaseURL: cfg.AnthropicBaseURL},
	}, timeout)
}

func newService(cfg *config.Config, st store.Store) (*ai.Service, error) {
	opts := []ai.Option{ai.WithLogger(slog.Default())}
	if cfg.CacheEnabled {
		c, err := cache.New(cfg.CacheDir, cfg.CacheTTLDays)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		opts = append(opts, ai.WithCache(c))
	}

	return ai.NewService(st, newFactory(cfg), ai.Limits{
		MaxTokens:          cfg.MaxTokens,
		ChatContextLimit:   cfg.ChatContextLimit,
		DuplicateScanLimit: cfg.DuplicateScanLimit,
	}, opts...), nil
}

func requireUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return "", errors.New("--user is required")
	}
	return user, nil
}

func init() {
	tokenCmd.Flags().String("user", "", "user id to issue the token for")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}
