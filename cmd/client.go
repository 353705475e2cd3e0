package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/client"
	"github.com/maximbilan/vaultai/internal/clipboard"
	"github.com/maximbilan/vaultai/internal/config"
	"github.com/maximbilan/vaultai/internal/credential"
	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/ratelimit"
	"github.com/maximbilan/vaultai/internal/ui"
	"github.com/maximbilan/vaultai/internal/validation"
)

// envToken is used when no keyring backend is available.
type envToken struct{}

func (envToken) Token() (string, error) {
	if token := strings.TrimSpace(os.Getenv(credential.EnvToken)); token != "" {
		return token, nil
	}
	return "", credential.ErrNoToken
}

func newClient(cfg *config.Config) *client.Client {
	var tokens client.TokenSource = envToken{}
	if ts, err := credential.Open(); err == nil {
		tokens = ts
	} else {
		slog.Debug("keyring unavailable, using environment only", "error", err)
	}

	opts := []client.Option{
		client.WithLogger(slog.Default()),
		client.WithResponseTimeout(time.Duration(cfg.ClientTimeoutSeconds) * time.Second),
	}
	if cfg.RateLimitEnabled {
		opts = append(opts, client.WithRateLimiter(
			ratelimit.New(cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindow)*time.Second, 100*time.Millisecond)))
	}
	return client.New(cfg.ServerURL, tokens, opts...)
}

// actionContent encodes user input for /ai-proxy. Valid JSON objects pass
// through so categorize can take {"title", "body"}.
func actionContent(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	data, _ := json.Marshal(text)
	return data
}

var askCmd = &cobra.Command{
	Use:   "ask [action] [content]",
	Short: "Run an AI action",
	Long: `Runs one AI action and prints the reply.

Actions: summarize, categorize, generate-title, generate-password, draft-email,
draft-message, analyze-password, smart-search, detect-duplicates, chat.
Use "-" as the action to send the content as a plain message.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		providerName, _ := cmd.Flags().GetString("provider")
		systemPrompt, _ := cmd.Flags().GetString("system")
		paste, _ := cmd.Flags().GetBool("paste")
		copyReply, _ := cmd.Flags().GetBool("copy")

		action := args[0]
		if action == "-" {
			action = ""
		}

		var text string
		if len(args) == 2 {
			text = args[1]
		}
		if paste {
			pasted, err := clipboard.Paste()
			if err != nil {
				return fmt.Errorf("failed to read clipboard: %w", err)
			}
			text = pasted
		}

		req := ai.ActionRequest{
			Action:       action,
			Provider:     providerName,
			SystemPrompt: systemPrompt,
		}
		if text != "" {
			if err := validation.ValidateTextInput(text); err != nil {
				return err
			}
			req.Content = actionContent(text)
			if action == "" || action == "chat" {
				req.Messages = []provider.Message{{Role: provider.RoleUser, Content: text}}
			}
		}

		res, err := newClient(cfg).CallAI(cmd.Context(), req)
		if err != nil {
			return describeClientError(err)
		}

		fmt.Println(res.Content)
		if copyReply {
			if err := clipboard.Copy(res.Content); err != nil {
				return fmt.Errorf("failed to copy: %w", err)
			}
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the vault assistant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ui.Run(newClient(cfg))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether AI is configured for your account",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if newClient(cfg).CheckAIConfigured(cmd.Context()) {
			fmt.Println("✓ AI is configured")
			return
		}
		fmt.Println("✗ AI is not configured. Add a key in Settings > AI Settings or with: vault keys add")
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find duplicate items in your vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := newClient(cfg).DetectDuplicates(cmd.Context())
		if err != nil {
			return describeClientError(err)
		}
		if len(report.Groups) == 0 {
			fmt.Printf("No duplicates found among %d items\n", report.Scanned)
			return nil
		}
		for i, g := range report.Groups {
			fmt.Printf("Group %d", i+1)
			if g.Reason != "" {
				fmt.Printf(": %s", g.Reason)
			}
			fmt.Println()
			for _, item := range g.Items {
				fmt.Printf("  [%s] %s (%s)\n", item.Type, item.Title, item.ID)
			}
		}
		if report.Summary != "" {
			fmt.Println(report.Summary)
		}
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store a session token in the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := credential.Open()
		if err != nil {
			return err
		}
		if err := ts.SetToken(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Logged in")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := credential.Open()
		if err != nil {
			return err
		}
		if err := ts.Clear(); err != nil {
			return err
		}
		fmt.Println("✓ Logged out")
		return nil
	},
}

func describeClientError(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotAuthenticated):
		return errors.New("not authenticated. Run: vault login <token>")
	case errors.As(err, &apiErr) && apiErr.NotConfigured():
		return errors.New(apiErr.Message)
	}
	return err
}

func init() {
	askCmd.Flags().String("provider", "", "provider to use (openai, gemini, anthropic)")
	askCmd.Flags().String("system", "", "system prompt for plain messages")
	askCmd.Flags().Bool("paste", false, "read content from the clipboard")
	askCmd.Flags().Bool("copy", false, "copy the reply to the clipboard")

	rootCmd.AddCommand(askCmd, chatCmd, statusCmd, duplicatesCmd, loginCmd, logoutCmd)
}
