package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maximbilan/vaultai/internal/provider"
	"github.com/maximbilan/vaultai/internal/store"
	"github.com/maximbilan/vaultai/internal/validation"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage users' AI provider keys",
}

var keysAddCmd = &cobra.Command{
	Use:   "add [provider] [key]",
	Short: "Add or replace a provider key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		kind, err := provider.ParseKind(args[0])
		if err != nil {
			return err
		}
		if err := validation.ValidateAPIKey(kind, args[1]); err != nil {
			return err
		}
		inactive, _ := cmd.Flags().GetBool("inactive")

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		c := store.Credential{UserID: user, Provider: string(kind), APIKey: args[1], Active: !inactive}
		if err := st.UpsertCredential(cmd.Context(), &c); err != nil {
			return err
		}
		fmt.Printf("Saved %s key %s for %s\n", kind, maskSecret(c.APIKey), user)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's provider keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		creds, err := st.ListCredentials(cmd.Context(), user)
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Printf("No keys for %s. Add one with: vault keys add <provider> <key> --user %s\n", user, user)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tKEY\tACTIVE\tUPDATED")
		for _, c := range creds {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.Provider, maskSecret(c.APIKey), c.Active,
				time.Unix(c.UpdatedTs, 0).Format(time.DateTime))
		}
		return w.Flush()
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove [provider]",
	Short: "Remove a provider key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		kind, err := provider.ParseKind(args[0])
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteCredential(cmd.Context(), user, string(kind)); err != nil {
			return err
		}
		fmt.Printf("Removed %s key for %s\n", kind, user)
		return nil
	},
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage vault items used as chat context",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requireUser(cmd)
		if err != nil {
			return err
		}
		typ, _ := cmd.Flags().GetString("type")
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		if err := validation.ValidateInputLength(len(content)); err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		item := store.Item{UserID: user, Type: typ, Title: title, Content: content}
		if err := st.CreateItem(cmd.Context(), &item); err != nil {
			return err
		}
		fmt.Printf("Added %s item %s\n", item.Type, item.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{keysAddCmd, keysListCmd, keysRemoveCmd, itemsAddCmd} {
		c.Flags().String("user", "", "user id")
	}
	keysAddCmd.Flags().Bool("inactive", false, "store the key without activating it")

	itemsAddCmd.Flags().String("type", "note", "item type (link, email, message, password, contact, note)")
	itemsAddCmd.Flags().String("title", "", "item title")
	itemsAddCmd.Flags().String("content", "", "item content")
	_ = itemsAddCmd.MarkFlagRequired("title")

	keysCmd.AddCommand(keysAddCmd, keysListCmd, keysRemoveCmd)
	itemsCmd.AddCommand(itemsAddCmd)
	rootCmd.AddCommand(keysCmd, itemsCmd)
}
