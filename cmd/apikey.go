package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"usagegen/internal/portal"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys owned by the signed-in user",
}

func keyOptions(cmd *cobra.Command) portal.APIKeyOptions {
	f := cmd.Flags()
	var o portal.APIKeyOptions
	o.Title, _ = f.GetString("title")
	o.Description, _ = f.GetString("description")
	o.Snippet, _ = f.GetString("snippet")
	o.Tags, _ = f.GetStringSlice("tags")
	o.Privileges, _ = f.GetStringSlice("privilege")
	o.HTTPReferrers, _ = f.GetStringSlice("referrer")
	o.RedirectURIs, _ = f.GetStringSlice("redirect-uri")
	return o
}

func addKeyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("title", "", "item title")
	f.String("description", "", "item description")
	f.String("snippet", "", "item summary")
	f.StringSlice("tags", nil, "item tags")
	f.StringSlice("privilege", nil, "privilege name or scope, repeatable (see apikey privileges)")
	f.StringSlice("referrer", nil, "allowed HTTP referrer, repeatable")
	f.StringSlice("redirect-uri", nil, "allowed redirect URI, repeatable")
}

func printApp(app *portal.App) {
	fmt.Fprintf(os.Stdout, "item id    : %s\n", app.ItemID)
	fmt.Fprintf(os.Stdout, "client id  : %s\n", app.ClientID)
	if app.APIKey != "" {
		fmt.Fprintf(os.Stdout, "api key    : %s\n", app.APIKey)
	}
	fmt.Fprintf(os.Stdout, "privileges : %s\n", strings.Join(app.Privileges, ", "))
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key item and register it",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := keyOptions(cmd)
		if err := opts.Verify(); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		app, err := pc.CreateAPIKey(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printApp(app)
		return nil
	},
}

var apikeyUpdateCmd = &cobra.Command{
	Use:   "update <client-id>",
	Short: "Replace an API key's privileges, referrers and redirect URIs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := keyOptions(cmd)
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		app, err := pc.UpdateAPIKey(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		printApp(app)
		return nil
	},
}

var apikeyResetCmd = &cobra.Command{
	Use:   "reset <client-id> <item-id>",
	Short: "Invalidate an API key and issue a new one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		app, err := pc.ResetAPIKey(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		printApp(app)
		return nil
	},
}

var apikeyDeleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete an API key item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := pc.DeleteAPIKey(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "deleted %s\n", args[0])
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys and registered apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		items, err := pc.ListAuthenticationItems(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(items)
		}
		for _, it := range items {
			created := time.UnixMilli(it.Created).Format("2006-01-02")
			fmt.Fprintf(os.Stdout, "%-32s  %-10s  %-16s  %s\n", it.ID, created, it.Type, it.Title)
		}
		return nil
	},
}

var apikeyPrivilegesCmd = &cobra.Command{
	Use:   "privileges",
	Short: "List privilege names accepted by --privilege",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range portal.PrivilegeNames() {
			fmt.Fprintf(os.Stdout, "%-24s %s\n", name, portal.Privileges[name])
		}
	},
}

func init() {
	addKeyFlags(apikeyCreateCmd)
	addKeyFlags(apikeyUpdateCmd)
	apikeyListCmd.Flags().Bool("json", false, "print JSON")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyUpdateCmd, apikeyResetCmd, apikeyDeleteCmd, apikeyListCmd, apikeyPrivilegesCmd)
	rootCmd.AddCommand(apikeyCmd)
}
