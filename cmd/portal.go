package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"usagegen/internal/auth"
	"usagegen/internal/config"
	"usagegen/internal/portal"
	"usagegen/internal/rest"
)

// signedIn signs the configured user in to the portal. The portal tools
// always need a user session; an API key is not enough.
func signedIn(ctx context.Context, cfg *config.Config) (*portal.Client, error) {
	creds := cfg.Credentials
	if creds.Username == "" || creds.Password == "" {
		return nil, &auth.AuthError{
			Op:  "sign-in",
			Err: fmt.Errorf("%w: set ARCGIS_USER_NAME and ARCGIS_USER_PASSWORD", auth.ErrMissingCredentials),
		}
	}
	rc := rest.NewClient(cfg.Timeout)
	session, err := auth.NewPortalSignIn(cfg.PortalURL, rc).SignIn(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, &auth.AuthError{Op: "sign-in", Err: err}
	}
	return portal.NewClient(rc, session, cfg.PortalURL)
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print the organization's service usage report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := signedIn(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		days, _ := cmd.Flags().GetInt("days")
		q := portal.DefaultUsageQuery(time.Now(), days)
		q.SType, _ = cmd.Flags().GetString("stype")
		q.AppID, _ = cmd.Flags().GetString("app-id")

		report, err := pc.Usage(cmd.Context(), q)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(report)
		}

		sort.Slice(report.Data, func(i, j int) bool { return report.Data[i].Total() > report.Data[j].Total() })
		fmt.Fprintf(os.Stdout, "%-16s %-20s %-24s %10s\n", "STYPE", "TASK", "NAME", "REQUESTS")
		for _, s := range report.Data {
			fmt.Fprintf(os.Stdout, "%-16s %-20s %-24s %10d\n", s.SType, s.Task, s.Name, s.Total())
		}
		return nil
	},
}

func init() {
	f := usageCmd.Flags()
	f.Int("days", 7, "days of usage to report, ending today (UTC)")
	f.String("stype", "", "only this service type, e.g. basemaps or geocode")
	f.String("app-id", "", "only this API key's client id")
	f.Bool("json", false, "print JSON")
	rootCmd.AddCommand(usageCmd)
}
