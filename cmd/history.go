package cmd

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"usagegen/internal/cli"
	"usagegen/internal/storage"
	"usagegen/internal/tui/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List saved runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		if len(args) == 1 {
			rec, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(rec)
			}
			cli.PrintHistory(os.Stdout, []storage.Record{*rec})
			cli.PrintSummary(os.Stdout, rec.Summary)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := store.List(limit)
		if err != nil {
			return err
		}
		if browse, _ := cmd.Flags().GetBool("browse"); browse {
			return history.Run(recs)
		}
		if asJSON {
			return writeJSON(recs)
		}
		cli.PrintHistory(os.Stdout, recs)
		return nil
	},
}

func init() {
	f := historyCmd.Flags()
	f.Int("limit", 20, "number of runs to list, 0 for all")
	f.Bool("browse", false, "open the interactive table")
	f.Bool("json", false, "print JSON")
	rootCmd.AddCommand(historyCmd)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
