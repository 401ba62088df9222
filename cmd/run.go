package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"usagegen/internal/auth"
	"usagegen/internal/catalog"
	"usagegen/internal/cli"
	"usagegen/internal/config"
	"usagegen/internal/logging"
	"usagegen/internal/metrics"
	"usagegen/internal/report"
	"usagegen/internal/rest"
	"usagegen/internal/runner"
	"usagegen/internal/stats"
	"usagegen/internal/storage"
	"usagegen/internal/tui/live"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enabled tests until their quotas are spent or the run is interrupted",
	Example: `  usagegen run --tests geocode,suggest --iterations 20
  usagegen run --tests tiles --tile-services vector,image --lod-end 6 --max-inflight 32
  usagegen run --base-url http://localhost:8080 --tests geocode --tui`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSlice("tests", nil, "tests to enable, replacing the configured switches: "+fmt.Sprint(config.TestNames))
	f.String("stage", config.StageProd, "service stage: dev or prod")
	f.Bool("enhanced", false, "use the enhanced service hosts")
	f.String("base-url", "", "send every request to this origin instead of the platform hosts")
	f.Int("iterations", 10, "requests per bounded test, -1 for unbounded")
	f.Duration("request-delay", 250*time.Millisecond, "pause after each request of a bounded test")
	f.Duration("timeout", 30*time.Second, "per-request timeout")
	f.StringSlice("tile-services", []string{config.TileVector}, "tile services to sweep: vector, OSM, image, hillshade")
	f.Int("lod-start", 1, "first level of detail of tile sweeps")
	f.Int("lod-end", 4, "last level of detail of tile sweeps")
	f.Duration("tile-delay", 50*time.Millisecond, "pause between tile dispatches")
	f.Int("max-inflight", 0, "cap on concurrent tile requests per service, 0 for none")
	f.Bool("oceans", false, "sweep the ocean basemap instead of world imagery")
	f.String("feature-service-url", "", "feature layer queried by feature_query and analysed by analysis")
	f.String("analysis-service-url", "", "spatial analysis GPServer URL")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.Bool("no-history", false, "do not save the run summary")
	f.Bool("tui", false, "show the live dashboard")
	f.String("out", "", "write <prefix>.csv, <prefix>_summary.json and <prefix>_timeline.json")
	f.Bool("quiet", false, "print only the one-line summary")

	mustBind(f, map[string]string{
		"stage":                    "stage",
		"enhanced":                 "enhanced",
		"base_url":                 "base-url",
		"iterations":               "iterations",
		"request_delay":            "request-delay",
		"timeout":                  "timeout",
		"tiles.services":           "tile-services",
		"tiles.start_lod":          "lod-start",
		"tiles.end_lod":            "lod-end",
		"tiles.request_delay":      "tile-delay",
		"tiles.max_inflight":       "max-inflight",
		"tiles.use_oceans_imagery": "oceans",
		"feature_service_url":      "feature-service-url",
		"analysis_service_url":     "analysis-service-url",
		"metrics_addr":             "metrics-addr",
		"history.disabled":         "no-history",
	})
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tests") {
		names, _ := cmd.Flags().GetStringSlice("tests")
		cfg.Tests = config.TestSwitches{}
		for _, name := range names {
			if err := cfg.Tests.Set(name, true); err != nil {
				return err
			}
		}
	}

	specs, err := catalog.Build(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	useTUI, _ := cmd.Flags().GetBool("tui")
	quiet, _ := cmd.Flags().GetBool("quiet")
	outPrefix, _ := cmd.Flags().GetString("out")

	if useTUI {
		closeLog, err := logToFile(cfg)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logging.Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server")
			}
		}()
	}

	var (
		csvRec   *report.CSVRecorder
		timeline *report.Timeline
	)
	if outPrefix != "" {
		csvRec, err = report.NewCSVRecorder(outPrefix + ".csv")
		if err != nil {
			return err
		}
		timeline = report.NewTimeline()
	}

	restClient := rest.NewClient(cfg.Timeout)
	provider := auth.NewProvider(auth.Config{
		APIKey:       cfg.Credentials.APIKey,
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		Username:     cfg.Credentials.Username,
		Password:     cfg.Credentials.Password,
	}, auth.NewPortalSignIn(cfg.PortalURL, restClient))

	coord := runner.NewCoordinator(runner.CoordinatorConfig{
		Resolver: provider,
		Invoker: runner.NewHTTPInvoker(runner.InvokerConfig{
			Timeout:         cfg.Timeout,
			JobPollInterval: cfg.JobPollInterval,
		}),
		OnResult: func(res runner.Result) {
			if csvRec != nil {
				csvRec.Record(res)
				timeline.Record(res)
			}
		},
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	state, err := coord.Start(runCtx, specs)
	if err != nil {
		if csvRec != nil {
			_ = csvRec.Close()
		}
		return err
	}

	planned := coord.Planned()
	switch {
	case useTUI:
		if err := live.Run(ctx, live.NewModel(state, planned, coord.Tests(), coord.Done(), cancelRun)); err != nil {
			logging.Err(err).Msg("dashboard")
		}
	case quiet:
	default:
		cli.PrintHeader(os.Stderr, cli.RunInfo{
			Stage:    cfg.Stage,
			Enhanced: cfg.Enhanced,
			BaseURL:  cfg.BaseURL,
			Tests:    coord.Tests(),
			Planned:  planned,
		})
		cli.Monitor(runCtx, os.Stderr, state, planned, coord.Done())
	}

	select {
	case <-coord.Done():
	case <-runCtx.Done():
	}
	sum := coord.Terminate()

	fmt.Fprintln(os.Stdout, sum.Line())
	if !quiet {
		cli.PrintSummary(os.Stderr, sum)
	}

	if csvRec != nil {
		if err := csvRec.Close(); err != nil {
			logging.Err(err).Msg("write results csv")
		}
		if err := timeline.Write(outPrefix + "_timeline.json"); err != nil {
			logging.Err(err).Msg("write timeline")
		}
		if err := report.WriteSummary(outPrefix+"_summary.json", sum); err != nil {
			logging.Err(err).Msg("write summary")
		}
	}

	if !cfg.History.Disabled {
		saveHistory(cfg, coord.Tests(), sum)
	}
	return nil
}

func saveHistory(cfg *config.Config, tests []string, sum stats.Summary) {
	store, err := storage.Open(cfg.History.Path)
	if err != nil {
		logging.Err(err).Msg("open history")
		return
	}
	defer store.Close()

	id, err := store.Save(storage.NewRecord(cfg.Stage, tests, sum, time.Now()))
	if err != nil {
		logging.Err(err).Msg("save history")
		return
	}
	logging.Debug().Str("id", id).Str("path", store.Path()).Msg("run saved")
}

// logToFile moves logging off the terminal while the dashboard owns it.
func logToFile(cfg *config.Config) (func(), error) {
	path := filepath.Join(filepath.Dir(cfg.History.Path), "usagegen.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "json", Output: f})
	return func() {
		logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
		_ = f.Close()
	}, nil
}
