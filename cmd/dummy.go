package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"usagegen/internal/dummy"
	"usagegen/internal/logging"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Serve a fake platform for local runs",
	Example: `  usagegen dummy --port 8080 --token secret --failure-rate 0.05
  API_KEY=secret usagegen run --base-url http://localhost:8080 --tests geocode,tiles`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		cfg := dummy.ServerConfig{}
		cfg.Port, _ = f.GetInt("port")
		cfg.FailureRate, _ = f.GetFloat64("failure-rate")
		cfg.MaxLatency, _ = f.GetDuration("max-latency")
		cfg.Token, _ = f.GetString("token")
		cfg.Username, _ = f.GetString("username")
		cfg.Password, _ = f.GetString("password")
		cfg.JobPolls, _ = f.GetInt("job-polls")

		srv, addr, err := dummy.Start(cfg)
		if err != nil {
			return err
		}
		logging.Info().Str("addr", addr.String()).Bool("token_required", cfg.Token != "").Msg("dummy platform listening")
		fmt.Fprintf(os.Stderr, "base URL: http://%s\n", addr.String())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return dummy.Shutdown(srv, 5*time.Second)
	},
}

func init() {
	f := dummyCmd.Flags()
	f.IntP("port", "p", 8080, "port to listen on")
	f.Float64("failure-rate", 0, "share of service requests answered 500 or 429")
	f.Duration("max-latency", 50*time.Millisecond, "upper bound of the random delay per request")
	f.String("token", "", "token every service request must carry; empty accepts any")
	f.String("username", "", "username accepted by generateToken; empty accepts any")
	f.String("password", "", "password accepted by generateToken")
	f.Int("job-polls", 2, "status polls before an analysis job succeeds")
	rootCmd.AddCommand(dummyCmd)
}
