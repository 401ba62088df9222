// Package cmd wires the usagegen command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"usagegen/internal/auth"
	"usagegen/internal/banner"
	"usagegen/internal/config"
	"usagegen/internal/logging"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
	ExitAuth   = 3
)

var (
	cfgFile string
	envFile string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "usagegen",
	Short: "usagegen - generate metered usage against location services",
	Long: `
usagegen drives paced, bounded batches of requests against basemap, geocoding,
places, routing, geoenrichment, feature and analysis services so the account
behind the credential accrues usage.

Configuration comes from usagegen.yaml, a .env file, USAGEGEN_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		_ = cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	var cfgErr *config.ConfigError
	var authErr *auth.AuthError
	switch {
	case errors.As(err, &authErr):
		return ExitAuth
	case errors.As(err, &cfgErr):
		return ExitConfig
	default:
		return ExitError
	}
}

func init() {
	config.Configure(v)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default usagegen.yaml in ., $HOME or $HOME/.usagegen)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with credentials")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	mustBind(pf, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	})
}

// mustBind binds viper keys to flags. Binding only fails for unknown flag
// names, which is a programming error.
func mustBind(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
		Output: os.Stderr,
	})
	if used := v.ConfigFileUsed(); used != "" {
		logging.Debug().Str("file", used).Msg("config loaded")
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(v)
}
