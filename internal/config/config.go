// Package config loads the run configuration from defaults, a YAML file, a
// .env file, the environment and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StageDev  = "dev"
	StageProd = "prod"

	// MaxLOD is the deepest zoom level a tile sweep may request.
	MaxLOD = 25
	MinLOD = 1

	// Unbounded iterations run until cancelled.
	Unbounded = -1
)

// Tile services accepted in tiles.services.
const (
	TileVector    = "vector"
	TileOSM       = "OSM"
	TileImage     = "image"
	TileHillshade = "hillshade"
)

// Config is the typed form of everything a run reads at startup.
type Config struct {
	Credentials Credentials  `mapstructure:"credentials"`
	Stage       string       `mapstructure:"stage" validate:"oneof=dev prod"`
	Enhanced    bool         `mapstructure:"enhanced"`
	BaseURL     string       `mapstructure:"base_url" validate:"omitempty,url"`
	Tests       TestSwitches `mapstructure:"tests"`

	Iterations   int           `mapstructure:"iterations" validate:"min=-1"`
	RequestDelay time.Duration `mapstructure:"request_delay" validate:"min=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"min=0"`

	GeocodeForStorage bool   `mapstructure:"geocode_for_storage"`
	Tiles             Tiles  `mapstructure:"tiles"`
	FeatureServiceURL string `mapstructure:"feature_service_url" validate:"omitempty,url"`

	AnalysisServiceURL string        `mapstructure:"analysis_service_url" validate:"omitempty,url"`
	AnalysisLayerURL   string        `mapstructure:"analysis_layer_url" validate:"omitempty,url"`
	JobPollInterval    time.Duration `mapstructure:"job_poll_interval" validate:"min=0"`

	PortalURL   string       `mapstructure:"portal_url" validate:"required,url"`
	CustomTests []CustomTest `mapstructure:"custom_tests" validate:"dive"`

	Log         Log     `mapstructure:"log"`
	MetricsAddr string  `mapstructure:"metrics_addr"`
	History     History `mapstructure:"history"`
}

// Credentials are read once; they are never written back anywhere.
type Credentials struct {
	APIKey       string `mapstructure:"api_key"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// TestSwitches enables individual usage generators.
type TestSwitches struct {
	Analysis            bool `mapstructure:"analysis"`
	FeatureEdit         bool `mapstructure:"feature_edit"`
	FeatureQuery        bool `mapstructure:"feature_query"`
	Geocode             bool `mapstructure:"geocode"`
	Suggest             bool `mapstructure:"suggest"`
	GeocodeClientTest   bool `mapstructure:"geocode_client_test"`
	Geoenrichment       bool `mapstructure:"geoenrichment"`
	GeoenrichmentReport bool `mapstructure:"geoenrichment_report"`
	Places              bool `mapstructure:"places"`
	Routing             bool `mapstructure:"routing"`
	RoutingJob          bool `mapstructure:"routing_job"`
	Tiles               bool `mapstructure:"tiles"`
	NonExistingTiles    bool `mapstructure:"non_existing_tiles"`
}

// TestNames lists every switch key in the order tests are started.
var TestNames = []string{
	"tiles",
	"non_existing_tiles",
	"geocode",
	"suggest",
	"geocode_client_test",
	"places",
	"geoenrichment",
	"geoenrichment_report",
	"routing",
	"routing_job",
	"feature_query",
	"feature_edit",
	"analysis",
}

func (t TestSwitches) byName() map[string]bool {
	return map[string]bool{
		"tiles":                t.Tiles,
		"non_existing_tiles":   t.NonExistingTiles,
		"geocode":              t.Geocode,
		"suggest":              t.Suggest,
		"geocode_client_test":  t.GeocodeClientTest,
		"places":               t.Places,
		"geoenrichment":        t.Geoenrichment,
		"geoenrichment_report": t.GeoenrichmentReport,
		"routing":              t.Routing,
		"routing_job":          t.RoutingJob,
		"feature_query":        t.FeatureQuery,
		"feature_edit":         t.FeatureEdit,
		"analysis":             t.Analysis,
	}
}

// Enabled returns the names of enabled switches in TestNames order.
func (t TestSwitches) Enabled() []string {
	on := t.byName()
	var names []string
	for _, name := range TestNames {
		if on[name] {
			names = append(names, name)
		}
	}
	return names
}

// Set enables or disables a switch by name.
func (t *TestSwitches) Set(name string, enabled bool) error {
	switch name {
	case "tiles":
		t.Tiles = enabled
	case "non_existing_tiles":
		t.NonExistingTiles = enabled
	case "geocode":
		t.Geocode = enabled
	case "suggest":
		t.Suggest = enabled
	case "geocode_client_test":
		t.GeocodeClientTest = enabled
	case "places":
		t.Places = enabled
	case "geoenrichment":
		t.Geoenrichment = enabled
	case "geoenrichment_report":
		t.GeoenrichmentReport = enabled
	case "routing":
		t.Routing = enabled
	case "routing_job":
		t.RoutingJob = enabled
	case "feature_query":
		t.FeatureQuery = enabled
	case "feature_edit":
		t.FeatureEdit = enabled
	case "analysis":
		t.Analysis = enabled
	default:
		return &ConfigError{Field: "tests", Err: fmt.Errorf("unknown test %q", name)}
	}
	return nil
}

// Tiles configures the tile sweeps.
type Tiles struct {
	Services         []string      `mapstructure:"services" validate:"dive,oneof=vector image hillshade OSM"`
	StartLOD         int           `mapstructure:"start_lod"`
	EndLOD           int           `mapstructure:"end_lod"`
	UseOceansImagery bool          `mapstructure:"use_oceans_imagery"`
	RequestDelay     time.Duration `mapstructure:"request_delay" validate:"min=0"`
	MaxInflight      int           `mapstructure:"max_inflight" validate:"min=0"`
}

// CustomTest is a user-defined request against an arbitrary endpoint. URL
// and parameter values may use {{.Index}}, {{.RequestID}} and the template
// functions randomInt, randomChoice, randomLine and uuid.
type CustomTest struct {
	Name     string            `mapstructure:"name" validate:"required"`
	Method   string            `mapstructure:"method" validate:"omitempty,oneof=GET POST"`
	URL      string            `mapstructure:"url" validate:"required"`
	Params   map[string]string `mapstructure:"params"`
	Response string            `mapstructure:"response" validate:"omitempty,oneof=json binary"`
	Interval time.Duration     `mapstructure:"interval" validate:"min=0"`
	Quota    int               `mapstructure:"quota" validate:"min=-1"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

type History struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

// ConfigError reports a malformed configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DefaultHistoryPath is $HOME/.usagegen/history.db, or a relative path when
// the home directory is unknown.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".usagegen", "history.db")
	}
	return filepath.Join(home, ".usagegen", "history.db")
}

// Configure registers defaults and environment bindings on v.
func Configure(v *viper.Viper) {
	v.SetDefault("stage", StageProd)
	v.SetDefault("enhanced", false)
	v.SetDefault("base_url", "")
	for _, name := range TestNames {
		v.SetDefault("tests."+name, false)
	}
	v.SetDefault("iterations", 10)
	v.SetDefault("request_delay", 250*time.Millisecond)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("geocode_for_storage", false)
	v.SetDefault("tiles.services", []string{TileVector})
	v.SetDefault("tiles.start_lod", 1)
	v.SetDefault("tiles.end_lod", 4)
	v.SetDefault("tiles.use_oceans_imagery", false)
	v.SetDefault("tiles.request_delay", 50*time.Millisecond)
	v.SetDefault("tiles.max_inflight", 0)
	v.SetDefault("feature_service_url", "")
	v.SetDefault("analysis_service_url", "")
	v.SetDefault("analysis_layer_url", "")
	v.SetDefault("job_poll_interval", 2*time.Second)
	v.SetDefault("portal_url", "https://www.arcgis.com/sharing/rest")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.disabled", false)

	v.SetEnvPrefix("USAGEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials use the platform's conventional unprefixed names.
	_ = v.BindEnv("credentials.api_key", "USAGEGEN_CREDENTIALS_API_KEY", "API_KEY")
	_ = v.BindEnv("credentials.client_id", "USAGEGEN_CREDENTIALS_CLIENT_ID", "CLIENT_ID")
	_ = v.BindEnv("credentials.client_secret", "USAGEGEN_CREDENTIALS_CLIENT_SECRET", "CLIENT_SECRET")
	_ = v.BindEnv("credentials.username", "USAGEGEN_CREDENTIALS_USERNAME", "ARCGIS_USER_NAME")
	_ = v.BindEnv("credentials.password", "USAGEGEN_CREDENTIALS_PASSWORD", "ARCGIS_USER_PASSWORD")
}

// ReadFile merges the YAML file at path into v. A missing default file is
// not an error; an explicit path that cannot be read is.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("usagegen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".usagegen"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return &ConfigError{Field: "config", Err: err}
	}
	return nil
}

// LoadDotEnv exports the KEY=VALUE pairs of a .env file into the process
// environment. Variables that are already set keep their value. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return &ConfigError{Field: "env-file", Err: err}
	}

	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return &ConfigError{Field: "env-file", Err: err}
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load unmarshals v into a Config, clamps the LOD range and validates the
// result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}

	cfg.Tiles.StartLOD, cfg.Tiles.EndLOD = ClampLOD(cfg.Tiles.StartLOD, cfg.Tiles.EndLOD)
	if cfg.Iterations < Unbounded {
		cfg.Iterations = Unbounded
	}

	if err := validate.Struct(&cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, &ConfigError{
				Field: fe.Namespace(),
				Err:   fmt.Errorf("failed %q validation (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return nil, &ConfigError{Err: err}
	}
	return &cfg, nil
}

// ClampLOD forces a zoom range into [MinLOD, MaxLOD] with start <= end.
// Out-of-range values are clamped, never rejected.
func ClampLOD(start, end int) (int, int) {
	if end > MaxLOD {
		end = MaxLOD
	}
	if end < MinLOD {
		end = MinLOD
	}
	if start < MinLOD {
		start = MinLOD
	}
	if start > end {
		start = end
	}
	return start, end
}
