package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/config"
	"usagegen/internal/runner"
)

func baseConfig() *config.Config {
	return &config.Config{
		Stage:        config.StageProd,
		Iterations:   5,
		RequestDelay: 10 * time.Millisecond,
		Tiles: config.Tiles{
			Services:     []string{config.TileVector, config.TileImage},
			StartLOD:     1,
			EndLOD:       2,
			RequestDelay: time.Millisecond,
		},
	}
}

func byName(t *testing.T, specs []runner.TestSpec, name string) runner.TestSpec {
	t.Helper()
	for _, s := range specs {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no spec named %q", name)
	return runner.TestSpec{}
}

func TestBuildEnabledFlags(t *testing.T) {
	cfg := baseConfig()
	cfg.Tests.Geocode = true
	cfg.Tests.Tiles = true

	specs, err := Build(cfg)
	require.NoError(t, err)

	enabled := Enabled(specs)
	var names []string
	for _, s := range enabled {
		names = append(names, s.Name)
		require.NoError(t, s.Validate())
	}
	assert.Equal(t, []string{"tiles:vector", "tiles:image", "geocode"}, names)
	assert.False(t, byName(t, specs, "suggest").Enabled)
}

func TestTileSweeps(t *testing.T) {
	cfg := baseConfig()
	cfg.Tests.Tiles = true
	cfg.Tiles.MaxInflight = 4

	specs, err := Build(cfg)
	require.NoError(t, err)

	vector := byName(t, specs, "tiles:vector")
	require.NotNil(t, vector.Sweep)
	assert.Equal(t, 4, vector.Sweep.MaxInflight)
	assert.Equal(t, runner.ResponseBinary, vector.Response)
	assert.Equal(t, runner.LevelSize(1)+runner.LevelSize(2), vector.Planned())

	req := vector.Sweep.Tile(2, 3, 1)
	assert.Equal(t, "https://basemaps-api.arcgis.com/arcgis/rest/services/World_Basemap_v2/VectorTileServer/tile/2/1/3.pbf", req.URL)

	require.NotNil(t, vector.Preamble)
	assert.Equal(t, "https://basemaps-api.arcgis.com/arcgis/rest/services/styles/ArcGIS:Topographic", vector.Preamble.URL)
	assert.Equal(t, "style", vector.Preamble.Params.Get("type"))

	image := byName(t, specs, "tiles:image")
	assert.Nil(t, image.Preamble)
	assert.Equal(t, "https://ibasemaps-api.arcgis.com/arcgis/rest/services/World_Imagery/MapServer/tile/1/0/1", image.Sweep.Tile(1, 1, 0).URL)
}

func TestOceansImagery(t *testing.T) {
	h := HostsFor(config.StageProd, false, "")
	assert.True(t, strings.HasSuffix(h.TileBase(config.TileImage, true), "Ocean/World_Ocean_Base/MapServer/tile/"))
	assert.True(t, strings.HasSuffix(h.TileBase(config.TileHillshade, true), "Elevation/World_Hillshade_Dark/MapServer/tile/"))
}

func TestHostsForBaseURL(t *testing.T) {
	h := HostsFor(config.StageDev, true, "http://127.0.0.1:9000/")
	assert.Equal(t, "http://127.0.0.1:9000/arcgis/rest/services/", h.Basemaps)
	assert.Equal(t, "http://127.0.0.1:9000", h.Geocode)
	assert.Equal(t, "http://127.0.0.1:9000", h.Logistics)

	dev := HostsFor(config.StageDev, false, "")
	assert.Equal(t, "https://geocodedev.arcgis.com", dev.Geocode)
}

func TestNonExistingTiles(t *testing.T) {
	cfg := baseConfig()
	cfg.Tests.NonExistingTiles = true

	specs, err := Build(cfg)
	require.NoError(t, err)

	s := byName(t, specs, "non_existing_tiles:vector")
	assert.True(t, s.Enabled)
	assert.Equal(t, 5, s.Quota)
	req, err := s.Build(0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL, "/tile/63/0/0.pbf"), req.URL)
}

func TestSuggestText(t *testing.T) {
	assert.Equal(t, "gas St", SuggestText(0))
	assert.Equal(t, "gas Sta", SuggestText(1))
	assert.Equal(t, "gas Stati", SuggestText(3))
	assert.Equal(t, "gas Stati", SuggestText(9))
}

func TestGeocodeClientTest(t *testing.T) {
	specs, err := Build(baseConfig())
	require.NoError(t, err)

	s := byName(t, specs, "geocode_client_test")
	assert.Equal(t, len(businessNames), s.Quota)
	req, err := s.Build(1)
	require.NoError(t, err)
	assert.Equal(t, "anthropologie", req.Params.Get("address"))
	assert.Equal(t, "pjson", req.Params.Get("f"))
	assert.True(t, strings.HasPrefix(req.URL, clientTestHost))

	_, err = s.Build(len(businessNames))
	assert.Error(t, err)
}

func TestFleetParams(t *testing.T) {
	specs, err := Build(baseConfig())
	require.NoError(t, err)

	req, err := byName(t, specs, "routing:fleet").Build(0)
	require.NoError(t, err)
	assert.Contains(t, req.Params.Get("orders"), `"Father's Office"`)
	assert.Contains(t, req.Params.Get("depots"), depotName)
	assert.Contains(t, req.Params.Get("routes"), `"Route 2"`)
}

func TestUnsupportedSwitches(t *testing.T) {
	for _, name := range []string{"routing_job", "feature_edit"} {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			require.NoError(t, cfg.Tests.Set(name, true))

			_, err := Build(cfg)
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "tests."+name, cfgErr.Field)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestFeatureQueryNeedsURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Tests.FeatureQuery = true
	_, err := Build(cfg)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "feature_service_url", cfgErr.Field)

	cfg.FeatureServiceURL = "https://services.example.com/arcgis/rest/services/States/FeatureServer/0"
	specs, err := Build(cfg)
	require.NoError(t, err)
	req, err := byName(t, specs, "feature_query").Build(0)
	require.NoError(t, err)
	assert.Equal(t, cfg.FeatureServiceURL+"/query", req.URL)
	assert.Equal(t, FeatureQueryURL(req.URL), req.URL)
}

func TestAnalysisJob(t *testing.T) {
	cfg := baseConfig()
	cfg.Tests.Analysis = true
	cfg.AnalysisServiceURL = "https://analysis.example.com/arcgis/rest/services/tasks/GPServer/"
	cfg.FeatureServiceURL = "https://services.example.com/FeatureServer/0"

	specs, err := Build(cfg)
	require.NoError(t, err)

	s := byName(t, specs, "analysis")
	require.NotNil(t, s.Job)
	require.NoError(t, s.Validate())
	assert.Equal(t, 1, s.Planned())
	assert.Equal(t, "https://analysis.example.com/arcgis/rest/services/tasks/GPServer/FindHotSpots", s.Job.URL)
	assert.JSONEq(t, `{"url":"https://services.example.com/FeatureServer/0"}`, s.Job.Params.Get("analysisLayer"))
	assert.Equal(t, "fishnet", s.Job.Params.Get("shapeType"))
}

func TestCustomTests(t *testing.T) {
	cfg := baseConfig()
	cfg.CustomTests = []config.CustomTest{
		{Name: "echo", Method: "GET", URL: "https://example.com/{{index}}", Response: "binary"},
		{Name: "bounded", Method: "POST", URL: "https://example.com/post", Quota: 2, Interval: time.Second},
	}

	specs, err := Build(cfg)
	require.NoError(t, err)

	echo := byName(t, specs, "custom:echo")
	assert.True(t, echo.Enabled)
	assert.Equal(t, runner.ResponseBinary, echo.Response)
	assert.Equal(t, cfg.Iterations, echo.Quota)
	assert.Equal(t, cfg.RequestDelay, echo.Interval)
	req, err := echo.Build(4)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/4", req.URL)

	bounded := byName(t, specs, "custom:bounded")
	assert.Equal(t, 2, bounded.Quota)
	assert.Equal(t, time.Second, bounded.Interval)

	cfg.CustomTests = []config.CustomTest{{Name: "bad", Method: "GET", URL: "{{"}}
	_, err = Build(cfg)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "custom_tests[0]", cfgErr.Field)
}
