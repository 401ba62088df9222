// Package catalog turns the run configuration into the TestSpecs the
// coordinator runs.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"usagegen/internal/config"
	"usagegen/internal/jobs"
	"usagegen/internal/rest"
	"usagegen/internal/runner"
)

// ErrUnsupported marks generators that exist as switches but have no
// implementation.
var ErrUnsupported = errors.New("unsupported test")

const (
	geocodePath     = "/arcgis/rest/services/World/GeocodeServer/"
	placesPath      = "/arcgis/rest/services/places-service/v1/places/"
	geoenrichPath   = "/arcgis/rest/services/World/geoenrichmentserver/GeoEnrichment/"
	routePath       = "/arcgis/rest/services/World/Route/NAServer/Route_World/solve"
	fleetPath       = "/arcgis/rest/services/World/VehicleRoutingProblemSync/GPServer/EditVehicleRoutingProblem/execute"
	nonExistingLOD  = 63
	samplePlaceID   = "02388b81d501252b6097afa57ebdc4d4"
	clientTestHost  = "https://geocode.arcgis.com"
	hotSpotsTask    = "FindHotSpots"
	reportQuota     = 1
	analysisQuota   = 1
)

// suggestFragments are appended one per request to mimic typing.
var suggestFragments = []string{"gas St", "a", "t", "i"}

// businessNames drive the geocode client test, one request each.
var businessNames = []string{
	"alo_yoga", "anthropologie", "athleta", "bluemercury", "equinox fitness clubs",
	"free_people", "hm__hennes__mauritz", "mac_cosmetics", "madewell", "peloton",
	"pure_barre", "sephora", "urban_outfitters", "barre3", "lululemon", "lush", "on",
	"barry's bootcamp", "aritzia", "everlane", "sephora", "corepower",
}

const clientTestExtent = `{"spatialReference":{"wkid":102100},"xmin":-13195373.795894774,"ymin":3984244.7919120155,"xmax":-13109365.106328506,"ymax":4043552.767686528}`

// Build returns one or more specs per known test, with Enabled reflecting
// the switches, followed by the custom tests. Enabled tests that cannot run
// fail with a *config.ConfigError.
func Build(cfg *config.Config) ([]runner.TestSpec, error) {
	hosts := HostsFor(cfg.Stage, cfg.Enhanced, cfg.BaseURL)
	sw := cfg.Tests

	var specs []runner.TestSpec
	specs = append(specs, tileSweeps(cfg, hosts, sw.Tiles)...)
	specs = append(specs, nonExistingTiles(cfg, hosts, sw.NonExistingTiles)...)
	specs = append(specs,
		geocode(cfg, hosts, sw.Geocode),
		suggest(cfg, hosts, sw.Suggest),
		geocodeClientTest(cfg, sw.GeocodeClientTest),
	)
	specs = append(specs, places(cfg, hosts, sw.Places)...)
	specs = append(specs,
		geoenrichment(cfg, hosts, sw.Geoenrichment),
		geoenrichmentReport(cfg, hosts, sw.GeoenrichmentReport),
	)
	specs = append(specs, routing(cfg, hosts, sw.Routing)...)

	if sw.RoutingJob {
		return nil, &config.ConfigError{Field: "tests.routing_job", Err: ErrUnsupported}
	}
	if sw.FeatureEdit {
		return nil, &config.ConfigError{Field: "tests.feature_edit", Err: ErrUnsupported}
	}

	fq, err := featureQuery(cfg, sw.FeatureQuery)
	if err != nil {
		return nil, err
	}
	an, err := analysis(cfg, sw.Analysis)
	if err != nil {
		return nil, err
	}
	specs = append(specs, fq, an)

	custom, err := customTests(cfg)
	if err != nil {
		return nil, err
	}
	return append(specs, custom...), nil
}

// Enabled filters specs to the enabled ones.
func Enabled(specs []runner.TestSpec) []runner.TestSpec {
	var out []runner.TestSpec
	for _, s := range specs {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func fixed(method, endpoint string, params url.Values) func(int) (runner.Request, error) {
	return func(int) (runner.Request, error) {
		return runner.Request{Method: method, URL: endpoint, Params: params}, nil
	}
}

func tileSuffix(service string) string {
	if service == config.TileVector || service == config.TileOSM {
		return ".pbf"
	}
	return ""
}

func tileSweeps(cfg *config.Config, hosts Hosts, enabled bool) []runner.TestSpec {
	var specs []runner.TestSpec
	for _, service := range cfg.Tiles.Services {
		base := hosts.TileBase(service, cfg.Tiles.UseOceansImagery)
		suffix := tileSuffix(service)
		spec := runner.TestSpec{
			Name:     "tiles:" + service,
			Endpoint: base,
			Enabled:  enabled,
			Response: runner.ResponseBinary,
			Interval: cfg.Tiles.RequestDelay,
			Sweep: &runner.Sweep{
				StartLOD:    cfg.Tiles.StartLOD,
				EndLOD:      cfg.Tiles.EndLOD,
				MaxInflight: cfg.Tiles.MaxInflight,
				Tile: func(lod, x, y int) runner.Request {
					return runner.Request{Method: "GET", URL: fmt.Sprintf("%s%d/%d/%d%s", base, lod, y, x, suffix)}
				},
			},
		}
		if service == config.TileVector {
			spec.Preamble = &runner.Request{
				Method: "GET",
				URL:    hosts.StyleURL(),
				Params: url.Values{"type": {"style"}},
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

func nonExistingTiles(cfg *config.Config, hosts Hosts, enabled bool) []runner.TestSpec {
	var specs []runner.TestSpec
	for _, service := range cfg.Tiles.Services {
		endpoint := fmt.Sprintf("%s%d/0/0%s", hosts.TileBase(service, cfg.Tiles.UseOceansImagery), nonExistingLOD, tileSuffix(service))
		specs = append(specs, runner.TestSpec{
			Name:     "non_existing_tiles:" + service,
			Endpoint: endpoint,
			Enabled:  enabled,
			Build:    fixed("GET", endpoint, nil),
			Response: runner.ResponseBinary,
			Interval: cfg.RequestDelay,
			Quota:    cfg.Iterations,
		})
	}
	return specs
}

func geocode(cfg *config.Config, hosts Hosts, enabled bool) runner.TestSpec {
	endpoint := hosts.Geocode + geocodePath + "findAddressCandidates"
	params := url.Values{
		"singleLine": {"Grocery Store Dumont NJ"},
		"outFields":  {"phone"},
		"forStorage": {strconv.FormatBool(cfg.GeocodeForStorage)},
		"f":          {"json"},
	}
	return runner.TestSpec{
		Name:     "geocode",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build:    fixed("GET", endpoint, params),
		Interval: cfg.RequestDelay,
		Quota:    cfg.Iterations,
	}
}

// SuggestText is the text typed so far at the index-th suggest request.
func SuggestText(index int) string {
	n := index + 1
	if n > len(suggestFragments) {
		n = len(suggestFragments)
	}
	return strings.Join(suggestFragments[:n], "")
}

func suggest(cfg *config.Config, hosts Hosts, enabled bool) runner.TestSpec {
	endpoint := hosts.Geocode + geocodePath + "suggest"
	return runner.TestSpec{
		Name:     "suggest",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build: func(i int) (runner.Request, error) {
			return runner.Request{
				Method: "GET",
				URL:    endpoint,
				Params: url.Values{"text": {SuggestText(i)}, "f": {"json"}},
			}, nil
		},
		Interval: cfg.RequestDelay,
		Quota:    cfg.Iterations,
	}
}

func geocodeClientTest(cfg *config.Config, enabled bool) runner.TestSpec {
	host := clientTestHost
	if cfg.BaseURL != "" {
		host = strings.TrimRight(cfg.BaseURL, "/")
	}
	endpoint := host + geocodePath + "findAddressCandidates"
	return runner.TestSpec{
		Name:     "geocode_client_test",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build: func(i int) (runner.Request, error) {
			if i < 0 || i >= len(businessNames) {
				return runner.Request{}, fmt.Errorf("business name %d out of range", i)
			}
			return runner.Request{
				Method: "GET",
				URL:    endpoint,
				Params: url.Values{
					"searchExtent": {clientTestExtent},
					"address":      {businessNames[i]},
					"outFields":    {"address, type"},
					"f":            {"pjson"},
				},
			}, nil
		},
		Interval: cfg.RequestDelay,
		Quota:    len(businessNames),
	}
}

func places(cfg *config.Config, hosts Hosts, enabled bool) []runner.TestSpec {
	nearPoint := hosts.Places + placesPath + "near-point"
	details := hosts.Places + placesPath + samplePlaceID
	return []runner.TestSpec{
		{
			Name:     "places:near-point",
			Endpoint: nearPoint,
			Enabled:  enabled,
			Build: fixed("GET", nearPoint, url.Values{
				"x":           {"-74.006792"},
				"y":           {"40.71164"},
				"radius":      {"650"},
				"categoryIds": {"13000"},
				"pageSize":    {"20"},
				"searchText":  {"bar"},
				"forStorage":  {"false"},
				"f":           {"json"},
			}),
			Interval: cfg.RequestDelay,
			Quota:    cfg.Iterations,
		},
		{
			Name:     "places:details",
			Endpoint: details,
			Enabled:  enabled,
			Build: fixed("GET", details, url.Values{
				"requestedFields": {"hours"},
				"f":               {"json"},
			}),
			Interval: cfg.RequestDelay,
			Quota:    cfg.Iterations,
		},
	}
}

func geoenrichment(cfg *config.Config, hosts Hosts, enabled bool) runner.TestSpec {
	endpoint := hosts.Geoenrich + geoenrichPath + "enrich"
	return runner.TestSpec{
		Name:     "geoenrichment",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build: fixed("GET", endpoint, url.Values{
			"studyAreas":        {`[{"geometry":{"x":-117.1956,"y":34.0572}}]`},
			"analysisVariables": {rest.JSONParam([]string{"KeyGlobalFacts.TOTPOP"})},
			"f":                 {"json"},
		}),
		Interval: cfg.RequestDelay,
		Quota:    cfg.Iterations,
	}
}

func geoenrichmentReport(cfg *config.Config, hosts Hosts, enabled bool) runner.TestSpec {
	endpoint := hosts.Geoenrich + geoenrichPath + "createReport"
	return runner.TestSpec{
		Name:     "geoenrichment_report",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build: fixed("GET", endpoint, url.Values{
			"studyAreas":        {`[{"address":{"text":"10685 NW Dumar Ln. Portland, OR 97229"}},{"address":{"text":"380 New York St. Redlands, CA 92373"}},{"address":{"text":"3722 Crenshaw Blvd, Los Angeles, CA 90016"}}]`},
			"studyAreasOptions": {`{"areaType":"RingBuffer","bufferUnits":"esriMiles","bufferRadii":[3,5,10]}`},
			"report":            {"dandi"},
			"reportFields":      {`{"title": "Location Platform Report","subtitle": "Produced by Location Platform usage generator"}`},
			"useData":           {`{"sourceCountry":"US"}`},
			"forStorage":        {"false"},
			"format":            {"xml"},
			"f":                 {"bin"},
		}),
		Response: runner.ResponseBinary,
		Interval: cfg.RequestDelay,
		Quota:    reportQuota,
	}
}

func routing(cfg *config.Config, hosts Hosts, enabled bool) []runner.TestSpec {
	solve := hosts.Route + routePath
	fleet := hosts.Logistics + fleetPath
	return []runner.TestSpec{
		{
			Name:     "routing:solve",
			Endpoint: solve,
			Enabled:  enabled,
			Build: fixed("GET", solve, url.Values{
				"stops":            {"-122.68782,45.51238;-122.690176,45.522054;-122.614995,45.526201"},
				"startTime":        {"now"},
				"returnDirections": {"true"},
				"findBestSequence": {"true"},
				"f":                {"json"},
			}),
			Interval: cfg.RequestDelay,
			Quota:    cfg.Iterations,
		},
		{
			Name:     "routing:fleet",
			Endpoint: fleet,
			Enabled:  enabled,
			Build: fixed("GET", fleet, url.Values{
				"populate_directions": {"true"},
				"orders":              {rest.JSONParam(fleetOrders)},
				"depots":              {rest.JSONParam(fleetDepots)},
				"routes":              {rest.JSONParam(fleetRoutes)},
				"f":                   {"json"},
			}),
			Interval: cfg.RequestDelay,
			Quota:    cfg.Iterations,
		},
	}
}

// FeatureQueryURL appends /query unless the configured URL already ends
// in it.
func FeatureQueryURL(serviceURL string) string {
	u := strings.TrimRight(serviceURL, "/")
	if strings.HasSuffix(u, "/query") {
		return u
	}
	return u + "/query"
}

func featureQuery(cfg *config.Config, enabled bool) (runner.TestSpec, error) {
	if enabled && cfg.FeatureServiceURL == "" {
		return runner.TestSpec{}, &config.ConfigError{
			Field: "feature_service_url",
			Err:   errors.New("required by tests.feature_query"),
		}
	}
	endpoint := FeatureQueryURL(cfg.FeatureServiceURL)
	return runner.TestSpec{
		Name:     "feature_query",
		Endpoint: endpoint,
		Enabled:  enabled,
		Build: fixed("GET", endpoint, url.Values{
			"where":     {"1=1"},
			"outFields": {"*"},
			"f":         {"json"},
		}),
		Interval: cfg.RequestDelay,
		Quota:    cfg.Iterations,
	}, nil
}

func analysis(cfg *config.Config, enabled bool) (runner.TestSpec, error) {
	layer := cfg.AnalysisLayerURL
	if layer == "" {
		layer = cfg.FeatureServiceURL
	}
	if enabled {
		if cfg.AnalysisServiceURL == "" {
			return runner.TestSpec{}, &config.ConfigError{
				Field: "analysis_service_url",
				Err:   errors.New("required by tests.analysis"),
			}
		}
		if layer == "" {
			return runner.TestSpec{}, &config.ConfigError{
				Field: "analysis_layer_url",
				Err:   errors.New("required by tests.analysis, or set feature_service_url"),
			}
		}
	}
	taskURL := strings.TrimRight(cfg.AnalysisServiceURL, "/") + "/" + hotSpotsTask
	return runner.TestSpec{
		Name:     "analysis",
		Endpoint: taskURL,
		Enabled:  enabled,
		Job: &jobs.Job{
			URL: taskURL,
			Params: url.Values{
				"analysisLayer":     {rest.JSONParam(map[string]string{"url": layer})},
				"returnProcessInfo": {"true"},
				"shapeType":         {"fishnet"},
				"context":           {"{}"},
				"f":                 {"json"},
			},
		},
		Interval: cfg.RequestDelay,
		Quota:    analysisQuota,
	}, nil
}

func customTests(cfg *config.Config) ([]runner.TestSpec, error) {
	if len(cfg.CustomTests) == 0 {
		return nil, nil
	}
	engine := runner.NewTemplateEngine()
	specs := make([]runner.TestSpec, 0, len(cfg.CustomTests))
	for i, ct := range cfg.CustomTests {
		tr, err := engine.NewTemplatedRequest(ct.Method, ct.URL, ct.Params)
		if err != nil {
			return nil, &config.ConfigError{Field: fmt.Sprintf("custom_tests[%d]", i), Err: err}
		}
		spec := runner.TestSpec{
			Name:     "custom:" + ct.Name,
			Endpoint: ct.URL,
			Enabled:  true,
			Build:    tr.Build,
			Interval: ct.Interval,
			Quota:    ct.Quota,
		}
		if ct.Response == "binary" {
			spec.Response = runner.ResponseBinary
		}
		if spec.Interval == 0 {
			spec.Interval = cfg.RequestDelay
		}
		if spec.Quota == 0 {
			spec.Quota = cfg.Iterations
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
