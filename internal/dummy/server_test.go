package dummy_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/auth"
	"usagegen/internal/catalog"
	"usagegen/internal/config"
	"usagegen/internal/dummy"
	"usagegen/internal/portal"
	"usagegen/internal/rest"
	"usagegen/internal/runner"
)

const token = "secret"

func newServer(t *testing.T, cfg dummy.ServerConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(dummy.NewHandler(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestTiles(t *testing.T) {
	srv := newServer(t, dummy.ServerConfig{})
	base := srv.URL + "/arcgis/rest/services/World_Basemap_v2/VectorTileServer/tile/"

	status, body := get(t, base+"2/1/3.pbf")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body, 256)

	_, again := get(t, base+"2/1/3.pbf")
	assert.Equal(t, body, again)

	status, _ = get(t, base+"63/0/0.pbf")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, base+"1/5/0.pbf")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = get(t, srv.URL+"/arcgis/rest/services/styles/ArcGIS:Topographic?type=style")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"ArcGIS:Topographic"`)
}

func TestTokenRequired(t *testing.T) {
	srv := newServer(t, dummy.ServerConfig{Token: token})

	status, body := get(t, srv.URL+"/arcgis/rest/services/World/GeocodeServer/suggest?text=gas&f=json")
	assert.Equal(t, http.StatusOK, status)
	remote := rest.ErrorFromBody(body)
	require.NotNil(t, remote)
	assert.Equal(t, 498, remote.Code)

	status, _ = get(t, srv.URL+"/arcgis/rest/services/World_Imagery/MapServer/tile/1/0/0")
	assert.Equal(t, 498, status)

	status, body = get(t, srv.URL+"/arcgis/rest/services/World/GeocodeServer/suggest?text=gas&f=json&token="+token)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, rest.ErrorFromBody(body))
	var out struct {
		Suggestions []struct {
			Text string `json:"text"`
		} `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.Suggestions)
}

func TestFailureInjection(t *testing.T) {
	srv := newServer(t, dummy.ServerConfig{FailureRate: 1})
	status, _ := get(t, srv.URL+"/arcgis/rest/services/World/GeocodeServer/suggest?text=a")
	assert.Contains(t, []int{http.StatusInternalServerError, http.StatusTooManyRequests}, status)
}

func TestSignInAndUsage(t *testing.T) {
	srv := newServer(t, dummy.ServerConfig{Token: token, Username: "jsmith", Password: "pw"})
	ctx := context.Background()

	signIn := auth.NewPortalSignIn(srv.URL+"/sharing/rest", nil)
	_, err := signIn.SignIn(ctx, "jsmith", "wrong")
	var remote *rest.Error
	require.ErrorAs(t, err, &remote)

	session, err := signIn.SignIn(ctx, "jsmith", "pw")
	require.NoError(t, err)
	assert.Equal(t, token, session.Token)
	assert.True(t, session.Expires.After(time.Now()))

	status, _ := get(t, srv.URL+"/arcgis/rest/services/World/GeocodeServer/suggest?text=a&token="+token)
	require.Equal(t, http.StatusOK, status)

	pc, err := portal.NewClient(nil, session, "")
	require.NoError(t, err)
	report, err := pc.Usage(ctx, portal.DefaultUsageQuery(time.Now(), 1))
	require.NoError(t, err)
	require.Len(t, report.Data, 1)
	assert.Equal(t, "geocode", report.Data[0].SType)
	assert.Equal(t, int64(1), report.Data[0].Total())
}

func TestRunAgainstFakePlatform(t *testing.T) {
	srv := newServer(t, dummy.ServerConfig{Token: token, JobPolls: 2})

	cfg := &config.Config{
		Stage:              config.StageProd,
		BaseURL:            srv.URL,
		Iterations:         2,
		RequestDelay:       time.Millisecond,
		FeatureServiceURL:  srv.URL + "/arcgis/rest/services/States/FeatureServer/0",
		AnalysisServiceURL: srv.URL + "/arcgis/rest/services/tasks/GPServer/",
		Tiles: config.Tiles{
			Services:     []string{config.TileVector},
			StartLOD:     1,
			EndLOD:       2,
			RequestDelay: time.Millisecond,
			MaxInflight:  4,
		},
	}
	for _, name := range []string{"tiles", "non_existing_tiles", "geocode", "suggest", "feature_query", "analysis"} {
		require.NoError(t, cfg.Tests.Set(name, true))
	}

	specs, err := catalog.Build(cfg)
	require.NoError(t, err)

	coord := runner.NewCoordinator(runner.CoordinatorConfig{
		Resolver: auth.NewProvider(auth.Config{APIKey: token}, nil),
		Invoker: runner.NewHTTPInvoker(runner.InvokerConfig{
			Timeout:         5 * time.Second,
			JobPollInterval: 5 * time.Millisecond,
		}),
	})
	_, err = coord.Start(context.Background(), specs)
	require.NoError(t, err)

	select {
	case <-coord.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	sum := coord.Terminate()

	// tiles: 1+9 plus the style preamble; two of each quota test; one job.
	assert.Equal(t, uint64(11+2+2+2+2+1), sum.Attempted)
	assert.Equal(t, uint64(2), sum.Failed)
	assert.Equal(t, map[string]uint64{"http 404": 2}, sum.Errors)
	assert.Equal(t, uint64(2), sum.PerTest["non_existing_tiles:vector"].Failed)
	assert.Contains(t, sum.Line(), "There were 2 errors.")
}
