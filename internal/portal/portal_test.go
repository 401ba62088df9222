package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/auth"
	"usagegen/internal/rest"
)

type recorded struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorded) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req.Method+" "+req.URL.Path)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(rest.NewClient(5*time.Second), &auth.Session{
		Token:     "session-token",
		Username:  "jsmith",
		PortalURL: srv.URL + "/sharing/rest",
	}, "")
	require.NoError(t, err)
	return c
}

func TestNewClientNeedsSession(t *testing.T) {
	_, err := NewClient(nil, nil, "https://example.com")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = NewClient(nil, &auth.Session{}, "https://example.com")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestUsage(t *testing.T) {
	rec := &recorded{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/portals/self", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.Equal(t, "session-token", r.URL.Query().Get("token"))
		fmt.Fprint(w, `{"id":"org123","name":"Test Org"}`)
	})
	mux.HandleFunc("/sharing/rest/portals/org123/usage", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		q := r.URL.Query()
		assert.Equal(t, "etype,stype,task,name", q.Get("groupby"))
		assert.Equal(t, "1d", q.Get("period"))
		assert.Equal(t, "bw,num", q.Get("vars"))
		assert.Equal(t, "basemaps", q.Get("stype"))
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		assert.Equal(t, int64(3*24*time.Hour/time.Millisecond), end-start)
		fmt.Fprint(w, `{"period":"1d","data":[{"stype":"basemaps","task":"tile","num":[["1","40"],["2","2"]]}]}`)
	})
	c := newTestClient(t, mux)

	q := DefaultUsageQuery(time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC), 3)
	q.SType = "basemaps"
	report, err := c.Usage(t.Context(), q)
	require.NoError(t, err)
	require.Len(t, report.Data, 1)
	assert.Equal(t, int64(42), report.Data[0].Total())
	assert.Equal(t, []string{"GET /sharing/rest/portals/self", "GET /sharing/rest/portals/org123/usage"}, rec.calls)
}

func TestUsageRemoteError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/portals/self", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":498,"message":"Invalid token."}}`)
	})
	c := newTestClient(t, mux)

	_, err := c.Usage(t.Context(), DefaultUsageQuery(time.Now(), 1))
	var remote *rest.Error
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 498, remote.Code)
}

func TestVerifyOptions(t *testing.T) {
	opts := APIKeyOptions{Title: "tiles", Privileges: []string{"basemaps", "premium:user:geocode:temporary", "portal:app:access:item:abc"}}
	require.NoError(t, opts.Verify())
	assert.Equal(t, []string{"portal:apikey:basemaps", "premium:user:geocode:temporary", "portal:app:access:item:abc"}, opts.Privileges)

	missing := APIKeyOptions{}
	err := missing.Verify()
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Contains(t, err.Error(), "Title")
	assert.Contains(t, err.Error(), "Privileges")

	unknown := APIKeyOptions{Title: "x", Privileges: []string{"teleport"}}
	err = unknown.Verify()
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Contains(t, err.Error(), `"teleport"`)
}

func TestCreateAPIKey(t *testing.T) {
	rec := &recorded{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/content/users/jsmith/addItem", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "API Key", r.PostForm.Get("type"))
		assert.Equal(t, "demo key", r.PostForm.Get("title"))
		assert.Equal(t, "a,b", r.PostForm.Get("tags"))
		fmt.Fprint(w, `{"success":true,"id":"item42"}`)
	})
	mux.HandleFunc("/sharing/rest/oauth2/registerApp", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "item42", r.PostForm.Get("itemId"))
		assert.Equal(t, "apikey", r.PostForm.Get("appType"))
		assert.Equal(t, `["portal:apikey:basemaps"]`, r.PostForm.Get("privileges"))
		assert.Equal(t, `[]`, r.PostForm.Get("httpReferrers"))
		fmt.Fprint(w, `{"itemId":"item42","client_id":"cid","apiKey":"AAPK123","appType":"apikey"}`)
	})
	c := newTestClient(t, mux)

	app, err := c.CreateAPIKey(t.Context(), APIKeyOptions{Title: "demo key", Tags: []string{"a", "b"}, Privileges: []string{"basemaps"}})
	require.NoError(t, err)
	assert.Equal(t, "cid", app.ClientID)
	assert.Equal(t, "AAPK123", app.APIKey)
	assert.Equal(t, []string{"POST /sharing/rest/content/users/jsmith/addItem", "POST /sharing/rest/oauth2/registerApp"}, rec.calls)
}

func TestCreateAPIKeyRejectsBadOptions(t *testing.T) {
	rec := &recorded{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { rec.add(r) }))

	_, err := c.CreateAPIKey(t.Context(), APIKeyOptions{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Empty(t, rec.calls)
}

func TestResetUpdateDelete(t *testing.T) {
	rec := &recorded{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/oauth2/apps/cid/resetApiKey", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "item42", r.PostForm.Get("itemId"))
		fmt.Fprint(w, `{"client_id":"cid","apiKey":"AAPKnew"}`)
	})
	mux.HandleFunc("/sharing/rest/oauth2/apps/cid/update", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, `["https://app.example.com"]`, r.PostForm.Get("httpReferrers"))
		fmt.Fprint(w, `{"client_id":"cid","privileges":["premium:user:networkanalysis:routing"]}`)
	})
	mux.HandleFunc("/sharing/rest/content/users/jsmith/items/item42/delete", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		fmt.Fprint(w, `{"success":true,"itemId":"item42"}`)
	})
	c := newTestClient(t, mux)

	app, err := c.ResetAPIKey(t.Context(), "cid", "item42")
	require.NoError(t, err)
	assert.Equal(t, "AAPKnew", app.APIKey)

	app, err = c.UpdateAPIKey(t.Context(), "cid", APIKeyOptions{
		Title:         "demo",
		Privileges:    []string{"route"},
		HTTPReferrers: []string{"https://app.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"premium:user:networkanalysis:routing"}, app.Privileges)

	require.NoError(t, c.DeleteAPIKey(t.Context(), "item42"))
	assert.Len(t, rec.calls, 3)
}

func TestListAuthenticationItemsPages(t *testing.T) {
	var starts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/rest/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `owner:jsmith AND (type:"API Key" OR typekeywords:"Registered App")`, q.Get("q"))
		assert.Equal(t, "100", q.Get("num"))
		starts = append(starts, q.Get("start"))

		n := searchPageSize
		if q.Get("start") == "101" {
			n = 3
		}
		items := make([]string, n)
		for i := range items {
			items[i] = fmt.Sprintf(`{"id":"item%d","type":"API Key"}`, i)
		}
		fmt.Fprintf(w, `{"total":%d,"results":[%s]}`, searchPageSize+3, strings.Join(items, ","))
	})
	c := newTestClient(t, mux)

	items, err := c.ListAuthenticationItems(t.Context())
	require.NoError(t, err)
	assert.Len(t, items, searchPageSize+3)
	assert.Equal(t, []string{"1", "101"}, starts)
}

func TestPrivilegeNamesSorted(t *testing.T) {
	names := PrivilegeNames()
	assert.Len(t, names, len(Privileges))
	assert.IsNonDecreasing(t, names)
}
