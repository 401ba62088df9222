package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Privileges maps short names to the scope strings registerApp accepts.
var Privileges = map[string]string{
	"basemaps":               "portal:apikey:basemaps",
	"geocodeStored":          "premium:user:geocode:stored",
	"geocode":                "premium:user:geocode:temporary",
	"elevation":              "premium:user:elevation",
	"geoEnrichment":          "premium:user:geoenrichment",
	"demographics":           "premium:user:demographics",
	"featureReport":          "premium:user:featurereport",
	"route":                  "premium:user:networkanalysis:routing",
	"routeOptimized":         "premium:user:networkanalysis:optimizedrouting",
	"routeServiceArea":       "premium:user:networkanalysis:servicearea",
	"routeOriginDestination": "premium:user:networkanalysis:origindestinationcostmatrix",
	"routeAllocation":        "premium:user:networkanalysis:locationallocation",
	"routeVRP":               "premium:user:networkanalysis:vehiclerouting",
	"routeClosestFacility":   "premium:user:networkanalysis:closestfacility",
	"analysisSpatial":        "premium:user:spatialanalysis",
	"analysisRaster":         "premium:publisher:rasteranalysis",
	"geoanalytics":           "premium:publisher:geoanalytics",
}

// itemPrivilegePrefix grants access to a single item; the item id follows.
const itemPrivilegePrefix = "portal:app:access:item:"

// ErrInvalidOptions wraps every APIKeyOptions validation failure.
var ErrInvalidOptions = errors.New("invalid api key options")

// APIKeyOptions describes an API key item and its registration.
type APIKeyOptions struct {
	Title         string   `validate:"required"`
	Description   string
	Snippet       string
	Tags          []string
	Privileges    []string `validate:"required,min=1"`
	HTTPReferrers []string `validate:"omitempty,dive,required"`
	RedirectURIs  []string `validate:"omitempty,dive,url"`
}

var validate = validator.New()

// ResolvePrivilege accepts a short name or a scope string.
func ResolvePrivilege(p string) (string, bool) {
	if scope, ok := Privileges[p]; ok {
		return scope, true
	}
	if strings.HasPrefix(p, itemPrivilegePrefix) && len(p) > len(itemPrivilegePrefix) {
		return p, true
	}
	for _, scope := range Privileges {
		if p == scope {
			return p, true
		}
	}
	return "", false
}

// Verify checks the options and normalises privileges to scope strings.
func (o *APIKeyOptions) Verify() error {
	var problems []string
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}

	scopes := make([]string, 0, len(o.Privileges))
	for _, p := range o.Privileges {
		scope, ok := ResolvePrivilege(p)
		if !ok {
			problems = append(problems, fmt.Sprintf("privilege %q is not known", p))
			continue
		}
		scopes = append(scopes, scope)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	o.Privileges = scopes
	return nil
}

// PrivilegeNames lists the short privilege names, sorted.
func PrivilegeNames() []string {
	names := make([]string, 0, len(Privileges))
	for n := range Privileges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// App is a registered application as returned by registerApp and the
// oauth2/apps endpoints.
type App struct {
	ItemID        string   `json:"itemId"`
	ClientID      string   `json:"client_id"`
	AppType       string   `json:"appType"`
	APIKey        string   `json:"apiKey"`
	HTTPReferrers []string `json:"httpReferrers"`
	RedirectURIs  []string `json:"redirect_uris"`
	Privileges    []string `json:"privileges"`
}

type addItemResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (c *Client) userContent(path string) string {
	return "content/users/" + url.PathEscape(c.session.Username) + "/" + path
}

// CreateAPIKey creates an "API Key" item and then registers it as an app.
// A registration failure leaves the item in place.
func (c *Client) CreateAPIKey(ctx context.Context, opts APIKeyOptions) (*App, error) {
	if err := opts.Verify(); err != nil {
		return nil, err
	}

	item := url.Values{
		"title":       {opts.Title},
		"description": {opts.Description},
		"snippet":     {opts.Snippet},
		"tags":        {strings.Join(opts.Tags, ",")},
		"type":        {"API Key"},
	}
	var added addItemResponse
	if err := c.post(ctx, c.userContent("addItem"), item, &added); err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	if !added.Success || added.ID == "" {
		return nil, errors.New("add item: not created")
	}

	var app App
	err := c.post(ctx, "oauth2/registerApp", url.Values{
		"itemId":        {added.ID},
		"appType":       {"apikey"},
		"httpReferrers": {jsonList(opts.HTTPReferrers)},
		"redirect_uris": {jsonList(opts.RedirectURIs)},
		"privileges":    {jsonList(opts.Privileges)},
	}, &app)
	if err != nil {
		return nil, fmt.Errorf("register app for item %s: %w", added.ID, err)
	}
	return &app, nil
}

// UpdateAPIKey replaces the registration's referrers, redirect URIs and
// privileges.
func (c *Client) UpdateAPIKey(ctx context.Context, clientID string, opts APIKeyOptions) (*App, error) {
	if err := opts.Verify(); err != nil {
		return nil, err
	}
	var app App
	err := c.post(ctx, "oauth2/apps/"+url.PathEscape(clientID)+"/update", url.Values{
		"appType":       {"apikey"},
		"httpReferrers": {jsonList(opts.HTTPReferrers)},
		"redirect_uris": {jsonList(opts.RedirectURIs)},
		"privileges":    {jsonList(opts.Privileges)},
	}, &app)
	if err != nil {
		return nil, fmt.Errorf("update app %s: %w", clientID, err)
	}
	return &app, nil
}

// ResetAPIKey invalidates the current key and issues a new one for the
// same item.
func (c *Client) ResetAPIKey(ctx context.Context, clientID, itemID string) (*App, error) {
	var app App
	err := c.post(ctx, "oauth2/apps/"+url.PathEscape(clientID)+"/resetApiKey", url.Values{"itemId": {itemID}}, &app)
	if err != nil {
		return nil, fmt.Errorf("reset api key %s: %w", clientID, err)
	}
	return &app, nil
}

// DeleteAPIKey deletes the API key item, which also removes the key.
func (c *Client) DeleteAPIKey(ctx context.Context, itemID string) error {
	var resp struct {
		Success bool   `json:"success"`
		ItemID  string `json:"itemId"`
	}
	if err := c.post(ctx, c.userContent("items/"+url.PathEscape(itemID)+"/delete"), nil, &resp); err != nil {
		return fmt.Errorf("delete item %s: %w", itemID, err)
	}
	if !resp.Success {
		return fmt.Errorf("delete item %s: not deleted", itemID)
	}
	return nil
}

// Item is a search hit.
type Item struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	TypeKeywords []string `json:"typeKeywords"`
	Owner        string   `json:"owner"`
	Created      int64    `json:"created"`
}

type searchResponse struct {
	Total     int    `json:"total"`
	Start     int    `json:"start"`
	Num       int    `json:"num"`
	NextStart int    `json:"nextStart"`
	Results   []Item `json:"results"`
}

const searchPageSize = 100

// ListAuthenticationItems returns the user's API keys and registered apps,
// newest first, reading pages until a short page.
func (c *Client) ListAuthenticationItems(ctx context.Context) ([]Item, error) {
	q := fmt.Sprintf(`owner:%s AND (type:"API Key" OR typekeywords:"Registered App")`, c.session.Username)
	var all []Item
	for start := 1; ; start += searchPageSize {
		var page searchResponse
		err := c.get(ctx, "search", url.Values{
			"q":         {q},
			"start":     {strconv.Itoa(start)},
			"num":       {strconv.Itoa(searchPageSize)},
			"sortField": {"created"},
			"sortOrder": {"desc"},
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		all = append(all, page.Results...)
		if len(page.Results) < searchPageSize {
			return all, nil
		}
	}
}
