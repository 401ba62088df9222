// Package portal wraps the sharing REST endpoints used around a run: the
// organization usage report and API key management.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"usagegen/internal/auth"
	"usagegen/internal/rest"
)

// ErrNoSession is returned when a call needs a signed-in user.
var ErrNoSession = errors.New("portal: user session required")

// Client issues portal calls on behalf of one signed-in user.
type Client struct {
	REST    *rest.Client
	session *auth.Session
	base    string
}

// NewClient binds a session. The portal URL comes from the session unless
// portalURL is set.
func NewClient(rc *rest.Client, session *auth.Session, portalURL string) (*Client, error) {
	if session == nil || session.Token == "" {
		return nil, ErrNoSession
	}
	base := portalURL
	if base == "" {
		base = session.PortalURL
	}
	if base == "" {
		return nil, errors.New("portal: no portal url")
	}
	if rc == nil {
		rc = rest.NewClient(30 * time.Second)
	}
	return &Client{REST: rc, session: session, base: strings.TrimRight(base, "/")}, nil
}

func (c *Client) URL(path string) string {
	return c.base + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) params(extra url.Values) url.Values {
	p := url.Values{"f": {"json"}, "token": {c.session.Token}}
	for k, vs := range extra {
		p[k] = vs
	}
	return p
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.REST.Get(ctx, c.URL(path), c.params(params), out)
}

func (c *Client) post(ctx context.Context, path string, params url.Values, out any) error {
	return c.REST.Post(ctx, c.URL(path), c.params(params), out)
}

// Self is the subset of portals/self the tools need.
type Self struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

func (c *Client) Self(ctx context.Context) (*Self, error) {
	var self Self
	if err := c.get(ctx, "portals/self", nil, &self); err != nil {
		return nil, fmt.Errorf("portals/self: %w", err)
	}
	if self.ID == "" {
		return nil, errors.New("portals/self: no organization id")
	}
	return &self, nil
}

// UsageQuery selects a usage window. Times are truncated to whole days in UTC.
type UsageQuery struct {
	Start   time.Time
	End     time.Time
	GroupBy string
	Period  string
	Vars    string
	SType   string
	AppID   string
}

// DefaultUsageQuery covers the last days days ending at now.
func DefaultUsageQuery(now time.Time, days int) UsageQuery {
	end := now.UTC().Truncate(24 * time.Hour)
	return UsageQuery{
		Start:   end.AddDate(0, 0, -days),
		End:     end,
		GroupBy: "etype,stype,task,name",
		Period:  "1d",
		Vars:    "bw,num",
	}
}

func (q UsageQuery) values() url.Values {
	v := url.Values{
		"startTime": {strconv.FormatInt(q.Start.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(q.End.UnixMilli(), 10)},
		"groupby":   {q.GroupBy},
		"period":    {q.Period},
		"vars":      {q.Vars},
	}
	if q.SType != "" {
		v.Set("stype", q.SType)
	}
	if q.AppID != "" {
		v.Set("appId", q.AppID)
	}
	return v
}

// UsageSeries is one grouped series of the usage report.
type UsageSeries struct {
	EType string      `json:"etype"`
	SType string      `json:"stype"`
	Task  string      `json:"task"`
	Name  string      `json:"name"`
	Num   [][2]string `json:"num"`
	BW    [][2]string `json:"bw"`
}

// Total sums the num series.
func (s UsageSeries) Total() int64 {
	var n int64
	for _, p := range s.Num {
		v, err := strconv.ParseInt(p[1], 10, 64)
		if err == nil {
			n += v
		}
	}
	return n
}

type UsageReport struct {
	StartTime int64         `json:"startTime"`
	EndTime   int64         `json:"endTime"`
	Period    string        `json:"period"`
	Data      []UsageSeries `json:"data"`
}

// Usage looks up the organization id and fetches its usage report.
func (c *Client) Usage(ctx context.Context, q UsageQuery) (*UsageReport, error) {
	self, err := c.Self(ctx)
	if err != nil {
		return nil, err
	}
	var report UsageReport
	if err := c.get(ctx, "portals/"+self.ID+"/usage", q.values(), &report); err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	return &report, nil
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}
