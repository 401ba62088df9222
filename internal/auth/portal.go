package auth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"usagegen/internal/rest"
)

// DefaultTokenMinutes is the lifetime requested from generateToken.
const DefaultTokenMinutes = 120

// PortalSignIn signs in through the portal's generateToken endpoint.
type PortalSignIn struct {
	PortalURL  string
	Client     *rest.Client
	Expiration int // minutes
}

func NewPortalSignIn(portalURL string, client *rest.Client) *PortalSignIn {
	if client == nil {
		client = rest.NewClient(30 * time.Second)
	}
	return &PortalSignIn{
		PortalURL:  strings.TrimRight(portalURL, "/"),
		Client:     client,
		Expiration: DefaultTokenMinutes,
	}
}

type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	SSL     bool   `json:"ssl"`
}

// SignIn posts the credentials once. Any failure is returned as is.
func (s *PortalSignIn) SignIn(ctx context.Context, username, password string) (*Session, error) {
	params := url.Values{
		"username":   {username},
		"password":   {password},
		"client":     {"referer"},
		"referer":    {s.Client.Referer},
		"expiration": {strconv.Itoa(s.Expiration)},
		"f":          {"json"},
	}

	var resp tokenResponse
	if err := s.Client.Post(ctx, s.PortalURL+"/generateToken", params, &resp); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("generate token: no token in response")
	}

	session := &Session{
		Token:     resp.Token,
		Username:  username,
		PortalURL: s.PortalURL,
	}
	if resp.Expires > 0 {
		session.Expires = time.UnixMilli(resp.Expires)
	}
	return session, nil
}
