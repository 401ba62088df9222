// Package auth resolves the one credential a run uses.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingCredentials = errors.New("missing-credentials")
	ErrUnsupported        = errors.New("unsupported")
)

// Provenance records how a Credential was obtained.
type Provenance int

const (
	ProvenanceNone Provenance = iota
	ProvenanceStaticKey
	ProvenanceClientCredentials
	ProvenanceUserSession
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceStaticKey:
		return "static-key"
	case ProvenanceClientCredentials:
		return "client-credentials"
	case ProvenanceUserSession:
		return "user-session"
	default:
		return "none"
	}
}

// Credential is an opaque token with its provenance. The zero value is not a
// usable credential. Credentials are comparable with ==.
type Credential struct {
	token      string
	provenance Provenance
	expires    time.Time
}

// NewStaticKey wraps an API key verbatim.
func NewStaticKey(key string) Credential {
	return Credential{token: key, provenance: ProvenanceStaticKey}
}

func (c Credential) Token() string          { return c.token }
func (c Credential) Provenance() Provenance { return c.provenance }

// Expires is the zero time for static keys.
func (c Credential) Expires() time.Time { return c.expires }

func (c Credential) IsZero() bool { return c.token == "" }

// String never includes the token.
func (c Credential) String() string {
	return fmt.Sprintf("credential(%s)", c.provenance)
}

// AuthError is fatal for a run: no request is issued after it.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Config names the credential forms that may be configured.
type Config struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Session is a signed-in portal user.
type Session struct {
	Token     string
	Expires   time.Time
	Username  string
	PortalURL string
}

// SignIner exchanges a username and password for a Session.
type SignIner interface {
	SignIn(ctx context.Context, username, password string) (*Session, error)
}

// Provider resolves a Credential from Config. Forms are tried in a fixed
// order: static key, client credentials, then username and password.
type Provider struct {
	cfg    Config
	signIn SignIner
}

func NewProvider(cfg Config, signIn SignIner) *Provider {
	return &Provider{cfg: cfg, signIn: signIn}
}

// Resolve returns the run credential or an *AuthError. Only the
// username/password form touches the network, and it is never retried.
func (p *Provider) Resolve(ctx context.Context) (Credential, error) {
	switch {
	case p.cfg.APIKey != "":
		return NewStaticKey(p.cfg.APIKey), nil

	case p.cfg.ClientID != "" || p.cfg.ClientSecret != "":
		return Credential{}, &AuthError{Op: "client-credentials", Err: ErrUnsupported}

	case p.cfg.Username != "" || p.cfg.Password != "":
		if p.cfg.Username == "" || p.cfg.Password == "" {
			return Credential{}, &AuthError{
				Op:  "sign-in",
				Err: fmt.Errorf("%w: username and password must both be set", ErrMissingCredentials),
			}
		}
		if p.signIn == nil {
			return Credential{}, &AuthError{Op: "sign-in", Err: ErrUnsupported}
		}
		session, err := p.signIn.SignIn(ctx, p.cfg.Username, p.cfg.Password)
		if err != nil {
			return Credential{}, &AuthError{Op: "sign-in", Err: err}
		}
		if session == nil || session.Token == "" {
			return Credential{}, &AuthError{Op: "sign-in", Err: errors.New("portal returned an empty token")}
		}
		return Credential{
			token:      session.Token,
			provenance: ProvenanceUserSession,
			expires:    session.Expires,
		}, nil

	default:
		return Credential{}, &AuthError{Op: "resolve", Err: ErrMissingCredentials}
	}
}
