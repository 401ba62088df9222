package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/rest"
)

type stubSignIn struct {
	calls   atomic.Int32
	session *Session
	err     error
}

func (s *stubSignIn) SignIn(_ context.Context, _, _ string) (*Session, error) {
	s.calls.Add(1)
	return s.session, s.err
}

func TestResolveStaticKeyIsIdempotent(t *testing.T) {
	stub := &stubSignIn{}
	p := NewProvider(Config{APIKey: "AAPK123", Username: "u", Password: "p"}, stub)

	first, err := p.Resolve(context.Background())
	require.NoError(t, err)
	second, err := p.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first == second)
	assert.Equal(t, "AAPK123", first.Token())
	assert.Equal(t, ProvenanceStaticKey, first.Provenance())
	assert.Zero(t, stub.calls.Load(), "static key must not trigger a sign-in")
}

func TestResolvePriority(t *testing.T) {
	stub := &stubSignIn{session: &Session{Token: "session-token"}}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		wantOp  string
	}{
		{"client credentials unsupported", Config{ClientID: "id", ClientSecret: "secret", Username: "u", Password: "p"}, ErrUnsupported, "client-credentials"},
		{"nothing configured", Config{}, ErrMissingCredentials, "resolve"},
		{"half a user pair", Config{Username: "u"}, ErrMissingCredentials, "sign-in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := NewProvider(tt.cfg, stub).Resolve(context.Background())
			require.Error(t, err)
			assert.True(t, cred.IsZero())
			assert.ErrorIs(t, err, tt.wantErr)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantOp, authErr.Op)
		})
	}
	assert.Zero(t, stub.calls.Load())
}

func TestResolveUserSession(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	stub := &stubSignIn{session: &Session{Token: "session-token", Expires: expires}}

	cred, err := NewProvider(Config{Username: "u", Password: "p"}, stub).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-token", cred.Token())
	assert.Equal(t, ProvenanceUserSession, cred.Provenance())
	assert.Equal(t, expires, cred.Expires())
	assert.NotContains(t, cred.String(), "session-token")
}

func TestResolveSignInFailureIsNotRetried(t *testing.T) {
	cause := errors.New("invalid username or password")
	stub := &stubSignIn{err: cause}

	_, err := NewProvider(Config{Username: "u", Password: "p"}, stub).Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestPortalSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/sharing/rest/generateToken", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "json", r.PostForm.Get("f"))

		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("password") != "secret" {
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unable to generate token.","details":["Invalid username or password."]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-1","expires":1893456000000,"ssl":true}`))
	}))
	defer srv.Close()

	signIn := NewPortalSignIn(srv.URL+"/sharing/rest/", rest.NewClient(5*time.Second))

	session, err := signIn.SignIn(context.Background(), "jsmith", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", session.Token)
	assert.Equal(t, "jsmith", session.Username)
	assert.Equal(t, int64(1893456000000), session.Expires.UnixMilli())

	_, err = signIn.SignIn(context.Background(), "jsmith", "wrong")
	var remote *rest.Error
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 400, remote.Code)
}
