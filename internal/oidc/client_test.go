package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fakeIDToken(claims map[string]interface{}) string {
	b, _ := json.Marshal(claims)
	hdr := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return hdr + "." + base64.RawURLEncoding.EncodeToString(b) + ".sig"
}

func testConfig() config.OIDCConfig {
	return config.OIDCConfig{
		Authority:     "https://cognito-idp.test/pool",
		ClientID:      "cid",
		ClientSecret:  "csecret",
		RedirectURI:   "http://localhost:8080/auth/callback",
		Scopes:        []string{"openid", "email"},
		CognitoDomain: "https://portal.auth.test",
		LogoutURI:     "http://localhost:8080/login",
	}
}

func tokenServer(t *testing.T, handle func(form url.Values) map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(r.PostForm))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(testConfig(), oauth2.Endpoint{
		AuthURL:   srv.URL + "/oauth2/authorize",
		TokenURL:  srv.URL + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, NewInsecureVerifier())
}

func TestAuthCodeURL_CarriesStateNonceAndPKCE(t *testing.T) {
	c := NewClient(testConfig(), oauth2.Endpoint{AuthURL: "https://idp.test/oauth2/authorize", TokenURL: "https://idp.test/oauth2/token"}, NewInsecureVerifier())
	u, err := url.Parse(c.AuthCodeURL("st", "nn", oauth2.GenerateVerifier()))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "nn", q.Get("nonce"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, "cid", q.Get("client_id"))
}

func TestExchange_Success(t *testing.T) {
	idToken := fakeIDToken(map[string]interface{}{"sub": "u1", "nonce": "nn", "cognito:groups": []string{"Admin"}})
	srv := tokenServer(t, func(form url.Values) map[string]interface{} {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "the-code", form.Get("code"))
		assert.Equal(t, "the-verifier", form.Get("code_verifier"))
		return map[string]interface{}{"access_token": "at", "id_token": idToken, "refresh_token": "rt", "token_type": "Bearer", "expires_in": 3600}
	})

	tok, err := newTestClient(srv).Exchange(context.Background(), "the-code", "the-verifier", "nn")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, idToken, tok.IDToken)
	assert.Equal(t, "u1", tok.Claims["sub"])
	assert.False(t, tok.Expiry.IsZero())
}

func TestExchange_NonceMismatch(t *testing.T) {
	srv := tokenServer(t, func(url.Values) map[string]interface{} {
		return map[string]interface{}{"access_token": "at", "id_token": fakeIDToken(map[string]interface{}{"sub": "u1", "nonce": "other"})}
	})
	_, err := newTestClient(srv).Exchange(context.Background(), "c", "v", "nn")
	require.ErrorIs(t, err, ErrNonceMismatch)
}

func TestExchange_MissingIDToken(t *testing.T) {
	srv := tokenServer(t, func(url.Values) map[string]interface{} {
		return map[string]interface{}{"access_token": "at"}
	})
	_, err := newTestClient(srv).Exchange(context.Background(), "c", "v", "nn")
	require.ErrorIs(t, err, ErrMissingIDToken)
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := tokenServer(t, func(form url.Values) map[string]interface{} {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "rt-1", form.Get("refresh_token"))
		return map[string]interface{}{"access_token": "at-2", "id_token": fakeIDToken(map[string]interface{}{"sub": "u1"}), "expires_in": 3600}
	})

	tok, err := newTestClient(srv).Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.Equal(t, "u1", tok.Claims["sub"])
}

func TestRefresh_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Refresh(context.Background(), "revoked")
	require.ErrorIs(t, err, sessions.ErrRefreshRejected)
}

func TestRefresh_UnreachableProviderIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	_, err := c.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sessions.ErrRefreshRejected)
}

func TestLogoutURL(t *testing.T) {
	c := NewClient(testConfig(), oauth2.Endpoint{}, NewInsecureVerifier())
	u, err := url.Parse(c.LogoutURL("id-tok"))
	require.NoError(t, err)
	assert.Equal(t, "portal.auth.test", u.Host)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "http://localhost:8080/login", u.Query().Get("logout_uri"))
	assert.Equal(t, "id-tok", u.Query().Get("id_token_hint"))

	noHint, _ := url.Parse(c.LogoutURL(""))
	assert.False(t, noHint.Query().Has("id_token_hint"))
}

func TestInsecureVerifier(t *testing.T) {
	tok, err := NewInsecureVerifier().Verify(context.Background(), fakeIDToken(map[string]interface{}{"sub": "s1"}))
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	assert.Equal(t, "s1", claims["sub"])

	_, err = NewInsecureVerifier().Verify(context.Background(), "garbage")
	assert.Error(t, err)
}

func TestHostedUIEndpoint(t *testing.T) {
	ep := HostedUIEndpoint("https://portal.auth.eu-west-1.amazoncognito.com")
	require.Equal(t, "https://portal.auth.eu-west-1.amazoncognito.com/oauth2/authorize", ep.AuthURL)
	require.Equal(t, "https://portal.auth.eu-west-1.amazoncognito.com/oauth2/token", ep.TokenURL)
}
