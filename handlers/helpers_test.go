package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/campuspoints/portal/internal/apiclient"
	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/prefs"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/internal/signin"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeOIDC struct {
	tokens      *sessions.Tokens
	err         error
	gotCode     string
	gotVerifier string
	gotNonce    string
}

func (f *fakeOIDC) AuthCodeURL(state, nonce, verifier string) string {
	return "https://idp.example/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeOIDC) Exchange(ctx context.Context, code, verifier, nonce string) (*sessions.Tokens, error) {
	f.gotCode, f.gotVerifier, f.gotNonce = code, verifier, nonce
	return f.tokens, f.err
}

func (f *fakeOIDC) LogoutURL(idToken string) string {
	return "https://idp.example/logout?id_token_hint=" + idToken
}

type fakeOnboarding struct {
	need bool
	err  error
}

func (f *fakeOnboarding) NeedsOnboarding(ctx context.Context, idToken string) (bool, error) {
	return f.need, f.err
}

type env struct {
	cfg        *config.Config
	svc        *sessions.Service
	oidc       *fakeOIDC
	onboarding *fakeOnboarding
	prefs      *prefs.MemoryStore
	router     *gin.Engine
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Session.CookieName = "portal_session"
	cfg.Session.Secret = "test-secret"
	cfg.Session.TTL = time.Hour
	cfg.Session.StateTTL = 10 * time.Minute
	cfg.Notifications.PollInterval = 20 * time.Millisecond
	cfg.Prefs.RecommendationsSnooze = 24 * time.Hour
	return cfg
}

// newEnv wires the full router against api, a stand-in for the remote REST
// API. A nil api points the client at a closed port.
func newEnv(t *testing.T, api http.HandlerFunc) *env {
	t.Helper()
	cfg := testConfig()
	repo, err := sessions.NewMemoryRepository()
	require.NoError(t, err)
	svc := sessions.NewService(repo, sessions.StorageKey("https://idp.example", "client"), sessions.Options{TTL: cfg.Session.TTL})

	apiURL := "http://127.0.0.1:1"
	if api != nil {
		srv := httptest.NewServer(api)
		t.Cleanup(srv.Close)
		apiURL = srv.URL
	}
	client, err := apiclient.New(config.APIConfig{BaseURL: apiURL, Timeout: time.Second})
	require.NoError(t, err)

	e := &env{cfg: cfg, svc: svc, oidc: &fakeOIDC{}, onboarding: &fakeOnboarding{}, prefs: prefs.NewMemoryStore()}
	r := gin.New()
	r.Use(middleware.Session(svc, middleware.SessionCookie{Name: cfg.Session.CookieName}))
	NewAuthHandler(cfg, e.oidc, svc, signin.NewResolver(svc, e.onboarding)).Register(r)
	NewPagesHandler(cfg, client, svc, e.prefs).Register(r)
	e.router = r
	return e
}

func (e *env) login(t *testing.T, claims map[string]interface{}) *sessions.Session {
	t.Helper()
	sess, err := e.svc.Create(context.Background(), &sessions.Tokens{
		IDToken:     "id-token",
		AccessToken: "access-token",
		Expiry:      time.Now().Add(time.Hour),
		Claims:      claims,
	})
	require.NoError(t, err)
	return sess
}

func (e *env) do(req *http.Request, sess *sessions.Session) *httptest.ResponseRecorder {
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: e.cfg.Session.CookieName, Value: sess.ID})
	}
	rw := httptest.NewRecorder()
	e.router.ServeHTTP(rw, req)
	return rw
}

func responseCookie(rw *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range (&http.Response{Header: rw.Header()}).Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var (
	adminClaims   = map[string]interface{}{"sub": "admin-1", "cognito:groups": []interface{}{"Admin"}}
	partnerClaims = map[string]interface{}{"sub": "partner-1", "cognito:groups": []interface{}{"PARTNERS"}}
	studentClaims = map[string]interface{}{"sub": "student-1", "email": "s@campus.example"}
)
