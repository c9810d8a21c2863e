package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/routes"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/internal/signin"
	"github.com/campuspoints/portal/internal/tokens"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const stateCookie = "portal_login_state"

// OIDCClient is the part of the identity provider client the auth flow uses.
type OIDCClient interface {
	AuthCodeURL(state, nonce, verifier string) string
	Exchange(ctx context.Context, code, verifier, nonce string) (*sessions.Tokens, error)
	LogoutURL(idToken string) string
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	oidc        OIDCClient
	sessionsSvc *sessions.Service
	resolver    *signin.Resolver
	cookie      middleware.SessionCookie
}

func NewAuthHandler(cfg *config.Config, oc OIDCClient, s *sessions.Service, r *signin.Resolver) *AuthHandler {
	return &AuthHandler{
		cfg:         cfg,
		oidc:        oc,
		sessionsSvc: s,
		resolver:    r,
		cookie:      middleware.SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.SecureCookies()},
	}
}

// Register mounts the login page, the /auth flow and the flash endpoint.
func (h *AuthHandler) Register(r gin.IRouter) {
	r.GET(routes.Login, h.LoginPage)
	r.GET("/flash", h.Flash)
	a := r.Group("/auth")
	a.GET("/login", h.StartLogin)
	a.GET("/callback", h.Callback)
	a.GET("/logout", h.Logout)
}

// LoginPage is what the shell renders at /login.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	st := middleware.State(c)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": st.IsAuthenticated,
		"loginUrl":      "/auth/login",
	})
}

// Flash returns the pending flash message once.
func (h *AuthHandler) Flash(c *gin.Context) {
	f := takeFlash(c, h.cookie.Secure)
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, f)
}

// StartLogin redirects to the provider with a fresh state, nonce and PKCE
// verifier. They are kept in a signed cookie scoped to /auth until the
// callback.
func (h *AuthHandler) StartLogin(c *gin.Context) {
	ls := tokens.LoginState{
		State:    uuid.NewString(),
		Nonce:    uuid.NewString(),
		Verifier: oauth2.GenerateVerifier(),
	}
	signed, err := tokens.SignLoginState(h.cfg.Session.Secret, ls, h.cfg.Session.StateTTL)
	if err != nil {
		logger.Errorf("sign login state: %v", err)
		setFlash(c, h.cookie.Secure, signin.Flash{Kind: signin.FlashError, Message: signin.MessageFailure})
		c.Redirect(http.StatusFound, routes.Login)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, signed, int(h.cfg.Session.StateTTL.Seconds()), "/auth", "", h.cookie.Secure, true)
	c.Redirect(http.StatusFound, h.oidc.AuthCodeURL(ls.State, ls.Nonce, ls.Verifier))
}

// Callback completes the code flow and routes the browser by role.
func (h *AuthHandler) Callback(c *gin.Context) {
	st := h.completeLogin(c)
	out := h.resolver.Resolve(c.Request.Context(), st)
	if out.Wait {
		c.Header("Refresh", "1")
		c.JSON(http.StatusAccepted, gin.H{"status": "loading"})
		return
	}
	if out.Flash != nil {
		setFlash(c, h.cookie.Secure, *out.Flash)
	}
	c.Redirect(http.StatusFound, out.Redirect)
}

// completeLogin turns the provider redirect into an AuthState. A callback
// hit without provider parameters reports the state of the existing session.
func (h *AuthHandler) completeLogin(c *gin.Context) sessions.AuthState {
	code, providerErr := c.Query("code"), c.Query("error")
	if code == "" && providerErr == "" {
		return middleware.State(c)
	}

	raw, cookieErr := c.Cookie(stateCookie)
	c.SetCookie(stateCookie, "", -1, "/auth", "", h.cookie.Secure, true)
	if providerErr != "" {
		return sessions.AuthState{Err: fmt.Errorf("provider returned %s: %s", providerErr, c.Query("error_description"))}
	}
	if cookieErr != nil {
		return sessions.AuthState{Err: fmt.Errorf("%w: state cookie missing", tokens.ErrInvalidState)}
	}
	ls, err := tokens.ParseLoginState(h.cfg.Session.Secret, raw)
	if err != nil {
		return sessions.AuthState{Err: err}
	}
	if c.Query("state") != ls.State {
		return sessions.AuthState{Err: fmt.Errorf("%w: state mismatch", tokens.ErrInvalidState)}
	}

	ctx := c.Request.Context()
	t, err := h.oidc.Exchange(ctx, code, ls.Verifier, ls.Nonce)
	if err != nil {
		return sessions.AuthState{Err: err}
	}
	if prev := middleware.State(c).Session; prev != nil {
		if err := h.sessionsSvc.Clear(ctx, prev.ID); err != nil {
			logger.Warnf("clear previous session: %v", err)
		}
	}
	sess, err := h.sessionsSvc.Create(ctx, t)
	if err != nil {
		return sessions.AuthState{Err: err}
	}
	h.cookie.Set(c, sess.ID, int(h.sessionsSvc.TTL().Seconds()))
	return sessions.AuthState{IsAuthenticated: true, Session: sess}
}

// Logout destroys the local session and hands over to the provider's logout
// endpoint.
func (h *AuthHandler) Logout(c *gin.Context) {
	var idToken string
	if sess := middleware.State(c).Session; sess != nil {
		idToken = sess.IDToken
		if err := h.sessionsSvc.Clear(c.Request.Context(), sess.ID); err != nil && !errors.Is(err, sessions.ErrNoSession) {
			logger.Errorf("logout: %v", err)
		}
	}
	h.cookie.Clear(c)
	c.Redirect(http.StatusFound, h.oidc.LogoutURL(idToken))
}
