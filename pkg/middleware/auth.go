package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/campuspoints/portal/internal/apiclient"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface ID token verification depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

const (
	stateKey       = "auth"
	credentialsKey = "credentials"
	claimsKey      = "claims"
)

// SessionCookie names the cookie that carries the session id.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Set writes id into the cookie; maxAge is in seconds.
func (sc SessionCookie) Set(c *gin.Context, id string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sc.Name, id, maxAge, "/", "", sc.Secure, true)
}

// Clear expires the cookie in the browser.
func (sc SessionCookie) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sc.Name, "", -1, "/", "", sc.Secure, true)
}

// Session restores the session named by the cookie and stores the resulting
// AuthState on the gin context. It never aborts; guards decide what an
// unauthenticated or loading state means for their route. The cookie is only
// expired once the store has answered that the session is gone; a store error
// leaves it in place.
func Session(svc *sessions.Service, cookie SessionCookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		var st sessions.AuthState
		if id, err := c.Cookie(cookie.Name); err == nil && id != "" {
			st = svc.Restore(c.Request.Context(), id)
			switch {
			case st.Err != nil:
				logger.Warnf("restore session: %v", st.Err)
			case !st.IsAuthenticated && !st.IsLoading:
				cookie.Clear(c)
			}
		}
		c.Set(stateKey, st)
		if st.IsAuthenticated && st.Session != nil {
			c.Set(claimsKey, st.Session.Profile)
			c.Set(credentialsKey, &sessionCredentials{svc: svc, id: st.Session.ID})
		}
		c.Next()
	}
}

// State returns the AuthState the Session middleware stored, or the zero
// (unauthenticated) state.
func State(c *gin.Context) sessions.AuthState {
	if v, ok := c.Get(stateKey); ok {
		if st, ok := v.(sessions.AuthState); ok {
			return st
		}
	}
	return sessions.AuthState{}
}

// Credentials returns the API credentials of the current request.
func Credentials(c *gin.Context) apiclient.Credentials {
	if v, ok := c.Get(credentialsKey); ok {
		if cr, ok := v.(apiclient.Credentials); ok {
			return cr
		}
	}
	return apiclient.Anonymous{}
}

// Invalidated reports whether the session of this request was cleared after
// the API rejected its token.
func Invalidated(c *gin.Context) bool {
	if v, ok := c.Get(credentialsKey); ok {
		if sc, ok := v.(*sessionCredentials); ok {
			return sc.invalidated()
		}
	}
	return false
}

// sessionCredentials reads the access token from the session store on every
// call so a renewal done by a concurrent request is picked up.
type sessionCredentials struct {
	svc  *sessions.Service
	id   string
	once sync.Once
	mu   sync.Mutex
	done bool
}

func (s *sessionCredentials) AccessToken(ctx context.Context) string {
	if s.invalidated() {
		return ""
	}
	sess, err := s.svc.Get(ctx, s.id)
	if err != nil {
		logger.Warnf("read access token: %v", err)
		return ""
	}
	if sess == nil {
		return ""
	}
	return sess.AccessToken
}

func (s *sessionCredentials) Invalidate(ctx context.Context) {
	s.once.Do(func() {
		if err := s.svc.Clear(context.WithoutCancel(ctx), s.id); err != nil {
			logger.Errorf("clear session %s: %v", s.id, err)
		}
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
	})
}

func (s *sessionCredentials) invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
