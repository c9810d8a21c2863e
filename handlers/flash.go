package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/campuspoints/portal/internal/routes"
	"github.com/campuspoints/portal/internal/signin"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/gin-gonic/gin"
)

const (
	flashCookie    = "portal_flash"
	expiredMessage = "Your session has expired. Please sign in again."
	redirectedKey  = "login_redirected"
)

func setFlash(c *gin.Context, secure bool, f signin.Flash) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	// readable by the shell, which renders it as a toast
	c.SetCookie(flashCookie, base64.RawURLEncoding.EncodeToString(b), 60, "/", "", secure, false)
}

func takeFlash(c *gin.Context, secure bool) *signin.Flash {
	raw, err := c.Cookie(flashCookie)
	if err != nil || raw == "" {
		return nil
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, "", -1, "/", "", secure, false)
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var f signin.Flash
	if json.Unmarshal(b, &f) != nil || f.Message == "" {
		return nil
	}
	return &f
}

// sessionExpired sends the browser to the login page after the API rejected
// the session token. The session itself was already cleared by the API
// client; this only runs once per request.
func sessionExpired(c *gin.Context, cookie middleware.SessionCookie) {
	if c.GetBool(redirectedKey) {
		return
	}
	c.Set(redirectedKey, true)
	cookie.Clear(c)
	setFlash(c, cookie.Secure, signin.Flash{Kind: signin.FlashError, Message: expiredMessage})
	c.Redirect(http.StatusFound, routes.Login)
	c.Abort()
}
