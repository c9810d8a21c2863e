package middleware

import (
	"net/http"

	"github.com/campuspoints/portal/internal/roles"
	"github.com/campuspoints/portal/internal/routes"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// RequireRole guards a role area. While the session is still loading the
// request is answered with 202 and a Refresh header so the protected handlers
// never run against an unknown role. A session without the role is sent home;
// no session at all is sent to the login page.
func RequireRole(svc *sessions.Service, role roles.Role, area string) gin.HandlerFunc {
	decide := func(label string) {
		metrics.GateDecisions.WithLabelValues(area, label).Inc()
	}
	return func(c *gin.Context) {
		st := State(c)
		if st.IsLoading {
			decide("loading")
			c.Header("Refresh", "1")
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{"status": "loading"})
			return
		}
		if !st.IsAuthenticated || st.Session == nil {
			decide("unauthenticated")
			c.Redirect(http.StatusFound, routes.Login)
			c.Abort()
			return
		}

		ok, err := svc.HasRole(c.Request.Context(), st.Session, role)
		if err != nil {
			logger.Errorf("role check for %s area: %v", area, err)
			ok = false
		}
		if !ok {
			decide("denied")
			c.Redirect(http.StatusFound, routes.Home)
			c.Abort()
			return
		}
		decide("allowed")
		c.Next()
	}
}
