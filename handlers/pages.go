package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/campuspoints/portal/internal/apiclient"
	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/notifications"
	"github.com/campuspoints/portal/internal/prefs"
	"github.com/campuspoints/portal/internal/roles"
	"github.com/campuspoints/portal/internal/routes"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// recentFeedback is how many feedback entries the admin dashboard shows.
const recentFeedback = 5

// PagesHandler serves the data behind each role area.
type PagesHandler struct {
	api         *apiclient.Client
	sessionsSvc *sessions.Service
	prefs       prefs.Store
	cookie      middleware.SessionCookie
	poll        time.Duration
	snooze      time.Duration
	now         func() time.Time
}

func NewPagesHandler(cfg *config.Config, api *apiclient.Client, s *sessions.Service, p prefs.Store) *PagesHandler {
	return &PagesHandler{
		api:         api,
		sessionsSvc: s,
		prefs:       p,
		cookie:      middleware.SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.SecureCookies()},
		poll:        cfg.Notifications.PollInterval,
		snooze:      cfg.Prefs.RecommendationsSnooze,
		now:         time.Now,
	}
}

func (h *PagesHandler) Register(r *gin.Engine) {
	gate := func(role roles.Role, area string) gin.HandlerFunc {
		return middleware.RequireRole(h.sessionsSvc, role, area)
	}

	r.GET(routes.Home, gate(roles.Student, "home"), h.Home)
	r.GET("/me", gate(roles.Student, "me"), h.Me)
	r.GET(routes.Onboarding, gate(roles.Student, "onboarding"), h.Onboarding)

	admin := r.Group("/admin", gate(roles.Admin, "admin"))
	admin.GET("/dashboard", h.AdminDashboard)
	admin.GET("/events", h.Events)
	admin.GET("/event-categories", h.EventCategories)
	admin.GET("/products", h.Products)
	admin.GET("/partners", h.Partners)
	admin.GET("/feedback", h.Feedback)

	partner := r.Group("/partner", gate(roles.Partner, "partner"))
	partner.GET("/events", h.PartnerEvents)
	partner.GET("/wallet", h.Wallet)

	student := r.Group("/student", gate(roles.Student, "student"))
	student.GET("/events", h.StudentEvents)
	student.GET("/catalog", h.Catalog)
	student.GET("/products", h.Products)
	student.GET("/wallet", h.Wallet)
	student.GET("/notifications", h.Notifications)
	student.POST("/notifications/:id/read", h.MarkNotificationRead)
	student.GET("/notifications/stream", h.NotificationStream)
	student.GET("/recommendations", h.Recommendations)
	student.POST("/recommendations/dismiss", h.DismissRecommendations)
}

// apiContext carries the session credentials of c into API calls.
func (h *PagesHandler) apiContext(c *gin.Context) context.Context {
	return apiclient.WithCredentials(c.Request.Context(), middleware.Credentials(c))
}

// fail renders an upstream failure. A rejected token ends in a single redirect
// to the login page; anything else is a retryable error for the view.
func (h *PagesHandler) fail(c *gin.Context, what string, err error) {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		sessionExpired(c, h.cookie)
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "could not load " + what, "retry": true})
}

func (h *PagesHandler) Home(c *gin.Context) {
	ctx := h.apiContext(c)
	var (
		me     *apiclient.Me
		events []apiclient.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { me, err = h.api.Me(gctx); return })
	g.Go(func() (err error) { events, err = h.api.StudentEvents(gctx); return })
	if err := g.Wait(); err != nil {
		h.fail(c, "home", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"me": me, "events": events})
}

func (h *PagesHandler) Me(c *gin.Context) {
	sess := middleware.State(c).Session
	role, err := h.sessionsSvc.ResolveRole(c.Request.Context(), sess)
	if err != nil {
		logger.Errorf("resolve role: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve role"})
		return
	}
	me, err := h.api.Me(h.apiContext(c))
	if err != nil {
		h.fail(c, "profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":   sess.Subject(),
		"role":      role,
		"expiresAt": sess.ExpiresAt,
		"profile":   me,
	})
}

// Onboarding describes the profile step; the form itself lives in the shell.
func (h *PagesHandler) Onboarding(c *gin.Context) {
	sess := middleware.State(c).Session
	email, _ := sess.Profile["email"].(string)
	name, _ := sess.Profile["name"].(string)
	c.JSON(http.StatusOK, gin.H{"step": "onboarding", "email": email, "name": name})
}

func (h *PagesHandler) AdminDashboard(c *gin.Context) {
	var (
		events   []apiclient.Event
		products []apiclient.Product
		partners []apiclient.Partner
		feedback []apiclient.Feedback
	)
	g, ctx := errgroup.WithContext(h.apiContext(c))
	g.Go(func() (err error) { events, err = h.api.Events(ctx, nil); return })
	g.Go(func() (err error) { products, err = h.api.Products(ctx, nil); return })
	g.Go(func() (err error) { partners, err = h.api.Partners(ctx); return })
	g.Go(func() (err error) { feedback, err = h.api.Feedback(ctx, nil); return })
	if err := g.Wait(); err != nil {
		h.fail(c, "dashboard", err)
		return
	}

	recent := feedback
	if len(recent) > recentFeedback {
		recent = recent[:recentFeedback]
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": gin.H{
			"events":   len(events),
			"products": len(products),
			"partners": len(partners),
			"feedback": len(feedback),
		},
		"recentFeedback": recent,
	})
}

func (h *PagesHandler) Events(c *gin.Context) {
	events, err := h.api.Events(h.apiContext(c), c.Request.URL.Query())
	if err != nil {
		h.fail(c, "events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *PagesHandler) EventCategories(c *gin.Context) {
	cats, err := h.api.EventCategories(h.apiContext(c))
	if err != nil {
		h.fail(c, "event categories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (h *PagesHandler) Products(c *gin.Context) {
	products, err := h.api.Products(h.apiContext(c), c.Request.URL.Query())
	if err != nil {
		h.fail(c, "products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *PagesHandler) Partners(c *gin.Context) {
	partners, err := h.api.Partners(h.apiContext(c))
	if err != nil {
		h.fail(c, "partners", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partners": partners})
}

func (h *PagesHandler) Feedback(c *gin.Context) {
	feedback, err := h.api.Feedback(h.apiContext(c), c.Request.URL.Query())
	if err != nil {
		h.fail(c, "feedback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": feedback})
}

// PartnerEvents lists the events the signed-in partner organises.
func (h *PagesHandler) PartnerEvents(c *gin.Context) {
	ctx := h.apiContext(c)
	me, err := h.api.Me(ctx)
	if err != nil {
		h.fail(c, "events", err)
		return
	}
	q := c.Request.URL.Query()
	q.Set("partnerId", me.ID)
	events, err := h.api.Events(ctx, q)
	if err != nil {
		h.fail(c, "events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Wallet serves both the partner and the student wallet page.
func (h *PagesHandler) Wallet(c *gin.Context) {
	ctx := h.apiContext(c)
	me, err := h.api.Me(ctx)
	if err != nil {
		h.fail(c, "wallet", err)
		return
	}
	if me.WalletID == "" {
		c.JSON(http.StatusOK, gin.H{"wallet": nil, "transactions": []apiclient.WalletTransaction{}})
		return
	}

	var (
		wallet  *apiclient.Wallet
		history []apiclient.WalletTransaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { wallet, err = h.api.Wallet(gctx, me.WalletID); return })
	g.Go(func() (err error) { history, err = h.api.WalletHistory(gctx); return })
	if err := g.Wait(); err != nil {
		h.fail(c, "wallet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet, "transactions": history})
}

func (h *PagesHandler) StudentEvents(c *gin.Context) {
	events, err := h.api.StudentEvents(h.apiContext(c))
	if err != nil {
		h.fail(c, "your events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Catalog is the event browser: events plus the categories to filter by.
func (h *PagesHandler) Catalog(c *gin.Context) {
	var (
		events []apiclient.Event
		cats   []apiclient.EventCategory
	)
	query := c.Request.URL.Query()
	g, ctx := errgroup.WithContext(h.apiContext(c))
	g.Go(func() (err error) { events, err = h.api.Events(ctx, query); return })
	g.Go(func() (err error) { cats, err = h.api.EventCategories(ctx); return })
	if err := g.Wait(); err != nil {
		h.fail(c, "catalog", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "categories": cats})
}

func (h *PagesHandler) Notifications(c *gin.Context) {
	list, err := h.api.Broadcasts(h.apiContext(c))
	if err != nil {
		h.fail(c, "notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": list, "unread": notifications.Unread(list)})
}

func (h *PagesHandler) MarkNotificationRead(c *gin.Context) {
	if err := h.api.MarkBroadcastRead(h.apiContext(c), c.Param("id")); err != nil {
		h.fail(c, "notification", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NotificationStream pushes a snapshot per poll as server-sent events. The
// poller lives exactly as long as the connection.
func (h *PagesHandler) NotificationStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(h.apiContext(c))
	defer cancel()
	snaps := notifications.NewPoller(h.api, h.poll).Run(ctx)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		snap, ok := <-snaps
		if !ok {
			return false
		}
		switch {
		case errors.Is(snap.Err, apiclient.ErrUnauthorized):
			c.SSEvent("unauthorized", gin.H{"redirect": routes.Login, "message": expiredMessage})
			return false
		case snap.Err != nil:
			c.SSEvent("error", gin.H{"error": "could not load notifications", "retry": true})
			return true
		}
		c.SSEvent("notifications", snap)
		return true
	})
}

// Recommendations is empty while the student has the panel snoozed.
func (h *PagesHandler) Recommendations(c *gin.Context) {
	sub := middleware.State(c).Session.Subject()
	snoozed, err := prefs.Snoozed(c.Request.Context(), h.prefs, sub, prefs.RecommendedEventsDismissed, h.snooze, h.now())
	if err != nil {
		// a broken preference store should not hide recommendations
		logger.Warnf("read recommendations preference: %v", err)
	}
	if snoozed {
		c.JSON(http.StatusOK, gin.H{"events": []apiclient.Event{}, "snoozed": true})
		return
	}
	events, err := h.api.Events(h.apiContext(c), url.Values{"recommended": {"true"}})
	if err != nil {
		h.fail(c, "recommendations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "snoozed": false})
}

func (h *PagesHandler) DismissRecommendations(c *gin.Context) {
	sub := middleware.State(c).Session.Subject()
	if err := h.prefs.Dismiss(c.Request.Context(), sub, prefs.RecommendedEventsDismissed, h.now()); err != nil {
		logger.Errorf("dismiss recommendations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save preference"})
		return
	}
	c.Status(http.StatusNoContent)
}
