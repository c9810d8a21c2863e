package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger serves the OpenAPI description of the portal.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(r *gin.Engine) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(swaggerHTML))
	})
	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>campus portal - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "campus-portal", "version": "v0.1.0" },
  "paths": {
    "/login": { "get": { "summary": "Login landing", "responses": { "200": { "description": "login link" } } } },
    "/auth/login": { "get": { "summary": "Start the OIDC authorization code flow", "responses": { "302": { "description": "redirect to the identity provider" } } } },
    "/auth/callback": {
      "get": {
        "summary": "Complete sign-in and route by role",
        "parameters": [
          { "name": "code", "in": "query", "schema": { "type": "string" } },
          { "name": "state", "in": "query", "schema": { "type": "string" } }
        ],
        "responses": { "302": { "description": "redirect to onboarding, a role landing page or /login" }, "202": { "description": "session still loading" } }
      }
    },
    "/auth/logout": { "get": { "summary": "Clear the session and log out at the provider", "responses": { "302": { "description": "redirect to provider logout" } } } },
    "/flash": { "get": { "summary": "Pop the pending flash message", "responses": { "200": { "description": "flash" }, "204": { "description": "none pending" } } } },
    "/me": { "get": { "summary": "Current user and effective role", "responses": { "200": { "description": "profile" } } } },
    "/onboarding": { "get": { "summary": "Profile completion step", "responses": { "200": { "description": "onboarding" } } } },
    "/admin/dashboard": { "get": { "summary": "Admin overview", "responses": { "200": { "description": "counts and recent feedback" }, "502": { "description": "upstream failure" } } } },
    "/partner/events": { "get": { "summary": "Events of the signed-in partner", "responses": { "200": { "description": "events" } } } },
    "/student/notifications/stream": { "get": { "summary": "Broadcast updates as server-sent events", "responses": { "200": { "description": "event stream" } } } },
    "/student/recommendations": { "get": { "summary": "Recommended events unless snoozed", "responses": { "200": { "description": "events" } } } },
    "/student/recommendations/dismiss": { "post": { "summary": "Snooze recommendations", "responses": { "204": { "description": "saved" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
