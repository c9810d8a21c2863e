package routes

import "github.com/campuspoints/portal/internal/roles"

// Navigation targets the browser is redirected to.
const (
	Home           = "/"
	Login          = "/login"
	Onboarding     = "/onboarding"
	AdminDashboard = "/admin/dashboard"
	PartnerEvents  = "/partner/events"
)

// Landing is where a signed-in session of role r lands.
func Landing(r roles.Role) string {
	switch r {
	case roles.Admin:
		return AdminDashboard
	case roles.Partner:
		return PartnerEvents
	}
	return Home
}
