package signin

import (
	"context"
	"fmt"

	"github.com/campuspoints/portal/internal/roles"
	"github.com/campuspoints/portal/internal/routes"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/metrics"
)

const (
	MessageSuccess = "Signed in successfully"
	MessageFailure = "Sign-in failed. Please try again."
)

// Flash kinds.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash is a one-shot message for the next page the browser lands on.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome tells the callback handler what to do. Wait means the session is
// still loading and nothing has been decided.
type Outcome struct {
	Wait     bool
	Redirect string
	Role     roles.Role
	Flash    *Flash
}

// RoleResolver resolves the effective role of a session.
type RoleResolver interface {
	ResolveRole(ctx context.Context, sess *sessions.Session) (roles.Role, error)
}

// OnboardingChecker asks the API whether a user still has to finish their
// profile.
type OnboardingChecker interface {
	NeedsOnboarding(ctx context.Context, idToken string) (bool, error)
}

// Resolver decides where a browser goes once the sign-in callback has a
// session state.
type Resolver struct {
	roles      RoleResolver
	onboarding OnboardingChecker
}

func NewResolver(rr RoleResolver, oc OnboardingChecker) *Resolver {
	return &Resolver{roles: rr, onboarding: oc}
}

func failure() Outcome {
	return Outcome{Redirect: routes.Login, Flash: &Flash{Kind: FlashError, Message: MessageFailure}}
}

// Resolve runs once per callback and never retries.
func (r *Resolver) Resolve(ctx context.Context, st sessions.AuthState) (out Outcome) {
	if st.IsLoading {
		metrics.SignInOutcomes.WithLabelValues("wait").Inc()
		return Outcome{Wait: true}
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("sign-in callback panicked: %v", p)
			out = failure()
		}
		metrics.SignInOutcomes.WithLabelValues(out.Redirect).Inc()
	}()

	if !st.IsAuthenticated || st.Session == nil {
		if st.Err != nil {
			logger.Errorf("sign-in failed: %v", st.Err)
		} else {
			logger.Warnf("sign-in callback without a session")
		}
		return failure()
	}

	role, err := r.roles.ResolveRole(ctx, st.Session)
	if err != nil {
		logger.Errorf("sign-in: %v", fmt.Errorf("resolve role: %w", err))
		return failure()
	}

	if st.Session.IDToken != "" && r.onboarding != nil {
		need, err := r.onboarding.NeedsOnboarding(ctx, st.Session.IDToken)
		switch {
		case err != nil:
			logger.Warnf("onboarding check failed, continuing sign-in: %v", err)
		case need:
			return Outcome{Redirect: routes.Onboarding, Role: role}
		}
	}

	return Outcome{
		Redirect: routes.Landing(role),
		Role:     role,
		Flash:    &Flash{Kind: FlashSuccess, Message: MessageSuccess},
	}
}
