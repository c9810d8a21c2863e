package oidc

import (
	"context"

	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier checks ID token signatures against the provider's keys.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

func newVerifier(provider *oidc.Provider, clientID string) *Verifier {
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}
}

// Verify verifies the provided raw ID token and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
