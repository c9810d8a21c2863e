package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidState is returned when a login state token fails verification.
var ErrInvalidState = errors.New("invalid login state")

// LoginState travels in a short-lived cookie between the authorization
// redirect and the callback.
type LoginState struct {
	State    string `json:"state"`
	Nonce    string `json:"nonce"`
	Verifier string `json:"verifier"`
}

type loginStateClaims struct {
	LoginState
	jwt.RegisteredClaims
}

// SignLoginState returns ls as an HS256 JWT valid for ttl.
func SignLoginState(secret string, ls LoginState, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret not configured")
	}
	now := time.Now()
	claims := loginStateClaims{
		LoginState: ls,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

// ParseLoginState verifies raw and returns the embedded state.
func ParseLoginState(secret, raw string) (*LoginState, error) {
	var claims loginStateClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return &claims.LoginState, nil
}

// PeekClaims decodes the payload of a JWT without verifying it. Only for
// tokens this process already verified or received over an authenticated
// channel (e.g. reading exp for a logout hint).
func PeekClaims(raw string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
