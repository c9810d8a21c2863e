package sessions

import (
	"time"
)

// Session is the client session record. Its JSON shape follows the user
// record an OIDC browser client persists, so records written by other
// components stay readable.
type Session struct {
	ID           string                 `json:"id"`
	IDToken      string                 `json:"id_token,omitempty"`
	AccessToken  string                 `json:"access_token,omitempty"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	TokenType    string                 `json:"token_type,omitempty"`
	Scope        string                 `json:"scope,omitempty"`
	Profile      map[string]interface{} `json:"profile"`
	ExpiresAt    int64                  `json:"expires_at"` // access token expiry, unix seconds
	CreatedAt    time.Time              `json:"created_at"`
}

// Tokens is what the identity provider hands back from a code exchange or a
// refresh grant.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	Claims       map[string]interface{}
}

// AuthState is the view of the current session every request reads.
type AuthState struct {
	IsLoading       bool
	IsAuthenticated bool
	Session         *Session
	Err             error
}

// Subject returns the "sub" claim of the decoded profile.
func (s *Session) Subject() string {
	if s == nil {
		return ""
	}
	sub, _ := s.Profile["sub"].(string)
	return sub
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(d).Before(time.Unix(s.ExpiresAt, 0))
}

// apply merges a token set into the session. Providers that do not rotate
// refresh tokens return none on refresh; the previous one is kept.
func (s *Session) apply(t *Tokens) {
	if t.IDToken != "" {
		s.IDToken = t.IDToken
	}
	s.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		s.RefreshToken = t.RefreshToken
	}
	if t.TokenType != "" {
		s.TokenType = t.TokenType
	}
	if t.Scope != "" {
		s.Scope = t.Scope
	}
	if !t.Expiry.IsZero() {
		s.ExpiresAt = t.Expiry.Unix()
	}
	if len(t.Claims) > 0 {
		s.Profile = t.Claims
	}
}
