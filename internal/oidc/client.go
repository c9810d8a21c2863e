package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/campuspoints/portal/internal/config"
	"github.com/campuspoints/portal/internal/sessions"
	"github.com/campuspoints/portal/pkg/middleware"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrMissingIDToken = errors.New("no id_token in token response")
	ErrNonceMismatch  = errors.New("nonce does not match")
)

// Client drives the authorization code flow against the identity provider.
type Client struct {
	oauth    *oauth2.Config
	verifier middleware.Verifier
	cfg      config.OIDCConfig
}

// Discover builds a Client from the provider's discovery document.
func Discover(ctx context.Context, cfg config.OIDCConfig) (*Client, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return NewClient(cfg, provider.Endpoint(), newVerifier(provider, cfg.ClientID)), nil
}

// NewClient builds a Client for a known endpoint and verifier.
func NewClient(cfg config.OIDCConfig, endpoint oauth2.Endpoint, ver middleware.Verifier) *Client {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
		},
		verifier: ver,
		cfg:      cfg,
	}
}

// AuthCodeURL returns the authorization URL carrying state, nonce and a PKCE
// S256 challenge for verifier.
func (c *Client) AuthCodeURL(state, nonce, verifier string) string {
	return c.oauth.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for tokens and verifies the ID token
// and its nonce.
func (c *Client) Exchange(ctx context.Context, code, verifier, nonce string) (*sessions.Tokens, error) {
	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	t, err := c.tokenSet(ctx, tok, true)
	if err != nil {
		return nil, err
	}
	if got, _ := t.Claims["nonce"].(string); got != nonce {
		return nil, ErrNonceMismatch
	}
	return t, nil
}

// Refresh runs the refresh grant. Providers that do not rotate refresh tokens
// get the old one carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*sessions.Tokens, error) {
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := c.oauth.TokenSource(ctx, expired).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", sessions.ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("refresh grant: %w", err)
	}
	t, err := c.tokenSet(ctx, tok, false)
	if err != nil {
		return nil, err
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return t, nil
}

// HostedUIEndpoint is the token endpoint pair of a Cognito hosted UI domain,
// for setups that skip discovery.
func HostedUIEndpoint(domain string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   domain + "/oauth2/authorize",
		TokenURL:  domain + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

// LogoutURL is the provider's sign-out endpoint for the current client.
func (c *Client) LogoutURL(idToken string) string {
	base := c.cfg.CognitoDomain
	if base == "" {
		base = c.cfg.Authority
	}
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("logout_uri", c.cfg.LogoutURI)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	return base + "/logout?" + q.Encode()
}

func (c *Client) tokenSet(ctx context.Context, tok *oauth2.Token, requireIDToken bool) (*sessions.Tokens, error) {
	t := &sessions.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		if requireIDToken {
			return nil, ErrMissingIDToken
		}
		return t, nil
	}
	idt, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]interface{}
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("id_token claims: %w", err)
	}
	t.IDToken = raw
	t.Claims = claims
	return t, nil
}
