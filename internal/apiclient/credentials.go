package apiclient

import "context"

// Credentials supply the bearer token of the session a request runs for and
// clear that session when the API rejects it.
type Credentials interface {
	AccessToken(ctx context.Context) string
	Invalidate(ctx context.Context)
}

// Anonymous carries no token.
type Anonymous struct{}

func (Anonymous) AccessToken(context.Context) string { return "" }
func (Anonymous) Invalidate(context.Context)         {}

// StaticToken sends a fixed bearer token and never clears anything.
type StaticToken string

func (s StaticToken) AccessToken(context.Context) string { return string(s) }
func (StaticToken) Invalidate(context.Context)           {}

type credentialsKey struct{}

// WithCredentials returns a context whose API calls authenticate with creds.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// CredentialsFrom returns the credentials carried by ctx, or Anonymous.
func CredentialsFrom(ctx context.Context) Credentials {
	if c, ok := ctx.Value(credentialsKey{}).(Credentials); ok && c != nil {
		return c
	}
	return Anonymous{}
}
