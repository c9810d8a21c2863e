package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campuspoints/portal/internal/roles"
	"github.com/campuspoints/portal/pkg/logger"
	"github.com/campuspoints/portal/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoSession is returned by operations that need an existing session.
	ErrNoSession = errors.New("session not found")
	// ErrRefreshRejected marks a refresh grant the provider answered with an
	// error response. Refreshers wrap it; other refresh errors are transient.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// renewTimeout bounds a background renewal that outlives its caller.
const renewTimeout = 30 * time.Second

// Refresher performs the refresh grant against the identity provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	TTL       time.Duration
	RenewSkew time.Duration
	RenewWait time.Duration
	Refresher Refresher
}

// Service is the single entry point for session reads and writes.
type Service struct {
	repo      Repository
	namespace string
	ttl       time.Duration
	renewSkew time.Duration
	renewWait time.Duration
	refresher Refresher
	renewals  singleflight.Group
	now       func() time.Time
}

// StorageKey is the namespace an OIDC client persists its user record under.
func StorageKey(authority, clientID string) string {
	return "oidc.user:" + authority + ":" + clientID
}

// NewService wraps repo. namespace is usually StorageKey(authority, clientID).
func NewService(r Repository, namespace string, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.RenewSkew <= 0 {
		opts.RenewSkew = time.Minute
	}
	if opts.RenewWait <= 0 {
		opts.RenewWait = 2 * time.Second
	}
	return &Service{
		repo:      r,
		namespace: namespace,
		ttl:       opts.TTL,
		renewSkew: opts.RenewSkew,
		renewWait: opts.RenewWait,
		refresher: opts.Refresher,
		now:       time.Now,
	}
}

// SetRefresher installs the refresher after construction; the OIDC client is
// usually built after the session store.
func (s *Service) SetRefresher(r Refresher) { s.refresher = r }

// Key returns the repository key of session id.
func (s *Service) Key(id string) string {
	return s.namespace + ":" + id
}

// Create stores a new session built from a fresh token set.
func (s *Service) Create(ctx context.Context, t *Tokens) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		Profile:   map[string]interface{}{},
		CreatedAt: s.now().UTC(),
	}
	sess.apply(t)
	if err := s.Set(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the decoded session, or nil when there is none.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	b, err := s.repo.Load(ctx, s.Key(id))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

// RawProfile reads the profile of the stored record without decoding it into
// a Session. It covers records whose profile was written by another component
// after this process decoded its copy.
func (s *Service) RawProfile(ctx context.Context, id string) (map[string]interface{}, error) {
	if id == "" {
		return nil, nil
	}
	b, err := s.repo.Load(ctx, s.Key(id))
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	var rec struct {
		Profile map[string]interface{} `json:"profile"`
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return rec.Profile, nil
}

// TTL is the lifetime of a session counted from sign-in. The session cookie
// is issued with the same lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Set stores sess until CreatedAt+TTL. Renewals rewrite the record without
// extending it, so it never outlives the cookie issued at sign-in.
func (s *Service) Set(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrNoSession
	}
	ttl := s.ttl
	if !sess.CreatedAt.IsZero() {
		ttl = sess.CreatedAt.Add(s.ttl).Sub(s.now())
		if ttl <= 0 {
			if err := s.Clear(ctx, sess.ID); err != nil {
				return err
			}
			return ErrNoSession
		}
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, s.Key(sess.ID), b, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear destroys the session.
func (s *Service) Clear(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.repo.Delete(ctx, s.Key(id)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ResolveRole returns the effective role of sess.
func (s *Service) ResolveRole(ctx context.Context, sess *Session) (roles.Role, error) {
	if r, ok := roles.FromClaims(sess.Profile); ok {
		return r, nil
	}
	raw, err := s.RawProfile(ctx, sess.ID)
	if err != nil {
		return "", err
	}
	return roles.Resolve(sess.Profile, raw), nil
}

// HasRole reports whether sess is a member of role, consulting the raw record
// only when the decoded profile does not grant it.
func (s *Service) HasRole(ctx context.Context, sess *Session, role roles.Role) (bool, error) {
	if roles.Has(role, sess.Profile, nil) {
		return true, nil
	}
	raw, err := s.RawProfile(ctx, sess.ID)
	if err != nil {
		return false, err
	}
	return roles.Has(role, nil, raw), nil
}

// Restore loads session id and renews it when its access token is about to
// expire. Renewals of one session are shared between concurrent callers; if a
// renewal outlasts the wait budget the state is loading and the renewal
// carries on in the background.
func (s *Service) Restore(ctx context.Context, id string) AuthState {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return AuthState{Err: err}
	}
	if sess == nil {
		return AuthState{}
	}
	if !sess.ExpiresWithin(s.now(), s.renewSkew) {
		return AuthState{IsAuthenticated: true, Session: sess}
	}
	if sess.RefreshToken == "" || s.refresher == nil {
		if sess.ExpiresWithin(s.now(), 0) {
			logger.Infof("session %s expired without refresh token; clearing", id)
			_ = s.Clear(ctx, id)
			return AuthState{}
		}
		return AuthState{IsAuthenticated: true, Session: sess}
	}

	ch := s.renewals.DoChan(id, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renewTimeout)
		defer cancel()
		return s.Renew(rctx, sess)
	})
	timer := time.NewTimer(s.renewWait)
	defer timer.Stop()
	select {
	case res := <-ch:
		switch {
		case errors.Is(res.Err, ErrRefreshRejected), errors.Is(res.Err, ErrNoSession):
			return AuthState{}
		case res.Err != nil:
			// provider unreachable: the current token may still be good
			if !sess.ExpiresWithin(s.now(), 0) {
				return AuthState{IsAuthenticated: true, Session: sess}
			}
			return AuthState{Err: res.Err}
		}
		return AuthState{IsAuthenticated: true, Session: res.Val.(*Session)}
	case <-timer.C:
		return AuthState{IsLoading: true, Session: sess}
	case <-ctx.Done():
		return AuthState{IsLoading: true, Session: sess}
	}
}

// Renew runs the refresh grant for sess and stores the result. The session is
// cleared only when the provider rejects the refresh token; a transport
// failure leaves it for the next attempt.
func (s *Service) Renew(ctx context.Context, sess *Session) (*Session, error) {
	if s.refresher == nil || sess.RefreshToken == "" {
		return nil, errors.New("session cannot be renewed")
	}
	t, err := s.refresher.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrRefreshRejected) {
			metrics.SessionRenewals.WithLabelValues("failed").Inc()
			logger.Warnf("silent renewal of session %s failed, keeping it: %v", sess.ID, err)
			return nil, fmt.Errorf("renew session: %w", err)
		}
		metrics.SessionRenewals.WithLabelValues("rejected").Inc()
		logger.Infof("refresh token of session %s rejected; clearing", sess.ID)
		if cerr := s.Clear(ctx, sess.ID); cerr != nil {
			logger.Errorf("clearing session %s after rejected renewal: %v", sess.ID, cerr)
		}
		return nil, fmt.Errorf("renew session: %w", err)
	}
	renewed := *sess
	renewed.apply(t)
	if err := s.Set(ctx, &renewed); err != nil {
		metrics.SessionRenewals.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.SessionRenewals.WithLabelValues("renewed").Inc()
	return &renewed, nil
}
