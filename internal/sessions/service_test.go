package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campuspoints/portal/internal/roles"
	"github.com/stretchr/testify/require"
)

// fake repo for testing
type fakeRepo struct {
	mu      sync.Mutex
	store   map[string][]byte
	ttls    map[string]time.Duration
	loadErr error
}

func (f *fakeRepo) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.store[key], nil
}
func (f *fakeRepo) Save(ctx context.Context, key string, record []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store == nil {
		f.store = map[string][]byte{}
		f.ttls = map[string]time.Duration{}
	}
	f.store[key] = record
	f.ttls[key] = ttl
	return nil
}
func (f *fakeRepo) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	return nil
}

type fakeRefresher struct {
	calls   int32
	release chan struct{}
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Tokens{AccessToken: "renewed-" + refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

const ns = "oidc.user:https://idp.test:cid"

func TestCreateGetClear(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, ns, Options{})
	ctx := context.Background()

	sess, err := svc.Create(ctx, &Tokens{
		IDToken:      "id",
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
		Claims:       map[string]interface{}{"sub": "sub-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Contains(t, repo.store, ns+":"+sess.ID)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "sub-1", got.Subject())
	require.Equal(t, "at", got.AccessToken)

	require.NoError(t, svc.Clear(ctx, sess.ID))
	got2, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got2)
}

func TestStorageKey(t *testing.T) {
	require.Equal(t, "oidc.user:A:B", StorageKey("A", "B"))
}

func TestResolveRole_FallsBackToRawRecord(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, "oidc.user:A:B", Options{})
	ctx := context.Background()

	// the stored record carries groups the decoded copy does not
	require.NoError(t, repo.Save(ctx, "oidc.user:A:B:s1", []byte(`{"profile":{"cognito:groups":["Admin"]}}`), time.Hour))
	sess := &Session{ID: "s1", Profile: map[string]interface{}{"sub": "u1"}}

	role, err := svc.ResolveRole(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, roles.Admin, role)

	ok, err := svc.HasRole(ctx, sess, roles.Admin)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasRole(ctx, sess, roles.Partner)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveRole_StorageError(t *testing.T) {
	repo := &fakeRepo{loadErr: errors.New("redis down")}
	svc := NewService(repo, ns, Options{})
	_, err := svc.ResolveRole(context.Background(), &Session{ID: "s1"})
	require.Error(t, err)
}

func TestRestore_NoSession(t *testing.T) {
	svc := NewService(&fakeRepo{}, ns, Options{})
	st := svc.Restore(context.Background(), "missing")
	require.False(t, st.IsAuthenticated)
	require.False(t, st.IsLoading)
	require.NoError(t, st.Err)
}

func TestRestore_FreshSessionIsNotRenewed(t *testing.T) {
	ref := &fakeRefresher{}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "at", st.Session.AccessToken)
	require.Equal(t, int32(0), atomic.LoadInt32(&ref.calls))
}

func TestRestore_RenewsExpiringSession(t *testing.T) {
	ref := &fakeRefresher{}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(10 * time.Second)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "renewed-rt", st.Session.AccessToken)
	// refresh token kept when the provider does not rotate it
	require.Equal(t, "rt", st.Session.RefreshToken)

	stored, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "renewed-rt", stored.AccessToken)
}

func TestRestore_LoadingWhileRenewalInFlight(t *testing.T) {
	ref := &fakeRefresher{release: make(chan struct{})}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref, RenewWait: 20 * time.Millisecond})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	first := svc.Restore(ctx, sess.ID)
	require.True(t, first.IsLoading)
	require.False(t, first.IsAuthenticated)

	second := svc.Restore(ctx, sess.ID)
	require.True(t, second.IsLoading)

	close(ref.release)
	require.Eventually(t, func() bool {
		st := svc.Restore(ctx, sess.ID)
		return st.IsAuthenticated && st.Session.AccessToken == "renewed-rt"
	}, time.Second, 10*time.Millisecond)
	// concurrent restores shared one refresh grant
	require.Equal(t, int32(1), atomic.LoadInt32(&ref.calls))
}

func TestRestore_RejectedRenewalClearsSession(t *testing.T) {
	ref := &fakeRefresher{err: fmt.Errorf("%w: invalid_grant", ErrRefreshRejected)}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.False(t, st.IsAuthenticated)
	require.False(t, st.IsLoading)
	require.NoError(t, st.Err)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRestore_UnreachableProviderKeepsSession(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("dial tcp: i/o timeout")}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.False(t, st.IsAuthenticated)
	require.Error(t, st.Err)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "rt", got.RefreshToken)
}

func TestRestore_UnreachableProviderStillValidToken(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("dial tcp: i/o timeout")}
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: ref})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(20 * time.Second)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.True(t, st.IsAuthenticated)
	require.NoError(t, st.Err)
	require.Equal(t, "at", st.Session.AccessToken)
	require.Equal(t, int32(1), atomic.LoadInt32(&ref.calls))
}

func TestRestore_ExpiredWithoutRefreshTokenIsCleared(t *testing.T) {
	svc := NewService(&fakeRepo{}, ns, Options{Refresher: &fakeRefresher{}})
	ctx := context.Background()
	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", Expiry: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	st := svc.Restore(ctx, sess.ID)
	require.False(t, st.IsAuthenticated)
	require.NoError(t, st.Err)
	got, _ := svc.Get(ctx, sess.ID)
	require.Nil(t, got)
}

func TestSet_RenewalDoesNotExtendLifetime(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, ns, Options{TTL: 8 * time.Hour, Refresher: &fakeRefresher{}})
	start := time.Now()
	svc.now = func() time.Time { return start }
	ctx := context.Background()

	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: start.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, 8*time.Hour, repo.ttls[ns+":"+sess.ID])
	require.Equal(t, 8*time.Hour, svc.TTL())

	svc.now = func() time.Time { return start.Add(3 * time.Hour) }
	renewed, err := svc.Renew(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, "renewed-rt", renewed.AccessToken)
	require.Equal(t, 5*time.Hour, repo.ttls[ns+":"+sess.ID])
}

func TestSet_PastLifetimeDropsRecord(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, ns, Options{TTL: time.Hour})
	start := time.Now()
	svc.now = func() time.Time { return start }
	ctx := context.Background()

	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", Expiry: start.Add(time.Hour)})
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	require.ErrorIs(t, svc.Set(ctx, sess), ErrNoSession)
	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRestore_RenewalPastLifetimeEndsSession(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, ns, Options{TTL: time.Hour, Refresher: &fakeRefresher{}})
	start := time.Now()
	svc.now = func() time.Time { return start }
	ctx := context.Background()

	sess, err := svc.Create(ctx, &Tokens{AccessToken: "at", RefreshToken: "rt", Expiry: start.Add(30 * time.Second)})
	require.NoError(t, err)

	// the fake store keeps records past their TTL
	svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	st := svc.Restore(ctx, sess.ID)
	require.False(t, st.IsAuthenticated)
	require.NoError(t, st.Err)
	require.NotContains(t, repo.store, ns+":"+sess.ID)
}
