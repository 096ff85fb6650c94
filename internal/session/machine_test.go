package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"verichat/internal/common"
	"verichat/internal/identity"
	"verichat/internal/prefs"
)

type fakeIdentity struct {
	mu sync.Mutex

	account    identity.UserSession
	current    *identity.UserSession
	loginToken string
	loginErr   error
	hideUser   bool
	currentErr error
	mfaErr     error
	issueErr   error
	issued     int
	logouts    int

	// loginStarted and loginRelease, when set, pause Login mid-flight.
	loginStarted chan struct{}
	loginRelease chan struct{}
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		account:    identity.UserSession{UserID: "u1", Email: "alice@example.com", AccessToken: "access-1"},
		loginToken: "access-1",
	}
}

func (f *fakeIdentity) Login(context.Context) (*identity.UserSession, error) {
	if f.loginStarted != nil {
		f.loginStarted <- struct{}{}
		<-f.loginRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if f.loginToken == "" {
		return &identity.UserSession{}, nil
	}
	if !f.hideUser {
		u := f.account
		f.current = &u
	}
	return &identity.UserSession{UserID: f.account.UserID, AccessToken: f.loginToken}, nil
}

func (f *fakeIdentity) CurrentUser(context.Context) (*identity.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.current == nil {
		return nil, nil
	}
	u := *f.current
	return &u, nil
}

func (f *fakeIdentity) EnrollOrUpdateMfa(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mfaErr != nil {
		return f.mfaErr
	}
	if f.current != nil {
		f.current.IsMfaConfigured = true
	}
	return nil
}

func (f *fakeIdentity) IssueCredential(context.Context, string, map[string]any) (identity.Issuance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return identity.Issuance{}, f.issueErr
	}
	f.issued++
	return identity.Issuance{CredentialID: "verichat-xp-credential", ID: fmt.Sprintf("cred-%d", f.issued)}, nil
}

func (f *fakeIdentity) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.current = nil
	return nil
}

func (f *fakeIdentity) signIn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.account
	f.current = &u
}

func assertConsistent(t *testing.T, s State) {
	t.Helper()
	assert.Equal(t, s.IsAuthenticated, s.User != nil, "isAuthenticated must track user: %+v", s)
}

func TestStart_NoSession(t *testing.T) {
	m := New(newFakeIdentity(), nil)
	assert.True(t, m.State().IsInitializing)

	require.NoError(t, m.Start(context.Background()))
	s := m.State()
	assert.False(t, s.IsInitializing)
	assert.False(t, s.IsAuthenticated)
	assertConsistent(t, s)
}

func TestStart_RestoresSession(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	m := New(id, nil)

	require.NoError(t, m.Start(context.Background()))
	s := m.State()
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "u1", s.User.UserID)
	assert.True(t, s.NeedsUsernameSetup, "no external or local name")
	assert.True(t, s.MfaPending())
	assert.Equal(t, "alice@example.com", s.DisplayName())
}

func TestStart_ErrorStillFinishesInitializing(t *testing.T) {
	id := newFakeIdentity()
	id.currentErr = common.E(common.ErrNetwork, "user info", errors.New("timeout"))
	m := New(id, nil)

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, common.ErrNetwork)
	s := m.State()
	assert.False(t, s.IsInitializing)
	assert.False(t, s.IsAuthenticated)
}

func TestStart_OnlyOnce(t *testing.T) {
	id := newFakeIdentity()
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	id.signIn()
	assert.ErrorIs(t, m.Start(context.Background()), common.ErrAlreadyInitialized)
	assert.False(t, m.State().IsAuthenticated)
}

func TestLogin_Success(t *testing.T) {
	m := New(newFakeIdentity(), nil)
	require.NoError(t, m.Start(context.Background()))

	s, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated)
	require.NotNil(t, s.User)
	assert.Equal(t, "access-1", s.User.AccessToken)
	assert.False(t, s.IsLoading)
	assert.False(t, s.IsInitializing)
}

func TestLogin_NoAccessTokenNeverAuthenticates(t *testing.T) {
	id := newFakeIdentity()
	id.loginToken = ""
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	s, err := m.Login(context.Background())
	assert.ErrorIs(t, err, common.ErrLogin)
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
	assert.False(t, s.IsLoading)
}

func TestLogin_UserInfoMissingIsInconsistent(t *testing.T) {
	id := newFakeIdentity()
	id.hideUser = true
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	s, err := m.Login(context.Background())
	assert.ErrorIs(t, err, common.ErrInconsistentSuccess)
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.IsLoading)
	assertConsistent(t, s)
	assert.Equal(t, 1, id.logouts, "half-open session is revoked")
}

func TestLogin_FailureKeepsPreviousState(t *testing.T) {
	id := newFakeIdentity()
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	id.loginErr = common.E(common.ErrNetwork, "fetch partner assertion", errors.New("refused"))
	before := m.State()
	_, err := m.Login(context.Background())
	assert.True(t, common.Retryable(err))
	assert.Equal(t, before, m.State())
}

func TestLogoutDuringLoginDiscardsLogin(t *testing.T) {
	id := newFakeIdentity()
	id.loginStarted = make(chan struct{})
	id.loginRelease = make(chan struct{})
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	type result struct {
		s   State
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.Login(context.Background())
		done <- result{s, err}
	}()

	<-id.loginStarted
	assert.True(t, m.State().IsLoading)
	require.NoError(t, m.Logout(context.Background()))
	close(id.loginRelease)

	r := <-done
	assert.ErrorIs(t, r.err, common.ErrSuperseded)
	s := m.State()
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
	assert.False(t, s.IsLoading)
}

func TestLogoutDuringLoginDoesNotSurviveReload(t *testing.T) {
	id := newFakeIdentity()
	id.loginStarted = make(chan struct{})
	id.loginRelease = make(chan struct{})
	store := prefs.NewMemory()
	m := New(id, store)
	require.NoError(t, m.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background())
		done <- err
	}()

	<-id.loginStarted
	require.NoError(t, m.Logout(context.Background()))
	close(id.loginRelease)
	require.ErrorIs(t, <-done, common.ErrSuperseded)

	id.loginStarted = nil
	reloaded := New(id, store)
	require.NoError(t, reloaded.Start(context.Background()))
	s := reloaded.State()
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
	assert.Equal(t, 2, id.logouts)
}

func TestLoginLogoutReload(t *testing.T) {
	id := newFakeIdentity()
	store := prefs.NewMemory()
	m := New(id, store)
	require.NoError(t, m.Start(context.Background()))
	_, err := m.Login(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background()))

	reloaded := New(id, store)
	require.NoError(t, reloaded.Start(context.Background()))
	s := reloaded.State()
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
}

func TestLogout_Idempotent(t *testing.T) {
	id := newFakeIdentity()
	m := New(id, nil)
	require.NoError(t, m.Logout(context.Background()))
	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, 2, id.logouts)
	assert.False(t, m.State().IsAuthenticated)
}

func TestDismissMfaModalSurvivesReload(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	store := prefs.NewMemory()
	m := New(id, store)
	require.NoError(t, m.Start(context.Background()))
	require.True(t, m.State().MfaPending())

	require.NoError(t, m.DismissMfaModal(context.Background()))
	assert.False(t, m.State().MfaPending())

	reloaded := New(id, store)
	require.NoError(t, reloaded.Start(context.Background()))
	s := reloaded.State()
	assert.True(t, s.MfaModalDismissed)
	assert.False(t, s.MfaPending())

	require.NoError(t, reloaded.ResetMfaDismissal(context.Background()))
	assert.True(t, reloaded.State().MfaPending())
}

func TestDismissMfaModal_DoesNotLeakAcrossUsers(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	store := prefs.NewMemory()
	m := New(id, store)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.DismissMfaModal(context.Background()))

	other := newFakeIdentity()
	other.account.UserID = "u2"
	other.signIn()
	m2 := New(other, store)
	require.NoError(t, m2.Start(context.Background()))
	assert.False(t, m2.State().MfaModalDismissed)
}

func TestDismissMfaModal_RequiresUser(t *testing.T) {
	m := New(newFakeIdentity(), nil)
	assert.ErrorIs(t, m.DismissMfaModal(context.Background()), common.ErrNotAuthenticated)
}

func TestSetupMfa(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))

	id.mfaErr = common.E(common.ErrMfa, "setup mfa", errors.New("user cancelled"))
	before := m.State()
	_, err := m.SetupMfa(context.Background())
	assert.ErrorIs(t, err, common.ErrMfa)
	assert.Equal(t, before, m.State())

	id.mfaErr = nil
	s, err := m.SetupMfa(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsMfaSetup)
	assert.False(t, s.MfaPending())
	assert.Equal(t, "access-1", s.User.AccessToken)
}

func TestSetUsername(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	store := prefs.NewMemory()
	m := New(id, store)
	ctx := context.Background()

	assert.ErrorIs(t, m.SetUsername(ctx, "bob"), common.ErrNotAuthenticated)
	require.NoError(t, m.Start(ctx))
	require.True(t, m.State().UsernamePending())

	assert.ErrorIs(t, m.SetUsername(ctx, "   "), common.ErrInvalidInput)
	assert.ErrorIs(t, m.SetUsername(ctx, "this-name-is-definitely-longer-than-thirty"), common.ErrInvalidInput)

	require.NoError(t, m.SetUsername(ctx, "  bob "))
	s := m.State()
	assert.False(t, s.NeedsUsernameSetup)
	assert.Equal(t, "bob", s.DisplayName())

	stored, ok, err := store.Get(ctx, prefs.UsernameKey("u1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bob", stored)

	reloaded := New(id, store)
	require.NoError(t, reloaded.Start(ctx))
	assert.False(t, reloaded.State().NeedsUsernameSetup)
}

func TestSetAvatar(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	store := prefs.NewMemory()
	m := New(id, store)
	ctx := context.Background()

	assert.ErrorIs(t, m.SetAvatar(ctx, "https://cdn.example/a.png"), common.ErrNotAuthenticated)
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, "https://ui-avatars.com/api/?background=6366f1&color=ffffff&name=alice%40example.com&size=150", m.State().AvatarURL())

	assert.ErrorIs(t, m.SetAvatar(ctx, "javascript:alert(1)"), common.ErrInvalidInput)
	assert.ErrorIs(t, m.SetAvatar(ctx, "/relative.png"), common.ErrInvalidInput)

	require.NoError(t, m.SetAvatar(ctx, " https://cdn.example/a.png "))
	assert.Equal(t, "https://cdn.example/a.png", m.State().AvatarURL())

	reloaded := New(id, store)
	require.NoError(t, reloaded.Start(ctx))
	assert.Equal(t, "https://cdn.example/a.png", reloaded.State().Avatar)

	require.NoError(t, reloaded.SetAvatar(ctx, ""))
	_, ok, err := store.Get(ctx, prefs.AvatarKey("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reloaded.SetUsername(ctx, "bob"))
	assert.Contains(t, reloaded.State().AvatarURL(), "name=bob")
}

func TestExternalNameSkipsUsernameSetup(t *testing.T) {
	id := newFakeIdentity()
	id.account.DisplayName = "Alice"
	id.signIn()
	m := New(id, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.False(t, m.State().NeedsUsernameSetup)
	assert.Equal(t, "Alice", m.State().DisplayName())
}

func TestUpdateUser(t *testing.T) {
	id := newFakeIdentity()
	m := New(id, nil)
	name := "Alice"
	assert.ErrorIs(t, m.UpdateUser(UserPatch{DisplayName: &name}), common.ErrNotAuthenticated)

	id.signIn()
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.UpdateUser(UserPatch{DisplayName: &name}))
	s := m.State()
	assert.Equal(t, "Alice", s.User.DisplayName)
	assert.False(t, s.NeedsUsernameSetup)
	assert.Equal(t, "alice@example.com", s.User.Email)
}

func TestAwardXP(t *testing.T) {
	id := newFakeIdentity()
	id.signIn()
	m := New(id, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	total, err := m.AwardXP(ctx, 25, "testing")
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	total, err = m.AwardXP(ctx, 5, "again")
	require.NoError(t, err)
	assert.Equal(t, 30, total)

	id.issueErr = common.E(common.ErrInconsistentSuccess, "issue credential", nil)
	_, err = m.AwardXP(ctx, 10, "no id")
	assert.ErrorIs(t, err, common.ErrInconsistentSuccess)

	_, err = m.AwardXP(ctx, 0, "zero")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	xp, err := m.XP(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, xp)
}

func TestWatch(t *testing.T) {
	m := New(newFakeIdentity(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Watch(ctx)

	first := <-ch
	assert.True(t, first.IsInitializing)

	require.NoError(t, m.Start(context.Background()))
	select {
	case s := <-ch:
		assert.False(t, s.IsInitializing)
	case <-time.After(time.Second):
		t.Fatal("no state update")
	}

	cancel()
	for range ch {
	}
}

func TestConcurrentLoginLogoutStaysConsistent(t *testing.T) {
	m := New(newFakeIdentity(), nil)
	require.NoError(t, m.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	updates := m.Watch(ctx)
	var watched sync.WaitGroup
	watched.Add(1)
	go func() {
		defer watched.Done()
		for s := range updates {
			assertConsistent(t, s)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Login(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = m.Logout(context.Background())
		}()
	}
	wg.Wait()
	cancel()
	watched.Wait()

	s := m.State()
	assertConsistent(t, s)
	assert.False(t, s.IsLoading)
}
