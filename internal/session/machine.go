package session

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"
	"verichat/internal/common"
	"verichat/internal/identity"
	"verichat/internal/logger"
	"verichat/internal/metrics"
	"verichat/internal/prefs"
)

// Identity is the part of identity.Client the Machine drives.
type Identity interface {
	Login(ctx context.Context) (*identity.UserSession, error)
	CurrentUser(ctx context.Context) (*identity.UserSession, error)
	EnrollOrUpdateMfa(ctx context.Context) error
	IssueCredential(ctx context.Context, credentialType string, subject map[string]any) (identity.Issuance, error)
	Logout(ctx context.Context) error
}

// XPCredential is the credential type issued by AwardXP.
const XPCredential = "xp"

const (
	maxUsernameLength  = 30
	maxAvatarURLLength = 2048
)

type Machine struct {
	identity Identity
	prefs    prefs.Store
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	state    State
	gen      uint64
	logouts  uint64
	started  bool
	inflight int
	watchers map[chan State]struct{}

	// xpMu serializes read-modify-write of XP counters.
	xpMu sync.Mutex
}

type Option func(*Machine)

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.log = logger.OrNop(l) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

func New(id Identity, store prefs.Store, opts ...Option) *Machine {
	if store == nil {
		store = prefs.NewMemory()
	}
	m := &Machine{
		identity: id,
		prefs:    store,
		log:      zap.NewNop(),
		state:    State{IsInitializing: true},
		watchers: make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *Machine) CurrentUserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return "", false
	}
	return m.state.User.UserID, true
}

// Watch streams state snapshots until ctx is done. The channel holds only the
// latest snapshot; slow readers skip intermediate states.
func (m *Machine) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.state.clone()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}

// commit must be called with mu held.
func (m *Machine) commit() {
	snap := m.state.clone()
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Start performs the startup session check. It runs once per Machine; the
// initializing flag is cleared whatever the outcome.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return common.E(common.ErrAlreadyInitialized, "start session", nil)
	}
	m.started = true
	gen := m.gen
	m.mu.Unlock()

	restored, err := m.load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.commit()
	m.state.IsInitializing = false

	if err != nil {
		m.log.Warn("startup session check failed", zap.Error(err))
		return err
	}
	if restored == nil {
		m.log.Info("no active session")
		return nil
	}
	if m.gen != gen {
		m.log.Info("startup session discarded, state changed meanwhile")
		return nil
	}
	m.apply(*restored)
	m.log.Info("session restored", logger.UserID(restored.User.UserID))
	return nil
}

// load fetches the current user and the local per-user preferences. A nil
// result means no session is active.
func (m *Machine) load(ctx context.Context) (*State, error) {
	user, err := m.identity.CurrentUser(ctx)
	if err != nil || user == nil {
		return nil, err
	}
	username, _, err := m.prefs.Get(ctx, prefs.UsernameKey(user.UserID))
	if err != nil {
		return nil, common.E(common.ErrNetwork, "read username preference", err)
	}
	avatar, _, err := m.prefs.Get(ctx, prefs.AvatarKey(user.UserID))
	if err != nil {
		return nil, common.E(common.ErrNetwork, "read avatar preference", err)
	}
	dismissed, err := prefs.Flag(ctx, m.prefs, prefs.MfaDismissedKey(user.UserID))
	if err != nil {
		return nil, common.E(common.ErrNetwork, "read mfa preference", err)
	}
	return &State{
		IsAuthenticated:    true,
		IsMfaSetup:         user.IsMfaConfigured,
		User:               user,
		NeedsUsernameSetup: username == "" && user.DisplayName == "",
		MfaModalDismissed:  dismissed,
		Username:           username,
		Avatar:             avatar,
	}, nil
}

// apply installs an authenticated state. Must be called with mu held.
func (m *Machine) apply(s State) {
	s.IsInitializing = m.state.IsInitializing
	s.IsLoading = m.inflight > 0
	m.state = s
	m.gen++
}

// Login authenticates through the identity service. On any failure the state
// is left as it was before the attempt. A login overtaken by a logout returns
// ErrSuperseded and leaves the logged-out state in place; the session it
// opened remotely is revoked so a reload cannot restore it.
func (m *Machine) Login(ctx context.Context) (State, error) {
	m.mu.Lock()
	gen, logouts := m.gen, m.logouts
	m.inflight++
	m.state.IsLoading = true
	m.commit()
	m.mu.Unlock()

	next, err := m.login(ctx)

	m.mu.Lock()
	m.inflight--
	m.state.IsLoading = m.inflight > 0
	var revoke bool
	switch {
	case err != nil:
		m.metrics.Login("failure")
		m.log.Warn("login failed", zap.Error(err))
		revoke = errors.Is(err, common.ErrInconsistentSuccess) && m.orphaned()
	case m.gen != gen:
		m.metrics.Login("superseded")
		m.log.Info("login completion discarded", logger.UserID(next.User.UserID))
		err = common.E(common.ErrSuperseded, "login", nil)
		revoke = m.logouts != logouts && m.orphaned()
	default:
		m.apply(*next)
		m.metrics.Login("success")
		m.log.Info("user logged in", logger.UserID(next.User.UserID))
	}
	m.commit()
	s := m.state.clone()
	m.mu.Unlock()

	if revoke {
		if lerr := m.identity.Logout(ctx); lerr != nil {
			m.log.Warn("revoking discarded login failed", zap.Error(lerr))
		}
	}
	return s, err
}

// orphaned reports whether a remote session left by a discarded login has no
// owner: nobody is signed in and no other login is pending. Must be called
// with mu held.
func (m *Machine) orphaned() bool {
	return m.state.User == nil && m.inflight == 0
}

func (m *Machine) login(ctx context.Context) (*State, error) {
	sess, err := m.identity.Login(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.AccessToken == "" {
		return nil, common.E(common.ErrLogin, "login", errors.New("no access token"))
	}
	next, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, common.E(common.ErrInconsistentSuccess, "login", errors.New("user info unavailable after login"))
	}
	if next.User.AccessToken == "" {
		next.User.AccessToken = sess.AccessToken
	}
	return next, nil
}

// Logout clears the local session first, so it holds even when the remote
// call fails, and supersedes any login still in flight.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	userID := ""
	if m.state.User != nil {
		userID = m.state.User.UserID
	}
	m.gen++
	m.logouts++
	m.state = State{
		IsInitializing: m.state.IsInitializing,
		IsLoading:      m.inflight > 0,
	}
	m.commit()
	m.mu.Unlock()

	if userID != "" {
		m.log.Info("user logged out", logger.UserID(userID))
	}
	return m.identity.Logout(ctx)
}

// user returns the signed-in user id and the current generation.
func (m *Machine) user(op string) (string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return "", 0, common.E(common.ErrNotAuthenticated, op, nil)
	}
	return m.state.User.UserID, m.gen, nil
}

// SetupMfa runs MFA enrollment and refreshes the MFA flag from the identity
// service. Failures are returned without touching the state.
func (m *Machine) SetupMfa(ctx context.Context) (State, error) {
	const op = "setup mfa"
	_, gen, err := m.user(op)
	if err != nil {
		return m.State(), err
	}
	if err := m.identity.EnrollOrUpdateMfa(ctx); err != nil {
		return m.State(), err
	}
	user, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return m.State(), err
	}
	if user == nil {
		return m.State(), common.E(common.ErrInconsistentSuccess, op, errors.New("user info unavailable after mfa setup"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return m.state.clone(), common.E(common.ErrSuperseded, op, nil)
	}
	if user.AccessToken == "" {
		user.AccessToken = m.state.User.AccessToken
	}
	m.state.User = user
	m.state.IsMfaSetup = user.IsMfaConfigured
	m.state.NeedsUsernameSetup = m.state.Username == "" && user.DisplayName == ""
	m.commit()
	return m.state.clone(), nil
}

// DismissMfaModal remembers, for the signed-in user, that the MFA prompt was
// dismissed.
func (m *Machine) DismissMfaModal(ctx context.Context) error {
	return m.setDismissed(ctx, "dismiss mfa modal", true)
}

func (m *Machine) ResetMfaDismissal(ctx context.Context) error {
	return m.setDismissed(ctx, "reset mfa dismissal", false)
}

func (m *Machine) setDismissed(ctx context.Context, op string, dismissed bool) error {
	userID, gen, err := m.user(op)
	if err != nil {
		return err
	}
	key := prefs.MfaDismissedKey(userID)
	if dismissed {
		err = m.prefs.Set(ctx, key, "true")
	} else {
		err = m.prefs.Delete(ctx, key)
	}
	if err != nil {
		return common.E(common.ErrNetwork, op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.state.MfaModalDismissed = dismissed
		m.commit()
	}
	return nil
}

// SetUsername records a local display-name override for the signed-in user.
func (m *Machine) SetUsername(ctx context.Context, name string) error {
	const op = "set username"
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required, validation.RuneLength(1, maxUsernameLength)); err != nil {
		return common.E(common.ErrInvalidInput, op, err)
	}
	userID, gen, err := m.user(op)
	if err != nil {
		return err
	}
	if err := m.prefs.Set(ctx, prefs.UsernameKey(userID), name); err != nil {
		return common.E(common.ErrNetwork, op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.state.Username = name
		m.state.NeedsUsernameSetup = false
		m.commit()
	}
	return nil
}

// SetAvatar records a local avatar URL for the signed-in user. An empty URL
// clears it.
func (m *Machine) SetAvatar(ctx context.Context, avatar string) error {
	const op = "set avatar"
	avatar = strings.TrimSpace(avatar)
	if err := validation.Validate(avatar, validation.RuneLength(0, maxAvatarURLLength), validation.By(httpURL)); err != nil {
		return common.E(common.ErrInvalidInput, op, err)
	}
	userID, gen, err := m.user(op)
	if err != nil {
		return err
	}
	key := prefs.AvatarKey(userID)
	if avatar == "" {
		err = m.prefs.Delete(ctx, key)
	} else {
		err = m.prefs.Set(ctx, key, avatar)
	}
	if err != nil {
		return common.E(common.ErrNetwork, op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.state.Avatar = avatar
		m.commit()
	}
	return nil
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// UpdateUser applies a local patch to the signed-in user.
func (m *Machine) UpdateUser(patch UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.User == nil {
		return common.E(common.ErrNotAuthenticated, "update user", nil)
	}
	u := *m.state.User
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	m.state.User = &u
	m.state.NeedsUsernameSetup = m.state.Username == "" && u.DisplayName == ""
	m.commit()
	return nil
}

// AwardXP issues an XP credential and, only once issuance has succeeded, adds
// amount to the user's local XP counter. It returns the new total.
func (m *Machine) AwardXP(ctx context.Context, amount int, reason string) (int, error) {
	const op = "award xp"
	if err := validation.Validate(amount, validation.Required, validation.Min(1)); err != nil {
		return 0, common.E(common.ErrInvalidInput, op, err)
	}
	userID, _, err := m.user(op)
	if err != nil {
		return 0, err
	}
	iss, err := m.identity.IssueCredential(ctx, XPCredential, map[string]any{
		"userId": userID,
		"amount": amount,
		"reason": reason,
	})
	if err != nil {
		return 0, err
	}

	m.xpMu.Lock()
	defer m.xpMu.Unlock()
	total, err := prefs.Int(ctx, m.prefs, prefs.XPKey(userID))
	if err != nil {
		return 0, common.E(common.ErrNetwork, op, err)
	}
	total += amount
	if err := m.prefs.Set(ctx, prefs.XPKey(userID), strconv.Itoa(total)); err != nil {
		return 0, common.E(common.ErrNetwork, op, err)
	}
	m.log.Info("xp awarded", logger.UserID(userID), zap.Int("amount", amount), zap.Int("total", total), zap.String("credential", iss.ID))
	return total, nil
}

// XP returns the signed-in user's local XP counter.
func (m *Machine) XP(ctx context.Context) (int, error) {
	userID, _, err := m.user("read xp")
	if err != nil {
		return 0, err
	}
	total, err := prefs.Int(ctx, m.prefs, prefs.XPKey(userID))
	if err != nil {
		return 0, common.E(common.ErrNetwork, "read xp", err)
	}
	return total, nil
}
