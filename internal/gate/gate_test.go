package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"verichat/internal/common"
	"verichat/internal/identity"
)

type recordingNav struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (n *recordingNav) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.targets = append(n.targets, target)
	return nil
}

func (n *recordingNav) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type verifierFunc func(ctx context.Context, credentialType, returnURL string) (identity.Verification, error)

func (f verifierFunc) VerifyCredential(ctx context.Context, credentialType, returnURL string) (identity.Verification, error) {
	return f(ctx, credentialType, returnURL)
}

func allow(_ context.Context, credentialType, _ string) (identity.Verification, error) {
	return identity.Verification{CredentialType: credentialType, Status: identity.StatusCompliant}, nil
}

func deny(_ context.Context, credentialType, _ string) (identity.Verification, error) {
	return identity.Verification{CredentialType: credentialType, Status: identity.StatusNonCompliant},
		common.E(common.ErrVerify, "verify credential", errors.New("Non-Compliant"))
}

var devChannel = Resource{ID: "dev-lounge", Kind: KindChannel, IsGated: true}

func TestEnter_Granted(t *testing.T) {
	var seen []Status
	g := New(verifierFunc(allow), WithObserver(func(a Attempt) { seen = append(seen, a.Status) }))
	nav := &recordingNav{}

	a, err := g.Enter(context.Background(), devChannel, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, a.Status)
	assert.Equal(t, "developer", a.Credential)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, []string{"/channel/dev-lounge"}, nav.visited())
	assert.Equal(t, []Status{StatusVerifying, StatusGranted}, seen)
}

func TestEnter_DeniedLeavesLocationAndAllowsRetry(t *testing.T) {
	var calls int
	result := deny
	g := New(verifierFunc(func(ctx context.Context, c, r string) (identity.Verification, error) {
		calls++
		return result(ctx, c, r)
	}))
	nav := &recordingNav{}

	a, err := g.Enter(context.Background(), devChannel, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, a.Status)
	assert.ErrorIs(t, a.Err, common.ErrVerify)
	assert.NotEmpty(t, a.Error)
	assert.Empty(t, nav.visited())

	result = allow
	retry, err := g.Enter(context.Background(), devChannel, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, retry.Status)
	assert.NotEqual(t, a.ID, retry.ID)
	assert.Equal(t, 2, calls, "every attempt verifies")
	assert.Equal(t, []string{"/channel/dev-lounge"}, nav.visited())
}

func TestEnter_NoCachingOfGrants(t *testing.T) {
	var calls int
	g := New(verifierFunc(func(ctx context.Context, c, r string) (identity.Verification, error) {
		calls++
		return allow(ctx, c, r)
	}))
	nav := &recordingNav{}
	for i := 0; i < 3; i++ {
		_, err := g.Enter(context.Background(), devChannel, nav)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Len(t, nav.visited(), 3)
}

func TestEnter_UngatedSkipsVerification(t *testing.T) {
	g := New(verifierFunc(func(context.Context, string, string) (identity.Verification, error) {
		t.Fatal("ungated resource must not be verified")
		return identity.Verification{}, nil
	}))
	nav := &recordingNav{}
	a, err := g.Enter(context.Background(), Resource{ID: "general", Kind: KindChannel, Path: "/chat/general"}, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, a.Status)
	assert.Equal(t, []string{"/chat/general"}, nav.visited())
}

func TestEnter_NetworkFailureIsDenialAndRetryable(t *testing.T) {
	g := New(verifierFunc(func(context.Context, string, string) (identity.Verification, error) {
		return identity.Verification{}, common.E(common.ErrNetwork, "fetch partner assertion", errors.New("refused"))
	}))
	nav := &recordingNav{}
	a, err := g.Enter(context.Background(), devChannel, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, a.Status)
	assert.True(t, common.Retryable(a.Err))
	assert.Empty(t, nav.visited())
}

func TestEnter_CredentialSelection(t *testing.T) {
	var got []string
	g := New(verifierFunc(func(ctx context.Context, c, r string) (identity.Verification, error) {
		got = append(got, c)
		return allow(ctx, c, r)
	}), WithDefaultCredential(KindChannel, "member"))
	nav := &recordingNav{}

	_, err := g.Enter(context.Background(), devChannel, nav)
	require.NoError(t, err)
	_, err = g.Enter(context.Background(), Resource{ID: "advanced", Kind: KindForumCategory, IsGated: true}, nav)
	require.NoError(t, err)
	_, err = g.Enter(context.Background(), Resource{ID: "vip", Kind: KindChannel, IsGated: true, Credential: "premium"}, nav)
	require.NoError(t, err)

	assert.Equal(t, []string{"member", "expert", "premium"}, got)
}

func TestEnter_UnknownKindWithoutCredentialIsAnError(t *testing.T) {
	g := New(verifierFunc(allow))
	nav := &recordingNav{}
	a, err := g.Enter(context.Background(), Resource{ID: "x", Kind: "wiki", IsGated: true}, nav)
	assert.ErrorIs(t, err, common.ErrConfiguration)
	require.NotNil(t, a)
	assert.Equal(t, StatusDenied, a.Status)
	assert.Empty(t, nav.visited())
}

func TestEnter_DeploymentFaultsAreReturned(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"partner not configured", common.E(common.ErrConfiguration, "fetch partner assertion", errors.New("Partner ID not configured"))},
		{"client not initialized", common.E(common.ErrNotInitialized, "verify credential", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(verifierFunc(func(context.Context, string, string) (identity.Verification, error) {
				return identity.Verification{}, tt.err
			}))
			nav := &recordingNav{}
			a, err := g.Enter(context.Background(), devChannel, nav)
			assert.ErrorIs(t, err, tt.err)
			require.NotNil(t, a)
			assert.Equal(t, StatusDenied, a.Status)
			assert.Empty(t, nav.visited())
		})
	}
}

func TestEnter_InvalidResource(t *testing.T) {
	g := New(verifierFunc(allow))
	_, err := g.Enter(context.Background(), Resource{Kind: KindChannel}, &recordingNav{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestEnter_NavigationFailure(t *testing.T) {
	g := New(verifierFunc(allow))
	a, err := g.Enter(context.Background(), devChannel, &recordingNav{err: errors.New("gone")})
	assert.Error(t, err)
	assert.Equal(t, StatusGranted, a.Status)
}

func TestEnter_ConcurrentAttemptsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	g := New(verifierFunc(func(ctx context.Context, c, r string) (identity.Verification, error) {
		started <- c
		if c == "developer" {
			<-release
			return deny(ctx, c, r)
		}
		return allow(ctx, c, r)
	}))
	nav := &recordingNav{}

	slow := make(chan *Attempt, 1)
	go func() {
		a, _ := g.Enter(context.Background(), devChannel, nav)
		slow <- a
	}()
	require.Equal(t, "developer", <-started)

	fast, err := g.Enter(context.Background(), Resource{ID: "advanced", Kind: KindForumCategory, IsGated: true}, nav)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, fast.Status)
	assert.Equal(t, []string{"/forum_category/advanced"}, nav.visited())

	close(release)
	select {
	case a := <-slow:
		assert.Equal(t, StatusDenied, a.Status)
	case <-time.After(time.Second):
		t.Fatal("first attempt did not finish")
	}
	assert.Equal(t, []string{"/forum_category/advanced"}, nav.visited())
}

func TestEnter_Clock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := New(verifierFunc(allow), WithClock(func() time.Time { return fixed }))
	a, err := g.Enter(context.Background(), devChannel, &recordingNav{})
	require.NoError(t, err)
	assert.Equal(t, fixed, a.StartedAt)
	assert.Equal(t, fixed, a.FinishedAt)
}

func TestLocation_DenialKeepsOriginatingView(t *testing.T) {
	loc := NewLocation("/dashboard")
	g := New(verifierFunc(deny))

	_, err := g.Enter(context.Background(), devChannel, loc)
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", loc.Current())
	assert.Equal(t, 0, loc.Visits())

	g = New(verifierFunc(allow))
	_, err = g.Enter(context.Background(), devChannel, loc)
	require.NoError(t, err)
	assert.Equal(t, "/channel/dev-lounge", loc.Current())
	assert.Equal(t, 1, loc.Visits())
}
