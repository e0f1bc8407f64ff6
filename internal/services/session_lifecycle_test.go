package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var alice = models.IdentityClaims{Username: "alice", IsVerified: true}

func TestIssueThenVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "laptop")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	identity, err := h.verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, pair.SessionID, identity.SessionID)
	assert.Equal(t, "alice", identity.Claims.Username)

	session, err := h.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), session.Generation)
	assert.Equal(t, "laptop", session.DeviceID)

	assert.Eventually(t, func() bool {
		return h.events.has(models.EventSessionIssued, pair.SessionID)
	}, time.Second, 10*time.Millisecond)
}

func TestIssue_NewSessionEveryTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)
	b, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)

	sessions, err := h.revoker.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestIssue_StoreDownReturnsNoTokens(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	pair, err := h.issuer.Issue(context.Background(), "u1", alice, "")
	assert.ErrorIs(t, err, pkgerrors.ErrStoreUnavailable)
	assert.Nil(t, pair)
}

func TestIssue_RequiresUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.issuer.Issue(context.Background(), "", alice, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
}

func TestVerify_RejectsRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	_, err = h.verifier.Verify(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenKindMismatch)

	_, err = h.rotator.Rotate(ctx, pair.AccessToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrTokenKindMismatch)
}

func TestVerify_ExpiredRegardlessOfSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	h.clock.Advance(16 * time.Minute)

	_, err = h.verifier.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, pkgerrors.ErrTokenExpired)

	_, err = h.store.Get(ctx, pair.SessionID)
	assert.NoError(t, err, "session is still live")
}

func TestVerify_FailsClosedWhenStoreDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)
	h.mr.Close()

	identity, err := h.verifier.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, pkgerrors.ErrStoreUnavailable)
	assert.Nil(t, identity)
}

func TestVerify_UpdatesLastActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	_, err = h.verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	session, err := h.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.True(t, session.LastActivityAt.Equal(h.clock.Now()))
	assert.True(t, session.CreatedAt.Before(session.LastActivityAt))
}

func TestVerify_TouchInterval(t *testing.T) {
	h := newHarness(t)
	h.verifier.settings.TouchInterval = time.Minute
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)
	issuedAt := h.clock.Now()

	h.clock.Advance(30 * time.Second)
	_, err = h.verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	session, err := h.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.True(t, session.LastActivityAt.Equal(issuedAt))
}

func TestRotate_AdvancesGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	second, err := h.rotator.Rotate(ctx, first.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	session, err := h.store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.Generation)

	third, err := h.rotator.Rotate(ctx, second.RefreshToken, "")
	require.NoError(t, err)

	session, err = h.store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), session.Generation)

	_, err = h.verifier.Verify(ctx, third.AccessToken)
	assert.NoError(t, err)
}

func TestRotate_ReplayRevokesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A1/R1
	pairA, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	identity, err := h.verifier.Verify(ctx, pairA.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	// A2/R2
	pairB, err := h.rotator.Rotate(ctx, pairA.RefreshToken, "")
	require.NoError(t, err)

	// access tokens from before the rotation stay valid until they expire
	_, err = h.verifier.Verify(ctx, pairA.AccessToken)
	require.NoError(t, err)

	_, err = h.rotator.Rotate(ctx, pairA.RefreshToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrGenerationMismatch)

	_, err = h.verifier.Verify(ctx, pairB.AccessToken)
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)

	_, err = h.rotator.Rotate(ctx, pairB.RefreshToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)

	assert.Eventually(t, func() bool {
		return h.events.has(models.EventReplayDetected, pairA.SessionID)
	}, time.Second, 10*time.Millisecond)
}

func TestRotate_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.rotator.Rotate(ctx, pair.RefreshToken, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.True(t, pkgerrors.IsUnauthorized(err), err.Error())
	}
}

func TestRotate_TwoCallersLoserReplays(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		ctx := context.Background()

		pair, err := h.issuer.Issue(ctx, "u1", alice, "")
		require.NoError(t, err)

		type result struct {
			pair *models.TokenPair
			err  error
		}
		results := make(chan result, 2)
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			go func() {
				<-start
				next, err := h.rotator.Rotate(ctx, pair.RefreshToken, "")
				results <- result{pair: next, err: err}
			}()
		}
		close(start)

		var winner *models.TokenPair
		var losers []error
		for i := 0; i < 2; i++ {
			r := <-results
			if r.err == nil {
				winner = r.pair
				continue
			}
			losers = append(losers, r.err)
		}

		require.NotNil(t, winner, "round %d", round)
		require.Len(t, losers, 1, "round %d", round)
		assert.ErrorIs(t, losers[0], pkgerrors.ErrGenerationMismatch, "round %d", round)

		_, err = h.verifier.Verify(ctx, winner.AccessToken)
		assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound, "round %d", round)
	}
}

func TestRotate_ClaimsRefreshedFromSource(t *testing.T) {
	users := new(mockUserRepository)
	h := newHarness(t, withClaimsSource(NewUserClaims(users)))
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "7", alice, "")
	require.NoError(t, err)

	users.On("GetByID", mock.Anything, int64(7)).
		Return(&models.User{ID: 7, Username: "alice", IsAdmin: true, IsVerified: true}, nil).Once()

	next, err := h.rotator.Rotate(ctx, pair.RefreshToken, "")
	require.NoError(t, err)

	identity, err := h.verifier.Verify(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.True(t, identity.Claims.IsAdmin)

	// the access token minted before the change keeps its snapshot
	identity, err = h.verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, identity.Claims.IsAdmin)
	users.AssertExpectations(t)
}

func TestRotate_DeletedUserEndsSession(t *testing.T) {
	users := new(mockUserRepository)
	h := newHarness(t, withClaimsSource(NewUserClaims(users)))
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "7", alice, "")
	require.NoError(t, err)
	users.On("GetByID", mock.Anything, int64(7)).Return(nil, pkgerrors.ErrUserNotFound)

	_, err = h.rotator.Rotate(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)

	_, err = h.store.Get(ctx, pair.SessionID)
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
}

func TestRotate_DeviceBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "phone")
	require.NoError(t, err)

	_, err = h.rotator.Rotate(ctx, pair.RefreshToken, "tablet")
	assert.ErrorIs(t, err, pkgerrors.ErrDeviceMismatch)

	// the legitimate device can still rotate
	_, err = h.rotator.Rotate(ctx, pair.RefreshToken, "phone")
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return h.events.has(models.EventDeviceMismatched, pair.SessionID)
	}, time.Second, 10*time.Millisecond)
}

func TestRotate_StoreDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)
	h.mr.Close()

	next, err := h.rotator.Rotate(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrStoreUnavailable)
	assert.Nil(t, next)
}

func TestRevokeSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.issuer.Issue(ctx, "u1", alice, "")
	require.NoError(t, err)

	require.NoError(t, h.revoker.RevokeSession(ctx, pair.SessionID))

	_, err = h.verifier.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
	_, err = h.rotator.Rotate(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)

	// idempotent
	assert.NoError(t, h.revoker.RevokeSession(ctx, pair.SessionID))
	assert.NoError(t, h.revoker.RevokeSession(ctx, "never-existed"))
}

func TestRevokeAllForUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var pairs []*models.TokenPair
	for i := 0; i < 3; i++ {
		pair, err := h.issuer.Issue(ctx, "u1", alice, "")
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}
	other, err := h.issuer.Issue(ctx, "u2", alice, "")
	require.NoError(t, err)

	removed, err := h.revoker.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, pair := range pairs {
		_, err := h.verifier.Verify(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
	}
	_, err = h.verifier.Verify(ctx, other.AccessToken)
	assert.NoError(t, err)

	removed, err = h.revoker.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}
