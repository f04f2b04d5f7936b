package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair, err := env.svc.Login(ctx, "alice", testPassword)
	require.NoError(t, err)

	const k = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
		others    []error
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Refresh(ctx, pair.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenNotFound):
				rejected++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, k-1, rejected)
	assert.Equal(t, int64(1), env.activeCount(t, testUserID))
}

func TestLogin_ConcurrentRespectsLimit(t *testing.T) {
	const maxSessions = 3
	env := newTestEnv(t, &Config{MaxSessions: maxSessions})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Login(ctx, "alice", testPassword)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(maxSessions), env.activeCount(t, testUserID))
}

func TestLogin_ConcurrentRejectPolicy(t *testing.T) {
	const maxSessions = 2
	env := newTestEnv(t, &Config{MaxSessions: maxSessions, SessionLimitPolicy: PolicyReject})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Login(ctx, "alice", testPassword)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrTooManySessions) {
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxSessions, ok)
	assert.Equal(t, 8-maxSessions, full)
	assert.Equal(t, int64(maxSessions), env.activeCount(t, testUserID))
}
