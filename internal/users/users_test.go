package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/authsession/internal/audit"
	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/idgen"
	"github.com/charleshuang3/authsession/internal/storage"
)

const testPassword = "ValidP@ss1"

func newTestService(t *testing.T) (*Service, *gormw.DB, *clockwork.FakeClock) {
	t.Helper()
	return newTestServiceWithConfig(t, &Config{BcryptCost: bcrypt.MinCost, MaxFailedAttempts: 3})
}

func newTestServiceWithConfig(t *testing.T, cfg *Config) (*Service, *gormw.DB, *clockwork.FakeClock) {
	t.Helper()

	db, err := gormw.Open(&gormw.Config{LogLevel: gormlog.Silent})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	ids, err := idgen.NewSnowflake(&idgen.Config{}, clock)
	require.NoError(t, err)

	s, err := NewService(cfg, db, ids, audit.NewRecorder(db, clock), clock)
	require.NoError(t, err)
	return s, db, clock
}

func TestRegister(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "user", u.Roles)
	assert.NotEqual(t, testPassword, u.HashedPassword)
	assert.True(t, u.CheckPassword(testPassword))

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{name: "short username", username: "al", email: "x@example.com", password: testPassword, wantErr: ErrInvalidInput},
		{name: "bad email", username: "bobby", email: "not-an-email", password: testPassword, wantErr: ErrInvalidInput},
		{name: "weak password", username: "bobby", email: "bob@example.com", password: "password", wantErr: ErrInvalidInput},
		{name: "username taken", username: "alice", email: "other@example.com", password: testPassword, wantErr: ErrUserExists},
		{name: "email taken", username: "bobby", email: "alice@example.com", password: testPassword, wantErr: ErrUserExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	for _, id := range []string{"alice", "alice@example.com"} {
		got, err := s.Authenticate(ctx, id, testPassword)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	}

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_Lockout(t *testing.T) {
	s, db, clock := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Authenticate(ctx, "alice", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// locked, even with the right password.
	_, err = s.Authenticate(ctx, "alice", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, ErrAccountLocked)

	clock.Advance(15*time.Minute + time.Second)
	_, err = s.Authenticate(ctx, "alice", testPassword)
	require.NoError(t, err)

	got, err := storage.GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)

	events, err := s.audit.Recent(ctx, u.ID, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, audit.EventAccountLocked)
}

func TestAuthenticate_ConcurrentFailuresAllCount(t *testing.T) {
	s, db, _ := newTestServiceWithConfig(t, &Config{BcryptCost: bcrypt.MinCost, MaxFailedAttempts: 1000})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Authenticate(ctx, "alice", "wrong")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	got, err := storage.GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.FailedLoginAttempts)
}

func TestAuthenticate_ConcurrentLockout(t *testing.T) {
	s, db, _ := newTestServiceWithConfig(t, &Config{BcryptCost: bcrypt.MinCost, MaxFailedAttempts: 5})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Authenticate(ctx, "alice", "wrong")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	got, err := storage.GetUserByID(db, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)

	_, err = s.Authenticate(ctx, "alice", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)

	events, err := s.audit.Recent(ctx, u.ID, 100)
	require.NoError(t, err)
	locks := 0
	for _, e := range events {
		if e.EventType == audit.EventAccountLocked {
			locks++
		}
	}
	assert.Equal(t, 1, locks)
}

func TestAuthenticate_SuccessResetsCounter(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	require.Error(t, err)
	got, err := storage.GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginAttempts)

	_, err = s.Authenticate(ctx, "alice", testPassword)
	require.NoError(t, err)
	got, err = storage.GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
}

func TestAuthenticate_StoreDown(t *testing.T) {
	s, db, _ := newTestService(t)
	require.NoError(t, db.Close())

	_, err := s.Authenticate(context.Background(), "alice", testPassword)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetUser(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	for _, id := range []string{"alice", "alice@example.com", u.Subject()} {
		got, err := s.GetUser(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, u.ID, got.ID)
	}

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
