package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlog "gorm.io/gorm/logger"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/models"
)

func newTestDB(t *testing.T) *gormw.DB {
	t.Helper()

	db, err := gormw.Open(&gormw.Config{LogLevel: gormlog.Silent})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addToken(t *testing.T, db *gormw.DB, id, userID int64, createdAt, expiresAt time.Time) *models.RefreshToken {
	t.Helper()

	rt := &models.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: fmt.Sprintf("hash-%d", id),
		CreatedAt: createdAt.UTC(),
		ExpiresAt: expiresAt.UTC(),
		CreatedBy: "test",
	}
	require.NoError(t, AddRefreshToken(db, rt))
	return rt
}

func TestRefreshTokenLookup(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rt := addToken(t, db, 1, 10, now, now.Add(time.Hour))

	got, err := GetRefreshTokenByHash(db, rt.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, got.ID)
	assert.Equal(t, int64(10), got.UserID)
	assert.False(t, got.Revoked)

	got, err = GetRefreshTokenByID(db, 1)
	require.NoError(t, err)
	assert.Equal(t, rt.TokenHash, got.TokenHash)

	exists, err := RefreshTokenExistsByHash(db, rt.TokenHash)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = RefreshTokenExistsByHash(db, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = GetRefreshTokenByHash(db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = GetRefreshTokenByID(db, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRefreshToken_DuplicateHash(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	rt := addToken(t, db, 1, 10, now, now.Add(time.Hour))
	dup := &models.RefreshToken{ID: 2, UserID: 10, TokenHash: rt.TokenHash, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	err := AddRefreshToken(db, dup)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListActiveRefreshTokens(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	addToken(t, db, 3, 10, now.Add(-1*time.Minute), now.Add(time.Hour))
	addToken(t, db, 1, 10, now.Add(-3*time.Minute), now.Add(time.Hour))
	addToken(t, db, 2, 10, now.Add(-2*time.Minute), now.Add(-time.Second)) // expired
	addToken(t, db, 4, 10, now.Add(-4*time.Minute), now.Add(time.Hour))
	addToken(t, db, 5, 20, now, now.Add(time.Hour)) // other user

	ok, err := RevokeRefreshToken(db, 4, now, nil)
	require.NoError(t, err)
	require.True(t, ok)

	list, err := ListActiveRefreshTokens(db, 10, now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID, "oldest first")
	assert.Equal(t, int64(3), list[1].ID)

	n, err := CountActiveRefreshTokens(db, 10, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRevokeRefreshToken_OnlyOnce(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	addToken(t, db, 1, 10, now, now.Add(time.Hour))
	next := int64(2)

	ok, err := RevokeRefreshToken(db, 1, now, &next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = RevokeRefreshToken(db, 1, now, nil)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke must not affect the row")

	ok, err = RevokeRefreshToken(db, 404, now, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := GetRefreshTokenByID(db, 1)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)
	require.NotNil(t, got.ReplacedByID)
	assert.Equal(t, next, *got.ReplacedByID)
}

func TestRevokeAllAndByIDs(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	addToken(t, db, 1, 10, now, now.Add(time.Hour))
	addToken(t, db, 2, 10, now, now.Add(time.Hour))
	addToken(t, db, 3, 10, now, now.Add(time.Hour))
	addToken(t, db, 4, 20, now, now.Add(time.Hour))

	n, err := RevokeRefreshTokens(db, 10, []int64{1, 4}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "token 4 belongs to another user")

	n, err = RevokeRefreshTokens(db, 10, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = RevokeAllRefreshTokens(db, 10, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = RevokeAllRefreshTokens(db, 10, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "revoke all is idempotent")

	active, err := CountActiveRefreshTokens(db, 20, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestDeleteRefreshTokensCreatedBefore(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -30)

	addToken(t, db, 1, 10, cutoff.Add(-time.Hour), now.Add(time.Hour)) // old, still unexpired
	addToken(t, db, 2, 10, cutoff.Add(-time.Hour), now.Add(time.Hour))
	addToken(t, db, 3, 10, cutoff, now.Add(time.Hour))
	addToken(t, db, 4, 10, cutoff.Add(time.Hour), now.Add(time.Hour))
	_, err := RevokeRefreshToken(db, 2, now, nil)
	require.NoError(t, err)

	n, err := DeleteRefreshTokensCreatedBefore(db, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = GetRefreshTokenByID(db, 3)
	assert.NoError(t, err, "row at the cutoff is kept")
	_, err = GetRefreshTokenByID(db, 4)
	assert.NoError(t, err)

	n, err = DeleteRefreshTokensCreatedBefore(db, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestClosedDBIsUnavailable(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Close())

	_, err := GetRefreshTokenByHash(db, "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}
