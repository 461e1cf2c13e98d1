//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(userID, nodeID string) *Session {
	return &Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		NodeID:           nodeID,
		ModelID:          "llama3-8b",
		ContextLength:    8192,
		MinutesPurchased: 10,
		AmountSats:       500,
		State:            SessionPendingPayment,
		PaymentMethod:    PaymentLightning,
		CreatedAt:        time.Now().UTC(),
	}
}

func setupSessionFixtures(t *testing.T, db *DB, ctx context.Context) (userID, nodeID string) {
	t.Helper()
	userID = createTestUser(t, NewUserRepository(db), ctx)
	nodeRepo := NewNodeRepository(db)
	node := newTestNode(userID)
	require.NoError(t, nodeRepo.Create(ctx, node))
	return userID, node.ID
}

func TestSessionRepository_Create_And_GetByID(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	userID, nodeID := setupSessionFixtures(t, db, ctx)

	repo := NewSessionRepository(db)
	session := newTestSession(userID, nodeID)
	require.NoError(t, repo.Create(ctx, session))

	retrieved, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionPendingPayment, retrieved.State)
	assert.Equal(t, int64(500), retrieved.AmountSats)
	assert.Nil(t, retrieved.PaidAt)
}

func TestSessionRepository_MarkPaid_IsIdempotent(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	userID, nodeID := setupSessionFixtures(t, db, ctx)

	repo := NewSessionRepository(db)
	session := newTestSession(userID, nodeID)
	require.NoError(t, repo.Create(ctx, session))

	paidAt := time.Now().UTC()
	applied, err := repo.MarkPaid(ctx, session.ID, paidAt, SessionStarting)
	require.NoError(t, err)
	assert.True(t, applied)

	retrieved, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStarting, retrieved.State)
	require.NotNil(t, retrieved.PaidAt)

	// A duplicated settlement callback must be a silent no-op.
	applied, err = repo.MarkPaid(ctx, session.ID, time.Now().UTC(), SessionStarting)
	require.NoError(t, err)
	assert.False(t, applied, "a second PaymentObserved callback must not re-apply")
}

func TestSessionRepository_MarkStarted_IsIdempotent(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	userID, nodeID := setupSessionFixtures(t, db, ctx)

	repo := NewSessionRepository(db)
	session := newTestSession(userID, nodeID)
	require.NoError(t, repo.Create(ctx, session))

	startedAt := time.Now().UTC()
	expiresAt := startedAt.Add(10 * time.Minute)
	applied, err := repo.MarkStarted(ctx, session.ID, startedAt, expiresAt)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkStarted(ctx, session.ID, time.Now().UTC(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied, "a duplicated NodeReady callback must not re-apply")

	retrieved, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, expiresAt, *retrieved.ExpiresAt, time.Second, "the first callback's expiry must stick")
}

func TestSessionRepository_End(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	userID, nodeID := setupSessionFixtures(t, db, ctx)

	repo := NewSessionRepository(db)
	session := newTestSession(userID, nodeID)
	require.NoError(t, repo.Create(ctx, session))

	endedAt := time.Now().UTC()
	require.NoError(t, repo.End(ctx, session.ID, endedAt))

	retrieved, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, retrieved.State)
	require.NotNil(t, retrieved.EndedAt)
}

func TestSessionRepository_ListByState(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	userID, nodeID := setupSessionFixtures(t, db, ctx)

	repo := NewSessionRepository(db)
	pending := newTestSession(userID, nodeID)
	require.NoError(t, repo.Create(ctx, pending))

	active := newTestSession(userID, nodeID)
	active.State = SessionActive
	require.NoError(t, repo.Create(ctx, active))

	sessions, err := repo.ListByState(ctx, SessionPendingPayment)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, pending.ID, sessions[0].ID)
}
