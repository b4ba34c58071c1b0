//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiationRepositoryCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestDB(t, db)

	repo := NewNegotiationRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	err := repo.Create(ctx, &Negotiation{UserChannelID: 1, PeerPubkey: "02aabb", State: "AwaitingMenu", CreatedAt: now})
	require.NoError(t, err)

	got, err := repo.GetByUserChannelID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "AwaitingMenu", got.State)
	assert.Equal(t, "02aabb", got.PeerPubkey)
}

func TestNegotiationRepositoryUpdateStateAndComplete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestDB(t, db)

	repo := NewNegotiationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Negotiation{UserChannelID: 2, PeerPubkey: "03ccdd", State: "AwaitingMenu", CreatedAt: time.Now().UTC()}))

	scid := "840000x1x0"
	fee := uint64(100)
	amount := uint64(999_900)
	require.NoError(t, repo.UpdateState(ctx, 2, "AwaitingChannelReady", &scid, &fee, &amount))

	got, err := repo.GetByUserChannelID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got.Scid)
	assert.Equal(t, scid, *got.Scid)
	assert.Equal(t, fee, *got.FeeMsat)

	require.NoError(t, repo.Complete(ctx, 2, "Done", nil, time.Now().UTC()))
	got, err = repo.GetByUserChannelID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Done", got.State)
	assert.NotNil(t, got.CompletedAt)
}

func TestNegotiationRepositoryGetByUserChannelIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestDB(t, db)

	repo := NewNegotiationRepository(db)
	_, err := repo.GetByUserChannelID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNegotiationNotFound)
}

func TestNegotiationRepositoryListByPeer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	defer cleanupTestDB(t, db)

	repo := NewNegotiationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Negotiation{UserChannelID: 3, PeerPubkey: "04eeff", State: "Done", CreatedAt: time.Now().UTC()}))
	require.NoError(t, repo.Create(ctx, &Negotiation{UserChannelID: 4, PeerPubkey: "04eeff", State: "Done", CreatedAt: time.Now().UTC()}))

	list, err := repo.ListByPeer(ctx, "04eeff")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
