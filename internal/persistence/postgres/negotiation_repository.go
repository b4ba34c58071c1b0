package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNegotiationNotFound is returned when no audit record matches the
// requested user channel id.
var ErrNegotiationNotFound = errors.New("postgres: negotiation not found")

// Negotiation is one durable record of a JIT channel negotiation, kept
// for support and reconciliation after the in-memory state in
// internal/lsps2.Manager is gone (process restart, or simply because
// the negotiation finished).
type Negotiation struct {
	UserChannelID  uint64
	PeerPubkey     string
	State          string
	Scid           *string
	FeeMsat        *uint64
	AmountMsat     *uint64
	FailureReason  *string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// NegotiationRepository persists Negotiation records.
type NegotiationRepository struct {
	db *pgxpool.Pool
}

// NewNegotiationRepository wraps db's pool for negotiation audit
// queries.
func NewNegotiationRepository(db *DB) *NegotiationRepository {
	return &NegotiationRepository{db: db.pool}
}

// Create inserts a new negotiation record, including any SCID, fee and
// amount already known. cmd/lspjitd calls it on the OpenChannel event,
// the first point a user_channel_id exists.
func (r *NegotiationRepository) Create(ctx context.Context, n *Negotiation) error {
	query := `INSERT INTO jit_negotiations (
		user_channel_id, peer_pubkey, state, scid, fee_msat, amount_msat, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query, n.UserChannelID, n.PeerPubkey, n.State, n.Scid, n.FeeMsat, n.AmountMsat, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create negotiation record for user_channel_id %d: %w", n.UserChannelID, err)
	}
	return nil
}

// UpdateState transitions a negotiation to a new state, optionally
// recording the allocated SCID and fee once known.
func (r *NegotiationRepository) UpdateState(ctx context.Context, userChannelID uint64, state string, scid *string, feeMsat, amountMsat *uint64) error {
	query := `UPDATE jit_negotiations
		SET state = $2,
			scid = COALESCE($3, scid),
			fee_msat = COALESCE($4, fee_msat),
			amount_msat = COALESCE($5, amount_msat)
		WHERE user_channel_id = $1`

	tag, err := r.db.Exec(ctx, query, userChannelID, state, scid, feeMsat, amountMsat)
	if err != nil {
		return fmt.Errorf("postgres: update negotiation state for user_channel_id %d: %w", userChannelID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNegotiationNotFound
	}
	return nil
}

// Complete marks a negotiation as finished, successfully or not.
func (r *NegotiationRepository) Complete(ctx context.Context, userChannelID uint64, state string, failureReason *string, completedAt time.Time) error {
	query := `UPDATE jit_negotiations
		SET state = $2, failure_reason = $3, completed_at = $4
		WHERE user_channel_id = $1`

	tag, err := r.db.Exec(ctx, query, userChannelID, state, failureReason, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: complete negotiation for user_channel_id %d: %w", userChannelID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNegotiationNotFound
	}
	return nil
}

// GetByUserChannelID retrieves one negotiation record.
func (r *NegotiationRepository) GetByUserChannelID(ctx context.Context, userChannelID uint64) (*Negotiation, error) {
	query := `SELECT user_channel_id, peer_pubkey, state, scid, fee_msat, amount_msat, failure_reason, created_at, completed_at
		FROM jit_negotiations WHERE user_channel_id = $1`

	var n Negotiation
	err := r.db.QueryRow(ctx, query, userChannelID).Scan(
		&n.UserChannelID, &n.PeerPubkey, &n.State, &n.Scid, &n.FeeMsat, &n.AmountMsat, &n.FailureReason, &n.CreatedAt, &n.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNegotiationNotFound
		}
		return nil, fmt.Errorf("postgres: get negotiation for user_channel_id %d: %w", userChannelID, err)
	}
	return &n, nil
}

// ListByPeer returns all negotiations for a peer, most recent first.
func (r *NegotiationRepository) ListByPeer(ctx context.Context, peerPubkey string) ([]*Negotiation, error) {
	query := `SELECT user_channel_id, peer_pubkey, state, scid, fee_msat, amount_msat, failure_reason, created_at, completed_at
		FROM jit_negotiations WHERE peer_pubkey = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, peerPubkey)
	if err != nil {
		return nil, fmt.Errorf("postgres: list negotiations for peer %s: %w", peerPubkey, err)
	}
	defer rows.Close()

	var negotiations []*Negotiation
	for rows.Next() {
		var n Negotiation
		if err := rows.Scan(&n.UserChannelID, &n.PeerPubkey, &n.State, &n.Scid, &n.FeeMsat, &n.AmountMsat, &n.FailureReason, &n.CreatedAt, &n.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan negotiation row: %w", err)
		}
		negotiations = append(negotiations, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate negotiation rows: %w", err)
	}
	return negotiations, nil
}
