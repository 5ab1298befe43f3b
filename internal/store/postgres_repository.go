/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface using the pgx driver. The settlement write path is a single
 * transaction per campaign: the conditional settled-flag claim, the balance
 * upserts, and the history inserts either all commit or all roll back.
 *
 * @dependencies
 * - context, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: Domain models.
 *
 * @notes
 * - Monetary columns are NUMERIC(78,0) and travel as integer strings in base
 *   units; the repository validates them before interpolating into a query.
 * - Balance rows are only ever incremented here, via the ON CONFLICT upsert;
 *   application code never does read-modify-write on a balance.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagefi/settlement-service/internal/domain"
)

// PostgresRepository implements Repository backed by a pgx connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository instance.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindDueCampaigns returns unsettled campaigns whose deadline has passed or
// that were deactivated, oldest deadline first.
func (r *PostgresRepository) FindDueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, token_amount, token_decimals, custom_token_address,
			payment_token_symbol, settlement_mode, share_of_kols,
			share_of_holders, share_of_others, max_participants,
			participant_minimum_token_amount, deadline, is_active,
			is_settled, created_by, created_at, updated_at
		FROM campaigns
		WHERE is_settled = FALSE
		  AND (deadline <= $1 OR is_active = FALSE)
		ORDER BY deadline ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var mode string
		if err := rows.Scan(
			&c.ID, &c.TokenAmount, &c.TokenDecimals, &c.CustomTokenAddress,
			&c.PaymentTokenSymbol, &mode, &c.ShareOfKols,
			&c.ShareOfHolders, &c.ShareOfOthers, &c.MaxParticipants,
			&c.ParticipantMinimumTokenAmount, &c.Deadline, &c.IsActive,
			&c.IsSettled, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}
		c.SettlementMode = domain.SettlementMode(mode)
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// FindPendingRepliesByCampaign returns a campaign's PENDING replies ordered
// by creation time, with id as a tiebreaker for equal timestamps.
func (r *PostgresRepository) FindPendingRepliesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Reply, error) {
	query := `
		SELECT id, campaign_id, created_by, role, status, created_at
		FROM replies
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, campaignID, domain.ReplyStatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending replies: %w", err)
	}
	defer rows.Close()

	var replies []domain.Reply
	for rows.Next() {
		var reply domain.Reply
		var role string
		if err := rows.Scan(&reply.ID, &reply.CampaignID, &reply.CreatedBy, &role, &reply.Status, &reply.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply row: %w", err)
		}
		reply.Role = domain.Role(role)
		replies = append(replies, reply)
	}
	return replies, rows.Err()
}

// ApplySettlement settles one campaign atomically. The claim runs first so a
// concurrent run loses cleanly before any money moves; a crediting failure
// afterwards rolls the claim back with everything else.
func (r *PostgresRepository) ApplySettlement(
	ctx context.Context,
	campaignID uuid.UUID,
	credits []BalanceCredit,
	entries []domain.SettleHistoryEntry,
) error {
	for _, credit := range credits {
		if err := validateBaseUnitAmount(credit.Amount); err != nil {
			return fmt.Errorf("invalid credit amount for user %s: %w", credit.UserID, err)
		}
	}
	for _, entry := range entries {
		if err := validateBaseUnitAmount(entry.SettleAmount); err != nil {
			return fmt.Errorf("invalid settle amount for user %s: %w", entry.UserID, err)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Atomic conditional claim. Zero rows means another run already owns
	// this campaign (or it vanished); either way, nothing to do here.
	claimResult, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET is_settled = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_settled = FALSE
	`, campaignID)
	if err != nil {
		return fmt.Errorf("claim campaign for settlement: %w", err)
	}
	if claimResult.RowsAffected() == 0 {
		return ErrCampaignAlreadySettled
	}

	batch := &pgx.Batch{}
	for _, credit := range credits {
		batch.Queue(`
			INSERT INTO balances (user_id, token_address, token_symbol, amount, token_decimals, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, NOW())
			ON CONFLICT (user_id, token_address)
			DO UPDATE SET
				amount = balances.amount + EXCLUDED.amount,
				updated_at = NOW()
		`, credit.UserID, credit.TokenAddress, credit.TokenSymbol, credit.Amount, credit.TokenDecimals)
	}
	for _, entry := range entries {
		entryID := entry.ID
		if entryID == uuid.Nil {
			entryID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO settle_history (id, campaign_id, user_id, settle_amount, entry_type, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, NOW())
		`, entryID, entry.CampaignID, entry.UserID, entry.SettleAmount, string(entry.EntryType))
	}

	// Drain every queued write before commit; a partially applied batch
	// must never be committed.
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("apply settlement write %d/%d: %w", i+1, batch.Len(), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close settlement batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settlement tx: %w", err)
	}
	return nil
}

// ListSettleHistoryByUser returns a participant's settlement history entries,
// newest first.
func (r *PostgresRepository) ListSettleHistoryByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SettleHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, campaign_id, user_id, settle_amount, entry_type, created_at
		FROM settle_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query settle history: %w", err)
	}
	defer rows.Close()

	var entries []domain.SettleHistoryEntry
	for rows.Next() {
		var entry domain.SettleHistoryEntry
		var entryType string
		if err := rows.Scan(&entry.ID, &entry.CampaignID, &entry.UserID, &entry.SettleAmount, &entryType, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan settle history row: %w", err)
		}
		entry.EntryType = domain.SettleEntryType(entryType)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListBalancesByUser returns all of a participant's balance rows.
func (r *PostgresRepository) ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	query := `
		SELECT user_id, token_address, token_symbol, amount, token_decimals, updated_at
		FROM balances
		WHERE user_id = $1
		ORDER BY token_address ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.UserID, &b.TokenAddress, &b.TokenSymbol, &b.Amount, &b.TokenDecimals, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// validateBaseUnitAmount rejects anything that is not a plain non-negative
// integer string. These values end up in NUMERIC(78,0) columns; a stray sign,
// decimal point, or empty string indicates a calculator bug upstream.
func validateBaseUnitAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount is empty")
	}
	for _, r := range amount {
		if r < '0' || r > '9' {
			return fmt.Errorf("amount %q is not a base-unit integer", amount)
		}
	}
	return nil
}
