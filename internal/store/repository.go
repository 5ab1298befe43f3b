/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the settlement-service. By
 * defining an interface, we decouple the settlement engine from the specific
 * database implementation (PostgreSQL), making the engine testable against an
 * in-memory mock.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
)

var (
	// ErrCampaignAlreadySettled is returned when the settlement claim
	// affects zero rows: another run owns the campaign, or it no longer
	// exists. A lost claim is a silent skip, not a failure.
	ErrCampaignAlreadySettled = errors.New("campaign is already settled")
)

// BalanceCredit is one atomic balance increment to apply inside a settlement
// transaction. Amount is an integer string in base units.
type BalanceCredit struct {
	UserID        uuid.UUID
	TokenAddress  string
	TokenSymbol   string
	TokenDecimals int
	Amount        string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Campaign selection (read-only). A campaign is due when it is
	// unsettled and its deadline has passed or it was deactivated.
	FindDueCampaigns(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// Pending replies for one campaign, ordered by creation time (id as
	// tiebreaker) so distribution is deterministic across runs.
	FindPendingRepliesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Reply, error)

	// ApplySettlement executes the whole settlement of one campaign in a
	// single transaction: the conditional settled-flag claim first, then
	// every balance upsert, then every history insert. Zero rows affected
	// by the claim aborts the transaction with ErrCampaignAlreadySettled.
	// Any other failure rolls everything back, claim included.
	ApplySettlement(ctx context.Context, campaignID uuid.UUID, credits []BalanceCredit, entries []domain.SettleHistoryEntry) error

	// Participant-facing reads.
	ListSettleHistoryByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SettleHistoryEntry, error)
	ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
}
