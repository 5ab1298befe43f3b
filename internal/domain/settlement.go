/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent the entities the settlement engine reads and writes:
 * campaigns, participant replies, balance ledger rows, and settlement history.
 *
 * @notes
 * - Monetary values are stored as integer strings in base units
 *   (tokenAmount x 10^tokenDecimals). Token pools routinely exceed int64
 *   range at 18 decimals, so amounts are carried as strings and computed
 *   with math/big; floating point never touches money.
 * - Role and SettlementMode are closed enumerated types; anything outside
 *   their known values marks the carrying record as malformed.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role classifies which reward sub-pool a participant draws from.
// It is frozen onto the reply when the reply is created and never
// recomputed by the settlement engine.
type Role string

const (
	RoleKOL    Role = "kol"
	RoleHolder Role = "holder"
	RoleNormal Role = "normal"
)

// ParseRole validates a stored role tag against the closed set.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleKOL, RoleHolder, RoleNormal:
		return Role(value), nil
	}
	return "", fmt.Errorf("unknown participant role %q", value)
}

// SettlementMode selects the distribution algorithm for a campaign.
type SettlementMode string

const (
	// SettlementModeProportional splits the pool into role-weighted
	// sub-pools, then equally within each sub-pool.
	SettlementModeProportional SettlementMode = "proportional"
	// SettlementModeFixed splits the pool equally across a fixed number
	// of participant slots.
	SettlementModeFixed SettlementMode = "fixed"
)

// ParseSettlementMode validates a stored settlement mode value.
func ParseSettlementMode(value string) (SettlementMode, error) {
	switch SettlementMode(value) {
	case SettlementModeProportional, SettlementModeFixed:
		return SettlementMode(value), nil
	}
	return "", fmt.Errorf("unknown settlement mode %q", value)
}

// SettleEntryType labels a settlement history row with the sub-pool it was
// paid from. Refunds to the campaign creator carry the dedicated refund type.
type SettleEntryType string

const (
	SettleEntryKOL    SettleEntryType = "kol"
	SettleEntryHolder SettleEntryType = "holder"
	SettleEntryNormal SettleEntryType = "normal"
	SettleEntryRefund SettleEntryType = "refund"
)

// SettleEntryTypeForRole maps a frozen reply role to its history entry type.
func SettleEntryTypeForRole(role Role) SettleEntryType {
	switch role {
	case RoleKOL:
		return SettleEntryKOL
	case RoleHolder:
		return SettleEntryHolder
	default:
		return SettleEntryNormal
	}
}

// ReplyStatusPending is the only reply status that participates in settlement.
const ReplyStatusPending = "PENDING"

// Campaign represents a sponsored engagement campaign with a fixed token
// reward pool. This struct maps directly to the `campaigns` table.
type Campaign struct {
	ID                            uuid.UUID      `json:"id" db:"id"`
	TokenAmount                   string         `json:"token_amount" db:"token_amount"`     // human units, decimal string
	TokenDecimals                 int            `json:"token_decimals" db:"token_decimals"` // scale for base-unit conversion
	CustomTokenAddress            string         `json:"custom_token_address" db:"custom_token_address"`
	PaymentTokenSymbol            string         `json:"payment_token_symbol" db:"payment_token_symbol"`
	SettlementMode                SettlementMode `json:"settlement_mode" db:"settlement_mode"`
	ShareOfKols                   int            `json:"share_of_kols" db:"share_of_kols"`       // percent 0..100
	ShareOfHolders                int            `json:"share_of_holders" db:"share_of_holders"` // percent 0..100
	ShareOfOthers                 int            `json:"share_of_others" db:"share_of_others"`   // percent 0..100
	MaxParticipants               int            `json:"max_participants" db:"max_participants"` // fixed mode only
	ParticipantMinimumTokenAmount string         `json:"participant_minimum_token_amount" db:"participant_minimum_token_amount"`
	Deadline                      time.Time      `json:"deadline" db:"deadline"`
	IsActive                      bool           `json:"is_active" db:"is_active"`
	IsSettled                     bool           `json:"is_settled" db:"is_settled"`
	CreatedBy                     uuid.UUID      `json:"created_by" db:"created_by"`
	CreatedAt                     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt                     time.Time      `json:"updated_at" db:"updated_at"`
}

// Reply represents a participant's qualifying engagement with a campaign.
// The role is decided once at reply time from the participant's on-chain
// balance and KOL-registry status at that moment; settlement trusts it.
type Reply struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`
	CreatedBy  uuid.UUID `json:"created_by" db:"created_by"`
	Role       Role      `json:"role" db:"role"`
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Balance is a participant's ledger row for one token, uniquely keyed by
// (user_id, token_address). The settlement engine only ever increments it.
type Balance struct {
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	TokenAddress  string    `json:"token_address" db:"token_address"`
	TokenSymbol   string    `json:"token_symbol" db:"token_symbol"`
	Amount        string    `json:"amount" db:"amount"` // base units, integer string
	TokenDecimals int       `json:"token_decimals" db:"token_decimals"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SettleHistoryEntry is one row of the append-only settlement audit trail.
type SettleHistoryEntry struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	CampaignID   uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	SettleAmount string          `json:"settle_amount" db:"settle_amount"` // base units, integer string
	EntryType    SettleEntryType `json:"entry_type" db:"entry_type"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Possible statuses of a per-campaign settlement attempt within a batch run.
const (
	SettlementStatusSettled = "settled"
	SettlementStatusSkipped = "skipped"
	SettlementStatusFailed  = "failed"
)

// SettlementOutcome describes what happened to a single campaign during a run.
type SettlementOutcome struct {
	CampaignID   uuid.UUID      `json:"campaign_id"`
	Status       string         `json:"status"`
	Mode         SettlementMode `json:"mode,omitempty"`
	Participants int            `json:"participants"`
	TotalUnits   string         `json:"total_units,omitempty"` // base units distributed, refund included
	RefundUnits  string         `json:"refund_units,omitempty"`
	Reason       string         `json:"reason,omitempty"` // populated for skipped/failed outcomes
}

// SettlementRunResult summarizes one batch pass over due campaigns. It is
// returned by the HTTP trigger and logged by the cron entry point.
type SettlementRunResult struct {
	Examined      int                 `json:"examined"`
	Settled       int                 `json:"settled"`
	Skipped       int                 `json:"skipped"`
	Failed        int                 `json:"failed"`
	BudgetExpired bool                `json:"budget_expired"`
	Outcomes      []SettlementOutcome `json:"outcomes"`
}
