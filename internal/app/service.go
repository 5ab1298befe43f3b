/**
 * @description
 * This file contains the core business logic for the settlement-service. The
 * `Service` struct owns the one and only settlement engine: it selects due
 * campaigns, computes distributions, and applies each campaign's credits
 * through the repository's atomic settlement transaction.
 *
 * Key properties:
 * - Per-campaign failure isolation: one campaign's malformed data or write
 *   failure never aborts the rest of the batch.
 * - Bounded runs: the batch stops cleanly when the run budget expires;
 *   unprocessed campaigns stay unsettled for the next run.
 * - Idempotent settlement: the repository's claim-before-credit transaction
 *   makes re-invocation and concurrent invocation safe; a lost claim is a
 *   silent skip.
 *
 * @dependencies
 * - context, errors, fmt, log, math/big, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Settlement event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
	"github.com/engagefi/settlement-service/internal/store"
	"github.com/engagefi/settlement-service/pkg/rabbitmq"
)

const (
	defaultBatchLimit = 50
	defaultRunBudget  = 4 * time.Minute
)

// TokenBalanceClient looks up a participant's current on-chain balance of a
// token, in base units. Used only for the fixed-mode minimum-balance gate.
type TokenBalanceClient interface {
	GetTokenBalance(ctx context.Context, userID uuid.UUID, tokenAddress string) (string, error)
}

// Service provides the core business logic for reward settlement.
type Service struct {
	repo          store.Repository
	tokenClient   TokenBalanceClient
	eventProducer rabbitmq.Publisher
	batchLimit    int
	runBudget     time.Duration
}

// NewService creates a new settlement service instance. The event producer
// and token client may be nil; publishing degrades to a no-op and fixed-mode
// campaigns with a minimum-balance gate fail settlement until a client is
// configured.
func NewService(
	repo store.Repository,
	tokenClient TokenBalanceClient,
	producer rabbitmq.Publisher,
	batchLimit int,
	runBudget time.Duration,
) *Service {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	if runBudget <= 0 {
		runBudget = defaultRunBudget
	}
	return &Service{
		repo:          repo,
		tokenClient:   tokenClient,
		eventProducer: producer,
		batchLimit:    batchLimit,
		runBudget:     runBudget,
	}
}

// SettleDueCampaigns runs one batch pass over due campaigns. triggerSource
// labels the run origin ("cron" or "http") in logs and events.
func (s *Service) SettleDueCampaigns(ctx context.Context, triggerSource string) (*domain.SettlementRunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.runBudget)
	defer cancel()

	campaigns, err := s.repo.FindDueCampaigns(runCtx, time.Now().UTC(), s.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("find due campaigns: %w", err)
	}

	result := &domain.SettlementRunResult{
		Outcomes: make([]domain.SettlementOutcome, 0, len(campaigns)),
	}

	for _, campaign := range campaigns {
		// Stop between campaigns, never mid-transaction. Whatever is
		// left stays unsettled and is picked up by the next run.
		if runCtx.Err() != nil {
			result.BudgetExpired = true
			log.Printf("level=warn component=settlement flow=batch msg=\"run budget expired; stopping\" trigger=%s examined=%d remaining=%d",
				triggerSource, result.Examined, len(campaigns)-result.Examined)
			break
		}

		result.Examined++
		outcome := s.settleCampaign(runCtx, campaign, triggerSource)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Status {
		case domain.SettlementStatusSettled:
			result.Settled++
		case domain.SettlementStatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	log.Printf("level=info component=settlement flow=batch msg=\"run finished\" trigger=%s examined=%d settled=%d skipped=%d failed=%d budget_expired=%t",
		triggerSource, result.Examined, result.Settled, result.Skipped, result.Failed, result.BudgetExpired)
	return result, nil
}

// settleCampaign settles a single campaign. Every failure path returns an
// outcome instead of propagating, so the enclosing batch keeps going.
func (s *Service) settleCampaign(ctx context.Context, campaign domain.Campaign, triggerSource string) domain.SettlementOutcome {
	totalUnits, minimumUnits, err := validateCampaignForSettlement(campaign)
	if err != nil {
		log.Printf("level=warn component=settlement flow=campaign msg=\"malformed campaign skipped\" campaign_id=%s err=%v", campaign.ID, err)
		return domain.SettlementOutcome{
			CampaignID: campaign.ID,
			Status:     domain.SettlementStatusFailed,
			Reason:     fmt.Sprintf("malformed campaign: %v", err),
		}
	}

	replies, err := s.repo.FindPendingRepliesByCampaign(ctx, campaign.ID)
	if err != nil {
		log.Printf("level=error component=settlement flow=campaign msg=\"reply lookup failed\" campaign_id=%s err=%v", campaign.ID, err)
		return domain.SettlementOutcome{
			CampaignID: campaign.ID,
			Status:     domain.SettlementStatusFailed,
			Reason:     fmt.Sprintf("load replies: %v", err),
		}
	}
	for _, reply := range replies {
		if _, roleErr := domain.ParseRole(string(reply.Role)); roleErr != nil {
			log.Printf("level=warn component=settlement flow=campaign msg=\"reply with unknown role; campaign skipped\" campaign_id=%s reply_id=%s role=%q",
				campaign.ID, reply.ID, reply.Role)
			return domain.SettlementOutcome{
				CampaignID: campaign.ID,
				Status:     domain.SettlementStatusFailed,
				Reason:     fmt.Sprintf("reply %s: %v", reply.ID, roleErr),
			}
		}
	}

	participants := dedupeParticipants(replies)

	var distribution *DistributionResult
	switch campaign.SettlementMode {
	case domain.SettlementModeProportional:
		distribution, err = computeProportionalDistribution(totalUnits, map[domain.Role]int{
			domain.RoleKOL:    campaign.ShareOfKols,
			domain.RoleHolder: campaign.ShareOfHolders,
			domain.RoleNormal: campaign.ShareOfOthers,
		}, participants)
	case domain.SettlementModeFixed:
		var eligible []participantShare
		eligible, err = s.selectFixedEligible(ctx, campaign, participants, minimumUnits)
		if err == nil {
			distribution, err = computeFixedDistribution(totalUnits, campaign.MaxParticipants, eligible)
		}
	default:
		err = fmt.Errorf("unknown settlement mode %q", campaign.SettlementMode)
	}
	if err != nil {
		log.Printf("level=error component=settlement flow=campaign msg=\"distribution failed\" campaign_id=%s mode=%s err=%v",
			campaign.ID, campaign.SettlementMode, err)
		return domain.SettlementOutcome{
			CampaignID: campaign.ID,
			Status:     domain.SettlementStatusFailed,
			Mode:       campaign.SettlementMode,
			Reason:     fmt.Sprintf("compute distribution: %v", err),
		}
	}

	credits, entries := buildSettlementWrites(campaign, distribution)

	if err := s.repo.ApplySettlement(ctx, campaign.ID, credits, entries); err != nil {
		if errors.Is(err, store.ErrCampaignAlreadySettled) {
			log.Printf("level=info component=settlement flow=campaign msg=\"claim lost; campaign already settled\" campaign_id=%s", campaign.ID)
			return domain.SettlementOutcome{
				CampaignID: campaign.ID,
				Status:     domain.SettlementStatusSkipped,
				Mode:       campaign.SettlementMode,
				Reason:     "already settled",
			}
		}
		log.Printf("level=error component=settlement flow=campaign msg=\"settlement write failed; rolled back\" campaign_id=%s err=%v", campaign.ID, err)
		return domain.SettlementOutcome{
			CampaignID: campaign.ID,
			Status:     domain.SettlementStatusFailed,
			Mode:       campaign.SettlementMode,
			Reason:     fmt.Sprintf("apply settlement: %v", err),
		}
	}

	participantCredits := len(entries)
	if distribution.Refund.Sign() > 0 {
		participantCredits--
	}

	log.Printf("level=info component=settlement flow=campaign msg=\"campaign settled\" campaign_id=%s mode=%s participants=%d total_units=%s refund_units=%s",
		campaign.ID, campaign.SettlementMode, participantCredits, distribution.TotalUnits.String(), distribution.Refund.String())

	s.publishCampaignSettled(ctx, campaign, distribution, participantCredits, len(entries), triggerSource)

	return domain.SettlementOutcome{
		CampaignID:   campaign.ID,
		Status:       domain.SettlementStatusSettled,
		Mode:         campaign.SettlementMode,
		Participants: participantCredits,
		TotalUnits:   distribution.TotalUnits.String(),
		RefundUnits:  distribution.Refund.String(),
	}
}

// selectFixedEligible applies the fixed-mode minimum-balance gate and caps
// the eligible set at the campaign's slot count, preserving reply order.
// Excluded participants receive nothing and produce no history entry; their
// slots fold into the refund because the divisor stays fixed.
func (s *Service) selectFixedEligible(
	ctx context.Context,
	campaign domain.Campaign,
	participants []participantShare,
	minimumUnits *big.Int,
) ([]participantShare, error) {
	gated := minimumUnits != nil && minimumUnits.Sign() > 0
	if gated && s.tokenClient == nil {
		return nil, errors.New("minimum-balance gate requires a token balance client")
	}

	eligible := make([]participantShare, 0, len(participants))
	for _, p := range participants {
		if len(eligible) == campaign.MaxParticipants {
			break
		}
		if gated {
			rawBalance, err := s.tokenClient.GetTokenBalance(ctx, p.UserID, campaign.CustomTokenAddress)
			if err != nil {
				// Guessing eligibility risks paying the wrong people;
				// fail the campaign and retry next run.
				return nil, fmt.Errorf("token balance lookup for user %s: %w", p.UserID, err)
			}
			balance, ok := new(big.Int).SetString(rawBalance, 10)
			if !ok || balance.Sign() < 0 {
				return nil, fmt.Errorf("token balance %q for user %s is not a base-unit integer", rawBalance, p.UserID)
			}
			if balance.Cmp(minimumUnits) < 0 {
				log.Printf("level=info component=settlement flow=campaign msg=\"participant below minimum balance; excluded\" campaign_id=%s user_id=%s",
					campaign.ID, p.UserID)
				continue
			}
		}
		eligible = append(eligible, p)
	}
	return eligible, nil
}

// buildSettlementWrites converts a distribution into the repository's write
// instructions: one balance credit and one history entry per nonzero payout,
// plus the creator refund when nonzero.
func buildSettlementWrites(campaign domain.Campaign, distribution *DistributionResult) ([]store.BalanceCredit, []domain.SettleHistoryEntry) {
	credits := make([]store.BalanceCredit, 0, len(distribution.Credits)+1)
	entries := make([]domain.SettleHistoryEntry, 0, len(distribution.Credits)+1)

	appendCredit := func(userID uuid.UUID, amount *big.Int, entryType domain.SettleEntryType) {
		credits = append(credits, store.BalanceCredit{
			UserID:        userID,
			TokenAddress:  campaign.CustomTokenAddress,
			TokenSymbol:   campaign.PaymentTokenSymbol,
			TokenDecimals: campaign.TokenDecimals,
			Amount:        amount.String(),
		})
		entries = append(entries, domain.SettleHistoryEntry{
			ID:           uuid.New(),
			CampaignID:   campaign.ID,
			UserID:       userID,
			SettleAmount: amount.String(),
			EntryType:    entryType,
		})
	}

	for _, credit := range distribution.Credits {
		appendCredit(credit.UserID, credit.Amount, credit.EntryType)
	}
	if distribution.Refund.Sign() > 0 {
		appendCredit(campaign.CreatedBy, distribution.Refund, domain.SettleEntryRefund)
	}

	return credits, entries
}

// validateCampaignForSettlement checks the fields settlement depends on and
// parses the monetary strings. It returns the pool in base units and, for
// fixed mode, the minimum-balance threshold in base units (nil when unset).
func validateCampaignForSettlement(campaign domain.Campaign) (totalUnits, minimumUnits *big.Int, err error) {
	if _, err := domain.ParseSettlementMode(string(campaign.SettlementMode)); err != nil {
		return nil, nil, err
	}

	totalUnits, err = parseTokenAmountToBaseUnits(campaign.TokenAmount, campaign.TokenDecimals)
	if err != nil {
		return nil, nil, fmt.Errorf("token amount: %w", err)
	}

	switch campaign.SettlementMode {
	case domain.SettlementModeProportional:
		for _, share := range []struct {
			name  string
			value int
		}{
			{"share_of_kols", campaign.ShareOfKols},
			{"share_of_holders", campaign.ShareOfHolders},
			{"share_of_others", campaign.ShareOfOthers},
		} {
			if share.value < 0 || share.value > 100 {
				return nil, nil, fmt.Errorf("%s is %d, outside 0..100", share.name, share.value)
			}
		}
	case domain.SettlementModeFixed:
		if campaign.MaxParticipants <= 0 {
			return nil, nil, fmt.Errorf("max_participants is %d, must be positive", campaign.MaxParticipants)
		}
		if campaign.ParticipantMinimumTokenAmount != "" {
			minimumUnits, err = parseTokenAmountToBaseUnits(campaign.ParticipantMinimumTokenAmount, campaign.TokenDecimals)
			if err != nil {
				return nil, nil, fmt.Errorf("participant minimum token amount: %w", err)
			}
		}
	}

	return totalUnits, minimumUnits, nil
}

// publishCampaignSettled emits the settled event best-effort. Settlement has
// already committed; a publish failure is logged and nothing more.
func (s *Service) publishCampaignSettled(
	ctx context.Context,
	campaign domain.Campaign,
	distribution *DistributionResult,
	participants int,
	historyEntries int,
	triggerSource string,
) {
	if s.eventProducer == nil {
		return
	}

	event := rabbitmq.CampaignSettledEvent{
		CampaignID:     campaign.ID,
		Mode:           string(campaign.SettlementMode),
		TokenAddress:   campaign.CustomTokenAddress,
		TokenSymbol:    campaign.PaymentTokenSymbol,
		TotalUnits:     distribution.TotalUnits.String(),
		RefundUnits:    distribution.Refund.String(),
		Participants:   participants,
		HistoryEntries: historyEntries,
		SettledAt:      time.Now().UTC(),
		TriggerSource:  triggerSource,
	}
	if err := s.eventProducer.PublishCampaignSettled(ctx, event); err != nil {
		log.Printf("level=warn component=settlement flow=campaign msg=\"settled event publish failed\" campaign_id=%s err=%v", campaign.ID, err)
	}
}

// ListSettlementHistory returns a participant's settlement history entries.
func (s *Service) ListSettlementHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.SettleHistoryEntry, error) {
	return s.repo.ListSettleHistoryByUser(ctx, userID, limit, offset)
}

// ListBalances returns a participant's balance rows.
func (s *Service) ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	return s.repo.ListBalancesByUser(ctx, userID)
}
