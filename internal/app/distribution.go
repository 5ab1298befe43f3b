/**
 * @description
 * This file contains the distribution calculator: the pure arithmetic core of
 * the settlement engine. It converts a campaign's human-unit reward pool into
 * base units and partitions it into per-participant credits plus a creator
 * refund, in either proportional or fixed-equal mode.
 *
 * All money math uses math/big integers in base units. Every path maintains
 * exact conservation: sum(credits) + refund == totalUnits.
 *
 * @dependencies
 * - math/big, strings: Standard Go libraries.
 * - github.com/google/uuid: Participant identifiers.
 * - internal/domain: Role and entry-type enums.
 */

package app

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
)

const maxSupportedTokenDecimals = 36

var bigOneHundred = big.NewInt(100)

// participantShare is one deduplicated participant slot within a campaign,
// carrying the role frozen onto the participant's earliest pending reply.
type participantShare struct {
	UserID uuid.UUID
	Role   domain.Role
}

// Credit is a single computed payout in base units.
type Credit struct {
	UserID    uuid.UUID
	Amount    *big.Int
	EntryType domain.SettleEntryType
}

// DistributionResult is the outcome of running the calculator for one
// campaign. Credits hold only nonzero participant payouts in deterministic
// order; Refund is the residual owed to the campaign creator.
type DistributionResult struct {
	TotalUnits *big.Int
	Credits    []Credit
	Refund     *big.Int
}

// parseTokenAmountToBaseUnits converts a non-negative decimal string in human
// units (e.g. "1.5") into base units scaled by 10^decimals. The fractional
// part must fit within the token's decimals; anything else is malformed data.
func parseTokenAmountToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > maxSupportedTokenDecimals {
		return nil, fmt.Errorf("token decimals %d outside supported range 0..%d", decimals, maxSupportedTokenDecimals)
	}

	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, errors.New("token amount is empty")
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return nil, fmt.Errorf("token amount %q must be an unsigned decimal", amount)
	}

	intPart, fracPart, hasFrac := strings.Cut(trimmed, ".")
	if intPart == "" {
		intPart = "0"
	}
	if hasFrac && fracPart == "" {
		return nil, fmt.Errorf("token amount %q has a dangling decimal point", amount)
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("token amount %q has more fractional digits than token decimals %d", amount, decimals)
	}
	if !isDigits(intPart) || (hasFrac && !isDigits(fracPart)) {
		return nil, fmt.Errorf("token amount %q contains non-digit characters", amount)
	}

	// Pad the fraction to the full scale so the concatenation is the exact
	// base-unit integer.
	padded := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	units, ok := new(big.Int).SetString(padded, 10)
	if !ok {
		return nil, fmt.Errorf("token amount %q could not be parsed", amount)
	}
	return units, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dedupeParticipants collapses replies to one slot per participant, keeping
// the earliest reply's role. Input must already be ordered by creation time;
// output preserves that order, which fixes the credit ordering for the run.
func dedupeParticipants(replies []domain.Reply) []participantShare {
	seen := make(map[uuid.UUID]struct{}, len(replies))
	shares := make([]participantShare, 0, len(replies))
	for _, reply := range replies {
		if _, ok := seen[reply.CreatedBy]; ok {
			continue
		}
		seen[reply.CreatedBy] = struct{}{}
		shares = append(shares, participantShare{UserID: reply.CreatedBy, Role: reply.Role})
	}
	return shares
}

// computeProportionalDistribution partitions totalUnits into role-weighted
// sub-pools and equal shares within each sub-pool.
//
// A role with zero participants contributes nothing to its pool; its share
// folds into the refund. Both the inter-pool remainder (from the percentage
// floor division) and each pool's intra-pool rounding dust land in the
// refund, so conservation holds exactly.
func computeProportionalDistribution(
	totalUnits *big.Int,
	shares map[domain.Role]int,
	participants []participantShare,
) (*DistributionResult, error) {
	if totalUnits.Sign() < 0 {
		return nil, errors.New("total units must be non-negative")
	}
	for role, percent := range shares {
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("share for role %s is %d, outside 0..100", role, percent)
		}
	}

	counts := make(map[domain.Role]int, 3)
	for _, p := range participants {
		counts[p.Role]++
	}

	// Fixed role order keeps pool arithmetic deterministic.
	roleOrder := []domain.Role{domain.RoleKOL, domain.RoleHolder, domain.RoleNormal}

	pools := make(map[domain.Role]*big.Int, 3)
	distributed := new(big.Int)
	for _, role := range roleOrder {
		if counts[role] == 0 {
			pools[role] = new(big.Int)
			continue
		}
		// pool = floor(totalUnits * share / 100)
		pool := new(big.Int).Mul(totalUnits, big.NewInt(int64(shares[role])))
		pool.Quo(pool, bigOneHundred)
		pools[role] = pool
		distributed.Add(distributed, pool)
	}

	refund := new(big.Int).Sub(totalUnits, distributed)

	perRole := make(map[domain.Role]*big.Int, 3)
	for _, role := range roleOrder {
		count := counts[role]
		if count == 0 {
			continue
		}
		per := new(big.Int).Quo(pools[role], big.NewInt(int64(count)))
		perRole[role] = per

		// Intra-pool rounding dust goes back to the refund rather than
		// being silently dropped.
		consumed := new(big.Int).Mul(per, big.NewInt(int64(count)))
		dust := new(big.Int).Sub(pools[role], consumed)
		refund.Add(refund, dust)
	}

	credits := make([]Credit, 0, len(participants))
	for _, p := range participants {
		per := perRole[p.Role]
		if per == nil || per.Sign() == 0 {
			continue
		}
		credits = append(credits, Credit{
			UserID:    p.UserID,
			Amount:    new(big.Int).Set(per),
			EntryType: domain.SettleEntryTypeForRole(p.Role),
		})
	}

	return &DistributionResult{
		TotalUnits: new(big.Int).Set(totalUnits),
		Credits:    credits,
		Refund:     refund,
	}, nil
}

// computeFixedDistribution splits totalUnits into maxParticipants equal slots
// and credits one slot to each eligible participant. The divisor is the fixed
// slot count, never the eligible count: unclaimed slots and excluded
// participants' shares flow into the refund.
func computeFixedDistribution(
	totalUnits *big.Int,
	maxParticipants int,
	eligible []participantShare,
) (*DistributionResult, error) {
	if totalUnits.Sign() < 0 {
		return nil, errors.New("total units must be non-negative")
	}
	if maxParticipants <= 0 {
		return nil, fmt.Errorf("max participants must be positive, got %d", maxParticipants)
	}
	if len(eligible) > maxParticipants {
		return nil, fmt.Errorf("eligible participants %d exceed max participants %d", len(eligible), maxParticipants)
	}

	per := new(big.Int).Quo(totalUnits, big.NewInt(int64(maxParticipants)))

	credits := make([]Credit, 0, len(eligible))
	credited := new(big.Int)
	if per.Sign() > 0 {
		for _, p := range eligible {
			credits = append(credits, Credit{
				UserID:    p.UserID,
				Amount:    new(big.Int).Set(per),
				EntryType: domain.SettleEntryTypeForRole(p.Role),
			})
			credited.Add(credited, per)
		}
	}

	refund := new(big.Int).Sub(totalUnits, credited)

	return &DistributionResult{
		TotalUnits: new(big.Int).Set(totalUnits),
		Credits:    credits,
		Refund:     refund,
	}, nil
}
