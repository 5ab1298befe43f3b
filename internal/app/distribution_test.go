package app

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engagefi/settlement-service/internal/domain"
)

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid big integer literal %q", value)
	}
	return n
}

// assertConservation checks that every credited unit plus the refund equals
// the original pool exactly.
func assertConservation(t *testing.T, result *DistributionResult) {
	t.Helper()
	sum := new(big.Int).Set(result.Refund)
	for _, credit := range result.Credits {
		sum.Add(sum, credit.Amount)
	}
	if sum.Cmp(result.TotalUnits) != 0 {
		t.Fatalf("conservation violated: credits+refund=%s, total=%s", sum, result.TotalUnits)
	}
}

func participants(roles ...domain.Role) []participantShare {
	shares := make([]participantShare, 0, len(roles))
	for _, role := range roles {
		shares = append(shares, participantShare{UserID: uuid.New(), Role: role})
	}
	return shares
}

func TestParseTokenAmountToBaseUnits(t *testing.T) {
	testCases := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "whole amount at 18 decimals", amount: "1", decimals: 18, want: "1000000000000000000"},
		{name: "fractional amount", amount: "1.5", decimals: 18, want: "1500000000000000000"},
		{name: "fraction only", amount: ".5", decimals: 1, want: "5"},
		{name: "zero decimals", amount: "42", decimals: 0, want: "42"},
		{name: "zero amount", amount: "0", decimals: 6, want: "0"},
		{name: "full precision fraction", amount: "0.000001", decimals: 6, want: "1"},
		{name: "surrounding whitespace", amount: " 2.25 ", decimals: 2, want: "225"},
		{name: "negative amount", amount: "-1", decimals: 18, wantErr: true},
		{name: "explicit plus sign", amount: "+1", decimals: 18, wantErr: true},
		{name: "too many fractional digits", amount: "1.234", decimals: 2, wantErr: true},
		{name: "empty string", amount: "", decimals: 18, wantErr: true},
		{name: "dangling decimal point", amount: "1.", decimals: 18, wantErr: true},
		{name: "non numeric", amount: "1e18", decimals: 18, wantErr: true},
		{name: "decimals out of range", amount: "1", decimals: 37, wantErr: true},
		{name: "negative decimals", amount: "1", decimals: -1, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			units, err := parseTokenAmountToBaseUnits(tc.amount, tc.decimals)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for amount %q, got %s", tc.amount, units)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for amount %q: %v", tc.amount, err)
			}
			if units.String() != tc.want {
				t.Fatalf("amount %q at %d decimals: got %s, want %s", tc.amount, tc.decimals, units, tc.want)
			}
		})
	}
}

func TestDedupeParticipantsKeepsEarliestReply(t *testing.T) {
	campaignID := uuid.New()
	repeatUser := uuid.New()
	otherUser := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	replies := []domain.Reply{
		{ID: uuid.New(), CampaignID: campaignID, CreatedBy: repeatUser, Role: domain.RoleHolder, CreatedAt: base},
		{ID: uuid.New(), CampaignID: campaignID, CreatedBy: otherUser, Role: domain.RoleNormal, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), CampaignID: campaignID, CreatedBy: repeatUser, Role: domain.RoleKOL, CreatedAt: base.Add(2 * time.Minute)},
	}

	shares := dedupeParticipants(replies)
	if len(shares) != 2 {
		t.Fatalf("expected 2 deduplicated participants, got %d", len(shares))
	}
	if shares[0].UserID != repeatUser || shares[0].Role != domain.RoleHolder {
		t.Fatalf("expected earliest reply's role to win, got user=%s role=%s", shares[0].UserID, shares[0].Role)
	}
	if shares[1].UserID != otherUser {
		t.Fatalf("expected second participant %s, got %s", otherUser, shares[1].UserID)
	}
}

func TestComputeProportionalDistribution(t *testing.T) {
	shares := map[domain.Role]int{
		domain.RoleKOL:    50,
		domain.RoleHolder: 40,
		domain.RoleNormal: 10,
	}
	group := participants(
		domain.RoleKOL, domain.RoleKOL,
		domain.RoleHolder, domain.RoleHolder, domain.RoleHolder,
		domain.RoleNormal,
	)

	result, err := computeProportionalDistribution(mustBig(t, "1000000"), shares, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Credits) != 6 {
		t.Fatalf("expected 6 credits, got %d", len(result.Credits))
	}

	wantByUser := map[uuid.UUID]string{
		group[0].UserID: "250000",
		group[1].UserID: "250000",
		group[2].UserID: "133333",
		group[3].UserID: "133333",
		group[4].UserID: "133333",
		group[5].UserID: "100000",
	}
	for _, credit := range result.Credits {
		want, ok := wantByUser[credit.UserID]
		if !ok {
			t.Fatalf("credit for unexpected user %s", credit.UserID)
		}
		if credit.Amount.String() != want {
			t.Fatalf("user %s: got %s, want %s", credit.UserID, credit.Amount, want)
		}
	}

	// 400000 holder pool over 3 leaves 1 unit of dust.
	if result.Refund.String() != "1" {
		t.Fatalf("expected refund of 1 dust unit, got %s", result.Refund)
	}
	assertConservation(t, result)
}

func TestComputeProportionalDistributionEmptyRoleFoldsIntoRefund(t *testing.T) {
	shares := map[domain.Role]int{
		domain.RoleKOL:    50,
		domain.RoleHolder: 40,
		domain.RoleNormal: 10,
	}
	group := participants(domain.RoleKOL, domain.RoleNormal)

	result, err := computeProportionalDistribution(mustBig(t, "1000"), shares, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(result.Credits))
	}
	if result.Credits[0].Amount.String() != "500" {
		t.Fatalf("expected kol credit 500, got %s", result.Credits[0].Amount)
	}
	if result.Credits[1].Amount.String() != "100" {
		t.Fatalf("expected normal credit 100, got %s", result.Credits[1].Amount)
	}
	// The holder pool was never carved out, so its 40% stays with the creator.
	if result.Refund.String() != "400" {
		t.Fatalf("expected refund 400, got %s", result.Refund)
	}
	assertConservation(t, result)
}

func TestComputeProportionalDistributionPoolSmallerThanHeadcount(t *testing.T) {
	shares := map[domain.Role]int{
		domain.RoleKOL:    100,
		domain.RoleHolder: 0,
		domain.RoleNormal: 0,
	}
	group := participants(domain.RoleKOL, domain.RoleKOL, domain.RoleKOL)

	result, err := computeProportionalDistribution(mustBig(t, "10"), shares, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, credit := range result.Credits {
		if credit.Amount.String() != "3" {
			t.Fatalf("expected per-participant credit of 3, got %s", credit.Amount)
		}
	}
	if result.Refund.String() != "1" {
		t.Fatalf("expected dust refund of 1, got %s", result.Refund)
	}
	assertConservation(t, result)
}

func TestComputeProportionalDistributionZeroPoolProducesNoCredits(t *testing.T) {
	shares := map[domain.Role]int{domain.RoleKOL: 50, domain.RoleHolder: 40, domain.RoleNormal: 10}
	group := participants(domain.RoleKOL, domain.RoleHolder)

	result, err := computeProportionalDistribution(mustBig(t, "0"), shares, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Credits) != 0 {
		t.Fatalf("expected no credits for a zero pool, got %d", len(result.Credits))
	}
	if result.Refund.Sign() != 0 {
		t.Fatalf("expected zero refund, got %s", result.Refund)
	}
}

func TestComputeProportionalDistributionLargePoolAt18Decimals(t *testing.T) {
	// 5,000,000 tokens at 18 decimals, far past int64 range.
	total := mustBig(t, "5000000000000000000000000")
	shares := map[domain.Role]int{domain.RoleKOL: 60, domain.RoleHolder: 30, domain.RoleNormal: 10}
	group := participants(domain.RoleKOL, domain.RoleHolder, domain.RoleHolder, domain.RoleNormal)

	result, err := computeProportionalDistribution(total, shares, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Credits[0].Amount.String() != "3000000000000000000000000" {
		t.Fatalf("unexpected kol credit %s", result.Credits[0].Amount)
	}
	assertConservation(t, result)
}

func TestComputeProportionalDistributionRejectsBadShares(t *testing.T) {
	_, err := computeProportionalDistribution(mustBig(t, "100"), map[domain.Role]int{domain.RoleKOL: 101}, participants(domain.RoleKOL))
	if err == nil {
		t.Fatal("expected error for share above 100")
	}
	_, err = computeProportionalDistribution(mustBig(t, "100"), map[domain.Role]int{domain.RoleKOL: -1}, participants(domain.RoleKOL))
	if err == nil {
		t.Fatal("expected error for negative share")
	}
}

func TestComputeFixedDistribution(t *testing.T) {
	group := participants(domain.RoleNormal, domain.RoleHolder, domain.RoleNormal)

	result, err := computeFixedDistribution(mustBig(t, "900000"), 4, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Credits) != 3 {
		t.Fatalf("expected 3 credits, got %d", len(result.Credits))
	}
	for _, credit := range result.Credits {
		if credit.Amount.String() != "225000" {
			t.Fatalf("expected slot credit 225000, got %s", credit.Amount)
		}
	}
	// The unclaimed fourth slot returns to the creator.
	if result.Refund.String() != "225000" {
		t.Fatalf("expected refund 225000, got %s", result.Refund)
	}
	assertConservation(t, result)
}

func TestComputeFixedDistributionDivisorStaysFixed(t *testing.T) {
	// 10 slots, 2 eligible: the per-slot share divides by 10, not 2.
	group := participants(domain.RoleNormal, domain.RoleNormal)

	result, err := computeFixedDistribution(mustBig(t, "1000"), 10, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, credit := range result.Credits {
		if credit.Amount.String() != "100" {
			t.Fatalf("expected credit 100, got %s", credit.Amount)
		}
	}
	if result.Refund.String() != "800" {
		t.Fatalf("expected refund 800, got %s", result.Refund)
	}
	assertConservation(t, result)
}

func TestComputeFixedDistributionSubUnitSlots(t *testing.T) {
	// Pool smaller than the slot count floors every share to zero; the
	// whole pool refunds and nobody receives a zero-amount credit.
	group := participants(domain.RoleNormal, domain.RoleNormal)

	result, err := computeFixedDistribution(mustBig(t, "3"), 5, group)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Credits) != 0 {
		t.Fatalf("expected no credits, got %d", len(result.Credits))
	}
	if result.Refund.String() != "3" {
		t.Fatalf("expected full refund of 3, got %s", result.Refund)
	}
}

func TestComputeFixedDistributionRejectsInvalidInputs(t *testing.T) {
	if _, err := computeFixedDistribution(mustBig(t, "100"), 0, nil); err == nil {
		t.Fatal("expected error for zero max participants")
	}
	if _, err := computeFixedDistribution(mustBig(t, "100"), 1, participants(domain.RoleNormal, domain.RoleNormal)); err == nil {
		t.Fatal("expected error when eligible participants exceed slots")
	}
}
