package domain

import "testing"

func TestNoFee(t *testing.T) {
	if got := NoFee(&Account{Tier: TierStandard}); got != 0 {
		t.Fatalf("NoFee=%d want=0", got)
	}
}

func TestFlatFeeForStandard(t *testing.T) {
	policy := FlatFeeForStandard(500)
	if got := policy(&Account{Tier: TierStandard}); got != 500 {
		t.Fatalf("standard fee=%d want=500", got)
	}
	if got := policy(&Account{Tier: TierPremium}); got != 0 {
		t.Fatalf("premium fee=%d want=0", got)
	}
}
