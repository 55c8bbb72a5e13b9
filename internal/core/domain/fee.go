package domain

// FeePolicy computes the fee charged to the sender for one transfer.
// It is injected into the engine so tiering rules stay pluggable instead of
// being duplicated across transfer paths.
type FeePolicy func(sender *Account) int64

// NoFee charges nothing. This is the default policy.
func NoFee(*Account) int64 { return 0 }

// FlatFeeForStandard charges a flat fee on standard-tier accounts and
// exempts premium accounts.
func FlatFeeForStandard(fee int64) FeePolicy {
	return func(sender *Account) int64 {
		if sender.Tier == TierPremium {
			return 0
		}
		return fee
	}
}
