// Package params holds the consensus parameter binding: the immutable,
// per-network bundle of constants the validator registry, trust score
// engine, and delegation ledger are constructed with. Nothing in this
// package ever mutates after construction.
package params

// Params is injected by value into the registry, trust engine, and ledger.
// All fields come from chain config and never change for the lifetime of a
// network.
type Params struct {
	// MinValidatorStake is the minimum self-stake (satoshi-like units) a
	// validator must hold to be Active.
	MinValidatorStake uint64

	// HeartbeatInterval is the expected spacing, in blocks, between two
	// heartbeats from the same validator.
	HeartbeatInterval uint64

	// UptimeWindow bounds how many blocks of heartbeat history count
	// toward the uptime ratio.
	UptimeWindow uint64

	// Tier uptime thresholds, in tenths-of-percent (950 = 95.0%). Must be
	// monotonically increasing: Bronze < Silver < Gold < Platinum.
	BronzeUptimeThreshold   uint32
	SilverUptimeThreshold   uint32
	GoldUptimeThreshold     uint32
	PlatinumUptimeThreshold uint32

	// Tier reward multipliers, in percent (100 = 1.0x).
	BronzeRewardMultiplier   uint32
	SilverRewardMultiplier   uint32
	GoldRewardMultiplier     uint32
	PlatinumRewardMultiplier uint32

	// MinDelegationAmount is the minimum amount (satoshi-like units) a
	// single delegation must carry.
	MinDelegationAmount uint64

	// DelegationMaturity is the number of blocks a Pending delegation waits
	// before becoming Active.
	DelegationMaturity uint64

	// ValidatorMaturity is the number of blocks a Pending validator
	// registration waits before becoming Active. Deliberately a distinct
	// knob from DelegationMaturity (see DESIGN.md open-question #5);
	// callers that want parity with the original source's single maturity
	// constant can set it equal to DelegationMaturity.
	ValidatorMaturity uint64

	// UnbondingPeriod is the number of blocks between a validator entering
	// Unbonding and becoming Inactive.
	UnbondingPeriod uint64

	// DelegationUnbondingPeriod is the analogous period for delegations
	// moving from Unbonding to Withdrawn.
	DelegationUnbondingPeriod uint64

	// DefaultJailBlocks is the jail duration applied when no explicit
	// duration is supplied to JailValidator.
	DefaultJailBlocks uint64

	// MinPoolFeeBps / MaxPoolFeeBps bound pool_fee_bps (basis points).
	MinPoolFeeBps uint32
	MaxPoolFeeBps uint32

	// MaxValidatorNameBytes bounds the validator name field.
	MaxValidatorNameBytes int
}

// Default returns the primary-network defaults named in spec.md §6.
func Default() Params {
	return Params{
		MinValidatorStake:        100_000 * 100_000_000,
		HeartbeatInterval:        100,
		UptimeWindow:             100_000,
		BronzeUptimeThreshold:    950,
		SilverUptimeThreshold:    970,
		GoldUptimeThreshold:      990,
		PlatinumUptimeThreshold:  999,
		BronzeRewardMultiplier:   100,
		SilverRewardMultiplier:   120,
		GoldRewardMultiplier:     150,
		PlatinumRewardMultiplier: 200,
		MinDelegationAmount:      1_000 * 100_000_000,
		DelegationMaturity:       500,
		ValidatorMaturity:        500,
		UnbondingPeriod:          259_200,
		DelegationUnbondingPeriod: 259_200,
		DefaultJailBlocks:        86_400,
		MinPoolFeeBps:            0,
		MaxPoolFeeBps:            10_000,
		MaxValidatorNameBytes:    64,
	}
}

// TierThresholds and TierMultipliers return the thresholds/multipliers
// indexed by tier ordinal 1=Bronze .. 4=Platinum. Ordinal 0 (None) always has
// threshold 0 and multiplier 0.
func (p Params) TierThresholds() [5]uint32 {
	return [5]uint32{0, p.BronzeUptimeThreshold, p.SilverUptimeThreshold, p.GoldUptimeThreshold, p.PlatinumUptimeThreshold}
}

func (p Params) TierMultipliers() [5]uint32 {
	return [5]uint32{0, p.BronzeRewardMultiplier, p.SilverRewardMultiplier, p.GoldRewardMultiplier, p.PlatinumRewardMultiplier}
}
