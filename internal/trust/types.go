// Package trust implements the Trust Score Engine (component C): per-block
// uptime tracking, tier classification, and reward multiplier lookup for
// registered validators.
package trust

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/params"
)

// Tier is a validator's trust classification, driven entirely by its
// rolling heartbeat uptime ratio (spec.md §4.C).
type Tier uint8

const (
	None Tier = iota
	Bronze
	Silver
	Gold
	Platinum
)

func (t Tier) String() string {
	switch t {
	case Bronze:
		return "bronze"
	case Silver:
		return "silver"
	case Gold:
		return "gold"
	case Platinum:
		return "platinum"
	default:
		return "none"
	}
}

// Info is a single validator's trust-tracking record, owned exclusively by
// Engine.
type Info struct {
	ValidatorID         common.Address
	StakeAmount         uint64
	PoolFeeBps          uint32
	RegistrationHeight  uint64
	LastHeartbeatHeight uint64
	HeartbeatsExpected  uint64
	HeartbeatsReceived  uint64
	IsActive            bool

	LastKnownAddress    string // "ip:port", empty if never checked in
	LastCheckInTime     int64
	ConsecutiveCheckIns uint64
	MissedCheckIns      uint64
}

// UptimeRatio is the heartbeat uptime in tenths-of-percent (950 = 95.0%).
// An unestablished window (no heartbeats expected yet) counts as perfect
// uptime, matching the original's ValidatorInfo::GetUptimePercentage.
func (info Info) UptimeRatio() uint32 {
	if info.HeartbeatsExpected == 0 {
		return 1000
	}
	return uint32(info.HeartbeatsReceived * 1000 / info.HeartbeatsExpected)
}

// Tier classifies info against the consensus tier thresholds. An inactive
// validator, or one below the minimum stake, is always None.
func (info Info) Tier(p params.Params) Tier {
	if !info.IsActive || info.StakeAmount < p.MinValidatorStake {
		return None
	}

	uptime := info.UptimeRatio()
	thresholds := p.TierThresholds()
	for tier := Platinum; tier >= Bronze; tier-- {
		if uptime >= thresholds[tier] {
			return tier
		}
	}
	return None
}

// RewardMultiplier returns the percent multiplier (100 = 1.0x) for info's
// current tier, 0 if not eligible for any tier.
func (info Info) RewardMultiplier(p params.Params) uint32 {
	return p.TierMultipliers()[info.Tier(p)]
}

// MeetsMinimumStake mirrors the registry-side stake floor check.
func (info Info) MeetsMinimumStake(p params.Params) bool {
	return info.StakeAmount >= p.MinValidatorStake
}

// IsEligibleForStaking reports whether info is active, above the stake
// floor, and classified into a real tier (spec.md §4.C "classifies reward
// multiplier"; mirrors the original's ValidatorInfo::IsEligibleForStaking).
func (info Info) IsEligibleForStaking(p params.Params) bool {
	if !info.IsActive || !info.MeetsMinimumStake(p) {
		return false
	}
	return info.Tier(p) != None
}
