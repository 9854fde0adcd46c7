package validators

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
)

// Registry is the Validator Registry (component B): the authoritative table
// of validators keyed by validator-id, plus the stake-outpoint index.
// Registry owns exactly one lock guarding its entire state (spec.md §5).
type Registry struct {
	params params.Params

	mu            sync.RWMutex
	validators    map[common.Address]*Entry
	outpointIndex map[Outpoint]common.Address
	currentHeight uint64
}

// NewRegistry constructs an empty registry bound to the given consensus
// parameters (component A).
func NewRegistry(p params.Params) *Registry {
	return &Registry{
		params:        p,
		validators:    make(map[common.Address]*Entry),
		outpointIndex: make(map[Outpoint]common.Address),
	}
}

// Register adds a new validator in Pending status (spec.md §4.B).
func (r *Registry) Register(entry Entry) (corerr.Reason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[entry.ValidatorID]; exists {
		return corerr.AlreadyRegistered, false
	}
	if entry.SelfStake < r.params.MinValidatorStake {
		return corerr.StakeTooLow, false
	}
	if entry.PoolFeeBps > r.params.MaxPoolFeeBps || entry.PoolFeeBps < r.params.MinPoolFeeBps {
		return corerr.FeeOutOfRange, false
	}
	if len(entry.Name) > r.params.MaxValidatorNameBytes {
		return corerr.NameTooLong, false
	}

	entry.Status = Pending
	stored := entry
	r.validators[entry.ValidatorID] = &stored
	if !entry.StakeOutpoint.IsZero() {
		r.outpointIndex[entry.StakeOutpoint] = entry.ValidatorID
	}

	logger.Info("REGISTRY", "Registered validator %s with stake %d and fee %d bps",
		entry.ValidatorID.Hex(), entry.SelfStake, entry.PoolFeeBps)
	return corerr.None, true
}

// ProcessUpdate applies a signed ValidatorUpdate message (spec.md §4.B).
func (r *Registry) ProcessUpdate(u Update, verify func(id common.Address, hash [32]byte, sig []byte) bool, hash [32]byte) (corerr.Reason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[u.ValidatorID]
	if !ok {
		return corerr.UnknownValidator, false
	}
	if verify != nil && !verify(u.ValidatorID, hash, u.Signature) {
		return corerr.InvalidSignature, false
	}

	switch u.Kind {
	case UpdateFee:
		fee := uint32(u.NewValue)
		if u.NewValue < 0 || fee > r.params.MaxPoolFeeBps || fee < r.params.MinPoolFeeBps {
			return corerr.FeeOutOfRange, false
		}
		entry.PoolFeeBps = fee
		logger.Info("REGISTRY", "Validator %s fee updated to %d bps", u.ValidatorID.Hex(), fee)

	case UpdateName:
		if len(u.NewName) > r.params.MaxValidatorNameBytes {
			return corerr.NameTooLong, false
		}
		entry.Name = u.NewName

	case Deactivate:
		entry.Status = Unbonding
		logger.Info("REGISTRY", "Validator %s deactivating (unbonding)", u.ValidatorID.Hex())

	case Reactivate:
		if entry.Status == Jailed {
			if r.currentHeight < entry.JailReleaseHeight {
				return corerr.JailNotExpired, false
			}
		} else if entry.Status != Inactive {
			return corerr.InvalidLifecycle, false
		}
		entry.Status = Active
		entry.JailReleaseHeight = 0
		logger.Info("REGISTRY", "Validator %s reactivated", u.ValidatorID.Hex())

	case IncreaseStake:
		if u.NewValue < 0 {
			return corerr.InvariantViolation, false
		}
		entry.SelfStake += uint64(u.NewValue)

	case DecreaseStake:
		if u.NewValue < 0 {
			return corerr.InvariantViolation, false
		}
		delta := uint64(u.NewValue)
		if delta > entry.SelfStake {
			return corerr.AmountExceedsStake, false
		}
		if entry.SelfStake-delta < r.params.MinValidatorStake {
			return corerr.StakeTooLow, false
		}
		entry.SelfStake -= delta

	default:
		return corerr.InvalidLifecycle, false
	}

	return corerr.None, true
}

// JailValidator sets status=Jailed with the given jail duration.
func (r *Registry) JailValidator(id common.Address, jailBlocks uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[id]
	if !ok {
		return false
	}
	entry.Status = Jailed
	entry.JailReleaseHeight = r.currentHeight + jailBlocks
	logger.Info("REGISTRY", "Jailed validator %s until height %d", id.Hex(), entry.JailReleaseHeight)
	return true
}

// UnjailValidator reactivates a Jailed validator whose jail has expired.
func (r *Registry) UnjailValidator(id common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[id]
	if !ok || entry.Status != Jailed {
		return false
	}
	if r.currentHeight < entry.JailReleaseHeight {
		return false
	}
	entry.Status = Active
	entry.JailReleaseHeight = 0
	logger.Info("REGISTRY", "Unjailed validator %s", id.Hex())
	return true
}

// UpdateStakeOutpoint re-indexes a validator's stake UTXO. Per DESIGN.md's
// Open Question #1, collisions across validators are not checked — the
// index is silently overwritten, matching the original's
// ValidatorDB::UpdateStakeOutpoint.
func (r *Registry) UpdateStakeOutpoint(id common.Address, newOutpoint Outpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[id]
	if !ok {
		return false
	}
	if !entry.StakeOutpoint.IsZero() {
		delete(r.outpointIndex, entry.StakeOutpoint)
	}
	entry.StakeOutpoint = newOutpoint
	if !newOutpoint.IsZero() {
		r.outpointIndex[newOutpoint] = id
	}
	return true
}

// AddDelegation credits amount to a validator's total_delegated, called by
// the Delegation Ledger (component D) on ProcessDelegation.
func (r *Registry) AddDelegation(id common.Address, amount uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[id]
	if !ok {
		return false
	}
	entry.TotalDelegated += amount
	entry.DelegatorCount++
	return true
}

// RemoveDelegation debits amount from a validator's total_delegated. Rejects
// over-withdrawal (spec.md §4.B).
func (r *Registry) RemoveDelegation(id common.Address, amount uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.validators[id]
	if !ok {
		return false
	}
	if amount > entry.TotalDelegated {
		return false
	}
	entry.TotalDelegated -= amount
	if entry.DelegatorCount > 0 {
		entry.DelegatorCount--
	}
	return true
}

// ProcessBlock advances current_height and completes Unbonding -> Inactive
// transitions once the unbonding period has elapsed (spec.md §4.B).
func (r *Registry) ProcessBlock(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentHeight = height
	for id, entry := range r.validators {
		if entry.Status == Unbonding && height-entry.LastActiveHeight >= r.params.UnbondingPeriod {
			entry.Status = Inactive
			logger.Info("REGISTRY", "Validator %s unbonding complete, now inactive", id.Hex())
		}
		if entry.Status == Pending && height-entry.RegistrationHeight >= r.params.ValidatorMaturity {
			entry.Status = Active
			entry.LastActiveHeight = height
			logger.Info("REGISTRY", "Validator %s matured, now active", id.Hex())
		}
	}
}

// Get returns a copy of the validator entry, if present.
func (r *Registry) Get(id common.Address) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.validators[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// GetByOutpoint resolves the validator owning a given stake outpoint.
func (r *Registry) GetByOutpoint(o Outpoint) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.outpointIndex[o]
	if !ok {
		return Entry{}, false
	}
	return *r.validators[id], true
}

// ListActive returns all Active validators.
func (r *Registry) ListActive() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.validators {
		if e.Status == Active {
			out = append(out, *e)
		}
	}
	return out
}

// ListByMaxFee returns Active validators with pool_fee_bps <= maxFeeBps,
// ascending by fee (original's GetValidatorsByMaxFee).
func (r *Registry) ListByMaxFee(maxFeeBps uint32) []Entry {
	out := r.ListActive()
	filtered := out[:0]
	for _, e := range out {
		if e.PoolFeeBps <= maxFeeBps {
			filtered = append(filtered, e)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].PoolFeeBps < filtered[j].PoolFeeBps })
	return filtered
}

// ListByStake returns Active validators sorted by total stake, descending
// (original's GetValidatorsByStake).
func (r *Registry) ListByStake() []Entry {
	out := r.ListActive()
	sort.Slice(out, func(i, j int) bool { return out[i].TotalStake() > out[j].TotalStake() })
	return out
}

// Count returns the total and active validator counts.
func (r *Registry) Count() (total int, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.validators)
	for _, e := range r.validators {
		if e.Status == Active {
			active++
		}
	}
	return total, active
}

// All returns a copy of every validator entry, for persistence/iteration.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.validators))
	for _, e := range r.validators {
		out = append(out, *e)
	}
	return out
}

// MulDivFloor computes floor(a*b/c) using big.Int so that inputs near the
// uint64 range (reward or stake near 2^62, per spec.md §9's adversarial
// test requirement) never silently wrap. Shared by the validator
// reward-split and the delegation ledger's proportional distribution so
// both halves of the same consensus-critical arithmetic use one rounding
// path.
func MulDivFloor(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	x := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	x.Quo(x, new(big.Int).SetUint64(c))
	return x.Uint64()
}

// ComputeRewardSplit implements the deterministic integer reward-split
// arithmetic of spec.md §4.B for a validator currently holding the given
// self-stake/total-delegated/pool-fee. R is the block reward awarded to
// this validator. Every division floors; any change here is a consensus
// break (spec.md §9).
func ComputeRewardSplit(selfStake, totalDelegated uint64, poolFeeBps uint32, reward uint64) RewardSplit {
	total := selfStake + totalDelegated
	if total == 0 {
		return RewardSplit{ValidatorShare: reward, DelegatorsShare: 0}
	}

	validatorStakeShare := MulDivFloor(reward, selfStake, total)
	delegatorsSharePre := reward - validatorStakeShare
	poolFee := MulDivFloor(delegatorsSharePre, uint64(poolFeeBps), 10_000)

	return RewardSplit{
		ValidatorShare:  validatorStakeShare + poolFee,
		DelegatorsShare: delegatorsSharePre - poolFee,
	}
}

// RewardSplitFor computes the reward split for validator id at block reward
// R, reading its current self_stake/total_delegated/pool_fee_bps.
func (r *Registry) RewardSplitFor(id common.Address, reward uint64) (RewardSplit, bool) {
	entry, ok := r.Get(id)
	if !ok {
		return RewardSplit{}, false
	}
	return ComputeRewardSplit(entry.SelfStake, entry.TotalDelegated, entry.PoolFeeBps, reward), true
}
