package delegation

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

// Ledger is the Delegation Ledger (component D). It owns exactly one lock
// guarding its entire state (spec.md §5); it talks to the Validator
// Registry (component B) only through the given *validators.Registry,
// never the reverse.
type Ledger struct {
	params   params.Params
	registry *validators.Registry

	mu             sync.RWMutex
	delegations    map[common.Hash]*Entry
	delegatorIndex map[common.Address][]common.Hash // insertion order preserved
	validatorIndex map[common.Address][]common.Hash
	outpointIndex  map[Outpoint]common.Hash
	currentHeight  uint64
}

// NewLedger constructs an empty ledger bound to the consensus parameters
// and the validator registry it consults for eligibility and delegated
// totals.
func NewLedger(p params.Params, registry *validators.Registry) *Ledger {
	return &Ledger{
		params:         p,
		registry:       registry,
		delegations:    make(map[common.Hash]*Entry),
		delegatorIndex: make(map[common.Address][]common.Hash),
		validatorIndex: make(map[common.Address][]common.Hash),
		outpointIndex:  make(map[Outpoint]common.Hash),
	}
}

// ProcessDelegation creates a new Pending delegation. The target validator
// must exist and be Pending or Active (spec.md §4.D; resolved Open
// Question — the original restricts this to Active only).
func (l *Ledger) ProcessDelegation(delegatorID common.Address, validatorID common.Address, amount uint64, height uint64, outpoint Outpoint) (corerr.Reason, bool) {
	if amount < l.params.MinDelegationAmount {
		return corerr.AmountTooLow, false
	}

	validator, ok := l.registry.Get(validatorID)
	if !ok {
		return corerr.UnknownValidator, false
	}
	if validator.Status != validators.Pending && validator.Status != validators.Active {
		return corerr.ValidatorNotEligible, false
	}

	entry := Entry{
		DelegatorID:        delegatorID,
		ValidatorID:        validatorID,
		Amount:             amount,
		DelegationHeight:   height,
		LastRewardHeight:   height,
		Status:             Pending,
		DelegationOutpoint: outpoint,
	}
	id := entry.ID()

	l.mu.Lock()
	if _, exists := l.delegations[id]; exists {
		l.mu.Unlock()
		return corerr.DuplicateDelegation, false
	}
	stored := entry
	l.delegations[id] = &stored
	l.delegatorIndex[delegatorID] = append(l.delegatorIndex[delegatorID], id)
	l.validatorIndex[validatorID] = append(l.validatorIndex[validatorID], id)
	if !outpoint.IsZero() {
		l.outpointIndex[outpoint] = id
	}
	l.mu.Unlock()

	l.registry.AddDelegation(validatorID, amount)

	logger.Info("DELEGATION", "Created delegation %s: %d from %s to validator %s",
		id.Hex(), amount, delegatorID.Hex(), validatorID.Hex())
	return corerr.None, true
}

// ProcessUndelegation moves delegatorID's Active delegations to validatorID
// into Unbonding, oldest-first, until amount is covered (0 = all) (spec.md
// §4.D; original's greedy insertion-order consumption). Delegations are
// unbonded whole, so the total unbonded can exceed amount; the validator's
// total_delegated drops by each unbonded delegation's full amount.
func (l *Ledger) ProcessUndelegation(delegatorID common.Address, validatorID common.Address, amount uint64, height uint64) (corerr.Reason, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, ok := l.delegatorIndex[delegatorID]
	if !ok {
		return corerr.NoMatchingDelegation, false
	}

	remaining := amount
	any := false

	for _, id := range ids {
		entry, ok := l.delegations[id]
		if !ok || entry.ValidatorID != validatorID || entry.Status != Active {
			continue
		}

		toUndelegate := entry.Amount
		if amount != 0 {
			if remaining > entry.Amount {
				remaining -= entry.Amount
			} else {
				remaining = 0
			}
		}

		entry.Status = Unbonding
		entry.UnbondingStartHeight = height

		l.registry.RemoveDelegation(validatorID, toUndelegate)

		logger.Info("DELEGATION", "Started unbonding delegation %s: %d", id.Hex(), toUndelegate)
		any = true

		if amount != 0 && remaining == 0 {
			break
		}
	}

	if !any {
		return corerr.NoMatchingDelegation, false
	}
	return corerr.None, true
}

// ProcessRewardClaim sweeps pending rewards for delegatorID, optionally
// scoped to a single validator. A zero validatorID claims across every
// validator the delegator has delegated to (spec.md §4.D, Open Question
// #4).
func (l *Ledger) ProcessRewardClaim(delegatorID common.Address, validatorID common.Address, height uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, ok := l.delegatorIndex[delegatorID]
	if !ok {
		return 0
	}

	var totalClaimed uint64
	filterByValidator := validatorID != (common.Address{})

	for _, id := range ids {
		entry, ok := l.delegations[id]
		if !ok {
			continue
		}
		if filterByValidator && entry.ValidatorID != validatorID {
			continue
		}
		if entry.PendingRewards > 0 {
			totalClaimed += entry.PendingRewards
			entry.PendingRewards = 0
			entry.LastRewardHeight = height
		}
	}

	if totalClaimed > 0 {
		logger.Info("DELEGATION", "Claimed %d rewards for delegator %s", totalClaimed, delegatorID.Hex())
	}
	return totalClaimed
}

// Get returns a copy of a delegation entry by id.
func (l *Ledger) Get(id common.Hash) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.delegations[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// GetByOutpoint resolves the delegation holding a given UTXO.
func (l *Ledger) GetByOutpoint(o Outpoint) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.outpointIndex[o]
	if !ok {
		return Entry{}, false
	}
	return *l.delegations[id], true
}

// IsDelegation reports whether outpoint backs a known delegation.
func (l *Ledger) IsDelegation(o Outpoint) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.outpointIndex[o]
	return ok
}

// GetDelegationsForDelegator returns every delegation a delegator holds,
// in creation order.
func (l *Ledger) GetDelegationsForDelegator(delegatorID common.Address) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.delegatorIndex[delegatorID]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := l.delegations[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// GetDelegationsForValidator returns every delegation made to a validator.
func (l *Ledger) GetDelegationsForValidator(validatorID common.Address) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.validatorIndex[validatorID]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := l.delegations[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// GetTotalDelegationForValidator sums the amount of every Active delegation
// to validatorID.
func (l *Ledger) GetTotalDelegationForValidator(validatorID common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, id := range l.validatorIndex[validatorID] {
		if e, ok := l.delegations[id]; ok && e.Status == Active {
			total += e.Amount
		}
	}
	return total
}

// GetPendingRewardsForDelegator sums every delegation's pending_rewards for
// a delegator.
func (l *Ledger) GetPendingRewardsForDelegator(delegatorID common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, id := range l.delegatorIndex[delegatorID] {
		if e, ok := l.delegations[id]; ok {
			total += e.PendingRewards
		}
	}
	return total
}

// AddRewards directly credits pending_rewards on a delegation, independent
// of DistributeBlockReward's proportional math (spec.md §3 enrichment;
// original's DelegationDB::AddRewards, e.g. for referral bonuses).
func (l *Ledger) AddRewards(id common.Hash, rewards uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.delegations[id]
	if !ok {
		return false
	}
	entry.PendingRewards += rewards
	return true
}

// DistributeBlockReward splits delegatorsShare proportionally across every
// Active delegation to validatorID by amount, flooring each share (spec.md
// §4.B/§4.D). Any remainder from the floor division is not distributed.
func (l *Ledger) DistributeBlockReward(validatorID common.Address, delegatorsShare uint64) {
	if delegatorsShare == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var totalDelegation uint64
	for _, id := range l.validatorIndex[validatorID] {
		if e, ok := l.delegations[id]; ok && e.Status == Active {
			totalDelegation += e.Amount
		}
	}
	if totalDelegation == 0 {
		return
	}

	for _, id := range l.validatorIndex[validatorID] {
		entry, ok := l.delegations[id]
		if !ok || entry.Status != Active {
			continue
		}
		share := validators.MulDivFloor(delegatorsShare, entry.Amount, totalDelegation)
		if share > 0 {
			entry.PendingRewards += share
		}
	}

	logger.Info("DELEGATION", "Distributed %d to delegators of validator %s", delegatorsShare, validatorID.Hex())
}

// UpdateDelegationOutpoint re-indexes a delegation's backing UTXO.
func (l *Ledger) UpdateDelegationOutpoint(id common.Hash, newOutpoint Outpoint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.delegations[id]
	if !ok {
		return false
	}
	if !entry.DelegationOutpoint.IsZero() {
		delete(l.outpointIndex, entry.DelegationOutpoint)
	}
	entry.DelegationOutpoint = newOutpoint
	if !newOutpoint.IsZero() {
		l.outpointIndex[newOutpoint] = id
	}
	return true
}

// ProcessBlock advances current_height, maturing Pending delegations into
// Active and completing Unbonding delegations into Withdrawn (spec.md
// §4.D).
func (l *Ledger) ProcessBlock(height uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentHeight = height
	for id, entry := range l.delegations {
		if entry.Status == Pending && height-entry.DelegationHeight >= l.params.DelegationMaturity {
			entry.Status = Active
			logger.Info("DELEGATION", "Delegation %s is now active", id.Hex())
		}
		if entry.Status == Unbonding && height-entry.UnbondingStartHeight >= l.params.DelegationUnbondingPeriod {
			entry.Status = Withdrawn
			logger.Info("DELEGATION", "Delegation %s unbonding complete", id.Hex())
		}
	}
}

// GetActiveDelegationCount returns the number of Active delegations.
func (l *Ledger) GetActiveDelegationCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, e := range l.delegations {
		if e.Status == Active {
			count++
		}
	}
	return count
}

// GetDelegatorCountForValidator counts unique delegators with an Active
// delegation to validatorID.
func (l *Ledger) GetDelegatorCountForValidator(validatorID common.Address) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[common.Address]struct{})
	for _, id := range l.validatorIndex[validatorID] {
		if e, ok := l.delegations[id]; ok && e.Status == Active {
			seen[e.DelegatorID] = struct{}{}
		}
	}
	return len(seen)
}

// All returns a copy of every delegation entry, for persistence/iteration.
func (l *Ledger) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.delegations))
	for _, e := range l.delegations {
		out = append(out, *e)
	}
	return out
}
