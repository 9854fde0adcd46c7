package trust

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/window"
)

// livenessWindowDuration bounds the dashboard-only rolling bitmap of
// heartbeat participation. Purely observational: consensus-critical
// eligibility still runs off HeartbeatsExpected/HeartbeatsReceived.
const livenessWindowDuration = 24 * time.Hour

// AddressSink receives newly-seen validator addresses, dispatched the same
// way the original's TrustScoreManager notifies g_peer_discovery. The Peer
// Discovery Sink (component E) implements this.
type AddressSink interface {
	ProcessValidatorAddress(address string, validatorID common.Address) bool
}

// Engine is the Trust Score Engine (component C). It owns exactly one lock
// guarding its entire state (spec.md §5).
type Engine struct {
	params params.Params
	sink   AddressSink

	mu            sync.RWMutex
	validators    map[common.Address]*Info
	windows       map[common.Address]*window.RollingWindow
	currentHeight uint64
}

// NewEngine constructs an empty engine. sink may be nil (no peer-discovery
// dispatch, e.g. in tests).
func NewEngine(p params.Params, sink AddressSink) *Engine {
	return &Engine{
		params:     p,
		sink:       sink,
		validators: make(map[common.Address]*Info),
		windows:    make(map[common.Address]*window.RollingWindow),
	}
}

// RegisterValidator creates a new active trust record for validatorID.
func (e *Engine) RegisterValidator(validatorID common.Address, stakeAmount uint64, poolFeeBps uint32, height uint64) (corerr.Reason, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stakeAmount < e.params.MinValidatorStake {
		return corerr.StakeTooLow, false
	}
	if _, exists := e.validators[validatorID]; exists {
		return corerr.AlreadyRegistered, false
	}
	if poolFeeBps > e.params.MaxPoolFeeBps {
		return corerr.FeeOutOfRange, false
	}

	e.validators[validatorID] = &Info{
		ValidatorID:         validatorID,
		StakeAmount:         stakeAmount,
		PoolFeeBps:          poolFeeBps,
		RegistrationHeight:  height,
		LastHeartbeatHeight: height,
		IsActive:            true,
	}
	e.windows[validatorID] = window.NewRollingWindow(livenessWindowDuration)
	logger.Info("TRUST", "Registered validator %s with stake %d", validatorID.Hex(), stakeAmount)
	return corerr.None, true
}

// UpdateStake replaces a validator's tracked stake, deactivating it if the
// new amount falls below the consensus floor.
func (e *Engine) UpdateStake(validatorID common.Address, newStake uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.validators[validatorID]
	if !ok {
		return false
	}
	info.StakeAmount = newStake
	if newStake < e.params.MinValidatorStake {
		info.IsActive = false
		logger.Info("TRUST", "Validator %s deactivated: stake below minimum", validatorID.Hex())
	}
	return true
}

// UpdatePoolFee replaces a validator's tracked pool fee.
func (e *Engine) UpdatePoolFee(validatorID common.Address, newFeeBps uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.validators[validatorID]
	if !ok || newFeeBps > e.params.MaxPoolFeeBps {
		return false
	}
	info.PoolFeeBps = newFeeBps
	return true
}

// ProcessHeartbeat records a validator's liveness at height, if the height
// is at or after the next expected heartbeat window (spec.md §4.C, Open
// Question #2: early heartbeats are unconditionally rejected).
func (e *Engine) ProcessHeartbeat(validatorID common.Address, height uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.validators[validatorID]
	if !ok || !info.IsActive {
		return false
	}
	if height < info.LastHeartbeatHeight+e.params.HeartbeatInterval {
		return false
	}

	info.HeartbeatsReceived++
	info.LastHeartbeatHeight = height
	if w, ok := e.windows[validatorID]; ok {
		w.Add(true, time.Now(), height)
	}
	return true
}

// UpdateHeartbeatExpectations recomputes heartbeats_expected for every
// active validator against the current height, bounded by the uptime
// window (spec.md §4.C; original's UpdateHeartbeatExpectations).
func (e *Engine) UpdateHeartbeatExpectations(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentHeight = height
	for _, info := range e.validators {
		if !info.IsActive {
			continue
		}
		if height <= info.RegistrationHeight {
			continue
		}
		blocksSinceRegistration := height - info.RegistrationHeight
		windowBlocks := blocksSinceRegistration
		if windowBlocks > e.params.UptimeWindow {
			windowBlocks = e.params.UptimeWindow
		}
		info.HeartbeatsExpected = windowBlocks / e.params.HeartbeatInterval
	}
}

// Get returns a copy of a validator's trust record.
func (e *Engine) Get(validatorID common.Address) (Info, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.validators[validatorID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// GetTier returns the tier a validator currently occupies.
func (e *Engine) GetTier(validatorID common.Address) Tier {
	info, ok := e.Get(validatorID)
	if !ok {
		return None
	}
	return info.Tier(e.params)
}

// GetRewardMultiplier returns the percent reward multiplier for a validator.
func (e *Engine) GetRewardMultiplier(validatorID common.Address) uint32 {
	info, ok := e.Get(validatorID)
	if !ok {
		return 0
	}
	return info.RewardMultiplier(e.params)
}

// IsValidatorEligible reports whether a validator may currently participate
// in staking.
func (e *Engine) IsValidatorEligible(validatorID common.Address) bool {
	info, ok := e.Get(validatorID)
	if !ok {
		return false
	}
	return info.IsEligibleForStaking(e.params)
}

// GetActiveValidators returns every active validator's trust record.
func (e *Engine) GetActiveValidators() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Info
	for _, info := range e.validators {
		if info.IsActive {
			out = append(out, *info)
		}
	}
	return out
}

// GetValidatorsByTier returns every active validator currently at tier.
func (e *Engine) GetValidatorsByTier(tier Tier) []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Info
	for _, info := range e.validators {
		if info.IsActive && info.Tier(e.params) == tier {
			out = append(out, *info)
		}
	}
	return out
}

// DeactivateValidator marks a validator inactive.
func (e *Engine) DeactivateValidator(validatorID common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.validators[validatorID]
	if !ok {
		return false
	}
	info.IsActive = false
	return true
}

// SetHeight sets the current height used by tier/eligibility calculations
// without recomputing expectations (used when heights advance outside of
// UpdateHeartbeatExpectations).
func (e *Engine) SetHeight(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentHeight = height
}

// UpdateValidatorAddress records a validator's latest network address and
// dispatches it to the peer-discovery sink, mirroring the original's
// TrustScoreManager::UpdateValidatorAddress.
func (e *Engine) UpdateValidatorAddress(validatorID common.Address, address string, timestamp int64) bool {
	e.mu.Lock()
	info, ok := e.validators[validatorID]
	if !ok || address == "" {
		e.mu.Unlock()
		return false
	}
	info.LastKnownAddress = address
	info.LastCheckInTime = timestamp
	info.ConsecutiveCheckIns++
	e.mu.Unlock()

	logger.Info("TRUST", "Validator %s checked in from %s (consecutive: %d)", validatorID.Hex(), address, info.ConsecutiveCheckIns)

	if e.sink != nil {
		e.sink.ProcessValidatorAddress(address, validatorID)
	}
	return true
}

// GetValidatorAddresses returns the last-known address of every active
// validator that has ever checked in.
func (e *Engine) GetValidatorAddresses() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, info := range e.validators {
		if info.IsActive && info.LastKnownAddress != "" {
			out = append(out, info.LastKnownAddress)
		}
	}
	return out
}

// GetTrustedValidatorAddresses returns the last-known address of every
// active validator at or above minTier.
func (e *Engine) GetTrustedValidatorAddresses(minTier Tier) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, info := range e.validators {
		if info.IsActive && info.LastKnownAddress != "" && info.Tier(e.params) >= minTier {
			out = append(out, info.LastKnownAddress)
		}
	}
	return out
}

// IsValidatorAddress reports whether address belongs to an active,
// known validator.
func (e *Engine) IsValidatorAddress(address string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, info := range e.validators {
		if info.IsActive && info.LastKnownAddress == address {
			return true
		}
	}
	return false
}

// GetValidatorIDByAddress resolves the validator owning address, if known.
func (e *Engine) GetValidatorIDByAddress(address string) (common.Address, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, info := range e.validators {
		if info.LastKnownAddress == address {
			return id, true
		}
	}
	return common.Address{}, false
}

// GetLivenessBitmap returns the dashboard-only rolling participation bitmap
// for a validator (oldest to newest), purely observational and separate
// from the consensus-critical HeartbeatsExpected/HeartbeatsReceived
// counters (spec.md §9 note on wall-clock independence).
func (e *Engine) GetLivenessBitmap(validatorID common.Address) ([]bool, bool) {
	e.mu.RLock()
	w, ok := e.windows[validatorID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return w.GetBitmap(), true
}

// RecordMissedCheckIns scans every active validator and increments
// missed_check_ins for those that have gone more than twice the expected
// heartbeat interval without checking in (original's RecordMissedCheckIns).
func (e *Engine) RecordMissedCheckIns(currentHeight uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, info := range e.validators {
		if !info.IsActive {
			continue
		}
		blocksSinceLastCheckIn := currentHeight - info.LastHeartbeatHeight
		if blocksSinceLastCheckIn > e.params.HeartbeatInterval*2 {
			info.MissedCheckIns++
			info.ConsecutiveCheckIns = 0
			if w, ok := e.windows[id]; ok {
				w.Add(false, time.Now(), currentHeight)
			}
			logger.Info("TRUST", "Validator %s missed check-in (total missed: %d)", id.Hex(), info.MissedCheckIns)
		}
	}
}
