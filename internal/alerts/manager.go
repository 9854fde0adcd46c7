package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/config"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

// HeightFunc returns the height the manager should evaluate jail-release
// state against, supplied by whatever drives ProcessBlock on the core
// components.
type HeightFunc func() uint64

// Manager watches the Validator Registry and Trust Score Engine for
// condition changes worth paging someone about, retargeting the teacher's
// node/RPC-health polling loop onto this core's own signals.
type Manager struct {
	cfg      config.AlertsConfig
	chainID  string
	params   params.Params
	registry *validators.Registry
	trust    *trust.Engine
	heightFn HeightFunc
	notifier Notifier
	state    *StateStore

	mu       sync.Mutex
	alerts   map[string]AlertStateItem
	lastTier map[common.Address]trust.Tier
}

func NewManager(cfg config.AlertsConfig, chainID string, stateFile string, p params.Params, registry *validators.Registry, trustEngine *trust.Engine, heightFn HeightFunc) *Manager {
	return &Manager{
		cfg:      cfg,
		chainID:  chainID,
		params:   p,
		registry: registry,
		trust:    trustEngine,
		heightFn: heightFn,
		notifier: NewNotifier(cfg),
		state:    NewStateStore(stateFile),
		alerts:   make(map[string]AlertStateItem),
		lastTier: make(map[common.Address]trust.Tier),
	}
}

// Start loads any persisted alert state and begins the polling loop.
func (m *Manager) Start(ctx context.Context) {
	loaded, err := m.state.Load(m.chainID)
	if err != nil {
		logger.Warn("ALERT", "Failed to load alert state: %v", err)
	} else {
		m.mu.Lock()
		m.alerts = loaded
		m.mu.Unlock()
		logger.Info("ALERT", "Loaded %d alert states from disk", len(loaded))
	}

	ticker := time.NewTicker(30 * time.Second)
	go func() {
		m.checkRules(ctx)
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				m.checkRules(ctx)
			}
		}
	}()
}

func (m *Manager) checkRules(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	if m.cfg.Rules.ValidatorJailed.Enabled() {
		m.checkValidatorJailed(ctx, now)
	}
	if m.cfg.Rules.ValidatorDown.Enabled() {
		m.checkValidatorDown(ctx, now)
	}
	if m.cfg.Rules.ValidatorTierDropped.Enabled() {
		m.checkValidatorTierDropped(ctx, now)
	}
	if m.cfg.Rules.ValidatorUptime.Enabled() {
		m.checkValidatorUptime(ctx, now)
	}

	if err := m.state.Save(m.chainID, m.alerts); err != nil {
		logger.Warn("ALERT", "Failed to save alert state: %v", err)
	}
}

// checkValidatorJailed fires once when a validator enters Jailed status and
// resolves once it leaves it, naming the jail-release height so an operator
// knows when a reactivate attempt will succeed.
func (m *Manager) checkValidatorJailed(ctx context.Context, now time.Time) {
	height := uint64(0)
	if m.heightFn != nil {
		height = m.heightFn()
	}

	for _, e := range m.registry.All() {
		key := fmt.Sprintf("jailed:%s", e.ValidatorID.Hex())
		state, exists := m.alerts[key]

		if e.Status == validators.Jailed {
			if !exists {
				m.alerts[key] = AlertStateItem{
					Key: key, RuleID: RuleValidatorJailed, SubjectType: SubjectValidator,
					SubjectID: e.ValidatorID.Hex(), Status: AlertFiring,
					FiringSince: now, LastObserved: now,
				}
				event := AlertEvent{
					Key: key, RuleID: RuleValidatorJailed, SubjectType: SubjectValidator,
					SubjectID: e.ValidatorID.Hex(), SubjectName: e.Name, ChainID: m.chainID,
					Status: AlertFiring, Severity: "critical", Title: "Validator Jailed",
					Message: fmt.Sprintf("Validator %s (%s) was jailed until height %d", e.ValidatorID.Hex(), e.Name, e.JailReleaseHeight),
					Details: []AlertDetail{
						{Label: "Release height", Value: fmt.Sprintf("%d", e.JailReleaseHeight)},
						{Label: "Current height", Value: fmt.Sprintf("%d", height)},
					},
					Timestamp: now,
				}
				if err := m.notifier.Notify(ctx, event); err != nil {
					logger.Warn("ALERT", "Failed to send jail alert: %v", err)
				}
			} else {
				state.LastObserved = now
				m.alerts[key] = state
			}
		} else if exists {
			totalJailed := now.Sub(state.FiringSince).Round(time.Second)
			event := AlertEvent{
				Key: key, RuleID: RuleValidatorJailed, SubjectType: SubjectValidator,
				SubjectID: e.ValidatorID.Hex(), SubjectName: e.Name, ChainID: m.chainID,
				Status: AlertResolved, Severity: "info", Title: "Validator Unjailed",
				Message:   fmt.Sprintf("Validator %s (%s) is no longer jailed after %v", e.ValidatorID.Hex(), e.Name, totalJailed),
				Timestamp: now,
			}
			if err := m.notifier.Notify(ctx, event); err != nil {
				logger.Warn("ALERT", "Failed to send unjail alert: %v", err)
			}
			delete(m.alerts, key)
		}
	}
}

// checkValidatorDown fires when a validator has gone fire_after past its
// last heartbeat check-in, resolving once a check-in is observed again.
func (m *Manager) checkValidatorDown(ctx context.Context, now time.Time) {
	fireAfter := m.cfg.Rules.ValidatorDown.FireDuration()
	if fireAfter == 0 {
		return
	}

	for _, info := range m.trust.GetActiveValidators() {
		key := fmt.Sprintf("down:%s", info.ValidatorID.Hex())
		state, exists := m.alerts[key]

		var lastSeen time.Time
		if info.LastCheckInTime > 0 {
			lastSeen = time.Unix(info.LastCheckInTime, 0)
		}
		isDown := lastSeen.IsZero() || now.Sub(lastSeen) >= fireAfter

		switch {
		case isDown && !exists:
			m.alerts[key] = AlertStateItem{
				Key: key, RuleID: RuleValidatorDowntime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), Status: AlertFiring,
				FiringSince: now, LastObserved: now,
			}
			event := AlertEvent{
				Key: key, RuleID: RuleValidatorDowntime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), ChainID: m.chainID,
				Status: AlertFiring, Severity: "critical", Title: "Validator Down",
				Message: fmt.Sprintf("Validator %s has sent no heartbeat check-in for at least %v", info.ValidatorID.Hex(), fireAfter),
				Details: []AlertDetail{{Label: "Missed check-ins", Value: fmt.Sprintf("%d", info.MissedCheckIns)}},
				Timestamp: now,
			}
			if err := m.notifier.Notify(ctx, event); err != nil {
				logger.Warn("ALERT", "Failed to send validator down alert: %v", err)
			}
		case isDown && exists:
			state.LastObserved = now
			m.alerts[key] = state
		case !isDown && exists:
			downtime := now.Sub(state.FiringSince).Round(time.Second)
			event := AlertEvent{
				Key: key, RuleID: RuleValidatorDowntime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), ChainID: m.chainID,
				Status: AlertResolved, Severity: "info", Title: "Validator Recovered",
				Message:   fmt.Sprintf("Validator %s resumed heartbeats after %v", info.ValidatorID.Hex(), downtime),
				Timestamp: now,
			}
			if err := m.notifier.Notify(ctx, event); err != nil {
				logger.Warn("ALERT", "Failed to send validator recovered alert: %v", err)
			}
			delete(m.alerts, key)
		}
	}
}

// checkValidatorTierDropped fires a one-shot alert whenever a validator's
// trust tier drops relative to its last observed tier. There is no
// "resolved" state for a tier drop, and a climb back up fires nothing; it
// only moves the baseline that the next drop is compared against.
func (m *Manager) checkValidatorTierDropped(ctx context.Context, now time.Time) {
	for _, info := range m.trust.GetActiveValidators() {
		tier := info.Tier(m.params)
		prev, known := m.lastTier[info.ValidatorID]
		m.lastTier[info.ValidatorID] = tier
		if !known || tier >= prev {
			continue
		}

		event := AlertEvent{
			Key:         fmt.Sprintf("tier_drop:%s:%d", info.ValidatorID.Hex(), now.Unix()),
			RuleID:      RuleValidatorTierDropped,
			SubjectType: SubjectValidator,
			SubjectID:   info.ValidatorID.Hex(), ChainID: m.chainID,
			Status: AlertFiring, Severity: "warning", Title: "Validator Tier Dropped",
			Message:   fmt.Sprintf("Validator %s dropped from %s to %s", info.ValidatorID.Hex(), prev, tier),
			Details:   []AlertDetail{{Label: "Uptime", Value: fmt.Sprintf("%.1f%%", float64(info.UptimeRatio())/10)}},
			Timestamp: now,
		}
		if err := m.notifier.Notify(ctx, event); err != nil {
			logger.Warn("ALERT", "Failed to send tier-drop alert: %v", err)
		}
	}
}

// checkValidatorUptime fires when a validator's rolling uptime ratio falls
// below the configured threshold, resolving once it climbs back above it.
func (m *Manager) checkValidatorUptime(ctx context.Context, now time.Time) {
	thresholdPermille := uint32(m.cfg.Rules.ValidatorUptime.ThresholdPercent()) * 10
	if thresholdPermille == 0 {
		return
	}

	for _, info := range m.trust.GetActiveValidators() {
		uptime := info.UptimeRatio()
		key := fmt.Sprintf("uptime:%s", info.ValidatorID.Hex())
		state, exists := m.alerts[key]

		switch {
		case uptime < thresholdPermille && !exists:
			m.alerts[key] = AlertStateItem{
				Key: key, RuleID: RuleValidatorUptime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), Status: AlertFiring,
				FiringSince: now, LastObserved: now,
			}
			event := AlertEvent{
				Key: key, RuleID: RuleValidatorUptime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), ChainID: m.chainID,
				Status: AlertFiring, Severity: "warning", Title: "Validator Uptime Low",
				Message:   fmt.Sprintf("Validator %s uptime is %.1f%% (threshold %.1f%%)", info.ValidatorID.Hex(), float64(uptime)/10, float64(thresholdPermille)/10),
				Timestamp: now,
			}
			if err := m.notifier.Notify(ctx, event); err != nil {
				logger.Warn("ALERT", "Failed to send uptime alert: %v", err)
			}
		case uptime < thresholdPermille && exists:
			state.LastObserved = now
			m.alerts[key] = state
		case uptime >= thresholdPermille && exists:
			event := AlertEvent{
				Key: key, RuleID: RuleValidatorUptime, SubjectType: SubjectValidator,
				SubjectID: info.ValidatorID.Hex(), ChainID: m.chainID,
				Status: AlertResolved, Severity: "info", Title: "Validator Uptime Recovered",
				Message:   fmt.Sprintf("Validator %s uptime recovered to %.1f%%", info.ValidatorID.Hex(), float64(uptime)/10),
				Timestamp: now,
			}
			if err := m.notifier.Notify(ctx, event); err != nil {
				logger.Warn("ALERT", "Failed to send uptime resolved alert: %v", err)
			}
			delete(m.alerts, key)
		}
	}
}

// SaveState persists whatever alerts are currently tracked, called on
// shutdown alongside the core components' own state files.
func (m *Manager) SaveState() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Save(m.chainID, m.alerts)
}
