// Package heartbeatmgr implements the Heartbeat Manager (component F): the
// broadcast/receive side of the liveness protocol, gluing the Trust Score
// Engine (component C) and the Peer Discovery Sink (component E) together
// behind replay protection.
package heartbeatmgr

import (
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/peerdiscovery"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/wire"
)

// maxSeenHeartbeats bounds the replay-protection set (spec.md §4.F;
// original's HeartbeatManager::MAX_SEEN_HEARTBEATS).
const maxSeenHeartbeats = 10000

// defaultNodePort is the default WATTx P2P port stamped into broadcast
// heartbeats, matching the original's hardcoded 18888.
const defaultNodePort = 18888

// Stats mirrors the original's HeartbeatManager::Stats diagnostic surface.
type Stats struct {
	IsValidator         bool
	LastHeartbeatHeight uint64
	SeenHeartbeats      int
	ActiveValidators    int
}

// Manager is the Heartbeat Manager (component F). It owns exactly one lock
// guarding its entire state (spec.md §5); it reaches into the Trust Score
// Engine and Peer Discovery Sink but never the reverse (lock ordering
// F -> B -> C -> D -> E).
type Manager struct {
	trustEngine *trust.Engine
	peerSink    *peerdiscovery.Sink
	params      params.Params

	// AddNode is called when a brand-new validator peer is discovered, so
	// the network layer can dial it. May be left nil (e.g. in tests).
	AddNode func(address string)

	mu                  sync.Mutex
	validatorKey        *ecdsa.PrivateKey
	validatorID         common.Address
	isValidator         bool
	seenHeartbeats      map[common.Hash]struct{}
	lastHeartbeatHeight uint64
}

// NewManager constructs a heartbeat manager bound to the given trust engine
// and peer-discovery sink.
func NewManager(p params.Params, trustEngine *trust.Engine, peerSink *peerdiscovery.Sink) *Manager {
	return &Manager{
		trustEngine:    trustEngine,
		peerSink:       peerSink,
		params:         p,
		seenHeartbeats: make(map[common.Hash]struct{}),
	}
}

// SetValidatorKey configures this node as a validator with the given key.
func (m *Manager) SetValidatorKey(key *ecdsa.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validatorKey = key
	m.validatorID = crypto.PubkeyToAddress(key.PublicKey)
	m.isValidator = true
	logger.Info("HEARTBEAT", "Configured as validator %s", m.validatorID.Hex())
}

// IsValidator reports whether this node is configured to broadcast
// heartbeats.
func (m *Manager) IsValidator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isValidator && m.validatorKey != nil
}

// GetValidatorID returns this node's validator id, the zero address if
// unconfigured.
func (m *Manager) GetValidatorID() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validatorID
}

// ShouldBroadcastHeartbeat reports whether currentHeight is both past the
// interval since the last broadcast and on an interval boundary (spec.md
// §4.F; original's ShouldBroadcastHeartbeat).
func (m *Manager) ShouldBroadcastHeartbeat(currentHeight uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isValidator || m.validatorKey == nil {
		return false
	}
	interval := m.params.HeartbeatInterval
	if currentHeight-m.lastHeartbeatHeight < interval {
		return false
	}
	return currentHeight%interval == 0
}

// BroadcastHeartbeat signs and returns a Heartbeat for blockHeight/blockHash,
// recording it in the seen set and updating the last-broadcast height
// (spec.md §4.F). nodeAddress is this node's own advertised IP:port.
func (m *Manager) BroadcastHeartbeat(blockHeight uint64, blockHash common.Hash, nodeAddress string, timestamp int64) (wire.Heartbeat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isValidator || m.validatorKey == nil {
		return wire.Heartbeat{}, false
	}

	hb := wire.Heartbeat{
		ValidatorID: m.validatorID,
		BlockHeight: uint32(blockHeight),
		BlockHash:   blockHash,
		Timestamp:   timestamp,
		NodeAddress: nodeAddress,
		NodePort:    defaultNodePort,
	}
	if err := hb.Sign(m.validatorKey); err != nil {
		logger.Error("HEARTBEAT", "Failed to sign heartbeat: %v", err)
		return wire.Heartbeat{}, false
	}

	m.seenHeartbeats[hb.HashForSigning()] = struct{}{}
	m.lastHeartbeatHeight = blockHeight

	logger.Info("HEARTBEAT", "Broadcast heartbeat at height %d", blockHeight)
	return hb, true
}

// ProcessHeartbeat validates, deduplicates, and records a received
// heartbeat, dispatching address information to the trust engine and peer
// discovery sink (spec.md §4.F; original's ProcessHeartbeat).
func (m *Manager) ProcessHeartbeat(hb wire.Heartbeat, pubkey []byte) bool {
	hash := hb.HashForSigning()

	m.mu.Lock()
	if _, seen := m.seenHeartbeats[hash]; seen {
		m.mu.Unlock()
		return false
	}
	m.seenHeartbeats[hash] = struct{}{}
	if len(m.seenHeartbeats) > maxSeenHeartbeats {
		m.cleanupSeenHeartbeatsLocked()
	}
	m.mu.Unlock()

	if len(pubkey) == 0 || !hb.Verify(pubkey) {
		return false
	}

	if !m.trustEngine.ProcessHeartbeat(hb.ValidatorID, uint64(hb.BlockHeight)) {
		logger.Info("HEARTBEAT", "Failed to process heartbeat from validator %s", hb.ValidatorID.Hex())
		return false
	}

	if hb.NodeAddress != "" {
		// The trust engine may dispatch to this same sink and mark the
		// address known first, so newness is read before it runs.
		newPeer := m.peerSink != nil && !m.peerSink.IsKnownPeer(hb.NodeAddress)
		m.trustEngine.UpdateValidatorAddress(hb.ValidatorID, hb.NodeAddress, hb.Timestamp)

		if m.peerSink != nil && (m.peerSink.ProcessValidatorAddress(hb.NodeAddress, hb.ValidatorID) || newPeer) {
			if m.AddNode != nil {
				logger.Info("HEARTBEAT", "Auto-adding validator peer %s", hb.NodeAddress)
				m.AddNode(hb.NodeAddress)
			}
			m.peerSink.MarkPeerAdded(hb.NodeAddress)
		}
	}

	logger.Info("HEARTBEAT", "Processed heartbeat from validator %s at height %d", hb.ValidatorID.Hex(), hb.BlockHeight)
	return true
}

// ProcessValidatorRegistration verifies and applies a self-authenticating
// registration announcement (spec.md §4.F).
func (m *Manager) ProcessValidatorRegistration(reg wire.ValidatorRegistration) bool {
	if !reg.Verify() {
		logger.Info("HEARTBEAT", "Invalid validator registration signature")
		return false
	}
	if reg.StakeAmount < 0 || uint64(reg.StakeAmount) < m.params.MinValidatorStake {
		logger.Info("HEARTBEAT", "Validator stake %d below minimum %d", reg.StakeAmount, m.params.MinValidatorStake)
		return false
	}

	validatorID, err := wire.ValidatorIDFromPubKey(reg.PubKey)
	if err != nil {
		return false
	}

	_, ok := m.trustEngine.RegisterValidator(validatorID, uint64(reg.StakeAmount), uint32(reg.PoolFeeBps), uint64(reg.RegistrationHeight))
	if !ok {
		logger.Info("HEARTBEAT", "Failed to register validator %s", validatorID.Hex())
		return false
	}

	logger.Info("HEARTBEAT", "Registered validator with stake %d", reg.StakeAmount)
	return true
}

// CreateRegistration builds and signs a registration announcement for this
// node's own validator key.
func (m *Manager) CreateRegistration(stakeAmount uint64, poolFeeBps uint32, height uint64) (wire.ValidatorRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isValidator || m.validatorKey == nil {
		return wire.ValidatorRegistration{}, false
	}

	reg := wire.ValidatorRegistration{
		PubKey:             crypto.FromECDSAPub(&m.validatorKey.PublicKey),
		StakeAmount:        int64(stakeAmount),
		PoolFeeBps:         int64(poolFeeBps),
		RegistrationHeight: uint32(height),
	}
	if err := reg.Sign(m.validatorKey); err != nil {
		return wire.ValidatorRegistration{}, false
	}
	return reg, true
}

// GetValidatorList returns every active validator's trust record, for the
// bulk-sync ValidatorList gossip message (SPEC_FULL.md §3).
func (m *Manager) GetValidatorList() []trust.Info {
	return m.trustEngine.GetActiveValidators()
}

// ProcessValidatorList re-registers any validator in list this node does
// not already know about (original's ProcessValidatorList, used on initial
// sync with a peer).
func (m *Manager) ProcessValidatorList(list []trust.Info) {
	for _, info := range list {
		if !info.IsActive || !info.MeetsMinimumStake(m.params) {
			continue
		}
		if _, known := m.trustEngine.Get(info.ValidatorID); known {
			continue
		}
		m.trustEngine.RegisterValidator(info.ValidatorID, info.StakeAmount, info.PoolFeeBps, info.RegistrationHeight)
	}
}

// OnNewBlock updates heartbeat expectations for the new height. Actual
// broadcast is driven separately by the caller, which supplies the block
// hash via BroadcastHeartbeat once ShouldBroadcastHeartbeat returns true
// (original's OnNewBlock carries the same TODO for the block hash).
func (m *Manager) OnNewBlock(height uint64) {
	m.trustEngine.UpdateHeartbeatExpectations(height)
	m.trustEngine.SetHeight(height)

	if m.ShouldBroadcastHeartbeat(height) {
		logger.Info("HEARTBEAT", "Time to broadcast heartbeat at height %d", height)
	}
}

// cleanupSeenHeartbeatsLocked drops roughly half the seen set once it
// exceeds maxSeenHeartbeats, matching the original's coarse
// CleanupSeenHeartbeats (iteration order, not recency, decides what's
// dropped).
func (m *Manager) cleanupSeenHeartbeatsLocked() {
	target := len(m.seenHeartbeats) / 2
	for h := range m.seenHeartbeats {
		if len(m.seenHeartbeats) <= target {
			break
		}
		delete(m.seenHeartbeats, h)
	}
}

// Stats returns a snapshot of this manager's diagnostic counters
// (original's HeartbeatManager::GetStats).
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	isValidator := m.isValidator
	lastHeight := m.lastHeartbeatHeight
	seen := len(m.seenHeartbeats)
	m.mu.Unlock()

	return Stats{
		IsValidator:         isValidator,
		LastHeartbeatHeight: lastHeight,
		SeenHeartbeats:      seen,
		ActiveValidators:    len(m.trustEngine.GetActiveValidators()),
	}
}
