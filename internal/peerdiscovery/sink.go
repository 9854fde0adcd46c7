// Package peerdiscovery implements the Peer Discovery Sink (component E):
// a set of validator network addresses learned from heartbeat check-ins,
// queued for the node's peer-connection layer to dial and persisted to a
// config-style file across restarts.
package peerdiscovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/logger"
)

// Sink is the Peer Discovery Sink (component E). It owns exactly one lock
// guarding its entire state (spec.md §5).
type Sink struct {
	configPath string

	mu               sync.Mutex
	knownPeers       map[string]struct{}
	pendingAdditions map[string]struct{}
}

// NewSink constructs an empty sink. configPath may be set later via
// SetConfigPath.
func NewSink() *Sink {
	return &Sink{
		knownPeers:       make(map[string]struct{}),
		pendingAdditions: make(map[string]struct{}),
	}
}

// SetConfigPath sets the file peers are persisted to.
func (s *Sink) SetConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
}

// ProcessValidatorAddress registers a newly-seen validator address, queuing
// it for addition if it wasn't already known. Implements
// trust.AddressSink.
func (s *Sink) ProcessValidatorAddress(address string, validatorID common.Address) bool {
	if address == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.knownPeers[address]; known {
		return false
	}
	s.knownPeers[address] = struct{}{}
	s.pendingAdditions[address] = struct{}{}

	logger.Info("PEERS", "New validator peer discovered: %s (validator: %s)", address, validatorID.Hex())
	return true
}

// GetPendingPeers returns every address queued for addition.
func (s *Sink) GetPendingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pendingAdditions))
	for addr := range s.pendingAdditions {
		out = append(out, addr)
	}
	return out
}

// MarkPeerAdded removes address from the pending-addition set only; it
// remains in the known-peer set forever once seen (spec.md Open Question
// #3; original's PeerDiscoveryManager::MarkPeerAdded).
func (s *Sink) MarkPeerAdded(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingAdditions, address)
}

// IsKnownPeer reports whether address has ever been processed.
func (s *Sink) IsKnownPeer(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.knownPeers[address]
	return ok
}

// GetKnownPeerCount returns the number of distinct peers ever seen.
func (s *Sink) GetKnownPeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.knownPeers)
}

// GetAddNodeCommand formats the node-layer command string for adding a
// peer, matching the original's PeerDiscoveryManager::GetAddNodeCommand.
func GetAddNodeCommand(address string) string {
	return fmt.Sprintf("addnode \"%s\" add", address)
}

// SavePeersToConfig writes every known peer to the configured file as
// addnode=IP:PORT lines, matching the original's
// PeerDiscoveryManager::SavePeersToConfig format.
func (s *Sink) SavePeersToConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("# WATTx Validator Peers - Auto-generated\n")
	b.WriteString("# These peers were discovered from validator heartbeats\n")
	b.WriteString("# Format: addnode=IP:PORT\n\n")
	for addr := range s.knownPeers {
		fmt.Fprintf(&b, "addnode=%s\n", addr)
	}

	tmp := s.configPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.configPath); err != nil {
		return err
	}

	logger.Info("PEERS", "Saved %d validator peers to %s", len(s.knownPeers), s.configPath)
	return nil
}

// LoadPeersFromConfig loads known peers from the configured file. A missing
// file is not an error.
func (s *Sink) LoadPeersFromConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configPath == "" {
		return nil
	}

	f, err := os.Open(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		const prefix = "addnode="
		idx := strings.Index(line, prefix)
		if idx == -1 {
			continue
		}
		addr := strings.TrimSpace(line[idx+len(prefix):])
		if addr == "" {
			continue
		}
		s.knownPeers[addr] = struct{}{}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	logger.Info("PEERS", "Loaded %d validator peers from %s", loaded, s.configPath)
	return nil
}
