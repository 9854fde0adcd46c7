package delegation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
)

type entrySnapshot struct {
	DelegatorID          common.Address `json:"delegator_id"`
	ValidatorID          common.Address `json:"validator_id"`
	Amount               uint64         `json:"amount"`
	DelegationHeight     uint64         `json:"delegation_height"`
	LastRewardHeight     uint64         `json:"last_reward_height"`
	Status               Status         `json:"status"`
	OutpointHash         common.Hash    `json:"outpoint_hash"`
	OutpointIndex        uint32         `json:"outpoint_index"`
	UnbondingStartHeight uint64         `json:"unbonding_start_height"`
	PendingRewards       uint64         `json:"pending_rewards"`
}

type stateFile struct {
	Version     int             `json:"version"`
	Delegations []entrySnapshot `json:"delegations"`
}

// Snapshot serializes every delegation for persistence.
func (l *Ledger) Snapshot() []byte {
	entries := l.All()
	snaps := make([]entrySnapshot, len(entries))
	for i, e := range entries {
		snaps[i] = entrySnapshot{
			DelegatorID:          e.DelegatorID,
			ValidatorID:          e.ValidatorID,
			Amount:               e.Amount,
			DelegationHeight:     e.DelegationHeight,
			LastRewardHeight:     e.LastRewardHeight,
			Status:               e.Status,
			OutpointHash:         e.DelegationOutpoint.Hash,
			OutpointIndex:        e.DelegationOutpoint.Index,
			UnbondingStartHeight: e.UnbondingStartHeight,
			PendingRewards:       e.PendingRewards,
		}
	}
	data, _ := json.MarshalIndent(stateFile{Version: 1, Delegations: snaps}, "", "  ")
	return data
}

// LoadSnapshot rebuilds the ledger (all three indexes) from a Snapshot's
// output, mirroring the original's DelegationDB::Unserialize index rebuild.
func (l *Ledger) LoadSnapshot(data []byte) error {
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.delegations = make(map[common.Hash]*Entry, len(sf.Delegations))
	l.delegatorIndex = make(map[common.Address][]common.Hash)
	l.validatorIndex = make(map[common.Address][]common.Hash)
	l.outpointIndex = make(map[Outpoint]common.Hash, len(sf.Delegations))

	for _, s := range sf.Delegations {
		entry := &Entry{
			DelegatorID:          s.DelegatorID,
			ValidatorID:          s.ValidatorID,
			Amount:               s.Amount,
			DelegationHeight:     s.DelegationHeight,
			LastRewardHeight:     s.LastRewardHeight,
			Status:               s.Status,
			DelegationOutpoint:   Outpoint{Hash: s.OutpointHash, Index: s.OutpointIndex},
			UnbondingStartHeight: s.UnbondingStartHeight,
			PendingRewards:       s.PendingRewards,
		}
		id := entry.ID()
		l.delegations[id] = entry
		l.delegatorIndex[entry.DelegatorID] = append(l.delegatorIndex[entry.DelegatorID], id)
		l.validatorIndex[entry.ValidatorID] = append(l.validatorIndex[entry.ValidatorID], id)
		if !entry.DelegationOutpoint.IsZero() {
			l.outpointIndex[entry.DelegationOutpoint] = id
		}
	}
	return nil
}

// SaveToFile persists the ledger to path via a tmp-file-then-rename.
func (l *Ledger) SaveToFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp", path)
	if err := os.WriteFile(tmp, l.Snapshot(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile loads a ledger snapshot from path. A missing file is not an
// error (fresh start).
func (l *Ledger) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return l.LoadSnapshot(data)
}
