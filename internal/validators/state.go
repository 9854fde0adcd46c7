package validators

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
)

// entrySnapshot is the JSON-serializable form of Entry (spec.md §6:
// "serialize the validator table as a length-prefixed sequence of entries;
// on load, rebuild the outpoint index from entries"). JSON's array framing
// plays the role of the length prefix here, matching the teacher's
// JSON-snapshot-plus-atomic-rename persistence pattern.
type entrySnapshot struct {
	ValidatorID        common.Address `json:"validator_id"`
	PubKey             []byte         `json:"pubkey,omitempty"`
	SelfStake          uint64         `json:"self_stake"`
	PoolFeeBps         uint32         `json:"pool_fee_bps"`
	RegistrationHeight uint64         `json:"registration_height"`
	LastActiveHeight   uint64         `json:"last_active_height"`
	JailReleaseHeight  uint64         `json:"jail_release_height"`
	Status             Status         `json:"status"`
	Name               string         `json:"name"`
	OutpointHash       common.Hash    `json:"outpoint_hash"`
	OutpointIndex      uint32         `json:"outpoint_index"`
	TotalDelegated     uint64         `json:"total_delegated"`
	DelegatorCount     uint32         `json:"delegator_count"`
}

type stateFile struct {
	Version    int             `json:"version"`
	Validators []entrySnapshot `json:"validators"`
}

// Snapshot serializes every validator entry for persistence.
func (r *Registry) Snapshot() []byte {
	entries := r.All()
	snaps := make([]entrySnapshot, len(entries))
	for i, e := range entries {
		snaps[i] = entrySnapshot{
			ValidatorID:        e.ValidatorID,
			PubKey:             e.PubKey,
			SelfStake:          e.SelfStake,
			PoolFeeBps:         e.PoolFeeBps,
			RegistrationHeight: e.RegistrationHeight,
			LastActiveHeight:   e.LastActiveHeight,
			JailReleaseHeight:  e.JailReleaseHeight,
			Status:             e.Status,
			Name:               e.Name,
			OutpointHash:       e.StakeOutpoint.Hash,
			OutpointIndex:      e.StakeOutpoint.Index,
			TotalDelegated:     e.TotalDelegated,
			DelegatorCount:     e.DelegatorCount,
		}
	}
	data, _ := json.MarshalIndent(stateFile{Version: 1, Validators: snaps}, "", "  ")
	return data
}

// LoadSnapshot rebuilds the registry (including the outpoint index) from a
// Snapshot's output.
func (r *Registry) LoadSnapshot(data []byte) error {
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators = make(map[common.Address]*Entry, len(sf.Validators))
	r.outpointIndex = make(map[Outpoint]common.Address, len(sf.Validators))
	for _, s := range sf.Validators {
		entry := &Entry{
			ValidatorID:        s.ValidatorID,
			PubKey:             s.PubKey,
			SelfStake:          s.SelfStake,
			PoolFeeBps:         s.PoolFeeBps,
			RegistrationHeight: s.RegistrationHeight,
			LastActiveHeight:   s.LastActiveHeight,
			JailReleaseHeight:  s.JailReleaseHeight,
			Status:             s.Status,
			Name:               s.Name,
			StakeOutpoint:      Outpoint{Hash: s.OutpointHash, Index: s.OutpointIndex},
			TotalDelegated:     s.TotalDelegated,
			DelegatorCount:     s.DelegatorCount,
		}
		r.validators[entry.ValidatorID] = entry
		if !entry.StakeOutpoint.IsZero() {
			r.outpointIndex[entry.StakeOutpoint] = entry.ValidatorID
		}
	}
	return nil
}

// SaveToFile persists the registry to path via a tmp-file-then-rename,
// matching the teacher's atomic-write pattern.
func (r *Registry) SaveToFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp", path)
	if err := os.WriteFile(tmp, r.Snapshot(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile loads a registry snapshot from path. A missing file is not
// an error (fresh start).
func (r *Registry) LoadFromFile(path string) error {
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
	return r.LoadSnapshot(data)
}
