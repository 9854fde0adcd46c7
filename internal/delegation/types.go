// Package delegation implements the Delegation Ledger (component D):
// tracks stake delegated by delegators to validators, its maturity and
// unbonding lifecycle, and pending-reward accounting.
package delegation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Status is a delegation's lifecycle state (spec.md §3), strictly
// unidirectional: Pending -> Active -> Unbonding -> Withdrawn.
type Status uint8

const (
	Pending Status = iota
	Active
	Unbonding
	Withdrawn
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Unbonding:
		return "unbonding"
	case Withdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Outpoint references the UTXO holding a delegation's staked amount.
type Outpoint struct {
	Hash  common.Hash
	Index uint32
}

func (o Outpoint) IsZero() bool {
	return o.Hash == (common.Hash{}) && o.Index == 0
}

// Entry is a single delegation record, owned exclusively by Ledger.
type Entry struct {
	DelegatorID         common.Address
	ValidatorID         common.Address
	Amount              uint64
	DelegationHeight    uint64
	LastRewardHeight    uint64
	Status              Status
	DelegationOutpoint  Outpoint
	UnbondingStartHeight uint64
	PendingRewards      uint64
}

// ID returns the delegation's unique identifier: Keccak256 of
// delegator_id || validator_id || delegation_height, mirroring the
// original's DelegationEntry::GetDelegationId (spec.md §3).
func (e Entry) ID() common.Hash {
	var heightBytes [8]byte
	h := e.DelegationHeight
	for i := 7; i >= 0; i-- {
		heightBytes[i] = byte(h)
		h >>= 8
	}
	buf := make([]byte, 0, 20+20+8)
	buf = append(buf, e.DelegatorID[:]...)
	buf = append(buf, e.ValidatorID[:]...)
	buf = append(buf, heightBytes[:]...)
	return crypto.Keccak256Hash(buf)
}

// IsActive reports whether the delegation is currently earning rewards.
func (e Entry) IsActive() bool {
	return e.Status == Active
}
