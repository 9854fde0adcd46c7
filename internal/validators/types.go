// Package validators implements the Validator Registry (component B): the
// authoritative table of validators keyed by validator-id, their stake,
// pool fee, lifecycle status, and stake-outpoint index.
package validators

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/params"
)

// Status is a validator's lifecycle state (spec.md §3).
type Status uint8

const (
	Pending Status = iota
	Active
	Inactive
	Jailed
	Unbonding
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Jailed:
		return "jailed"
	case Unbonding:
		return "unbonding"
	default:
		return "unknown"
	}
}

// Outpoint references the UTXO locking a validator's self-stake or a
// delegation's amount. The core treats it as an opaque, comparable key —
// it neither produces nor spends outpoints.
type Outpoint struct {
	Hash  common.Hash
	Index uint32
}

// IsZero reports whether this is the null outpoint (construction-in-progress
// marker, spec.md §3: "may be null").
func (o Outpoint) IsZero() bool {
	return o.Hash == (common.Hash{}) && o.Index == 0
}

// Entry is a single validator's record, owned exclusively by Registry.
type Entry struct {
	ValidatorID         common.Address
	PubKey              []byte // uncompressed secp256k1 public key
	SelfStake           uint64
	PoolFeeBps          uint32
	RegistrationHeight  uint64
	LastActiveHeight    uint64
	JailReleaseHeight   uint64
	Status              Status
	Name                string
	StakeOutpoint       Outpoint
	TotalDelegated      uint64
	DelegatorCount      uint32
}

// TotalStake is self-stake plus everything delegated to this validator.
func (e Entry) TotalStake() uint64 {
	return e.SelfStake + e.TotalDelegated
}

// MeetsMinimumStake checks e.SelfStake against the consensus floor.
func (e Entry) MeetsMinimumStake(p params.Params) bool {
	return e.SelfStake >= p.MinValidatorStake
}

// Registration is the signed payload carried by a ValidatorRegistration
// wire message (spec.md §6).
type Registration struct {
	PubKey             []byte
	StakeAmount        uint64
	PoolFeeBps         uint32
	RegistrationHeight uint64
	Signature          []byte
}

// UpdateKind enumerates the kinds of signed ValidatorUpdate messages.
type UpdateKind uint8

const (
	UpdateFee UpdateKind = iota + 1
	UpdateName
	Deactivate
	Reactivate
	IncreaseStake
	DecreaseStake
)

// Update is the signed payload carried by a ValidatorUpdate wire message.
type Update struct {
	ValidatorID  common.Address
	Kind         UpdateKind
	NewValue     int64
	NewName      string
	UpdateHeight uint64
	Signature    []byte
}

// RewardSplit is the result of the deterministic reward-split arithmetic in
// spec.md §4.B.
type RewardSplit struct {
	ValidatorShare  uint64
	DelegatorsShare uint64
}
