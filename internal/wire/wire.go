// Package wire implements the binary encoding, domain hash-for-signing, and
// ECDSA sign/verify helpers for the six signed messages the validator core
// consumes from the network layer (spec.md §6): Heartbeat,
// ValidatorRegistration, ValidatorUpdate, DelegationRequest,
// UndelegationRequest, and RewardClaimRequest. Scalars are little-endian;
// byte strings are length-prefixed with a uint32.
package wire

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Heartbeat is the signed, periodic liveness message a validator broadcasts
// (spec.md §3 "Heartbeat", §6 wire format).
type Heartbeat struct {
	ValidatorID common.Address
	BlockHeight uint32
	BlockHash   common.Hash
	Timestamp   int64
	NodeAddress string
	NodePort    uint16
	Signature   []byte
}

// ValidatorRegistration announces a new validator (spec.md §6).
type ValidatorRegistration struct {
	PubKey             []byte
	StakeAmount        int64
	PoolFeeBps         int64
	RegistrationHeight uint32
	Signature          []byte
}

// ValidatorUpdate carries a signed change to an existing validator
// (spec.md §3/§6).
type ValidatorUpdate struct {
	ValidatorID  common.Address
	Kind         uint8
	NewValue     int64
	NewName      string
	UpdateHeight uint32
	Signature    []byte
}

// DelegationRequest asks the Delegation Ledger to create a new delegation.
type DelegationRequest struct {
	DelegatorID     common.Address
	DelegatorPubKey []byte
	ValidatorID     common.Address
	Amount          int64
	Height          uint32
	Signature       []byte
}

// UndelegationRequest asks the Delegation Ledger to begin unbonding some or
// all of a delegator's stake to a validator (Amount == 0 means "all").
type UndelegationRequest struct {
	DelegatorID common.Address
	ValidatorID common.Address
	Amount      int64
	Height      uint32
	Signature   []byte
}

// RewardClaimRequest sweeps pending rewards for a delegator, optionally
// scoped to one validator (zero ValidatorID means "all validators").
type RewardClaimRequest struct {
	DelegatorID common.Address
	ValidatorID common.Address
	Height      uint32
	Signature   []byte
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

// signingBytes returns the domain-specific byte sequence hashed for signing:
// every field in wire order, excluding the signature (spec.md §6).

func (h Heartbeat) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(h.ValidatorID[:])
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], h.BlockHeight)
	buf.Write(b4[:])
	buf.Write(h.BlockHash[:])
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(h.Timestamp))
	buf.Write(b8[:])
	writeString(&buf, h.NodeAddress)
	var b2 [2]byte
	binary.LittleEndian.PutUint16(b2[:], h.NodePort)
	buf.Write(b2[:])
	return buf.Bytes()
}

// HashForSigning is the Keccak256 hash of signingBytes (spec.md §6: "domain
// specific hash of the above fields in the listed order, excluding
// signature").
func (h Heartbeat) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(h.signingBytes())
}

// Sign populates h.Signature using key over HashForSigning.
func (h *Heartbeat) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(h.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

// Verify checks h.Signature against pubkey (uncompressed secp256k1 bytes).
func (h Heartbeat) Verify(pubkey []byte) bool {
	return verify(pubkey, h.HashForSigning(), h.Signature)
}

func (r ValidatorRegistration) signingBytes() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, r.PubKey)
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(r.StakeAmount))
	buf.Write(b8[:])
	binary.LittleEndian.PutUint64(b8[:], uint64(r.PoolFeeBps))
	buf.Write(b8[:])
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], r.RegistrationHeight)
	buf.Write(b4[:])
	return buf.Bytes()
}

func (r ValidatorRegistration) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(r.signingBytes())
}

func (r *ValidatorRegistration) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(r.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Verify checks the registration's own embedded PubKey signed it (a
// registration is self-authenticating, like the original's
// `validatorPubKey.Verify`).
func (r ValidatorRegistration) Verify() bool {
	return verify(r.PubKey, r.HashForSigning(), r.Signature)
}

func (u ValidatorUpdate) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(u.ValidatorID[:])
	buf.WriteByte(u.Kind)
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(u.NewValue))
	buf.Write(b8[:])
	writeString(&buf, u.NewName)
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], u.UpdateHeight)
	buf.Write(b4[:])
	return buf.Bytes()
}

func (u ValidatorUpdate) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(u.signingBytes())
}

func (u *ValidatorUpdate) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(u.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	u.Signature = sig
	return nil
}

func (u ValidatorUpdate) Verify(pubkey []byte) bool {
	return verify(pubkey, u.HashForSigning(), u.Signature)
}

func (d DelegationRequest) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(d.DelegatorID[:])
	writeBytes(&buf, d.DelegatorPubKey)
	buf.Write(d.ValidatorID[:])
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(d.Amount))
	buf.Write(b8[:])
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], d.Height)
	buf.Write(b4[:])
	return buf.Bytes()
}

func (d DelegationRequest) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(d.signingBytes())
}

func (d *DelegationRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(d.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// Verify is self-authenticating against the request's own embedded
// DelegatorPubKey, mirroring the original's DelegationRequest::Verify().
func (d DelegationRequest) Verify() bool {
	return verify(d.DelegatorPubKey, d.HashForSigning(), d.Signature)
}

func (u UndelegationRequest) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(u.DelegatorID[:])
	buf.Write(u.ValidatorID[:])
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(u.Amount))
	buf.Write(b8[:])
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], u.Height)
	buf.Write(b4[:])
	return buf.Bytes()
}

func (u UndelegationRequest) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(u.signingBytes())
}

func (u *UndelegationRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(u.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	u.Signature = sig
	return nil
}

func (u UndelegationRequest) Verify(pubkey []byte) bool {
	return verify(pubkey, u.HashForSigning(), u.Signature)
}

func (c RewardClaimRequest) signingBytes() []byte {
	var buf bytes.Buffer
	buf.Write(c.DelegatorID[:])
	buf.Write(c.ValidatorID[:])
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], c.Height)
	buf.Write(b4[:])
	return buf.Bytes()
}

func (c RewardClaimRequest) HashForSigning() common.Hash {
	return crypto.Keccak256Hash(c.signingBytes())
}

func (c *RewardClaimRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(c.HashForSigning().Bytes(), key)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

func (c RewardClaimRequest) Verify(pubkey []byte) bool {
	return verify(pubkey, c.HashForSigning(), c.Signature)
}

// verify recovers the signer from sig and checks it matches pubkey, using
// go-ethereum's secp256k1 bindings the same way the teacher's ws/listener.go
// and contract.go already depend on the wider go-ethereum module.
func verify(pubkey []byte, hash common.Hash, sig []byte) bool {
	if len(pubkey) == 0 || len(sig) < 64 {
		return false
	}
	return crypto.VerifySignature(pubkey, hash.Bytes(), sig[:64])
}

// ValidatorIDFromPubKey derives a validator/delegator id the same way
// go-ethereum derives an address from a public key: the low 20 bytes of
// Keccak256 of the uncompressed key (minus the 0x04 prefix byte).
func ValidatorIDFromPubKey(pubkey []byte) (common.Address, error) {
	pub, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return common.Address{}, fmt.Errorf("wire: invalid pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
