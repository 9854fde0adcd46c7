package wire

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestHeartbeatSignVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	hb := Heartbeat{
		ValidatorID: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BlockHeight: 100,
		BlockHash:   common.HexToHash("0xdead"),
		Timestamp:   1700000000,
		NodeAddress: "127.0.0.1",
		NodePort:    18888,
	}
	if err := hb.Sign(key); err != nil {
		t.Fatal(err)
	}
	pubkey := crypto.FromECDSAPub(&key.PublicKey)
	if !hb.Verify(pubkey) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestHeartbeatVerifyRejectsTamperedField(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hb := Heartbeat{ValidatorID: common.HexToAddress("0x01"), BlockHeight: 5, Timestamp: 1}
	if err := hb.Sign(key); err != nil {
		t.Fatal(err)
	}
	pubkey := crypto.FromECDSAPub(&key.PublicKey)

	hb.BlockHeight = 6 // signature no longer covers this
	if hb.Verify(pubkey) {
		t.Fatal("expected tampered heartbeat to fail verification")
	}
}

func TestHeartbeatVerifyRejectsWrongKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	hb := Heartbeat{ValidatorID: common.HexToAddress("0x01"), BlockHeight: 5, Timestamp: 1}
	if err := hb.Sign(key); err != nil {
		t.Fatal(err)
	}
	if hb.Verify(crypto.FromECDSAPub(&otherKey.PublicKey)) {
		t.Fatal("expected signature from a different key to fail verification")
	}
}

func TestVerifyRejectsEmptyPubkeyOrShortSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hb := Heartbeat{ValidatorID: common.HexToAddress("0x01")}
	if err := hb.Sign(key); err != nil {
		t.Fatal(err)
	}

	if hb.Verify(nil) {
		t.Fatal("expected nil pubkey to fail verification")
	}

	short := hb
	short.Signature = short.Signature[:10]
	if short.Verify(crypto.FromECDSAPub(&key.PublicKey)) {
		t.Fatal("expected truncated signature to fail verification")
	}
}

func TestValidatorRegistrationSelfAuthenticates(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reg := ValidatorRegistration{
		PubKey:             crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount:        100_000_00000000,
		PoolFeeBps:         500,
		RegistrationHeight: 10,
	}
	if err := reg.Sign(key); err != nil {
		t.Fatal(err)
	}
	if !reg.Verify() {
		t.Fatal("expected registration to self-verify against its own embedded pubkey")
	}

	reg.StakeAmount++
	if reg.Verify() {
		t.Fatal("expected tampered registration to fail self-verification")
	}
}

func TestValidatorUpdateVerify(t *testing.T) {
	key, _ := crypto.GenerateKey()
	u := ValidatorUpdate{
		ValidatorID:  common.HexToAddress("0x02"),
		Kind:         1,
		NewValue:     750,
		UpdateHeight: 20,
	}
	if err := u.Sign(key); err != nil {
		t.Fatal(err)
	}
	pubkey := crypto.FromECDSAPub(&key.PublicKey)
	if !u.Verify(pubkey) {
		t.Fatal("expected valid update signature to verify")
	}

	u.NewName = "renamed"
	if u.Verify(pubkey) {
		t.Fatal("expected update with a field changed after signing to fail verification")
	}
}

func TestDelegationRequestSelfAuthenticates(t *testing.T) {
	key, _ := crypto.GenerateKey()
	req := DelegationRequest{
		DelegatorID:     common.HexToAddress("0x03"),
		DelegatorPubKey: crypto.FromECDSAPub(&key.PublicKey),
		ValidatorID:     common.HexToAddress("0x04"),
		Amount:          1_000_00000000,
		Height:          30,
	}
	if err := req.Sign(key); err != nil {
		t.Fatal(err)
	}
	if !req.Verify() {
		t.Fatal("expected delegation request to self-verify")
	}

	req.Amount = 2_000_00000000
	if req.Verify() {
		t.Fatal("expected tampered delegation amount to fail self-verification")
	}
}

func TestUndelegationAndRewardClaimVerify(t *testing.T) {
	key, _ := crypto.GenerateKey()
	pubkey := crypto.FromECDSAPub(&key.PublicKey)

	u := UndelegationRequest{DelegatorID: common.HexToAddress("0x05"), ValidatorID: common.HexToAddress("0x06"), Amount: 0, Height: 40}
	if err := u.Sign(key); err != nil {
		t.Fatal(err)
	}
	if !u.Verify(pubkey) {
		t.Fatal("expected undelegation request to verify")
	}

	c := RewardClaimRequest{DelegatorID: common.HexToAddress("0x05"), Height: 41}
	if err := c.Sign(key); err != nil {
		t.Fatal(err)
	}
	if !c.Verify(pubkey) {
		t.Fatal("expected reward claim request to verify")
	}

	// Swapping in the undelegation's signature must not verify against the
	// claim's own hash-for-signing.
	c2 := c
	c2.Signature = u.Signature
	if c2.Verify(pubkey) {
		t.Fatal("expected a signature from a different message to fail verification")
	}
}

func TestValidatorIDFromPubKeyMatchesSignerAddress(t *testing.T) {
	key, _ := crypto.GenerateKey()
	want := crypto.PubkeyToAddress(key.PublicKey)

	got, err := ValidatorIDFromPubKey(crypto.FromECDSAPub(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected validator id %s, got %s", want.Hex(), got.Hex())
	}
}

func TestValidatorIDFromPubKeyRejectsGarbage(t *testing.T) {
	if _, err := ValidatorIDFromPubKey([]byte("not a pubkey")); err == nil {
		t.Fatal("expected malformed pubkey to fail decoding")
	}
}

func TestHashForSigningExcludesSignature(t *testing.T) {
	key, _ := crypto.GenerateKey()
	hb := Heartbeat{ValidatorID: common.HexToAddress("0x07"), BlockHeight: 1}
	before := hb.HashForSigning()
	if err := hb.Sign(key); err != nil {
		t.Fatal(err)
	}
	after := hb.HashForSigning()
	if before != after {
		t.Fatal("expected hash-for-signing to be unaffected by populating the signature field")
	}
}
