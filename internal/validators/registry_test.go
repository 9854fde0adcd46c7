package validators

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
)

func testParams() params.Params {
	p := params.Default()
	p.ValidatorMaturity = 500
	return p
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

// S1: registration and maturity.
func TestRegisterAndMaturity(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)

	id := addr(1)
	reason, ok := r.Register(Entry{
		ValidatorID:        id,
		SelfStake:          p.MinValidatorStake,
		PoolFeeBps:         500,
		RegistrationHeight: 0,
	})
	if !ok || reason != corerr.None {
		t.Fatalf("register failed: %v", reason)
	}

	r.ProcessBlock(p.ValidatorMaturity - 1)
	entry, _ := r.Get(id)
	if entry.Status != Pending {
		t.Fatalf("expected still pending, got %v", entry.Status)
	}

	r.ProcessBlock(p.ValidatorMaturity)
	entry, _ = r.Get(id)
	if entry.Status != Active {
		t.Fatalf("expected active after maturity, got %v", entry.Status)
	}
}

func TestRegisterRejectsLowStake(t *testing.T) {
	r := NewRegistry(testParams())
	reason, ok := r.Register(Entry{ValidatorID: addr(1), SelfStake: 1, PoolFeeBps: 0})
	if ok || reason != corerr.StakeTooLow {
		t.Fatalf("expected StakeTooLow, got ok=%v reason=%v", ok, reason)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)
	entry := Entry{ValidatorID: addr(1), SelfStake: p.MinValidatorStake}
	if _, ok := r.Register(entry); !ok {
		t.Fatal("first register should succeed")
	}
	if reason, ok := r.Register(entry); ok || reason != corerr.AlreadyRegistered {
		t.Fatalf("expected AlreadyRegistered, got ok=%v reason=%v", ok, reason)
	}
}

// S5: jail then reactivate.
func TestJailThenReactivate(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)
	id := addr(1)
	r.Register(Entry{ValidatorID: id, SelfStake: p.MinValidatorStake})
	r.ProcessBlock(p.ValidatorMaturity)

	r.ProcessBlock(100)
	if !r.JailValidator(id, 100) {
		t.Fatal("jail failed")
	}
	entry, _ := r.Get(id)
	if entry.Status != Jailed || entry.JailReleaseHeight != 200 {
		t.Fatalf("unexpected jail state: %+v", entry)
	}

	r.ProcessBlock(150)
	if r.UnjailValidator(id) {
		t.Fatal("unjail should fail before release height")
	}

	r.ProcessBlock(200)
	if !r.UnjailValidator(id) {
		t.Fatal("unjail should succeed at release height")
	}
	entry, _ = r.Get(id)
	if entry.Status != Active {
		t.Fatalf("expected active after unjail, got %v", entry.Status)
	}
}

// S3: delegation reward split.
func TestRewardSplitArithmetic(t *testing.T) {
	split := ComputeRewardSplit(100, 900, 1000, 1000)
	if split.ValidatorShare != 190 {
		t.Fatalf("expected validator share 190, got %d", split.ValidatorShare)
	}
	if split.DelegatorsShare != 810 {
		t.Fatalf("expected delegators share 810, got %d", split.DelegatorsShare)
	}
	if split.ValidatorShare+split.DelegatorsShare != 1000 {
		t.Fatalf("shares must sum to reward")
	}
}

func TestRewardSplitAdversarial(t *testing.T) {
	cases := []struct {
		self, delegated uint64
		feeBps          uint32
		reward          uint64
	}{
		{0, 0, 0, 1000},
		{1, 0, 10000, 1000},
		{0, 1, 0, 1000},
		{0, 1, 10000, 1000},
		{1 << 61, 1 << 61, 5000, 1 << 61},
	}
	for _, c := range cases {
		split := ComputeRewardSplit(c.self, c.delegated, c.feeBps, c.reward)
		if split.ValidatorShare+split.DelegatorsShare > c.reward {
			t.Fatalf("shares exceed reward for case %+v: %+v", c, split)
		}
	}
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)
	id := addr(7)
	r.Register(Entry{
		ValidatorID:   id,
		SelfStake:     p.MinValidatorStake,
		PoolFeeBps:    250,
		Name:          "alpha",
		StakeOutpoint: Outpoint{Hash: common.HexToHash("0xabc"), Index: 2},
	})
	r.AddDelegation(id, 500)

	data := r.Snapshot()

	r2 := NewRegistry(p)
	if err := r2.LoadSnapshot(data); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	got, ok := r2.Get(id)
	want, _ := r.Get(id)
	if !ok || got.ValidatorID != want.ValidatorID || got.SelfStake != want.SelfStake ||
		got.PoolFeeBps != want.PoolFeeBps || got.Name != want.Name ||
		got.StakeOutpoint != want.StakeOutpoint || got.TotalDelegated != want.TotalDelegated ||
		got.DelegatorCount != want.DelegatorCount || got.Status != want.Status {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	byOutpoint, ok := r2.GetByOutpoint(Outpoint{Hash: common.HexToHash("0xabc"), Index: 2})
	if !ok || byOutpoint.ValidatorID != id {
		t.Fatal("outpoint index not rebuilt on load")
	}
}

func TestRemoveDelegationRejectsOverWithdrawal(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)
	id := addr(1)
	r.Register(Entry{ValidatorID: id, SelfStake: p.MinValidatorStake})
	r.AddDelegation(id, 100)
	if r.RemoveDelegation(id, 200) {
		t.Fatal("expected over-withdrawal to be rejected")
	}
	entry, _ := r.Get(id)
	if entry.TotalDelegated != 100 {
		t.Fatalf("total_delegated should be unchanged, got %d", entry.TotalDelegated)
	}
}

func TestUpdateStakeOutpointSilentlyOverwrites(t *testing.T) {
	p := testParams()
	r := NewRegistry(p)
	id1, id2 := addr(1), addr(2)
	r.Register(Entry{ValidatorID: id1, SelfStake: p.MinValidatorStake})
	r.Register(Entry{ValidatorID: id2, SelfStake: p.MinValidatorStake})

	op := Outpoint{Hash: common.HexToHash("0x1"), Index: 0}
	if !r.UpdateStakeOutpoint(id1, op) {
		t.Fatal("update failed")
	}
	if !r.UpdateStakeOutpoint(id2, op) {
		t.Fatal("update failed")
	}

	owner, ok := r.GetByOutpoint(op)
	if !ok || owner.ValidatorID != id2 {
		t.Fatalf("expected id2 to own the outpoint after overwrite, got %+v", owner)
	}
}
