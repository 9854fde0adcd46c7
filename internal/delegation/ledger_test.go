package delegation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

func testParams() params.Params {
	p := params.Default()
	p.DelegationMaturity = 500
	p.DelegationUnbondingPeriod = 1000
	return p
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func newActiveValidator(p params.Params, id common.Address) *validators.Registry {
	r := validators.NewRegistry(p)
	r.Register(validators.Entry{ValidatorID: id, SelfStake: p.MinValidatorStake})
	r.ProcessBlock(p.ValidatorMaturity)
	return r
}

func TestProcessDelegationMaturity(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)

	delegator := addr(2)
	reason, ok := l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount, 0, Outpoint{})
	if !ok || reason != corerr.None {
		t.Fatalf("delegation failed: %v", reason)
	}

	l.ProcessBlock(p.DelegationMaturity - 1)
	entries := l.GetDelegationsForDelegator(delegator)
	if len(entries) != 1 || entries[0].Status != Pending {
		t.Fatalf("expected still pending, got %+v", entries)
	}

	l.ProcessBlock(p.DelegationMaturity)
	entries = l.GetDelegationsForDelegator(delegator)
	if entries[0].Status != Active {
		t.Fatalf("expected active after maturity, got %v", entries[0].Status)
	}
}

func TestProcessDelegationRejectsLowAmount(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)

	reason, ok := l.ProcessDelegation(addr(2), validatorID, 1, 0, Outpoint{})
	if ok || reason != corerr.AmountTooLow {
		t.Fatalf("expected AmountTooLow, got ok=%v reason=%v", ok, reason)
	}
}

func TestProcessDelegationRejectsUnknownValidator(t *testing.T) {
	p := testParams()
	registry := validators.NewRegistry(p)
	l := NewLedger(p, registry)

	reason, ok := l.ProcessDelegation(addr(2), addr(9), p.MinDelegationAmount, 0, Outpoint{})
	if ok || reason != corerr.UnknownValidator {
		t.Fatalf("expected UnknownValidator, got ok=%v reason=%v", ok, reason)
	}
}

func TestProcessUndelegationGreedyOldestFirst(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)
	delegator := addr(2)

	// Two delegations at distinct heights so IDs (and insertion order) differ.
	l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount, 0, Outpoint{})
	l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount*2, 1, Outpoint{})
	l.ProcessBlock(p.DelegationMaturity + 1)

	reason, ok := l.ProcessUndelegation(delegator, validatorID, p.MinDelegationAmount, p.DelegationMaturity)
	if !ok || reason != corerr.None {
		t.Fatalf("undelegation failed: %v", reason)
	}

	entries := l.GetDelegationsForDelegator(delegator)
	unbondingCount := 0
	activeCount := 0
	for _, e := range entries {
		switch e.Status {
		case Unbonding:
			unbondingCount++
		case Active:
			activeCount++
		}
	}
	if unbondingCount != 1 || activeCount != 1 {
		t.Fatalf("expected exactly one unbonding and one still active, got %+v", entries)
	}
}

func TestProcessUndelegationAllWhenZero(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)
	delegator := addr(2)

	l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount, 0, Outpoint{})
	l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount*2, 1, Outpoint{})
	l.ProcessBlock(p.DelegationMaturity + 1)

	reason, ok := l.ProcessUndelegation(delegator, validatorID, 0, p.DelegationMaturity)
	if !ok || reason != corerr.None {
		t.Fatalf("undelegation failed: %v", reason)
	}
	for _, e := range l.GetDelegationsForDelegator(delegator) {
		if e.Status != Unbonding {
			t.Fatalf("expected all delegations unbonding, got %+v", e)
		}
	}
}

func TestProcessRewardClaimZeroValidatorClaimsAll(t *testing.T) {
	p := testParams()
	v1, v2 := addr(1), addr(2)
	registry := validators.NewRegistry(p)
	registry.Register(validators.Entry{ValidatorID: v1, SelfStake: p.MinValidatorStake})
	registry.Register(validators.Entry{ValidatorID: v2, SelfStake: p.MinValidatorStake})
	registry.ProcessBlock(p.ValidatorMaturity)

	l := NewLedger(p, registry)
	delegator := addr(9)
	l.ProcessDelegation(delegator, v1, p.MinDelegationAmount, 0, Outpoint{})
	l.ProcessDelegation(delegator, v2, p.MinDelegationAmount, 1, Outpoint{})

	for _, e := range l.GetDelegationsForDelegator(delegator) {
		l.AddRewards(e.ID(), 100)
	}

	claimed := l.ProcessRewardClaim(delegator, common.Address{}, 10)
	if claimed != 200 {
		t.Fatalf("expected 200 claimed across both validators, got %d", claimed)
	}

	claimedAgain := l.ProcessRewardClaim(delegator, common.Address{}, 10)
	if claimedAgain != 0 {
		t.Fatalf("expected 0 on second claim, got %d", claimedAgain)
	}
}

func TestProcessRewardClaimScopedToValidator(t *testing.T) {
	p := testParams()
	v1, v2 := addr(1), addr(2)
	registry := validators.NewRegistry(p)
	registry.Register(validators.Entry{ValidatorID: v1, SelfStake: p.MinValidatorStake})
	registry.Register(validators.Entry{ValidatorID: v2, SelfStake: p.MinValidatorStake})
	registry.ProcessBlock(p.ValidatorMaturity)

	l := NewLedger(p, registry)
	delegator := addr(9)
	l.ProcessDelegation(delegator, v1, p.MinDelegationAmount, 0, Outpoint{})
	l.ProcessDelegation(delegator, v2, p.MinDelegationAmount, 1, Outpoint{})
	for _, e := range l.GetDelegationsForDelegator(delegator) {
		l.AddRewards(e.ID(), 100)
	}

	claimed := l.ProcessRewardClaim(delegator, v1, 10)
	if claimed != 100 {
		t.Fatalf("expected 100 claimed for v1 only, got %d", claimed)
	}
	if l.GetPendingRewardsForDelegator(delegator) != 100 {
		t.Fatalf("expected 100 still pending for v2")
	}
}

func TestDistributeBlockRewardProportional(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)

	d1, d2 := addr(2), addr(3)
	l.ProcessDelegation(d1, validatorID, p.MinDelegationAmount, 0, Outpoint{})
	l.ProcessDelegation(d2, validatorID, p.MinDelegationAmount*3, 1, Outpoint{})
	l.ProcessBlock(p.DelegationMaturity + 1)

	l.DistributeBlockReward(validatorID, 1000)

	r1 := l.GetPendingRewardsForDelegator(d1)
	r2 := l.GetPendingRewardsForDelegator(d2)
	if r1 != 250 || r2 != 750 {
		t.Fatalf("expected proportional split 250/750, got %d/%d", r1, r2)
	}
}

func TestLedgerSnapshotRoundTrip(t *testing.T) {
	p := testParams()
	validatorID := addr(1)
	registry := newActiveValidator(p, validatorID)
	l := NewLedger(p, registry)
	delegator := addr(2)
	l.ProcessDelegation(delegator, validatorID, p.MinDelegationAmount, 0, Outpoint{Hash: common.HexToHash("0x1"), Index: 1})

	data := l.Snapshot()

	l2 := NewLedger(p, registry)
	if err := l2.LoadSnapshot(data); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	entries := l2.GetDelegationsForDelegator(delegator)
	if len(entries) != 1 || entries[0].Amount != p.MinDelegationAmount {
		t.Fatalf("round trip mismatch: %+v", entries)
	}

	byOutpoint, ok := l2.GetByOutpoint(Outpoint{Hash: common.HexToHash("0x1"), Index: 1})
	if !ok || byOutpoint.DelegatorID != delegator {
		t.Fatal("outpoint index not rebuilt on load")
	}
}
