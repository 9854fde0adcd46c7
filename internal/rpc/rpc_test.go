package rpc

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/delegation"
	"github.com/nucash-mining/WATTx-testnet/internal/heartbeatmgr"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
	"github.com/nucash-mining/WATTx-testnet/internal/wire"
)

func testParams() params.Params {
	p := params.Default()
	p.ValidatorMaturity = 500
	return p
}

func newTestService(p params.Params) *Service {
	registry := validators.NewRegistry(p)
	trustEngine := trust.NewEngine(p, nil)
	ledger := delegation.NewLedger(p, registry)
	hbMgr := heartbeatmgr.NewManager(p, trustEngine, nil)
	return NewService(p, registry, trustEngine, ledger, hbMgr)
}

func TestRegisterValidatorThenGetValidator(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	reg := wire.ValidatorRegistration{
		PubKey:             crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount:        int64(p.MinValidatorStake),
		PoolFeeBps:         500,
		RegistrationHeight: 0,
	}
	if err := reg.Sign(key); err != nil {
		t.Fatal(err)
	}

	view, err := svc.RegisterValidator(reg)
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
	if view.Status != "pending" {
		t.Fatalf("expected pending status, got %s", view.Status)
	}

	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)
	got, err := svc.GetValidator(validatorID)
	if err != nil {
		t.Fatalf("expected getvalidator to succeed: %v", err)
	}
	if got.Stake != p.MinValidatorStake || got.FeeRateBps != 500 {
		t.Fatalf("unexpected validator view: %+v", got)
	}
}

func TestRegisterValidatorRejectsBadSignature(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{
		PubKey:      crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount: int64(p.MinValidatorStake),
		PoolFeeBps:  500,
	}
	if err := reg.Sign(otherKey); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RegisterValidator(reg); err == nil {
		t.Fatal("expected registration with mismatched signature to fail")
	}
}

func TestGetValidatorUnknownReturnsNotFound(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	_, err := svc.GetValidator(common.HexToAddress("0xdead"))
	if err == nil {
		t.Fatal("expected unknown validator to error")
	}
	rpcErr, ok := err.(*corerr.RPCError)
	if !ok {
		t.Fatalf("expected *corerr.RPCError, got %T", err)
	}
	if rpcErr.Code != corerr.NotFound {
		t.Fatalf("expected NotFound code, got %s", rpcErr.Code)
	}
}

func TestSetValidatorPoolFee(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{
		PubKey:      crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount: int64(p.MinValidatorStake),
		PoolFeeBps:  500,
	}
	reg.Sign(key)
	if _, err := svc.RegisterValidator(reg); err != nil {
		t.Fatal(err)
	}
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	update := wire.ValidatorUpdate{ValidatorID: validatorID, Kind: uint8(validators.UpdateFee), NewValue: 750}
	update.Sign(key)

	if err := svc.SetValidatorPoolFee(update); err != nil {
		t.Fatalf("expected fee update to succeed: %v", err)
	}

	view, err := svc.GetValidator(validatorID)
	if err != nil {
		t.Fatal(err)
	}
	if view.FeeRateBps != 750 {
		t.Fatalf("expected fee 750, got %d", view.FeeRateBps)
	}
}

func TestSetValidatorPoolFeeRejectsWrongSigner(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{
		PubKey:      crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount: int64(p.MinValidatorStake),
		PoolFeeBps:  500,
	}
	reg.Sign(key)
	if _, err := svc.RegisterValidator(reg); err != nil {
		t.Fatal(err)
	}
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	update := wire.ValidatorUpdate{ValidatorID: validatorID, Kind: uint8(validators.UpdateFee), NewValue: 999}
	update.Sign(otherKey)

	if err := svc.SetValidatorPoolFee(update); err == nil {
		t.Fatal("expected fee update signed by a different key to fail")
	}
}

func TestDelegateStakeAndListDelegations(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	valKey, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{PubKey: crypto.FromECDSAPub(&valKey.PublicKey), StakeAmount: int64(p.MinValidatorStake), PoolFeeBps: 500}
	reg.Sign(valKey)
	if _, err := svc.RegisterValidator(reg); err != nil {
		t.Fatal(err)
	}
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	delKey, _ := crypto.GenerateKey()
	delegatorID := crypto.PubkeyToAddress(delKey.PublicKey)
	req := wire.DelegationRequest{
		DelegatorID:     delegatorID,
		DelegatorPubKey: crypto.FromECDSAPub(&delKey.PublicKey),
		ValidatorID:     validatorID,
		Amount:          int64(p.MinDelegationAmount),
	}
	req.Sign(delKey)

	if _, err := svc.DelegateStake(req, common.Hash{}, 0); err != nil {
		t.Fatalf("expected delegation to succeed: %v", err)
	}

	list := svc.ListDelegations(delegatorID, "delegator")
	if len(list) != 1 {
		t.Fatalf("expected 1 delegation for delegator, got %d", len(list))
	}
	if list[0].Amount != p.MinDelegationAmount {
		t.Fatalf("unexpected delegation amount %d", list[0].Amount)
	}

	byValidator := svc.ListDelegations(validatorID, "validator")
	if len(byValidator) != 1 {
		t.Fatalf("expected 1 delegation for validator, got %d", len(byValidator))
	}
}

func TestDelegateStakeRejectsBadSignature(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	valKey, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{PubKey: crypto.FromECDSAPub(&valKey.PublicKey), StakeAmount: int64(p.MinValidatorStake), PoolFeeBps: 500}
	reg.Sign(valKey)
	svc.RegisterValidator(reg)
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	delKey, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	req := wire.DelegationRequest{
		DelegatorID:     crypto.PubkeyToAddress(delKey.PublicKey),
		DelegatorPubKey: crypto.FromECDSAPub(&delKey.PublicKey),
		ValidatorID:     validatorID,
		Amount:          int64(p.MinDelegationAmount),
	}
	req.Sign(otherKey)

	if _, err := svc.DelegateStake(req, common.Hash{}, 0); err == nil {
		t.Fatal("expected delegation with mismatched signature to fail")
	}
}

func TestClaimRewardsSweepsPendingRewards(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	valKey, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{PubKey: crypto.FromECDSAPub(&valKey.PublicKey), StakeAmount: int64(p.MinValidatorStake), PoolFeeBps: 0}
	reg.Sign(valKey)
	svc.RegisterValidator(reg)
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	delKey, _ := crypto.GenerateKey()
	delegatorID := crypto.PubkeyToAddress(delKey.PublicKey)
	req := wire.DelegationRequest{
		DelegatorID:     delegatorID,
		DelegatorPubKey: crypto.FromECDSAPub(&delKey.PublicKey),
		ValidatorID:     validatorID,
		Amount:          int64(p.MinDelegationAmount),
	}
	req.Sign(delKey)
	if _, err := svc.DelegateStake(req, common.Hash{}, 0); err != nil {
		t.Fatal(err)
	}

	// Advance past maturity so the delegation is Active, then distribute a
	// reward directly through the ledger (block-processing thread's job).
	svc.ledger.ProcessBlock(p.DelegationMaturity)
	svc.ledger.DistributeBlockReward(validatorID, 1000)

	claim := wire.RewardClaimRequest{DelegatorID: delegatorID, Height: uint32(p.DelegationMaturity + 1)}
	claim.Sign(delKey)

	claimed, err := svc.ClaimRewards(claim, crypto.FromECDSAPub(&delKey.PublicKey))
	if err != nil {
		t.Fatalf("expected claim to succeed: %v", err)
	}
	if claimed == 0 {
		t.Fatal("expected non-zero claimed rewards")
	}

	if got := svc.GetPendingRewards(delegatorID); got != 0 {
		t.Fatalf("expected pending rewards swept to 0, got %d", got)
	}
}

func TestSubmitHeartbeatResolvesPubkeyFromRegistry(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{PubKey: crypto.FromECDSAPub(&key.PublicKey), StakeAmount: int64(p.MinValidatorStake), PoolFeeBps: 0}
	reg.Sign(key)
	if _, err := svc.RegisterValidator(reg); err != nil {
		t.Fatal(err)
	}
	validatorID, _ := wire.ValidatorIDFromPubKey(reg.PubKey)

	hb := wire.Heartbeat{ValidatorID: validatorID, BlockHeight: uint32(p.HeartbeatInterval), Timestamp: 1}
	hb.Sign(key)

	if !svc.SubmitHeartbeat(hb) {
		t.Fatal("expected heartbeat from a registered validator to be accepted")
	}
}

func TestSubmitHeartbeatRejectsUnknownValidator(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	key, _ := crypto.GenerateKey()
	hb := wire.Heartbeat{ValidatorID: crypto.PubkeyToAddress(key.PublicKey), BlockHeight: 1, Timestamp: 1}
	hb.Sign(key)

	if svc.SubmitHeartbeat(hb) {
		t.Fatal("expected heartbeat from an unregistered validator id to be rejected, not verified against a stray pubkey")
	}
}

func TestGetTrustTierInfoReflectsParams(t *testing.T) {
	p := testParams()
	svc := newTestService(p)

	info := svc.GetTrustTierInfo()
	if info.MinValidatorStake != p.MinValidatorStake {
		t.Fatalf("expected min stake %d, got %d", p.MinValidatorStake, info.MinValidatorStake)
	}
	if info.HeartbeatInterval != p.HeartbeatInterval {
		t.Fatalf("expected heartbeat interval %d, got %d", p.HeartbeatInterval, info.HeartbeatInterval)
	}
	if len(info.Thresholds) != 4 || len(info.Multipliers) != 4 {
		t.Fatalf("expected 4 tiers in thresholds/multipliers, got %+v / %+v", info.Thresholds, info.Multipliers)
	}
}
