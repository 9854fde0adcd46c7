package heartbeatmgr

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/peerdiscovery"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/wire"
)

func testParams() params.Params {
	p := params.Default()
	p.HeartbeatInterval = 100
	return p
}

func TestShouldBroadcastHeartbeatBoundary(t *testing.T) {
	p := testParams()
	engine := trust.NewEngine(p, nil)
	mgr := NewManager(p, engine, nil)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mgr.SetValidatorKey(key)

	if mgr.ShouldBroadcastHeartbeat(50) {
		t.Fatal("expected no broadcast before interval elapses")
	}
	if !mgr.ShouldBroadcastHeartbeat(100) {
		t.Fatal("expected broadcast exactly at interval boundary")
	}
	if mgr.ShouldBroadcastHeartbeat(150) {
		t.Fatal("expected no broadcast off-boundary")
	}
}

func TestBroadcastAndProcessHeartbeatRoundTrip(t *testing.T) {
	p := testParams()
	senderEngine := trust.NewEngine(p, nil)
	senderMgr := NewManager(p, senderEngine, nil)

	key, _ := crypto.GenerateKey()
	senderMgr.SetValidatorKey(key)
	validatorID := senderMgr.GetValidatorID()
	senderEngine.RegisterValidator(validatorID, p.MinValidatorStake, 0, 0)

	hb, ok := senderMgr.BroadcastHeartbeat(p.HeartbeatInterval, common.HexToHash("0xabc"), "10.0.0.1:18888", 1700000000)
	if !ok {
		t.Fatal("broadcast failed")
	}

	receiverEngine := trust.NewEngine(p, nil)
	receiverEngine.RegisterValidator(validatorID, p.MinValidatorStake, 0, 0)
	sink := peerdiscovery.NewSink()
	receiverMgr := NewManager(p, receiverEngine, sink)

	pubkeyBytes := crypto.FromECDSAPub(&key.PublicKey)
	if !receiverMgr.ProcessHeartbeat(hb, pubkeyBytes) {
		t.Fatal("expected heartbeat to process successfully")
	}

	info, _ := receiverEngine.Get(validatorID)
	if info.HeartbeatsReceived != 1 {
		t.Fatalf("expected 1 heartbeat received, got %d", info.HeartbeatsReceived)
	}
	if info.LastKnownAddress != "10.0.0.1:18888" {
		t.Fatalf("expected address dispatched to trust engine, got %q", info.LastKnownAddress)
	}
	if sink.GetKnownPeerCount() != 1 {
		t.Fatal("expected peer discovery sink to learn the new address")
	}

	// Replay must be rejected.
	if receiverMgr.ProcessHeartbeat(hb, pubkeyBytes) {
		t.Fatal("expected duplicate heartbeat to be rejected")
	}
}

func TestProcessHeartbeatRejectsBadSignature(t *testing.T) {
	p := testParams()
	engine := trust.NewEngine(p, nil)
	mgr := NewManager(p, engine, nil)

	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	validatorID := crypto.PubkeyToAddress(key.PublicKey)
	engine.RegisterValidator(validatorID, p.MinValidatorStake, 0, 0)

	hb := wire.Heartbeat{ValidatorID: validatorID, BlockHeight: uint32(p.HeartbeatInterval), Timestamp: 1}
	hb.Sign(otherKey)

	if mgr.ProcessHeartbeat(hb, crypto.FromECDSAPub(&key.PublicKey)) {
		t.Fatal("expected bad signature to be rejected")
	}
}

// A nil/empty pubkey must never be treated as "skip verification" — an
// unrecognized validator id is a hard signature failure, not a free pass
// (spec.md §7: signature checks are hard failures).
func TestProcessHeartbeatRejectsEmptyPubkey(t *testing.T) {
	p := testParams()
	engine := trust.NewEngine(p, nil)
	mgr := NewManager(p, engine, nil)

	key, _ := crypto.GenerateKey()
	validatorID := crypto.PubkeyToAddress(key.PublicKey)
	engine.RegisterValidator(validatorID, p.MinValidatorStake, 0, 0)

	hb := wire.Heartbeat{ValidatorID: validatorID, BlockHeight: uint32(p.HeartbeatInterval), Timestamp: 1}
	hb.Sign(key)

	if mgr.ProcessHeartbeat(hb, nil) {
		t.Fatal("expected heartbeat with no pubkey to be rejected, not silently accepted")
	}
}

func TestProcessValidatorRegistration(t *testing.T) {
	p := testParams()
	engine := trust.NewEngine(p, nil)
	mgr := NewManager(p, engine, nil)

	key, _ := crypto.GenerateKey()
	reg := wire.ValidatorRegistration{
		PubKey:             crypto.FromECDSAPub(&key.PublicKey),
		StakeAmount:        int64(p.MinValidatorStake),
		PoolFeeBps:         500,
		RegistrationHeight: 0,
	}
	reg.Sign(key)

	if !mgr.ProcessValidatorRegistration(reg) {
		t.Fatal("expected registration to succeed")
	}

	validatorID := crypto.PubkeyToAddress(key.PublicKey)
	if _, ok := engine.Get(validatorID); !ok {
		t.Fatal("expected validator to be registered in trust engine")
	}
}

func TestStats(t *testing.T) {
	p := testParams()
	engine := trust.NewEngine(p, nil)
	mgr := NewManager(p, engine, nil)
	key, _ := crypto.GenerateKey()
	mgr.SetValidatorKey(key)

	stats := mgr.Stats()
	if !stats.IsValidator {
		t.Fatal("expected IsValidator true")
	}
}
