package peerdiscovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestProcessValidatorAddressDedupes(t *testing.T) {
	s := NewSink()
	if !s.ProcessValidatorAddress("10.0.0.1:18888", addr(1)) {
		t.Fatal("first sighting should be new")
	}
	if s.ProcessValidatorAddress("10.0.0.1:18888", addr(1)) {
		t.Fatal("second sighting should not be new")
	}
	if s.GetKnownPeerCount() != 1 {
		t.Fatalf("expected 1 known peer, got %d", s.GetKnownPeerCount())
	}
}

func TestMarkPeerAddedOnlyClearsPending(t *testing.T) {
	s := NewSink()
	s.ProcessValidatorAddress("10.0.0.1:18888", addr(1))
	s.MarkPeerAdded("10.0.0.1:18888")

	if len(s.GetPendingPeers()) != 0 {
		t.Fatal("expected no pending peers after MarkPeerAdded")
	}
	if !s.IsKnownPeer("10.0.0.1:18888") {
		t.Fatal("peer should remain known forever once seen")
	}
}

func TestSavePeersToConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "validator_peers.conf")

	s := NewSink()
	s.SetConfigPath(path)
	s.ProcessValidatorAddress("10.0.0.1:18888", addr(1))
	s.ProcessValidatorAddress("10.0.0.2:18888", addr(2))

	if err := s.SavePeersToConfig(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty config file")
	}

	s2 := NewSink()
	s2.SetConfigPath(path)
	if err := s2.LoadPeersFromConfig(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s2.GetKnownPeerCount() != 2 {
		t.Fatalf("expected 2 peers loaded, got %d", s2.GetKnownPeerCount())
	}
	if !s2.IsKnownPeer("10.0.0.1:18888") || !s2.IsKnownPeer("10.0.0.2:18888") {
		t.Fatal("expected both peers to round-trip")
	}
}

func TestLoadPeersFromConfigMissingFileIsNotError(t *testing.T) {
	s := NewSink()
	s.SetConfigPath(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err := s.LoadPeersFromConfig(); err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
}

func TestGetAddNodeCommand(t *testing.T) {
	got := GetAddNodeCommand("10.0.0.1:18888")
	want := `addnode "10.0.0.1:18888" add`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
