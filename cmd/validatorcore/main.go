package main

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nucash-mining/WATTx-testnet/internal/alerts"
	"github.com/nucash-mining/WATTx-testnet/internal/config"
	"github.com/nucash-mining/WATTx-testnet/internal/dashboard"
	"github.com/nucash-mining/WATTx-testnet/internal/delegation"
	"github.com/nucash-mining/WATTx-testnet/internal/gossip"
	"github.com/nucash-mining/WATTx-testnet/internal/heartbeatmgr"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/metrics"
	"github.com/nucash-mining/WATTx-testnet/internal/peerdiscovery"
	"github.com/nucash-mining/WATTx-testnet/internal/rpc"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

//go:embed config.example.yml
var configExample []byte

// blockInterval paces the synthetic height ticker that stands in for the
// consensus engine driving ProcessBlock in a full node build.
const blockInterval = 6 * time.Second

func main() {
	logger.Init()

	configFile := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "path to data directory")
	flag.Parse()

	configPath, baseDir, err := resolveConfigPath(*configFile)
	if err != nil {
		logger.Error("INIT", "Failed to resolve config path: %v", err)
		os.Exit(1)
	}

	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		logger.Error("INIT", "Failed to ensure default config: %v", err)
		os.Exit(1)
	}

	if *dataDir == "" {
		*dataDir = filepath.Join(baseDir, "data")
	}

	logger.Info("INIT", "Loading config from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("INIT", "Failed to load config: %v", err)
		os.Exit(1)
	}
	applyDataDirDefaults(cfg, *dataDir)

	p := cfg.Consensus.ToParams()
	logger.Info("INIT", "Config loaded. ChainID: %s, MinValidatorStake: %d", cfg.Network.ChainID, p.MinValidatorStake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("INIT", "Initializing Peer Discovery Sink...")
	peerSink := peerdiscovery.NewSink()
	peerSink.SetConfigPath(cfg.Advanced.PeersFile)
	if err := peerSink.LoadPeersFromConfig(); err != nil {
		logger.Warn("INIT", "Failed to load known peers: %v", err)
	}

	logger.Info("INIT", "Initializing Validator Registry...")
	registry := validators.NewRegistry(p)
	if err := registry.LoadFromFile(cfg.Advanced.ValidatorStateFile); err != nil {
		logger.Warn("INIT", "Failed to load validator state: %v", err)
	}

	logger.Info("INIT", "Initializing Trust Score Engine...")
	trustEngine := trust.NewEngine(p, peerSink)

	logger.Info("INIT", "Initializing Delegation Ledger...")
	ledger := delegation.NewLedger(p, registry)
	if err := ledger.LoadFromFile(cfg.Advanced.DelegationStateFile); err != nil {
		logger.Warn("INIT", "Failed to load delegation state: %v", err)
	}

	logger.Info("INIT", "Initializing Heartbeat Manager...")
	hbMgr := heartbeatmgr.NewManager(p, trustEngine, peerSink)

	logger.Info("INIT", "Initializing Gossip Client...")
	gossipPeers := make([]gossip.PeerConfig, 0, len(cfg.Network.Peers))
	for _, peer := range cfg.Network.Peers {
		gossipPeers = append(gossipPeers, gossip.PeerConfig{Label: peer.Label, Addr: peer.Addr})
	}
	gossipClient := gossip.NewClient(gossipPeers)
	hbMgr.AddNode = gossipClient.AddPeer
	gossipClient.Start(ctx)

	if cfg.Validator.Enabled {
		key, err := loadOrCreateValidatorKey(cfg.Validator.KeyFile)
		if err != nil {
			logger.Error("INIT", "Failed to load validator key: %v", err)
			os.Exit(1)
		}
		hbMgr.SetValidatorKey(key)
		logger.Info("INIT", "Validator key loaded. ValidatorID: %s", hbMgr.GetValidatorID().Hex())
	}

	logger.Info("INIT", "Initializing RPC service...")
	svc := rpc.NewService(p, registry, trustEngine, ledger, hbMgr)
	rpcServer, err := rpc.NewServer(cfg.Advanced.RPCListenAddr, svc)
	if err != nil {
		logger.Error("INIT", "Failed to build RPC server: %v", err)
		os.Exit(1)
	}
	go func() {
		if err := rpcServer.Serve(ctx); err != nil {
			logger.Error("RPC", "RPC server stopped: %v", err)
		}
	}()

	exporter := metrics.NewExporter(cfg.Network.ChainID, cfg.Advanced.Prometheus.MetricsPrefix, p, registry, trustEngine, ledger, gossipClient)

	dash := dashboard.NewServer(*cfg, p, registry, trustEngine, ledger, peerSink, gossipClient)
	dash.Start(ctx)

	var currentHeight uint64
	heightFn := func() uint64 { return atomic.LoadUint64(&currentHeight) }

	alertMgr := alerts.NewManager(cfg.Alerts, cfg.Network.ChainID, cfg.Advanced.AlertStateFile, p, registry, trustEngine, heightFn)
	alertMgr.Start(ctx)

	go runBlockLoop(ctx, &currentHeight, registry, ledger, trustEngine, hbMgr, exporter, dash)

	logger.Info("SYS", "WATTx Validator Core started... (ChainID: %s)", cfg.Network.ChainID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("SYS", "Shutting down gracefully...")
	cancel()

	logger.Info("SYS", "Saving validator state...")
	if err := registry.SaveToFile(cfg.Advanced.ValidatorStateFile); err != nil {
		logger.Warn("SYS", "Failed to save validator state: %v", err)
	}
	logger.Info("SYS", "Saving delegation state...")
	if err := ledger.SaveToFile(cfg.Advanced.DelegationStateFile); err != nil {
		logger.Warn("SYS", "Failed to save delegation state: %v", err)
	}
	logger.Info("SYS", "Saving peer state...")
	if err := peerSink.SavePeersToConfig(); err != nil {
		logger.Warn("SYS", "Failed to save peer state: %v", err)
	}
	logger.Info("SYS", "Saving alert state...")
	if err := alertMgr.SaveState(); err != nil {
		logger.Warn("SYS", "Failed to save alert state: %v", err)
	}

	time.Sleep(1 * time.Second)
	logger.Info("SYS", "Shutdown complete")
}

// runBlockLoop stands in for the external consensus engine that would
// normally drive height advancement: every tick it bumps the height bound
// to each component that tracks one (validators, delegation, trust), calls
// the heartbeat manager's OnNewBlock (which only logs when a heartbeat is
// due; this loop signs and broadcasts no heartbeat), and refreshes the
// exported metrics and dashboard state.
func runBlockLoop(ctx context.Context, height *uint64, registry *validators.Registry, ledger *delegation.Ledger, trustEngine *trust.Engine, hbMgr *heartbeatmgr.Manager, exporter *metrics.Exporter, dash *dashboard.Server) {
	ticker := time.NewTicker(blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := atomic.AddUint64(height, 1)
			registry.ProcessBlock(h)
			ledger.ProcessBlock(h)
			trustEngine.SetHeight(h)
			hbMgr.OnNewBlock(h)

			exporter.Update()
			dash.BroadcastUpdate()
		}
	}
}

func resolveConfigPath(configFile string) (string, string, error) {
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	baseDir := filepath.Join(home, ".wattx-validatorcore")
	return filepath.Join(baseDir, "config.yml"), baseDir, nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if len(example) == 0 {
		return fmt.Errorf("embedded config.example.yml is empty")
	}

	return os.WriteFile(path, example, 0o644)
}

func applyDataDirDefaults(cfg *config.Config, dataDir string) {
	if cfg.Advanced.DataDir == "" {
		cfg.Advanced.DataDir = dataDir
	}
	if cfg.Advanced.ValidatorStateFile == "" {
		cfg.Advanced.ValidatorStateFile = filepath.Join(cfg.Advanced.DataDir, "validators-state.json")
	}
	if cfg.Advanced.DelegationStateFile == "" {
		cfg.Advanced.DelegationStateFile = filepath.Join(cfg.Advanced.DataDir, "delegations-state.json")
	}
	if cfg.Advanced.PeersFile == "" {
		cfg.Advanced.PeersFile = filepath.Join(cfg.Advanced.DataDir, "peers.json")
	}
	if cfg.Advanced.AlertStateFile == "" {
		cfg.Advanced.AlertStateFile = filepath.Join(cfg.Advanced.DataDir, "alerts-state.json")
	}
}

func loadOrCreateValidatorKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("validator.key_file must be set when validator.enabled is true")
	}

	if key, err := crypto.LoadECDSA(path); err == nil {
		return key, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate validator key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("save validator key: %w", err)
	}

	logger.Info("INIT", "Generated new validator key at %s", path)
	return key, nil
}
