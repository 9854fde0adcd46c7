package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nucash-mining/WATTx-testnet/internal/config"
	"github.com/nucash-mining/WATTx-testnet/internal/delegation"
	"github.com/nucash-mining/WATTx-testnet/internal/gossip"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/peerdiscovery"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/utils"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

//go:embed static/*
var staticFS embed.FS

// Server pushes a live JSON view of the validator set, trust tiers,
// delegations, and gossip peers to connected websocket clients, and exposes
// the same view over a plain REST endpoint for the bundled static UI.
type Server struct {
	cfg      config.Config
	params   params.Params
	registry *validators.Registry
	trust    *trust.Engine
	ledger   *delegation.Ledger
	peers    *peerdiscovery.Sink
	gossip   *gossip.Client

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logChan   chan logger.LogEntry
	mu        sync.Mutex
}

func NewServer(cfg config.Config, p params.Params, reg *validators.Registry, trustEngine *trust.Engine, ledger *delegation.Ledger, peers *peerdiscovery.Sink, gossipClient *gossip.Client) *Server {
	s := &Server{
		cfg:      cfg,
		params:   p,
		registry: reg,
		trust:    trustEngine,
		ledger:   ledger,
		peers:    peers,
		gossip:   gossipClient,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
		logChan:   make(chan logger.LogEntry, 100),
	}

	logger.SetLogChannel(s.logChan)

	return s
}

func (s *Server) Start(ctx context.Context) {
	if s.cfg.Advanced.DashboardPort > 0 {
		go s.handleMessages()
		go s.handleLogs()
		go s.runServer(ctx, s.cfg.Advanced.DashboardPort, func(mux *http.ServeMux) {
			mux.HandleFunc("/api/state", s.handleState)
			mux.HandleFunc("/ws", s.handleConnections)

			fileServer := http.FileServer(http.FS(staticFS))
			mux.Handle("/static/", fileServer)

			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				content, _ := staticFS.ReadFile("static/index.html")
				w.Header().Set("Content-Type", "text/html")
				w.Write(content)
			})

			if s.cfg.Advanced.Prometheus.Port > 0 && s.cfg.Advanced.Prometheus.Port == s.cfg.Advanced.DashboardPort {
				mux.Handle("/metrics", promhttp.Handler())
			}
		})
	}

	if s.cfg.Advanced.Prometheus.Port > 0 && s.cfg.Advanced.Prometheus.Port != s.cfg.Advanced.DashboardPort {
		go s.runServer(ctx, s.cfg.Advanced.Prometheus.Port, func(mux *http.ServeMux) {
			mux.Handle("/metrics", promhttp.Handler())
		})
	}
}

func (s *Server) runServer(ctx context.Context, port int, setup func(*http.ServeMux)) {
	mux := http.NewServeMux()
	setup(mux)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("DASH", "HTTP server listening on %s", addr)

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
		logger.Info("DASH", "HTTP server shutting down")
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("DASH", "HTTP server failed on %s: %v", addr, err)
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "WS upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[ws] = true
	s.mu.Unlock()

	if state, err := s.getStateJSON(); err == nil {
		ws.WriteMessage(websocket.TextMessage, state)
	}

	configMsg := map[string]interface{}{
		"type":      "config",
		"hide_logs": s.cfg.Advanced.HideLogs,
	}
	if bytes, err := json.Marshal(configMsg); err == nil {
		ws.WriteMessage(websocket.TextMessage, bytes)
	}
}

func (s *Server) handleMessages() {
	for msg := range s.broadcast {
		s.mu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) handleLogs() {
	for entry := range s.logChan {
		type logMessage struct {
			Type      string `json:"type"`
			Timestamp string `json:"timestamp"`
			Level     string `json:"level"`
			Component string `json:"component"`
			Message   string `json:"message"`
		}

		msg := logMessage{
			Type:      "log",
			Timestamp: entry.Timestamp,
			Level:     entry.Level,
			Component: entry.Component,
			Message:   entry.Message,
		}

		bytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for client := range s.clients {
			client.WriteMessage(websocket.TextMessage, bytes)
		}
		s.mu.Unlock()
	}
}

// BroadcastUpdate pushes the current state to every connected client.
func (s *Server) BroadcastUpdate() {
	if s.cfg.Advanced.DashboardPort == 0 {
		return
	}

	state, err := s.getStateJSON()
	if err != nil {
		logger.Warn("DASH", "Failed to marshal state for broadcast: %v", err)
		return
	}
	s.broadcast <- state
}

type validatorDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	SelfStake      string `json:"self_stake"`
	DelegatedStake string `json:"delegated_stake"`
	TotalStake     string `json:"total_stake"`
	PoolFeeBps     uint32 `json:"pool_fee_bps"`
	DelegatorCount uint32 `json:"delegator_count"`
	Tier           string `json:"tier"`
	UptimePermille uint32 `json:"uptime_permille"`
	RewardMult     uint32 `json:"reward_multiplier_percent"`
	MissedCheckIns uint64 `json:"missed_checkins"`
	LastAddress    string `json:"last_address"`
	LivenessBitmap []bool `json:"liveness_bitmap,omitempty"`
}

type delegationDTO struct {
	ID          string `json:"id"`
	Delegator   string `json:"delegator"`
	Validator   string `json:"validator"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	PendingGain string `json:"pending_rewards"`
}

type peerDTO struct {
	Addr    string `json:"addr"`
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency"`
}

type stateDTO struct {
	ChainID          string          `json:"chain_id"`
	Validators       []validatorDTO  `json:"validators"`
	Delegations      []delegationDTO `json:"delegations"`
	Peers            []peerDTO       `json:"peers"`
	KnownPeerCount   int             `json:"known_peer_count"`
	ActiveDelegation int             `json:"active_delegation_count"`
}

func (s *Server) getStateJSON() ([]byte, error) {
	entries := s.registry.All()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ValidatorID.Hex() < entries[j].ValidatorID.Hex() })

	validatorDTOs := make([]validatorDTO, 0, len(entries))
	for _, v := range entries {
		dto := validatorDTO{
			ID:             v.ValidatorID.Hex(),
			Name:           v.Name,
			Status:         v.Status.String(),
			SelfStake:      utils.FormatBaseUnits(v.SelfStake),
			DelegatedStake: utils.FormatBaseUnits(v.TotalDelegated),
			TotalStake:     utils.FormatBaseUnits(v.TotalStake()),
			PoolFeeBps:     v.PoolFeeBps,
			DelegatorCount: v.DelegatorCount,
		}
		if info, ok := s.trust.Get(v.ValidatorID); ok {
			dto.Tier = info.Tier(s.params).String()
			dto.UptimePermille = info.UptimeRatio()
			dto.RewardMult = info.RewardMultiplier(s.params)
			dto.MissedCheckIns = info.MissedCheckIns
			dto.LastAddress = info.LastKnownAddress
			dto.LivenessBitmap, _ = s.trust.GetLivenessBitmap(v.ValidatorID)
		}
		validatorDTOs = append(validatorDTOs, dto)
	}

	allDelegations := s.ledger.All()
	delegationDTOs := make([]delegationDTO, 0, len(allDelegations))
	for _, d := range allDelegations {
		delegationDTOs = append(delegationDTOs, delegationDTO{
			ID:          d.ID().Hex(),
			Delegator:   d.DelegatorID.Hex(),
			Validator:   d.ValidatorID.Hex(),
			Amount:      utils.FormatBaseUnits(d.Amount),
			Status:      d.Status.String(),
			PendingGain: utils.FormatBaseUnits(d.PendingRewards),
		})
	}

	var peerDTOs []peerDTO
	if s.gossip != nil {
		for _, p := range s.gossip.Peers() {
			status := p.GetStatus()
			peerDTOs = append(peerDTOs, peerDTO{
				Addr:    p.Config.Addr,
				Healthy: status.Healthy,
				Latency: status.Latency.String(),
			})
		}
	}

	knownPeers := 0
	if s.peers != nil {
		knownPeers = s.peers.GetKnownPeerCount()
	}

	state := stateDTO{
		ChainID:          s.cfg.Network.ChainID,
		Validators:       validatorDTOs,
		Delegations:      delegationDTOs,
		Peers:            peerDTOs,
		KnownPeerCount:   knownPeers,
		ActiveDelegation: s.ledger.GetActiveDelegationCount(),
	}

	return json.Marshal(state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.getStateJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(state)
}
