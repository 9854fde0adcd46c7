// Package rpc is the RPC surface (spec.md §6) over components A-F: a
// node-side query surface (listvalidators, getvalidator, ...), a
// submission surface wallets use to post signed requests
// (registervalidator, delegatestake, ...), and the gossip receiving side
// the Heartbeat Manager needs from sibling nodes (submitHeartbeat,
// submitRegistration). Every method maps component Reasons to
// corerr.RPCError at this boundary; no Go error crosses into component
// code.
package rpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/nucash-mining/WATTx-testnet/internal/corerr"
	"github.com/nucash-mining/WATTx-testnet/internal/delegation"
	"github.com/nucash-mining/WATTx-testnet/internal/heartbeatmgr"
	"github.com/nucash-mining/WATTx-testnet/internal/logger"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
	"github.com/nucash-mining/WATTx-testnet/internal/wire"
)

// ValidatorView is the JSON shape returned for a single validator, folding
// in trust-tier info the same way the original's listvalidators/getvalidator
// RPCs do.
type ValidatorView struct {
	ValidatorID      string `json:"validatorId"`
	Stake            uint64 `json:"stake"`
	Delegated        uint64 `json:"delegated"`
	TotalStake       uint64 `json:"totalStake"`
	FeeRateBps       uint32 `json:"feeRate"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	RegistrationHt   uint64 `json:"registrationHeight"`
	DelegatorCount   uint32 `json:"delegatorCount"`
	TrustTier        string `json:"trustTier,omitempty"`
	UptimePermille   uint32 `json:"uptimePermille,omitempty"`
	RewardMultiplier uint32 `json:"rewardMultiplier,omitempty"`
}

// DelegationView is the JSON shape for one delegation record.
type DelegationView struct {
	DelegationID   string `json:"delegationId"`
	DelegatorID    string `json:"delegatorId"`
	ValidatorID    string `json:"validatorId"`
	Amount         uint64 `json:"amount"`
	Status         string `json:"status"`
	PendingRewards uint64 `json:"pendingRewards"`
}

// ValidatorStats is getvalidatorstats's result shape.
type ValidatorStats struct {
	TotalValidators  int    `json:"totalValidators"`
	ActiveValidators int    `json:"activeValidators"`
	TotalStaked      uint64 `json:"totalStaked"`
	TotalDelegated   uint64 `json:"totalDelegated"`
	TotalDelegations int    `json:"totalDelegations"`
	BronzeCount      int    `json:"bronzeCount"`
	SilverCount      int    `json:"silverCount"`
	GoldCount        int    `json:"goldCount"`
	PlatinumCount    int    `json:"platinumCount"`
}

// TrustTierInfo is gettrusttierinfo's result shape.
type TrustTierInfo struct {
	Thresholds        map[string]uint32 `json:"thresholds"`
	Multipliers       map[string]uint32 `json:"multipliers"`
	MinValidatorStake uint64            `json:"minValidatorStake"`
	HeartbeatInterval uint64            `json:"heartbeatInterval"`
}

// Service implements the RPC surface, reflected over go-ethereum's rpc
// package the way the teacher's node relies on that module's wider
// surface (ethclient, rpc.Client) rather than hand-rolling a JSON-RPC
// codec.
type Service struct {
	params     params.Params
	registry   *validators.Registry
	trust      *trust.Engine
	ledger     *delegation.Ledger
	heartbeats *heartbeatmgr.Manager
}

// NewService wires the RPC surface to the live component instances.
func NewService(p params.Params, registry *validators.Registry, trustEngine *trust.Engine, ledger *delegation.Ledger, hb *heartbeatmgr.Manager) *Service {
	return &Service{params: p, registry: registry, trust: trustEngine, ledger: ledger, heartbeats: hb}
}

func (s *Service) view(e validators.Entry) ValidatorView {
	v := ValidatorView{
		ValidatorID:    e.ValidatorID.Hex(),
		Stake:          e.SelfStake,
		Delegated:      e.TotalDelegated,
		TotalStake:     e.TotalStake(),
		FeeRateBps:     e.PoolFeeBps,
		Name:           e.Name,
		Status:         e.Status.String(),
		RegistrationHt: e.RegistrationHeight,
		DelegatorCount: e.DelegatorCount,
	}
	if info, ok := s.trust.Get(e.ValidatorID); ok {
		v.TrustTier = info.Tier(s.params).String()
		v.UptimePermille = info.UptimeRatio()
		v.RewardMultiplier = info.RewardMultiplier(s.params)
	}
	return v
}

// ListValidators implements listvalidators. A maxFeeBps >= 0 wins and lists
// Active validators at or under that fee, cheapest first; otherwise
// activeOnly lists Active validators in no particular order, and the default
// lists Active validators by total stake, descending. No mode lists
// validators in any other status.
func (s *Service) ListValidators(maxFeeBps int64, activeOnly bool) []ValidatorView {
	var entries []validators.Entry
	switch {
	case maxFeeBps >= 0:
		entries = s.registry.ListByMaxFee(uint32(maxFeeBps))
	case activeOnly:
		entries = s.registry.ListActive()
	default:
		entries = s.registry.ListByStake()
	}
	out := make([]ValidatorView, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.view(e))
	}
	return out
}

// GetValidator implements getvalidator.
func (s *Service) GetValidator(validatorID common.Address) (ValidatorView, error) {
	e, ok := s.registry.Get(validatorID)
	if !ok {
		return ValidatorView{}, corerr.ToRPCError(corerr.UnknownValidator)
	}
	return s.view(e), nil
}

// GetValidatorStats implements getvalidatorstats.
func (s *Service) GetValidatorStats() ValidatorStats {
	total, active := s.registry.Count()
	stats := ValidatorStats{TotalValidators: total, ActiveValidators: active}

	for _, e := range s.registry.ListActive() {
		stats.TotalStaked += e.SelfStake
		stats.TotalDelegated += e.TotalDelegated
		if info, ok := s.trust.Get(e.ValidatorID); ok {
			switch info.Tier(s.params) {
			case trust.Bronze:
				stats.BronzeCount++
			case trust.Silver:
				stats.SilverCount++
			case trust.Gold:
				stats.GoldCount++
			case trust.Platinum:
				stats.PlatinumCount++
			}
		}
	}
	stats.TotalDelegations = s.ledger.GetActiveDelegationCount()
	return stats
}

func delegationView(e delegation.Entry) DelegationView {
	return DelegationView{
		DelegationID:   e.ID().Hex(),
		DelegatorID:    e.DelegatorID.Hex(),
		ValidatorID:    e.ValidatorID.Hex(),
		Amount:         e.Amount,
		Status:         e.Status.String(),
		PendingRewards: e.PendingRewards,
	}
}

// ListDelegations implements listdelegations. queryType is "delegator" or
// "validator", matching the original's two-mode query.
func (s *Service) ListDelegations(keyID common.Address, queryType string) []DelegationView {
	var entries []delegation.Entry
	if queryType == "validator" {
		entries = s.ledger.GetDelegationsForValidator(keyID)
	} else {
		entries = s.ledger.GetDelegationsForDelegator(keyID)
	}
	out := make([]DelegationView, 0, len(entries))
	for _, e := range entries {
		out = append(out, delegationView(e))
	}
	return out
}

// GetPendingRewards implements getpendingrewards.
func (s *Service) GetPendingRewards(delegatorID common.Address) uint64 {
	return s.ledger.GetPendingRewardsForDelegator(delegatorID)
}

// GetTrustTierInfo implements gettrusttierinfo.
func (s *Service) GetTrustTierInfo() TrustTierInfo {
	th := s.params.TierThresholds()
	mu := s.params.TierMultipliers()
	return TrustTierInfo{
		Thresholds: map[string]uint32{
			"bronze": th[trust.Bronze], "silver": th[trust.Silver],
			"gold": th[trust.Gold], "platinum": th[trust.Platinum],
		},
		Multipliers: map[string]uint32{
			"bronze": mu[trust.Bronze], "silver": mu[trust.Silver],
			"gold": mu[trust.Gold], "platinum": mu[trust.Platinum],
		},
		MinValidatorStake: s.params.MinValidatorStake,
		HeartbeatInterval: s.params.HeartbeatInterval,
	}
}

// RegisterValidator implements registervalidator: the wallet layer signs a
// ValidatorRegistration and posts it here, instead of this core owning key
// material directly (the original's RPC builds the message inside the
// wallet process; here the wallet is out of process).
func (s *Service) RegisterValidator(reg wire.ValidatorRegistration) (ValidatorView, error) {
	if !reg.Verify() {
		return ValidatorView{}, corerr.ToRPCError(corerr.InvalidSignature)
	}
	if reg.StakeAmount < 0 || reg.PoolFeeBps < 0 {
		return ValidatorView{}, corerr.ToRPCError(corerr.StakeTooLow)
	}
	validatorID, err := wire.ValidatorIDFromPubKey(reg.PubKey)
	if err != nil {
		return ValidatorView{}, &corerr.RPCError{Code: corerr.InvalidParameter, Message: err.Error()}
	}

	reason, ok := s.registry.Register(validators.Entry{
		ValidatorID:        validatorID,
		PubKey:             reg.PubKey,
		SelfStake:          uint64(reg.StakeAmount),
		PoolFeeBps:         uint32(reg.PoolFeeBps),
		RegistrationHeight: uint64(reg.RegistrationHeight),
	})
	if !ok {
		return ValidatorView{}, corerr.ToRPCError(reason)
	}
	s.trust.RegisterValidator(validatorID, uint64(reg.StakeAmount), uint32(reg.PoolFeeBps), uint64(reg.RegistrationHeight))

	e, _ := s.registry.Get(validatorID)
	return s.view(e), nil
}

// SetValidatorPoolFee implements setvalidatorpoolfee over a signed
// ValidatorUpdate (Kind must be the fee-update kind).
func (s *Service) SetValidatorPoolFee(update wire.ValidatorUpdate) error {
	// The pubkey is looked up before ProcessUpdate, which holds the
	// registry's write lock while it calls verify.
	e, known := s.registry.Get(update.ValidatorID)
	verify := func(id common.Address, hash [32]byte, sig []byte) bool {
		return known && id == e.ValidatorID && len(e.PubKey) > 0 && update.Verify(e.PubKey)
	}
	reason, ok := s.registry.ProcessUpdate(validators.Update{
		ValidatorID:  update.ValidatorID,
		Kind:         validators.UpdateKind(update.Kind),
		NewValue:     update.NewValue,
		NewName:      update.NewName,
		UpdateHeight: uint64(update.UpdateHeight),
		Signature:    update.Signature,
	}, verify, update.HashForSigning())
	if !ok {
		return corerr.ToRPCError(reason)
	}
	s.trust.UpdatePoolFee(update.ValidatorID, uint32(update.NewValue))
	return nil
}

// DelegateStake implements delegatestake over a signed DelegationRequest.
func (s *Service) DelegateStake(req wire.DelegationRequest, outpointHash common.Hash, outpointIndex uint32) (DelegationView, error) {
	if !req.Verify() {
		return DelegationView{}, corerr.ToRPCError(corerr.InvalidSignature)
	}
	if req.Amount < 0 {
		return DelegationView{}, corerr.ToRPCError(corerr.AmountTooLow)
	}
	reason, ok := s.ledger.ProcessDelegation(req.DelegatorID, req.ValidatorID, uint64(req.Amount), uint64(req.Height), delegation.Outpoint{Hash: outpointHash, Index: outpointIndex})
	if !ok {
		return DelegationView{}, corerr.ToRPCError(reason)
	}
	e := delegation.Entry{DelegatorID: req.DelegatorID, ValidatorID: req.ValidatorID, DelegationHeight: uint64(req.Height)}
	return delegationView(e), nil
}

// UndelegateStake implements undelegatestake over a signed
// UndelegationRequest.
func (s *Service) UndelegateStake(req wire.UndelegationRequest, pubkey []byte) error {
	if !req.Verify(pubkey) {
		return corerr.ToRPCError(corerr.InvalidSignature)
	}
	if req.Amount < 0 {
		return corerr.ToRPCError(corerr.AmountTooLow)
	}
	reason, ok := s.ledger.ProcessUndelegation(req.DelegatorID, req.ValidatorID, uint64(req.Amount), uint64(req.Height))
	if !ok {
		return corerr.ToRPCError(reason)
	}
	return nil
}

// ClaimRewards implements claimrewards over a signed RewardClaimRequest; a
// zero ValidatorID claims across every validator the delegator delegated
// to (spec.md Open Question #4).
func (s *Service) ClaimRewards(req wire.RewardClaimRequest, pubkey []byte) (uint64, error) {
	if !req.Verify(pubkey) {
		return 0, corerr.ToRPCError(corerr.InvalidSignature)
	}
	return s.ledger.ProcessRewardClaim(req.DelegatorID, req.ValidatorID, uint64(req.Height)), nil
}

// GetMyDelegations implements getmydelegations.
func (s *Service) GetMyDelegations(delegatorID common.Address) []DelegationView {
	entries := s.ledger.GetDelegationsForDelegator(delegatorID)
	out := make([]DelegationView, 0, len(entries))
	for _, e := range entries {
		out = append(out, delegationView(e))
	}
	return out
}

// GetMyValidator implements getmyvalidator.
func (s *Service) GetMyValidator(validatorID common.Address) (ValidatorView, error) {
	return s.GetValidator(validatorID)
}

// SubmitHeartbeat is the gossip receiving surface's wattx_submitHeartbeat
// method (SPEC_FULL.md §2 domain stack). The signing pubkey is never taken
// from the wire message: per spec.md §4.F/§5, F verifies a heartbeat
// against the pubkey stored in the Validator Registry (B) for
// hb.ValidatorID, never a caller-supplied key, so an unknown validator id
// is a hard verification failure rather than a skipped check.
func (s *Service) SubmitHeartbeat(hb wire.Heartbeat) bool {
	entry, ok := s.registry.Get(hb.ValidatorID)
	if !ok {
		return false
	}
	return s.heartbeats.ProcessHeartbeat(hb, entry.PubKey)
}

// SubmitRegistration is the gossip receiving surface's
// wattx_submitRegistration method.
func (s *Service) SubmitRegistration(reg wire.ValidatorRegistration) bool {
	return s.heartbeats.ProcessValidatorRegistration(reg)
}

// SubmitValidatorList is the gossip receiving surface's bulk-sync method
// (original's ValidatorList, SPEC_FULL.md §3).
func (s *Service) SubmitValidatorList(list []trust.Info) {
	s.heartbeats.ProcessValidatorList(list)
}

// Server hosts Service over HTTP JSON-RPC using go-ethereum's rpc package,
// the same module the teacher already depends on for ethclient/rpc.Client
// dialing.
type Server struct {
	httpServer *http.Server
	rpcServer  *gethrpc.Server
}

// NewServer builds an HTTP JSON-RPC server exposing svc under the "wattx"
// namespace.
func NewServer(addr string, svc *Service) (*Server, error) {
	rpcServer := gethrpc.NewServer()
	if err := rpcServer.RegisterName("wattx", svc); err != nil {
		return nil, fmt.Errorf("rpc: register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		rpcServer:  rpcServer,
	}, nil
}

// Serve blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC", "Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.rpcServer.Stop()
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
