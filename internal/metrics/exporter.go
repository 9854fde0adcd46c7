package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nucash-mining/WATTx-testnet/internal/delegation"
	"github.com/nucash-mining/WATTx-testnet/internal/gossip"
	"github.com/nucash-mining/WATTx-testnet/internal/params"
	"github.com/nucash-mining/WATTx-testnet/internal/trust"
	"github.com/nucash-mining/WATTx-testnet/internal/validators"
)

type Exporter struct {
	chainID       string
	metricsPrefix string
	params        params.Params
	registry      *validators.Registry
	trust         *trust.Engine
	ledger        *delegation.Ledger
	gossip        *gossip.Client

	validatorCount    *prometheus.GaugeVec
	selfStake         *prometheus.GaugeVec
	delegatedStake    *prometheus.GaugeVec
	totalStake        *prometheus.GaugeVec
	poolFee           *prometheus.GaugeVec
	status            *prometheus.GaugeVec
	uptime            *prometheus.GaugeVec
	tier              *prometheus.GaugeVec
	rewardMultiplier  *prometheus.GaugeVec
	missedCheckIns    *prometheus.GaugeVec
	delegatorCount    *prometheus.GaugeVec
	activeDelegations *prometheus.GaugeVec
	pendingRewards    *prometheus.GaugeVec
	peerHealthy       *prometheus.GaugeVec
	peerLatency       *prometheus.GaugeVec
}

func NewExporter(chainID, metricsPrefix string, p params.Params, reg *validators.Registry, trustEngine *trust.Engine, ledger *delegation.Ledger, gossipClient *gossip.Client) *Exporter {
	prefix := metricsPrefix
	if prefix == "" {
		prefix = "wattx"
	}

	e := &Exporter{
		chainID:       chainID,
		metricsPrefix: prefix,
		params:        p,
		registry:      reg,
		trust:         trustEngine,
		ledger:        ledger,
		gossip:        gossipClient,
		validatorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_count",
			Help: "Number of validators by lifecycle status",
		}, []string{"chain_id", "status"}),
		selfStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_self_stake",
			Help: "Validator self-stake in base units",
		}, []string{"chain_id", "validator", "name"}),
		delegatedStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_delegated_stake",
			Help: "Total amount delegated to a validator, in base units",
		}, []string{"chain_id", "validator", "name"}),
		totalStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_total_stake",
			Help: "Self-stake plus delegated stake, in base units",
		}, []string{"chain_id", "validator", "name"}),
		poolFee: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_pool_fee_bps",
			Help: "Validator pool fee in basis points",
		}, []string{"chain_id", "validator", "name"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_status",
			Help: "Validator lifecycle status code (0=pending,1=active,2=inactive,3=jailed,4=unbonding)",
		}, []string{"chain_id", "validator", "name"}),
		uptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_uptime_permille",
			Help: "Validator heartbeat uptime ratio, in tenths-of-percent",
		}, []string{"chain_id", "validator", "name"}),
		tier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_trust_tier",
			Help: "Validator trust tier ordinal (0=none,1=bronze,2=silver,3=gold,4=platinum)",
		}, []string{"chain_id", "validator", "name"}),
		rewardMultiplier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_reward_multiplier_percent",
			Help: "Validator reward multiplier, percent (100=1.0x)",
		}, []string{"chain_id", "validator", "name"}),
		missedCheckIns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_missed_checkins_total",
			Help: "Total missed heartbeat check-ins",
		}, []string{"chain_id", "validator", "name"}),
		delegatorCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_delegator_count",
			Help: "Number of distinct delegators with an active delegation",
		}, []string{"chain_id", "validator", "name"}),
		activeDelegations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_delegations_active",
			Help: "Number of active delegations network-wide",
		}, []string{"chain_id"}),
		pendingRewards: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_pending_rewards",
			Help: "Sum of pending (unclaimed) delegator rewards for a validator, in base units",
		}, []string{"chain_id", "validator", "name"}),
		peerHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_peer_healthy",
			Help: "Gossip peer health (1=healthy, 0=down)",
		}, []string{"chain_id", "peer"}),
		peerLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_peer_latency_seconds",
			Help: "Last observed gossip peer dial latency",
		}, []string{"chain_id", "peer"}),
	}

	prometheus.MustRegister(
		e.validatorCount, e.selfStake, e.delegatedStake, e.totalStake, e.poolFee,
		e.status, e.uptime, e.tier, e.rewardMultiplier, e.missedCheckIns,
		e.delegatorCount, e.activeDelegations, e.pendingRewards, e.peerHealthy, e.peerLatency,
	)

	return e
}

func (e *Exporter) Start(ctx context.Context) {}

// Update refreshes every gauge from the current state of the registry,
// trust engine, ledger, and gossip client. Called once per height alongside
// ProcessBlock on the core components.
func (e *Exporter) Update() {
	e.update()
}

func (e *Exporter) update() {
	total, active := e.registry.Count()
	e.validatorCount.With(prometheus.Labels{"chain_id": e.chainID, "status": "total"}).Set(float64(total))
	e.validatorCount.With(prometheus.Labels{"chain_id": e.chainID, "status": "active"}).Set(float64(active))

	for _, v := range e.registry.All() {
		labels := prometheus.Labels{"chain_id": e.chainID, "validator": v.ValidatorID.Hex(), "name": v.Name}

		e.selfStake.With(labels).Set(float64(v.SelfStake))
		e.delegatedStake.With(labels).Set(float64(v.TotalDelegated))
		e.totalStake.With(labels).Set(float64(v.TotalStake()))
		e.poolFee.With(labels).Set(float64(v.PoolFeeBps))
		e.status.With(labels).Set(float64(v.Status))
		e.delegatorCount.With(labels).Set(float64(e.ledger.GetDelegatorCountForValidator(v.ValidatorID)))

		var pending uint64
		for _, d := range e.ledger.GetDelegationsForValidator(v.ValidatorID) {
			pending += d.PendingRewards
		}
		e.pendingRewards.With(labels).Set(float64(pending))

		if info, ok := e.trust.Get(v.ValidatorID); ok {
			e.uptime.With(labels).Set(float64(info.UptimeRatio()))
			e.tier.With(labels).Set(float64(info.Tier(e.params)))
			e.rewardMultiplier.With(labels).Set(float64(info.RewardMultiplier(e.params)))
			e.missedCheckIns.With(labels).Set(float64(info.MissedCheckIns))
		}
	}

	e.activeDelegations.With(prometheus.Labels{"chain_id": e.chainID}).Set(float64(e.ledger.GetActiveDelegationCount()))

	if e.gossip != nil {
		for _, p := range e.gossip.Peers() {
			status := p.GetStatus()
			peerLabels := prometheus.Labels{"chain_id": e.chainID, "peer": p.Config.Addr}
			healthyVal := 0.0
			if status.Healthy {
				healthyVal = 1.0
			}
			e.peerHealthy.With(peerLabels).Set(healthyVal)
			e.peerLatency.With(peerLabels).Set(status.Latency.Seconds())
		}
	}
}
