package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nucash-mining/WATTx-testnet/internal/params"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Validator ValidatorConfig `yaml:"validator"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Advanced  AdvancedConfig  `yaml:"advanced"`
}

// ============================================================
// NETWORK CONFIG
// ============================================================

// NetworkConfig names this node's chain identity and the sibling
// validator-core endpoints the gossip client dials (spec.md §9 "cyclic
// references" network-layer callback).
type NetworkConfig struct {
	ChainID string       `yaml:"chain_id"`
	Peers   []PeerConfig `yaml:"peers"`
}

type PeerConfig struct {
	Label string `yaml:"label"`
	Addr  string `yaml:"addr"`
}

// ============================================================
// CONSENSUS CONFIG (component A - spec.md §4.A/§6)
// ============================================================

// ConsensusConfig is the YAML form of the Consensus Parameter Binding. Any
// field left at its zero value falls back to params.Default()'s primary
// network value when ToParams runs, except validator_maturity, which falls
// back to delegation_maturity first.
type ConsensusConfig struct {
	MinValidatorStake uint64 `yaml:"min_validator_stake"`
	HeartbeatInterval uint64 `yaml:"heartbeat_interval"`
	UptimeWindow      uint64 `yaml:"uptime_window"`

	BronzeUptimeThreshold   uint32 `yaml:"bronze_uptime_threshold"`
	SilverUptimeThreshold   uint32 `yaml:"silver_uptime_threshold"`
	GoldUptimeThreshold     uint32 `yaml:"gold_uptime_threshold"`
	PlatinumUptimeThreshold uint32 `yaml:"platinum_uptime_threshold"`

	BronzeRewardMultiplier   uint32 `yaml:"bronze_reward_multiplier"`
	SilverRewardMultiplier   uint32 `yaml:"silver_reward_multiplier"`
	GoldRewardMultiplier     uint32 `yaml:"gold_reward_multiplier"`
	PlatinumRewardMultiplier uint32 `yaml:"platinum_reward_multiplier"`

	MinDelegationAmount       uint64 `yaml:"min_delegation_amount"`
	DelegationMaturity        uint64 `yaml:"delegation_maturity"`
	ValidatorMaturity         uint64 `yaml:"validator_maturity"`
	UnbondingPeriod           uint64 `yaml:"unbonding_period"`
	DelegationUnbondingPeriod uint64 `yaml:"delegation_unbonding_period"`
	DefaultJailBlocks         uint64 `yaml:"default_jail_blocks"`

	MinPoolFeeBps         uint32 `yaml:"min_pool_fee_bps"`
	MaxPoolFeeBps         uint32 `yaml:"max_pool_fee_bps"`
	MaxValidatorNameBytes int    `yaml:"max_validator_name_bytes"`
}

// ToParams builds the immutable params.Params bundle injected into the
// registry, trust engine, and ledger, defaulting every unset field to the
// primary-network value named in spec.md §6.
func (c ConsensusConfig) ToParams() params.Params {
	d := params.Default()

	p := params.Params{
		MinValidatorStake:        orUint64(c.MinValidatorStake, d.MinValidatorStake),
		HeartbeatInterval:        orUint64(c.HeartbeatInterval, d.HeartbeatInterval),
		UptimeWindow:             orUint64(c.UptimeWindow, d.UptimeWindow),
		BronzeUptimeThreshold:    orUint32(c.BronzeUptimeThreshold, d.BronzeUptimeThreshold),
		SilverUptimeThreshold:    orUint32(c.SilverUptimeThreshold, d.SilverUptimeThreshold),
		GoldUptimeThreshold:      orUint32(c.GoldUptimeThreshold, d.GoldUptimeThreshold),
		PlatinumUptimeThreshold:  orUint32(c.PlatinumUptimeThreshold, d.PlatinumUptimeThreshold),
		BronzeRewardMultiplier:   orUint32(c.BronzeRewardMultiplier, d.BronzeRewardMultiplier),
		SilverRewardMultiplier:   orUint32(c.SilverRewardMultiplier, d.SilverRewardMultiplier),
		GoldRewardMultiplier:     orUint32(c.GoldRewardMultiplier, d.GoldRewardMultiplier),
		PlatinumRewardMultiplier: orUint32(c.PlatinumRewardMultiplier, d.PlatinumRewardMultiplier),
		MinDelegationAmount:       orUint64(c.MinDelegationAmount, d.MinDelegationAmount),
		DelegationMaturity:        orUint64(c.DelegationMaturity, d.DelegationMaturity),
		ValidatorMaturity:         orUint64(c.ValidatorMaturity, orUint64(c.DelegationMaturity, d.ValidatorMaturity)),
		UnbondingPeriod:           orUint64(c.UnbondingPeriod, d.UnbondingPeriod),
		DelegationUnbondingPeriod: orUint64(c.DelegationUnbondingPeriod, d.DelegationUnbondingPeriod),
		DefaultJailBlocks:         orUint64(c.DefaultJailBlocks, d.DefaultJailBlocks),
		MinPoolFeeBps:             c.MinPoolFeeBps,
		MaxPoolFeeBps:             orUint32(c.MaxPoolFeeBps, d.MaxPoolFeeBps),
		MaxValidatorNameBytes:     orInt(c.MaxValidatorNameBytes, d.MaxValidatorNameBytes),
	}
	return p
}

func orUint64(v, fallback uint64) uint64 {
	if v == 0 {
		return fallback
	}
	return v
}

func orUint32(v, fallback uint32) uint32 {
	if v == 0 {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// ============================================================
// VALIDATOR CONFIG
// ============================================================

// ValidatorConfig configures whether this node owns a validator key and
// broadcasts heartbeats (component F's SetValidatorKey).
type ValidatorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyFile    string `yaml:"key_file"`
	Name       string `yaml:"name"`
	PoolFeeBps uint32 `yaml:"pool_fee_bps"`
}

// ============================================================
// ALERTS CONFIG
// ============================================================

type AlertsConfig struct {
	Channels AlertChannels `yaml:"channels"`
	Rules    AlertRules    `yaml:"rules"`
}

type AlertChannels struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type PagerDutyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Severity string `yaml:"severity"`
}

// AlertRules retargets the teacher's node/RPC-health rules onto this core's
// own signals: jailing, heartbeat-measured downtime, and trust-tier drops
// (DESIGN.md's internal/alerts entry).
type AlertRules struct {
	ValidatorJailed      AlertRule       `yaml:"validator_jailed"`
	ValidatorDown        AlertRule       `yaml:"validator_down"`
	ValidatorTierDropped AlertRule       `yaml:"validator_tier_dropped"`
	ValidatorUptime      AlertUptimeRule `yaml:"validator_uptime"`
}

type AlertRule struct {
	FireAfter    string `yaml:"fire_after"`
	ResolveAfter string `yaml:"resolve_after"`
}

type AlertUptimeRule struct {
	Threshold string `yaml:"threshold"`
}

// ============================================================
// ADVANCED CONFIG
// ============================================================

type AdvancedConfig struct {
	DataDir             string           `yaml:"data_dir"`
	ValidatorStateFile  string           `yaml:"validator_state_file"`
	DelegationStateFile string           `yaml:"delegation_state_file"`
	PeersFile           string           `yaml:"peers_file"`
	AlertStateFile      string           `yaml:"alert_state_file"`
	RPCListenAddr       string           `yaml:"rpc_listen_addr"`
	ReloadInterval      string           `yaml:"reload_interval"`
	DashboardPort       int              `yaml:"dashboard_port"`
	Prometheus          PrometheusConfig `yaml:"prometheus"`
	HideLogs            bool             `yaml:"hide_logs"`
}

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix"`
	Port          int    `yaml:"port"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ParsePercent parses percent strings like "90%", "60%"
func ParsePercent(s string) int {
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(s, "%")
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

// Enabled returns true if the alert rule is enabled (has fire_after set)
func (r AlertRule) Enabled() bool {
	return r.FireAfter != ""
}

// FireDuration returns the fire_after duration
func (r AlertRule) FireDuration() time.Duration {
	return ParseDuration(r.FireAfter)
}

// ResolveDuration returns the resolve_after duration
func (r AlertRule) ResolveDuration() time.Duration {
	return ParseDuration(r.ResolveAfter)
}

// Enabled returns true if the uptime rule is enabled (has threshold set)
func (r AlertUptimeRule) Enabled() bool {
	return r.Threshold != ""
}

// ThresholdPercent returns the threshold as an integer percentage
func (r AlertUptimeRule) ThresholdPercent() int {
	return ParsePercent(r.Threshold)
}

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Advanced.ReloadInterval == "" {
		cfg.Advanced.ReloadInterval = "15s"
	}
	if cfg.Advanced.RPCListenAddr == "" {
		cfg.Advanced.RPCListenAddr = "127.0.0.1:18889"
	}
	if cfg.Advanced.DashboardPort == 0 {
		cfg.Advanced.DashboardPort = 8888
	}
	if cfg.Advanced.Prometheus.Port == 0 {
		cfg.Advanced.Prometheus.Port = 9999
	}
	if cfg.Advanced.Prometheus.MetricsPrefix == "" {
		cfg.Advanced.Prometheus.MetricsPrefix = "wattx"
	}

	return &cfg, nil
}
