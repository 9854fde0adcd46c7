package alerts

import "time"

type RuleID string

const (
	RuleValidatorJailed      RuleID = "validator_jailed"
	RuleValidatorDowntime    RuleID = "validator_downtime"
	RuleValidatorTierDropped RuleID = "validator_tier_dropped"
	RuleValidatorUptime      RuleID = "validator_uptime"
)

type SubjectType string

const (
	SubjectValidator SubjectType = "validator"
)

type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

type AlertEvent struct {
	Key         string
	RuleID      RuleID
	SubjectType SubjectType
	SubjectID   string
	SubjectName string
	ChainID     string
	Status      AlertStatus
	Severity    string
	Title       string
	Message     string
	Details     []AlertDetail
	Timestamp   time.Time
}

type AlertDetail struct {
	Label string
	Value string
}
