// Package corerr defines the typed rejection reasons the validator core
// returns instead of Go errors for expected, in-band failures (spec.md §7:
// "no exceptions cross component boundaries; all operations return
// structured success/failure"). A Reason is informational only — callers
// branch on it for logging/RPC mapping, never for control flow that would
// differ from "the operation did not happen."
package corerr

// Reason enumerates every rejection a core component can produce.
type Reason string

const (
	None Reason = ""

	// Validator Registry (component B)
	AlreadyRegistered  Reason = "already_registered"
	StakeTooLow        Reason = "stake_too_low"
	FeeOutOfRange      Reason = "fee_out_of_range"
	NameTooLong        Reason = "name_too_long"
	UnknownValidator   Reason = "unknown_validator"
	InvalidSignature   Reason = "invalid_signature"
	NotJailed          Reason = "not_jailed"
	JailNotExpired     Reason = "jail_not_expired"
	InvalidLifecycle   Reason = "invalid_lifecycle_transition"
	AmountExceedsStake Reason = "amount_exceeds_stake"
	Underflow          Reason = "underflow"

	// Trust Score Engine (component C)
	ValidatorInactive Reason = "validator_inactive"
	TooEarly          Reason = "too_early"

	// Delegation Ledger (component D)
	AmountTooLow        Reason = "amount_too_low"
	ValidatorNotEligible Reason = "validator_not_eligible"
	DuplicateDelegation Reason = "duplicate_delegation"
	NoMatchingDelegation Reason = "no_matching_delegation"

	// Peer Discovery Sink (component E)
	InvalidAddress Reason = "invalid_address"

	// Heartbeat Manager (component F)
	Replayed Reason = "replayed"

	// Cross-cutting
	InvariantViolation Reason = "invariant_violation"
	ResourceFailure    Reason = "resource_failure"
)

// RPCCode is the standard error code family the RPC boundary maps Reasons
// onto (spec.md §7: "RPC callers receive structured error reasons mapped to
// standard codes").
type RPCCode string

const (
	InvalidParameter RPCCode = "invalid_parameter"
	NotFound         RPCCode = "not_found"
	Internal         RPCCode = "internal"
)

// RPCError is returned by internal/rpc methods.
type RPCError struct {
	Code    RPCCode
	Reason  Reason
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Reason)
}

// ToRPCError maps a component Reason to the RPC boundary's error shape.
func ToRPCError(reason Reason) *RPCError {
	if reason == None {
		return nil
	}
	code := InvalidParameter
	switch reason {
	case UnknownValidator, NoMatchingDelegation:
		code = NotFound
	case InvariantViolation, ResourceFailure:
		code = Internal
	}
	return &RPCError{Code: code, Reason: reason}
}
