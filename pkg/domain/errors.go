package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrNotFound      = errors.New("not found")
	ErrConnectivity  = errors.New("connectivity error")
	ErrRuleViolation = errors.New("rule violation")
)

// AuthorizationError is returned when the caller lacks ownership or the role
// a transition requires.
type AuthorizationError struct {
	Operation string
	Caller    Address
	Required  string
}

func (e AuthorizationError) Error() string {
	caller := string(e.Caller)
	if caller == "" {
		caller = "<anonymous>"
	}
	return fmt.Sprintf("%s: caller %s is not %s", e.Operation, caller, e.Required)
}

// Is matches ErrAuthorization.
func (e AuthorizationError) Is(target error) bool { return target == ErrAuthorization }

// StateError is returned when a product is not in the stage an operation requires.
type StateError struct {
	Operation string
	ProductID uint64
	Current   Stage
	Required  Stage
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: product %d is %s, requires %s", e.Operation, e.ProductID, e.Current, e.Required)
}

// Is matches ErrState.
func (e StateError) Is(target error) bool { return target == ErrState }

// NotFoundError is returned when an identifier lies outside the allocated
// range of its collection. Key is used for non-numeric identifiers such as
// network names; Available optionally lists the keys that do exist.
type NotFoundError struct {
	Entity    EntityType
	ID        uint64
	Key       string
	Available []string
}

func (e NotFoundError) Error() string {
	ident := e.Key
	if ident == "" {
		ident = fmt.Sprint(e.ID)
	}
	msg := fmt.Sprintf("%s %s not found", e.Entity, ident)
	if len(e.Available) > 0 {
		msg += " (available: " + strings.Join(e.Available, ", ") + ")"
	}
	return msg
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConnectivityError is surfaced by collaborators when the environment hosting
// a ledger cannot be reached. The core never returns it.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot reach %s", e.Target)
	}
	return fmt.Sprintf("cannot reach %s: %v", e.Target, e.Err)
}

// Unwrap exposes the transport failure.
func (e ConnectivityError) Unwrap() error { return e.Err }

// Is matches ErrConnectivity.
func (e ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	return "rule violations: " + strings.Join(msgs, "; ")
}

// Is matches ErrRuleViolation.
func (e RuleViolationError) Is(target error) bool { return target == ErrRuleViolation }

// Error kinds reported by ErrorKind.
const (
	KindAuthorization = "authorization"
	KindState         = "state"
	KindNotFound      = "not_found"
	KindConnectivity  = "connectivity"
	KindRuleViolation = "rule_violation"
	KindInternal      = "internal"
)

// ErrorKind classifies err into a stable kind string. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRuleViolation):
		return KindRuleViolation
	default:
		return KindInternal
	}
}

// SentinelForKind returns the sentinel matching a kind string, or nil.
func SentinelForKind(kind string) error {
	switch kind {
	case KindAuthorization:
		return ErrAuthorization
	case KindState:
		return ErrState
	case KindNotFound:
		return ErrNotFound
	case KindConnectivity:
		return ErrConnectivity
	case KindRuleViolation:
		return ErrRuleViolation
	}
	return nil
}
