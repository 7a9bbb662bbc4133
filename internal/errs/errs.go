// Package errs defines the structured error taxonomy shared by every
// component that can fail in a way SessionRunner or the executor must
// act on: risk-limit trips, data-accuracy concerns, execution
// rejections, and transport failures. Each branch is a concrete Go
// type rather than a string so callers can recover the sub-kind with
// errors.As instead of matching on message text.
package errs

import (
	"errors"
	"fmt"
)

// RiskLimitExceeded is terminal: the runner must close the position
// and shut down on sight of one.
type RiskLimitExceeded struct {
	Kind    RiskKind
	Detail  string
	Current float64
	Limit   float64
}

// RiskKind enumerates the two ways a portfolio can breach its limits.
type RiskKind int

const (
	PositionLimitExceeded RiskKind = iota
	BalanceLimitExceeded
)

func (k RiskKind) String() string {
	switch k {
	case PositionLimitExceeded:
		return "position_limit_exceeded"
	case BalanceLimitExceeded:
		return "balance_limit_exceeded"
	default:
		return "unknown_risk_kind"
	}
}

func (e *RiskLimitExceeded) Error() string {
	return fmt.Sprintf("risk limit exceeded: %s (current=%v limit=%v) %s", e.Kind, e.Current, e.Limit, e.Detail)
}

// DataAccuracyRisk reports a discrepancy between local and remote
// state. Mismatches inside a configured threshold are logged as
// warnings by the caller; Escalate signals the mismatch exceeded the
// threshold and should be treated as terminal.
type DataAccuracyRisk struct {
	Kind     AccuracyKind
	Local    float64
	Remote   float64
	Escalate bool
}

// AccuracyKind enumerates the four reconciliation mismatch categories.
type AccuracyKind int

const (
	StaleOrderbook AccuracyKind = iota
	PositionMismatch
	BalanceMismatch
	OrderMismatch
)

func (k AccuracyKind) String() string {
	switch k {
	case StaleOrderbook:
		return "stale_orderbook"
	case PositionMismatch:
		return "position_mismatch"
	case BalanceMismatch:
		return "balance_mismatch"
	case OrderMismatch:
		return "order_mismatch"
	default:
		return "unknown_accuracy_kind"
	}
}

func (e *DataAccuracyRisk) Error() string {
	return fmt.Sprintf("data accuracy risk: %s local=%v remote=%v escalate=%v", e.Kind, e.Local, e.Remote, e.Escalate)
}

// ExecutionError reports a non-terminal failure in the order
// lifecycle. The executor logs it and reconciles.
type ExecutionError struct {
	Kind    ExecutionKind
	Code    string
	Msg     string
	Details string
	Service string
}

// ExecutionKind enumerates the three execution-level failure modes.
type ExecutionKind int

const (
	OrderRejection ExecutionKind = iota
	CancelFailure
	MalformedFill
)

func (k ExecutionKind) String() string {
	switch k {
	case OrderRejection:
		return "order_rejection"
	case CancelFailure:
		return "cancel_failure"
	case MalformedFill:
		return "malformed_fill"
	default:
		return "unknown_execution_kind"
	}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s code=%s msg=%s service=%s", e.Kind, e.Code, e.Msg, e.Service)
}

// TransportError reports a REST or WebSocket transport failure.
// AuthFailed is terminal; RateLimited surfaces only after retries are
// exhausted; the rest are retried per the caller's backoff policy.
type TransportError struct {
	Kind       TransportKind
	StatusCode int
	Err        error
}

// TransportKind enumerates the five transport failure modes.
type TransportKind int

const (
	TimedOut TransportKind = iota
	RateLimited
	AuthFailed
	HttpStatus
	NetworkError
)

func (k TransportKind) String() string {
	switch k {
	case TimedOut:
		return "timed_out"
	case RateLimited:
		return "rate_limited"
	case AuthFailed:
		return "auth_failed"
	case HttpStatus:
		return "http_status"
	case NetworkError:
		return "network_error"
	default:
		return "unknown_transport_kind"
	}
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %s status=%d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %s status=%d", e.Kind, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Terminal reports whether err should cause SessionRunner to close
// the position and shut down.
func Terminal(err error) bool {
	var risk *RiskLimitExceeded
	if errors.As(err, &risk) {
		return true
	}
	var accuracy *DataAccuracyRisk
	if errors.As(err, &accuracy) && accuracy.Escalate {
		return true
	}
	var transport *TransportError
	if errors.As(err, &transport) && transport.Kind == AuthFailed {
		return true
	}
	return false
}
