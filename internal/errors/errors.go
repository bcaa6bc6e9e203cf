// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoBroker         = errors.New("no broker configured")
	ErrNoBrokerForEpic  = errors.New("no broker registered for instrument")
	ErrNotConnected     = errors.New("broker not connected")
	ErrTradeNotFound    = errors.New("trade not found")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrSessionTerminal  = errors.New("session is in a terminal state")
	ErrInsufficientFund = errors.New("insufficient funds")
)

// Violation codes attached to ValidationError and risk denials.
const (
	CodeWeekend          = "TIME_WEEKEND"
	CodeFridayCutoff     = "TIME_FRIDAY_CUTOFF"
	CodeEventWindow      = "TIME_EVENT_WINDOW"
	CodeDailyLossLimit   = "DAILY_LOSS_LIMIT"
	CodeWeeklyLossLimit  = "WEEKLY_LOSS_LIMIT"
	CodeMaxOpenPositions = "MAX_OPEN_POSITIONS"
	CodeCountertrend     = "COUNTERTREND"
	CodeStopLossMissing  = "SL_MISSING"
	CodeStopLossTooTight = "SL_TOO_TIGHT"
	CodeRiskBudget       = "RISK_BUDGET_EXCEEDED"
)

// BrokerError represents an error from a broker backend: network failure,
// rejection or authentication failure. It is caught at the execution
// boundary and never crosses it unhandled.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Err: err}
}

// StateConflictError is returned when a session transition is illegal or
// loses a concurrent race. The session state is left unchanged.
type StateConflictError struct {
	SessionID string
	Current   string
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict for session %s: cannot transition %s -> %s",
		e.SessionID, e.Current, e.Attempted)
}

// NewStateConflictError creates a new StateConflictError.
func NewStateConflictError(sessionID, current, attempted string) *StateConflictError {
	return &StateConflictError{SessionID: sessionID, Current: current, Attempted: attempted}
}

// ValidationError is a structured denial: a human-readable reason plus a
// machine-checkable violation code. It surfaces as a result, never as an
// unhandled fault past the evaluation boundary.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Code, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// Is reports whether any error in err's chain matches target. It forwards
// to the standard library so callers of this package never need a second
// errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library's errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsStateConflict reports whether err is a StateConflictError.
func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

// IsBrokerError reports whether err is a BrokerError.
func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}
