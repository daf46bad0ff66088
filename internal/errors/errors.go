// Package errors provides centralized error definitions and error handling utilities
// for the planloop codebase. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - OracleError: errors from judge/rewrite oracle exchanges
//   - StateError: errors from loop state persistence and resume
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewOracleError("judge call failed", errors.ErrOracleUnavailable)
//
//	// With context wrapping
//	err := errors.NewOracleError("parse failed", errors.ErrOracleMalformed).
//	    WithPhase("judge").WithRound(3)
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrOracleTimeout) { ... }
//
//	// Check for error types
//	var oracleErr *errors.OracleError
//	if errors.As(err, &oracleErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry (timeouts, malformed output)
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Oracle-related sentinel errors
var (
	// ErrOracleUnavailable indicates the oracle could not be executed at all:
	// missing CLI, auth/credit failure, or a non-zero exit.
	ErrOracleUnavailable = New("oracle unavailable")
	// ErrOracleTimeout indicates an auto-lane oracle call exceeded its deadline.
	ErrOracleTimeout = New("oracle call timed out")
	// ErrOracleMalformed indicates oracle output did not parse or validate
	// against the expected response shape.
	ErrOracleMalformed = New("oracle response malformed")
)

// State-related sentinel errors
var (
	// ErrStateNotFound indicates no persisted loop state exists for a plan.
	ErrStateNotFound = New("loop state not found")
	// ErrStateCorrupted indicates persisted loop state is unreadable or does not
	// belong to the requesting plan.
	ErrStateCorrupted = New("loop state corrupted")
	// ErrRunCompleted indicates a resume was attempted on a run that already
	// reached a terminal status.
	ErrRunCompleted = New("run already completed")
	// ErrLockHeld indicates another live process holds the loop lock.
	ErrLockHeld = New("loop is locked by another process")
)

// Loop-related sentinel errors
var (
	// ErrBudgetExhausted indicates the round ceiling was reached without a strict pass.
	ErrBudgetExhausted = New("round budget exhausted")
	// ErrCancelled indicates the run was stopped by a signal or stop request.
	ErrCancelled = New("run cancelled")
	// ErrEmptyRewrite indicates a rewrite result arrived without plan markdown.
	ErrEmptyRewrite = New("rewrite produced empty plan")
	// ErrPlanNotFound indicates the plan file does not exist.
	ErrPlanNotFound = New("plan file not found")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PlanloopError is the base interface for all planloop errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type PlanloopError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// OracleError represents errors from judge/rewrite oracle exchanges.
//
// Example:
//
//	err := errors.NewOracleError("judge call failed", errors.ErrOracleTimeout)
//	err = err.WithPhase("judge").WithRound(2).WithLane("auto")
//	fmt.Println(err) // "oracle error [phase=judge, round=2, lane=auto]: judge call failed: oracle call timed out"
type OracleError struct {
	baseError
	Phase string
	Round int
	Lane  string
}

// NewOracleError creates a new OracleError. Timeouts and malformed
// responses default to retryable; an unavailable oracle does not.
func NewOracleError(message string, cause error) *OracleError {
	return &OracleError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  errors.Is(cause, ErrOracleTimeout) || errors.Is(cause, ErrOracleMalformed),
			userFacing: true,
		},
		Round: -1, // -1 indicates not set
	}
}

// WithPhase adds the request phase (judge or rewrite) to the error context.
func (e *OracleError) WithPhase(phase string) *OracleError {
	e.Phase = phase
	return e
}

// WithRound adds the loop round to the error context.
func (e *OracleError) WithRound(round int) *OracleError {
	e.Round = round
	return e
}

// WithLane adds the invocation lane (auto or manual) to the error context.
func (e *OracleError) WithLane(lane string) *OracleError {
	e.Lane = lane
	return e
}

// WithSeverity sets the error severity.
func (e *OracleError) WithSeverity(s Severity) *OracleError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *OracleError) WithRetryable(r bool) *OracleError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *OracleError) Error() string {
	var parts []string
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Round >= 0 {
		parts = append(parts, fmt.Sprintf("round=%d", e.Round))
	}
	if e.Lane != "" {
		parts = append(parts, fmt.Sprintf("lane=%s", e.Lane))
	}

	prefix := "oracle error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("oracle error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *OracleError) Is(target error) bool {
	if _, ok := target.(*OracleError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StateError represents errors from loop state persistence and resume.
//
// Example:
//
//	err := errors.NewStateError("cannot resume", errors.ErrStateCorrupted)
//	err = err.WithPlanPath("/w/plan.md")
type StateError struct {
	baseError
	PlanPath string
	Detail   string
}

// NewStateError creates a new StateError.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPlanPath adds the plan path to the error context.
func (e *StateError) WithPlanPath(path string) *StateError {
	e.PlanPath = path
	return e
}

// WithDetail adds a free-form detail to the error context.
func (e *StateError) WithDetail(detail string) *StateError {
	e.Detail = detail
	return e
}

// WithSeverity sets the error severity.
func (e *StateError) WithSeverity(s Severity) *StateError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	var parts []string
	if e.PlanPath != "" {
		parts = append(parts, fmt.Sprintf("plan=%s", e.PlanPath))
	}

	prefix := "state error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("state error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}

	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *StateError) Is(target error) bool {
	if _, ok := target.(*StateError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("mode must be auto, hybrid, or manual")
//	err = err.WithField("mode").WithValue("turbo")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for oracle response", 20*time.Minute)
//	fmt.Println(err) // "timeout error: waiting for oracle response (timeout: 20m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing PlanloopError with IsRetryable() returning true
//   - Errors wrapping ErrOracleTimeout or ErrOracleMalformed (same-request retry)
//   - Errors wrapping ErrTimeout
//
// ErrOracleUnavailable is deliberately not retryable: in hybrid mode it triggers
// the manual fallback instead, and in pure auto mode it is fatal.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements PlanloopError
	var loopErr PlanloopError
	if As(err, &loopErr) {
		return loopErr.IsRetryable()
	}

	// Check for known retryable sentinel errors
	if Is(err, ErrOracleTimeout) || Is(err, ErrOracleMalformed) || Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsFatal returns true if the error must abort the run rather than being
// retried or absorbed as an expected outcome. Budget exhaustion and
// cancellation are terminal but expected, so they are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrBudgetExhausted) || Is(err, ErrCancelled) {
		return false
	}
	return !IsRetryable(err)
}

// IsUserFacing returns true if the error message is safe to display to end users.
// This checks for:
//   - Errors implementing PlanloopError with IsUserFacing() returning true
//   - Semantic errors (ValidationError, TimeoutError)
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements PlanloopError
	var loopErr PlanloopError
	if As(err, &loopErr) {
		return loopErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var validation *ValidationError
	var timeout *TimeoutError

	if As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement PlanloopError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	// Check if error implements PlanloopError
	var loopErr PlanloopError
	if As(err, &loopErr) {
		return loopErr.Severity()
	}

	// Default to Error severity for unknown errors
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to archive round")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "round %d: rewrite failed", round)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
