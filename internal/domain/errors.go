package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors (compare with errors.Is())
// ──────────────────────────────────────────────────────────────────────────────

// Period errors
var (
	// ErrPeriodNotFound is returned when no period matches the given id.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrInvalidTransition is returned when a status change is not one of
	// betting→drawing or drawing→settled.
	ErrInvalidTransition = errors.New("invalid period status transition")

	// ErrPeriodNotBetting is returned when drawing is requested for a period
	// that already left the betting window.
	ErrPeriodNotBetting = errors.New("period is not in betting status")

	// ErrNoDrawResult is returned when a period has no finalized draw yet.
	ErrNoDrawResult = errors.New("period has no draw result")
)

// Bet errors
var (
	// ErrBetNotFound is returned when no bet matches the given id.
	ErrBetNotFound = errors.New("bet not found")

	// ErrAlreadySettled is returned when the settled flag of a bet was already
	// flipped by an earlier or concurrent run. Benign.
	ErrAlreadySettled = errors.New("bet is already settled")

	// ErrInvalidBet is returned when bet_type, bet_value or position cannot be
	// interpreted. Such a bet is never guessed as a loss.
	ErrInvalidBet = errors.New("invalid bet")
)

// Agent / ledger errors
var (
	// ErrAgentNotFound is returned when an agent id is not in the directory.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrMemberNotFound is returned when a member id is not in the directory.
	ErrMemberNotFound = errors.New("member not found")

	// ErrChainTooDeep is returned when an agent chain exceeds the hop cap.
	ErrChainTooDeep = errors.New("agent chain exceeds hop limit")

	// ErrAlreadyApplied is returned when a ledger entry with the same
	// idempotency key exists. The caller treats it as a no-op.
	ErrAlreadyApplied = errors.New("ledger entry already applied")
)

// Settlement errors
var (
	// ErrRecordNotFound is returned when a period has no SettlementRecord.
	ErrRecordNotFound = errors.New("settlement record not found")

	// ErrTaskNotFound is returned when no compensation task matches.
	ErrTaskNotFound = errors.New("compensation task not found")

	// ErrTaskPending is returned when a period already has an open task.
	ErrTaskPending = errors.New("period already has a pending compensation task")

	// ErrLockContention is returned when another worker holds the period lock.
	ErrLockContention = errors.New("settlement lock held by another worker")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated operator lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Typed errors
// ──────────────────────────────────────────────────────────────────────────────

// DataIntegrityError reports malformed input that must not be settled until an
// operator corrects it. It is the only class surfaced as an operator alert.
type DataIntegrityError struct {
	PeriodID int64
	Reason   string
}

func (e *DataIntegrityError) Error() string {
	if e.PeriodID == 0 {
		return "data integrity: " + e.Reason
	}
	return fmt.Sprintf("data integrity: period %d: %s", e.PeriodID, e.Reason)
}

// LedgerWriteError wraps a failed credit or rebate write.
type LedgerWriteError struct {
	Op    string // "win" | "rebate"
	BetID int64
	Err   error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s (bet %d): %v", e.Op, e.BetID, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// PartialSettlementError describes a run that stopped before covering every
// bet of the period. Remaining is the scope compensation resumes.
type PartialSettlementError struct {
	PeriodID  int64
	Remaining int
	Failures  int
	Cause     string
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("partial settlement of period %d: %d remaining, %d failed (%s)",
		e.PeriodID, e.Remaining, e.Failures, e.Cause)
}

// CycleDetectedError reports a parent_id that points back into the visited
// part of an agent chain.
type CycleDetectedError struct {
	AgentID int64
	Path    []int64
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("agent chain cycle at agent %d (path %v)", e.AgentID, e.Path)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var notFoundErrors = []error{
	ErrPeriodNotFound,
	ErrBetNotFound,
	ErrAgentNotFound,
	ErrMemberNotFound,
	ErrRecordNotFound,
	ErrTaskNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrInvalidTransition,
		ErrPeriodNotBetting,
		ErrAlreadySettled,
		ErrAlreadyApplied,
		ErrLockContention,
		ErrTaskPending,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDataIntegrity reports whether err carries a *DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var die *DataIntegrityError
	return errors.As(err, &die)
}

// IsCycle reports whether err carries a *CycleDetectedError.
func IsCycle(err error) bool {
	var cde *CycleDetectedError
	return errors.As(err, &cde)
}

// IsFatal reports errors that must not be retried until an operator fixes
// the underlying data.
func IsFatal(err error) bool {
	return IsDataIntegrity(err)
}

// IsRetryable reports errors that a later compensation attempt may clear.
// Fatal data problems and a period that does not exist are not; ledger,
// lock and storage failures are.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return !errors.Is(err, ErrPeriodNotFound)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTokenInvalid)
}
