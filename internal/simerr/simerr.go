// Package simerr defines the error taxonomy shared by every simulation
// component. Validation errors are rejected before an engine sees them,
// state conflicts are business-rule rejections that mutate nothing, and
// internal inconsistencies abort the tick that observed them.
package simerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller must react to it.
type Kind uint8

const (
	KindValidation Kind = iota + 1 // Bad command shape or arguments
	KindStateConflict              // Business rule rejection, nothing mutated
	KindInternal                   // Invariant violated, tick aborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindStateConflict:
		return "StateConflict"
	case KindInternal:
		return "InternalInconsistency"
	default:
		return "Unknown"
	}
}

// Code names a specific failure.
type Code string

// Validation codes.
const (
	InvalidQuantity  Code = "InvalidQuantity"
	InvalidDirection Code = "InvalidDirection"
	UnknownGood      Code = "UnknownGood"
	UnknownActor     Code = "UnknownActor"
	UnknownAgent     Code = "UnknownAgent"
	UnknownQuest     Code = "UnknownQuest"
	MalformedCommand Code = "MalformedCommand"
)

// State conflict codes.
const (
	InsufficientFunds     Code = "InsufficientFunds"
	InsufficientInventory Code = "InsufficientInventory"
	MarketExhausted       Code = "MarketExhausted"
	TreasuryDepleted      Code = "TreasuryDepleted"
	PrerequisiteNotMet    Code = "PrerequisiteNotMet"
	QuestLimitReached     Code = "QuestLimitReached"
	PolicyOutOfBounds     Code = "PolicyOutOfBounds"
	CommandCommitted      Code = "CommandCommitted"
)

// Internal codes.
const (
	InvariantViolated Code = "InvariantViolated"
)

var codeKinds = map[Code]Kind{
	InvalidQuantity:       KindValidation,
	InvalidDirection:      KindValidation,
	UnknownGood:           KindValidation,
	UnknownActor:          KindValidation,
	UnknownAgent:          KindValidation,
	UnknownQuest:          KindValidation,
	MalformedCommand:      KindValidation,
	InsufficientFunds:     KindStateConflict,
	InsufficientInventory: KindStateConflict,
	MarketExhausted:       KindStateConflict,
	TreasuryDepleted:      KindStateConflict,
	PrerequisiteNotMet:    KindStateConflict,
	QuestLimitReached:     KindStateConflict,
	PolicyOutOfBounds:     KindStateConflict,
	CommandCommitted:      KindStateConflict,
	InvariantViolated:     KindInternal,
}

// KindOfCode returns the kind a code belongs to.
func KindOfCode(c Code) Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is the concrete error returned by simulation operations.
type Error struct {
	Kind   Kind
	Code   Code
	Reason string // Human-readable, safe to show to players

	// ActionID identifies the action that surfaced an internal
	// inconsistency so the clock can quarantine it.
	ActionID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, simerr.ErrMarketExhausted).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds an error for code with a formatted reason.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Kind:   KindOfCode(code),
		Code:   code,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Internal builds an invariant violation attributed to an action.
func Internal(actionID string, format string, args ...any) *Error {
	e := New(InvariantViolated, format, args...)
	e.ActionID = actionID
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidQuantity       = &Error{Kind: KindValidation, Code: InvalidQuantity}
	ErrInvalidDirection      = &Error{Kind: KindValidation, Code: InvalidDirection}
	ErrUnknownGood           = &Error{Kind: KindValidation, Code: UnknownGood}
	ErrUnknownActor          = &Error{Kind: KindValidation, Code: UnknownActor}
	ErrUnknownAgent          = &Error{Kind: KindValidation, Code: UnknownAgent}
	ErrUnknownQuest          = &Error{Kind: KindValidation, Code: UnknownQuest}
	ErrMalformedCommand      = &Error{Kind: KindValidation, Code: MalformedCommand}
	ErrInsufficientFunds     = &Error{Kind: KindStateConflict, Code: InsufficientFunds}
	ErrInsufficientInventory = &Error{Kind: KindStateConflict, Code: InsufficientInventory}
	ErrMarketExhausted       = &Error{Kind: KindStateConflict, Code: MarketExhausted}
	ErrTreasuryDepleted      = &Error{Kind: KindStateConflict, Code: TreasuryDepleted}
	ErrPrerequisiteNotMet    = &Error{Kind: KindStateConflict, Code: PrerequisiteNotMet}
	ErrQuestLimitReached     = &Error{Kind: KindStateConflict, Code: QuestLimitReached}
	ErrPolicyOutOfBounds     = &Error{Kind: KindStateConflict, Code: PolicyOutOfBounds}
	ErrCommandCommitted      = &Error{Kind: KindStateConflict, Code: CommandCommitted}
	ErrInvariantViolated     = &Error{Kind: KindInternal, Code: InvariantViolated}
)

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Outcome is the player-facing result of an operation.
type Outcome struct {
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
	Code   Code   `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OutcomeOf converts an error (or nil) to an Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{OK: true}
	}
	var e *Error
	if errors.As(err, &e) {
		return Outcome{Kind: e.Kind.String(), Code: e.Code, Reason: e.Reason}
	}
	return Outcome{Kind: KindInternal.String(), Code: InvariantViolated, Reason: err.Error()}
}
