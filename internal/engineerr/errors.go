// Package engineerr defines the engine's error taxonomy and the mapping
// from error kind to CLI exit code.
package engineerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the zero-field taxonomy entries.
var (
	ErrFlowCompleted        = errors.New("engineerr: flow already completed")
	ErrInvalidStepIndex     = errors.New("engineerr: invalid step index")
	ErrStepAlreadyTerminal  = errors.New("engineerr: step already terminal")
	ErrMissingInputs        = errors.New("engineerr: missing input artifact")
	ErrFirstStepMustBeSource = errors.New("engineerr: first step must be Source")
	ErrFlowHasFailed        = errors.New("engineerr: flow has a failed step")
	ErrInvalidBranchSource  = errors.New("engineerr: invalid branch source")
)

// RetryNotAllowed is returned when a retry is requested on a slot that is
// not Failed, or whose attempt budget is exhausted.
type RetryNotAllowed struct {
	StepID string
	Reason string
}

func (e *RetryNotAllowed) Error() string {
	return fmt.Sprintf("engineerr: retry not allowed for step %q: %s", e.StepID, e.Reason)
}

// InvalidTransition is returned when a replayed or requested slot status
// transition is not one of the state machine's allowed edges.
type InvalidTransition struct {
	From string
	To   string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("engineerr: invalid transition from %q to %q", e.From, e.To)
}

// PolicyViolation wraps a caller-supplied policy rejection (e.g. an
// exceeded retry budget).
type PolicyViolation struct {
	Msg string
}

func (e *PolicyViolation) Error() string { return "engineerr: policy violation: " + e.Msg }

// StorageError wraps a backend (event store or artifact store) failure.
type StorageError struct {
	Msg string
}

func (e *StorageError) Error() string { return "engineerr: storage error: " + e.Msg }

// Internal wraps an unexpected, non-recoverable engine error.
type Internal struct {
	Msg string
}

func (e *Internal) Error() string { return "engineerr: internal error: " + e.Msg }

// MalformedInput wraps a caller-supplied payload that failed to parse as
// JSON (e.g. the --provided flag on the approve subcommand).
type MalformedInput struct {
	Msg string
}

func (e *MalformedInput) Error() string { return "engineerr: malformed input: " + e.Msg }

// Exit codes, per the CLI surface contract.
const (
	ExitSuccess     = 0
	ExitUsage       = 2
	ExitMalformed   = 3
	ExitNotFoundOrRejected = 4
	ExitBackend     = 5
)

// ExitCode classifies err into one of the CLI's exit codes. nil maps to
// ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return ExitBackend
	}
	var internalErr *Internal
	if errors.As(err, &internalErr) {
		return ExitBackend
	}
	var malformedErr *MalformedInput
	if errors.As(err, &malformedErr) {
		return ExitMalformed
	}

	switch {
	case errors.Is(err, ErrFlowCompleted),
		errors.Is(err, ErrInvalidStepIndex),
		errors.Is(err, ErrStepAlreadyTerminal),
		errors.Is(err, ErrMissingInputs),
		errors.Is(err, ErrFirstStepMustBeSource),
		errors.Is(err, ErrFlowHasFailed),
		errors.Is(err, ErrInvalidBranchSource):
		return ExitNotFoundOrRejected
	}

	var retryErr *RetryNotAllowed
	if errors.As(err, &retryErr) {
		return ExitNotFoundOrRejected
	}
	var transitionErr *InvalidTransition
	if errors.As(err, &transitionErr) {
		return ExitNotFoundOrRejected
	}
	var policyErr *PolicyViolation
	if errors.As(err, &policyErr) {
		return ExitNotFoundOrRejected
	}

	// Anything else (for example a flag-parsing error or an unknown
	// subcommand reported by cobra) is treated as a usage error.
	return ExitUsage
}
