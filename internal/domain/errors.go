package domain

import "errors"

// Validation failures: rejected before any state change.
var (
	ErrEmptyProposal  = errors.New("proposal requires at least one action with a non-empty target")
	ErrInvalidAmount  = errors.New("amount must be non-negative and within the sender's balance")
	ErrInvalidAccount = errors.New("account identifier must be non-empty")
	ErrInvalidSupport = errors.New("vote support must be for, against or abstain")
	ErrStaleSequence  = errors.New("event sequence is below the last applied sequence")
)

// Policy failures: rejected with state unchanged, surfaced verbatim.
var (
	ErrInsufficientPower = errors.New("proposer voting power below proposal threshold")
	ErrNoVotingPower     = errors.New("voter has no voting power at the proposal snapshot")
	ErrAlreadyVoted      = errors.New("vote already cast for this proposal")
	ErrVotingClosed      = errors.New("proposal is not open for voting")
	ErrDelayTooShort     = errors.New("eta is earlier than the minimum timelock delay")
	ErrMaxDelayExceeded  = errors.New("eta is later than the maximum timelock delay")
	ErrTooEarly          = errors.New("operation is not yet due for execution")
	ErrAlreadyExecuted   = errors.New("operation already executed")
	ErrAlreadyCanceled   = errors.New("operation already canceled")
	ErrNotCancellable    = errors.New("operation or proposal can no longer be canceled")
	ErrNotAuthorized     = errors.New("actor is not authorized for this action")
	ErrInvalidState      = errors.New("proposal is not in the required state")
)

// Execution failures: the operation stays in its prior state for retry.
var (
	ErrExecutionTimeout = errors.New("action execution exceeded the configured deadline")
	ErrExecutionFailed  = errors.New("action execution failed")
)

// Lookup failures.
var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrOperationNotFound = errors.New("timelock operation not found")
)
