package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProposalState covers the full proposal lifecycle. Pending, Active,
// Succeeded and Defeated are always derived from stored fields plus the
// current time; Canceled, Queued, Executed and Expired are stored and
// authoritative once set.
type ProposalState string

const (
	StatePending   ProposalState = "pending"
	StateActive    ProposalState = "active"
	StateCanceled  ProposalState = "canceled"
	StateDefeated  ProposalState = "defeated"
	StateSucceeded ProposalState = "succeeded"
	StateQueued    ProposalState = "queued"
	StateExecuted  ProposalState = "executed"
	StateExpired   ProposalState = "expired"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ProposalState) IsTerminal() bool {
	switch s {
	case StateCanceled, StateDefeated, StateExecuted, StateExpired:
		return true
	}
	return false
}

type VoteSupport string

const (
	SupportFor     VoteSupport = "for"
	SupportAgainst VoteSupport = "against"
	SupportAbstain VoteSupport = "abstain"
)

func ParseVoteSupport(s string) (VoteSupport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "for":
		return SupportFor, nil
	case "against":
		return SupportAgainst, nil
	case "abstain":
		return SupportAbstain, nil
	}
	return "", fmt.Errorf("invalid vote support %q: %w", s, ErrInvalidSupport)
}

// Action is an opaque call the timelock performs on execution. The engine
// validates only that the target is set and the value is non-negative.
type Action struct {
	Target  string `json:"target" db:"target"`
	Value   int64  `json:"value" db:"value"`
	Payload []byte `json:"payload,omitempty" db:"payload"`
}

func (a Action) Validate() error {
	if strings.TrimSpace(a.Target) == "" {
		return ErrEmptyProposal
	}
	if a.Value < 0 {
		return ErrInvalidAmount
	}
	return nil
}

type Proposal struct {
	ID          string    `json:"id" db:"id"`
	Proposer    string    `json:"proposer" db:"proposer"`
	Actions     []Action  `json:"actions" db:"actions"`
	Description string    `json:"description" db:"description"`
	SnapshotSeq uint64    `json:"snapshot_seq" db:"snapshot_seq"`
	VotingStart time.Time `json:"voting_start" db:"voting_start"`
	VotingEnd   time.Time `json:"voting_end" db:"voting_end"`

	VotesFor     int64 `json:"votes_for" db:"votes_for"`
	VotesAgainst int64 `json:"votes_against" db:"votes_against"`
	VotesAbstain int64 `json:"votes_abstain" db:"votes_abstain"`

	// StoredState holds one of canceled/queued/executed/expired once the
	// proposal leaves the derived part of the lifecycle; empty means the
	// state is computed from the voting window and tallies.
	StoredState ProposalState `json:"stored_state,omitempty" db:"stored_state"`

	ETA         time.Time `json:"eta,omitempty" db:"eta"`
	OperationID string    `json:"operation_id,omitempty" db:"operation_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TallyTotal is the participation counted toward quorum: all three buckets.
func (p *Proposal) TallyTotal() int64 {
	return p.VotesFor + p.VotesAgainst + p.VotesAbstain
}

type VoteRecord struct {
	ProposalID string      `json:"proposal_id" db:"proposal_id"`
	Voter      string      `json:"voter" db:"voter"`
	Support    VoteSupport `json:"support" db:"support"`
	Weight     int64       `json:"weight" db:"weight"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	CastAt     time.Time   `json:"cast_at" db:"cast_at"`
}

type OperationState string

const (
	OperationScheduled OperationState = "scheduled"
	OperationExecuted  OperationState = "executed"
	OperationCanceled  OperationState = "canceled"
)

type TimelockOperation struct {
	ID          string         `json:"id" db:"id"`
	ProposalID  string         `json:"proposal_id" db:"proposal_id"`
	ETA         time.Time      `json:"eta" db:"eta"`
	State       OperationState `json:"state" db:"state"`
	ScheduledAt time.Time      `json:"scheduled_at" db:"scheduled_at"`
}

// Checkpoint is an immutable record of an account's aggregated voting power
// as of a ledger sequence number. Per-account checkpoint history is ordered
// ascending by Seq and append-only.
type Checkpoint struct {
	Seq   uint64 `json:"seq" db:"seq"`
	Power int64  `json:"power" db:"power"`
}

type ProposalResponse struct {
	Proposal Proposal      `json:"proposal"`
	State    ProposalState `json:"state"`
}

type ProposalListResponse struct {
	Data []ProposalResponse `json:"data"`
}
