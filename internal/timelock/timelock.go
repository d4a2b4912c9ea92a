package timelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
)

// ActionExecutor applies a single proposal action against the outside world.
// Implementations may have side effects; the scheduler never retries an
// action within one Execute call and never reverses one that committed.
type ActionExecutor interface {
	Apply(ctx context.Context, action domain.Action) error
}

// ProposalSource resolves the action list for a queued proposal at
// execution time.
type ProposalSource interface {
	GetProposal(id string) (domain.Proposal, error)
}

type Config struct {
	MinDelay         time.Duration
	MaxDelay         time.Duration
	ExecutionTimeout time.Duration
	Cancellers       []string
}

// Scheduler holds timelock operations: scheduled executions of succeeded
// proposals, delayed by at least MinDelay. One operation per proposal.
type Scheduler struct {
	cfg       Config
	executor  ActionExecutor
	proposals ProposalSource
	logger    *logger.Logger

	mu         sync.Mutex
	ops        map[string]*domain.TimelockOperation
	byProposal map[string]string
	locks      map[string]*sync.Mutex
}

func New(cfg Config, executor ActionExecutor, proposals ProposalSource, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		executor:   executor,
		proposals:  proposals,
		logger:     log,
		ops:        make(map[string]*domain.TimelockOperation),
		byProposal: make(map[string]string),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Delay is the minimum enforced queue-to-execution delay.
func (s *Scheduler) Delay() time.Duration {
	return s.cfg.MinDelay
}

// Schedule registers an operation for the proposal. The eta must land inside
// [now+MinDelay, now+MaxDelay]; the upper bound stops proposals being queued
// so far out they never come due.
func (s *Scheduler) Schedule(proposalID string, eta, now time.Time) (domain.TimelockOperation, error) {
	if eta.Before(now.Add(s.cfg.MinDelay)) {
		return domain.TimelockOperation{}, domain.ErrDelayTooShort
	}
	if s.cfg.MaxDelay > 0 && eta.After(now.Add(s.cfg.MaxDelay)) {
		return domain.TimelockOperation{}, domain.ErrMaxDelayExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byProposal[proposalID]; ok {
		if op := s.ops[existing]; op != nil && op.State == domain.OperationScheduled {
			return domain.TimelockOperation{}, fmt.Errorf("proposal already queued as operation %s: %w", existing, domain.ErrInvalidState)
		}
	}

	op := &domain.TimelockOperation{
		ID:          uuid.New().String(),
		ProposalID:  proposalID,
		ETA:         eta,
		State:       domain.OperationScheduled,
		ScheduledAt: now,
	}
	s.ops[op.ID] = op
	s.byProposal[proposalID] = op.ID

	s.logger.Infow("Timelock operation scheduled",
		"operationId", op.ID,
		"proposalId", proposalID,
		"eta", eta,
	)
	return *op, nil
}

// Execute runs the proposal's actions once the eta has passed. Actions run
// sequentially in order under a bounded deadline; any failure or timeout
// leaves the operation Scheduled so the caller may retry — failure can be
// transient and the retry-or-cancel decision belongs to governance, not the
// engine. Actions that already committed before a later failure are not
// reversed.
func (s *Scheduler) Execute(ctx context.Context, operationID string, now time.Time) (domain.TimelockOperation, error) {
	lock, op, err := s.claim(operationID)
	if err != nil {
		return domain.TimelockOperation{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	switch op.State {
	case domain.OperationExecuted:
		return *op, domain.ErrAlreadyExecuted
	case domain.OperationCanceled:
		return *op, domain.ErrAlreadyCanceled
	}
	if now.Before(op.ETA) {
		return *op, domain.ErrTooEarly
	}

	proposal, err := s.proposals.GetProposal(op.ProposalID)
	if err != nil {
		return *op, err
	}

	execCtx := ctx
	if s.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
		defer cancel()
	}

	for i, action := range proposal.Actions {
		if err := s.executor.Apply(execCtx, action); err != nil {
			metrics.RecordExecutionAttempt("failed")
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				s.logger.Warnw("Timelock execution timed out; operation remains scheduled",
					"operationId", operationID,
					"proposalId", op.ProposalID,
					"action", i,
				)
				return *op, fmt.Errorf("action %d against %s: %w", i, action.Target, domain.ErrExecutionTimeout)
			}
			s.logger.Warnw("Timelock action failed; operation remains scheduled",
				"operationId", operationID,
				"proposalId", op.ProposalID,
				"action", i,
				"error", err,
			)
			return *op, fmt.Errorf("action %d against %s: %v: %w", i, action.Target, err, domain.ErrExecutionFailed)
		}
	}

	s.mu.Lock()
	op.State = domain.OperationExecuted
	s.mu.Unlock()

	metrics.RecordExecutionAttempt("executed")
	s.logger.Infow("Timelock operation executed",
		"operationId", operationID,
		"proposalId", op.ProposalID,
		"actions", len(proposal.Actions),
	)
	return *op, nil
}

// Cancel moves a scheduled operation to Canceled. Only configured canceller
// addresses may cancel; terminal operations stay as they are.
func (s *Scheduler) Cancel(operationID, actor string) (domain.TimelockOperation, error) {
	if !s.isCanceller(actor) {
		return domain.TimelockOperation{}, domain.ErrNotAuthorized
	}

	lock, op, err := s.claim(operationID)
	if err != nil {
		return domain.TimelockOperation{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	if op.State != domain.OperationScheduled {
		return *op, fmt.Errorf("operation is %s: %w", op.State, domain.ErrNotCancellable)
	}

	s.mu.Lock()
	op.State = domain.OperationCanceled
	s.mu.Unlock()

	metrics.RecordExecutionAttempt("canceled")
	s.logger.Infow("Timelock operation canceled", "operationId", operationID, "actor", actor)
	return *op, nil
}

func (s *Scheduler) Get(operationID string) (domain.TimelockOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[operationID]
	if !ok {
		return domain.TimelockOperation{}, domain.ErrOperationNotFound
	}
	return *op, nil
}

func (s *Scheduler) OperationForProposal(proposalID string) (domain.TimelockOperation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProposal[proposalID]
	if !ok {
		return domain.TimelockOperation{}, false
	}
	op := s.ops[id]
	if op == nil {
		return domain.TimelockOperation{}, false
	}
	return *op, true
}

func (s *Scheduler) ListOperations() []domain.TimelockOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TimelockOperation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, *op)
	}
	return out
}

// claim resolves the per-operation lock together with the operation record
// so two Execute calls for the same operation serialize.
func (s *Scheduler) claim(operationID string) (*sync.Mutex, *domain.TimelockOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[operationID]
	if !ok {
		return nil, nil, domain.ErrOperationNotFound
	}
	lock, ok := s.locks[operationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[operationID] = lock
	}
	return lock, op, nil
}

func (s *Scheduler) isCanceller(actor string) bool {
	for _, c := range s.cfg.Cancellers {
		if c != "" && c == actor {
			return true
		}
	}
	return false
}

// Snapshot captures all operations for the persistence adapter.
func (s *Scheduler) Snapshot() []domain.TimelockOperation {
	return s.ListOperations()
}

func (s *Scheduler) Restore(ops []domain.TimelockOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]*domain.TimelockOperation, len(ops))
	s.byProposal = make(map[string]string, len(ops))
	for _, op := range ops {
		cp := op
		s.ops[op.ID] = &cp
		s.byProposal[op.ProposalID] = op.ID
	}
}
