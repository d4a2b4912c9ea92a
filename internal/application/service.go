package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/internal/governor"
	"github.com/quorumkit/governance-service/internal/infrastructure/chain"
	"github.com/quorumkit/governance-service/internal/ledger"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/internal/timelock"
	"github.com/quorumkit/governance-service/pkg/config"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Repository is the persistence surface the service mirrors engine state
// into. The in-memory engine stays authoritative; persistence failures are
// logged, not propagated into governance outcomes.
type Repository interface {
	SaveProposal(p domain.Proposal) error
	SaveVote(v domain.VoteRecord) error
	SaveOperation(op domain.TimelockOperation) error
	SaveLedgerSnapshot(snap ledger.Snapshot) error
	LoadLedgerSnapshot() (ledger.Snapshot, error)
	LoadStoreSnapshot() (store.Snapshot, error)
	LoadOperations() ([]domain.TimelockOperation, error)
	GetStats() (map[string]interface{}, error)
}

// ChainClient is the external token ledger feed the voting power ledger is
// built from.
type ChainClient interface {
	GetEventsFromSeq(ctx context.Context, seq uint64, limit int) ([]chain.LedgerEvent, error)
	GetHistoricalEvents(ctx context.Context, fromSeq uint64, batchSize int) (<-chan []chain.LedgerEvent, <-chan error)
}

type Service struct {
	ledger      *ledger.Ledger
	governor    *governor.Governor
	timelock    *timelock.Scheduler
	store       *store.Store
	repo        Repository
	chainClient ChainClient
	config      *config.ChainAPI
	logger      *logger.Logger

	pollingTicker  *time.Ticker
	stopPolling    chan struct{}
	pollingStarted bool
	mu             sync.RWMutex
}

func NewService(
	lgr *ledger.Ledger,
	gov *governor.Governor,
	tl *timelock.Scheduler,
	st *store.Store,
	repo Repository,
	chainClient ChainClient,
	cfg *config.ChainAPI,
	log *logger.Logger,
) *Service {
	return &Service{
		ledger:      lgr,
		governor:    gov,
		timelock:    tl,
		store:       st,
		repo:        repo,
		chainClient: chainClient,
		config:      cfg,
		logger:      log,
		stopPolling: make(chan struct{}),
	}
}

// LoadState restores engine state from the persistence adapter at startup.
func (s *Service) LoadState() error {
	if s.repo == nil {
		return nil
	}

	ledgerSnap, err := s.repo.LoadLedgerSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load ledger snapshot: %w", err)
	}
	s.ledger.Restore(ledgerSnap)

	storeSnap, err := s.repo.LoadStoreSnapshot()
	if err != nil {
		return fmt.Errorf("failed to load proposal snapshot: %w", err)
	}
	s.store.Restore(storeSnap)

	ops, err := s.repo.LoadOperations()
	if err != nil {
		return fmt.Errorf("failed to load timelock operations: %w", err)
	}
	s.timelock.Restore(ops)

	s.logger.Infow("Restored governance state",
		"proposals", len(storeSnap.Proposals),
		"votes", len(storeSnap.Votes),
		"operations", len(ops),
		"lastSeq", ledgerSnap.Seq,
	)
	return nil
}

func (s *Service) Propose(proposer string, actions []domain.Action, description string) (domain.Proposal, error) {
	proposal, err := s.governor.Propose(proposer, actions, description, time.Now())
	if err != nil {
		return domain.Proposal{}, err
	}
	s.persistProposal(proposal.ID)
	return proposal, nil
}

func (s *Service) GetProposal(id string) (domain.ProposalResponse, error) {
	proposal, state, err := s.governor.GetProposal(id, time.Now())
	if err != nil {
		return domain.ProposalResponse{}, err
	}
	return domain.ProposalResponse{Proposal: proposal, State: state}, nil
}

func (s *Service) ListProposals() ([]domain.ProposalResponse, error) {
	return s.governor.ListProposals(time.Now()), nil
}

func (s *Service) State(id string) (domain.ProposalState, error) {
	return s.governor.State(id, time.Now())
}

func (s *Service) CastVote(proposalID, voter string, support domain.VoteSupport, reason string) (domain.VoteRecord, error) {
	record, err := s.governor.CastVote(proposalID, voter, support, reason, time.Now())
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if s.repo != nil {
		if err := s.repo.SaveVote(record); err != nil {
			s.logger.Errorw("Failed to persist vote", "error", err, "proposalId", proposalID, "voter", voter)
		}
	}
	s.persistProposal(proposalID)
	return record, nil
}

func (s *Service) Queue(proposalID string) (domain.TimelockOperation, error) {
	op, err := s.governor.Queue(proposalID, time.Now())
	if err != nil {
		return domain.TimelockOperation{}, err
	}
	s.persistProposal(proposalID)
	s.persistOperation(op)
	return op, nil
}

func (s *Service) Execute(operationID string) (domain.TimelockOperation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	op, err := s.timelock.Execute(ctx, operationID, time.Now())
	if err != nil {
		return op, err
	}
	if err := s.governor.MarkExecuted(op.ProposalID, time.Now()); err != nil {
		s.logger.Errorw("Failed to mark proposal executed", "error", err, "proposalId", op.ProposalID)
	}
	s.persistProposal(op.ProposalID)
	s.persistOperation(op)
	return op, nil
}

func (s *Service) CancelProposal(proposalID, actor string) error {
	if err := s.governor.Cancel(proposalID, actor, time.Now()); err != nil {
		return err
	}
	s.persistProposal(proposalID)
	return nil
}

func (s *Service) CancelOperation(operationID, actor string) (domain.TimelockOperation, error) {
	op, err := s.timelock.Cancel(operationID, actor)
	if err != nil {
		return op, err
	}
	s.persistOperation(op)
	return op, nil
}

func (s *Service) GetOperation(operationID string) (domain.TimelockOperation, error) {
	return s.timelock.Get(operationID)
}

// GetPower resolves an account's voting power, at seq when given, otherwise
// at the current sequence.
func (s *Service) GetPower(account string, seq *uint64) (int64, uint64, error) {
	if account == "" {
		return 0, 0, domain.ErrInvalidAccount
	}
	at := s.ledger.CurrentSeq()
	if seq != nil {
		at = *seq
	}
	return s.ledger.GetPower(account, at), at, nil
}

func (s *Service) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	currentSeq := s.ledger.CurrentSeq()
	stats["current_seq"] = currentSeq
	stats["total_supply"] = s.ledger.TotalSupply(currentSeq)
	stats["total_proposals"] = s.store.CountProposals()

	byState := make(map[string]int)
	for _, p := range s.governor.ListProposals(time.Now()) {
		byState[string(p.State)]++
	}
	stats["proposals_by_state"] = byState

	return stats, nil
}

func (s *Service) StartPolling() error {
	s.mu.Lock()
	if s.pollingStarted {
		s.mu.Unlock()
		return fmt.Errorf("polling already started")
	}
	s.pollingStarted = true
	// A previous StopPolling closed the channel; every run gets a fresh one.
	s.stopPolling = make(chan struct{})
	stop := s.stopPolling
	s.mu.Unlock()

	if s.config.HistoricalIndexing {
		s.logger.Info("Starting historical ledger event indexing...")
		if err := s.indexHistorical(); err != nil {
			s.logger.Errorw("Historical indexing failed", "error", err)
		} else {
			s.logger.Info("Historical indexing completed successfully")
		}
	}

	ticker := time.NewTicker(s.config.PollingInterval)
	s.mu.Lock()
	s.pollingTicker = ticker
	s.mu.Unlock()

	go s.pollLoop(ticker, stop)

	s.logger.Infow("Ledger event polling started", "interval", s.config.PollingInterval)
	return nil
}

func (s *Service) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pollingStarted {
		return
	}

	close(s.stopPolling)
	if s.pollingTicker != nil {
		s.pollingTicker.Stop()
	}
	s.pollingStarted = false
	s.logger.Info("Ledger event polling stopped")
}

func (s *Service) pollLoop(ticker *time.Ticker, stop <-chan struct{}) {
	s.pollOnce()

	for {
		select {
		case <-ticker.C:
			s.pollOnce()
		case <-stop:
			return
		}
	}
}

func (s *Service) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	lastSeq := s.ledger.CurrentSeq()

	events, err := s.chainClient.GetEventsFromSeq(ctx, lastSeq, 100)
	if err != nil {
		s.logger.Errorw("Failed to fetch ledger events", "error", err, "fromSeq", lastSeq)
		metrics.PollingErrors.Inc()
		return
	}

	if len(events) == 0 {
		return
	}

	applied := s.applyEvents(events)
	s.logger.Infow("Applied ledger events", "count", applied, "fromSeq", lastSeq, "toSeq", s.ledger.CurrentSeq())

	if s.repo != nil {
		if err := s.repo.SaveLedgerSnapshot(s.ledger.Snapshot()); err != nil {
			s.logger.Errorw("Failed to persist ledger snapshot", "error", err)
		}
	}
}

func (s *Service) indexHistorical() error {
	fromSeq := s.ledger.CurrentSeq()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	eventsChan, errorChan := s.chainClient.GetHistoricalEvents(gctx, fromSeq, 500)

	processedCount := 0

	g.Go(func() error {
		for {
			select {
			case events, ok := <-eventsChan:
				if !ok {
					return nil
				}

				processedCount += s.applyEvents(events)

				if processedCount%5000 == 0 && processedCount > 0 {
					s.logger.Infow("Historical indexing progress",
						"processed", processedCount,
						"lastSeq", s.ledger.CurrentSeq(),
					)
				}

			case err := <-errorChan:
				if err != nil {
					return fmt.Errorf("error fetching historical events: %w", err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("historical indexing failed: %w", err)
	}

	metrics.HistoricalIndexingProgress.Set(100)
	s.logger.Infow("Historical indexing completed", "totalProcessed", processedCount, "lastSeq", s.ledger.CurrentSeq())

	if s.repo != nil && processedCount > 0 {
		if err := s.repo.SaveLedgerSnapshot(s.ledger.Snapshot()); err != nil {
			s.logger.Errorw("Failed to persist ledger snapshot after backfill", "error", err)
		}
	}

	return nil
}

// applyEvents feeds ledger events into the voting power ledger. A malformed
// event is logged and skipped so one bad record cannot stall the feed.
func (s *Service) applyEvents(events []chain.LedgerEvent) int {
	applied := 0
	for _, event := range events {
		var err error
		switch event.Kind {
		case chain.EventKindTransfer:
			err = s.ledger.RecordTransfer(event.From, event.To, event.Amount, event.Seq)
		case chain.EventKindDelegation:
			err = s.ledger.Delegate(event.Delegator, event.Delegatee, event.Seq)
		default:
			err = fmt.Errorf("unknown ledger event kind %q", event.Kind)
		}
		if err != nil {
			s.logger.Warnw("Skipping ledger event",
				"error", err,
				"kind", event.Kind,
				"seq", event.Seq,
			)
			metrics.PollingErrors.Inc()
			continue
		}
		applied++
	}
	return applied
}

func (s *Service) persistProposal(proposalID string) {
	if s.repo == nil {
		return
	}
	proposal, err := s.store.GetProposal(proposalID)
	if err != nil {
		s.logger.Errorw("Failed to read proposal for persistence", "error", err, "proposalId", proposalID)
		return
	}
	if err := s.repo.SaveProposal(proposal); err != nil {
		s.logger.Errorw("Failed to persist proposal", "error", err, "proposalId", proposalID)
	}
}

func (s *Service) persistOperation(op domain.TimelockOperation) {
	if s.repo == nil || op.ID == "" {
		return
	}
	if err := s.repo.SaveOperation(op); err != nil {
		s.logger.Errorw("Failed to persist timelock operation", "error", err, "operationId", op.ID)
	}
}
