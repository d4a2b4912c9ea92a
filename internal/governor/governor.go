package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/internal/events"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
)

// PowerSource is the read surface of the voting power ledger the governor
// depends on.
type PowerSource interface {
	GetPower(account string, seq uint64) int64
	TotalSupply(seq uint64) int64
	CurrentSeq() uint64
}

// Scheduler is the timelock surface the governor hands succeeded proposals
// to. Delay is the enforced queue-to-execution delay used to compute the eta.
type Scheduler interface {
	Delay() time.Duration
	Schedule(proposalID string, eta, now time.Time) (domain.TimelockOperation, error)
}

type Config struct {
	VotingDelay       time.Duration
	VotingPeriod      time.Duration
	ProposalThreshold int64
	QuorumNumerator   int64
	QuorumDenominator int64
	// QueueWindow bounds how long a succeeded proposal stays queueable after
	// voting ends before it derives to Expired. Zero disables expiry.
	QueueWindow  time.Duration
	AdminAddress string
}

// Governor drives the proposal state machine: creation, vote casting, state
// derivation and the hand-off of succeeded proposals to the timelock.
type Governor struct {
	cfg       Config
	ledger    PowerSource
	store     *store.Store
	scheduler Scheduler
	events    events.Publisher
	logger    *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, ledger PowerSource, st *store.Store, scheduler Scheduler, publisher events.Publisher, log *logger.Logger) *Governor {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Governor{
		cfg:       cfg,
		ledger:    ledger,
		store:     st,
		scheduler: scheduler,
		events:    publisher,
		logger:    log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Propose creates a new proposal. The snapshot sequence is fixed here and
// never changes: every vote on this proposal is weighed as of this point,
// immune to delegation churn during the voting window.
func (g *Governor) Propose(proposer string, actions []domain.Action, description string, now time.Time) (domain.Proposal, error) {
	if proposer == "" {
		return domain.Proposal{}, domain.ErrInvalidAccount
	}
	if len(actions) == 0 {
		return domain.Proposal{}, domain.ErrEmptyProposal
	}
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return domain.Proposal{}, err
		}
	}

	snapshotSeq := g.ledger.CurrentSeq()
	power := g.ledger.GetPower(proposer, snapshotSeq)
	if power <= g.cfg.ProposalThreshold {
		return domain.Proposal{}, domain.ErrInsufficientPower
	}

	votingStart := now.Add(g.cfg.VotingDelay)
	proposal := domain.Proposal{
		ID:          uuid.New().String(),
		Proposer:    proposer,
		Actions:     actions,
		Description: description,
		SnapshotSeq: snapshotSeq,
		VotingStart: votingStart,
		VotingEnd:   votingStart.Add(g.cfg.VotingPeriod),
		CreatedAt:   now,
	}
	g.store.PutProposal(proposal)

	metrics.ProposalsCreated.Inc()
	g.events.Publish(events.ProposalCreated, proposal.ID, domain.StatePending, map[string]interface{}{
		"proposer":     proposal.Proposer,
		"snapshot_seq": proposal.SnapshotSeq,
		"voting_start": proposal.VotingStart,
		"voting_end":   proposal.VotingEnd,
	})
	g.logger.Infow("Proposal created",
		"proposalId", proposal.ID,
		"proposer", proposer,
		"actions", len(actions),
		"snapshotSeq", snapshotSeq,
	)
	return proposal, nil
}

// State derives the proposal state at now. While the proposal is in the
// derived part of the lifecycle this is a pure function of stored fields and
// the clock; once a stored state is set that value is authoritative.
func (g *Governor) State(proposalID string, now time.Time) (domain.ProposalState, error) {
	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return "", err
	}
	return g.deriveState(&proposal, now), nil
}

func (g *Governor) deriveState(p *domain.Proposal, now time.Time) domain.ProposalState {
	if p.StoredState != "" {
		return p.StoredState
	}
	if now.Before(p.VotingStart) {
		return domain.StatePending
	}
	if now.Before(p.VotingEnd) {
		return domain.StateActive
	}
	if !g.tallySucceeded(p) {
		return domain.StateDefeated
	}
	if g.cfg.QueueWindow > 0 && !now.Before(p.VotingEnd.Add(g.cfg.QueueWindow)) {
		return domain.StateExpired
	}
	return domain.StateSucceeded
}

// tallySucceeded applies the outcome rule: strict For majority over Against,
// and total participation (all three buckets) meeting quorum at the snapshot.
func (g *Governor) tallySucceeded(p *domain.Proposal) bool {
	if p.VotesFor <= p.VotesAgainst {
		return false
	}
	return p.TallyTotal() >= g.Quorum(p.SnapshotSeq)
}

// Quorum is a fixed fraction of total voting power supply as of seq, not of
// votes cast: defining it over turnout would let a tiny electorate pass
// anything.
func (g *Governor) Quorum(seq uint64) int64 {
	supply := g.ledger.TotalSupply(seq)
	return supply * g.cfg.QuorumNumerator / g.cfg.QuorumDenominator
}

// CastVote records a single vote for (proposalID, voter). Weight is always
// looked up at the proposal snapshot; zero-weight votes are rejected rather
// than recorded so the vote count cannot be inflated without tally effect.
func (g *Governor) CastVote(proposalID, voter string, support domain.VoteSupport, reason string, now time.Time) (domain.VoteRecord, error) {
	if voter == "" {
		return domain.VoteRecord{}, domain.ErrInvalidAccount
	}
	switch support {
	case domain.SupportFor, domain.SupportAgainst, domain.SupportAbstain:
	default:
		return domain.VoteRecord{}, fmt.Errorf("invalid vote support %q: %w", support, domain.ErrInvalidSupport)
	}

	lock := g.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if g.deriveState(&proposal, now) != domain.StateActive {
		return domain.VoteRecord{}, domain.ErrVotingClosed
	}
	if _, voted := g.store.GetVote(proposalID, voter); voted {
		return domain.VoteRecord{}, domain.ErrAlreadyVoted
	}

	weight := g.ledger.GetPower(voter, proposal.SnapshotSeq)
	if weight == 0 {
		return domain.VoteRecord{}, domain.ErrNoVotingPower
	}

	record := domain.VoteRecord{
		ProposalID: proposalID,
		Voter:      voter,
		Support:    support,
		Weight:     weight,
		Reason:     reason,
		CastAt:     now,
	}
	if err := g.store.AddVote(record); err != nil {
		return domain.VoteRecord{}, err
	}
	if _, err := g.store.UpdateProposal(proposalID, func(p *domain.Proposal) error {
		switch support {
		case domain.SupportFor:
			p.VotesFor += weight
		case domain.SupportAgainst:
			p.VotesAgainst += weight
		case domain.SupportAbstain:
			p.VotesAbstain += weight
		default:
			return fmt.Errorf("unknown vote support %q", support)
		}
		return nil
	}); err != nil {
		return domain.VoteRecord{}, err
	}

	metrics.RecordVoteCast(string(support))
	g.events.Publish(events.VoteCast, proposalID, domain.StateActive, map[string]interface{}{
		"voter":   voter,
		"support": string(support),
		"weight":  weight,
	})
	g.logger.Infow("Vote cast",
		"proposalId", proposalID,
		"voter", voter,
		"support", support,
		"weight", weight,
	)
	return record, nil
}

// Queue transitions a succeeded proposal to Queued and registers the
// timelock operation with eta = now + delay. A succeeded proposal that sat
// unqueued past the queue window is persisted as Expired here.
func (g *Governor) Queue(proposalID string, now time.Time) (domain.TimelockOperation, error) {
	lock := g.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return domain.TimelockOperation{}, err
	}

	switch state := g.deriveState(&proposal, now); state {
	case domain.StateSucceeded:
	case domain.StateExpired:
		if proposal.StoredState == "" {
			g.setStoredState(proposalID, domain.StateExpired)
		}
		return domain.TimelockOperation{}, fmt.Errorf("proposal expired before queuing: %w", domain.ErrInvalidState)
	default:
		return domain.TimelockOperation{}, fmt.Errorf("cannot queue proposal in state %s: %w", state, domain.ErrInvalidState)
	}

	eta := now.Add(g.scheduler.Delay())
	op, err := g.scheduler.Schedule(proposalID, eta, now)
	if err != nil {
		return domain.TimelockOperation{}, err
	}

	if _, err := g.store.UpdateProposal(proposalID, func(p *domain.Proposal) error {
		p.StoredState = domain.StateQueued
		p.ETA = eta
		p.OperationID = op.ID
		return nil
	}); err != nil {
		return domain.TimelockOperation{}, err
	}

	metrics.RecordProposalTransition(string(domain.StateQueued))
	g.events.Publish(events.ProposalQueued, proposalID, domain.StateQueued, map[string]interface{}{
		"operation_id": op.ID,
		"eta":          eta,
	})
	g.logger.Infow("Proposal queued",
		"proposalId", proposalID,
		"operationId", op.ID,
		"eta", eta,
	)
	return op, nil
}

// Cancel sets the canceled flag. Only the proposer or the admin may cancel,
// and only while the proposal is Pending or Active.
func (g *Governor) Cancel(proposalID, actor string, now time.Time) error {
	lock := g.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return err
	}
	if actor != proposal.Proposer && (g.cfg.AdminAddress == "" || actor != g.cfg.AdminAddress) {
		return domain.ErrNotAuthorized
	}

	switch state := g.deriveState(&proposal, now); state {
	case domain.StatePending, domain.StateActive:
	default:
		return fmt.Errorf("cannot cancel proposal in state %s: %w", state, domain.ErrNotCancellable)
	}

	g.setStoredState(proposalID, domain.StateCanceled)
	metrics.RecordProposalTransition(string(domain.StateCanceled))
	g.events.Publish(events.ProposalCanceled, proposalID, domain.StateCanceled, map[string]interface{}{
		"actor": actor,
	})
	g.logger.Infow("Proposal canceled", "proposalId", proposalID, "actor", actor)
	return nil
}

// MarkExecuted records the terminal Executed state after the timelock has
// run the proposal's actions. The proposal must be Queued.
func (g *Governor) MarkExecuted(proposalID string, now time.Time) error {
	lock := g.proposalLock(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.StoredState != domain.StateQueued {
		return fmt.Errorf("cannot mark proposal in state %s executed: %w", g.deriveState(&proposal, now), domain.ErrInvalidState)
	}

	g.setStoredState(proposalID, domain.StateExecuted)
	metrics.RecordProposalTransition(string(domain.StateExecuted))
	g.events.Publish(events.ProposalExecuted, proposalID, domain.StateExecuted, nil)
	g.logger.Infow("Proposal executed", "proposalId", proposalID)
	return nil
}

func (g *Governor) GetProposal(proposalID string, now time.Time) (domain.Proposal, domain.ProposalState, error) {
	proposal, err := g.store.GetProposal(proposalID)
	if err != nil {
		return domain.Proposal{}, "", err
	}
	return proposal, g.deriveState(&proposal, now), nil
}

func (g *Governor) ListProposals(now time.Time) []domain.ProposalResponse {
	proposals := g.store.ListProposals()
	out := make([]domain.ProposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, domain.ProposalResponse{
			Proposal: p,
			State:    g.deriveState(&p, now),
		})
	}
	return out
}

func (g *Governor) setStoredState(proposalID string, state domain.ProposalState) {
	if _, err := g.store.UpdateProposal(proposalID, func(p *domain.Proposal) error {
		p.StoredState = state
		return nil
	}); err != nil {
		g.logger.Errorw("Failed to persist stored state", "proposalId", proposalID, "state", state, "error", err)
	}
}

func (g *Governor) proposalLock(proposalID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[proposalID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[proposalID] = lock
	}
	return lock
}
