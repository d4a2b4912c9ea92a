package governor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/internal/ledger"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/pkg/logger"
)

type fakeScheduler struct {
	delay     time.Duration
	err       error
	scheduled []domain.TimelockOperation
}

func (f *fakeScheduler) Delay() time.Duration {
	return f.delay
}

func (f *fakeScheduler) Schedule(proposalID string, eta, now time.Time) (domain.TimelockOperation, error) {
	if f.err != nil {
		return domain.TimelockOperation{}, f.err
	}
	op := domain.TimelockOperation{
		ID:          uuid.New().String(),
		ProposalID:  proposalID,
		ETA:         eta,
		State:       domain.OperationScheduled,
		ScheduledAt: now,
	}
	f.scheduled = append(f.scheduled, op)
	return op, nil
}

type testEnv struct {
	gov       *Governor
	ledger    *ledger.Ledger
	store     *store.Store
	scheduler *fakeScheduler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log, err := logger.New("error", "test")
	require.NoError(t, err)

	lgr := ledger.New(log)
	st := store.New()
	sched := &fakeScheduler{delay: 48 * time.Hour}

	return &testEnv{
		gov:       New(cfg, lgr, st, sched, nil, log),
		ledger:    lgr,
		store:     st,
		scheduler: sched,
	}
}

func defaultConfig() Config {
	return Config{
		VotingDelay:       time.Hour,
		VotingPeriod:      2 * time.Hour,
		ProposalThreshold: 100,
		QuorumNumerator:   4,
		QuorumDenominator: 100,
		QueueWindow:       24 * time.Hour,
		AdminAddress:      "admin",
	}
}

// seed mints balances so that quorum (4% of 10000 = 400) is reachable.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, e.ledger.RecordTransfer("", "proposer", 2000, 1))
	require.NoError(t, e.ledger.RecordTransfer("", "alice", 5000, 2))
	require.NoError(t, e.ledger.RecordTransfer("", "bob", 2500, 3))
	require.NoError(t, e.ledger.RecordTransfer("", "carol", 500, 4))
}

func (e *testEnv) propose(t *testing.T, now time.Time) domain.Proposal {
	t.Helper()
	p, err := e.gov.Propose("proposer", []domain.Action{{Target: "treasury", Value: 100}}, "fund grants", now)
	require.NoError(t, err)
	return p
}

func TestGovernor_Propose(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, uint64(4), p.SnapshotSeq)
	assert.Equal(t, now.Add(time.Hour), p.VotingStart)
	assert.Equal(t, now.Add(3*time.Hour), p.VotingEnd)

	state, err := env.gov.State(p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, state)
}

func TestGovernor_ProposeValidation(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)
	now := time.Now()
	actions := []domain.Action{{Target: "treasury", Value: 100}}

	testCases := []struct {
		name     string
		proposer string
		actions  []domain.Action
		expected error
	}{
		{"Empty proposer", "", actions, domain.ErrInvalidAccount},
		{"No actions", "proposer", nil, domain.ErrEmptyProposal},
		{"Action without target", "proposer", []domain.Action{{Target: " "}}, domain.ErrEmptyProposal},
		{"Negative action value", "proposer", []domain.Action{{Target: "treasury", Value: -1}}, domain.ErrInvalidAmount},
		{"Below threshold", "carol", actions, domain.ErrInsufficientPower},
		{"No power at all", "nobody", actions, domain.ErrInsufficientPower},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.gov.Propose(tc.proposer, tc.actions, "", now)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestGovernor_ProposeThresholdIsStrict(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProposalThreshold = 500
	env := newTestEnv(t, cfg)
	env.seed(t)

	// carol holds exactly the threshold; strictly more is required.
	_, err := env.gov.Propose("carol", []domain.Action{{Target: "treasury"}}, "", time.Now())
	assert.ErrorIs(t, err, domain.ErrInsufficientPower)
}

func TestGovernor_StateFollowsVotingWindow(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)

	testCases := []struct {
		name     string
		at       time.Time
		expected domain.ProposalState
	}{
		{"Before voting starts", now, domain.StatePending},
		{"Just before start", p.VotingStart.Add(-time.Second), domain.StatePending},
		{"During voting", p.VotingStart, domain.StateActive},
		{"Just before end", p.VotingEnd.Add(-time.Second), domain.StateActive},
		{"After end with no votes", p.VotingEnd, domain.StateDefeated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state, err := env.gov.State(p.ID, tc.at)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, state)
		})
	}
}

func TestGovernor_CastVoteTally(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	rec, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "looks good", active)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.Weight)

	_, err = env.gov.CastVote(p.ID, "bob", domain.SupportAgainst, "", active)
	require.NoError(t, err)
	_, err = env.gov.CastVote(p.ID, "carol", domain.SupportAbstain, "", active)
	require.NoError(t, err)

	got, _, err := env.gov.GetProposal(p.ID, active)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.VotesFor)
	assert.Equal(t, int64(2500), got.VotesAgainst)
	assert.Equal(t, int64(500), got.VotesAbstain)

	state, err := env.gov.State(p.ID, p.VotingEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, state)
}

func TestGovernor_CastVoteRejections(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	// Voting has not opened yet.
	_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", now)
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	// Voting has closed.
	_, err = env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", p.VotingEnd)
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	// No voting power at the snapshot.
	_, err = env.gov.CastVote(p.ID, "stranger", domain.SupportFor, "", active)
	assert.ErrorIs(t, err, domain.ErrNoVotingPower)

	// Empty voter.
	_, err = env.gov.CastVote(p.ID, "", domain.SupportFor, "", active)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	// Unknown proposal.
	_, err = env.gov.CastVote("missing", "alice", domain.SupportFor, "", active)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)

	// One vote per voter, even with a different support.
	_, err = env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)
	_, err = env.gov.CastVote(p.ID, "alice", domain.SupportAgainst, "", active)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
}

func TestGovernor_CastVoteUnknownSupport(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	_, err := env.gov.CastVote(p.ID, "alice", domain.VoteSupport("maybe"), "", active)
	assert.ErrorIs(t, err, domain.ErrInvalidSupport)

	// The rejection must leave no trace: no vote record, untouched tally,
	// and the voter stays free to cast a valid vote.
	_, voted := env.store.GetVote(p.ID, "alice")
	assert.False(t, voted)

	got, _, err := env.gov.GetProposal(p.ID, active)
	require.NoError(t, err)
	assert.Zero(t, got.TallyTotal())

	rec, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.Weight)
}

func TestGovernor_VoteWeightFixedAtSnapshot(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)

	// Alice loses her tokens after the snapshot was taken.
	require.NoError(t, env.ledger.RecordTransfer("alice", "bob", 5000, 10))

	active := p.VotingStart.Add(time.Minute)
	rec, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.Weight)

	// Bob's weight is likewise his snapshot holding, not the inflated one.
	rec, err = env.gov.CastVote(p.ID, "bob", domain.SupportFor, "", active)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), rec.Weight)
}

func TestGovernor_QuorumCountsAllBuckets(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	// Supply 10000, quorum 400. For=500 via carol? carol holds 500.
	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	// Only carol votes For: 500 >= 400 quorum and For > Against.
	_, err := env.gov.CastVote(p.ID, "carol", domain.SupportFor, "", active)
	require.NoError(t, err)

	state, err := env.gov.State(p.ID, p.VotingEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, state)
}

func TestGovernor_QuorumNotMetIsDefeated(t *testing.T) {
	cfg := defaultConfig()
	cfg.QuorumNumerator = 60
	env := newTestEnv(t, cfg)
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	// 5000 For out of 10000 supply misses the 60% quorum.
	_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)

	state, err := env.gov.State(p.ID, p.VotingEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDefeated, state)
}

func TestGovernor_TiedVoteIsDefeated(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)
	require.NoError(t, env.ledger.RecordTransfer("", "dave", 2500, 5))

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)

	_, err := env.gov.CastVote(p.ID, "bob", domain.SupportFor, "", active)
	require.NoError(t, err)
	_, err = env.gov.CastVote(p.ID, "dave", domain.SupportAgainst, "", active)
	require.NoError(t, err)

	state, err := env.gov.State(p.ID, p.VotingEnd)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDefeated, state)
}

func TestGovernor_Queue(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)
	_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)

	queueTime := p.VotingEnd.Add(time.Minute)
	op, err := env.gov.Queue(p.ID, queueTime)
	require.NoError(t, err)
	assert.Equal(t, queueTime.Add(48*time.Hour), op.ETA)

	got, state, err := env.gov.GetProposal(p.ID, queueTime)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, state)
	assert.Equal(t, op.ID, got.OperationID)
	assert.Equal(t, op.ETA, got.ETA)

	// A queued proposal cannot be queued again.
	_, err = env.gov.Queue(p.ID, queueTime.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGovernor_QueueRequiresSuccess(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)

	// Pending.
	_, err := env.gov.Queue(p.ID, now)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Active.
	_, err = env.gov.Queue(p.ID, p.VotingStart.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Defeated (no votes).
	_, err = env.gov.Queue(p.ID, p.VotingEnd.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGovernor_QueueWindowExpiry(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)
	_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)

	// Still queueable within the window.
	state, err := env.gov.State(p.ID, p.VotingEnd.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, state)

	// Past the window the proposal derives to Expired.
	late := p.VotingEnd.Add(25 * time.Hour)
	state, err = env.gov.State(p.ID, late)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, state)

	// A queue attempt persists the expiry and reports the conflict.
	_, err = env.gov.Queue(p.ID, late)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := env.store.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, got.StoredState)
}

func TestGovernor_Cancel(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()

	t.Run("Proposer cancels while pending", func(t *testing.T) {
		p := env.propose(t, now)
		require.NoError(t, env.gov.Cancel(p.ID, "proposer", now))

		state, err := env.gov.State(p.ID, now)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCanceled, state)

		// Canceled sticks even once the window opens.
		state, err = env.gov.State(p.ID, p.VotingStart.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, domain.StateCanceled, state)
	})

	t.Run("Admin cancels while active", func(t *testing.T) {
		p := env.propose(t, now)
		require.NoError(t, env.gov.Cancel(p.ID, "admin", p.VotingStart.Add(time.Minute)))
	})

	t.Run("Stranger cannot cancel", func(t *testing.T) {
		p := env.propose(t, now)
		assert.ErrorIs(t, env.gov.Cancel(p.ID, "stranger", now), domain.ErrNotAuthorized)
	})

	t.Run("Cannot cancel after voting ended", func(t *testing.T) {
		p := env.propose(t, now)
		err := env.gov.Cancel(p.ID, "proposer", p.VotingEnd.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrNotCancellable)
	})

	t.Run("Voting on a canceled proposal fails", func(t *testing.T) {
		p := env.propose(t, now)
		require.NoError(t, env.gov.Cancel(p.ID, "proposer", now))
		_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", p.VotingStart.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrVotingClosed)
	})
}

func TestGovernor_MarkExecuted(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p := env.propose(t, now)
	active := p.VotingStart.Add(time.Minute)
	_, err := env.gov.CastVote(p.ID, "alice", domain.SupportFor, "", active)
	require.NoError(t, err)

	// Not queued yet.
	err = env.gov.MarkExecuted(p.ID, p.VotingEnd.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	queueTime := p.VotingEnd.Add(time.Minute)
	_, err = env.gov.Queue(p.ID, queueTime)
	require.NoError(t, err)

	require.NoError(t, env.gov.MarkExecuted(p.ID, queueTime.Add(48*time.Hour)))

	state, err := env.gov.State(p.ID, queueTime.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, state)

	// Executed is terminal.
	err = env.gov.MarkExecuted(p.ID, queueTime.Add(50*time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGovernor_ListProposals(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	now := time.Now()
	p1 := env.propose(t, now)
	p2 := env.propose(t, now.Add(time.Minute))

	list := env.gov.ListProposals(now.Add(2 * time.Minute))
	require.Len(t, list, 2)
	assert.Equal(t, p1.ID, list[0].Proposal.ID)
	assert.Equal(t, p2.ID, list[1].Proposal.ID)
	assert.Equal(t, domain.StatePending, list[0].State)
}

func TestGovernor_QuorumScalesWithSupplyAtSnapshot(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.seed(t)

	assert.Equal(t, int64(400), env.gov.Quorum(4))

	// Supply changes after the snapshot do not move an old quorum.
	require.NoError(t, env.ledger.RecordTransfer("", "whale", 90000, 5))
	assert.Equal(t, int64(400), env.gov.Quorum(4))
	assert.Equal(t, int64(4000), env.gov.Quorum(5))
}
