package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/internal/infrastructure/chain"
	"github.com/quorumkit/governance-service/internal/ledger"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/pkg/logger"
)

// TestLogger creates a quiet logger for tests
func TestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "test")
	require.NoError(t, err)
	return log
}

// CreateTestProposal creates a test proposal with default values
func CreateTestProposal(t *testing.T) domain.Proposal {
	t.Helper()
	now := time.Now()
	return domain.Proposal{
		ID:          uuid.New().String(),
		Proposer:    "gov1proposer000000000000000000000000",
		Actions:     CreateTestActions(1),
		Description: "Test proposal",
		SnapshotSeq: 100,
		VotingStart: now.Add(24 * time.Hour),
		VotingEnd:   now.Add(96 * time.Hour),
		CreatedAt:   now,
	}
}

// CreateTestActions creates a list of test actions
func CreateTestActions(count int) []domain.Action {
	actions := make([]domain.Action, count)
	for i := 0; i < count; i++ {
		actions[i] = domain.Action{
			Target: fmt.Sprintf("treasury-%d", i),
			Value:  int64(1000 * (i + 1)),
		}
	}
	return actions
}

// CreateTestOperation creates a scheduled timelock operation
func CreateTestOperation(t *testing.T, proposalID string) domain.TimelockOperation {
	t.Helper()
	now := time.Now()
	return domain.TimelockOperation{
		ID:          uuid.New().String(),
		ProposalID:  proposalID,
		ETA:         now.Add(48 * time.Hour),
		State:       domain.OperationScheduled,
		ScheduledAt: now,
	}
}

// GenerateAccounts generates a list of account addresses for testing
func GenerateAccounts(count int) []string {
	accounts := make([]string, count)
	for i := 0; i < count; i++ {
		accounts[i] = fmt.Sprintf("gov1account%02d%s", i, uuid.New().String()[:8])
	}
	return accounts
}

// CreateTestLedgerEvent creates a transfer event for the ledger feed
func CreateTestLedgerEvent(seq uint64, from, to string, amount int64) chain.LedgerEvent {
	return chain.LedgerEvent{
		Seq:       seq,
		Kind:      chain.EventKindTransfer,
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: time.Now(),
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within timeout of %v", timeout)
}

// TestContext creates a test context with timeout
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// MockRepository is a mock implementation of the persistence surface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) SaveProposal(p domain.Proposal) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockRepository) SaveVote(v domain.VoteRecord) error {
	args := m.Called(v)
	return args.Error(0)
}

func (m *MockRepository) SaveOperation(op domain.TimelockOperation) error {
	args := m.Called(op)
	return args.Error(0)
}

func (m *MockRepository) SaveLedgerSnapshot(snap ledger.Snapshot) error {
	args := m.Called(snap)
	return args.Error(0)
}

func (m *MockRepository) LoadLedgerSnapshot() (ledger.Snapshot, error) {
	args := m.Called()
	return args.Get(0).(ledger.Snapshot), args.Error(1)
}

func (m *MockRepository) LoadStoreSnapshot() (store.Snapshot, error) {
	args := m.Called()
	return args.Get(0).(store.Snapshot), args.Error(1)
}

func (m *MockRepository) LoadOperations() ([]domain.TimelockOperation, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TimelockOperation), args.Error(1)
}

func (m *MockRepository) GetStats() (map[string]interface{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// MockChainClient is a mock implementation of the ledger event feed
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) GetEventsFromSeq(ctx context.Context, seq uint64, limit int) ([]chain.LedgerEvent, error) {
	args := m.Called(ctx, seq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chain.LedgerEvent), args.Error(1)
}

func (m *MockChainClient) GetHistoricalEvents(ctx context.Context, fromSeq uint64, batchSize int) (<-chan []chain.LedgerEvent, <-chan error) {
	args := m.Called(ctx, fromSeq, batchSize)
	return args.Get(0).(<-chan []chain.LedgerEvent), args.Get(1).(<-chan error)
}

// MockExecutor is a controllable action executor for timelock tests
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Apply(ctx context.Context, action domain.Action) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}
