package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	log, err := logger.New("error", "test")
	require.NoError(t, err)
	return New(log)
}

func TestLedger_IssuanceCreatesPowerAndSupply(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))

	assert.Equal(t, int64(1000), l.Balance("alice"))
	assert.Equal(t, int64(1000), l.GetPower("alice", 1))
	assert.Equal(t, int64(1000), l.TotalSupply(1))
	assert.Equal(t, uint64(1), l.CurrentSeq())
}

func TestLedger_TransferMovesPower(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))
	require.NoError(t, l.RecordTransfer("alice", "bob", 400, 2))

	assert.Equal(t, int64(600), l.GetPower("alice", 2))
	assert.Equal(t, int64(400), l.GetPower("bob", 2))
	// Supply is unchanged by a plain transfer.
	assert.Equal(t, int64(1000), l.TotalSupply(2))
}

func TestLedger_RecordTransferValidation(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.RecordTransfer("", "alice", 100, 1))

	testCases := []struct {
		name     string
		from     string
		to       string
		amount   int64
		expected error
	}{
		{"Negative amount", "alice", "bob", -5, domain.ErrInvalidAmount},
		{"Both accounts empty", "", "", 10, domain.ErrInvalidAccount},
		{"Insufficient balance", "alice", "bob", 500, domain.ErrInvalidAmount},
		{"Unknown sender", "carol", "bob", 1, domain.ErrInvalidAmount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := l.RecordTransfer(tc.from, tc.to, tc.amount, 2)
			assert.ErrorIs(t, err, tc.expected)
		})
	}

	// Failed transfers must not move anything.
	assert.Equal(t, int64(100), l.GetPower("alice", 2))
	assert.Equal(t, int64(0), l.GetPower("bob", 2))
}

func TestLedger_BurnReducesSupply(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))
	require.NoError(t, l.RecordTransfer("alice", "", 300, 2))

	assert.Equal(t, int64(700), l.GetPower("alice", 2))
	assert.Equal(t, int64(700), l.TotalSupply(2))
	assert.Equal(t, int64(1000), l.TotalSupply(1))
}

func TestLedger_HistoricalPowerIsStable(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 5))
	require.NoError(t, l.RecordTransfer("alice", "bob", 600, 10))
	require.NoError(t, l.RecordTransfer("bob", "alice", 100, 20))

	// Before any checkpoint.
	assert.Equal(t, int64(0), l.GetPower("alice", 4))
	// Between checkpoints the latest one at or before the seq wins.
	assert.Equal(t, int64(1000), l.GetPower("alice", 5))
	assert.Equal(t, int64(1000), l.GetPower("alice", 9))
	assert.Equal(t, int64(400), l.GetPower("alice", 10))
	assert.Equal(t, int64(400), l.GetPower("alice", 15))
	assert.Equal(t, int64(500), l.GetPower("alice", 25))

	// Re-reading an old seq after later writes gives the same answer.
	assert.Equal(t, int64(1000), l.GetPower("alice", 9))
}

func TestLedger_DelegationMovesAggregatePower(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))
	require.NoError(t, l.Delegate("alice", "bob", 2))

	assert.Equal(t, int64(0), l.GetPower("alice", 2))
	assert.Equal(t, int64(1000), l.GetPower("bob", 2))
	// History before the delegation is untouched.
	assert.Equal(t, int64(1000), l.GetPower("alice", 1))
	assert.Equal(t, int64(0), l.GetPower("bob", 1))
	assert.Equal(t, "bob", l.DelegateeOf("alice"))
	// Balance ownership does not move with delegation.
	assert.Equal(t, int64(1000), l.Balance("alice"))
}

func TestLedger_DelegationFollowsTransfers(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))
	require.NoError(t, l.Delegate("alice", "bob", 2))
	// Alice's side of the transfer now debits bob's aggregate.
	require.NoError(t, l.RecordTransfer("alice", "carol", 250, 3))

	assert.Equal(t, int64(750), l.GetPower("bob", 3))
	assert.Equal(t, int64(250), l.GetPower("carol", 3))
	assert.Equal(t, int64(0), l.GetPower("alice", 3))
}

func TestLedger_RedelegationSwitchesAggregate(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 500, 1))
	require.NoError(t, l.Delegate("alice", "bob", 2))
	require.NoError(t, l.Delegate("alice", "carol", 3))

	assert.Equal(t, int64(0), l.GetPower("bob", 3))
	assert.Equal(t, int64(500), l.GetPower("carol", 3))
	assert.Equal(t, int64(500), l.GetPower("bob", 2))
}

func TestLedger_DelegateValidation(t *testing.T) {
	l := newTestLedger(t)

	assert.ErrorIs(t, l.Delegate("", "bob", 1), domain.ErrInvalidAccount)
	assert.ErrorIs(t, l.Delegate("alice", "", 1), domain.ErrInvalidAccount)

	// Re-delegating to the current delegatee is a no-op, not an error.
	require.NoError(t, l.RecordTransfer("", "alice", 100, 1))
	require.NoError(t, l.Delegate("alice", "alice", 2))
	assert.Equal(t, int64(100), l.GetPower("alice", 2))
}

func TestLedger_SameSeqEventsCollapse(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 100, 7))
	require.NoError(t, l.RecordTransfer("", "alice", 50, 7))

	assert.Equal(t, int64(150), l.GetPower("alice", 7))
	assert.Equal(t, int64(0), l.GetPower("alice", 6))
	assert.Equal(t, int64(150), l.TotalSupply(7))
}

func TestLedger_RejectsOutOfOrderSeq(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 100, 10))

	// A write below the last applied seq would unsort the checkpoint
	// series and corrupt every historical lookup after it.
	assert.ErrorIs(t, l.RecordTransfer("", "alice", 50, 5), domain.ErrStaleSequence)
	assert.ErrorIs(t, l.Delegate("alice", "bob", 5), domain.ErrStaleSequence)

	assert.Equal(t, int64(0), l.GetPower("alice", 7))
	assert.Equal(t, int64(100), l.GetPower("alice", 10))
	assert.Equal(t, int64(100), l.TotalSupply(10))
	assert.Equal(t, uint64(10), l.CurrentSeq())

	// Events at or above the current seq still apply.
	require.NoError(t, l.RecordTransfer("", "alice", 50, 10))
	assert.Equal(t, int64(150), l.GetPower("alice", 10))
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.RecordTransfer("", "alice", 1000, 1))
	require.NoError(t, l.Delegate("alice", "bob", 2))
	require.NoError(t, l.RecordTransfer("alice", "carol", 100, 3))

	snap := l.Snapshot()

	restored := newTestLedger(t)
	restored.Restore(snap)

	assert.Equal(t, l.CurrentSeq(), restored.CurrentSeq())
	assert.Equal(t, l.GetPower("bob", 3), restored.GetPower("bob", 3))
	assert.Equal(t, l.GetPower("bob", 2), restored.GetPower("bob", 2))
	assert.Equal(t, l.TotalSupply(3), restored.TotalSupply(3))
	assert.Equal(t, l.Balance("alice"), restored.Balance("alice"))
	assert.Equal(t, "bob", restored.DelegateeOf("alice"))

	// The restored ledger keeps accepting events.
	require.NoError(t, restored.RecordTransfer("carol", "alice", 50, 4))
	assert.Equal(t, int64(50), restored.GetPower("carol", 4))
}
