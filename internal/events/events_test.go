package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
)

func newTestNotifier(t *testing.T, bufferSize int) *Notifier {
	t.Helper()
	log, err := logger.New("error", "test")
	require.NoError(t, err)
	return NewNotifier(bufferSize, log)
}

func TestNotifier_PublishDeliversToSubscribers(t *testing.T) {
	n := newTestNotifier(t, 8)
	defer n.Close()

	sub1 := n.Subscribe()
	sub2 := n.Subscribe()

	n.Publish(ProposalCreated, "prop-1", domain.StatePending, map[string]interface{}{
		"proposer": "alice",
	})

	for _, sub := range []<-chan Event{sub1, sub2} {
		event := <-sub
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, ProposalCreated, event.Type)
		assert.Equal(t, "prop-1", event.EntityID)
		assert.Equal(t, domain.StatePending, event.State)
		assert.Equal(t, "alice", event.Data["proposer"])
		assert.False(t, event.OccurredAt.IsZero())
	}
}

func TestNotifier_PublishNeverBlocks(t *testing.T) {
	n := newTestNotifier(t, 1)
	defer n.Close()

	sub := n.Subscribe()

	// Fill the buffer and keep publishing; overflow is dropped, not blocked.
	n.Publish(VoteCast, "prop-1", domain.StateActive, nil)
	n.Publish(VoteCast, "prop-2", domain.StateActive, nil)
	n.Publish(VoteCast, "prop-3", domain.StateActive, nil)

	event := <-sub
	assert.Equal(t, "prop-1", event.EntityID)

	select {
	case extra, ok := <-sub:
		if ok {
			t.Fatalf("expected dropped events, got %v", extra)
		}
	default:
	}
}

func TestNotifier_CloseStopsDelivery(t *testing.T) {
	n := newTestNotifier(t, 4)
	sub := n.Subscribe()

	n.Close()
	// Publishing after close is a no-op, and double close is safe.
	n.Publish(ProposalExecuted, "prop-1", domain.StateExecuted, nil)
	n.Close()

	_, ok := <-sub
	assert.False(t, ok)
}

func TestNotifier_DefaultBufferSize(t *testing.T) {
	n := newTestNotifier(t, 0)
	defer n.Close()
	assert.Equal(t, 64, n.bufferSize)
}

func TestNopPublisher(t *testing.T) {
	// Must not panic with nil data.
	NopPublisher{}.Publish(ProposalCanceled, "prop-1", domain.StateCanceled, nil)
}
