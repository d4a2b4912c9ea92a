package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
)

type Type string

const (
	ProposalCreated  Type = "proposal.created"
	VoteCast         Type = "vote.cast"
	ProposalQueued   Type = "proposal.queued"
	ProposalExecuted Type = "proposal.executed"
	ProposalCanceled Type = "proposal.canceled"
)

// Event is the envelope handed to external consumers (indexers, UI refresh).
// Delivery is fire-and-forget; the engine makes no guarantee beyond a
// best-effort non-blocking send.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	EntityID   string                 `json:"entity_id"`
	State      domain.ProposalState   `json:"state,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type Publisher interface {
	Publish(eventType Type, entityID string, state domain.ProposalState, data map[string]interface{})
}

// Notifier fans events out to subscriber channels. Publish never blocks: a
// subscriber that cannot keep up loses events rather than stalling a state
// transition.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
	closed      bool
	logger      *logger.Logger
}

func NewNotifier(bufferSize int, log *logger.Logger) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Notifier{
		bufferSize: bufferSize,
		logger:     log,
	}
}

func (n *Notifier) Subscribe() <-chan Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Event, n.bufferSize)
	n.subscribers = append(n.subscribers, ch)
	return ch
}

func (n *Notifier) Publish(eventType Type, entityID string, state domain.ProposalState, data map[string]interface{}) {
	event := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		EntityID:   entityID,
		State:      state,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			metrics.EventsDropped.Inc()
			n.logger.Warnw("Dropped governance notification for slow subscriber",
				"type", eventType,
				"entityId", entityID,
			)
		}
	}
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = nil
}

// NopPublisher discards all events; used where notifications are not wired.
type NopPublisher struct{}

func (NopPublisher) Publish(Type, string, domain.ProposalState, map[string]interface{}) {}
