package events

import (
	"sync"

	"github.com/google/uuid"

	"marketd/core/types"
)

const defaultBacklogLimit = 1024

// StreamEvent is one entry of the append-only event feed. The cursor is an
// opaque identifier clients hand back to resume a stream without replaying
// entries they have already seen.
type StreamEvent struct {
	Cursor   string       `json:"cursor"`
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Broadcaster retains an ordered backlog of emitted events and fans them out
// to live subscribers. It satisfies the Emitter interface so it can be wired
// directly into the marketplace engine.
type Broadcaster struct {
	mu      sync.Mutex
	backlog []StreamEvent
	limit   int
	seq     uint64
	subs    map[uint64]chan StreamEvent
	nextSub uint64
	onDrop  func()
}

func NewBroadcaster(backlogLimit int) *Broadcaster {
	if backlogLimit <= 0 {
		backlogLimit = defaultBacklogLimit
	}
	return &Broadcaster{
		limit: backlogLimit,
		subs:  make(map[uint64]chan StreamEvent),
	}
}

// Emit implements the Emitter interface. Events that cannot render a payload
// are recorded with their type only so the feed never silently drops an
// operation.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if pe, ok := evt.(PayloadEvent); ok {
		if rendered := pe.Event(); rendered != nil {
			payload = rendered
		}
	}

	b.mu.Lock()
	b.seq++
	entry := StreamEvent{
		Cursor:   uuid.NewString(),
		Sequence: b.seq,
		Event:    payload,
	}
	b.backlog = append(b.backlog, entry)
	if len(b.backlog) > b.limit {
		b.backlog = b.backlog[len(b.backlog)-b.limit:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber; it can recover missed entries via its cursor.
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
	b.mu.Unlock()
}

// SetDropHandler registers a callback invoked once per entry discarded
// because a subscriber channel was full. Passing nil removes the handler.
func (b *Broadcaster) SetDropHandler(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a new stream consumer. The returned backlog holds every
// retained entry after the supplied cursor (the full backlog when the cursor
// is empty or unknown); subsequent entries arrive on the channel. The cancel
// function must be called to release the subscription.
func (b *Broadcaster) Subscribe(cursor string) (<-chan StreamEvent, func(), []StreamEvent) {
	ch := make(chan StreamEvent, 128)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	start := 0
	if cursor != "" {
		for i, entry := range b.backlog {
			if entry.Cursor == cursor {
				start = i + 1
				break
			}
		}
	}
	backlog := make([]StreamEvent, len(b.backlog)-start)
	copy(backlog, b.backlog[start:])
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel, backlog
}
