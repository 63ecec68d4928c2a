// Package events delivers store lifecycle notifications to observers.
//
// Delivery is synchronous and in publication order. Observers run on the
// publishing goroutine and must not call back into the publishing store.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies a notification.
type Kind int

const (
	Opened Kind = iota + 1
	Closed
	SchemaChanged
	MatchCountChanged
	OperationStarted
	StepDone
	OperationEnded
)

func (k Kind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case SchemaChanged:
		return "schema_changed"
	case MatchCountChanged:
		return "match_count_changed"
	case OperationStarted:
		return "operation_started"
	case StepDone:
		return "step_done"
	case OperationEnded:
		return "operation_ended"
	default:
		return "unknown"
	}
}

// Event is one notification. Store is the id of the publishing handle.
// Operation, Label, Total and Step are set for bulk operation progress.
type Event struct {
	Kind      Kind
	Store     uuid.UUID
	Operation uuid.UUID
	Label     string
	Total     int
	Step      int
}

// Handler receives events.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is ready to use and a
// nil *Bus discards everything.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	order    []int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, id)
	for i, o := range b.order {
		if o == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers e to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

// Progress publishes the started/step/ended sequence of one bulk operation.
type Progress struct {
	bus   *Bus
	store uuid.UUID
	op    uuid.UUID
	label string
	total int
}

// StartOperation publishes OperationStarted and returns a Progress for the
// remaining notifications.
func (b *Bus) StartOperation(store uuid.UUID, label string, total int) *Progress {
	p := &Progress{bus: b, store: store, op: newOperationID(), label: label, total: total}
	b.Publish(Event{Kind: OperationStarted, Store: store, Operation: p.op, Label: label, Total: total})
	return p
}

// Step publishes StepDone for step i.
func (p *Progress) Step(i int) {
	p.bus.Publish(Event{Kind: StepDone, Store: p.store, Operation: p.op, Label: p.label, Total: p.total, Step: i})
}

// End publishes OperationEnded.
func (p *Progress) End() {
	p.bus.Publish(Event{Kind: OperationEnded, Store: p.store, Operation: p.op, Label: p.label, Total: p.total, Step: p.total})
}

// ID returns the operation id shared by all events of the operation.
func (p *Progress) ID() uuid.UUID { return p.op }

func newOperationID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
