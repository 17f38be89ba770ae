// Package pubsub is a small generic event bus, trimmed from the teacher's
// internal/pubsub (which also offered Unsubscribe and a NumDropped/
// ForceShutdown pair) down to the subset group.Group actually drives:
// publish, a typed subscribe, and a graceful drain on shutdown.
package pubsub

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventType is the type of event subscribers are listening for.
type EventType int

// SubscriptionOptions configures how a single subscriber's channel is fed.
type SubscriptionOptions struct {
	// IsBlocking, if true, makes the broker block to deliver to this
	// subscriber rather than dropping the event when its channel is full.
	// Should generally stay false so one slow subscriber can't stall the bus.
	IsBlocking bool
}

// SubscriberID identifies one subscription, returned by Subscribe.
type SubscriberID uint64

var nextSubscriberID uint64

// Event carries a typed payload with compile-time type safety: each
// instantiation of Event[T] is a distinct concrete type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

func NewEvent[T any](eventType EventType, payload T) *Event[T] {
	return &Event[T]{Type: eventType, Payload: payload}
}

// subscriber is the type-erased registry entry. Subscribe captures a typed
// channel (chan *Event[T]) in this closure so subscribers of different
// payload types can share one registry map; Publish also type-asserts
// through the closure instead of the caller doing it. Trimmed from the
// teacher's version, which also stored a closeFunc for Unsubscribe — no
// caller here ever unsubscribes, a Group's observers live for its lifetime.
type subscriber struct {
	sendFunc func(eventType EventType, payload any) bool
}

// PubSubClient is a thread-safe fan-out broker for one Group's lifecycle
// events.
type PubSubClient struct {
	mu       sync.RWMutex
	wg       sync.WaitGroup
	registry map[EventType]map[SubscriberID]*subscriber

	publishChan chan struct {
		eventType EventType
		payload   any
	}

	shuttingDown atomic.Bool
}

func NewPubSub() *PubSubClient {
	p := &PubSubClient{
		registry: make(map[EventType]map[SubscriberID]*subscriber),
		publishChan: make(chan struct {
			eventType EventType
			payload   any
		}, 100),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Subscribe registers ch to receive every Event[T] published under
// eventType. Go doesn't allow a generic method on a non-generic receiver,
// so this is a free function taking the client, the way the standard
// library does it for e.g. slices.Sort[T](s).
func Subscribe[T any](p *PubSubClient, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := SubscriberID(atomic.AddUint64(&nextSubscriberID, 1))
	sub := &subscriber{
		sendFunc: func(evType EventType, payload any) bool {
			typedPayload, ok := payload.(T)
			if !ok {
				log.Printf("[pubsub] type mismatch for event %v: expected %T, got %T", evType, *new(T), payload)
				return false
			}
			event := &Event[T]{Type: evType, Payload: typedPayload}
			if opts.IsBlocking {
				ch <- event
				return true
			}
			select {
			case ch <- event:
				return true
			default:
				return false
			}
		},
	}

	if _, ok := p.registry[eventType]; !ok {
		p.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	p.registry[eventType][id] = sub
	return id
}

// Publish broadcasts event to every subscriber of its type. The RLock held
// here is what makes this safe to call concurrently with GracefulShutdown:
// GracefulShutdown needs the write lock to close publishChan, so it cannot
// run (and close the channel) while any Publish call is mid-send.
func Publish[T any](p *PubSubClient, event *Event[T]) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.shuttingDown.Load() {
		return
	}
	p.publishChan <- struct {
		eventType EventType
		payload   any
	}{eventType: event.Type, payload: event.Payload}
}

// GracefulShutdown stops accepting new publishes, drains whatever is
// already buffered, and waits for the broker goroutine to exit.
func (p *PubSubClient) GracefulShutdown() {
	p.mu.Lock()
	if p.shuttingDown.Load() {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shuttingDown.Store(true)
	close(p.publishChan)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *PubSubClient) run() {
	defer p.wg.Done()
	for msg := range p.publishChan {
		p.mu.RLock()
		for _, sub := range p.registry[msg.eventType] {
			sub.sendFunc(msg.eventType, msg.payload)
		}
		p.mu.RUnlock()
	}
}
