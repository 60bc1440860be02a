package identity

import "sync"

// Event is one identity-state observation. Identity is nil after sign-out.
type Event struct {
	Identity *Identity
}

const subscriptionBuffer = 16

// Subscription is one receiver of identity-state changes. Close detaches it;
// a mounted guard must Close on teardown so no state update lands on a
// disposed view.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Close detaches the subscription from its broadcaster.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Broadcaster fans identity-state changes out to subscribers. Events are
// delivered to each subscriber in publish order; when a subscriber falls
// behind the oldest buffered event is dropped, which is safe because every
// consumer re-evaluates from the latest event alone.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	next   int
	latest Event
	seeded bool
}

// NewBroadcaster initialises an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*Subscription)}
}

// Subscribe registers a new receiver. Once any state has been published, a
// new subscriber immediately receives the latest observation, so a guard
// mounted mid-session does not wait for the next transition.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriptionBuffer)
	id := b.next
	b.next++
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}
	b.subs[id] = sub
	if b.seeded {
		ch <- b.latest
	}
	return sub
}

// Publish delivers an identity-state change to all subscribers. A nil
// identity signals sign-out.
func (b *Broadcaster) Publish(id *Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = Event{Identity: id}
	b.seeded = true
	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- Event{Identity: id}:
			default:
				// Full buffer: evict the oldest event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}
