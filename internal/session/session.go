// Package session tracks the authenticated-user state reported by the auth
// layer. There is no hidden global: a Broadcaster is constructed once and
// handed to whoever needs change notifications, and each long-lived client
// view gets its own Context.
package session

import (
	"log/slog"
	"sync"

	"luminabooks/pkg/domain"
)

type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event is one session change reported by the auth layer.
type Event struct {
	Type EventType
	User domain.User
}

const subscriberBuffer = 16

// Broadcaster is a single-producer, multi-consumer notification channel for
// session changes. Events are delivered to subscribers in publish order; a
// subscriber that stops draining its channel loses events rather than
// blocking the producer.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("session event dropped for slow subscriber", "type", ev.Type)
		}
	}
}

// Close tears down all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Context is one client's view of its session. It starts in a loading state
// and settles on the first Resolve call; afterwards it stays consistent with
// the broadcaster's last event for its user. Mutation is always a full
// replacement of the held value.
type Context struct {
	mu      sync.RWMutex
	user    *domain.User
	loading bool

	done     chan struct{}
	doneOnce sync.Once
	cancel   func()
}

// NewContext builds a session view subscribed to the broadcaster.
// Close must be called when the client goes away.
func NewContext(b *Broadcaster) *Context {
	ch, cancel := b.Subscribe()
	c := &Context{
		loading: true,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go c.watch(ch)
	return c
}

func (c *Context) watch(ch <-chan Event) {
	for ev := range ch {
		c.mu.Lock()
		held := c.user
		c.mu.Unlock()
		if held == nil {
			continue
		}
		switch ev.Type {
		case EventSignedIn:
			if ev.User.ID == held.ID {
				u := ev.User
				c.replace(&u)
			}
		case EventSignedOut:
			if ev.User.ID == held.ID {
				c.replace(nil)
				c.signalDone()
			}
		}
	}
}

// Resolve settles the session with the given user (or none) and clears the
// loading flag. The initial resolution and later refreshes go through the
// same path.
func (c *Context) Resolve(user *domain.User) {
	c.replace(user)
}

func (c *Context) replace(user *domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.loading = false
}

// Current returns the held user, if any.
func (c *Context) Current() (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return domain.User{}, false
	}
	return *c.user, true
}

// Loading reports whether the session has settled yet.
func (c *Context) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// SignOut runs the provider sign-out and then clears the held user. The
// held value is cleared even when the provider call fails; the caller only
// gets the error to surface.
func (c *Context) SignOut(signOut func() error) error {
	err := signOut()
	c.replace(nil)
	c.signalDone()
	return err
}

// Done is closed once the session has signed out, from either side.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

func (c *Context) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Close unsubscribes from the broadcaster.
func (c *Context) Close() {
	c.cancel()
}
