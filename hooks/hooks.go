// Package hooks carries lifecycle events out of the server. Observational
// events go through an asynchronous buffered bus and can never fail an
// authentication flow; the gating hooks (login validation, session
// resumption) live on the server options and run synchronously.
package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle moment.
type EventType string

const (
	EventUserCreated      EventType = "user.created"
	EventUserDeactivated  EventType = "user.deactivated"
	EventUserActivated    EventType = "user.activated"
	EventLoginSuccess     EventType = "login.success"
	EventLoginFailure     EventType = "login.failure"
	EventSessionResumed   EventType = "session.resumed"
	EventSessionRefreshed EventType = "session.refreshed"
	EventLogout           EventType = "logout"
	EventImpersonation    EventType = "impersonation"
	EventEmailVerified    EventType = "email.verified"
	EventPasswordReset    EventType = "password.reset"
)

// Event is one observed lifecycle moment. Fields that don't apply to the
// event type stay empty.
type Event struct {
	ID        string
	Type      EventType
	At        time.Time
	UserID    string
	SessionID string
	Strategy  string
	IP        string
	UserAgent string

	// Error holds the failure description on failure events.
	Error string
}

// Sink receives events. Implementations must be safe for concurrent use and
// should return quickly; a slow sink backs up the bus buffer.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Config tunes the Bus.
type Config struct {
	// BufferSize is the channel depth. Defaults to 64.
	BufferSize int

	// DropIfFull makes Emit drop events instead of blocking when the
	// buffer is full. Dropped counts the casualties.
	DropIfFull bool
}

// Bus fans events to one sink from a single goroutine. A nil *Bus is valid
// and drops everything, so callers never need nil checks.
type Bus struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewBus(cfg Config, sink Sink) *Bus {
	if sink == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}

	b := &Bus{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Bus) run() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.ch:
			b.sink.Emit(context.Background(), event)
		case <-b.done:
			// Drain whatever was queued before Close.
			for {
				select {
				case event := <-b.ch:
					b.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues an event. Missing ID and At fields are filled in here.
func (b *Bus) Emit(ctx context.Context, event Event) {
	if b == nil || b.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if b.cfg.DropIfFull {
		select {
		case b.ch <- event:
		case <-b.done:
		default:
			b.dropped.Add(1)
		}
		return
	}

	select {
	case b.ch <- event:
	case <-ctx.Done():
	case <-b.done:
	}
}

// Close stops the bus after draining queued events. Safe to call twice.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.wg.Wait()
	})
}

// Dropped reports how many events DropIfFull discarded.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
