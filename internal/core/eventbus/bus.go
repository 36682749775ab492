// Package eventbus is an in-process publish/subscribe registry. One Bus is
// created per watched aggregate type.
//
// Publish delivers synchronously on the caller's goroutine to the handlers
// registered when iteration begins. The registry is copy-on-write, so
// Publish holds no lock and handlers may Subscribe or Unsubscribe freely,
// including themselves.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/metrics"
)

type Handler[T any] interface {
	Handle(ctx context.Context, ev domain.ChangeEvent[T]) error
}

// HandlerFunc adapts a function to Handler. Function values cannot be
// compared, so each Subscribe of a HandlerFunc creates a new subscription.
type HandlerFunc[T any] func(ctx context.Context, ev domain.ChangeEvent[T]) error

func (f HandlerFunc[T]) Handle(ctx context.Context, ev domain.ChangeEvent[T]) error {
	return f(ctx, ev)
}

// Subscription binds one handler to one bus. It is invalid after Unsubscribe.
type Subscription[T any] struct {
	id      string
	handler Handler[T]
	bus     *Bus[T]
	active  atomic.Bool
}

func (s *Subscription[T]) ID() string { return s.id }

func (s *Subscription[T]) Active() bool { return s.active.Load() }

// Unsubscribe is shorthand for s's bus Unsubscribe.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.Unsubscribe(s)
}

// Delivery summarizes one Publish call.
type Delivery struct {
	Delivered int
	Failed    int
	Skipped   int // unsubscribed after the snapshot was taken
}

type Bus[T any] struct {
	name    string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex // serializes writers only
	subs atomic.Pointer[[]*Subscription[T]]
}

type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func New[T any](name string, opts ...Option) *Bus[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bus[T]{
		name:    name,
		logger:  o.logger.With(zap.String("bus", name)),
		metrics: o.metrics,
	}
	empty := make([]*Subscription[T], 0)
	b.subs.Store(&empty)
	return b
}

func (b *Bus[T]) Name() string { return b.name }

// Len returns the number of registered handlers.
func (b *Bus[T]) Len() int {
	return len(*b.subs.Load())
}

// Subscribe registers h. Registering a handler value that is already
// registered returns the existing subscription.
func (b *Bus[T]) Subscribe(h Handler[T]) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	for _, s := range current {
		if s.active.Load() && sameHandler(s.handler, h) {
			return s
		}
	}

	sub := &Subscription[T]{id: uuid.NewString(), handler: h, bus: b}
	sub.active.Store(true)

	next := make([]*Subscription[T], len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	b.subs.Store(&next)

	b.metrics.Subscribers(b.name, len(next))
	b.logger.Debug("handler subscribed", zap.String("subscription_id", sub.id))
	return sub
}

// SubscribeFunc registers f as a handler.
func (b *Bus[T]) SubscribeFunc(f func(ctx context.Context, ev domain.ChangeEvent[T]) error) *Subscription[T] {
	return b.Subscribe(HandlerFunc[T](f))
}

// Unsubscribe removes sub. It is idempotent and safe from inside a handler
// and concurrently with Publish.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil || sub.bus != b {
		return
	}
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	next := make([]*Subscription[T], 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)

	b.metrics.Subscribers(b.name, len(next))
	b.logger.Debug("handler unsubscribed", zap.String("subscription_id", sub.id))
}

// Publish delivers ev to every handler registered when it is called, in
// registration order. Handler errors and panics are logged and counted but
// never returned.
func (b *Bus[T]) Publish(ctx context.Context, ev domain.ChangeEvent[T]) Delivery {
	var d Delivery
	for _, s := range *b.subs.Load() {
		if !s.active.Load() {
			d.Skipped++
			continue
		}
		if err := b.deliver(ctx, s, ev); err != nil {
			d.Failed++
			b.metrics.Delivery(b.name, false)
			b.logger.Error("handler failed",
				zap.String("subscription_id", s.id),
				zap.String("event_id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.String("entity_id", ev.EntityID),
				zap.Error(err),
			)
			continue
		}
		d.Delivered++
		b.metrics.Delivery(b.name, true)
	}
	return d
}

func (b *Bus[T]) deliver(ctx context.Context, s *Subscription[T], ev domain.ChangeEvent[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, ev)
}

func sameHandler[T any](a, b Handler[T]) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	defer func() { _ = recover() }() // comparable struct holding an uncomparable interface value
	return a == b
}
