// Package statuspub delivers immutable status snapshots to subscribers.
// It is a single-topic simplification of an MQTT-style topic bus: a roof
// controller has exactly one status feed, so the wildcard trie,
// retained-message tree, and topic matching are unneeded — what's kept is
// the non-blocking, bounded, replace-oldest delivery discipline
// (tryDeliver/trySend/drainOne) that gives at-most-one concurrent
// delivery per subscriber without the publisher ever blocking on a slow
// subscriber.
package statuspub

import "sync"

// Publisher fans snapshots of type T out to its subscribers. T is an
// opaque type parameter from this package's point of view — callers
// instantiate Publisher[roofcore.StatusSnapshot].
type Publisher[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
	last T
	have bool
}

// Subscription is a live feed of snapshots. Channel is buffered; a
// publish that finds it full drops the oldest queued snapshot and
// enqueues the new one, so subscribers always converge on the latest
// state rather than an unbounded backlog of stale ones.
type Subscription[T any] struct {
	ch chan T
	p  *Publisher[T]
}

// Channel returns the delivery channel. It is closed when the
// subscription is removed.
func (s *Subscription[T]) Channel() <-chan T { return s.ch }

// Unsubscribe removes this subscription. Idempotent.
func (s *Subscription[T]) Unsubscribe() { s.p.remove(s) }

// New returns an empty Publisher.
func New[T any]() *Publisher[T] { return &Publisher[T]{} }

// Subscribe registers a new subscriber with the given buffer depth (at
// least 1). If a snapshot has already been published, the new subscriber
// immediately receives it — a late subscriber should never have to wait
// for the next transition to learn the current state.
func (p *Publisher[T]) Subscribe(queueLen int) *Subscription[T] {
	if queueLen < 1 {
		queueLen = 1
	}
	sub := &Subscription[T]{ch: make(chan T, queueLen), p: p}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	last, have := p.last, p.have
	p.mu.Unlock()

	if have {
		trySend(sub.ch, last)
	}
	return sub
}

func (p *Publisher[T]) remove(sub *Subscription[T]) {
	p.mu.Lock()
	for i, s := range p.subs {
		if s == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	p.mu.Unlock()
}

// Publish delivers snapshot to every current subscriber without blocking.
func (p *Publisher[T]) Publish(snapshot T) {
	p.mu.Lock()
	p.last = snapshot
	p.have = true
	subs := append([]*Subscription[T](nil), p.subs...)
	p.mu.Unlock()

	for _, sub := range subs {
		tryDeliver(sub.ch, snapshot)
	}
}

// Close unsubscribes and closes every subscriber's channel. Called from
// controller Dispose.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

func trySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

func drainOne[T any](ch chan T) {
	select {
	case <-ch:
	default:
	}
}

func tryDeliver[T any](ch chan T, v T) {
	defer func() { _ = recover() }() // channel may have raced a concurrent Unsubscribe/Close
	if trySend(ch, v) {
		return
	}
	drainOne(ch)
	_ = trySend(ch, v)
}
