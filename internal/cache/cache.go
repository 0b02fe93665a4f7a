// Package cache implements the Caching Wrapper (spec §4.7): generic
// (validity, redundancy) memoisation over a caller-supplied accessor, so an
// adapter can call an external system at most once per cycle and tolerate
// transient failures for a bounded time without losing its last good value.
package cache

import (
	"context"
	"sync"
	"time"

	"roced/internal/clock"
)

// Wrapper memoises the result of fn. Within validity of the last successful
// call, the cached value is returned without invoking fn. Between validity
// and validity+redundancy, fn is invoked; on failure the cached value is
// returned instead, and on success the cache is refreshed. Beyond
// validity+redundancy the cache is discarded and failure propagates.
// validity = -1 means "always eligible for refresh", honouring redundancy
// as the fallback window.
type Wrapper[T any] struct {
	mu         sync.Mutex
	fn         func(ctx context.Context) (T, error)
	validity   time.Duration
	redundancy time.Duration
	clock      clock.Clock

	have     bool
	value    T
	cachedAt time.Time
}

// New wraps fn with the given validity and redundancy windows. A nil clock
// defaults to clock.RealClock{}.
func New[T any](fn func(ctx context.Context) (T, error), validity, redundancy time.Duration, clk clock.Clock) *Wrapper[T] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Wrapper[T]{fn: fn, validity: validity, redundancy: redundancy, clock: clk}
}

// Get returns the memoised value, calling fn as the (validity, redundancy)
// rule dictates.
func (w *Wrapper[T]) Get(ctx context.Context) (T, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	var age time.Duration
	if w.have {
		age = now.Sub(w.cachedAt)
	}

	fresh := w.have && w.validity >= 0 && age <= w.validity
	if fresh {
		return w.value, nil
	}

	effectiveValidity := w.validity
	if effectiveValidity < 0 {
		effectiveValidity = 0
	}
	withinRedundancy := w.have && age <= effectiveValidity+w.redundancy

	v, err := w.fn(ctx)
	if err == nil {
		w.value = v
		w.cachedAt = now
		w.have = true
		return w.value, nil
	}

	if withinRedundancy {
		return w.value, nil
	}

	w.have = false
	var zero T
	return zero, err
}

// Invalidate discards the cached value, forcing the next Get to call fn
// regardless of validity.
func (w *Wrapper[T]) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.have = false
}
