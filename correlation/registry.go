package correlation

import (
	"time"

	"github.com/code-payments/flipchat-iap/failure"
)

type entry[R any] struct {
	req        R
	registered time.Time
}

// Expired is a request evicted by Expire.
type Expired[K, R comparable] struct {
	Key     K
	Request R
}

// Registry holds the outstanding requests of one orchestrator, keyed by the
// identifier that native callbacks are correlated with. At most one request
// exists per key.
//
// Registry is not safe for concurrent use. It must only be touched from the
// execution context that owns the orchestrator.
type Registry[K, R comparable] struct {
	name    string
	timeout time.Duration
	now     func() time.Time

	entries map[K]*entry[R]
	order   []K
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used to stamp and expire entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewRegistry creates a registry. Entries older than timeout are evicted by
// Expire; a non-positive timeout disables eviction.
func NewRegistry[K, R comparable](name string, timeout time.Duration, opts ...Option) *Registry[K, R] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry[K, R]{
		name:    name,
		timeout: timeout,
		now:     o.now,
		entries: make(map[K]*entry[R]),
	}
}

// Register adds a request. It fails with failure.KindDuplicateRequest if a
// request is already outstanding for key.
func (r *Registry[K, R]) Register(key K, req R) error {
	if _, ok := r.entries[key]; ok {
		return failure.New(failure.KindDuplicateRequest, r.name, "duplicate request")
	}

	r.entries[key] = &entry[R]{req: req, registered: r.now()}
	r.order = append(r.order, key)
	return nil
}

// Resolve removes and returns the request registered for key.
func (r *Registry[K, R]) Resolve(key K) (R, bool) {
	e, ok := r.entries[key]
	if !ok {
		var zero R
		return zero, false
	}

	r.remove(key)
	return e.req, true
}

// Abandon removes the request registered for key, but only if it is still
// req. It reports whether anything was removed.
func (r *Registry[K, R]) Abandon(key K, req R) bool {
	e, ok := r.entries[key]
	if !ok || e.req != req {
		return false
	}

	r.remove(key)
	return true
}

func (r *Registry[K, R]) Peek(key K) (R, bool) {
	e, ok := r.entries[key]
	if !ok {
		var zero R
		return zero, false
	}
	return e.req, true
}

func (r *Registry[K, R]) Contains(key K) bool {
	_, ok := r.entries[key]
	return ok
}

// Find returns the oldest request matching pred.
func (r *Registry[K, R]) Find(pred func(key K, req R) bool) (K, R, bool) {
	for _, key := range r.order {
		e := r.entries[key]
		if pred(key, e.req) {
			return key, e.req, true
		}
	}

	var zeroK K
	var zeroR R
	return zeroK, zeroR, false
}

func (r *Registry[K, R]) Len() int {
	return len(r.entries)
}

// Expire removes and returns, oldest first, every request registered more
// than the registry timeout before now.
func (r *Registry[K, R]) Expire(now time.Time) []Expired[K, R] {
	if r.timeout <= 0 {
		return nil
	}

	var expired []Expired[K, R]
	for _, key := range r.order {
		e := r.entries[key]
		if now.Sub(e.registered) > r.timeout {
			expired = append(expired, Expired[K, R]{Key: key, Request: e.req})
		}
	}

	for _, x := range expired {
		r.remove(x.Key)
	}
	return expired
}

func (r *Registry[K, R]) remove(key K) {
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
