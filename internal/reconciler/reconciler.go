// Package reconciler keeps a local, ordered view of the visible listings
// consistent with the listings change feed and exposes it as an observable
// store.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"botdash/internal/model"
)

// DefaultLimit is the number of listings fetched by the initial bulk read.
const DefaultLimit = 100

// Source is the remote listing table: a bulk read of the newest visible
// listings and a change feed.
type Source interface {
	RecentVisibleListings(ctx context.Context, limit int) ([]model.Listing, error)
	SubscribeListings(fn func(model.Change)) (unsubscribe func())
}

// Snapshot is an immutable view of the reconciled state. Observers must not
// modify the Listings slice.
type Snapshot struct {
	Listings []model.Listing
	Stats    model.Stats
	// Loaded is false until a bulk read has succeeded.
	Loaded bool
}

type op struct {
	change  *model.Change
	refresh bool
}

// Reconciler applies the initial bulk read and the change feed to a
// Projection. All mutations happen on one goroutine, in arrival order.
type Reconciler struct {
	src   Source
	log   *slog.Logger
	limit int
	proj  *Projection

	loaded  bool
	current atomic.Pointer[Snapshot]

	qmu    sync.Mutex
	queue  []op
	closed bool
	wake   chan struct{}

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	stopped     bool
	stopOnce    sync.Once

	obsMu     sync.Mutex
	observers []observer
	nextObs   int
}

// New creates a Reconciler reading from src.
func New(src Source, log *slog.Logger) *Reconciler {
	return &Reconciler{
		src:   src,
		log:   log,
		limit: DefaultLimit,
		proj:  NewProjection(DefaultCapacity),
		wake:  make(chan struct{}, 1),
	}
}

// SetLimit overrides the number of listings fetched by the bulk read.
// It must be called before Start.
func (r *Reconciler) SetLimit(n int) {
	if n > 0 {
		r.limit = n
	}
}

// SetCapacity overrides the maximum number of retained listings.
// It must be called before Start.
func (r *Reconciler) SetCapacity(n int) {
	r.proj = NewProjection(n)
}

// Start subscribes to the change feed and schedules the initial bulk read.
// Events arriving while the read is in flight are applied after it.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("reconciler stopped")
	}
	if r.done != nil {
		return errors.New("reconciler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	r.enqueue(op{refresh: true})
	r.unsubscribe = r.src.SubscribeListings(r.onChange)

	go r.loop(ctx)
	return nil
}

// Stop releases the change-feed subscription and waits for pending work to
// be abandoned. No observer is called after Stop returns. Stop must not be
// called from an observer.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		cancel, done, unsubscribe := r.cancel, r.done, r.unsubscribe
		r.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}

		r.qmu.Lock()
		r.closed = true
		r.queue = nil
		r.qmu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
	})
}

// Refresh schedules a new bulk read that replaces the current collection.
func (r *Reconciler) Refresh() {
	r.enqueue(op{refresh: true})
}

// Snapshot returns the latest state.
func (r *Reconciler) Snapshot() Snapshot {
	if s := r.current.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

type observer struct {
	id int
	fn func(Snapshot)
}

// Subscribe registers fn to receive a snapshot after every change. Observers
// are called in registration order on the reconciler goroutine.
func (r *Reconciler) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	r.obsMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers = append(r.observers, observer{id: id, fn: fn})
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Reconciler) onChange(c model.Change) {
	r.enqueue(op{change: &c})
}

func (r *Reconciler) enqueue(o op) {
	r.qmu.Lock()
	if r.closed {
		r.qmu.Unlock()
		return
	}
	r.queue = append(r.queue, o)
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) drain() []op {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	ops := r.queue
	r.queue = nil
	return ops
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		for _, o := range r.drain() {
			if ctx.Err() != nil {
				return
			}
			if o.refresh {
				r.initialize(ctx)
			} else {
				r.apply(*o.change)
			}
		}
	}
}

func (r *Reconciler) initialize(ctx context.Context) {
	listings, err := r.src.RecentVisibleListings(ctx, r.limit)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("load listings", "limit", r.limit, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	r.proj.Seed(listings)
	r.loaded = true
	r.log.Debug("listings loaded", "count", r.proj.Len())
	r.publish()
}

func (r *Reconciler) apply(c model.Change) {
	switch c.Kind {
	case model.ChangeInsert, model.ChangeUpdate:
		if c.Listing == nil || c.Listing.ID == "" {
			r.log.Warn("drop malformed change", "kind", c.Kind, "id", c.ID)
			return
		}
		if c.Kind == model.ChangeInsert {
			r.proj.Insert(*c.Listing)
		} else {
			r.proj.Update(*c.Listing)
		}
	case model.ChangeDelete:
		id := c.ID
		if id == "" && c.Listing != nil {
			id = c.Listing.ID
		}
		if id == "" {
			r.log.Warn("drop malformed change", "kind", c.Kind)
			return
		}
		r.proj.Delete(id)
	default:
		r.log.Warn("drop unknown change", "kind", c.Kind, "id", c.ID)
		return
	}
	r.publish()
}

func (r *Reconciler) publish() {
	snap := &Snapshot{
		Listings: r.proj.Listings(),
		Stats:    r.proj.Stats(),
		Loaded:   r.loaded,
	}
	r.current.Store(snap)

	r.obsMu.Lock()
	observers := make([]observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.Unlock()

	for _, o := range observers {
		o.fn(*snap)
	}
}
