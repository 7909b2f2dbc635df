package products

import (
	"context"
	"slices"
	"sync"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/reactive"
	"github.com/signalsfoundry/reactive-labs/model"
)

// Store owns the product list. Refresh replaces it from the source; a newer
// refresh supersedes one still in flight. A failed load empties the list.
type Store struct {
	src Source
	log logging.Logger

	products *reactive.Value[[]model.Product]
	loading  *reactive.Value[bool]

	mu       sync.Mutex
	seq      uint64
	inflight fetch.Cancel
	lastErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore returns an empty store backed by src.
func NewStore(src Source, opts ...Option) *Store {
	s := &Store{
		src:      src,
		log:      logging.Noop(),
		products: reactive.NewValue[[]model.Product](nil),
		loading:  reactive.NewValue(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current products.
func (s *Store) Snapshot() []model.Product {
	return slices.Clone(s.products.Get())
}

// Total is the sum of all prices.
func (s *Store) Total() float64 {
	var sum float64
	for _, p := range s.products.Get() {
		sum += p.Price
	}
	return sum
}

// Loading reports whether a refresh is in flight.
func (s *Store) Loading() bool { return s.loading.Get() }

// Err returns the error of the last completed refresh, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Add inserts p, replacing any product with the same id.
func (s *Store) Add(p model.Product) {
	s.products.Update(func(cur []model.Product) []model.Product {
		next := slices.Clone(cur)
		if i := slices.IndexFunc(next, func(q model.Product) bool { return q.ID == p.ID }); i >= 0 {
			next[i] = p
			return next
		}
		return append(next, p)
	})
}

// Remove deletes the product with id and reports whether it existed.
func (s *Store) Remove(id int) bool {
	found := false
	s.products.Update(func(cur []model.Product) []model.Product {
		i := slices.IndexFunc(cur, func(q model.Product) bool { return q.ID == id })
		if i < 0 {
			return cur
		}
		found = true
		return slices.Delete(slices.Clone(cur), i, i+1)
	})
	return found
}

// Refresh reloads the list from the source, cancelling any refresh still in
// flight.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	prev := s.inflight
	s.inflight = nil
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	s.loading.Set(true)

	cancel := s.src.Load(ctx, func(ps []model.Product, err error) {
		s.settle(ctx, seq, ps, err)
	})

	s.mu.Lock()
	if s.seq == seq && s.loading.Get() {
		s.inflight = cancel
	}
	s.mu.Unlock()
}

func (s *Store) settle(ctx context.Context, seq uint64, ps []model.Product, err error) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.inflight = nil
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error(ctx, "fetching products failed", logging.Err(err))
		ps = nil
	} else {
		s.log.Debug(ctx, "products loaded", logging.Int("count", len(ps)))
	}
	s.products.Set(ps)
	s.loading.Set(false)
}

// Subscribe calls fn whenever the products or the loading flag change.
func (s *Store) Subscribe(fn func()) *reactive.Subscription {
	bag := &reactive.Bag{}
	bag.Add(s.products.Subscribe(func([]model.Product) { fn() }))
	bag.Add(s.loading.Subscribe(func(bool) { fn() }))
	return reactive.NewSubscription(bag.Release)
}

// Close cancels any refresh in flight.
func (s *Store) Close() {
	s.mu.Lock()
	s.seq++
	prev := s.inflight
	s.inflight = nil
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	s.loading.Set(false)
}
