package ratelimit

import (
	"slices"
	"sync"
)

// Registry maps provider names to their buckets so that rate budgets are never
// shared across providers. Construct one per process and pass it to the factory.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*Bucket
	observer WaitObserver
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer WaitObserver) *Registry {
	return &Registry{buckets: make(map[string]*Bucket), observer: observer}
}

// Get returns the bucket registered under name, creating it on first use.
// Rate and size are only applied on creation.
func (r *Registry) Get(name string, tokensPerSecond float64, bucketSize int) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bucket, ok := r.buckets[name]; ok {
		return bucket
	}

	bucket := New(tokensPerSecond, bucketSize)
	bucket.name = name
	bucket.observer = r.observer
	r.buckets[name] = bucket

	return bucket
}

// Lookup returns the bucket registered under name.
func (r *Registry) Lookup(name string) (*Bucket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[name]

	return bucket, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
