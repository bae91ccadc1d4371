// Package metrics records handler latency per service method.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"
)

// Recorder keeps one t-digest of latencies (in milliseconds) per method.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	digests map[string]*tdigest.TDigest
	errors  map[string]uint64
}

func NewRecorder() *Recorder {
	return &Recorder{
		digests: make(map[string]*tdigest.TDigest),
		errors:  make(map[string]uint64),
	}
}

// Observe records one call of method taking d. failed counts it as an error.
func (r *Recorder) Observe(method string, d time.Duration, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	td, ok := r.digests[method]
	if !ok {
		var err error
		td, err = tdigest.New()
		if err != nil {
			return err
		}
		r.digests[method] = td
	}
	if failed {
		r.errors[method]++
	}
	return td.Add(float64(d) / float64(time.Millisecond))
}

// Quantile returns the q-quantile latency of method, or 0 if nothing was
// observed.
func (r *Recorder) Quantile(method string, q float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	td, ok := r.digests[method]
	if !ok || td.Count() == 0 {
		return 0
	}
	return time.Duration(td.Quantile(q) * float64(time.Millisecond))
}

// Count returns the number of calls observed for method.
func (r *Recorder) Count(method string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if td, ok := r.digests[method]; ok {
		return td.Count()
	}
	return 0
}

// Errors returns the number of failed calls observed for method.
func (r *Recorder) Errors(method string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[method]
}

// Methods lists observed methods in sorted order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	methods := make([]string, 0, len(r.digests))
	for m := range r.digests {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
