// Package metrics defines the sink the engine emits counters and histograms
// into. The real sink lives outside this service; the orchestrator and the
// checkpoint manager only depend on this interface.
package metrics

import "sync"

// Sink receives counters and observations (turn duration, snapshot size,
// escalation rate, truncation events).
type Sink interface {
	Count(name string, delta int64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// Noop discards all emissions.
type Noop struct{}

func (Noop) Count(string, int64, map[string]string)     {}
func (Noop) Observe(string, float64, map[string]string) {}

// Recorder is a threadsafe in-memory sink for tests.
type Recorder struct {
	mu       sync.Mutex
	counts   map[string]int64
	observed map[string][]float64
}

func NewRecorder() *Recorder {
	return &Recorder{
		counts:   make(map[string]int64),
		observed: make(map[string][]float64),
	}
}

func (r *Recorder) Count(name string, delta int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name] += delta
}

func (r *Recorder) Observe(name string, value float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[name] = append(r.observed[name], value)
}

// CountOf returns the accumulated counter value.
func (r *Recorder) CountOf(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Observations returns a copy of the recorded values for name.
func (r *Recorder) Observations(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.observed[name]...)
}
