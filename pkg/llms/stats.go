package llms

import (
	"sort"
	"sync"
	"time"
)

const latencyWindow = 256

// Stats keeps rolling counters for one provider: request counts, outcomes,
// token usage, and a sliding window of latencies for percentile estimates.
type Stats struct {
	mu        sync.Mutex
	requests  int64
	successes int64
	failures  int64
	tokens    int64
	latencies []time.Duration
	next      int
	filled    bool
}

// StatsSnapshot is a point-in-time copy of a provider's counters.
type StatsSnapshot struct {
	Requests   int64
	Successes  int64
	Failures   int64
	Tokens     int64
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
}

func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, latencyWindow)}
}

// Record adds one completed request to the counters.
func (s *Stats) Record(duration time.Duration, tokens int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if err != nil {
		s.failures++
	} else {
		s.successes++
		s.tokens += int64(tokens)
	}

	s.latencies[s.next] = duration
	s.next++
	if s.next == len(s.latencies) {
		s.next = 0
		s.filled = true
	}
}

// Snapshot returns the current counters with latency percentiles computed
// over the sliding window.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Requests:  s.requests,
		Successes: s.successes,
		Failures:  s.failures,
		Tokens:    s.tokens,
	}

	n := s.next
	if s.filled {
		n = len(s.latencies)
	}
	if n == 0 {
		return snap
	}

	window := make([]time.Duration, n)
	copy(window, s.latencies[:n])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	snap.LatencyP50 = percentile(window, 0.50)
	snap.LatencyP95 = percentile(window, 0.95)
	snap.LatencyP99 = percentile(window, 0.99)
	return snap
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
