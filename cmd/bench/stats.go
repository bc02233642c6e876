package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

// tracker matches the deliveries seen by the subscribers with the time their message was sent.
// Messages are identified by their content, which is unique per client and sequence number.
type tracker struct {
	mu        sync.Mutex
	requests  map[string]time.Time
	failures  map[string]struct{}
	latencies []time.Duration
	unknown   int
}

func newTracker() *tracker {
	return &tracker{
		requests: make(map[string]time.Time),
		failures: make(map[string]struct{}),
	}
}

func (t *tracker) sent(content string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[content] = at
}

func (t *tracker) failed(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[content] = struct{}{}
}

func (t *tracker) received(content string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.requests[content]
	if !ok {
		t.unknown++
		return
	}
	t.latencies = append(t.latencies, at.Sub(sentAt))
}

type stats struct {
	Requests  int
	Failed    int
	Expected  int
	Delivered int
	Unknown   int
	P50       time.Duration
	P99       time.Duration
	Max       time.Duration
}

// stats summarizes the run. Every successful message is expected once per subscriber.
func (t *tracker) stats(subscribers int) stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	latencies := slices.Clone(t.latencies)
	slices.Sort(latencies)

	s := stats{
		Requests:  len(t.requests),
		Failed:    len(t.failures),
		Expected:  (len(t.requests) - len(t.failures)) * subscribers,
		Delivered: len(latencies),
		Unknown:   t.unknown,
		P50:       percentile(latencies, 0.50),
		P99:       percentile(latencies, 0.99),
	}
	if len(latencies) > 0 {
		s.Max = latencies[len(latencies)-1]
	}
	return s
}

// percentile returns the p-th percentile of sorted latencies, or zero when there are none.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	return sorted[min(i, len(sorted)-1)]
}

func report(w io.Writer, s stats) {
	fmt.Fprintf(w, "Total requests: %d\n", s.Requests)
	fmt.Fprintf(w, "Total failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Deliveries: %d/%d\n", s.Delivered, s.Expected)
	if s.Unknown > 0 {
		fmt.Fprintf(w, "Unmatched deliveries: %d\n", s.Unknown)
	}
	fmt.Fprintf(w, "50th percentile latency: %v\n", s.P50)
	fmt.Fprintf(w, "99th percentile latency: %v\n", s.P99)
	fmt.Fprintf(w, "Max latency: %v\n", s.Max)
}
