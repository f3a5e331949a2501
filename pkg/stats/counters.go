// Package stats keeps agent and tool statistics as atomic running sums, so concurrent
// completions never overwrite each other's contribution.
package stats

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownKey = errors.New("no statistics recorded for key")

// Counters are the running sums every metric is derived from.
type Counters struct {
	Total         int64 `json:"total"`
	Successes     int64 `json:"successes"`
	DurationSumMs int64 `json:"duration_sum_ms"`
	RatingSum     int64 `json:"rating_sum"`
	RatingCount   int64 `json:"rating_count"`
	Feedbacks     int64 `json:"feedbacks"`
}

func (c Counters) plus(delta Counters) Counters {
	return Counters{
		Total:         c.Total + delta.Total,
		Successes:     c.Successes + delta.Successes,
		DurationSumMs: c.DurationSumMs + delta.DurationSumMs,
		RatingSum:     c.RatingSum + delta.RatingSum,
		RatingCount:   c.RatingCount + delta.RatingCount,
		Feedbacks:     c.Feedbacks + delta.Feedbacks,
	}
}

func (c Counters) SuccessRate() float64 {
	if c.Total == 0 {
		return 0
	}

	return float64(c.Successes) / float64(c.Total) * 100
}

func (c Counters) AvgDurationMs() float64 {
	if c.Total == 0 {
		return 0
	}

	return float64(c.DurationSumMs) / float64(c.Total)
}

// SatisfactionAvg averages ratings over rated executions only.
func (c Counters) SatisfactionAvg() float64 {
	if c.RatingCount == 0 {
		return 0
	}

	return float64(c.RatingSum) / float64(c.RatingCount)
}

// Accumulator applies deltas atomically per key.
type Accumulator interface {
	// Add applies delta and returns the totals right after it.
	Add(ctx context.Context, key string, delta Counters) (Counters, error)

	// Get returns the totals, or ErrUnknownKey.
	Get(ctx context.Context, key string) (Counters, error)

	// Set replaces the totals; used when rebuilding from history.
	Set(ctx context.Context, key string, totals Counters) error

	// Seed stores totals only if the key is still unknown and reports whether it did.
	Seed(ctx context.Context, key string, totals Counters) (bool, error)
}

// MemoryAccumulator keeps counters in process, one lock per key.
type MemoryAccumulator struct {
	entries sync.Map
}

type memoryEntry struct {
	mu     sync.Mutex
	totals Counters
}

func NewMemoryAccumulator() *MemoryAccumulator {
	return &MemoryAccumulator{}
}

func (m *MemoryAccumulator) entry(key string) *memoryEntry {
	value, _ := m.entries.LoadOrStore(key, &memoryEntry{})

	return value.(*memoryEntry)
}

func (m *MemoryAccumulator) Add(_ context.Context, key string, delta Counters) (Counters, error) {
	entry := m.entry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.totals = entry.totals.plus(delta)

	return entry.totals, nil
}

func (m *MemoryAccumulator) Get(_ context.Context, key string) (Counters, error) {
	value, ok := m.entries.Load(key)
	if !ok {
		return Counters{}, ErrUnknownKey
	}

	entry := value.(*memoryEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.totals, nil
}

func (m *MemoryAccumulator) Set(_ context.Context, key string, totals Counters) error {
	entry := m.entry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.totals = totals

	return nil
}

func (m *MemoryAccumulator) Seed(_ context.Context, key string, totals Counters) (bool, error) {
	_, loaded := m.entries.LoadOrStore(key, &memoryEntry{totals: totals})

	return !loaded, nil
}
