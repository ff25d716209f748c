package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ModelStats aggregates usage for a single model.
type ModelStats struct {
	Requests     int64 `json:"requests"`
	Failed       int64 `json:"failed"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Snapshot is a point-in-time view of aggregated usage, served by the
// management API.
type Snapshot struct {
	Since        time.Time             `json:"since"`
	Requests     int64                 `json:"requests"`
	Failed       int64                 `json:"failed"`
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	TotalTokens  int64                 `json:"total_tokens"`
	Models       map[string]ModelStats `json:"models"`
	LastRequest  time.Time             `json:"last_request,omitempty"`
}

// MemoryStats accumulates usage records in memory for the lifetime of the
// process.
type MemoryStats struct {
	mu     sync.Mutex
	since  time.Time
	last   time.Time
	total  ModelStats
	models map[string]ModelStats
}

// NewMemoryStats constructs an empty aggregate starting now.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		since:  time.Now(),
		models: make(map[string]ModelStats),
	}
}

// HandleUsage implements Plugin.
func (s *MemoryStats) HandleUsage(_ context.Context, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = accumulate(s.total, record)
	model := record.Model
	if model == "" {
		model = "unknown"
	}
	s.models[model] = accumulate(s.models[model], record)
	if record.RequestedAt.After(s.last) {
		s.last = record.RequestedAt
	}
}

// Snapshot returns a copy of the current aggregates.
func (s *MemoryStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	models := make(map[string]ModelStats, len(s.models))
	for name, stats := range s.models {
		models[name] = stats
	}
	return Snapshot{
		Since:        s.since,
		Requests:     s.total.Requests,
		Failed:       s.total.Failed,
		InputTokens:  s.total.InputTokens,
		OutputTokens: s.total.OutputTokens,
		TotalTokens:  s.total.TotalTokens,
		Models:       models,
		LastRequest:  s.last,
	}
}

// ModelNames returns the models seen so far, sorted.
func (s *MemoryStats) ModelNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func accumulate(stats ModelStats, record Record) ModelStats {
	stats.Requests++
	if record.Failed {
		stats.Failed++
	}
	stats.InputTokens += record.Detail.InputTokens
	stats.OutputTokens += record.Detail.OutputTokens
	stats.TotalTokens += record.Detail.TotalTokens
	return stats
}
