// Package telemetry collects local search telemetry: how often people
// search, what for, how fast, and what found nothing. Everything stays
// on the machine; nothing is reported anywhere.
package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driveseek/driveseek/internal/query"
)

// QueryKind classifies a search query by the syntax it uses.
type QueryKind string

const (
	// KindSimple is plain keywords.
	KindSimple QueryKind = "simple"
	// KindWildcard has * or ? atoms but nothing else.
	KindWildcard QueryKind = "wildcard"
	// KindBoolean uses | alternatives or ! exclusions.
	KindBoolean QueryKind = "boolean"
	// KindFiltered carries structured filters; filters win over the
	// other classes when combined.
	KindFiltered QueryKind = "filtered"
)

// ClassifyQuery reports the kind of a raw query string.
func ClassifyQuery(raw string) QueryKind {
	q := query.Compile(raw)
	if !q.Filters.Empty() {
		return KindFiltered
	}
	if len(q.Not) > 0 {
		return KindBoolean
	}
	wildcard := false
	for _, g := range q.Groups {
		if len(g) > 1 {
			return KindBoolean
		}
		for _, a := range g {
			if a.Wildcard {
				wildcard = true
			}
		}
	}
	if wildcard {
		return KindWildcard
	}
	return KindSimple
}

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP1   LatencyBucket = "p1"   // <1ms
	BucketP10  LatencyBucket = "p10"  // 1-10ms
	BucketP50  LatencyBucket = "p50"  // 10-50ms
	BucketP200 LatencyBucket = "p200" // 50-200ms
	BucketP500 LatencyBucket = "p500" // >=200ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 1:
		return BucketP1
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 200:
		return BucketP200
	default:
		return BucketP500
	}
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Raw       string
	Kind      QueryKind
	Results   int
	Elapsed   time.Duration
	Truncated bool
	Timestamp time.Time
}

// IsZeroResult reports whether the search found nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.Results == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffer contents, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ExtractTerms pulls countable terms out of a raw query: lowercased
// keywords of three or more characters. Filter tokens are dropped,
// wildcard metacharacters and exclusion bangs are stripped.
func ExtractTerms(raw string) []string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return nil
	}

	var terms []string
	for _, tok := range strings.Fields(raw) {
		if strings.Contains(tok, ":") {
			continue
		}
		tok = strings.TrimLeft(tok, "!")
		tok = strings.Map(func(r rune) rune {
			if r == '*' || r == '?' {
				return -1
			}
			return r
		}, tok)
		if len(tok) >= 3 {
			terms = append(terms, tok)
		}
	}

	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// RecentQuery is one entry of the recent-query LRU.
type RecentQuery struct {
	Raw         string    `json:"raw"`
	Count       int64     `json:"count"`
	LastResults int       `json:"last_results"`
	LastSeen    time.Time `json:"last_seen"`
}

// DailyTotals are the per-day counters the store aggregates.
type DailyTotals struct {
	Searches    int64 `json:"searches"`
	ZeroResults int64 `json:"zero_results"`
	Truncated   int64 `json:"truncated"`
}

// QueryMetricsSnapshot is an immutable snapshot of collected metrics.
type QueryMetricsSnapshot struct {
	TotalSearches       int64                   `json:"total_searches"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	TruncatedCount      int64                   `json:"truncated_count"`
	KindCounts          map[QueryKind]int64     `json:"kind_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	RecentQueries       []RecentQuery           `json:"recent_queries"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches that found
// nothing, in percent.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalSearches) * 100
}

// MetricsStore defines persistence for daily aggregates.
type MetricsStore interface {
	// SaveKindCounts adds daily query kind counts.
	SaveKindCounts(date string, counts map[QueryKind]int64) error

	// GetKindCounts retrieves kind counts for a date range.
	GetKindCounts(from, to string) (map[QueryKind]int64, error)

	// SaveDailyTotals adds a day's search totals.
	SaveDailyTotals(date string, totals DailyTotals) error

	// GetDailyTotals sums totals over a date range.
	GetDailyTotals(from, to string) (DailyTotals, error)

	// UpsertTermCounts adds term frequency counts.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms retrieves the top N terms by frequency.
	GetTopTerms(limit int) ([]TermCount, error)

	// AddZeroResultQuery records a query that found nothing.
	AddZeroResultQuery(query string, timestamp time.Time) error

	// GetZeroResultQueries retrieves recent zero-result queries.
	GetZeroResultQueries(limit int) ([]string, error)

	// SaveLatencyCounts adds daily latency histogram counts.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts retrieves the latency distribution for a range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// Close releases resources.
	Close() error
}

// QueryMetricsConfig configures the collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // max terms to track (default 100)
	ZeroResultsCapacity   int           // max zero-result queries to keep (default 100)
	RecentQueriesCapacity int           // max recent queries to track (default 200)
	FlushInterval         time.Duration // store flush cadence (default 60s, 0 = no auto-flush)
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 200,
		FlushInterval:         60 * time.Second,
	}
}

// pendingAggregates are the counts accumulated since the last flush.
// Flushing deltas instead of lifetime totals keeps the store's
// day-keyed additive upserts correct across flushes.
type pendingAggregates struct {
	totals    DailyTotals
	kinds     map[QueryKind]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []QueryEvent
}

func newPendingAggregates() pendingAggregates {
	return pendingAggregates{
		kinds:     make(map[QueryKind]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
	}
}

// QueryMetrics collects search telemetry. Thread-safe.
type QueryMetrics struct {
	mu sync.RWMutex

	kinds            map[QueryKind]int64
	latencies        map[LatencyBucket]int64
	topTerms         *lru.Cache[string, int64]
	zeroResults      *CircularBuffer[string]
	recent           *lru.Cache[string, RecentQuery]
	totalSearches    int64
	zeroResultCount  int64
	truncatedCount   int64
	exactRepeatCount int64
	startTime        time.Time

	pending pendingAggregates

	store       MetricsStore
	config      QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default configuration. A
// nil store keeps metrics in memory only.
func NewQueryMetrics(store MetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom
// configuration.
func NewQueryMetricsWithConfig(store MetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 200
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, RecentQuery](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		kinds:       make(map[QueryKind]int64),
		latencies:   make(map[LatencyBucket]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recent:      recent,
		startTime:   time.Now(),
		pending:     newPendingAggregates(),
		store:       store,
		config:      cfg,
		stopCh:      make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// RecordSearch observes one completed search. The signature matches
// the search coordinator's recorder hook; scope is not aggregated.
func (m *QueryMetrics) RecordSearch(_ context.Context, raw, _ string, results int, elapsed time.Duration, truncated bool) {
	m.Record(QueryEvent{
		Raw:       raw,
		Kind:      ClassifyQuery(raw),
		Results:   results,
		Elapsed:   elapsed,
		Truncated: truncated,
		Timestamp: time.Now(),
	})
}

// Record captures one event. Non-blocking; dropped after Close.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalSearches++
	m.kinds[event.Kind]++
	m.pending.totals.Searches++
	m.pending.kinds[event.Kind]++

	bucket := LatencyToBucket(event.Elapsed)
	m.latencies[bucket]++
	m.pending.latencies[bucket]++

	for _, term := range ExtractTerms(event.Raw) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.terms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Raw)
		m.zeroResultCount++
		m.pending.totals.ZeroResults++
		m.pending.zero = append(m.pending.zero, event)
	}
	if event.Truncated {
		m.truncatedCount++
		m.pending.totals.Truncated++
	}

	key := normalizeQuery(event.Raw)
	if prev, exists := m.recent.Get(key); exists {
		m.exactRepeatCount++
		prev.Count++
		prev.LastResults = event.Results
		prev.LastSeen = event.Timestamp
		m.recent.Add(key, prev)
	} else {
		m.recent.Add(key, RecentQuery{
			Raw:         event.Raw,
			Count:       1,
			LastResults: event.Results,
			LastSeen:    event.Timestamp,
		})
	}
}

// normalizeQuery collapses case and spacing so repeats of the same
// query land on one LRU key.
func normalizeQuery(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Snapshot returns the current metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kindCounts := make(map[QueryKind]int64, len(m.kinds))
	for k, v := range m.kinds {
		kindCounts[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	// Keys returns oldest first; recent queries read better newest
	// first.
	keys := m.recent.Keys()
	recent := make([]RecentQuery, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if q, ok := m.recent.Peek(keys[i]); ok {
			recent = append(recent, q)
		}
	}

	var repeatRate float64
	if m.totalSearches > 0 {
		repeatRate = float64(m.exactRepeatCount) / float64(m.totalSearches)
	}

	return &QueryMetricsSnapshot{
		TotalSearches:       m.totalSearches,
		ZeroResultCount:     m.zeroResultCount,
		TruncatedCount:      m.truncatedCount,
		KindCounts:          kindCounts,
		LatencyDistribution: latencies,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		RecentQueries:       recent,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     repeatRate,
		UniqueQueryCount:    int64(m.recent.Len()),
		Since:               m.startTime,
	}
}

// Flush persists the counts accumulated since the last flush. Safe to
// call with no store configured. A failed flush drops that window's
// aggregates; the in-memory snapshot keeps them.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	pending := m.pending
	m.pending = newPendingAggregates()
	m.mu.Unlock()

	if pending.totals.Searches == 0 {
		return nil
	}

	today := time.Now().Format("2006-01-02")

	if err := m.store.SaveDailyTotals(today, pending.totals); err != nil {
		return err
	}
	if err := m.store.SaveKindCounts(today, pending.kinds); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(today, pending.latencies); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(pending.terms); err != nil {
		return err
	}
	for _, ev := range pending.zero {
		if err := m.store.AddZeroResultQuery(ev.Raw, ev.Timestamp); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes and stops the collector. Safe to call twice.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	return m.Flush()
}
