package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driveseek/driveseek/internal/query"
	"github.com/driveseek/driveseek/internal/store"
)

// Params is one search request.
type Params struct {
	// Raw is the uncompiled query string.
	Raw string

	// Scope selects a single drive or, when zero, every ready drive.
	Scope Scope

	// SessionKey names the interactive session this search belongs to.
	// A new search under the same key supersedes the previous one.
	// Empty means one-shot: nothing is tracked or superseded.
	SessionKey string

	// NameOnly restricts keyword matching to file names.
	NameOnly bool

	// Limit tightens the per-drive result cap for this search. Zero
	// keeps the coordinator's configured limit; a value above it is
	// clamped down, never up.
	Limit int
}

// Coordinator compiles queries and fans searches out across drive
// stores, streaming results back on a bounded channel.
type Coordinator struct {
	provider  StoreProvider
	queries   *query.Cache
	logger    *slog.Logger
	metrics   MetricsRecorder
	limit     int
	batchSize int
	updateBuf int

	mu       sync.Mutex
	sessions map[string]*Session
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLimit caps the results collected per drive.
func WithLimit(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithBatchSize sets how many results each streamed batch carries.
func WithBatchSize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithUpdateBuffer sets the capacity of the updates channel. The
// buffer is the only backpressure between workers and the consumer.
func WithUpdateBuffer(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.updateBuf = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches a recorder that observes completed searches.
func WithMetrics(m MetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithQueryCache substitutes the compiled-query cache, used by tests
// that need a pinned clock for date filters.
func WithQueryCache(qc *query.Cache) CoordinatorOption {
	return func(c *Coordinator) {
		if qc != nil {
			c.queries = qc
		}
	}
}

// NewCoordinator returns a Coordinator reading from provider.
func NewCoordinator(provider StoreProvider, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		provider:  provider,
		queries:   query.NewCache(query.DefaultCacheSize),
		logger:    slog.Default(),
		limit:     DefaultLimit,
		batchSize: DefaultBatchSize,
		updateBuf: DefaultUpdateBuffer,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search compiles p.Raw and streams matches on the returned channel.
// Batches arrive first, one Completion last, then the channel closes.
// A channel that closes without a Completion means the search was
// superseded or its context cancelled.
//
// Scope errors are synchronous: naming a drive that is unknown or has
// no built index fails here, before any channel exists. An all-drives
// search over zero ready drives succeeds with an empty completion.
func (c *Coordinator) Search(ctx context.Context, p Params) (<-chan Update, error) {
	var stores []*store.DriveStore
	if p.Scope.All() {
		stores = c.provider.ReadyStores()
	} else {
		ds, err := c.provider.Store(p.Scope.Drive)
		if err != nil {
			return nil, err
		}
		stores = []*store.DriveStore{ds}
	}

	q := c.queries.Compile(p.Raw)
	if p.NameOnly {
		q = q.WithNameOnly()
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := newSession(p.SessionKey, p.Raw, cancel)
	if p.SessionKey != "" {
		c.mu.Lock()
		if prev, ok := c.sessions[p.SessionKey]; ok {
			prev.supersede()
			c.logger.Debug("search_superseded",
				slog.String("session", p.SessionKey),
				slog.String("query", prev.raw))
		}
		c.sessions[p.SessionKey] = sess
		c.mu.Unlock()
	}

	limit := c.limit
	if p.Limit > 0 && p.Limit < limit {
		limit = p.Limit
	}

	c.logger.Debug("search_started",
		slog.String("query", p.Raw),
		slog.String("scope", p.Scope.String()),
		slog.Int("drives", len(stores)))

	updates := make(chan Update, c.updateBuf)
	go c.run(sctx, sess, q, p.Scope, limit, stores, updates)
	return updates, nil
}

// Supersede cancels the search registered under key, if any. The
// daemon uses this when a client drops a session without replacing it.
func (c *Coordinator) Supersede(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[key]
	if !ok {
		return false
	}
	sess.supersede()
	delete(c.sessions, key)
	return true
}

func (c *Coordinator) run(ctx context.Context, sess *Session, q *query.Query, scope Scope, limit int, stores []*store.DriveStore, updates chan<- Update) {
	defer close(updates)
	defer sess.cancel()
	defer c.release(sess)

	start := time.Now()
	outcomes := make([]DriveOutcome, len(stores))

	g, gctx := errgroup.WithContext(ctx)
	for i, ds := range stores {
		i, ds := i, ds
		g.Go(func() error {
			ex := NewExecutor(ds, limit)
			results, truncated := ex.Collect(q)

			for off, seq := 0, 0; off < len(results); off, seq = off+c.batchSize, seq+1 {
				// Supersession is observed at batch boundaries only;
				// a batch already being built is always finished.
				if sess.Cancelled() {
					return nil
				}
				end := min(off+c.batchSize, len(results))
				upd := Update{Batch: &Batch{Drive: ds.Root(), Seq: seq, Results: results[off:end]}}
				select {
				case updates <- upd:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			// Each worker owns its slot; g.Wait orders these writes
			// before the completion read.
			outcomes[i] = DriveOutcome{Drive: ds.Root(), Count: len(results), Truncated: truncated}
			return nil
		})
	}

	if err := g.Wait(); err != nil || sess.Cancelled() {
		c.logger.Debug("search_abandoned", slog.String("query", q.Raw))
		return
	}

	comp := &Completion{Elapsed: time.Since(start)}
	for _, oc := range outcomes {
		comp.Drives = append(comp.Drives, oc)
		comp.Total += oc.Count
		comp.Truncated = comp.Truncated || oc.Truncated
	}

	select {
	case updates <- Update{Completion: comp}:
	case <-ctx.Done():
		return
	}

	c.logger.Debug("search_completed",
		slog.String("query", q.Raw),
		slog.Int("results", comp.Total),
		slog.Duration("elapsed", comp.Elapsed))
	if c.metrics != nil {
		c.metrics.RecordSearch(ctx, q.Raw, scope.String(), comp.Total, comp.Elapsed, comp.Truncated)
	}
}

// release retires the session after its stream closes, unless a newer
// search already replaced it under the same key.
func (c *Coordinator) release(sess *Session) {
	if sess.key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[sess.key] == sess {
		delete(c.sessions, sess.key)
	}
}
