// Package cache implements the sticky decider cache: a bounded concurrent
// map from run identity to decider, keeping reconstructed workflow state
// warm across incremental decision tasks for the same run.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tylercunnion/go-replay/backend"
	"github.com/tylercunnion/go-replay/backend/metrics"
	"github.com/tylercunnion/go-replay/core"
	"github.com/tylercunnion/go-replay/internal/log"
	"github.com/tylercunnion/go-replay/internal/metrickeys"
	"github.com/tylercunnion/go-replay/replay"
)

var (
	// ErrNoCachedDecider is returned when an incremental task arrives with
	// no cached decider for its run. An incremental task can never bootstrap
	// a decider from nothing, so this is a protocol violation by the caller,
	// never retried or healed by the cache.
	ErrNoCachedDecider = errors.New("no cached decider for run")
)

// DeciderCache holds idle deciders in a capacity- and TTL-bounded store and
// tracks checked-out ("in processing") deciders separately. Capacity and TTL
// reclamation only ever see idle entries, so an in-processing entry can
// never be evicted by construction.
//
// Ownership: the cache owns idle entries exclusively. A hit on
// LookupOrCreate transfers ownership to the caller until the matching Insert
// or Evict call.
type DeciderCache struct {
	logger *slog.Logger
	mc     metrics.Client

	mu           sync.Mutex
	idle         *ttlcache.Cache[string, *replay.Decider]
	inProcessing map[string]*replay.Decider
}

func New(logger *slog.Logger, mc metrics.Client, size int, expiration time.Duration) *DeciderCache {
	c := &DeciderCache{
		logger:       logger,
		mc:           mc,
		inProcessing: map[string]*replay.Decider{},
	}

	idle := ttlcache.New(
		ttlcache.WithCapacity[string, *replay.Decider](uint64(size)),
		ttlcache.WithTTL[string, *replay.Decider](expiration),
	)

	idle.OnEviction(func(_ context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *replay.Decider]) {
		var reason string
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		default:
			// Explicit deletes are checkouts or forced evictions; the caller
			// handles closing there.
			return
		}

		closeDecider(i.Value(), logger)

		mc.Counter(metrickeys.StickyCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	c.idle = idle

	return c
}

// LookupOrCreate returns the decider to process the given task with.
//
// Tasks carrying full history never consult the cache: the factory is always
// invoked and the cache is left untouched; the caller decides separately
// whether to Insert the result. Incremental tasks require a cached entry: a
// hit checks the entry out for processing and returns the same instance, a
// miss fails with ErrNoCachedDecider.
//
// Hit and miss counters are emitted on mc for incremental tasks only, tagged
// with the task's namespace, task queue, and workflow type.
func (c *DeciderCache) LookupOrCreate(
	ctx context.Context, t *backend.DecisionTask, mc metrics.Client, factory func() (*replay.Decider, error),
) (*replay.Decider, error) {
	if t.FullHistory() {
		return factory()
	}

	runID := t.Run.RunID
	tags := taskTags(t)

	c.mu.Lock()

	if d, ok := c.inProcessing[runID]; ok {
		// Already checked out; lookups are idempotent and keep returning the
		// same instance. Serializing passes per run is the caller's job.
		c.mu.Unlock()

		mc.Counter(metrickeys.StickyCacheHit, tags, 1)

		return d, nil
	}

	item := c.idle.Get(runID)
	if item == nil {
		c.mu.Unlock()

		mc.Counter(metrickeys.StickyCacheMiss, tags, 1)

		return nil, fmt.Errorf("run %s: %w", runID, ErrNoCachedDecider)
	}

	d := item.Value()

	// Check the entry out; the eviction callback ignores explicit deletes
	c.idle.Delete(runID)
	c.inProcessing[runID] = d

	c.mu.Unlock()

	mc.Counter(metrickeys.StickyCacheHit, tags, 1)

	c.logger.Debug("Sticky cache hit", slog.String(log.RunIDKey, runID))

	return d, nil
}

// Insert upserts the cache entry for the given run and marks it idle,
// eligible for normal reclamation. A replaced prior instance is closed.
// Inserting over capacity evicts another idle entry.
func (c *DeciderCache) Insert(ctx context.Context, run *core.WorkflowRun, d *replay.Decider) error {
	c.mu.Lock()

	delete(c.inProcessing, run.RunID)

	prior := c.idle.Get(run.RunID, ttlcache.WithDisableTouchOnHit[string, *replay.Decider]())
	if prior != nil && prior.Value() != d {
		closeDecider(prior.Value(), c.logger)
	}

	c.idle.Set(run.RunID, d, ttlcache.DefaultTTL)

	size := c.size()

	c.mu.Unlock()

	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

	return nil
}

// EvictAnyNotInProcessing forces out one idle entry, independent of capacity
// pressure. The entry for protectedRunID and checked-out entries are never
// selected; the victim among the remaining idle entries is arbitrary and
// callers must not depend on which one is chosen. No-op when no candidate
// exists.
//
// The forced-eviction counter is incremented by one per entry actually
// evicted. The evicted decider's resources are released; a panicking
// teardown does not corrupt cache bookkeeping.
func (c *DeciderCache) EvictAnyNotInProcessing(ctx context.Context, protectedRunID string, mc metrics.Client) bool {
	c.mu.Lock()

	var victimID string
	var victim *replay.Decider
	for runID, item := range c.idle.Items() {
		if runID == protectedRunID {
			continue
		}

		victimID = runID
		victim = item.Value()
		break
	}

	if victim == nil {
		c.mu.Unlock()
		return false
	}

	c.idle.Delete(victimID)

	size := c.size()

	c.mu.Unlock()

	closeDecider(victim, c.logger)

	mc.Counter(metrickeys.StickyCacheTotalForcedEviction, metrics.Tags{}, 1)
	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

	c.logger.Debug("Forced eviction from sticky cache",
		slog.String(log.RunIDKey, victimID),
		slog.Int(log.CacheSizeKey, size))

	return true
}

// Evict removes the entry for the given run, idle or checked out, and closes
// it. No-op when the run is not cached.
func (c *DeciderCache) Evict(ctx context.Context, run *core.WorkflowRun) error {
	c.mu.Lock()

	d, ok := c.inProcessing[run.RunID]
	if ok {
		delete(c.inProcessing, run.RunID)
	} else if item := c.idle.Get(run.RunID, ttlcache.WithDisableTouchOnHit[string, *replay.Decider]()); item != nil {
		d = item.Value()
		c.idle.Delete(run.RunID)
	}

	size := c.size()

	c.mu.Unlock()

	if d == nil {
		return nil
	}

	closeDecider(d, c.logger)

	c.mc.Gauge(metrickeys.StickyCacheSize, metrics.Tags{}, int64(size))

	return nil
}

// Size is the current entry count, idle plus checked out.
func (c *DeciderCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size()
}

// StartEviction runs the TTL eviction loop until ctx is done.
func (c *DeciderCache) StartEviction(ctx context.Context) {
	go c.idle.Start()

	<-ctx.Done()

	c.idle.Stop()
}

// Close shuts the cache down, closing and dropping all idle entries.
// Checked-out deciders are owned by their callers and left untouched.
func (c *DeciderCache) Close() {
	c.mu.Lock()

	items := c.idle.Items()
	for runID := range items {
		c.idle.Delete(runID)
	}

	c.mu.Unlock()

	for _, item := range items {
		closeDecider(item.Value(), c.logger)
	}
}

func (c *DeciderCache) size() int {
	return c.idle.Len() + len(c.inProcessing)
}

func closeDecider(d *replay.Decider, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during decider teardown", "error", r)
		}
	}()

	d.Close()
}

func taskTags(t *backend.DecisionTask) metrics.Tags {
	tags := metrics.Tags{}

	if t.Metadata == nil {
		return tags
	}

	if t.Metadata.Namespace != "" {
		tags[metrickeys.Namespace] = t.Metadata.Namespace
	}

	if t.Metadata.TaskQueue != "" {
		tags[metrickeys.TaskQueue] = t.Metadata.TaskQueue
	}

	if t.Metadata.WorkflowType != "" {
		tags[metrickeys.WorkflowType] = t.Metadata.WorkflowType
	}

	return tags
}
