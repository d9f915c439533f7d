// Package cache implements the multi-tier audio cache of §4.C: an L1
// in-memory LRU keyed by track fingerprint with optional L2 on-disk
// spillover, and an in-flight coordination set guaranteeing at most
// one concurrent fetch per fingerprint.
package cache

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vorce/amp/internal/events"
)

// DiskIndex is the L2 collaborator: a content-addressed file store
// with a size/last-access index. Implemented by internal/storage.
type DiskIndex interface {
	Get(ctx context.Context, fp uint64) ([]byte, bool, error)
	Put(ctx context.Context, fp uint64, data []byte) error
	Reconcile(ctx context.Context) error
}

type entry struct {
	fingerprint uint64
	bytes       []byte
	lastAccess  time.Time
	elem        *list.Element
}

// Config caps L1 size in bytes; L2 is optional (nil DiskIndex disables
// it, and every eviction is simply dropped).
type Config struct {
	L1SizeCap int64
}

type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[uint64]*entry
	order   *list.List // front = most recently used
	l1Size  int64

	l2 DiskIndex

	inFlight sync.Map // fingerprint uint64 -> struct{}

	events *events.Bus
	debug  bool
}

func New(cfg Config, l2 DiskIndex, debug bool) *Cache {
	return &Cache{
		cfg:     cfg,
		entries: make(map[uint64]*entry),
		order:   list.New(),
		l2:      l2,
		debug:   debug,
	}
}

// SetEvents wires an outbound event bus for cache:inserted/evicted/
// spilled notifications. Optional; a Cache with no bus simply skips
// publishing.
func (c *Cache) SetEvents(bus *events.Bus) {
	c.events = bus
}

// Get is an L1-only probe; cheap, never touches disk.
func (c *Cache) Get(fp uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	c.order.MoveToFront(e.elem)
	return e.bytes, true
}

// GetFromDisk probes L2; on hit it promotes the entry into L1.
func (c *Cache) GetFromDisk(ctx context.Context, fp uint64) ([]byte, bool, error) {
	if c.l2 == nil {
		return nil, false, nil
	}
	data, ok, err := c.l2.Get(ctx, fp)
	if err != nil || !ok {
		return nil, false, err
	}
	c.Insert(fp, data)
	return data, true, nil
}

// Insert writes an entry into L1, evicting LRU entries (optionally
// spilling to L2 first) until the cap is satisfied.
func (c *Cache) Insert(fp uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[fp]; ok {
		c.l1Size -= int64(len(existing.bytes))
		c.order.Remove(existing.elem)
		delete(c.entries, fp)
	}

	e := &entry{fingerprint: fp, bytes: data, lastAccess: time.Now()}
	e.elem = c.order.PushFront(e)
	c.entries[fp] = e
	c.l1Size += int64(len(data))

	for c.l1Size > c.cfg.L1SizeCap && c.order.Len() > 0 {
		c.evictOldestLocked()
	}
	c.events.Publish(events.CacheInserted, fp)
}

// evictOldestLocked must be called with c.mu held.
func (c *Cache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	victim := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.entries, victim.fingerprint)
	c.l1Size -= int64(len(victim.bytes))

	if c.debug {
		log.Printf("[CACHE] evicting fp=%d size=%s", victim.fingerprint, humanize.Bytes(uint64(len(victim.bytes))))
	}

	if c.l2 != nil {
		// Best-effort spill; a disk failure demotes to a plain drop.
		if err := c.l2.Put(context.Background(), victim.fingerprint, victim.bytes); err != nil {
			if c.debug {
				log.Printf("[CACHE] spill to L2 failed for fp=%d: %v", victim.fingerprint, err)
			}
		} else {
			c.events.Publish(events.CacheSpilled, victim.fingerprint)
		}
	}
	c.events.Publish(events.CacheEvicted, victim.fingerprint)
}

// MarkFetching records that a fetch for fp is in progress. Returns
// false if a fetch was already in progress (caller should not start a
// second one).
func (c *Cache) MarkFetching(fp uint64) bool {
	_, loaded := c.inFlight.LoadOrStore(fp, struct{}{})
	return !loaded
}

// UnmarkFetching must run on every exit path of a fetch: success,
// cancel, or error.
func (c *Cache) UnmarkFetching(fp uint64) {
	c.inFlight.Delete(fp)
}

func (c *Cache) IsFetching(fp uint64) bool {
	_, ok := c.inFlight.Load(fp)
	return ok
}

// L1Size reports current L1 occupancy in bytes.
func (c *Cache) L1Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l1Size
}

// Clear empties L1 (used by the cache-maintenance inbound command).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*entry)
	c.order = list.New()
	c.l1Size = 0
}

// Resolve implements the full §4.C coordination protocol for a cache
// miss: L1 probe, L2 probe-and-promote, in-flight check, then a single
// fetch. Concurrent callers for the same fingerprint converge on the
// same fetch and receive identical bytes; UnmarkFetching runs on every
// exit path.
func (c *Cache) Resolve(ctx context.Context, fp uint64, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(fp); ok {
		return data, nil
	}
	if data, ok, err := c.GetFromDisk(ctx, fp); err != nil {
		return nil, err
	} else if ok {
		return data, nil
	}

	for !c.MarkFetching(fp) {
		if data, ok := c.Get(fp); ok {
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer c.UnmarkFetching(fp)

	// A fetch that finished between the probes above and acquiring the
	// mark has already populated L1.
	if data, ok := c.Get(fp); ok {
		return data, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Insert(fp, data)
	return data, nil
}

// Stats mirrors the inbound "cache stats" command surface (§6).
type Stats struct {
	L1Entries int
	L1Bytes   int64
	L1Cap     int64
}

func (c *Cache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{L1Entries: len(c.entries), L1Bytes: c.l1Size, L1Cap: c.cfg.L1SizeCap}
}
