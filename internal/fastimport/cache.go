package fastimport

import (
	"container/list"
	"context"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"
)

// Cache is a bounded LRU of live fast-import children, keyed by repository
// name. A fleet conversion may target thousands of repositories; opening a
// child per repository is cheap but the OS fd limit and per-child memory
// cost make bounding the live set mandatory. Eviction closes a child
// gracefully (checkpoint + wait) on a bounded worker pool so a slow child
// doesn't stall the revision loop from touching unrelated repositories.
type Cache struct {
	logger *logrus.Logger
	limit  int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently touched

	// evicting holds entries whose Close() is still running on pool, keyed
	// by name. A Touch for a name found here must wait for that Close to
	// finish before starting a replacement Process, so two FastImportProcess
	// instances for the same target are never live concurrently.
	evicting map[string]*cacheEntry

	pool *pond.WorkerPool
}

type cacheEntry struct {
	name string
	proc *Process
	done chan struct{}
}

// NewCache builds a Cache bounded to limit simultaneously running children.
func NewCache(logger *logrus.Logger, limit int) *Cache {
	return &Cache{
		logger:   logger,
		limit:    limit,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		evicting: make(map[string]*cacheEntry),
		pool:     pond.New(limit, limit*4, pond.MinWorkers(1)),
	}
}

// Touch records repo as the most recently used entry, starting it if new,
// and evicts the least-recently-used entries if the cache is now over
// limit. Returns the (now-started) Process for repo.
func (c *Cache) Touch(ctx context.Context, name string, makeProcess func() *Process) (*Process, error) {
	c.mu.Lock()
	if el, ok := c.entries[name]; ok {
		c.order.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		c.mu.Unlock()
		return entry.proc, nil
	}
	evicting := c.evicting[name]
	c.mu.Unlock()

	// A prior eviction of this same name may still be closing its process
	// (checkpointing and waiting on the git fast-import child). Starting a
	// new one before that finishes would leave two children writing the
	// same marks/log/pack files at once.
	if evicting != nil {
		<-evicting.done
		c.mu.Lock()
		delete(c.evicting, name)
		c.mu.Unlock()
	}

	proc := makeProcess()
	if err := proc.Start(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry := &cacheEntry{name: name, proc: proc}
	el := c.order.PushFront(entry)
	c.entries[name] = el
	for c.order.Len() > c.limit {
		back := c.order.Back()
		victim := back.Value.(*cacheEntry)
		c.order.Remove(back)
		delete(c.entries, victim.name)
		c.evicting[victim.name] = victim
		c.evictAsync(ctx, victim)
	}
	c.mu.Unlock()
	return proc, nil
}

func (c *Cache) evictAsync(ctx context.Context, entry *cacheEntry) {
	entry.done = make(chan struct{})
	c.pool.Submit(func() {
		defer close(entry.done)
		if err := entry.proc.Close(ctx); err != nil {
			c.logger.Warnf("error closing evicted fast-import process %s: %v", entry.name, err)
		}
		c.mu.Lock()
		delete(c.evicting, entry.name)
		c.mu.Unlock()
	})
}

// CloseAll closes every remaining live child and waits for outstanding
// evictions to finish.
func (c *Cache) CloseAll(ctx context.Context) {
	c.mu.Lock()
	var entries []*cacheEntry
	for e := c.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(*cacheEntry))
	}
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.mu.Unlock()

	for _, entry := range entries {
		if err := entry.proc.Close(ctx); err != nil {
			c.logger.Warnf("error closing fast-import process %s: %v", entry.name, err)
		}
	}
	c.pool.StopAndWait()
}
