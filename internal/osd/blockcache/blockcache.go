// Package blockcache sits between the shard RPC surface and the raw disk,
// absorbing repeat reads of hot blocks and, under the write-back policy,
// deferring the durability cost of a write until a background flusher
// catches up — trading a (bounded, journaled) durability window for write
// latency.
package blockcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/osd/disk"
)

// Policy selects how writes interact with the cache.
type Policy int

const (
	// WriteThrough writes to disk synchronously before the cache entry
	// is considered valid; reads serve from cache once written.
	WriteThrough Policy = iota
	// WriteBack acknowledges a write once it is durable in the cache
	// journal; the background flusher writes it to disk later.
	WriteBack
	// WriteAround writes straight to disk and does not populate the
	// cache at all, avoiding cache pollution for large sequential
	// writes that are unlikely to be re-read soon.
	WriteAround
)

type cacheKey struct {
	blockNumber uint64
}

type entry struct {
	key   cacheKey
	data  []byte
	dirty bool
	age   time.Time
}

// Cache is an LRU block cache fronting a single Disk.
type Cache struct {
	mu       sync.Mutex
	d        *disk.Disk
	policy   Policy
	capacity int
	ll       *list.List
	index    map[cacheKey]*list.Element

	journal *journal // only used under WriteBack

	dirtyAgeLimit time.Duration
}

// Options configures cache capacity (in blocks) and, for WriteBack, the
// journal path and max age a dirty block may go unflushed.
type Options struct {
	CapacityBlocks int
	Policy         Policy
	JournalPath    string // required for WriteBack
	DirtyAgeLimit  time.Duration
}

// Open constructs a Cache fronting d.
func Open(d *disk.Disk, opts Options) (*Cache, error) {
	if opts.CapacityBlocks <= 0 {
		opts.CapacityBlocks = 1024
	}
	if opts.DirtyAgeLimit <= 0 {
		opts.DirtyAgeLimit = 5 * time.Second
	}
	c := &Cache{
		d:             d,
		policy:        opts.Policy,
		capacity:      opts.CapacityBlocks,
		ll:            list.New(),
		index:         make(map[cacheKey]*list.Element),
		dirtyAgeLimit: opts.DirtyAgeLimit,
	}
	if opts.Policy == WriteBack {
		j, dirty, err := openJournal(opts.JournalPath)
		if err != nil {
			return nil, err
		}
		c.journal = j
		for _, rec := range dirty {
			c.insert(cacheKey{blockNumber: rec.blockNumber}, rec.data, true)
		}
	}
	return c, nil
}

// Read returns the contents of the block at blockNumber, serving from
// cache on hit and populating the cache on miss (except under
// WriteAround's read path, which still caches reads — only writes bypass
// the cache for that policy).
func (c *Cache) Read(blockNumber uint64) ([]byte, error) {
	c.mu.Lock()
	key := cacheKey{blockNumber: blockNumber}
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		data := append([]byte(nil), el.Value.(*entry).data...)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	buf := disk.AllocAligned(1)
	if err := c.d.ReadAt(buf, int64(blockNumber)*disk.BlockSize); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.insert(key, buf, false)
	c.mu.Unlock()
	return buf, nil
}

// Write stores data for blockNumber according to the configured policy.
func (c *Cache) Write(blockNumber uint64, data []byte) error {
	switch c.policy {
	case WriteThrough:
		if err := c.d.WriteAt(data, int64(blockNumber)*disk.BlockSize); err != nil {
			return err
		}
		c.mu.Lock()
		c.insert(cacheKey{blockNumber: blockNumber}, data, false)
		c.mu.Unlock()
		return nil
	case WriteAround:
		return c.d.WriteAt(data, int64(blockNumber)*disk.BlockSize)
	case WriteBack:
		if err := c.journal.append(blockNumber, data); err != nil {
			return err
		}
		c.mu.Lock()
		c.insert(cacheKey{blockNumber: blockNumber}, data, true)
		c.mu.Unlock()
		return nil
	default:
		return objerr.New(objerr.BadInput, "blockcache.Write", nil)
	}
}

// insert adds or updates an entry, evicting the LRU clean entry first if
// at capacity. Dirty entries are never evicted silently — Flush must
// clear them first — so a cache under sustained write-back pressure with
// no flushing will grow past capacity rather than lose durability state.
func (c *Cache) insert(key cacheKey, data []byte, dirty bool) {
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.data = data
		e.dirty = e.dirty || dirty
		e.age = time.Now()
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.capacity {
		c.evictOneClean()
	}
	el := c.ll.PushFront(&entry{key: key, data: data, dirty: dirty, age: time.Now()})
	c.index[key] = el
}

func (c *Cache) evictOneClean() {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if !e.dirty {
			c.ll.Remove(el)
			delete(c.index, e.key)
			return
		}
	}
}

// Flush writes every dirty entry to disk and clears its dirty bit,
// truncating the write-back journal once all of it is durable on the
// data disk. Called periodically by a background goroutine and on
// Close.
func (c *Cache) Flush() error {
	if c.policy != WriteBack {
		return nil
	}
	c.mu.Lock()
	var dirty []*entry
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.dirty {
			dirty = append(dirty, e)
		}
	}
	c.mu.Unlock()

	for _, e := range dirty {
		if err := c.d.WriteAt(e.data, int64(e.key.blockNumber)*disk.BlockSize); err != nil {
			return err
		}
	}
	if err := c.d.Sync(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, e := range dirty {
		e.dirty = false
	}
	c.mu.Unlock()
	return c.journal.truncate()
}

// RunFlusher starts a ticker that calls Flush whenever the oldest dirty
// entry exceeds dirtyAgeLimit, stopping when stop is closed.
func (c *Cache) RunFlusher(stop <-chan struct{}) {
	ticker := time.NewTicker(c.dirtyAgeLimit / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.oldestDirtyAge() >= c.dirtyAgeLimit {
				c.Flush()
			}
		case <-stop:
			c.Flush()
			return
		}
	}
}

func (c *Cache) oldestDirtyAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var oldest time.Time
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.dirty && (oldest.IsZero() || e.age.Before(oldest)) {
			oldest = e.age
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return time.Since(oldest)
}

func (c *Cache) Close() error {
	if c.policy == WriteBack {
		if err := c.Flush(); err != nil {
			return err
		}
		return c.journal.close()
	}
	return nil
}
