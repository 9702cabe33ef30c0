// Package metastore implements the OSD's local metadata index: an
// ordered, in-memory map from a shard key (stripe ID plus position) to its
// ShardLocation, backed by a metadata WAL for durability and a periodic
// snapshot for fast recovery, with an ARC cache absorbing hot-key pressure
// ahead of the full in-memory index (which, at OSD scale, already fits in
// memory — the cache mainly benefits the serialized-value fast path, not
// a working-set reduction).
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cloudomate/objectio/internal/objerr"
)

// Entry is the value stored for one key: the JSON-encoded ShardLocation
// (or ObjectMeta, for the gateway-facing variant) plus a tombstone bit for
// deletes. A tombstoned key keeps its position in the sorted index and is
// written to every snapshot; the store never removes it.
type Entry struct {
	Value     []byte
	Tombstone bool
}

// Store is a single OSD's local metadata index.
type Store struct {
	mu     sync.RWMutex
	keys   []string // sorted
	index  map[string]Entry
	wal    *metaWAL
	cache  *arcCache
	dir    string

	snapshotPath string
	walPath      string

	putsSinceSnapshot int
	snapshotEvery     int
}

// Options configures snapshot cadence and cache sizing.
type Options struct {
	CacheCapacity    int
	SnapshotEveryPut int // 0 disables automatic snapshotting
}

// Open mounts the metadata store rooted at dir: it loads the last
// snapshot (if any), then replays the metadata WAL written since that
// snapshot, reconstructing the exact pre-crash state.
func Open(dir string, opts Options) (*Store, error) {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 4096
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, objerr.New(objerr.Fatal, "metastore.Open", err)
	}

	s := &Store{
		index:         make(map[string]Entry),
		cache:         newARC(opts.CacheCapacity),
		dir:           dir,
		snapshotPath:  filepath.Join(dir, "snapshot.db"),
		walPath:       filepath.Join(dir, "metadata.wal"),
		snapshotEvery: opts.SnapshotEveryPut,
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	wal, err := openMetaWAL(s.walPath, func(rec metaRecord) {
		switch rec.op {
		case opPut:
			s.applyPut(rec.key, rec.value, false)
		case opDelete:
			s.applyPut(rec.key, nil, true)
		}
	})
	if err != nil {
		return nil, err
	}
	s.wal = wal
	return s, nil
}

func (s *Store) Close() error {
	return s.wal.close()
}

func (s *Store) applyPut(key string, value []byte, tombstone bool) {
	_, existed := s.index[key]
	s.index[key] = Entry{Value: value, Tombstone: tombstone}
	if !existed {
		s.insertSortedKey(key)
	}
	if tombstone {
		s.cache.Remove(key)
	} else {
		s.cache.Put(key, value)
	}
}

func (s *Store) insertSortedKey(key string) {
	i := sort.SearchStrings(s.keys, key)
	s.keys = append(s.keys, "")
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = key
}

func (s *Store) removeSortedKey(key string) {
	i := sort.SearchStrings(s.keys, key)
	if i < len(s.keys) && s.keys[i] == key {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}

// Put durably associates key with value: append-WAL, fsync, then apply to
// the in-memory index.
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(opPut, key, value); err != nil {
		return err
	}
	s.applyPut(key, value, false)
	return s.maybeSnapshotLocked()
}

// Get returns the value for key, or (nil, false) if absent or deleted.
// Cache hits skip the sorted-index lookup entirely.
func (s *Store) Get(key string) ([]byte, bool) {
	// Exclusive lock: an ARC hit moves the entry between lists.
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache.Get(key); ok {
		return v, true
	}
	e, ok := s.index[key]
	if !ok || e.Tombstone {
		return nil, false
	}
	return e.Value, true
}

// Delete writes a tombstone for key. The key's slot in the sorted index
// is retained (with Tombstone=true); snapshots keep it too, so tombstones
// are never reclaimed.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.append(opDelete, key, nil); err != nil {
		return err
	}
	s.applyPut(key, nil, true)
	return s.maybeSnapshotLocked()
}

// BatchPut applies a group of puts as a single WAL-synced unit, useful
// when a stripe write touches several shard locations at once.
func (s *Store) BatchPut(kvs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kvs {
		if err := s.wal.append(opPut, k, v); err != nil {
			return err
		}
	}
	for k, v := range kvs {
		s.applyPut(k, v, false)
	}
	return s.maybeSnapshotLocked()
}

// Scan iterates keys in [start, end) sorted order (end == "" means
// unbounded), calling fn for each live (non-tombstoned) entry. Returns
// early if fn returns false.
func (s *Store) Scan(start, end string, fn func(key string, value []byte) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.SearchStrings(s.keys, start)
	for ; i < len(s.keys); i++ {
		key := s.keys[i]
		if end != "" && key >= end {
			return
		}
		e := s.index[key]
		if e.Tombstone {
			continue
		}
		if !fn(key, e.Value) {
			return
		}
	}
}

// Stats reports index size for monitoring and for capacity-based
// placement decisions upstream.
type Stats struct {
	LiveKeys      int
	TombstoneKeys int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, e := range s.index {
		if e.Tombstone {
			st.TombstoneKeys++
		} else {
			st.LiveKeys++
		}
	}
	return st
}

func (s *Store) maybeSnapshotLocked() error {
	if s.snapshotEvery <= 0 {
		return nil
	}
	s.putsSinceSnapshot++
	if s.putsSinceSnapshot < s.snapshotEvery {
		return nil
	}
	s.putsSinceSnapshot = 0
	return s.writeSnapshotLocked()
}

// snapshotRecord is the on-disk JSON representation of one index entry,
// written during a full-index snapshot.
type snapshotRecord struct {
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
	Tombstone bool   `json:"tombstone,omitempty"`
}

func (s *Store) writeSnapshotLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return objerr.New(objerr.Fatal, "metastore.writeSnapshot", err)
	}
	enc := json.NewEncoder(f)
	for _, key := range s.keys {
		e := s.index[key]
		if err := enc.Encode(snapshotRecord{Key: key, Value: e.Value, Tombstone: e.Tombstone}); err != nil {
			f.Close()
			return objerr.New(objerr.Fatal, "metastore.writeSnapshot", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return objerr.New(objerr.Fatal, "metastore.writeSnapshot", err)
	}
	if err := f.Close(); err != nil {
		return objerr.New(objerr.Fatal, "metastore.writeSnapshot", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return objerr.New(objerr.Fatal, "metastore.writeSnapshot", err)
	}
	// The metadata WAL before this point is now redundant: every entry it
	// held is reflected in the snapshot just fsynced and renamed into
	// place.
	return s.wal.truncate()
}

// Snapshot forces an immediate snapshot write, independent of the
// SnapshotEveryPut cadence. Within this repository only tests call it.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSnapshotLocked()
}

func (s *Store) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return objerr.New(objerr.Fatal, "metastore.loadSnapshot", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for {
		var rec snapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if err.Error() == "EOF" {
				break
			}
			return objerr.New(objerr.Corrupt, "metastore.loadSnapshot", err)
		}
		s.applyPut(rec.Key, rec.Value, rec.Tombstone)
	}
	return nil
}

// lastSnapshotAge reports how long ago the snapshot file was written. It
// is unexported and only tests call it.
func (s *Store) lastSnapshotAge() (time.Duration, error) {
	info, err := os.Stat(s.snapshotPath)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("no snapshot written yet")
	}
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}
