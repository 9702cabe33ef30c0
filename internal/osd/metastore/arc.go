// ARC (Adaptive Replacement Cache) implementation backing the metadata
// store's in-memory working set: two LRU lists of cached entries (T1
// recency, T2 frequency) and two ghost lists of evicted keys (B1, B2)
// used only to adapt the target size of T1 versus T2 as the access
// pattern shifts between recency- and frequency-dominated.
package metastore

import "container/list"

type arcEntry struct {
	key   string
	value []byte
}

// arcCache is not safe for concurrent use; callers serialize access (the
// Store wraps it with its own mutex).
type arcCache struct {
	capacity int
	target   int // adaptive target size for t1

	t1, t2, b1, b2 *list.List
	index          map[string]*list.Element // element.Value is *arcEntry for t1/t2, string for b1/b2
	inList         map[string]*list.List
}

func newARC(capacity int) *arcCache {
	return &arcCache{
		capacity: capacity,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		index:    make(map[string]*list.Element),
		inList:   make(map[string]*list.List),
	}
}

// Get returns the cached value for key, promoting it to T2 (the
// frequency list) on hit.
func (a *arcCache) Get(key string) ([]byte, bool) {
	el, ok := a.index[key]
	if !ok {
		return nil, false
	}
	lst := a.inList[key]
	if lst == a.t1 || lst == a.t2 {
		entry := el.Value.(*arcEntry)
		lst.Remove(el)
		if lst == a.t1 {
			delete(a.inList, key)
		}
		newEl := a.t2.PushFront(entry)
		a.index[key] = newEl
		a.inList[key] = a.t2
		return entry.value, true
	}
	return nil, false
}

// Put inserts or updates key, running the ARC replacement algorithm when
// the combined cache size is at capacity.
func (a *arcCache) Put(key string, value []byte) {
	if el, ok := a.index[key]; ok {
		lst := a.inList[key]
		switch lst {
		case a.t1, a.t2:
			el.Value.(*arcEntry).value = value
			if lst == a.t1 {
				entry := el.Value.(*arcEntry)
				a.t1.Remove(el)
				newEl := a.t2.PushFront(entry)
				a.index[key] = newEl
				a.inList[key] = a.t2
			}
			return
		case a.b1:
			a.adaptTowardRecency()
			a.replace(key)
			a.b1.Remove(el)
			newEl := a.t2.PushFront(&arcEntry{key: key, value: value})
			a.index[key] = newEl
			a.inList[key] = a.t2
			return
		case a.b2:
			a.adaptTowardFrequency()
			a.replace(key)
			a.b2.Remove(el)
			newEl := a.t2.PushFront(&arcEntry{key: key, value: value})
			a.index[key] = newEl
			a.inList[key] = a.t2
			return
		}
	}

	// Brand new key.
	if a.t1.Len()+a.b1.Len() == a.capacity {
		if a.t1.Len() < a.capacity {
			a.evictGhost(a.b1)
			a.replace(key)
		} else {
			a.evictLRU(a.t1)
		}
	} else if a.t1.Len()+a.t2.Len()+a.b1.Len()+a.b2.Len() >= 2*a.capacity {
		a.evictGhost(a.b2)
	} else if a.t1.Len()+a.t2.Len()+a.b1.Len()+a.b2.Len() >= a.capacity {
		a.replace(key)
	}
	newEl := a.t1.PushFront(&arcEntry{key: key, value: value})
	a.index[key] = newEl
	a.inList[key] = a.t1
}

// Remove evicts key from every list, used when a Delete is applied to the
// store.
func (a *arcCache) Remove(key string) {
	el, ok := a.index[key]
	if !ok {
		return
	}
	lst := a.inList[key]
	lst.Remove(el)
	delete(a.index, key)
	delete(a.inList, key)
}

func (a *arcCache) adaptTowardRecency() {
	delta := 1
	if a.b1.Len() > 0 && a.b2.Len() > 0 {
		delta = max(1, a.b2.Len()/a.b1.Len())
	}
	a.target = min(a.capacity, a.target+delta)
}

func (a *arcCache) adaptTowardFrequency() {
	delta := 1
	if a.b1.Len() > 0 && a.b2.Len() > 0 {
		delta = max(1, a.b1.Len()/a.b2.Len())
	}
	a.target = max(0, a.target-delta)
}

// replace evicts one entry from T1 or T2 into its ghost list, per the ARC
// REPLACE procedure, unless key itself is the LRU entry of T1 (handled by
// the caller skipping ghost re-entry in that case).
func (a *arcCache) replace(key string) {
	if a.t1.Len() > 0 && (a.t1.Len() > a.target || (a.inList[key] == a.b2 && a.t1.Len() == a.target)) {
		a.moveLRUToGhost(a.t1, a.b1)
	} else if a.t2.Len() > 0 {
		a.moveLRUToGhost(a.t2, a.b2)
	} else if a.t1.Len() > 0 {
		a.moveLRUToGhost(a.t1, a.b1)
	}
}

func (a *arcCache) moveLRUToGhost(from, ghost *list.List) {
	back := from.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*arcEntry)
	from.Remove(back)
	delete(a.index, entry.key)
	delete(a.inList, entry.key)

	ghostEl := ghost.PushFront(entry.key)
	a.index[entry.key] = ghostEl
	a.inList[entry.key] = ghost
	if ghost.Len() > a.capacity {
		a.evictGhost(ghost)
	}
}

func (a *arcCache) evictLRU(lst *list.List) {
	back := lst.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*arcEntry)
	lst.Remove(back)
	delete(a.index, entry.key)
	delete(a.inList, entry.key)
}

func (a *arcCache) evictGhost(ghost *list.List) {
	back := ghost.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	ghost.Remove(back)
	delete(a.index, key)
	delete(a.inList, key)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
