package vos

import "container/list"

// ObjectHandle is a held, hydrated object: the object record plus enough
// context to run KBTR/EVT operations against its dkey tree. Handles are
// acquired via Hold and released via Release; held handles cannot be
// evicted from the cache.
type ObjectHandle struct {
	cont *Container
	obj  *objectRecord
	elem *list.Element // never set; the LRU position lives in handleCache.byOID
}

// handleCache is a bounded LRU of ObjectHandles. It is xstream-local: the
// spec's concurrency model gives each container to exactly one cooperative
// task, so no locking is needed beyond what the cache's own bookkeeping
// requires when called from that single task.
type handleCache struct {
	capacity int
	ll       *list.List // of *cacheEntry, front = most recently used
	byOID    map[ObjectID]*list.Element
}

type cacheEntry struct {
	oid      ObjectID
	handle   *ObjectHandle
	refcount int
}

func newHandleCache(capacity int) *handleCache {
	return &handleCache{
		capacity: capacity,
		ll:       list.New(),
		byOID:    make(map[ObjectID]*list.Element),
	}
}

// hold increments the refcount for oid's handle, creating and hydrating it
// from the object index if absent. create=false returns ErrNonexist when no
// object record exists yet.
func (c *handleCache) hold(cont *Container, oid ObjectID, epoch uint64, create bool, intent int) (*ObjectHandle, error) {
	if elem, ok := c.byOID[oid]; ok {
		ent := elem.Value.(*cacheEntry)
		ent.refcount++
		c.ll.MoveToFront(elem)
		cont.pool.metrics.HandleCacheHit.Inc()
		return ent.handle, nil
	}
	cont.pool.metrics.HandleCacheMis.Inc()
	var obj *objectRecord
	var err error
	if create {
		obj, err = cont.oi.findOrAlloc(oid, epoch)
	} else {
		obj, err = cont.oi.find(oid)
	}
	if err != nil {
		return nil, err
	}
	h := &ObjectHandle{cont: cont, obj: obj}
	ent := &cacheEntry{oid: oid, handle: h, refcount: 1}
	elem := c.ll.PushFront(ent)
	c.byOID[oid] = elem
	c.evictIfNeeded()
	return h, nil
}

// release decrements the refcount; at zero the entry becomes evictable but
// stays cached (and instantly reusable) until capacity pressure requires
// eviction.
func (c *handleCache) release(h *ObjectHandle) {
	elem, ok := c.byOID[h.obj.oid]
	if !ok {
		return
	}
	ent := elem.Value.(*cacheEntry)
	if ent.refcount > 0 {
		ent.refcount--
	}
}

func (c *handleCache) evictIfNeeded() {
	for c.ll.Len() > c.capacity {
		// LRU order is front=newest; scan from the back for the first
		// evictable (refcount==0) entry.
		var victim *list.Element
		for e := c.ll.Back(); e != nil; e = e.Prev() {
			if e.Value.(*cacheEntry).refcount == 0 {
				victim = e
				break
			}
		}
		if victim == nil {
			return // everything is held; cache is allowed to exceed capacity
		}
		ent := victim.Value.(*cacheEntry)
		delete(c.byOID, ent.oid)
		c.ll.Remove(victim)
	}
}

// evictObject forcibly drops oid's cache entry if it is unheld. Object
// records themselves live in the object index, not the cache, so this is
// purely a hygiene step after a punch — ensuring a subsequent hold
// rehydrates rather than reuses a handle acquired before the punch — and
// is a no-op if the object is currently held or not cached.
func (c *handleCache) evictObject(oid ObjectID) {
	elem, ok := c.byOID[oid]
	if !ok {
		return
	}
	if elem.Value.(*cacheEntry).refcount != 0 {
		return
	}
	delete(c.byOID, oid)
	c.ll.Remove(elem)
}

// Hold acquires the object handle for oid. create=true will allocate an
// object record if none exists.
func (cont *Container) Hold(oid ObjectID, epoch uint64, create bool) (*ObjectHandle, error) {
	return cont.handles.hold(cont, oid, epoch, create, 0)
}

// Release returns a held handle to the cache.
func (cont *Container) Release(h *ObjectHandle) {
	cont.handles.release(h)
}
