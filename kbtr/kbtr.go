// Package kbtr implements KBTR, the ordered key btree: a generic ordered
// map keyed by (key-bytes, epoch) with a class-specific Comparator and
// intent-aware probing, used for dkey trees, akey trees, and single-value
// trees alike.
//
// Node storage here is a sorted, dynamically-growing slice per Tree rather
// than a multi-node on-disk btree: it gives the same ordering and probe
// semantics the engine depends on while keeping the implementation small
// enough to read in one sitting. The concurrency idiom (fine-grained
// locking around a mutable shared structure, rather than copy-on-write)
// follows the style the teacher's sharded value-location map uses, even
// though the underlying data structure (ordered vs. hashed) differs.
package kbtr

import (
	"sort"
	"sync"
)

// Intent governs whether a lookup observes uncommitted DTX entries.
type Intent int

const (
	// IntentDefault skips every uncommitted entry.
	IntentDefault Intent = iota
	// IntentUpdate is used when the caller is about to modify the entry;
	// it still honors uncommitted entries from other transactions.
	IntentUpdate
	// IntentPunch is used for punch operations, which must see the
	// latest entry regardless of its commit state to avoid resurrecting
	// a value the in-flight transaction is about to retire.
	IntentPunch
)

// Op selects how probe positions the cursor relative to a target key.
type Op int

const (
	OpFirst Op = iota
	OpLast
	OpGE
	OpLE
	OpEQ
	OpGT
	OpLT
	OpMatched
)

// Record is one (key, epoch) -> value entry. Value is an opaque payload;
// the engine stores PM addresses, object records, or single-value cells in
// it depending on which tree this is.
type Record struct {
	Key     []byte
	Epoch   uint64
	Value   any
	pending bool // uncommitted; visible only under IntentUpdate/IntentPunch
}

// entryLess orders by Comparator on Key ascending, then Epoch descending,
// so a GE probe followed by MATCHED lands on the newest version <= the
// requested epoch.
func entryLess(cmp Comparator, a, b Record) bool {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.Epoch > b.Epoch
}

// Tree is one ordered KBTR instance. Zero value is not usable; use New.
type Tree struct {
	cmp     Comparator
	mu      sync.RWMutex
	entries []Record
}

// New creates an empty tree using cmp to order key bytes.
func New(cmp Comparator) *Tree {
	return &Tree{cmp: cmp}
}

func (t *Tree) find(key []byte, epoch uint64) int {
	target := Record{Key: key, Epoch: epoch}
	return sort.Search(len(t.entries), func(i int) bool {
		return !entryLess(t.cmp, t.entries[i], target)
	})
}

// InsertOrUpdate upserts (key, epoch) -> value. A duplicate (key, epoch)
// pair is replaced in place.
func (t *Tree) InsertOrUpdate(key []byte, epoch uint64, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.find(key, epoch)
	if idx < len(t.entries) {
		e := &t.entries[idx]
		if t.cmp.Compare(e.Key, key) == 0 && e.Epoch == epoch {
			e.Value = value
			return
		}
	}
	rec := Record{Key: append([]byte(nil), key...), Epoch: epoch, Value: value}
	t.entries = append(t.entries, Record{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = rec
}

// Lookup returns the record for key whose epoch is the greatest <= epoch.
// Returns ok=false if no such record exists.
func (t *Tree) Lookup(key []byte, epoch uint64, intent Intent) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.find(key, epoch)
	for ; idx < len(t.entries); idx++ {
		e := t.entries[idx]
		if t.cmp.Compare(e.Key, key) != 0 {
			break
		}
		if e.Epoch > epoch {
			continue
		}
		if e.pending && intent == IntentDefault {
			continue
		}
		return e, true
	}
	return Record{}, false
}

// Delete removes the exact (key, epoch) entry; called only by aggregation
// on tombstones past any active reader, never by the operation engine's
// normal update/punch path.
func (t *Tree) Delete(key []byte, epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.find(key, epoch)
	if idx >= len(t.entries) {
		return false
	}
	e := t.entries[idx]
	if t.cmp.Compare(e.Key, key) != 0 || e.Epoch != epoch {
		return false
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	return true
}

// Len reports the number of entries currently stored.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Iterator is an embedded cursor over a Tree's entries, avoiding a heap
// allocation per probe: it carries only an index into the tree's sorted
// entry slice, mirroring the "embedded-in-leaf iterator state" idiom.
type Iterator struct {
	tree *Tree
	pos  int
}

// NewIterator creates an unpositioned iterator; call Probe before Fetch.
func (t *Tree) NewIterator() *Iterator {
	return &Iterator{tree: t}
}

// Probe positions the cursor per op relative to key/epoch (epoch and key
// are ignored for OpFirst/OpLast).
func (it *Iterator) Probe(op Op, key []byte, epoch uint64) bool {
	t := it.tree
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.entries)
	switch op {
	case OpFirst:
		it.pos = 0
	case OpLast:
		it.pos = n - 1
	case OpGE, OpMatched:
		it.pos = t.find(key, epoch)
	case OpGT:
		it.pos = t.find(key, epoch)
		if it.pos < n && t.cmp.Compare(t.entries[it.pos].Key, key) == 0 && t.entries[it.pos].Epoch == epoch {
			it.pos++
		}
	case OpLE:
		idx := t.find(key, epoch)
		if idx < n && t.cmp.Compare(t.entries[idx].Key, key) == 0 && t.entries[idx].Epoch == epoch {
			it.pos = idx
		} else {
			it.pos = idx - 1
		}
	case OpLT:
		it.pos = t.find(key, epoch) - 1
	case OpEQ:
		idx := t.find(key, epoch)
		if idx < n && t.cmp.Compare(t.entries[idx].Key, key) == 0 && t.entries[idx].Epoch == epoch {
			it.pos = idx
		} else {
			it.pos = n // not found
		}
	}
	return it.pos >= 0 && it.pos < n
}

// Next advances the cursor forward by one entry, honoring intent by
// skipping uncommitted entries not visible to it.
func (it *Iterator) Next(intent Intent) bool {
	t := it.tree
	t.mu.RLock()
	defer t.mu.RUnlock()
	for {
		it.pos++
		if it.pos >= len(t.entries) {
			return false
		}
		if t.entries[it.pos].pending && intent == IntentDefault {
			continue
		}
		return true
	}
}

// Prev moves the cursor backward by one entry, honoring intent the same
// way Next does. Used for descending traversal (the RR single-value epoch
// expression, and MAX-direction query scans).
func (it *Iterator) Prev(intent Intent) bool {
	t := it.tree
	t.mu.RLock()
	defer t.mu.RUnlock()
	for {
		it.pos--
		if it.pos < 0 {
			return false
		}
		if t.entries[it.pos].pending && intent == IntentDefault {
			continue
		}
		return true
	}
}

// Fetch returns the entry currently under the cursor.
func (it *Iterator) Fetch() (Record, bool) {
	t := it.tree
	t.mu.RLock()
	defer t.mu.RUnlock()
	if it.pos < 0 || it.pos >= len(t.entries) {
		return Record{}, false
	}
	return t.entries[it.pos], true
}
