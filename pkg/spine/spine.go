// pkg/spine/spine.go
// Package spine implements the Sorted Spine: the canonical ordered view of
// all live entries, addressed by dense zero-based position.
//
// Layout is a flat, positionally aligned pair of arrays rather than a
// page: keys is a dense []int64 kept separate from locators so the hot
// comparison path during local search stays cache-dense and is amenable
// to SIMD-style batched equality checks.
package spine

import (
	"errors"
	"sort"

	"omendb/pkg/locator"
	"omendb/pkg/omenerr"
)

// Locator is an alias for the Value Store's opaque address type so
// callers of this package don't need a separate import for the common
// case of building spine.Entry values.
type Locator = locator.Locator

var (
	// ErrKeyNotFound is returned by operations that require an existing key.
	ErrKeyNotFound = errors.New("spine: key not found")
	// ErrOutOfRange is returned by entry_at when pos is outside [0, n).
	ErrOutOfRange = errors.New("spine: position out of range")
	// ErrInvalidRange is returned by Range when lo > hi.
	ErrInvalidRange = errors.New("spine: lo > hi")
)

// Entry is a single (key, locator) pair as seen by a caller.
type Entry struct {
	Key     int64
	Locator Locator
}

// Spine holds the sorted keyspace as two physically separate, positionally
// aligned slices plus a bounded in-memory delta buffer absorbing recent
// inserts. Deletes are tombstoned in the main array; renumbering happens
// during Compact.
type Spine struct {
	keys     []int64
	locators []Locator
	tomb     []bool // tomb[i] true => keys[i] is deleted but still occupies a position

	buf *deltaBuffer

	liveCount int // live (non-tombstoned, non-buffered) entries in keys/locators
}

// New creates an empty spine. bufferCapacity is the delta-buffer size at
// which NeedsCompact reports true (values <= 0 are treated as 1); new keys
// always go to the buffer, which is merged into the main arrays only by
// Compact.
func New(bufferCapacity int) *Spine {
	return &Spine{
		keys:     make([]int64, 0, 1024),
		locators: make([]Locator, 0, 1024),
		tomb:     make([]bool, 0, 1024),
		buf:      newDeltaBuffer(bufferCapacity),
	}
}

// Len returns the number of live entries across the main spine and the
// delta buffer.
func (s *Spine) Len() int {
	return s.liveCount + s.buf.liveLen()
}

// MainLen returns the number of positions in the main array (including
// tombstoned slots), i.e. the domain the Learned Index is trained over.
func (s *Spine) MainLen() int {
	return len(s.keys)
}

// KeyAt returns the key at main-array position pos, satisfying
// model.Source so the Learned Index can train directly over the spine
// without copying its key slice.
func (s *Spine) KeyAt(pos int) int64 {
	return s.keys[pos]
}

// Insert upserts (k, loc) into the spine. New keys land in the delta
// buffer; an existing key already resident in the main array has its
// locator overwritten in place, keeping its position since sorted order
// is unchanged.
func (s *Spine) Insert(k int64, loc Locator) {
	if pos, ok := s.positionInMain(k); ok {
		if s.tomb[pos] {
			s.tomb[pos] = false
			s.liveCount++
		}
		s.locators[pos] = loc
		return
	}
	s.buf.upsert(k, loc)
}

// Delete removes k from the spine (tombstone discipline). Returns false if
// k was not present.
func (s *Spine) Delete(k int64) bool {
	if s.buf.delete(k) {
		return true
	}
	pos, ok := s.positionInMain(k)
	if !ok || s.tomb[pos] {
		return false
	}
	s.tomb[pos] = true
	s.liveCount--
	return true
}

// EntryAt returns the (key, locator) at the given main-array position.
// Positions are only meaningful against MainLen(); the delta buffer has no
// stable position until a Compact.
func (s *Spine) EntryAt(pos int) (Entry, error) {
	if pos < 0 || pos >= len(s.keys) {
		return Entry{}, omenerr.New(omenerr.KindInternal, "spine.entry_at", ErrOutOfRange)
	}
	if s.tomb[pos] {
		return Entry{}, omenerr.New(omenerr.KindNotFound, "spine.entry_at", ErrKeyNotFound)
	}
	return Entry{Key: s.keys[pos], Locator: s.locators[pos]}, nil
}

// positionInMain finds k's exact position in the main array via binary
// search over the full array (used outside the bounded-window hot path,
// e.g. by Insert/Delete before a Compact has happened).
func (s *Spine) positionInMain(k int64) (int, bool) {
	n := len(s.keys)
	i := sort.Search(n, func(i int) bool { return s.keys[i] >= k })
	if i < n && s.keys[i] == k {
		return i, true
	}
	return 0, false
}

// PositionOf answers a bounded positional query: given a candidate range
// [lo, hi] supplied by the Learned Index's prediction ± error_bound, it
// searches only that window of the main array, then falls back to the
// delta buffer — a bounded search, never a global one, so lookup cost
// tracks the model's error bound rather than the spine's total size.
func (s *Spine) PositionOf(k int64, lo, hi int) (int, bool) {
	n := len(s.keys)
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo <= hi {
		if pos, found := s.searchWindow(k, lo, hi); found {
			return pos, true
		}
	}
	if _, ok := s.buf.get(k); ok {
		// The buffer has no main-array position; callers that need one
		// must Compact first. Signal presence via -1 so Get() can still
		// resolve the value through the buffer directly.
		return -1, true
	}
	return 0, false
}

// searchWindow implements the local search policy: linear scan for
// windows of at most 16 keys, binary search otherwise.
func (s *Spine) searchWindow(k int64, lo, hi int) (int, bool) {
	if hi-lo+1 <= 16 {
		for i := lo; i <= hi; i++ {
			if s.keys[i] == k {
				if s.tomb[i] {
					return 0, false
				}
				return i, true
			}
		}
		return 0, false
	}

	for lo < hi {
		mid := lo + (hi-lo)/2
		if s.keys[mid] < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if s.keys[lo] == k && !s.tomb[lo] {
		return lo, true
	}
	return 0, false
}

// BufferLocator resolves a key that PositionOf reported as buffer-resident
// (pos == -1).
func (s *Spine) BufferLocator(k int64) (Locator, bool) {
	return s.buf.get(k)
}

// RemapLocators rewrites every main-array locator found as a key in remap
// to its mapped value, used after Value Store compaction moves live
// records to new segments. Buffered (not-yet-compacted) entries are
// remapped too, since they may reference a record that compaction also
// rewrote.
func (s *Spine) RemapLocators(remap map[Locator]Locator) {
	if len(remap) == 0 {
		return
	}
	for i, loc := range s.locators {
		if s.tomb[i] {
			continue
		}
		if newLoc, ok := remap[loc]; ok {
			s.locators[i] = newLoc
		}
	}
	for k, loc := range s.buf.data {
		if newLoc, ok := remap[loc]; ok {
			s.buf.data[k] = newLoc
		}
	}
}

// FullScan finds k's position via a full binary search of the main array,
// ignoring any predicted window. Callers use this as the widen-the-window
// fallback when a Learned Index lookup comes up empty: a stale model (one
// that hasn't been rebuilt since enough mutations landed) can predict a
// window that misses the key, so a miss within the predicted window must
// still be checked against the true array before the key is reported
// absent.
func (s *Spine) FullScan(k int64) (int, bool) {
	pos, ok := s.positionInMain(k)
	if !ok || s.tomb[pos] {
		return 0, false
	}
	return pos, true
}

// PendingInserts returns the number of keys currently held in the delta
// buffer, awaiting merge. The engine reports it through Stats.
func (s *Spine) PendingInserts() int {
	return s.buf.liveLen()
}

// NeedsCompact reports whether the delta buffer has reached its configured
// capacity and should be merged into the main array.
func (s *Spine) NeedsCompact() bool {
	return s.buf.full()
}

// Compact merges the delta buffer into the main array in sorted order,
// physically removing tombstoned slots and renumbering positions so they
// remain a dense zero-based prefix of the naturals. It returns the number
// of buffered entries merged.
func (s *Spine) Compact() int {
	pending := s.buf.drainSorted()
	merged := len(pending)

	out := make([]int64, 0, len(s.keys)+merged)
	outLoc := make([]Locator, 0, len(s.keys)+merged)

	i, j := 0, 0
	for i < len(s.keys) || j < len(pending) {
		switch {
		case i >= len(s.keys):
			out = append(out, pending[j].Key)
			outLoc = append(outLoc, pending[j].Locator)
			j++
		case j >= len(pending):
			if !s.tomb[i] {
				out = append(out, s.keys[i])
				outLoc = append(outLoc, s.locators[i])
			}
			i++
		case s.keys[i] == pending[j].Key:
			// buffered upsert of an existing main-array key
			out = append(out, pending[j].Key)
			outLoc = append(outLoc, pending[j].Locator)
			i++
			j++
		case s.keys[i] < pending[j].Key:
			if !s.tomb[i] {
				out = append(out, s.keys[i])
				outLoc = append(outLoc, s.locators[i])
			}
			i++
		default:
			out = append(out, pending[j].Key)
			outLoc = append(outLoc, pending[j].Locator)
			j++
		}
	}

	s.keys = out
	s.locators = outLoc
	s.tomb = make([]bool, len(out))
	s.liveCount = len(out)
	return merged
}

// Range returns the live entries with lo <= key <= hi in increasing key
// order (closed-closed, per SPEC_FULL.md's resolution of the range
// inclusivity Open Question). The merged entry list is built once, at call
// time, from a snapshot of the main array and delta buffer: a compact or
// mutation after Range is called does not affect an in-flight iteration.
func (s *Spine) Range(lo, hi int64) (*Iterator, error) {
	if lo > hi {
		return nil, omenerr.New(omenerr.KindInvalidArgument, "spine.range", ErrInvalidRange)
	}
	start := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= lo })
	bufEntries := s.buf.rangeSorted(lo, hi)

	merged := make([]Entry, 0, len(bufEntries)+16)
	i, j := start, 0
	for i < len(s.keys) && s.keys[i] <= hi {
		if s.tomb[i] {
			i++
			continue
		}
		for j < len(bufEntries) && bufEntries[j].Key < s.keys[i] {
			merged = append(merged, bufEntries[j])
			j++
		}
		if j < len(bufEntries) && bufEntries[j].Key == s.keys[i] {
			// buffered upsert shadows the main-array value
			merged = append(merged, bufEntries[j])
			j++
		} else {
			merged = append(merged, Entry{Key: s.keys[i], Locator: s.locators[i]})
		}
		i++
	}
	for j < len(bufEntries) {
		merged = append(merged, bufEntries[j])
		j++
	}

	return &Iterator{entries: merged}, nil
}

// IterFrom returns a lazy ordered sequence beginning at main-array
// position pos, continuing to the end of the spine (main array only; the
// delta buffer is not ordered relative to it until a Compact).
func (s *Spine) IterFrom(pos int) (*Iterator, error) {
	if pos < 0 || pos > len(s.keys) {
		return nil, omenerr.New(omenerr.KindInternal, "spine.iter_from", ErrOutOfRange)
	}
	entries := make([]Entry, 0, len(s.keys)-pos)
	for i := pos; i < len(s.keys); i++ {
		if s.tomb[i] {
			continue
		}
		entries = append(entries, Entry{Key: s.keys[i], Locator: s.locators[i]})
	}
	return &Iterator{entries: entries}, nil
}

// Iterator produces (key, locator) pairs in increasing key order over a
// snapshot captured when Range/IterFrom was called.
type Iterator struct {
	entries []Entry
	pos     int
}

// Next advances the iterator. Returns false when exhausted.
func (it *Iterator) Next() (Entry, bool) {
	if it.pos >= len(it.entries) {
		return Entry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}
