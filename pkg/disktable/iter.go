package disktable

import (
	"bytes"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Iterator yields a table's entries in key order (or reverse), optionally
// bounded to a key range. Built eagerly over the table's Z-block offset
// list (see collectLeafOffsets) and then lazily loads one Z-block at a
// time.
type Iterator struct {
	t       *Table
	offsets []int64
	leafIdx int
	reverse bool

	block    []*entry.Entry
	blockIdx int

	hasStart bool
	start    []byte
	startOk  bool // true => >=, false => >

	hasEnd bool
	end    []byte
	endOk  bool // true => <=, false => <

	withVersions bool
	err          error
}

// Iter returns a forward iterator over the whole table.
func (t *Table) Iter() *Iterator { return t.newIterator(false, nil, false, nil, false, false) }

// Reverse returns a backward iterator over the whole table.
func (t *Table) Reverse() *Iterator { return t.newIterator(true, nil, false, nil, false, false) }

// Range returns a forward iterator bounded to [start, end] (or open-ended
// when start/end is nil), with inclusivity controlled by startIncl/endIncl.
func (t *Table) Range(start, end []byte, startIncl, endIncl bool) *Iterator {
	return t.newIterator(false, start, startIncl, end, endIncl, false)
}

// IterWithVersions is like Iter but additionally materialises every
// reference-valued value/delta in each yielded entry (spec.md §6.3).
func (t *Table) IterWithVersions() *Iterator {
	it := t.newIterator(false, nil, false, nil, false, false)
	it.withVersions = true
	return it
}

// RangeWithVersions is like Range but additionally materialises every
// reference-valued value/delta in each yielded entry (spec.md §4.3: "iter_
// with_versions / range_with_versions ... additionally fetch value-log and
// delta-log references and inflate them into materialised Entry instances
// before yielding").
func (t *Table) RangeWithVersions(start, end []byte, startIncl, endIncl bool) *Iterator {
	it := t.newIterator(false, start, startIncl, end, endIncl, false)
	it.withVersions = true
	return it
}

// ReverseWithVersions is like Reverse but additionally materialises every
// reference-valued value/delta in each yielded entry (spec.md §4.3).
func (t *Table) ReverseWithVersions() *Iterator {
	it := t.newIterator(true, nil, false, nil, false, false)
	it.withVersions = true
	return it
}

func (t *Table) newIterator(reverse bool, start []byte, startIncl bool, end []byte, endIncl bool, withVersions bool) *Iterator {
	offsets, err := t.collectLeafOffsets()
	it := &Iterator{t: t, offsets: offsets, reverse: reverse, withVersions: withVersions, err: err}
	if start != nil {
		it.hasStart = true
		it.start = start
		it.startOk = startIncl
	}
	if end != nil {
		it.hasEnd = true
		it.end = end
		it.endOk = endIncl
	}
	if reverse {
		it.leafIdx = len(offsets) - 1
	}
	return it
}

func (it *Iterator) loadNextBlock() bool {
	for {
		if it.reverse {
			if it.leafIdx < 0 {
				return false
			}
		} else if it.leafIdx >= len(it.offsets) {
			return false
		}
		block, err := it.t.loadZBlock(it.offsets[it.leafIdx])
		if it.reverse {
			it.leafIdx--
		} else {
			it.leafIdx++
		}
		if err != nil {
			it.err = err
			return false
		}
		if len(block) == 0 {
			continue
		}
		it.block = block
		if it.reverse {
			it.blockIdx = len(block) - 1
		} else {
			it.blockIdx = 0
		}
		return true
	}
}

func (it *Iterator) withinStart(key []byte) bool {
	if !it.hasStart {
		return true
	}
	c := bytes.Compare(key, it.start)
	if it.startOk {
		return c >= 0
	}
	return c > 0
}

func (it *Iterator) withinEnd(key []byte) bool {
	if !it.hasEnd {
		return true
	}
	c := bytes.Compare(key, it.end)
	if it.endOk {
		return c <= 0
	}
	return c < 0
}

// Next returns the next entry, or (nil, false) when exhausted or on error
// (call Err to distinguish). Entries are materialised (reference payloads
// resolved) only when the iterator was built with IterWithVersions.
func (it *Iterator) Next() (*entry.Entry, bool) {
	for {
		if it.block == nil {
			if !it.loadNextBlock() {
				return nil, false
			}
		}
		if it.reverse {
			if it.blockIdx < 0 {
				it.block = nil
				continue
			}
		} else if it.blockIdx >= len(it.block) {
			it.block = nil
			continue
		}
		e := it.block[it.blockIdx]
		if it.reverse {
			it.blockIdx--
		} else {
			it.blockIdx++
		}

		if it.reverse {
			if !it.withinEnd(e.Key) {
				continue // haven't walked down into the end bound yet
			}
			if !it.withinStart(e.Key) {
				it.block = nil
				it.leafIdx = -1
				return nil, false // walked past the start bound: done
			}
		} else {
			if !it.withinStart(e.Key) {
				continue // haven't reached the start bound yet
			}
			if !it.withinEnd(e.Key) {
				it.block = nil
				it.leafIdx = len(it.offsets)
				return nil, false // walked past the end bound: done
			}
		}

		if it.withVersions {
			out, err := it.t.inflate(e)
			if err != nil {
				it.err = err
				return nil, false
			}
			return out, true
		}
		return e, true
	}
}

// Err reports the first error encountered while iterating, if any.
func (it *Iterator) Err() error { return it.err }
