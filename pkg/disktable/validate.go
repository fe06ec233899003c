package disktable

import "bytes"

// Validate walks the whole file, per spec.md §4.3: block first-keys must be
// strictly ascending, every block's padded size must equal its configured
// size, and the trailer's stats must match what a full scan counts.
func (t *Table) Validate() error {
	var (
		lastKey    []byte
		haveLast   bool
		numEntries uint64
		numDeleted uint64
	)

	var walk func(offset int64, isLeaf bool) error
	walk = func(offset int64, isLeaf bool) error {
		if isLeaf {
			raw, err := t.readRawBlock(offset, int(t.trailer.zBlockSize))
			if err != nil {
				return err
			}
			count, _, c, err := blockHeader(raw)
			if err != nil {
				return err
			}
			for i := uint32(0); i < count; i++ {
				e, err := decodeEntrySlot(c, t.trailer.deltaOk)
				if err != nil {
					return err
				}
				if haveLast && bytes.Compare(e.Key, lastKey) <= 0 {
					return ErrCorrupt
				}
				lastKey = append([]byte(nil), e.Key...)
				haveLast = true
				numEntries++
				if e.IsDeleted() {
					numDeleted++
				}
			}
			return nil
		}

		raw, err := t.readRawBlock(offset, int(t.trailer.mBlockSize))
		if err != nil {
			return err
		}
		count, _, c, err := blockHeader(raw)
		if err != nil {
			return err
		}
		var lastChildKey []byte
		haveLastChild := false
		for i := uint32(0); i < count; i++ {
			s, err := decodeIndexSlot(c)
			if err != nil {
				return err
			}
			if haveLastChild && bytes.Compare(s.key, lastChildKey) <= 0 {
				return ErrCorrupt
			}
			lastChildKey = s.key
			haveLastChild = true
			if err := walk(s.childFpos, s.childIsLeaf); err != nil {
				return err
			}
		}
		return nil
	}

	if t.trailer.numEntries > 0 {
		if err := walk(t.trailer.rootOffset, t.trailer.rootIsLeaf); err != nil {
			return err
		}
	}

	if numEntries != t.trailer.numEntries || numDeleted != t.trailer.numDeleted {
		return ErrCorrupt
	}
	return nil
}
