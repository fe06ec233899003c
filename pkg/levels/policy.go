package levels

// Policy constants from spec.md §4.4, generalised from a hard-coded
// "more than 4 sstables" compaction trigger into per-level
// footprint-ratio rules.
const (
	// DefaultMemRatio: a memory-index snapshot may absorb into a level
	// when its footprint is less than DefaultMemRatio times the level's
	// on-disk footprint.
	DefaultMemRatio = 0.5

	// DefaultDiskRatio: two adjacent disk levels must merge once the upper
	// level's footprint exceeds DefaultDiskRatio times the next level's.
	DefaultDiskRatio = 0.5

	// DefaultNLevels is the fixed number of level slots a Manager manages.
	DefaultNLevels = 16
)
