package disktable

import (
	"fmt"
	"strings"
)

// File-naming convention (spec.md §6): a disk table carries a synthetic
// name "<base>-<level>-<fileno>"; root files end in ".root", index/block
// files in ".indx", value logs in ".vlog".

// TableName builds the base synthetic name for a table at the given level
// and file number.
func TableName(base string, level, fileno int) string {
	return fmt.Sprintf("%s-%d-%d", base, level, fileno)
}

// IndxPath returns the block-file path for a table name.
func IndxPath(name string) string { return name + ".indx" }

// RootPath returns the root-pointer file path for a table name.
func RootPath(name string) string { return name + ".root" }

// VlogPath returns the sibling value-log path for a table's block-file
// path, replacing a trailing ".indx" if present.
func VlogPath(indxPath string) string {
	if strings.HasSuffix(indxPath, ".indx") {
		return strings.TrimSuffix(indxPath, ".indx") + ".vlog"
	}
	return indxPath + ".vlog"
}
