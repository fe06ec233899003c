package levels

import (
	"fmt"
	"path/filepath"

	"github.com/mnohosten/dgmkv/pkg/disktable"
)

// rootPath is the manager's single root-pointer file: "<base>.root" under
// dir, distinct from a table's own per-table ".root" suffix helper in
// pkg/disktable (unused here — a level manager owns one root blob for
// every level, not one per table; see DESIGN.md).
func rootPath(dir, base string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.root", base))
}

// tablePath returns the .indx path for a given level/fileno under dir.
func tablePath(dir, base string, level, fileno int) string {
	return filepath.Join(dir, disktable.IndxPath(disktable.TableName(base, level, fileno)))
}
