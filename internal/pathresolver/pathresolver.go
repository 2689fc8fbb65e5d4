// Package pathresolver derives the deterministic (backup, tmpfs,
// overlay_upper) triple for a managed directory.
package pathresolver

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/borfs/bor/internal/layout"
	"github.com/borfs/bor/internal/model"
)

// Resolver is a pure function of a Dir's path and the process Roots: same
// Dir.Path always yields the same triple, with no filesystem access. The
// zero value is not usable; construct with New.
type Resolver struct {
	roots *layout.Roots
}

// New constructs a Resolver bound to the given Roots.
func New(roots *layout.Roots) *Resolver {
	return &Resolver{roots: roots}
}

// Triple holds the three derived locations for one Dir.
type Triple struct {
	Backup       string
	Tmpfs        string
	OverlayUpper string
}

// Resolve computes the (backup, tmpfs, overlay_upper) triple for dir. The
// hash component is the lower-case 40-hex SHA-1 of the UTF-8 bytes of
// dir.Path, prefixed onto dir.Name to avoid collisions between directories
// sharing a basename under different parents.
func (r *Resolver) Resolve(dir *model.Dir) (Triple, error) {
	sum := sha1.Sum([]byte(dir.Path))
	hash := hex.EncodeToString(sum[:])

	leaf := fmt.Sprintf("%s_%s", hash, dir.Name)

	return Triple{
		Backup:       filepath.Join(r.roots.Backups, leaf),
		Tmpfs:        filepath.Join(r.roots.Tmpfs, leaf),
		OverlayUpper: filepath.Join(r.roots.OverlayUpper, leaf),
	}, nil
}
