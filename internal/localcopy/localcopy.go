// Package localcopy implements spec.md's "make_local_copy" external
// collaborator: producing a user-visible named alias for the tip layer once
// a pull completes.
package localcopy

import (
	"fmt"
	"path/filepath"

	"github.com/rmonjo/dkrimport/internal/btrfs"
)

// Materialize snapshots final (the tip layer's promoted subvolume) into
// imageRoot/local. If an alias with that name already exists, it is only
// replaced when force is true; otherwise Materialize refuses, leaving the
// existing alias untouched.
func Materialize(snap btrfs.Snapshotter, final, imageRoot, local string, force bool) error {
	dst := filepath.Join(imageRoot, local)

	if snap.Exists(dst) {
		if !force {
			return fmt.Errorf("local alias %q already exists", local)
		}
		if err := snap.RemoveAll(dst); err != nil {
			return fmt.Errorf("removing existing local alias %q: %w", local, err)
		}
	}

	if err := snap.Snapshot(final, dst, false); err != nil {
		return fmt.Errorf("snapshotting %q to local alias %q: %w", final, local, err)
	}
	return nil
}
