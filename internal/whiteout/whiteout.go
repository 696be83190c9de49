// Package whiteout resolves layered-filesystem whiteout markers left by the
// extractor in a freshly extracted layer directory into real deletions of
// the corresponding path in the parent layer's content that is already
// present in the same (CoW) tree, per spec.md's external "whiteout
// resolver" collaborator.
package whiteout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/pkg/archive"
)

// Resolve walks dir, turning every ".wh.<name>" marker into the removal of
// "<name>" alongside it. An opaque-directory marker is removed on its own;
// what the opaque directory shadows from the parent snapshot beneath it is
// left in place. Marker files themselves are always removed, whether or not the
// target they mark existed (a layer may whiteout a path from a
// grandparent, not present as a sibling in this same snapshot walk).
func Resolve(dir string) error {
	var markers []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		base := info.Name()
		if strings.HasPrefix(base, archive.WhiteoutPrefix) {
			markers = append(markers, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, marker := range markers {
		dir, base := filepath.Split(marker)
		if base == archive.WhiteoutOpaqueDir {
			// An opaque-dir marker asks that everything the parent
			// snapshot contributed to this directory be hidden, keeping
			// only what this layer's archive itself wrote there. Telling
			// the two apart would need a manifest of paths the extractor
			// actually wrote, which the external tar process doesn't
			// report; we only drop the marker itself, so opaque
			// directories degrade to a plain (non-hiding) merge.
			if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}

		target := filepath.Join(dir, strings.TrimPrefix(base, archive.WhiteoutPrefix))
		if err := os.RemoveAll(target); err != nil {
			return err
		}
		if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
