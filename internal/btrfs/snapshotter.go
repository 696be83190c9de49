// Package btrfs implements the CoW filesystem primitive the layer driver
// needs (subvolume creation, snapshotting, read-only marking and removal)
// by shelling out to the btrfs(8) CLI, the same way the teacher's git
// wrapper shells out to git(1): resolve the binary once, run each
// subcommand with exec.Command, and surface stderr on failure.
package btrfs

import (
	"fmt"
	"os"
	"os/exec"
)

// Snapshotter is the CoW primitive the layer driver depends on. The btrfs
// implementation below satisfies it against a real filesystem; tests use a
// directory-backed fake (see fake.go) so the state machine's invariants can
// be verified without root privileges or a btrfs-backed filesystem.
type Snapshotter interface {
	// Make creates a fresh, empty, writable subvolume at path.
	Make(path string) error
	// Snapshot creates a writable (or read-only, if readOnly) CoW clone of
	// src at dst.
	Snapshot(src, dst string, readOnly bool) error
	// SetReadOnly marks an existing subvolume read-only.
	SetReadOnly(path string) error
	// Remove deletes a subvolume (not recursive: path must be a subvolume
	// root, not an arbitrary directory tree).
	Remove(path string) error
	// RemoveAll recursively removes path, subvolume or not; used for
	// best-effort teardown of a temp path that might not have made it to
	// being a subvolume.
	RemoveAll(path string) error
	// Exists reports whether path is present on disk at all (ground truth
	// for "layer already materialized", per spec.md's naming invariant).
	Exists(path string) bool
	// Rename moves a subvolume from src to dst. A btrfs subvolume's ro
	// property is intrinsic to the subvolume, not the path, so it survives
	// this move; callers promoting a snapshot into its final path must go
	// through this method rather than a raw filesystem rename so that
	// implementations tracking that property out-of-band (see Fake) stay
	// consistent.
	Rename(src, dst string) error
}

// CLI shells out to the btrfs(8) command line tool found on $PATH.
type CLI struct {
	binary string
}

// New resolves the btrfs binary once and returns a ready Snapshotter.
func New() (*CLI, error) {
	bin, err := exec.LookPath("btrfs")
	if err != nil {
		return nil, fmt.Errorf("btrfs: %w", err)
	}
	return &CLI{binary: bin}, nil
}

func (c *CLI) run(args ...string) error {
	cmd := exec.Command(c.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("btrfs %v: %w: %s", args, err, out)
	}
	return nil
}

func (c *CLI) Make(path string) error {
	return c.run("subvolume", "create", path)
}

func (c *CLI) Snapshot(src, dst string, readOnly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readOnly {
		args = append(args, "-r")
	}
	args = append(args, src, dst)
	return c.run(args...)
}

func (c *CLI) SetReadOnly(path string) error {
	return c.run("property", "set", "-ts", path, "ro", "true")
}

func (c *CLI) Remove(path string) error {
	return c.run("subvolume", "delete", path)
}

func (c *CLI) RemoveAll(path string) error {
	if err := c.Remove(path); err != nil {
		// path may not be a subvolume (a plain directory tree); fall back
		// to a plain recursive remove.
		return os.RemoveAll(path)
	}
	return nil
}

func (c *CLI) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (c *CLI) Rename(src, dst string) error {
	return os.Rename(src, dst)
}
