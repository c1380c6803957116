//go:build unix

package deduper

import (
	"fmt"
	"os"
	"sync"

	"github.com/ivoronin/samefile/internal/reflink"
	"github.com/ivoronin/samefile/internal/txn"
	"github.com/ivoronin/samefile/internal/types"
)

// NewAction returns the action for kind. probe and offset are only used by
// clones; nil selects the reflink package defaults.
func NewAction(kind ActionKind, probe reflink.ProbeFunc, offset reflink.OffsetFunc) (Action, error) {
	switch kind {
	case ActionDelete:
		return deleteAction{}, nil
	case ActionSymlink:
		return symlinkAction{}, nil
	case ActionHardlink:
		return hardlinkAction{}, nil
	case ActionClone:
		if probe == nil {
			probe = reflink.Probe
		}
		if offset == nil {
			offset = reflink.PhysicalOffset
		}
		return &cloneAction{probe: probe, offset: offset}, nil
	default:
		return nil, fmt.Errorf("no action for %v", kind)
	}
}

// deleteAction unlinks the duplicate. There is nothing to roll back to, so
// it skips the rename-aside protocol.
type deleteAction struct{}

func (deleteAction) Kind() ActionKind { return ActionDelete }

func (deleteAction) Describe(dup, orig *types.FileRecord) string {
	return describe("delete", "", dup, orig)
}

func (deleteAction) Check(_, _ *types.FileRecord) error { return nil }

func (deleteAction) Apply(dup, _ *types.FileRecord) error {
	return os.Remove(dup.Path)
}

// symlinkAction replaces the duplicate with an absolute symlink to the
// original. The target is made absolute and simplified without resolving
// "..".
type symlinkAction struct{}

func (symlinkAction) Kind() ActionKind { return ActionSymlink }

func (symlinkAction) Describe(dup, orig *types.FileRecord) string {
	return describe("symlink", "to", dup, orig)
}

func (symlinkAction) Check(_, _ *types.FileRecord) error { return nil }

func (symlinkAction) Apply(dup, orig *types.FileRecord) error {
	abs, err := txn.AbsPath(orig.Path)
	if err != nil {
		return err
	}
	target := txn.SimplifyPath(abs)

	// Refuse to create a dangling link.
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("original missing: %w", err)
	}
	return txn.Run(dup.Path, func(path string) error {
		return os.Symlink(target, path)
	})
}

// hardlinkAction replaces the duplicate with a hardlink to the original.
type hardlinkAction struct{}

func (hardlinkAction) Kind() ActionKind { return ActionHardlink }

func (hardlinkAction) Describe(dup, orig *types.FileRecord) string {
	return describe("hardlink", "to", dup, orig)
}

func (hardlinkAction) Check(_, _ *types.FileRecord) error { return nil }

func (hardlinkAction) Apply(dup, orig *types.FileRecord) error {
	return txn.Run(dup.Path, func(path string) error {
		return os.Link(orig.Path, path)
	})
}

// cloneAction replaces the duplicate with a copy-on-write clone of the
// original that keeps the duplicate's own metadata.
type cloneAction struct {
	probe  reflink.ProbeFunc
	offset reflink.OffsetFunc
	warned sync.Once
}

func (*cloneAction) Kind() ActionKind { return ActionClone }

func (*cloneAction) Describe(dup, orig *types.FileRecord) string {
	return describe("clone", "from", dup, orig)
}

func (c *cloneAction) Check(dup, orig *types.FileRecord) error {
	_, err := c.prepare(dup, orig)
	return err
}

func (c *cloneAction) Apply(dup, orig *types.FileRecord) error {
	cloner, err := c.prepare(dup, orig)
	if err != nil {
		return err
	}
	return txn.RunAside(dup.Path, func(aside *txn.Aside) error {
		if err := cloner.Clone(orig.Path, aside.Path()); err != nil {
			return err
		}
		return cloner.CopyMetadata(aside.Backup(), aside.Path())
	})
}

// prepare probes clone support for the pair and rules out files that
// already share their data blocks.
func (c *cloneAction) prepare(dup, orig *types.FileRecord) (reflink.Cloner, error) {
	capability := c.probe(orig.Path, dup.Path)
	cloner, ok := capability.Cloner()
	if !ok {
		c.warned.Do(func() {
			log.Warnf("cloning unavailable, duplicates left in place: %s", capability.Reason())
		})
		return nil, fmt.Errorf("%s: %w", capability.Reason(), ErrSkipped)
	}

	if a, ok := c.offset(orig.Path); ok {
		if b, ok := c.offset(dup.Path); ok && a == b {
			return nil, ErrAlreadyCloned
		}
	}
	return cloner, nil
}
