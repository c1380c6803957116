package deduper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ivoronin/samefile/internal/types"
)

var (
	// ErrSkipped marks a duplicate that was deliberately left alone. Skips
	// are counted separately and are not failures.
	ErrSkipped = errors.New("skipped")

	// ErrAlreadyCloned marks a duplicate that already shares its data blocks
	// with the original.
	ErrAlreadyCloned = fmt.Errorf("already cloned: %w", ErrSkipped)
)

// ActionKind selects what happens to each duplicate.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionDelete
	ActionSymlink
	ActionHardlink
	ActionClone
)

func (k ActionKind) String() string {
	switch k {
	case ActionDelete:
		return "delete"
	case ActionSymlink:
		return "symlink"
	case ActionHardlink:
		return "hardlink"
	case ActionClone:
		return "clone"
	default:
		return "none"
	}
}

// Action replaces or removes one duplicate.
type Action interface {
	Kind() ActionKind
	// Describe renders the operation as "<verb> <dup>[ <sep> <orig>]".
	Describe(dup, orig *types.FileRecord) string
	// Check reports, without touching either file, whether Apply would
	// leave dup in place. Dry-run counts rely on it.
	Check(dup, orig *types.FileRecord) error
	// Apply performs the operation. Implementations return an error wrapping
	// ErrSkipped when the duplicate was intentionally left in place.
	Apply(dup, orig *types.FileRecord) error
}

// Result summarizes a Run.
type Result struct {
	Applied       int
	Skipped       int
	AlreadyCloned int
	Failed        int
	SavedBytes    int64
}

// describe renders "<verb> <dup>" or "<verb> <dup> <sep> <orig>".
func describe(verb, sep string, dup, orig *types.FileRecord) string {
	if sep == "" {
		return verb + " " + escapePath(dup.Path)
	}
	return verb + " " + escapePath(dup.Path) + " " + sep + " " + escapePath(orig.Path)
}

// escapePath escapes special characters in paths for safe terminal output.
func escapePath(path string) string {
	r := strings.NewReplacer(
		"\t", "\\t",
		"\n", "\\n",
		"\r", "\\r",
	)
	return r.Replace(path)
}
