// Package types provides the file record and the working collection shared by
// every stage of the samefile pipeline.
package types

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// SampleSize is the capacity of a record's comparison buffer. It is large
// enough to hold the longest supported digest (SHA-512).
const SampleSize = 64

// ErrInvariant marks a defect in the pipeline itself. Callers abort the run
// instead of continuing with corrupted state.
var ErrInvariant = errors.New("internal invariant violated")

// Invariantf returns an error wrapping ErrInvariant.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// DuplicateKind classifies a record after marking.
type DuplicateKind int

const (
	KindUnknown DuplicateKind = iota
	KindFirstOccurrence
	KindSameTree  // duplicate under the same input argument as its original
	KindCrossTree // duplicate under a different input argument
)

// Results file tokens. These spellings are part of the results file format.
const (
	TokenUnknown         = "DUPTYPE_UNKNOWN"
	TokenFirstOccurrence = "DUPTYPE_FIRST_OCCURRENCE"
	TokenSameTree        = "DUPTYPE_WITHIN_SAME_TREE"
	TokenCrossTree       = "DUPTYPE_OUTSIDE_TREE"
)

// String returns the results file token for the kind.
func (k DuplicateKind) String() string {
	switch k {
	case KindFirstOccurrence:
		return TokenFirstOccurrence
	case KindSameTree:
		return TokenSameTree
	case KindCrossTree:
		return TokenCrossTree
	default:
		return TokenUnknown
	}
}

// IsDuplicate reports whether the kind marks a record to be acted upon.
func (k DuplicateKind) IsDuplicate() bool {
	return k == KindSameTree || k == KindCrossTree
}

// FileRecord holds metadata for one candidate file.
type FileRecord struct {
	Path    string
	Size    int64
	ModTime time.Time
	Dev     uint64
	Ino     uint64

	// Rank fields, fixed at scan time.
	InputIndex int
	Depth      int
	ID         int64 // 1..N in candidate list order, unique

	// OriginalID is 0 until marking. Originals point at themselves,
	// duplicates at their original.
	OriginalID int64
	Kind       DuplicateKind

	Sample       [SampleSize]byte
	SampleValid  bool
	ContentClass int

	Delete bool
}

// SignedIdentity returns the identity as written to the results file:
// positive for originals and unmarked records, the negated original id for
// duplicates.
func (r *FileRecord) SignedIdentity() int64 {
	if r.Kind.IsDuplicate() {
		return -r.OriginalID
	}
	return r.ID
}

// ClearSample zeroes the comparison buffer and invalidates it.
func (r *FileRecord) ClearSample() {
	r.Sample = [SampleSize]byte{}
	r.SampleValid = false
}

// CmpRank orders records by (input index, depth, id). The smallest record is
// preferred as the original. Ids are unique, so no two records compare equal.
func CmpRank(a, b *FileRecord) int {
	if c := cmp.Compare(a.InputIndex, b.InputIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Depth, b.Depth); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CmpDevIno orders records by storage object.
func CmpDevIno(a, b *FileRecord) int {
	if c := cmp.Compare(a.Dev, b.Dev); c != 0 {
		return c
	}
	return cmp.Compare(a.Ino, b.Ino)
}

// CmpSize orders records by size.
func CmpSize(a, b *FileRecord) int {
	return cmp.Compare(a.Size, b.Size)
}

// CmpSample orders records by buffer content, byte-wise.
func CmpSample(a, b *FileRecord) int {
	return bytes.Compare(a.Sample[:], b.Sample[:])
}

// CmpSizeThenSample orders records by size, then buffer content, then
// content class.
func CmpSizeThenSample(a, b *FileRecord) int {
	if c := CmpSize(a, b); c != 0 {
		return c
	}
	if c := CmpSample(a, b); c != 0 {
		return c
	}
	return cmp.Compare(a.ContentClass, b.ContentClass)
}

// Collection is the working set of records. It owns every record; passes
// reorder and flag records in place.
type Collection []FileRecord

// AssignIDs numbers records 1..N in their current order.
func (c Collection) AssignIDs() {
	for i := range c {
		c[i].ID = int64(i + 1)
	}
}

// SortFunc stably sorts the collection by cmp.
func (c Collection) SortFunc(cmp func(a, b *FileRecord) int) {
	slices.SortStableFunc(c, func(a, b FileRecord) int { return cmp(&a, &b) })
}

// Cleanup physically removes every record with the delete flag set,
// preserving the order of survivors. Returns the number of removed records.
func (c *Collection) Cleanup() int {
	before := len(*c)
	*c = slices.DeleteFunc(*c, func(r FileRecord) bool { return r.Delete })
	return before - len(*c)
}

// SetDelete sets the delete flag on every record in group.
func SetDelete(group []FileRecord, flag bool) {
	for i := range group {
		group[i].Delete = flag
	}
}

// MinRank returns the index of the rank-minimal record in group.
func MinRank(group []FileRecord) int {
	best := 0
	for i := 1; i < len(group); i++ {
		if CmpRank(&group[i], &group[best]) < 0 {
			best = i
		}
	}
	return best
}

// TotalBytes sums record sizes.
func (c Collection) TotalBytes() int64 {
	var total int64
	for i := range c {
		total += c[i].Size
	}
	return total
}

// ApplyOnRange walks items, which must be sorted by cmp, and calls fn once for
// every maximal run of adjacent items that compare equal. Each run is a
// subslice of items, so fn may mutate elements in place.
func ApplyOnRange[T any](items []T, cmp func(a, b *T) int, fn func(group []T)) {
	for first := 0; first < len(items); {
		last := first + 1
		for last < len(items) && cmp(&items[first], &items[last]) == 0 {
			last++
		}
		fn(items[first:last])
		first = last
	}
}
