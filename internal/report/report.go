// Package report computes byte totals and writes the results file.
package report

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/reflink"
	"github.com/ivoronin/samefile/internal/types"
	"github.com/scylladb/go-set/u64set"
)

// Mode selects which records a total counts.
type Mode int

const (
	ModeAll        Mode = iota // every record
	ModeOriginals              // FirstOccurrence records only
	ModeCloneAware             // every record, blocks shared by clones counted once
)

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// TotalSize sums record sizes under mode. offset is only consulted in
// ModeCloneAware; records whose offset is unknown always count.
func TotalSize(c types.Collection, mode Mode, offset reflink.OffsetFunc) int64 {
	var total int64
	switch mode {
	case ModeAll:
		total = c.TotalBytes()
	case ModeOriginals:
		for i := range c {
			if c[i].Kind == types.KindFirstOccurrence {
				total += c[i].Size
			}
		}
	case ModeCloneAware:
		seen := u64set.New()
		for i := range c {
			if off, ok := offset(c[i].Path); ok {
				if seen.Has(off) {
					continue
				}
				seen.Add(off)
			}
			total += c[i].Size
		}
	}
	return total
}

// SaveableSpace is the space freed if every duplicate went away.
func SaveableSpace(c types.Collection) int64 {
	return TotalSize(c, ModeAll, nil) - TotalSize(c, ModeOriginals, nil)
}

// CloneAwareSaveableSpace is SaveableSpace minus what existing clones already share.
func CloneAwareSaveableSpace(c types.Collection, offset reflink.OffsetFunc) int64 {
	return TotalSize(c, ModeCloneAware, offset) - TotalSize(c, ModeOriginals, nil)
}

// FormatSize renders n in the largest binary unit that keeps the value
// below 1024. The remainder dropped by the last shift rounds half up, and a
// result that rounds up to 1024 moves to the next unit.
func FormatSize(n int64) string {
	sign := ""
	v := uint64(n)
	if n < 0 {
		sign = "-"
		v = uint64(-n)
	}

	unit := 0
	var rem uint64
	for v >= 1024 && unit < len(units)-1 {
		rem = v & 1023
		v >>= 10
		unit++
	}
	if rem >= 512 {
		v++
	}
	if v == 1024 && unit < len(units)-1 {
		v = 1
		unit++
	}
	return fmt.Sprintf("%s%d %s", sign, v, units[unit])
}

// Summary holds the headline numbers of a run.
type Summary struct {
	Files      int
	Sets       int
	Duplicates int
	TotalBytes int64
	Saveable   int64
	CloneAware int64 // -1 when not computed
}

// Summarize computes the summary of a marked collection. A nil offset skips
// the clone-aware figure.
func Summarize(c types.Collection, offset reflink.OffsetFunc) Summary {
	s := Summary{
		Files:      len(c),
		TotalBytes: TotalSize(c, ModeAll, nil),
		Saveable:   SaveableSpace(c),
		CloneAware: -1,
	}
	for i := range c {
		switch {
		case c[i].Kind == types.KindFirstOccurrence:
			s.Sets++
		case c[i].Kind.IsDuplicate():
			s.Duplicates++
		}
	}
	if offset != nil {
		s.CloneAware = CloneAwareSaveableSpace(c, offset)
	}
	return s
}

func (s Summary) String() string {
	if s.Duplicates == 0 {
		return "No duplicates found"
	}
	msg := fmt.Sprintf("Found %s duplicates of %s originals, %s can be reduced",
		humanize.Comma(int64(s.Duplicates)), humanize.Comma(int64(s.Sets)), FormatSize(s.Saveable))
	if s.CloneAware >= 0 && s.CloneAware != s.Saveable {
		msg += fmt.Sprintf(" (%s not already shared by clones)", FormatSize(s.CloneAware))
	}
	return msg
}
