// Package sampler fills a record's comparison buffer from disk.
//
// A fill captures one of three views of a file:
//
//	ModeFirstBytes  first SampleSize bytes
//	ModeLastBytes   last SampleSize bytes (short files: whatever exists)
//	ModeDigest      digest of the whole file
//
// Buffers compared against each other must come from the same mode. Files no
// larger than the buffer are captured completely by the first fill, so later
// fills skip I/O for them.
package sampler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ivoronin/samefile/internal/checksum"
	"github.com/ivoronin/samefile/internal/types"
)

// blockSize is the read buffer size for digest streaming (64KB).
const blockSize = 64 * 1024

// Mode selects what a fill captures.
type Mode int

const (
	ModeUndefined Mode = iota
	ModeFirstBytes
	ModeLastBytes
	ModeDigest
)

func (m Mode) String() string {
	switch m {
	case ModeFirstBytes:
		return "first bytes"
	case ModeLastBytes:
		return "last bytes"
	case ModeDigest:
		return "checksum"
	default:
		return "undefined"
	}
}

// Sampler fills comparison buffers using a fixed digest algorithm.
type Sampler struct {
	algorithm string
	buf       []byte
}

// New creates a Sampler that digests with the named algorithm.
func New(algorithm string) (*Sampler, error) {
	if _, err := checksum.New(algorithm); err != nil {
		return nil, err
	}
	return &Sampler{algorithm: algorithm, buf: make([]byte, blockSize)}, nil
}

// Algorithm returns the digest algorithm name.
func (s *Sampler) Algorithm() string { return s.algorithm }

// Fill captures the requested view of rec's file into rec.Sample.
//
// If a previous pass already ran and the file fits in the buffer, the buffer
// holds the whole file and Fill returns without touching disk. Otherwise the
// buffer is zeroed first and marked valid only when the fill succeeds.
func (s *Sampler) Fill(rec *types.FileRecord, mode, previous Mode) error {
	if previous != ModeUndefined && rec.Size <= types.SampleSize {
		return nil
	}

	rec.ClearSample()

	var err error
	switch mode {
	case ModeFirstBytes:
		err = readAt(rec, 0)
	case ModeLastBytes:
		err = readAt(rec, max(0, rec.Size-types.SampleSize))
	case ModeDigest:
		err = s.digest(rec)
	default:
		return types.Invariantf("unknown fill mode %d", mode)
	}
	if err != nil {
		rec.ClearSample()
		return err
	}

	rec.SampleValid = true
	return nil
}

// readAt reads up to SampleSize bytes at offset into the buffer. Fewer
// bytes than the scanned size promises means the file shrank, and the
// zero-filled tail must not pass as a sample.
func readAt(rec *types.FileRecord, offset int64) error {
	f, err := os.Open(rec.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	n, err := f.ReadAt(rec.Sample[:], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if want := min(types.SampleSize, rec.Size-offset); int64(n) < want {
		return fmt.Errorf("read %d of %d bytes, file truncated since scan: %w", n, want, io.ErrUnexpectedEOF)
	}
	return nil
}

// digest hashes the whole file and stores the digest in the buffer.
func (s *Sampler) digest(rec *types.FileRecord) error {
	h, err := checksum.New(s.algorithm)
	if err != nil {
		return err
	}
	if h.Size() > types.SampleSize {
		return types.Invariantf("%s digest is %d bytes, buffer holds %d", s.algorithm, h.Size(), types.SampleSize)
	}

	f, err := os.Open(rec.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.CopyBuffer(h, f, s.buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}

	copy(rec.Sample[:], h.Sum(nil))
	return nil
}
