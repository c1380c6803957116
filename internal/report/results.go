package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ivoronin/samefile/internal/types"
)

// Results file framing. Column order is fixed for compatibility with
// existing consumers.
const (
	resultsHeader = "# Automatically generated\n# duptype id depth size device inode priority name\n"
	resultsFooter = "# end of file\n"
)

// WriteResults writes one line per record in c:
//
//	<kind> <identity> <depth> <size> <device> <inode> <input-index> <path>
//
// The identity is negative for duplicates and names their original.
func WriteResults(w io.Writer, c types.Collection) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(resultsHeader); err != nil {
		return err
	}
	for i := range c {
		r := &c[i]
		if _, err := fmt.Fprintf(bw, "%s %d %d %d %d %d %d %s\n",
			r.Kind, r.SignedIdentity(), r.Depth, r.Size, r.Dev, r.Ino, r.InputIndex, r.Path); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString(resultsFooter); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteResultsFile writes the results to path, replacing any existing file.
func WriteResultsFile(path string, c types.Collection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := WriteResults(f, c); err != nil {
		_ = f.Close()
		return fmt.Errorf("write results file: %w", err)
	}
	return f.Close()
}
