package scanner

import (
	"fmt"
	"os"
	"syscall"

	"github.com/ivoronin/samefile/internal/types"
)

// newRecord creates a FileRecord from os.FileInfo and path.
func newRecord(path string, info os.FileInfo) (types.FileRecord, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return types.FileRecord{}, fmt.Errorf("no device and inode for %s", path)
	}
	return types.FileRecord{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Dev:     uint64(stat.Dev), //nolint:unconvert // platform-dependent type
		Ino:     stat.Ino,
	}, nil
}
