//go:build unix

package testfs

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/ivoronin/samefile/internal/checksum"
	"github.com/ivoronin/samefile/internal/txn"
)

// -----------------------------------------------------------------------------
// Reap Operations - Capture filesystem state
// -----------------------------------------------------------------------------

// ReapPaths captures the filesystem state for the given paths.
//
// Each path becomes a ReapVolume with files grouped by inode (hardlinks),
// symlinks captured with their targets and leftover backups listed apart.
//
// The root parameter specifies the base directory to subtract from paths.
// For E2E tests, root is "" or "/" so paths are used as-is.
// For integration tests, root is t.TempDir() so logical paths are computed.
func ReapPaths(root string, paths []string) (*ReapResult, error) {
	result := &ReapResult{}
	for _, path := range paths {
		vol, err := reapPath(resolveVolumePath(root, path), path)
		if err != nil {
			return nil, fmt.Errorf("reap %s: %w", path, err)
		}
		result.Volumes = append(result.Volumes, vol)
	}
	return result, nil
}

// ReapToWriter captures filesystem state and writes JSON to the writer.
// Used by testfs-helper CLI tool to write to stdout.
func ReapToWriter(w io.Writer, paths []string) error {
	result, err := ReapPaths("", paths)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// reapPath walks rootPath and reports it under logicalPath.
func reapPath(rootPath, logicalPath string) (ReapVolume, error) {
	vol := ReapVolume{Name: logicalPath}
	byInode := make(map[uint64]*ReapFile)
	var order []uint64

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == rootPath || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(rootPath, path)

		if txn.IsBackupName(path) {
			vol.Backups = append(vol.Backups, rel)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			vol.Symlinks = append(vol.Symlinks, ReapSymlink{Path: rel, Target: target})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("cannot get stat for %s", path)
		}

		if rf, ok := byInode[stat.Ino]; ok {
			rf.Path = append(rf.Path, rel)
			return nil
		}
		sum, err := fileSum(path)
		if err != nil {
			return err
		}
		byInode[stat.Ino] = &ReapFile{
			Path:  []string{rel},
			Inode: stat.Ino,
			Nlink: uint64(stat.Nlink), //nolint:unconvert // platform-dependent type
			Size:  info.Size(),
			Mode:  uint32(info.Mode().Perm()),
			Sum:   sum,
		}
		order = append(order, stat.Ino)
		return nil
	})
	if err != nil {
		return vol, err
	}

	for _, ino := range order {
		vol.Files = append(vol.Files, *byInode[ino])
	}
	slices.Sort(vol.Backups)
	return vol, nil
}

// fileSum hashes a file the same way ContentSum hashes chunks.
func fileSum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h, err := checksum.New("sha1")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
