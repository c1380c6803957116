package testfs

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/samefile/internal/checksum"
)

// maxFillBuffer caps the pattern buffer, so 1GiB chunks stream in 1MiB
// writes.
const maxFillBuffer = 1 << 20

// SowFileTree writes tree under root. With root "" or "/" mount points are
// used as they are (e2e, inside the container); otherwise they become
// directories below root.
func SowFileTree(root string, tree FileTree) error {
	for _, vol := range tree.Volumes {
		if err := sowVolume(resolveVolumePath(root, vol.MountPoint), vol); err != nil {
			return fmt.Errorf("sow volume %s: %w", vol.MountPoint, err)
		}
	}
	return nil
}

// SowFromReader decodes a JSON FileTree and sows it.
func SowFromReader(r io.Reader, root string) error {
	var tree FileTree
	if err := json.NewDecoder(r).Decode(&tree); err != nil {
		return fmt.Errorf("decode tree: %w", err)
	}
	return SowFileTree(root, tree)
}

// ContentSum returns the hex SHA-1 of the content described by chunks, in
// the same form ReapFile.Sum reports.
func ContentSum(chunks []Chunk) (string, error) {
	h, err := checksum.New("sha1")
	if err != nil {
		return "", err
	}
	if err := fill(h, chunks); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func resolveVolumePath(root, mountPoint string) string {
	if root == "" || root == "/" {
		return mountPoint
	}
	return filepath.Join(root, mountPoint)
}

func sowVolume(dir string, vol Volume) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range vol.Files {
		if err := sowFile(dir, f); err != nil {
			return err
		}
	}
	for _, s := range vol.Symlinks {
		link := filepath.Join(dir, s.Path)
		if err := mkParent(link); err != nil {
			return err
		}
		if err := os.Symlink(s.Target, link); err != nil {
			return err
		}
	}
	return nil
}

// sowFile writes Path[0] and hardlinks the remaining paths to it.
func sowFile(dir string, f File) error {
	if len(f.Path) == 0 {
		return nil
	}

	first := filepath.Join(dir, f.Path[0])
	if err := writeFile(first, f.Chunks); err != nil {
		return fmt.Errorf("create %s: %w", first, err)
	}
	if f.Mode != 0 {
		if err := os.Chmod(first, f.Mode.Perm()); err != nil {
			return err
		}
	}

	for _, p := range f.Path[1:] {
		link := filepath.Join(dir, p)
		if err := mkParent(link); err != nil {
			return err
		}
		if err := os.Link(first, link); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, chunks []Chunk) (err error) {
	if err := mkParent(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fill(f, chunks)
}

// fill streams chunks to w.
func fill(w io.Writer, chunks []Chunk) error {
	for _, c := range chunks {
		size, err := humanize.ParseBytes(c.Size)
		if err != nil {
			return fmt.Errorf("chunk size %q: %w", c.Size, err)
		}
		buf := bytes.Repeat([]byte{byte(c.Pattern)}, int(min(size, maxFillBuffer)))
		for remaining := size; remaining > 0; {
			n := min(remaining, uint64(len(buf)))
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			remaining -= n
		}
	}
	return nil
}

func mkParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
