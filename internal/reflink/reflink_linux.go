//go:build linux

package reflink

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	_FS_IOC_FIEMAP            = 0xC020660B
	_FIEMAP_FLAG_SYNC         = 0x00000001
	_FIEMAP_EXTENT_UNKNOWN    = 0x00000002
	_FIEMAP_EXTENT_DELALLOC   = 0x00000004
	_FIEMAP_EXTENT_DATAINLINE = 0x00000200
)

// Filesystems known to implement FICLONE.
var cloneMagics = map[uint32]string{
	unix.BTRFS_SUPER_MAGIC: "btrfs",
	unix.XFS_SUPER_MAGIC:   "xfs",
	0xca451a4e:             "bcachefs",
}

// Raw kernel structs for the FIEMAP ioctl (linux/fiemap.h), sized for a
// single extent.

type fiemapExtent struct {
	logical    uint64
	physical   uint64
	length     uint64
	reserved64 [2]uint64
	flags      uint32
	reserved32 [3]uint32
}

type fiemapReq struct {
	start         uint64
	length        uint64
	flags         uint32
	mappedExtents uint32
	extentCount   uint32
	reserved      uint32
	extents       [1]fiemapExtent
}

func probe(a, b string) Capability {
	var stA, stB unix.Stat_t
	if err := unix.Stat(a, &stA); err != nil {
		return Unsupported(err.Error())
	}
	if err := unix.Stat(b, &stB); err != nil {
		return Unsupported(err.Error())
	}
	if stA.Dev != stB.Dev {
		return Unsupported(fmt.Sprintf("%s and %s are on different filesystems", a, b))
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(a, &fs); err != nil {
		return Unsupported(err.Error())
	}
	if _, ok := cloneMagics[uint32(fs.Type)]; !ok { //nolint:gosec // magic numbers fit in 32 bits
		return Unsupported(fmt.Sprintf("filesystem type %#x does not support cloning", fs.Type))
	}
	return Supported(ficlone{})
}

func physicalOffset(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer func() { _ = f.Close() }()

	req := fiemapReq{
		length:      ^uint64(0),
		flags:       _FIEMAP_FLAG_SYNC,
		extentCount: 1,
	}
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		f.Fd(),
		uintptr(_FS_IOC_FIEMAP),
		uintptr(unsafe.Pointer(&req)),
	)
	if errno != 0 || req.mappedExtents == 0 {
		return 0, false
	}

	e := req.extents[0]
	if e.flags&(_FIEMAP_EXTENT_UNKNOWN|_FIEMAP_EXTENT_DELALLOC|_FIEMAP_EXTENT_DATAINLINE) != 0 || e.physical == 0 {
		return 0, false
	}
	return e.physical, true
}

// ficlone clones through the FICLONE ioctl.
type ficlone struct{}

func (ficlone) Clone(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create clone: %w", err)
	}
	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		_ = out.Close()
		return fmt.Errorf("FICLONE: %w", err)
	}
	return out.Close()
}

func (ficlone) CopyMetadata(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return errors.New("unexpected stat type")
	}

	if err := copyXattrs(from, to); err != nil {
		return err
	}
	if err := os.Lchown(to, int(st.Uid), int(st.Gid)); err != nil {
		return fmt.Errorf("chown: %w", err)
	}
	// chown may clear setuid bits, so the mode goes after it.
	if err := os.Chmod(to, info.Mode()); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	atime := time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)) //nolint:unconvert // platform-dependent types
	if err := os.Chtimes(to, atime, info.ModTime()); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}

// copyXattrs copies every extended attribute readable on from. Filesystems
// without xattr support are treated as having none.
func copyXattrs(from, to string) error {
	sz, err := unix.Llistxattr(from, nil)
	if errors.Is(err, unix.ENOTSUP) || sz == 0 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listxattr: %w", err)
	}

	buf := make([]byte, sz)
	sz, err = unix.Llistxattr(from, buf)
	if err != nil {
		return fmt.Errorf("listxattr: %w", err)
	}

	for _, name := range parseXattrNames(buf[:sz]) {
		val, err := getXattr(from, name)
		if err != nil {
			return fmt.Errorf("getxattr %s: %w", name, err)
		}
		if err := unix.Lsetxattr(to, name, val, 0); err != nil {
			return fmt.Errorf("setxattr %s: %w", name, err)
		}
	}
	return nil
}

func getXattr(path, name string) ([]byte, error) {
	sz, err := unix.Lgetxattr(path, name, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	sz, err = unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:sz], nil
}
