// Package reflink detects and performs copy-on-write file clones.
//
// Support depends on the filesystem holding both files, so it is probed per
// pair with Probe. The returned Capability either carries a Cloner or the
// reason cloning is unavailable; callers never branch on the platform.
package reflink

// Cloner creates clones and carries metadata across them.
type Cloner interface {
	// Clone creates dst sharing src's data blocks. dst must not exist.
	Clone(src, dst string) error
	// CopyMetadata copies owner, mode, extended attributes and times of
	// from onto to.
	CopyMetadata(from, to string) error
}

// Capability is the outcome of a Probe: Unsupported, or Supported with the
// Cloner to use for that pair.
type Capability struct {
	cloner Cloner
	reason string
}

// Supported returns a capability backed by c.
func Supported(c Cloner) Capability {
	return Capability{cloner: c}
}

// Unsupported returns a capability that explains why cloning is unavailable.
func Unsupported(reason string) Capability {
	return Capability{reason: reason}
}

// Cloner returns the cloner and true when cloning is supported.
func (c Capability) Cloner() (Cloner, bool) {
	return c.cloner, c.cloner != nil
}

// Reason describes why cloning is unsupported. Empty when supported.
func (c Capability) Reason() string {
	return c.reason
}

// ProbeFunc matches Probe.
type ProbeFunc func(a, b string) Capability

// OffsetFunc matches PhysicalOffset.
type OffsetFunc func(path string) (uint64, bool)

// Probe reports whether a and b can be cloned into each other.
func Probe(a, b string) Capability {
	return probe(a, b)
}

// PhysicalOffset returns the device offset of the first data block of path.
// The second result is false when the offset is unknown: empty or inline
// files, unsupported filesystems, or any error.
func PhysicalOffset(path string) (uint64, bool) {
	return physicalOffset(path)
}

// parseXattrNames splits a NUL-separated attribute name list.
func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
