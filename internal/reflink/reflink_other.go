//go:build !linux

package reflink

func probe(_, _ string) Capability {
	return Unsupported("copy-on-write cloning requires Linux")
}

func physicalOffset(_ string) (uint64, bool) {
	return 0, false
}
