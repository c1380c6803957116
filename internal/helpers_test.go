package internal

import "github.com/ivoronin/samefile/internal/testfs"

// chunk describes single-pattern file content.
func chunk(pattern rune, size string) []testfs.Chunk {
	return []testfs.Chunk{{Pattern: pattern, Size: size}}
}
