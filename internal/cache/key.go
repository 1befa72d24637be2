package cache

import (
	"sort"

	"go.buildorc.dev/internal/hash"
)

// Key computes the 64-hex CacheKey digest over the tuple
// (sourcePath, compilerID, targetTriple, sorted compilerFlags). Equal tuples
// must produce equal keys regardless of flag order, so the flags are sorted
// before combining.
func Key(sourcePath, compilerID, targetTriple string, compilerFlags []string) string {
	sorted := append([]string(nil), compilerFlags...)
	sort.Strings(sorted)
	parts := make([]string, 0, 3+len(sorted))
	parts = append(parts, sourcePath, compilerID, targetTriple)
	parts = append(parts, sorted...)
	return hash.Combine(parts...)
}
