package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestStoreGetRetrieveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "cache"), 0, log.Nop())
	require.NoError(t, err)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "obj.o", 1024)

	entry, err := c.Store("abc123", src, model.ArtifactObject)
	require.NoError(t, err)
	require.NotNil(t, entry)

	got := c.Get("abc123")
	require.NotNil(t, got)
	require.Equal(t, entry.ContentHash, got.ContentHash)

	dst := filepath.Join(srcDir, "out.o")
	ok, err := c.Retrieve("abc123", dst)
	require.NoError(t, err)
	require.True(t, ok)

	wantBytes, err := os.ReadFile(src)
	require.NoError(t, err)
	gotBytes, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, wantBytes, gotBytes)
}

func TestStoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "cache"), 0, log.Nop())
	require.NoError(t, err)

	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "obj.o", 64)

	first, err := c.Store("k1", src, model.ArtifactObject)
	require.NoError(t, err)
	second, err := c.Store("k1", src, model.ArtifactObject)
	require.NoError(t, err)
	require.Equal(t, first.CachedPath, second.CachedPath)
	require.Equal(t, int64(2), second.AccessCount)
}

func TestStoreMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "cache"), 0, log.Nop())
	require.NoError(t, err)

	_, err = c.Store("k1", filepath.Join(dir, "does-not-exist"), model.ArtifactObject)
	require.Error(t, err)
}

// TestEvictionLRUOrder: after storing K1-K3 and accessing K1, evicting one
// entry's worth of bytes removes K2 (least recently accessed); K4 is then
// stored without a further eviction.
func TestEvictionLRUOrder(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "cache"), 0, log.Nop())
	require.NoError(t, err)
	srcDir := t.TempDir()

	mb := 1 << 20
	k1 := writeTempFile(t, srcDir, "k1", mb)
	k2 := writeTempFile(t, srcDir, "k2", mb)
	k3 := writeTempFile(t, srcDir, "k3", mb)
	k4 := writeTempFile(t, srcDir, "k4", mb)

	_, err = c.Store("K1", k1, model.ArtifactObject)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.Store("K2", k2, model.ArtifactObject)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = c.Store("K3", k3, model.ArtifactObject)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	require.Equal(t, model.HitLocal, c.Lookup("K1")) // touch K1, now most-recent

	freed, err := c.Evict(int64(mb))
	require.NoError(t, err)
	require.Equal(t, int64(mb), freed)
	require.False(t, c.Contains("K2"))
	require.True(t, c.Contains("K1"))
	require.True(t, c.Contains("K3"))

	_, err = c.Store("K4", k4, model.ArtifactObject)
	require.NoError(t, err)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Evictions)
}

func TestVerifyDetectsMissingBlob(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "cache"), 0, log.Nop())
	require.NoError(t, err)
	srcDir := t.TempDir()
	src := writeTempFile(t, srcDir, "obj.o", 32)

	entry, err := c.Store("k1", src, model.ArtifactObject)
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.CachedPath))

	issues, err := c.Verify(false)
	require.NoError(t, err)
	require.Equal(t, 1, issues)
	require.True(t, c.Contains("k1"))

	issues, err = c.Verify(true)
	require.NoError(t, err)
	require.Equal(t, 1, issues)
	require.False(t, c.Contains("k1"))
}

func TestKeyIsOrderInsensitiveOverFlags(t *testing.T) {
	a := Key("main.c", "gcc-13", "x86_64-linux", []string{"-O2", "-Wall"})
	b := Key("main.c", "gcc-13", "x86_64-linux", []string{"-Wall", "-O2"})
	require.Equal(t, a, b)

	c := Key("main.c", "gcc-13", "x86_64-linux", []string{"-O3", "-Wall"})
	require.NotEqual(t, a, c)
}
