package toolregistry

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/log"
)

func TestDiscoverAllFindsGitWhenPresent(t *testing.T) {
	r := DiscoverAll(log.Nop())
	if _, err := lookPath("git"); err != nil {
		t.Skip("git not on PATH in this environment")
	}
	d, ok := r.Get("git")
	require.True(t, ok)
	require.Equal(t, TypeVCS, d.Type)
}

func TestGetReturnsFalseForUndiscoveredTool(t *testing.T) {
	r := DiscoverAll(log.Nop())
	_, ok := r.Get("buildorc-nonexistent-tool-xyz")
	require.False(t, ok)
}

func TestDefaultPackageManagerFollowsOSPriority(t *testing.T) {
	r := &Registry{tools: map[string]Descriptor{
		"vcpkg": {Name: "vcpkg", Type: TypePackageManager, Subtype: "vcpkg"},
		"brew":  {Name: "brew", Type: TypePackageManager, Subtype: "brew"},
	}}
	pm, ok := r.DefaultPackageManager()
	require.True(t, ok)
	if runtime.GOOS == "darwin" {
		require.Equal(t, "brew", pm.Name)
	}
}

func TestDefaultPackageManagerFalseWhenNoneDiscovered(t *testing.T) {
	r := &Registry{tools: map[string]Descriptor{}}
	_, ok := r.DefaultPackageManager()
	require.False(t, ok)
}

func TestInstallArgsKnownAndUnknownSubtypes(t *testing.T) {
	args, err := installArgs("apt", "libcurl-dev")
	require.NoError(t, err)
	require.Equal(t, []string{"install", "-y", "libcurl-dev"}, args)

	_, err = installArgs("totally-unknown", "libcurl-dev")
	require.Error(t, err)
}
