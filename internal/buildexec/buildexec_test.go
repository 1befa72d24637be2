package buildexec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/model"
)

func TestBuildCommandCMakeIncludesParallelismAndConfig(t *testing.T) {
	name, args, err := buildCommand("cmake", model.BuildOptions{Parallelism: 4, BuildType: "release"})
	require.NoError(t, err)
	require.Equal(t, "cmake", name)
	require.Equal(t, []string{"--build", ".", "--parallel", "4", "--config", "release"}, args)
}

func TestBuildCommandDefaultsParallelismToOne(t *testing.T) {
	_, args, err := buildCommand("make", model.BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"-j1"}, args)
}

func TestBuildCommandCargoReleaseFlag(t *testing.T) {
	_, args, err := buildCommand("cargo", model.BuildOptions{Parallelism: 2, BuildType: "release"})
	require.NoError(t, err)
	require.Contains(t, args, "--release")
}

func TestBuildCommandUnsupportedSystemErrors(t *testing.T) {
	_, _, err := buildCommand("msbuild", model.BuildOptions{})
	require.Error(t, err)
}

func TestExecuteSucceedsForTrivialCommand(t *testing.T) {
	project := &model.ProjectContext{Root: t.TempDir(), BuildSystem: "go"}
	result, err := Execute(project, model.BuildOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestExecuteSurfacesUnsupportedBuildSystemAsError(t *testing.T) {
	project := &model.ProjectContext{Root: t.TempDir(), BuildSystem: "unknown-system"}
	_, err := Execute(project, model.BuildOptions{})
	require.Error(t, err)
}
