package fixplan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/model"
)

func TestPlanMissingLibraryInstallsThenCleansThenRetries(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj", BuildSystem: "cmake"}
	plan := Plan(model.PatternMissingLibrary, "curl", project)

	require.Len(t, plan, 3)
	require.Equal(t, model.KindInstallPackage, plan[0].Kind)
	require.Equal(t, "curl", plan[0].Target)
	require.Equal(t, model.KindCleanBuild, plan[1].Kind)
	require.Equal(t, model.KindRetry, plan[2].Kind)
}

func TestPlanMissingHeaderDerivesDevPackageName(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj", BuildSystem: "make"}
	plan := Plan(model.PatternMissingHeader, "curl/curl.h", project)

	require.NotEmpty(t, plan)
	require.Equal(t, model.KindInstallPackage, plan[0].Kind)
	require.Equal(t, "libcurl-dev", plan[0].Target)
}

func TestPlanMissingFileOffersCreateThenInstall(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj"}
	plan := Plan(model.PatternMissingFile, "include/foo.h", project)

	require.Len(t, plan, 2)
	require.Equal(t, model.KindCreateFile, plan[0].Kind)
	require.Equal(t, "include/foo.h", plan[0].Target)
	require.Equal(t, model.KindInstallPackage, plan[1].Kind)
}

func TestPlanCMakeVersionTargetsRootCMakeLists(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj"}
	plan := Plan(model.PatternCMakeVersion, "3.20", project)

	require.Len(t, plan, 1)
	require.Equal(t, model.KindFixCMakeVersion, plan[0].Kind)
	require.Equal(t, "/proj/CMakeLists.txt", plan[0].Target)
	require.Equal(t, "3.20", plan[0].NewVersion)
}

func TestPlanSyntaxErrorDefersToOracle(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj"}
	require.Nil(t, Plan(model.PatternSyntaxError, "", project))
}

func TestPlanUnknownPatternFallsBackToRetry(t *testing.T) {
	project := &model.ProjectContext{Root: "/proj"}
	plan := Plan(model.PatternUnknown, "", project)
	require.Len(t, plan, 1)
	require.Equal(t, model.KindRetry, plan[0].Kind)
}
