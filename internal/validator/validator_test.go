package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/model"
	"go.buildorc.dev/internal/toolregistry"
)

type fakeRegistry struct {
	pm toolregistry.Descriptor
	ok bool
}

func (f fakeRegistry) DefaultPackageManager() (toolregistry.Descriptor, bool) {
	return f.pm, f.ok
}

func TestValidateInstallPackageRejectsDisallowedCharacters(t *testing.T) {
	result := Validate(model.FixAction{Kind: model.KindInstallPackage, Target: "rm -rf /"}, nil, fakeRegistry{})
	require.Equal(t, Failed, result.Status)
	require.False(t, result.CanProceed)
}

func TestValidateInstallPackageWarnsWithoutPackageManager(t *testing.T) {
	result := Validate(model.FixAction{Kind: model.KindInstallPackage, Target: "libcurl-dev"}, nil, fakeRegistry{})
	require.Equal(t, Warning, result.Status)
	require.True(t, result.CanProceed)
}

func TestValidateInstallPackagePassesWithPackageManager(t *testing.T) {
	reg := fakeRegistry{pm: toolregistry.Descriptor{Name: "apt"}, ok: true}
	result := Validate(model.FixAction{Kind: model.KindInstallPackage, Target: "libcurl-dev"}, nil, reg)
	require.Equal(t, Passed, result.Status)
	require.True(t, result.CanProceed)
}

func TestValidateCreateFileRequiresAccessibleParentDir(t *testing.T) {
	dir := t.TempDir()
	ok := Validate(model.FixAction{Kind: model.KindCreateFile, Target: filepath.Join(dir, "new.txt")}, nil, nil)
	require.Equal(t, Passed, ok.Status)

	bad := Validate(model.FixAction{Kind: model.KindCreateFile, Target: filepath.Join(dir, "missing", "new.txt")}, nil, nil)
	require.Equal(t, Failed, bad.Status)
	require.False(t, bad.CanProceed)
}

func TestValidateFixCMakeVersionRequiresExistingTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CMakeLists.txt")
	require.NoError(t, os.WriteFile(path, []byte("cmake_minimum_required(VERSION 3.10)"), 0o644))

	ok := Validate(model.FixAction{Kind: model.KindFixCMakeVersion, Target: path}, nil, nil)
	require.Equal(t, Passed, ok.Status)

	missing := Validate(model.FixAction{Kind: model.KindFixCMakeVersion, Target: filepath.Join(dir, "nope.txt")}, nil, nil)
	require.Equal(t, Failed, missing.Status)
}

func TestValidateReversibleActionsAlwaysPass(t *testing.T) {
	for _, kind := range []model.FixActionKind{model.KindDeleteFile, model.KindSetEnvVar, model.KindCleanBuild, model.KindRetry, model.KindNoop} {
		result := Validate(model.FixAction{Kind: kind, Target: "/tmp/whatever"}, nil, nil)
		require.Equal(t, Passed, result.Status, kind.String())
		require.True(t, result.CanProceed)
	}
}

func TestAssessRisksDangerousCommandAsCritical(t *testing.T) {
	a := Assess(model.FixAction{Kind: model.KindRunCommand, Target: "sudo rm -rf /tmp/build"})
	require.Equal(t, RiskCritical, a.Level)
	require.True(t, a.RequiresConfirmation)
}

func TestAssessRisksOrdinaryCommandAsMedium(t *testing.T) {
	a := Assess(model.FixAction{Kind: model.KindRunCommand, Target: "make clean"})
	require.Equal(t, RiskMedium, a.Level)
	require.False(t, a.RequiresConfirmation)
}

func TestAssessRisksModifyFileAsReversibleWithBackup(t *testing.T) {
	a := Assess(model.FixAction{Kind: model.KindModifyFile, Target: "CMakeLists.txt"})
	require.Equal(t, RiskMedium, a.Level)
	require.True(t, a.IsReversible)
	require.True(t, a.RequiresBackup)
}

func TestAssessRisksNoopAsNone(t *testing.T) {
	a := Assess(model.FixAction{Kind: model.KindNoop})
	require.Equal(t, RiskNone, a.Level)
}

func TestRiskLevelAndStatusStringers(t *testing.T) {
	require.Equal(t, "Critical", RiskCritical.String())
	require.Equal(t, "None", RiskLevel(99).String())
	require.Equal(t, "Warning", Warning.String())
	require.Equal(t, "Passed", Status(99).String())
}
