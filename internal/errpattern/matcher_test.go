package errpattern

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/model"
)

func TestMatchPriorityBreaksUndefinedReferenceTie(t *testing.T) {
	m := New()
	// "undefined reference to" matches both MissingLibrary and
	// UndefinedReference rules; MissingLibrary has higher priority.
	got := m.Match("main.o: undefined reference to `curl_easy_init'")
	require.Equal(t, model.PatternMissingLibrary, got)
}

func TestMatchIsDeterministicAcrossEquivalentInputs(t *testing.T) {
	m := New()
	a := m.Match("foo: undefined reference to `bar_baz'")
	b := m.Match("other.o:12: undefined reference to `qux_quux'")
	require.Equal(t, a, b)
}

func TestDiagnoseMissingLibraryScenario(t *testing.T) {
	m := New()
	result := &model.BuildResult{
		Success: false,
		Stderr:  []byte("/usr/bin/ld: main.o: undefined reference to `curl_easy_init'\ncollect2: error: ld returned 1 exit status"),
	}
	project := &model.ProjectContext{Language: "C", BuildSystem: "cmake"}

	d := m.Diagnose(result, project)
	require.Contains(t, []model.ErrorPatternType{model.PatternMissingLibrary, model.PatternUndefinedReference}, d.Pattern)
	require.Equal(t, "curl", d.ExtractedTarget)
}

func TestDiagnoseCMakeVersion(t *testing.T) {
	m := New()
	result := &model.BuildResult{
		Success: false,
		Stderr:  []byte("CMake Error: CMake 3.20 or higher is required.  You are running version 3.10.2"),
	}
	d := m.Diagnose(result, &model.ProjectContext{})
	require.Equal(t, model.PatternCMakeVersion, d.Pattern)
	require.Equal(t, "3.20", d.ExtractedTarget)
	require.Equal(t, 1.0, d.Confidence)
}

func TestDiagnoseUnknownWhenNoPatternMatches(t *testing.T) {
	m := New()
	result := &model.BuildResult{Stderr: []byte("something entirely unrecognized happened")}
	d := m.Diagnose(result, &model.ProjectContext{})
	require.Equal(t, model.PatternUnknown, d.Pattern)
	require.Equal(t, 0.3, d.Confidence)
}
