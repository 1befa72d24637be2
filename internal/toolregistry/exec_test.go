package toolregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteCapturesStdoutAndSuccess(t *testing.T) {
	res, err := Execute(&Command{Name: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, string(res.Stdout), "hello")
}

func TestExecuteReportsNonZeroExit(t *testing.T) {
	res, err := Execute(&Command{Name: "sh", Args: []string{"-c", "exit 7"}})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 7, res.ExitCode)
}

func TestExecuteKillsOnTimeout(t *testing.T) {
	res, err := Execute(&Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	require.False(t, res.Success)
	require.Equal(t, -1, res.ExitCode)
}

func TestExecuteUnknownBinaryErrors(t *testing.T) {
	_, err := Execute(&Command{Name: "buildorc-nonexistent-binary-xyz"})
	require.Error(t, err)
}

func TestDebugStringQuotesWhitespaceTokens(t *testing.T) {
	s := DebugString(&Command{Name: "gcc", Args: []string{"-o", "my file.o"}})
	require.Equal(t, `gcc -o "my file.o"`, s)
}

func TestResolvesOnPathStripsSudo(t *testing.T) {
	require.True(t, ResolvesOnPath("sudo echo hi"))
	require.False(t, ResolvesOnPath("buildorc-nonexistent-binary-xyz"))
	require.False(t, ResolvesOnPath(""))
}

func TestLookPathRejectsBareSudo(t *testing.T) {
	_, err := lookPath("sudo")
	require.Error(t, err)
}
