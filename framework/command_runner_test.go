package framework

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCommandRunnerMissingTool(t *testing.T) {
	runner := LocalCommandRunner{LookPath: func(string) (string, error) { return "", exec.ErrNotFound }}
	_, err := runner.Run(context.Background(), CommandRequest{Args: []string{"mvn"}})
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, OutcomeToolNotFound, ClassifyToolError(err))
}

func TestLocalCommandRunnerRequiresArgs(t *testing.T) {
	_, err := LocalCommandRunner{}.Run(context.Background(), CommandRequest{})
	assert.Error(t, err)
}

func TestLocalCommandRunnerCapturesExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	res, err := LocalCommandRunner{}.Run(context.Background(), CommandRequest{
		Workdir: t.TempDir(),
		Args:    []string{"sh", "-c", "echo out; echo err 1>&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\nerr\n", res.Combined())
}

func TestLocalCommandRunnerTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}
	_, err := LocalCommandRunner{}.Run(context.Background(), CommandRequest{
		Args:    []string{"sleep", "5"},
		Timeout: 50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrToolTimeout)
	assert.Equal(t, OutcomeToolTimeout, ClassifyToolError(err))
}

func TestClassifyToolError(t *testing.T) {
	assert.Equal(t, OutcomeNone, ClassifyToolError(nil))
	assert.Equal(t, OutcomeToolTimeout, ClassifyToolError(context.DeadlineExceeded))
	assert.Equal(t, OutcomeToolError, ClassifyToolError(errors.New("exec format error")))
}

func TestCommandResultCombined(t *testing.T) {
	assert.Equal(t, "a", CommandResult{Stdout: "a"}.Combined())
	assert.Equal(t, "b", CommandResult{Stderr: "b"}.Combined())
	assert.Equal(t, "a\nb", CommandResult{Stdout: "a\n\n", Stderr: "b"}.Combined())
}
