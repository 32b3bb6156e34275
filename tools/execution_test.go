package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/framework"
)

type recordingRunner struct {
	req    framework.CommandRequest
	result framework.CommandResult
	err    error
}

func (r *recordingRunner) Run(_ context.Context, req framework.CommandRequest) (framework.CommandResult, error) {
	r.req = req
	return r.result, r.err
}

func TestMavenTestRunnerBuildsCommand(t *testing.T) {
	rec := &recordingRunner{result: framework.CommandResult{Stdout: "[INFO] BUILD FAILURE\n", Stderr: "warning\n", ExitCode: 1}}
	runner := &MavenTestRunner{Command: []string{"mvn", "-B"}, ExtraArgs: []string{"-o"}, Runner: rec}

	run, err := runner.Run(context.Background(), "/repo/owner", []string{"OwnerTest", "PetTest"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ExitCode)
	assert.Equal(t, "[INFO] BUILD FAILURE\nwarning\n", run.Output)

	assert.Equal(t, "/repo/owner", rec.req.Workdir)
	assert.Equal(t, time.Minute, rec.req.Timeout)
	assert.Equal(t, []string{
		"mvn", "-B", "test",
		"-Dtest=OwnerTest,PetTest",
		"-DfailIfNoTests=false",
		"-Dsurefire.failIfNoSpecifiedTests=false",
		"-o",
	}, rec.req.Args)
}

func TestMavenTestRunnerWrapsInfrastructureErrors(t *testing.T) {
	rec := &recordingRunner{err: framework.ErrToolNotFound}
	runner := &MavenTestRunner{Runner: rec}
	_, err := runner.Run(context.Background(), "/repo", nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, framework.ErrToolNotFound))
	assert.Equal(t, framework.OutcomeToolNotFound, framework.ClassifyToolError(err))
	assert.Equal(t, []string{"mvn", "-B", "test"}, rec.req.Args)
}

func TestGradleTestRunnerBuildsCommand(t *testing.T) {
	rec := &recordingRunner{result: framework.CommandResult{Stdout: "BUILD SUCCESSFUL\n"}}
	runner := &GradleTestRunner{Command: []string{"./gradlew"}, Runner: rec}

	run, err := runner.Run(context.Background(), "/repo/vets", []string{"VetTest", "SpecialtyTest"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, []string{"./gradlew", "test", "--console=plain", "--tests", "VetTest", "--tests", "SpecialtyTest"}, rec.req.Args)
	assert.Equal(t, "/repo/vets", rec.req.Workdir)
}

func TestNewTestRunnerSelectsTool(t *testing.T) {
	runner, err := NewTestRunner(framework.RunnerConfig{Tool: "Gradle"})
	require.NoError(t, err)
	gradle, ok := runner.(*GradleTestRunner)
	require.True(t, ok)
	assert.Equal(t, []string{"gradle", "test", "--console=plain"}, gradle.Args(nil))

	runner, err = NewTestRunner(framework.RunnerConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MavenTestRunner{}, runner)

	_, err = NewTestRunner(framework.RunnerConfig{Tool: "bazel"})
	assert.Error(t, err)
}
