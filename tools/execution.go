package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/testforge/framework"
)

// MavenTestRunner runs selected test classes of one module through Maven.
type MavenTestRunner struct {
	// Command is the Maven invocation prefix, e.g. ["mvn", "-B"].
	Command   []string
	ExtraArgs []string
	Runner    framework.CommandRunner
}

// NewMavenTestRunner builds a runner from config using the local command
// runner.
func NewMavenTestRunner(cfg framework.RunnerConfig) *MavenTestRunner {
	return &MavenTestRunner{
		Command:   cfg.Command,
		ExtraArgs: cfg.ExtraArgs,
		Runner:    framework.LocalCommandRunner{},
	}
}

// Args returns the full command line for the given classes.
func (t *MavenTestRunner) Args(testClasses []string) []string {
	cmdline := append([]string{}, t.Command...)
	if len(cmdline) == 0 {
		cmdline = []string{"mvn", "-B"}
	}
	cmdline = append(cmdline, "test")
	if len(testClasses) > 0 {
		cmdline = append(cmdline,
			"-Dtest="+strings.Join(testClasses, ","),
			"-DfailIfNoTests=false",
			"-Dsurefire.failIfNoSpecifiedTests=false",
		)
	}
	return append(cmdline, t.ExtraArgs...)
}

// Run implements framework.TestRunner. Stdout and stderr are combined into
// the output the diagnostics parser reads.
func (t *MavenTestRunner) Run(ctx context.Context, moduleRoot string, testClasses []string, timeout time.Duration) (framework.TestRun, error) {
	return runTests(ctx, t.Runner, moduleRoot, t.Args(testClasses), timeout)
}

// GradleTestRunner runs selected test classes of one module through Gradle.
type GradleTestRunner struct {
	// Command is the Gradle invocation prefix, e.g. ["./gradlew"].
	Command   []string
	ExtraArgs []string
	Runner    framework.CommandRunner
}

// Args returns the full command line for the given classes. Simple class
// names are valid --tests filters.
func (t *GradleTestRunner) Args(testClasses []string) []string {
	cmdline := append([]string{}, t.Command...)
	if len(cmdline) == 0 {
		cmdline = []string{"gradle"}
	}
	cmdline = append(cmdline, "test", "--console=plain")
	for _, class := range testClasses {
		cmdline = append(cmdline, "--tests", class)
	}
	return append(cmdline, t.ExtraArgs...)
}

// Run implements framework.TestRunner.
func (t *GradleTestRunner) Run(ctx context.Context, moduleRoot string, testClasses []string, timeout time.Duration) (framework.TestRun, error) {
	return runTests(ctx, t.Runner, moduleRoot, t.Args(testClasses), timeout)
}

// NewTestRunner picks the runner for cfg.Tool.
func NewTestRunner(cfg framework.RunnerConfig) (framework.TestRunner, error) {
	switch strings.ToLower(cfg.Tool) {
	case "", "maven":
		return NewMavenTestRunner(cfg), nil
	case "gradle":
		return &GradleTestRunner{
			Command:   cfg.Command,
			ExtraArgs: cfg.ExtraArgs,
			Runner:    framework.LocalCommandRunner{},
		}, nil
	}
	return nil, fmt.Errorf("unknown test tool %q", cfg.Tool)
}

func runTests(ctx context.Context, runner framework.CommandRunner, moduleRoot string, args []string, timeout time.Duration) (framework.TestRun, error) {
	if runner == nil {
		return framework.TestRun{}, fmt.Errorf("command runner missing")
	}
	res, err := runner.Run(ctx, framework.CommandRequest{
		Workdir: moduleRoot,
		Args:    args,
		Timeout: timeout,
	})
	run := framework.TestRun{
		Output:   res.Combined(),
		ExitCode: res.ExitCode,
		Elapsed:  res.Elapsed,
	}
	if err != nil {
		return run, fmt.Errorf("run tests in %s: %w", moduleRoot, err)
	}
	return run, nil
}
