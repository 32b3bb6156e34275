package repair

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/testforge/correction"
	"github.com/lexcodex/testforge/diagnostics"
	"github.com/lexcodex/testforge/framework"
	"github.com/lexcodex/testforge/modules"
	"github.com/lexcodex/testforge/persistence"
)

// outputTailLines bounds the raw output carried by a seeded Unknown failure.
const outputTailLines = 40

// FileWriter persists one candidate file.
type FileWriter interface {
	Write(ctx context.Context, path, content string) persistence.WriteResult
}

// Loop drives the bounded write, run, parse, correct cycle for one set of
// candidate files. A Loop holds no per-session state and may be reused for
// independent sessions, but a single Run is strictly sequential.
type Loop struct {
	Runner    framework.TestRunner
	Engine    framework.ReasoningEngine
	Writer    FileWriter
	Parser    *diagnostics.Parser
	Builder   *correction.RequestBuilder
	Extractor *correction.Extractor
	Resolver  *modules.Resolver
	Audit     framework.AuditSink
	Telemetry framework.Telemetry
	Logger    *slog.Logger
	Config    framework.LoopConfig

	// ProjectRoot anchors relative paths when no module claims a file.
	ProjectRoot string
	// Modules is the pre-scanned module list handed to the resolver.
	Modules []modules.ModulePath

	NewSessionID func() string
}

// NewLoop wires the default collaborators for the Java grammar.
func NewLoop(cfg *framework.Config, runner framework.TestRunner, engine framework.ReasoningEngine, projectRoot string, known []modules.ModulePath) *Loop {
	if cfg == nil {
		cfg = framework.DefaultConfig()
	}
	return &Loop{
		Runner:      runner,
		Engine:      engine,
		Writer:      persistence.NewWriteVerifier(cfg.Write),
		Parser:      diagnostics.NewParser(),
		Builder:     correction.NewRequestBuilder(correction.Java),
		Extractor:   correction.NewExtractor(correction.Java),
		Resolver:    modules.NewResolver(correction.Java),
		Config:      cfg.Loop,
		ProjectRoot: projectRoot,
		Modules:     known,
	}
}

// session is the mutable state of one Run.
type session struct {
	id         string
	files      []framework.CandidateFile
	iterations int
	failures   []framework.Failure
}

// Run repairs files until the tests pass or a terminal condition is reached.
// It always returns a result; the terminating condition is carried in
// State and Outcome.
func (l *Loop) Run(ctx context.Context, files []framework.CandidateFile) framework.LoopResult {
	s := &session{id: l.sessionID(), files: append([]framework.CandidateFile(nil), files...)}
	for i := range s.files {
		if s.files[i].WriteState == "" {
			s.files[i].WriteState = framework.WriteStateNotWritten
		}
	}
	maxIterations := l.Config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 5
	}
	noProgressLimit := l.Config.NoProgressLimit
	if noProgressLimit <= 0 {
		noProgressLimit = 2
	}
	l.emit(framework.Event{
		Type:      framework.EventLoopStart,
		SessionID: s.id,
		State:     framework.StateGenerating,
		Message:   fmt.Sprintf("repairing %d file(s)", len(s.files)),
		Metadata:  map[string]interface{}{"files": len(s.files), "max_iterations": maxIterations},
	})

	noProgress := 0
	for iter := 1; iter <= maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return l.finish(ctx, s, framework.StateCancelled, framework.Outcome{Message: err.Error()}, "repair cancelled")
		}
		iterCtx := framework.WithSessionContext(ctx, framework.SessionContext{ID: s.id, Iteration: iter})

		l.transition(s, iter, framework.StateWriting)
		if outcome, ok := l.writePending(iterCtx, s, iter); !ok {
			return l.finish(ctx, s, framework.StateFatal, outcome, "no candidate file could be written: "+outcome.Message)
		}

		l.transition(s, iter, framework.StateExecuting)
		raw, exitCodes, outcome := l.runTests(iterCtx, s, iter)
		if outcome.Kind.Fatal() {
			if ctx.Err() != nil {
				return l.finish(ctx, s, framework.StateCancelled, outcome, "repair cancelled")
			}
			return l.finish(ctx, s, framework.StateFatal, outcome, "test runner failed: "+outcome.String())
		}
		s.iterations = iter

		l.transition(s, iter, framework.StateParsing)
		passed := allZero(exitCodes)
		var failures []framework.Failure
		if !passed {
			failures = l.parse(raw)
		}
		s.failures = failures
		l.record(ctx, s, framework.IterationRecord{
			SessionID: s.id,
			Index:     iter,
			Failures:  failures,
			RawOutput: raw,
			ExitCodes: exitCodes,
			Timestamp: time.Now().UTC(),
		})
		l.emit(framework.Event{
			Type:      framework.EventIterationFinish,
			SessionID: s.id,
			Iteration: iter,
			Message:   fmt.Sprintf("%d failure(s)", len(failures)),
			Metadata:  map[string]interface{}{"failure_kinds": countKinds(failures), "passed": passed},
		})
		if passed {
			return l.finish(ctx, s, framework.StateSucceeded, framework.Outcome{},
				fmt.Sprintf("all tests passed after %d iteration(s)", iter))
		}
		if iter == maxIterations {
			break
		}

		l.transition(s, iter, framework.StateCorrecting)
		corrected := l.correct(iterCtx, s, iter, failures)
		if ctx.Err() != nil {
			return l.finish(ctx, s, framework.StateCancelled, framework.Outcome{Message: ctx.Err().Error()}, "repair cancelled")
		}
		if len(corrected) == 0 {
			noProgress++
			l.logger().Warn("no usable correction", "session", s.id, "iteration", iter, "consecutive", noProgress)
			if noProgress >= noProgressLimit {
				return l.finish(ctx, s, framework.StateNoFixableFailures,
					framework.Outcome{Kind: framework.OutcomeNoCorrectionExtracted},
					fmt.Sprintf("no usable correction for %d consecutive iteration(s)", noProgress))
			}
			continue
		}
		noProgress = 0
		s.files = applyCorrections(s.files, corrected, iter)
	}
	outcome := framework.Outcome{Kind: framework.OutcomeForFailures(s.failures)}
	return l.finish(ctx, s, framework.StateExhaustedRetries, outcome,
		fmt.Sprintf("exhausted %d iteration(s) with %d failure(s) remaining", s.iterations, len(s.failures)))
}

// writePending persists every file not yet on disk. It fails only when no
// file at all is available to test afterwards.
func (l *Loop) writePending(ctx context.Context, s *session, iter int) (framework.Outcome, bool) {
	var lastFailure framework.Outcome
	for i := range s.files {
		file := &s.files[i]
		if file.WriteState != framework.WriteStateNotWritten {
			continue
		}
		path := l.targetPath(*file)
		res := l.Writer.Write(ctx, path, file.Content)
		if !res.Success {
			file.WriteState = framework.WriteStateFailed
			lastFailure = framework.Outcome{Kind: res.Kind, Message: fmt.Sprintf("%s: %v", path, res.Err)}
			l.emit(framework.Event{
				Type:      framework.EventWriteFailed,
				SessionID: s.id,
				Iteration: iter,
				Message:   path,
				Metadata:  map[string]interface{}{"kind": string(res.Kind), "attempts": res.Attempts, "error": fmt.Sprint(res.Err)},
			})
			continue
		}
		file.WriteState = framework.WriteStateWritten
		if file.ResolvedPath == "" {
			file.ResolvedPath = path
		}
		l.emit(framework.Event{
			Type:      framework.EventFileWritten,
			SessionID: s.id,
			Iteration: iter,
			Message:   path,
			Metadata:  map[string]interface{}{"attempts": res.Attempts, "class": file.Identity()},
		})
	}
	for _, file := range s.files {
		if file.WriteState == framework.WriteStateWritten {
			return framework.Outcome{}, true
		}
	}
	if lastFailure.Kind == framework.OutcomeNone {
		lastFailure = framework.Outcome{Kind: framework.OutcomeWritePermanentError, Message: "no candidate files"}
	}
	return lastFailure, false
}

// targetPath is the resolved path when one was assigned, otherwise the
// relative path placed under the module the resolver picks.
func (l *Loop) targetPath(file framework.CandidateFile) string {
	if file.ResolvedPath != "" {
		return file.ResolvedPath
	}
	rel := file.RelativePath
	if rel == "" {
		rel = l.grammar().RelativePath(file.DeclaredNamespace, file.ClassName)
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	root := l.ProjectRoot
	if l.Resolver != nil {
		if module, ok := l.Resolver.Resolve(l.ProjectRoot, l.Modules, file.Content); ok {
			root = module.Root
		}
	}
	return filepath.Join(root, rel)
}

// runTests invokes the runner once per module holding a written file.
// Infrastructure errors stop at the first module and are returned as a
// fatal outcome.
func (l *Loop) runTests(ctx context.Context, s *session, iter int) (string, []int, framework.Outcome) {
	groups := l.groupByModule(s.files)
	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var outputs []string
	var exitCodes []int
	for _, root := range roots {
		classes := groups[root]
		run, err := l.Runner.Run(ctx, root, classes, l.Config.TestTimeout)
		l.emit(framework.Event{
			Type:      framework.EventTestRun,
			SessionID: s.id,
			Iteration: iter,
			Message:   root,
			Metadata:  map[string]interface{}{"elapsed": run.Elapsed, "exit_code": run.ExitCode, "classes": classes},
		})
		if err != nil {
			kind := framework.ClassifyToolError(err)
			l.logger().Error("test runner failed", "session", s.id, "module", root, "kind", kind, "error", err)
			return "", exitCodes, framework.Outcome{Kind: kind, Message: err.Error(), Module: root, Elapsed: run.Elapsed}
		}
		outputs = append(outputs, run.Output)
		exitCodes = append(exitCodes, run.ExitCode)
	}
	return strings.Join(outputs, "\n"), exitCodes, framework.Outcome{}
}

// groupByModule maps each module root to the class names it should run.
// A file belongs to the module whose root is its longest path prefix.
func (l *Loop) groupByModule(files []framework.CandidateFile) map[string][]string {
	groups := make(map[string][]string)
	for _, file := range files {
		if file.WriteState != framework.WriteStateWritten {
			continue
		}
		root := l.moduleRootFor(file.ResolvedPath)
		groups[root] = appendUnique(groups[root], file.ClassName)
	}
	return groups
}

func (l *Loop) moduleRootFor(path string) string {
	best := ""
	for _, module := range l.Modules {
		if module.Root == "" || !withinDir(path, module.Root) {
			continue
		}
		if len(module.Root) > len(best) {
			best = module.Root
		}
	}
	if best == "" {
		return l.ProjectRoot
	}
	return best
}

func (l *Loop) parse(raw string) []framework.Failure {
	parser := l.Parser
	if parser == nil {
		parser = diagnostics.NewParser()
	}
	failures := parser.Parse(raw)
	if len(failures) > 0 {
		return failures
	}
	tail := diagnostics.Tail(raw, outputTailLines)
	if strings.TrimSpace(tail) == "" {
		tail = "test run failed without output"
	}
	return []framework.Failure{{
		Kind:    framework.FailureUnknown,
		Message: tail,
	}}
}

// correct asks the engine for fixed files. Engine and extraction problems
// are logged and reported as an empty result.
func (l *Loop) correct(ctx context.Context, s *session, iter int, failures []framework.Failure) []framework.CandidateFile {
	contents := make(map[string]string, len(s.files))
	for _, file := range s.files {
		contents[file.Path()] = file.Content
	}
	prompt := l.builder().Build(failures, contents)
	response, err := l.Engine.Invoke(ctx, prompt)
	if err != nil {
		l.logger().Warn("engine invocation failed", "session", s.id, "iteration", iter, "error", err)
		l.emitCorrection(s, iter, 0, err)
		return nil
	}
	corrected := l.extractor().Extract(ctx, response, s.files)
	l.emitCorrection(s, iter, len(corrected), nil)
	return corrected
}

func (l *Loop) emitCorrection(s *session, iter, n int, err error) {
	meta := map[string]interface{}{"files": n}
	msg := fmt.Sprintf("%d corrected file(s)", n)
	if err != nil {
		meta["error"] = err.Error()
		msg = "engine error"
	}
	l.emit(framework.Event{
		Type:      framework.EventCorrection,
		SessionID: s.id,
		Iteration: iter,
		Message:   msg,
		Metadata:  meta,
	})
}

// applyCorrections replaces matched files in place and appends new classes.
// A corrected file keeps the resolved path of the file it replaces.
func applyCorrections(files, corrected []framework.CandidateFile, iter int) []framework.CandidateFile {
	out := append([]framework.CandidateFile(nil), files...)
	for _, c := range corrected {
		c.WriteState = framework.WriteStateNotWritten
		c.CorrectionIteration = iter
		replaced := false
		for i := range out {
			if !out[i].SameClass(c) {
				continue
			}
			if out[i].ResolvedPath != "" {
				c.ResolvedPath = out[i].ResolvedPath
			}
			if c.RelativePath == "" {
				c.RelativePath = out[i].RelativePath
			}
			out[i] = c
			replaced = true
			break
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}

func (l *Loop) finish(ctx context.Context, s *session, state framework.LoopState, outcome framework.Outcome, message string) framework.LoopResult {
	result := framework.LoopResult{
		SessionID:  s.id,
		Success:    state == framework.StateSucceeded,
		Iterations: s.iterations,
		FinalFiles: s.files,
		Message:    message,
		State:      state,
		Outcome:    outcome,
	}
	// The result is recorded even when ctx is already cancelled.
	l.recordEvent(context.WithoutCancel(ctx), framework.AuditEvent{
		Type:      framework.AuditEventResult,
		SessionID: s.id,
		Timestamp: time.Now().UTC(),
		Result:    &result,
	})
	l.emit(framework.Event{
		Type:      framework.EventLoopFinish,
		SessionID: s.id,
		Iteration: s.iterations,
		State:     state,
		Message:   message,
		Metadata:  map[string]interface{}{"success": result.Success, "outcome": string(outcome.Kind)},
	})
	level := slog.LevelInfo
	if !result.Success {
		level = slog.LevelWarn
	}
	l.logger().Log(ctx, level, "repair finished", "session", s.id, "state", state, "iterations", s.iterations, "message", message)
	return result
}

func (l *Loop) record(ctx context.Context, s *session, rec framework.IterationRecord) {
	l.recordEvent(ctx, framework.AuditEvent{
		Type:      framework.AuditEventIteration,
		SessionID: s.id,
		Timestamp: rec.Timestamp,
		Iteration: &rec,
	})
}

// recordEvent forwards to the audit sink; sink errors never stop the loop.
func (l *Loop) recordEvent(ctx context.Context, event framework.AuditEvent) {
	if l.Audit == nil {
		return
	}
	if err := l.Audit.Record(ctx, event); err != nil {
		l.logger().Warn("audit record failed", "session", event.SessionID, "type", event.Type, "error", err)
	}
}

func (l *Loop) transition(s *session, iter int, state framework.LoopState) {
	l.emit(framework.Event{
		Type:      framework.EventStateChange,
		SessionID: s.id,
		Iteration: iter,
		State:     state,
	})
}

func (l *Loop) emit(event framework.Event) {
	if l.Telemetry == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.Telemetry.Emit(event)
}

func (l *Loop) sessionID() string {
	if l.NewSessionID != nil {
		return l.NewSessionID()
	}
	return uuid.NewString()
}

func (l *Loop) grammar() *correction.Grammar {
	if l.Extractor != nil && l.Extractor.Grammar != nil {
		return l.Extractor.Grammar
	}
	return correction.Java
}

func (l *Loop) builder() *correction.RequestBuilder {
	if l.Builder == nil {
		return correction.NewRequestBuilder(l.grammar())
	}
	return l.Builder
}

func (l *Loop) extractor() *correction.Extractor {
	if l.Extractor == nil {
		return correction.NewExtractor(l.grammar())
	}
	return l.Extractor
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func allZero(codes []int) bool {
	for _, c := range codes {
		if c != 0 {
			return false
		}
	}
	return true
}

func countKinds(failures []framework.Failure) map[framework.FailureKind]int {
	counts := make(map[framework.FailureKind]int)
	for _, f := range failures {
		counts[f.Kind]++
	}
	return counts
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
