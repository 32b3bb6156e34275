package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lexcodex/testforge/app/testforge/tui"
	"github.com/lexcodex/testforge/cmd/internal/cliutils"
	"github.com/lexcodex/testforge/correction"
	"github.com/lexcodex/testforge/framework"
	"github.com/lexcodex/testforge/llm"
	"github.com/lexcodex/testforge/modules"
	"github.com/lexcodex/testforge/persistence"
	"github.com/lexcodex/testforge/repair"
	"github.com/lexcodex/testforge/server"
	"github.com/lexcodex/testforge/tools"
)

type repairOptions struct {
	tui           bool
	lspStdio      bool
	metricsAddr   string
	maxIterations int
	sessionID     string
	asJSON        bool
}

func newRepairCmd() *cobra.Command {
	var opts repairOptions
	cmd := &cobra.Command{
		Use:   "repair FILE...",
		Short: "Write, run and correct test files until they pass",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.lspStdio && (opts.tui || opts.asJSON) {
				return errors.New("--lsp-stdio owns stdout; drop --tui and --json")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result, err := runRepair(ctx, cmd, opts, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else if !opts.lspStdio {
				fmt.Fprintln(out, tui.RenderSummary(result))
			}
			if !result.Success {
				return fmt.Errorf("repair ended in %s: %s", result.State, result.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show live progress in an interactive view")
	cmd.Flags().BoolVar(&opts.lspStdio, "lsp-stdio", false, "Publish failures as LSP diagnostics over stdio")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and the session API on this address")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Override loop.max_iterations")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id (random when empty)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func runRepair(ctx context.Context, cmd *cobra.Command, opts repairOptions, paths []string) (framework.LoopResult, error) {
	project, cfg, err := loadConfig()
	if err != nil {
		return framework.LoopResult{}, err
	}
	if opts.maxIterations > 0 {
		cfg.Loop.MaxIterations = opts.maxIterations
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = cfg.Metrics.Listen
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if opts.tui {
		logOut = io.Discard
	}
	logger, closeLog, err := cliutils.NewLogger(cfg.Logging, logOut)
	if err != nil {
		return framework.LoopResult{}, err
	}
	defer closeLog()

	grammar := cliutils.GrammarForPath(paths[0])
	files, err := cliutils.LoadCandidates(grammar, paths)
	if err != nil {
		return framework.LoopResult{}, err
	}
	known, err := modules.Scan(ctx, project, modules.MavenLayout)
	if err != nil {
		return framework.LoopResult{}, fmt.Errorf("scan modules: %w", err)
	}

	var extraSinks []framework.AuditSink
	if opts.lspStdio {
		publisher := server.NewDiagnosticsPublisher(ctx, server.NewStdioConn(), project)
		publisher.Logger = logger
		defer publisher.Close()
		extraSinks = append(extraSinks, publisher)
	}
	audit, err := cliutils.BuildAuditSinks(cfg.Audit, extraSinks...)
	if err != nil {
		return framework.LoopResult{}, err
	}
	defer audit.Close()

	var reg *prometheus.Registry
	if opts.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	var progress *tui.ChannelTelemetry
	var extraTelemetry []framework.Telemetry
	if opts.tui {
		progress = tui.NewChannelTelemetry(0)
		extraTelemetry = append(extraTelemetry, progress)
	}
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	telemetry, closeTelemetry, err := cliutils.BuildTelemetry(cfg, logger, registerer, extraTelemetry...)
	if err != nil {
		return framework.LoopResult{}, err
	}
	defer closeTelemetry()

	if reg != nil {
		var store server.SessionStore = audit.Memory
		if audit.SQLite != nil {
			store = audit.SQLite
		}
		api := &server.APIServer{Store: store, Gatherer: reg, Logger: logger}
		apiCtx, cancelAPI := context.WithCancel(ctx)
		defer cancelAPI()
		go func() {
			if err := api.ServeContext(apiCtx, opts.metricsAddr); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status API stopped", "error", err)
			}
		}()
	}

	engine, err := llm.NewEngine(cfg.Engine, telemetry, cfg.Logging.LLM)
	if err != nil {
		return framework.LoopResult{}, err
	}
	runner, err := tools.NewTestRunner(cfg.Runner)
	if err != nil {
		return framework.LoopResult{}, err
	}
	loop := newConfiguredLoop(cfg, runner, engine, project, known, grammar, logger)
	loop.Audit = audit.Sink
	loop.Telemetry = telemetry
	if opts.sessionID != "" {
		id := opts.sessionID
		loop.NewSessionID = func() string { return id }
	}

	run := func(ctx context.Context) framework.LoopResult {
		return loop.Run(ctx, files)
	}
	if opts.tui {
		defer progress.Close()
		return tui.Run(ctx, run, progress)
	}
	return run(ctx), nil
}

func newConfiguredLoop(cfg *framework.Config, runner framework.TestRunner, engine framework.ReasoningEngine, project string, known []modules.ModulePath, grammar *correction.Grammar, logger *slog.Logger) *repair.Loop {
	loop := repair.NewLoop(cfg, runner, engine, project, known)
	loop.Builder = correction.NewRequestBuilder(grammar)
	loop.Extractor = correction.NewExtractor(grammar)
	loop.Extractor.Logger = logger
	loop.Resolver = modules.NewResolver(grammar)
	loop.Logger = logger
	if cfg.Engine.SyntaxCheck && grammar == correction.Java {
		loop.Extractor.Checker = correction.NewJavaSyntaxChecker()
	}
	writer := persistence.NewWriteVerifier(cfg.Write)
	writer.Logger = logger
	loop.Writer = writer
	return loop
}
