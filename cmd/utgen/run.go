package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/artifact"
	"github.com/martinemde/utgen/config"
	"github.com/martinemde/utgen/kbtools"
	"github.com/martinemde/utgen/prompt"
	"github.com/martinemde/utgen/telemetry"
	"github.com/martinemde/utgen/unifiedllm"
)

// modelInfo is what the loop needs to know about the model it drives.
type modelInfo struct {
	Name          string
	ContextWindow int
	Tokens        unifiedllm.TokenCounter
}

type runOptions struct {
	provider       string
	model          string
	maxSteps       int
	outputDir      string
	transcriptPath string
	noWrite        bool
	showEvents     bool
	quiet          bool
}

func runCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [function]",
		Short: "Generate a unit test for one function",
		Long: "Run the agent for the function under test. The function is taken from the\n" +
			"argument or, when omitted, read from standard input.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("provider") {
				a.cfg.LLM.Provider = opts.provider
			}
			if cmd.Flags().Changed("model") {
				a.cfg.LLM.Model = opts.model
			}
			if cmd.Flags().Changed("max-steps") {
				a.cfg.Agent.MaxSteps = opts.maxSteps
			}
			if cmd.Flags().Changed("output") {
				a.cfg.Output.Dir = opts.outputDir
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			function, err := a.functionUnderTest(args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.run(ctx, function, opts)
		},
	}
	cmd.Flags().StringVar(&opts.provider, "provider", "", "LLM provider (overrides config)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model name (overrides config)")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "maximum model invocations, 0 for unlimited (overrides config)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "directory for the generated unit test files (overrides config)")
	cmd.Flags().StringVar(&opts.transcriptPath, "transcript", "", "write the final transcript as JSON to this file")
	cmd.Flags().BoolVar(&opts.noWrite, "no-write", false, "do not write the generated files")
	cmd.Flags().BoolVar(&opts.showEvents, "events", false, "print loop events to stderr while running")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the transcript")
	return cmd
}

func (a *app) functionUnderTest(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	fmt.Fprint(a.stdout, "What function to test: ")
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read function name: %w", err)
	}
	function := strings.TrimSpace(line)
	if function == "" {
		return "", errors.New("no function under test given")
	}
	return function, nil
}

func (a *app) run(ctx context.Context, function string, opts runOptions) error {
	cfg := a.cfg
	logger := a.logger.With(slog.String("function", function))

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.OTLPInsecure,
		Writer:       a.stderr,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()
	metrics := telemetry.StartMetricsServer(cfg.Telemetry.MetricsAddr, nil, logger)
	defer metrics.Shutdown(context.Background())

	store, err := a.loadStore()
	if err != nil {
		return err
	}
	if !store.HasFunction(function) {
		logger.Warn("function is not defined in the source file; dependency lookups will fail")
	}

	reg := agentloop.NewToolRegistry()
	if err := kbtools.Register(reg, store, function); err != nil {
		return err
	}

	model, info, err := a.newModel(cfg, logger)
	if err != nil {
		return err
	}

	directive, err := prompt.LoadSystem(cfg.Prompt.SystemPath)
	if err != nil {
		return err
	}
	system := prompt.BuildSystem(directive, prompt.Environment{
		Function:      function,
		SourceFile:    cfg.Knowledge.SourceFile,
		KnowledgeBase: cfg.Knowledge.BasePath,
		Model:         info.Name,
	}, prompt.DiscoverProjectDocs(filepath.Dir(cfg.Knowledge.BasePath)))

	loopOpts := []agentloop.Option{
		agentloop.WithLogger(logger),
		agentloop.WithOutputLimits(agentloop.OutputLimits{Chars: cfg.Agent.ToolOutputLimits}),
		agentloop.WithContextWindow(info.ContextWindow, cfg.Agent.ContextWarnRatio),
	}
	if info.Tokens != nil {
		loopOpts = append(loopOpts, agentloop.WithTokenCounter(info.Tokens))
	}
	var (
		emitter    *agentloop.EventEmitter
		eventsDone chan struct{}
	)
	if opts.showEvents {
		emitter = agentloop.NewEventEmitter(0)
		loopOpts = append(loopOpts, agentloop.WithEventEmitter(emitter))
		eventsDone = make(chan struct{})
		go func() {
			defer close(eventsDone)
			for ev := range emitter.Events() {
				printEvent(a.stderr, ev)
			}
		}()
	}

	loop := agentloop.NewLoop(model, reg, loopOpts...)
	result, runErr := loop.Run(ctx, system, prompt.UserRequest(function), cfg.Agent.MaxSteps)
	if emitter != nil {
		emitter.Close()
		<-eventsDone
	}
	if result == nil {
		return runErr
	}

	if !opts.quiet {
		printTranscript(a.stdout, result.Transcript)
	}
	if opts.transcriptPath != "" {
		if err := writeTranscript(opts.transcriptPath, result); err != nil {
			logger.Error("transcript not written", slog.String("error", err.Error()))
		}
	}
	fmt.Fprintf(a.stderr, "outcome: %s, steps: %d, tools: %s\n",
		result.Outcome, result.Steps, strings.Join(result.Ledger.Names(), ", "))
	usageAttrs := []any{
		slog.Int("input_tokens", result.Usage.InputTokens),
		slog.Int("output_tokens", result.Usage.OutputTokens),
	}
	if cost, ok := unifiedllm.EstimateCost(cfg.LLM.Model, result.Usage); ok {
		usageAttrs = append(usageAttrs, slog.Float64("estimated_cost_usd", cost))
	}
	logger.Info("run usage", usageAttrs...)

	if !opts.noWrite && (result.Outcome == agentloop.OutcomeCompleted || result.Outcome == agentloop.OutcomeTerminated) {
		files, err := artifact.Extract(result.FinalAnswer())
		switch {
		case errors.Is(err, artifact.ErrNoCode):
			logger.Warn("final answer holds no code blocks; nothing written")
		case err != nil:
			return err
		default:
			if _, err := artifact.Write(cfg.Output.Dir, function, files, logger); err != nil {
				return err
			}
		}
	}
	return runErr
}

func writeTranscript(path string, result *agentloop.RunResult) error {
	data, err := json.MarshalIndent(struct {
		RunID      string                `json:"run_id"`
		Outcome    agentloop.Outcome     `json:"outcome"`
		Steps      int                   `json:"steps"`
		Ledger     []string              `json:"ledger"`
		Scratchpad []string              `json:"scratchpad"`
		Usage      unifiedllm.Usage      `json:"usage"`
		Transcript *agentloop.Transcript `json:"transcript"`
	}{
		RunID:      result.RunID,
		Outcome:    result.Outcome,
		Steps:      result.Steps,
		Ledger:     result.Ledger.Names(),
		Scratchpad: result.Scratchpad.Entries(),
		Usage:      result.Usage,
		Transcript: result.Transcript,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// newLLMModel builds the production model: a gollm adapter behind tracing,
// retry and metrics middleware.
func newLLMModel(cfg *config.Config, logger *slog.Logger) (agentloop.Model, modelInfo, error) {
	llm := cfg.LLM
	tokens := unifiedllm.NewTokenCounter(llm.Model)

	adapter, err := unifiedllm.NewGollmAdapter(llm.Provider, llm.APIKey,
		unifiedllm.WithModel(llm.Model),
		unifiedllm.WithMaxTokens(llm.MaxTokens),
		unifiedllm.WithTemperature(llm.Temperature),
		unifiedllm.WithUsageCounter(tokens),
	)
	if err != nil {
		return nil, modelInfo{}, err
	}

	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(llm.Provider, adapter),
		unifiedllm.WithDefaultProvider(llm.Provider),
		unifiedllm.WithClientLogger(logger),
		unifiedllm.WithMiddleware(
			unifiedllm.TracingMiddleware(),
			unifiedllm.RetryMiddleware(unifiedllm.NewRetryPolicy(llm.MaxRetries, logger)),
			unifiedllm.MetricsMiddleware(),
		),
	)

	temperature := llm.Temperature
	maxTokens := llm.MaxTokens
	model := agentloop.NewLLMModel(client, agentloop.LLMModelConfig{
		Provider:    llm.Provider,
		Model:       llm.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	return model, modelInfo{
		Name:          llm.Model,
		ContextWindow: unifiedllm.ContextWindow(llm.Model),
		Tokens:        tokens,
	}, nil
}
