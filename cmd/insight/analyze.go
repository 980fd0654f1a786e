package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	appai "github.com/bryanwahyu/domain-insight/internal/application/ai"
	"github.com/bryanwahyu/domain-insight/internal/application/cache"
	"github.com/bryanwahyu/domain-insight/internal/application/orchestrator"
	domai "github.com/bryanwahyu/domain-insight/internal/domain/ai"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	openaiclient "github.com/bryanwahyu/domain-insight/internal/infra/ai/openai"
	"github.com/bryanwahyu/domain-insight/internal/infra/analyzers"
	memcache "github.com/bryanwahyu/domain-insight/internal/infra/cache"
)

type analyzeOptions struct {
	vs           string
	capabilities []string
	output       string
	timeout      time.Duration
	noSummary    bool
}

func NewAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze DOMAIN",
		Short: "Run an analysis in-process and print the report",
		Long: `Fetch a homepage and run the analysis capabilities against it.

Examples:
  # Default capabilities
  insight analyze stripe.com

  # Compare against a competitor
  insight analyze notion.so --vs coda.io

  # Pick capabilities and get JSON
  insight analyze acme.com -c technical -c mobile -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.vs, "vs", "", "Competitor domain to compare against")
	cmd.Flags().StringSliceVarP(&opts.capabilities, "capabilities", "c", nil, "Capabilities to run (technical, content, conversion, mobile, competitive)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "human", "Output format (human, json, yaml)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Overall deadline")
	cmd.Flags().BoolVar(&opts.noSummary, "no-summary", false, "Skip the written summary")
	return cmd
}

func runAnalyze(ctx context.Context, domain string, opts analyzeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req := analysis.AnalysisRequest{Targets: []string{domain}}
	if opts.vs != "" {
		req.Targets = append(req.Targets, opts.vs)
	}
	for _, c := range opts.capabilities {
		req.Capabilities = append(req.Capabilities, analysis.CapabilityID(c))
	}

	cfg := orchestrator.DefaultConfig()
	cfg.OverallTimeout = opts.timeout
	if cfg.CapabilityTimeout > opts.timeout {
		cfg.CapabilityTimeout = opts.timeout
	}
	orch := &orchestrator.Service{
		Registry: orchestrator.NewRegistry(analyzers.All(analyzers.NewFetcher(15 * time.Second))...),
		Cache:    cache.New(memcache.NewMemory(nil), time.Hour, nil),
		Config:   cfg,
	}

	run, err := orch.Run(ctx, req, analysis.ResolvedRequest{})
	if err != nil {
		return err
	}
	defer run.Detach()

	human := opts.output == "human"
	if human {
		printHeader(run.Request.Targets, run.Request.Capabilities)
	}
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Analyzing..."
	s.Start()

	events := run.Events()
progress:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break progress
			}
			if ev.Terminal {
				continue
			}
			s.Lock()
			s.Suffix = fmt.Sprintf(" %3d%% %s", ev.Progress, ev.Message)
			s.Unlock()
			if human && ev.CapabilityID != "" {
				s.Stop()
				printProgress(ev)
				s.Start()
			}
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
	}
	report, err := run.Wait(ctx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if !human {
		return writeStructured(os.Stdout, opts.output, report)
	}
	printSuccess(fmt.Sprintf("Analysis %s", report.OverallStatus))
	printReport(os.Stdout, report)

	if !opts.noSummary {
		synth := appai.NewService(openAIFromEnv())
		s.Suffix = " Writing summary..."
		s.Start()
		text := synth.Synthesize(ctx, report, nil)
		s.Stop()
		printSummary(os.Stdout, text)
	}
	return nil
}

func openAIFromEnv() domai.Client {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	return openaiclient.NewClient(key, os.Getenv("OPENAI_MODEL"))
}
