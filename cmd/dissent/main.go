// Command dissent runs multi-model panel debates from the terminal.
//
// Subcommands:
//
//	dissent debate "query"      run a fresh debate
//	dissent replay <id>         re-synthesize or extend a saved transcript
//	dissent list                list saved transcripts
//	dissent show <id>           print one transcript
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rspicer/dissent/internal/config"
	"github.com/rspicer/dissent/internal/debate"
	"github.com/rspicer/dissent/internal/health"
	"github.com/rspicer/dissent/internal/observe"
	"github.com/rspicer/dissent/internal/transcript"
	"github.com/rspicer/dissent/pkg/pricing"
	"github.com/rspicer/dissent/pkg/provider/router"
	"github.com/rspicer/dissent/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "debate":
		return cmdDebate(rest)
	case "replay":
		return cmdReplay(rest)
	case "list":
		return cmdList(rest)
	case "show":
		return cmdShow(rest)
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "dissent: unknown command %q\n\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: dissent <command> [flags]

commands:
  debate "query"   run a fresh multi-model debate
  replay <id>      re-synthesize or extend a saved transcript
  list             list saved transcripts
  show <id>        print one transcript

run "dissent <command> -h" for command flags
`)
}

// ── debate ────────────────────────────────────────────────────────────────────

func cmdDebate(args []string) int {
	fs := flag.NewFlagSet("debate", flag.ExitOnError)
	configPath := fs.String("config", "dissent.yaml", "path to the YAML configuration file")
	panelFlag := fs.String("panel", "", "comma-separated panelist aliases (default from config)")
	synthesizer := fs.String("synthesizer", "", "synthesizer alias (default from config)")
	rounds := fs.Int("rounds", 0, "reflection rounds, 1-3 (default from config)")
	groundTruth := fs.String("ground-truth", "", "reference answer; enables judge scoring")
	contextFlag := fs.String("context", "", "per-panelist context as alias=text pairs joined by ';'")
	experimentID := fs.String("experiment-id", "", "experiment ID to record in metadata")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics, /healthz, /readyz on this address (e.g. :9090)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "dissent debate: exactly one query argument required")
		return 2
	}
	query := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel)

	opts := debate.Options{
		Panel:       cfg.Defaults.Panel,
		Synthesizer: cfg.Defaults.Synthesizer,
		Rounds:      cfg.Defaults.Rounds,
		GroundTruth: *groundTruth,
	}
	if *panelFlag != "" {
		opts.Panel = splitList(*panelFlag)
		if *synthesizer == "" {
			opts.Synthesizer = opts.Panel[0]
		}
	}
	if *synthesizer != "" {
		opts.Synthesizer = *synthesizer
	}
	if *rounds != 0 {
		opts.Rounds = *rounds
	}
	if *contextFlag != "" {
		ctxMap, err := parseContext(*contextFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
			return 2
		}
		opts.Context = ctxMap
	}
	if *experimentID != "" {
		opts.Experiment = &types.ExperimentMetadata{ExperimentID: *experimentID, SourceTool: "cli"}
	}
	opts.OnRound = printRoundProgress

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownDebug, err := startDebugServer(ctx, *metricsAddr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	defer shutdownDebug()

	engine, closeRouter, err := buildEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	defer closeRouter()

	t, err := engine.Run(ctx, query, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	return saveAndPrint(cfg, t)
}

// ── replay ────────────────────────────────────────────────────────────────────

func cmdReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "dissent.yaml", "path to the YAML configuration file")
	synthesizer := fs.String("synthesizer", "", "override the synthesizer alias")
	rounds := fs.Int("rounds", 0, "additional reflection rounds, 0-3")
	groundTruth := fs.String("ground-truth", "", "reference answer; enables judge scoring")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics, /healthz, /readyz on this address (e.g. :9090)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "dissent replay: exactly one transcript ID argument required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel)

	store := transcript.NewStore(cfg.TranscriptDir)
	source, err := store.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	if source == nil {
		fmt.Fprintf(os.Stderr, "dissent: no transcript matches %q\n", fs.Arg(0))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownDebug, err := startDebugServer(ctx, *metricsAddr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	defer shutdownDebug()

	engine, closeRouter, err := buildEngine(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	defer closeRouter()

	t, err := engine.Replay(ctx, source, debate.ReplayOptions{
		SynthesizerOverride: *synthesizer,
		AdditionalRounds:    *rounds,
		GroundTruth:         *groundTruth,
		OnRound:             printRoundProgress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	return saveAndPrint(cfg, t)
}

// ── list ──────────────────────────────────────────────────────────────────────

func cmdList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "dissent.yaml", "path to the YAML configuration file")
	limit := fs.Int("limit", 20, "maximum transcripts to list, 0 for all")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel)

	summaries, err := transcript.NewStore(cfg.TranscriptDir).List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	if len(summaries) == 0 {
		fmt.Println("no transcripts found")
		return 0
	}
	for _, s := range summaries {
		cost := "-"
		if s.Cost != nil {
			cost = fmt.Sprintf("$%.4f", *s.Cost)
		}
		fmt.Printf("%s  %s  rounds=%d  tokens=%d  cost=%s  [%s → %s]  %s\n",
			s.ShortID, s.Date, s.Rounds, s.Tokens, cost, s.Panel, s.Synthesizer, s.Query)
	}
	return 0
}

// ── show ──────────────────────────────────────────────────────────────────────

func cmdShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "dissent.yaml", "path to the YAML configuration file")
	full := fs.Bool("full", false, "print every round response, not just the synthesis")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "dissent show: exactly one transcript ID argument required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	setupLogger(cfg.LogLevel)

	t, err := transcript.NewStore(cfg.TranscriptDir).Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dissent: %v\n", err)
		return 1
	}
	if t == nil {
		fmt.Fprintf(os.Stderr, "dissent: no transcript matches %q\n", fs.Arg(0))
		return 1
	}

	fmt.Printf("transcript %s (%s)\n", t.ShortID(), t.CreatedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Printf("query:       %s\n", t.Query)
	fmt.Printf("panel:       %s\n", strings.Join(t.Panel, ", "))
	fmt.Printf("synthesizer: %s\n", t.SynthesizerID)
	fmt.Printf("rounds:      %d\n", len(t.Rounds))
	if aborted, _ := t.Metadata[types.MetaAborted].(bool); aborted {
		fmt.Println("aborted:     true")
	}

	if *full {
		for _, round := range t.Rounds {
			fmt.Printf("\n━━ round %d (%s) ━━\n", round.RoundNumber, round.RoundType)
			for _, resp := range round.Responses {
				fmt.Printf("\n[%s]\n", resp.ModelAlias)
				if resp.Error != "" {
					fmt.Printf("error: %s\n", resp.Error)
					continue
				}
				fmt.Println(resp.Content)
			}
		}
	}

	if t.Synthesis != nil {
		fmt.Printf("\n━━ synthesis [%s] ━━\n", t.Synthesis.ModelAlias)
		if t.Synthesis.Error != "" {
			fmt.Printf("error: %s\n", t.Synthesis.Error)
		} else {
			fmt.Println(t.Synthesis.Content)
		}
	}
	return 0
}

// ── shared wiring ─────────────────────────────────────────────────────────────

// buildEngine opens the router and assembles the debate engine with a
// pricing cache.
func buildEngine(ctx context.Context, cfg *config.Config) (*debate.Engine, func(), error) {
	reg := cfg.Registry()
	rtr := router.New(router.Config{
		Registry:        reg,
		DefaultMode:     cfg.Routing.DefaultMode,
		Overrides:       cfg.Routing.Overrides,
		Keys:            cfg.Keys(),
		SiteURL:         cfg.Providers.OpenRouter.SiteURL,
		Timeout:         cfg.Timeout(),
		MaxOutputTokens: cfg.Defaults.MaxOutputTokens,
	})
	if err := rtr.Open(ctx); err != nil {
		return nil, nil, err
	}
	engine := debate.New(rtr, debate.WithPricing(pricing.NewCache(reg)))
	return engine, func() { rtr.Close() }, nil
}

// startDebugServer initialises the OTel SDK and serves the debug endpoints
// when addr is non-empty. The returned shutdown function flushes exporters;
// it is a no-op when the server is disabled.
func startDebugServer(ctx context.Context, addr string, cfg *config.Config) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: debate.Version,
	})
	if err != nil {
		return nil, err
	}

	h := health.New(
		health.Checker{Name: "transcripts", Check: func(context.Context) error {
			return os.MkdirAll(cfg.TranscriptDir, 0o755)
		}},
		health.Checker{Name: "providers", Check: func(context.Context) error {
			if len(cfg.Keys()) == 0 {
				return errors.New("no provider credentials configured")
			}
			return nil
		}},
	)
	go func() {
		if err := health.Serve(ctx, addr, h); err != nil {
			slog.Warn("debug server failed", "addr", addr, "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}, nil
}

// saveAndPrint persists the transcript and prints the outcome. A save
// failure is a warning, not an exit error — the debate itself completed.
func saveAndPrint(cfg *config.Config, t *types.DebateTranscript) int {
	path, err := transcript.NewStore(cfg.TranscriptDir).Save(t)
	if err != nil {
		slog.Warn("transcript save failed", "err", err)
	} else {
		slog.Info("transcript saved", "path", path)
	}

	if t.Synthesis == nil {
		fmt.Printf("\ndebate aborted after %d round(s); partial transcript %s\n", len(t.Rounds), t.ShortID())
		return 0
	}
	fmt.Printf("\n━━ synthesis [%s] ━━\n", t.Synthesis.ModelAlias)
	if t.Synthesis.Error != "" {
		fmt.Printf("error: %s\n", t.Synthesis.Error)
	} else {
		fmt.Println(t.Synthesis.Content)
	}
	printScore(t)
	fmt.Printf("\ntranscript %s\n", t.ShortID())
	return 0
}

// printScore prints the judge score when one was recorded.
func printScore(t *types.DebateTranscript) {
	scores, ok := t.Metadata[types.MetaScores].(map[string]any)
	if !ok {
		return
	}
	score, ok := scores["synthesis_score"].(map[string]any)
	if !ok {
		return
	}
	fmt.Printf("\nscore: accuracy=%v completeness=%v overall=%v\n",
		score["accuracy"], score["completeness"], score["overall"])
	if expl, ok := score["explanation"].(string); ok && expl != "" {
		fmt.Printf("judge: %s\n", expl)
	}
}

// printRoundProgress is the CLI's progress hook.
func printRoundProgress(round types.DebateRound) {
	okCount := 0
	for i := range round.Responses {
		if round.Responses[i].Succeeded() {
			okCount++
		}
	}
	if round.RoundNumber == types.SynthesisRound {
		return
	}
	fmt.Fprintf(os.Stderr, "round %d (%s): %d/%d responses ok\n",
		round.RoundNumber, round.RoundType, okCount, len(round.Responses))
}

// ── helpers ───────────────────────────────────────────────────────────────────

func setupLogger(level config.LogLevel) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	})))
}

// splitList splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseContext parses "alias=text;alias2=text2" into a context map.
func parseContext(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		alias, text, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("context entry %q is not alias=text", pair)
		}
		out[strings.TrimSpace(alias)] = strings.TrimSpace(text)
	}
	if len(out) == 0 {
		return nil, errors.New("context flag contained no alias=text pairs")
	}
	return out, nil
}
