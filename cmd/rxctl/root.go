package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/bootstrap"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/pipeline"
	"github.com/spf13/cobra"
)

// Version is injected at build time.
var Version = "dev"

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Output     string
	Timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rxctl",
		Short:         "Prescription analyzer command line tools",
		Long:          "rxctl runs the prescription recognition and matching pipeline locally,\nseeds the medicine catalogue into MongoDB and inspects handwriting models.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (same keys as the environment)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVarP(&opts.Output, "output", "o", "text", "output format (text, json)")
	pf.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "overall operation timeout")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newAnalyzeTextCmd(opts),
		newSeedCatalogueCmd(opts),
		newInspectModelCmd(opts),
	)
	return cmd
}

func loadConfig(opts *rootOptions) error {
	if opts.Output != "text" && opts.Output != "json" {
		return fmt.Errorf("invalid output format: %s (must be text or json)", opts.Output)
	}
	if opts.ConfigPath != "" {
		if err := os.Setenv("CONFIG_FILE", opts.ConfigPath); err != nil {
			return err
		}
	}
	configs.LoadConfig()
	if opts.LogLevel != "" {
		configs.LOG_LEVEL = opts.LogLevel
	}
	return nil
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

// runAnalysis builds the analyzer, runs fn and prints its result.
func runAnalysis(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *pipeline.Analyzer) pipeline.Result) error {
	app, err := bootstrap.New()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := opts.context(cmd)
	defer cancel()

	return printResult(cmd.OutOrStdout(), opts.Output, fn(ctx, app.Analyzer))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, format string, result pipeline.Result) error {
	if format == "json" {
		return printJSON(w, result)
	}

	fmt.Fprintf(w, "%s\n", result.Message)
	if result.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", result.Explanation)
	}
	if len(result.Medicines) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\n%-30s %-14s %6s  %s\n", "MEDICINE", "MATCH", "SCORE", "DETECTED AS")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, m := range result.Medicines {
		fmt.Fprintf(w, "%-30s %-14s %6d  %s\n", truncate(m.Name, 30), m.MatchType, m.MatchScore, m.DetectedAs)
	}
	if result.Confidence != nil {
		fmt.Fprintf(w, "\nConfidence: %.1f (%s), review required: %v\n",
			result.Confidence.Score, result.Confidence.Level, result.Confidence.RequiresReview)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
