package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/pipeline"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a prescription image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("image not readable: %w", err)
			}
			return runAnalysis(cmd, opts, func(ctx context.Context, a *pipeline.Analyzer) pipeline.Result {
				return a.Analyze(ctx, path)
			})
		},
	}
}

func newAnalyzeTextCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "analyze-text [text]",
		Short: "Analyze prescription text (argument, --file, or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			return runAnalysis(cmd, opts, func(ctx context.Context, a *pipeline.Analyzer) pipeline.Result {
				return a.AnalyzeText(ctx, text)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the text from a file")
	return cmd
}

func readText(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("no text given: pass it as an argument, with --file, or on stdin")
		}
		return string(data), nil
	}
}
