package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/llm"
	"screen-capture-stage/src/logutil"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type analyzer interface {
	Analyze(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error)
}

// newAnalyzer is replaced in tests.
var newAnalyzer = func(cfg *config.Config) analyzer {
	return llm.New(llm.Config{APIKey: cfg.APIKey, Model: cfg.Model, Providers: cfg.Providers})
}

type analyzeOptions struct {
	filePath string
	prompt   string
	deadline time.Duration
}

func newAnalyzeCmd(opts *cliOptions) *cobra.Command {
	aopts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Send a PNG to the analysis model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, *aopts)
		},
	}
	cmd.Flags().StringVar(&aopts.filePath, "file", "", "Path to PNG file (use '-' for stdin)")
	cmd.Flags().StringVar(&aopts.prompt, "prompt", "", "Instruction sent with the image (defaults to PROMPT)")
	cmd.Flags().DurationVar(&aopts.deadline, "deadline", 0, "Overall timeout (defaults to ANALYSIS_DEADLINE_SEC)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *cliOptions, aopts analyzeOptions) error {
	cfg, err := config.LoadWithOptions(opts.loadOptions())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	verbosef(cmd, opts, "Config loaded: Model=%s", cfg.Model)
	verbosef(cmd, opts, "Effective API key path: %s", cfg.APIKeyPath)
	if cfg.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY not found. Checked key file %s and OPENROUTER_API_KEY env var", cfg.APIKeyPath)
	}
	verbosef(cmd, opts, "API key: %s", logutil.RedactKey(cfg.APIKey))

	data, err := readImage(cmd.InOrStdin(), aopts.filePath)
	if err != nil {
		return err
	}
	verbosef(cmd, opts, "Read %d bytes", len(data))
	if err := validatePNG(data); err != nil {
		return err
	}

	prompt := aopts.prompt
	if prompt == "" {
		prompt = cfg.Prompt
	}
	deadline := aopts.deadline
	if deadline <= 0 {
		deadline = time.Duration(cfg.AnalysisDeadlineSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), deadline)
	defer cancel()

	return analyzeImage(ctx, cmd.OutOrStdout(), newAnalyzer(cfg), data, prompt, aopts.filePath, opts.jsonOutput)
}

func readImage(stdin io.Reader, filePath string) ([]byte, error) {
	var data []byte
	var err error
	if filePath == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
		}
	}

	if len(data) == 0 {
		return nil, errors.New("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	return data, nil
}

func validatePNG(data []byte) error {
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		return errors.New("input is not a valid PNG file (invalid magic number)")
	}
	return nil
}

type AnalysisOutput struct {
	Content          string  `json:"content"`
	Source           string  `json:"source"`
	Timestamp        string  `json:"timestamp"`
	Duration         float64 `json:"duration_seconds"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
}

func analyzeImage(ctx context.Context, w io.Writer, a analyzer, data []byte, prompt, source string, jsonOutput bool) error {
	start := time.Now()
	result, err := a.Analyze(ctx, llm.AnalysisRequest{ImageData: data, Prompt: prompt})
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if !jsonOutput {
		_, err := fmt.Fprint(w, result.Content)
		return err
	}
	return writeJSON(w, AnalysisOutput{
		Content:          result.Content,
		Source:           source,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Duration:         elapsed.Seconds(),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	})
}
