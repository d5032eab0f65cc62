package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/logutil"
)

type cliOptions struct {
	jsonOutput bool
	verbose    bool
	envPath    string
	apiKeyPath string
}

func (o cliOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{EnvPath: o.envPath, APIKeyPathOverride: o.apiKeyPath}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"capture-tool"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "capture-tool",
		Short:         "Screen capture utilities and resident control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Diagnostics go to stderr so stdout stays machine readable.
			if opts.verbose {
				logutil.SetupWriter(cmd.ErrOrStderr(), "debug")
			} else {
				logutil.SetupWriter(io.Discard, "error")
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	flags.StringVar(&opts.envPath, "env-file", "", "Path to .env file (skips discovery)")
	flags.StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newCropCmd(opts),
		newSourcesCmd(opts),
		newDelegateCmd(opts, "capture", "Start a capture in the resident instance", commandCapture),
		newDelegateCmd(opts, "show", "Show the resident instance's main window", commandShow),
	)
	return cmd
}

var legacyFlags = []string{"file", "json", "verbose", "api-key-path", "env-file", "prompt"}

// normalizeLegacyArgs maps single-dash long flags to their double-dash form.
// A bare "-file" invocation predates subcommands and means analyze.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	legacyAnalyze := false
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range legacyFlags {
			single := "-" + name
			switch {
			case arg == single:
				normalized[i] = "-" + single
			case strings.HasPrefix(arg, single+"="):
				normalized[i] = "-" + arg
			default:
				continue
			}
			if name == "file" {
				legacyAnalyze = true
			}
		}
	}

	if legacyAnalyze && len(normalized) > 1 && strings.HasPrefix(normalized[1], "-") {
		out := make([]string, 0, len(normalized)+1)
		out = append(out, normalized[0], "analyze")
		return append(out, normalized[1:]...)
	}
	return normalized
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func verbosef(cmd *cobra.Command, opts *cliOptions, format string, args ...any) {
	if opts.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[verbose] "+format+"\n", args...)
	}
}
