package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/singleinstance"
)

const delegateTimeout = 3 * time.Second

type mainOptions struct {
	capture    bool
	show       bool
	envPath    string
	apiKeyPath string
}

func (o mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{EnvPath: o.envPath, APIKeyPathOverride: o.apiKeyPath}
}

// command is the request forwarded to a running resident.
func (o mainOptions) command() singleinstance.Command {
	if o.capture {
		return singleinstance.CommandCapture
	}
	return singleinstance.CommandShow
}

func main() {
	if err := runWithArgs(normalizeLegacyArgs(os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"screen-capture-stage"}
	}
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-capture-stage",
		Short:         "Resident screenshot capture with selection toolbar",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context(), *opts)
		},
	}

	cmd.Flags().BoolVar(&opts.capture, "capture", false, "Start a capture (delegated to the resident instance when one runs)")
	cmd.Flags().BoolVar(&opts.show, "show", false, "Show the main window of the resident instance")
	cmd.Flags().StringVar(&opts.envPath, "env-file", "", "Path to .env file (skips discovery)")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.MarkFlagsMutuallyExclusive("capture", "show")

	return cmd
}

func runMain(ctx context.Context, opts mainOptions) error {
	// Port range overrides live in the env file and must apply before the scan.
	_, _ = config.LoadWithOptions(opts.loadOptions())

	started := false
	handleDelegation(ctx, singleinstance.NewClient(), opts.command(), func() {
		started = true
	})
	if !started {
		return nil
	}
	return runResident(ctx, opts)
}

// handleDelegation forwards cmd to a resident instance and calls fallback
// when none answered. A resident that answered with an error still owns the
// port, so no second resident is started.
func handleDelegation(ctx context.Context, client singleinstance.Client, cmd singleinstance.Command, fallback func()) {
	log := logutil.WithComponent("main")
	dctx, cancel := context.WithTimeout(ctx, delegateTimeout)
	defer cancel()

	delegated, text, err := client.TryCommand(dctx, cmd)
	switch {
	case delegated && err != nil:
		fmt.Fprintf(os.Stderr, "resident rejected %s: %v\n", cmd, err)
	case delegated:
		log.Info().Str("command", string(cmd)).Str("reply", text).Msg("delegated to resident")
	case err != nil:
		log.Warn().Err(err).Msg("delegation failed, starting resident")
		fallback()
	default:
		log.Info().Msg("no resident detected, starting resident")
		fallback()
	}
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		for _, name := range []string{"capture", "show", "env-file", "api-key-path"} {
			single := "-" + name
			switch {
			case normalized[i] == single:
				normalized[i] = "-" + single
			case strings.HasPrefix(normalized[i], single+"="):
				normalized[i] = "-" + normalized[i]
			}
		}
	}

	return normalized
}
