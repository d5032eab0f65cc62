package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/singleinstance"
)

const (
	commandCapture = singleinstance.CommandCapture
	commandShow    = singleinstance.CommandShow
)

// ErrNoResident is returned when no resident instance answered.
var ErrNoResident = errors.New("no resident instance is running")

// newClient is replaced in tests.
var newClient = singleinstance.NewClient

func newDelegateCmd(opts *cliOptions, use, short string, command singleinstance.Command) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Port range overrides come from the env file.
			if _, err := config.LoadWithOptions(opts.loadOptions()); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return delegate(ctx, cmd.OutOrStdout(), newClient(), command)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to wait for the resident")
	return cmd
}

func delegate(ctx context.Context, w io.Writer, client singleinstance.Client, command singleinstance.Command) error {
	delegated, text, err := client.TryCommand(ctx, command)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	if !delegated {
		return ErrNoResident
	}
	if text != "" {
		fmt.Fprintln(w, text)
	}
	return nil
}
