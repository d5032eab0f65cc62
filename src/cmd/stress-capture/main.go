package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/eventloop"
	"screen-capture-stage/src/singleinstance"
)

type stressOptions struct {
	n        int
	mode     string
	deadline time.Duration
}

type tally struct {
	ok, busy, err int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-capture",
		Short:         "Stress test capture delegation to the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := parseMode(opts.mode)
			if err != nil {
				return err
			}
			t := stress(cmd.Context(), singleinstance.NewClient, command, *opts)
			report(cmd.OutOrStdout(), opts.n, t)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "capture", "capture|show: command every client sends")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")

	return cmd
}

func parseMode(mode string) (singleinstance.Command, error) {
	cmd, ok := singleinstance.ParseCommand(mode)
	if !ok {
		return "", fmt.Errorf("unknown mode %q (want capture or show)", mode)
	}
	return cmd, nil
}

// stress fires opts.n concurrent clients. The resident accepts one capture
// and rejects the rest as busy.
func stress(ctx context.Context, newClient func() singleinstance.Client, command singleinstance.Command, opts stressOptions) tally {
	var wg sync.WaitGroup
	var t tally
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()
			delegated, _, err := newClient().TryCommand(cctx, command)
			switch {
			case err != nil && strings.Contains(err.Error(), eventloop.ErrBusy.Error()):
				atomic.AddInt32(&t.busy, 1)
			case err != nil, !delegated:
				atomic.AddInt32(&t.err, 1)
			default:
				atomic.AddInt32(&t.ok, 1)
			}
		}()
	}
	wg.Wait()
	return t
}

func report(w io.Writer, n int, t tally) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d err=%d\n", n, t.ok, t.busy, t.err)
}
