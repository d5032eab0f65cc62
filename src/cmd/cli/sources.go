package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/screenshot"
)

type sourceLister interface {
	Sources(ctx context.Context) ([]screenshot.Source, error)
}

// newSourceLister is replaced in tests.
var newSourceLister = func(opts screenshot.ThumbnailOptions) sourceLister {
	return screenshot.NewCompositor(nil, opts)
}

// SourceOutput describes one capturable screen.
type SourceOutput struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func newSourcesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List capturable screens at thumbnail resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithOptions(opts.loadOptions())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			lister := newSourceLister(screenshot.ThumbnailOptions{
				UsePhysicalResolution: cfg.UsePhysicalResolution,
				MaxDimension:          cfg.MaxThumbnailDimension,
			})
			return listSources(cmd.Context(), cmd.OutOrStdout(), lister, opts.jsonOutput)
		},
	}
}

func listSources(ctx context.Context, w io.Writer, lister sourceLister, jsonOutput bool) error {
	sources, err := lister.Sources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	out := make([]SourceOutput, 0, len(sources))
	for _, s := range sources {
		out = append(out, SourceOutput{ID: s.ID, Name: s.Name, Width: s.Thumbnail.Width, Height: s.Thumbnail.Height})
	}
	if jsonOutput {
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE")
	for _, s := range out {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\n", s.ID, s.Name, s.Width, s.Height)
	}
	return tw.Flush()
}
