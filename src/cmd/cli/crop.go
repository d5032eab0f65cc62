package main

import (
	"fmt"
	"image"
	"io"

	"github.com/spf13/cobra"

	"screen-capture-stage/src/geometry"
)

type cropOptions struct {
	start, end geometry.Point
	displayed  geometry.Size
	naturalW   int
	naturalH   int
}

// CropOutput is the crop calculation for one drag.
type CropOutput struct {
	Selection  geometry.Rect `json:"selection"`
	Actionable bool          `json:"actionable"`
	Crop       geometry.Crop `json:"crop"`
}

func newCropCmd(opts *cliOptions) *cobra.Command {
	copts := &cropOptions{}
	cmd := &cobra.Command{
		Use:   "crop",
		Short: "Compute the source-pixel crop for a drag over a rendered image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if copts.naturalW <= 0 || copts.naturalH <= 0 {
				return fmt.Errorf("natural size must be positive, got %dx%d", copts.naturalW, copts.naturalH)
			}
			if copts.displayed.Width <= 0 || copts.displayed.Height <= 0 {
				// An unscaled stage shows the image at its natural size.
				copts.displayed = geometry.Size{Width: float64(copts.naturalW), Height: float64(copts.naturalH)}
			}
			return writeCrop(cmd.OutOrStdout(), computeCrop(*copts), opts.jsonOutput)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&copts.start.X, "start-x", 0, "Drag start x in display pixels")
	f.Float64Var(&copts.start.Y, "start-y", 0, "Drag start y in display pixels")
	f.Float64Var(&copts.end.X, "end-x", 0, "Drag end x in display pixels")
	f.Float64Var(&copts.end.Y, "end-y", 0, "Drag end y in display pixels")
	f.Float64Var(&copts.displayed.Width, "displayed-width", 0, "Rendered image width (defaults to natural width)")
	f.Float64Var(&copts.displayed.Height, "displayed-height", 0, "Rendered image height (defaults to natural height)")
	f.IntVar(&copts.naturalW, "natural-width", 0, "Source bitmap width")
	f.IntVar(&copts.naturalH, "natural-height", 0, "Source bitmap height")
	_ = cmd.MarkFlagRequired("natural-width")
	_ = cmd.MarkFlagRequired("natural-height")
	return cmd
}

// computeCrop clamps both drag points to the rendered image before
// normalizing, the same way the stage does.
func computeCrop(o cropOptions) CropOutput {
	start := geometry.ClampPoint(o.start, o.displayed)
	end := geometry.ClampPoint(o.end, o.displayed)
	sel := geometry.NormalizeSelection(start, end)
	return CropOutput{
		Selection:  sel,
		Actionable: geometry.IsActionable(sel),
		Crop:       geometry.ComputeCrop(sel, o.displayed, image.Pt(o.naturalW, o.naturalH)),
	}
}

func writeCrop(w io.Writer, out CropOutput, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, out)
	}
	_, err := fmt.Fprintf(w, "selection %gx%g+%g+%g actionable=%t\ncrop %dx%d+%d+%d\n",
		out.Selection.Width, out.Selection.Height, out.Selection.X, out.Selection.Y, out.Actionable,
		out.Crop.Width, out.Crop.Height, out.Crop.X, out.Crop.Y)
	return err
}
