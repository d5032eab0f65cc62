package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"screen-capture-stage/src/logutil"
)

// Tool is an OS-level interactive screenshot program.
type Tool struct {
	Name string
	Args func(output string) []string
}

// Runner executes a tool and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// ToolsFor lists the interactive tools tried on goos, in preference order.
func ToolsFor(goos string) []Tool {
	switch goos {
	case "darwin":
		return []Tool{
			{Name: "screencapture", Args: func(out string) []string { return []string{"-i", "-x", out} }},
		}
	case "linux", "freebsd", "openbsd", "netbsd":
		return []Tool{
			{Name: "gnome-screenshot", Args: func(out string) []string { return []string{"-a", "-f", out} }},
			{Name: "spectacle", Args: func(out string) []string { return []string{"-r", "-b", "-n", "-o", out} }},
			{Name: "scrot", Args: func(out string) []string { return []string{"-s", "-o", out} }},
		}
	default:
		return nil
	}
}

// NativeInteractiveCapture delegates region picking to the OS tool.
type NativeInteractiveCapture struct {
	Tools    []Tool
	Runner   Runner
	LookPath func(string) (string, error)
	TempDir  string
}

// NewNativeInteractive builds the native backend for goos.
func NewNativeInteractive(goos, tempDir string) *NativeInteractiveCapture {
	return &NativeInteractiveCapture{
		Tools:    ToolsFor(goos),
		Runner:   execRunner{},
		LookPath: exec.LookPath,
		TempDir:  tempDir,
	}
}

func (n *NativeInteractiveCapture) Name() string { return "native" }

func (n *NativeInteractiveCapture) resolveTool() (Tool, bool) {
	lookPath := n.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, t := range n.Tools {
		if _, err := lookPath(t.Name); err == nil {
			return t, true
		}
	}
	return Tool{}, false
}

// TakeInteractive runs the tool and returns the path of the file it wrote.
// A tool that exits without writing a file was dismissed by the user.
func (n *NativeInteractiveCapture) TakeInteractive(ctx context.Context) (string, error) {
	log := logutil.WithComponent("native-capture")

	tool, ok := n.resolveTool()
	if !ok {
		return "", &CaptureError{Backend: n.Name(), Op: "resolve tool", Err: ErrToolUnavailable}
	}

	dir := n.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	out := filepath.Join(dir, fmt.Sprintf("capture-%s.png", uuid.NewString()))

	runner := n.Runner
	if runner == nil {
		runner = execRunner{}
	}
	log.Debug().Str("tool", tool.Name).Str("output", out).Msg("running interactive capture tool")
	runErr := runner.Run(ctx, tool.Name, tool.Args(out)...)
	if err := ctx.Err(); err != nil {
		_ = n.Cleanup(out)
		return "", err
	}

	st, statErr := os.Stat(out)
	if statErr != nil || st.Size() == 0 {
		if runErr != nil {
			log.Debug().Err(runErr).Str("tool", tool.Name).Msg("tool exited without output")
		}
		_ = n.Cleanup(out)
		return "", ErrCaptureCancelled
	}
	if runErr != nil {
		log.Warn().Err(runErr).Str("tool", tool.Name).Msg("tool reported an error but produced output")
	}
	return out, nil
}

// ReadImage decodes the tool output into a displayable image.
func (n *NativeInteractiveCapture) ReadImage(path string) (DisplayImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return DisplayImage{}, &CaptureError{Backend: n.Name(), Op: "read", Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return DisplayImage{}, &CaptureError{Backend: n.Name(), Op: "decode", Err: err}
	}
	di, err := NewDisplayImage(img)
	if err != nil {
		return DisplayImage{}, &CaptureError{Backend: n.Name(), Op: "encode", Err: err}
	}
	return di, nil
}

// Cleanup deletes the temporary file. A missing file is not an error.
func (n *NativeInteractiveCapture) Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Capture runs the whole native sequence: take, read, clean up.
func (n *NativeInteractiveCapture) Capture(ctx context.Context) (Capture, error) {
	path, err := n.TakeInteractive(ctx)
	if err != nil {
		return Capture{}, err
	}

	var result *multierror.Error
	img, readErr := n.ReadImage(path)
	if readErr != nil {
		result = multierror.Append(result, readErr)
	}
	if err := n.Cleanup(path); err != nil {
		result = multierror.Append(result, &CaptureError{Backend: n.Name(), Op: "cleanup", Err: err})
	}
	if readErr != nil {
		return Capture{}, result.ErrorOrNil()
	}
	if err := result.ErrorOrNil(); err != nil {
		logutil.WithComponent("native-capture").Warn().Err(err).Msg("temporary capture file left behind")
	}

	return Capture{
		Source: Source{
			ID:        "native:" + filepath.Base(path),
			Name:      "Selection",
			Thumbnail: img,
		},
		Interactive: true,
		ScaleFactor: 1,
		Logical:     img.NaturalSize(),
	}, nil
}
