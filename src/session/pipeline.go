package session

import (
	"context"
	"errors"
	"time"
)

// DefaultDeadline bounds one analysis round trip.
const DefaultDeadline = 60 * time.Second

// Result is what the analysis backend produced for a crop.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AnalyzeFunc sends a PNG crop for analysis.
type AnalyzeFunc func(ctx context.Context, png []byte) (Result, error)

// ResultTarget receives the outcome of Execute.
type ResultTarget interface {
	OnSuccess(res Result) error
	OnFailure(err error) error
}

// Options configures Execute.
type Options struct {
	Deadline time.Duration
	Analyze  AnalyzeFunc
	Target   ResultTarget
}

// Execute crops the session selection, runs the analysis under a deadline
// and hands the outcome to the target.
func Execute(ctx context.Context, s *CaptureSession, opts Options) (Result, error) {
	if s == nil {
		return Result{}, errors.New("session is required")
	}
	if opts.Analyze == nil {
		return Result{}, errors.New("Analyze is required")
	}
	if opts.Target == nil {
		return Result{}, errors.New("Target is required")
	}

	png, err := s.CropPNG()
	if err != nil {
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	res, err := opts.Analyze(jobCtx, png)
	if err != nil {
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}

	if err := opts.Target.OnSuccess(res); err != nil {
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}
	return res, nil
}
