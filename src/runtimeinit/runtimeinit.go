// Package runtimeinit performs the startup sequence shared by the resident
// app and the CLI: configuration, logging, analysis client and clipboard.
package runtimeinit

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"screen-capture-stage/src/clipboard"
	"screen-capture-stage/src/config"
	"screen-capture-stage/src/eventloop"
	"screen-capture-stage/src/llm"
	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/screenshot"
)

const pingTimeout = 10 * time.Second

type Options struct {
	LoadOptions config.LoadOptions
	// LogWriter, when set, replaces file logging (CLI verbose mode).
	LogWriter io.Writer
	// RequireLLM fails bootstrap without a working analysis client.
	RequireLLM bool
	// Ping checks the analysis backend before returning.
	Ping bool
	// SkipClipboard leaves Runtime.Clipboard nil.
	SkipClipboard bool
}

// Runtime is what Bootstrap produced. LLM and Clipboard are nil when
// unavailable and not required.
type Runtime struct {
	Config    *config.Config
	LLM       *llm.Client
	Clipboard clipboard.Writer
}

func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.LogWriter != nil {
		logutil.SetupWriter(opts.LogWriter, cfg.LogLevel)
	} else {
		logutil.Setup(cfg.EnableFileLogging, cfg.LogLevel)
	}
	log := logutil.WithComponent("runtimeinit")
	log.Info().Str("env", cfg.EnvPath).Str("model", cfg.Model).Str("api_key", logutil.RedactKey(cfg.APIKey)).Msg("configuration loaded")

	rt := &Runtime{Config: cfg}

	switch {
	case cfg.APIKey == "":
		if opts.RequireLLM {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required. Checked key file %s and OPENROUTER_API_KEY env var", cfg.APIKeyPath)
		}
		log.Warn().Msg("no API key, analysis and translation disabled")
	default:
		client := llm.New(llm.Config{APIKey: cfg.APIKey, Model: cfg.Model, Providers: cfg.Providers})
		if opts.Ping {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := client.Ping(pctx)
			cancel()
			if err != nil {
				if opts.RequireLLM {
					return nil, fmt.Errorf("startup check failed: %w", err)
				}
				log.Warn().Err(err).Msg("analysis backend unreachable, continuing")
			} else {
				log.Info().Msg("LLM ping succeeded")
			}
		}
		rt.LLM = client
	}

	if !opts.SkipClipboard {
		if err := clipboard.Init(); err != nil {
			log.Warn().Err(err).Msg("clipboard unavailable, copy disabled")
		} else {
			rt.Clipboard = clipboard.System{}
		}
	}
	return rt, nil
}

// LoopSettings maps configuration onto the capture flow's runtime settings.
func LoopSettings(cfg *config.Config) eventloop.Settings {
	return eventloop.Settings{
		ImageReadyTimeout: time.Duration(cfg.ImageReadyTimeoutSec) * time.Second,
		CopyAckDelay:      time.Duration(cfg.CopyAckMs) * time.Millisecond,
		AnalysisDeadline:  time.Duration(cfg.AnalysisDeadlineSec) * time.Second,
		Prompt:            cfg.Prompt,
		SourceLang:        cfg.SourceLang,
		TargetLang:        cfg.TargetLang,
	}
}

// HideSettle is the registry's hide settle delay.
func HideSettle(cfg *config.Config) time.Duration {
	return time.Duration(cfg.HideSettleMs) * time.Millisecond
}

// Backend picks the capture backend for this platform once.
func Backend(cfg *config.Config) screenshot.Backend {
	return screenshot.ForPlatform(runtime.GOOS, screenshot.Options{
		Thumbnail: screenshot.ThumbnailOptions{
			UsePhysicalResolution: cfg.UsePhysicalResolution,
			MaxDimension:          cfg.MaxThumbnailDimension,
		},
	})
}
