package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/hashicorp/go-multierror"

	"screen-capture-stage/src/config"
	"screen-capture-stage/src/eventloop"
	"screen-capture-stage/src/gui"
	"screen-capture-stage/src/hotkey"
	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/notification"
	"screen-capture-stage/src/prewarm"
	"screen-capture-stage/src/process"
	"screen-capture-stage/src/router"
	"screen-capture-stage/src/runtimeinit"
	"screen-capture-stage/src/singleinstance"
	"screen-capture-stage/src/window"
	"screen-capture-stage/src/worker"
)

const (
	appID = "io.github.screen-capture-stage"

	hotkeyCapture = "capture"
	hotkeyResult  = "result"
)

// binder is the part of the hotkey manager rebinding needs.
type binder interface {
	Bind(name, combo string, callback func()) error
	Unbind(name string)
}

// hotkeyActions are the callbacks behind the two global shortcuts.
type hotkeyActions struct {
	capture func()
	result  func()
}

// bindHotkeys (re)binds both shortcuts from cfg. A bad combo leaves that
// shortcut unbound and is reported; the other one is still bound.
func bindHotkeys(b binder, cfg *config.Config, actions hotkeyActions) error {
	var result *multierror.Error
	for _, hk := range []struct {
		name  string
		combo string
		cb    func()
	}{
		{hotkeyCapture, cfg.ScreenshotHotkey, actions.capture},
		{hotkeyResult, cfg.ResultHotkey, actions.result},
	} {
		b.Unbind(hk.name)
		if err := b.Bind(hk.name, hk.combo, hk.cb); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s hotkey %q: %w", hk.name, hk.combo, err))
		}
	}
	return result.ErrorOrNil()
}

func hotkeySummary(cfg *config.Config) string {
	return fmt.Sprintf("Capture: %s\nShow result: %s", cfg.ScreenshotHotkey, cfg.ResultHotkey)
}

// runResident builds the resident application and blocks in the fyne main
// loop until the user quits or a signal arrives.
func runResident(parent context.Context, opts mainOptions) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions: opts.loadOptions(),
		Ping:        true,
	})
	if err != nil {
		return err
	}
	cfg := rt.Config
	log := logutil.WithComponent("main")
	enableDPIAwareness()

	a := app.NewWithID(appID)
	a.SetIcon(gui.Icon)

	r := router.New()
	inbox, err := r.Register(messages.EndpointMain, 64)
	if err != nil {
		return fmt.Errorf("register main endpoint: %w", err)
	}

	ui := gui.New(a, r)
	if err := ui.Start(ctx); err != nil {
		return fmt.Errorf("start ui: %w", err)
	}

	reg := window.NewRegistry(
		window.WithSettleDelay(runtimeinit.HideSettle(cfg)),
		window.WithSender(r),
	)
	ui.SetHider(reg)
	ui.SetHotkeys(hotkeySummary(cfg))

	pw := prewarm.New(func(ctx context.Context) error {
		_, err := reg.Ensure(ctx, window.ScreenshotStage, ui.StageFactory())
		return err
	})
	// Started first so the stage is usually ready by the first hotkey press.
	pw.Startup(ctx)

	srv := singleinstance.NewServer()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("another instance owns the single-instance port: %w", err)
	}

	loopOpts := eventloop.Options{
		Backend: runtimeinit.Backend(cfg),
		Windows: reg,
		Factories: eventloop.Factories{
			Main:    ui.MainFactory(),
			Stage:   ui.StageFactory(),
			Preview: ui.PreviewFactory(),
			Result:  ui.ResultFactory(),
			Sticker: ui.StickerFactory(),
		},
		Prewarm:   pw,
		Clipboard: rt.Clipboard,
		Notifier:  notification.Multi{gui.NewNotifier(a), notification.NewLog()},
		Pool:      worker.New(1),
		Inbox:     inbox,
		Server:    srv,
		Settings:  runtimeinit.LoopSettings(cfg),
	}
	if rt.LLM != nil {
		loopOpts.Analyzer = rt.LLM
		loopOpts.Translator = rt.LLM
	}
	loop := eventloop.New(loopOpts)

	reg.OnDestroyed(func(role window.Role) {
		if role == window.ScreenshotStage {
			pw.Reset()
			loop.StageLost()
		}
	})

	showMain := func() {
		if err := r.SendToMain(messages.EndpointMainWindow, messages.ShowMain{}); err != nil {
			log.Warn().Err(err).Msg("show main window")
		}
	}
	actions := hotkeyActions{
		capture: func() { loop.Trigger("hotkey") },
		result: func() {
			if err := reg.Show(window.ResultViewer); err != nil {
				showMain()
			}
		},
	}

	hk := hotkey.NewManager()
	if err := bindHotkeys(hk, cfg, actions); err != nil {
		log.Warn().Err(err).Msg("hotkeys partly unbound")
	}
	if err := hk.Start(); err != nil {
		log.Warn().Err(err).Msg("global hotkeys unavailable")
	}

	if !ui.InstallTray(gui.TrayActions{
		Capture: func() { loop.Trigger("tray") },
		Show:    showMain,
	}) {
		showMain()
	}

	procs := process.NewManager(process.OnFatal(func(string, error) {
		fyne.Do(a.Quit)
	}))
	_ = procs.Register("eventloop", true, loop.Run)
	_ = procs.Register("config-watch", false, func(ctx context.Context) error {
		err := config.Watch(ctx, opts.loadOptions(), func(next *config.Config) {
			loop.UpdateSettings(runtimeinit.LoopSettings(next))
			if err := bindHotkeys(hk, next, actions); err != nil {
				log.Warn().Err(err).Msg("hotkeys partly unbound after reload")
			}
			ui.SetHotkeys(hotkeySummary(next))
		})
		if errors.Is(err, config.ErrNoEnvFile) {
			log.Info().Msg("no env file, live reload disabled")
			return nil
		}
		return err
	})
	_ = procs.Register("signals", false, func(ctx context.Context) error {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			log.Info().Msg("signal received, quitting")
			fyne.Do(a.Quit)
		case <-ctx.Done():
		}
		return nil
	})
	if err := procs.StartAll(ctx); err != nil {
		return err
	}

	if opts.capture {
		loop.Trigger("startup")
	}

	log.Info().Str("capture", cfg.ScreenshotHotkey).Str("result", cfg.ResultHotkey).Int("port", srv.Port()).Msg("resident started")
	a.Run()

	var result *multierror.Error
	if err := procs.StopAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := hk.Stop(); err != nil && !errors.Is(err, hotkey.ErrNotRunning) {
		result = multierror.Append(result, err)
	}
	if err := srv.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := reg.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	r.Shutdown()
	log.Info().Msg("resident stopped")
	return result.ErrorOrNil()
}
