// Package eventloop runs the capture flow: hotkey, hide, capture, present,
// select and dispatch. One goroutine owns all flow state; asynchronous steps
// post their results back tagged with the generation that started them.
package eventloop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"screen-capture-stage/src/clipboard"
	"screen-capture-stage/src/llm"
	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/notification"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/session"
	"screen-capture-stage/src/singleinstance"
	"screen-capture-stage/src/toolbar"
	"screen-capture-stage/src/window"
	"screen-capture-stage/src/worker"
)

// ErrBusy answers a trigger that arrives while a capture is running.
var ErrBusy = errors.New("capture already in progress")

const (
	DefaultImageReadyTimeout = 5 * time.Second
	DefaultCopyAckDelay      = 800 * time.Millisecond
	DefaultAnalysisDeadline  = 60 * time.Second
)

// Windows is the part of the window registry the flow drives.
type Windows interface {
	Ensure(ctx context.Context, role window.Role, factory window.Factory) (window.Info, error)
	Replace(ctx context.Context, role window.Role, factory window.Factory) (window.Info, error)
	HideAll(ctx context.Context, excluding ...window.Role) ([]window.Role, error)
	Get(role window.Role) (window.Info, bool)
	Show(role window.Role) error
	Hide(role window.Role) error
	Send(role window.Role, msg messages.Message) error
}

// Factories build each window role on demand.
type Factories struct {
	Main    window.Factory
	Stage   window.Factory
	Preview window.Factory
	Result  window.Factory
	Sticker window.Factory
}

// Prewarmer gates showing the stage on its first-frame acknowledgment.
type Prewarmer interface {
	Await(ctx context.Context) error
	Acknowledge()
}

type Analyzer interface {
	Analyze(ctx context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error)
}

type Translator interface {
	Translate(ctx context.Context, req llm.TranslationRequest) (llm.TranslationResult, error)
}

// Settings are the values that can change while running.
type Settings struct {
	ImageReadyTimeout time.Duration
	CopyAckDelay      time.Duration
	AnalysisDeadline  time.Duration
	Prompt            string
	SourceLang        string
	TargetLang        string
}

func (s Settings) withDefaults() Settings {
	if s.ImageReadyTimeout <= 0 {
		s.ImageReadyTimeout = DefaultImageReadyTimeout
	}
	if s.CopyAckDelay < 0 {
		s.CopyAckDelay = 0
	}
	if s.AnalysisDeadline <= 0 {
		s.AnalysisDeadline = DefaultAnalysisDeadline
	}
	return s
}

// Options wires the loop to its collaborators.
type Options struct {
	Backend    screenshot.Backend
	Windows    Windows
	Factories  Factories
	Prewarm    Prewarmer
	Analyzer   Analyzer
	Translator Translator
	Clipboard  clipboard.Writer
	Notifier   notification.Notifier
	Pool       *worker.Pool
	// Inbox is the router endpoint messages.EndpointMain.
	Inbox <-chan messages.MessageEnvelope
	// Server is optional; when set, delegated CAPTURE/SHOW commands are served.
	Server   singleinstance.Server
	Settings Settings
	// OnStateChange runs on the loop goroutine after every transition.
	OnStateChange func(from, to State)
}

// Loop is the single-threaded coordinator for the capture flow.
type Loop struct {
	opts     Options
	settings Settings
	log      *zerolog.Logger

	state   State
	gen     uint64
	sess    *session.CaptureSession
	ctrl    *toolbar.Controller
	hidden  []window.Role
	readyTo *time.Timer

	// orphan is the window left showing an error after the image-ready
	// timeout, until ESC dismisses it.
	orphan    window.Role
	hasOrphan bool

	triggers chan trigger
	events   chan event
	done     chan struct{}
}

type trigger struct {
	source string
	reply  func(error)
}

// event is an asynchronous result posted back to the loop.
type event interface{}

// New creates a loop. Run must be called to start it.
func New(opts Options) *Loop {
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLog()
	}
	return &Loop{
		opts:     opts,
		settings: opts.Settings.withDefaults(),
		log:      logutil.WithComponent("eventloop"),
		triggers: make(chan trigger, 4),
		events:   make(chan event, 32),
		done:     make(chan struct{}),
	}
}

// Trigger requests a capture. It never blocks; triggers beyond the small
// buffer are dropped, and the loop drops any that arrive while not idle.
func (l *Loop) Trigger(source string) {
	select {
	case l.triggers <- trigger{source: source}:
	default:
		l.log.Debug().Str("source", source).Msg("trigger buffer full, dropping")
	}
}

// UpdateSettings replaces the runtime settings.
func (l *Loop) UpdateSettings(s Settings) {
	l.post(settingsChanged{settings: s})
}

// StageLost tells the loop the stage window went away unexpectedly.
func (l *Loop) StageLost() {
	l.post(stageLost{})
}

// post delivers an event unless the loop has stopped.
func (l *Loop) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// Run processes triggers, content messages and async results until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l.opts.Pool != nil {
		defer l.opts.Pool.Close()
	}
	defer close(l.done)

	var reqCh chan singleinstance.Conn
	if l.opts.Server != nil {
		reqCh = make(chan singleinstance.Conn, 4)
		go func() {
			defer close(reqCh)
			for {
				conn, err := l.opts.Server.Next(ctx)
				if err != nil {
					return
				}
				select {
				case reqCh <- conn:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}
		}()
	}

	inbox := l.opts.Inbox
	for {
		select {
		case <-ctx.Done():
			l.stopReadyTimer()
			return ctx.Err()
		case t := <-l.triggers:
			l.handleTrigger(ctx, t)
		case env, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			l.handleMessage(ctx, env)
		case conn, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			l.handleConn(ctx, conn)
		case ev := <-l.events:
			l.handleEvent(ctx, ev)
		}
	}
}

func (l *Loop) setState(s State) {
	if s == l.state {
		return
	}
	from := l.state
	l.state = s
	l.log.Debug().Str("from", from.String()).Str("to", s.String()).Uint64("gen", l.gen).Msg("state")
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(from, s)
	}
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	switch conn.Request().Command {
	case singleinstance.CommandCapture:
		l.handleTrigger(ctx, trigger{source: "ipc", reply: func(err error) {
			if err != nil {
				_ = conn.RespondError(err.Error())
			} else {
				_ = conn.RespondSuccess("capture started")
			}
			_ = conn.Close()
		}})
	case singleinstance.CommandShow:
		err := l.showMain(ctx)
		if err != nil {
			_ = conn.RespondError(err.Error())
		} else {
			_ = conn.RespondSuccess("")
		}
		_ = conn.Close()
	default:
		_ = conn.RespondError("unknown command")
		_ = conn.Close()
	}
}

func (l *Loop) handleMessage(ctx context.Context, env messages.MessageEnvelope) {
	switch m := env.Message.(type) {
	case messages.StageReady:
		if l.opts.Prewarm != nil {
			l.opts.Prewarm.Acknowledge()
		}
	case messages.ScreenshotImageReady:
		l.onImageReady(ctx, m)
	case messages.SelectionChanged:
		l.onSelectionChanged(m)
	case messages.ToolbarAction:
		l.onToolbarAction(ctx, m)
	case messages.CancelCapture:
		l.onCancelCapture(ctx, m, env.From)
	case messages.TranslateRequest:
		l.onTranslateRequest(ctx, m)
	case messages.TriggerCapture:
		l.handleTrigger(ctx, trigger{source: env.From})
	case messages.ShowMain:
		if err := l.showMain(ctx); err != nil {
			l.log.Error().Err(err).Msg("show main window")
		}
	default:
		l.log.Debug().Str("type", env.Message.Type()).Str("from", env.From).Msg("unhandled message")
	}
}

func (l *Loop) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case hideDone:
		l.onHideDone(ctx, e)
	case captureDone:
		l.onCaptureDone(ctx, e)
	case presented:
		l.onPresented(ctx, e)
	case imageReadyTimeout:
		l.onImageReadyTimeout(e)
	case actionDone:
		l.onActionDone(e)
	case copyAckElapsed:
		l.onCopyAckElapsed(e)
	case translateDone:
		l.onTranslateDone(e)
	case settingsChanged:
		l.settings = e.settings.withDefaults()
		l.log.Info().Msg("settings updated")
	case stageLost:
		l.onStageLost()
	}
}

func (l *Loop) showMain(ctx context.Context) error {
	if l.opts.Factories.Main == nil {
		return errors.New("no main window factory")
	}
	if _, err := l.opts.Windows.Ensure(ctx, window.Main, l.opts.Factories.Main); err != nil {
		return err
	}
	return l.opts.Windows.Show(window.Main)
}
