package eventloop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/llm"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/notification"
	"screen-capture-stage/src/router"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/window"
	"screen-capture-stage/src/worker"
)

const waitFor = 2 * time.Second

type fakeWindow struct {
	mu        sync.Mutex
	visible   bool
	destroyed bool
	onClosed  func()
}

func (w *fakeWindow) Show() {
	w.mu.Lock()
	w.visible = true
	w.mu.Unlock()
}

func (w *fakeWindow) Hide() {
	w.mu.Lock()
	w.visible = false
	w.mu.Unlock()
}

func (w *fakeWindow) OnClosed(fn func()) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *fakeWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *fakeWindow) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

func (w *fakeWindow) Destroy() error {
	w.mu.Lock()
	w.destroyed = true
	w.visible = false
	w.mu.Unlock()
	return nil
}

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	capture screenshot.Capture
	err     error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Capture(context.Context) (screenshot.Capture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.capture, b.err
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeClipboard struct {
	mu     sync.Mutex
	images [][]byte
	fail   int // number of writes to fail
	block  chan struct{}
}

func (c *fakeClipboard) WriteImage(data []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("clipboard locked")
	}
	c.images = append(c.images, data)
	return nil
}

func (c *fakeClipboard) WriteText(string) error { return nil }

func (c *fakeClipboard) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.images...)
}

type readyPrewarm struct{ acks int32 }

func (p *readyPrewarm) Await(context.Context) error { return nil }
func (p *readyPrewarm) Acknowledge()                { atomic.AddInt32(&p.acks, 1) }

type fakeAnalyzer struct{ content string }

func (a fakeAnalyzer) Analyze(_ context.Context, req llm.AnalysisRequest) (llm.AnalysisResult, error) {
	if len(req.ImageData) == 0 {
		return llm.AnalysisResult{}, errors.New("no image")
	}
	return llm.AnalysisResult{Content: a.content, Usage: llm.Usage{TotalTokens: 7}}, nil
}

type harness struct {
	t        *testing.T
	rt       *router.Router
	reg      *window.Registry
	loop     *Loop
	backend  *fakeBackend
	clip     *fakeClipboard
	prewarm  *readyPrewarm
	states   chan State
	winMu    sync.Mutex
	windows  map[window.Role]*fakeWindow
	builds   map[window.Role]*int32
	inboxes  map[window.Role]<-chan messages.MessageEnvelope
	notesMu  sync.Mutex
	notes    []string
	cancel   context.CancelFunc
	finished chan struct{}
}

func testCapture(t *testing.T, w, h int, interactive bool) screenshot.Capture {
	t.Helper()
	disp, err := screenshot.NewDisplayImage(image.NewNRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return screenshot.Capture{
		Source:      screenshot.Source{ID: "screen:0:0", Name: "Screen 1", Thumbnail: disp},
		Interactive: interactive,
		ScaleFactor: 1,
		Logical:     image.Pt(w, h),
	}
}

func newHarness(t *testing.T, opts func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		rt:       router.New(),
		backend:  &fakeBackend{capture: testCapture(t, 384, 216, false)},
		clip:     &fakeClipboard{},
		prewarm:  &readyPrewarm{},
		states:   make(chan State, 256),
		windows:  make(map[window.Role]*fakeWindow),
		builds:   make(map[window.Role]*int32),
		inboxes:  make(map[window.Role]<-chan messages.MessageEnvelope),
		finished: make(chan struct{}),
	}
	h.rt.SetMessageLogging(false)
	h.reg = window.NewRegistry(window.WithSettleDelay(0), window.WithSender(h.rt))

	inbox, err := h.rt.Register(messages.EndpointMain, 64)
	require.NoError(t, err)
	for _, role := range window.Roles {
		ch, err := h.rt.Register(role.Endpoint(), 64)
		require.NoError(t, err)
		h.inboxes[role] = ch
		h.builds[role] = new(int32)
	}

	o := Options{
		Backend: h.backend,
		Windows: h.reg,
		Factories: Factories{
			Main:    h.factory(window.Main),
			Stage:   h.factory(window.ScreenshotStage),
			Preview: h.factory(window.PreviewPopup),
			Result:  h.factory(window.ResultViewer),
			Sticker: h.factory(window.StickerOverlay),
		},
		Prewarm:   h.prewarm,
		Analyzer:  fakeAnalyzer{content: "hello"},
		Clipboard: h.clip,
		Notifier: notification.Func(func(title, body string) {
			h.notesMu.Lock()
			h.notes = append(h.notes, title)
			h.notesMu.Unlock()
		}),
		Pool:  worker.New(1),
		Inbox: inbox,
		Settings: Settings{
			ImageReadyTimeout: time.Second,
			CopyAckDelay:      10 * time.Millisecond,
			AnalysisDeadline:  time.Second,
			Prompt:            "describe",
		},
		OnStateChange: func(_, to State) { h.states <- to },
	}
	if opts != nil {
		opts(&o)
	}
	h.loop = New(o)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.finished)
		_ = h.loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.finished
		h.rt.Shutdown()
	})
	return h
}

func (h *harness) factory(role window.Role) window.Factory {
	return func(context.Context) (window.Window, error) {
		atomic.AddInt32(h.builds[role], 1)
		w := &fakeWindow{}
		h.winMu.Lock()
		h.windows[role] = w
		h.winMu.Unlock()
		return w, nil
	}
}

func (h *harness) built(role window.Role) (*fakeWindow, bool) {
	h.winMu.Lock()
	defer h.winMu.Unlock()
	w, ok := h.windows[role]
	return w, ok
}

func (h *harness) window(role window.Role) *fakeWindow {
	h.t.Helper()
	w, ok := h.built(role)
	require.True(h.t, ok, "window %s never built", role)
	return w
}

func (h *harness) openMain() {
	h.t.Helper()
	_, err := h.reg.Ensure(context.Background(), window.Main, h.factory(window.Main))
	require.NoError(h.t, err)
	require.NoError(h.t, h.reg.Show(window.Main))
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("state %s not reached", want)
		}
	}
}

// next reads role's endpoint until a message of type typ arrives.
func (h *harness) next(role window.Role, typ string) messages.Message {
	h.t.Helper()
	env, err := router.WaitFor(context.Background(), h.inboxes[role], typ, waitFor)
	require.NoError(h.t, err, "waiting for %s on %s", typ, role)
	return env.Message
}

func (h *harness) fromContent(role window.Role, msg messages.Message) {
	h.t.Helper()
	require.NoError(h.t, h.rt.SendToMain(role.Endpoint(), msg))
}

// present runs a compositor capture up to AwaitingSelection and returns the
// session id. The image is rendered at half its natural size.
func (h *harness) present() string {
	h.t.Helper()
	h.loop.Trigger("test")
	data := h.next(window.ScreenshotStage, messages.TypeScreenshotData).(messages.ScreenshotData)
	h.fromContent(window.ScreenshotStage, messages.ScreenshotImageReady{
		SessionID: data.SessionID,
		Displayed: geometry.Rect{Width: float64(data.Width) / 2, Height: float64(data.Height) / 2},
		Viewport:  geometry.Size{Width: float64(data.Width) / 2, Height: float64(data.Height) / 2},
	})
	h.waitState(AwaitingSelection)
	return data.SessionID
}

func (h *harness) selectRect(id string, start, end geometry.Point) messages.SelectionUpdate {
	h.t.Helper()
	h.fromContent(window.ScreenshotStage, messages.SelectionChanged{SessionID: id, Start: start, Current: end, Released: true})
	return h.next(window.ScreenshotStage, messages.TypeSelectionUpdate).(messages.SelectionUpdate)
}

func decodeSize(t *testing.T, data []byte) image.Point {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Size()
}

func TestCompositorCaptureCopyFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.openMain()

	id := h.present()
	assert.True(t, h.window(window.ScreenshotStage).IsVisible())
	assert.False(t, h.window(window.Main).IsVisible())

	upd := h.selectRect(id, geometry.Point{X: 60, Y: 30}, geometry.Point{X: 20, Y: 10})
	assert.True(t, upd.ToolbarVisible)
	assert.Equal(t, geometry.Rect{X: 20, Y: 10, Width: 40, Height: 20}, upd.Selection)

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	status := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.True(t, status.Response.Success)

	h.waitState(Idle)
	images := h.clip.written()
	require.Len(t, images, 1)
	assert.Equal(t, image.Pt(80, 40), decodeSize(t, images[0]))

	stage := h.window(window.ScreenshotStage)
	assert.False(t, stage.IsVisible())
	assert.False(t, stage.isDestroyed())
	assert.True(t, h.window(window.Main).IsVisible())

	h.notesMu.Lock()
	assert.Equal(t, []string{"Copied"}, h.notes)
	h.notesMu.Unlock()
}

func TestDoubleTriggerStartsOneSession(t *testing.T) {
	h := newHarness(t, nil)

	h.loop.Trigger("hotkey")
	h.loop.Trigger("hotkey")
	h.next(window.ScreenshotStage, messages.TypeScreenshotData)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.backend.callCount())
	assert.Equal(t, 0, router.Drain(h.inboxes[window.ScreenshotStage]))
}

func TestEscapeHidesAndReusesStage(t *testing.T) {
	h := newHarness(t, nil)

	id := h.present()
	h.fromContent(window.ScreenshotStage, messages.CancelCapture{SessionID: id})
	h.next(window.ScreenshotStage, messages.TypeScreenshotWindowHide)
	h.waitState(Idle)

	stage := h.window(window.ScreenshotStage)
	assert.False(t, stage.IsVisible())
	assert.False(t, stage.isDestroyed())

	second := h.present()
	assert.NotEqual(t, id, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(h.builds[window.ScreenshotStage]))
	assert.Same(t, stage, h.window(window.ScreenshotStage))
}

func TestNativeNoOutputIsSilentCancellation(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.err = &screenshot.CaptureError{Backend: "native", Op: "capture", Err: screenshot.ErrCaptureCancelled}
	h.openMain()

	h.loop.Trigger("hotkey")
	h.waitState(Cancelled)
	h.waitState(Idle)

	assert.True(t, h.window(window.Main).IsVisible())
	h.notesMu.Lock()
	assert.Empty(t, h.notes)
	h.notesMu.Unlock()
}

func TestCaptureFailureRestoresMain(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.err = &screenshot.CaptureError{Backend: "compositor", Op: "sources", Err: screenshot.ErrNoSources}

	h.loop.Trigger("hotkey")
	h.waitState(Failed)
	h.waitState(Idle)
	assert.True(t, h.window(window.Main).IsVisible())

	// The next trigger is accepted again.
	h.backend.err = nil
	h.present()
}

func TestImageReadyTimeoutShowsClosableError(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.ImageReadyTimeout = 30 * time.Millisecond })

	h.loop.Trigger("hotkey")
	data := h.next(window.ScreenshotStage, messages.TypeScreenshotData).(messages.ScreenshotData)
	h.next(window.ScreenshotStage, messages.TypeStageError)
	h.waitState(Idle)
	assert.True(t, h.window(window.ScreenshotStage).IsVisible())

	// ESC still closes the window even though the session is gone.
	h.fromContent(window.ScreenshotStage, messages.CancelCapture{SessionID: data.SessionID})
	h.next(window.ScreenshotStage, messages.TypeScreenshotWindowHide)
	require.Eventually(t, func() bool { return !h.window(window.ScreenshotStage).IsVisible() }, waitFor, time.Millisecond)
}

func TestImageReadyTimeoutEscapeRestoresMain(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.ImageReadyTimeout = 30 * time.Millisecond })
	h.openMain()

	h.loop.Trigger("hotkey")
	data := h.next(window.ScreenshotStage, messages.TypeScreenshotData).(messages.ScreenshotData)
	h.next(window.ScreenshotStage, messages.TypeStageError)
	h.waitState(Idle)
	assert.False(t, h.window(window.Main).IsVisible())

	h.fromContent(window.ScreenshotStage, messages.CancelCapture{SessionID: data.SessionID})
	h.next(window.ScreenshotStage, messages.TypeScreenshotWindowHide)
	require.Eventually(t, func() bool { return h.window(window.Main).IsVisible() }, waitFor, time.Millisecond)
	assert.False(t, h.window(window.ScreenshotStage).IsVisible())
}

func TestImageReadyTimeoutEscapeShowsMainWhenNothingWasHidden(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Settings.ImageReadyTimeout = 30 * time.Millisecond })

	h.loop.Trigger("tray")
	data := h.next(window.ScreenshotStage, messages.TypeScreenshotData).(messages.ScreenshotData)
	h.next(window.ScreenshotStage, messages.TypeStageError)
	h.waitState(Idle)

	h.fromContent(window.ScreenshotStage, messages.CancelCapture{SessionID: data.SessionID})
	require.Eventually(t, func() bool {
		w, ok := h.built(window.Main)
		return ok && w.IsVisible()
	}, waitFor, time.Millisecond)
}

func TestUndersizedReleaseResetsSelection(t *testing.T) {
	h := newHarness(t, nil)
	id := h.present()

	upd := h.selectRect(id, geometry.Point{X: 10, Y: 10}, geometry.Point{X: 15, Y: 50})
	assert.False(t, upd.ToolbarVisible)
	assert.Equal(t, geometry.Rect{}, upd.Selection)

	// Still awaiting a selection.
	upd = h.selectRect(id, geometry.Point{X: 10, Y: 10}, geometry.Point{X: 30, Y: 50})
	assert.True(t, upd.ToolbarVisible)
}

func TestCopyFailureKeepsSessionOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.clip.fail = 1
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 50, Y: 50})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	status := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.False(t, status.Response.Success)
	assert.Contains(t, status.Response.Error, "clipboard locked")
	assert.True(t, h.window(window.ScreenshotStage).IsVisible())

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	status = h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.True(t, status.Response.Success)
	h.waitState(Idle)
	assert.Len(t, h.clip.written(), 1)
}

func TestSecondActionWhileRunningIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.clip.block = make(chan struct{})
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 50, Y: 50})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionConfirm})

	rejected := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.Equal(t, messages.ActionConfirm, rejected.Action)
	assert.False(t, rejected.Response.Success)
	assert.Contains(t, rejected.Response.Error, "another toolbar action")

	close(h.clip.block)
	done := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.Equal(t, messages.ActionCopy, done.Action)
	assert.True(t, done.Response.Success)
	h.waitState(Idle)
}

func TestToolbarCancelRestoresWindows(t *testing.T) {
	h := newHarness(t, nil)
	h.openMain()
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 50, Y: 50})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCancel})
	h.waitState(Cancelled)
	h.waitState(Idle)
	h.next(window.ScreenshotStage, messages.TypeScreenshotWindowHide)

	assert.False(t, h.window(window.ScreenshotStage).IsVisible())
	assert.True(t, h.window(window.Main).IsVisible())
	assert.Empty(t, h.clip.written())
}

func TestToolbarCancelWhileCopyRunningIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.clip.block = make(chan struct{})
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 50, Y: 50})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCancel})

	rejected := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.Equal(t, messages.ActionCancel, rejected.Action)
	assert.False(t, rejected.Response.Success)

	close(h.clip.block)
	done := h.next(window.ScreenshotStage, messages.TypeActionStatus).(messages.ActionStatus)
	assert.Equal(t, messages.ActionCopy, done.Action)
	assert.True(t, done.Response.Success)
	h.waitState(Idle)
	assert.Len(t, h.clip.written(), 1)
}

func TestConfirmOpensResultViewer(t *testing.T) {
	h := newHarness(t, nil)
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 50, Y: 50})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionConfirm})
	h.waitState(Dispatched)
	h.waitState(Idle)

	res := h.next(window.ResultViewer, messages.TypeResultData).(messages.ResultData)
	assert.Equal(t, "hello", res.Content)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 7, res.Usage.TotalTokens)
	assert.True(t, h.window(window.ResultViewer).IsVisible())
	assert.False(t, h.window(window.ScreenshotStage).IsVisible())
}

func TestPinOpensSticker(t *testing.T) {
	h := newHarness(t, nil)
	id := h.present()
	h.selectRect(id, geometry.Point{X: 0, Y: 0}, geometry.Point{X: 20, Y: 10})

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionPin})
	sticker := h.next(window.StickerOverlay, messages.TypeStickerData).(messages.StickerData)
	assert.Equal(t, 40, sticker.Width)
	assert.Equal(t, 20, sticker.Height)
	h.waitState(Idle)
	assert.True(t, h.window(window.StickerOverlay).IsVisible())
}

func TestNativeCaptureUsesPreview(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.capture = testCapture(t, 120, 60, true)

	h.loop.Trigger("hotkey")
	data := h.next(window.PreviewPopup, messages.TypeScreenshotData).(messages.ScreenshotData)
	assert.True(t, data.Interactive)

	h.fromContent(window.PreviewPopup, messages.ScreenshotImageReady{
		SessionID: data.SessionID,
		Displayed: geometry.Rect{X: 10, Y: 10, Width: 60, Height: 30},
		Viewport:  geometry.Size{Width: 80, Height: 60},
	})
	upd := h.next(window.PreviewPopup, messages.TypeSelectionUpdate).(messages.SelectionUpdate)
	assert.True(t, upd.ToolbarVisible)
	assert.True(t, h.window(window.PreviewPopup).IsVisible())

	h.fromContent(window.PreviewPopup, messages.ToolbarAction{SessionID: data.SessionID, Action: messages.ActionCopy})
	h.waitState(Idle)
	images := h.clip.written()
	require.Len(t, images, 1)
	assert.Equal(t, image.Pt(120, 60), decodeSize(t, images[0]))
	_, stageBuilt := h.built(window.ScreenshotStage)
	assert.False(t, stageBuilt)
}

func TestStaleToolbarActionIgnored(t *testing.T) {
	h := newHarness(t, nil)
	id := h.present()
	h.fromContent(window.ScreenshotStage, messages.CancelCapture{SessionID: id})
	h.waitState(Idle)

	h.fromContent(window.ScreenshotStage, messages.ToolbarAction{SessionID: id, Action: messages.ActionCopy})
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.clip.written())
}

func TestStageReadyAcknowledgesPrewarm(t *testing.T) {
	h := newHarness(t, nil)
	h.fromContent(window.ScreenshotStage, messages.StageReady{})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.prewarm.acks) == 1 }, waitFor, time.Millisecond)
}
