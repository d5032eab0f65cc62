package gui

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-capture-stage/src/geometry"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/router"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/window"
)

type recordingContent struct {
	mu  sync.Mutex
	got []messages.Message
}

func (c *recordingContent) handle(msg messages.Message) {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
}

func (c *recordingContent) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func newTestUI(t *testing.T) (*UI, *router.Router, <-chan messages.MessageEnvelope) {
	t.Helper()
	a := test.NewApp()
	t.Cleanup(a.Quit)

	rt := router.New()
	rt.SetMessageLogging(false)
	t.Cleanup(rt.Shutdown)
	inbox, err := rt.Register(messages.EndpointMain, 64)
	require.NoError(t, err)

	u := New(a, rt)
	u.do = func(fn func()) { fn() }
	u.doAndWait = func(fn func()) { fn() }
	return u, rt, inbox
}

func thumbnail(t *testing.T, w, h int) string {
	t.Helper()
	d, err := screenshot.NewDisplayImage(image.NewNRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return d.DataURL
}

func TestDecodeThumbnail(t *testing.T) {
	img, err := decodeThumbnail(thumbnail(t, 30, 20))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 20), img.Bounds().Size())

	_, err = decodeThumbnail("not a data url")
	assert.Error(t, err)
}

func TestFitWithinNeverUpscales(t *testing.T) {
	assert.Equal(t, geometry.Size{Width: 100, Height: 50}, fitWithin(image.Pt(100, 50), stickerLimit))
	assert.Equal(t, geometry.Size{Width: 600, Height: 300}, fitWithin(image.Pt(1200, 600), stickerLimit))
}

func TestToolbarPosition(t *testing.T) {
	viewport := geometry.Size{Width: 1920, Height: 1080}
	tb := geometry.Size{Width: 200, Height: 40}

	sel := geometry.Rect{X: 100, Y: 100, Width: 400, Height: 200}
	p := toolbarPosition(false, geometry.Rect{}, sel, tb, viewport)
	assert.Equal(t, geometry.Point{X: 300, Y: 308}, p)

	displayed := geometry.Rect{X: 0, Y: 0, Width: 600, Height: 400}
	p = toolbarPosition(true, displayed, displayed, tb, viewport)
	assert.Equal(t, geometry.Point{X: 200, Y: 408}, p)
}

func TestPumpRoutesToAttachedContent(t *testing.T) {
	u, rt, _ := newTestUI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, u.Start(ctx))

	c := &recordingContent{}
	u.attach(window.ResultViewer, c)
	require.NoError(t, rt.SendTo(messages.EndpointMain, messages.EndpointResultViewer, messages.ResultData{Content: "hi"}))

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, time.Millisecond)
}

func TestDetachKeepsReplacement(t *testing.T) {
	u, _, _ := newTestUI(t)
	old, replacement := &recordingContent{}, &recordingContent{}

	u.attach(window.StickerOverlay, old)
	u.attach(window.StickerOverlay, replacement)
	u.detach(window.StickerOverlay, old)
	assert.Same(t, replacement, u.current(window.StickerOverlay))

	u.detach(window.StickerOverlay, replacement)
	assert.Nil(t, u.current(window.StickerOverlay))
}

func TestStageViewReportsAndSelects(t *testing.T) {
	u, _, inbox := newTestUI(t)
	v := newCaptureView(u, window.ScreenshotStage, false)

	v.handle(messages.ScreenshotData{SessionID: "s1", Thumbnail: thumbnail(t, 384, 216), Width: 384, Height: 216})
	v.onLayout(fyne.NewSize(192, 108), true)

	env, err := router.WaitFor(context.Background(), inbox, messages.TypeScreenshotImageReady, time.Second)
	require.NoError(t, err)
	for {
		// The last report wins; drain earlier provisional ones.
		next, err := router.WaitFor(context.Background(), inbox, messages.TypeScreenshotImageReady, 20*time.Millisecond)
		if err != nil {
			break
		}
		env = next
	}
	ready := env.Message.(messages.ScreenshotImageReady)
	assert.Equal(t, "s1", ready.SessionID)
	assert.Equal(t, geometry.Rect{Width: 192, Height: 108}, ready.Displayed)

	v.onDrag(fyne.NewPos(60, 30), fyne.NewPos(20, 10), true)
	env, err = router.WaitFor(context.Background(), inbox, messages.TypeSelectionChanged, time.Second)
	require.NoError(t, err)
	changed := env.Message.(messages.SelectionChanged)
	assert.True(t, changed.Released)
	assert.Equal(t, geometry.Point{X: 20, Y: 10}, changed.Current)
	assert.False(t, v.toolbar.Visible())

	v.handle(messages.SelectionUpdate{SessionID: "s1", Selection: geometry.Rect{X: 20, Y: 10, Width: 40, Height: 20}, ToolbarVisible: true})
	assert.True(t, v.toolbar.Visible())
	assert.True(t, v.frame.Visible())

	v.handle(messages.SelectionUpdate{SessionID: "stale", ToolbarVisible: false})
	assert.True(t, v.toolbar.Visible())

	v.handle(messages.ScreenshotWindowHide{})
	assert.Empty(t, v.sessionID)
	assert.False(t, v.toolbar.Visible())
	assert.False(t, v.image.Visible())
}

// queueDo makes u.do collect work instead of running it, like fyne.Do
// posting to the next pass of the fyne thread.
func queueDo(u *UI) func() {
	var queued []func()
	u.do = func(fn func()) { queued = append(queued, fn) }
	return func() {
		for len(queued) > 0 {
			fn := queued[0]
			queued = queued[1:]
			fn()
		}
	}
}

func TestStageReadyFollowsLayout(t *testing.T) {
	u, _, inbox := newTestUI(t)
	flush := queueDo(u)

	v := newCaptureView(u, window.ScreenshotStage, false)
	v.onLayout(fyne.NewSize(640, 360), true)
	assert.Zero(t, router.Drain(inbox), "ack sent before the fyne thread ran again")

	flush()
	env, err := router.WaitFor(context.Background(), inbox, messages.TypeStageReady, time.Second)
	require.NoError(t, err)
	assert.Equal(t, window.ScreenshotStage.Endpoint(), env.From)

	v.onLayout(fyne.NewSize(640, 360), false)
	flush()
	_, err = router.WaitFor(context.Background(), inbox, messages.TypeStageReady, 20*time.Millisecond)
	assert.Error(t, err, "stage ready is sent once")
}

func TestPreviewSendsNoStageReady(t *testing.T) {
	u, _, inbox := newTestUI(t)
	v := newCaptureView(u, window.PreviewPopup, true)
	v.onLayout(fyne.NewSize(640, 480), true)
	_, err := router.WaitFor(context.Background(), inbox, messages.TypeStageReady, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestImageReadyFollowsLayout(t *testing.T) {
	u, _, inbox := newTestUI(t)
	v := newCaptureView(u, window.ScreenshotStage, false)
	v.win.Content().Resize(fyne.NewSize(192, 108))
	router.Drain(inbox)

	flush := queueDo(u)
	v.handle(messages.ScreenshotData{SessionID: "s3", Thumbnail: thumbnail(t, 384, 216), Width: 384, Height: 216})
	v.onLayout(fyne.NewSize(192, 108), false)
	_, err := router.WaitFor(context.Background(), inbox, messages.TypeScreenshotImageReady, 20*time.Millisecond)
	assert.Error(t, err, "image ready sent before the layout pass was flushed")

	flush()
	env, err := router.WaitFor(context.Background(), inbox, messages.TypeScreenshotImageReady, time.Second)
	require.NoError(t, err)
	ready := env.Message.(messages.ScreenshotImageReady)
	assert.Equal(t, "s3", ready.SessionID)
	assert.Equal(t, geometry.Rect{Width: 192, Height: 108}, ready.Displayed)
}

func TestStageEscapeCancels(t *testing.T) {
	u, _, inbox := newTestUI(t)
	v := newCaptureView(u, window.ScreenshotStage, false)
	v.handle(messages.ScreenshotData{SessionID: "s2", Thumbnail: thumbnail(t, 40, 40), Width: 40, Height: 40})

	v.onKey(&fyne.KeyEvent{Name: fyne.KeyEscape})
	env, err := router.WaitFor(context.Background(), inbox, messages.TypeCancelCapture, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "s2", env.Message.(messages.CancelCapture).SessionID)
}

func TestNativeWindowClosesOnce(t *testing.T) {
	u, _, _ := newTestUI(t)
	w := u.app.NewWindow("t")
	detached := 0
	n := newNativeWindow(u, w, func() { detached++ })
	closed := 0
	n.OnClosed(func() { closed++ })

	n.Show()
	assert.True(t, n.IsVisible())
	require.NoError(t, n.Destroy())
	require.NoError(t, n.Destroy())
	assert.False(t, n.IsVisible())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, detached)
}
