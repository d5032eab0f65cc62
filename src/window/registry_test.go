package window

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-capture-stage/src/messages"
)

type fakeWindow struct {
	mu         sync.Mutex
	visible    bool
	destroyed  bool
	destroyErr error
	onClosed   func()
	shows      int
	hides      int
}

func (w *fakeWindow) Show() {
	w.mu.Lock()
	w.visible = true
	w.shows++
	w.mu.Unlock()
}

func (w *fakeWindow) Hide() {
	w.mu.Lock()
	w.visible = false
	w.hides++
	w.mu.Unlock()
}

func (w *fakeWindow) Destroy() error {
	w.mu.Lock()
	w.destroyed = true
	w.visible = false
	cb := w.onClosed
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
	return w.destroyErr
}

func (w *fakeWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *fakeWindow) OnClosed(fn func()) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *fakeWindow) userClose() {
	w.mu.Lock()
	cb := w.onClosed
	w.mu.Unlock()
	cb()
}

func factoryFor(w *fakeWindow) Factory {
	return func(context.Context) (Window, error) { return w, nil }
}

type recordingSender struct {
	mu   sync.Mutex
	sent []messages.MessageEnvelope
}

func (s *recordingSender) SendTo(from, to string, msg messages.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, messages.MessageEnvelope{From: from, To: to, Message: msg})
	return nil
}

func TestEnsureCreatesOnce(t *testing.T) {
	r := NewRegistry(WithSettleDelay(0))
	var calls int32
	w := &fakeWindow{}
	factory := func(context.Context) (Window, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return w, nil
	}

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := r.Ensure(context.Background(), ScreenshotStage, factory)
			assert.NoError(t, err)
			ids[i] = info.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	// Later calls reuse the alive handle.
	_, err := r.Ensure(context.Background(), ScreenshotStage, factory)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnsureFactoryFailureLeavesSlotEmpty(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	_, err := r.Ensure(context.Background(), Main, func(context.Context) (Window, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Uninitialized, r.State(Main))
	_, ok := r.Get(Main)
	assert.False(t, ok)

	info, err := r.Ensure(context.Background(), Main, factoryFor(&fakeWindow{}))
	require.NoError(t, err)
	assert.Equal(t, Ready, info.State)
}

func TestUserCloseClearsSlotAndNotifies(t *testing.T) {
	r := NewRegistry()
	w := &fakeWindow{}
	_, err := r.Ensure(context.Background(), ResultViewer, factoryFor(w))
	require.NoError(t, err)

	var got []Role
	r.OnDestroyed(func(role Role) { got = append(got, role) })

	w.userClose()
	w.userClose()

	assert.Equal(t, []Role{ResultViewer}, got)
	assert.Equal(t, Uninitialized, r.State(ResultViewer))
}

func TestObserverAddedDuringNotifyWaitsForNextClose(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeWindow{}, &fakeWindow{}
	_, err := r.Ensure(context.Background(), ResultViewer, factoryFor(first))
	require.NoError(t, err)
	_, err = r.Ensure(context.Background(), StickerOverlay, factoryFor(second))
	require.NoError(t, err)

	var got []string
	r.OnDestroyed(func(role Role) {
		got = append(got, "a:"+role.String())
		if role == ResultViewer {
			r.OnDestroyed(func(role Role) { got = append(got, "b:"+role.String()) })
		}
	})

	first.userClose()
	assert.Equal(t, []string{"a:" + ResultViewer.String()}, got)

	second.userClose()
	assert.Equal(t, []string{
		"a:" + ResultViewer.String(),
		"a:" + StickerOverlay.String(),
		"b:" + StickerOverlay.String(),
	}, got)
}

func TestReplaceDestroysPrevious(t *testing.T) {
	r := NewRegistry()
	first := &fakeWindow{}
	second := &fakeWindow{}

	a, err := r.Replace(context.Background(), PreviewPopup, factoryFor(first))
	require.NoError(t, err)
	b, err := r.Replace(context.Background(), PreviewPopup, factoryFor(second))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, first.destroyed)
	assert.False(t, second.destroyed)
	assert.Len(t, r.Snapshot(), 1)
}

func TestReplaceRejectsReusableRoles(t *testing.T) {
	r := NewRegistry()
	_, err := r.Replace(context.Background(), ScreenshotStage, factoryFor(&fakeWindow{}))
	assert.ErrorIs(t, err, ErrNotReplaceable)
	_, err = r.Replace(context.Background(), Main, factoryFor(&fakeWindow{}))
	assert.ErrorIs(t, err, ErrNotReplaceable)
}

func TestStageIsPinned(t *testing.T) {
	r := NewRegistry()
	w := &fakeWindow{}
	_, err := r.Ensure(context.Background(), ScreenshotStage, factoryFor(w))
	require.NoError(t, err)

	assert.ErrorIs(t, r.Destroy(ScreenshotStage), ErrPinned)
	assert.False(t, w.destroyed)

	require.NoError(t, r.Close())
	assert.True(t, w.destroyed)
}

func TestShowHideTracksState(t *testing.T) {
	r := NewRegistry()
	w := &fakeWindow{}
	_, err := r.Ensure(context.Background(), Main, factoryFor(w))
	require.NoError(t, err)

	require.NoError(t, r.Show(Main))
	assert.Equal(t, Visible, r.State(Main))
	assert.True(t, w.IsVisible())

	require.NoError(t, r.Hide(Main))
	assert.Equal(t, Hidden, r.State(Main))
	assert.False(t, w.IsVisible())

	assert.ErrorIs(t, r.Show(StickerOverlay), ErrNotFound)
}

func TestHideAllHidesVisibleAndSettles(t *testing.T) {
	r := NewRegistry(WithSettleDelay(30 * time.Millisecond))
	main := &fakeWindow{}
	result := &fakeWindow{}
	stage := &fakeWindow{}
	ctx := context.Background()

	_, _ = r.Ensure(ctx, Main, factoryFor(main))
	_, _ = r.Ensure(ctx, ResultViewer, factoryFor(result))
	_, _ = r.Ensure(ctx, ScreenshotStage, factoryFor(stage))
	require.NoError(t, r.Show(Main))
	require.NoError(t, r.Show(ResultViewer))

	start := time.Now()
	hidden, err := r.HideAll(ctx, ResultViewer)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []Role{Main}, hidden)
	assert.False(t, main.IsVisible())
	assert.True(t, result.IsVisible())
	assert.Equal(t, 0, stage.hides)
}

func TestHideAllSkipsSettleWhenNothingVisible(t *testing.T) {
	r := NewRegistry(WithSettleDelay(time.Hour))
	hidden, err := r.HideAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hidden)
}

func TestHideAllHonoursContext(t *testing.T) {
	r := NewRegistry(WithSettleDelay(time.Hour))
	_, _ = r.Ensure(context.Background(), Main, factoryFor(&fakeWindow{}))
	require.NoError(t, r.Show(Main))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	hidden, err := r.HideAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []Role{Main}, hidden)
}

func TestSendRoutesToEndpoint(t *testing.T) {
	s := &recordingSender{}
	r := NewRegistry(WithSender(s))

	assert.ErrorIs(t, r.Send(ScreenshotStage, messages.StageReady{}), ErrNotFound)

	_, _ = r.Ensure(context.Background(), ScreenshotStage, factoryFor(&fakeWindow{}))
	require.NoError(t, r.Send(ScreenshotStage, messages.ScreenshotWindowHide{}))

	require.Len(t, s.sent, 1)
	assert.Equal(t, messages.EndpointStage, s.sent[0].To)
	assert.Equal(t, messages.EndpointMain, s.sent[0].From)
}

func TestCloseAggregatesErrors(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	_, _ = r.Ensure(ctx, Main, factoryFor(&fakeWindow{destroyErr: errors.New("main stuck")}))
	_, _ = r.Ensure(ctx, ResultViewer, factoryFor(&fakeWindow{destroyErr: errors.New("viewer stuck")}))

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main stuck")
	assert.Contains(t, err.Error(), "viewer stuck")

	_, err = r.Ensure(ctx, Main, factoryFor(&fakeWindow{}))
	assert.ErrorIs(t, err, ErrClosed)
}
