package eventloop

import (
	"context"
	"errors"
	"time"

	"screen-capture-stage/src/llm"
	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/screenshot"
	"screen-capture-stage/src/session"
	"screen-capture-stage/src/toolbar"
	"screen-capture-stage/src/window"
	"screen-capture-stage/src/worker"
)

type actionDone struct {
	gen       uint64
	sessionID string
	action    messages.Action
	err       error
}

type copyAckElapsed struct {
	gen       uint64
	sessionID string
}

type translateDone struct {
	content string
	err     error
}

func (l *Loop) onToolbarAction(ctx context.Context, m messages.ToolbarAction) {
	if l.state != AwaitingSelection || l.sess == nil || l.sess.ID != m.SessionID {
		l.log.Debug().Str("session", m.SessionID).Str("action", string(m.Action)).Msg("toolbar action for inactive session")
		return
	}
	// Cancel completes inline; the others finish when their job reports back.
	if m.Action == messages.ActionCancel {
		err := l.ctrl.Execute(ctx, m.Action, func(context.Context) error {
			l.setState(Cancelled)
			l.endSession()
			l.restoreHidden()
			l.finish()
			return nil
		})
		if err != nil {
			l.log.Info().Err(err).Str("action", string(m.Action)).Msg("toolbar action rejected")
			l.sendStatus(m.Action, err)
		}
		return
	}
	if err := l.ctrl.Begin(m.Action); err != nil {
		l.log.Info().Err(err).Str("action", string(m.Action)).Msg("toolbar action rejected")
		l.sendStatus(m.Action, err)
		return
	}

	switch m.Action {
	case messages.ActionConfirm:
		l.confirm(ctx)
	case messages.ActionCopy:
		l.copySelection()
	case messages.ActionPin:
		l.pin(ctx)
	}
}

func (l *Loop) sendStatus(action messages.Action, err error) {
	if l.sess == nil {
		return
	}
	status := toolbar.Status(l.sess.ID, action, err)
	if sendErr := l.opts.Windows.Send(l.sessionRole(), status); sendErr != nil {
		l.log.Warn().Err(sendErr).Msg("send action status")
	}
}

// rejectAction reports a failure that leaves the session open for retry.
func (l *Loop) rejectAction(action messages.Action, err error) {
	l.log.Warn().Err(err).Str("action", string(action)).Msg("toolbar action failed")
	l.ctrl.Finish(action, err)
	l.sendStatus(action, err)
}

// dispatch ends a session whose action succeeded.
func (l *Loop) dispatch(action messages.Action) {
	l.ctrl.Finish(action, nil)
	l.sendStatus(action, nil)
	l.setState(Dispatched)
	l.endSession()
	l.restoreHidden()
	l.finish()
}

// confirm sends the crop to the analysis backend and opens the result viewer.
func (l *Loop) confirm(ctx context.Context) {
	if l.opts.Analyzer == nil || l.opts.Pool == nil {
		l.rejectAction(messages.ActionConfirm, errors.New("analysis is not configured"))
		return
	}
	if _, err := l.sess.Crop(); err != nil {
		l.rejectAction(messages.ActionConfirm, err)
		return
	}

	// The job works on a copy; the loop drops its session on dispatch.
	snapshot := *l.sess
	windows := l.opts.Windows
	resultFactory := l.opts.Factories.Result
	analyzer := l.opts.Analyzer
	prompt := l.settings.Prompt
	deadline := l.settings.AnalysisDeadline
	log := l.log

	job := func(jobCtx context.Context) error {
		if _, err := windows.Replace(jobCtx, window.ResultViewer, resultFactory); err != nil {
			return err
		}
		if err := windows.Show(window.ResultViewer); err != nil {
			return err
		}
		_, err := session.Execute(jobCtx, &snapshot, session.Options{
			Deadline: deadline,
			Analyze: func(ctx context.Context, png []byte) (session.Result, error) {
				res, err := analyzer.Analyze(ctx, llm.AnalysisRequest{ImageData: png, Prompt: prompt})
				if err != nil {
					return session.Result{}, err
				}
				return session.Result{
					Content:          res.Content,
					PromptTokens:     res.Usage.PromptTokens,
					CompletionTokens: res.Usage.CompletionTokens,
					TotalTokens:      res.Usage.TotalTokens,
				}, nil
			},
			Target: resultTarget{windows: windows},
		})
		return err
	}

	err := l.opts.Pool.Submit(ctx, "analyze", job, func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("analysis failed")
		}
	})
	if err != nil {
		if errors.Is(err, worker.ErrBusy) {
			err = errors.New("analysis busy, please retry")
		}
		l.rejectAction(messages.ActionConfirm, err)
		return
	}
	l.dispatch(messages.ActionConfirm)
}

// resultTarget forwards analysis outcomes to the result viewer.
type resultTarget struct {
	windows Windows
}

func (t resultTarget) OnSuccess(res session.Result) error {
	return t.windows.Send(window.ResultViewer, messages.ResultData{
		Content: res.Content,
		Usage: &messages.Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.TotalTokens,
		},
	})
}

func (t resultTarget) OnFailure(err error) error {
	return t.windows.Send(window.ResultViewer, messages.ResultData{Error: err.Error()})
}

// copySelection writes the crop to the clipboard off the loop.
func (l *Loop) copySelection() {
	if l.opts.Clipboard == nil {
		l.rejectAction(messages.ActionCopy, errors.New("clipboard unavailable"))
		return
	}
	png, err := l.sess.CropPNG()
	if err != nil {
		l.rejectAction(messages.ActionCopy, err)
		return
	}
	gen, id := l.gen, l.sess.ID
	cb := l.opts.Clipboard
	go func() {
		l.post(actionDone{gen: gen, sessionID: id, action: messages.ActionCopy, err: cb.WriteImage(png)})
	}()
}

// pin opens the sticker overlay with the crop.
func (l *Loop) pin(ctx context.Context) {
	img, err := l.sess.CropImage()
	if err != nil {
		l.rejectAction(messages.ActionPin, err)
		return
	}
	disp, err := screenshot.NewDisplayImage(img)
	if err != nil {
		l.rejectAction(messages.ActionPin, err)
		return
	}
	gen, id := l.gen, l.sess.ID
	windows := l.opts.Windows
	factory := l.opts.Factories.Sticker
	go func() {
		_, err := windows.Replace(ctx, window.StickerOverlay, factory)
		if err == nil {
			err = windows.Send(window.StickerOverlay, messages.StickerData{Thumbnail: disp.DataURL, Width: disp.Width, Height: disp.Height})
		}
		if err == nil {
			err = windows.Show(window.StickerOverlay)
		}
		l.post(actionDone{gen: gen, sessionID: id, action: messages.ActionPin, err: err})
	}()
}

func (l *Loop) onActionDone(e actionDone) {
	if e.gen != l.gen || l.sess == nil || l.sess.ID != e.sessionID {
		return
	}
	if e.err != nil {
		l.rejectAction(e.action, e.err)
		return
	}

	switch e.action {
	case messages.ActionCopy:
		l.ctrl.Finish(e.action, nil)
		l.sendStatus(e.action, nil)
		l.opts.Notifier.Notify("Copied", "Selection copied to clipboard")
		gen, id := e.gen, e.sessionID
		time.AfterFunc(l.settings.CopyAckDelay, func() {
			l.post(copyAckElapsed{gen: gen, sessionID: id})
		})
	default:
		l.dispatch(e.action)
	}
}

func (l *Loop) onCopyAckElapsed(e copyAckElapsed) {
	if e.gen != l.gen || l.sess == nil || l.sess.ID != e.sessionID {
		return
	}
	l.setState(Dispatched)
	l.endSession()
	l.restoreHidden()
	l.finish()
}

func (l *Loop) onTranslateRequest(ctx context.Context, m messages.TranslateRequest) {
	if l.opts.Translator == nil {
		_ = l.opts.Windows.Send(window.ResultViewer, messages.TranslationData{Error: "translation is not configured"})
		return
	}
	req := llm.TranslationRequest{Text: m.Text, SourceLang: l.settings.SourceLang, TargetLang: l.settings.TargetLang}
	translator := l.opts.Translator
	deadline := l.settings.AnalysisDeadline
	go func() {
		tctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		res, err := translator.Translate(tctx, req)
		l.post(translateDone{content: res.Content, err: err})
	}()
}

func (l *Loop) onTranslateDone(e translateDone) {
	out := messages.TranslationData{Content: e.content}
	if e.err != nil {
		l.log.Error().Err(e.err).Msg("translation failed")
		out = messages.TranslationData{Error: e.err.Error()}
	}
	if err := l.opts.Windows.Send(window.ResultViewer, out); err != nil {
		l.log.Debug().Err(err).Msg("result viewer closed before translation arrived")
	}
}
