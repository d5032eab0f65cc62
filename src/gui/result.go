package gui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"screen-capture-stage/src/messages"
	"screen-capture-stage/src/window"
)

// resultView shows one analysis result and its translation.
type resultView struct {
	ui     *UI
	native *nativeWindow

	body        *widget.RichText
	usage       *widget.Label
	translate   *widget.Button
	translation *widget.Label

	content string
}

// ResultFactory builds the analysis result viewer.
func (u *UI) ResultFactory() window.Factory {
	return func(ctx context.Context) (window.Window, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var v *resultView
		u.build(func() { v = newResultView(u) })
		u.attach(window.ResultViewer, v)
		return v.native, nil
	}
}

func newResultView(u *UI) *resultView {
	w := u.app.NewWindow("Analysis result")
	v := &resultView{ui: u}

	v.body = widget.NewRichTextFromMarkdown("Analyzing...")
	v.body.Wrapping = fyne.TextWrapWord
	v.usage = widget.NewLabel("")
	v.translation = widget.NewLabel("")
	v.translation.Wrapping = fyne.TextWrapWord
	v.translation.Hide()
	v.translate = widget.NewButton("Translate", v.onTranslate)
	v.translate.Disable()

	copyButton := widget.NewButton("Copy text", func() {
		if v.content != "" {
			w.Clipboard().SetContent(v.content)
		}
	})

	w.SetContent(container.NewBorder(
		nil,
		container.NewVBox(v.translation, container.NewHBox(v.usage, v.translate, copyButton)),
		nil, nil,
		container.NewVScroll(v.body),
	))
	w.Resize(fyne.NewSize(520, 420))
	w.CenterOnScreen()

	v.native = newNativeWindow(u, w, func() { u.detach(window.ResultViewer, v) })
	return v
}

func (v *resultView) handle(msg messages.Message) {
	switch m := msg.(type) {
	case messages.ResultData:
		if m.Error != "" {
			v.content = ""
			v.body.ParseMarkdown("**Analysis failed:** " + m.Error)
			v.translate.Disable()
			return
		}
		v.content = m.Content
		v.body.ParseMarkdown(m.Content)
		if m.Usage != nil {
			v.usage.SetText(fmt.Sprintf("%d tokens", m.Usage.TotalTokens))
		}
		v.translate.Enable()
	case messages.TranslationData:
		v.translate.Enable()
		if m.Error != "" {
			v.translation.SetText("Translation failed: " + m.Error)
		} else {
			v.translation.SetText(m.Content)
		}
		v.translation.Show()
	}
}

func (v *resultView) onTranslate() {
	if v.content == "" {
		return
	}
	v.translate.Disable()
	v.translation.SetText("Translating...")
	v.translation.Show()
	v.ui.send(window.ResultViewer, messages.TranslateRequest{Text: v.content})
}
