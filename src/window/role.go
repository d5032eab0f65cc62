package window

import "screen-capture-stage/src/messages"

// Role identifies one of the managed windows. At most one live window
// exists per role.
type Role int

const (
	Main Role = iota
	ScreenshotStage
	ResultViewer
	PreviewPopup
	StickerOverlay
)

// Roles lists every role in teardown order.
var Roles = []Role{StickerOverlay, PreviewPopup, ResultViewer, ScreenshotStage, Main}

func (r Role) String() string {
	switch r {
	case Main:
		return "main"
	case ScreenshotStage:
		return "screenshot-stage"
	case ResultViewer:
		return "result-viewer"
	case PreviewPopup:
		return "preview-popup"
	case StickerOverlay:
		return "sticker-overlay"
	default:
		return "unknown"
	}
}

// Endpoint returns the router endpoint the role's content listens on.
func (r Role) Endpoint() string {
	switch r {
	case Main:
		return messages.EndpointMainWindow
	case ScreenshotStage:
		return messages.EndpointStage
	case ResultViewer:
		return messages.EndpointResultViewer
	case PreviewPopup:
		return messages.EndpointPreview
	case StickerOverlay:
		return messages.EndpointSticker
	default:
		return ""
	}
}

// ReplaceOnCreate reports whether opening the role again destroys the
// previous instance.
func (r Role) ReplaceOnCreate() bool {
	return r == ResultViewer || r == PreviewPopup || r == StickerOverlay
}

// State is the lifecycle state of a window handle.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Visible
	Hidden
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Alive reports whether a window in this state can be shown or messaged.
func (s State) Alive() bool {
	return s == Ready || s == Visible || s == Hidden
}
