package messages

import (
	"screen-capture-stage/src/geometry"
)

// Message is the base interface for all orchestration <-> content messages.
type Message interface {
	Type() string
}

// MessageType constants for type identification
const (
	TypeScreenshotData       = "screenshot-data"
	TypeScreenshotImageReady = "screenshot-image-ready"
	TypeScreenshotWindowHide = "screenshot-window-hide"
	TypeStageReady           = "stage-ready"
	TypeStageError           = "stage-error"
	TypeSelectionChanged     = "selection-changed"
	TypeSelectionUpdate      = "selection-update"
	TypeToolbarAction        = "toolbar-action"
	TypeActionStatus         = "action-status"
	TypeCancelCapture        = "cancel-capture"
	TypeResultData           = "result-data"
	TypeTranslateRequest     = "translate-request"
	TypeTranslationData      = "translation-data"
	TypeStickerData          = "sticker-data"
	TypeShowMain             = "show-main"
	TypeTriggerCapture       = "trigger-capture"
)

// Response is the reply shape shared by every request/response handler.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OK is a successful Response.
func OK() Response { return Response{Success: true} }

// Fail builds a failed Response from err.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false, Error: "unknown error"}
	}
	return Response{Success: false, Error: err.Error()}
}

// ScreenshotData - sent to the stage (or preview) window with the captured image
type ScreenshotData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail"` // data URL
	SessionID string `json:"sessionId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	// Interactive marks a native capture previewed as a whole.
	Interactive bool `json:"interactive"`
}

func (m ScreenshotData) Type() string { return TypeScreenshotData }

// ScreenshotImageReady - sent by content once the first frame with the image is painted
type ScreenshotImageReady struct {
	SessionID string        `json:"sessionId"`
	Displayed geometry.Rect `json:"displayed"` // rendered image box in window coordinates
	Viewport  geometry.Size `json:"viewport"`
}

func (m ScreenshotImageReady) Type() string { return TypeScreenshotImageReady }

// ScreenshotWindowHide - tells content to drop its local selection/session state
type ScreenshotWindowHide struct{}

func (m ScreenshotWindowHide) Type() string { return TypeScreenshotWindowHide }

// StageReady - sent by the stage once its prewarmed first frame is committed
type StageReady struct{}

func (m StageReady) Type() string { return TypeStageReady }

// StageError - shown inline by content when capture data never arrived
type StageError struct {
	Message string `json:"message"`
}

func (m StageError) Type() string { return TypeStageError }

// SelectionChanged - sent by content while dragging and on release.
// Points are in the image element's local coordinates.
type SelectionChanged struct {
	SessionID string         `json:"sessionId"`
	Start     geometry.Point `json:"start"`
	Current   geometry.Point `json:"current"`
	Released  bool           `json:"released"`
}

func (m SelectionChanged) Type() string { return TypeSelectionChanged }

// SelectionUpdate - authoritative selection state pushed back to content
type SelectionUpdate struct {
	SessionID      string        `json:"sessionId"`
	Selection      geometry.Rect `json:"selection"`
	ToolbarVisible bool          `json:"toolbarVisible"`
}

func (m SelectionUpdate) Type() string { return TypeSelectionUpdate }

// Action names a toolbar button.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCopy    Action = "copy"
	ActionCancel  Action = "cancel"
	ActionPin     Action = "pin"
)

// ToolbarAction - sent by content when a toolbar button is pressed
type ToolbarAction struct {
	SessionID string `json:"sessionId"`
	Action    Action `json:"action"`
}

func (m ToolbarAction) Type() string { return TypeToolbarAction }

// ActionStatus - outcome of a toolbar action, shown inline by content
type ActionStatus struct {
	SessionID string   `json:"sessionId"`
	Action    Action   `json:"action"`
	Response  Response `json:"response"`
}

func (m ActionStatus) Type() string { return TypeActionStatus }

// CancelCapture - ESC pressed or window dismissed by the user
type CancelCapture struct {
	SessionID string `json:"sessionId"`
}

func (m CancelCapture) Type() string { return TypeCancelCapture }

// Usage reports token accounting from the analysis backend.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ResultData - analysis output delivered to the result viewer
type ResultData struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

func (m ResultData) Type() string { return TypeResultData }

// TranslateRequest - sent by the result viewer to translate its content
type TranslateRequest struct {
	Text string `json:"text"`
}

func (m TranslateRequest) Type() string { return TypeTranslateRequest }

// TranslationData - translation output delivered to the result viewer
type TranslationData struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

func (m TranslationData) Type() string { return TypeTranslationData }

// StickerData - image shown by the sticker overlay
type StickerData struct {
	Thumbnail string `json:"thumbnail"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (m StickerData) Type() string { return TypeStickerData }

// ShowMain - tray/IPC request to bring the main window back
type ShowMain struct{}

func (m ShowMain) Type() string { return TypeShowMain }

// TriggerCapture - main window/tray request to start a capture
type TriggerCapture struct{}

func (m TriggerCapture) Type() string { return TypeTriggerCapture }

// MessageEnvelope wraps messages with metadata for routing
type MessageEnvelope struct {
	From    string  // Source endpoint name
	To      string  // Destination endpoint name ("*" for broadcast)
	Message Message // The actual message
}

// Endpoint names for routing
const (
	EndpointMain         = "main" // the orchestration loop
	EndpointMainWindow   = "main-window"
	EndpointStage        = "screenshot-stage"
	EndpointResultViewer = "result-viewer"
	EndpointPreview      = "preview-popup"
	EndpointSticker      = "sticker-overlay"
)
