package eventloop

// State of the capture flow.
type State int

const (
	Idle State = iota
	HidingWindows
	Capturing
	Populated
	AwaitingSelection
	Dispatched
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HidingWindows:
		return "hiding-windows"
	case Capturing:
		return "capturing"
	case Populated:
		return "populated"
	case AwaitingSelection:
		return "awaiting-selection"
	case Dispatched:
		return "dispatched"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
