package export

// State is the lifecycle of one export request.
type State int

const (
	Idle State = iota
	Building
	Capturing
	Assembling
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Capturing:
		return "capturing"
	case Assembling:
		return "assembling"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
