package connection

// State is one node of the Connection send state machine (spec.md §4.1):
//
//	INIT -> CONNECTED -> HEADERS_SENT -> BODY_PENDING -> READY -> RELEASED
//	     -> RESPONSE_HEADERS -> RESPONSE_BODY -> DONE
type State int

const (
	StateInit State = iota
	StateConnected
	StateHeadersSent
	StateBodyPending
	StateReady
	StateReleased
	StateResponseHeaders
	StateResponseBody
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnected:
		return "CONNECTED"
	case StateHeadersSent:
		return "HEADERS_SENT"
	case StateBodyPending:
		return "BODY_PENDING"
	case StateReady:
		return "READY"
	case StateReleased:
		return "RELEASED"
	case StateResponseHeaders:
		return "RESPONSE_HEADERS"
	case StateResponseBody:
		return "RESPONSE_BODY"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
