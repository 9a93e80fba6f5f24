package order

// State tracks the lifecycle of an order.
type State uint16

const (
	StateUnknown State = iota
	StateCreated
	StateSubmitting
	StateSubmitted
	StatePending
	StatePartialFilled
	StateCancelSubmitting
	StateSuspended

	// terminal states
	StateFilled
	StateCancelled
	StatePartialCancelled
	StateCancelRejected
	StateRejected
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	case StatePending:
		return "PENDING"
	case StatePartialFilled:
		return "PARTIAL_FILLED"
	case StateCancelSubmitting:
		return "CANCEL_SUBMITTING"
	case StateSuspended:
		return "SUSPENDED"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StatePartialCancelled:
		return "PARTIAL_CANCELLED"
	case StateCancelRejected:
		return "CANCEL_REJECTED"
	case StateRejected:
		return "REJECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StatePartialCancelled,
		StateCancelRejected, StateRejected, StateError:
		return true
	default:
		return false
	}
}

// Event is a normalized order lifecycle event. Broker wire statuses are
// mapped to these by the adapter before they reach the state machine.
type Event uint16

const (
	EventUnknown Event = iota
	EventSubmit
	EventAck
	EventReject
	EventPartialFill
	EventFill
	EventCancelRequest
	EventCancelAck
	EventCancelReject
	EventAckTimeout
	EventFillTimeout
	EventCancelTimeout
	EventRetry
	EventStatus4
	EventErrorOccurred
)

func (e Event) String() string {
	switch e {
	case EventSubmit:
		return "SUBMIT"
	case EventAck:
		return "ACK"
	case EventReject:
		return "REJECT"
	case EventPartialFill:
		return "PARTIAL_FILL"
	case EventFill:
		return "FILL"
	case EventCancelRequest:
		return "CANCEL_REQUEST"
	case EventCancelAck:
		return "CANCEL_ACK"
	case EventCancelReject:
		return "CANCEL_REJECT"
	case EventAckTimeout:
		return "ACK_TIMEOUT"
	case EventFillTimeout:
		return "FILL_TIMEOUT"
	case EventCancelTimeout:
		return "CANCEL_TIMEOUT"
	case EventRetry:
		return "RETRY"
	case EventStatus4:
		return "STATUS_4"
	case EventErrorOccurred:
		return "ERROR_OCCURRED"
	default:
		return "UNKNOWN"
	}
}
