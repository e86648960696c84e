package lifecycle

// State is a node in the booking lifecycle graph.
type State string

const (
	StateIdle                        State = "IDLE"
	StateSessionTypeSelected         State = "SESSION_TYPE_SELECTED"
	StateCalendlySchedulingInitiated State = "CALENDLY_SCHEDULING_INITIATED"
	StateCalendlyEventScheduled      State = "CALENDLY_EVENT_SCHEDULED"
	StatePaymentRequired             State = "PAYMENT_REQUIRED"
	StatePaymentPending              State = "PAYMENT_PENDING"
	StatePaymentProcessing           State = "PAYMENT_PROCESSING"
	StatePaymentSucceeded            State = "PAYMENT_SUCCEEDED"
	StatePaymentFailed               State = "PAYMENT_FAILED"
	StateBookingConfirmed            State = "BOOKING_CONFIRMED"
	StateBookingCompleted            State = "BOOKING_COMPLETED"
	StateCancellationRequested       State = "CANCELLATION_REQUESTED"
	StateCancellationProcessing      State = "CANCELLATION_PROCESSING"
	StateCancellationCompleted       State = "CANCELLATION_COMPLETED"
	StateRefundRequired              State = "REFUND_REQUIRED"
	StateRefundProcessing            State = "REFUND_PROCESSING"
	StateRefundCompleted             State = "REFUND_COMPLETED"
	StateError                       State = "ERROR"
)

// Event triggers a transition between states.
type Event string

const (
	EventSelectSessionType            Event = "SELECT_SESSION_TYPE"
	EventInitiateCalendlyScheduling   Event = "INITIATE_CALENDLY_SCHEDULING"
	EventCalendlyEventScheduled       Event = "CALENDLY_EVENT_SCHEDULED"
	EventInitiatePayment              Event = "INITIATE_PAYMENT"
	EventPaymentInitiated             Event = "PAYMENT_INITIATED"
	EventPaymentProcessing            Event = "PAYMENT_PROCESSING"
	EventPaymentSucceeded             Event = "PAYMENT_SUCCEEDED"
	EventPaymentFailed                Event = "PAYMENT_FAILED"
	EventConfirmBooking               Event = "CONFIRM_BOOKING"
	EventCompleteBooking              Event = "COMPLETE_BOOKING"
	EventRequestCancellation          Event = "REQUEST_CANCELLATION"
	EventProcessCancellation          Event = "PROCESS_CANCELLATION"
	EventCancellationProcessed        Event = "CANCELLATION_PROCESSED"
	EventProcessRefund                Event = "PROCESS_REFUND"
	EventRefundInitiated              Event = "REFUND_INITIATED"
	EventRefundProcessed              Event = "REFUND_PROCESSED"
	EventErrorOccurred                Event = "ERROR_OCCURRED"
	EventRecover                      Event = "RECOVER"
)

// transitions is the lifecycle graph: for each state, the events it accepts
// and the state each event leads to. Everything about a transition is
// determined by this table; there is no hidden state.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventSelectSessionType: StateSessionTypeSelected,
	},
	StateSessionTypeSelected: {
		EventInitiateCalendlyScheduling: StateCalendlySchedulingInitiated,
	},
	StateCalendlySchedulingInitiated: {
		EventCalendlyEventScheduled: StateCalendlyEventScheduled,
	},
	StateCalendlyEventScheduled: {
		EventInitiatePayment: StatePaymentRequired,
	},
	StatePaymentRequired: {
		EventPaymentInitiated: StatePaymentPending,
	},
	StatePaymentPending: {
		EventPaymentProcessing: StatePaymentProcessing,
		EventPaymentSucceeded:  StatePaymentSucceeded,
		EventPaymentFailed:     StatePaymentFailed,
	},
	StatePaymentProcessing: {
		EventPaymentSucceeded: StatePaymentSucceeded,
		EventPaymentFailed:    StatePaymentFailed,
	},
	StatePaymentSucceeded: {
		EventConfirmBooking: StateBookingConfirmed,
	},
	StatePaymentFailed: {
		EventInitiatePayment: StatePaymentPending,
	},
	StateBookingConfirmed: {
		EventCompleteBooking:     StateBookingCompleted,
		EventRequestCancellation: StateCancellationRequested,
	},
	StateCancellationRequested: {
		EventProcessRefund:       StateRefundRequired,
		EventProcessCancellation: StateCancellationProcessing,
	},
	StateCancellationProcessing: {
		EventCancellationProcessed: StateCancellationCompleted,
		EventProcessRefund:         StateRefundRequired,
	},
	StateRefundRequired: {
		EventRefundInitiated: StateRefundProcessing,
	},
	StateRefundProcessing: {
		EventRefundProcessed: StateRefundCompleted,
	},
	StateBookingCompleted:      {},
	StateCancellationCompleted: {},
	StateRefundCompleted:       {},
	StateError: {
		EventRecover: StateIdle,
	},
}

// terminalStates have no outbound transitions, not even ERROR_OCCURRED.
var terminalStates = map[State]bool{
	StateBookingCompleted:      true,
	StateCancellationCompleted: true,
	StateRefundCompleted:       true,
}

// eventTargets maps each event to its destination state, when every table
// entry for the event agrees on one. Ambiguous events (INITIATE_PAYMENT
// lands differently depending on the source state) are absent.
var eventTargets = map[Event]State{}

func init() {
	// Every non-terminal state can fall into ERROR.
	for state, events := range transitions {
		if terminalStates[state] || state == StateError {
			continue
		}
		events[EventErrorOccurred] = StateError
	}

	ambiguous := map[Event]bool{}
	for _, events := range transitions {
		for event, target := range events {
			if prev, seen := eventTargets[event]; seen && prev != target {
				ambiguous[event] = true
				continue
			}
			eventTargets[event] = target
		}
	}
	for event := range ambiguous {
		delete(eventTargets, event)
	}
}

// EventTarget returns the single state event always leads to, if the
// transition table is unambiguous about it.
func EventTarget(event Event) (State, bool) {
	target, ok := eventTargets[event]
	return target, ok
}

// statusByState maps the states that own a customer-facing status pair. The
// entry hooks overwrite bookingStatus/paymentStatus from this table; statuses
// are never set independently of a transition.
var statusByState = map[State]struct {
	booking BookingStatus
	payment PaymentStatus
}{
	StateCalendlyEventScheduled: {BookingStatusPending, PaymentStatusUnpaid},
	StatePaymentSucceeded:       {BookingStatusPending, PaymentStatusPaid},
	StatePaymentFailed:          {BookingStatusPending, PaymentStatusFailed},
	StateBookingConfirmed:       {BookingStatusConfirmed, PaymentStatusPaid},
	StateBookingCompleted:       {BookingStatusCompleted, PaymentStatusPaid},
	StateCancellationCompleted:  {BookingStatusCancelled, PaymentStatusCancelled},
	StateRefundCompleted:        {BookingStatusCancelled, PaymentStatusRefunded},
}

// mainPathRank orders the forward progress of a booking. Webhook handling
// uses it to recognize deliveries that target a state the booking has already
// moved past.
var mainPathRank = map[State]int{
	StateIdle:                        0,
	StateSessionTypeSelected:         1,
	StateCalendlySchedulingInitiated: 2,
	StateCalendlyEventScheduled:      3,
	StatePaymentRequired:             4,
	StatePaymentPending:              5,
	StatePaymentProcessing:           6,
	StatePaymentFailed:               6,
	StatePaymentSucceeded:            7,
	StateBookingConfirmed:            8,
	StateCancellationRequested:       9,
	StateCancellationProcessing:      10,
	StateRefundRequired:              10,
	StateRefundProcessing:            11,
	StateBookingCompleted:            12,
	StateCancellationCompleted:       12,
	StateRefundCompleted:             12,
}

// IsTerminal reports whether state accepts no further events.
func IsTerminal(state State) bool {
	return terminalStates[state]
}

// HasPassed reports whether current sits at or beyond target on the forward
// path. ERROR ranks nowhere and never counts as passed.
func HasPassed(current, target State) bool {
	cr, ok := mainPathRank[current]
	if !ok {
		return false
	}
	tr, ok := mainPathRank[target]
	if !ok {
		return false
	}
	return cr >= tr
}
