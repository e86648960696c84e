package lifecycle

import (
	"sort"
	"time"

	"github.com/buildappswith/booking-engine/pkg/logging"
)

// Machine evaluates booking transitions against the lifecycle graph. It holds
// no mutable state of its own: given the same context and payload it always
// produces the same result, so it is safe to share across requests.
type Machine struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewMachine constructs a machine logging through the given logger.
func NewMachine(logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{logger: logger, now: time.Now}
}

// WithClock overrides the machine's clock. Tests use it for deterministic
// timestamps.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// InitialState returns the state every booking starts in.
func (m *Machine) InitialState() State {
	return StateIdle
}

// InitialStateData returns the seed data for a fresh booking.
func (m *Machine) InitialStateData() BookingStateData {
	return BookingStateData{Timestamp: m.now().UTC()}
}

// IsValidTransition reports whether event is accepted in state.
func (m *Machine) IsValidTransition(state State, event Event) bool {
	_, ok := transitions[state][event]
	return ok
}

// AllowedTransitions returns the events accepted in state, sorted for
// deterministic output. Terminal states return an empty slice.
func (m *Machine) AllowedTransitions(state State) []Event {
	events := make([]Event, 0, len(transitions[state]))
	for event := range transitions[state] {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// NextState returns the state event leads to from state, and whether the
// transition exists.
func (m *Machine) NextState(state State, event Event) (State, bool) {
	next, ok := transitions[state][event]
	return next, ok
}

// Execute looks up the transition for (context.State, payload.Event). An
// undefined transition is returned as a failed result carrying the original
// state; errors are data here, never panics or Go errors. A defined
// transition merges the payload patch, stamps bookkeeping fields, runs the
// exiting state's exit hook and the entering state's entry hook, and returns
// the new state with the final data.
func (m *Machine) Execute(context BookingContext, payload TransitionPayload) TransitionResult {
	now := m.now().UTC()

	next, ok := transitions[context.State][payload.Event]
	if !ok {
		return TransitionResult{
			Success:       false,
			PreviousState: context.State,
			CurrentState:  context.State,
			StateData:     context.StateData,
			Event:         payload.Event,
			Timestamp:     now,
			Error: &StateErrorDetail{
				Message:   "event " + string(payload.Event) + " is not valid in state " + string(context.State),
				Code:      "INVALID_TRANSITION",
				Source:    "lifecycle",
				Timestamp: now,
			},
		}
	}

	data := context.StateData.merge(payload.Data)
	data.BookingID = context.BookingID
	data.LastEventType = payload.Event
	data.Timestamp = now

	if hook := exitHooks[context.State]; hook != nil {
		data = hook(m, context.BookingID, data, now)
	}
	if hook := entryHooks[next]; hook != nil {
		data = hook(m, context.BookingID, data, now)
	}
	if mapping, ok := statusByState[next]; ok {
		data.BookingStatus = mapping.booking
		data.PaymentStatus = mapping.payment
	}

	m.logger.Info("booking transition",
		"booking_id", context.BookingID,
		"event", payload.Event,
		"from", context.State,
		"to", next,
	)

	return TransitionResult{
		Success:       true,
		PreviousState: context.State,
		CurrentState:  next,
		StateData:     data,
		Event:         payload.Event,
		Timestamp:     now,
	}
}

type hookFunc func(m *Machine, bookingID string, data BookingStateData, now time.Time) BookingStateData

// entryHooks run on the entering state after the patch merge. They only
// reshape data; durable effects (persistence, token minting) belong to the
// layers above.
var entryHooks = map[State]hookFunc{
	StateCancellationRequested: func(m *Machine, bookingID string, data BookingStateData, now time.Time) BookingStateData {
		if data.CancelledAt == nil {
			data.CancelledAt = &now
		}
		return data
	},
	StateError: func(m *Machine, bookingID string, data BookingStateData, now time.Time) BookingStateData {
		if data.Error == nil {
			data.Error = &StateErrorDetail{
				Message:   "unspecified booking error",
				Code:      "UNKNOWN",
				Timestamp: now,
			}
		}
		m.logger.Warn("booking entered error state",
			"booking_id", bookingID,
			"error", data.Error.Message,
			"code", data.Error.Code,
		)
		return data
	},
}

// exitHooks run on the exiting state before the entry hook of the new state.
var exitHooks = map[State]hookFunc{
	StateError: func(m *Machine, bookingID string, data BookingStateData, now time.Time) BookingStateData {
		// Recovery leaves the error behind.
		data.Error = nil
		return data
	},
}
