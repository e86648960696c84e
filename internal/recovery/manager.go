// Package recovery turns lower-layer failures into recorded ERROR
// transitions and hands out signed tokens that let a flow resume where it
// broke.
package recovery

import (
	"context"
	"net/url"
	"time"

	"github.com/buildappswith/booking-engine/internal/faults"
	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/internal/observability/metrics"
	"github.com/buildappswith/booking-engine/internal/secure"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// Store is the slice of the booking store the recovery layer needs.
type Store interface {
	GetBookingState(ctx context.Context, bookingID string) (*lifecycle.BookingContext, error)
	UpdateBookingState(ctx context.Context, bookingID string, result lifecycle.TransitionResult) (lifecycle.BookingContext, error)
}

// Manager owns error-to-transition conversion and token redemption.
type Manager struct {
	store   Store
	machine *lifecycle.Machine
	box     *secure.Box
	metrics *metrics.BookingMetrics
	baseURL string
	logger  *logging.Logger
}

// NewManager constructs a recovery manager. baseURL anchors recovery links;
// metrics may be nil.
func NewManager(store Store, machine *lifecycle.Machine, box *secure.Box, m *metrics.BookingMetrics, baseURL string, logger *logging.Logger) *Manager {
	if store == nil {
		panic("recovery: store required")
	}
	if machine == nil {
		panic("recovery: machine required")
	}
	if box == nil {
		panic("recovery: secure box required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{store: store, machine: machine, box: box, metrics: m, baseURL: baseURL, logger: logger}
}

// ErrorOutcome reports how a failure was recorded.
type ErrorOutcome struct {
	Result        lifecycle.TransitionResult `json:"result"`
	RecoveryToken string                     `json:"recoveryToken,omitempty"`
	RecoveryURL   string                     `json:"recoveryUrl,omitempty"`
}

// HandleBookingError classifies cause, records an ERROR_OCCURRED transition
// so the booking's own state reflects the failure, and mints a recovery
// token when the error is worth retrying. It never returns a raw panic-grade
// failure: when error handling itself fails, the outcome still carries the
// booking id and a generic message.
func (m *Manager) HandleBookingError(ctx context.Context, bookingID string, cause error, current *lifecycle.BookingContext) (*ErrorOutcome, error) {
	categorized := faults.Classify(cause)

	if current == nil {
		loaded, err := m.store.GetBookingState(ctx, bookingID)
		if err != nil || loaded == nil {
			m.logger.Error("cannot load booking for error handling", "booking_id", bookingID, "error", err)
			return fallbackOutcome(bookingID, categorized), nil
		}
		current = loaded
	}

	stateErr := &lifecycle.StateErrorDetail{
		Message:   categorized.Message,
		Code:      string(categorized.Category),
		Source:    "orchestration",
		Timestamp: time.Now().UTC(),
		Retryable: categorized.Retryable,
	}

	result := m.machine.Execute(*current, lifecycle.TransitionPayload{
		Event: lifecycle.EventErrorOccurred,
		Data:  lifecycle.BookingStateData{Error: stateErr},
	})
	if !result.Success {
		// Terminal states accept no ERROR transition; report without
		// mutating the booking.
		return &ErrorOutcome{Result: result}, nil
	}

	outcome := &ErrorOutcome{}
	if categorized.Retryable {
		token, err := m.box.GenerateStateToken(bookingID, current.State)
		if err != nil {
			m.logger.Warn("recovery token generation failed", "booking_id", bookingID, "error", err)
		} else {
			result.StateData.Error.RecoveryToken = token
			outcome.RecoveryToken = token
			outcome.RecoveryURL = m.recoveryURL(token)
		}
	}

	if _, err := m.store.UpdateBookingState(ctx, bookingID, result); err != nil {
		m.logger.Error("failed to persist error transition", "booking_id", bookingID, "error", err)
		return fallbackOutcome(bookingID, categorized), nil
	}

	outcome.Result = result
	m.logger.Warn("booking error recorded",
		"booking_id", bookingID,
		"category", categorized.Category,
		"retryable", categorized.Retryable,
	)
	return outcome, nil
}

// RecoveryResult reports a token redemption.
type RecoveryResult struct {
	Success   bool                        `json:"success"`
	BookingID string                      `json:"bookingId,omitempty"`
	Result    *lifecycle.TransitionResult `json:"result,omitempty"`
}

// RecoverWithToken verifies the token and fires a RECOVER transition. A
// booking that is not in ERROR needs no recovery and counts as success; the
// resulting state is targetState when given, else the state embedded in the
// token, else IDLE.
func (m *Manager) RecoverWithToken(ctx context.Context, token string, targetState lifecycle.State) (RecoveryResult, error) {
	info := m.box.VerifyStateToken(token)
	if !info.Valid {
		m.metrics.ObserveRecovery("invalid")
		return RecoveryResult{}, nil
	}

	current, err := m.store.GetBookingState(ctx, info.BookingID)
	if err != nil {
		m.metrics.ObserveRecovery("error")
		return RecoveryResult{BookingID: info.BookingID}, err
	}
	if current == nil {
		m.metrics.ObserveRecovery("invalid")
		return RecoveryResult{BookingID: info.BookingID}, nil
	}

	if current.State != lifecycle.StateError {
		m.metrics.ObserveRecovery("noop")
		m.logger.Info("recovery requested for non-error booking", "booking_id", info.BookingID, "state", current.State)
		return RecoveryResult{Success: true, BookingID: info.BookingID}, nil
	}

	result := m.machine.Execute(*current, lifecycle.TransitionPayload{Event: lifecycle.EventRecover})
	if !result.Success {
		m.metrics.ObserveRecovery("error")
		return RecoveryResult{BookingID: info.BookingID}, nil
	}

	target := targetState
	if target == "" {
		target = info.State
	}
	if target == "" || target == lifecycle.StateError {
		target = lifecycle.StateIdle
	}
	result.CurrentState = target

	if _, err := m.store.UpdateBookingState(ctx, info.BookingID, result); err != nil {
		m.metrics.ObserveRecovery("error")
		return RecoveryResult{BookingID: info.BookingID}, err
	}

	m.metrics.ObserveRecovery("recovered")
	m.logger.Info("booking recovered", "booking_id", info.BookingID, "state", target)
	return RecoveryResult{Success: true, BookingID: info.BookingID, Result: &result}, nil
}

// RecoveryLink composes a signed recovery URL for a booking.
func (m *Manager) RecoveryLink(bookingID string, state lifecycle.State) (string, error) {
	token, err := m.box.GenerateStateToken(bookingID, state)
	if err != nil {
		return "", err
	}
	return m.recoveryURL(token), nil
}

func (m *Manager) recoveryURL(token string) string {
	return m.baseURL + "/api/bookings/recover?token=" + url.QueryEscape(token)
}

func fallbackOutcome(bookingID string, categorized *faults.CategorizedError) *ErrorOutcome {
	message := "booking error could not be fully recorded"
	code := string(faults.CategoryUnknown)
	if categorized != nil {
		code = string(categorized.Category)
	}
	return &ErrorOutcome{
		Result: lifecycle.TransitionResult{
			Success: false,
			Event:   lifecycle.EventErrorOccurred,
			StateData: lifecycle.BookingStateData{
				BookingID: bookingID,
			},
			Timestamp: time.Now().UTC(),
			Error: &lifecycle.StateErrorDetail{
				Message:   message,
				Code:      code,
				Timestamp: time.Now().UTC(),
			},
		},
	}
}
