package bookings

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

func newTestService(t *testing.T) (*Service, *InMemoryStore) {
	t.Helper()
	logger := logging.NewWithWriter("error", io.Discard)
	store := NewInMemoryStore()
	return NewService(store, lifecycle.NewMachine(logger), nil, logger), store
}

func advance(t *testing.T, svc *Service, bookingID string, events ...lifecycle.Event) lifecycle.TransitionResult {
	t.Helper()
	var last lifecycle.TransitionResult
	for _, event := range events {
		result, err := svc.Transition(context.Background(), bookingID, lifecycle.TransitionPayload{Event: event})
		require.NoError(t, err)
		require.True(t, result.Success, "event %s rejected in state %s", event, result.PreviousState)
		last = result
	}
	return last
}

func TestCreateBookingGeneratesID(t *testing.T) {
	svc, _ := newTestService(t)

	bctx, err := svc.CreateBooking(context.Background(), lifecycle.BookingStateData{
		BuilderID:     "builder-1",
		ClientID:      "client-1",
		SessionTypeID: "session-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, bctx.BookingID)
	assert.Equal(t, lifecycle.StateIdle, bctx.State)
	assert.Equal(t, "builder-1", bctx.StateData.BuilderID)
	assert.NotNil(t, bctx.StateData.StartTime)
	assert.NotNil(t, bctx.StateData.EndTime)
}

func TestCreateBookingKeepsSuppliedID(t *testing.T) {
	svc, _ := newTestService(t)

	bctx, err := svc.CreateBooking(context.Background(), lifecycle.BookingStateData{BookingID: "bk-supplied"})
	require.NoError(t, err)
	assert.Equal(t, "bk-supplied", bctx.BookingID)
}

func TestHappyPathToConfirmed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bctx, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-1", BuilderID: "builder-1"})
	require.NoError(t, err)

	last := advance(t, svc, bctx.BookingID,
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
		lifecycle.EventCalendlyEventScheduled,
		lifecycle.EventInitiatePayment,
		lifecycle.EventPaymentInitiated,
		lifecycle.EventPaymentSucceeded,
		lifecycle.EventConfirmBooking,
	)

	assert.Equal(t, lifecycle.StateBookingConfirmed, last.CurrentState)
	assert.Equal(t, lifecycle.BookingStatusConfirmed, last.StateData.BookingStatus)
	assert.Equal(t, lifecycle.PaymentStatusPaid, last.StateData.PaymentStatus)

	history, err := svc.History(ctx, "bk-1")
	require.NoError(t, err)
	assert.Len(t, history, 7)
	assert.Equal(t, lifecycle.StateIdle, history[0].FromState)
	assert.Equal(t, lifecycle.StateBookingConfirmed, history[len(history)-1].ToState)
}

func TestTransitionInvalidIsFailedResultNotError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-2"})
	require.NoError(t, err)

	result, err := svc.Transition(ctx, "bk-2", lifecycle.TransitionPayload{Event: lifecycle.EventConfirmBooking})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, lifecycle.StateIdle, result.CurrentState)
	require.NotNil(t, result.Error)
	assert.Equal(t, "INVALID_TRANSITION", result.Error.Code)

	// The rejection still lands in the history log.
	history, err := svc.History(ctx, "bk-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestTransitionUnknownBooking(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Transition(context.Background(), "missing", lifecycle.TransitionPayload{Event: lifecycle.EventSelectSessionType})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestApplyProviderEventDuplicateIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-3"})
	require.NoError(t, err)
	advance(t, svc, "bk-3",
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
		lifecycle.EventCalendlyEventScheduled,
		lifecycle.EventInitiatePayment,
		lifecycle.EventPaymentInitiated,
		lifecycle.EventPaymentSucceeded,
		lifecycle.EventConfirmBooking,
	)

	// A redelivered payment success arrives after confirmation.
	result, noop, err := svc.ApplyProviderEvent(ctx, "stripe", "bk-3", lifecycle.EventPaymentSucceeded, lifecycle.BookingStateData{})
	require.NoError(t, err)
	assert.True(t, noop)
	assert.False(t, result.Success)

	bctx, err := svc.GetBooking(ctx, "bk-3")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateBookingConfirmed, bctx.State)
}

func TestApplyProviderEventPrematureIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-4"})
	require.NoError(t, err)

	// Payment success before the payment flow even started.
	result, noop, err := svc.ApplyProviderEvent(ctx, "stripe", "bk-4", lifecycle.EventPaymentSucceeded, lifecycle.BookingStateData{})
	require.NoError(t, err)
	assert.False(t, noop)
	assert.False(t, result.Success)
}

func TestApplyProviderEventAppliesPatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-5"})
	require.NoError(t, err)
	advance(t, svc, "bk-5",
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
		lifecycle.EventCalendlyEventScheduled,
		lifecycle.EventInitiatePayment,
		lifecycle.EventPaymentInitiated,
	)

	result, noop, err := svc.ApplyProviderEvent(ctx, "stripe", "bk-5", lifecycle.EventPaymentSucceeded, lifecycle.BookingStateData{
		StripeSessionID:       "cs_test_abc",
		StripePaymentIntentID: "pi_test_def",
	})
	require.NoError(t, err)
	assert.False(t, noop)
	assert.True(t, result.Success)
	assert.Equal(t, lifecycle.StatePaymentSucceeded, result.CurrentState)
	assert.Equal(t, "cs_test_abc", result.StateData.StripeSessionID)
	assert.Equal(t, lifecycle.PaymentStatusPaid, result.StateData.PaymentStatus)
}

func TestAllowedTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-6"})
	require.NoError(t, err)

	events, err := svc.AllowedTransitions(ctx, "bk-6")
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.Event{lifecycle.EventErrorOccurred, lifecycle.EventSelectSessionType}, events)

	_, err = svc.AllowedTransitions(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteBooking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: "bk-7"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBooking(ctx, "bk-7"))

	_, err = svc.GetBooking(ctx, "bk-7")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBookingsInState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"bk-a", "bk-b"} {
		_, err := svc.CreateBooking(ctx, lifecycle.BookingStateData{BookingID: id})
		require.NoError(t, err)
	}
	advance(t, svc, "bk-a", lifecycle.EventSelectSessionType)

	idle, err := svc.BookingsInState(ctx, lifecycle.StateIdle, 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "bk-b", idle[0].BookingID)
}
