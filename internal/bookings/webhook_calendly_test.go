package bookings

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
)

func TestCalendlyWebhookInviteeCreated(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	seedAt(t, svc, "bk-cal-1",
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
	)

	payload := []byte(`{
		"event": "invitee.created",
		"payload": {
			"event": {
				"uri": "https://api.calendly.com/scheduled_events/EVT123",
				"start_time": "2026-09-15T14:00:00Z",
				"end_time": "2026-09-15T15:00:00Z"
			},
			"invitee": {"uri": "https://api.calendly.com/scheduled_events/EVT123/invitees/INV456"},
			"tracking": {"utm_content": "bk-cal-1"}
		}
	}`)

	rec := postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	bctx, err := svc.GetBooking(context.Background(), "bk-cal-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCalendlyEventScheduled, bctx.State)
	assert.Equal(t, "EVT123", bctx.StateData.CalendlyEventID)
	assert.Equal(t, "https://api.calendly.com/scheduled_events/EVT123", bctx.StateData.CalendlyEventURI)
	assert.Equal(t, lifecycle.BookingStatusPending, bctx.StateData.BookingStatus)
	assert.Equal(t, lifecycle.PaymentStatusUnpaid, bctx.StateData.PaymentStatus)
	require.NotNil(t, bctx.StateData.StartTime)
	assert.Equal(t, time.Date(2026, 9, 15, 14, 0, 0, 0, time.UTC), bctx.StateData.StartTime.UTC())
}

func TestCalendlyWebhookInviteeCanceled(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	seedAt(t, svc, "bk-cal-2",
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
		lifecycle.EventCalendlyEventScheduled,
		lifecycle.EventInitiatePayment,
		lifecycle.EventPaymentInitiated,
		lifecycle.EventPaymentSucceeded,
		lifecycle.EventConfirmBooking,
	)

	payload := []byte(`{
		"event": "invitee.canceled",
		"payload": {
			"invitee": {"uri": "https://api.calendly.com/scheduled_events/EVT123/invitees/INV456"},
			"tracking": {"utm_content": "bk-cal-2"},
			"cancellation": {"reason": "schedule conflict"}
		}
	}`)

	rec := postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	bctx, err := svc.GetBooking(context.Background(), "bk-cal-2")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCancellationRequested, bctx.State)
	assert.Equal(t, "schedule conflict", bctx.StateData.CancelReason)
	assert.Equal(t, "client", bctx.StateData.CancelledBy)
	assert.NotNil(t, bctx.StateData.CancelledAt)
}

func TestCalendlyWebhookDuplicateInvitee(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	seedAt(t, svc, "bk-cal-3",
		lifecycle.EventSelectSessionType,
		lifecycle.EventInitiateCalendlyScheduling,
	)

	payload := []byte(`{
		"event": "invitee.created",
		"payload": {
			"event": {"uri": "https://api.calendly.com/scheduled_events/EVT999"},
			"invitee": {"uri": "https://api.calendly.com/scheduled_events/EVT999/invitees/INV1"},
			"tracking": {"utm_content": "bk-cal-3"}
		}
	}`)

	rec := postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)

	history, err := svc.History(context.Background(), "bk-cal-3")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCalendlyWebhookMissingTracking(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	payload := []byte(`{
		"event": "invitee.created",
		"payload": {"event": {"uri": "https://api.calendly.com/scheduled_events/EVT1"}, "invitee": {"uri": "x"}}
	}`)

	rec := postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCalendlyWebhookRejectsBadSignature(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	payload := []byte(`{"event": "invitee.created", "payload": {}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendly", bytes.NewReader(payload))
	req.Header.Set("Calendly-Webhook-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCalendlyWebhookIgnoresOtherEvents(t *testing.T) {
	svc, ledger := newWebhookFixture(t)
	handler := NewCalendlyWebhookHandler(testWebhookSecret, svc, ledger, nil)

	payload := []byte(`{"event": "routing_form_submission.created", "payload": {}}`)
	rec := postWebhook(t, handler.Handle, "Calendly-Webhook-Signature", testWebhookSecret, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
}
