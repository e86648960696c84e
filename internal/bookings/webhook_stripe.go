package bookings

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// processedLedger deduplicates provider webhook deliveries by event id.
type processedLedger interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// StripeWebhookHandler maps Stripe payment events onto booking lifecycle
// events.
type StripeWebhookHandler struct {
	webhookSecret string
	service       *Service
	processed     processedLedger
	logger        *logging.Logger
}

// NewStripeWebhookHandler creates a new handler for Stripe webhooks.
func NewStripeWebhookHandler(webhookSecret string, service *Service, processed processedLedger, logger *logging.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{
		webhookSecret: webhookSecret,
		service:       service,
		processed:     processed,
		logger:        logger,
	}
}

// Handle processes incoming Stripe webhook events.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !verifySignedPayload(h.webhookSecret, payload, r.Header.Get("Stripe-Signature")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	event, patch, ok := mapStripeEvent(evt)
	if !ok {
		// Not a lifecycle-relevant event type.
		w.WriteHeader(http.StatusOK)
		return
	}

	bookingID := evt.Data.Object.Metadata["booking_id"]
	if bookingID == "" {
		h.logger.Warn("stripe webhook missing booking id metadata", "event_id", evt.ID, "type", evt.Type)
		// Acknowledge to prevent retries; nothing to progress.
		w.WriteHeader(http.StatusOK)
		return
	}

	if seen, err := h.processed.AlreadyProcessed(r.Context(), "stripe", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if seen {
		w.WriteHeader(http.StatusOK)
		return
	}

	result, noop, err := h.service.ApplyProviderEvent(r.Context(), "stripe", bookingID, event, patch)
	if err != nil {
		h.logger.Error("stripe event application failed", "error", err, "booking_id", bookingID, "event_id", evt.ID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if result.Success || noop {
		if _, err := h.processed.MarkProcessed(r.Context(), "stripe", evt.ID); err != nil {
			h.logger.Error("failed to record processed event", "error", err, "event_id", evt.ID)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// mapStripeEvent translates a Stripe event type into the internal lifecycle
// event and state-data patch.
func mapStripeEvent(evt stripeWebhookEvent) (lifecycle.Event, lifecycle.BookingStateData, bool) {
	obj := evt.Data.Object
	switch evt.Type {
	case "checkout.session.completed":
		return lifecycle.EventPaymentSucceeded, lifecycle.BookingStateData{
			StripeSessionID:       obj.ID,
			StripePaymentIntentID: obj.PaymentIntent,
		}, true
	case "payment_intent.payment_failed":
		return lifecycle.EventPaymentFailed, lifecycle.BookingStateData{
			StripePaymentIntentID: obj.ID,
		}, true
	case "charge.refunded":
		patch := lifecycle.BookingStateData{
			StripePaymentIntentID: obj.PaymentIntent,
		}
		if len(obj.Refunds.Data) > 0 {
			patch.StripeRefundID = obj.Refunds.Data[0].ID
		}
		if obj.AmountRefunded > 0 {
			amount := obj.AmountRefunded
			patch.RefundAmount = &amount
		}
		return lifecycle.EventRefundProcessed, patch, true
	default:
		return "", lifecycle.BookingStateData{}, false
	}
}

// stripeWebhookEvent is the Stripe webhook envelope.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

// stripeObject covers the fields used from checkout sessions, payment
// intents, and charges.
type stripeObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountTotal    int64             `json:"amount_total"`
	AmountRefunded int64             `json:"amount_refunded"`
	Metadata       map[string]string `json:"metadata"`
	Status         string            `json:"status"`
	Refunds        struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"refunds"`
}
