package bookings

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// CalendlyWebhookHandler maps Calendly scheduling events onto booking
// lifecycle events.
type CalendlyWebhookHandler struct {
	webhookSecret string
	service       *Service
	processed     processedLedger
	logger        *logging.Logger
}

// NewCalendlyWebhookHandler creates a new handler for Calendly webhooks.
func NewCalendlyWebhookHandler(webhookSecret string, service *Service, processed processedLedger, logger *logging.Logger) *CalendlyWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendlyWebhookHandler{
		webhookSecret: webhookSecret,
		service:       service,
		processed:     processed,
		logger:        logger,
	}
}

// Handle processes incoming Calendly webhook events.
func (h *CalendlyWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !verifySignedPayload(h.webhookSecret, payload, r.Header.Get("Calendly-Webhook-Signature")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt calendlyWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode calendly event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	event, patch, ok := mapCalendlyEvent(evt)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	bookingID := evt.Payload.Tracking.UTMContent
	if bookingID == "" {
		h.logger.Warn("calendly webhook missing booking id tracking field", "type", evt.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Calendly sends no event id; the invitee URI plus event type is unique
	// per delivery cause.
	dedupKey := evt.Event + ":" + evt.Payload.Invitee.URI
	if seen, err := h.processed.AlreadyProcessed(r.Context(), "calendly", dedupKey); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if seen {
		w.WriteHeader(http.StatusOK)
		return
	}

	result, noop, err := h.service.ApplyProviderEvent(r.Context(), "calendly", bookingID, event, patch)
	if err != nil {
		h.logger.Error("calendly event application failed", "error", err, "booking_id", bookingID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if result.Success || noop {
		if _, err := h.processed.MarkProcessed(r.Context(), "calendly", dedupKey); err != nil {
			h.logger.Error("failed to record processed event", "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// mapCalendlyEvent translates a Calendly event type into the internal
// lifecycle event and state-data patch.
func mapCalendlyEvent(evt calendlyWebhookEvent) (lifecycle.Event, lifecycle.BookingStateData, bool) {
	switch evt.Event {
	case "invitee.created":
		patch := lifecycle.BookingStateData{
			CalendlyEventID:    lastPathSegment(evt.Payload.Event.URI),
			CalendlyEventURI:   evt.Payload.Event.URI,
			CalendlyInviteeURI: evt.Payload.Invitee.URI,
		}
		if t, err := time.Parse(time.RFC3339, evt.Payload.Event.StartTime); err == nil {
			patch.StartTime = &t
		}
		if t, err := time.Parse(time.RFC3339, evt.Payload.Event.EndTime); err == nil {
			patch.EndTime = &t
		}
		return lifecycle.EventCalendlyEventScheduled, patch, true
	case "invitee.canceled":
		return lifecycle.EventRequestCancellation, lifecycle.BookingStateData{
			CancelReason: evt.Payload.Cancellation.Reason,
			CancelledBy:  "client",
		}, true
	default:
		return "", lifecycle.BookingStateData{}, false
	}
}

func lastPathSegment(uri string) string {
	if uri == "" {
		return ""
	}
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	return parts[len(parts)-1]
}

// calendlyWebhookEvent is the Calendly webhook envelope.
type calendlyWebhookEvent struct {
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
	Payload   struct {
		Event struct {
			URI       string `json:"uri"`
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
		} `json:"event"`
		Invitee struct {
			URI string `json:"uri"`
		} `json:"invitee"`
		Tracking struct {
			UTMContent string `json:"utm_content"`
		} `json:"tracking"`
		Cancellation struct {
			Reason string `json:"reason"`
		} `json:"cancellation"`
	} `json:"payload"`
}
