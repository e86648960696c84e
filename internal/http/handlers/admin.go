package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buildappswith/booking-engine/internal/bookings"
	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// AdminHandler serves operational endpoints behind admin auth.
type AdminHandler struct {
	service *bookings.Service
	logger  *logging.Logger
}

// NewAdminHandler creates the admin API handler.
func NewAdminHandler(service *bookings.Service, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{service: service, logger: logger}
}

// ListByState returns bookings sitting in a given lifecycle state. Operators
// use it to find stuck bookings (long-lived ERROR or PAYMENT_PENDING rows).
func (h *AdminHandler) ListByState(w http.ResponseWriter, r *http.Request) {
	state := lifecycle.State(r.URL.Query().Get("state"))
	if state == "" {
		http.Error(w, "state query parameter is required", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	contexts, err := h.service.BookingsInState(r.Context(), state, limit)
	if err != nil {
		h.logger.Error("list by state failed", "state", state, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if contexts == nil {
		contexts = []lifecycle.BookingContext{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"count":    len(contexts),
		"bookings": contexts,
	})
}

// Delete removes a booking record and its transition history.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	if bookingID == "" {
		http.Error(w, "missing booking id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteBooking(r.Context(), bookingID); err != nil {
		h.logger.Error("booking deletion failed", "booking_id", bookingID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("booking deleted", "booking_id", bookingID)
	w.WriteHeader(http.StatusNoContent)
}
