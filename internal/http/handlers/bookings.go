// Package handlers exposes the booking lifecycle over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buildappswith/booking-engine/internal/bookings"
	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/internal/recovery"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// BookingsHandler serves the public booking API.
type BookingsHandler struct {
	service  *bookings.Service
	recovery *recovery.Manager
	logger   *logging.Logger
}

// NewBookingsHandler wires the booking service and recovery manager into the
// public API surface.
func NewBookingsHandler(service *bookings.Service, rec *recovery.Manager, logger *logging.Logger) *BookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsHandler{service: service, recovery: rec, logger: logger}
}

type createBookingRequest struct {
	BookingID     string `json:"bookingId"`
	BuilderID     string `json:"builderId"`
	ClientID      string `json:"clientId"`
	SessionTypeID string `json:"sessionTypeId"`
}

// Create initializes a new booking at the start of the lifecycle.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BuilderID == "" || req.SessionTypeID == "" {
		http.Error(w, "builderId and sessionTypeId are required", http.StatusBadRequest)
		return
	}

	bctx, err := h.service.CreateBooking(r.Context(), lifecycle.BookingStateData{
		BookingID:     req.BookingID,
		BuilderID:     req.BuilderID,
		ClientID:      req.ClientID,
		SessionTypeID: req.SessionTypeID,
	})
	if err != nil {
		h.logger.Error("booking creation failed", "error", err)
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, bctx)
}

type transitionRequest struct {
	Event lifecycle.Event            `json:"event"`
	Data  lifecycle.BookingStateData `json:"data"`
}

// Transition applies a lifecycle event to a booking. An invalid transition
// comes back as a failed result with 409; a storage failure is converted into
// a recorded ERROR transition and answered with the recovery outcome.
func (h *BookingsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	if bookingID == "" {
		http.Error(w, "missing booking id", http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Transition(r.Context(), bookingID, lifecycle.TransitionPayload{
		Event: req.Event,
		Data:  req.Data,
	})
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		outcome, recErr := h.recovery.HandleBookingError(r.Context(), bookingID, err, nil)
		if recErr != nil {
			h.logger.Error("error handling failed", "booking_id", bookingID, "error", recErr)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusInternalServerError, outcome)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// Get returns the current lifecycle context for a booking.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	bctx, err := h.service.GetBooking(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		h.logger.Error("booking lookup failed", "booking_id", bookingID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bctx)
}

// AllowedTransitions lists the events a booking currently accepts.
func (h *BookingsHandler) AllowedTransitions(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	events, err := h.service.AllowedTransitions(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		h.logger.Error("allowed transitions lookup failed", "booking_id", bookingID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bookingId": bookingID,
		"events":    events,
	})
}

// History returns a booking's transition log, oldest first.
func (h *BookingsHandler) History(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	records, err := h.service.History(r.Context(), bookingID)
	if err != nil {
		h.logger.Error("history lookup failed", "booking_id", bookingID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []bookings.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Recover redeems a recovery token minted when a booking entered ERROR.
func (h *BookingsHandler) Recover(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	target := lifecycle.State(r.URL.Query().Get("state"))

	result, err := h.recovery.RecoverWithToken(r.Context(), token, target)
	if err != nil {
		h.logger.Error("recovery failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusGone, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
