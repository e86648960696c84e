package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/internal/observability/metrics"
	"github.com/buildappswith/booking-engine/internal/secure"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

var bookingsTracer = otel.Tracer("buildappswith.internal.bookings")

const defaultSessionLength = time.Hour

func nowUTC() time.Time { return time.Now().UTC() }

// Store is the persistence surface the orchestration layer needs. Repository
// implements it against Postgres; NewInMemoryStore backs local development
// and tests.
type Store interface {
	InitializeBookingState(ctx context.Context, bookingID string, state lifecycle.State, data lifecycle.BookingStateData) (lifecycle.BookingContext, error)
	GetBookingState(ctx context.Context, bookingID string) (*lifecycle.BookingContext, error)
	ExecuteTransition(ctx context.Context, bookingID string, apply func(lifecycle.BookingContext) lifecycle.TransitionResult) (lifecycle.TransitionResult, error)
	UpdateBookingState(ctx context.Context, bookingID string, result lifecycle.TransitionResult) (lifecycle.BookingContext, error)
	GetTransitionHistory(ctx context.Context, bookingID string) ([]TransitionRecord, error)
	GetBookingsInState(ctx context.Context, state lifecycle.State, limit int) ([]lifecycle.BookingContext, error)
	DeleteBookingState(ctx context.Context, bookingID string) error
}

// Service is the public face of the booking lifecycle: it glues the pure
// state machine to durable storage and is the single entry point for user
// actions and provider webhooks alike.
type Service struct {
	store   Store
	machine *lifecycle.Machine
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewService constructs the orchestration service. metrics may be nil.
func NewService(store Store, machine *lifecycle.Machine, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if machine == nil {
		panic("bookings: machine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, machine: machine, metrics: m, logger: logger}
}

// CreateBooking initializes a booking at IDLE with the supplied initial data.
// A missing booking id gets a fresh UUID.
func (s *Service) CreateBooking(ctx context.Context, data lifecycle.BookingStateData) (lifecycle.BookingContext, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()

	bookingID := data.BookingID
	if bookingID == "" {
		bookingID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("booking.id", bookingID))

	seed := s.machine.InitialStateData()
	seed = overlayInitialData(seed, data)

	bctx, err := s.store.InitializeBookingState(ctx, bookingID, s.machine.InitialState(), seed)
	if err != nil {
		span.RecordError(err)
		return lifecycle.BookingContext{}, err
	}

	s.logger.Info("booking created", "data", secure.SanitizeForLogging(bctx.StateData))
	return bctx, nil
}

// Transition loads the booking under a row lock, executes the requested
// transition, and persists the result — success or failure recorded either
// way. Invalid transitions come back as a failed TransitionResult, not an
// error; the error return is reserved for storage-level failures.
func (s *Service) Transition(ctx context.Context, bookingID string, payload lifecycle.TransitionPayload) (lifecycle.TransitionResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("booking.event", string(payload.Event)),
	)

	start := time.Now()
	result, err := s.store.ExecuteTransition(ctx, bookingID, func(current lifecycle.BookingContext) lifecycle.TransitionResult {
		return s.machine.Execute(current, payload)
	})
	s.metrics.ObserveTransitionLatency(string(payload.Event), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveTransition(string(payload.Event), "error")
		return lifecycle.TransitionResult{}, err
	}

	outcome := "rejected"
	if result.Success {
		outcome = "applied"
	}
	s.metrics.ObserveTransition(string(payload.Event), outcome)
	s.logger.Info("transition "+outcome,
		"booking_id", bookingID,
		"event", payload.Event,
		"from", result.PreviousState,
		"to", result.CurrentState,
		"data", secure.SanitizeForLogging(result.StateData),
	)
	return result, nil
}

// ApplyProviderEvent feeds a mapped webhook event into the lifecycle. A
// delivery that targets a state the booking has already moved past is
// tolerated as a no-op (second return true): providers redeliver and reorder,
// and a stale webhook must never push a booking into ERROR.
func (s *Service) ApplyProviderEvent(ctx context.Context, provider, bookingID string, event lifecycle.Event, patch lifecycle.BookingStateData) (lifecycle.TransitionResult, bool, error) {
	result, err := s.Transition(ctx, bookingID, lifecycle.TransitionPayload{Event: event, Data: patch})
	if err != nil {
		s.metrics.ObserveWebhook(provider, "error")
		return lifecycle.TransitionResult{}, false, err
	}

	if result.Success {
		s.metrics.ObserveWebhook(provider, "applied")
		return result, false, nil
	}

	if target, ok := lifecycle.EventTarget(event); ok && lifecycle.HasPassed(result.CurrentState, target) {
		s.metrics.ObserveWebhook(provider, "duplicate")
		s.logger.Info("stale provider event ignored",
			"provider", provider,
			"booking_id", bookingID,
			"event", event,
			"current_state", result.CurrentState,
		)
		return result, true, nil
	}

	s.metrics.ObserveWebhook(provider, "rejected")
	s.logger.Warn("provider event not applicable",
		"provider", provider,
		"booking_id", bookingID,
		"event", event,
		"current_state", result.CurrentState,
	)
	return result, false, nil
}

// GetBooking returns the current context, or ErrNotFound.
func (s *Service) GetBooking(ctx context.Context, bookingID string) (lifecycle.BookingContext, error) {
	bctx, err := s.store.GetBookingState(ctx, bookingID)
	if err != nil {
		return lifecycle.BookingContext{}, err
	}
	if bctx == nil {
		return lifecycle.BookingContext{}, fmt.Errorf("bookings: get %s: %w", bookingID, ErrNotFound)
	}
	return *bctx, nil
}

// AllowedTransitions lists the events the booking currently accepts.
func (s *Service) AllowedTransitions(ctx context.Context, bookingID string) ([]lifecycle.Event, error) {
	bctx, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.machine.AllowedTransitions(bctx.State), nil
}

// History returns the booking's transition log.
func (s *Service) History(ctx context.Context, bookingID string) ([]TransitionRecord, error) {
	return s.store.GetTransitionHistory(ctx, bookingID)
}

// BookingsInState lists bookings sitting in a given state.
func (s *Service) BookingsInState(ctx context.Context, state lifecycle.State, limit int) ([]lifecycle.BookingContext, error) {
	return s.store.GetBookingsInState(ctx, state, limit)
}

// DeleteBooking removes a booking and its history. Admin/test surface only.
func (s *Service) DeleteBooking(ctx context.Context, bookingID string) error {
	return s.store.DeleteBookingState(ctx, bookingID)
}

// overlayInitialData copies caller-supplied fields over the machine's seed
// data without losing the seed timestamp.
func overlayInitialData(seed, data lifecycle.BookingStateData) lifecycle.BookingStateData {
	ts := seed.Timestamp
	out := data
	if out.Timestamp.IsZero() {
		out.Timestamp = ts
	}
	return out
}
