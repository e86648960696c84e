package bookings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buildappswith/booking-engine/internal/lifecycle"
)

// InMemoryStore is a Store for local development and tests. Per-booking
// mutexes give it the same serialization guarantee the Postgres row lock
// provides.
type InMemoryStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	states  map[string]lifecycle.BookingContext
	history map[string][]TransitionRecord
	nextID  int64
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		locks:   map[string]*sync.Mutex{},
		states:  map[string]lifecycle.BookingContext{},
		history: map[string][]TransitionRecord{},
	}
}

func (s *InMemoryStore) lockFor(bookingID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[bookingID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[bookingID] = l
	}
	return l
}

func (s *InMemoryStore) InitializeBookingState(ctx context.Context, bookingID string, state lifecycle.State, data lifecycle.BookingStateData) (lifecycle.BookingContext, error) {
	data.BookingID = bookingID
	now := nowUTC()
	if data.Timestamp.IsZero() {
		data.Timestamp = now
	}
	if data.StartTime == nil {
		data.StartTime = &now
	}
	if data.EndTime == nil {
		end := data.StartTime.Add(defaultSessionLength)
		data.EndTime = &end
	}

	bctx := lifecycle.BookingContext{BookingID: bookingID, State: state, StateData: data}
	s.mu.Lock()
	s.states[bookingID] = bctx
	s.mu.Unlock()
	return bctx, nil
}

func (s *InMemoryStore) GetBookingState(ctx context.Context, bookingID string) (*lifecycle.BookingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bctx, ok := s.states[bookingID]
	if !ok {
		return nil, nil
	}
	out := bctx
	return &out, nil
}

func (s *InMemoryStore) ExecuteTransition(ctx context.Context, bookingID string, apply func(lifecycle.BookingContext) lifecycle.TransitionResult) (lifecycle.TransitionResult, error) {
	lock := s.lockFor(bookingID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, ok := s.states[bookingID]
	s.mu.Unlock()
	if !ok {
		return lifecycle.TransitionResult{}, fmt.Errorf("bookings: execute transition: %w", ErrNotFound)
	}

	result := apply(current)

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Success {
		s.states[bookingID] = lifecycle.BookingContext{BookingID: bookingID, State: result.CurrentState, StateData: result.StateData}
	}
	s.appendLocked(bookingID, result)
	return result, nil
}

func (s *InMemoryStore) UpdateBookingState(ctx context.Context, bookingID string, result lifecycle.TransitionResult) (lifecycle.BookingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bctx := lifecycle.BookingContext{BookingID: bookingID, State: result.CurrentState, StateData: result.StateData}
	if result.Success {
		s.states[bookingID] = bctx
	}
	s.appendLocked(bookingID, result)
	return bctx, nil
}

func (s *InMemoryStore) GetTransitionHistory(ctx context.Context, bookingID string) ([]TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransitionRecord(nil), s.history[bookingID]...), nil
}

func (s *InMemoryStore) GetBookingsInState(ctx context.Context, state lifecycle.State, limit int) ([]lifecycle.BookingContext, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lifecycle.BookingContext
	for _, bctx := range s.states {
		if bctx.State == state {
			out = append(out, bctx)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteBookingState(ctx context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, bookingID)
	delete(s.history, bookingID)
	return nil
}

func (s *InMemoryStore) appendLocked(bookingID string, result lifecycle.TransitionResult) {
	s.nextID++
	rec := TransitionRecord{
		ID:        s.nextID,
		BookingID: bookingID,
		FromState: result.PreviousState,
		ToState:   result.CurrentState,
		Event:     result.Event,
		Success:   result.Success,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if result.Error != nil {
		rec.ErrorMessage = result.Error.Message
	}
	s.history[bookingID] = append(s.history[bookingID], rec)
}
