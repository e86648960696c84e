package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/buildappswith/booking-engine/internal/faults"
	"github.com/buildappswith/booking-engine/internal/lifecycle"
	"github.com/buildappswith/booking-engine/internal/secure"
	"github.com/buildappswith/booking-engine/pkg/logging"
)

// ErrNotFound is returned when a booking id has no stored state.
var ErrNotFound = errors.New("bookings: booking not found")

// dbConn is the slice of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists booking lifecycle state in Postgres. Sensitive provider
// references are encrypted before every write and decrypted after every read;
// a set of plaintext-safe columns is denormalized from the state data so the
// marketplace can query bookings without touching ciphertext.
type Repository struct {
	db     dbConn
	box    *secure.Box
	logger *logging.Logger
}

// NewRepository creates a repository backed by a pgx pool (or mock).
func NewRepository(db dbConn, box *secure.Box, logger *logging.Logger) *Repository {
	if db == nil {
		panic("bookings: db connection required")
	}
	if box == nil {
		panic("bookings: secure box required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, box: box, logger: logger}
}

// TransitionRecord is one entry in a booking's append-only transition log.
type TransitionRecord struct {
	ID           int64           `json:"id"`
	BookingID    string          `json:"bookingId"`
	FromState    lifecycle.State `json:"fromState"`
	ToState      lifecycle.State `json:"toState"`
	Event        lifecycle.Event `json:"event"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    string          `json:"createdAt"`
}

const upsertStateSQL = `
	INSERT INTO booking_states (
		booking_id, current_state, state_data,
		status, payment_status, builder_id, client_id, session_type_id,
		start_time, end_time, calendly_event_id,
		cancel_reason, cancelled_by, cancelled_at, refund_amount,
		last_event, last_transition
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
	ON CONFLICT (booking_id) DO UPDATE SET
		current_state = EXCLUDED.current_state,
		state_data = EXCLUDED.state_data,
		status = EXCLUDED.status,
		payment_status = EXCLUDED.payment_status,
		builder_id = EXCLUDED.builder_id,
		client_id = EXCLUDED.client_id,
		session_type_id = EXCLUDED.session_type_id,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		calendly_event_id = EXCLUDED.calendly_event_id,
		cancel_reason = EXCLUDED.cancel_reason,
		cancelled_by = EXCLUDED.cancelled_by,
		cancelled_at = EXCLUDED.cancelled_at,
		refund_amount = EXCLUDED.refund_amount,
		last_event = EXCLUDED.last_event,
		last_transition = now()
`

// InitializeBookingState upserts the record for bookingID. Missing core
// fields get well-formed defaults (empty builder, start now, end one hour
// later) so the row never violates downstream expectations.
func (r *Repository) InitializeBookingState(ctx context.Context, bookingID string, state lifecycle.State, data lifecycle.BookingStateData) (lifecycle.BookingContext, error) {
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

	enc := r.box.EncryptSensitiveFields(data)
	raw, err := json.Marshal(enc)
	if err != nil {
		return lifecycle.BookingContext{}, fmt.Errorf("bookings: marshal state data: %w", err)
	}

	if _, err := r.db.Exec(ctx, upsertStateSQL, stateArgs(bookingID, state, raw, enc)...); err != nil {
		return lifecycle.BookingContext{}, faults.Tag(fmt.Errorf("bookings: initialize state: %w", err), faults.CategoryDatabase)
	}

	r.logger.Info("booking state initialized", "booking_id", bookingID, "state", state)
	return lifecycle.BookingContext{BookingID: bookingID, State: state, StateData: data}, nil
}

// GetBookingState loads the current context for bookingID, decrypting
// sensitive fields. It returns nil (no error) when the booking is absent or
// no state was ever set.
func (r *Repository) GetBookingState(ctx context.Context, bookingID string) (*lifecycle.BookingContext, error) {
	query := `SELECT current_state, state_data FROM booking_states WHERE booking_id = $1`
	var state string
	var raw []byte
	if err := r.db.QueryRow(ctx, query, bookingID).Scan(&state, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, faults.Tag(fmt.Errorf("bookings: load state: %w", err), faults.CategoryDatabase)
	}
	if state == "" {
		return nil, nil
	}

	bctx, err := r.decodeContext(bookingID, state, raw)
	if err != nil {
		return nil, err
	}
	return &bctx, nil
}

// ExecuteTransition runs a read-modify-write for one booking inside a single
// transaction, holding a row lock so concurrent transitions for the same
// booking serialize. apply computes the transition from the current context;
// the result is persisted either way: a failed transition leaves the state
// row alone but still lands in the history log.
func (r *Repository) ExecuteTransition(ctx context.Context, bookingID string, apply func(lifecycle.BookingContext) lifecycle.TransitionResult) (lifecycle.TransitionResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return lifecycle.TransitionResult{}, faults.Tag(fmt.Errorf("bookings: begin transition: %w", err), faults.CategoryDatabase)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT current_state, state_data FROM booking_states WHERE booking_id = $1 FOR UPDATE`
	var state string
	var raw []byte
	if err := tx.QueryRow(ctx, query, bookingID).Scan(&state, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lifecycle.TransitionResult{}, fmt.Errorf("bookings: execute transition: %w", ErrNotFound)
		}
		return lifecycle.TransitionResult{}, faults.Tag(fmt.Errorf("bookings: lock state: %w", err), faults.CategoryDatabase)
	}

	bctx, err := r.decodeContext(bookingID, state, raw)
	if err != nil {
		return lifecycle.TransitionResult{}, err
	}

	result := apply(bctx)

	if result.Success {
		if err := r.writeStateTx(ctx, tx, bookingID, result); err != nil {
			return lifecycle.TransitionResult{}, err
		}
	}
	if err := r.appendHistoryTx(ctx, tx, bookingID, result); err != nil {
		return lifecycle.TransitionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return lifecycle.TransitionResult{}, faults.Tag(fmt.Errorf("bookings: commit transition: %w", err), faults.CategoryDatabase)
	}
	return result, nil
}

// UpdateBookingState persists a transition result outside the locked
// read-modify-write path. The recovery layer uses it after it has already
// computed a result; state row and history entry are still written in one
// transaction.
func (r *Repository) UpdateBookingState(ctx context.Context, bookingID string, result lifecycle.TransitionResult) (lifecycle.BookingContext, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return lifecycle.BookingContext{}, faults.Tag(fmt.Errorf("bookings: begin update: %w", err), faults.CategoryDatabase)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if result.Success {
		if err := r.writeStateTx(ctx, tx, bookingID, result); err != nil {
			return lifecycle.BookingContext{}, err
		}
	}
	if err := r.appendHistoryTx(ctx, tx, bookingID, result); err != nil {
		return lifecycle.BookingContext{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return lifecycle.BookingContext{}, faults.Tag(fmt.Errorf("bookings: commit update: %w", err), faults.CategoryDatabase)
	}

	return lifecycle.BookingContext{BookingID: bookingID, State: result.CurrentState, StateData: result.StateData}, nil
}

// GetTransitionHistory returns the append-only transition log for a booking,
// oldest first.
func (r *Repository) GetTransitionHistory(ctx context.Context, bookingID string) ([]TransitionRecord, error) {
	query := `
		SELECT id, booking_id, from_state, to_state, event, success, COALESCE(error_message, ''), created_at::text
		FROM booking_transitions
		WHERE booking_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		return nil, faults.Tag(fmt.Errorf("bookings: load history: %w", err), faults.CategoryDatabase)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.BookingID, &rec.FromState, &rec.ToState, &rec.Event, &rec.Success, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, faults.Tag(fmt.Errorf("bookings: scan history: %w", err), faults.CategoryDatabase)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Tag(fmt.Errorf("bookings: iterate history: %w", err), faults.CategoryDatabase)
	}
	return records, nil
}

// GetBookingsInState lists bookings currently in state, oldest transition
// first, for operational scans.
func (r *Repository) GetBookingsInState(ctx context.Context, state lifecycle.State, limit int) ([]lifecycle.BookingContext, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT booking_id, current_state, state_data
		FROM booking_states
		WHERE current_state = $1
		ORDER BY last_transition
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(state), limit)
	if err != nil {
		return nil, faults.Tag(fmt.Errorf("bookings: list by state: %w", err), faults.CategoryDatabase)
	}
	defer rows.Close()

	var contexts []lifecycle.BookingContext
	for rows.Next() {
		var id, cur string
		var raw []byte
		if err := rows.Scan(&id, &cur, &raw); err != nil {
			return nil, faults.Tag(fmt.Errorf("bookings: scan state row: %w", err), faults.CategoryDatabase)
		}
		bctx, err := r.decodeContext(id, cur, raw)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, bctx)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Tag(fmt.Errorf("bookings: iterate state rows: %w", err), faults.CategoryDatabase)
	}
	return contexts, nil
}

// DeleteBookingState removes a booking record and its history in one
// transaction. Test and cleanup use only; bookings are never hard-deleted in
// normal operation.
func (r *Repository) DeleteBookingState(ctx context.Context, bookingID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return faults.Tag(fmt.Errorf("bookings: begin delete: %w", err), faults.CategoryDatabase)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM booking_transitions WHERE booking_id = $1`, bookingID); err != nil {
		return faults.Tag(fmt.Errorf("bookings: delete history: %w", err), faults.CategoryDatabase)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM booking_states WHERE booking_id = $1`, bookingID); err != nil {
		return faults.Tag(fmt.Errorf("bookings: delete state: %w", err), faults.CategoryDatabase)
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Tag(fmt.Errorf("bookings: commit delete: %w", err), faults.CategoryDatabase)
	}
	return nil
}

func (r *Repository) writeStateTx(ctx context.Context, tx pgx.Tx, bookingID string, result lifecycle.TransitionResult) error {
	enc := r.box.EncryptSensitiveFields(result.StateData)
	raw, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("bookings: marshal state data: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertStateSQL, stateArgs(bookingID, result.CurrentState, raw, enc)...); err != nil {
		return faults.Tag(fmt.Errorf("bookings: write state: %w", err), faults.CategoryDatabase)
	}
	return nil
}

func (r *Repository) appendHistoryTx(ctx context.Context, tx pgx.Tx, bookingID string, result lifecycle.TransitionResult) error {
	query := `
		INSERT INTO booking_transitions (booking_id, from_state, to_state, event, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var errMsg *string
	if result.Error != nil {
		errMsg = &result.Error.Message
	}
	if _, err := tx.Exec(ctx, query,
		bookingID, string(result.PreviousState), string(result.CurrentState),
		string(result.Event), result.Success, errMsg,
	); err != nil {
		return faults.Tag(fmt.Errorf("bookings: append history: %w", err), faults.CategoryDatabase)
	}
	return nil
}

func (r *Repository) decodeContext(bookingID, state string, raw []byte) (lifecycle.BookingContext, error) {
	var data lifecycle.BookingStateData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return lifecycle.BookingContext{}, fmt.Errorf("bookings: unmarshal state data: %w", err)
		}
	}
	data = r.box.DecryptSensitiveFields(data)
	return lifecycle.BookingContext{
		BookingID: bookingID,
		State:     lifecycle.State(state),
		StateData: data,
	}, nil
}

// stateArgs flattens the denormalized columns for the upsert. The Stripe
// references stay inside the encrypted JSONB only; everything denormalized
// here is safe to index and query in plaintext.
func stateArgs(bookingID string, state lifecycle.State, raw []byte, data lifecycle.BookingStateData) []any {
	return []any{
		bookingID,
		string(state),
		raw,
		string(data.BookingStatus),
		string(data.PaymentStatus),
		data.BuilderID,
		data.ClientID,
		data.SessionTypeID,
		data.StartTime,
		data.EndTime,
		data.CalendlyEventID,
		data.CancelReason,
		data.CancelledBy,
		data.CancelledAt,
		data.RefundAmount,
		string(data.LastEventType),
	}
}
