package lifecycle

import "time"

// BookingStatus is the customer-facing status of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

// PaymentStatus is the payment-side status of a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "UNPAID"
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
)

// StateErrorDetail is the structured error carried in booking state data after an
// ERROR_OCCURRED transition.
type StateErrorDetail struct {
	Message       string    `json:"message"`
	Code          string    `json:"code,omitempty"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Retryable     bool      `json:"retryable"`
	RecoveryToken string    `json:"recoveryToken,omitempty"`
}

// BookingStateData is the mutable payload threaded through every transition.
// All fields are optional; identifiers become required as the flow progresses.
type BookingStateData struct {
	BookingID     string     `json:"bookingId,omitempty"`
	BuilderID     string     `json:"builderId,omitempty"`
	ClientID      string     `json:"clientId,omitempty"`
	SessionTypeID string     `json:"sessionTypeId,omitempty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`

	BookingStatus BookingStatus `json:"bookingStatus,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`

	CalendlyEventID    string `json:"calendlyEventId,omitempty"`
	CalendlyEventURI   string `json:"calendlyEventUri,omitempty"`
	CalendlyInviteeURI string `json:"calendlyInviteeUri,omitempty"`

	// Stripe references are encrypted at rest; see internal/secure.
	StripeSessionID       string `json:"stripeSessionId,omitempty"`
	StripePaymentIntentID string `json:"stripePaymentIntentId,omitempty"`
	StripeRefundID        string `json:"stripeRefundId,omitempty"`

	CancelReason string     `json:"cancelReason,omitempty"`
	CancelledBy  string     `json:"cancelledBy,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	RefundAmount *int64     `json:"refundAmount,omitempty"`

	LastEventType Event             `json:"lastEventType,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitempty"`
	Error         *StateErrorDetail `json:"error,omitempty"`
}

// merge overlays a partial patch onto d. Zero-valued patch fields leave the
// current value untouched; there is no way to unset a field through a patch.
func (d BookingStateData) merge(patch BookingStateData) BookingStateData {
	out := d
	if patch.BookingID != "" {
		out.BookingID = patch.BookingID
	}
	if patch.BuilderID != "" {
		out.BuilderID = patch.BuilderID
	}
	if patch.ClientID != "" {
		out.ClientID = patch.ClientID
	}
	if patch.SessionTypeID != "" {
		out.SessionTypeID = patch.SessionTypeID
	}
	if patch.StartTime != nil {
		out.StartTime = patch.StartTime
	}
	if patch.EndTime != nil {
		out.EndTime = patch.EndTime
	}
	if patch.CalendlyEventID != "" {
		out.CalendlyEventID = patch.CalendlyEventID
	}
	if patch.CalendlyEventURI != "" {
		out.CalendlyEventURI = patch.CalendlyEventURI
	}
	if patch.CalendlyInviteeURI != "" {
		out.CalendlyInviteeURI = patch.CalendlyInviteeURI
	}
	if patch.StripeSessionID != "" {
		out.StripeSessionID = patch.StripeSessionID
	}
	if patch.StripePaymentIntentID != "" {
		out.StripePaymentIntentID = patch.StripePaymentIntentID
	}
	if patch.StripeRefundID != "" {
		out.StripeRefundID = patch.StripeRefundID
	}
	if patch.CancelReason != "" {
		out.CancelReason = patch.CancelReason
	}
	if patch.CancelledBy != "" {
		out.CancelledBy = patch.CancelledBy
	}
	if patch.CancelledAt != nil {
		out.CancelledAt = patch.CancelledAt
	}
	if patch.RefundAmount != nil {
		out.RefundAmount = patch.RefundAmount
	}
	if patch.Error != nil {
		out.Error = patch.Error
	}
	return out
}

// BookingContext identifies where a single booking is in its lifecycle. It is
// the unit of concurrency control: all read-modify-write of a context happens
// under a per-booking row lock.
type BookingContext struct {
	BookingID string           `json:"bookingId"`
	State     State            `json:"state"`
	StateData BookingStateData `json:"stateData"`
}

// TransitionPayload is the input to a transition request. Data is a partial
// patch merged onto the current state data.
type TransitionPayload struct {
	Event Event            `json:"event"`
	Data  BookingStateData `json:"data"`
}

// TransitionResult is the outcome of a transition attempt. Invalid
// transitions are reported here rather than as Go errors: callers must check
// Success.
type TransitionResult struct {
	Success       bool              `json:"success"`
	PreviousState State             `json:"previousState"`
	CurrentState  State             `json:"currentState"`
	StateData     BookingStateData  `json:"stateData"`
	Event         Event             `json:"event"`
	Timestamp     time.Time         `json:"timestamp"`
	Error         *StateErrorDetail `json:"error,omitempty"`
}
