package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		msg       string
		category  Category
		retryable bool
	}{
		{"invalid session type id", CategoryValidation, false},
		{"request unauthorized for builder", CategoryAuth, false},
		{"stripe checkout session create failed", CategoryPayment, true},
		{"calendly invitee lookup failed", CategoryCalendly, true},
		{"pgx: connection closed mid transaction", CategoryDatabase, true},
		{"dial tcp 10.0.0.1:5432: connect refused", CategoryNetwork, true},
		{"internal server error from upstream", CategoryServer, false},
		{"operation timed out after 30s", CategoryTimeout, true},
		{"something inexplicable", CategoryUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c := Classify(errors.New(tt.msg))
			require.NotNil(t, c)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// "payment" is checked before "network" in the fixed order.
	c := Classify(errors.New("payment gateway network failure"))
	assert.Equal(t, CategoryPayment, c.Category)
}

func TestTagBeatsHeuristic(t *testing.T) {
	err := Tag(errors.New("opaque driver failure"), CategoryDatabase)
	c := Classify(err)
	assert.Equal(t, CategoryDatabase, c.Category)
	assert.True(t, c.Retryable)
}

func TestTagSurvivesWrapping(t *testing.T) {
	inner := Tag(errors.New("row lock wait"), CategoryDatabase)
	wrapped := fmt.Errorf("bookings: execute transition: %w", inner)
	c := Classify(wrapped)
	assert.Equal(t, CategoryDatabase, c.Category)
}

func TestDeadlineExceededIsTimeout(t *testing.T) {
	c := Classify(fmt.Errorf("calling provider: %w", context.DeadlineExceeded))
	assert.Equal(t, CategoryTimeout, c.Category)
	assert.True(t, c.Retryable)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Nil(t, Tag(nil, CategoryDatabase))
	assert.False(t, IsRetryable(nil))
}
