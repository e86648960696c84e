// Package faults assigns error categories and retryability to failures
// surfacing at the booking orchestration boundary.
//
// Collaborators that know what went wrong tag their errors with Tag; the
// keyword heuristic below only backstops opaque third-party errors. Keyword
// matching is best-effort, not exhaustive: an error mentioning both "payment"
// and "network" resolves to whichever category is checked first, in the fixed
// order of categoryOrder.
package faults

import (
	"context"
	"errors"
	"strings"
)

// Category groups errors by origin.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryAuth       Category = "AUTH"
	CategoryPayment    Category = "PAYMENT"
	CategoryCalendly   Category = "CALENDLY"
	CategoryDatabase   Category = "DATABASE"
	CategoryNetwork    Category = "NETWORK"
	CategoryServer     Category = "SERVER"
	CategoryTimeout    Category = "TIMEOUT"
	CategoryUnknown    Category = "UNKNOWN"
)

// retryableCategories marks which categories are worth retrying by default.
var retryableCategories = map[Category]bool{
	CategoryPayment:  true,
	CategoryCalendly: true,
	CategoryDatabase: true,
	CategoryNetwork:  true,
	CategoryTimeout:  true,
}

// categoryOrder fixes the precedence of the keyword heuristic.
var categoryOrder = []Category{
	CategoryValidation,
	CategoryAuth,
	CategoryPayment,
	CategoryCalendly,
	CategoryDatabase,
	CategoryNetwork,
	CategoryServer,
	CategoryTimeout,
}

var keywords = map[Category][]string{
	CategoryValidation: {"validation", "invalid", "required field", "missing field", "malformed"},
	CategoryAuth:       {"unauthorized", "forbidden", "authentication", "permission denied", "not allowed"},
	CategoryPayment:    {"stripe", "payment", "card", "charge", "checkout"},
	CategoryCalendly:   {"calendly", "scheduling", "invitee", "calendar"},
	CategoryDatabase:   {"database", "sql", "pgx", "constraint", "transaction", "deadlock"},
	CategoryNetwork:    {"network", "connection", "dial", "dns", "broken pipe", "reset by peer"},
	CategoryServer:     {"internal server", "server error", "panic"},
	CategoryTimeout:    {"timeout", "timed out", "deadline"},
}

// CategorizedError wraps an error with its category and retryability.
type CategorizedError struct {
	Err       error
	Message   string
	Category  Category
	Retryable bool
}

func (e *CategorizedError) Error() string { return e.Message }

func (e *CategorizedError) Unwrap() error { return e.Err }

// Tag wraps err with an explicit category, bypassing the keyword heuristic
// when the error is later classified. Collaborators that know their failure
// domain (the repository, the webhook clients) tag at the throw site.
func Tag(err error, category Category) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{
		Err:       err,
		Message:   err.Error(),
		Category:  category,
		Retryable: retryableCategories[category],
	}
}

// Classify inspects err and assigns a category and retryability flag.
// Explicitly tagged errors win; context deadline errors map to TIMEOUT;
// everything else goes through the keyword heuristic and falls back to
// UNKNOWN (not retryable).
func Classify(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var tagged *CategorizedError
	if errors.As(err, &tagged) {
		return tagged
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &CategorizedError{
			Err:       err,
			Message:   err.Error(),
			Category:  CategoryTimeout,
			Retryable: true,
		}
	}

	msg := strings.ToLower(err.Error())
	for _, category := range categoryOrder {
		for _, kw := range keywords[category] {
			if strings.Contains(msg, kw) {
				return &CategorizedError{
					Err:       err,
					Message:   err.Error(),
					Category:  category,
					Retryable: retryableCategories[category],
				}
			}
		}
	}

	return &CategorizedError{
		Err:      err,
		Message:  err.Error(),
		Category: CategoryUnknown,
	}
}

// IsRetryable is a convenience over Classify for callers that only need the
// flag.
func IsRetryable(err error) bool {
	c := Classify(err)
	return c != nil && c.Retryable
}
