package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v81"
)

// classify maps a raw Stripe error onto the package error taxonomy.
// Anything we cannot attribute to the request itself is treated as
// transient so retries and the circuit breaker engage.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch {
		case sErr.Type == stripe.ErrorTypeCard:
			return fmt.Errorf("%w: %s", ErrDeclined, sErr.Code)
		case sErr.Type == stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, sErr.Msg)
		case sErr.HTTPStatusCode == http.StatusTooManyRequests,
			sErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrUnavailable, sErr.Msg)
		default:
			return fmt.Errorf("%w: %s", ErrUnavailable, sErr.Msg)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Network-level failure with no Stripe error attached.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// isTransient reports whether err counts against the circuit breaker.
func isTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
