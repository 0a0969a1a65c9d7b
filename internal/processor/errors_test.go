package processor

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "nil passes through",
			in:   nil,
			want: nil,
		},
		{
			name: "card error maps to declined",
			in:   &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined},
			want: ErrDeclined,
		},
		{
			name: "invalid request maps to invalid",
			in:   &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "missing amount"},
			want: ErrInvalidRequest,
		},
		{
			name: "rate limit maps to unavailable",
			in:   &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusTooManyRequests},
			want: ErrUnavailable,
		},
		{
			name: "server error maps to unavailable",
			in:   &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusBadGateway},
			want: ErrUnavailable,
		},
		{
			name: "plain network error maps to unavailable",
			in:   fmt.Errorf("dial tcp: connection refused"),
			want: ErrUnavailable,
		},
		{
			name: "wrapped stripe error still classified",
			in:   fmt.Errorf("charge: %w", &stripe.Error{Type: stripe.ErrorTypeCard}),
			want: ErrDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(fmt.Errorf("x: %w", ErrUnavailable)))
	assert.False(t, isTransient(errors.New("boom")))
	assert.False(t, isTransient(fmt.Errorf("x: %w", ErrDeclined)))
	assert.False(t, isTransient(nil))
}
