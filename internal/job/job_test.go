package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"authorize payment", StatusAwaitingPayment, StatusPending, true},
		{"cancel before payment", StatusAwaitingPayment, StatusCancelled, true},
		{"claim", StatusPending, StatusInProgress, true},
		{"cancel open job", StatusPending, StatusCancelled, true},
		{"mark done", StatusInProgress, StatusPendingConfirmation, true},
		{"cancel mid-work", StatusInProgress, StatusCancelled, true},
		{"confirm", StatusPendingConfirmation, StatusCompleted, true},
		{"reopen", StatusPendingConfirmation, StatusInProgress, true},

		{"skip payment", StatusAwaitingPayment, StatusInProgress, false},
		{"skip claim", StatusPending, StatusPendingConfirmation, false},
		{"complete unclaimed", StatusPending, StatusCompleted, false},
		{"cancel after provider done", StatusPendingConfirmation, StatusCancelled, false},
		{"reopen completed", StatusCompleted, StatusInProgress, false},
		{"revive cancelled", StatusCancelled, StatusPending, false},
		{"complete twice", StatusCompleted, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPendingConfirmation.Terminal())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusAwaitingPayment.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("paid").Valid())
	assert.False(t, Status("").Valid())
}

func TestTotalCents(t *testing.T) {
	j := &Job{ServiceFeeCents: 12000, PlatformFeeCents: 500}
	assert.Equal(t, int64(12500), j.TotalCents())
}

func TestAddWorkingDays(t *testing.T) {
	// 2025-06-02 is a Monday.
	monday := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	friday := time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC)
	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		days int
		want time.Weekday
		date int
	}{
		{"monday plus three is thursday", monday, 3, time.Thursday, 5},
		{"friday plus three skips the weekend", friday, 3, time.Wednesday, 11},
		{"saturday start counts from monday", saturday, 1, time.Monday, 9},
		{"friday plus one is monday", friday, 1, time.Monday, 9},
		{"monday plus five is next monday", monday, 5, time.Monday, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AddWorkingDays(tt.from, tt.days)
			assert.Equal(t, tt.want, got.Weekday())
			assert.Equal(t, tt.date, got.Day())
		})
	}
}
