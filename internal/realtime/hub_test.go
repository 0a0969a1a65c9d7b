package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mworkman/handypay/internal/alerts"
	"github.com/mworkman/handypay/internal/job"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventJob, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert},
	}}

	jobEvent := &Event{Type: EventJob}
	alertEvent := &Event{Type: EventAlert}

	if h.shouldSend(client, jobEvent) {
		t.Error("Should NOT receive job events")
	}
	if !h.shouldSend(client, alertEvent) {
		t.Error("Should receive alert events")
	}
}

func TestShouldSend_JobIDFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		JobIDs: []string{"job_1"},
	}}

	matching := &Event{Type: EventJob, Data: jobEventData{JobID: "job_1"}}
	notMatching := &Event{Type: EventJob, Data: jobEventData{JobID: "job_2"}}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on watched job")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated jobs")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmountCents: 10000,
	}}

	large := &Event{Type: EventJob, Data: jobEventData{JobID: "job_1", AmountCents: 15000}}
	small := &Event{Type: EventJob, Data: jobEventData{JobID: "job_2", AmountCents: 5000}}
	alert := &Event{Type: EventAlert, Data: &alerts.Alert{Severity: alerts.SeverityInfo}}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large job")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small job")
	}
	if !h.shouldSend(client, alert) {
		t.Error("MinAmountCents filter should only apply to job events")
	}
}

func TestShouldSend_SeverityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Severities: []string{"critical"},
	}}

	critical := &Event{Type: EventAlert, Data: &alerts.Alert{Severity: alerts.SeverityCritical}}
	info := &Event{Type: EventAlert, Data: &alerts.Alert{Severity: alerts.SeverityInfo}}

	if !h.shouldSend(client, critical) {
		t.Error("Should receive critical alerts")
	}
	if h.shouldSend(client, info) {
		t.Error("Should NOT receive info alerts")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventJob}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventJob, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_JobEventReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.JobEvent("job.claimed", &job.Job{
		ID:              "job_1",
		Status:          job.StatusInProgress,
		CustomerID:      "cust_1",
		ProviderID:      "prov_1",
		ServiceFeeCents: 12000,
		Currency:        "usd",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants alerts
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventAlert}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a job event (should be filtered out)
	h.Broadcast(&Event{Type: EventJob, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive job event")
	default:
		// Good - filtered out
	}

	// Send an alert event (should be received)
	h.AlertRaised(&alerts.Alert{ID: "alert_1", Severity: alerts.SeverityCritical})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive alert event")
	}
}
