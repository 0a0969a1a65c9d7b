package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mworkman/handypay/internal/config"
	"github.com/mworkman/handypay/internal/processor"
)

// stubProcessor satisfies the processor interface for wiring tests.
type stubProcessor struct {
	processor.Client

	mu      sync.Mutex
	intents map[string]*processor.Intent
	nextID  int
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{intents: make(map[string]*processor.Intent)}
}

func (s *stubProcessor) CreateIntent(ctx context.Context, p processor.CreateIntentParams) (*processor.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	intent := &processor.Intent{
		ID:           fmt.Sprintf("pi_%d", s.nextID),
		ClientSecret: fmt.Sprintf("pi_%d_secret", s.nextID),
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		Status:       processor.IntentRequiresPaymentMethod,
		Metadata:     p.Metadata,
	}
	s.intents[intent.ID] = intent
	return intent, nil
}

func (s *stubProcessor) GetIntent(ctx context.Context, id string) (*processor.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent", processor.ErrInvalidRequest)
	}
	return intent, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "development",
		LogLevel:               "error",
		ProcessorSecretKey:     "sk_test_x",
		ProcessorWebhookSecret: "whsec_x",
		Currency:               "usd",
		PlatformFeeCents:       500,
		PartnerAShareBPS:       5000,
		PartnerAAccountID:      "acct_a",
		PartnerBAccountID:      "acct_b",
		AutoReleaseWorkingDays: 3,
		SweepSchedule:          "@hourly",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithProcessor(newStubProcessor()))
	require.NoError(t, err)
	return s
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run() has started.
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOperatorRoutesRequireRole(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/alerts", nil)
	req.Header.Set("X-User-ID", "cust_1")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/ops/alerts", nil)
	req.Header.Set("X-User-ID", "op_1")
	req.Header.Set("X-User-Role", "operator")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndCheckoutJob(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"serviceType":     "plumbing",
		"description":     "leaky faucet",
		"serviceFeeCents": 12000,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "cust_1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Job struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "awaiting_payment", created.Job.Status)

	req = httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.Job.ID+"/checkout", nil)
	req.Header.Set("X-User-ID", "cust_1")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var checkout struct {
		ClientSecret string `json:"clientSecret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checkout))
	assert.NotEmpty(t, checkout.ClientSecret)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobTransfersAuthorization(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"serviceType":     "electrical",
		"serviceFeeCents": 5000,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "cust_1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// A stranger cannot see the payout legs.
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.Job.ID+"/transfers", nil)
	req.Header.Set("X-User-ID", "someone_else")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The customer can.
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.Job.ID+"/transfers", nil)
	req.Header.Set("X-User-ID", "cust_1")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
