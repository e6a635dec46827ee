package momo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"event-payments/internal/status"
	"event-payments/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{
		BaseURL:     srv.URL + "/",
		APIKey:      "api-key",
		HMACKey:     "hmac-key",
		CallbackURL: "https://example.com/callback",
		Timeout:     2 * time.Second,
	})
}

func collectRequest() *CollectRequest {
	return &CollectRequest{
		AccountNumber:     "233599975352",
		AccountName:       "Ama Mensah",
		Amount:            decimal.NewFromInt(50),
		Network:           NetworkMTN,
		Narration:         "Concert ticket",
		ExternalReference: "reg_1",
		RequestID:         "req-1",
	}
}

func TestCollect_Success(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		assert.Equal(t, collectPath, r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
		assert.True(t, VerifySignature(body, []byte("hmac-key"), r.Header.Get("X-Signature")))
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transaction_reference":"TX123","message":"prompt sent"}`))
	})

	res, err := client.Collect(context.Background(), collectRequest())

	require.NoError(t, err)
	assert.Equal(t, "TX123", res.TransactionReference)
	assert.Equal(t, "prompt sent", res.Message)
	assert.Equal(t, "233599975352", got["account_number"])
	assert.Equal(t, "50.00", got["amount"])
	assert.Equal(t, "300591", got["network"])
	assert.Equal(t, "reg_1", got["external_reference"])
	assert.Equal(t, "https://example.com/callback", got["callback_url"])
}

func TestCollect_ReferenceAliases(t *testing.T) {
	bodies := []string{
		`{"success":true,"transactionReference":"TX9"}`,
		`{"success":true,"transactionId":"TX9"}`,
		`{"success":true,"data":{"transaction_id":"TX9"}}`,
		`{"status":"pending","data":{"collectionTransactionID":"TX9"}}`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			res, err := client.Collect(context.Background(), collectRequest())

			require.NoError(t, err)
			assert.Equal(t, "TX9", res.TransactionReference)
		})
	}
}

func TestCollect_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		message string
	}{
		{"success false", http.StatusOK, `{"success":false,"message":"Insufficient balance"}`, "Insufficient balance"},
		{"http 400", http.StatusBadRequest, `{"error":"invalid network"}`, "invalid network"},
		{"failed status", http.StatusOK, `{"status":"-200","description":"could_not_perform_transaction"}`, "could_not_perform_transaction"},
		{"no json", http.StatusForbidden, `forbidden`, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Collect(context.Background(), collectRequest())

			require.Error(t, err)
			assert.ErrorIs(t, err, status.ErrPaymentInitiationFailed)
			msg, ok := status.ProviderMessage(err)
			assert.True(t, ok)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestCollect_MissingReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	})

	_, err := client.Collect(context.Background(), collectRequest())

	assert.ErrorIs(t, err, status.ErrMissingTransactionReference)
	assert.NotErrorIs(t, err, status.ErrPaymentInitiationFailed)
}

func TestCollect_ServerErrorTripsBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 20; i++ {
		_, err := client.Collect(context.Background(), collectRequest())
		assert.ErrorIs(t, err, status.ErrPaymentInitiationFailed)
	}

	_, err := client.Collect(context.Background(), collectRequest())

	assert.ErrorIs(t, err, utils.ErrCircuitOpen)
	assert.Equal(t, 20, calls)
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		body    string
		outcome status.Outcome
	}{
		{`{"status":"000","description":"success","transaction_reference":"TX123"}`, status.OutcomeSuccess},
		{`{"data":{"collectionStatus":"FAILED"}}`, status.OutcomeFailed},
		{`{"status":"processing"}`, status.OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, statusPath, r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			res, err := client.CheckStatus(context.Background(), "TX123")

			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, "TX123", res.TransactionReference)
			assert.JSONEq(t, tt.body, string(res.Raw))
		})
	}
}

func TestCheckStatus_ErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"transaction not found"}`))
	})

	_, err := client.CheckStatus(context.Background(), "TX404")

	var perr *status.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
	assert.Equal(t, "transaction not found", perr.Message)
}

func TestNormalizeAccountNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		invalid bool
	}{
		{in: "0599975352", want: "233599975352"},
		{in: "+233599975352", want: "233599975352"},
		{in: "233599975352", want: "233599975352"},
		{in: "599975352", want: "233599975352"},
		{in: " 059 997-5352 ", want: "233599975352"},
		{in: "", invalid: true},
		{in: "05999753", invalid: true},
		{in: "+44599975352", invalid: true},
		{in: "23359997535x", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAccountNumber(tt.in)
			if tt.invalid {
				assert.True(t, status.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("300592")
	require.NoError(t, err)
	assert.Equal(t, NetworkAirtelTigo, n)
	assert.Equal(t, "AirtelTigo", n.Name())

	_, err = ParseNetwork("300593")
	assert.Error(t, err)

	assert.Equal(t, []Network{NetworkMTN, NetworkAirtelTigo, NetworkTelecel}, SupportedNetworks())
}

func TestSign(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), []byte("k"))

	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature([]byte(`{"a":1}`), []byte("k"), sig))
	assert.False(t, VerifySignature([]byte(`{"a":2}`), []byte("k"), sig))
}
