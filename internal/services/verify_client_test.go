package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"event-payments/internal/payload"
	"event-payments/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusChecker(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		body       string
		wantStatus string
		rejected   bool
		wantErr    bool
	}{
		{"ok", http.StatusOK, `{"status":"completed","payment_status":"paid"}`, "completed", false, false},
		{"not found", http.StatusNotFound, `{"error":"Payment not found"}`, "", true, true},
		{"bad request", http.StatusBadRequest, `{"message":"registration_id is required"}`, "", true, true},
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, "", false, true},
		{"html error page", http.StatusNotFound, `<html>nope</html>`, "", false, true},
		{"garbage body", http.StatusOK, `nope`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				var req VerifyRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "reg1", req.RegistrationID)
				assert.Equal(t, "TX123", req.TransactionReference)

				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			doc, err := NewHTTPStatusChecker(srv.URL, time.Second).CheckStatus(context.Background(), "reg1", "TX123")

			var rejected *CheckRejectedError
			assert.Equal(t, tt.rejected, errors.As(err, &rejected))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, doc.String(payload.Status))
		})
	}
}

func TestHTTPStatusChecker_RejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Payment not found"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPStatusChecker(srv.URL, time.Second).CheckStatus(context.Background(), "reg1", "")

	var rejected *CheckRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusNotFound, rejected.StatusCode)
	assert.Equal(t, "Payment not found", rejected.Message)
}

func TestLocalStatusChecker(t *testing.T) {
	m := storetest.NewMemory()
	seedRegistration(m, "reg1", 200)
	seedPayment(m, "pay1", "reg1", "TX123", 200, time.Now())

	checker := &LocalStatusChecker{Service: NewStatusService(m, nil, nil, nil, testLogger())}

	doc, err := checker.CheckStatus(context.Background(), "reg1", "TX123")
	require.NoError(t, err)
	assert.Equal(t, "pending", doc.String(payload.Status))
	assert.Equal(t, "reg1", doc.String(payload.RegistrationID))

	_, err = checker.CheckStatus(context.Background(), "reg404", "")
	var rejected *CheckRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusNotFound, rejected.StatusCode)

	_, err = checker.CheckStatus(context.Background(), "", "")
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
}

func TestLocalStatusChecker_DrivesPoller(t *testing.T) {
	m := storetest.NewMemory()
	seedRegistration(m, "reg1", 200)
	seedPayment(m, "pay1", "reg1", "TX123", 200, time.Now())

	checker := &LocalStatusChecker{Service: NewStatusService(m, nil, nil, nil, testLogger())}
	poller := NewPoller(checker, time.Millisecond, time.Second, testLogger())
	poll := poller.Start(context.Background(), "reg1", "TX123")

	rec := newTestReconciler(m)
	_, err := rec.HandleCallback(context.Background(), []byte(`{"transactionId":"TX123","status":"success"}`), "webhook")
	require.NoError(t, err)

	res := poll.Wait()
	assert.Equal(t, PollConfirmed, res.State)
}
