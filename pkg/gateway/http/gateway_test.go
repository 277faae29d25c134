package http_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/congrega/flows/pkg/gateway"
	httpgateway "github.com/congrega/flows/pkg/gateway/http"
	"github.com/congrega/flows/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGateway_SendEmail(t *testing.T) {
	var received gateway.Email

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL+"/", httpgateway.WithToken("secret"))

	accepted, err := g.SendEmail(t.Context(), gateway.Email{
		TenantID:   "t1",
		Recipients: []models.Recipient{{ID: "r1", Email: "ada@example.org"}},
		Subject:    "Welcome Ada",
		Text:       "Hello",
	})
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "Welcome Ada", received.Subject)
	assert.Len(t, received.Recipients, 1)
}

func TestGateway_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL)

	accepted, err := g.SendSMS(t.Context(), gateway.SMS{TenantID: "t1", Message: "hi"})
	require.NoError(t, err)
	assert.False(t, accepted)

	_, err = g.CreateInAppNotification(t.Context(), gateway.InAppNotification{UserID: "r1", Title: "t"})
	assert.Error(t, err)
}

func TestGateway_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte(`{"id": "n1", "user_id": "r1"}`))
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL)

	notification, err := g.CreateInAppNotification(t.Context(), gateway.InAppNotification{UserID: "r1", Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "n1", notification.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_IdempotencyKeyIsStableAcrossRetries(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()

		if first {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL)

	accepted, err := g.SendSMS(t.Context(), gateway.SMS{TenantID: "t1", Message: "hi", IdempotencyKey: "exec-1:act-1:1"})
	require.NoError(t, err)
	assert.True(t, accepted)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"exec-1:act-1:1", "exec-1:act-1:1"}, keys)
}

func TestGateway_NotificationWithoutIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL)

	notification, err := g.CreateInAppNotification(t.Context(), gateway.InAppNotification{UserID: "r1", Title: "t"})
	require.ErrorIs(t, err, gateway.ErrEmptyResponse)
	assert.Nil(t, notification)
}

func TestGateway_FailsAfterAttempts(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL, httpgateway.WithAttempts(2))

	_, err := g.SendEmail(t.Context(), gateway.Email{Subject: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, httpgateway.ErrServerError)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	g := httpgateway.NewGateway(newLogger(), server.URL)

	_, err := g.SendEmail(t.Context(), gateway.Email{Subject: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
