package paysim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/payment"
)

const (
	keyID         = "rzp_test_key"
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
)

type webhookCall struct {
	body      []byte
	signature string
}

func newSim(t *testing.T, webhookURL string) *httptest.Server {
	t.Helper()
	s := NewServer(Config{
		KeyID:         keyID,
		KeySecret:     keySecret,
		WebhookURL:    webhookURL,
		WebhookSecret: webhookSecret,
	}, http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateIntent_WithPaymentClient(t *testing.T) {
	srv := newSim(t, "")
	client := payment.NewClient(srv.URL, keyID, keySecret, time.Second)

	intent, err := client.CreateIntent(context.Background(), 8150, "INR", "ORD-1", map[string]string{"order_id": "o1"})
	require.NoError(t, err)
	assert.Contains(t, intent.ID, "order_")
	assert.Equal(t, int64(8150), intent.Amount)
	assert.Equal(t, "INR", intent.Currency)
	assert.Equal(t, "ORD-1", intent.Receipt)
	assert.Equal(t, statusCreated, intent.Status)
}

func TestCreateIntent_Rejections(t *testing.T) {
	srv := newSim(t, "")

	_, err := payment.NewClient(srv.URL, keyID, "wrong", time.Second).CreateIntent(context.Background(), 8150, "INR", "r", nil)
	var ge *payment.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusUnauthorized, ge.StatusCode)
	assert.Equal(t, "Authentication failed", ge.Message)

	_, err = payment.NewClient(srv.URL, keyID, keySecret, time.Second).CreateIntent(context.Background(), 50, "INR", "r", nil)
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadRequest, ge.StatusCode)
}

func TestPay_SignsAndSendsWebhook(t *testing.T) {
	calls := make(chan webhookCall, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- webhookCall{body: body, signature: r.Header.Get("X-Payment-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	srv := newSim(t, hook.URL)
	intent, err := payment.NewClient(srv.URL, keyID, keySecret, time.Second).CreateIntent(context.Background(), 8150, "INR", "ORD-1", nil)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/orders/"+intent.ID+"/pay", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result PayResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, intent.ID, result.IntentID)
	assert.True(t, payment.Verify(keySecret, result.IntentID, result.PaymentID, result.Signature))

	call := <-calls
	assert.True(t, payment.VerifyWebhook(webhookSecret, call.body, call.signature))
	event, err := payment.ParseWebhook(call.body)
	require.NoError(t, err)
	assert.Equal(t, payment.EventPaymentCaptured, event.Event)
	assert.Equal(t, result.PaymentID, event.PaymentID())
	assert.Equal(t, intent.ID, event.IntentID())
	assert.Equal(t, int64(8150), event.Amount())
}

func TestPay_OnlyOnce(t *testing.T) {
	srv := newSim(t, "")
	intent, err := payment.NewClient(srv.URL, keyID, keySecret, time.Second).CreateIntent(context.Background(), 8150, "INR", "ORD-1", nil)
	require.NoError(t, err)

	first, err := http.Post(srv.URL+"/v1/orders/"+intent.ID+"/pay", "application/json", nil)
	require.NoError(t, err)
	_ = first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Post(srv.URL+"/v1/orders/"+intent.ID+"/pay", "application/json", nil)
	require.NoError(t, err)
	_ = second.Body.Close()
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
}

func TestGetAndUnknownIntent(t *testing.T) {
	srv := newSim(t, "")
	intent, err := payment.NewClient(srv.URL, keyID, keySecret, time.Second).CreateIntent(context.Background(), 8150, "INR", "ORD-1", nil)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/orders/"+intent.ID, nil)
	req.SetBasicAuth(keyID, keySecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing, err := http.Post(srv.URL+"/v1/orders/order_nope/pay", "application/json", nil)
	require.NoError(t, err)
	_ = missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
