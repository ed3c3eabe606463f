package psp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/services/credentials"
)

func testCreds(t *testing.T) *credentials.Cache {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "test-token", "expires_in": 900})
	}))
	t.Cleanup(tokenSrv.Close)

	return credentials.New(credentials.Config{
		TokenURL:     tokenSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Scopes:       map[string]string{"cob": "cob.write", "pay": "pay.write"},
	}, credentials.WithTransport(func(*tls.Config) http.RoundTripper { return http.DefaultTransport }))
}

func newPix(t *testing.T, apiURL string) *PixProvider {
	t.Helper()
	p, err := NewPixProvider(httpx.New(), testCreds(t), PixConfig{
		BaseURL:     apiURL,
		ReceiverKey: "receiver@bank",
	}, zap.NewNop())
	require.NoError(t, err, "Failed to build pix provider")
	return p
}

func TestPixCreateCharge(t *testing.T) {
	txid := strings.Repeat("a", 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method, "Charge creation must PUT")
		assert.Equal(t, "/cob/"+txid, r.URL.Path, "Charge path mismatch")
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"), "Bearer token missing")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body), "Failed to decode charge body")
		assert.Equal(t, "receiver@bank", body["chave"], "Receiver key mismatch")
		valor := body["valor"].(map[string]any)
		assert.Equal(t, "10.50", valor["original"], "Amount must render with two decimals")

		json.NewEncoder(w).Encode(map[string]string{
			"txid":          txid,
			"status":        "ATIVA",
			"location":      "loc/1",
			"pixCopiaECola": "00020126qr",
		})
	}))
	defer srv.Close()

	p := newPix(t, srv.URL)
	ch, err := p.CreateCharge(context.Background(), ChargeArgs{TxID: txid, AmountMinor: big.NewInt(1050)})
	require.NoError(t, err, "CreateCharge failed")

	assert.Equal(t, txid, ch.TxID, "TxID mismatch")
	assert.Equal(t, "00020126qr", ch.CopyPaste, "Copy-paste payload mismatch")
	assert.Equal(t, "loc/1", ch.Location, "Location mismatch")
}

func TestPixCreateCharge_DuplicateTreatedAsSuccess(t *testing.T) {
	txid := strings.Repeat("b", 30)
	var puts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			atomic.AddInt32(&puts, 1)
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"title":"cob already exists"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"txid": txid, "pixCopiaECola": "existing-qr"})
	}))
	defer srv.Close()

	p := newPix(t, srv.URL)
	ch, err := p.CreateCharge(context.Background(), ChargeArgs{TxID: txid, AmountMinor: big.NewInt(100)})
	require.NoError(t, err, "Duplicate charge must resolve to the existing one")
	assert.Equal(t, "existing-qr", ch.CopyPaste, "Existing charge material expected")
	assert.EqualValues(t, 1, atomic.LoadInt32(&puts), "Exactly one create attempt expected")
}

func TestPixCreateCharge_RejectsBadArgs(t *testing.T) {
	p := newPix(t, "http://localhost:1")

	_, err := p.CreateCharge(context.Background(), ChargeArgs{TxID: "short", AmountMinor: big.NewInt(1)})
	assert.Error(t, err, "Invalid txid must fail before any request")

	_, err = p.CreateCharge(context.Background(), ChargeArgs{TxID: strings.Repeat("a", 30)})
	assert.Error(t, err, "Missing amount must fail before any request")
}

func TestPixPayout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pagamento/pix", r.URL.Path, "Payout path mismatch")
		assert.Equal(t, UUIDFromSeed("withdraw-1"), r.Header.Get("x-id-idempotente"), "Idempotency header must derive from the seed")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body), "Failed to decode payout body")
		assert.Equal(t, "2.00", body["valor"], "Amount must render with two decimals")

		json.NewEncoder(w).Encode(map[string]string{"endToEndId": "E123", "status": "PAGO"})
	}))
	defer srv.Close()

	p := newPix(t, srv.URL)
	out, err := p.Payout(context.Background(), PayoutArgs{
		Seed:        "withdraw-1",
		PixKey:      "user@bank",
		AmountMinor: big.NewInt(200),
		Description: "withdrawal",
	})
	require.NoError(t, err, "Payout failed")

	assert.Equal(t, "E123", out.EndToEndID, "End-to-end id mismatch")
	assert.Equal(t, UUIDFromSeed("withdraw-1"), out.RequestID, "Request id mismatch")
}

func TestNewPixProvider_RequiresConfig(t *testing.T) {
	_, err := NewPixProvider(httpx.New(), testCreds(t), PixConfig{}, zap.NewNop())
	assert.Error(t, err, "Missing base URL must fail")

	_, err = NewPixProvider(httpx.New(), testCreds(t), PixConfig{BaseURL: "http://x"}, zap.NewNop())
	assert.Error(t, err, "Missing receiver key must fail")
}
