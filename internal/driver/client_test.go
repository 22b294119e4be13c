package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestCreateToken_ReturnsPendingRecord(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "org-1", req.Token.OrgUID)
		assert.Equal(t, 100, req.Payment.Amount)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenCreationRecord{
			Token: &Token{AssetID: "asset-abc123"},
			Tx:    &Transaction{ID: "tx-789"},
		})
	}))

	record, err := client.CreateToken(context.Background(), &CreateTokenRequest{
		Token:     TokenDetails{OrgUID: "org-1", WarehouseProjectID: "project-1", VintageYear: 2020, SequenceNum: 1},
		Payment:   Payment{Amount: 100, Fee: 100},
		ToAddress: "addr-xyz",
	})
	require.NoError(t, err)
	assert.True(t, record.Pending())
	assert.Equal(t, "asset-abc123", record.Token.AssetID)
}

func TestCreateToken_RejectionWithoutPendingTx(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"error": "no spendable balance"})
	}))

	_, err := client.CreateToken(context.Background(), &CreateTokenRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spendable balance")
}

func TestCreateToken_EmptyReplyIsRejection(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	_, err := client.CreateToken(context.Background(), &CreateTokenRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending transaction")
}

func TestCreateToken_PendingTxWithoutTokenIsRejection(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tx":{"id":"tx-789"}}`))
	}))

	_, err := client.CreateToken(context.Background(), &CreateTokenRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no asset id")
}

func TestTransactionConfirmed(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/tx-789", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"confirmed": true})
	}))

	confirmed, err := client.TransactionConfirmed(context.Background(), "tx-789")
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestTransactionConfirmed_AbsentFlagMeansNoProgress(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	confirmed, err := client.TransactionConfirmed(context.Background(), "tx-789")
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestParseDetokenizationPayload_EscapesContent(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/parse", r.URL.Path)
		assert.Equal(t, "detok:1:a b&c", r.URL.Query().Get("content"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"asset_id":"asset-abc123"}`))
	}))

	parsed, err := client.ParseDetokenizationPayload(context.Background(), "detok:1:a b&c")
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset_id":"asset-abc123"}`, string(parsed))
}

func TestParseDetokenizationPayload_SurfacesDriverError(t *testing.T) {
	client := newTestDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unparseable content", http.StatusBadRequest)
	}))

	_, err := client.ParseDetokenizationPayload(context.Background(), "detok:garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable content")
}
