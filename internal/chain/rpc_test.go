package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vault-ledger-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers each JSON-RPC method with a canned result.
func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "2.0", req.JsonRpc)

		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, url string) *RPCClient {
	t.Helper()
	client, err := NewRPCClient(models.RpcConfig{Url: url, Timeout: 5 * time.Second, RequestsPerSecond: 100, Burst: 10})
	require.NoError(t, err)
	return client
}

func TestGetSignatureStatus(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   SignatureStatus
	}{
		{
			name:   "confirmed",
			result: `{"context":{"slot":120},"value":[{"slot":100,"confirmations":20,"err":null,"confirmationStatus":"confirmed"}]}`,
			want:   SignatureStatus{Found: true, Slot: 100, Confirmations: 20, Commitment: CommitmentConfirmed},
		},
		{
			name:   "rooted",
			result: `{"context":{"slot":500},"value":[{"slot":100,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`,
			want:   SignatureStatus{Found: true, Slot: 100, Commitment: CommitmentFinalized},
		},
		{
			name:   "failed transaction",
			result: `{"context":{"slot":120},"value":[{"slot":101,"confirmations":3,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"processed"}]}`,
			want:   SignatureStatus{Found: true, Slot: 101, Confirmations: 3, Commitment: CommitmentProcessed, Failed: true},
		},
		{
			name:   "missing",
			result: `{"context":{"slot":120},"value":[null]}`,
			want:   SignatureStatus{Found: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcServer(t, map[string]string{"getSignatureStatuses": tt.result})
			status, err := newTestClient(t, server.URL).GetSignatureStatus(context.Background(), "sig")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestGetSlotAndBalance(t *testing.T) {
	server := rpcServer(t, map[string]string{
		"getSlot":                `4242`,
		"getTokenAccountBalance": `{"context":{"slot":1},"value":{"amount":"115792089237316195423570985008687907853269984665640564039457584007913129639935","decimals":6,"uiAmountString":"x"}}`,
	})
	client := newTestClient(t, server.URL)

	slot, err := client.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), slot)

	balance, err := client.GetTokenAccountBalance(context.Background(), "vault")
	require.NoError(t, err)
	assert.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", balance.String())
}

func TestRpcErrors(t *testing.T) {
	server := rpcServer(t, map[string]string{})
	_, err := newTestClient(t, server.URL).GetSlot(context.Background())
	assert.ErrorIs(t, err, ErrRpc)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer failing.Close()
	_, err = newTestClient(t, failing.URL).GetSlot(context.Background())
	assert.ErrorIs(t, err, ErrRpc)

	_, err = NewRPCClient(models.RpcConfig{})
	assert.Error(t, err)
}
