package ethtoken

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// TestPaymentToken_OverJSONRPC checks the ABI encoding against a JSON-RPC
// endpoint through a real ethclient.
func TestPaymentToken_OverJSONRPC(t *testing.T) {
	balance, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(424242))
	require.NoError(t, err)

	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen = append(seen, req.Method)

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "eth_getCode":
			resp.Result = "0x6080"
		case "eth_call":
			resp.Result = hexutil.Encode(balance)
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := ethclient.DialContext(context.Background(), server.URL)
	require.NoError(t, err)
	defer client.Close()

	tr := newTransactor(t, newFakeChain(), newKey(t), 0)
	reg, err := NewRegistry(&RegistryConfig{
		Backend:    client,
		Transactor: tr,
		Cache:      newMapCache(),
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	pay, err := reg.PaymentToken(context.Background(), erc20Addr)
	require.NoError(t, err)

	got, err := pay.BalanceOf(context.Background(), bidderAddr)
	require.NoError(t, err)
	assert.Equal(t, "424242", got.String())
	assert.Equal(t, []string{"eth_getCode", "eth_call"}, seen)
}
