package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

func quoteJSON(inAmount, outAmount uint64) string {
	return fmt.Sprintf(`{
		"inputMint": "%s",
		"inAmount": "%d",
		"outputMint": "%s",
		"outAmount": "%d",
		"priceImpactPct": "0.0012",
		"slippageBps": 50,
		"routePlan": []
	}`, solMint, inAmount, usdcMint, outAmount)
}

func TestJupiterGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, solMint.String(), r.URL.Query().Get("inputMint"))
		assert.Equal(t, usdcMint.String(), r.URL.Query().Get("outputMint"))
		assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
		fmt.Fprint(w, quoteJSON(1_000_000_000, 201_370_000))
	}))
	defer server.Close()

	jc := NewJupiterClient(server.URL, time.Second, zap.NewNop())
	quote, err := jc.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000, 50)

	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), quote.InAmount)
	assert.Equal(t, uint64(201_370_000), quote.OutAmount)
	assert.Equal(t, types.QuoteSourceAggregator, quote.Source)
	assert.NotEmpty(t, quote.RawSwapPayload, "raw payload is required to build the swap later")
}

func TestJupiterGetQuoteMalformedAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"inputMint":"%s","inAmount":"garbage","outputMint":"%s","outAmount":"1"}`, solMint, usdcMint)
	}))
	defer server.Close()

	jc := NewJupiterClient(server.URL, time.Second, zap.NewNop())
	_, err := jc.GetQuote(context.Background(), solMint, usdcMint, 1_000_000_000, 50)
	assert.ErrorContains(t, err, "parse inAmount")
}

func TestJupiterBuildSwapTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swap", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req swapRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.WrapAndUnwrapSol)
		assert.NotEmpty(t, req.QuoteResponse, "quote must be passed back verbatim")

		fmt.Fprint(w, `{"swapTransaction":"AQAB base64 payload","lastValidBlockHeight":123}`)
	}))
	defer server.Close()

	jc := NewJupiterClient(server.URL, time.Second, zap.NewNop())
	quote := &types.Quote{RawSwapPayload: []byte(quoteJSON(1_000_000_000, 201_370_000))}

	tx, err := jc.BuildSwapTransaction(context.Background(), quote, solMint)
	require.NoError(t, err)
	assert.NotEmpty(t, tx)
}

func TestJupiterBuildSwapWithoutPayload(t *testing.T) {
	jc := NewJupiterClient("http://unused", time.Second, zap.NewNop())
	_, err := jc.BuildSwapTransaction(context.Background(), &types.Quote{}, solMint)
	assert.ErrorContains(t, err, "no aggregator payload")
}

func TestJupiterBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	jc := NewJupiterClient(server.URL, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := jc.GetQuote(context.Background(), solMint, usdcMint, 1_000, 50)
		require.Error(t, err)
	}

	_, err := jc.GetQuote(context.Background(), solMint, usdcMint, 1_000, 50)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}
