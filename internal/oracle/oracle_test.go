package oracle

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpjmd/mammon/internal/config"
	"github.com/kpjmd/mammon/pkg/observability"
)

// fakeCaller stubs the JSON-RPC surface oracle depends on, returning an
// ABI-encoded latestRoundData response so tests never touch the network.
type fakeCaller struct {
	answer    int64
	updatedAt time.Time
	err       error
	calls     int
}

func (f *fakeCaller) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	f.calls++
	if f.err != nil {
		return f.err
	}

	encoded, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(1),
		big.NewInt(f.answer),
		big.NewInt(f.updatedAt.Unix()),
		big.NewInt(f.updatedAt.Unix()),
		big.NewInt(1),
	)
	if err != nil {
		return err
	}

	out, ok := result.(*hexutil.Bytes)
	if !ok {
		return fmt.Errorf("unexpected result type %T", result)
	}
	*out = encoded
	return nil
}

func newTestOracle(t *testing.T, caller rpcCaller, fallback bool) *Oracle {
	t.Helper()
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "mammon-test", LogLevel: "debug", LogFormat: "json"})
	audit := observability.NewEventLogger(logger)
	cfg := config.OracleConfig{
		ChainlinkEnabled:        true,
		ChainlinkPriceNetwork:   "ethereum",
		ChainlinkCacheTTL:       300 * time.Second,
		ChainlinkMaxStaleness:   3600 * time.Second,
		ChainlinkFallbackToMock: fallback,
	}
	return New(cfg, caller, nil, logger, audit)
}

func TestOracleGetPrice(t *testing.T) {
	t.Run("reads and caches a fresh price", func(t *testing.T) {
		caller := &fakeCaller{answer: 300000000000, updatedAt: time.Now()} // $3000.00000000 at 8 decimals
		o := newTestOracle(t, caller, false)

		price, err := o.GetPrice(context.Background(), "WETH")
		require.NoError(t, err)
		assert.Equal(t, "3000", price.String())

		_, err = o.GetPrice(context.Background(), "ETH")
		require.NoError(t, err)
		assert.Equal(t, 1, caller.calls, "second read for the canonicalized symbol should hit the cache")
	})

	t.Run("falls back to deterministic mock on failure", func(t *testing.T) {
		caller := &fakeCaller{err: fmt.Errorf("connection refused")}
		o := newTestOracle(t, caller, true)

		price, err := o.GetPrice(context.Background(), "USDC")
		require.NoError(t, err)
		assert.Equal(t, "1", price.String())

		price, err = o.GetPrice(context.Background(), "ETH")
		require.NoError(t, err)
		assert.Equal(t, "3000", price.String())
	})

	t.Run("returns an error without fallback enabled", func(t *testing.T) {
		caller := &fakeCaller{err: fmt.Errorf("connection refused")}
		o := newTestOracle(t, caller, false)

		_, err := o.GetPrice(context.Background(), "ETH")
		assert.Error(t, err)
	})

	t.Run("rejects a stale on-chain answer", func(t *testing.T) {
		caller := &fakeCaller{answer: 300000000000, updatedAt: time.Now().Add(-2 * time.Hour)}
		o := newTestOracle(t, caller, false)

		_, err := o.GetPrice(context.Background(), "ETH")
		assert.Error(t, err)
	})

	t.Run("unknown symbol falls back to mock price of 1", func(t *testing.T) {
		caller := &fakeCaller{err: fmt.Errorf("no feed")}
		o := newTestOracle(t, caller, true)

		price, err := o.GetPrice(context.Background(), "SOMECOIN")
		require.NoError(t, err)
		assert.Equal(t, "1", price.String())
	})
}

func TestGetPrices(t *testing.T) {
	caller := &fakeCaller{answer: 300000000000, updatedAt: time.Now()}
	o := newTestOracle(t, caller, false)

	prices, err := o.GetPrices(context.Background(), []string{"ETH", "WETH"})
	require.NoError(t, err)
	assert.Len(t, prices, 1, "WETH canonicalizes to the same key as ETH")
	assert.Equal(t, "3000", prices["ETH"].String())
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "ETH", Canonicalize("WETH"))
	assert.Equal(t, "USDC", Canonicalize("USDC.E"))
	assert.Equal(t, "ARB", Canonicalize("ARB"))
}
