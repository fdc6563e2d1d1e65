package sim

import (
	"testing"

	"alats/internal/chaos"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func newExchange(t *testing.T) *Exchange {
	t.Helper()
	ex, err := New(Config{Seed: 1, Prices: map[string]float64{"BTC": 100}})
	require.NoError(t, err)
	return ex
}

func request(id string, side enum.Side, kind enum.OrderKind, qty, price string) model.OrderRequest {
	req := model.OrderRequest{ID: id, Asset: "BTC", Side: side, Kind: kind, Qty: decimal.RequireFromString(qty)}
	if price != "" {
		req.Price = decimal.RequireFromString(price)
	}
	return req
}

func TestMarketOrderFillsAtMid(t *testing.T) {
	ex := newExchange(t)

	_, err := ex.PlaceOrder(t.Context(), request("a", enum.SideBuy, enum.OrderKindMarket, "2", ""))
	require.NoError(t, err)

	rep, err := ex.OrderStatus(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFilled, rep.Status)
	assert.True(t, rep.FilledQty.Equal(decimal.NewFromInt(2)))
	assert.True(t, rep.AvgPrice.Equal(decimal.NewFromInt(100)))
}

func TestPlaceOrderIsIdempotent(t *testing.T) {
	ex := newExchange(t)
	req := request("a", enum.SideBuy, enum.OrderKindMarket, "1", "")

	for i := 0; i < 3; i++ {
		_, err := ex.PlaceOrder(t.Context(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ex.Accepted())
	rep, _ := ex.Lookup("a")
	assert.True(t, rep.FilledQty.Equal(decimal.NewFromInt(1)))
}

func TestLostAckStillPlacesOrder(t *testing.T) {
	ex := newExchange(t)
	ex.Chaos().Script(chaos.Fault{LoseAck: true})

	_, err := ex.PlaceOrder(t.Context(), request("a", enum.SideBuy, enum.OrderKindMarket, "1", ""))
	assert.True(t, exception.IsRetryable(err))
	assert.Equal(t, 1, ex.Accepted())
}

func TestInjectedFailureDoesNotPlace(t *testing.T) {
	ex := newExchange(t)
	ex.Chaos().Script(chaos.Fault{Fail: true})

	_, err := ex.PlaceOrder(t.Context(), request("a", enum.SideBuy, enum.OrderKindMarket, "1", ""))
	assert.True(t, exception.IsRetryable(err))
	assert.Equal(t, 0, ex.Accepted())
}

func TestRestingOrdersTriggerOnCrossing(t *testing.T) {
	ex := newExchange(t)
	_, err := ex.PlaceOrder(t.Context(), request("tp", enum.SideSell, enum.OrderKindLimit, "1", "110"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(t.Context(), request("sl", enum.SideSell, enum.OrderKindStop, "1", "95"))
	require.NoError(t, err)

	rep, _ := ex.Lookup("tp")
	assert.Equal(t, enum.OrderStatusSubmitted, rep.Status)

	ex.SetMid("BTC", 111)
	rep, _ = ex.Lookup("tp")
	assert.Equal(t, enum.OrderStatusFilled, rep.Status)
	assert.True(t, rep.AvgPrice.Equal(decimal.NewFromInt(110)))
	rep, _ = ex.Lookup("sl")
	assert.Equal(t, enum.OrderStatusSubmitted, rep.Status)

	ex.SetMid("BTC", 94)
	rep, _ = ex.Lookup("sl")
	assert.Equal(t, enum.OrderStatusFilled, rep.Status)
	assert.True(t, rep.AvgPrice.Equal(decimal.NewFromInt(94)))
}

func TestCancelOrder(t *testing.T) {
	ex := newExchange(t)
	_, err := ex.PlaceOrder(t.Context(), request("tp", enum.SideSell, enum.OrderKindLimit, "1", "110"))
	require.NoError(t, err)

	require.NoError(t, ex.CancelOrder(t.Context(), "tp"))
	rep, _ := ex.Lookup("tp")
	assert.Equal(t, enum.OrderStatusCancelled, rep.Status)

	err = ex.CancelOrder(t.Context(), "missing")
	assert.True(t, errors.Is(err, exception.ErrUnknownOrder))
}

func TestRejectedOrder(t *testing.T) {
	ex := newExchange(t)
	_, err := ex.PlaceOrder(t.Context(), request("bad", enum.SideBuy, enum.OrderKindLimit, "1", ""))
	assert.True(t, errors.Is(err, exception.ErrOrderRejected))
	assert.False(t, exception.IsRetryable(err))

	rep, ok := ex.Lookup("bad")
	require.True(t, ok)
	assert.Equal(t, enum.OrderStatusRejected, rep.Status)
}

func TestPartialFills(t *testing.T) {
	ex, err := New(Config{Seed: 1, PartialFills: true, Prices: map[string]float64{"BTC": 100}})
	require.NoError(t, err)

	_, err = ex.PlaceOrder(t.Context(), request("a", enum.SideBuy, enum.OrderKindMarket, "2", ""))
	require.NoError(t, err)
	rep, _ := ex.Lookup("a")
	assert.Equal(t, enum.OrderStatusPartiallyFilled, rep.Status)
	assert.True(t, rep.FilledQty.Equal(decimal.NewFromInt(1)))

	_, err = ex.MarketData(t.Context(), "BTC")
	require.NoError(t, err)
	rep, _ = ex.Lookup("a")
	assert.Equal(t, enum.OrderStatusFilled, rep.Status)
}

func TestMarketData(t *testing.T) {
	ex, err := New(Config{Seed: 3, Volatility: 0.01, Prices: map[string]float64{"BTC": 100}})
	require.NoError(t, err)

	prev, err := ex.MarketData(t.Context(), "BTC")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		s, err := ex.MarketData(t.Context(), "BTC")
		require.NoError(t, err)
		assert.Greater(t, s.Mid, 0.0)
		assert.Greater(t, s.Spread, 0.0)
		assert.Greater(t, s.Depth, 0.0)
		assert.False(t, s.Timestamp.Before(prev.Timestamp))
		prev = s
	}

	_, err = ex.MarketData(t.Context(), "DOGE")
	assert.True(t, errors.Is(err, exception.ErrUnknownAsset))
	assert.False(t, exception.IsRetryable(err))
}
