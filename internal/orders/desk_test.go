package orders

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/marketdata"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/position"
)

// fakeApp scripts the application side of the wire for desk tests.
type fakeApp struct {
	price        string
	rejectPlace  bool
	statusResps  []string
	statusIdx    int
	positionResp string
	cancelResp   string

	placed int
	sent   []string
}

func (f *fakeApp) SendCommand(command string) string {
	f.sent = append(f.sent, command)
	switch {
	case strings.HasPrefix(command, "PLACEORDER:"):
		if f.rejectPlace {
			return "ERROR:Order rejected"
		}
		f.placed++
		return fmt.Sprintf("ORDER:ext-%d", f.placed)

	case strings.HasPrefix(command, "GETORDERSTATUS:"):
		if len(f.statusResps) == 0 {
			return "ERROR:Unknown order"
		}
		i := f.statusIdx
		if i >= len(f.statusResps) {
			i = len(f.statusResps) - 1
		}
		f.statusIdx++
		return f.statusResps[i]

	case strings.HasPrefix(command, "GETPRICE:"):
		if f.price == "" {
			return "ERROR:no data"
		}
		return f.price

	case strings.HasPrefix(command, "GETPOSITION:"):
		if f.positionResp == "" {
			return "POSITION:0:0"
		}
		return f.positionResp

	case strings.HasPrefix(command, "CANCELORDER:"):
		if f.cancelResp == "" {
			return "OK:Cancelled"
		}
		return f.cancelResp
	}
	return "ERROR:Unknown command"
}

func (f *fakeApp) sentWithPrefix(prefix string) []string {
	var out []string
	for _, cmd := range f.sent {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

func newTestDesk(app *fakeApp, historyCap int) (*Desk, *Registry, *position.Cache) {
	reg := NewRegistry(historyCap, nil)
	pos := position.NewCache(nil)
	market := marketdata.New(app, model.AssetSpec{TickSize: 0.25, PointValue: 1.25}, nil)
	desk := NewDesk(app, reg, pos, market, Settings{
		FillWaitAttempts:  3,
		FillWaitInterval:  time.Millisecond,
		ReconcileAttempts: 1,
		ReconcileInterval: time.Millisecond,
	}, nil)
	return desk, reg, pos
}

func TestPlaceMarketBuyFills(t *testing.T) {
	app := &fakeApp{
		statusResps:  []string{"ORDERSTATUS:ext-1:FILLED:1:5000"},
		positionResp: "POSITION:1:5000",
	}
	desk, reg, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, result.SignedID)
	assert.Equal(t, 1, result.Filled)
	assert.Equal(t, 5000.0, result.FillPrice)

	// Position moved synchronously, before Place returned.
	assert.Equal(t, 1, pos.Query("ES"))

	o := reg.Lookup(1000)
	require.NotNil(t, o)
	assert.Equal(t, model.StatusFilled, o.Status)
	assert.Equal(t, model.KindMarket, o.Kind)
}

func TestPlaceMarketSellFills(t *testing.T) {
	app := &fakeApp{
		statusResps:  []string{"ORDERSTATUS:ext-1:FILLED:2:5000"},
		positionResp: "POSITION:-2:5000",
	}
	desk, _, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", -2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, result.SignedID)
	assert.Equal(t, -2, pos.Query("ES"))

	placeCmds := app.sentWithPrefix("PLACEORDER:")
	require.Len(t, placeCmds, 1)
	assert.Equal(t, "PLACEORDER:SELL:ES:2:MARKET:0:0", placeCmds[0])
}

func TestPlaceMarketTimeoutReturnsPending(t *testing.T) {
	app := &fakeApp{statusResps: []string{"ORDERSTATUS:ext-1:SUBMITTED:0:0"}}
	desk, reg, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, -1000, result.SignedID)
	assert.Zero(t, result.Filled)

	// A pending placement leaves the position untouched.
	assert.Zero(t, pos.Query("ES"))
	assert.Equal(t, model.StatusSubmitted, reg.Lookup(1000).Status)
}

func TestPlaceLimitReturnsPendingWithoutWaiting(t *testing.T) {
	app := &fakeApp{}
	desk, reg, _ := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 4990)
	require.NoError(t, err)
	assert.Equal(t, -1000, result.SignedID)

	assert.Empty(t, app.sentWithPrefix("GETORDERSTATUS:"), "limit orders are not waited on")
	placeCmds := app.sentWithPrefix("PLACEORDER:")
	require.Len(t, placeCmds, 1)
	assert.Equal(t, "PLACEORDER:BUY:ES:1:LIMIT:4990:0", placeCmds[0])
	assert.Equal(t, model.KindLimit, reg.Lookup(1000).Kind)
}

func TestPlaceStopComputesStopPrice(t *testing.T) {
	app := &fakeApp{price: "PRICE:5000:0:0:0"}
	desk, reg, _ := newTestDesk(app, 100)

	// Sell stop sits below the market.
	result, err := desk.Place("ES", -1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, -1000, result.SignedID)

	placeCmds := app.sentWithPrefix("PLACEORDER:")
	require.Len(t, placeCmds, 1)
	assert.Equal(t, "PLACEORDER:SELL:ES:1:STOP:0:4998", placeCmds[0])
	assert.Equal(t, 4998.0, reg.Lookup(1000).StopPrice)

	// Buy stop sits above.
	_, err = desk.Place("ES", 1, 2, 0)
	require.NoError(t, err)
	placeCmds = app.sentWithPrefix("PLACEORDER:")
	assert.Equal(t, "PLACEORDER:BUY:ES:1:STOP:0:5002", placeCmds[1])
}

func TestPlaceStopLimit(t *testing.T) {
	app := &fakeApp{price: "PRICE:5000:0:0:0"}
	desk, _, _ := newTestDesk(app, 100)

	_, err := desk.Place("ES", 1, 2, 5001)
	require.NoError(t, err)
	placeCmds := app.sentWithPrefix("PLACEORDER:")
	require.Len(t, placeCmds, 1)
	assert.Equal(t, "PLACEORDER:BUY:ES:1:STOPLIMIT:5001:5002", placeCmds[0])
}

func TestPlaceStopWithoutMarketData(t *testing.T) {
	app := &fakeApp{}
	desk, _, _ := newTestDesk(app, 100)

	_, err := desk.Place("ES", -1, 2, 0)
	assert.ErrorIs(t, err, ErrNoMarketData)
	assert.Empty(t, app.sentWithPrefix("PLACEORDER:"))
}

func TestPlaceZeroQuantity(t *testing.T) {
	desk, _, _ := newTestDesk(&fakeApp{}, 100)
	_, err := desk.Place("ES", 0, 0, 0)
	assert.Error(t, err)
}

func TestPlaceRejected(t *testing.T) {
	app := &fakeApp{rejectPlace: true}
	desk, reg, _ := newTestDesk(app, 100)

	_, err := desk.Place("ES", 1, 0, 0)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Zero(t, reg.Len())
}

func TestPlaceAbortedByHost(t *testing.T) {
	app := &fakeApp{statusResps: []string{"ORDERSTATUS:ext-1:FILLED:1:5000"}}
	desk, _, pos := newTestDesk(app, 100)
	desk.SetAbortCheck(func() bool { return false })

	result, err := desk.Place("ES", 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, -1000, result.SignedID)
	assert.Zero(t, pos.Query("ES"))
	assert.Empty(t, app.sentWithPrefix("GETORDERSTATUS:"), "abort fires before the first status poll")
}

func TestTradeReportsFillAndProfit(t *testing.T) {
	app := &fakeApp{
		price:       "PRICE:5010:0:0:0",
		statusResps: []string{"ORDERSTATUS:ext-1:FILLED:1:5000"},
	}
	desk, _, _ := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 4990) // resting limit
	require.NoError(t, err)

	app.statusIdx = 0
	tr, err := desk.Trade(result.SignedID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Filled)
	assert.Equal(t, 5000.0, tr.Open)
	assert.Equal(t, 5010.0, tr.Close)
	assert.Equal(t, 10.0, tr.Profit)
}

func TestTradePartialFill(t *testing.T) {
	app := &fakeApp{
		price:       "PRICE:5000:0:0:0",
		statusResps: []string{"ORDERSTATUS:ext-1:PARTIAL:1:5000"},
	}
	desk, reg, _ := newTestDesk(app, 100)

	result, err := desk.Place("ES", 2, 0, 4990)
	require.NoError(t, err)

	tr, err := desk.Trade(result.SignedID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Filled)
	assert.Equal(t, model.StatusPartial, reg.Lookup(result.SignedID).Status)
}

func TestTradeNotAvailableRetires(t *testing.T) {
	app := &fakeApp{statusResps: []string{"ORDERSTATUS:ext-1:REJECTED:0:0"}}
	desk, reg, _ := newTestDesk(app, 0)

	result, err := desk.Place("ES", 1, 0, 4990)
	require.NoError(t, err)

	_, err = desk.Trade(result.SignedID)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Nil(t, reg.Lookup(result.SignedID), "terminal order retired past cap")
}

func TestTradeUnknownOrder(t *testing.T) {
	desk, _, _ := newTestDesk(&fakeApp{}, 100)
	_, err := desk.Trade(4242)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestCloseCancelsPendingOrder(t *testing.T) {
	app := &fakeApp{statusResps: []string{"ORDERSTATUS:ext-1:SUBMITTED:0:0"}}
	desk, reg, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 4990)
	require.NoError(t, err)

	closed, err := desk.Close(result.SignedID, 0, 0)
	require.NoError(t, err)
	assert.True(t, closed.Cancelled)
	assert.Equal(t, result.SignedID, closed.SignedID)
	assert.Len(t, app.sentWithPrefix("CANCELORDER:"), 1)
	assert.Zero(t, pos.Query("ES"))
	assert.Equal(t, model.StatusCancelled, reg.Lookup(result.SignedID).Status)
}

func TestCloseCancelFailure(t *testing.T) {
	app := &fakeApp{
		statusResps: []string{"ORDERSTATUS:ext-1:SUBMITTED:0:0"},
		cancelResp:  "ERROR:Order not working",
	}
	desk, _, _ := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 4990)
	require.NoError(t, err)

	_, err = desk.Close(result.SignedID, 0, 0)
	assert.Error(t, err)
}

func TestCloseOpposesFilledOrder(t *testing.T) {
	app := &fakeApp{
		statusResps: []string{
			"ORDERSTATUS:ext-1:FILLED:1:5000", // placement fill
			"ORDERSTATUS:ext-1:FILLED:1:5000", // close re-poll
			"ORDERSTATUS:ext-2:FILLED:1:5010", // close order fill
		},
		positionResp: "POSITION:0:0",
	}
	desk, _, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Query("ES"))

	closed, err := desk.Close(result.SignedID, 0, 0)
	require.NoError(t, err)
	assert.False(t, closed.Cancelled)
	assert.Equal(t, 1, closed.Filled)
	assert.Equal(t, 5010.0, closed.ClosePrice)
	assert.Equal(t, 10.0, closed.Profit)
	assert.Zero(t, pos.Query("ES"), "position moved back toward zero")

	placeCmds := app.sentWithPrefix("PLACEORDER:")
	require.Len(t, placeCmds, 2)
	assert.Equal(t, "PLACEORDER:SELL:ES:1:MARKET:0:0", placeCmds[1])
}

func TestCloseWithExplicitAmount(t *testing.T) {
	app := &fakeApp{
		statusResps: []string{
			"ORDERSTATUS:ext-1:FILLED:3:5000",
			"ORDERSTATUS:ext-1:FILLED:3:5000",
			"ORDERSTATUS:ext-2:FILLED:2:5005",
		},
	}
	desk, _, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 3, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, pos.Query("ES"))

	closed, err := desk.Close(result.SignedID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, closed.Filled)
	assert.Equal(t, 1, pos.Query("ES"))

	placeCmds := app.sentWithPrefix("PLACEORDER:")
	assert.Equal(t, "PLACEORDER:SELL:ES:2:MARKET:0:0", placeCmds[1])
}

func TestCloseWithLimitDoesNotWait(t *testing.T) {
	app := &fakeApp{
		statusResps: []string{
			"ORDERSTATUS:ext-1:FILLED:1:5000",
			"ORDERSTATUS:ext-1:FILLED:1:5000",
		},
	}
	desk, _, pos := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 0)
	require.NoError(t, err)

	statusPollsBefore := len(app.sentWithPrefix("GETORDERSTATUS:"))
	closed, err := desk.Close(result.SignedID, 0, 5020)
	require.NoError(t, err)
	assert.Zero(t, closed.Filled)
	assert.Equal(t, 1, pos.Query("ES"), "no fill observed, no cache change")

	placeCmds := app.sentWithPrefix("PLACEORDER:")
	assert.Equal(t, "PLACEORDER:SELL:ES:1:LIMIT:5020:0", placeCmds[1])
	// Exactly one extra status poll: the close re-poll, no fill wait.
	assert.Equal(t, statusPollsBefore+1, len(app.sentWithPrefix("GETORDERSTATUS:")))
}

func TestCancelCommand(t *testing.T) {
	app := &fakeApp{}
	desk, reg, _ := newTestDesk(app, 100)

	result, err := desk.Place("ES", 1, 0, 4990)
	require.NoError(t, err)

	assert.True(t, desk.Cancel(result.SignedID))
	assert.Equal(t, model.StatusCancelled, reg.Lookup(result.SignedID).Status)
	assert.False(t, desk.Cancel(9999))
}

func TestTIF(t *testing.T) {
	desk, _, _ := newTestDesk(&fakeApp{}, 100)
	assert.Equal(t, model.TIFGTC, desk.TIF())
	desk.SetTIF(model.TIFIOC)
	assert.Equal(t, model.TIFIOC, desk.TIF())
}
