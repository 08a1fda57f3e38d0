package orders

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/marketdata"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/position"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/protocol"
)

// Commander issues one request line and returns the raw response line.
type Commander interface {
	SendCommand(command string) string
}

// Sentinel errors surfaced to the entry-point layer.
var (
	ErrUnknownOrder = errors.New("orders: unknown order id")
	ErrNoMarketData = errors.New("orders: no market data for stop price")
	ErrNotAvailable = errors.New("orders: order cancelled or rejected")
	ErrRejected     = errors.New("orders: placement rejected")
)

// Settings bounds the fill-wait and reconcile polls.
type Settings struct {
	FillWaitAttempts  int
	FillWaitInterval  time.Duration
	ReconcileAttempts int
	ReconcileInterval time.Duration
}

// PlaceResult reports a placement. SignedID is positive when the order
// filled inside the wait window and negative while it is still pending.
type PlaceResult struct {
	SignedID  int
	Filled    int
	FillPrice float64
}

// TradeResult reports an order-status poll for the host.
type TradeResult struct {
	Filled int
	Open   float64
	Close  float64
	Profit float64
}

// CloseResult reports a close call. Cancelled is set when the order was
// still pending and was cancelled instead of opposed.
type CloseResult struct {
	SignedID   int
	Cancelled  bool
	Filled     int
	ClosePrice float64
	Profit     float64
}

// Desk maps host place/close/cancel intents onto protocol commands and keeps
// the registry and position cache in step with observed fills.
type Desk struct {
	conn     Commander
	registry *Registry
	pos      *position.Cache
	market   *marketdata.Adapter
	settings Settings
	tif      model.TimeInForce

	// keepGoing is consulted after every poll sleep; false aborts the wait.
	keepGoing func() bool

	log *zap.Logger
}

// NewDesk wires the state machine to its collaborators.
func NewDesk(conn Commander, registry *Registry, pos *position.Cache, market *marketdata.Adapter, settings Settings, log *zap.Logger) *Desk {
	if log == nil {
		log = zap.NewNop()
	}
	return &Desk{
		conn:     conn,
		registry: registry,
		pos:      pos,
		market:   market,
		settings: settings,
		tif:      model.TIFGTC,
		log:      log,
	}
}

// SetAbortCheck installs the host progress probe.
func (d *Desk) SetAbortCheck(keepGoing func() bool) {
	d.keepGoing = keepGoing
}

// SetTIF sets the default time-in-force for subsequent orders.
func (d *Desk) SetTIF(tif model.TimeInForce) {
	d.tif = tif
}

// TIF returns the current default time-in-force.
func (d *Desk) TIF() model.TimeInForce {
	return d.tif
}

// SetFillWaitInterval adjusts the poll interval between fill checks.
func (d *Desk) SetFillWaitInterval(interval time.Duration) {
	d.settings.FillWaitInterval = interval
}

// FillWaitInterval returns the poll interval between fill checks.
func (d *Desk) FillWaitInterval() time.Duration {
	return d.settings.FillWaitInterval
}

// classify derives the order kind from the stop/limit arguments.
func classify(stopDist, limit float64) model.OrderKind {
	switch {
	case stopDist > 0 && limit > 0:
		return model.KindStopLimit
	case stopDist > 0:
		return model.KindStop
	case limit > 0:
		return model.KindLimit
	default:
		return model.KindMarket
	}
}

// Place submits an order. The sign of signedAmount selects the side, its
// magnitude the quantity. Market orders wait a bounded time for a fill; any
// observed fill updates the position cache before Place returns.
func (d *Desk) Place(instrument string, signedAmount int, stopDist, limit float64) (PlaceResult, error) {
	side := model.SideBuy
	quantity := signedAmount
	if signedAmount < 0 {
		side = model.SideSell
		quantity = -signedAmount
	}
	if quantity == 0 {
		return PlaceResult{}, errors.New("orders: zero quantity")
	}

	kind := classify(stopDist, limit)

	limitPrice := 0.0
	if kind == model.KindLimit || kind == model.KindStopLimit {
		limitPrice = limit
	}

	stopPrice := 0.0
	if kind == model.KindStop || kind == model.KindStopLimit {
		price := d.market.Snapshot(instrument).Price()
		if price <= 0 {
			return PlaceResult{}, errors.Wrapf(ErrNoMarketData, "instrument %s", instrument)
		}
		// Buy stops trigger above the market, sell stops below.
		if side == model.SideBuy {
			stopPrice = price + stopDist
		} else {
			stopPrice = price - stopDist
		}
	}

	resp := d.conn.SendCommand(protocol.PlaceOrder(side, instrument, quantity, kind, limitPrice, stopPrice))
	externalID, err := protocol.ParseOrderAck(resp)
	if err != nil {
		d.log.Error("place_rejected",
			zap.String("instrument", instrument),
			zap.String("side", string(side)),
			zap.Int("quantity", quantity),
			zap.String("response", resp),
		)
		return PlaceResult{}, errors.Wrapf(ErrRejected, "%s", resp)
	}

	localID := d.registry.Register(externalID, model.Order{
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
		Kind:       kind,
		Status:     model.StatusSubmitted,
	})

	d.log.Info("order_placed",
		zap.Int("local_id", localID),
		zap.String("external_id", externalID),
		zap.String("instrument", instrument),
		zap.String("side", string(side)),
		zap.Int("quantity", quantity),
		zap.String("kind", string(kind)),
	)

	// Only market orders are waited on; working orders return pending at once.
	if kind != model.KindMarket {
		return PlaceResult{SignedID: -localID}, nil
	}

	order := d.registry.Lookup(localID)
	if !d.waitForFill(order) {
		return PlaceResult{SignedID: -localID}, nil
	}

	d.pos.ApplyFill(instrument, side.Sign()*order.Filled)
	d.pos.Reconcile(d.conn, instrument, side.Sign(),
		d.settings.ReconcileAttempts, d.settings.ReconcileInterval, d.keepGoing)

	return PlaceResult{
		SignedID:  localID,
		Filled:    order.Filled,
		FillPrice: order.AvgFillPrice,
	}, nil
}

// waitForFill polls the order's status until a fill is observed, the host
// aborts, or attempts run out. The registry entry is only mutated after a
// positive fill, so an aborted wait leaves no partial state.
func (d *Desk) waitForFill(order *model.Order) bool {
	for i := 0; i < d.settings.FillWaitAttempts; i++ {
		time.Sleep(d.settings.FillWaitInterval)
		if d.keepGoing != nil && !d.keepGoing() {
			d.log.Info("fill_wait_aborted", zap.Int("local_id", order.LocalID))
			return false
		}

		report, err := d.queryStatus(order.ExternalID)
		if err != nil {
			continue
		}
		if report.Filled > 0 {
			applyFillReport(order, report)
			if order.Status.Terminal() {
				d.registry.RetireTerminal()
			}
			d.log.Info("order_filled",
				zap.Int("local_id", order.LocalID),
				zap.Int("filled", order.Filled),
				zap.Float64("avg_price", order.AvgFillPrice),
			)
			return true
		}
	}
	d.log.Info("fill_wait_timeout", zap.Int("local_id", order.LocalID))
	return false
}

// queryStatus fetches and parses the current order status.
func (d *Desk) queryStatus(externalID string) (model.OrderStatusReport, error) {
	resp := d.conn.SendCommand(protocol.GetOrderStatus(externalID))
	return protocol.ParseOrderStatus(resp)
}

// applyFillReport folds a status report into an order, holding the
// filled-iff-complete and terminal-latch invariants.
func applyFillReport(order *model.Order, report model.OrderStatusReport) {
	if report.Filled > order.Quantity {
		report.Filled = order.Quantity
	}
	order.Filled = report.Filled
	if report.AvgFillPrice > 0 {
		order.AvgFillPrice = report.AvgFillPrice
	}
	if order.Status.Terminal() {
		return
	}
	switch {
	case order.Filled == order.Quantity:
		order.Status = model.StatusFilled
	case order.Filled > 0:
		order.Status = model.StatusPartial
	case report.Status == model.StatusCancelled || report.Status == model.StatusRejected:
		order.Status = report.Status
	}
}

// Trade re-polls an order's state for the host. ErrNotAvailable is returned
// for cancelled or rejected orders, which also triggers a retirement sweep.
func (d *Desk) Trade(signedID int) (TradeResult, error) {
	order := d.registry.Lookup(signedID)
	if order == nil {
		return TradeResult{}, errors.Wrapf(ErrUnknownOrder, "id %d", signedID)
	}

	report, err := d.queryStatus(order.ExternalID)
	if err != nil {
		return TradeResult{}, err
	}
	applyFillReport(order, report)
	if order.Status.Terminal() {
		d.registry.RetireTerminal()
	}

	if order.Status == model.StatusCancelled || order.Status == model.StatusRejected {
		return TradeResult{}, errors.Wrapf(ErrNotAvailable, "id %d status %s", signedID, order.Status)
	}

	result := TradeResult{
		Filled: order.Filled,
		Open:   order.AvgFillPrice,
	}
	if current := d.market.Quote(order.Instrument, marketdata.QuoteLast); current > 0 {
		result.Close = current
		if order.AvgFillPrice > 0 {
			result.Profit = (current - order.AvgFillPrice) * float64(order.Filled) * float64(order.Side.Sign())
		}
	}
	return result, nil
}

// Close exits a trade. A still-pending order is cancelled; a filled one is
// opposed with a market (or limit) order. The position cache moves toward
// zero by any observed close fill before Close returns.
func (d *Desk) Close(signedID, amount int, limit float64) (CloseResult, error) {
	order := d.registry.Lookup(signedID)
	if order == nil {
		return CloseResult{}, errors.Wrapf(ErrUnknownOrder, "id %d", signedID)
	}

	// The cached fill count may be stale; ask the application.
	report, err := d.queryStatus(order.ExternalID)
	if err != nil {
		return CloseResult{}, err
	}
	applyFillReport(order, report)

	if order.Filled == 0 {
		return d.cancelPending(signedID, order)
	}

	quantity := amount
	if quantity <= 0 {
		quantity = order.Filled
	}
	if quantity <= 0 {
		if report, err := position.External(d.conn, order.Instrument); err == nil {
			if report.Quantity < 0 {
				quantity = -report.Quantity
			} else {
				quantity = report.Quantity
			}
		}
	}
	if quantity <= 0 {
		return CloseResult{}, errors.Errorf("orders: nothing to close for id %d", signedID)
	}

	kind := model.KindMarket
	limitPrice := 0.0
	if limit > 0 {
		kind = model.KindLimit
		limitPrice = limit
	}

	closeSide := order.Side.Opposite()
	resp := d.conn.SendCommand(protocol.PlaceOrder(closeSide, order.Instrument, quantity, kind, limitPrice, 0))
	closeExternalID, err := protocol.ParseOrderAck(resp)
	if err != nil {
		d.log.Error("close_rejected", zap.Int("local_id", order.LocalID), zap.String("response", resp))
		return CloseResult{}, errors.Wrapf(ErrRejected, "%s", resp)
	}

	d.log.Info("close_placed",
		zap.Int("local_id", order.LocalID),
		zap.String("close_external_id", closeExternalID),
		zap.String("side", string(closeSide)),
		zap.Int("quantity", quantity),
		zap.String("kind", string(kind)),
	)

	result := CloseResult{SignedID: signedID}
	if kind != model.KindMarket {
		return result, nil
	}

	closeOrder := model.Order{
		ExternalID: closeExternalID,
		Instrument: order.Instrument,
		Side:       closeSide,
		Quantity:   quantity,
		Kind:       kind,
		Status:     model.StatusSubmitted,
	}
	if d.waitForFill(&closeOrder) {
		d.pos.ApplyFill(order.Instrument, closeSide.Sign()*closeOrder.Filled)
		result.Filled = closeOrder.Filled
		result.ClosePrice = closeOrder.AvgFillPrice
		if order.AvgFillPrice > 0 {
			result.Profit = (closeOrder.AvgFillPrice - order.AvgFillPrice) *
				float64(closeOrder.Filled) * float64(order.Side.Sign())
		}
		d.pos.Reconcile(d.conn, order.Instrument, closeSide.Sign(),
			d.settings.ReconcileAttempts, d.settings.ReconcileInterval, d.keepGoing)
	}
	return result, nil
}

// cancelPending implements the pending branch of Close and the DO_CANCEL
// command: the working order is cancelled, never opposed.
func (d *Desk) cancelPending(signedID int, order *model.Order) (CloseResult, error) {
	resp := d.conn.SendCommand(protocol.CancelOrder(order.ExternalID))
	if !protocol.IsOK(resp) {
		d.log.Error("cancel_failed", zap.Int("local_id", order.LocalID), zap.String("response", resp))
		return CloseResult{}, errors.Errorf("orders: cancel %d failed: %s", order.LocalID, resp)
	}

	order.Status = model.StatusCancelled
	d.registry.RetireTerminal()
	d.log.Info("order_cancelled", zap.Int("local_id", order.LocalID))
	return CloseResult{SignedID: signedID, Cancelled: true}, nil
}

// Cancel cancels a working order by host id. Used by the extended command
// interface.
func (d *Desk) Cancel(signedID int) bool {
	order := d.registry.Lookup(signedID)
	if order == nil {
		return false
	}
	_, err := d.cancelPending(signedID, order)
	return err == nil
}
