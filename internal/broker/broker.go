// Package broker implements the fixed entry-point surface the host calls.
// It validates host arguments, dispatches to the bridge components, and maps
// their results onto the host's sentinel conventions. All calls run on the
// host's thread; nothing here spawns goroutines.
package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/config"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/history"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/marketdata"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/orders"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/position"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/protocol"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/transport"
)

// PluginName is reported to the host on Open.
const PluginName = "NT8Bridge"

// PluginVersion is the broker interface version returned by Open.
const PluginVersion = 2

// NotAvailable is the host's sentinel for data that cannot be returned.
const NotAvailable = -999999

// MessageFunc forwards a diagnostic line to the host's log window. Lines
// starting with '!' are alerts.
type MessageFunc func(text string) int

// ProgressFunc keeps the host UI alive during waits. A return of 0 asks the
// bridge to abort the current poll loop.
type ProgressFunc func(progress int) int

// Broker is the process-wide bridge state. One instance exists per loaded
// module; every entry point takes it exclusively for the duration of the
// call.
type Broker struct {
	cfg *config.Config
	log *zap.Logger

	session   *transport.Session
	market    *marketdata.Adapter
	registry  *orders.Registry
	positions *position.Cache
	desk      *orders.Desk
	bars      *history.Service

	connected  bool
	account    string
	diagnostic int

	message  MessageFunc
	progress ProgressFunc
}

// New wires a broker from configuration. No connection is made until Login.
func New(cfg *config.Config, log *zap.Logger) *Broker {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}

	session := transport.New(
		cfg.Bridge.Addr(),
		time.Duration(cfg.Bridge.DialTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Bridge.IOTimeoutMs)*time.Millisecond,
		log,
	)

	market := marketdata.New(session, model.AssetSpec{
		TickSize:   cfg.Asset.DefaultTickSize,
		PointValue: cfg.Asset.DefaultPointValue,
	}, log)

	registry := orders.NewRegistry(cfg.Trading.OrderHistoryCap, log)
	positions := position.NewCache(log)

	desk := orders.NewDesk(session, registry, positions, market, orders.Settings{
		FillWaitAttempts:  cfg.Trading.FillWaitAttempts,
		FillWaitInterval:  time.Duration(cfg.Trading.FillWaitMs) * time.Millisecond,
		ReconcileAttempts: cfg.Trading.ReconcileAttempts,
		ReconcileInterval: time.Duration(cfg.Trading.ReconcileMs) * time.Millisecond,
	}, log)
	desk.SetTIF(model.TimeInForce(cfg.Trading.DefaultTIF))

	b := &Broker{
		cfg:        cfg,
		log:        log,
		session:    session,
		market:     market,
		registry:   registry,
		positions:  positions,
		desk:       desk,
		bars:       history.New(session, log),
		diagnostic: 1,
	}
	desk.SetAbortCheck(b.keepGoing)
	return b
}

// Open stores the host callbacks and reports the plugin name and version.
// Idempotent: the host may call it again after an aborted session.
func (b *Broker) Open(message MessageFunc, progress ProgressFunc) (string, int) {
	b.message = message
	b.progress = progress
	b.info("%s plugin initialized (TCP bridge)", PluginName)
	return PluginName, PluginVersion
}

// Login connects the bridge and activates an account. An empty user is a
// logout request. Returns the account list and 1 on success, 0 on failure.
func (b *Broker) Login(user, password, accountType string) (string, int) {
	_ = password
	_ = accountType

	if user == "" {
		b.logout()
		return "", 0
	}

	if !b.session.Connected() {
		if err := b.session.Connect(); err != nil {
			b.alert("Failed to connect to bridge application on %s", b.cfg.Bridge.Addr())
			b.alert("Check that the order application is running and the bridge add-on is enabled")
			b.log.Error("login_connect_failed", zap.Error(err))
			return "", 0
		}
	}

	resp := b.session.SendCommand(protocol.Login(user))
	if strings.Contains(resp, "ERROR") {
		b.alert("Login failed: %s", resp)
		b.log.Error("login_rejected", zap.String("response", resp))
		return "", 0
	}

	b.account = user
	b.connected = true
	b.info("connected to account %s", user)
	b.log.Info("login_ok", zap.String("account", user))
	return user, 1
}

// logout tears the session down and resets the per-session state. Cached
// asset specs and the local-id counter survive; ids are never reused.
func (b *Broker) logout() {
	if b.session.Connected() {
		b.session.SendCommand(protocol.CmdLogout)
		b.session.Disconnect()
	}
	b.connected = false
	b.account = ""
	b.market.Reset()
	b.positions.Reset()
	b.registry.Reset()
	b.info("disconnected")
}

// Time is the host's periodic alive check. It heartbeats the progress
// callback, verifies the session, and reports current UTC as a day fraction.
// Returns 2 while connected, 0 when the link is down.
func (b *Broker) Time() (float64, int) {
	if !b.connected {
		return 0, 0
	}

	if b.progress != nil {
		b.progress(0)
	}

	resp := b.session.SendCommand(protocol.CmdConnected)
	if !strings.Contains(resp, "CONNECTED:1") {
		b.connected = false
		b.log.Warn("heartbeat_lost", zap.String("response", resp))
		return 0, 0
	}

	return ToDate(time.Now().UTC()), 2
}

// Asset subscribes to an instrument or fills its current market snapshot.
// A nil price output selects subscribe-only mode.
func (b *Broker) Asset(symbol string, price, spread, volume, pip, pipCost, lotAmount *float64) int {
	if !b.connected || symbol == "" {
		return 0
	}

	if price == nil {
		if err := b.market.Subscribe(symbol); err != nil {
			b.alert("Failed to subscribe to %s", symbol)
			b.log.Error("subscribe_failed", zap.String("symbol", symbol), zap.Error(err))
			return 0
		}
		b.info("subscribed to %s", symbol)
		return 1
	}

	if b.market.Current() != symbol {
		if err := b.market.Subscribe(symbol); err != nil {
			b.log.Warn("resubscribe_failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	quote := b.market.Snapshot(symbol)
	*price = quote.Price()
	if spread != nil && quote.Bid > 0 && quote.Ask > 0 {
		*spread = quote.Ask - quote.Bid
	}
	if volume != nil {
		*volume = quote.Volume
	}

	spec := b.market.AssetSpecs(symbol)
	if pip != nil {
		*pip = spec.TickSize
	}
	if pipCost != nil {
		*pipCost = spec.TickSize * spec.PointValue
	}
	if lotAmount != nil {
		*lotAmount = 1
	}

	if *price <= 0 {
		return 0
	}
	return 1
}

// Account fills balance, unrealized P&L, and available margin from a single
// account query.
func (b *Broker) Account(account string, balance, tradeVal, margin *float64) int {
	_ = account // single-account bridge; the active login is authoritative
	if !b.connected {
		return 0
	}

	resp := b.session.SendCommand(protocol.CmdAccount)
	summary, err := protocol.ParseAccount(resp)
	if err != nil {
		b.log.Error("account_failed", zap.String("response", resp))
		return 0
	}

	if balance != nil {
		*balance = summary.Cash
	}
	if tradeVal != nil {
		*tradeVal = summary.UnrealizedPnL
	}
	if margin != nil {
		*margin = summary.BuyingPower
	}
	return 1
}

// Buy2 places an order. The returned id is positive when the order filled
// inside the wait window, negative while pending, 0 on failure.
func (b *Broker) Buy2(symbol string, amount int, stopDist, limit float64, price *float64, fill *int) int {
	if !b.connected || symbol == "" || amount == 0 {
		return 0
	}

	result, err := b.desk.Place(symbol, amount, stopDist, limit)
	if err != nil {
		b.alert("Order failed for %s: %v", symbol, err)
		return 0
	}

	if result.Filled > 0 {
		if price != nil {
			*price = result.FillPrice
		}
		if fill != nil {
			*fill = result.Filled
		}
		b.info("order %d filled: %d @ %.2f", result.SignedID, result.Filled, result.FillPrice)
	} else {
		b.info("order %d pending", -result.SignedID)
	}
	return result.SignedID
}

// Trade reports an order's fill state. Returns the filled quantity, or
// NotAvailable when the order is unknown, cancelled, or rejected.
func (b *Broker) Trade(tradeID int, open, closePrice, cost, profit *float64) int {
	if !b.connected {
		return NotAvailable
	}

	result, err := b.desk.Trade(tradeID)
	if err != nil {
		if errors.Is(err, orders.ErrNotAvailable) {
			b.info("trade %d no longer available", tradeID)
		}
		return NotAvailable
	}

	if open != nil && result.Open > 0 {
		*open = result.Open
	}
	if closePrice != nil && result.Close > 0 {
		*closePrice = result.Close
	}
	if cost != nil {
		*cost = 0
	}
	if profit != nil {
		*profit = result.Profit
	}
	return result.Filled
}

// Sell2 exits a trade: a still-pending order is cancelled, a filled one is
// opposed. Returns the signed trade id on success, 0 on failure.
func (b *Broker) Sell2(tradeID, amount int, limit float64, closePrice, cost, profit *float64, fill *int) int {
	if !b.connected {
		return 0
	}

	result, err := b.desk.Close(tradeID, amount, limit)
	if err != nil {
		b.alert("Close failed for trade %d: %v", tradeID, err)
		return 0
	}

	if result.Cancelled {
		b.info("trade %d cancelled", tradeID)
		return result.SignedID
	}

	if result.Filled > 0 {
		if closePrice != nil {
			*closePrice = result.ClosePrice
		}
		if profit != nil {
			*profit = result.Profit
		}
		if fill != nil {
			*fill = result.Filled
		}
		if cost != nil {
			*cost = 0
		}
		b.info("trade %d closed: %d @ %.2f", tradeID, result.Filled, result.ClosePrice)
	}
	return result.SignedID
}

// Command handles the host's extended command interface. Unknown codes
// return 0.
func (b *Broker) Command(code int, param any) float64 {
	switch code {
	case GetCompliance:
		return NFACompliant

	case GetBrokerzone:
		return BrokerZoneEST

	case GetMaxTicks:
		return float64(b.cfg.Trading.MaxTicks)

	case GetMaxRequests:
		return float64(b.cfg.Trading.MaxRequestsPerSec)

	case GetPosition:
		symbol, ok := param.(string)
		if !ok || !b.connected {
			return 0
		}
		// The host keeps its own long/short counters; it expects magnitude.
		net := b.positions.Query(symbol)
		if net < 0 {
			net = -net
		}
		return float64(net)

	case GetAvgEntry:
		symbol, ok := param.(string)
		if !ok || !b.connected {
			return 0
		}
		report, err := position.External(b.session, symbol)
		if err != nil {
			return 0
		}
		return report.AvgPrice

	case GetDiagnostics:
		return float64(b.diagnostic)

	case SetDiagnostics:
		level := toInt(param)
		if level < 0 {
			level = 0
		}
		if level > 2 {
			level = 2
		}
		b.diagnostic = level
		return 1

	case SetOrderType:
		b.desk.SetTIF(tifFromCode(toInt(param)))
		return 1

	case SetSymbol:
		symbol, ok := param.(string)
		if !ok {
			return 0
		}
		b.market.SetCurrent(symbol)
		return 1

	case SetWait:
		ms := toInt(param)
		if ms <= 0 {
			return 0
		}
		b.desk.SetFillWaitInterval(time.Duration(ms) * time.Millisecond)
		return 1

	case GetWait:
		return float64(b.desk.FillWaitInterval().Milliseconds())

	case DoCancel:
		if b.desk.Cancel(toInt(param)) {
			return 1
		}
		return 0

	default:
		return 0
	}
}

// History2 copies up to capacity bars inside [tStart, tEnd] into out and
// returns the count written.
func (b *Broker) History2(symbol string, tStart, tEnd float64, barMinutes, capacity int, out []model.Bar) int {
	if !b.connected || symbol == "" || barMinutes <= 0 || capacity <= 0 || len(out) == 0 {
		return 0
	}
	if capacity > len(out) {
		capacity = len(out)
	}

	bars, err := b.bars.Fetch(symbol, tStart, tEnd, barMinutes, capacity)
	if err != nil {
		b.alert("History request failed for %s", symbol)
		return 0
	}
	return copy(out, bars)
}

// Diagnostic returns the current diagnostic level.
func (b *Broker) Diagnostic() int {
	return b.diagnostic
}

// keepGoing is the poll-loop abort probe: the host's progress callback
// returning 0 stops the current wait.
func (b *Broker) keepGoing() bool {
	if b.progress == nil {
		return true
	}
	return b.progress(0) != 0
}

// info forwards an informational line to the host when the diagnostic level
// admits it.
func (b *Broker) info(format string, args ...any) {
	if b.message == nil || b.diagnostic < 1 {
		return
	}
	b.message("# " + fmt.Sprintf(format, args...))
}

// alert forwards an error line to the host regardless of diagnostic level.
func (b *Broker) alert(format string, args ...any) {
	if b.message == nil {
		return
	}
	b.message("!" + fmt.Sprintf(format, args...))
}

// tifFromCode maps the host's order-type code onto a time-in-force token.
func tifFromCode(code int) model.TimeInForce {
	switch code {
	case OrderGTC:
		return model.TIFGTC
	case OrderIOC:
		return model.TIFIOC
	case OrderFOK:
		return model.TIFFOK
	default:
		return model.TIFDay
	}
}

// toInt coerces the host's untyped command parameter to an int.
func toInt(param any) int {
	switch v := param.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case uintptr:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
