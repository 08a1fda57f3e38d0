// Package marketdata subscribes to instruments and serves price queries,
// caching per-instrument contract specs learned at subscribe time.
package marketdata

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/protocol"
)

// Commander issues one request line and returns the raw response line.
type Commander interface {
	SendCommand(command string) string
}

// QuoteKind selects a field of a market-data snapshot.
type QuoteKind int

const (
	QuoteLast QuoteKind = iota
	QuoteBid
	QuoteAsk
	QuoteVolume
)

// Adapter is the market-data side of the bridge. It tracks the current
// symbol and keeps an asset-spec cache that, once populated with positive
// values, is never overwritten with zero or negative ones.
type Adapter struct {
	conn     Commander
	specs    map[string]model.AssetSpec
	current  string
	defaults model.AssetSpec
	log      *zap.Logger
}

// New creates an adapter with the given fallback specs.
func New(conn Commander, defaults model.AssetSpec, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		conn:     conn,
		specs:    make(map[string]model.AssetSpec),
		defaults: defaults,
		log:      log,
	}
}

// Subscribe requests market data for an instrument. On success the
// instrument becomes the current symbol and any reported contract specs are
// cached; missing optional fields leave prior values intact.
func (a *Adapter) Subscribe(instrument string) error {
	resp := a.conn.SendCommand(protocol.Subscribe(instrument))
	if protocol.IsError(resp) {
		return errors.Errorf("subscribe %s: %s", instrument, resp)
	}

	ack, err := protocol.ParseSubscribe(resp)
	if err != nil {
		if !protocol.IsOK(resp) {
			return err
		}
		// Bare OK without specs still counts as subscribed.
		ack = protocol.SubscribeAck{Instrument: instrument}
	}

	spec := a.specs[instrument]
	if ack.Spec.TickSize > 0 {
		spec.TickSize = ack.Spec.TickSize
	}
	if ack.Spec.PointValue > 0 {
		spec.PointValue = ack.Spec.PointValue
	}
	a.specs[instrument] = spec
	a.current = instrument

	a.log.Info("subscribed",
		zap.String("instrument", instrument),
		zap.Float64("tick_size", spec.TickSize),
		zap.Float64("point_value", spec.PointValue),
	)
	return nil
}

// Unsubscribe drops the market-data subscription for an instrument.
func (a *Adapter) Unsubscribe(instrument string) error {
	resp := a.conn.SendCommand(protocol.Unsubscribe(instrument))
	if !protocol.IsOK(resp) {
		return errors.Errorf("unsubscribe %s: %s", instrument, resp)
	}
	return nil
}

// Snapshot fetches the full quote for an instrument. A parse failure yields
// the zero quote.
func (a *Adapter) Snapshot(instrument string) model.Quote {
	resp := a.conn.SendCommand(protocol.GetPrice(instrument))
	quote, err := protocol.ParsePrice(resp)
	if err != nil {
		a.log.Debug("price_unavailable", zap.String("instrument", instrument), zap.String("response", resp))
		return model.Quote{}
	}
	return quote
}

// Quote returns one field of the current snapshot; 0 on any failure.
func (a *Adapter) Quote(instrument string, kind QuoteKind) float64 {
	q := a.Snapshot(instrument)
	switch kind {
	case QuoteLast:
		return q.Last
	case QuoteBid:
		return q.Bid
	case QuoteAsk:
		return q.Ask
	case QuoteVolume:
		return q.Volume
	default:
		return 0
	}
}

// AssetSpecs returns cached contract specs for an instrument, or the
// configured defaults when the cache holds nothing usable.
func (a *Adapter) AssetSpecs(instrument string) model.AssetSpec {
	if spec, ok := a.specs[instrument]; ok && spec.Valid() {
		return spec
	}
	a.log.Info("asset_spec_default",
		zap.String("instrument", instrument),
		zap.Float64("tick_size", a.defaults.TickSize),
		zap.Float64("point_value", a.defaults.PointValue),
	)
	return a.defaults
}

// Current returns the current symbol, set by the last successful subscribe
// or an explicit SetCurrent.
func (a *Adapter) Current() string {
	return a.current
}

// SetCurrent overrides the current symbol without a round-trip.
func (a *Adapter) SetCurrent(instrument string) {
	a.current = instrument
}

// Reset clears the current symbol. Cached specs survive a relogin; contract
// parameters do not change between sessions.
func (a *Adapter) Reset() {
	a.current = ""
}
