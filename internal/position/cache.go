// Package position maintains the per-instrument signed net position that
// backs synchronous host queries. The cache is updated on every locally
// observed fill; the order-management application is only polled afterwards
// to confirm its own collection caught up.
package position

import (
	"time"

	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/protocol"
)

// Commander issues one request line and returns the raw response line.
type Commander interface {
	SendCommand(command string) string
}

// Cache holds signed net quantities keyed by instrument. It is the source of
// truth for host position queries and never issues a round-trip on read.
type Cache struct {
	net map[string]int
	log *zap.Logger
}

// NewCache creates an empty position cache.
func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		net: make(map[string]int),
		log: log,
	}
}

// ApplyFill adds a signed fill quantity to the instrument's net position.
// Called immediately whenever a fill is observed for a placement or close.
func (c *Cache) ApplyFill(instrument string, signedQty int) {
	c.net[instrument] += signedQty
	c.log.Info("position_updated",
		zap.String("instrument", instrument),
		zap.Int("delta", signedQty),
		zap.Int("net", c.net[instrument]),
	)
}

// Query returns the cached signed net position. Instruments never traded
// report zero; the cache never answers "unknown".
func (c *Cache) Query(instrument string) int {
	return c.net[instrument]
}

// Reset clears all entries. Used on logout.
func (c *Cache) Reset() {
	c.net = make(map[string]int)
}

// External queries the application's own view of a net position. Used for
// reconciliation and average-entry lookups, never for host position queries.
func External(conn Commander, instrument string) (model.PositionReport, error) {
	resp := conn.SendCommand(protocol.GetPosition(instrument))
	return protocol.ParsePosition(resp)
}

// Reconcile polls the application's position until it catches up with the
// cache or moves in the expected direction from the first observation, and
// returns the last-observed value. The application updates its own
// collection a beat after fills, so this is diagnostic only: the cache is
// never overwritten from the poll. The abort callback is checked after every
// sleep; returning false stops the poll.
func (c *Cache) Reconcile(conn Commander, instrument string, expectSign, attempts int, delay time.Duration, keepGoing func() bool) int {
	last := 0
	baseline := 0
	haveBaseline := false

	for i := 0; i < attempts; i++ {
		resp := conn.SendCommand(protocol.GetPosition(instrument))
		report, err := protocol.ParsePosition(resp)
		if err == nil {
			last = report.Quantity
			moved := false
			if !haveBaseline {
				baseline = report.Quantity
				haveBaseline = true
				moved = report.Quantity == c.net[instrument]
			} else {
				delta := report.Quantity - baseline
				moved = (expectSign > 0 && delta > 0) || (expectSign < 0 && delta < 0)
			}
			if moved {
				c.log.Debug("position_reconciled",
					zap.String("instrument", instrument),
					zap.Int("external", report.Quantity),
					zap.Int("cached", c.net[instrument]),
				)
				return last
			}
		}

		time.Sleep(delay)
		if keepGoing != nil && !keepGoing() {
			return last
		}
	}

	c.log.Info("position_reconcile_timeout",
		zap.String("instrument", instrument),
		zap.Int("external", last),
		zap.Int("cached", c.net[instrument]),
	)
	return last
}
