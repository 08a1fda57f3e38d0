// Package history retrieves historical bars over a single range request and
// filters them to the host's requested window.
package history

import (
	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/protocol"
)

// Commander issues one request line and returns the raw response line.
type Commander interface {
	SendCommand(command string) string
}

// Service issues bar-range requests. One request per host call; the
// application bounds how long it takes.
type Service struct {
	conn Commander
	log  *zap.Logger
}

// New creates a history service.
func New(conn Commander, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{conn: conn, log: log}
}

// Fetch requests bars of barMinutes width covering [tStart, tEnd] (day
// fractions) and returns at most capacity bars inside that window, in the
// order the application returned them. The application may return bars
// spanning the request range; bars before tStart are dropped and the scan
// stops at the first bar past tEnd.
func (s *Service) Fetch(instrument string, tStart, tEnd float64, barMinutes, capacity int) ([]model.Bar, error) {
	resp := s.conn.SendCommand(protocol.GetHistory(instrument, tStart, tEnd, barMinutes, capacity))
	bars, err := protocol.ParseHistory(resp)
	if err != nil {
		s.log.Error("history_failed",
			zap.String("instrument", instrument),
			zap.String("response", resp),
		)
		return nil, err
	}

	out := make([]model.Bar, 0, min(len(bars), capacity))
	for _, bar := range bars {
		if bar.Time < tStart {
			continue
		}
		if bar.Time > tEnd {
			break
		}
		if len(out) == capacity {
			break
		}
		out = append(out, bar)
	}

	s.log.Info("history_fetched",
		zap.String("instrument", instrument),
		zap.Int("received", len(bars)),
		zap.Int("returned", len(out)),
		zap.Int("bar_minutes", barMinutes),
	)
	return out, nil
}
