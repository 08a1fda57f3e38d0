package history

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minuteFraction = 1.0 / (24 * 60)

type stubConn struct {
	response string
	sent     []string
}

func (s *stubConn) SendCommand(command string) string {
	s.sent = append(s.sent, command)
	return s.response
}

// historyResponse builds a HISTORY line of count 1-minute bars starting at t0.
func historyResponse(t0 float64, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HISTORY:%d", count)
	for i := 0; i < count; i++ {
		t := t0 + float64(i)*minuteFraction
		fmt.Fprintf(&b, "|%s,10,12,9,11,%d", strconv.FormatFloat(t, 'f', 10, 64), i)
	}
	return b.String()
}

func TestFetchFiltersToRequestedRange(t *testing.T) {
	// 100 one-minute bars spanning [T-50m, T+50m); request [T-10m, T+10m].
	T := 45000.5
	conn := &stubConn{response: historyResponse(T-50*minuteFraction, 100)}
	s := New(conn, nil)

	// Wire timestamps carry 10 decimals; pad the window by less than a
	// millisecond so boundary bars are not lost to rounding.
	const eps = 1e-9
	tStart := T - 10*minuteFraction - eps
	tEnd := T + 10*minuteFraction + eps
	bars, err := s.Fetch("ES", tStart, tEnd, 1, 30)
	require.NoError(t, err)

	// Bars at T-10m .. T+10m inclusive: 21 of them.
	require.Len(t, bars, 21)
	for _, bar := range bars {
		assert.GreaterOrEqual(t, bar.Time, tStart)
		assert.LessOrEqual(t, bar.Time, tEnd)
	}

	// Wire order preserved: volumes climb with the source index.
	for i := 1; i < len(bars); i++ {
		assert.Greater(t, bars[i].Volume, bars[i-1].Volume)
	}
}

func TestFetchHonorsCapacity(t *testing.T) {
	T := 45000.5
	conn := &stubConn{response: historyResponse(T, 50)}
	s := New(conn, nil)

	bars, err := s.Fetch("ES", T, T+60*minuteFraction, 1, 10)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}

func TestFetchEmpty(t *testing.T) {
	conn := &stubConn{response: "HISTORY:0"}
	s := New(conn, nil)

	bars, err := s.Fetch("ES", 45000, 45001, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchError(t *testing.T) {
	conn := &stubConn{response: "ERROR:Bars request timeout"}
	s := New(conn, nil)

	_, err := s.Fetch("ES", 45000, 45001, 1, 100)
	assert.Error(t, err)
}

func TestFetchRequestShape(t *testing.T) {
	conn := &stubConn{response: "HISTORY:0"}
	s := New(conn, nil)

	_, err := s.Fetch("ES", 45000.25, 45000.75, 5, 300)
	require.NoError(t, err)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "GETHISTORY:ES:45000.2500000000:45000.7500000000:5:300", conn.sent[0])
}
