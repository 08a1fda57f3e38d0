package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqConn returns one scripted response per GETPOSITION call, repeating the
// last entry once the script runs out.
type seqConn struct {
	responses []string
	calls     int
}

func (s *seqConn) SendCommand(command string) string {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i]
}

func TestApplyFillAndQuery(t *testing.T) {
	c := NewCache(nil)
	assert.Zero(t, c.Query("ES"))

	c.ApplyFill("ES", 2)
	c.ApplyFill("ES", -3)
	c.ApplyFill("NQ", 1)

	assert.Equal(t, -1, c.Query("ES"))
	assert.Equal(t, 1, c.Query("NQ"))
	assert.Zero(t, c.Query("CL"))
}

func TestQueryNeverRoundTrips(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 5)
	// No commander is involved at all; Query is pure cache.
	assert.Equal(t, 5, c.Query("ES"))
}

func TestReset(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 2)
	c.Reset()
	assert.Zero(t, c.Query("ES"))
}

func TestExternal(t *testing.T) {
	conn := &seqConn{responses: []string{"POSITION:-2:5001.5"}}
	rep, err := External(conn, "ES")
	require.NoError(t, err)
	assert.Equal(t, -2, rep.Quantity)
	assert.Equal(t, 5001.5, rep.AvgPrice)
}

func TestReconcileReturnsWhenCaughtUp(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 1)

	conn := &seqConn{responses: []string{"POSITION:1:5000"}}
	got := c.Reconcile(conn, "ES", 1, 5, time.Millisecond, nil)

	assert.Equal(t, 1, got)
	assert.Equal(t, 1, conn.calls, "should stop on first matching poll")
}

func TestReconcileWaitsForExpectedDirection(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 1)

	// External collection lags: two stale reads before the fill shows.
	conn := &seqConn{responses: []string{"POSITION:0:0", "POSITION:0:0", "POSITION:1:5000"}}
	got := c.Reconcile(conn, "ES", 1, 10, time.Millisecond, nil)

	assert.Equal(t, 1, got)
	assert.Equal(t, 3, conn.calls)
}

func TestReconcileTimeoutKeepsCache(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 1)

	conn := &seqConn{responses: []string{"POSITION:0:0"}}
	got := c.Reconcile(conn, "ES", 1, 3, time.Millisecond, nil)

	// Reconciliation is diagnostic: the cache stays authoritative.
	assert.Zero(t, got)
	assert.Equal(t, 1, c.Query("ES"))
	assert.Equal(t, 3, conn.calls)
}

func TestReconcileAborts(t *testing.T) {
	c := NewCache(nil)
	c.ApplyFill("ES", 1)

	conn := &seqConn{responses: []string{"POSITION:0:0"}}
	calls := 0
	got := c.Reconcile(conn, "ES", 1, 10, time.Millisecond, func() bool {
		calls++
		return calls < 2
	})

	assert.Zero(t, got)
	assert.Equal(t, 2, conn.calls)
}
