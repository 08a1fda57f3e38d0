// Package transport maintains the blocking TCP session to the
// order-management application. It sends one newline-terminated command and
// reads back one newline-terminated response; it owns no parsing.
package transport

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrorPrefix marks a sentinel response produced locally on transport failure.
const ErrorPrefix = "ERROR:"

// ErrHandshake is returned when the peer does not answer PING with PONG.
var ErrHandshake = errors.New("transport: handshake failed")

// Session is a single blocking request/response TCP connection. No request is
// issued while another is outstanding, so responses are totally ordered with
// their requests. Not safe for concurrent use; the host calls on one thread.
type Session struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration

	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	log *zap.Logger
}

// New creates a session for the given address. No connection is made until
// Connect is called.
func New(addr string, dialTimeout, ioTimeout time.Duration, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		addr:        addr,
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
		log:         log,
	}
}

// Connect dials the peer and verifies it with a PING/PONG exchange. The
// connection is abandoned when the handshake fails.
func (s *Session) Connect() error {
	if s.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", s.addr, s.dialTimeout)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", s.addr)
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connected = true

	if resp := s.SendCommand("PING"); resp != "PONG" {
		s.log.Error("handshake_failed", zap.String("response", resp))
		s.Disconnect()
		return errors.Wrapf(ErrHandshake, "unexpected response %q", resp)
	}

	s.log.Info("session_connected", zap.String("addr", s.addr))
	return nil
}

// Disconnect closes the connection. Safe to call repeatedly.
func (s *Session) Disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
	s.connected = false
}

// Connected reports whether the session believes the link is up.
func (s *Session) Connected() bool {
	return s.connected
}

// SendCommand writes one command line and reads one response line, with the
// trailing newline stripped. A failed send or receive marks the session
// disconnected and returns a sentinel beginning with ErrorPrefix; subsequent
// commands fail fast until the caller reconnects.
func (s *Session) SendCommand(command string) string {
	if !s.connected || s.conn == nil {
		return ErrorPrefix + "Not connected"
	}

	if s.ioTimeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.ioTimeout))
	}

	if _, err := s.conn.Write([]byte(command + "\n")); err != nil {
		s.log.Error("send_failed", zap.String("command", firstToken(command)), zap.Error(err))
		s.Disconnect()
		return ErrorPrefix + "Send failed"
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.log.Error("recv_failed", zap.String("command", firstToken(command)), zap.Error(err))
		s.Disconnect()
		return ErrorPrefix + "Receive failed"
	}

	return strings.TrimRight(line, "\r\n")
}

// firstToken trims a command line down to its leading token for logging, so
// account names and order parameters stay out of the log.
func firstToken(command string) string {
	if i := strings.IndexByte(command, ':'); i >= 0 {
		return command[:i]
	}
	return command
}
