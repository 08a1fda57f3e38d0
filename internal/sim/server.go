// Package sim is an in-process stand-in for the order-management
// application's bridge add-on. It speaks the line protocol over TCP with
// scripted fills and a lagging position collection, for diagnostics and
// tests when no live application is running.
package sim

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
)

// Instrument holds the simulated market state for one symbol.
type Instrument struct {
	Quote model.Quote
	Spec  model.AssetSpec
}

type simOrder struct {
	id         string
	instrument string
	side       model.Side
	quantity   int
	kind       model.OrderKind
	limitPrice float64
	status     model.OrderStatus
	filled     int
	avgPrice   float64
	pollsLeft  int
	fillQty    int
}

type pendingFill struct {
	delta     int
	price     float64
	pollsLeft int
}

type simPosition struct {
	quantity int
	avgPrice float64
	pending  []pendingFill
}

// Server is the simulator. Configure it before Start; the scripting methods
// are safe to call while serving.
type Server struct {
	mu sync.Mutex

	ln     net.Listener
	closed bool

	instruments map[string]*Instrument
	account     model.AccountSummary
	fourFields  bool
	loggedIn    string
	orders      map[string]*simOrder
	positions   map[string]*simPosition
	history     map[string][]model.Bar
	nextSeq     int

	fillPolls   int // status polls before a market order fills
	posLagPolls int // position polls before a fill shows externally
	rejectNext  bool
	partialNext int

	log *zap.Logger
}

// NewServer creates an empty simulator.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		instruments: make(map[string]*Instrument),
		orders:      make(map[string]*simOrder),
		positions:   make(map[string]*simPosition),
		history:     make(map[string][]model.Bar),
		nextSeq:     1,
		log:         log,
	}
}

// SetInstrument seeds quote and contract specs for a symbol.
func (s *Server) SetInstrument(symbol string, inst Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := inst
	s.instruments[symbol] = &cp
}

// SetAccount seeds the account summary. fourFields selects whether the
// optional unrealized-PnL field is sent.
func (s *Server) SetAccount(sum model.AccountSummary, fourFields bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = sum
	s.fourFields = fourFields
}

// SetHistory seeds the bar series returned for a symbol. The simulator
// returns the whole series regardless of the requested range, like the real
// add-on may.
func (s *Server) SetHistory(symbol string, bars []model.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[symbol] = bars
}

// FillAfterPolls makes market orders fill after n status polls.
func (s *Server) FillAfterPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillPolls = n
}

// PositionLag delays the position collection by n position polls after each
// fill, reproducing the application's asynchronous bookkeeping.
func (s *Server) PositionLag(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posLagPolls = n
}

// RejectNext makes the next placed order come back REJECTED on status polls.
func (s *Server) RejectNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// PartialNext makes the next market order fill only qty units.
func (s *Server) PartialNext(qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialNext = qty
}

// Position returns the simulator's settled external position for a symbol.
func (s *Server) Position(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[symbol]; ok {
		return p.quantity
	}
	return 0
}

// Start listens on addr ("127.0.0.1:0" for an ephemeral port) and serves
// connections until Close. Returns the bound address.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.ln = ln
	go s.acceptLoop()
	return ln.Addr().String(), nil
}

// Close stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		resp := s.handle(strings.TrimRight(line, "\r\n"))
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			return
		}
	}
}

// handle dispatches one command line, mirroring the add-on's command switch.
func (s *Server) handle(command string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(command, ":")
	cmd := strings.ToUpper(parts[0])
	s.log.Debug("sim_command", zap.String("command", cmd))

	switch cmd {
	case "PING":
		return "PONG"

	case "LOGIN":
		if len(parts) < 2 || parts[1] == "" {
			return "ERROR:Account name required"
		}
		s.loggedIn = parts[1]
		return "OK:Logged in to " + parts[1]

	case "LOGOUT":
		s.loggedIn = ""
		return "OK:Logged out"

	case "CONNECTED":
		if s.loggedIn != "" {
			return "CONNECTED:1"
		}
		return "CONNECTED:0"

	case "SUBSCRIBE":
		return s.handleSubscribe(parts)

	case "UNSUBSCRIBE":
		return "OK:Unsubscribed"

	case "GETPRICE":
		return s.handleGetPrice(parts)

	case "GETACCOUNT":
		return s.handleGetAccount()

	case "GETPOSITION":
		return s.handleGetPosition(parts)

	case "PLACEORDER":
		return s.handlePlaceOrder(parts)

	case "GETORDERSTATUS":
		return s.handleGetOrderStatus(parts)

	case "CANCELORDER":
		return s.handleCancelOrder(parts)

	case "GETHISTORY":
		return s.handleGetHistory(parts)

	default:
		return "ERROR:Unknown command: " + cmd
	}
}

func (s *Server) handleSubscribe(parts []string) string {
	if len(parts) < 2 {
		return "ERROR:Instrument name required"
	}
	inst, ok := s.instruments[parts[1]]
	if !ok {
		return fmt.Sprintf("ERROR:Instrument '%s' not found", parts[1])
	}
	if !inst.Spec.Valid() {
		return "OK:Subscribed:" + parts[1]
	}
	return fmt.Sprintf("OK:Subscribed:%s:%s:%s", parts[1],
		trimFloat(inst.Spec.TickSize), trimFloat(inst.Spec.PointValue))
}

func (s *Server) handleGetPrice(parts []string) string {
	if len(parts) < 2 {
		return "ERROR:Instrument name required"
	}
	inst, ok := s.instruments[parts[1]]
	if !ok {
		return fmt.Sprintf("ERROR:Instrument '%s' not found", parts[1])
	}
	q := inst.Quote
	return fmt.Sprintf("PRICE:%s:%s:%s:%s",
		trimFloat(q.Last), trimFloat(q.Bid), trimFloat(q.Ask), trimFloat(q.Volume))
}

func (s *Server) handleGetAccount() string {
	a := s.account
	resp := fmt.Sprintf("ACCOUNT:%s:%s:%s",
		trimFloat(a.Cash), trimFloat(a.BuyingPower), trimFloat(a.RealizedPnL))
	if s.fourFields {
		resp += ":" + trimFloat(a.UnrealizedPnL)
	}
	return resp
}

func (s *Server) handleGetPosition(parts []string) string {
	if len(parts) < 2 {
		return "ERROR:Instrument name required"
	}
	pos := s.positions[parts[1]]
	if pos == nil {
		return "POSITION:0:0"
	}

	// Fills surface in the collection only after their poll lag expires.
	remaining := pos.pending[:0]
	for _, pf := range pos.pending {
		if pf.pollsLeft <= 0 {
			pos.quantity += pf.delta
			pos.avgPrice = pf.price
		} else {
			pf.pollsLeft--
			remaining = append(remaining, pf)
		}
	}
	pos.pending = remaining

	return fmt.Sprintf("POSITION:%d:%s", pos.quantity, trimFloat(pos.avgPrice))
}

func (s *Server) handlePlaceOrder(parts []string) string {
	if len(parts) < 7 {
		return "ERROR:Invalid order format"
	}

	side := model.Side(parts[1])
	instrument := parts[2]
	quantity, _ := strconv.Atoi(parts[3])
	kind := model.OrderKind(parts[4])
	limitPrice, _ := strconv.ParseFloat(parts[5], 64)

	if quantity <= 0 {
		return "ERROR:Invalid quantity"
	}
	if _, ok := s.instruments[instrument]; !ok {
		return fmt.Sprintf("ERROR:Instrument '%s' not found", instrument)
	}

	id := fmt.Sprintf("%08x%08x", 0x6e743864, s.nextSeq)
	s.nextSeq++

	order := &simOrder{
		id:         id,
		instrument: instrument,
		side:       side,
		quantity:   quantity,
		kind:       kind,
		limitPrice: limitPrice,
		status:     model.StatusSubmitted,
		pollsLeft:  s.fillPolls,
		fillQty:    quantity,
	}
	if s.rejectNext {
		order.status = model.StatusRejected
		s.rejectNext = false
	}
	if s.partialNext > 0 && kind == model.KindMarket {
		order.fillQty = s.partialNext
		s.partialNext = 0
	}
	s.orders[id] = order

	return "ORDER:" + id
}

func (s *Server) handleGetOrderStatus(parts []string) string {
	if len(parts) < 2 {
		return "ERROR:Order id required"
	}
	order, ok := s.orders[parts[1]]
	if !ok {
		return "ERROR:Unknown order"
	}

	// Market orders fill once their scripted poll countdown expires;
	// limit and stop orders rest until cancelled.
	if order.kind == model.KindMarket && !order.status.Terminal() {
		order.pollsLeft--
		if order.pollsLeft < 0 {
			s.fill(order)
		}
	}

	return fmt.Sprintf("ORDERSTATUS:%s:%s:%d:%s",
		order.id, order.status, order.filled, trimFloat(order.avgPrice))
}

func (s *Server) fill(order *simOrder) {
	price := order.limitPrice
	if inst, ok := s.instruments[order.instrument]; ok && price == 0 {
		price = inst.Quote.Price()
	}

	order.filled = order.fillQty
	order.avgPrice = price
	if order.filled == order.quantity {
		order.status = model.StatusFilled
	} else {
		order.status = model.StatusPartial
	}

	pos := s.positions[order.instrument]
	if pos == nil {
		pos = &simPosition{}
		s.positions[order.instrument] = pos
	}
	delta := order.filled * order.side.Sign()
	if s.posLagPolls <= 0 {
		pos.quantity += delta
		pos.avgPrice = price
	} else {
		pos.pending = append(pos.pending, pendingFill{
			delta:     delta,
			price:     price,
			pollsLeft: s.posLagPolls,
		})
	}
}

func (s *Server) handleCancelOrder(parts []string) string {
	if len(parts) < 2 {
		return "ERROR:Order id required"
	}
	order, ok := s.orders[parts[1]]
	if !ok {
		return "ERROR:Unknown order"
	}
	if order.filled > 0 || order.status.Terminal() {
		return "ERROR:Order not working"
	}
	order.status = model.StatusCancelled
	return "OK:Cancelled"
}

func (s *Server) handleGetHistory(parts []string) string {
	if len(parts) < 6 {
		return "ERROR:Invalid history request format"
	}
	bars, ok := s.history[parts[1]]
	if !ok || len(bars) == 0 {
		return "HISTORY:0"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HISTORY:%d", len(bars))
	for _, bar := range bars {
		fmt.Fprintf(&b, "|%s,%s,%s,%s,%s,%s",
			strconv.FormatFloat(bar.Time, 'f', 10, 64),
			trimFloat(bar.Open), trimFloat(bar.High), trimFloat(bar.Low),
			trimFloat(bar.Close), trimFloat(bar.Volume))
	}
	return b.String()
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
