// Package protocol formats outbound commands and parses the colon- and
// pipe-delimited responses of the order-management application. The codec is
// pure: it never mutates shared state.
package protocol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
)

// Literal request tokens.
const (
	CmdPing      = "PING"
	CmdLogout    = "LOGOUT"
	CmdConnected = "CONNECTED"
	CmdAccount   = "GETACCOUNT"
)

// ErrResponse is the base error for responses that begin with ERROR or do
// not carry the expected tag.
var ErrResponse = errors.New("protocol: bad response")

// IsError reports whether a response line is an error, either from the
// application or synthesized by the transport.
func IsError(resp string) bool {
	return strings.HasPrefix(resp, "ERROR")
}

// IsOK reports whether a response line signals plain success.
func IsOK(resp string) bool {
	return strings.Contains(resp, "OK")
}

// Login formats a LOGIN request for the given account handle.
func Login(account string) string {
	return "LOGIN:" + account
}

// Subscribe formats a SUBSCRIBE request.
func Subscribe(instrument string) string {
	return "SUBSCRIBE:" + instrument
}

// Unsubscribe formats an UNSUBSCRIBE request.
func Unsubscribe(instrument string) string {
	return "UNSUBSCRIBE:" + instrument
}

// GetPrice formats a GETPRICE request.
func GetPrice(instrument string) string {
	return "GETPRICE:" + instrument
}

// GetPosition formats a GETPOSITION request.
func GetPosition(instrument string) string {
	return "GETPOSITION:" + instrument
}

// PlaceOrder formats a PLACEORDER request. Limit and stop are sent as 0 when
// not applicable to the order kind.
func PlaceOrder(side model.Side, instrument string, quantity int, kind model.OrderKind, limit, stop float64) string {
	var b strings.Builder
	b.WriteString("PLACEORDER:")
	b.WriteString(string(side))
	b.WriteByte(':')
	b.WriteString(instrument)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(quantity))
	b.WriteByte(':')
	b.WriteString(string(kind))
	b.WriteByte(':')
	b.WriteString(formatPrice(limit))
	b.WriteByte(':')
	b.WriteString(formatPrice(stop))
	return b.String()
}

// GetOrderStatus formats a GETORDERSTATUS request.
func GetOrderStatus(externalID string) string {
	return "GETORDERSTATUS:" + externalID
}

// CancelOrder formats a CANCELORDER request.
func CancelOrder(externalID string) string {
	return "CANCELORDER:" + externalID
}

// GetHistory formats a GETHISTORY request. Timestamps are day fractions and
// keep full precision so the application resolves bar boundaries exactly.
func GetHistory(instrument string, tStart, tEnd float64, barMinutes, maxBars int) string {
	return "GETHISTORY:" + instrument +
		":" + strconv.FormatFloat(tStart, 'f', 10, 64) +
		":" + strconv.FormatFloat(tEnd, 'f', 10, 64) +
		":" + strconv.Itoa(barMinutes) +
		":" + strconv.Itoa(maxBars)
}

// SubscribeAck is a parsed SUBSCRIBE response. TickSize and PointValue are
// zero when the application omits the optional spec fields.
type SubscribeAck struct {
	Instrument string
	Spec       model.AssetSpec
}

// ParseSubscribe parses OK:Subscribed:<sym>:<tickSize>:<pointValue>.
func ParseSubscribe(resp string) (SubscribeAck, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 3 || parts[0] != "OK" || parts[1] != "Subscribed" {
		return SubscribeAck{}, errors.Wrapf(ErrResponse, "expected subscribe ack, got %q", resp)
	}
	ack := SubscribeAck{Instrument: parts[2]}
	if len(parts) > 3 {
		ack.Spec.TickSize = parseFloat(parts[3])
	}
	if len(parts) > 4 {
		ack.Spec.PointValue = parseFloat(parts[4])
	}
	return ack, nil
}

// ParsePrice parses PRICE:<last>:<bid>:<ask>:<volume>.
func ParsePrice(resp string) (model.Quote, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 5 || parts[0] != "PRICE" {
		return model.Quote{}, errors.Wrapf(ErrResponse, "expected price, got %q", resp)
	}
	return model.Quote{
		Last:   parseFloat(parts[1]),
		Bid:    parseFloat(parts[2]),
		Ask:    parseFloat(parts[3]),
		Volume: parseFloat(parts[4]),
	}, nil
}

// ParseAccount parses ACCOUNT:<cash>:<buyingPower>:<realizedPnL> with an
// optional fourth unrealized-PnL field substituted by 0 when absent.
func ParseAccount(resp string) (model.AccountSummary, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 4 || parts[0] != "ACCOUNT" {
		return model.AccountSummary{}, errors.Wrapf(ErrResponse, "expected account, got %q", resp)
	}
	sum := model.AccountSummary{
		Cash:        parseFloat(parts[1]),
		BuyingPower: parseFloat(parts[2]),
		RealizedPnL: parseFloat(parts[3]),
	}
	if len(parts) > 4 {
		sum.UnrealizedPnL = parseFloat(parts[4])
	}
	return sum, nil
}

// ParsePosition parses POSITION:<signedQty>:<avgPrice>.
func ParsePosition(resp string) (model.PositionReport, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 3 || parts[0] != "POSITION" {
		return model.PositionReport{}, errors.Wrapf(ErrResponse, "expected position, got %q", resp)
	}
	return model.PositionReport{
		Quantity: parseInt(parts[1]),
		AvgPrice: parseFloat(parts[2]),
	}, nil
}

// ParseOrderAck parses ORDER:<externalId> and returns the opaque id.
func ParseOrderAck(resp string) (string, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 2 || parts[0] != "ORDER" || parts[1] == "" {
		return "", errors.Wrapf(ErrResponse, "expected order ack, got %q", resp)
	}
	return parts[1], nil
}

// ParseOrderStatus parses ORDERSTATUS:<externalId>:<state>:<filled>:<avgPrice>.
func ParseOrderStatus(resp string) (model.OrderStatusReport, error) {
	parts := strings.Split(resp, ":")
	if len(parts) < 5 || parts[0] != "ORDERSTATUS" {
		return model.OrderStatusReport{}, errors.Wrapf(ErrResponse, "expected order status, got %q", resp)
	}
	return model.OrderStatusReport{
		ExternalID:   parts[1],
		Status:       parseStatus(parts[2]),
		Filled:       parseInt(parts[3]),
		AvgFillPrice: parseFloat(parts[4]),
	}, nil
}

// ParseHistory parses HISTORY:<N>|<t,o,h,l,c,v>|… into bars in wire order.
// Records with fewer than six fields are skipped.
func ParseHistory(resp string) ([]model.Bar, error) {
	records := strings.Split(resp, "|")
	head := strings.Split(records[0], ":")
	if len(head) < 2 || head[0] != "HISTORY" {
		return nil, errors.Wrapf(ErrResponse, "expected history, got %q", truncate(resp, 64))
	}

	count := parseInt(head[1])
	bars := make([]model.Bar, 0, count)
	for _, rec := range records[1:] {
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, ",")
		if len(fields) < 6 {
			continue
		}
		bars = append(bars, model.Bar{
			Time:   parseFloat(fields[0]),
			Open:   parseFloat(fields[1]),
			High:   parseFloat(fields[2]),
			Low:    parseFloat(fields[3]),
			Close:  parseFloat(fields[4]),
			Volume: parseFloat(fields[5]),
		})
	}
	return bars, nil
}

// parseStatus maps a wire state token onto an order status. Unrecognized
// tokens are treated as still working.
func parseStatus(state string) model.OrderStatus {
	switch model.OrderStatus(strings.ToUpper(state)) {
	case model.StatusFilled:
		return model.StatusFilled
	case model.StatusPartial:
		return model.StatusPartial
	case model.StatusCancelled:
		return model.StatusCancelled
	case model.StatusRejected:
		return model.StatusRejected
	default:
		return model.StatusSubmitted
	}
}

// parseFloat is locale-independent; an unparseable field yields zero.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return int(parseFloat(s))
	}
	return v
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
