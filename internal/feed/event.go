package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
)

// TradeEvent is the normalized form of one leader trade observed on the feed.
type TradeEvent struct {
	ID        string
	Trader    common.Address
	Side      clob.Side
	Market    string
	Outcome   string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Title     string
	Timestamp time.Time

	ReceivedAt time.Time
}

// Notional is the trade's value in collateral at the observed price.
func (e TradeEvent) Notional() decimal.Decimal {
	return e.Price.Mul(e.Size)
}

// flexDecimal accepts both JSON numbers and numeric strings; the live-data
// service has emitted both over time.
type flexDecimal struct {
	decimal.Decimal
	set bool
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	f.Decimal = d
	f.set = true
	return nil
}

// tradePayload covers the field aliases the feed has used across versions.
type tradePayload struct {
	ProxyWallet string `json:"proxyWallet"`
	User        string `json:"user"`
	Wallet      string `json:"wallet"`

	TransactionHash string `json:"transactionHash"`
	TxHash          string `json:"txHash"`
	Hash            string `json:"hash"`

	Side    string `json:"side"`
	Outcome string `json:"outcome"`

	ConditionID string `json:"conditionId"`
	Market      string `json:"market"`
	Slug        string `json:"slug"`
	EventSlug   string `json:"eventSlug"`

	Price flexDecimal `json:"price"`
	Size  flexDecimal `json:"size"`

	Title    string `json:"title"`
	Question string `json:"question"`

	Timestamp int64 `json:"timestamp"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// ParseTradeEvent normalizes one raw trade payload. Events without a
// transaction hash get a synthesized identifier so dedupe still works.
func ParseTradeEvent(raw json.RawMessage, receivedAt time.Time) (TradeEvent, error) {
	var p tradePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TradeEvent{}, fmt.Errorf("decode trade payload: %w", err)
	}

	wallet := firstNonEmpty(p.ProxyWallet, p.User, p.Wallet)
	if !common.IsHexAddress(wallet) {
		return TradeEvent{}, fmt.Errorf("trade payload has no usable wallet (got %q)", wallet)
	}

	side, err := clob.ParseSide(p.Side)
	if err != nil {
		return TradeEvent{}, err
	}

	market := firstNonEmpty(p.ConditionID, p.Market, p.Slug)
	if market == "" {
		return TradeEvent{}, fmt.Errorf("trade payload has no market reference")
	}

	if !p.Price.set || !p.Size.set {
		return TradeEvent{}, fmt.Errorf("trade payload missing price or size")
	}
	if p.Price.Sign() <= 0 || p.Size.Sign() <= 0 {
		return TradeEvent{}, fmt.Errorf("trade payload has non-positive price or size")
	}

	ev := TradeEvent{
		Trader:     common.HexToAddress(wallet),
		Side:       side,
		Market:     market,
		Outcome:    strings.TrimSpace(p.Outcome),
		Price:      p.Price.Decimal,
		Size:       p.Size.Decimal,
		Title:      firstNonEmpty(p.Title, p.Question, p.EventSlug),
		Timestamp:  normalizeTimestamp(p.Timestamp, receivedAt),
		ReceivedAt: receivedAt,
	}

	ev.ID = firstNonEmpty(p.TransactionHash, p.TxHash, p.Hash)
	if ev.ID == "" {
		ev.ID = synthesizeID(ev)
	}
	return ev, nil
}

// normalizeTimestamp handles both second and millisecond epoch values.
func normalizeTimestamp(ts int64, fallback time.Time) time.Time {
	switch {
	case ts <= 0:
		return fallback
	case ts > 1e12:
		return time.UnixMilli(ts)
	default:
		return time.Unix(ts, 0)
	}
}

func synthesizeID(ev TradeEvent) string {
	seed := strings.Join([]string{
		strings.ToLower(ev.Trader.Hex()),
		ev.Market,
		string(ev.Side),
		ev.Price.String(),
		ev.Size.String(),
		fmt.Sprintf("%d", ev.Timestamp.Unix()),
	}, "|")
	return "synth-" + common.Bytes2Hex(crypto.Keccak256([]byte(seed))[:16])
}
