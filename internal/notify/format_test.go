package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/feed"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleEvent() feed.TradeEvent {
	return feed.TradeEvent{
		ID:      "0xabc",
		Side:    clob.SideBuy,
		Market:  "0xc0ffee",
		Outcome: "Yes",
		Price:   dec("0.42"),
		Size:    dec("100"),
		Title:   "Will it rain?",
	}
}

func TestFormatTradeReport_Buy(t *testing.T) {
	res := &engine.ExecutionResult{
		Success:  true,
		OrderID:  "0xord",
		TxHashes: []string{"0xdeadbeef"},
		Side:     clob.SideBuy,
		Price:    dec("0.44"),
		Spent:    dec("4.2"),
	}
	msg := FormatTradeReport(sampleEvent(), res)

	for _, want := range []string{"BUY", "Will it rain", "100 shares", "$4\\.2", "filled", "0xdeadbeef"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "0.44") {
		t.Fatalf("unescaped decimal point in message:\n%s", msg)
	}
}

func TestFormatTradeReport_Failure(t *testing.T) {
	res := &engine.ExecutionResult{
		Submitted: true,
		ErrorMsg:  "not enough balance",
		Side:      clob.SideSell,
		Price:     dec("0.38"),
		Shares:    dec("10"),
	}
	ev := sampleEvent()
	ev.Side = clob.SideSell

	msg := FormatTradeReport(ev, res)
	for _, want := range []string{"SELL", "10 shares", "failed: not enough balance"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatTradeReport_DryRun(t *testing.T) {
	res := &engine.ExecutionResult{
		Success: true,
		DryRun:  true,
		Side:    clob.SideBuy,
		Price:   dec("0.44"),
		Spent:   dec("4.2"),
	}
	msg := FormatTradeReport(sampleEvent(), res)
	if !strings.Contains(msg, "dry run") {
		t.Fatalf("message missing dry run marker:\n%s", msg)
	}
}

func TestFormatSkipReport(t *testing.T) {
	msg := FormatSkipReport(sampleEvent(), errors.New("odds above configured limit"))
	for _, want := range []string{"SKIP BUY", "odds above configured limit"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatCapReached(t *testing.T) {
	msg := FormatCapReached(dec("101.5"), dec("100"))
	for _, want := range []string{"cap reached", "101\\.5", "stopping"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}
