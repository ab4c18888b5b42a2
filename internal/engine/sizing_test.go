package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlanNotional_ScalesAndClamps(t *testing.T) {
	// 0.40 * 100 * 0.1 = 4.00, under the cap.
	got := PlanNotional(dec("0.40"), dec("100"), dec("0.1"), dec("50"))
	if !got.Equal(dec("4")) {
		t.Fatalf("got %s want 4", got)
	}

	// 0.40 * 10000 * 0.1 = 400, clamped to 50.
	got = PlanNotional(dec("0.40"), dec("10000"), dec("0.1"), dec("50"))
	if !got.Equal(dec("50")) {
		t.Fatalf("got %s want 50", got)
	}

	// Zero cap disables clamping.
	got = PlanNotional(dec("0.40"), dec("10000"), dec("0.1"), decimal.Zero)
	if !got.Equal(dec("400")) {
		t.Fatalf("got %s want 400", got)
	}
}

func TestSlippagePrice_Direction(t *testing.T) {
	if got := SlippagePrice(dec("0.50"), clob.SideBuy, dec("0.05")); !got.Equal(dec("0.525")) {
		t.Fatalf("buy: got %s want 0.525", got)
	}
	if got := SlippagePrice(dec("0.50"), clob.SideSell, dec("0.05")); !got.Equal(dec("0.475")) {
		t.Fatalf("sell: got %s want 0.475", got)
	}
	if got := SlippagePrice(dec("0.50"), clob.SideBuy, decimal.Zero); !got.Equal(dec("0.50")) {
		t.Fatalf("zero slippage: got %s want 0.50", got)
	}
}

func TestCopyShares_ClampsToCapAndFloors(t *testing.T) {
	// 100 * 0.1 = 10 shares, 10 * 0.40 = 4.00 notional, under cap.
	if got := CopyShares(dec("100"), dec("0.1"), dec("0.40"), dec("50")); !got.Equal(dec("10")) {
		t.Fatalf("got %s want 10", got)
	}

	// 10000 * 0.1 = 1000 shares would be 400 notional; clamp to 50/0.40 = 125.
	if got := CopyShares(dec("10000"), dec("0.1"), dec("0.40"), dec("50")); !got.Equal(dec("125")) {
		t.Fatalf("got %s want 125", got)
	}

	// Floors to 2 decimals: 1/3 share.
	got := CopyShares(dec("10"), dec("0.0333333"), dec("0.40"), dec("50"))
	if !got.Equal(dec("0.33")) {
		t.Fatalf("got %s want 0.33", got)
	}
}

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		price, tick, want string
	}{
		{"0.524", "0.01", "0.52"},
		{"0.525", "0.01", "0.53"}, // nearest, half up
		{"0.5251", "0.001", "0.525"},
		{"0.52", "0.1", "0.5"},
		{"0.003", "0.01", "0.01"}, // clamp low
		{"1.05", "0.01", "0.99"},  // clamp high
	}
	for _, tc := range cases {
		got, err := RoundToTick(dec(tc.price), tc.tick)
		if err != nil {
			t.Fatalf("RoundToTick(%s, %s): %v", tc.price, tc.tick, err)
		}
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("RoundToTick(%s, %s): got %s want %s", tc.price, tc.tick, got, tc.want)
		}
	}

	if _, err := RoundToTick(dec("0.5"), "bogus"); err == nil {
		t.Fatal("expected error for invalid tick")
	}
}

func TestRoundDownHelpers(t *testing.T) {
	if got := RoundDownShares(dec("12.519")); !got.Equal(dec("12.51")) {
		t.Fatalf("shares: got %s", got)
	}
	if got := RoundDownUSDC(dec("9.999")); !got.Equal(dec("9.99")) {
		t.Fatalf("usdc: got %s", got)
	}
}
