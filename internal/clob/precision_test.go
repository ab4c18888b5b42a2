package clob

import (
	"math/big"
	"testing"
)

func TestComputeMarketOrderAmounts_Buy_FloorsCollateralFirst(t *testing.T) {
	priceScale := big.NewInt(100) // tick=0.01
	priceTicks := big.NewInt(37)  // $0.37
	amountIn := big.NewInt(1_234_567)

	maker, taker, err := computeMarketOrderAmounts(SideBuy, amountIn, priceTicks, priceScale)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// Collateral floors to $1.23 before shares are derived.
	if maker.Cmp(big.NewInt(1_230_000)) != 0 {
		t.Fatalf("maker mismatch: got %s want 1230000", maker.String())
	}
	// 1.23 / 0.37 = 3.324324..., floored to 4 decimals.
	if taker.Cmp(big.NewInt(3_324_300)) != 0 {
		t.Fatalf("taker mismatch: got %s want 3324300", taker.String())
	}
}

func TestComputeMarketOrderAmounts_Buy_NeverRoundsUp(t *testing.T) {
	priceScale := big.NewInt(100)
	priceTicks := big.NewInt(10) // $0.10
	amountIn := big.NewInt(999_999)

	maker, taker, err := computeMarketOrderAmounts(SideBuy, amountIn, priceTicks, priceScale)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// $0.999999 floors to $0.99 rather than rounding to $1.00.
	if maker.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("maker mismatch: got %s want 990000", maker.String())
	}
	if taker.Cmp(big.NewInt(9_900_000)) != 0 {
		t.Fatalf("taker mismatch: got %s want 9900000", taker.String())
	}
}

func TestComputeMarketOrderAmounts_Sell_FloorsSharesThenCollateral(t *testing.T) {
	priceScale := big.NewInt(100)
	priceTicks := big.NewInt(37)
	amountIn := big.NewInt(9_876_543)

	maker, taker, err := computeMarketOrderAmounts(SideSell, amountIn, priceTicks, priceScale)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Shares floor to 9.87.
	if maker.Cmp(big.NewInt(9_870_000)) != 0 {
		t.Fatalf("maker mismatch: got %s want 9870000", maker.String())
	}
	// 9.87 * 0.37 = 3.6519, already at 4 decimals.
	if taker.Cmp(big.NewInt(3_651_900)) != 0 {
		t.Fatalf("taker mismatch: got %s want 3651900", taker.String())
	}
}

func TestComputeMarketOrderAmounts_TickPrecisionDoesNotChangeRails(t *testing.T) {
	// tick=0.001 changes price precision, not the 2dp/4dp amount rails.
	priceScale := big.NewInt(1_000)
	priceTicks := big.NewInt(512) // $0.512
	amountIn := big.NewInt(1_234_567)

	maker, taker, err := computeMarketOrderAmounts(SideBuy, amountIn, priceTicks, priceScale)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if new(big.Int).Mod(maker, big.NewInt(10_000)).Sign() != 0 {
		t.Fatalf("maker not 2dp: %s", maker.String())
	}
	if new(big.Int).Mod(taker, big.NewInt(100)).Sign() != 0 {
		t.Fatalf("taker not 4dp: %s", taker.String())
	}
}

func TestComputeMarketOrderAmounts_RejectsDust(t *testing.T) {
	priceScale := big.NewInt(100)
	priceTicks := big.NewInt(50)

	if _, _, err := computeMarketOrderAmounts(SideBuy, big.NewInt(9_999), priceTicks, priceScale); err == nil {
		t.Fatal("expected error for sub-cent amount")
	}
	if _, _, err := computeMarketOrderAmounts(SideBuy, big.NewInt(0), priceTicks, priceScale); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestParseDecimalToUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     int64
	}{
		{"1.23", 6, 1_230_000},
		{"0.1", 2, 10},
		{".5", 6, 500_000},
		{"2", 6, 2_000_000},
		{"0.1234567", 6, 123_456}, // extra precision truncates
	}
	for _, tc := range cases {
		got, err := parseDecimalToUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("parse %q: got %s want %d", tc.in, got.String(), tc.want)
		}
	}

	if _, err := parseDecimalToUnits("-1", 6); err == nil {
		t.Fatal("expected error for negative")
	}
	if _, err := parseDecimalToUnits("1.2.3", 6); err == nil {
		t.Fatal("expected error for malformed decimal")
	}
}

func TestFormatDecimalUnits(t *testing.T) {
	cases := []struct {
		units    int64
		decimals int
		want     string
	}{
		{1_230_000, 6, "1.23"},
		{990_000, 6, "0.99"},
		{37, 2, "0.37"},
		{1_000_000, 6, "1"},
		{0, 6, "0"},
	}
	for _, tc := range cases {
		if got := formatDecimalUnits(big.NewInt(tc.units), tc.decimals); got != tc.want {
			t.Fatalf("format %d@%d: got %q want %q", tc.units, tc.decimals, got, tc.want)
		}
	}
}
