package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	minPrice = decimal.RequireFromString("0.01")
	maxPrice = decimal.RequireFromString("0.99")
)

// RoundToTick snaps a price to the nearest multiple of the market's tick
// size, then clamps it into the exchange's valid [0.01, 0.99] band.
func RoundToTick(price decimal.Decimal, tickSize string) (decimal.Decimal, error) {
	tick, err := decimal.NewFromString(tickSize)
	if err != nil || tick.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid tick size %q", tickSize)
	}

	ticks := price.Div(tick).Round(0)
	p := ticks.Mul(tick)

	if p.LessThan(minPrice) {
		p = minPrice
	}
	if p.GreaterThan(maxPrice) {
		p = maxPrice
	}
	return p, nil
}

// RoundDownShares floors a share quantity to 2 decimals.
func RoundDownShares(size decimal.Decimal) decimal.Decimal {
	return size.RoundDown(2)
}

// RoundDownUSDC floors a collateral amount to 2 decimals.
func RoundDownUSDC(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundDown(2)
}
