// Package engine holds the pure trade math and the gate that decides whether
// an observed leader trade becomes a replica order.
package engine

import (
	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
)

// PlanNotional sizes the collateral to commit for a replica: the leader's
// notional scaled down, capped at maxPerTrade.
func PlanNotional(price, size, scale, maxPerTrade decimal.Decimal) decimal.Decimal {
	notional := price.Mul(size).Mul(scale)
	if maxPerTrade.Sign() > 0 && notional.GreaterThan(maxPerTrade) {
		return maxPerTrade
	}
	return notional
}

// SlippagePrice widens the price in the direction that still fills: up for
// buys, down for sells. maxSlippage is a fraction, e.g. 0.05 for 5%.
func SlippagePrice(price decimal.Decimal, side clob.Side, maxSlippage decimal.Decimal) decimal.Decimal {
	if maxSlippage.Sign() <= 0 {
		return price
	}
	one := decimal.NewFromInt(1)
	if side == clob.SideSell {
		return price.Mul(one.Sub(maxSlippage))
	}
	return price.Mul(one.Add(maxSlippage))
}

// CopyShares sizes a sell replica: the leader's share count scaled down,
// clamped so the notional at the observed price stays within maxPerTrade,
// floored to the 2 decimals the exchange accepts.
func CopyShares(size, scale, price, maxPerTrade decimal.Decimal) decimal.Decimal {
	shares := size.Mul(scale)
	if maxPerTrade.Sign() > 0 && price.Sign() > 0 {
		if shares.Mul(price).GreaterThan(maxPerTrade) {
			shares = maxPerTrade.Div(price)
		}
	}
	return RoundDownShares(shares)
}
