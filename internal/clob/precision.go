package clob

import (
	"fmt"
	"math/big"
	"strings"
)

const collateralDecimals = 6

// Per-tick-size precision rails enforced by the CLOB API. price is the max
// decimals of a price at that tick, size the max decimals of a share
// quantity, amount the max decimals of a collateral amount.
type roundConfig struct {
	price  int
	size   int
	amount int
}

var roundingByTickSize = map[string]roundConfig{
	"0.1":    {price: 1, size: 2, amount: 3},
	"0.01":   {price: 2, size: 2, amount: 4},
	"0.001":  {price: 3, size: 2, amount: 5},
	"0.0001": {price: 4, size: 2, amount: 6},
}

var unitStepByKeepDecimals = [collateralDecimals + 1]*big.Int{
	0: big.NewInt(1_000_000),
	1: big.NewInt(100_000),
	2: big.NewInt(10_000),
	3: big.NewInt(1_000),
	4: big.NewInt(100),
	5: big.NewInt(10),
	6: big.NewInt(1),
}

// Market orders carry stricter precision than the raw 1e6 on-chain units.
// The API rejects violations with 400s like "market buy orders maker amount
// supports a max accuracy of 2 decimals, taker amount a max of 4 decimals".
const (
	marketMakerMaxDecimals = 2
	marketTakerMaxDecimals = 4
)

func tickScaleFromTickSize(tickSize string) (*big.Int, int, error) {
	rc, ok := roundingByTickSize[strings.TrimSpace(tickSize)]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported tick size %q", tickSize)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rc.price)), nil)
	return scale, rc.price, nil
}

// parseDecimalToUnits converts a non-negative decimal string into integer
// units at the given number of decimals, truncating extra precision.
func parseDecimalToUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative not supported: %q", s)
	}

	parts := strings.SplitN(s, ".", 3)
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal: %q", s)
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid whole part: %q", s)
	}
	w.Mul(w, base)
	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fractional part: %q", s)
		}
		w.Add(w, f)
	}
	return w, nil
}

func roundDownUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralDecimals {
		return new(big.Int).Set(units)
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := unitStepByKeepDecimals[keepDecimals]
	q := new(big.Int).Div(units, step)
	return q.Mul(q, step)
}

func formatDecimalUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	if decimals <= 0 {
		return units.String()
	}

	s := units.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	i := len(s) - decimals
	out := s[:i] + "." + s[i:]
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "0"
	}
	return out
}

// computeMarketOrderAmounts derives rail-conformant maker and taker unit
// amounts for a market order at a fixed price. Both sides round DOWN so the
// replica never spends or sells more than planned.
//
// BUY: amountUnits is collateral. The collateral is floored to 2 decimals
// FIRST, then shares are derived from the floored collateral and floored to
// 4 decimals. Deriving shares before flooring the collateral produces amounts
// the API rejects.
//
// SELL: amountUnits is shares, floored to 2 decimals; collateral is derived
// and floored to 4 decimals.
func computeMarketOrderAmounts(side Side, amountUnits, priceTicks, priceScale *big.Int) (maker, taker *big.Int, err error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amount must be > 0")
	}
	if priceTicks == nil || priceTicks.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price must be > 0")
	}
	if priceScale == nil || priceScale.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price scale must be > 0")
	}

	maker = roundDownUnits(amountUnits, marketMakerMaxDecimals)
	if maker.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amount rounds to 0 at %d decimals", marketMakerMaxDecimals)
	}

	switch side {
	case SideBuy:
		shares := new(big.Int).Mul(maker, priceScale)
		shares.Div(shares, priceTicks)
		taker = roundDownUnits(shares, marketTakerMaxDecimals)
	case SideSell:
		value := new(big.Int).Mul(maker, priceTicks)
		value.Div(value, priceScale)
		taker = roundDownUnits(value, marketTakerMaxDecimals)
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
	if taker.Sign() <= 0 {
		return nil, nil, fmt.Errorf("derived amount rounds to 0 at %d decimals", marketTakerMaxDecimals)
	}
	return maker, taker, nil
}
