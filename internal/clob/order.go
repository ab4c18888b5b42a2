package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type postOrderResp struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderID"`
	TxHashes    []string `json:"transactionsHashes"`
	Status      string   `json:"status"`
	OrderHashes []string `json:"orderHashes"`
}

// SubmitResult is the classified outcome of one order submission. Success
// false with a non-empty ErrorMsg covers both transport failures and
// exchange-side rejections.
type SubmitResult struct {
	Success  bool
	ErrorMsg string
	OrderID  string
	TxHashes []string
	Price    string
	Maker    string
	Taker    string
}

// DeterministicSalt returns a salt generator seeded from the given parts.
// Re-submitting a replica of the same observed trade produces an identical
// order hash, so the exchange treats it as a duplicate rather than a second
// fill.
func DeterministicSalt(parts ...string) func() int64 {
	h := crypto.Keccak256([]byte(strings.Join(parts, "|")))
	v := binary.BigEndian.Uint64(h[:8]) &^ (1 << 63)
	if v == 0 {
		v = 1
	}
	return func() int64 { return int64(v) }
}

// SubmitMarketOrder signs and posts a FOK or FAK order at the given limit
// price. For BUY, amount is collateral to spend; for SELL, shares to sell.
// The price must already be slippage-adjusted and tick-rounded by the caller.
func (c *Client) SubmitMarketOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	price decimal.Decimal,
	amount decimal.Decimal,
	orderType OrderType,
	saltGen func() int64,
) (*SubmitResult, error) {
	if !orderType.IsMarketStyle() {
		return nil, fmt.Errorf("order type %s is not a market order type", orderType)
	}

	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	scale, priceDecimals, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return nil, err
	}
	priceTicks, err := parseDecimalToUnits(price.String(), priceDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if priceTicks.Sign() <= 0 {
		return nil, fmt.Errorf("price %s rounds to 0 at tick %s", price, tickSize)
	}

	amountUnits, err := parseDecimalToUnits(amount.String(), collateralDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	makerUnits, takerUnits, err := computeMarketOrderAmounts(side, amountUnits, priceTicks, scale)
	if err != nil {
		return nil, err
	}

	signed, err := c.buildSignedOrder(ctx, tokenID, side, makerUnits, takerUnits, saltGen)
	if err != nil {
		return nil, err
	}

	res := c.postOrder(ctx, signed, orderType)
	res.Price = price.String()
	res.Maker = formatDecimalUnits(makerUnits, collateralDecimals)
	res.Taker = formatDecimalUnits(takerUnits, collateralDecimals)
	return res, nil
}

// SubmitLimitOrder signs and posts a GTC order resting at the given price for
// the given share size. The order never expires (expiration "0").
func (c *Client) SubmitLimitOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	price decimal.Decimal,
	size decimal.Decimal,
	saltGen func() int64,
) (*SubmitResult, error) {
	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	rc, ok := roundingByTickSize[strings.TrimSpace(tickSize)]
	if !ok {
		return nil, fmt.Errorf("unsupported tick size %q", tickSize)
	}
	scale, _, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return nil, err
	}

	priceTicks, err := parseDecimalToUnits(price.String(), rc.price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	if priceTicks.Sign() <= 0 {
		return nil, fmt.Errorf("price %s rounds to 0 at tick %s", price, tickSize)
	}

	sizeUnits, err := parseDecimalToUnits(size.String(), collateralDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse size %q: %w", size, err)
	}
	sizeUnits = roundDownUnits(sizeUnits, rc.size)
	if sizeUnits.Sign() <= 0 {
		return nil, fmt.Errorf("size rounds to 0 at %d decimals", rc.size)
	}

	value := new(big.Int).Mul(sizeUnits, priceTicks)
	value.Div(value, scale)
	value = roundDownUnits(value, rc.amount)
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("order value rounds to 0 at %d decimals", rc.amount)
	}

	var makerUnits, takerUnits *big.Int
	switch side {
	case SideBuy:
		makerUnits, takerUnits = value, sizeUnits
	case SideSell:
		makerUnits, takerUnits = sizeUnits, value
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	signed, err := c.buildSignedOrder(ctx, tokenID, side, makerUnits, takerUnits, saltGen)
	if err != nil {
		return nil, err
	}

	res := c.postOrder(ctx, signed, OrderTypeGTC)
	res.Price = price.String()
	res.Maker = formatDecimalUnits(makerUnits, collateralDecimals)
	res.Taker = formatDecimalUnits(takerUnits, collateralDecimals)
	return res, nil
}

func (c *Client) buildSignedOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	makerUnits, takerUnits *big.Int,
	saltGen func() int64,
) (*ordermodel.SignedOrder, error) {
	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerUnits.String(),
		TakerAmount:   takerUnits.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	return signOrder(c.chainID, c.privateKey, od, contract, saltGen)
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

// postOrder sends the signed order and classifies the outcome. Failures never
// surface as errors here: the caller reports them, it does not retry them.
func (c *Client) postOrder(ctx context.Context, order *ordermodel.SignedOrder, orderType OrderType) *SubmitResult {
	body, err := c.buildPostOrderBody(order, orderType)
	if err != nil {
		return &SubmitResult{ErrorMsg: err.Error()}
	}

	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return &SubmitResult{ErrorMsg: err.Error()}
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return &SubmitResult{ErrorMsg: err.Error()}
	}

	var resp postOrderResp
	if err := c.doJSONBody(ctx, http.MethodPost, "/order", headers, body, &resp); err != nil {
		return &SubmitResult{ErrorMsg: err.Error()}
	}

	// The API can answer 200 with success=true yet no order id, e.g. for a
	// killed FOK. Treat anything without an order id as a failure.
	if !resp.Success || resp.OrderID == "" {
		msg := resp.ErrorMsg
		if msg == "" {
			msg = "unknown error"
		}
		return &SubmitResult{ErrorMsg: msg}
	}
	return &SubmitResult{Success: true, OrderID: resp.OrderID, TxHashes: resp.TxHashes}
}

func (c *Client) buildPostOrderBody(order *ordermodel.SignedOrder, orderType OrderType) ([]byte, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideFromEnum(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideFromEnum(v *big.Int) Side {
	if v != nil && v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}
