package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/feed"
	"poly-copyrelay/internal/metadata"
)

// Skip sentinels. A skip is a policy decision, not a failure; callers report
// it and move on.
var (
	ErrOddsAboveLimit   = errors.New("odds above configured limit")
	ErrCategoryBlocked  = errors.New("market category not in allow list")
	ErrTradeTooSmall    = errors.New("trade below minimum size")
	ErrMarketCapReached = errors.New("per-market spend cap reached")
)

// Config is the per-session trading policy.
type Config struct {
	Scale       decimal.Decimal // fraction of the leader's size to copy
	MaxPerTrade decimal.Decimal // collateral ceiling per replica order
	MaxSlippage decimal.Decimal // price widening fraction, e.g. 0.05

	MaxOdds      decimal.Decimal // skip buys priced above this, zero disables
	MinSize      decimal.Decimal // skip replicas below this notional, zero disables
	PerMarketCap decimal.Decimal // buy spend ceiling per market, zero disables
	TotalCap     decimal.Decimal // buy spend ceiling per session, zero disables

	Categories []string // allowed category tags, empty allows all

	OrderType clob.OrderType
	DryRun    bool
}

func (c Config) Validate() error {
	if c.Scale.Sign() <= 0 {
		return fmt.Errorf("scale must be > 0")
	}
	if c.MaxSlippage.Sign() < 0 {
		return fmt.Errorf("max slippage must be >= 0")
	}
	if c.OrderType == "" {
		return fmt.Errorf("order type required")
	}
	if _, err := clob.ParseOrderType(string(c.OrderType)); err != nil {
		return err
	}
	return nil
}

type OrderRouter interface {
	SubmitMarketOrder(ctx context.Context, tokenID string, side clob.Side, price, amount decimal.Decimal, orderType clob.OrderType, saltGen func() int64) (*clob.SubmitResult, error)
	SubmitLimitOrder(ctx context.Context, tokenID string, side clob.Side, price, size decimal.Decimal, saltGen func() int64) (*clob.SubmitResult, error)
}

type Resolver interface {
	Resolve(ctx context.Context, market, outcome string) (metadata.Instrument, error)
	Tags(ctx context.Context, market string) ([]string, error)
}

// ExecutionResult describes what happened to one replica attempt.
type ExecutionResult struct {
	Submitted bool
	Success   bool
	ErrorMsg  string
	OrderID   string
	TxHashes  []string
	DryRun    bool

	Side   clob.Side
	Price  decimal.Decimal // slippage-adjusted, tick-rounded replica price
	Shares decimal.Decimal
	Spent  decimal.Decimal // collateral attributed to the session (buys only)
}

// Executor gates incoming leader trades and routes the survivors.
type Executor struct {
	router   OrderRouter
	resolver Resolver
	signer   string
}

func NewExecutor(router OrderRouter, resolver Resolver, signer string) *Executor {
	return &Executor{router: router, resolver: resolver, signer: signer}
}

// Execute runs one leader trade through the gate and, unless dry-run, routes
// the replica. marketSpent is the session's accumulated buy spend for this
// market; the executor reads spend, it never writes it.
func (x *Executor) Execute(ctx context.Context, cfg Config, ev feed.TradeEvent, marketSpent decimal.Decimal) (*ExecutionResult, error) {
	if ev.Side == clob.SideBuy && cfg.MaxOdds.Sign() > 0 && ev.Price.GreaterThan(cfg.MaxOdds) {
		return nil, fmt.Errorf("%w: price %s > %s", ErrOddsAboveLimit, ev.Price, cfg.MaxOdds)
	}

	if len(cfg.Categories) > 0 {
		tags, err := x.resolver.Tags(ctx, ev.Market)
		if err != nil {
			return nil, fmt.Errorf("category lookup for %s: %w", ev.Market, err)
		}
		if !anyTagAllowed(tags, cfg.Categories) {
			return nil, fmt.Errorf("%w: market %s tags %v", ErrCategoryBlocked, ev.Market, tags)
		}
	}

	plan, err := x.plan(cfg, ev)
	if err != nil {
		return nil, err
	}

	if cfg.MinSize.Sign() > 0 && plan.notional.LessThan(cfg.MinSize) {
		return nil, fmt.Errorf("%w: %s < %s", ErrTradeTooSmall, plan.notional, cfg.MinSize)
	}

	if ev.Side == clob.SideBuy && cfg.PerMarketCap.Sign() > 0 {
		if marketSpent.Add(plan.spend).GreaterThan(cfg.PerMarketCap) {
			return nil, fmt.Errorf("%w: spent %s + %s > %s", ErrMarketCapReached, marketSpent, plan.spend, cfg.PerMarketCap)
		}
	}

	ins, err := x.resolver.Resolve(ctx, ev.Market, ev.Outcome)
	if err != nil {
		return nil, err
	}

	price, err := RoundToTick(SlippagePrice(ev.Price, ev.Side, cfg.MaxSlippage), ins.TickSize)
	if err != nil {
		return nil, err
	}

	res := &ExecutionResult{
		Side:   ev.Side,
		Price:  price,
		Shares: plan.shares,
		Spent:  plan.spend,
		DryRun: cfg.DryRun,
	}
	if cfg.DryRun {
		res.Success = true
		return res, nil
	}

	saltGen := clob.DeterministicSalt(ev.ID, x.signer)
	var sub *clob.SubmitResult
	if cfg.OrderType.IsMarketStyle() {
		amount := plan.spend
		if ev.Side == clob.SideSell {
			amount = plan.shares
		}
		sub, err = x.router.SubmitMarketOrder(ctx, ins.TokenID, ev.Side, price, amount, cfg.OrderType, saltGen)
	} else {
		sub, err = x.router.SubmitLimitOrder(ctx, ins.TokenID, ev.Side, price, plan.shares, saltGen)
	}
	if err != nil {
		return nil, err
	}

	res.Submitted = true
	res.Success = sub.Success
	res.ErrorMsg = sub.ErrorMsg
	res.OrderID = sub.OrderID
	res.TxHashes = sub.TxHashes
	if !sub.Success {
		res.Spent = decimal.Zero
	}
	return res, nil
}

type tradePlan struct {
	notional decimal.Decimal // replica value at the observed price
	shares   decimal.Decimal
	spend    decimal.Decimal // collateral the session books for buys
}

func (x *Executor) plan(cfg Config, ev feed.TradeEvent) (tradePlan, error) {
	switch ev.Side {
	case clob.SideBuy:
		notional := RoundDownUSDC(PlanNotional(ev.Price, ev.Size, cfg.Scale, cfg.MaxPerTrade))
		if notional.Sign() <= 0 {
			return tradePlan{}, fmt.Errorf("%w: replica rounds to 0", ErrTradeTooSmall)
		}
		shares := decimal.Zero
		if ev.Price.Sign() > 0 {
			shares = RoundDownShares(notional.Div(ev.Price))
		}
		return tradePlan{notional: notional, shares: shares, spend: notional}, nil
	case clob.SideSell:
		shares := CopyShares(ev.Size, cfg.Scale, ev.Price, cfg.MaxPerTrade)
		if shares.Sign() <= 0 {
			return tradePlan{}, fmt.Errorf("%w: replica rounds to 0", ErrTradeTooSmall)
		}
		return tradePlan{notional: shares.Mul(ev.Price), shares: shares, spend: decimal.Zero}, nil
	default:
		return tradePlan{}, fmt.Errorf("invalid side %q", ev.Side)
	}
}

func anyTagAllowed(tags, allowed []string) bool {
	for _, t := range tags {
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(a)) {
				return true
			}
		}
	}
	return false
}
