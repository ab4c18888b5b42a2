// Package metadata turns the market reference and outcome label carried by a
// feed event into the concrete token the exchange trades.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"poly-copyrelay/internal/gamma"
)

// ErrMarketNotFound reports that the upstream metadata service has no market
// for the reference.
var ErrMarketNotFound = errors.New("market not found")

// OutcomeNotFoundError reports that the market exists but has no outcome
// matching the requested label.
type OutcomeNotFoundError struct {
	Market    string
	Outcome   string
	Available []string
}

func (e *OutcomeNotFoundError) Error() string {
	return fmt.Sprintf("outcome %q not found in market %q (available: %s)",
		e.Outcome, e.Market, strings.Join(e.Available, ", "))
}

// Instrument is everything the order path needs for one outcome token.
type Instrument struct {
	TokenID     string
	TickSize    string
	NegRisk     bool
	Question    string
	ConditionID string
}

type Lookuper interface {
	LookupMarket(ctx context.Context, ref string) (gamma.Market, error)
}

const defaultTTL = 5 * time.Minute

type cacheEntry struct {
	market  gamma.Market
	fetched time.Time
}

type Resolver struct {
	src Lookuper
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(src Lookuper) *Resolver {
	return &Resolver{
		src:   src,
		ttl:   defaultTTL,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

func (r *Resolver) market(ctx context.Context, ref string) (gamma.Market, error) {
	ref = strings.TrimSpace(ref)

	r.mu.Lock()
	if e, ok := r.cache[ref]; ok && r.now().Sub(e.fetched) < r.ttl {
		r.mu.Unlock()
		return e.market, nil
	}
	r.mu.Unlock()

	m, err := r.src.LookupMarket(ctx, ref)
	if err != nil {
		if errors.Is(err, gamma.ErrNotFound) {
			return gamma.Market{}, fmt.Errorf("%w: %q", ErrMarketNotFound, ref)
		}
		return gamma.Market{}, err
	}

	r.mu.Lock()
	r.cache[ref] = cacheEntry{market: m, fetched: r.now()}
	r.mu.Unlock()
	return m, nil
}

// Resolve maps (market, outcome) to the outcome's token. Outcome matching is
// case-insensitive.
func (r *Resolver) Resolve(ctx context.Context, market, outcome string) (Instrument, error) {
	m, err := r.market(ctx, market)
	if err != nil {
		return Instrument{}, err
	}

	want := strings.ToLower(strings.TrimSpace(outcome))
	idx := -1
	for i, o := range m.Outcomes {
		if strings.ToLower(strings.TrimSpace(o)) == want {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(m.TokenIDs) {
		return Instrument{}, &OutcomeNotFoundError{
			Market:    market,
			Outcome:   outcome,
			Available: append([]string(nil), m.Outcomes...),
		}
	}

	tick := m.TickSize
	if tick == "" {
		tick = "0.01"
	}
	return Instrument{
		TokenID:     m.TokenIDs[idx],
		TickSize:    tick,
		NegRisk:     m.NegRisk,
		Question:    m.Question,
		ConditionID: m.ConditionID,
	}, nil
}

// Tags returns the market's category tags for the allow-list gate.
func (r *Resolver) Tags(ctx context.Context, market string) ([]string, error) {
	m, err := r.market(ctx, market)
	if err != nil {
		return nil, err
	}
	return m.Tags, nil
}
