// Package session runs the copy-relay state machine: at most one active
// session that observes a leader wallet and replays its trades through the
// execution gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/feed"
	"poly-copyrelay/internal/notify"
)

// dedupeCap bounds how many event ids a session remembers.
const dedupeCap = 2000

// Config describes one session.
type Config struct {
	Leader  common.Address
	FeedURL string
	Trade   engine.Config
}

func (c Config) Validate() error {
	if (c.Leader == common.Address{}) {
		return fmt.Errorf("leader address required")
	}
	return c.Trade.Validate()
}

type Executor interface {
	Execute(ctx context.Context, cfg engine.Config, ev feed.TradeEvent, marketSpent decimal.Decimal) (*engine.ExecutionResult, error)
}

// FeedFunc opens the trade stream for a session. The default subscribes to
// the live-data websocket; tests inject their own.
type FeedFunc func(ctx context.Context, url string) (<-chan feed.TradeEvent, <-chan error)

type Journal interface {
	Write(v any) error
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Active    bool
	ID        string
	Leader    common.Address
	Spent     decimal.Decimal
	Processed int
	Skipped   int
}

type session struct {
	id     string
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	spentTotal    decimal.Decimal
	spentByMarket map[string]decimal.Decimal
	processed     int
	skipped       int
	seen          *dedupe
}

// Manager owns the single session slot.
type Manager struct {
	exec      Executor
	notifier  notify.Notifier
	journal   Journal
	subscribe FeedFunc

	mu     sync.Mutex
	active *session
}

func NewManager(exec Executor, notifier notify.Notifier, journal Journal, subscribe FeedFunc) *Manager {
	if notifier == nil {
		notifier = notify.LogSink{}
	}
	if subscribe == nil {
		subscribe = func(ctx context.Context, url string) (<-chan feed.TradeEvent, <-chan error) {
			return feed.Subscribe(ctx, url, feed.Options{})
		}
	}
	return &Manager{
		exec:      exec,
		notifier:  notifier,
		journal:   journal,
		subscribe: subscribe,
	}
}

// Start opens a session for cfg. An already active session is stopped first.
func (m *Manager) Start(cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	if m.active != nil {
		m.stopLocked(m.active)
		m.active = nil
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:            uuid.NewString(),
		cfg:           cfg,
		cancel:        cancel,
		done:          make(chan struct{}),
		spentTotal:    decimal.Zero,
		spentByMarket: make(map[string]decimal.Decimal),
		seen:          newDedupe(dedupeCap),
	}

	events, errs := m.subscribe(sctx, cfg.FeedURL)
	m.active = s
	go m.run(sctx, s, events, errs)

	m.notify(notify.FormatSessionStarted(cfg.Leader.Hex(), cfg.Trade.DryRun))
	m.record(journalRecord{Kind: "session_start", SessionID: s.id, Trader: cfg.Leader.Hex()})
	log.Printf("session %s started, leader=%s dryRun=%v", s.id, cfg.Leader.Hex(), cfg.Trade.DryRun)
	return s.id, nil
}

// Stop ends the active session. It reports false when no session is running.
// When it returns, no further callbacks run for the old session.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	if m.active == nil {
		return false
	}
	m.stopLocked(m.active)
	m.active = nil
	return true
}

// Status reports the current session figures.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked()
	if m.active == nil {
		return Status{Spent: decimal.Zero}
	}
	s := m.active
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:    true,
		ID:        s.id,
		Leader:    s.cfg.Leader,
		Spent:     s.spentTotal,
		Processed: s.processed,
		Skipped:   s.skipped,
	}
}

// reapLocked clears the slot when the session stopped itself, e.g. on a cap
// breach.
func (m *Manager) reapLocked() {
	if m.active == nil {
		return
	}
	select {
	case <-m.active.done:
		m.active = nil
	default:
	}
}

func (m *Manager) stopLocked(s *session) {
	s.cancel()
	<-s.done
}

func (m *Manager) run(sctx context.Context, s *session, events <-chan feed.TradeEvent, errs <-chan error) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		spent, processed, skipped := s.spentTotal, s.processed, s.skipped
		s.mu.Unlock()
		m.notify(notify.FormatSessionStopped(spent, processed, skipped))
		m.record(journalRecord{Kind: "session_stop", SessionID: s.id, Spent: spent.String()})
		log.Printf("session %s stopped, spent=%s processed=%d skipped=%d", s.id, spent, processed, skipped)
	}()

	for {
		select {
		case <-sctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Feed trouble is reported but never ends the session; the feed
			// reconnects on its own.
			log.Printf("[warn] session %s feed: %v", s.id, err)
			m.record(journalRecord{Kind: "feed_error", SessionID: s.id, Error: err.Error()})
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.processEvent(sctx, s, ev)
		}
	}
}

func (m *Manager) processEvent(sctx context.Context, s *session, ev feed.TradeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[warn] session %s: panic processing event %s: %v", s.id, ev.ID, r)
		}
	}()

	if ev.Trader != s.cfg.Leader {
		return
	}

	s.mu.Lock()
	if s.seen.Seen(ev.ID) {
		s.mu.Unlock()
		log.Printf("session %s: duplicate event %s", s.id, ev.ID)
		return
	}
	marketSpent, ok := s.spentByMarket[ev.Market]
	if !ok {
		marketSpent = decimal.Zero
	}
	s.mu.Unlock()

	res, err := m.exec.Execute(sctx, s.cfg.Trade, ev, marketSpent)

	// A stop during execution discards the in-flight result.
	if sctx.Err() != nil {
		return
	}

	if err != nil {
		if isSkip(err) {
			s.mu.Lock()
			s.skipped++
			s.mu.Unlock()
		} else {
			log.Printf("[warn] session %s: event %s: %v", s.id, ev.ID, err)
		}
		m.notify(notify.FormatSkipReport(ev, err))
		m.record(journalRecord{
			Kind: "skip", SessionID: s.id, EventID: ev.ID, Trader: ev.Trader.Hex(),
			Market: ev.Market, Side: string(ev.Side), Error: err.Error(),
		})
		return
	}

	capCfg := s.cfg.Trade.TotalCap
	s.mu.Lock()
	tentative := s.spentTotal.Add(res.Spent)
	breached := capCfg.Sign() > 0 && res.Spent.Sign() > 0 && tentative.GreaterThan(capCfg)
	if !breached {
		s.spentTotal = tentative
		s.spentByMarket[ev.Market] = marketSpent.Add(res.Spent)
		s.processed++
	}
	finalSpent := s.spentTotal
	s.mu.Unlock()

	if breached {
		// The breaching increment is not booked; the session ends here.
		m.notify(notify.FormatCapReached(finalSpent, capCfg))
		m.record(journalRecord{
			Kind: "cap_reached", SessionID: s.id, EventID: ev.ID, Spent: finalSpent.String(),
		})
		s.cancel()
		return
	}

	m.notify(notify.FormatTradeReport(ev, res))
	m.record(journalRecord{
		Kind: "trade", SessionID: s.id, EventID: ev.ID, Trader: ev.Trader.Hex(),
		Market: ev.Market, Outcome: ev.Outcome, Side: string(ev.Side),
		Price: res.Price.String(), Shares: res.Shares.String(), Spent: res.Spent.String(),
		OrderID: res.OrderID, DryRun: res.DryRun, Error: res.ErrorMsg,
	})
}

func isSkip(err error) bool {
	return errors.Is(err, engine.ErrOddsAboveLimit) ||
		errors.Is(err, engine.ErrCategoryBlocked) ||
		errors.Is(err, engine.ErrTradeTooSmall) ||
		errors.Is(err, engine.ErrMarketCapReached)
}

func (m *Manager) notify(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.notifier.Notify(ctx, text); err != nil {
		log.Printf("[warn] notify: %v", err)
	}
}

func (m *Manager) record(r journalRecord) {
	if m.journal == nil {
		return
	}
	r.Time = time.Now().UTC()
	if err := m.journal.Write(r); err != nil {
		log.Printf("[warn] journal: %v", err)
	}
}

type journalRecord struct {
	Time      time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id,omitempty"`
	Trader    string    `json:"trader,omitempty"`
	Market    string    `json:"market,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Side      string    `json:"side,omitempty"`
	Price     string    `json:"price,omitempty"`
	Shares    string    `json:"shares,omitempty"`
	Spent     string    `json:"spent,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Error     string    `json:"error,omitempty"`
}
