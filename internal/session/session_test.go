package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/feed"
)

var leader = common.HexToAddress("0x56687bf447db6ffa42ffe2204a05edaa20f55839")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExec struct {
	mu      sync.Mutex
	calls   []feed.TradeEvent
	spends  []decimal.Decimal
	spent   decimal.Decimal
	err     error
	panicOn string
	started chan struct{}
	block   chan struct{}
}

func (f *fakeExec) Execute(_ context.Context, _ engine.Config, ev feed.TradeEvent, marketSpent decimal.Decimal) (*engine.ExecutionResult, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, ev)
	f.spends = append(f.spends, marketSpent)
	f.mu.Unlock()
	if ev.ID == f.panicOn {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.ExecutionResult{
		Success: true,
		OrderID: "0xord",
		Side:    ev.Side,
		Price:   ev.Price,
		Spent:   f.spent,
	}, nil
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.texts {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

type fakeFeed struct {
	mu     sync.Mutex
	events chan feed.TradeEvent
	errs   chan error
	opened int
}

func (f *fakeFeed) subscribe(ctx context.Context, _ string) (<-chan feed.TradeEvent, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.events = make(chan feed.TradeEvent, 16)
	f.errs = make(chan error, 16)
	return f.events, f.errs
}

func baseSessionConfig() Config {
	return Config{
		Leader:  leader,
		FeedURL: "ws://test",
		Trade: engine.Config{
			Scale:     dec("0.1"),
			OrderType: clob.OrderTypeFOK,
		},
	}
}

func buyEvent(id string) feed.TradeEvent {
	return feed.TradeEvent{
		ID:      id,
		Trader:  leader,
		Side:    clob.SideBuy,
		Market:  "0xc0ffee",
		Outcome: "Yes",
		Price:   dec("0.40"),
		Size:    dec("100"),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_StartStopLifecycle(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	id, err := m.Start(baseSessionConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	st := m.Status()
	if !st.Active || st.ID != id {
		t.Fatalf("status mismatch: %+v", st)
	}

	if !m.Stop() {
		t.Fatal("Stop on active session returned false")
	}
	if m.Stop() {
		t.Fatal("Stop on idle manager returned true")
	}
	if m.Status().Active {
		t.Fatal("status still active after stop")
	}
}

func TestManager_StartRejectsInvalidConfig(t *testing.T) {
	m := NewManager(&fakeExec{}, &recordingNotifier{}, nil, (&fakeFeed{}).subscribe)

	cfg := baseSessionConfig()
	cfg.Leader = common.Address{}
	if _, err := m.Start(cfg); err == nil {
		t.Fatal("expected error for missing leader")
	}

	cfg = baseSessionConfig()
	cfg.Trade.Scale = decimal.Zero
	if _, err := m.Start(cfg); err == nil {
		t.Fatal("expected error for zero scale")
	}
}

func TestManager_FiltersOtherTraders(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	other := buyEvent("evt-other")
	other.Trader = common.HexToAddress("0x0000000000000000000000000000000000000001")
	ff.events <- other
	ff.events <- buyEvent("evt-mine")

	waitFor(t, "leader event processed", func() bool { return exec.callCount() == 1 })
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.calls[0].ID != "evt-mine" {
		t.Fatalf("wrong event executed: %s", exec.calls[0].ID)
	}
}

func TestManager_DeduplicatesEvents(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ff.events <- buyEvent("evt-1")
	ff.events <- buyEvent("evt-1")
	ff.events <- buyEvent("evt-2")

	waitFor(t, "two unique events processed", func() bool { return exec.callCount() == 2 })
	time.Sleep(20 * time.Millisecond)
	if exec.callCount() != 2 {
		t.Fatalf("duplicate executed: %d calls", exec.callCount())
	}
}

func TestManager_TracksSpendPerMarket(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ff.events <- buyEvent("evt-1")
	waitFor(t, "first buy", func() bool { return m.Status().Spent.Equal(dec("4")) })

	other := buyEvent("evt-2")
	other.Market = "0xother"
	ff.events <- other
	ff.events <- buyEvent("evt-3")

	waitFor(t, "all buys", func() bool { return exec.callCount() == 3 })
	waitFor(t, "total spend", func() bool { return m.Status().Spent.Equal(dec("12")) })

	exec.mu.Lock()
	defer exec.mu.Unlock()
	// evt-2 targets a different market, so its running spend starts at zero;
	// evt-3 sees the 4 booked for the first market.
	if !exec.spends[1].Equal(decimal.Zero) {
		t.Fatalf("evt-2 market spend: %s", exec.spends[1])
	}
	if !exec.spends[2].Equal(dec("4")) {
		t.Fatalf("evt-3 market spend: %s", exec.spends[2])
	}
}

func TestManager_TotalCapAutoStopsAndDiscardsIncrement(t *testing.T) {
	exec := &fakeExec{spent: dec("6")}
	ff := &fakeFeed{}
	n := &recordingNotifier{}
	m := NewManager(exec, n, nil, ff.subscribe)

	cfg := baseSessionConfig()
	cfg.Trade.TotalCap = dec("10")
	if _, err := m.Start(cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ff.events <- buyEvent("evt-1") // books 6
	ff.events <- buyEvent("evt-2") // 6+6 > 10: discarded, session stops

	waitFor(t, "auto stop", func() bool { return !m.Status().Active })
	if !n.contains("cap reached") {
		t.Fatal("missing cap notification")
	}
	// The breaching increment is not booked: the final figure is 6, not 12.
	if !n.contains("$6") {
		t.Fatal("final spend figure missing from notifications")
	}
	if m.Stop() {
		t.Fatal("session should already be stopped")
	}
}

func TestManager_SkipSentinelCountsAsSkipped(t *testing.T) {
	exec := &fakeExec{err: engine.ErrOddsAboveLimit}
	ff := &fakeFeed{}
	n := &recordingNotifier{}
	m := NewManager(exec, n, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ff.events <- buyEvent("evt-1")
	waitFor(t, "skip counted", func() bool { return m.Status().Skipped == 1 })
	if !n.contains("SKIP") {
		t.Fatal("missing skip notification")
	}
	if m.Status().Processed != 0 {
		t.Fatal("skip counted as processed")
	}
}

func TestManager_FeedErrorsDoNotStopSession(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ff.errs <- context.DeadlineExceeded
	ff.events <- buyEvent("evt-1")

	waitFor(t, "event after feed error", func() bool { return exec.callCount() == 1 })
	if !m.Status().Active {
		t.Fatal("feed error stopped the session")
	}
}

func TestManager_RecoversFromEventPanic(t *testing.T) {
	exec := &fakeExec{spent: dec("4"), panicOn: "evt-bad"}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ff.events <- buyEvent("evt-bad")
	ff.events <- buyEvent("evt-ok")

	waitFor(t, "loop survives panic", func() bool { return m.Status().Processed == 1 })
}

func TestManager_StartWhileActiveRestartsSession(t *testing.T) {
	exec := &fakeExec{spent: dec("4")}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	first, err := m.Start(baseSessionConfig())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := m.Start(baseSessionConfig())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.Stop()

	if first == second {
		t.Fatal("expected a fresh session id")
	}
	st := m.Status()
	if !st.Active || st.ID != second {
		t.Fatalf("status mismatch: %+v", st)
	}
	ff.mu.Lock()
	opened := ff.opened
	ff.mu.Unlock()
	if opened != 2 {
		t.Fatalf("expected 2 feed subscriptions, got %d", opened)
	}
}

func TestManager_StopDiscardsInFlightResult(t *testing.T) {
	exec := &fakeExec{
		spent:   dec("4"),
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	ff := &fakeFeed{}
	m := NewManager(exec, &recordingNotifier{}, nil, ff.subscribe)

	if _, err := m.Start(baseSessionConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ff.events <- buyEvent("evt-1")

	// Let the loop pick the event up, then stop while Execute is blocked.
	<-exec.started
	stopDone := make(chan struct{})
	go func() {
		m.Stop()
		close(stopDone)
	}()
	close(exec.block)
	<-stopDone

	if st := m.Status(); st.Active || st.Spent.Sign() != 0 || st.Processed != 0 {
		t.Fatalf("in-flight result not discarded: %+v", st)
	}
}
