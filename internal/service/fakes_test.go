package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/lock"
	"github.com/evetabi/racesettle/internal/metrics"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// world: an in-memory stand-in for the database
// ──────────────────────────────────────────────────────────────────────────────

var errLedgerDown = errors.New("ledger unavailable")

type world struct {
	mu sync.Mutex

	periods map[int64]*domain.Period
	bets    map[int64]*domain.Bet
	agents  map[int64]*domain.Agent
	members map[int64]decimal.Decimal
	txns    []domain.Transaction
	keys    map[string]bool
	records map[int64]*domain.SettlementRecord
	tasks   map[uuid.UUID]*domain.CompensationTask

	// settleLimit > 0 makes SettleBet fail once that many bets were settled
	settleLimit int
	settleCount int
}

func newWorld() *world {
	return &world{
		periods: map[int64]*domain.Period{},
		bets:    map[int64]*domain.Bet{},
		agents:  map[int64]*domain.Agent{},
		members: map[int64]decimal.Decimal{},
		keys:    map[string]bool{},
		records: map[int64]*domain.SettlementRecord{},
		tasks:   map[uuid.UUID]*domain.CompensationTask{},
	}
}

func (w *world) txnCount(kind domain.TransactionType) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, t := range w.txns {
		if t.Type == kind {
			n++
		}
	}
	return n
}

func (w *world) agentBalance(id int64) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agents[id].Balance
}

func (w *world) memberBalance(id int64) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.members[id]
}

func (w *world) periodStatus(id int64) domain.PeriodStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.periods[id].Status
}

func (w *world) tasksFor(periodID int64) []domain.CompensationTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []domain.CompensationTask
	for _, t := range w.tasks {
		if t.PeriodID == periodID {
			out = append(out, *t)
		}
	}
	return out
}

func (w *world) sortedBets(periodID int64, keep func(*domain.Bet) bool) []*domain.Bet {
	var out []*domain.Bet
	for _, b := range w.bets {
		if b.PeriodID == periodID && keep(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ── PeriodStore ──────────────────────────────────────────────────────────────

type fakePeriods struct{ w *world }

func (f fakePeriods) GetByID(_ context.Context, id int64) (*domain.Period, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	p, ok := f.w.periods[id]
	if !ok {
		return nil, domain.ErrPeriodNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePeriods) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Period, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []*domain.Period
	for _, p := range f.w.periods {
		if p.Status == domain.PeriodBetting && !p.DrawTime.After(now) && p.HasDraw() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakePeriods) Transition(_ context.Context, id int64, from, to domain.PeriodStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.ErrInvalidTransition
	}
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	p, ok := f.w.periods[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (f fakePeriods) MarkSettled(ctx context.Context, id int64) error {
	_, err := f.Transition(ctx, id, domain.PeriodDrawing, domain.PeriodSettled)
	return err
}

func (f fakePeriods) LatestID(context.Context) (int64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var latest int64
	for id := range f.w.periods {
		if id > latest {
			latest = id
		}
	}
	return latest, nil
}

func (f fakePeriods) Create(_ context.Context, id int64, drawTime time.Time) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.periods[id]; ok {
		return errors.New("duplicate period")
	}
	f.w.periods[id] = &domain.Period{ID: id, Status: domain.PeriodBetting, DrawTime: drawTime}
	return nil
}

// ── BetStore ─────────────────────────────────────────────────────────────────

type fakeBets struct{ w *world }

func (f fakeBets) ListUnsettled(_ context.Context, periodID int64) ([]*domain.Bet, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.sortedBets(periodID, func(b *domain.Bet) bool { return !b.Settled }), nil
}

func (f fakeBets) ListUnrebated(_ context.Context, periodID int64) ([]*domain.Bet, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.sortedBets(periodID, func(b *domain.Bet) bool { return b.Settled && !b.RebateDone }), nil
}

func (f fakeBets) ListByPeriod(_ context.Context, periodID int64) ([]*domain.Bet, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.sortedBets(periodID, func(*domain.Bet) bool { return true }), nil
}

func (f fakeBets) MarkRebated(_ context.Context, betID int64) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b, ok := f.w.bets[betID]
	if !ok {
		return domain.ErrBetNotFound
	}
	b.RebateDone = true
	return nil
}

func (f fakeBets) CountByPeriod(_ context.Context, periodID int64) (domain.BetCounts, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	c := domain.BetCounts{TotalStake: decimal.Zero, TotalWinAmount: decimal.Zero}
	for _, b := range f.w.bets {
		if b.PeriodID != periodID {
			continue
		}
		c.Total++
		c.TotalStake = c.TotalStake.Add(b.Amount)
		if !b.Settled {
			c.Unsettled++
			continue
		}
		c.Settled++
		c.TotalWinAmount = c.TotalWinAmount.Add(b.WinAmount)
		if !b.RebateDone {
			c.Unrebated++
		}
	}
	return c, nil
}

// ── AgentStore ───────────────────────────────────────────────────────────────

type fakeAgents struct{ w *world }

func (f fakeAgents) GetByID(_ context.Context, id int64) (*domain.Agent, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	a, ok := f.w.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

// ── Ledger ───────────────────────────────────────────────────────────────────

type fakeLedger struct{ w *world }

func (f fakeLedger) SettleBet(_ context.Context, bet *domain.Bet, out domain.Outcome) (*domain.Transaction, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b, ok := f.w.bets[bet.ID]
	if !ok {
		return nil, domain.ErrBetNotFound
	}
	if b.Settled {
		return nil, domain.ErrAlreadySettled
	}
	if _, ok := f.w.members[b.MemberID]; !ok {
		return nil, &domain.LedgerWriteError{Op: "settle", BetID: bet.ID,
			Err: fmt.Errorf("member %d: %w", b.MemberID, domain.ErrMemberNotFound)}
	}
	if f.w.settleLimit > 0 && f.w.settleCount >= f.w.settleLimit {
		return nil, &domain.LedgerWriteError{Op: "win", BetID: bet.ID, Err: errLedgerDown}
	}
	f.w.settleCount++

	now := time.Now()
	b.Settled = true
	b.Win = out.Win
	b.WinAmount = out.WinAmount
	b.SettledAt = &now
	if !out.Win {
		return nil, nil
	}

	key := domain.WinKey(bet.ID)
	if f.w.keys[key] {
		return nil, nil
	}
	txn := domain.Credit{
		UserType:       domain.UserMember,
		UserID:         b.MemberID,
		Type:           domain.TxWin,
		Amount:         out.WinAmount,
		PeriodID:       b.PeriodID,
		BetID:          b.ID,
		IdempotencyKey: key,
	}.Apply(f.w.members[b.MemberID], now)
	f.w.keys[key] = true
	f.w.members[b.MemberID] = txn.BalanceAfter
	f.w.txns = append(f.w.txns, *txn)
	return txn, nil
}

func (f fakeLedger) CreditAgent(_ context.Context, c domain.Credit) (*domain.Transaction, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.keys[c.IdempotencyKey] {
		return nil, domain.ErrAlreadyApplied
	}
	a, ok := f.w.agents[c.UserID]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	txn := c.Apply(a.Balance, time.Now())
	f.w.keys[c.IdempotencyKey] = true
	a.Balance = txn.BalanceAfter
	f.w.txns = append(f.w.txns, *txn)
	return txn, nil
}

// slowLedger delays every bet settlement write.
type slowLedger struct {
	fakeLedger
	delay time.Duration
}

func (l *slowLedger) SettleBet(ctx context.Context, bet *domain.Bet, out domain.Outcome) (*domain.Transaction, error) {
	time.Sleep(l.delay)
	return l.fakeLedger.SettleBet(ctx, bet, out)
}

// flakyLedger refuses every rebate credit to one agent while down is set.
type flakyLedger struct {
	fakeLedger
	agentID int64
	down    bool
}

func (l *flakyLedger) CreditAgent(ctx context.Context, c domain.Credit) (*domain.Transaction, error) {
	if l.down && c.UserID == l.agentID {
		return nil, &domain.LedgerWriteError{Op: "rebate", BetID: c.BetID, Err: errLedgerDown}
	}
	return l.fakeLedger.CreditAgent(ctx, c)
}

// ── SettlementStore ──────────────────────────────────────────────────────────

type fakeSettlements struct{ w *world }

func (f fakeSettlements) GetRecord(_ context.Context, periodID int64) (*domain.SettlementRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	rec, ok := f.w.records[periodID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f fakeSettlements) CreateRecord(_ context.Context, rec *domain.SettlementRecord) (bool, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.records[rec.PeriodID]; ok {
		return false, nil
	}
	cp := *rec
	f.w.records[rec.PeriodID] = &cp
	return true, nil
}

func (f fakeSettlements) pending(periodID int64) *domain.CompensationTask {
	for _, t := range f.w.tasks {
		if t.PeriodID == periodID && t.Status == domain.TaskPending {
			return t
		}
	}
	return nil
}

func (f fakeSettlements) EnsureTask(_ context.Context, periodID int64, reason, lastErr string, nextAttempt time.Time) (*domain.CompensationTask, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if t := f.pending(periodID); t != nil {
		t.Reason = reason
		t.LastError = lastErr
		cp := *t
		return &cp, nil
	}
	t := &domain.CompensationTask{
		ID:            uuid.New(),
		PeriodID:      periodID,
		Reason:        reason,
		Status:        domain.TaskPending,
		NextAttemptAt: nextAttempt,
		LastError:     lastErr,
	}
	f.w.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (f fakeSettlements) CreateFailedTask(_ context.Context, periodID int64, reason, lastErr string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if t := f.pending(periodID); t != nil {
		t.Status = domain.TaskFailed
		t.Reason = reason
		t.LastError = lastErr
		return nil
	}
	t := &domain.CompensationTask{
		ID: uuid.New(), PeriodID: periodID, Reason: reason,
		Status: domain.TaskFailed, LastError: lastErr,
	}
	f.w.tasks[t.ID] = t
	return nil
}

func (f fakeSettlements) ListDueTasks(_ context.Context, now time.Time, limit int) ([]*domain.CompensationTask, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []*domain.CompensationTask
	for _, t := range f.w.tasks {
		if t.Status == domain.TaskPending && !t.NextAttemptAt.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeSettlements) UpdateTask(_ context.Context, t *domain.CompensationTask) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	cur, ok := f.w.tasks[t.ID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	*cur = *t
	return nil
}

func (f fakeSettlements) CloseTasks(_ context.Context, periodID int64) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if t := f.pending(periodID); t != nil {
		t.Status = domain.TaskDone
	}
	return nil
}

func (f fakeSettlements) hasOpenTask(periodID int64) bool {
	for _, t := range f.w.tasks {
		if t.PeriodID == periodID && t.Status != domain.TaskDone {
			return true
		}
	}
	return false
}

func (f fakeSettlements) FindIncomplete(_ context.Context, before time.Time, limit int) ([]int64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []int64
	for _, p := range f.w.periods {
		if p.Status != domain.PeriodDrawing || !p.DrawTime.Before(before) {
			continue
		}
		if _, ok := f.w.records[p.ID]; ok || f.hasOpenTask(p.ID) {
			continue
		}
		out = append(out, p.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeSettlements) FindUnrebated(_ context.Context, before time.Time, limit int) ([]int64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, b := range f.w.bets {
		if !b.Settled || b.RebateDone || b.SettledAt == nil || !b.SettledAt.Before(before) {
			continue
		}
		if seen[b.PeriodID] || f.hasOpenTask(b.PeriodID) {
			continue
		}
		seen[b.PeriodID] = true
		out = append(out, b.PeriodID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Broadcaster ──────────────────────────────────────────────────────────────

type recordingBroadcaster struct {
	mu       sync.Mutex
	statuses []domain.PeriodStatus
	settled  []int64
	failed   []int64
}

func (b *recordingBroadcaster) BroadcastPeriodStatus(_ int64, status domain.PeriodStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, status)
}

func (b *recordingBroadcaster) BroadcastPeriodSettled(res *domain.SettleResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settled = append(b.settled, res.PeriodID)
}

func (b *recordingBroadcaster) BroadcastCompensationFailed(task *domain.CompensationTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, task.PeriodID)
}

// ── Publisher ────────────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.SettlementRecord
	err    error
}

func (p *recordingPublisher) PublishPeriodSettled(_ context.Context, rec *domain.SettlementRecord, _ domain.DrawResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, rec)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// ──────────────────────────────────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────────────────────────────────

const (
	testPeriod = int64(20250716013)
	testMember = int64(100)
)

var testDraw = domain.DrawResult{3, 7, 1, 2, 4, 5, 6, 8, 9, 10}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func i64(n int64) *int64 { return &n }

func testConfig() *config.Config {
	return &config.Config{
		Lock:       config.LockConfig{Backend: "postgres", TTL: 2 * time.Minute},
		Settlement: config.SettlementConfig{Budget: 5 * time.Second, MaxHops: 32, GraceWindow: 2 * time.Minute},
		Reconcile: config.ReconcileConfig{
			Schedule:    "*/15 * * * * *",
			MaxRetries:  3,
			BackoffBase: 5 * time.Second,
			BackoffMax:  time.Minute,
			BatchSize:   50,
		},
		Scheduler: config.SchedulerConfig{Tick: time.Second},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedWorld builds the reference hierarchy (A all → B 1.5 % → C 1 %, market D),
// one member under C and a drawing period with ten 100.00 stakes on the
// champion. Even bet ids pick car 3 and win at 9.8.
func seedWorld() *world {
	w := newWorld()
	w.agents[1] = &domain.Agent{ID: 1, Username: "A", RebateMode: domain.RebateAll, MarketType: domain.MarketD, Balance: decimal.Zero}
	w.agents[2] = &domain.Agent{ID: 2, Username: "B", ParentID: i64(1), RebateMode: domain.RebatePercentage,
		RebatePercentage: dec("0.015"), MarketType: domain.MarketD, Balance: decimal.Zero}
	w.agents[3] = &domain.Agent{ID: 3, Username: "C", ParentID: i64(2), RebateMode: domain.RebatePercentage,
		RebatePercentage: dec("0.01"), MarketType: domain.MarketD, Balance: decimal.Zero}
	w.members[testMember] = decimal.Zero

	w.periods[testPeriod] = &domain.Period{
		ID:         testPeriod,
		Status:     domain.PeriodDrawing,
		DrawResult: testDraw,
		DrawTime:   time.Now().Add(-time.Minute),
	}
	for id := int64(1); id <= 10; id++ {
		pick := "4"
		if id%2 == 0 {
			pick = "3"
		}
		w.bets[id] = &domain.Bet{
			ID:        id,
			MemberID:  testMember,
			PeriodID:  testPeriod,
			BetType:   "champion",
			BetValue:  pick,
			Amount:    dec("100"),
			Odds:      dec("9.8"),
			WinAmount: decimal.Zero,
			AgentID:   i64(3),
			Market:    domain.MarketD,
		}
	}
	return w
}

type harness struct {
	w       *world
	locker  *lock.MemoryLocker
	reg     *prometheus.Registry
	cfg     *config.Config
	rebates *service.RebateService
	settle  *service.SettlementService
	bcast   *recordingBroadcaster
	pub     *recordingPublisher
}

func newHarness(w *world) *harness {
	return newHarnessWith(w, testConfig(), fakeLedger{w})
}

// newHarnessWith wires the services over a custom config and ledger.
func newHarnessWith(w *world, cfg *config.Config, ledger service.Ledger) *harness {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := discardLogger()
	locker := lock.NewMemoryLocker()

	rebates := service.NewRebateService(fakeAgents{w}, ledger, m, cfg, logger)
	settle := service.NewSettlementService(
		fakePeriods{w}, fakeBets{w}, ledger, fakeSettlements{w},
		rebates, locker, m, cfg, logger,
	)
	bcast := &recordingBroadcaster{}
	settle.SetBroadcaster(bcast)
	pub := &recordingPublisher{}
	settle.SetPublisher(pub)

	return &harness{w: w, locker: locker, reg: reg, cfg: cfg, rebates: rebates, settle: settle, bcast: bcast, pub: pub}
}
