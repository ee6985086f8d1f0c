package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testItem(id string, stock int) domain.Item {
	return domain.Item{
		ID:    id,
		Name:  "Flash phone",
		Price: decimal.RequireFromString("99.90"),
		Stock: stock,
	}
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu       sync.Mutex
	stock    map[string]int
	buyers   map[string]map[string]bool
	atRisk   []domain.OrderIntent
	diverted []domain.OrderIntent
	err      error
	reserve  atomic.Int32
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		stock:  make(map[string]int),
		buyers: make(map[string]map[string]bool),
	}
}

func (m *mockCacheRepo) withStock(itemID string, stock int) *mockCacheRepo {
	m.stock[itemID] = stock
	return m
}

func (m *mockCacheRepo) Reserve(ctx context.Context, itemID, userID string) (domain.Outcome, error) {
	m.reserve.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	if m.buyers[itemID][userID] {
		return domain.OutcomeDuplicate, nil
	}
	if m.stock[itemID] <= 0 {
		return domain.OutcomeSoldOut, nil
	}

	m.stock[itemID]--
	if m.buyers[itemID] == nil {
		m.buyers[itemID] = make(map[string]bool)
	}
	m.buyers[itemID][userID] = true
	return domain.OutcomeReserved, nil
}

func (m *mockCacheRepo) Release(ctx context.Context, itemID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.buyers[itemID][userID] {
		return false, nil
	}
	delete(m.buyers[itemID], userID)
	m.stock[itemID]++
	return true, nil
}

func (m *mockCacheRepo) CapStock(ctx context.Context, itemID string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stock[itemID] > max {
		m.stock[itemID] = max
	}
	return nil
}

func (m *mockCacheRepo) GetStock(ctx context.Context, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stock, ok := m.stock[itemID]
	if !ok {
		return 0, port.ErrStockNotFound
	}
	return stock, nil
}

func (m *mockCacheRepo) InitStock(ctx context.Context, itemID string, stock int, reset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stock[itemID]; ok && !reset {
		return nil
	}
	m.stock[itemID] = stock
	if reset {
		delete(m.buyers, itemID)
	}
	return nil
}

func (m *mockCacheRepo) RecordAtRisk(ctx context.Context, intent domain.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.atRisk = append(m.atRisk, intent)
	return nil
}

func (m *mockCacheRepo) PopAtRisk(ctx context.Context) (*domain.OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.atRisk) == 0 {
		return nil, nil
	}
	intent := m.atRisk[0]
	m.atRisk = m.atRisk[1:]
	return &intent, nil
}

func (m *mockCacheRepo) RecordDiverted(ctx context.Context, intent domain.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.diverted = append(m.diverted, intent)
	return nil
}

func (m *mockCacheRepo) PopDiverted(ctx context.Context) (*domain.OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.diverted) == 0 {
		return nil, nil
	}
	intent := m.diverted[0]
	m.diverted = m.diverted[1:]
	return &intent, nil
}

func (m *mockCacheRepo) stockOf(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[itemID]
}

func (m *mockCacheRepo) isBuyer(itemID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyers[itemID][userID]
}

func (m *mockCacheRepo) atRiskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.atRisk)
}

func (m *mockCacheRepo) divertedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.diverted)
}

// Mock IntentPublisher
type mockPublisher struct {
	mu      sync.Mutex
	intents []domain.OrderIntent
	err     error
}

func (m *mockPublisher) PublishIntent(ctx context.Context, intent domain.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.intents = append(m.intents, intent)
	return nil
}

func (m *mockPublisher) published() []domain.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderIntent(nil), m.intents...)
}

// Mock DatabaseRepository with the same unique (user, item) guard as the orders table
type mockDatabaseRepo struct {
	mu     sync.Mutex
	stock  map[string]int
	orders map[string]domain.Order
	items  []domain.Item
	err    error
	calls  atomic.Int32
}

func newMockDatabaseRepo() *mockDatabaseRepo {
	return &mockDatabaseRepo{
		stock:  make(map[string]int),
		orders: make(map[string]domain.Order),
	}
}

func (m *mockDatabaseRepo) MaterializeOrder(ctx context.Context, order domain.Order) error {
	m.calls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	key := order.UserID + "/" + order.ItemID
	if _, ok := m.orders[key]; ok {
		return port.ErrDuplicateOrder
	}
	if m.stock[order.ItemID] <= 0 {
		return port.ErrStockGuard
	}

	m.stock[order.ItemID]--
	m.orders[key] = order
	return nil
}

func (m *mockDatabaseRepo) OrderExists(ctx context.Context, userID, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	_, ok := m.orders[userID+"/"+itemID]
	return ok, nil
}

func (m *mockDatabaseRepo) ListItems(ctx context.Context) ([]domain.Item, error) {
	return m.items, nil
}

func (m *mockDatabaseRepo) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockDatabaseRepo) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Mock Processor for the admission gate
type mockProcessor struct {
	mu      sync.Mutex
	calls   []string
	outcome domain.Outcome
	err     error
	block   chan struct{}
	started chan struct{}
	panics  bool
}

func (m *mockProcessor) Process(ctx context.Context, itemID, userID string) (domain.Outcome, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	m.calls = append(m.calls, userID)
	m.mu.Unlock()

	if m.panics {
		panic("boom")
	}
	return m.outcome, m.err
}

func (m *mockProcessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Mock SoldOutFlag
type mockFlag struct {
	mu      sync.Mutex
	soldOut map[string]bool
}

func newMockFlag() *mockFlag {
	return &mockFlag{soldOut: make(map[string]bool)}
}

func (m *mockFlag) MarkSoldOut(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.soldOut[itemID] = true
}

func (m *mockFlag) ClearSoldOut(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.soldOut, itemID)
}

func (m *mockFlag) isSoldOut(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soldOut[itemID]
}
