package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/pkg/clock"
)

var (
	ErrSoldOut        = errors.New("sold out")
	ErrBusy           = errors.New("too many requests, retry later")
	ErrItemNotFound   = errors.New("item not found")
	ErrSaleNotStarted = errors.New("sale not started")
	ErrSaleEnded      = errors.New("sale ended")
	ErrGateClosed     = errors.New("admission gate closed")
)

// Processor runs one reservation attempt on a gate worker.
type Processor interface {
	Process(ctx context.Context, itemID, userID string) (domain.Outcome, error)
}

type GateConfig struct {
	CoreWorkers   int
	MaxWorkers    int
	Backlog       int
	KeepAlive     time.Duration
	SubmitTimeout time.Duration
}

type task struct {
	itemID string
	userID string
}

// Gate bounds in-flight reservation attempts. CoreWorkers serve a bounded
// backlog; once the backlog is full up to MaxWorkers extra workers are
// started, and past that Submit fails with ErrBusy.
type Gate struct {
	cfg       GateConfig
	processor Processor
	catalog   ItemLookup
	clock     clock.Clock
	logger    *slog.Logger

	soldOut sync.Map

	mu      sync.RWMutex
	closed  bool
	backlog chan task
	workers atomic.Int32
	wg      sync.WaitGroup
}

func NewGate(cfg GateConfig, processor Processor, catalog ItemLookup, clk clock.Clock, logger *slog.Logger) *Gate {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}

	g := &Gate{
		cfg:       cfg,
		processor: processor,
		catalog:   catalog,
		clock:     clk,
		logger:    logger,
		backlog:   make(chan task, cfg.Backlog),
	}

	for i := 0; i < cfg.CoreWorkers; i++ {
		g.workers.Add(1)
		g.wg.Add(1)
		go g.coreWorker()
	}

	return g
}

// Submit acknowledges a purchase attempt. A nil error means the attempt was
// accepted; the reservation outcome is decided asynchronously.
func (g *Gate) Submit(ctx context.Context, itemID, userID string) error {
	if g.IsSoldOut(itemID) {
		return ErrSoldOut
	}

	item, ok := g.catalog.Lookup(itemID)
	if !ok {
		return ErrItemNotFound
	}
	now := g.clock.Now()
	if item.SaleNotStarted(now) {
		return ErrSaleNotStarted
	}
	if item.SaleEnded(now) {
		return ErrSaleEnded
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return ErrGateClosed
	}

	t := task{itemID: itemID, userID: userID}
	select {
	case g.backlog <- t:
		return nil
	default:
	}

	if g.spawn(t) {
		return nil
	}

	if g.cfg.SubmitTimeout > 0 {
		timer := time.NewTimer(g.cfg.SubmitTimeout)
		defer timer.Stop()

		select {
		case g.backlog <- t:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	g.logger.Warn("admission backlog full, request rejected", "item_id", itemID, "user_id", userID)
	return ErrBusy
}

func (g *Gate) IsSoldOut(itemID string) bool {
	_, ok := g.soldOut.Load(itemID)
	return ok
}

func (g *Gate) MarkSoldOut(itemID string) {
	if _, loaded := g.soldOut.LoadOrStore(itemID, struct{}{}); !loaded {
		g.logger.Info("item marked sold out", "item_id", itemID)
	}
}

func (g *Gate) ClearSoldOut(itemID string) {
	if _, loaded := g.soldOut.LoadAndDelete(itemID); loaded {
		g.logger.Info("sold out mark cleared", "item_id", itemID)
	}
}

// Workers returns the number of live workers.
func (g *Gate) Workers() int {
	return int(g.workers.Load())
}

// Close stops admission and waits for the backlog to drain.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.backlog)
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gate) spawn(first task) bool {
	for {
		n := g.workers.Load()
		if int(n) >= g.cfg.MaxWorkers {
			return false
		}
		if g.workers.CompareAndSwap(n, n+1) {
			break
		}
	}

	g.wg.Add(1)
	go g.extraWorker(first)
	return true
}

func (g *Gate) coreWorker() {
	defer g.wg.Done()
	defer g.workers.Add(-1)

	for t := range g.backlog {
		g.run(t)
	}
}

func (g *Gate) extraWorker(first task) {
	defer g.wg.Done()
	defer g.workers.Add(-1)

	g.run(first)

	idle := time.NewTimer(g.cfg.KeepAlive)
	defer idle.Stop()

	for {
		select {
		case t, ok := <-g.backlog:
			if !ok {
				return
			}
			g.run(t)
			idle.Reset(g.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (g *Gate) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("reservation worker panic", "item_id", t.itemID, "user_id", t.userID, "panic", r)
		}
	}()

	outcome, err := g.processor.Process(context.Background(), t.itemID, t.userID)
	if err != nil {
		g.logger.Error("reservation failed", "item_id", t.itemID, "user_id", t.userID, "error", err)
		return
	}

	if outcome == domain.OutcomeSoldOut {
		g.MarkSoldOut(t.itemID)
	}
}
