package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/rs/zerolog"
)

var ErrProcessorStopped = errors.New("trade processor is not accepting orders")

// Trader executes trades against the ledger
type Trader interface {
	Buy(ctx context.Context, caller models.Caller, studentID, stockID string, quantity int64) (ledger.TradeResult, error)
	Sell(ctx context.Context, caller models.Caller, studentID, stockID string, quantity int64) (ledger.TradeResult, error)
}

// TradeOrder is one buy or sell submitted by a student
type TradeOrder struct {
	Caller    models.Caller
	StudentID string
	StockID   string
	Type      models.TradeType
	Quantity  int64
}

type tradeOutcome struct {
	result ledger.TradeResult
	err    error
}

// queuedTrade is an order waiting for a worker
type queuedTrade struct {
	ctx      context.Context
	order    TradeOrder
	resultCh chan tradeOutcome
}

// TradeProcessor executes orders on a fixed pool of workers so a burst of
// requests cannot open more store transactions than there are workers.
type TradeProcessor struct {
	workers    int
	tradeQueue chan queuedTrade
	stopCh     chan struct{}
	mu         sync.RWMutex // guards stopped against in-flight submits
	stopped    bool
	wg         sync.WaitGroup
	trader     Trader
	log        zerolog.Logger
}

func NewTradeProcessor(trader Trader, workers int, log zerolog.Logger) *TradeProcessor {
	if workers < 1 {
		workers = 1
	}
	return &TradeProcessor{
		workers:    workers,
		tradeQueue: make(chan queuedTrade, 100),
		stopCh:     make(chan struct{}),
		trader:     trader,
		log:        log.With().Str("component", "trade_processor").Logger(),
	}
}

// Start starts the worker pool
func (tp *TradeProcessor) Start() {
	for i := 0; i < tp.workers; i++ {
		tp.wg.Add(1)
		go tp.worker(i)
	}
	tp.log.Info().Int("workers", tp.workers).Msg("trade workers started")
}

// Stop stops accepting orders and waits for the workers to finish the
// trade they are executing. Queued orders are answered with
// ErrProcessorStopped.
func (tp *TradeProcessor) Stop() {
	tp.mu.Lock()
	if tp.stopped {
		tp.mu.Unlock()
		return
	}
	tp.stopped = true
	tp.mu.Unlock()

	close(tp.stopCh)
	tp.wg.Wait()
	for {
		select {
		case req := <-tp.tradeQueue:
			req.resultCh <- tradeOutcome{err: ErrProcessorStopped}
		default:
			tp.log.Info().Msg("trade processor stopped")
			return
		}
	}
}

func (tp *TradeProcessor) worker(id int) {
	defer tp.wg.Done()

	for {
		select {
		case <-tp.stopCh:
			tp.log.Debug().Int("worker", id).Msg("worker stopping")
			return

		case req := <-tp.tradeQueue:
			tp.log.Debug().
				Int("worker", id).
				Str("student_id", req.order.StudentID).
				Str("stock_id", req.order.StockID).
				Str("type", string(req.order.Type)).
				Int64("quantity", req.order.Quantity).
				Msg("processing trade")

			res, err := tp.execute(req.ctx, req.order)
			req.resultCh <- tradeOutcome{result: res, err: err}
		}
	}
}

func (tp *TradeProcessor) execute(ctx context.Context, o TradeOrder) (ledger.TradeResult, error) {
	switch o.Type {
	case models.TradeBuy:
		return tp.trader.Buy(ctx, o.Caller, o.StudentID, o.StockID, o.Quantity)
	case models.TradeSell:
		return tp.trader.Sell(ctx, o.Caller, o.StudentID, o.StockID, o.Quantity)
	}
	return ledger.TradeResult{}, apperr.New(apperr.KindInvalidInput, "trade type must be BUY or SELL")
}

// SubmitTrade queues the order and waits for its result. Once a worker has
// picked the order up it runs to completion even if ctx is cancelled.
func (tp *TradeProcessor) SubmitTrade(ctx context.Context, order TradeOrder) (ledger.TradeResult, error) {
	resultCh := make(chan tradeOutcome, 1)
	req := queuedTrade{ctx: context.WithoutCancel(ctx), order: order, resultCh: resultCh}

	tp.mu.RLock()
	if tp.stopped {
		tp.mu.RUnlock()
		return ledger.TradeResult{}, ErrProcessorStopped
	}
	select {
	case tp.tradeQueue <- req:
		tp.mu.RUnlock()
	case <-ctx.Done():
		tp.mu.RUnlock()
		return ledger.TradeResult{}, ctx.Err()
	}

	out := <-resultCh
	return out.result, out.err
}
