// Package ledger applies every operation that moves a student's cash,
// savings or shares. Each single-student operation runs under that
// student's lock and inside one store transaction, so it either fully
// applies or leaves no trace.
package ledger

import (
	"context"
	"errors"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PasswordHasher turns a plain password into its stored form
type PasswordHasher interface {
	Hash(password string) (string, error)
}

type Engine struct {
	store   db.Store
	locks   *StudentLocks
	hasher  PasswordHasher
	log     zerolog.Logger
	workers int
}

type Option func(*Engine)

// WithWorkers sets how many batch entries are processed concurrently
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEngine(store db.Store, hasher PasswordHasher, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		locks:   NewStudentLocks(),
		hasher:  hasher,
		log:     log.With().Str("component", "ledger").Logger(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BankResult is a student's balances after a banking or trading operation
type BankResult struct {
	StudentID      string
	Cash           int64
	SavingsBalance int64
}

// TradeResult describes an executed trade
type TradeResult struct {
	Transaction     models.Transaction
	Cash            int64
	Quantity        int64 // shares held after the trade, 0 when fully sold
	AverageBuyPrice int64
}

// withStudent runs fn with the student locked in-process and in the store
func (e *Engine) withStudent(ctx context.Context, caller models.Caller, studentID string, fn func(ctx context.Context, s models.Student) error) error {
	e.locks.Lock(studentID)
	defer e.locks.Unlock(studentID)

	return e.store.WithinTransaction(ctx, func(ctx context.Context) error {
		student, err := e.store.LockStudent(ctx, studentID)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("student not found")
		}
		if err != nil {
			return apperr.Storage("load student", err)
		}
		if !caller.Controls(student) {
			return apperr.Unauthorized("caller does not control this student")
		}
		return fn(ctx, student)
	})
}

// Deposit moves amount from cash into savings
func (e *Engine) Deposit(ctx context.Context, caller models.Caller, studentID string, amount int64) (BankResult, error) {
	if amount <= 0 {
		return BankResult{}, apperr.New(apperr.KindInvalidAmount, "amount must be positive")
	}

	var res BankResult
	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		if s.Cash < amount {
			return apperr.New(apperr.KindInsufficientFunds, "not enough cash")
		}
		savings, ok := addBalance(s.SavingsBalance, amount)
		if !ok {
			return apperr.New(apperr.KindInvalidAmount, "savings balance overflow")
		}
		cash := s.Cash - amount
		if err := e.store.UpdateStudentBalances(ctx, s.ID, cash, savings); err != nil {
			return apperr.Storage("update balances", err)
		}
		res = BankResult{StudentID: s.ID, Cash: cash, SavingsBalance: savings}
		return nil
	})
	if err != nil {
		return BankResult{}, err
	}

	e.log.Info().Str("op", "deposit").Str("student_id", studentID).Int64("amount", amount).Msg("savings deposit")
	return res, nil
}

// Withdraw moves amount from savings back into cash
func (e *Engine) Withdraw(ctx context.Context, caller models.Caller, studentID string, amount int64) (BankResult, error) {
	if amount <= 0 {
		return BankResult{}, apperr.New(apperr.KindInvalidAmount, "amount must be positive")
	}

	var res BankResult
	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		if s.SavingsBalance < amount {
			return apperr.New(apperr.KindInsufficientFunds, "not enough savings")
		}
		cash, ok := addBalance(s.Cash, amount)
		if !ok {
			return apperr.New(apperr.KindInvalidAmount, "cash balance overflow")
		}
		savings := s.SavingsBalance - amount
		if err := e.store.UpdateStudentBalances(ctx, s.ID, cash, savings); err != nil {
			return apperr.Storage("update balances", err)
		}
		res = BankResult{StudentID: s.ID, Cash: cash, SavingsBalance: savings}
		return nil
	})
	if err != nil {
		return BankResult{}, err
	}

	e.log.Info().Str("op", "withdraw").Str("student_id", studentID).Int64("amount", amount).Msg("savings withdrawal")
	return res, nil
}

// loadTradableStock fetches a stock and checks it is listed in the
// student's classroom
func (e *Engine) loadTradableStock(ctx context.Context, s models.Student, stockID string) (models.Stock, error) {
	stock, err := e.store.GetStock(ctx, stockID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Stock{}, apperr.NotFound("stock not found")
	}
	if err != nil {
		return models.Stock{}, apperr.Storage("load stock", err)
	}
	if stock.TeacherID != s.TeacherID {
		return models.Stock{}, apperr.Unauthorized("stock is not listed in this classroom")
	}
	return stock, nil
}

// Buy purchases quantity shares at the stock's current price
func (e *Engine) Buy(ctx context.Context, caller models.Caller, studentID, stockID string, quantity int64) (TradeResult, error) {
	if quantity <= 0 {
		return TradeResult{}, apperr.New(apperr.KindInvalidQuantity, "quantity must be positive")
	}

	var res TradeResult
	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		stock, err := e.loadTradableStock(ctx, s, stockID)
		if err != nil {
			return err
		}
		if !stock.IsActive {
			return apperr.NotFound("stock is delisted")
		}

		price := stock.CurrentPrice
		cost, ok := tradeValue(price, quantity)
		if !ok || s.Cash < cost {
			return apperr.New(apperr.KindInsufficientFunds, "not enough cash")
		}

		own, err := e.store.GetOwnership(ctx, s.ID, stock.ID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			own = models.Ownership{ID: uuid.NewString(), StudentID: s.ID, StockID: stock.ID}
		case err != nil:
			return apperr.Storage("load ownership", err)
		}
		own.AverageBuyPrice = AveragePrice(own.AverageBuyPrice, own.Quantity, price, quantity)
		own.Quantity += quantity

		if err := e.store.UpdateStudentBalances(ctx, s.ID, s.Cash-cost, s.SavingsBalance); err != nil {
			return apperr.Storage("debit cash", err)
		}
		if err := e.store.UpsertOwnership(ctx, &own); err != nil {
			return apperr.Storage("update ownership", err)
		}

		trade := models.Transaction{
			ID:        uuid.NewString(),
			StudentID: s.ID,
			StockID:   stock.ID,
			Type:      models.TradeBuy,
			Price:     price,
			Quantity:  quantity,
		}
		if err := e.store.InsertTransaction(ctx, &trade); err != nil {
			return apperr.Storage("record trade", err)
		}

		res = TradeResult{
			Transaction:     trade,
			Cash:            s.Cash - cost,
			Quantity:        own.Quantity,
			AverageBuyPrice: own.AverageBuyPrice,
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}

	e.log.Info().
		Str("op", "buy").
		Str("student_id", studentID).
		Str("stock_id", stockID).
		Int64("quantity", quantity).
		Int64("price", res.Transaction.Price).
		Msg("trade executed")
	return res, nil
}

// Sell disposes of quantity shares at the stock's current price. Delisted
// stocks can still be sold.
func (e *Engine) Sell(ctx context.Context, caller models.Caller, studentID, stockID string, quantity int64) (TradeResult, error) {
	if quantity <= 0 {
		return TradeResult{}, apperr.New(apperr.KindInvalidQuantity, "quantity must be positive")
	}

	var res TradeResult
	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		stock, err := e.loadTradableStock(ctx, s, stockID)
		if err != nil {
			return err
		}

		own, err := e.store.GetOwnership(ctx, s.ID, stock.ID)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.New(apperr.KindInsufficientShares, "no shares of this stock")
		}
		if err != nil {
			return apperr.Storage("load ownership", err)
		}
		if own.Quantity < quantity {
			return apperr.New(apperr.KindInsufficientShares, "not enough shares: own %d, selling %d", own.Quantity, quantity)
		}

		price := stock.CurrentPrice
		proceeds, ok := tradeValue(price, quantity)
		if !ok {
			return apperr.New(apperr.KindInvalidQuantity, "trade value overflow")
		}
		cash, ok := addBalance(s.Cash, proceeds)
		if !ok {
			return apperr.New(apperr.KindInvalidAmount, "cash balance overflow")
		}

		if err := e.store.UpdateStudentBalances(ctx, s.ID, cash, s.SavingsBalance); err != nil {
			return apperr.Storage("credit cash", err)
		}

		remaining := own.Quantity - quantity
		if remaining == 0 {
			err = e.store.DeleteOwnership(ctx, s.ID, stock.ID)
		} else {
			own.Quantity = remaining
			err = e.store.UpsertOwnership(ctx, &own)
		}
		if err != nil {
			return apperr.Storage("update ownership", err)
		}

		trade := models.Transaction{
			ID:        uuid.NewString(),
			StudentID: s.ID,
			StockID:   stock.ID,
			Type:      models.TradeSell,
			Price:     price,
			Quantity:  quantity,
		}
		if err := e.store.InsertTransaction(ctx, &trade); err != nil {
			return apperr.Storage("record trade", err)
		}

		res = TradeResult{Transaction: trade, Cash: cash, Quantity: remaining}
		if remaining > 0 {
			res.AverageBuyPrice = own.AverageBuyPrice
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}

	e.log.Info().
		Str("op", "sell").
		Str("student_id", studentID).
		Str("stock_id", stockID).
		Int64("quantity", quantity).
		Int64("price", res.Transaction.Price).
		Msg("trade executed")
	return res, nil
}

// History returns the student's most recent trades, newest first
func (e *Engine) History(ctx context.Context, caller models.Caller, studentID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	student, err := e.store.GetStudent(ctx, studentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("student not found")
	}
	if err != nil {
		return nil, apperr.Storage("load student", err)
	}
	if !caller.Controls(student) {
		return nil, apperr.Unauthorized("caller does not control this student")
	}

	trades, err := e.store.ListTransactions(ctx, studentID, limit)
	if err != nil {
		return nil, apperr.Storage("list trades", err)
	}
	return trades, nil
}
