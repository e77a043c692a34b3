// Package market manages the stocks a teacher lists for the classroom.
package market

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	codeAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength    = 4
	codeAttempts  = 5
	generatedCode = "S-"
)

// PriceNotifier is told about every stock whose price or listing changed
type PriceNotifier interface {
	PublishPrice(stock models.Stock)
}

type Registry struct {
	store    db.Store
	notifier PriceNotifier
	log      zerolog.Logger
	newCode  func() string
}

// NewRegistry builds a registry; notifier may be nil
func NewRegistry(store db.Store, notifier PriceNotifier, log zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "market").Logger(),
		newCode:  randomCode,
	}
}

func randomCode() string {
	var b strings.Builder
	b.WriteString(generatedCode)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// NewStock is the input of CreateStock
type NewStock struct {
	Name        string
	Code        string
	Description string
	Price       int64
}

// CreateStock lists a stock in the caller's classroom. An empty code is
// generated and retried on collision.
func (r *Registry) CreateStock(ctx context.Context, caller models.Caller, in NewStock) (models.Stock, error) {
	if !caller.IsTeacher() {
		return models.Stock{}, apperr.Unauthorized("only a teacher can list stocks")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Stock{}, apperr.New(apperr.KindInvalidInput, "stock name is required")
	}
	if in.Price <= 0 {
		return models.Stock{}, apperr.New(apperr.KindInvalidAmount, "price must be positive")
	}

	stock := models.Stock{
		TeacherID:    caller.ID,
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		CurrentPrice: in.Price,
		IsActive:     true,
	}

	code := strings.ToUpper(strings.TrimSpace(in.Code))
	attempts := 1
	if code == "" {
		attempts = codeAttempts
	}

	for i := 0; i < attempts; i++ {
		stock.ID = uuid.NewString()
		stock.Code = code
		if stock.Code == "" {
			stock.Code = r.newCode()
		}

		err := r.store.CreateStock(ctx, &stock)
		if err == nil {
			r.log.Info().Str("op", "create_stock").Str("stock_id", stock.ID).Str("code", stock.Code).Str("teacher_id", caller.ID).Msg("stock listed")
			r.publish(stock)
			return stock, nil
		}
		if !errors.Is(err, db.ErrDuplicate) {
			return models.Stock{}, apperr.Storage("create stock", err)
		}
		r.log.Debug().Str("code", stock.Code).Msg("stock code taken")
	}

	if code != "" {
		return models.Stock{}, apperr.New(apperr.KindDuplicateCode, "stock code %q already exists", code)
	}
	return models.Stock{}, apperr.New(apperr.KindDuplicateCode, "could not generate a free stock code")
}

// ownedStock loads a stock and checks the caller listed it
func (r *Registry) ownedStock(ctx context.Context, caller models.Caller, stockID string) (models.Stock, error) {
	if !caller.IsTeacher() {
		return models.Stock{}, apperr.Unauthorized("only a teacher can manage stocks")
	}
	stock, err := r.store.GetStock(ctx, stockID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Stock{}, apperr.NotFound("stock not found")
	}
	if err != nil {
		return models.Stock{}, apperr.Storage("load stock", err)
	}
	if stock.TeacherID != caller.ID {
		return models.Stock{}, apperr.Unauthorized("stock belongs to another classroom")
	}
	return stock, nil
}

// UpdatePrice overwrites the stock's price. Past trades keep the price they
// executed at.
func (r *Registry) UpdatePrice(ctx context.Context, caller models.Caller, stockID string, price int64) (models.Stock, error) {
	if price <= 0 {
		return models.Stock{}, apperr.New(apperr.KindInvalidAmount, "price must be positive")
	}

	var stock models.Stock
	err := r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		stock, err = r.ownedStock(ctx, caller, stockID)
		if err != nil {
			return err
		}
		if err := r.store.UpdateStockPrice(ctx, stockID, price); err != nil {
			return apperr.Storage("update price", err)
		}
		stock.CurrentPrice = price
		return nil
	})
	if err != nil {
		return models.Stock{}, err
	}

	r.log.Info().Str("op", "update_price").Str("stock_id", stockID).Int64("price", price).Msg("price updated")
	r.publish(stock)
	return stock, nil
}

// SetActive lists or delists the stock
func (r *Registry) SetActive(ctx context.Context, caller models.Caller, stockID string, active bool) (models.Stock, error) {
	var stock models.Stock
	err := r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		stock, err = r.ownedStock(ctx, caller, stockID)
		if err != nil {
			return err
		}
		if err := r.store.SetStockActive(ctx, stockID, active); err != nil {
			return apperr.Storage("set active", err)
		}
		stock.IsActive = active
		return nil
	})
	if err != nil {
		return models.Stock{}, err
	}

	r.log.Info().Str("op", "set_active").Str("stock_id", stockID).Bool("active", active).Msg("listing changed")
	r.publish(stock)
	return stock, nil
}

// ListForTeacher returns every stock of the teacher, listed or not
func (r *Registry) ListForTeacher(ctx context.Context, caller models.Caller, teacherID string) ([]models.Stock, error) {
	if !caller.IsTeacher() || (caller.ID != teacherID && !caller.IsAdmin) {
		return nil, apperr.Unauthorized("caller cannot view this classroom's stocks")
	}
	stocks, err := r.store.ListStocks(ctx, teacherID, false)
	if err != nil {
		return nil, apperr.Storage("list stocks", err)
	}
	return stocks, nil
}

// ListForStudent returns the active stocks of the student's classroom
func (r *Registry) ListForStudent(ctx context.Context, caller models.Caller, studentID string) ([]models.Stock, error) {
	student, err := r.store.GetStudent(ctx, studentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("student not found")
	}
	if err != nil {
		return nil, apperr.Storage("load student", err)
	}
	if !caller.Controls(student) {
		return nil, apperr.Unauthorized("caller does not control this student")
	}

	stocks, err := r.store.ListStocks(ctx, student.TeacherID, true)
	if err != nil {
		return nil, apperr.Storage("list stocks", err)
	}
	return stocks, nil
}

func (r *Registry) publish(stock models.Stock) {
	if r.notifier != nil {
		r.notifier.PublishPrice(stock)
	}
}
