package ledger

import (
	"context"
	"errors"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemFailure is one member of a batch that could not be processed
type ItemFailure struct {
	StudentID string
	Reason    string
}

// InterestResult reports an interest payout across a classroom
type InterestResult struct {
	Credited int
	Rate     decimal.Decimal
	Failures []ItemFailure
}

// AccrueInterest credits every student of the teacher with a positive
// savings balance. Each student is updated in its own transaction; a
// failure on one does not undo the others.
func (e *Engine) AccrueInterest(ctx context.Context, caller models.Caller, teacherID string) (InterestResult, error) {
	if !caller.IsTeacher() || caller.ID != teacherID {
		return InterestResult{}, apperr.Unauthorized("only the classroom teacher can pay interest")
	}

	teacher, err := e.store.GetTeacher(ctx, teacherID)
	if errors.Is(err, db.ErrNotFound) {
		return InterestResult{}, apperr.NotFound("teacher not found")
	}
	if err != nil {
		return InterestResult{}, apperr.Storage("load teacher", err)
	}

	res := InterestResult{Rate: teacher.InterestRate}
	if !teacher.InterestRate.IsPositive() {
		e.log.Info().Str("op", "interest").Str("teacher_id", teacherID).Msg("interest rate is zero, nothing paid")
		return res, nil
	}

	students, err := e.store.ListStudents(ctx, teacherID)
	if err != nil {
		return InterestResult{}, apperr.Storage("list students", err)
	}

	for _, s := range students {
		if s.SavingsBalance <= 0 {
			continue
		}

		var paid int64
		err := e.withStudent(ctx, caller, s.ID, func(ctx context.Context, locked models.Student) error {
			paid = Interest(locked.SavingsBalance, teacher.InterestRate)
			if paid <= 0 {
				return nil
			}
			savings, ok := addBalance(locked.SavingsBalance, paid)
			if !ok {
				return apperr.New(apperr.KindInvalidAmount, "savings balance overflow")
			}
			if err := e.store.UpdateStudentBalances(ctx, locked.ID, locked.Cash, savings); err != nil {
				return apperr.Storage("credit interest", err)
			}
			return nil
		})
		if err != nil {
			e.log.Warn().Err(err).Str("op", "interest").Str("student_id", s.ID).Msg("interest not credited")
			res.Failures = append(res.Failures, ItemFailure{StudentID: s.ID, Reason: err.Error()})
			continue
		}
		if paid > 0 {
			res.Credited++
		}
	}

	e.log.Info().
		Str("op", "interest").
		Str("teacher_id", teacherID).
		Str("rate", teacher.InterestRate.String()).
		Int("credited", res.Credited).
		Int("failed", len(res.Failures)).
		Msg("interest paid")
	return res, nil
}

// PortfolioEntry is a target position used by AdminOverrideAssets
type PortfolioEntry struct {
	StockID  string
	Quantity int64
}

// AdminOverrideAssets overwrites a student's balances and replaces the
// whole ownership set. Positions written here carry a cost basis of 0.
func (e *Engine) AdminOverrideAssets(ctx context.Context, caller models.Caller, studentID string, cash, savings int64, portfolio []PortfolioEntry) (BankResult, error) {
	if !caller.IsTeacher() {
		return BankResult{}, apperr.Unauthorized("only a teacher can override assets")
	}
	if cash < 0 || savings < 0 {
		return BankResult{}, apperr.New(apperr.KindInvalidAmount, "cash and savings must not be negative")
	}

	target := make(map[string]int64, len(portfolio))
	for _, entry := range portfolio {
		target[entry.StockID] = entry.Quantity
	}

	var res BankResult
	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		if err := e.store.UpdateStudentBalances(ctx, s.ID, cash, savings); err != nil {
			return apperr.Storage("overwrite balances", err)
		}

		current, err := e.store.ListHoldings(ctx, s.ID)
		if err != nil {
			return apperr.Storage("list holdings", err)
		}
		for _, h := range current {
			if target[h.StockID] > 0 {
				continue
			}
			if err := e.store.DeleteOwnership(ctx, s.ID, h.StockID); err != nil {
				return apperr.Storage("delete ownership", err)
			}
		}

		for stockID, qty := range target {
			if qty <= 0 {
				continue
			}
			stock, err := e.store.GetStock(ctx, stockID)
			if errors.Is(err, db.ErrNotFound) {
				return apperr.NotFound("stock %s not found", stockID)
			}
			if err != nil {
				return apperr.Storage("load stock", err)
			}
			if stock.TeacherID != s.TeacherID {
				return apperr.Unauthorized("stock %s is not listed in this classroom", stockID)
			}
			if _, ok := tradeValue(stock.CurrentPrice, qty); !ok {
				return apperr.New(apperr.KindInvalidAmount, "position in %s is too large", stockID)
			}
			own := models.Ownership{
				ID:              uuid.NewString(),
				StudentID:       s.ID,
				StockID:         stockID,
				Quantity:        qty,
				AverageBuyPrice: 0,
			}
			if err := e.store.UpsertOwnership(ctx, &own); err != nil {
				return apperr.Storage("write ownership", err)
			}
		}

		res = BankResult{StudentID: s.ID, Cash: cash, SavingsBalance: savings}
		return nil
	})
	if err != nil {
		return BankResult{}, err
	}

	e.log.Info().
		Str("op", "override").
		Str("student_id", studentID).
		Str("teacher_id", caller.ID).
		Int64("cash", cash).
		Int64("savings", savings).
		Int("positions", len(target)).
		Msg("assets overridden")
	return res, nil
}

// DeleteStudent removes the student with its trade history and holdings
func (e *Engine) DeleteStudent(ctx context.Context, caller models.Caller, studentID string) error {
	if !caller.IsTeacher() {
		return apperr.Unauthorized("only a teacher can delete students")
	}

	err := e.withStudent(ctx, caller, studentID, func(ctx context.Context, s models.Student) error {
		if err := e.store.DeleteTransactionsByStudent(ctx, s.ID); err != nil {
			return apperr.Storage("delete transactions", err)
		}
		if err := e.store.DeleteOwnershipsByStudent(ctx, s.ID); err != nil {
			return apperr.Storage("delete ownership", err)
		}
		if err := e.store.DeleteStudent(ctx, s.ID); err != nil {
			return apperr.Storage("delete student", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("op", "delete_student").Str("student_id", studentID).Str("teacher_id", caller.ID).Msg("student deleted")
	return nil
}
