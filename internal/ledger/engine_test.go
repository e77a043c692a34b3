package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "reject" {
		return "", errors.New("too weak")
	}
	return "hashed:" + password, nil
}

type fixture struct {
	ctx     context.Context
	store   *db.Memory
	engine  *Engine
	teacher models.Teacher
	student models.Student
	stock   models.Stock
}

func newFixture(t *testing.T, cash int64) *fixture {
	t.Helper()
	store := db.NewMemory()
	teacher := db.CreateTestTeacher(t, store, "teacher", 5)
	return &fixture{
		ctx:     context.Background(),
		store:   store,
		engine:  NewEngine(store, plainHasher{}, zerolog.Nop()),
		teacher: teacher,
		student: db.CreateTestStudent(t, store, teacher.ID, "student", cash, 0),
		stock:   db.CreateTestStock(t, store, teacher.ID, "ACME", 100),
	}
}

func (f *fixture) studentCaller() models.Caller {
	return models.Caller{ID: f.student.ID, Role: models.RoleStudent, TeacherID: f.teacher.ID}
}

func (f *fixture) teacherCaller() models.Caller {
	return models.Caller{ID: f.teacher.ID, Role: models.RoleTeacher, TeacherID: f.teacher.ID}
}

func (f *fixture) reload(t *testing.T) models.Student {
	t.Helper()
	s, err := f.store.GetStudent(f.ctx, f.student.ID)
	require.NoError(t, err)
	return s
}

func (f *fixture) setPrice(t *testing.T, price int64) {
	t.Helper()
	require.NoError(t, f.store.UpdateStockPrice(f.ctx, f.stock.ID, price))
}

func TestDeposit_Success(t *testing.T) {
	f := newFixture(t, 10000)

	res, err := f.engine.Deposit(f.ctx, f.studentCaller(), f.student.ID, 4000)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), res.Cash)
	assert.Equal(t, int64(4000), res.SavingsBalance)

	s := f.reload(t)
	assert.Equal(t, int64(6000), s.Cash)
	assert.Equal(t, int64(4000), s.SavingsBalance)
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.engine.Deposit(f.ctx, f.studentCaller(), f.student.ID, 101)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	s := f.reload(t)
	assert.Equal(t, int64(100), s.Cash)
	assert.Equal(t, int64(0), s.SavingsBalance)
}

func TestDeposit_InvalidAmount(t *testing.T) {
	f := newFixture(t, 100)

	for _, amount := range []int64{0, -5} {
		_, err := f.engine.Deposit(f.ctx, f.studentCaller(), f.student.ID, amount)
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	}
}

func TestDeposit_StudentNotFound(t *testing.T) {
	f := newFixture(t, 100)
	caller := models.Caller{ID: "missing", Role: models.RoleStudent}

	_, err := f.engine.Deposit(f.ctx, caller, "missing", 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 1000)
	_, err := f.engine.Deposit(f.ctx, f.studentCaller(), f.student.ID, 600)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(f.ctx, f.studentCaller(), f.student.ID, 601)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	s := f.reload(t)
	assert.Equal(t, int64(400), s.Cash)
	assert.Equal(t, int64(600), s.SavingsBalance)

	res, err := f.engine.Withdraw(f.ctx, f.studentCaller(), f.student.ID, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Cash)
	assert.Equal(t, int64(0), res.SavingsBalance)
}

func TestBanking_OtherStudentUnauthorized(t *testing.T) {
	f := newFixture(t, 1000)
	other := db.CreateTestStudent(t, f.store, f.teacher.ID, "other", 1000, 0)

	_, err := f.engine.Deposit(f.ctx, f.studentCaller(), other.ID, 10)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestBuy_Success(t *testing.T) {
	f := newFixture(t, 10000)

	res, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), res.Cash)
	assert.Equal(t, int64(10), res.Quantity)
	assert.Equal(t, int64(100), res.AverageBuyPrice)
	assert.Equal(t, models.TradeBuy, res.Transaction.Type)
	assert.Equal(t, int64(1000), res.Transaction.Total())

	own, err := f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), own.Quantity)

	trades, err := f.store.ListTransactions(f.ctx, f.student.ID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(100), trades[0].Price)
}

func TestBuy_AverageCost(t *testing.T) {
	f := newFixture(t, 100000)

	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 10)
	require.NoError(t, err)
	f.setPrice(t, 200)
	res, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(20), res.Quantity)
	assert.Equal(t, int64(150), res.AverageBuyPrice)
	assert.Equal(t, int64(100000-1000-2000), f.reload(t).Cash)
}

func TestBuy_InsufficientFunds(t *testing.T) {
	f := newFixture(t, 999)

	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 10)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	assert.Equal(t, int64(999), f.reload(t).Cash)
	_, err = f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	trades, _ := f.store.ListTransactions(f.ctx, f.student.ID, 10)
	assert.Empty(t, trades)
}

func TestBuy_Validation(t *testing.T) {
	f := newFixture(t, 10000)

	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)

	_, err = f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, "no-such-stock", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, f.store.SetStockActive(f.ctx, f.stock.ID, false))
	_, err = f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBuy_OtherClassroomStock(t *testing.T) {
	f := newFixture(t, 10000)
	otherTeacher := db.CreateTestTeacher(t, f.store, "other-teacher", 0)
	foreign := db.CreateTestStock(t, f.store, otherTeacher.ID, "FRGN", 10)

	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, foreign.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, int64(10000), f.reload(t).Cash)
}

func TestSell_PartialKeepsCostBasis(t *testing.T) {
	f := newFixture(t, 10000)
	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 10)
	require.NoError(t, err)

	f.setPrice(t, 130)
	res, err := f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Quantity)
	assert.Equal(t, int64(100), res.AverageBuyPrice)
	assert.Equal(t, int64(9000+520), res.Cash)

	own, err := f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), own.Quantity)
	assert.Equal(t, int64(100), own.AverageBuyPrice)
}

func TestSell_FullDeletesRow(t *testing.T) {
	f := newFixture(t, 10000)
	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 5)
	require.NoError(t, err)

	res, err := f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Quantity)

	_, err = f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	holdings, err := f.store.ListHoldings(f.ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestSell_InsufficientShares(t *testing.T) {
	f := newFixture(t, 10000)

	_, err := f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrInsufficientShares)

	_, err = f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 3)
	require.NoError(t, err)
	_, err = f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 4)
	assert.ErrorIs(t, err, apperr.ErrInsufficientShares)

	own, err := f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), own.Quantity)
	assert.Equal(t, int64(9700), f.reload(t).Cash)
}

func TestSell_DelistedStockAllowed(t *testing.T) {
	f := newFixture(t, 10000)
	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.store.SetStockActive(f.ctx, f.stock.ID, false))

	_, err = f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 2)
	assert.NoError(t, err)
}

func TestBuySell_RoundTrip(t *testing.T) {
	f := newFixture(t, 10000)
	before := f.reload(t)

	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 7)
	require.NoError(t, err)
	_, err = f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 7)
	require.NoError(t, err)

	after := f.reload(t)
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.SavingsBalance, after.SavingsBalance)
	holdings, err := f.store.ListHoldings(f.ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestConcurrentBuying_SameStudentCannotOverspend(t *testing.T) {
	f := newFixture(t, 1000)

	// each buy costs 600; only one of the two fits in 1000
	results := make(chan error, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 6)
			results <- err
		}()
	}
	start.Done()

	var ok, insufficient int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(400), f.reload(t).Cash)
}

func TestConcurrentBuying_ManyTrades(t *testing.T) {
	f := newFixture(t, 10000)

	numTrades := 20
	var wg sync.WaitGroup
	for i := 0; i < numTrades; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10000-100*int64(numTrades)), f.reload(t).Cash)
	own, err := f.store.GetOwnership(f.ctx, f.student.ID, f.stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(numTrades), own.Quantity)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestConcurrentBuying_DifferentStudents(t *testing.T) {
	f := newFixture(t, 0)

	students := make([]models.Student, 5)
	for i := range students {
		students[i] = db.CreateTestStudent(t, f.store, f.teacher.ID, fmt.Sprintf("user%d", i), 10000, 0)
	}

	var wg sync.WaitGroup
	for _, s := range students {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(s models.Student) {
				defer wg.Done()
				caller := models.Caller{ID: s.ID, Role: models.RoleStudent, TeacherID: f.teacher.ID}
				_, err := f.engine.Buy(f.ctx, caller, s.ID, f.stock.ID, 1)
				assert.NoError(t, err)
			}(s)
		}
	}
	wg.Wait()

	for _, s := range students {
		got, err := f.store.GetStudent(f.ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9000), got.Cash, "student %s", s.Username)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 10000)
	_, err := f.engine.Buy(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 2)
	require.NoError(t, err)
	_, err = f.engine.Sell(f.ctx, f.studentCaller(), f.student.ID, f.stock.ID, 1)
	require.NoError(t, err)

	trades, err := f.engine.History(f.ctx, f.studentCaller(), f.student.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.TradeSell, trades[0].Type)

	teacherView, err := f.engine.History(f.ctx, f.teacherCaller(), f.student.ID, 1)
	require.NoError(t, err)
	assert.Len(t, teacherView, 1)

	stranger := models.Caller{ID: "someone", Role: models.RoleTeacher}
	_, err = f.engine.History(f.ctx, stranger, f.student.ID, 10)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
