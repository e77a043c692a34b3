package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// querier is what sqlx.DB and sqlx.Tx have in common
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type txKey struct{}

// Postgres is the Store backed by PostgreSQL
type Postgres struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func NewPostgres(conn *sqlx.DB, log zerolog.Logger) *Postgres {
	return &Postgres{db: conn, log: log}
}

// WithinTransaction runs fn inside a transaction carried by the context.
// Nested calls join the outer transaction.
func (p *Postgres) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.inTx(ctx, nil, fn)
}

var snapshotOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// WithinSnapshot runs fn in a read-only REPEATABLE READ transaction so every
// query sees the same committed state
func (p *Postgres) WithinSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.inTx(ctx, snapshotOpts, fn)
}

func (p *Postgres) inTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				p.log.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return p.db
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// translate maps driver errors onto the package sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrReference, pqErr.Constraint)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Constraint)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return ErrNotFound
		}
	}
	return err
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// teachers

func (p *Postgres) CountTeachers(ctx context.Context) (int, error) {
	var n int
	err := p.q(ctx).GetContext(ctx, &n, `SELECT COUNT(*) FROM teachers`)
	return n, translate(err)
}

func (p *Postgres) CreateTeacher(ctx context.Context, t *models.Teacher) error {
	err := p.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO teachers (id, username, password_hash, interest_rate, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, t.ID, t.Username, t.PasswordHash, t.InterestRate, t.IsAdmin).Scan(&t.CreatedAt)
	return translate(err)
}

const teacherColumns = `id, username, password_hash, interest_rate, is_admin, created_at`

func (p *Postgres) GetTeacher(ctx context.Context, id string) (models.Teacher, error) {
	var t models.Teacher
	err := p.q(ctx).GetContext(ctx, &t, `SELECT `+teacherColumns+` FROM teachers WHERE id = $1`, id)
	return t, translate(err)
}

func (p *Postgres) GetTeacherByUsername(ctx context.Context, username string) (models.Teacher, error) {
	var t models.Teacher
	err := p.q(ctx).GetContext(ctx, &t, `SELECT `+teacherColumns+` FROM teachers WHERE username = $1`, username)
	return t, translate(err)
}

func (p *Postgres) ListTeachers(ctx context.Context) ([]models.TeacherSummary, error) {
	teachers := make([]models.TeacherSummary, 0)
	err := p.q(ctx).SelectContext(ctx, &teachers, `
		SELECT t.id, t.username, t.password_hash, t.interest_rate, t.is_admin, t.created_at,
		       (SELECT COUNT(*) FROM students s WHERE s.teacher_id = t.id) AS student_count
		FROM teachers t
		ORDER BY t.created_at, t.username
	`)
	return teachers, translate(err)
}

func (p *Postgres) UpdateInterestRate(ctx context.Context, teacherID string, rate decimal.Decimal) error {
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`UPDATE teachers SET interest_rate = $1 WHERE id = $2`, rate, teacherID))
}

// students

const studentColumns = `id, teacher_id, username, password_hash, name, cash, savings_balance, created_at`

func (p *Postgres) CreateStudent(ctx context.Context, s *models.Student) error {
	err := p.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO students (id, teacher_id, username, password_hash, name, cash, savings_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, s.ID, s.TeacherID, s.Username, s.PasswordHash, s.Name, s.Cash, s.SavingsBalance).Scan(&s.CreatedAt)
	return translate(err)
}

func (p *Postgres) GetStudent(ctx context.Context, id string) (models.Student, error) {
	var s models.Student
	err := p.q(ctx).GetContext(ctx, &s, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	return s, translate(err)
}

func (p *Postgres) LockStudent(ctx context.Context, id string) (models.Student, error) {
	var s models.Student
	err := p.q(ctx).GetContext(ctx, &s, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id)
	return s, translate(err)
}

func (p *Postgres) GetStudentByUsername(ctx context.Context, username string) (models.Student, error) {
	var s models.Student
	err := p.q(ctx).GetContext(ctx, &s, `SELECT `+studentColumns+` FROM students WHERE username = $1`, username)
	return s, translate(err)
}

func (p *Postgres) ListStudents(ctx context.Context, teacherID string) ([]models.Student, error) {
	students := make([]models.Student, 0)
	err := p.q(ctx).SelectContext(ctx, &students,
		`SELECT `+studentColumns+` FROM students WHERE teacher_id = $1 ORDER BY username`, teacherID)
	return students, translate(err)
}

func (p *Postgres) UpdateStudentBalances(ctx context.Context, id string, cash, savings int64) error {
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`UPDATE students SET cash = $1, savings_balance = $2 WHERE id = $3`, cash, savings, id))
}

func (p *Postgres) UpdateStudentAccount(ctx context.Context, id, name, passwordHash string) error {
	if passwordHash == "" {
		return mustAffect(p.q(ctx).ExecContext(ctx,
			`UPDATE students SET name = $1 WHERE id = $2`, name, id))
	}
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`UPDATE students SET name = $1, password_hash = $2 WHERE id = $3`, name, passwordHash, id))
}

func (p *Postgres) DeleteStudent(ctx context.Context, id string) error {
	return mustAffect(p.q(ctx).ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id))
}

// stocks

const stockColumns = `id, teacher_id, name, code, description, current_price, is_active, created_at`

func (p *Postgres) CreateStock(ctx context.Context, s *models.Stock) error {
	err := p.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO stocks (id, teacher_id, name, code, description, current_price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, s.ID, s.TeacherID, s.Name, s.Code, s.Description, s.CurrentPrice, s.IsActive).Scan(&s.CreatedAt)
	return translate(err)
}

func (p *Postgres) GetStock(ctx context.Context, id string) (models.Stock, error) {
	var s models.Stock
	err := p.q(ctx).GetContext(ctx, &s, `SELECT `+stockColumns+` FROM stocks WHERE id = $1`, id)
	return s, translate(err)
}

func (p *Postgres) ListStocks(ctx context.Context, teacherID string, activeOnly bool) ([]models.Stock, error) {
	stocks := make([]models.Stock, 0)
	query := `SELECT ` + stockColumns + ` FROM stocks WHERE teacher_id = $1 ORDER BY name, code`
	if activeOnly {
		query = `SELECT ` + stockColumns + ` FROM stocks WHERE teacher_id = $1 AND is_active ORDER BY code`
	}
	err := p.q(ctx).SelectContext(ctx, &stocks, query, teacherID)
	return stocks, translate(err)
}

func (p *Postgres) UpdateStockPrice(ctx context.Context, id string, price int64) error {
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`UPDATE stocks SET current_price = $1 WHERE id = $2`, price, id))
}

func (p *Postgres) SetStockActive(ctx context.Context, id string, active bool) error {
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`UPDATE stocks SET is_active = $1 WHERE id = $2`, active, id))
}

// ownership

func (p *Postgres) GetOwnership(ctx context.Context, studentID, stockID string) (models.Ownership, error) {
	var o models.Ownership
	err := p.q(ctx).GetContext(ctx, &o, `
		SELECT id, student_id, stock_id, quantity, average_buy_price, updated_at
		FROM stock_ownership
		WHERE student_id = $1 AND stock_id = $2
	`, studentID, stockID)
	return o, translate(err)
}

func (p *Postgres) UpsertOwnership(ctx context.Context, o *models.Ownership) error {
	err := p.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO stock_ownership (id, student_id, stock_id, quantity, average_buy_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, stock_id)
		DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_buy_price = EXCLUDED.average_buy_price,
			updated_at = NOW()
		RETURNING id, updated_at
	`, o.ID, o.StudentID, o.StockID, o.Quantity, o.AverageBuyPrice).Scan(&o.ID, &o.UpdatedAt)
	return translate(err)
}

func (p *Postgres) DeleteOwnership(ctx context.Context, studentID, stockID string) error {
	return mustAffect(p.q(ctx).ExecContext(ctx,
		`DELETE FROM stock_ownership WHERE student_id = $1 AND stock_id = $2`, studentID, stockID))
}

func (p *Postgres) DeleteOwnershipsByStudent(ctx context.Context, studentID string) error {
	_, err := p.q(ctx).ExecContext(ctx, `DELETE FROM stock_ownership WHERE student_id = $1`, studentID)
	return translate(err)
}

func (p *Postgres) ListHoldings(ctx context.Context, studentID string) ([]models.Holding, error) {
	holdings := make([]models.Holding, 0)
	err := p.q(ctx).SelectContext(ctx, &holdings, `
		SELECT so.id, so.student_id, so.stock_id, so.quantity, so.average_buy_price, so.updated_at,
		       s.name AS stock_name, s.code AS stock_code, s.current_price, s.is_active
		FROM stock_ownership so
		JOIN stocks s ON s.id = so.stock_id
		WHERE so.student_id = $1
		ORDER BY s.code
	`, studentID)
	return holdings, translate(err)
}

// transactions

func (p *Postgres) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	err := p.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO transactions (id, student_id, stock_id, type, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, t.ID, t.StudentID, t.StockID, string(t.Type), t.Price, t.Quantity).Scan(&t.CreatedAt)
	return translate(err)
}

func (p *Postgres) ListTransactions(ctx context.Context, studentID string, limit int) ([]models.Transaction, error) {
	trades := make([]models.Transaction, 0)
	err := p.q(ctx).SelectContext(ctx, &trades, `
		SELECT id, student_id, stock_id, type, price, quantity, created_at
		FROM transactions
		WHERE student_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, studentID, limit)
	return trades, translate(err)
}

func (p *Postgres) DeleteTransactionsByStudent(ctx context.Context, studentID string) error {
	_, err := p.q(ctx).ExecContext(ctx, `DELETE FROM transactions WHERE student_id = $1`, studentID)
	return translate(err)
}
