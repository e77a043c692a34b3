package db

import (
	"context"
	"errors"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrReference is returned when a write points at a missing parent row
	ErrReference = errors.New("referenced record does not exist")
	// ErrConstraint is returned when a write would break a CHECK invariant
	ErrConstraint = errors.New("constraint violated")
	// ErrReadOnly is returned when a write is attempted inside WithinSnapshot
	ErrReadOnly = errors.New("write inside read-only snapshot")
)

// Queries is the full set of reads and writes on the classroom tables.
// Called with a context produced by Store.WithinTransaction, every method
// joins that transaction.
type Queries interface {
	CountTeachers(ctx context.Context) (int, error)
	CreateTeacher(ctx context.Context, t *models.Teacher) error
	GetTeacher(ctx context.Context, id string) (models.Teacher, error)
	GetTeacherByUsername(ctx context.Context, username string) (models.Teacher, error)
	ListTeachers(ctx context.Context) ([]models.TeacherSummary, error)
	UpdateInterestRate(ctx context.Context, teacherID string, rate decimal.Decimal) error

	CreateStudent(ctx context.Context, s *models.Student) error
	GetStudent(ctx context.Context, id string) (models.Student, error)
	// LockStudent reads the student and holds its row until the surrounding
	// transaction ends
	LockStudent(ctx context.Context, id string) (models.Student, error)
	GetStudentByUsername(ctx context.Context, username string) (models.Student, error)
	ListStudents(ctx context.Context, teacherID string) ([]models.Student, error)
	UpdateStudentBalances(ctx context.Context, id string, cash, savings int64) error
	// UpdateStudentAccount renames the student; an empty passwordHash keeps the old one
	UpdateStudentAccount(ctx context.Context, id, name, passwordHash string) error
	DeleteStudent(ctx context.Context, id string) error

	CreateStock(ctx context.Context, s *models.Stock) error
	GetStock(ctx context.Context, id string) (models.Stock, error)
	ListStocks(ctx context.Context, teacherID string, activeOnly bool) ([]models.Stock, error)
	UpdateStockPrice(ctx context.Context, id string, price int64) error
	SetStockActive(ctx context.Context, id string, active bool) error

	GetOwnership(ctx context.Context, studentID, stockID string) (models.Ownership, error)
	// UpsertOwnership writes quantity and average price for the (student, stock) pair
	UpsertOwnership(ctx context.Context, o *models.Ownership) error
	DeleteOwnership(ctx context.Context, studentID, stockID string) error
	DeleteOwnershipsByStudent(ctx context.Context, studentID string) error
	ListHoldings(ctx context.Context, studentID string) ([]models.Holding, error)

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	ListTransactions(ctx context.Context, studentID string, limit int) ([]models.Transaction, error)
	DeleteTransactionsByStudent(ctx context.Context, studentID string) error
}

// Store is a Queries backed by a persistent (or in-memory) database
type Store interface {
	Queries

	// WithinTransaction runs fn in one transaction. It commits when fn
	// returns nil and rolls back otherwise.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// WithinSnapshot runs read-only fn against one consistent view of the
	// data. Inside a transaction it joins that transaction.
	WithinSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
	Close() error
}
