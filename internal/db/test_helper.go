package db

import (
	"context"
	"os"
	"testing"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SetupTestDB connects to the database named by TEST_DATABASE_URL and
// applies migrations. The test is skipped when the variable is unset.
func SetupTestDB(t testing.TB) *Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres test")
	}

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	store := NewPostgres(conn, zerolog.Nop())
	CleanupTestDB(t, store)
	t.Cleanup(func() {
		CleanupTestDB(t, store)
		conn.Close()
	})
	return store
}

// CleanupTestDB removes every row, children first
func CleanupTestDB(t testing.TB, p *Postgres) {
	t.Helper()
	tables := []string{"transactions", "stock_ownership", "stocks", "students", "teachers"}
	for _, table := range tables {
		if _, err := p.db.Exec("DELETE FROM " + table); err != nil {
			t.Logf("Warning: Failed to cleanup table %s: %v", table, err)
		}
	}
}

// CreateTestTeacher inserts a teacher with the given savings rate
func CreateTestTeacher(t testing.TB, q Queries, username string, rate int64) models.Teacher {
	t.Helper()
	teacher := models.Teacher{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: "x",
		InterestRate: decimal.NewFromInt(rate),
	}
	if err := q.CreateTeacher(context.Background(), &teacher); err != nil {
		t.Fatalf("Failed to create test teacher: %v", err)
	}
	return teacher
}

// CreateTestStudent inserts a student with the given cash and savings
func CreateTestStudent(t testing.TB, q Queries, teacherID, username string, cash, savings int64) models.Student {
	t.Helper()
	student := models.Student{
		ID:             uuid.NewString(),
		TeacherID:      teacherID,
		Username:       username,
		PasswordHash:   "x",
		Name:           username,
		Cash:           cash,
		SavingsBalance: savings,
	}
	if err := q.CreateStudent(context.Background(), &student); err != nil {
		t.Fatalf("Failed to create test student: %v", err)
	}
	return student
}

// CreateTestStock lists an active stock for the teacher
func CreateTestStock(t testing.TB, q Queries, teacherID, code string, price int64) models.Stock {
	t.Helper()
	stock := models.Stock{
		ID:           uuid.NewString(),
		TeacherID:    teacherID,
		Name:         code + " Corp",
		Code:         code,
		CurrentPrice: price,
		IsActive:     true,
	}
	if err := q.CreateStock(context.Background(), &stock); err != nil {
		t.Fatalf("Failed to create test stock: %v", err)
	}
	return stock
}
