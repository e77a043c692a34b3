package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStartingCash is the cash a new student receives when none is given
const DefaultStartingCash int64 = 10000

// DefaultInterestRate is the savings rate (percent) for newly created teachers
var DefaultInterestRate = decimal.NewFromInt(5)

// Teacher manages a classroom: its students, stocks and savings rate
type Teacher struct {
	ID           string          `db:"id"`
	Username     string          `db:"username"`
	PasswordHash string          `db:"password_hash"`
	InterestRate decimal.Decimal `db:"interest_rate"` // percent
	IsAdmin      bool            `db:"is_admin"`
	CreatedAt    time.Time       `db:"created_at"`
}

// TeacherSummary is a teacher row plus the size of its classroom
type TeacherSummary struct {
	Teacher
	StudentCount int `db:"student_count"`
}

// Student holds play money; Cash and SavingsBalance never go below zero
type Student struct {
	ID             string    `db:"id"`
	TeacherID      string    `db:"teacher_id"`
	Username       string    `db:"username"`
	PasswordHash   string    `db:"password_hash"`
	Name           string    `db:"name"`
	Cash           int64     `db:"cash"`
	SavingsBalance int64     `db:"savings_balance"`
	CreatedAt      time.Time `db:"created_at"`
}

// Stock is a simulated instrument listed by one teacher
type Stock struct {
	ID           string    `db:"id"`
	TeacherID    string    `db:"teacher_id"`
	Name         string    `db:"name"`
	Code         string    `db:"code"`
	Description  string    `db:"description"`
	CurrentPrice int64     `db:"current_price"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// Ownership is a student's position in one stock. A row only exists while
// Quantity >= 1.
type Ownership struct {
	ID              string    `db:"id"`
	StudentID       string    `db:"student_id"`
	StockID         string    `db:"stock_id"`
	Quantity        int64     `db:"quantity"`
	AverageBuyPrice int64     `db:"average_buy_price"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Holding is an ownership row joined with the stock it refers to
type Holding struct {
	Ownership
	StockName    string `db:"stock_name"`
	StockCode    string `db:"stock_code"`
	CurrentPrice int64  `db:"current_price"`
	IsActive     bool   `db:"is_active"`
}

// TradeType is BUY or SELL
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Transaction is an immutable trade record
type Transaction struct {
	ID        string    `db:"id"`
	StudentID string    `db:"student_id"`
	StockID   string    `db:"stock_id"`
	Type      TradeType `db:"type"`
	Price     int64     `db:"price"`
	Quantity  int64     `db:"quantity"`
	CreatedAt time.Time `db:"created_at"`
}

// Total is the cash value moved by the trade
func (t Transaction) Total() int64 {
	return t.Price * t.Quantity
}
