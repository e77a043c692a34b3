// Package portfolio derives read-only views of student wealth: per-position
// valuation, classroom rankings and classroom totals. Nothing here writes.
package portfolio

import (
	"math"
	"sort"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position values one holding at the stock's current price
type Position struct {
	StockID         string
	StockName       string
	StockCode       string
	Quantity        int64
	AverageBuyPrice int64
	CurrentPrice    int64
	MarketValue     int64
	CostBasis       int64
	Profit          int64
	ProfitRate      decimal.Decimal // percent, 2 places
	Delisted        bool
}

// Summary is a student's total wealth
type Summary struct {
	Student     models.Student
	Positions   []Position
	Cash        int64
	Savings     int64
	StockValue  int64
	TotalAssets int64
	TotalProfit int64
}

// Valuate prices every holding and totals the student's assets. Delisted
// stocks keep counting at their last price.
func Valuate(student models.Student, holdings []models.Holding) Summary {
	sum := Summary{
		Student:   student,
		Positions: make([]Position, 0, len(holdings)),
		Cash:      student.Cash,
		Savings:   student.SavingsBalance,
	}

	for _, h := range holdings {
		p := Position{
			StockID:         h.StockID,
			StockName:       h.StockName,
			StockCode:       h.StockCode,
			Quantity:        h.Quantity,
			AverageBuyPrice: h.AverageBuyPrice,
			CurrentPrice:    h.CurrentPrice,
			MarketValue:     mulCapped(h.Quantity, h.CurrentPrice),
			CostBasis:       mulCapped(h.Quantity, h.AverageBuyPrice),
			Delisted:        !h.IsActive,
		}
		p.Profit = p.MarketValue - p.CostBasis
		p.ProfitRate = profitRate(p.Profit, p.CostBasis)

		sum.StockValue = addCapped(sum.StockValue, p.MarketValue)
		sum.TotalProfit = addCapped(sum.TotalProfit, p.Profit)
		sum.Positions = append(sum.Positions, p)
	}

	sum.TotalAssets = addCapped(addCapped(sum.Cash, sum.Savings), sum.StockValue)
	return sum
}

// mulCapped multiplies two non-negative amounts, saturating at MaxInt64
func mulCapped(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// addCapped adds two amounts, saturating at the int64 bounds
func addCapped(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

func profitRate(profit, cost int64) decimal.Decimal {
	if cost == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(profit).Mul(hundred).Div(decimal.NewFromInt(cost)).Round(2)
}

// Ranking is one row of a classroom leaderboard
type Ranking struct {
	Rank        int
	StudentID   string
	Username    string
	Name        string
	TotalAssets int64
	TotalProfit int64
}

// Rank orders students by total assets, highest first. Students with equal
// totals share a rank and the next rank skips accordingly (1, 1, 3).
func Rank(summaries []Summary) []Ranking {
	sorted := make([]Summary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalAssets != sorted[j].TotalAssets {
			return sorted[i].TotalAssets > sorted[j].TotalAssets
		}
		return sorted[i].Student.Username < sorted[j].Student.Username
	})

	out := make([]Ranking, len(sorted))
	for i, s := range sorted {
		rank := i + 1
		if i > 0 && s.TotalAssets == sorted[i-1].TotalAssets {
			rank = out[i-1].Rank
		}
		out[i] = Ranking{
			Rank:        rank,
			StudentID:   s.Student.ID,
			Username:    s.Student.Username,
			Name:        s.Student.Name,
			TotalAssets: s.TotalAssets,
			TotalProfit: s.TotalProfit,
		}
	}
	return out
}

// Stats are classroom-wide totals
type Stats struct {
	Students     int
	Stocks       int
	TotalCash    int64
	TotalSavings int64
	TotalStock   int64
	TotalAssets  int64
}

func ClassStats(summaries []Summary, stockCount int) Stats {
	st := Stats{Students: len(summaries), Stocks: stockCount}
	for _, s := range summaries {
		st.TotalCash += s.Cash
		st.TotalSavings += s.Savings
		st.TotalStock += s.StockValue
		st.TotalAssets += s.TotalAssets
	}
	return st
}
