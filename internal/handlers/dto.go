package handlers

import (
	"time"

	"github.com/atharvakonge/classroom-market/internal/identity"
	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/shopspring/decimal"
)

// requests

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Role     models.Role `json:"role" binding:"required"`
	Username string      `json:"username" binding:"required"`
	Password string      `json:"password" binding:"required"`
}

type tradeRequest struct {
	StockID  string           `json:"stockId" binding:"required"`
	Type     models.TradeType `json:"type" binding:"required"`
	Quantity int64            `json:"quantity"`
}

type bankRequest struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type" binding:"required"` // DEPOSIT | WITHDRAW
}

type createStudentRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Cash     *int64 `json:"cash"`
}

type batchStudentsRequest struct {
	Students []createStudentRequest `json:"students"`
}

type portfolioEntryRequest struct {
	StockID  string `json:"stockId"`
	Quantity int64  `json:"quantity"`
}

// updateStudentRequest carries either an ACCOUNT edit (name, password) or
// an ASSET override (cash, savings, portfolio)
type updateStudentRequest struct {
	Type      string                  `json:"type" binding:"required"`
	Name      string                  `json:"name"`
	Password  string                  `json:"password"`
	Cash      *int64                  `json:"cash"`
	Savings   *int64                  `json:"savings"`
	Portfolio []portfolioEntryRequest `json:"portfolio"`
}

type createStockRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

type updatePriceRequest struct {
	StockID string `json:"stockId" binding:"required"`
	Price   int64  `json:"price"`
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type interestRateRequest struct {
	InterestRate decimal.Decimal `json:"interestRate"`
}

// responses

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt int64       `json:"expiresAt"`
	Role      models.Role `json:"role"`
	IsAdmin   bool        `json:"isAdmin"`
}

type teacherView struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	InterestRate decimal.Decimal `json:"interestRate"`
	IsAdmin      bool            `json:"isAdmin"`
	StudentCount *int            `json:"studentCount,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func toTeacherView(t models.Teacher) teacherView {
	return teacherView{
		ID:           t.ID,
		Username:     t.Username,
		InterestRate: t.InterestRate,
		IsAdmin:      t.IsAdmin,
		CreatedAt:    t.CreatedAt,
	}
}

func toTeacherSummaryView(t models.TeacherSummary) teacherView {
	v := toTeacherView(t.Teacher)
	count := t.StudentCount
	v.StudentCount = &count
	return v
}

type studentView struct {
	ID             string    `json:"id"`
	TeacherID      string    `json:"teacherId"`
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Cash           int64     `json:"cash"`
	SavingsBalance int64     `json:"savingsBalance"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toStudentView(s models.Student) studentView {
	return studentView{
		ID:             s.ID,
		TeacherID:      s.TeacherID,
		Username:       s.Username,
		Name:           s.Name,
		Cash:           s.Cash,
		SavingsBalance: s.SavingsBalance,
		CreatedAt:      s.CreatedAt,
	}
}

type stockView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	Description  string    `json:"description"`
	CurrentPrice int64     `json:"currentPrice"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toStockView(s models.Stock) stockView {
	return stockView{
		ID:           s.ID,
		Name:         s.Name,
		Code:         s.Code,
		Description:  s.Description,
		CurrentPrice: s.CurrentPrice,
		IsActive:     s.IsActive,
		CreatedAt:    s.CreatedAt,
	}
}

func toStockViews(stocks []models.Stock) []stockView {
	out := make([]stockView, 0, len(stocks))
	for _, s := range stocks {
		out = append(out, toStockView(s))
	}
	return out
}

type positionView struct {
	StockID         string          `json:"stockId"`
	StockName       string          `json:"stockName"`
	StockCode       string          `json:"stockCode"`
	Quantity        int64           `json:"quantity"`
	AverageBuyPrice int64           `json:"averageBuyPrice"`
	CurrentPrice    int64           `json:"currentPrice"`
	MarketValue     int64           `json:"marketValue"`
	Profit          int64           `json:"profit"`
	ProfitRate      decimal.Decimal `json:"profitRate"`
	Delisted        bool            `json:"delisted"`
}

type summaryView struct {
	Student     studentView    `json:"student"`
	Positions   []positionView `json:"positions"`
	StockValue  int64          `json:"stockValue"`
	TotalAssets int64          `json:"totalAssets"`
	TotalProfit int64          `json:"totalProfit"`
}

func toSummaryView(s portfolio.Summary) summaryView {
	v := summaryView{
		Student:     toStudentView(s.Student),
		Positions:   make([]positionView, 0, len(s.Positions)),
		StockValue:  s.StockValue,
		TotalAssets: s.TotalAssets,
		TotalProfit: s.TotalProfit,
	}
	for _, p := range s.Positions {
		v.Positions = append(v.Positions, positionView{
			StockID:         p.StockID,
			StockName:       p.StockName,
			StockCode:       p.StockCode,
			Quantity:        p.Quantity,
			AverageBuyPrice: p.AverageBuyPrice,
			CurrentPrice:    p.CurrentPrice,
			MarketValue:     p.MarketValue,
			Profit:          p.Profit,
			ProfitRate:      p.ProfitRate,
			Delisted:        p.Delisted,
		})
	}
	return v
}

func toSummaryViews(summaries []portfolio.Summary) []summaryView {
	out := make([]summaryView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toSummaryView(s))
	}
	return out
}

type transactionView struct {
	ID        string           `json:"id"`
	StockID   string           `json:"stockId"`
	Type      models.TradeType `json:"type"`
	Price     int64            `json:"price"`
	Quantity  int64            `json:"quantity"`
	Total     int64            `json:"total"`
	CreatedAt time.Time        `json:"createdAt"`
}

func toTransactionView(t models.Transaction) transactionView {
	return transactionView{
		ID:        t.ID,
		StockID:   t.StockID,
		Type:      t.Type,
		Price:     t.Price,
		Quantity:  t.Quantity,
		Total:     t.Total(),
		CreatedAt: t.CreatedAt,
	}
}

type tradeView struct {
	Transaction     transactionView `json:"transaction"`
	Cash            int64           `json:"cash"`
	Quantity        int64           `json:"quantity"`
	AverageBuyPrice int64           `json:"averageBuyPrice"`
}

func toTradeView(r ledger.TradeResult) tradeView {
	return tradeView{
		Transaction:     toTransactionView(r.Transaction),
		Cash:            r.Cash,
		Quantity:        r.Quantity,
		AverageBuyPrice: r.AverageBuyPrice,
	}
}

type bankView struct {
	Cash           int64           `json:"cash"`
	SavingsBalance int64           `json:"savingsBalance"`
	InterestRate   decimal.Decimal `json:"interestRate"`
}

type rankingView struct {
	Rank        int    `json:"rank"`
	StudentID   string `json:"studentId"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	TotalAssets int64  `json:"totalAssets"`
	TotalProfit int64  `json:"totalProfit"`
}

func toRankingViews(rankings []portfolio.Ranking) []rankingView {
	out := make([]rankingView, 0, len(rankings))
	for _, r := range rankings {
		out = append(out, rankingView{
			Rank:        r.Rank,
			StudentID:   r.StudentID,
			Username:    r.Username,
			Name:        r.Name,
			TotalAssets: r.TotalAssets,
			TotalProfit: r.TotalProfit,
		})
	}
	return out
}

type batchFailureView struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

type batchView struct {
	Success  int                `json:"success"`
	Failed   int                `json:"failed"`
	Created  []studentView      `json:"created"`
	Failures []batchFailureView `json:"failures"`
}

func toBatchView(r ledger.BatchResult) batchView {
	v := batchView{
		Success:  r.Success,
		Failed:   r.Failed,
		Created:  make([]studentView, 0, len(r.Created)),
		Failures: make([]batchFailureView, 0, len(r.Failures)),
	}
	for _, s := range r.Created {
		v.Created = append(v.Created, toStudentView(s))
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, batchFailureView{
			Index:    f.Index,
			Name:     f.Name,
			Username: f.Username,
			Kind:     f.Kind.String(),
			Reason:   f.Reason,
		})
	}
	return v
}

type itemFailureView struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

type interestView struct {
	Credited     int               `json:"credited"`
	InterestRate decimal.Decimal   `json:"interestRate"`
	Failures     []itemFailureView `json:"failures"`
}

func toInterestView(r ledger.InterestResult) interestView {
	v := interestView{
		Credited:     r.Credited,
		InterestRate: r.Rate,
		Failures:     make([]itemFailureView, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, itemFailureView{StudentID: f.StudentID, Reason: f.Reason})
	}
	return v
}

type statsView struct {
	Students     int   `json:"students"`
	Stocks       int   `json:"stocks"`
	TotalCash    int64 `json:"totalCash"`
	TotalSavings int64 `json:"totalSavings"`
	TotalStock   int64 `json:"totalStock"`
	TotalAssets  int64 `json:"totalAssets"`
}

type overviewView struct {
	Teacher  teacherView   `json:"teacher"`
	Students []summaryView `json:"students"`
	Stocks   []stockView   `json:"stocks"`
	Stats    statsView     `json:"stats"`
}

func toOverviewView(o identity.Overview) overviewView {
	return overviewView{
		Teacher:  toTeacherView(o.Teacher),
		Students: toSummaryViews(o.Students),
		Stocks:   toStockViews(o.Stocks),
		Stats: statsView{
			Students:     o.Stats.Students,
			Stocks:       o.Stats.Stocks,
			TotalCash:    o.Stats.TotalCash,
			TotalSavings: o.Stats.TotalSavings,
			TotalStock:   o.Stats.TotalStock,
			TotalAssets:  o.Stats.TotalAssets,
		},
	}
}
