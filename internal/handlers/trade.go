package handlers

import (
	"net/http"
	"strconv"

	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/gin-gonic/gin"
)

// StudentDashboard handles GET /api/student/dashboard
func (h *Handler) StudentDashboard(c *gin.Context) {
	caller := callerFrom(c)

	summary, err := h.portfolio.Student(c.Request.Context(), caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSummaryView(summary))
}

// StudentMarket handles GET /api/student/market
func (h *Handler) StudentMarket(c *gin.Context) {
	caller := callerFrom(c)
	ctx := c.Request.Context()

	stocks, err := h.registry.ListForStudent(ctx, caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.portfolio.Student(ctx, caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	view := toSummaryView(summary)
	c.JSON(http.StatusOK, gin.H{
		"stocks":    toStockViews(stocks),
		"cash":      summary.Cash,
		"positions": view.Positions,
	})
}

// Trade handles POST /api/student/market. Orders go through the trade
// processor's worker pool.
func (h *Handler) Trade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller := callerFrom(c)

	res, err := h.trades.SubmitTrade(c.Request.Context(), TradeOrder{
		Caller:    caller,
		StudentID: caller.ID,
		StockID:   req.StockID,
		Type:      req.Type,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeView(res))
}

// StudentBank handles GET /api/student/bank
func (h *Handler) StudentBank(c *gin.Context) {
	caller := callerFrom(c)
	ctx := c.Request.Context()

	summary, err := h.portfolio.Student(ctx, caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	teacher, err := h.identity.Teacher(ctx, caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bankView{
		Cash:           summary.Cash,
		SavingsBalance: summary.Savings,
		InterestRate:   teacher.InterestRate,
	})
}

// Bank handles POST /api/student/bank
func (h *Handler) Bank(c *gin.Context) {
	var req bankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller := callerFrom(c)
	ctx := c.Request.Context()

	var (
		r   ledger.BankResult
		err error
	)
	switch req.Type {
	case "DEPOSIT":
		r, err = h.engine.Deposit(ctx, caller, caller.ID, req.Amount)
	case "WITHDRAW":
		r, err = h.engine.Withdraw(ctx, caller, caller.ID, req.Amount)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be DEPOSIT or WITHDRAW"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	res := bankView{Cash: r.Cash, SavingsBalance: r.SavingsBalance}
	if teacher, err := h.identity.Teacher(ctx, caller); err == nil {
		res.InterestRate = teacher.InterestRate
	}
	c.JSON(http.StatusOK, res)
}

// TradeHistory handles GET /api/student/transactions
func (h *Handler) TradeHistory(c *gin.Context) {
	caller := callerFrom(c)
	h.writeHistory(c, caller.ID)
}

// StudentTransactions handles GET /api/teacher/students/:id/transactions
func (h *Handler) StudentTransactions(c *gin.Context) {
	h.writeHistory(c, c.Param("id"))
}

func (h *Handler) writeHistory(c *gin.Context, studentID string) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	trades, err := h.engine.History(c.Request.Context(), callerFrom(c), studentID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	views := make([]transactionView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTransactionView(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": views,
		"count":  len(views),
	})
}
