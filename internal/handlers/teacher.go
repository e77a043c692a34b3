package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/atharvakonge/classroom-market/internal/identity"
	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/atharvakonge/classroom-market/internal/market"
	"github.com/atharvakonge/classroom-market/internal/report"
	"github.com/gin-gonic/gin"
)

// ListStudents handles GET /api/teacher/students
func (h *Handler) ListStudents(c *gin.Context) {
	summaries, err := h.identity.ListStudents(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": toSummaryViews(summaries)})
}

// CreateStudent handles POST /api/teacher/students
func (h *Handler) CreateStudent(c *gin.Context) {
	var req createStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	student, err := h.identity.CreateStudent(c.Request.Context(), callerFrom(c), identity.NewStudent{
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
		Cash:     req.Cash,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toStudentView(student))
}

// BatchCreateStudents handles POST /api/teacher/students/batch. Each entry
// succeeds or fails on its own.
func (h *Handler) BatchCreateStudents(c *gin.Context) {
	var req batchStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller := callerFrom(c)

	entries := make([]ledger.NewStudent, 0, len(req.Students))
	for _, s := range req.Students {
		entries = append(entries, ledger.NewStudent{Name: s.Name, Username: s.Username, Password: s.Password})
	}

	res, err := h.engine.BatchCreateStudents(c.Request.Context(), caller, caller.ID, entries)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBatchView(res))
}

// UpdateStudent handles PUT /api/teacher/students/:id
func (h *Handler) UpdateStudent(c *gin.Context) {
	var req updateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller := callerFrom(c)
	ctx := c.Request.Context()
	studentID := c.Param("id")

	switch req.Type {
	case "ACCOUNT":
		student, err := h.identity.UpdateStudentAccount(ctx, caller, studentID, req.Name, req.Password)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toStudentView(student))

	case "ASSET":
		if req.Cash == nil || req.Savings == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cash and savings are required"})
			return
		}
		entries := make([]ledger.PortfolioEntry, 0, len(req.Portfolio))
		for _, p := range req.Portfolio {
			entries = append(entries, ledger.PortfolioEntry{StockID: p.StockID, Quantity: p.Quantity})
		}
		res, err := h.engine.AdminOverrideAssets(ctx, caller, studentID, *req.Cash, *req.Savings, entries)
		if err != nil {
			h.respondError(c, err)
			return
		}
		summary, err := h.portfolio.Student(ctx, caller, res.StudentID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSummaryView(summary))

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be ACCOUNT or ASSET"})
	}
}

// DeleteStudent handles DELETE /api/teacher/students/:id
func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.engine.DeleteStudent(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListStocks handles GET /api/teacher/stocks
func (h *Handler) ListStocks(c *gin.Context) {
	caller := callerFrom(c)
	stocks, err := h.registry.ListForTeacher(c.Request.Context(), caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stocks": toStockViews(stocks)})
}

// CreateStock handles POST /api/teacher/stocks
func (h *Handler) CreateStock(c *gin.Context) {
	var req createStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	stock, err := h.registry.CreateStock(c.Request.Context(), callerFrom(c), market.NewStock{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toStockView(stock))
}

// UpdateStockPrice handles PUT /api/teacher/stocks
func (h *Handler) UpdateStockPrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	stock, err := h.registry.UpdatePrice(c.Request.Context(), callerFrom(c), req.StockID, req.Price)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStockView(stock))
}

// SetStockActive handles PUT /api/teacher/stocks/:id/active
func (h *Handler) SetStockActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	stock, err := h.registry.SetActive(c.Request.Context(), callerFrom(c), c.Param("id"), *req.Active)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStockView(stock))
}

// TeacherBank handles GET /api/teacher/bank
func (h *Handler) TeacherBank(c *gin.Context) {
	caller := callerFrom(c)
	ctx := c.Request.Context()

	teacher, err := h.identity.Teacher(ctx, caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summaries, err := h.identity.ListStudents(ctx, caller)
	if err != nil {
		h.respondError(c, err)
		return
	}

	accounts := make([]gin.H, 0, len(summaries))
	var totalSavings int64
	for _, s := range summaries {
		totalSavings += s.Savings
		accounts = append(accounts, gin.H{
			"studentId":      s.Student.ID,
			"username":       s.Student.Username,
			"name":           s.Student.Name,
			"cash":           s.Cash,
			"savingsBalance": s.Savings,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"interestRate": teacher.InterestRate,
		"totalSavings": totalSavings,
		"accounts":     accounts,
	})
}

// SetInterestRate handles POST /api/teacher/bank
func (h *Handler) SetInterestRate(c *gin.Context) {
	var req interestRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.identity.SetInterestRate(c.Request.Context(), callerFrom(c), req.InterestRate); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interestRate": req.InterestRate})
}

// PayInterest handles POST /api/teacher/bank/interest
func (h *Handler) PayInterest(c *gin.Context) {
	caller := callerFrom(c)
	res, err := h.engine.AccrueInterest(c.Request.Context(), caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInterestView(res))
}

// Ranking handles GET /api/teacher/ranking
func (h *Handler) Ranking(c *gin.Context) {
	caller := callerFrom(c)
	rankings, err := h.portfolio.Ranking(c.Request.Context(), caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": toRankingViews(rankings)})
}

// RankingWorkbook handles GET /api/teacher/ranking.xlsx
func (h *Handler) RankingWorkbook(c *gin.Context) {
	caller := callerFrom(c)
	summaries, err := h.portfolio.Classroom(c.Request.Context(), caller, caller.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	data, err := h.reports.Ranking(summaries)
	if errors.Is(err, report.ErrEmptyClassroom) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("ranking-%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, report.ContentType, data)
}
