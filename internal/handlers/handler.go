// Package handlers exposes the classroom market over HTTP with gin and
// streams price changes over a websocket.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/auth"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/identity"
	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/atharvakonge/classroom-market/internal/market"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/atharvakonge/classroom-market/internal/report"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Deps are the services the HTTP layer dispatches to
type Deps struct {
	Store     db.Store
	Identity  *identity.Service
	Engine    *ledger.Engine
	Registry  *market.Registry
	Portfolio *portfolio.Service
	Reports   *report.XLSXGenerator
	Tokens    *auth.Tokens
	Trades    *TradeProcessor
	Hub       *Hub
	Log       zerolog.Logger
}

type Handler struct {
	store     db.Store
	identity  *identity.Service
	engine    *ledger.Engine
	registry  *market.Registry
	portfolio *portfolio.Service
	reports   *report.XLSXGenerator
	tokens    *auth.Tokens
	trades    *TradeProcessor
	hub       *Hub
	log       zerolog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		identity:  d.Identity,
		engine:    d.Engine,
		registry:  d.Registry,
		portfolio: d.Portfolio,
		reports:   d.Reports,
		tokens:    d.Tokens,
		trades:    d.Trades,
		hub:       d.Hub,
		log:       d.Log.With().Str("component", "http").Logger(),
	}
}

// Register mounts every route on router
func (h *Handler) Register(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/setup", h.Setup)
		api.POST("/login", h.Login)
	}

	student := api.Group("/student", h.authenticate, requireRole(models.RoleStudent))
	{
		student.GET("/dashboard", h.StudentDashboard)
		student.GET("/market", h.StudentMarket)
		student.POST("/market", h.Trade)
		student.GET("/bank", h.StudentBank)
		student.POST("/bank", h.Bank)
		student.GET("/transactions", h.TradeHistory)
	}

	teacher := api.Group("/teacher", h.authenticate, requireRole(models.RoleTeacher))
	{
		teacher.GET("/students", h.ListStudents)
		teacher.POST("/students", h.CreateStudent)
		teacher.POST("/students/batch", h.BatchCreateStudents)
		teacher.PUT("/students/:id", h.UpdateStudent)
		teacher.DELETE("/students/:id", h.DeleteStudent)
		teacher.GET("/students/:id/transactions", h.StudentTransactions)

		teacher.GET("/stocks", h.ListStocks)
		teacher.POST("/stocks", h.CreateStock)
		teacher.PUT("/stocks", h.UpdateStockPrice)
		teacher.PUT("/stocks/:id/active", h.SetStockActive)

		teacher.GET("/bank", h.TeacherBank)
		teacher.POST("/bank", h.SetInterestRate)
		teacher.POST("/bank/interest", h.PayInterest)

		teacher.GET("/ranking", h.Ranking)
		teacher.GET("/ranking.xlsx", h.RankingWorkbook)
	}

	admin := api.Group("/admin", h.authenticate, requireRole(models.RoleTeacher), requireAdmin)
	{
		admin.GET("/teachers", h.ListTeachers)
		admin.POST("/teachers", h.CreateTeacher)
		admin.GET("/teachers/:teacherId", h.TeacherOverview)
	}

	router.GET("/ws/prices", h.authenticate, h.PriceFeed)
	router.GET("/health", h.Health)
}

// Health reports whether the store answers
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// PriceFeed streams price updates of the caller's classroom
func (h *Handler) PriceFeed(c *gin.Context) {
	h.hub.Serve(c, callerFrom(c).TeacherID)
}

// Setup creates the administrator on a fresh install
func (h *Handler) Setup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	teacher, err := h.identity.Bootstrap(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTeacherView(teacher))
}

// Login exchanges credentials for a bearer token
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	caller, err := h.identity.Authenticate(c.Request.Context(), req.Role, req.Username, req.Password)
	if apperr.KindOf(err) == apperr.KindUnauthorized {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "kind": apperr.KindUnauthorized.String()})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		Role:      caller.Role,
		IsAdmin:   caller.IsAdmin,
	})
}
