package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	store   *db.Memory
	tokens  *auth.Tokens
	hub     *Hub
	teacher models.Teacher
	student models.Student
	stock   models.Stock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zerolog.Nop()
	store := db.NewMemory()
	hasher := auth.NewHasher(bcrypt.MinCost)
	tokens := auth.NewTokens("test-secret", time.Hour)
	hub := NewHub(log)
	engine := ledger.NewEngine(store, hasher, log, ledger.WithWorkers(2))
	trades := NewTradeProcessor(engine, 2, log)
	trades.Start()
	t.Cleanup(trades.Stop)

	h := New(Deps{
		Store:     store,
		Identity:  identity.NewService(store, hasher, log),
		Engine:    engine,
		Registry:  market.NewRegistry(store, hub, log),
		Portfolio: portfolio.NewService(store, nil, log),
		Reports:   report.NewXLSXGenerator(log),
		Tokens:    tokens,
		Trades:    trades,
		Hub:       hub,
		Log:       log,
	})
	router := gin.New()
	h.Register(router)

	teacher := db.CreateTestTeacher(t, store, "teacher", 5)
	return &testServer{
		t:       t,
		router:  router,
		store:   store,
		tokens:  tokens,
		hub:     hub,
		teacher: teacher,
		student: db.CreateTestStudent(t, store, teacher.ID, "student", 10000, 0),
		stock:   db.CreateTestStock(t, store, teacher.ID, "ACME", 100),
	}
}

func (s *testServer) token(caller models.Caller) string {
	s.t.Helper()
	raw, _, err := s.tokens.Issue(caller)
	require.NoError(s.t, err)
	return raw
}

func (s *testServer) studentToken() string {
	return s.token(models.Caller{ID: s.student.ID, Role: models.RoleStudent, TeacherID: s.teacher.ID})
}

func (s *testServer) teacherToken() string {
	return s.token(models.Caller{ID: s.teacher.ID, Role: models.RoleTeacher, TeacherID: s.teacher.ID})
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)

	// the fixture teacher already exists, so setup is refused
	w := s.do(http.MethodPost, "/api/setup", "", gin.H{"username": "root", "password": "pw"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/admin/teachers", "", gin.H{"username": "x", "password": "y"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := s.token(models.Caller{ID: s.teacher.ID, Role: models.RoleTeacher, TeacherID: s.teacher.ID, IsAdmin: true})
	w = s.do(http.MethodPost, "/api/admin/teachers", admin, gin.H{"username": "ms-lee", "password": "secret"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/login", "", gin.H{"role": "teacher", "username": "ms-lee", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "teacher", body["role"])

	caller, err := s.tokens.Parse(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, caller.Role)

	w = s.do(http.MethodPost, "/api/login", "", gin.H{"role": "teacher", "username": "ms-lee", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/login", "", gin.H{"username": "ms-lee"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetup_FreshInstall(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	store := db.NewMemory()
	hasher := auth.NewHasher(bcrypt.MinCost)
	h := New(Deps{
		Store:    store,
		Identity: identity.NewService(store, hasher, log),
		Tokens:   auth.NewTokens("k", time.Hour),
		Log:      log,
	})
	router := gin.New()
	h.Register(router)

	body, _ := json.Marshal(gin.H{"username": "admin", "password": "pw"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/setup", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, true, view["isAdmin"])
}

func TestRoleGuards(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/student/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/student/dashboard", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/student/dashboard", s.teacherToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/teacher/students", s.studentToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/admin/teachers", s.teacherToken(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStudentTrading(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken()

	w := s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": s.stock.ID, "type": "BUY", "quantity": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(9000), body["cash"])
	assert.Equal(t, float64(10), body["quantity"])

	w = s.do(http.MethodGet, "/api/student/dashboard", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(10000), body["totalAssets"])
	assert.Len(t, body["positions"], 1)

	w = s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": s.stock.ID, "type": "BUY", "quantity": 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InsufficientFunds", decode(t, w)["kind"])

	w = s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": s.stock.ID, "type": "SELL", "quantity": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InsufficientShares", decode(t, w)["kind"])

	w = s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": s.stock.ID, "type": "HOLD", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": "missing", "type": "BUY", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/student/market", tok, gin.H{"stockId": s.stock.ID, "type": "SELL", "quantity": 10})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/student/transactions", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/student/market", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Len(t, body["stocks"], 1)
	assert.Empty(t, body["positions"])
}

func TestStudentBanking(t *testing.T) {
	s := newTestServer(t)
	tok := s.studentToken()

	w := s.do(http.MethodPost, "/api/student/bank", tok, gin.H{"amount": 4000, "type": "DEPOSIT"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(6000), body["cash"])
	assert.Equal(t, float64(4000), body["savingsBalance"])
	assert.Equal(t, "5", body["interestRate"])

	w = s.do(http.MethodPost, "/api/student/bank", tok, gin.H{"amount": 5000, "type": "WITHDRAW"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/student/bank", tok, gin.H{"amount": 0, "type": "DEPOSIT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidAmount", decode(t, w)["kind"])

	w = s.do(http.MethodPost, "/api/student/bank", tok, gin.H{"amount": 10, "type": "TRANSFER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/student/bank", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4000), decode(t, w)["savingsBalance"])
}

func TestTeacherStudentManagement(t *testing.T) {
	s := newTestServer(t)
	tok := s.teacherToken()

	w := s.do(http.MethodPost, "/api/teacher/students", tok, gin.H{"name": "Amy", "username": "amy", "password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	amyID := decode(t, w)["id"].(string)

	w = s.do(http.MethodPost, "/api/teacher/students", tok, gin.H{"name": "Amy", "username": "amy", "password": "pw"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/teacher/students/batch", tok, gin.H{"students": []gin.H{
		{"name": "Bob", "username": "bob", "password": "pw"},
		{"name": "Dup", "username": "amy", "password": "pw"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["success"])
	assert.Equal(t, float64(1), body["failed"])

	w = s.do(http.MethodPut, "/api/teacher/students/"+amyID, tok, gin.H{"type": "ACCOUNT", "name": "Amelia"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Amelia", decode(t, w)["name"])

	w = s.do(http.MethodPut, "/api/teacher/students/"+amyID, tok, gin.H{
		"type": "ASSET", "cash": 50, "savings": 20,
		"portfolio": []gin.H{{"stockId": s.stock.ID, "quantity": 3}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, float64(50+20+300), body["totalAssets"])

	w = s.do(http.MethodPut, "/api/teacher/students/"+amyID, tok, gin.H{"type": "ASSET", "cash": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/teacher/students", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["students"], 3)

	w = s.do(http.MethodGet, "/api/teacher/students/"+amyID+"/transactions", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/api/teacher/students/"+amyID, tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodDelete, "/api/teacher/students/"+amyID, tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeacherStocks(t *testing.T) {
	s := newTestServer(t)
	tok := s.teacherToken()
	updates := s.hub.register(s.teacher.ID)
	defer s.hub.unregister(updates)

	w := s.do(http.MethodPost, "/api/teacher/stocks", tok, gin.H{"name": "Beta", "code": "beta", "price": 40})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "BETA", body["code"])
	betaID := body["id"].(string)

	w = s.do(http.MethodPost, "/api/teacher/stocks", tok, gin.H{"name": "Again", "code": "BETA", "price": 40})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPut, "/api/teacher/stocks", tok, gin.H{"stockId": betaID, "price": 55})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(55), decode(t, w)["currentPrice"])

	w = s.do(http.MethodPut, "/api/teacher/stocks/"+betaID+"/active", tok, gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["isActive"])

	w = s.do(http.MethodPut, "/api/teacher/stocks/"+betaID+"/active", tok, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/teacher/stocks", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["stocks"], 2)

	// create, price change, delist
	require.Len(t, updates.send, 3)
}

func TestTeacherBankAndRanking(t *testing.T) {
	s := newTestServer(t)
	tok := s.teacherToken()
	require.NoError(t, s.store.UpdateStudentBalances(t.Context(), s.student.ID, 0, 10000))
	db.CreateTestStudent(t, s.store, s.teacher.ID, "second", 500, 0)

	w := s.do(http.MethodPost, "/api/teacher/bank", tok, gin.H{"interestRate": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/teacher/bank", tok, gin.H{"interestRate": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/teacher/bank/interest", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["credited"])

	w = s.do(http.MethodGet, "/api/teacher/bank", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(11000), body["totalSavings"])
	assert.Equal(t, "10", body["interestRate"])

	w = s.do(http.MethodGet, "/api/teacher/ranking", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ranking := decode(t, w)["ranking"].([]any)
	require.Len(t, ranking, 2)
	assert.Equal(t, "student", ranking[0].(map[string]any)["username"])

	w = s.do(http.MethodGet, "/api/teacher/ranking.xlsx", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, report.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ranking-")
	assert.NotZero(t, w.Body.Len())
}

func TestAdminOverview(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(models.Caller{ID: s.teacher.ID, Role: models.RoleTeacher, TeacherID: s.teacher.ID, IsAdmin: true})

	w := s.do(http.MethodGet, "/api/admin/teachers", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	teachers := decode(t, w)["teachers"].([]any)
	require.Len(t, teachers, 1)
	assert.Equal(t, float64(1), teachers[0].(map[string]any)["studentCount"])

	w = s.do(http.MethodGet, fmt.Sprintf("/api/admin/teachers/%s", s.teacher.ID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode(t, w)["stats"].(map[string]any)
	assert.Equal(t, float64(10000), stats["totalAssets"])

	w = s.do(http.MethodGet, "/api/admin/teachers/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
