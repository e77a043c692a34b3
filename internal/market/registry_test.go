package market

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	stocks []models.Stock
}

func (n *recordingNotifier) PublishPrice(stock models.Stock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stocks = append(n.stocks, stock)
}

type registryFixture struct {
	ctx      context.Context
	store    *db.Memory
	registry *Registry
	notifier *recordingNotifier
	teacher  models.Caller
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	store := db.NewMemory()
	teacher := db.CreateTestTeacher(t, store, "teacher", 5)
	notifier := &recordingNotifier{}
	return &registryFixture{
		ctx:      context.Background(),
		store:    store,
		registry: NewRegistry(store, notifier, zerolog.Nop()),
		notifier: notifier,
		teacher:  models.Caller{ID: teacher.ID, Role: models.RoleTeacher, TeacherID: teacher.ID},
	}
}

func TestCreateStock(t *testing.T) {
	f := newRegistryFixture(t)

	stock, err := f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: " Acme ", Code: "acme", Price: 120})
	require.NoError(t, err)
	assert.Equal(t, "Acme", stock.Name)
	assert.Equal(t, "ACME", stock.Code)
	assert.True(t, stock.IsActive)
	assert.Equal(t, f.teacher.ID, stock.TeacherID)
	assert.Len(t, f.notifier.stocks, 1)

	_, err = f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "Other", Code: "ACME", Price: 5})
	assert.ErrorIs(t, err, apperr.ErrDuplicateCode)
}

func TestCreateStock_GeneratedCode(t *testing.T) {
	f := newRegistryFixture(t)

	stock, err := f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "Generated", Price: 10})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^S-[0-9A-Z]{4}$`), stock.Code)
}

func TestCreateStock_RetriesCollisions(t *testing.T) {
	f := newRegistryFixture(t)
	db.CreateTestStock(t, f.store, f.teacher.ID, "S-AAAA", 10)

	codes := []string{"S-AAAA", "S-AAAA", "S-BBBB"}
	f.registry.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	stock, err := f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "Retry", Price: 10})
	require.NoError(t, err)
	assert.Equal(t, "S-BBBB", stock.Code)
}

func TestCreateStock_GivesUpAfterAttempts(t *testing.T) {
	f := newRegistryFixture(t)
	db.CreateTestStock(t, f.store, f.teacher.ID, "S-AAAA", 10)
	calls := 0
	f.registry.newCode = func() string {
		calls++
		return "S-AAAA"
	}

	_, err := f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "Stuck", Price: 10})
	assert.ErrorIs(t, err, apperr.ErrDuplicateCode)
	assert.Equal(t, codeAttempts, calls)
}

func TestCreateStock_Validation(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "", Price: 10})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.registry.CreateStock(f.ctx, f.teacher, NewStock{Name: "Free", Price: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	student := models.Caller{ID: "s", Role: models.RoleStudent, TeacherID: f.teacher.ID}
	_, err = f.registry.CreateStock(f.ctx, student, NewStock{Name: "Nope", Price: 10})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdatePrice(t *testing.T) {
	f := newRegistryFixture(t)
	stock := db.CreateTestStock(t, f.store, f.teacher.ID, "ACME", 100)

	updated, err := f.registry.UpdatePrice(f.ctx, f.teacher, stock.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), updated.CurrentPrice)

	got, err := f.store.GetStock(f.ctx, stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.CurrentPrice)
	require.Len(t, f.notifier.stocks, 1)
	assert.Equal(t, int64(250), f.notifier.stocks[0].CurrentPrice)

	_, err = f.registry.UpdatePrice(f.ctx, f.teacher, stock.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = f.registry.UpdatePrice(f.ctx, f.teacher, "missing", 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	other := db.CreateTestTeacher(t, f.store, "other", 0)
	otherCaller := models.Caller{ID: other.ID, Role: models.RoleTeacher, TeacherID: other.ID}
	_, err = f.registry.UpdatePrice(f.ctx, otherCaller, stock.ID, 10)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSetActiveAndListings(t *testing.T) {
	f := newRegistryFixture(t)
	a := db.CreateTestStock(t, f.store, f.teacher.ID, "BBB", 100)
	db.CreateTestStock(t, f.store, f.teacher.ID, "AAA", 100)
	student := db.CreateTestStudent(t, f.store, f.teacher.ID, "kid", 100, 0)
	studentCaller := models.Caller{ID: student.ID, Role: models.RoleStudent, TeacherID: f.teacher.ID}

	delisted, err := f.registry.SetActive(f.ctx, f.teacher, a.ID, false)
	require.NoError(t, err)
	assert.False(t, delisted.IsActive)

	all, err := f.registry.ListForTeacher(f.ctx, f.teacher, f.teacher.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	visible, err := f.registry.ListForStudent(f.ctx, studentCaller, student.ID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "AAA", visible[0].Code)

	_, err = f.registry.SetActive(f.ctx, f.teacher, a.ID, true)
	require.NoError(t, err)
	visible, err = f.registry.ListForStudent(f.ctx, studentCaller, student.ID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, "AAA", visible[0].Code)
	assert.Equal(t, "BBB", visible[1].Code)

	_, err = f.registry.ListForTeacher(f.ctx, studentCaller, f.teacher.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
