package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memTxKey struct{}

type memSnapshotKey struct{}

type memState struct {
	teachers     map[string]models.Teacher
	students     map[string]models.Student
	stocks       map[string]models.Stock
	ownerships   map[string]models.Ownership // keyed by student|stock
	transactions []models.Transaction
}

func (s *memState) clone() *memState {
	c := &memState{
		teachers:     make(map[string]models.Teacher, len(s.teachers)),
		students:     make(map[string]models.Student, len(s.students)),
		stocks:       make(map[string]models.Stock, len(s.stocks)),
		ownerships:   make(map[string]models.Ownership, len(s.ownerships)),
		transactions: append([]models.Transaction(nil), s.transactions...),
	}
	for k, v := range s.teachers {
		c.teachers[k] = v
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.ownerships {
		c.ownerships[k] = v
	}
	return c
}

// Memory is an in-process Store. Transactions are serialised behind a
// single writer lock and roll back by restoring a snapshot.
type Memory struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
	seq   int64
}

func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			teachers:   make(map[string]models.Teacher),
			students:   make(map[string]models.Student),
			stocks:     make(map[string]models.Stock),
			ownerships: make(map[string]models.Ownership),
		},
		now: time.Now,
	}
}

func (m *Memory) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	if inSnapshot(ctx) {
		return ErrReadOnly
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// WithinSnapshot holds the read lock for the whole of fn
func (m *Memory) WithinSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) || inSnapshot(ctx) {
		return fn(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(context.WithValue(ctx, memSnapshotKey{}, true))
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

func inSnapshot(ctx context.Context) bool {
	v, _ := ctx.Value(memSnapshotKey{}).(bool)
	return v
}

// read and write take the store lock unless the caller already holds it
// through WithinTransaction
func (m *Memory) read(ctx context.Context, fn func(s *memState) error) error {
	if !inTx(ctx) && !inSnapshot(ctx) {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return fn(m.state)
}

func (m *Memory) write(ctx context.Context, fn func(s *memState) error) error {
	if inSnapshot(ctx) {
		return ErrReadOnly
	}
	if !inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

// stamp returns strictly increasing timestamps so ordering by time is stable
func (m *Memory) stamp() time.Time {
	m.seq++
	return m.now().Add(time.Duration(m.seq) * time.Nanosecond)
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func ownKey(studentID, stockID string) string { return studentID + "|" + stockID }

// teachers

func (m *Memory) CountTeachers(ctx context.Context) (n int, err error) {
	err = m.read(ctx, func(s *memState) error {
		n = len(s.teachers)
		return nil
	})
	return n, err
}

func (m *Memory) CreateTeacher(ctx context.Context, t *models.Teacher) error {
	return m.write(ctx, func(s *memState) error {
		for _, existing := range s.teachers {
			if existing.Username == t.Username || (t.IsAdmin && existing.IsAdmin) {
				return ErrDuplicate
			}
		}
		if _, ok := s.teachers[t.ID]; ok {
			return ErrDuplicate
		}
		t.CreatedAt = m.stamp()
		s.teachers[t.ID] = *t
		return nil
	})
}

func (m *Memory) GetTeacher(ctx context.Context, id string) (t models.Teacher, err error) {
	err = m.read(ctx, func(s *memState) error {
		var ok bool
		if t, ok = s.teachers[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return t, err
}

func (m *Memory) GetTeacherByUsername(ctx context.Context, username string) (t models.Teacher, err error) {
	err = m.read(ctx, func(s *memState) error {
		for _, existing := range s.teachers {
			if existing.Username == username {
				t = existing
				return nil
			}
		}
		return ErrNotFound
	})
	return t, err
}

func (m *Memory) ListTeachers(ctx context.Context) (out []models.TeacherSummary, err error) {
	err = m.read(ctx, func(s *memState) error {
		counts := make(map[string]int)
		for _, st := range s.students {
			counts[st.TeacherID]++
		}
		out = make([]models.TeacherSummary, 0, len(s.teachers))
		for _, t := range s.teachers {
			out = append(out, models.TeacherSummary{Teacher: t, StudentCount: counts[t.ID]})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (m *Memory) UpdateInterestRate(ctx context.Context, teacherID string, rate decimal.Decimal) error {
	return m.write(ctx, func(s *memState) error {
		t, ok := s.teachers[teacherID]
		if !ok {
			return ErrNotFound
		}
		t.InterestRate = rate
		s.teachers[teacherID] = t
		return nil
	})
}

// students

func (m *Memory) CreateStudent(ctx context.Context, st *models.Student) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.teachers[st.TeacherID]; !ok {
			return ErrReference
		}
		for _, existing := range s.students {
			if existing.Username == st.Username {
				return ErrDuplicate
			}
		}
		if _, ok := s.students[st.ID]; ok {
			return ErrDuplicate
		}
		st.CreatedAt = m.stamp()
		s.students[st.ID] = *st
		return nil
	})
}

func (m *Memory) GetStudent(ctx context.Context, id string) (st models.Student, err error) {
	err = m.read(ctx, func(s *memState) error {
		var ok bool
		if st, ok = s.students[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return st, err
}

// LockStudent is GetStudent; the writer lock already isolates transactions
func (m *Memory) LockStudent(ctx context.Context, id string) (models.Student, error) {
	return m.GetStudent(ctx, id)
}

func (m *Memory) GetStudentByUsername(ctx context.Context, username string) (st models.Student, err error) {
	err = m.read(ctx, func(s *memState) error {
		for _, existing := range s.students {
			if existing.Username == username {
				st = existing
				return nil
			}
		}
		return ErrNotFound
	})
	return st, err
}

func (m *Memory) ListStudents(ctx context.Context, teacherID string) (out []models.Student, err error) {
	err = m.read(ctx, func(s *memState) error {
		out = make([]models.Student, 0)
		for _, st := range s.students {
			if st.TeacherID == teacherID {
				out = append(out, st)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
		return nil
	})
	return out, err
}

func (m *Memory) UpdateStudentBalances(ctx context.Context, id string, cash, savings int64) error {
	return m.write(ctx, func(s *memState) error {
		st, ok := s.students[id]
		if !ok {
			return ErrNotFound
		}
		if cash < 0 || savings < 0 {
			return ErrConstraint
		}
		st.Cash, st.SavingsBalance = cash, savings
		s.students[id] = st
		return nil
	})
}

func (m *Memory) UpdateStudentAccount(ctx context.Context, id, name, passwordHash string) error {
	return m.write(ctx, func(s *memState) error {
		st, ok := s.students[id]
		if !ok {
			return ErrNotFound
		}
		st.Name = name
		if passwordHash != "" {
			st.PasswordHash = passwordHash
		}
		s.students[id] = st
		return nil
	})
}

func (m *Memory) DeleteStudent(ctx context.Context, id string) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.students[id]; !ok {
			return ErrNotFound
		}
		for _, o := range s.ownerships {
			if o.StudentID == id {
				return ErrReference
			}
		}
		for _, t := range s.transactions {
			if t.StudentID == id {
				return ErrReference
			}
		}
		delete(s.students, id)
		return nil
	})
}

// stocks

func (m *Memory) CreateStock(ctx context.Context, st *models.Stock) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.teachers[st.TeacherID]; !ok {
			return ErrReference
		}
		for _, existing := range s.stocks {
			if existing.Code == st.Code {
				return ErrDuplicate
			}
		}
		st.CreatedAt = m.stamp()
		s.stocks[st.ID] = *st
		return nil
	})
}

func (m *Memory) GetStock(ctx context.Context, id string) (st models.Stock, err error) {
	err = m.read(ctx, func(s *memState) error {
		var ok bool
		if st, ok = s.stocks[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return st, err
}

func (m *Memory) ListStocks(ctx context.Context, teacherID string, activeOnly bool) (out []models.Stock, err error) {
	err = m.read(ctx, func(s *memState) error {
		out = make([]models.Stock, 0)
		for _, st := range s.stocks {
			if st.TeacherID != teacherID || (activeOnly && !st.IsActive) {
				continue
			}
			out = append(out, st)
		}
		if activeOnly {
			sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
		} else {
			sort.Slice(out, func(i, j int) bool {
				if out[i].Name != out[j].Name {
					return out[i].Name < out[j].Name
				}
				return out[i].Code < out[j].Code
			})
		}
		return nil
	})
	return out, err
}

func (m *Memory) UpdateStockPrice(ctx context.Context, id string, price int64) error {
	return m.write(ctx, func(s *memState) error {
		st, ok := s.stocks[id]
		if !ok {
			return ErrNotFound
		}
		if price <= 0 {
			return ErrConstraint
		}
		st.CurrentPrice = price
		s.stocks[id] = st
		return nil
	})
}

func (m *Memory) SetStockActive(ctx context.Context, id string, active bool) error {
	return m.write(ctx, func(s *memState) error {
		st, ok := s.stocks[id]
		if !ok {
			return ErrNotFound
		}
		st.IsActive = active
		s.stocks[id] = st
		return nil
	})
}

// ownership

func (m *Memory) GetOwnership(ctx context.Context, studentID, stockID string) (o models.Ownership, err error) {
	err = m.read(ctx, func(s *memState) error {
		var ok bool
		if o, ok = s.ownerships[ownKey(studentID, stockID)]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return o, err
}

func (m *Memory) UpsertOwnership(ctx context.Context, o *models.Ownership) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.students[o.StudentID]; !ok {
			return ErrReference
		}
		if _, ok := s.stocks[o.StockID]; !ok {
			return ErrReference
		}
		if o.Quantity <= 0 || o.AverageBuyPrice < 0 {
			return ErrConstraint
		}
		key := ownKey(o.StudentID, o.StockID)
		if existing, ok := s.ownerships[key]; ok {
			o.ID = existing.ID
		} else if o.ID == "" {
			o.ID = uuid.NewString()
		}
		o.UpdatedAt = m.stamp()
		s.ownerships[key] = *o
		return nil
	})
}

func (m *Memory) DeleteOwnership(ctx context.Context, studentID, stockID string) error {
	return m.write(ctx, func(s *memState) error {
		key := ownKey(studentID, stockID)
		if _, ok := s.ownerships[key]; !ok {
			return ErrNotFound
		}
		delete(s.ownerships, key)
		return nil
	})
}

func (m *Memory) DeleteOwnershipsByStudent(ctx context.Context, studentID string) error {
	return m.write(ctx, func(s *memState) error {
		for key, o := range s.ownerships {
			if o.StudentID == studentID {
				delete(s.ownerships, key)
			}
		}
		return nil
	})
}

func (m *Memory) ListHoldings(ctx context.Context, studentID string) (out []models.Holding, err error) {
	err = m.read(ctx, func(s *memState) error {
		out = make([]models.Holding, 0)
		for _, o := range s.ownerships {
			if o.StudentID != studentID {
				continue
			}
			st := s.stocks[o.StockID]
			out = append(out, models.Holding{
				Ownership:    o,
				StockName:    st.Name,
				StockCode:    st.Code,
				CurrentPrice: st.CurrentPrice,
				IsActive:     st.IsActive,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StockCode < out[j].StockCode })
		return nil
	})
	return out, err
}

// transactions

func (m *Memory) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	return m.write(ctx, func(s *memState) error {
		if _, ok := s.students[t.StudentID]; !ok {
			return ErrReference
		}
		if _, ok := s.stocks[t.StockID]; !ok {
			return ErrReference
		}
		t.CreatedAt = m.stamp()
		s.transactions = append(s.transactions, *t)
		return nil
	})
}

func (m *Memory) ListTransactions(ctx context.Context, studentID string, limit int) (out []models.Transaction, err error) {
	err = m.read(ctx, func(s *memState) error {
		out = make([]models.Transaction, 0)
		for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
			if s.transactions[i].StudentID == studentID {
				out = append(out, s.transactions[i])
			}
		}
		return nil
	})
	return out, err
}

func (m *Memory) DeleteTransactionsByStudent(ctx context.Context, studentID string) error {
	return m.write(ctx, func(s *memState) error {
		kept := s.transactions[:0]
		for _, t := range s.transactions {
			if t.StudentID != studentID {
				kept = append(kept, t)
			}
		}
		s.transactions = kept
		return nil
	})
}
