// Package identity manages teacher and student accounts and checks
// credentials. It does not move money; see the ledger package for that.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type Service struct {
	store  db.Store
	hasher PasswordHasher
	log    zerolog.Logger
}

func NewService(store db.Store, hasher PasswordHasher, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		log:    log.With().Str("component", "identity").Logger(),
	}
}

// Bootstrap creates the administrator when no teacher exists yet
func (s *Service) Bootstrap(ctx context.Context, username, password string) (models.Teacher, error) {
	var teacher models.Teacher
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		n, err := s.store.CountTeachers(ctx)
		if err != nil {
			return apperr.Storage("count teachers", err)
		}
		if n > 0 {
			return apperr.New(apperr.KindDuplicateUsername, "administrator already exists")
		}
		teacher, err = s.newTeacher(ctx, username, password, true)
		if apperr.KindOf(err) == apperr.KindDuplicateUsername {
			// a concurrent bootstrap won the unique admin index
			return apperr.New(apperr.KindDuplicateUsername, "administrator already exists")
		}
		return err
	})
	if err != nil {
		return models.Teacher{}, err
	}

	s.log.Info().Str("op", "bootstrap").Str("teacher_id", teacher.ID).Msg("administrator created")
	return teacher, nil
}

// CreateTeacher registers a new classroom. Admin only.
func (s *Service) CreateTeacher(ctx context.Context, caller models.Caller, username, password string) (models.Teacher, error) {
	if !caller.IsAdmin {
		return models.Teacher{}, apperr.Unauthorized("only an administrator can create teachers")
	}
	teacher, err := s.newTeacher(ctx, username, password, false)
	if err != nil {
		return models.Teacher{}, err
	}

	s.log.Info().Str("op", "create_teacher").Str("teacher_id", teacher.ID).Msg("teacher created")
	return teacher, nil
}

func (s *Service) newTeacher(ctx context.Context, username, password string, admin bool) (models.Teacher, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.Teacher{}, apperr.New(apperr.KindInvalidInput, "username and password required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.Teacher{}, apperr.New(apperr.KindInvalidInput, "password rejected: %v", err)
	}

	teacher := models.Teacher{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		InterestRate: models.DefaultInterestRate,
		IsAdmin:      admin,
	}
	err = s.store.CreateTeacher(ctx, &teacher)
	if errors.Is(err, db.ErrDuplicate) {
		return models.Teacher{}, apperr.New(apperr.KindDuplicateUsername, "username %q already taken", username)
	}
	if err != nil {
		return models.Teacher{}, apperr.Storage("create teacher", err)
	}
	return teacher, nil
}

func (s *Service) ListTeachers(ctx context.Context, caller models.Caller) ([]models.TeacherSummary, error) {
	if !caller.IsAdmin {
		return nil, apperr.Unauthorized("only an administrator can list teachers")
	}
	teachers, err := s.store.ListTeachers(ctx)
	if err != nil {
		return nil, apperr.Storage("list teachers", err)
	}
	return teachers, nil
}

// Overview is the administrator's view of one classroom
type Overview struct {
	Teacher  models.Teacher
	Students []portfolio.Summary
	Stocks   []models.Stock
	Stats    portfolio.Stats
}

func (s *Service) TeacherOverview(ctx context.Context, caller models.Caller, teacherID string) (Overview, error) {
	if !caller.IsAdmin {
		return Overview{}, apperr.Unauthorized("only an administrator can inspect classrooms")
	}
	teacher, err := s.getTeacher(ctx, teacherID)
	if err != nil {
		return Overview{}, err
	}

	students, err := portfolio.LoadClassroom(ctx, s.store, teacherID)
	if err != nil {
		return Overview{}, err
	}
	stocks, err := s.store.ListStocks(ctx, teacherID, false)
	if err != nil {
		return Overview{}, apperr.Storage("list stocks", err)
	}

	return Overview{
		Teacher:  teacher,
		Students: students,
		Stocks:   stocks,
		Stats:    portfolio.ClassStats(students, len(stocks)),
	}, nil
}

// Teacher returns the classroom the caller belongs to (its own for teachers)
func (s *Service) Teacher(ctx context.Context, caller models.Caller) (models.Teacher, error) {
	return s.getTeacher(ctx, caller.TeacherID)
}

func (s *Service) getTeacher(ctx context.Context, id string) (models.Teacher, error) {
	teacher, err := s.store.GetTeacher(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return models.Teacher{}, apperr.NotFound("teacher not found")
	}
	if err != nil {
		return models.Teacher{}, apperr.Storage("load teacher", err)
	}
	return teacher, nil
}

// NewStudent is the input of CreateStudent. A nil Cash means the default
// starting amount.
type NewStudent struct {
	Name     string
	Username string
	Password string
	Cash     *int64
}

func (s *Service) CreateStudent(ctx context.Context, caller models.Caller, in NewStudent) (models.Student, error) {
	if !caller.IsTeacher() {
		return models.Student{}, apperr.Unauthorized("only a teacher can create students")
	}
	cash := models.DefaultStartingCash
	if in.Cash != nil {
		cash = *in.Cash
	}
	if cash < 0 {
		return models.Student{}, apperr.New(apperr.KindInvalidAmount, "starting cash must not be negative")
	}

	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return models.Student{}, apperr.New(apperr.KindInvalidInput, "username and password required")
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return models.Student{}, apperr.New(apperr.KindInvalidInput, "password rejected: %v", err)
	}

	student := models.Student{
		ID:           uuid.NewString(),
		TeacherID:    caller.ID,
		Username:     username,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Cash:         cash,
	}
	err = s.store.CreateStudent(ctx, &student)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return models.Student{}, apperr.New(apperr.KindDuplicateUsername, "username %q already taken", username)
	case errors.Is(err, db.ErrReference):
		return models.Student{}, apperr.NotFound("teacher not found")
	case err != nil:
		return models.Student{}, apperr.Storage("create student", err)
	}

	s.log.Info().Str("op", "create_student").Str("student_id", student.ID).Str("teacher_id", caller.ID).Int64("cash", cash).Msg("student created")
	return student, nil
}

// UpdateStudentAccount renames the student and, when password is not empty,
// resets the password. An empty name keeps the current one.
func (s *Service) UpdateStudentAccount(ctx context.Context, caller models.Caller, studentID, name, password string) (models.Student, error) {
	if !caller.IsTeacher() {
		return models.Student{}, apperr.Unauthorized("only a teacher can edit accounts")
	}

	var student models.Student
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		student, err = s.store.LockStudent(ctx, studentID)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("student not found")
		}
		if err != nil {
			return apperr.Storage("load student", err)
		}
		if !caller.Controls(student) {
			return apperr.Unauthorized("caller does not control this student")
		}

		if n := strings.TrimSpace(name); n != "" {
			student.Name = n
		}
		var hash string
		if password != "" {
			if hash, err = s.hasher.Hash(password); err != nil {
				return apperr.New(apperr.KindInvalidInput, "password rejected: %v", err)
			}
			student.PasswordHash = hash
		}
		if err := s.store.UpdateStudentAccount(ctx, student.ID, student.Name, hash); err != nil {
			return apperr.Storage("update account", err)
		}
		return nil
	})
	if err != nil {
		return models.Student{}, err
	}

	s.log.Info().Str("op", "update_account").Str("student_id", studentID).Bool("password_reset", password != "").Msg("account updated")
	return student, nil
}

// SetInterestRate changes the savings rate (percent) of the caller's classroom
func (s *Service) SetInterestRate(ctx context.Context, caller models.Caller, rate decimal.Decimal) error {
	if !caller.IsTeacher() {
		return apperr.Unauthorized("only a teacher can set the interest rate")
	}
	if rate.IsNegative() {
		return apperr.New(apperr.KindInvalidAmount, "interest rate must not be negative")
	}

	err := s.store.UpdateInterestRate(ctx, caller.ID, rate)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("teacher not found")
	}
	if err != nil {
		return apperr.Storage("update interest rate", err)
	}

	s.log.Info().Str("op", "set_interest").Str("teacher_id", caller.ID).Str("rate", rate.String()).Msg("interest rate changed")
	return nil
}

// Authenticate checks a username and password for the given role. Unknown
// users and wrong passwords fail the same way.
func (s *Service) Authenticate(ctx context.Context, role models.Role, username, password string) (models.Caller, error) {
	invalid := apperr.Unauthorized("invalid username or password")
	username = strings.TrimSpace(username)

	switch role {
	case models.RoleTeacher:
		t, err := s.store.GetTeacherByUsername(ctx, username)
		if errors.Is(err, db.ErrNotFound) {
			return models.Caller{}, invalid
		}
		if err != nil {
			return models.Caller{}, apperr.Storage("load teacher", err)
		}
		if s.hasher.Compare(t.PasswordHash, password) != nil {
			return models.Caller{}, invalid
		}
		return models.Caller{ID: t.ID, Role: models.RoleTeacher, TeacherID: t.ID, IsAdmin: t.IsAdmin}, nil

	case models.RoleStudent:
		st, err := s.store.GetStudentByUsername(ctx, username)
		if errors.Is(err, db.ErrNotFound) {
			return models.Caller{}, invalid
		}
		if err != nil {
			return models.Caller{}, apperr.Storage("load student", err)
		}
		if s.hasher.Compare(st.PasswordHash, password) != nil {
			return models.Caller{}, invalid
		}
		return models.Caller{ID: st.ID, Role: models.RoleStudent, TeacherID: st.TeacherID}, nil
	}

	return models.Caller{}, apperr.New(apperr.KindInvalidInput, "unknown role %q", role)
}

// ListStudents returns the caller's students valued at current prices
func (s *Service) ListStudents(ctx context.Context, caller models.Caller) ([]portfolio.Summary, error) {
	if !caller.IsTeacher() {
		return nil, apperr.Unauthorized("only a teacher can list students")
	}
	return portfolio.LoadClassroom(ctx, s.store, caller.ID)
}
