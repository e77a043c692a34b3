package portfolio

import (
	"context"
	"errors"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/rs/zerolog"
)

// RankingCache keeps recently computed classroom rankings
type RankingCache interface {
	GetRanking(ctx context.Context, teacherID string) ([]Ranking, bool, error)
	SetRanking(ctx context.Context, teacherID string, rankings []Ranking) error
}

type Service struct {
	store db.Store
	cache RankingCache
	log   zerolog.Logger
}

// NewService builds the projection service. cache may be nil.
func NewService(store db.Store, cache RankingCache, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "portfolio").Logger(),
	}
}

// Load values a single student. Call it inside WithinSnapshot so the balances
// and holdings come from the same moment.
func Load(ctx context.Context, q db.Queries, student models.Student) (Summary, error) {
	holdings, err := q.ListHoldings(ctx, student.ID)
	if err != nil {
		return Summary{}, apperr.Storage("list holdings", err)
	}
	return Valuate(student, holdings), nil
}

// LoadClassroom values every student of the teacher from one snapshot
func LoadClassroom(ctx context.Context, store db.Store, teacherID string) ([]Summary, error) {
	var out []Summary
	err := store.WithinSnapshot(ctx, func(ctx context.Context) error {
		students, err := store.ListStudents(ctx, teacherID)
		if err != nil {
			return apperr.Storage("list students", err)
		}
		out = make([]Summary, 0, len(students))
		for _, s := range students {
			sum, err := Load(ctx, store, s)
			if err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Student returns the summary of one student the caller controls
func (s *Service) Student(ctx context.Context, caller models.Caller, studentID string) (Summary, error) {
	var sum Summary
	err := s.store.WithinSnapshot(ctx, func(ctx context.Context) error {
		student, err := s.store.GetStudent(ctx, studentID)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("student not found")
		}
		if err != nil {
			return apperr.Storage("load student", err)
		}
		if !caller.Controls(student) {
			return apperr.Unauthorized("caller does not control this student")
		}
		sum, err = Load(ctx, s.store, student)
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Classroom returns summaries for every student of the teacher
func (s *Service) Classroom(ctx context.Context, caller models.Caller, teacherID string) ([]Summary, error) {
	if !caller.IsTeacher() || !canView(caller, teacherID) {
		return nil, apperr.Unauthorized("caller cannot view this classroom")
	}
	return LoadClassroom(ctx, s.store, teacherID)
}

// Ranking returns the classroom leaderboard. A configured cache is consulted
// first; cache faults only cost a recomputation.
func (s *Service) Ranking(ctx context.Context, caller models.Caller, teacherID string) ([]Ranking, error) {
	if !canView(caller, teacherID) {
		return nil, apperr.Unauthorized("caller cannot view this classroom")
	}

	if s.cache != nil {
		cached, ok, err := s.cache.GetRanking(ctx, teacherID)
		if err != nil {
			s.log.Warn().Err(err).Str("teacher_id", teacherID).Msg("ranking cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	summaries, err := LoadClassroom(ctx, s.store, teacherID)
	if err != nil {
		return nil, err
	}
	rankings := Rank(summaries)

	if s.cache != nil {
		if err := s.cache.SetRanking(ctx, teacherID, rankings); err != nil {
			s.log.Warn().Err(err).Str("teacher_id", teacherID).Msg("ranking cache write failed")
		}
	}
	return rankings, nil
}

// canView allows the teacher, the teacher's students and admins
func canView(caller models.Caller, teacherID string) bool {
	return caller.TeacherID == teacherID || caller.IsAdmin
}
