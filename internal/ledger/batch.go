package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/models"
	"github.com/google/uuid"
)

// NewStudent is one row of a batch import
type NewStudent struct {
	Name     string
	Username string
	Password string
}

// BatchFailure explains why one entry was not created
type BatchFailure struct {
	Index    int
	Name     string
	Username string
	Kind     apperr.Kind
	Reason   string
}

// BatchResult aggregates a batch import. Created keeps input order.
type BatchResult struct {
	Success  int
	Failed   int
	Created  []models.Student
	Failures []BatchFailure
}

// creationJob is an entry queued for a worker
type creationJob struct {
	index int
	entry NewStudent
}

type creationResult struct {
	index   int
	student models.Student
	err     error
}

// BatchCreateStudents creates every entry independently. Entries are spread
// over a small worker pool since password hashing dominates the cost.
func (e *Engine) BatchCreateStudents(ctx context.Context, caller models.Caller, teacherID string, entries []NewStudent) (BatchResult, error) {
	if !caller.IsTeacher() || caller.ID != teacherID {
		return BatchResult{}, apperr.Unauthorized("only the classroom teacher can add students")
	}
	if len(entries) == 0 {
		return BatchResult{}, apperr.New(apperr.KindInvalidInput, "no student data provided")
	}

	workers := e.workers
	if workers > len(entries) {
		workers = len(entries)
	}

	jobs := make(chan creationJob)
	results := make(chan creationResult, len(entries))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				student, err := e.createStudent(ctx, teacherID, job.entry)
				results <- creationResult{index: job.index, student: student, err: err}
			}
		}()
	}

	for i, entry := range entries {
		jobs <- creationJob{index: i, entry: entry}
	}
	close(jobs)
	wg.Wait()
	close(results)

	ordered := make([]creationResult, len(entries))
	for r := range results {
		ordered[r.index] = r
	}

	var res BatchResult
	for i, r := range ordered {
		if r.err == nil {
			res.Success++
			res.Created = append(res.Created, r.student)
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, BatchFailure{
			Index:    i,
			Name:     entries[i].Name,
			Username: entries[i].Username,
			Kind:     apperr.KindOf(r.err),
			Reason:   r.err.Error(),
		})
	}

	e.log.Info().
		Str("op", "batch_create").
		Str("teacher_id", teacherID).
		Int("success", res.Success).
		Int("failed", res.Failed).
		Msg("batch import finished")
	return res, nil
}

// createStudent inserts one student with the default starting cash
func (e *Engine) createStudent(ctx context.Context, teacherID string, entry NewStudent) (models.Student, error) {
	username := strings.TrimSpace(entry.Username)
	if username == "" || entry.Password == "" {
		return models.Student{}, apperr.New(apperr.KindInvalidInput, "username and password required")
	}

	hash, err := e.hasher.Hash(entry.Password)
	if err != nil {
		return models.Student{}, apperr.New(apperr.KindInvalidInput, "password rejected: %v", err)
	}

	student := models.Student{
		ID:           uuid.NewString(),
		TeacherID:    teacherID,
		Username:     username,
		PasswordHash: hash,
		Name:         strings.TrimSpace(entry.Name),
		Cash:         models.DefaultStartingCash,
	}
	err = e.store.CreateStudent(ctx, &student)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return models.Student{}, apperr.New(apperr.KindDuplicateUsername, "username %q already taken", username)
	case errors.Is(err, db.ErrReference):
		return models.Student{}, apperr.NotFound("teacher not found")
	case err != nil:
		return models.Student{}, apperr.Storage("create student", err)
	}
	return student, nil
}
