package models

// Role of an authenticated caller
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Caller is the identity an already-authenticated request acts as.
// TeacherID is the owning teacher for students and the caller's own id for
// teachers.
type Caller struct {
	ID        string
	Role      Role
	TeacherID string
	IsAdmin   bool
}

func (c Caller) IsTeacher() bool { return c.Role == RoleTeacher }
func (c Caller) IsStudent() bool { return c.Role == RoleStudent }

// Controls reports whether the caller may act on the given student.
// Students only control themselves; teachers control their own students.
func (c Caller) Controls(s Student) bool {
	switch c.Role {
	case RoleStudent:
		return c.ID == s.ID
	case RoleTeacher:
		return c.ID == s.TeacherID
	}
	return false
}
