package models

// UserRole represents the roles a principal can act under.
type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// Valid reports whether the role is one the portal recognises.
func (r UserRole) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Principal is the authenticated actor behind a request. Authentication
// happens upstream; the engines only trust the id and role carried here.
type Principal struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// IsTeacher reports whether the principal acts as a teacher.
func (p *Principal) IsTeacher() bool {
	return p != nil && p.ID != "" && p.Role == RoleTeacher
}

// IsStudent reports whether the principal acts as a student.
func (p *Principal) IsStudent() bool {
	return p != nil && p.ID != "" && p.Role == RoleStudent
}
