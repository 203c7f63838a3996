package models

import "time"

// Semester models a registration period within the academic calendar.
// Deadlines gate when new registrations and course uploads may be created.
type Semester struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	AcademicYear         string     `db:"academic_year" json:"academic_year"`
	StartDate            time.Time  `db:"start_date" json:"start_date"`
	EndDate              time.Time  `db:"end_date" json:"end_date"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	RegistrationDeadline *time.Time `db:"registration_deadline" json:"registration_deadline,omitempty"`
	CourseUploadDeadline *time.Time `db:"course_upload_deadline" json:"course_upload_deadline,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// SemesterFilter defines filters supported by list endpoints.
type SemesterFilter struct {
	AcademicYear string
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
