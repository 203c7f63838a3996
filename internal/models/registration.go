package models

import "time"

// Registration captures a student's enrollment record for one semester.
// At most one row exists per (student_id, semester_id).
type Registration struct {
	ID           string         `db:"id" json:"id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	SemesterID   string         `db:"semester_id" json:"semester_id"`
	Status       ApprovalStatus `db:"status" json:"status"`
	DecidedBy    *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecisionNote *string        `db:"decision_note" json:"decision_note,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with joined context.
type RegistrationDetail struct {
	Registration
	StudentName  string `db:"student_name" json:"student_name"`
	SemesterName string `db:"semester_name" json:"semester_name"`
	TotalCredits int    `db:"total_credits" json:"total_credits"`
}

// RegistrationFilter provides filters for the approver queue.
type RegistrationFilter struct {
	StudentID  string
	SemesterID string
	Status     ApprovalStatus
	Department string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// RegistrationStats aggregates decision counts for one semester.
type RegistrationStats struct {
	SemesterID string    `json:"semester_id"`
	Pending    int       `db:"pending" json:"pending"`
	Approved   int       `db:"approved" json:"approved"`
	Rejected   int       `db:"rejected" json:"rejected"`
	UpdatedAt  time.Time `json:"updated_at"`
}
