package models

import "time"

// CourseUpload is one course selection inside a registration. A given
// (student_id, course_id, semester_id) combination appears at most once.
type CourseUpload struct {
	ID             string         `db:"id" json:"id"`
	RegistrationID string         `db:"registration_id" json:"registration_id"`
	StudentID      string         `db:"student_id" json:"student_id"`
	CourseID       string         `db:"course_id" json:"course_id"`
	SemesterID     string         `db:"semester_id" json:"semester_id"`
	Status         ApprovalStatus `db:"status" json:"status"`
	DecidedBy      *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecisionNote   *string        `db:"decision_note" json:"decision_note,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// CourseUploadDetail enriches CourseUpload with course info for listings.
type CourseUploadDetail struct {
	CourseUpload
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseTitle   string `db:"course_title" json:"course_title"`
	CourseCredits int    `db:"course_credits" json:"course_credits"`
	Department    string `db:"department" json:"department"`
	StudentName   string `db:"student_name" json:"student_name"`
}

// CourseUploadFilter provides filters for the upload approval queue.
type CourseUploadFilter struct {
	RegistrationID string
	StudentID      string
	SemesterID     string
	Department     string
	Status         ApprovalStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// BulkApprovalResult reports the outcome of a bulk approval request.
type BulkApprovalResult struct {
	SucceededCount int      `json:"succeeded_count"`
	FailedIDs      []string `json:"failed_ids"`
}
