package models

// ApprovalStatus is the shared lifecycle enum for registrations and
// course uploads. PENDING is the only state transitions start from;
// APPROVED and REJECTED are terminal.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether the value is a known status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Decided reports whether the status is terminal.
func (s ApprovalStatus) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}
