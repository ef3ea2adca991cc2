// Package schema defines the data structures shared by the backend service,
// the provider adapter and the SDK.
package schema

import "time"

// Status is the lifecycle state of an assessment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusNotStarted Status = "not_started"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusAbandoned  Status = "abandoned"
	StatusArchived   Status = "archived"
)

// Statuses lists every recognized status, initial state first.
var Statuses = []Status{
	StatusPending,
	StatusNotStarted,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusAbandoned,
	StatusArchived,
}

// Valid reports whether s is a recognized status. Any recognized status may
// follow any other.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Assessment is one candidate's assessment instance.
// It is persisted as an element of the store's JSON array.
type Assessment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PackageID   int       `json:"packageId"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Score       *int      `json:"score,omitempty"`
	WebhookURL  string    `json:"webhookUrl"`
	PlatformURL string    `json:"platformUrl"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no memory with a.
func (a Assessment) Clone() Assessment {
	if a.Score != nil {
		score := *a.Score
		a.Score = &score
	}
	return a
}

// Package is an entry of the package catalog.
type Package struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Report is the read-only projection served at reports/<id>.
type Report struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Score       *int      `json:"score"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReportFor projects a into its report view.
func ReportFor(a Assessment) Report {
	a = a.Clone()
	return Report{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Score:       a.Score,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
	}
}

// ReportPath is the stable, host-independent location of an assessment's report.
func ReportPath(id string) string {
	return "reports/" + id
}

// Notification is the payload relayed to an assessment's webhook URL after a
// status change.
type Notification struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Score      *int   `json:"score"`
	ReportPath string `json:"report_path"`
}

// NotificationFor builds the relay payload for a.
func NotificationFor(a Assessment) Notification {
	a = a.Clone()
	return Notification{
		ID:         a.ID,
		Status:     a.Status,
		Score:      a.Score,
		ReportPath: ReportPath(a.ID),
	}
}

// CreateRequest is the backend creation payload. ID is accepted for wire
// compatibility only; the backend always assigns a fresh id.
type CreateRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required"`
	PackageID   int    `json:"packageId"`
	WebhookURL  string `json:"webhookUrl"`
	PlatformURL string `json:"platformUrl"`
}

// StatusUpdate is a status change request. A nil Score keeps the stored score.
type StatusUpdate struct {
	Status Status `json:"status" form:"status" binding:"required"`
	Score  *int   `json:"score,omitempty" form:"score"`
}
