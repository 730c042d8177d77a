package store

import (
	"encoding/json"
	"time"
)

// User is a community member or leader row.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	FullName         string     `db:"full_name" json:"full_name"`
	Role             string     `db:"role" json:"role"`
	AdminID          string     `db:"admin_id" json:"admin_id,omitempty"`
	ProfileCompleted bool       `db:"profile_completed" json:"profile_completed"`
	LastActive       time.Time  `db:"last_active" json:"last_active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	DateOfBirth      *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
}

// Event is a scheduled community event.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	EventDate   time.Time `db:"event_date" json:"event_date"`
	IsGlobal    bool      `db:"is_global" json:"is_global"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatorName string    `db:"creator_name" json:"creator_name,omitempty"`
	BannerURL   string    `db:"banner_url" json:"banner_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Report is the top-level report row; the typed detail rows hang off it.
type Report struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	UserName    string          `db:"user_name" json:"user_name,omitempty"`
	ReportType  string          `db:"report_type" json:"report_type"`
	Status      string          `db:"status" json:"status"`
	ReportData  json.RawMessage `db:"report_data" json:"report_data,omitempty"`
	SubmittedAt time.Time       `db:"submitted_at" json:"submitted_at"`
}

// Report statuses.
const (
	ReportPending  = "pending"
	ReportSeen     = "seen"
	ReportReviewed = "reviewed"
)

// Birthday is one member's birthday row, upserted per member.
type Birthday struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
	Age       int       `db:"age" json:"age,omitempty"`
}

// Notification is a persisted notice surfaced in the UI feed.
type Notification struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id,omitempty"`
	Type      string          `db:"type" json:"type"`
	Title     string          `db:"title" json:"title"`
	Message   string          `db:"message" json:"message"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	Read      bool            `db:"read" json:"read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SessionState is the transient in-progress form data for one identity.
// At most one row per owner; writes are last-writer-wins.
type SessionState struct {
	UserID      string         `json:"user_id"`
	Fields      map[string]any `json:"fields"`
	LastUpdated time.Time      `json:"last_updated"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Statistics is the aggregate block shown on dashboards. Which counters
// are populated depends on the viewer scope (member, leader, global).
type Statistics struct {
	TotalMembers    int `db:"total_members" json:"total_members"`
	TotalAdmins     int `db:"total_admins" json:"total_admins,omitempty"`
	PendingReports  int `db:"pending_reports" json:"pending_reports"`
	ReviewedReports int `db:"reviewed_reports" json:"reviewed_reports,omitempty"`
	DailyReports    int `db:"daily_reports" json:"daily_reports,omitempty"`
	WeeklyReports   int `db:"weekly_reports" json:"weekly_reports"`
	MonthlyReports  int `db:"monthly_reports" json:"monthly_reports,omitempty"`
	UpcomingEvents  int `db:"upcoming_events" json:"upcoming_events"`
}

// Snapshot is the full derived state rebuilt from the store. It is
// non-authoritative on clients and recomputed wholesale on every
// reconciliation pass.
type Snapshot struct {
	Birthdays  []Birthday `json:"birthdays"`
	Events     []Event    `json:"events"`
	Reports    []Report   `json:"reports"`
	Members    []User     `json:"members"`
	Statistics Statistics `json:"statistics"`
}
