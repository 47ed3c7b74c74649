// ============================================================================
// backend/internal/shared/models.go
// Document models shared by services and stores
// ============================================================================

package shared

import (
	"strings"
	"time"
)

// ============================================================================
// User Models
// ============================================================================

// User is an account of any role. Role-specific fields are left empty for
// the other roles.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Role         string    `bson:"role" json:"role"`
	FullName     string    `bson:"full_name" json:"full_name"`
	Email        string    `bson:"email,omitempty" json:"email,omitempty"`
	PasswordHash string    `bson:"password_hash,omitempty" json:"-"` // Never expose in JSON
	IsActive     bool      `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`

	// Student-specific fields
	StudentCode string `bson:"student_code,omitempty" json:"student_code,omitempty"`
	ClassroomID string `bson:"classroom_id,omitempty" json:"classroom_id,omitempty"`
	Gender      string `bson:"gender,omitempty" json:"gender,omitempty"`
	DateOfBirth string `bson:"date_of_birth,omitempty" json:"date_of_birth,omitempty"`

	// Teacher-specific fields
	TeacherCode     string `bson:"teacher_code,omitempty" json:"teacher_code,omitempty"`
	Subject         string `bson:"subject,omitempty" json:"subject,omitempty"`
	HomeroomClassID string `bson:"homeroom_class_id,omitempty" json:"homeroom_class_id,omitempty"`
	HomeroomClass   string `bson:"homeroom_class,omitempty" json:"homeroom_class,omitempty"`
}

// ============================================================================
// Classroom Models
// ============================================================================

// Classroom is a homeroom class such as "10A1"
type Classroom struct {
	ID                string    `bson:"_id" json:"id"`
	Name              string    `bson:"name" json:"name"`
	FullName          string    `bson:"full_name" json:"full_name"`
	Grade             string    `bson:"grade" json:"grade"`
	HomeroomTeacherID string    `bson:"homeroom_teacher_id,omitempty" json:"homeroom_teacher_id"`
	StudentCount      int       `bson:"student_count" json:"student_count"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

// ClassroomFullName keeps names that already carry the grade ("10A1") and
// prefixes the rest ("A1" -> "10A1").
func ClassroomFullName(name, grade string) string {
	name = strings.TrimSpace(name)
	grade = strings.TrimSpace(grade)
	if grade == "" || strings.Contains(name, grade) {
		return name
	}
	return grade + name
}

// ============================================================================
// Event Models
// ============================================================================

// EventType is a registered kind of disciplinary or bonus record
type EventType struct {
	Key           string    `bson:"_id" json:"key"`
	Name          string    `bson:"name" json:"name"`
	Category      string    `bson:"category" json:"category"`
	DefaultPoints int       `bson:"default_points" json:"default_points"`
	AllowedRoles  []string  `bson:"allowed_roles" json:"allowed_roles"`
	Description   string    `bson:"description,omitempty" json:"description,omitempty"`
	IsActive      bool      `bson:"is_active" json:"is_active"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// AllowsRole reports whether role may record this event type.
// "both" is the legacy spelling of teacher+student.
func (t *EventType) AllowsRole(role string) bool {
	for _, r := range t.AllowedRoles {
		if r == role || r == "all" || (r == "both" && (role == RoleTeacher || role == RoleStudent)) {
			return true
		}
	}
	return false
}

// EventEntry is one record inside a period of an EventDay
type EventEntry struct {
	EventTypeKey string `bson:"event_type_key" json:"event_type_key"`
	StudentID    string `bson:"student_id,omitempty" json:"student_id,omitempty"`
	Points       int    `bson:"points" json:"points"`
	Description  string `bson:"description,omitempty" json:"description,omitempty"`
	Session      string `bson:"session,omitempty" json:"session,omitempty"`

	// Filled on read for display, never stored
	StudentName   string `bson:"-" json:"student_name,omitempty"`
	EventTypeName string `bson:"-" json:"event_type_name,omitempty"`
}

// EventDay aggregates every record of one classroom on one date
type EventDay struct {
	ID             string                  `bson:"_id" json:"id"`
	Date           string                  `bson:"date" json:"date"`
	ClassroomID    string                  `bson:"classroom_id" json:"classroom_id"`
	AcademicYear   string                  `bson:"academic_year" json:"academic_year"`
	Periods        map[string][]EventEntry `bson:"periods" json:"periods"`
	TotalEvents    int                     `bson:"total_events" json:"total_events"`
	ApprovalStatus string                  `bson:"approval_status" json:"approval_status"`
	ApprovedBy     string                  `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	ApprovedByName string                  `bson:"approved_by_name,omitempty" json:"approved_by_name,omitempty"`
	ApprovedAt     *time.Time              `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	CreatedBy      string                  `bson:"created_by" json:"created_by"`
	CreatedByName  string                  `bson:"created_by_name,omitempty" json:"created_by_name,omitempty"`
	Version        int64                   `bson:"version" json:"version"`
	CreatedAt      time.Time               `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time               `bson:"updated_at" json:"updated_at"`

	// Filled on read for display, never stored
	ClassroomName string `bson:"-" json:"classroom_name,omitempty"`
}

// Clone returns a deep copy so callers can mutate periods freely
func (d *EventDay) Clone() *EventDay {
	if d == nil {
		return nil
	}
	c := *d
	if d.ApprovedAt != nil {
		at := *d.ApprovedAt
		c.ApprovedAt = &at
	}
	c.Periods = make(map[string][]EventEntry, len(d.Periods))
	for k, v := range d.Periods {
		c.Periods[k] = append([]EventEntry(nil), v...)
	}
	return &c
}

// ============================================================================
// Academic Calendar Models
// ============================================================================

// AcademicYearSettings is the per-year settings document
type AcademicYearSettings struct {
	ID                   string    `bson:"_id" json:"id"`
	Key                  string    `bson:"key" json:"key"`
	AcademicYear         string    `bson:"academic_year" json:"academic_year"`
	AcademicYearStart    string    `bson:"academic_year_start" json:"academic_year_start"`
	AcademicYearEnd      string    `bson:"academic_year_end" json:"academic_year_end"`
	CompetitionStartDate string    `bson:"competition_start_date" json:"competition_start_date"`
	CreatedAt            time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// WeekMilestone anchors week numbering for an academic year
type WeekMilestone struct {
	ID           string    `bson:"_id" json:"id"`
	AcademicYear string    `bson:"academic_year" json:"academic_year"`
	StartDate    string    `bson:"start_date" json:"start_date"`
	WeekNumber   int       `bson:"week_number" json:"week_number"`
	Year         int       `bson:"year" json:"year"`
	Description  string    `bson:"description,omitempty" json:"description,omitempty"`
	IsActive     bool      `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// ============================================================================
// Constants
// ============================================================================

const (
	// User roles
	RoleAdmin          = "admin"
	RoleTeacher        = "teacher"
	RoleStudent        = "student"
	RoleDormSupervisor = "dorm_supervisor"

	// Approval statuses
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"

	// Event type categories
	CategoryViolation  = "violation"
	CategoryBonus      = "bonus"
	CategoryAttendance = "attendance"

	// Sentinel period keys
	PeriodAttendance      = "attendance"
	PeriodViolationSudden = "violation_sudden"
	PeriodBonusSudden     = "bonus_sudden"

	// CustomBonusKey needs no registered event type; its description names it
	CustomBonusKey = "custom_bonus_point"

	// Attendance sessions
	SessionMorning   = "morning"
	SessionAfternoon = "afternoon"

	// AcademicYearSettingsKey identifies settings documents
	AcademicYearSettingsKey = "academic_year_settings"

	// DateLayout is the wire and storage format of calendar dates
	DateLayout = "2006-01-02"
)

// IsValidRole checks if user role is valid
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleDormSupervisor:
		return true
	}
	return false
}

// ParseDate parses a YYYY-MM-DD date in UTC
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// FormatDate renders t as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ============================================================================
// Filter/Query Models
// ============================================================================

// Page is a 1-based page request
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page into the supported bounds
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Skip returns the number of documents before this page
func (p Page) Skip() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// Pagination is the paging block of list responses
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// NewPagination fills the paging block for total matching documents
func NewPagination(p Page, total int64) Pagination {
	p = p.Normalize()
	pages := total / int64(p.PageSize)
	if total%int64(p.PageSize) != 0 {
		pages++
	}
	return Pagination{Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}
