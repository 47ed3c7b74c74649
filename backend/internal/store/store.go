// ============================================================================
// backend/internal/store/store.go
// Persistence contracts shared by the Mongo and in-memory backends
// ============================================================================

package store

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"schoolpoints/backend/internal/shared"
)

var (
	// ErrNotFound is returned when no document matches
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a unique key is already taken
	ErrDuplicate = errors.New("duplicate key")
	// ErrVersionConflict is returned when a conditional replace lost a race
	ErrVersionConflict = errors.New("version conflict")
)

// Collection names
const (
	ColUsers          = "users"
	ColClassrooms     = "classrooms"
	ColEventTypes     = "event_types"
	ColEvents         = "events"
	ColSettings       = "settings"
	ColWeekMilestones = "week_milestones"
)

// ============================================================================
// Filters
// ============================================================================

// EventDayFilter narrows event-day queries. A nil ClassroomIDs means every
// classroom; a non-nil empty slice matches nothing.
type EventDayFilter struct {
	ClassroomIDs   []string
	Date           string
	DateFrom       string // inclusive, YYYY-MM-DD
	DateTo         string // inclusive, YYYY-MM-DD
	AcademicYear   string
	ApprovalStatus string
	WithPeriod     string // only days where this period has entries
}

// ClassroomFilter narrows classroom queries
type ClassroomFilter struct {
	Grade  string
	Search string
}

// UserFilter narrows user queries
type UserFilter struct {
	Role        string
	ClassroomID string
	Gender      string
	Subject     string
	Search      string
}

// ============================================================================
// Repositories
// ============================================================================

// EventDays persists EventDay aggregates. Version is the optimistic
// concurrency counter: Insert stores version 1, Replace succeeds only when the
// stored version equals day.Version and then advances it.
type EventDays interface {
	Get(ctx context.Context, id string) (*shared.EventDay, error)
	FindByKey(ctx context.Context, date, classroomID string) (*shared.EventDay, error)
	Insert(ctx context.Context, day *shared.EventDay) error
	Replace(ctx context.Context, day *shared.EventDay) error
	List(ctx context.Context, filter EventDayFilter, skip, limit int) ([]*shared.EventDay, error)
	Count(ctx context.Context, filter EventDayFilter) (int64, error)
}

// Classrooms persists classrooms
type Classrooms interface {
	Get(ctx context.Context, id string) (*shared.Classroom, error)
	GetMany(ctx context.Context, ids []string) ([]*shared.Classroom, error)
	List(ctx context.Context, filter ClassroomFilter, skip, limit int) ([]*shared.Classroom, error)
	Count(ctx context.Context, filter ClassroomFilter) (int64, error)
	FindByHomeroomTeacher(ctx context.Context, teacherID string) ([]*shared.Classroom, error)
	Insert(ctx context.Context, c *shared.Classroom) error
	Update(ctx context.Context, c *shared.Classroom) error
	Delete(ctx context.Context, id string) error
	IncrementStudentCount(ctx context.Context, id string, delta int) error
}

// Users persists accounts of every role
type Users interface {
	Get(ctx context.Context, id string) (*shared.User, error)
	GetMany(ctx context.Context, ids []string) ([]*shared.User, error)
	FindByEmail(ctx context.Context, email string) (*shared.User, error)
	List(ctx context.Context, filter UserFilter, skip, limit int) ([]*shared.User, error)
	Count(ctx context.Context, filter UserFilter) (int64, error)
	Insert(ctx context.Context, u *shared.User) error
	Update(ctx context.Context, u *shared.User) error
	Delete(ctx context.Context, id string) error
}

// EventTypes persists the event type catalogue
type EventTypes interface {
	List(ctx context.Context, activeOnly bool) ([]*shared.EventType, error)
	Get(ctx context.Context, key string) (*shared.EventType, error)
	Insert(ctx context.Context, t *shared.EventType) error
	Update(ctx context.Context, t *shared.EventType) error
	Delete(ctx context.Context, key string) error
}

// Settings persists per-academic-year settings
type Settings interface {
	GetAcademicYear(ctx context.Context, academicYear string) (*shared.AcademicYearSettings, error)
	SaveAcademicYear(ctx context.Context, s *shared.AcademicYearSettings) error
}

// Milestones persists week milestones
type Milestones interface {
	FindActive(ctx context.Context, academicYear string) (*shared.WeekMilestone, error)
	Insert(ctx context.Context, m *shared.WeekMilestone) error
	DeactivateAll(ctx context.Context, academicYear string) error
}

type backend interface {
	Ping(ctx context.Context) error
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close(ctx context.Context) error
}

// Store bundles the repositories of one backend together with its lifecycle
type Store struct {
	EventDays  EventDays
	Classrooms Classrooms
	Users      Users
	EventTypes EventTypes
	Settings   Settings
	Milestones Milestones

	backend backend
}

// Ping checks the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// RunInTransaction runs fn atomically where the backend supports it.
// Repository calls inside fn must use the ctx passed to fn.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.backend.RunInTransaction(ctx, fn)
}

// Close releases backend resources
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err wraps ErrDuplicate
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// Open connects the backend named by cfg.StoreBackend. Mongo indexes are
// created before the store is returned.
func Open(ctx context.Context, cfg *shared.ServiceConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.StoreBackend {
	case shared.StoreMemory:
		logger.Warn("using the in-memory store, data is lost on exit")
		return NewMemory(), nil
	case shared.StoreMongo:
		client, db, err := shared.ConnectMongoDB(ctx, &cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		if err := EnsureIndexes(ctx, db); err != nil {
			_ = shared.DisconnectMongoDB(client)
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return NewMongo(client, db, &cfg.MongoDB, logger), nil
	default:
		return nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
