package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"schoolpoints/backend/internal/shared"
)

// NewMemory returns a store held in process memory. It backs local
// development (STORE_BACKEND=memory) and the test suites. Every read and
// write copies documents, so callers never share state with the store.
func NewMemory() *Store {
	return &Store{
		EventDays:  &memEventDays{items: map[string]*shared.EventDay{}},
		Classrooms: &memClassrooms{items: map[string]*shared.Classroom{}},
		Users:      &memUsers{items: map[string]*shared.User{}},
		EventTypes: &memEventTypes{items: map[string]*shared.EventType{}},
		Settings:   &memSettings{items: map[string]*shared.AcademicYearSettings{}},
		Milestones: &memMilestones{},
		backend:    &memBackend{},
	}
}

type memBackend struct {
	txMu sync.Mutex
}

func (b *memBackend) Ping(ctx context.Context) error { return ctx.Err() }

// RunInTransaction serialises transactional sections against each other.
// There is no rollback.
func (b *memBackend) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	return fn(ctx)
}

func (b *memBackend) Close(context.Context) error { return nil }

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ============================================================================
// Event days
// ============================================================================

type memEventDays struct {
	mu    sync.RWMutex
	items map[string]*shared.EventDay
}

func (f EventDayFilter) matches(d *shared.EventDay) bool {
	if f.ClassroomIDs != nil {
		found := false
		for _, id := range f.ClassroomIDs {
			if id == d.ClassroomID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Date != "" {
		if d.Date != f.Date {
			return false
		}
	} else {
		if f.DateFrom != "" && d.Date < f.DateFrom {
			return false
		}
		if f.DateTo != "" && d.Date > f.DateTo {
			return false
		}
	}
	if f.AcademicYear != "" && d.AcademicYear != f.AcademicYear {
		return false
	}
	if f.ApprovalStatus != "" && d.ApprovalStatus != f.ApprovalStatus {
		return false
	}
	if f.WithPeriod != "" && len(d.Periods[f.WithPeriod]) == 0 {
		return false
	}
	return true
}

func (r *memEventDays) Get(ctx context.Context, id string) (*shared.EventDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (r *memEventDays) FindByKey(ctx context.Context, date, classroomID string) (*shared.EventDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.items {
		if d.Date == date && d.ClassroomID == classroomID {
			return d.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memEventDays) Insert(ctx context.Context, day *shared.EventDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[day.ID]; ok {
		return ErrDuplicate
	}
	for _, d := range r.items {
		if d.Date == day.Date && d.ClassroomID == day.ClassroomID {
			return ErrDuplicate
		}
	}
	day.Version = 1
	r.items[day.ID] = day.Clone()
	return nil
}

func (r *memEventDays) Replace(ctx context.Context, day *shared.EventDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[day.ID]
	if !ok || cur.Version != day.Version {
		return ErrVersionConflict
	}
	next := day.Clone()
	next.Version = day.Version + 1
	r.items[day.ID] = next
	day.Version = next.Version
	return nil
}

func (r *memEventDays) filtered(filter EventDayFilter) []*shared.EventDay {
	out := []*shared.EventDay{}
	for _, d := range r.items {
		if filter.matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ClassroomID < out[j].ClassroomID
	})
	return out
}

func (r *memEventDays) List(ctx context.Context, filter EventDayFilter, skip, limit int) ([]*shared.EventDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := page(r.filtered(filter), skip, limit)
	out := make([]*shared.EventDay, len(items))
	for i, d := range items {
		out[i] = d.Clone()
	}
	return out, nil
}

func (r *memEventDays) Count(ctx context.Context, filter EventDayFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.filtered(filter))), nil
}

// ============================================================================
// Classrooms
// ============================================================================

type memClassrooms struct {
	mu    sync.RWMutex
	items map[string]*shared.Classroom
}

func (f ClassroomFilter) matches(c *shared.Classroom) bool {
	if f.Grade != "" && c.Grade != f.Grade {
		return false
	}
	if f.Search != "" && !containsFold(c.FullName, f.Search) && !containsFold(c.Name, f.Search) {
		return false
	}
	return true
}

func copyClassroom(c *shared.Classroom) *shared.Classroom {
	cp := *c
	return &cp
}

func (r *memClassrooms) sorted(keep func(*shared.Classroom) bool) []*shared.Classroom {
	out := []*shared.Classroom{}
	for _, c := range r.items {
		if keep(c) {
			out = append(out, copyClassroom(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Grade != out[j].Grade {
			return out[i].Grade < out[j].Grade
		}
		return out[i].FullName < out[j].FullName
	})
	return out
}

func (r *memClassrooms) Get(ctx context.Context, id string) (*shared.Classroom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyClassroom(c), nil
}

func (r *memClassrooms) GetMany(ctx context.Context, ids []string) ([]*shared.Classroom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.sorted(func(c *shared.Classroom) bool { return want[c.ID] }), nil
}

func (r *memClassrooms) List(ctx context.Context, filter ClassroomFilter, skip, limit int) ([]*shared.Classroom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return page(r.sorted(filter.matches), skip, limit), nil
}

func (r *memClassrooms) Count(ctx context.Context, filter ClassroomFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.sorted(filter.matches))), nil
}

func (r *memClassrooms) FindByHomeroomTeacher(ctx context.Context, teacherID string) ([]*shared.Classroom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(c *shared.Classroom) bool { return c.HomeroomTeacherID == teacherID }), nil
}

func (r *memClassrooms) Insert(ctx context.Context, c *shared.Classroom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; ok {
		return ErrDuplicate
	}
	r.items[c.ID] = copyClassroom(c)
	return nil
}

func (r *memClassrooms) Update(ctx context.Context, c *shared.Classroom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.ID]; !ok {
		return ErrNotFound
	}
	r.items[c.ID] = copyClassroom(c)
	return nil
}

func (r *memClassrooms) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memClassrooms) IncrementStudentCount(ctx context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	c.StudentCount += delta
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ============================================================================
// Users
// ============================================================================

type memUsers struct {
	mu    sync.RWMutex
	items map[string]*shared.User
}

func (f UserFilter) matches(u *shared.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.ClassroomID != "" && u.ClassroomID != f.ClassroomID {
		return false
	}
	if f.Gender != "" && u.Gender != f.Gender {
		return false
	}
	if f.Subject != "" && u.Subject != f.Subject {
		return false
	}
	if f.Search != "" &&
		!containsFold(u.FullName, f.Search) &&
		!containsFold(u.StudentCode, f.Search) &&
		!containsFold(u.TeacherCode, f.Search) &&
		!containsFold(u.Email, f.Search) {
		return false
	}
	return true
}

func copyUser(u *shared.User) *shared.User {
	cp := *u
	return &cp
}

func (r *memUsers) sorted(keep func(*shared.User) bool) []*shared.User {
	out := []*shared.User{}
	for _, u := range r.items {
		if keep(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memUsers) Get(ctx context.Context, id string) (*shared.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (r *memUsers) GetMany(ctx context.Context, ids []string) ([]*shared.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.sorted(func(u *shared.User) bool { return want[u.ID] }), nil
}

func (r *memUsers) FindByEmail(ctx context.Context, email string) (*shared.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.items {
		if u.Email != "" && u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memUsers) List(ctx context.Context, filter UserFilter, skip, limit int) ([]*shared.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return page(r.sorted(filter.matches), skip, limit), nil
}

func (r *memUsers) Count(ctx context.Context, filter UserFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.sorted(filter.matches))), nil
}

func (r *memUsers) emailTaken(u *shared.User) bool {
	if u.Email == "" {
		return false
	}
	for id, other := range r.items {
		if id != u.ID && other.Email == u.Email {
			return true
		}
	}
	return false
}

func (r *memUsers) Insert(ctx context.Context, u *shared.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[u.ID]; ok || r.emailTaken(u) {
		return ErrDuplicate
	}
	r.items[u.ID] = copyUser(u)
	return nil
}

func (r *memUsers) Update(ctx context.Context, u *shared.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[u.ID]; !ok {
		return ErrNotFound
	}
	if r.emailTaken(u) {
		return ErrDuplicate
	}
	r.items[u.ID] = copyUser(u)
	return nil
}

func (r *memUsers) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

// ============================================================================
// Event types
// ============================================================================

type memEventTypes struct {
	mu    sync.RWMutex
	items map[string]*shared.EventType
}

func copyEventType(t *shared.EventType) *shared.EventType {
	cp := *t
	cp.AllowedRoles = append([]string(nil), t.AllowedRoles...)
	return &cp
}

func (r *memEventTypes) List(ctx context.Context, activeOnly bool) ([]*shared.EventType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*shared.EventType{}
	for _, t := range r.items {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, copyEventType(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r *memEventTypes) Get(ctx context.Context, key string) (*shared.EventType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEventType(t), nil
}

func (r *memEventTypes) Insert(ctx context.Context, t *shared.EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.Key]; ok {
		return ErrDuplicate
	}
	r.items[t.Key] = copyEventType(t)
	return nil
}

func (r *memEventTypes) Update(ctx context.Context, t *shared.EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.Key]; !ok {
		return ErrNotFound
	}
	r.items[t.Key] = copyEventType(t)
	return nil
}

func (r *memEventTypes) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; !ok {
		return ErrNotFound
	}
	delete(r.items, key)
	return nil
}

// ============================================================================
// Settings and milestones
// ============================================================================

type memSettings struct {
	mu    sync.RWMutex
	items map[string]*shared.AcademicYearSettings // by academic year
}

func (r *memSettings) GetAcademicYear(ctx context.Context, academicYear string) (*shared.AcademicYearSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[academicYear]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSettings) SaveAcademicYear(ctx context.Context, s *shared.AcademicYearSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Key = shared.AcademicYearSettingsKey
	cp := *s
	r.items[s.AcademicYear] = &cp
	return nil
}

type memMilestones struct {
	mu    sync.RWMutex
	items []*shared.WeekMilestone
}

func (r *memMilestones) FindActive(ctx context.Context, academicYear string) (*shared.WeekMilestone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// newest first
	for i := len(r.items) - 1; i >= 0; i-- {
		m := r.items[i]
		if m.AcademicYear == academicYear && m.IsActive {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memMilestones) Insert(ctx context.Context, m *shared.WeekMilestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.ID == m.ID {
			return ErrDuplicate
		}
	}
	cp := *m
	r.items = append(r.items, &cp)
	return nil
}

func (r *memMilestones) DeactivateAll(ctx context.Context, academicYear string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.AcademicYear == academicYear {
			m.IsActive = false
		}
	}
	return nil
}
