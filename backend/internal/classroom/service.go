package classroom

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// ClassroomService manages classrooms and their homeroom teachers
type ClassroomService struct {
	store  *store.Store
	policy *policy.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewClassroomService creates a new ClassroomService instance
func NewClassroomService(st *store.Store, pol *policy.Policy, logger *zap.Logger) *ClassroomService {
	return &ClassroomService{
		store:  st,
		policy: pol,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// Views and requests
// ============================================================================

// TeacherSummary is the homeroom teacher attached to classroom views
type TeacherSummary struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email,omitempty"`
	TeacherCode string `json:"teacher_code,omitempty"`
}

// View is a classroom with its homeroom teacher resolved
type View struct {
	*shared.Classroom
	HomeroomTeacher *TeacherSummary `json:"homeroom_teacher"`
}

// DropdownItem is the compact classroom shape for select boxes
type DropdownItem struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	FullName          string `json:"full_name"`
	Grade             string `json:"grade"`
	HomeroomTeacherID string `json:"homeroom_teacher_id,omitempty"`
}

// ListQuery filters the classroom listing
type ListQuery struct {
	Search string
	Grade  string
	Page   shared.Page
}

// ListResult is a page of classrooms
type ListResult struct {
	Results    []View            `json:"results"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateRequest creates a classroom
type CreateRequest struct {
	Name              string `json:"name" validate:"required,notblank,max=32"`
	Grade             string `json:"grade" validate:"required,notblank,max=8"`
	HomeroomTeacherID string `json:"homeroom_teacher_id"`
}

// UpdateRequest patches a classroom. Nil fields are left alone; an empty
// homeroom_teacher_id unassigns the teacher.
type UpdateRequest struct {
	Name              *string `json:"name" validate:"omitempty,notblank,max=32"`
	Grade             *string `json:"grade" validate:"omitempty,notblank,max=8"`
	HomeroomTeacherID *string `json:"homeroom_teacher_id"`
}

// Stats summarises the registry
type Stats struct {
	TotalClassrooms        int64          `json:"total_classrooms"`
	WithHomeroomTeacher    int64          `json:"classrooms_with_teacher"`
	WithoutHomeroomTeacher int64          `json:"classrooms_without_teacher"`
	TotalStudents          int64          `json:"total_students"`
	ClassroomsByGrade      map[string]int `json:"classrooms_by_grade"`
}

// ============================================================================
// Reads
// ============================================================================

// List returns classrooms ordered by grade and full name
func (s *ClassroomService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	pg := q.Page.Normalize()
	filter := store.ClassroomFilter{Grade: strings.TrimSpace(q.Grade), Search: strings.TrimSpace(q.Search)}

	total, err := s.store.Classrooms.Count(ctx, filter)
	if err != nil {
		return nil, s.internal("count classrooms", err)
	}
	items, err := s.store.Classrooms.List(ctx, filter, pg.Skip(), pg.PageSize)
	if err != nil {
		return nil, s.internal("list classrooms", err)
	}

	views, err := s.views(ctx, items)
	if err != nil {
		return nil, err
	}
	return &ListResult{Results: views, Pagination: shared.NewPagination(pg, total)}, nil
}

// Dropdown lists every classroom in compact form
func (s *ClassroomService) Dropdown(ctx context.Context, withTeacher bool) ([]DropdownItem, error) {
	items, err := s.store.Classrooms.List(ctx, store.ClassroomFilter{}, 0, 0)
	if err != nil {
		return nil, s.internal("list classrooms", err)
	}
	out := make([]DropdownItem, 0, len(items))
	for _, c := range items {
		item := DropdownItem{ID: c.ID, Name: c.Name, FullName: c.FullName, Grade: c.Grade}
		if withTeacher {
			item.HomeroomTeacherID = c.HomeroomTeacherID
		}
		out = append(out, item)
	}
	return out, nil
}

// Get returns one classroom with its homeroom teacher
func (s *ClassroomService) Get(ctx context.Context, id string) (*View, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, []*shared.Classroom{c})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Stats counts classrooms and students
func (s *ClassroomService) Stats(ctx context.Context, actor *policy.Actor) (*Stats, error) {
	if err := s.policy.Authorize(actor, policy.ManageClassrooms, policy.Resource{}); err != nil {
		return nil, err
	}
	items, err := s.store.Classrooms.List(ctx, store.ClassroomFilter{}, 0, 0)
	if err != nil {
		return nil, s.internal("list classrooms", err)
	}
	students, err := s.store.Users.Count(ctx, store.UserFilter{Role: shared.RoleStudent})
	if err != nil {
		return nil, s.internal("count students", err)
	}

	st := &Stats{TotalClassrooms: int64(len(items)), TotalStudents: students, ClassroomsByGrade: map[string]int{}}
	for _, c := range items {
		if c.HomeroomTeacherID != "" {
			st.WithHomeroomTeacher++
		}
		st.ClassroomsByGrade[c.Grade]++
	}
	st.WithoutHomeroomTeacher = st.TotalClassrooms - st.WithHomeroomTeacher
	return st, nil
}

func (s *ClassroomService) load(ctx context.Context, id string) (*shared.Classroom, error) {
	c, err := s.store.Classrooms.Get(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "classroom not found")
		}
		return nil, s.internal("load classroom", err)
	}
	return c, nil
}

func (s *ClassroomService) views(ctx context.Context, items []*shared.Classroom) ([]View, error) {
	ids := []string{}
	for _, c := range items {
		if c.HomeroomTeacherID != "" {
			ids = append(ids, c.HomeroomTeacherID)
		}
	}
	teachers, err := s.store.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, s.internal("load teachers", err)
	}
	byID := make(map[string]*shared.User, len(teachers))
	for _, t := range teachers {
		byID[t.ID] = t
	}

	out := make([]View, 0, len(items))
	for _, c := range items {
		v := View{Classroom: c}
		if t, ok := byID[c.HomeroomTeacherID]; ok {
			v.HomeroomTeacher = &TeacherSummary{ID: t.ID, FullName: t.FullName, Email: t.Email, TeacherCode: t.TeacherCode}
		}
		out = append(out, v)
	}
	return out, nil
}

// ============================================================================
// Writes
// ============================================================================

// Create adds a classroom, optionally assigning its homeroom teacher
func (s *ClassroomService) Create(ctx context.Context, actor *policy.Actor, req *CreateRequest) (*View, error) {
	if err := s.policy.Authorize(actor, policy.ManageClassrooms, policy.Resource{}); err != nil {
		return nil, err
	}
	name, grade := strings.TrimSpace(req.Name), strings.TrimSpace(req.Grade)
	if name == "" || grade == "" {
		return nil, status.Error(codes.InvalidArgument, "name and grade are required")
	}

	now := s.now()
	c := &shared.Classroom{
		ID:        shared.GenerateID("cls"),
		Name:      name,
		Grade:     grade,
		FullName:  shared.ClassroomFullName(name, grade),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if req.HomeroomTeacherID != "" {
			if err := s.linkHomeroom(ctx, c, req.HomeroomTeacherID); err != nil {
				return err
			}
		}
		return s.store.Classrooms.Insert(ctx, c)
	})
	if err != nil {
		return nil, s.writeError("create classroom", err)
	}

	s.logger.Info("classroom created", zap.String("classroom_id", c.ID), zap.String("full_name", c.FullName))
	return s.Get(ctx, c.ID)
}

// Update patches name, grade and homeroom teacher
func (s *ClassroomService) Update(ctx context.Context, actor *policy.Actor, id string, req *UpdateRequest) (*View, error) {
	if err := s.policy.Authorize(actor, policy.ManageClassrooms, policy.Resource{}); err != nil {
		return nil, err
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.store.Classrooms.Get(ctx, id)
		if err != nil {
			return err
		}

		renamed := false
		if req.Name != nil {
			c.Name = strings.TrimSpace(*req.Name)
			renamed = true
		}
		if req.Grade != nil {
			c.Grade = strings.TrimSpace(*req.Grade)
			renamed = true
		}
		if renamed {
			if c.Name == "" || c.Grade == "" {
				return status.Error(codes.InvalidArgument, "name and grade cannot be empty")
			}
			c.FullName = shared.ClassroomFullName(c.Name, c.Grade)
		}
		c.UpdatedAt = s.now()

		if req.HomeroomTeacherID != nil {
			teacherID := strings.TrimSpace(*req.HomeroomTeacherID)
			if teacherID == "" {
				if err := s.unlinkHomeroom(ctx, c); err != nil {
					return err
				}
			} else if err := s.linkHomeroom(ctx, c, teacherID); err != nil {
				return err
			}
		}

		if err := s.store.Classrooms.Update(ctx, c); err != nil {
			return err
		}
		if renamed && c.HomeroomTeacherID != "" {
			return s.setTeacherClass(ctx, c.HomeroomTeacherID, c)
		}
		return nil
	})
	if err != nil {
		return nil, s.writeError("update classroom", err)
	}

	s.logger.Info("classroom updated", zap.String("classroom_id", id), zap.String("actor_id", actor.ID))
	return s.Get(ctx, id)
}

// Delete removes an empty classroom and frees its homeroom teacher
func (s *ClassroomService) Delete(ctx context.Context, actor *policy.Actor, id string) error {
	if err := s.policy.Authorize(actor, policy.ManageClassrooms, policy.Resource{}); err != nil {
		return err
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.store.Classrooms.Get(ctx, id)
		if err != nil {
			return err
		}
		students, err := s.store.Users.Count(ctx, store.UserFilter{Role: shared.RoleStudent, ClassroomID: id})
		if err != nil {
			return err
		}
		if students > 0 {
			return status.Errorf(codes.FailedPrecondition, "classroom still has %d students", students)
		}
		if err := s.unlinkHomeroom(ctx, c); err != nil {
			return err
		}
		return s.store.Classrooms.Delete(ctx, id)
	})
	if err != nil {
		return s.writeError("delete classroom", err)
	}

	s.logger.Info("classroom deleted", zap.String("classroom_id", id), zap.String("actor_id", actor.ID))
	return nil
}

// ============================================================================
// Homeroom linkage
// ============================================================================

// AssignHomeroom makes teacherID the homeroom teacher of classroomID. An
// empty teacherID frees the classroom. Callers outside this package use it
// when a teacher record names its class.
func (s *ClassroomService) AssignHomeroom(ctx context.Context, classroomID, teacherID string) error {
	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.store.Classrooms.Get(ctx, classroomID)
		if err != nil {
			return err
		}
		if teacherID == "" {
			err = s.unlinkHomeroom(ctx, c)
		} else {
			err = s.linkHomeroom(ctx, c, teacherID)
		}
		if err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return s.store.Classrooms.Update(ctx, c)
	})
	if err != nil {
		return s.writeError("assign homeroom teacher", err)
	}
	return nil
}

// ReleaseTeacher detaches teacherID from every classroom it leads
func (s *ClassroomService) ReleaseTeacher(ctx context.Context, teacherID string) error {
	classes, err := s.store.Classrooms.FindByHomeroomTeacher(ctx, teacherID)
	if err != nil {
		return errors.Wrap(err, "find homeroom classes")
	}
	for _, other := range classes {
		other.HomeroomTeacherID = ""
		other.UpdatedAt = s.now()
		if err := s.store.Classrooms.Update(ctx, other); err != nil {
			return errors.Wrapf(err, "release classroom %s", other.ID)
		}
	}
	return nil
}

// linkHomeroom sets c's teacher to teacherID. The previous teacher of c is
// cleared and teacherID leaves any other classroom, so a teacher leads at most
// one class. c itself is stored by the caller.
func (s *ClassroomService) linkHomeroom(ctx context.Context, c *shared.Classroom, teacherID string) error {
	teacher, err := s.store.Users.Get(ctx, teacherID)
	if err != nil {
		if store.IsNotFound(err) {
			return status.Error(codes.InvalidArgument, "homeroom teacher not found")
		}
		return err
	}
	if teacher.Role != shared.RoleTeacher {
		return status.Error(codes.InvalidArgument, "homeroom teacher must have the teacher role")
	}

	if c.HomeroomTeacherID != "" && c.HomeroomTeacherID != teacherID {
		if err := s.clearTeacherClass(ctx, c.HomeroomTeacherID); err != nil {
			return err
		}
	}

	classes, err := s.store.Classrooms.FindByHomeroomTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	for _, other := range classes {
		if other.ID == c.ID {
			continue
		}
		other.HomeroomTeacherID = ""
		other.UpdatedAt = s.now()
		if err := s.store.Classrooms.Update(ctx, other); err != nil {
			return err
		}
	}

	c.HomeroomTeacherID = teacherID
	return s.setTeacherClass(ctx, teacherID, c)
}

func (s *ClassroomService) unlinkHomeroom(ctx context.Context, c *shared.Classroom) error {
	if c.HomeroomTeacherID == "" {
		return nil
	}
	if err := s.clearTeacherClass(ctx, c.HomeroomTeacherID); err != nil {
		return err
	}
	c.HomeroomTeacherID = ""
	return nil
}

func (s *ClassroomService) setTeacherClass(ctx context.Context, teacherID string, c *shared.Classroom) error {
	t, err := s.store.Users.Get(ctx, teacherID)
	if err != nil {
		return err
	}
	t.HomeroomClassID = c.ID
	t.HomeroomClass = c.FullName
	t.UpdatedAt = s.now()
	return s.store.Users.Update(ctx, t)
}

func (s *ClassroomService) clearTeacherClass(ctx context.Context, teacherID string) error {
	t, err := s.store.Users.Get(ctx, teacherID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	t.HomeroomClassID = ""
	t.HomeroomClass = ""
	t.UpdatedAt = s.now()
	return s.store.Users.Update(ctx, t)
}

// ============================================================================
// Errors
// ============================================================================

// writeError keeps status errors raised inside transactions and maps store
// sentinels to codes
func (s *ClassroomService) writeError(op string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case store.IsNotFound(err):
		return status.Error(codes.NotFound, "classroom not found")
	case errors.Is(err, store.ErrDuplicate):
		return status.Error(codes.AlreadyExists, "classroom already exists")
	}
	return s.internal(op, err)
}

func (s *ClassroomService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return status.Error(codes.Internal, op+" failed")
}
