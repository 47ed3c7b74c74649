package user

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// StudentQuery filters the student listing
type StudentQuery struct {
	ClassroomID string
	Gender      string
	Search      string
	Page        shared.Page
}

// StudentOption is the compact student shape for select boxes
type StudentOption struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	StudentCode string `json:"student_code,omitempty"`
	ClassroomID string `json:"classroom_id"`
}

// CreateStudentRequest creates a student. Students without a password get
// no login.
type CreateStudentRequest struct {
	FullName    string `json:"full_name" validate:"required,notblank,max=128"`
	Email       string `json:"email" validate:"omitempty,email"`
	Password    string `json:"password" validate:"omitempty,min=6"`
	StudentCode string `json:"student_code" validate:"max=32"`
	ClassroomID string `json:"classroom_id" validate:"required"`
	Gender      string `json:"gender" validate:"omitempty,oneof=male female"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,isodate"`
}

// UpdateStudentRequest patches a student. Nil fields are left alone.
type UpdateStudentRequest struct {
	FullName    *string `json:"full_name" validate:"omitempty,notblank,max=128"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Password    *string `json:"password" validate:"omitempty,min=6"`
	StudentCode *string `json:"student_code" validate:"omitempty,max=32"`
	ClassroomID *string `json:"classroom_id" validate:"omitempty,notblank"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,isodate"`
	IsActive    *bool   `json:"is_active"`
}

// Roster is the student list of the caller's own classroom
type Roster struct {
	Classroom *shared.Classroom `json:"classroom"`
	ListResult
}

// ============================================================================
// Reads
// ============================================================================

// ListStudents returns students ordered by name. Students only see their own
// classroom. Gender counts ignore the gender filter.
func (s *UserService) ListStudents(ctx context.Context, actor *policy.Actor, q StudentQuery) (*ListResult, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	classroomID := strings.TrimSpace(q.ClassroomID)
	if actor.Role == shared.RoleStudent {
		classroomID = actor.ClassroomID
	}
	return s.studentPage(ctx, classroomID, q)
}

// StudentDropdown lists students of classroomID in compact form
func (s *UserService) StudentDropdown(ctx context.Context, actor *policy.Actor, classroomID string) ([]StudentOption, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if actor.Role == shared.RoleStudent {
		classroomID = actor.ClassroomID
	}
	items, err := s.store.Users.List(ctx, store.UserFilter{Role: shared.RoleStudent, ClassroomID: strings.TrimSpace(classroomID)}, 0, 0)
	if err != nil {
		return nil, s.internal("list students", err)
	}
	out := make([]StudentOption, 0, len(items))
	for _, u := range items {
		out = append(out, StudentOption{ID: u.ID, FullName: u.FullName, StudentCode: u.StudentCode, ClassroomID: u.ClassroomID})
	}
	return out, nil
}

// GetStudent returns one student. Students may read themselves; everyone
// else needs read access to the student's classroom.
func (s *UserService) GetStudent(ctx context.Context, actor *policy.Actor, id string) (*shared.User, error) {
	st, err := s.loadRole(ctx, id, shared.RoleStudent)
	if err != nil {
		return nil, err
	}
	if actor != nil && actor.ID == st.ID {
		return st, nil
	}
	if err := s.policy.Authorize(actor, policy.ReadClassroom, policy.Resource{ClassroomID: st.ClassroomID}); err != nil {
		return nil, err
	}
	return st, nil
}

// MyClassroom returns the roster of the teacher's homeroom class or the
// student's own class
func (s *UserService) MyClassroom(ctx context.Context, actor *policy.Actor, q StudentQuery) (*Roster, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	classroomID := ""
	switch actor.Role {
	case shared.RoleTeacher:
		if len(actor.HomeroomClassIDs) > 0 {
			classroomID = actor.HomeroomClassIDs[0]
		}
	case shared.RoleStudent:
		classroomID = actor.ClassroomID
	}
	if classroomID == "" {
		return nil, status.Error(codes.NotFound, "you are not assigned to a classroom")
	}

	c, err := s.store.Classrooms.Get(ctx, classroomID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "classroom not found")
		}
		return nil, s.internal("load classroom", err)
	}
	page, err := s.studentPage(ctx, classroomID, q)
	if err != nil {
		return nil, err
	}
	return &Roster{Classroom: c, ListResult: *page}, nil
}

func (s *UserService) studentPage(ctx context.Context, classroomID string, q StudentQuery) (*ListResult, error) {
	filter := store.UserFilter{
		Role:        shared.RoleStudent,
		ClassroomID: classroomID,
		Search:      strings.TrimSpace(q.Search),
	}
	if q.Gender == GenderMale || q.Gender == GenderFemale {
		filter.Gender = q.Gender
	}
	res, err := s.list(ctx, filter, q.Page)
	if err != nil {
		return nil, err
	}

	filter.Gender = GenderMale
	if res.MaleCount, err = s.store.Users.Count(ctx, filter); err != nil {
		return nil, s.internal("count students", err)
	}
	filter.Gender = GenderFemale
	if res.FemaleCount, err = s.store.Users.Count(ctx, filter); err != nil {
		return nil, s.internal("count students", err)
	}
	return res, nil
}

// ============================================================================
// Writes
// ============================================================================

// CreateStudent adds a student to a classroom and bumps its student count.
// Teachers may only add students to their homeroom class.
func (s *UserService) CreateStudent(ctx context.Context, actor *policy.Actor, req *CreateStudentRequest) (*shared.User, error) {
	classroomID := strings.TrimSpace(req.ClassroomID)
	if err := s.policy.Authorize(actor, policy.ManageStudents, policy.Resource{ClassroomID: classroomID}); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" || classroomID == "" {
		return nil, status.Error(codes.InvalidArgument, "full_name and classroom_id are required")
	}
	if err := s.requireClassroom(ctx, classroomID); err != nil {
		return nil, err
	}

	now := s.now()
	st := &shared.User{
		ID:          shared.GenerateID("usr"),
		Role:        shared.RoleStudent,
		FullName:    fullName,
		Email:       normalizeEmail(req.Email),
		IsActive:    true,
		StudentCode: strings.TrimSpace(req.StudentCode),
		ClassroomID: classroomID,
		Gender:      req.Gender,
		DateOfBirth: req.DateOfBirth,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Password != "" {
		hash, err := s.hashPassword(req.Password)
		if err != nil {
			return nil, s.internal("hash password", err)
		}
		st.PasswordHash = hash
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Users.Insert(ctx, st); err != nil {
			return err
		}
		return s.store.Classrooms.IncrementStudentCount(ctx, classroomID, 1)
	})
	if err != nil {
		return nil, s.writeError("create student", err)
	}

	s.logger.Info("student created",
		zap.String("student_id", st.ID),
		zap.String("classroom_id", classroomID),
		zap.String("actor_id", actor.ID),
	)
	return s.loadRole(ctx, st.ID, shared.RoleStudent)
}

// UpdateStudent patches a student. Moving a student needs manage rights on
// both classrooms and moves one unit of student count.
func (s *UserService) UpdateStudent(ctx context.Context, actor *policy.Actor, id string, req *UpdateStudentRequest) (*shared.User, error) {
	st, err := s.loadRole(ctx, id, shared.RoleStudent)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, policy.ManageStudents, policy.Resource{ClassroomID: st.ClassroomID}); err != nil {
		return nil, err
	}

	from := st.ClassroomID
	if req.ClassroomID != nil {
		to := strings.TrimSpace(*req.ClassroomID)
		if to != from {
			if err := s.policy.Authorize(actor, policy.ManageStudents, policy.Resource{ClassroomID: to}); err != nil {
				return nil, err
			}
			if err := s.requireClassroom(ctx, to); err != nil {
				return nil, err
			}
			st.ClassroomID = to
		}
	}
	if req.FullName != nil {
		st.FullName = strings.TrimSpace(*req.FullName)
		if st.FullName == "" {
			return nil, status.Error(codes.InvalidArgument, "full_name cannot be empty")
		}
	}
	if req.Email != nil {
		st.Email = normalizeEmail(*req.Email)
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return nil, s.internal("hash password", err)
		}
		st.PasswordHash = hash
	}
	if req.StudentCode != nil {
		st.StudentCode = strings.TrimSpace(*req.StudentCode)
	}
	if req.Gender != nil {
		st.Gender = *req.Gender
	}
	if req.DateOfBirth != nil {
		st.DateOfBirth = *req.DateOfBirth
	}
	if req.IsActive != nil {
		st.IsActive = *req.IsActive
	}
	st.UpdatedAt = s.now()

	err = s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Users.Update(ctx, st); err != nil {
			return err
		}
		if st.ClassroomID == from {
			return nil
		}
		if from != "" {
			if err := s.store.Classrooms.IncrementStudentCount(ctx, from, -1); err != nil && !store.IsNotFound(err) {
				return err
			}
		}
		return s.store.Classrooms.IncrementStudentCount(ctx, st.ClassroomID, 1)
	})
	if err != nil {
		return nil, s.writeError("update student", err)
	}

	s.logger.Info("student updated", zap.String("student_id", id), zap.String("actor_id", actor.ID))
	return s.loadRole(ctx, id, shared.RoleStudent)
}

// DeleteStudent removes a student and decrements its classroom's count
func (s *UserService) DeleteStudent(ctx context.Context, actor *policy.Actor, id string) error {
	st, err := s.loadRole(ctx, id, shared.RoleStudent)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(actor, policy.ManageStudents, policy.Resource{ClassroomID: st.ClassroomID}); err != nil {
		return err
	}

	err = s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Users.Delete(ctx, id); err != nil {
			return err
		}
		if st.ClassroomID == "" {
			return nil
		}
		if err := s.store.Classrooms.IncrementStudentCount(ctx, st.ClassroomID, -1); err != nil && !store.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return s.writeError("delete student", err)
	}

	s.logger.Info("student deleted", zap.String("student_id", id), zap.String("actor_id", actor.ID))
	return nil
}

func (s *UserService) requireClassroom(ctx context.Context, id string) error {
	if _, err := s.store.Classrooms.Get(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return status.Error(codes.NotFound, "classroom not found")
		}
		return s.internal("load classroom", err)
	}
	return nil
}
