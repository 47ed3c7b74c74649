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

// TeacherQuery filters the teacher listing
type TeacherQuery struct {
	Search  string
	Subject string
	Page    shared.Page
}

// CreateTeacherRequest creates a teacher account
type CreateTeacherRequest struct {
	FullName        string `json:"full_name" validate:"required,notblank,max=128"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"omitempty,min=6"`
	TeacherCode     string `json:"teacher_code" validate:"max=16"`
	Subject         string `json:"subject" validate:"max=64"`
	HomeroomClassID string `json:"homeroom_class_id"`
}

// UpdateTeacherRequest patches a teacher. Nil fields are left alone; an empty
// homeroom_class_id releases the teacher's classroom.
type UpdateTeacherRequest struct {
	FullName        *string `json:"full_name" validate:"omitempty,notblank,max=128"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Password        *string `json:"password" validate:"omitempty,min=6"`
	TeacherCode     *string `json:"teacher_code" validate:"omitempty,max=16"`
	Subject         *string `json:"subject" validate:"omitempty,max=64"`
	HomeroomClassID *string `json:"homeroom_class_id"`
	IsActive        *bool   `json:"is_active"`
}

// CreatedTeacher is returned once after creation. InitialPassword is only
// set when the password was generated.
type CreatedTeacher struct {
	Teacher         *shared.User `json:"teacher"`
	InitialPassword string       `json:"initial_password,omitempty"`
}

// ListTeachers returns teachers ordered by name
func (s *UserService) ListTeachers(ctx context.Context, actor *policy.Actor, q TeacherQuery) (*ListResult, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return s.list(ctx, store.UserFilter{
		Role:    shared.RoleTeacher,
		Search:  strings.TrimSpace(q.Search),
		Subject: strings.TrimSpace(q.Subject),
	}, q.Page)
}

// GetTeacher returns one teacher
func (s *UserService) GetTeacher(ctx context.Context, actor *policy.Actor, id string) (*shared.User, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return s.loadRole(ctx, id, shared.RoleTeacher)
}

// CreateTeacher adds a teacher account. A password is generated when the
// request carries none.
func (s *UserService) CreateTeacher(ctx context.Context, actor *policy.Actor, req *CreateTeacherRequest) (*CreatedTeacher, error) {
	if err := s.policy.Authorize(actor, policy.ManageTeachers, policy.Resource{}); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	email := normalizeEmail(req.Email)
	if fullName == "" || email == "" {
		return nil, status.Error(codes.InvalidArgument, "full_name and email are required")
	}

	generated := ""
	password := req.Password
	if password == "" {
		generated = generateRandomPassword()
		password = generated
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, s.internal("hash password", err)
	}

	code := strings.TrimSpace(req.TeacherCode)
	if code == "" {
		code = teacherCode(fullName)
	}

	now := s.now()
	t := &shared.User{
		ID:           shared.GenerateID("usr"),
		Role:         shared.RoleTeacher,
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		TeacherCode:  code,
		Subject:      strings.TrimSpace(req.Subject),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users.Insert(ctx, t); err != nil {
		return nil, s.writeError("create teacher", err)
	}

	if req.HomeroomClassID != "" {
		if err := s.classrooms.AssignHomeroom(ctx, req.HomeroomClassID, t.ID); err != nil {
			s.logger.Warn("homeroom assignment failed after teacher creation",
				zap.String("teacher_id", t.ID), zap.String("classroom_id", req.HomeroomClassID), zap.Error(err))
			return nil, err
		}
	}

	s.logger.Info("teacher created", zap.String("teacher_id", t.ID), zap.String("actor_id", actor.ID))
	created, err := s.loadRole(ctx, t.ID, shared.RoleTeacher)
	if err != nil {
		return nil, err
	}
	return &CreatedTeacher{Teacher: created, InitialPassword: generated}, nil
}

// UpdateTeacher patches a teacher account
func (s *UserService) UpdateTeacher(ctx context.Context, actor *policy.Actor, id string, req *UpdateTeacherRequest) (*shared.User, error) {
	if err := s.policy.Authorize(actor, policy.ManageTeachers, policy.Resource{}); err != nil {
		return nil, err
	}
	t, err := s.loadRole(ctx, id, shared.RoleTeacher)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		t.FullName = strings.TrimSpace(*req.FullName)
		if t.FullName == "" {
			return nil, status.Error(codes.InvalidArgument, "full_name cannot be empty")
		}
	}
	if req.Email != nil {
		t.Email = normalizeEmail(*req.Email)
		if t.Email == "" {
			return nil, status.Error(codes.InvalidArgument, "email cannot be empty")
		}
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := s.hashPassword(*req.Password)
		if err != nil {
			return nil, s.internal("hash password", err)
		}
		t.PasswordHash = hash
	}
	if req.TeacherCode != nil {
		t.TeacherCode = strings.TrimSpace(*req.TeacherCode)
	}
	if req.Subject != nil {
		t.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	t.UpdatedAt = s.now()
	if err := s.store.Users.Update(ctx, t); err != nil {
		return nil, s.writeError("update teacher", err)
	}

	if req.HomeroomClassID != nil {
		classID := strings.TrimSpace(*req.HomeroomClassID)
		switch {
		case classID == "" && t.HomeroomClassID != "":
			err = s.classrooms.AssignHomeroom(ctx, t.HomeroomClassID, "")
		case classID != "" && classID != t.HomeroomClassID:
			err = s.classrooms.AssignHomeroom(ctx, classID, t.ID)
		}
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("teacher updated", zap.String("teacher_id", id), zap.String("actor_id", actor.ID))
	return s.loadRole(ctx, id, shared.RoleTeacher)
}

// DeleteTeacher removes a teacher and frees the classroom it leads
func (s *UserService) DeleteTeacher(ctx context.Context, actor *policy.Actor, id string) error {
	if err := s.policy.Authorize(actor, policy.ManageTeachers, policy.Resource{}); err != nil {
		return err
	}
	if _, err := s.loadRole(ctx, id, shared.RoleTeacher); err != nil {
		return err
	}

	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.classrooms.ReleaseTeacher(ctx, id); err != nil {
			return err
		}
		return s.store.Users.Delete(ctx, id)
	})
	if err != nil {
		return s.writeError("delete teacher", err)
	}

	s.logger.Info("teacher deleted", zap.String("teacher_id", id), zap.String("actor_id", actor.ID))
	return nil
}
