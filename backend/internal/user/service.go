package user

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// HomeroomAssigner links teachers and classrooms
type HomeroomAssigner interface {
	AssignHomeroom(ctx context.Context, classroomID, teacherID string) error
	ReleaseTeacher(ctx context.Context, teacherID string) error
}

// UserService manages teacher and student accounts
type UserService struct {
	store      *store.Store
	policy     *policy.Policy
	classrooms HomeroomAssigner
	config     *shared.ServiceConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewUserService creates a new UserService instance
func NewUserService(st *store.Store, pol *policy.Policy, classrooms HomeroomAssigner, config *shared.ServiceConfig, logger *zap.Logger) *UserService {
	return &UserService{
		store:      st,
		policy:     pol,
		classrooms: classrooms,
		config:     config,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// Profile
// ============================================================================

// Profile returns the account of the caller
func (s *UserService) Profile(ctx context.Context, actor *policy.Actor) (*shared.User, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	u, err := s.store.Users.Get(ctx, actor.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, s.internal("load profile", err)
	}
	return u, nil
}

// ============================================================================
// Shared helpers
// ============================================================================

// ListResult is a page of users
type ListResult struct {
	Results     []*shared.User    `json:"results"`
	Pagination  shared.Pagination `json:"pagination"`
	MaleCount   int64             `json:"male_count,omitempty"`
	FemaleCount int64             `json:"female_count,omitempty"`
}

func (s *UserService) list(ctx context.Context, filter store.UserFilter, page shared.Page) (*ListResult, error) {
	pg := page.Normalize()
	total, err := s.store.Users.Count(ctx, filter)
	if err != nil {
		return nil, s.internal("count users", err)
	}
	items, err := s.store.Users.List(ctx, filter, pg.Skip(), pg.PageSize)
	if err != nil {
		return nil, s.internal("list users", err)
	}
	return &ListResult{Results: items, Pagination: shared.NewPagination(pg, total)}, nil
}

func (s *UserService) loadRole(ctx context.Context, id, role string) (*shared.User, error) {
	u, err := s.store.Users.Get(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Errorf(codes.NotFound, "%s not found", role)
		}
		return nil, s.internal("load user", err)
	}
	if u.Role != role {
		return nil, status.Errorf(codes.NotFound, "%s not found", role)
	}
	return u, nil
}

func (s *UserService) hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), s.config.Security.BCryptCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}

func generateRandomPassword() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// teacherCode derives initials from a full name: "Nguyen Thi Hoa" -> "NTH"
func teacherCode(fullName string) string {
	code := ""
	for _, part := range strings.Fields(fullName) {
		code += strings.ToUpper(string([]rune(part)[0]))
	}
	if code == "" {
		return "GV"
	}
	return code
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// writeError keeps status errors raised inside transactions and maps store
// sentinels to codes
func (s *UserService) writeError(op string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case store.IsNotFound(err):
		return status.Error(codes.NotFound, "record not found")
	case errors.Is(err, store.ErrDuplicate):
		return status.Error(codes.AlreadyExists, "email already in use")
	}
	return s.internal(op, err)
}

func (s *UserService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return status.Error(codes.Internal, op+" failed")
}
