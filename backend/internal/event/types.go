package event

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// EventTypeRequest creates or updates an event type
type EventTypeRequest struct {
	Key           string   `json:"key" validate:"required,notblank,max=64"`
	Name          string   `json:"name" validate:"required,notblank"`
	Category      string   `json:"category" validate:"required,oneof=violation bonus attendance"`
	DefaultPoints int      `json:"default_points"`
	AllowedRoles  []string `json:"allowed_roles" validate:"required,min=1,dive,oneof=teacher student both all dorm_supervisor"`
	Description   string   `json:"description"`
	IsActive      *bool    `json:"is_active"`
}

// ListTypes returns active event types. Students only see the types they
// may record; anonymous callers see everything.
func (s *EventService) ListTypes(ctx context.Context, actor *policy.Actor) ([]*shared.EventType, error) {
	types, err := s.store.EventTypes.List(ctx, true)
	if err != nil {
		return nil, s.internal("list event types", err)
	}
	if !actor.HasRole(shared.RoleStudent) {
		return types, nil
	}

	out := make([]*shared.EventType, 0, len(types))
	for _, t := range types {
		if t.AllowsRole(shared.RoleStudent) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetType returns one event type by key
func (s *EventService) GetType(ctx context.Context, key string) (*shared.EventType, error) {
	t, err := s.store.EventTypes.Get(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "event type not found")
		}
		return nil, s.internal("load event type", err)
	}
	return t, nil
}

// CreateType registers a new event type
func (s *EventService) CreateType(ctx context.Context, actor *policy.Actor, req *EventTypeRequest) (*shared.EventType, error) {
	if err := s.policy.Authorize(actor, policy.ManageEventTypes, policy.Resource{}); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.Key)
	if key == shared.CustomBonusKey {
		return nil, status.Errorf(codes.InvalidArgument, "%q is reserved", key)
	}

	now := s.now()
	t := &shared.EventType{
		Key:           key,
		Name:          strings.TrimSpace(req.Name),
		Category:      req.Category,
		DefaultPoints: req.DefaultPoints,
		AllowedRoles:  req.AllowedRoles,
		Description:   req.Description,
		IsActive:      req.IsActive == nil || *req.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.EventTypes.Insert(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, status.Error(codes.AlreadyExists, "event type already exists")
		}
		return nil, s.internal("create event type", err)
	}

	s.logger.Info("event type created", zap.String("key", t.Key), zap.String("actor_id", actor.ID))
	return t, nil
}

// UpdateType overwrites the mutable fields of an event type. The key is
// taken from the path and never changes.
func (s *EventService) UpdateType(ctx context.Context, actor *policy.Actor, key string, req *EventTypeRequest) (*shared.EventType, error) {
	if err := s.policy.Authorize(actor, policy.ManageEventTypes, policy.Resource{}); err != nil {
		return nil, err
	}
	t, err := s.GetType(ctx, key)
	if err != nil {
		return nil, err
	}

	t.Name = strings.TrimSpace(req.Name)
	t.Category = req.Category
	t.DefaultPoints = req.DefaultPoints
	t.AllowedRoles = req.AllowedRoles
	t.Description = req.Description
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	t.UpdatedAt = s.now()

	if err := s.store.EventTypes.Update(ctx, t); err != nil {
		return nil, s.internal("update event type", err)
	}
	return t, nil
}

// DeleteType removes an event type. Entries already recorded keep their key.
func (s *EventService) DeleteType(ctx context.Context, actor *policy.Actor, key string) error {
	if err := s.policy.Authorize(actor, policy.ManageEventTypes, policy.Resource{}); err != nil {
		return err
	}
	if err := s.store.EventTypes.Delete(ctx, key); err != nil {
		if store.IsNotFound(err) {
			return status.Error(codes.NotFound, "event type not found")
		}
		return s.internal("delete event type", err)
	}
	s.logger.Info("event type deleted", zap.String("key", key), zap.String("actor_id", actor.ID))
	return nil
}
