// Package policy decides which actor may perform which action on which
// classroom. Services ask it instead of comparing role strings themselves.
package policy

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/shared"
)

// Action is a capability checked by Authorize
type Action string

const (
	WriteEvents       Action = "events:write"
	WriteSuddenPeriod Action = "events:write_sudden"
	ApproveEventDay   Action = "events:approve"
	ViewRanking       Action = "rankings:view"
	ReadClassroom     Action = "classrooms:read"
	ManageClassrooms  Action = "classrooms:manage"
	ManageTeachers    Action = "teachers:manage"
	ManageStudents    Action = "students:manage"
	ManageEventTypes  Action = "event_types:manage"
	ManageCalendar    Action = "calendar:manage"
)

// Actor is the authenticated caller. A nil *Actor is an anonymous caller.
type Actor struct {
	ID       string
	Role     string
	FullName string

	// ClassroomID is set for students
	ClassroomID string
	// HomeroomClassIDs lists the classrooms a teacher is homeroom teacher of
	HomeroomClassIDs []string
}

// IsHomeroomTeacherOf reports whether the actor is a teacher owning classroomID
func (a *Actor) IsHomeroomTeacherOf(classroomID string) bool {
	if a == nil || a.Role != shared.RoleTeacher || classroomID == "" {
		return false
	}
	for _, id := range a.HomeroomClassIDs {
		if id == classroomID {
			return true
		}
	}
	return false
}

// HasRole reports whether the actor holds one of roles
func (a *Actor) HasRole(roles ...string) bool {
	if a == nil {
		return false
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Resource is what an action targets
type Resource struct {
	ClassroomID string
}

// Policy holds the deployment-specific rules
type Policy struct {
	rankingAccess string
}

// New builds a policy. rankingAccess is one of shared.RankingAccess*;
// anything unknown falls back to admin-only.
func New(rankingAccess string) *Policy {
	switch rankingAccess {
	case shared.RankingAccessPublic, shared.RankingAccessAuthenticated:
	default:
		rankingAccess = shared.RankingAccessAdmin
	}
	return &Policy{rankingAccess: rankingAccess}
}

// RankingIsPublic tells the router whether ranking routes skip authentication
func (p *Policy) RankingIsPublic() bool {
	return p.rankingAccess == shared.RankingAccessPublic
}

// Can reports whether actor may perform action on res
func (p *Policy) Can(actor *Actor, action Action, res Resource) bool {
	if action == ViewRanking {
		switch p.rankingAccess {
		case shared.RankingAccessPublic:
			return true
		case shared.RankingAccessAuthenticated:
			return actor != nil
		default:
			return actor.HasRole(shared.RoleAdmin)
		}
	}

	if actor == nil {
		return false
	}
	if actor.Role == shared.RoleAdmin {
		return true
	}

	switch action {
	case WriteEvents:
		switch actor.Role {
		case shared.RoleStudent:
			return res.ClassroomID != "" && res.ClassroomID == actor.ClassroomID
		case shared.RoleTeacher, shared.RoleDormSupervisor:
			return true
		}
	case WriteSuddenPeriod:
		return actor.Role == shared.RoleDormSupervisor
	case ReadClassroom:
		switch actor.Role {
		case shared.RoleDormSupervisor:
			return true
		case shared.RoleTeacher:
			return actor.IsHomeroomTeacherOf(res.ClassroomID)
		case shared.RoleStudent:
			return res.ClassroomID != "" && res.ClassroomID == actor.ClassroomID
		}
	case ApproveEventDay, ManageStudents:
		return actor.IsHomeroomTeacherOf(res.ClassroomID)
	}
	return false
}

// Authorize is Can returning a gRPC status error: Unauthenticated for
// anonymous callers, PermissionDenied otherwise.
func (p *Policy) Authorize(actor *Actor, action Action, res Resource) error {
	if p.Can(actor, action, res) {
		return nil
	}
	if actor == nil {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	return status.Error(codes.PermissionDenied, deniedMessage(action))
}

func deniedMessage(action Action) string {
	switch action {
	case WriteEvents:
		return "you can only record events for your own classroom"
	case WriteSuddenPeriod:
		return "only admins and dorm supervisors can record sudden violations or bonuses"
	case ApproveEventDay:
		return "only admins or the homeroom teacher of this classroom can approve its events"
	case ViewRanking:
		return "you are not allowed to view rankings"
	case ManageStudents:
		return "only admins or the homeroom teacher can manage students of this classroom"
	case ReadClassroom:
		return "you cannot view records of this classroom"
	default:
		return "admin privileges required"
	}
}
