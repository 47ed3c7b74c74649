package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/shared"
)

var (
	admin   = &Actor{ID: "a1", Role: shared.RoleAdmin}
	teacher = &Actor{ID: "t1", Role: shared.RoleTeacher, HomeroomClassIDs: []string{"c1"}}
	student = &Actor{ID: "s1", Role: shared.RoleStudent, ClassroomID: "c1"}
	dorm    = &Actor{ID: "d1", Role: shared.RoleDormSupervisor}
)

func TestPolicy_SuddenPeriods(t *testing.T) {
	p := New(shared.RankingAccessAdmin)
	res := Resource{ClassroomID: "c1"}

	assert.True(t, p.Can(admin, WriteSuddenPeriod, res))
	assert.True(t, p.Can(dorm, WriteSuddenPeriod, res))
	assert.False(t, p.Can(teacher, WriteSuddenPeriod, res))
	assert.False(t, p.Can(student, WriteSuddenPeriod, res))
}

func TestPolicy_Approval(t *testing.T) {
	p := New(shared.RankingAccessAdmin)

	assert.True(t, p.Can(admin, ApproveEventDay, Resource{ClassroomID: "c9"}))
	assert.True(t, p.Can(teacher, ApproveEventDay, Resource{ClassroomID: "c1"}))
	assert.False(t, p.Can(teacher, ApproveEventDay, Resource{ClassroomID: "c2"}))
	assert.False(t, p.Can(student, ApproveEventDay, Resource{ClassroomID: "c1"}))
	assert.False(t, p.Can(dorm, ApproveEventDay, Resource{ClassroomID: "c1"}))

	err := p.Authorize(teacher, ApproveEventDay, Resource{ClassroomID: "c2"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestPolicy_StudentWritesOwnClassroomOnly(t *testing.T) {
	p := New(shared.RankingAccessAdmin)

	assert.True(t, p.Can(student, WriteEvents, Resource{ClassroomID: "c1"}))
	assert.False(t, p.Can(student, WriteEvents, Resource{ClassroomID: "c2"}))
	assert.True(t, p.Can(teacher, WriteEvents, Resource{ClassroomID: "c2"}))
	assert.False(t, p.Can(nil, WriteEvents, Resource{ClassroomID: "c1"}))
}

func TestPolicy_RankingAccessModes(t *testing.T) {
	tests := []struct {
		mode    string
		actor   *Actor
		allowed bool
	}{
		{shared.RankingAccessAdmin, admin, true},
		{shared.RankingAccessAdmin, teacher, false},
		{shared.RankingAccessAdmin, nil, false},
		{shared.RankingAccessAuthenticated, student, true},
		{shared.RankingAccessAuthenticated, nil, false},
		{shared.RankingAccessPublic, nil, true},
		{"bogus", teacher, false},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			p := New(tt.mode)
			assert.Equal(t, tt.allowed, p.Can(tt.actor, ViewRanking, Resource{}))
		})
	}

	err := New(shared.RankingAccessAuthenticated).Authorize(nil, ViewRanking, Resource{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestPolicy_AdminOnlyActions(t *testing.T) {
	p := New(shared.RankingAccessAdmin)
	for _, action := range []Action{ManageClassrooms, ManageTeachers, ManageEventTypes, ManageCalendar} {
		assert.True(t, p.Can(admin, action, Resource{}), action)
		assert.False(t, p.Can(teacher, action, Resource{ClassroomID: "c1"}), action)
		assert.False(t, p.Can(dorm, action, Resource{}), action)
	}

	assert.True(t, p.Can(teacher, ManageStudents, Resource{ClassroomID: "c1"}))
	assert.False(t, p.Can(teacher, ManageStudents, Resource{ClassroomID: "c3"}))
}
