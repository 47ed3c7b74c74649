package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

var admin = &policy.Actor{ID: "a1", Role: shared.RoleAdmin}

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*UserService, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, c := range []*shared.Classroom{
		{ID: "c1", Name: "A1", FullName: "10A1", Grade: "10"},
		{ID: "c2", Name: "A2", FullName: "10A2", Grade: "10"},
	} {
		require.NoError(t, st.Classrooms.Insert(ctx, c))
	}
	require.NoError(t, st.Users.Insert(ctx, &shared.User{ID: "a1", Role: shared.RoleAdmin, FullName: "Admin", Email: "admin@school.edu", IsActive: true}))

	pol := policy.New(shared.RankingAccessAdmin)
	classrooms := classroom.NewClassroomService(st, pol, zap.NewNop())
	cfg := &shared.ServiceConfig{Security: shared.SecurityConfig{BCryptCost: bcrypt.MinCost}}
	return NewUserService(st, pol, classrooms, cfg, zap.NewNop()), st
}

func TestTeacherCode(t *testing.T) {
	assert.Equal(t, "NTH", teacherCode("Nguyen Thi Hoa"))
	assert.Equal(t, "L", teacherCode("  le "))
	assert.Equal(t, "GV", teacherCode(""))
}

func TestUserService_Teachers(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)

	var created *CreatedTeacher

	t.Run("Create generates a password once", func(t *testing.T) {
		var err error
		created, err = svc.CreateTeacher(ctx, admin, &CreateTeacherRequest{
			FullName:        "Nguyen Thi Hoa",
			Email:           " Hoa@School.edu ",
			Subject:         "math",
			HomeroomClassID: "c1",
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.InitialPassword)

		teacher := created.Teacher
		assert.Equal(t, "hoa@school.edu", teacher.Email)
		assert.Equal(t, "NTH", teacher.TeacherCode)
		assert.Equal(t, "c1", teacher.HomeroomClassID)
		assert.Equal(t, "10A1", teacher.HomeroomClass)

		stored, err := st.Users.Get(ctx, teacher.ID)
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(created.InitialPassword)))

		c, _ := st.Classrooms.Get(ctx, "c1")
		assert.Equal(t, teacher.ID, c.HomeroomTeacherID)
	})

	t.Run("Explicit password is not echoed", func(t *testing.T) {
		res, err := svc.CreateTeacher(ctx, admin, &CreateTeacherRequest{FullName: "Tran Binh", Email: "binh@school.edu", Password: "secret123", Subject: "physics"})
		require.NoError(t, err)
		assert.Empty(t, res.InitialPassword)
	})

	t.Run("Duplicate email", func(t *testing.T) {
		_, err := svc.CreateTeacher(ctx, admin, &CreateTeacherRequest{FullName: "Other", Email: "hoa@school.edu"})
		assert.Equal(t, codes.AlreadyExists, status.Code(err))
	})

	t.Run("Only admins create teachers", func(t *testing.T) {
		_, err := svc.CreateTeacher(ctx, &policy.Actor{ID: "x", Role: shared.RoleTeacher}, &CreateTeacherRequest{FullName: "X", Email: "x@school.edu"})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("List filters by subject and search", func(t *testing.T) {
		res, err := svc.ListTeachers(ctx, admin, TeacherQuery{Subject: "physics"})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "Tran Binh", res.Results[0].FullName)

		res, err = svc.ListTeachers(ctx, admin, TeacherQuery{Search: "hoa"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Pagination.Total)

		_, err = svc.ListTeachers(ctx, nil, TeacherQuery{})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("Update moves the homeroom class", func(t *testing.T) {
		u, err := svc.UpdateTeacher(ctx, admin, created.Teacher.ID, &UpdateTeacherRequest{
			Subject:         strPtr("chemistry"),
			HomeroomClassID: strPtr("c2"),
		})
		require.NoError(t, err)
		assert.Equal(t, "chemistry", u.Subject)
		assert.Equal(t, "c2", u.HomeroomClassID)

		c1, _ := st.Classrooms.Get(ctx, "c1")
		assert.Empty(t, c1.HomeroomTeacherID)
		c2, _ := st.Classrooms.Get(ctx, "c2")
		assert.Equal(t, u.ID, c2.HomeroomTeacherID)
	})

	t.Run("Get rejects other roles", func(t *testing.T) {
		_, err := svc.GetTeacher(ctx, admin, "a1")
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Delete frees the classroom", func(t *testing.T) {
		require.NoError(t, svc.DeleteTeacher(ctx, admin, created.Teacher.ID))

		c2, _ := st.Classrooms.Get(ctx, "c2")
		assert.Empty(t, c2.HomeroomTeacherID)
		_, err := svc.GetTeacher(ctx, admin, created.Teacher.ID)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})
}

func TestUserService_Students(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)
	homeroom := &policy.Actor{ID: "t1", Role: shared.RoleTeacher, HomeroomClassIDs: []string{"c1"}}

	count := func(id string) int {
		c, err := st.Classrooms.Get(ctx, id)
		require.NoError(t, err)
		return c.StudentCount
	}

	ids := []string{}
	for _, req := range []*CreateStudentRequest{
		{FullName: "Nguyen An", StudentCode: "HS01", ClassroomID: "c1", Gender: GenderMale},
		{FullName: "Tran Binh", StudentCode: "HS02", ClassroomID: "c1", Gender: GenderFemale},
		{FullName: "Le Cuong", StudentCode: "HS03", ClassroomID: "c1", Gender: GenderMale, Email: "cuong@school.edu", Password: "secret123"},
	} {
		s, err := svc.CreateStudent(ctx, homeroom, req)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	t.Run("Create keeps student_count", func(t *testing.T) {
		assert.Equal(t, 3, count("c1"))
	})

	t.Run("Homeroom teacher cannot add to other classes", func(t *testing.T) {
		_, err := svc.CreateStudent(ctx, homeroom, &CreateStudentRequest{FullName: "X", ClassroomID: "c2"})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
		assert.Equal(t, 0, count("c2"))
	})

	t.Run("Unknown classroom", func(t *testing.T) {
		_, err := svc.CreateStudent(ctx, admin, &CreateStudentRequest{FullName: "X", ClassroomID: "nope"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("List with gender counts", func(t *testing.T) {
		res, err := svc.ListStudents(ctx, admin, StudentQuery{ClassroomID: "c1", Gender: GenderMale})
		require.NoError(t, err)
		assert.Len(t, res.Results, 2)
		assert.Equal(t, int64(2), res.MaleCount)
		assert.Equal(t, int64(1), res.FemaleCount)
	})

	t.Run("Students only list their own class", func(t *testing.T) {
		me := &policy.Actor{ID: ids[0], Role: shared.RoleStudent, ClassroomID: "c1"}
		res, err := svc.ListStudents(ctx, me, StudentQuery{ClassroomID: "c2"})
		require.NoError(t, err)
		assert.Len(t, res.Results, 3)

		opts, err := svc.StudentDropdown(ctx, me, "c2")
		require.NoError(t, err)
		assert.Len(t, opts, 3)
	})

	t.Run("Detail access", func(t *testing.T) {
		_, err := svc.GetStudent(ctx, &policy.Actor{ID: ids[0], Role: shared.RoleStudent, ClassroomID: "c1"}, ids[0])
		assert.NoError(t, err)
		_, err = svc.GetStudent(ctx, &policy.Actor{ID: "t9", Role: shared.RoleTeacher}, ids[0])
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
		_, err = svc.GetStudent(ctx, homeroom, ids[1])
		assert.NoError(t, err)
	})

	t.Run("Move adjusts both counts", func(t *testing.T) {
		_, err := svc.UpdateStudent(ctx, homeroom, ids[2], &UpdateStudentRequest{ClassroomID: strPtr("c2")})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))

		u, err := svc.UpdateStudent(ctx, admin, ids[2], &UpdateStudentRequest{ClassroomID: strPtr("c2"), FullName: strPtr("Le Van Cuong")})
		require.NoError(t, err)
		assert.Equal(t, "c2", u.ClassroomID)
		assert.Equal(t, "Le Van Cuong", u.FullName)
		assert.Equal(t, 2, count("c1"))
		assert.Equal(t, 1, count("c2"))
	})

	t.Run("Delete decrements", func(t *testing.T) {
		require.NoError(t, svc.DeleteStudent(ctx, homeroom, ids[1]))
		assert.Equal(t, 1, count("c1"))

		err := svc.DeleteStudent(ctx, homeroom, ids[2])
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("MyClassroom", func(t *testing.T) {
		roster, err := svc.MyClassroom(ctx, homeroom, StudentQuery{})
		require.NoError(t, err)
		assert.Equal(t, "10A1", roster.Classroom.FullName)
		assert.Len(t, roster.Results, 1)
		assert.Equal(t, int64(1), roster.MaleCount)

		roster, err = svc.MyClassroom(ctx, &policy.Actor{ID: ids[2], Role: shared.RoleStudent, ClassroomID: "c2"}, StudentQuery{})
		require.NoError(t, err)
		assert.Equal(t, "c2", roster.Classroom.ID)

		_, err = svc.MyClassroom(ctx, &policy.Actor{ID: "t9", Role: shared.RoleTeacher}, StudentQuery{})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Profile", func(t *testing.T) {
		u, err := svc.Profile(ctx, admin)
		require.NoError(t, err)
		assert.Equal(t, "Admin", u.FullName)

		_, err = svc.Profile(ctx, nil)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}
