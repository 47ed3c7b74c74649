package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/user"
)

func TestGateway_Profile(t *testing.T) {
	env := setupGatewayTestEnv(t)

	var u shared.User
	rr := env.do(t, http.MethodGet, "/api/users/profile", TeacherID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &u)
	assert.Equal(t, "Nguyen Thi Hoa", u.FullName)
	assert.Equal(t, ClassA, u.HomeroomClassID)
	assert.NotContains(t, rr.Body.String(), "password_hash")

	rr = env.do(t, http.MethodGet, "/api/users/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	env.Tokens["forged"] = "not-a-jwt"
	rr = env.do(t, http.MethodGet, "/api/users/profile", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGateway_Classrooms(t *testing.T) {
	env := setupGatewayTestEnv(t)
	var created classroom.View

	t.Run("Admin creates with a homeroom teacher", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/classrooms", AdminID, map[string]string{
			"name": "B1", "grade": "11", "homeroom_teacher_id": Teacher2ID,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		decode(t, rr, &created)
		assert.Equal(t, "11B1", created.FullName)
		require.NotNil(t, created.HomeroomTeacher)
		assert.Equal(t, Teacher2ID, created.HomeroomTeacher.ID)
	})

	t.Run("Teachers cannot create", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/classrooms", TeacherID, map[string]string{"name": "B2", "grade": "11"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Blank name is rejected", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/classrooms", AdminID, map[string]string{"name": " ", "grade": "11"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Reassigning a teacher clears its old classroom", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/api/classrooms/"+created.ID, AdminID, map[string]string{"homeroom_teacher_id": TeacherID})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		old, err := env.Store.Classrooms.Get(context.Background(), ClassA)
		require.NoError(t, err)
		assert.Empty(t, old.HomeroomTeacherID)
	})

	t.Run("Listing and dropdowns", func(t *testing.T) {
		var res classroom.ListResult
		rr := env.do(t, http.MethodGet, "/api/classrooms?grade=10", StudentID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &res)
		assert.Equal(t, int64(2), res.Pagination.Total)

		var items []classroom.DropdownItem
		rr = env.do(t, http.MethodGet, "/api/classrooms/dropdown/public", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &items)
		assert.Len(t, items, 3)
		for _, it := range items {
			assert.Empty(t, it.HomeroomTeacherID)
		}

		rr = env.do(t, http.MethodGet, "/api/classrooms/dropdown", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Stats are admin only", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/classrooms/stats", TeacherID, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		var st classroom.Stats
		rr = env.do(t, http.MethodGet, "/api/classrooms/stats", AdminID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &st)
		assert.Equal(t, int64(3), st.TotalClassrooms)
		assert.Equal(t, int64(2), st.TotalStudents)
	})

	t.Run("Delete refuses classrooms with students", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/api/classrooms/"+ClassB, AdminID, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = env.do(t, http.MethodDelete, "/api/classrooms/"+created.ID, AdminID, nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = env.do(t, http.MethodGet, "/api/classrooms/"+created.ID, AdminID, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGateway_Teachers(t *testing.T) {
	env := setupGatewayTestEnv(t)

	var created user.CreatedTeacher
	rr := env.do(t, http.MethodPost, "/api/teachers", AdminID, map[string]string{
		"full_name": "Do Minh Khoa", "email": "khoa@school.edu", "subject": "history", "homeroom_class_id": ClassB,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	decode(t, rr, &created)
	assert.NotEmpty(t, created.InitialPassword)
	assert.Equal(t, "DMK", created.Teacher.TeacherCode)
	assert.Equal(t, ClassB, created.Teacher.HomeroomClassID)

	rr = env.do(t, http.MethodPost, "/api/teachers", AdminID, map[string]string{"full_name": "X", "email": "khoa@school.edu"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/teachers", AdminID, map[string]string{"full_name": "X", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var list user.ListResult
	rr = env.do(t, http.MethodGet, "/api/teachers?subject=history", TeacherID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &list)
	require.Len(t, list.Results, 1)

	rr = env.do(t, http.MethodPatch, "/api/teachers/"+created.Teacher.ID, AdminID, map[string]string{"subject": "geography"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/api/teachers/"+created.Teacher.ID, AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	c, err := env.Store.Classrooms.Get(context.Background(), ClassB)
	require.NoError(t, err)
	assert.Empty(t, c.HomeroomTeacherID)
}

func TestGateway_Students(t *testing.T) {
	env := setupGatewayTestEnv(t)
	ctx := context.Background()

	count := func(id string) int {
		c, err := env.Store.Classrooms.Get(ctx, id)
		require.NoError(t, err)
		return c.StudentCount
	}

	var s shared.User
	rr := env.do(t, http.MethodPost, "/api/students", TeacherID, map[string]string{
		"full_name": "Ngo Bao", "classroom_id": ClassA, "gender": "female", "student_code": "HS10",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	decode(t, rr, &s)
	assert.Equal(t, 2, count(ClassA))

	rr = env.do(t, http.MethodPost, "/api/students", TeacherID, map[string]string{"full_name": "X", "classroom_id": ClassB})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/students", TeacherID, map[string]string{"full_name": "X", "classroom_id": ClassA, "gender": "other"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var list user.ListResult
	rr = env.do(t, http.MethodGet, "/api/students?classroom_id="+ClassA, AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &list)
	assert.Len(t, list.Results, 2)
	assert.Equal(t, int64(1), list.MaleCount)
	assert.Equal(t, int64(1), list.FemaleCount)

	var roster user.Roster
	rr = env.do(t, http.MethodGet, "/api/students/my-classroom", StudentID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decode(t, rr, &roster)
	assert.Equal(t, ClassA, roster.Classroom.ID)
	assert.Len(t, roster.Results, 2)

	rr = env.do(t, http.MethodGet, "/api/students/my-classroom", Teacher2ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var opts []user.StudentOption
	rr = env.do(t, http.MethodGet, "/api/students/dropdown?classroom_id="+ClassB, TeacherID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &opts)
	require.Len(t, opts, 1)
	assert.Equal(t, Student2ID, opts[0].ID)

	rr = env.do(t, http.MethodPatch, "/api/students/"+s.ID, AdminID, map[string]string{"classroom_id": ClassB})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, count(ClassA))
	assert.Equal(t, 2, count(ClassB))

	rr = env.do(t, http.MethodGet, "/api/students/"+s.ID, TeacherID, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/students/"+s.ID, AdminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, count(ClassB))
}
