package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpoints/backend/internal/event"
	"schoolpoints/backend/internal/shared"
)

func upsertBody(date, classroomID string, periods map[string][]map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"date":         date,
		"classroom_id": classroomID,
		"periods":      periods,
	}
}

func TestGateway_Events(t *testing.T) {
	env := setupGatewayTestEnv(t)

	var dayID string

	t.Run("Anonymous writes are rejected", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events", "", upsertBody(env.Today, ClassA, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, decode(t, rr, nil).Success)
	})

	t.Run("Student write lands as pending", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events", StudentID, upsertBody(env.Today, ClassA, map[string][]map[string]interface{}{
			"1": {{"event_type_key": "late", "student_id": StudentID}},
		}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var day shared.EventDay
		assert.True(t, decode(t, rr, &day).Success)
		assert.Equal(t, shared.ApprovalPending, day.ApprovalStatus)
		assert.Equal(t, -2, day.Periods["1"][0].Points)
		dayID = day.ID
	})

	t.Run("Students cannot use teacher-only types", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events", StudentID, upsertBody(env.Today, ClassA, map[string][]map[string]interface{}{
			"2": {{"event_type_key": "good_answer"}},
		}))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Validation errors are 400", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events", TeacherID, upsertBody("17/10/2026", ClassA, map[string][]map[string]interface{}{
			"1": {{"event_type_key": "late"}},
		}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode(t, rr, nil).Message, "date")

		rr = env.do(t, http.MethodPost, "/api/events", TeacherID, upsertBody(env.Today, ClassA, map[string][]map[string]interface{}{
			"1": {{"event_type_key": "no_such_type"}},
		}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Approval", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events/approve", Teacher2ID, map[string]string{"event_id": dayID, "action": "approve"})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, http.MethodPost, "/api/events/approve", TeacherID, map[string]string{"event_id": dayID, "action": "maybe"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = env.do(t, http.MethodPost, "/api/events/approve", TeacherID, map[string]string{"event_id": dayID, "action": "approve"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var day shared.EventDay
		decode(t, rr, &day)
		assert.Equal(t, shared.ApprovalApproved, day.ApprovalStatus)
		assert.Equal(t, TeacherID, day.ApprovedBy)
	})

	t.Run("Dorm supervisor records a sudden violation", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events", DormID, upsertBody(env.Today, ClassB, map[string][]map[string]interface{}{
			shared.PeriodViolationSudden: {{"event_type_key": "dorm_noise", "student_id": Student2ID}},
		}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var day shared.EventDay
		decode(t, rr, &day)
		assert.Equal(t, shared.ApprovalApproved, day.ApprovalStatus)

		rr = env.do(t, http.MethodPost, "/api/events", TeacherID, upsertBody(env.Today, ClassB, map[string][]map[string]interface{}{
			shared.PeriodViolationSudden: {{"event_type_key": "late"}},
		}))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Listing is scoped and detail enriched", func(t *testing.T) {
		var res event.ListResult
		rr := env.do(t, http.MethodGet, "/api/events?view=all", TeacherID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &res)
		require.Len(t, res.Results, 1)
		assert.Equal(t, ClassA, res.Results[0].ClassroomID)

		rr = env.do(t, http.MethodGet, "/api/events?include_sudden=true", AdminID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &res)
		require.Len(t, res.Results, 1)
		assert.Equal(t, ClassB, res.Results[0].ClassroomID)

		var day shared.EventDay
		rr = env.do(t, http.MethodGet, "/api/events/detail?date="+env.Today+"&classroom_id="+ClassA, StudentID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &day)
		assert.Equal(t, "Pham An", day.Periods["1"][0].StudentName)
		assert.Equal(t, "Late", day.Periods["1"][0].EventTypeName)

		rr = env.do(t, http.MethodGet, "/api/events/detail?id="+dayID, Student2ID, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("Public feed needs no token", func(t *testing.T) {
		var feed struct {
			Results []event.PublicEvent `json:"results"`
			Count   int                 `json:"count"`
		}
		rr := env.do(t, http.MethodGet, "/api/events/public?date="+env.Today, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &feed)
		assert.Equal(t, 2, feed.Count)

		rr = env.do(t, http.MethodGet, "/api/events/public", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Replace removes periods named empty", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/events/replace", AdminID, upsertBody(env.Today, ClassA, map[string][]map[string]interface{}{
			"1": {},
			"3": {{"event_type_key": "good_answer", "student_id": StudentID}},
		}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var day shared.EventDay
		decode(t, rr, &day)
		_, has1 := day.Periods["1"]
		assert.False(t, has1)
		assert.Equal(t, 5, day.Periods["3"][0].Points)
	})
}

func TestGateway_EventTypes(t *testing.T) {
	env := setupGatewayTestEnv(t)

	t.Run("Public list, filtered for students", func(t *testing.T) {
		var types []shared.EventType
		rr := env.do(t, http.MethodGet, "/api/events/types", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &types)
		assert.Len(t, types, 4)

		rr = env.do(t, http.MethodGet, "/api/events/types", StudentID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		decode(t, rr, &types)
		require.Len(t, types, 1)
		assert.Equal(t, "late", types[0].Key)
	})

	t.Run("Admin manages types", func(t *testing.T) {
		body := map[string]interface{}{
			"key": "phone_in_class", "name": "Phone in class", "category": "violation",
			"default_points": -5, "allowed_roles": []string{"teacher"},
		}
		rr := env.do(t, http.MethodPost, "/api/events/types", TeacherID, body)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, http.MethodPost, "/api/events/types", AdminID, body)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = env.do(t, http.MethodPost, "/api/events/types", AdminID, body)
		assert.Equal(t, http.StatusConflict, rr.Code)

		body["default_points"] = -4
		rr = env.do(t, http.MethodPut, "/api/events/types/phone_in_class", AdminID, body)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var et shared.EventType
		decode(t, rr, &et)
		assert.Equal(t, -4, et.DefaultPoints)

		rr = env.do(t, http.MethodDelete, "/api/events/types/phone_in_class", AdminID, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		rr = env.do(t, http.MethodGet, "/api/events/types/phone_in_class", AdminID, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Bad category", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/events/types", AdminID, map[string]interface{}{
			"key": "x", "name": "X", "category": "other", "allowed_roles": []string{"teacher"},
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGateway_AttendanceSummary(t *testing.T) {
	env := setupGatewayTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/events", TeacherID, upsertBody(env.Today, ClassA, map[string][]map[string]interface{}{
		shared.PeriodAttendance: {{"event_type_key": "attendance_sk", "student_id": StudentID, "session": "morning"}},
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/events/attendance/summary?classroom_id="+ClassA, TeacherID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var sum struct {
		Students []struct {
			StudentID string            `json:"student_id"`
			Days      map[string]string `json:"days"`
			Unexcused int               `json:"unexcused"`
		} `json:"students"`
	}
	decode(t, rr, &sum)
	require.Len(t, sum.Students, 1)
	assert.Equal(t, "sk", sum.Students[0].Days[env.Today])
	assert.Equal(t, 1, sum.Students[0].Unexcused)

	rr = env.do(t, http.MethodGet, "/api/events/attendance/summary?classroom_id="+ClassA, Teacher2ID, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/events/attendance/summary?classroom_id="+ClassA+"&month=x", TeacherID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
