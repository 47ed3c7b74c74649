package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

var (
	adminActor   = &policy.Actor{ID: "admin1", Role: shared.RoleAdmin, FullName: "Admin"}
	teacherActor = &policy.Actor{ID: "t1", Role: shared.RoleTeacher, FullName: "Ms. Hoa", HomeroomClassIDs: []string{"c1"}}
	otherTeacher = &policy.Actor{ID: "t2", Role: shared.RoleTeacher, FullName: "Mr. Binh", HomeroomClassIDs: []string{"c2"}}
	studentActor = &policy.Actor{ID: "s1", Role: shared.RoleStudent, FullName: "An", ClassroomID: "c1"}
	dormActor    = &policy.Actor{ID: "d1", Role: shared.RoleDormSupervisor, FullName: "Dorm"}
)

func intPtr(v int) *int { return &v }

type countingRecorder struct {
	mu        sync.Mutex
	written   map[string]int
	conflicts int
}

func (r *countingRecorder) EventDayWritten(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[s]++
}

func (r *countingRecorder) EventDayConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

func newTestService(t *testing.T, retries int) (*EventService, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	for _, c := range []*shared.Classroom{
		{ID: "c1", Name: "A1", FullName: "10A1", Grade: "10", HomeroomTeacherID: "t1"},
		{ID: "c2", Name: "A2", FullName: "10A2", Grade: "10", HomeroomTeacherID: "t2"},
	} {
		require.NoError(t, st.Classrooms.Insert(ctx, c))
	}
	for _, u := range []*shared.User{
		{ID: "s1", Role: shared.RoleStudent, FullName: "Nguyen An", ClassroomID: "c1", IsActive: true},
		{ID: "s2", Role: shared.RoleStudent, FullName: "Tran Binh", ClassroomID: "c1", IsActive: true},
	} {
		require.NoError(t, st.Users.Insert(ctx, u))
	}
	for _, et := range []*shared.EventType{
		{Key: "late", Name: "Late", Category: "violation", DefaultPoints: -2, AllowedRoles: []string{"both"}, IsActive: true},
		{Key: "phone", Name: "Phone in class", Category: "violation", DefaultPoints: -5, AllowedRoles: []string{"teacher"}, IsActive: true},
		{Key: "attendance_sp", Name: "Excused absence (morning)", Category: "attendance", AllowedRoles: []string{"all"}, IsActive: true},
	} {
		require.NoError(t, st.EventTypes.Insert(ctx, et))
	}

	cfg := &shared.ServiceConfig{Events: shared.EventsConfig{MaxWriteRetries: retries}}
	svc := NewEventService(st, policy.New(shared.RankingAccessAdmin), cfg, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC) }
	return svc, st
}

func TestEventService_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates day with default points and approval", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		day, err := svc.Upsert(ctx, teacherActor, &UpsertRequest{
			Date: "2025-10-06", ClassroomID: "c1",
			Periods: map[string][]EntryInput{"1": {{EventTypeKey: "late", StudentID: "s1"}}},
		}, ModeMerge)
		require.NoError(t, err)

		assert.Equal(t, int64(1), day.Version)
		assert.Equal(t, "2025-2026", day.AcademicYear)
		assert.Equal(t, -2, day.Periods["1"][0].Points)
		assert.Equal(t, 1, day.TotalEvents)
		assert.Equal(t, shared.ApprovalApproved, day.ApprovalStatus)
		assert.Equal(t, "t1", day.ApprovedBy)
	})

	t.Run("Second write overwrites by identity", func(t *testing.T) {
		svc, st := newTestService(t, 3)
		req := func(points int) *UpsertRequest {
			return &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{
				"1": {{StudentID: "S1", Points: intPtr(points)}},
			}}
		}
		_, err := svc.Upsert(ctx, teacherActor, req(5), ModeMerge)
		require.NoError(t, err)
		_, err = svc.Upsert(ctx, teacherActor, req(-2), ModeMerge)
		require.NoError(t, err)

		stored, err := st.EventDays.FindByKey(ctx, "2025-10-06", "c1")
		require.NoError(t, err)
		require.Len(t, stored.Periods["1"], 1)
		assert.Equal(t, -2, stored.Periods["1"][0].Points)
		assert.Equal(t, 1, stored.TotalEvents)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("Student writes go to own classroom and reset approval", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		_, err := svc.Upsert(ctx, teacherActor, &UpsertRequest{
			Date: "2025-10-06", ClassroomID: "c1",
			Periods: map[string][]EntryInput{"1": {{EventTypeKey: "late", StudentID: "s2"}}},
		}, ModeMerge)
		require.NoError(t, err)

		day, err := svc.Upsert(ctx, studentActor, &UpsertRequest{
			Date: "2025-10-06", ClassroomID: "c2",
			Periods: map[string][]EntryInput{"2": {{EventTypeKey: "late", StudentID: "s1"}}},
		}, ModeMerge)
		require.NoError(t, err)
		assert.Equal(t, "c1", day.ClassroomID)
		assert.Equal(t, shared.ApprovalPending, day.ApprovalStatus)
		assert.Empty(t, day.ApprovedBy)
		assert.Nil(t, day.ApprovedAt)
		assert.Equal(t, 2, day.TotalEvents)
	})

	t.Run("Student may not record teacher-only types", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		_, err := svc.Upsert(ctx, studentActor, &UpsertRequest{
			Date:    "2025-10-06",
			Periods: map[string][]EntryInput{"1": {{EventTypeKey: "phone", StudentID: "s2"}}},
		}, ModeMerge)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Student without classroom", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		_, err := svc.Upsert(ctx, &policy.Actor{ID: "s9", Role: shared.RoleStudent}, &UpsertRequest{
			Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{},
		}, ModeMerge)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Sudden period requires dorm supervisor or admin", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		req := &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{
			shared.PeriodViolationSudden: {{EventTypeKey: "late", StudentID: "s1"}},
		}}

		_, err := svc.Upsert(ctx, teacherActor, req, ModeMerge)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))

		day, err := svc.Upsert(ctx, dormActor, req, ModeMerge)
		require.NoError(t, err)
		assert.Equal(t, shared.ApprovalApproved, day.ApprovalStatus)
		assert.Equal(t, "d1", day.ApprovedBy)
	})

	t.Run("Validation errors", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		tests := []struct {
			name string
			req  *UpsertRequest
			code codes.Code
		}{
			{"missing date", &UpsertRequest{ClassroomID: "c1", Periods: map[string][]EntryInput{}}, codes.InvalidArgument},
			{"bad date", &UpsertRequest{Date: "06/10/2025", ClassroomID: "c1", Periods: map[string][]EntryInput{}}, codes.InvalidArgument},
			{"missing classroom", &UpsertRequest{Date: "2025-10-06", Periods: map[string][]EntryInput{}}, codes.InvalidArgument},
			{"unknown classroom", &UpsertRequest{Date: "2025-10-06", ClassroomID: "nope", Periods: map[string][]EntryInput{}}, codes.NotFound},
			{"bad period", &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{"lunch": {}}}, codes.InvalidArgument},
			{"unknown type", &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{"1": {{EventTypeKey: "ghost"}}}}, codes.InvalidArgument},
			{"neither type nor points", &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{"1": {{StudentID: "s1"}}}}, codes.InvalidArgument},
			{"custom bonus without points", &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{"1": {{EventTypeKey: shared.CustomBonusKey}}}}, codes.InvalidArgument},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Upsert(ctx, adminActor, tt.req, ModeMerge)
				assert.Equal(t, tt.code, status.Code(err))
			})
		}
	})

	t.Run("Students must name a type", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		_, err := svc.Upsert(ctx, studentActor, &UpsertRequest{
			Date:    "2025-10-06",
			Periods: map[string][]EntryInput{"1": {{StudentID: "s2", Points: intPtr(10)}}},
		}, ModeMerge)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Classroom alias is accepted", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		day, err := svc.Upsert(ctx, adminActor, &UpsertRequest{
			Date: "2025-10-06", Classroom: "c2",
			Periods: map[string][]EntryInput{"3": {{EventTypeKey: shared.CustomBonusKey, Points: intPtr(4), Description: "Cleanest room"}}},
		}, ModeMerge)
		require.NoError(t, err)
		assert.Equal(t, "c2", day.ClassroomID)
		assert.Equal(t, 4, day.Periods["3"][0].Points)
	})

	t.Run("Replace mode removes periods named empty", func(t *testing.T) {
		svc, _ := newTestService(t, 3)
		_, err := svc.Upsert(ctx, teacherActor, &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{
			"1": {{EventTypeKey: "late", StudentID: "s1"}},
			"2": {{EventTypeKey: "late", StudentID: "s2"}},
		}}, ModeMerge)
		require.NoError(t, err)

		day, err := svc.Upsert(ctx, teacherActor, &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{
			"1": {},
		}}, ModeReplace)
		require.NoError(t, err)
		assert.NotContains(t, day.Periods, "1")
		assert.Contains(t, day.Periods, "2")
		assert.Equal(t, 1, day.TotalEvents)
	})
}

func TestEventService_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, 20)
	rec := &countingRecorder{written: map[string]int{}}
	svc.WithRecorder(rec)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Upsert(ctx, adminActor, &UpsertRequest{
				Date: "2025-10-07", ClassroomID: "c1",
				Periods: map[string][]EntryInput{"1": {{EventTypeKey: "late", StudentID: fmt.Sprintf("s%d", i)}}},
			}, ModeMerge)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	day, err := st.EventDays.FindByKey(ctx, "2025-10-07", "c1")
	require.NoError(t, err)
	assert.Len(t, day.Periods["1"], writers)
	assert.Equal(t, writers, day.TotalEvents)
	assert.Equal(t, writers, rec.written[shared.ApprovalApproved])
}

type alwaysConflicting struct {
	store.EventDays
}

func (alwaysConflicting) Replace(context.Context, *shared.EventDay) error {
	return store.ErrVersionConflict
}

func TestEventService_ConflictExhaustion(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, 3)
	req := &UpsertRequest{Date: "2025-10-06", ClassroomID: "c1", Periods: map[string][]EntryInput{
		"1": {{EventTypeKey: "late", StudentID: "s1"}},
	}}
	_, err := svc.Upsert(ctx, adminActor, req, ModeMerge)
	require.NoError(t, err)

	rec := &countingRecorder{written: map[string]int{}}
	svc.WithRecorder(rec)
	st.EventDays = alwaysConflicting{st.EventDays}

	_, err = svc.Upsert(ctx, adminActor, req, ModeMerge)
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, 3, rec.conflicts)
}

func TestEventService_Approve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 3)

	day, err := svc.Upsert(ctx, studentActor, &UpsertRequest{
		Date:    "2025-10-06",
		Periods: map[string][]EntryInput{"1": {{EventTypeKey: "late", StudentID: "s1"}}},
	}, ModeMerge)
	require.NoError(t, err)
	require.Equal(t, shared.ApprovalPending, day.ApprovalStatus)

	t.Run("Other teacher is denied", func(t *testing.T) {
		_, err := svc.Approve(ctx, otherTeacher, day.ID, "approve")
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Unknown action", func(t *testing.T) {
		_, err := svc.Approve(ctx, teacherActor, day.ID, "maybe")
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Missing day", func(t *testing.T) {
		_, err := svc.Approve(ctx, teacherActor, "nope", "approve")
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Homeroom teacher rejects", func(t *testing.T) {
		got, err := svc.Approve(ctx, teacherActor, day.ID, "reject")
		require.NoError(t, err)
		assert.Equal(t, shared.ApprovalRejected, got.ApprovalStatus)
		assert.Equal(t, "Ms. Hoa", got.ApprovedByName)
		require.NotNil(t, got.ApprovedAt)
	})

	t.Run("Admin approves", func(t *testing.T) {
		got, err := svc.Approve(ctx, adminActor, day.ID, "approve")
		require.NoError(t, err)
		assert.Equal(t, shared.ApprovalApproved, got.ApprovalStatus)
		assert.Equal(t, "admin1", got.ApprovedBy)
	})
}

func TestEventService_Reads(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 3)

	write := func(actor *policy.Actor, date, classroom string, periods map[string][]EntryInput) {
		t.Helper()
		_, err := svc.Upsert(ctx, actor, &UpsertRequest{Date: date, ClassroomID: classroom, Periods: periods}, ModeMerge)
		require.NoError(t, err)
	}
	write(adminActor, "2025-10-06", "c1", map[string][]EntryInput{
		"1":                     {{EventTypeKey: "late", StudentID: "s1"}},
		shared.PeriodAttendance: {{EventTypeKey: "attendance_sp", StudentID: "s2", Session: shared.SessionMorning}},
	})
	write(adminActor, "2025-10-07", "c1", map[string][]EntryInput{
		shared.PeriodViolationSudden: {{EventTypeKey: "late", StudentID: "s2"}},
	})
	write(adminActor, "2025-10-06", "c2", map[string][]EntryInput{
		"2": {{EventTypeKey: shared.CustomBonusKey, Points: intPtr(3), Description: "Helped clean"}},
	})

	t.Run("Daily view hides sentinel periods and empty days", func(t *testing.T) {
		res, err := svc.List(ctx, adminActor, ListQuery{})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		for _, d := range res.Results {
			assert.NotContains(t, d.Periods, shared.PeriodAttendance)
			assert.NotContains(t, d.Periods, shared.PeriodViolationSudden)
		}
		assert.Equal(t, int64(2), res.Pagination.Total)
	})

	t.Run("Sudden view", func(t *testing.T) {
		res, err := svc.List(ctx, adminActor, ListQuery{View: ViewViolationSudden})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "2025-10-07", res.Results[0].Date)
	})

	t.Run("Teacher sees homeroom only", func(t *testing.T) {
		res, err := svc.List(ctx, otherTeacher, ListQuery{View: ViewAll})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "c2", res.Results[0].ClassroomID)

		res, err = svc.List(ctx, otherTeacher, ListQuery{ClassroomID: "c1"})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
	})

	t.Run("Paging", func(t *testing.T) {
		res, err := svc.List(ctx, adminActor, ListQuery{View: ViewAll, Page: shared.Page{Page: 2, PageSize: 2}})
		require.NoError(t, err)
		assert.Len(t, res.Results, 1)
		assert.Equal(t, int64(2), res.Pagination.TotalPages)
	})

	t.Run("Detail is enriched", func(t *testing.T) {
		day, err := svc.Detail(ctx, teacherActor, DetailQuery{Date: "2025-10-06", ClassroomID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, "10A1", day.ClassroomName)
		assert.Equal(t, "Nguyen An", day.Periods["1"][0].StudentName)
		assert.Equal(t, "Late", day.Periods["1"][0].EventTypeName)

		_, err = svc.Detail(ctx, otherTeacher, DetailQuery{ID: day.ID})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Public feed skips attendance", func(t *testing.T) {
		feed, err := svc.PublicFeed(ctx, "2025-10-06", "")
		require.NoError(t, err)
		require.Len(t, feed, 2)
		for _, e := range feed {
			assert.NotEqual(t, shared.PeriodAttendance, e.Period)
		}

		feed, err = svc.PublicFeed(ctx, "2025-10-06", "c2")
		require.NoError(t, err)
		require.Len(t, feed, 1)
		assert.Equal(t, "Helped clean", feed[0].EventTypeName)

		_, err = svc.PublicFeed(ctx, "", "")
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

func TestEventService_Types(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 3)

	t.Run("Students see types they may record", func(t *testing.T) {
		types, err := svc.ListTypes(ctx, studentActor)
		require.NoError(t, err)
		keys := []string{}
		for _, et := range types {
			keys = append(keys, et.Key)
		}
		assert.ElementsMatch(t, []string{"late", "attendance_sp"}, keys)

		all, err := svc.ListTypes(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	req := &EventTypeRequest{Key: "uniform", Name: "No uniform", Category: "violation", DefaultPoints: -1, AllowedRoles: []string{"teacher"}}

	t.Run("Only admin manages types", func(t *testing.T) {
		_, err := svc.CreateType(ctx, teacherActor, req)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Create update delete", func(t *testing.T) {
		created, err := svc.CreateType(ctx, adminActor, req)
		require.NoError(t, err)
		assert.True(t, created.IsActive)

		_, err = svc.CreateType(ctx, adminActor, req)
		assert.Equal(t, codes.AlreadyExists, status.Code(err))

		upd := *req
		upd.DefaultPoints = -3
		updated, err := svc.UpdateType(ctx, adminActor, "uniform", &upd)
		require.NoError(t, err)
		assert.Equal(t, -3, updated.DefaultPoints)

		require.NoError(t, svc.DeleteType(ctx, adminActor, "uniform"))
		_, err = svc.GetType(ctx, "uniform")
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Custom bonus key is reserved", func(t *testing.T) {
		r := *req
		r.Key = shared.CustomBonusKey
		_, err := svc.CreateType(ctx, adminActor, &r)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
