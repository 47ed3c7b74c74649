package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/attendance"
	"schoolpoints/backend/internal/auth"
	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/event"
	"schoolpoints/backend/internal/gateway"
	"schoolpoints/backend/internal/metrics"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/ranking"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
	"schoolpoints/backend/internal/user"
)

// TestEnv holds all the running components for the test
type TestEnv struct {
	Router http.Handler
	Store  *store.Store
	Auth   *auth.AuthService
	Today  string

	// Tokens by fixture user id
	Tokens map[string]string
}

// Fixture ids
const (
	AdminID    = "u-admin"
	TeacherID  = "u-teacher"  // homeroom teacher of ClassA
	Teacher2ID = "u-teacher2" // no homeroom class
	DormID     = "u-dorm"
	StudentID  = "u-student" // in ClassA
	Student2ID = "u-student2"

	ClassA = "c-10a1"
	ClassB = "c-10a2"
)

// setupGatewayTestEnv spins up the whole API on the in-memory store
func setupGatewayTestEnv(t *testing.T, tweaks ...func(*shared.ServiceConfig)) *TestEnv {
	t.Helper()
	ctx := context.Background()

	cfg := &shared.ServiceConfig{
		ServiceName:    "api-test",
		Environment:    "test",
		StoreBackend:   shared.StoreMemory,
		RequestTimeout: 10 * time.Second,
		Security: shared.SecurityConfig{
			JWTSecret:          "test-secret",
			JWTIssuer:          "school-points",
			JWTExpirationHours: 1,
			BCryptCost:         bcrypt.MinCost,
		},
		CORS: shared.CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		},
		Policy: shared.PolicyConfig{RankingAccess: shared.RankingAccessAdmin},
		Events: shared.EventsConfig{MaxWriteRetries: 5},
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	logger := zap.NewNop()
	st := store.NewMemory()
	seed(t, ctx, st)

	// --- Initialize Services ---
	pol := policy.New(cfg.Policy.RankingAccess)
	m := metrics.New()
	authSvc := auth.NewAuthService(st, cfg, logger)
	calendar := academic.NewCalendarService(st, pol, logger)
	classrooms := classroom.NewClassroomService(st, pol, logger)

	svcs := &gateway.Services{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Policy:     pol,
		Metrics:    m,
		Auth:       authSvc,
		Events:     event.NewEventService(st, pol, cfg, logger).WithRecorder(m),
		Attendance: attendance.NewAttendanceService(st, pol, logger),
		Classrooms: classrooms,
		Users:      user.NewUserService(st, pol, classrooms, cfg, logger),
		Rankings:   ranking.NewRankingService(st, pol, calendar, logger).WithRecorder(m),
		Calendar:   calendar,
	}

	env := &TestEnv{
		Router: gateway.SetupRoutes(svcs),
		Store:  st,
		Auth:   authSvc,
		Today:  shared.FormatDate(time.Now().UTC()),
		Tokens: map[string]string{},
	}
	for _, id := range []string{AdminID, TeacherID, Teacher2ID, DormID, StudentID, Student2ID} {
		u, err := st.Users.Get(ctx, id)
		require.NoError(t, err)
		tok, _, err := authSvc.Sign(u)
		require.NoError(t, err)
		env.Tokens[id] = tok
	}
	return env
}

func seed(t *testing.T, ctx context.Context, st *store.Store) {
	t.Helper()
	for _, c := range []*shared.Classroom{
		{ID: ClassA, Name: "A1", FullName: "10A1", Grade: "10", HomeroomTeacherID: TeacherID, StudentCount: 1},
		{ID: ClassB, Name: "A2", FullName: "10A2", Grade: "10", StudentCount: 1},
	} {
		require.NoError(t, st.Classrooms.Insert(ctx, c))
	}
	for _, u := range []*shared.User{
		{ID: AdminID, Role: shared.RoleAdmin, FullName: "Admin", Email: "admin@school.edu", IsActive: true},
		{ID: TeacherID, Role: shared.RoleTeacher, FullName: "Nguyen Thi Hoa", Email: "hoa@school.edu", IsActive: true, HomeroomClassID: ClassA, HomeroomClass: "10A1"},
		{ID: Teacher2ID, Role: shared.RoleTeacher, FullName: "Tran Van Binh", Email: "binh@school.edu", IsActive: true},
		{ID: DormID, Role: shared.RoleDormSupervisor, FullName: "Le Dorm", Email: "dorm@school.edu", IsActive: true},
		{ID: StudentID, Role: shared.RoleStudent, FullName: "Pham An", Email: "an@school.edu", IsActive: true, ClassroomID: ClassA, Gender: "male"},
		{ID: Student2ID, Role: shared.RoleStudent, FullName: "Vo Chi", Email: "chi@school.edu", IsActive: true, ClassroomID: ClassB, Gender: "female"},
	} {
		require.NoError(t, st.Users.Insert(ctx, u))
	}
	for _, et := range []*shared.EventType{
		{Key: "late", Name: "Late", Category: "violation", DefaultPoints: -2, AllowedRoles: []string{"both"}, IsActive: true},
		{Key: "good_answer", Name: "Good answer", Category: "bonus", DefaultPoints: 5, AllowedRoles: []string{"teacher"}, IsActive: true},
		{Key: "dorm_noise", Name: "Noise in dorm", Category: "violation", DefaultPoints: -3, AllowedRoles: []string{"dorm_supervisor"}, IsActive: true},
		{Key: attendance.MorningUnexcused, Name: "Absent morning", Category: "attendance", DefaultPoints: -2, AllowedRoles: []string{"teacher"}, IsActive: true},
	} {
		require.NoError(t, st.EventTypes.Insert(ctx, et))
	}
}

// do sends a JSON request as the fixture user asID ("" for anonymous)
func (env *TestEnv) do(t *testing.T, method, path, asID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if asID != "" {
		req.Header.Set("Authorization", "Bearer "+env.Tokens[asID])
	}
	rr := httptest.NewRecorder()
	env.Router.ServeHTTP(rr, req)
	return rr
}

// envelope is the response shape of every endpoint
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	if dst != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return env
}
