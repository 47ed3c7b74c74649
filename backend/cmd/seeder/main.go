package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/attendance"
	"schoolpoints/backend/internal/auth"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// Fixture ids, stable so the seeder can run repeatedly
const (
	AdminID    = "admin-001"
	TeacherID1 = "teacher-001"
	TeacherID2 = "teacher-002"
	DormID1    = "dorm-001"

	Class10A1 = "cls-10a1"
	Class10A2 = "cls-10a2"
	Class11A1 = "cls-11a1"

	// Common Credentials
	CommonPassword = "password"
)

type studentSeed struct {
	ID, Code, Name, ClassroomID, Gender, DOB string
}

func main() {
	tokenFor := flag.String("token", "", "print a bearer token for the user with this email and exit")
	flag.Parse()

	_ = shared.LoadEnv(".env")

	cfg, err := shared.LoadServiceConfig("seeder")
	if err != nil {
		zap.S().Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := shared.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		zap.S().Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() { _ = st.Close(context.Background()) }()

	if *tokenFor != "" {
		printToken(ctx, st, cfg, logger, *tokenFor)
		return
	}

	logger.Info("Starting database seeder", zap.String("backend", cfg.StoreBackend))

	hash, err := bcrypt.GenerateFromPassword([]byte(CommonPassword), cfg.Security.BCryptCost)
	if err != nil {
		logger.Fatal("Failed to hash password", zap.Error(err))
	}

	seedClassrooms(ctx, st, logger)
	seedStaff(ctx, st, logger, string(hash))
	seedStudents(ctx, st, logger, string(hash))
	seedEventTypes(ctx, st, logger)
	seedCalendar(ctx, st, logger)

	logger.Info("Seeding complete", zap.String("password", CommonPassword))
}

// skipExisting turns duplicate inserts into a log line
func skipExisting(logger *zap.Logger, kind, id string, err error) {
	switch {
	case err == nil:
		logger.Info("seeded", zap.String("kind", kind), zap.String("id", id))
	case store.IsDuplicate(err):
		logger.Debug("already present", zap.String("kind", kind), zap.String("id", id))
	default:
		logger.Fatal("seed failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	}
}

func seedClassrooms(ctx context.Context, st *store.Store, logger *zap.Logger) {
	now := time.Now().UTC()
	for _, c := range []*shared.Classroom{
		{ID: Class10A1, Name: "A1", Grade: "10", HomeroomTeacherID: TeacherID1},
		{ID: Class10A2, Name: "A2", Grade: "10", HomeroomTeacherID: TeacherID2},
		{ID: Class11A1, Name: "A1", Grade: "11"},
	} {
		c.FullName = shared.ClassroomFullName(c.Name, c.Grade)
		c.CreatedAt, c.UpdatedAt = now, now
		skipExisting(logger, "classroom", c.ID, st.Classrooms.Insert(ctx, c))
	}
}

func seedStaff(ctx context.Context, st *store.Store, logger *zap.Logger, hash string) {
	now := time.Now().UTC()
	for _, u := range []*shared.User{
		{ID: AdminID, Role: shared.RoleAdmin, FullName: "School Admin", Email: "admin@example.com"},
		{ID: TeacherID1, Role: shared.RoleTeacher, FullName: "Nguyen Thi Hoa", Email: "hoa@example.com",
			TeacherCode: "NTH", Subject: "math", HomeroomClassID: Class10A1, HomeroomClass: "10A1"},
		{ID: TeacherID2, Role: shared.RoleTeacher, FullName: "Tran Van Binh", Email: "binh@example.com",
			TeacherCode: "TVB", Subject: "literature", HomeroomClassID: Class10A2, HomeroomClass: "10A2"},
		{ID: DormID1, Role: shared.RoleDormSupervisor, FullName: "Le Van Dung", Email: "dorm@example.com"},
	} {
		u.PasswordHash = hash
		u.IsActive = true
		u.CreatedAt, u.UpdatedAt = now, now
		skipExisting(logger, "user", u.ID, st.Users.Insert(ctx, u))
	}
}

func seedStudents(ctx context.Context, st *store.Store, logger *zap.Logger, hash string) {
	now := time.Now().UTC()
	for _, s := range []studentSeed{
		{"student-001", "HS001", "Pham Minh An", Class10A1, "male", "2010-03-14"},
		{"student-002", "HS002", "Vo Thu Chi", Class10A1, "female", "2010-07-02"},
		{"student-003", "HS003", "Do Quang Huy", Class10A2, "male", "2010-01-23"},
		{"student-004", "HS004", "Bui Ngoc Lan", Class10A2, "female", "2010-11-30"},
		{"student-005", "HS005", "Hoang Gia Bao", Class11A1, "male", "2009-05-09"},
	} {
		u := &shared.User{
			ID:          s.ID,
			Role:        shared.RoleStudent,
			FullName:    s.Name,
			Email:       s.Code + "@example.com",
			IsActive:    true,
			StudentCode: s.Code,
			ClassroomID: s.ClassroomID,
			Gender:      s.Gender,
			DateOfBirth: s.DOB,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		u.PasswordHash = hash

		err := st.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := st.Users.Insert(ctx, u); err != nil {
				return err
			}
			return st.Classrooms.IncrementStudentCount(ctx, u.ClassroomID, 1)
		})
		skipExisting(logger, "student", u.ID, err)
	}
}

func seedEventTypes(ctx context.Context, st *store.Store, logger *zap.Logger) {
	now := time.Now().UTC()
	teacher := []string{shared.RoleTeacher}
	both := []string{shared.RoleTeacher, shared.RoleStudent}
	dorm := []string{shared.RoleDormSupervisor}

	for _, t := range []*shared.EventType{
		{Key: "late", Name: "Late for class", Category: shared.CategoryViolation, DefaultPoints: -2, AllowedRoles: both},
		{Key: "no_uniform", Name: "Missing uniform", Category: shared.CategoryViolation, DefaultPoints: -2, AllowedRoles: both},
		{Key: "talking", Name: "Talking in class", Category: shared.CategoryViolation, DefaultPoints: -1, AllowedRoles: both},
		{Key: "phone", Name: "Using a phone in class", Category: shared.CategoryViolation, DefaultPoints: -5, AllowedRoles: teacher},
		{Key: "no_homework", Name: "Homework not done", Category: shared.CategoryViolation, DefaultPoints: -2, AllowedRoles: teacher},
		{Key: "dorm_noise", Name: "Noise after lights out", Category: shared.CategoryViolation, DefaultPoints: -3, AllowedRoles: dorm},
		{Key: "dorm_untidy", Name: "Untidy dorm room", Category: shared.CategoryViolation, DefaultPoints: -2, AllowedRoles: dorm},
		{Key: "good_answer", Name: "Good answer", Category: shared.CategoryBonus, DefaultPoints: 2, AllowedRoles: teacher},
		{Key: "good_lesson", Name: "Good lesson", Category: shared.CategoryBonus, DefaultPoints: 5, AllowedRoles: teacher},
		{Key: "competition_prize", Name: "Competition prize", Category: shared.CategoryBonus, DefaultPoints: 10, AllowedRoles: teacher},

		{Key: attendance.MorningExcused, Name: "Absent morning (excused)", Category: shared.CategoryAttendance, DefaultPoints: 0, AllowedRoles: teacher},
		{Key: attendance.MorningUnexcused, Name: "Absent morning (unexcused)", Category: shared.CategoryAttendance, DefaultPoints: -2, AllowedRoles: teacher},
		{Key: attendance.AfternoonExcused, Name: "Absent afternoon (excused)", Category: shared.CategoryAttendance, DefaultPoints: 0, AllowedRoles: teacher},
		{Key: attendance.AfternoonUnexcused, Name: "Absent afternoon (unexcused)", Category: shared.CategoryAttendance, DefaultPoints: -2, AllowedRoles: teacher},
	} {
		t.IsActive = true
		t.CreatedAt, t.UpdatedAt = now, now
		skipExisting(logger, "event_type", t.Key, st.EventTypes.Insert(ctx, t))
	}
}

// seedCalendar creates the running year's settings and week milestone
func seedCalendar(ctx context.Context, st *store.Store, logger *zap.Logger) {
	calendar := academic.NewCalendarService(st, policy.New(shared.RankingAccessAdmin), logger)
	settings, err := calendar.Current(ctx)
	if err != nil {
		logger.Fatal("seed academic year", zap.Error(err))
	}
	info, err := calendar.WeekInfo(ctx)
	if err != nil {
		logger.Fatal("seed week milestone", zap.Error(err))
	}
	logger.Info("calendar ready",
		zap.String("academic_year", settings.AcademicYear),
		zap.String("competition_start_date", settings.CompetitionStartDate),
		zap.String("milestone_date", info.MilestoneDate),
	)
}

// printToken signs a bearer token for local testing
func printToken(ctx context.Context, st *store.Store, cfg *shared.ServiceConfig, logger *zap.Logger, email string) {
	u, err := st.Users.FindByEmail(ctx, email)
	if err != nil {
		logger.Fatal("user not found", zap.String("email", email), zap.Error(err))
	}
	token, exp, err := auth.NewAuthService(st, cfg, logger).Sign(u)
	if err != nil {
		logger.Fatal("sign token", zap.Error(err))
	}
	fmt.Println(token)
	logger.Info("token issued", zap.String("user_id", u.ID), zap.String("role", u.Role), zap.Time("expires_at", exp))
}
