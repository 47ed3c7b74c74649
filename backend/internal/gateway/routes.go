package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/attendance"
	"schoolpoints/backend/internal/auth"
	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/event"
	"schoolpoints/backend/internal/gateway/handlers"
	"schoolpoints/backend/internal/gateway/util"
	"schoolpoints/backend/internal/metrics"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/ranking"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
	"schoolpoints/backend/internal/user"
)

// Services bundles everything the router dispatches to.
// This struct is built once in main.go and handed to SetupRoutes.
type Services struct {
	Config  *shared.ServiceConfig
	Logger  *zap.Logger
	Store   *store.Store
	Policy  *policy.Policy
	Metrics *metrics.Metrics

	Auth       *auth.AuthService
	Events     *event.EventService
	Attendance *attendance.AttendanceService
	Classrooms *classroom.ClassroomService
	Users      *user.UserService
	Rankings   *ranking.RankingService
	Calendar   *academic.CalendarService
}

// SetupRoutes configures the Chi router, middleware, and route handlers.
func SetupRoutes(s *Services) *chi.Mux {
	r := chi.NewRouter()

	// 1. Global Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware)
	}
	if s.Config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.Config.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Config.CORS.AllowedOrigins,
		AllowedMethods:   s.Config.CORS.AllowedMethods,
		AllowedHeaders:   s.Config.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: s.Config.CORS.AllowCredentials,
		MaxAge:           s.Config.CORS.MaxAge,
	}))

	// 2. Initialize Handlers
	eventHandler := &handlers.EventHandler{Events: s.Events, Attendance: s.Attendance}
	classroomHandler := &handlers.ClassroomHandler{Classrooms: s.Classrooms}
	userHandler := &handlers.UserHandler{Users: s.Users}
	weekHandler := &handlers.WeekHandler{Rankings: s.Rankings, Calendar: s.Calendar}

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	authed := AuthMiddleware(s.Auth)
	// A valid token personalises the answer; none is required.
	optional := OptionalAuthMiddleware(s.Auth)

	rankingAuth := authed
	if s.Policy.RankingIsPublic() {
		rankingAuth = optional
	}

	// 3. Define Routes (grouped by prefix)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", HealthHandler(s.Store))

		r.With(authed).Get("/users/profile", userHandler.Profile)

		// Classrooms
		r.Route("/classrooms", func(r chi.Router) {
			r.With(optional).Get("/dropdown/public", classroomHandler.PublicDropdown)

			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Get("/", classroomHandler.ListClassrooms)
				r.Post("/", classroomHandler.CreateClassroom)
				r.Get("/dropdown", classroomHandler.Dropdown)
				r.Get("/stats", classroomHandler.Stats)
				r.Get("/{id}", classroomHandler.GetClassroom)
				r.Patch("/{id}", classroomHandler.UpdateClassroom)
				r.Delete("/{id}", classroomHandler.DeleteClassroom)
			})
		})

		// Teachers
		r.Route("/teachers", func(r chi.Router) {
			r.Use(authed)
			r.Get("/", userHandler.ListTeachers)
			r.Post("/", userHandler.CreateTeacher)
			r.Get("/{id}", userHandler.GetTeacher)
			r.Patch("/{id}", userHandler.UpdateTeacher)
			r.Delete("/{id}", userHandler.DeleteTeacher)
		})

		// Students
		r.Route("/students", func(r chi.Router) {
			r.Use(authed)
			r.Get("/", userHandler.ListStudents)
			r.Post("/", userHandler.CreateStudent)
			r.Get("/dropdown", userHandler.StudentDropdown)
			r.Get("/my-classroom", userHandler.MyClassroom)
			r.Get("/{id}", userHandler.GetStudent)
			r.Patch("/{id}", userHandler.UpdateStudent)
			r.Delete("/{id}", userHandler.DeleteStudent)
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(optional)
				r.Get("/types", eventHandler.ListEventTypes)
				r.Get("/public", eventHandler.PublicEvents)
			})

			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Get("/", eventHandler.ListEvents)
				r.Post("/", eventHandler.UpsertEvents)
				r.Put("/replace", eventHandler.ReplaceEvents)
				r.Get("/detail", eventHandler.GetEventDetail)
				r.Post("/approve", eventHandler.ApproveEvents)
				r.Get("/attendance/summary", eventHandler.AttendanceSummary)

				r.Post("/types", eventHandler.CreateEventType)
				r.Get("/types/{key}", eventHandler.GetEventType)
				r.Put("/types/{key}", eventHandler.UpdateEventType)
				r.Delete("/types/{key}", eventHandler.DeleteEventType)
			})
		})

		// Week summaries
		r.Route("/week-summaries", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(rankingAuth)
				r.Get("/rankings/realtime", weekHandler.RealtimeRankings)
				r.Get("/rankings/realtime/classroom-detail", weekHandler.RankingDetail)
			})

			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Get("/milestone", weekHandler.GetMilestone)
				r.Post("/milestone", weekHandler.ResetMilestone)
			})
		})

		// Academic year
		r.Route("/academic-year", func(r chi.Router) {
			r.Use(authed)
			r.Get("/current", weekHandler.CurrentAcademicYear)
			r.Put("/current", weekHandler.UpdateAcademicYear)
		})
	})

	return r
}

// HealthHandler reports whether the store answers a ping
func HealthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			util.WriteJSONError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
