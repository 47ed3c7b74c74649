package ranking

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// RangeResolver turns a ranking query into concrete dates
type RangeResolver interface {
	ResolveRange(ctx context.Context, q academic.RangeQuery) (*academic.DateRange, error)
}

// Recorder observes ranking computations
type Recorder interface {
	RankingComputed(kind string, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RankingComputed(string, time.Duration) {}

// RankingService computes realtime rankings
type RankingService struct {
	store    *store.Store
	policy   *policy.Policy
	calendar RangeResolver
	logger   *zap.Logger
	recorder Recorder
}

// NewRankingService creates a new RankingService instance
func NewRankingService(st *store.Store, pol *policy.Policy, calendar RangeResolver, logger *zap.Logger) *RankingService {
	return &RankingService{
		store:    st,
		policy:   pol,
		calendar: calendar,
		logger:   logger,
		recorder: nopRecorder{},
	}
}

// WithRecorder sets the metrics sink
func (s *RankingService) WithRecorder(r Recorder) *RankingService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// HomeroomTeacher is the teacher summary attached to ranked classrooms
type HomeroomTeacher struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// RankedClassroom is the public shape of a ranked classroom
type RankedClassroom struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	FullName        string           `json:"full_name"`
	Grade           string           `json:"grade"`
	HomeroomTeacher *HomeroomTeacher `json:"homeroom_teacher"`
}

// Row is one line of the realtime ranking
type Row struct {
	Rank       int             `json:"rank"`
	Classroom  RankedClassroom `json:"classroom"`
	WeekNumber int             `json:"week_number"`
	Year       int             `json:"year"`
	Entries    int             `json:"entries"`
	Score
}

// Result is a realtime ranking and the period it covers
type Result struct {
	Range    *academic.DateRange `json:"range"`
	Rankings []Row               `json:"rankings"`
}

// approvedDays loads the approved days of the range, optionally for one
// classroom
func (s *RankingService) approvedDays(ctx context.Context, r *academic.DateRange, classroomID string) ([]*shared.EventDay, error) {
	filter := store.EventDayFilter{
		DateFrom:       r.Start,
		DateTo:         r.End,
		ApprovalStatus: shared.ApprovalApproved,
	}
	// explicit ranges may straddle two academic years
	if start, _ := academic.YearFromDate(r.Start); start == r.AcademicYear {
		if end, _ := academic.YearFromDate(r.End); end == r.AcademicYear {
			filter.AcademicYear = r.AcademicYear
		}
	}
	if classroomID != "" {
		filter.ClassroomIDs = []string{classroomID}
	}

	days, err := s.store.EventDays.List(ctx, filter, 0, 0)
	if err != nil {
		s.logger.Error("list approved event days", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load events")
	}
	return days, nil
}

// Realtime ranks every classroom with approved entries in the queried period
func (s *RankingService) Realtime(ctx context.Context, actor *policy.Actor, q academic.RangeQuery) (*Result, error) {
	if err := s.policy.Authorize(actor, policy.ViewRanking, policy.Resource{}); err != nil {
		return nil, err
	}
	started := time.Now()

	r, err := s.calendar.ResolveRange(ctx, q)
	if err != nil {
		return nil, err
	}
	days, err := s.approvedDays(ctx, r, "")
	if err != nil {
		return nil, err
	}

	ids := map[string]bool{}
	for _, d := range days {
		ids[d.ClassroomID] = true
	}
	classrooms, teachers, err := s.loadClassrooms(ctx, ids)
	if err != nil {
		return nil, err
	}

	standings := Aggregate(days, classrooms)
	rows := make([]Row, 0, len(standings))
	for _, st := range standings {
		row := Row{
			Rank:       st.Rank,
			Classroom:  RankedClassroom{ID: st.ClassroomID},
			WeekNumber: r.WeekNumber,
			Year:       r.Year,
			Entries:    st.Entries,
			Score:      st.Score,
		}
		if c := st.Classroom; c != nil {
			row.Classroom.Name = c.Name
			row.Classroom.FullName = c.FullName
			row.Classroom.Grade = c.Grade
			if t, ok := teachers[c.HomeroomTeacherID]; ok {
				row.Classroom.HomeroomTeacher = &HomeroomTeacher{ID: t.ID, FullName: t.FullName}
			}
		}
		rows = append(rows, row)
	}

	s.recorder.RankingComputed("realtime", time.Since(started))
	s.logger.Debug("ranking computed",
		zap.String("start", r.Start), zap.String("end", r.End),
		zap.Int("days", len(days)), zap.Int("classrooms", len(rows)),
	)
	return &Result{Range: r, Rankings: rows}, nil
}

func (s *RankingService) loadClassrooms(ctx context.Context, ids map[string]bool) (map[string]*shared.Classroom, map[string]*shared.User, error) {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	found, err := s.store.Classrooms.GetMany(ctx, list)
	if err != nil {
		s.logger.Error("load ranked classrooms", zap.Error(err))
		return nil, nil, status.Error(codes.Internal, "failed to load classrooms")
	}

	classrooms := make(map[string]*shared.Classroom, len(found))
	teacherIDs := []string{}
	for _, c := range found {
		classrooms[c.ID] = c
		if c.HomeroomTeacherID != "" {
			teacherIDs = append(teacherIDs, c.HomeroomTeacherID)
		}
	}

	users, err := s.store.Users.GetMany(ctx, teacherIDs)
	if err != nil {
		s.logger.Error("load homeroom teachers", zap.Error(err))
		return nil, nil, status.Error(codes.Internal, "failed to load teachers")
	}
	teachers := make(map[string]*shared.User, len(users))
	for _, u := range users {
		if u.Role == shared.RoleTeacher {
			teachers[u.ID] = u
		}
	}
	return classrooms, teachers, nil
}

// ClassroomDetail is the per-day breakdown of one classroom
type ClassroomDetail struct {
	Range     *academic.DateRange `json:"range"`
	Classroom *shared.Classroom   `json:"classroom"`
	Days      []DayBreakdown      `json:"days"`
	Totals    Score               `json:"totals"`
}

// Detail breaks the score of classroomID down by date and period
func (s *RankingService) Detail(ctx context.Context, actor *policy.Actor, classroomID string, q academic.RangeQuery) (*ClassroomDetail, error) {
	if err := s.policy.Authorize(actor, policy.ViewRanking, policy.Resource{ClassroomID: classroomID}); err != nil {
		return nil, err
	}
	if classroomID == "" {
		return nil, status.Error(codes.InvalidArgument, "classroom_id is required")
	}
	started := time.Now()

	classroom, err := s.store.Classrooms.Get(ctx, classroomID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "classroom not found")
		}
		return nil, status.Error(codes.Internal, "failed to load classroom")
	}

	r, err := s.calendar.ResolveRange(ctx, q)
	if err != nil {
		return nil, err
	}
	days, err := s.approvedDays(ctx, r, classroomID)
	if err != nil {
		return nil, err
	}

	breakdown, totals := Breakdown(days)
	s.recorder.RankingComputed("classroom_detail", time.Since(started))
	return &ClassroomDetail{Range: r, Classroom: classroom, Days: breakdown, Totals: totals}, nil
}
