package academic

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// CalendarService serves academic-year settings and week milestones
type CalendarService struct {
	store  *store.Store
	policy *policy.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewCalendarService creates a new CalendarService instance
func NewCalendarService(st *store.Store, pol *policy.Policy, logger *zap.Logger) *CalendarService {
	return &CalendarService{
		store:  st,
		policy: pol,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *CalendarService) SetClock(now func() time.Time) {
	s.now = now
}

// ============================================================================
// Academic year settings
// ============================================================================

// Settings returns the settings of academicYear, creating defaults on first
// access. For the running year competition starts today at the earliest;
// other years start with the academic year.
func (s *CalendarService) Settings(ctx context.Context, academicYear string) (*shared.AcademicYearSettings, error) {
	start, end, err := YearRange(academicYear)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	settings, err := s.store.Settings.GetAcademicYear(ctx, academicYear)
	if err == nil {
		return settings, nil
	}
	if !store.IsNotFound(err) {
		s.logger.Error("load academic year settings", zap.String("academic_year", academicYear), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load academic year settings")
	}

	now := s.now()
	competitionStart := start
	if academicYear == YearOf(now) && truncate(now).After(start) {
		competitionStart = truncate(now)
	}

	settings = &shared.AcademicYearSettings{
		ID:                   shared.GenerateID("set"),
		Key:                  shared.AcademicYearSettingsKey,
		AcademicYear:         academicYear,
		AcademicYearStart:    shared.FormatDate(start),
		AcademicYearEnd:      shared.FormatDate(end),
		CompetitionStartDate: shared.FormatDate(competitionStart),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Settings.SaveAcademicYear(ctx, settings); err != nil {
		s.logger.Error("create academic year settings", zap.String("academic_year", academicYear), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create academic year settings")
	}

	s.logger.Info("academic year settings created",
		zap.String("academic_year", academicYear),
		zap.String("competition_start_date", settings.CompetitionStartDate),
	)
	return settings, nil
}

// Current returns the settings of the running academic year
func (s *CalendarService) Current(ctx context.Context) (*shared.AcademicYearSettings, error) {
	return s.Settings(ctx, YearOf(s.now()))
}

// UpdateCompetitionStartRequest moves week 1 of the running year
type UpdateCompetitionStartRequest struct {
	CompetitionStartDate string `json:"competition_start_date" validate:"required,isodate"`
}

// UpdateCurrent changes the competition start of the running academic year.
// The date must fall inside the academic year.
func (s *CalendarService) UpdateCurrent(ctx context.Context, actor *policy.Actor, req *UpdateCompetitionStartRequest) (*shared.AcademicYearSettings, error) {
	if err := s.policy.Authorize(actor, policy.ManageCalendar, policy.Resource{}); err != nil {
		return nil, err
	}
	date, err := shared.ParseDate(req.CompetitionStartDate)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "competition_start_date must be formatted YYYY-MM-DD")
	}

	settings, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	start, _ := shared.ParseDate(settings.AcademicYearStart)
	end, _ := shared.ParseDate(settings.AcademicYearEnd)
	if date.Before(start) || date.After(end) {
		return nil, status.Errorf(codes.InvalidArgument, "competition_start_date must be between %s and %s",
			settings.AcademicYearStart, settings.AcademicYearEnd)
	}

	settings.CompetitionStartDate = shared.FormatDate(date)
	settings.UpdatedAt = s.now()
	if err := s.store.Settings.SaveAcademicYear(ctx, settings); err != nil {
		s.logger.Error("save academic year settings", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to save academic year settings")
	}

	s.logger.Info("competition start updated",
		zap.String("academic_year", settings.AcademicYear),
		zap.String("competition_start_date", settings.CompetitionStartDate),
		zap.String("actor_id", actor.ID),
	)
	return settings, nil
}

// ============================================================================
// Date ranges
// ============================================================================

// RangeQuery selects a ranking period. Explicit dates win over a week
// number; with neither the current ISO week is used.
type RangeQuery struct {
	StartDate    string
	EndDate      string
	WeekNumber   int
	AcademicYear string
}

// DateRange is a resolved, inclusive period
type DateRange struct {
	Start        string `json:"start_date"`
	End          string `json:"end_date"`
	WeekNumber   int    `json:"week_number"`
	Year         int    `json:"year"`
	AcademicYear string `json:"academic_year"`
}

// ResolveRange turns q into a concrete date range
func (s *CalendarService) ResolveRange(ctx context.Context, q RangeQuery) (*DateRange, error) {
	switch {
	case q.StartDate != "" || q.EndDate != "":
		from, err1 := shared.ParseDate(q.StartDate)
		to, err2 := shared.ParseDate(q.EndDate)
		if err1 != nil || err2 != nil {
			return nil, status.Error(codes.InvalidArgument, "start_date and end_date must both be formatted YYYY-MM-DD")
		}
		if to.Before(from) {
			return nil, status.Error(codes.InvalidArgument, "end_date is before start_date")
		}
		_, week := from.ISOWeek()
		return &DateRange{
			Start:        shared.FormatDate(from),
			End:          shared.FormatDate(to),
			WeekNumber:   week,
			Year:         from.Year(),
			AcademicYear: YearOf(from),
		}, nil

	case q.WeekNumber != 0:
		academicYear := q.AcademicYear
		if academicYear == "" {
			academicYear = YearOf(s.now())
		}
		settings, err := s.Settings(ctx, academicYear)
		if err != nil {
			return nil, err
		}
		anchor, err := shared.ParseDate(settings.CompetitionStartDate)
		if err != nil {
			return nil, status.Error(codes.Internal, "stored competition_start_date is malformed")
		}
		from, to, err := WeekRange(anchor, q.WeekNumber)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return &DateRange{
			Start:        shared.FormatDate(from),
			End:          shared.FormatDate(to),
			WeekNumber:   q.WeekNumber,
			Year:         from.Year(),
			AcademicYear: academicYear,
		}, nil

	default:
		now := s.now()
		from, to := ISOWeek(now)
		year, week := now.ISOWeek()
		return &DateRange{
			Start:        shared.FormatDate(from),
			End:          shared.FormatDate(to),
			WeekNumber:   week,
			Year:         year,
			AcademicYear: YearOf(from),
		}, nil
	}
}

// ============================================================================
// Week milestones
// ============================================================================

// WeekInfo describes the current week relative to the active milestone
type WeekInfo struct {
	AcademicYear  string `json:"academic_year"`
	MilestoneDate string `json:"milestone_date"`
	MilestoneWeek int    `json:"milestone_week"`
	MilestoneYear int    `json:"milestone_year"`
	CurrentWeek   int    `json:"current_week"`
	CurrentYear   int    `json:"current_year"`
	WeekNumber    int    `json:"week_number"`
}

// Milestone returns the active milestone of the running year, anchoring a
// new one to today when none exists.
func (s *CalendarService) Milestone(ctx context.Context) (*shared.WeekMilestone, error) {
	academicYear := YearOf(s.now())
	m, err := s.store.Milestones.FindActive(ctx, academicYear)
	if err == nil {
		return m, nil
	}
	if !store.IsNotFound(err) {
		s.logger.Error("load week milestone", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load week milestone")
	}
	return s.createMilestone(ctx, academicYear)
}

func (s *CalendarService) createMilestone(ctx context.Context, academicYear string) (*shared.WeekMilestone, error) {
	now := s.now()
	year, week := now.ISOWeek()
	m := &shared.WeekMilestone{
		ID:           shared.GenerateID("wm"),
		AcademicYear: academicYear,
		StartDate:    shared.FormatDate(now),
		WeekNumber:   week,
		Year:         year,
		Description:  fmt.Sprintf("First competition week - week %d/%d", week, year),
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.store.Milestones.Insert(ctx, m); err != nil {
		s.logger.Error("create week milestone", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create week milestone")
	}
	s.logger.Info("week milestone created", zap.String("academic_year", academicYear), zap.String("start_date", m.StartDate))
	return m, nil
}

// WeekInfo reports the ISO week of today and its competition week number
func (s *CalendarService) WeekInfo(ctx context.Context) (*WeekInfo, error) {
	m, err := s.Milestone(ctx)
	if err != nil {
		return nil, err
	}
	anchor, err := shared.ParseDate(m.StartDate)
	if err != nil {
		return nil, status.Error(codes.Internal, "stored milestone date is malformed")
	}

	now := s.now()
	year, week := now.ISOWeek()
	return &WeekInfo{
		AcademicYear:  m.AcademicYear,
		MilestoneDate: m.StartDate,
		MilestoneWeek: m.WeekNumber,
		MilestoneYear: m.Year,
		CurrentWeek:   week,
		CurrentYear:   year,
		WeekNumber:    WeeksSince(anchor, now),
	}, nil
}

// ResetMilestone deactivates the running year's milestones and anchors a
// fresh one to today
func (s *CalendarService) ResetMilestone(ctx context.Context, actor *policy.Actor) (*shared.WeekMilestone, error) {
	if err := s.policy.Authorize(actor, policy.ManageCalendar, policy.Resource{}); err != nil {
		return nil, err
	}
	academicYear := YearOf(s.now())

	var m *shared.WeekMilestone
	err := s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.Milestones.DeactivateAll(ctx, academicYear); err != nil {
			return errors.Wrap(err, "deactivate milestones")
		}
		var err error
		m, err = s.createMilestone(ctx, academicYear)
		return err
	})
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		s.logger.Error("reset week milestone", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to reset week milestone")
	}
	return m, nil
}
