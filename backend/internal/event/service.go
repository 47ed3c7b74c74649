package event

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// Recorder receives write outcomes for metrics
type Recorder interface {
	EventDayWritten(approvalStatus string)
	EventDayConflict()
}

type nopRecorder struct{}

func (nopRecorder) EventDayWritten(string) {}
func (nopRecorder) EventDayConflict()      {}

// EventService owns EventDay writes, approval and reads
type EventService struct {
	store      *store.Store
	policy     *policy.Policy
	logger     *zap.Logger
	recorder   Recorder
	maxRetries int
	now        func() time.Time
}

// NewEventService creates a new EventService instance
func NewEventService(st *store.Store, pol *policy.Policy, config *shared.ServiceConfig, logger *zap.Logger) *EventService {
	retries := config.Events.MaxWriteRetries
	if retries < 1 {
		retries = 1
	}
	return &EventService{
		store:      st,
		policy:     pol,
		logger:     logger,
		recorder:   nopRecorder{},
		maxRetries: retries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder sets the metrics sink
func (s *EventService) WithRecorder(r Recorder) *EventService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// ============================================================================
// Request types
// ============================================================================

// EntryInput is one incoming record. Points left out take the event type's
// default.
type EntryInput struct {
	EventTypeKey string `json:"event_type_key" validate:"required_without=Points"`
	StudentID    string `json:"student_id"`
	Points       *int   `json:"points"`
	Description  string `json:"description"`
	Session      string `json:"session" validate:"omitempty,oneof=morning afternoon"`
}

// UpsertRequest carries the periods to write for one (date, classroom)
type UpsertRequest struct {
	Date        string                  `json:"date" validate:"required,isodate"`
	ClassroomID string                  `json:"classroom_id"`
	Classroom   string                  `json:"classroom"` // accepted alias of classroom_id
	Periods     map[string][]EntryInput `json:"periods" validate:"required,dive,dive"`
}

func (r *UpsertRequest) classroom() string {
	if r.ClassroomID != "" {
		return strings.TrimSpace(r.ClassroomID)
	}
	return strings.TrimSpace(r.Classroom)
}

// ============================================================================
// Upsert
// ============================================================================

// Upsert applies req to the EventDay of (date, classroom), creating the day on
// first write. The read-modify-write is guarded by the day's version and
// retried on conflict.
func (s *EventService) Upsert(ctx context.Context, actor *policy.Actor, req *UpsertRequest, mode Mode) (*shared.EventDay, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	classroomID := req.classroom()
	if actor.Role == shared.RoleStudent {
		if actor.ClassroomID == "" {
			return nil, status.Error(codes.InvalidArgument, "student is not assigned to a classroom")
		}
		classroomID = actor.ClassroomID
	}

	if strings.TrimSpace(req.Date) == "" || classroomID == "" {
		return nil, status.Error(codes.InvalidArgument, "date and classroom_id are required")
	}
	date, err := shared.ParseDate(req.Date)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be formatted YYYY-MM-DD")
	}
	if req.Periods == nil {
		return nil, status.Error(codes.InvalidArgument, "periods is required")
	}

	for period := range req.Periods {
		if !ValidPeriodKey(period) {
			return nil, status.Errorf(codes.InvalidArgument, "invalid period %q", period)
		}
		if IsSuddenPeriod(period) {
			if err := s.policy.Authorize(actor, policy.WriteSuddenPeriod, policy.Resource{ClassroomID: classroomID}); err != nil {
				return nil, err
			}
		}
	}
	if err := s.policy.Authorize(actor, policy.WriteEvents, policy.Resource{ClassroomID: classroomID}); err != nil {
		return nil, err
	}

	if _, err := s.store.Classrooms.Get(ctx, classroomID); err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "classroom not found")
		}
		return nil, s.internal("load classroom", err)
	}

	incoming, err := s.resolveEntries(ctx, actor, req.Periods)
	if err != nil {
		return nil, err
	}

	dateStr := shared.FormatDate(date)
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		day, err := s.writeOnce(ctx, actor, dateStr, classroomID, incoming, mode)
		if err == nil {
			s.recorder.EventDayWritten(day.ApprovalStatus)
			s.logger.Info("event day written",
				zap.String("event_day_id", day.ID),
				zap.String("date", day.Date),
				zap.String("classroom_id", day.ClassroomID),
				zap.String("actor_id", actor.ID),
				zap.String("approval_status", day.ApprovalStatus),
				zap.Int("total_events", day.TotalEvents),
				zap.Int("attempt", attempt),
			)
			return day, nil
		}
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicate) {
			s.recorder.EventDayConflict()
			s.logger.Debug("event day write conflict, retrying",
				zap.String("date", dateStr), zap.String("classroom_id", classroomID), zap.Int("attempt", attempt))
			continue
		}
		return nil, s.internal("write event day", err)
	}

	return nil, status.Error(codes.Aborted, "event day was modified concurrently, please retry")
}

// writeOnce performs one read-modify-write round
func (s *EventService) writeOnce(ctx context.Context, actor *policy.Actor, date, classroomID string, incoming map[string][]shared.EventEntry, mode Mode) (*shared.EventDay, error) {
	now := s.now()

	existing, err := s.store.EventDays.FindByKey(ctx, date, classroomID)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}

	if existing == nil {
		day := &shared.EventDay{
			ID:            shared.GenerateID("evd"),
			Date:          date,
			ClassroomID:   classroomID,
			AcademicYear:  academicYearOf(date),
			Periods:       ApplyPeriods(nil, incoming, mode),
			CreatedBy:     actor.ID,
			CreatedByName: actor.FullName,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		day.TotalEvents = TotalEvents(day.Periods)
		NextApproval(nil, actor, incoming, now).Apply(day)

		if err := s.store.EventDays.Insert(ctx, day); err != nil {
			return nil, err
		}
		return day, nil
	}

	prev := ApprovalOf(existing)
	day := existing
	day.Periods = ApplyPeriods(existing.Periods, incoming, mode)
	day.TotalEvents = TotalEvents(day.Periods)
	if day.AcademicYear == "" {
		day.AcademicYear = academicYearOf(date)
	}
	day.UpdatedAt = now
	NextApproval(&prev, actor, incoming, now).Apply(day)

	if err := s.store.EventDays.Replace(ctx, day); err != nil {
		return nil, err
	}
	return day, nil
}

func academicYearOf(date string) string {
	t, err := shared.ParseDate(date)
	if err != nil {
		return ""
	}
	return academic.YearOf(t)
}

// resolveEntries validates incoming entries and fills default points
func (s *EventService) resolveEntries(ctx context.Context, actor *policy.Actor, periods map[string][]EntryInput) (map[string][]shared.EventEntry, error) {
	types := map[string]*shared.EventType{}
	lookup := func(key string) (*shared.EventType, error) {
		if t, ok := types[key]; ok {
			return t, nil
		}
		t, err := s.store.EventTypes.Get(ctx, key)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, status.Errorf(codes.InvalidArgument, "unknown event type %q", key)
			}
			return nil, s.internal("load event type", err)
		}
		types[key] = t
		return t, nil
	}

	out := make(map[string][]shared.EventEntry, len(periods))
	for period, inputs := range periods {
		entries := make([]shared.EventEntry, 0, len(inputs))
		for _, in := range inputs {
			key := strings.TrimSpace(in.EventTypeKey)
			if key == "" && in.Points == nil {
				return nil, status.Errorf(codes.InvalidArgument, "event_type_key or points is required in period %q", period)
			}
			switch in.Session {
			case "", shared.SessionMorning, shared.SessionAfternoon:
			default:
				return nil, status.Errorf(codes.InvalidArgument, "invalid session %q", in.Session)
			}

			entry := shared.EventEntry{
				EventTypeKey: key,
				StudentID:    strings.TrimSpace(in.StudentID),
				Description:  in.Description,
				Session:      in.Session,
			}

			switch {
			case key == "":
				// untyped entries carry their own points
				if actor.Role == shared.RoleStudent {
					return nil, status.Error(codes.PermissionDenied, "students must name an event type")
				}
				entry.Points = *in.Points
			case key == shared.CustomBonusKey:
				if in.Points == nil {
					return nil, status.Error(codes.InvalidArgument, "points are required for custom bonus entries")
				}
				entry.Points = *in.Points
			default:
				t, err := lookup(key)
				if err != nil {
					return nil, err
				}
				if actor.Role == shared.RoleStudent && !t.AllowsRole(shared.RoleStudent) {
					return nil, status.Errorf(codes.PermissionDenied, "students cannot record %q", key)
				}
				if in.Points != nil {
					entry.Points = *in.Points
				} else {
					entry.Points = t.DefaultPoints
				}
			}
			entries = append(entries, entry)
		}
		out[period] = entries
	}
	return out, nil
}

// ============================================================================
// Approval
// ============================================================================

// Approve moves an EventDay to approved or rejected
func (s *EventService) Approve(ctx context.Context, actor *policy.Actor, eventDayID, action string) (*shared.EventDay, error) {
	var next string
	switch action {
	case "approve":
		next = shared.ApprovalApproved
	case "reject":
		next = shared.ApprovalRejected
	default:
		return nil, status.Error(codes.InvalidArgument, "action must be approve or reject")
	}
	if eventDayID == "" {
		return nil, status.Error(codes.InvalidArgument, "event_id is required")
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		day, err := s.store.EventDays.Get(ctx, eventDayID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, status.Error(codes.NotFound, "event day not found")
			}
			return nil, s.internal("load event day", err)
		}

		if err := s.policy.Authorize(actor, policy.ApproveEventDay, policy.Resource{ClassroomID: day.ClassroomID}); err != nil {
			return nil, err
		}

		now := s.now()
		Approval{Status: next, ApprovedBy: actor.ID, ByName: actor.FullName, At: &now}.Apply(day)
		day.UpdatedAt = now

		if err := s.store.EventDays.Replace(ctx, day); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.recorder.EventDayConflict()
				continue
			}
			return nil, s.internal("save approval", err)
		}

		s.recorder.EventDayWritten(day.ApprovalStatus)
		s.logger.Info("event day reviewed",
			zap.String("event_day_id", day.ID),
			zap.String("status", day.ApprovalStatus),
			zap.String("actor_id", actor.ID),
		)
		return day, nil
	}

	return nil, status.Error(codes.Aborted, "event day was modified concurrently, please retry")
}

// ============================================================================
// Reads
// ============================================================================

// Views select which periods a listing shows
const (
	ViewDaily           = "daily"
	ViewViolationSudden = shared.PeriodViolationSudden
	ViewBonusSudden     = shared.PeriodBonusSudden
	ViewAll             = "all"
)

// ListQuery filters the event-day listing
type ListQuery struct {
	Date        string
	ClassroomID string
	View        string
	Page        shared.Page
}

// ListResult is a page of event days
type ListResult struct {
	Results    []*shared.EventDay `json:"results"`
	Pagination shared.Pagination  `json:"pagination"`
}

// readableClassrooms returns the classrooms actor may read; nil means all
func readableClassrooms(actor *policy.Actor) []string {
	switch actor.Role {
	case shared.RoleAdmin, shared.RoleDormSupervisor:
		return nil
	case shared.RoleTeacher:
		return append([]string{}, actor.HomeroomClassIDs...)
	case shared.RoleStudent:
		if actor.ClassroomID == "" {
			return []string{}
		}
		return []string{actor.ClassroomID}
	}
	return []string{}
}

func viewPeriods(periods map[string][]shared.EventEntry, view string) map[string][]shared.EventEntry {
	out := map[string][]shared.EventEntry{}
	for k, v := range periods {
		keep := false
		switch view {
		case ViewAll:
			keep = true
		case ViewViolationSudden, ViewBonusSudden:
			keep = k == view
		default:
			keep = !IsSentinelPeriod(k)
		}
		if keep && len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// List returns event days visible to actor, reduced to the requested view.
// Days with nothing left in the view are skipped.
func (s *EventService) List(ctx context.Context, actor *policy.Actor, q ListQuery) (*ListResult, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if q.Date != "" {
		if _, err := shared.ParseDate(q.Date); err != nil {
			return nil, status.Error(codes.InvalidArgument, "date must be formatted YYYY-MM-DD")
		}
	}
	switch q.View {
	case "", ViewDaily, ViewViolationSudden, ViewBonusSudden, ViewAll:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown view %q", q.View)
	}

	filter := store.EventDayFilter{Date: q.Date, ClassroomIDs: readableClassrooms(actor)}
	if q.ClassroomID != "" {
		if !s.policy.Can(actor, policy.ReadClassroom, policy.Resource{ClassroomID: q.ClassroomID}) {
			filter.ClassroomIDs = []string{}
		} else {
			filter.ClassroomIDs = []string{q.ClassroomID}
		}
	}
	if q.View == ViewViolationSudden || q.View == ViewBonusSudden {
		filter.WithPeriod = q.View
	}

	days, err := s.store.EventDays.List(ctx, filter, 0, 0)
	if err != nil {
		return nil, s.internal("list event days", err)
	}

	visible := make([]*shared.EventDay, 0, len(days))
	for _, d := range days {
		d.Periods = viewPeriods(d.Periods, q.View)
		if len(d.Periods) > 0 {
			visible = append(visible, d)
		}
	}

	pg := q.Page.Normalize()
	start := pg.Skip()
	end := start + pg.PageSize
	if start > len(visible) {
		start = len(visible)
	}
	if end > len(visible) {
		end = len(visible)
	}

	return &ListResult{
		Results:    visible[start:end],
		Pagination: shared.NewPagination(pg, int64(len(visible))),
	}, nil
}

// DetailQuery addresses one day by id or by (date, classroom)
type DetailQuery struct {
	ID          string
	Date        string
	ClassroomID string
}

// Detail returns one event day with student and event type names filled in
func (s *EventService) Detail(ctx context.Context, actor *policy.Actor, q DetailQuery) (*shared.EventDay, error) {
	if actor == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	var (
		day *shared.EventDay
		err error
	)
	switch {
	case q.ID != "":
		day, err = s.store.EventDays.Get(ctx, q.ID)
	case q.Date != "" && q.ClassroomID != "":
		day, err = s.store.EventDays.FindByKey(ctx, q.Date, q.ClassroomID)
	default:
		return nil, status.Error(codes.InvalidArgument, "id or date and classroom_id are required")
	}
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "event day not found")
		}
		return nil, s.internal("load event day", err)
	}

	if err := s.policy.Authorize(actor, policy.ReadClassroom, policy.Resource{ClassroomID: day.ClassroomID}); err != nil {
		return nil, err
	}

	if err := s.enrich(ctx, []*shared.EventDay{day}); err != nil {
		return nil, err
	}
	return day, nil
}

// enrich fills display names on days in place
func (s *EventService) enrich(ctx context.Context, days []*shared.EventDay) error {
	studentIDs := map[string]bool{}
	classroomIDs := map[string]bool{}
	for _, d := range days {
		classroomIDs[d.ClassroomID] = true
		for _, entries := range d.Periods {
			for _, e := range entries {
				if e.StudentID != "" {
					studentIDs[e.StudentID] = true
				}
			}
		}
	}

	students, err := s.store.Users.GetMany(ctx, keys(studentIDs))
	if err != nil {
		return s.internal("load students", err)
	}
	names := make(map[string]string, len(students))
	for _, u := range students {
		names[u.ID] = u.FullName
	}

	classrooms, err := s.store.Classrooms.GetMany(ctx, keys(classroomIDs))
	if err != nil {
		return s.internal("load classrooms", err)
	}
	classNames := make(map[string]string, len(classrooms))
	for _, c := range classrooms {
		classNames[c.ID] = c.FullName
	}

	types, err := s.store.EventTypes.List(ctx, false)
	if err != nil {
		return s.internal("load event types", err)
	}
	typeNames := make(map[string]string, len(types))
	for _, t := range types {
		typeNames[t.Key] = t.Name
	}

	for _, d := range days {
		d.ClassroomName = classNames[d.ClassroomID]
		for period, entries := range d.Periods {
			for i := range entries {
				e := &entries[i]
				e.StudentName = names[e.StudentID]
				e.EventTypeName = eventTypeName(e, typeNames)
			}
			d.Periods[period] = entries
		}
	}
	return nil
}

func eventTypeName(e *shared.EventEntry, typeNames map[string]string) string {
	if name, ok := typeNames[e.EventTypeKey]; ok {
		return name
	}
	if e.EventTypeKey == shared.CustomBonusKey {
		if e.Description != "" {
			return e.Description
		}
		return "Custom bonus"
	}
	return e.EventTypeKey
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PublicEvent is one flattened record of the public feed
type PublicEvent struct {
	ID             string `json:"id"`
	Date           string `json:"date"`
	Period         string `json:"period"`
	ClassroomID    string `json:"classroom_id"`
	ClassroomName  string `json:"classroom_name"`
	StudentID      string `json:"student_id,omitempty"`
	StudentName    string `json:"student_name,omitempty"`
	EventTypeKey   string `json:"event_type_key"`
	EventTypeName  string `json:"event_type_name"`
	Points         int    `json:"points"`
	Description    string `json:"description,omitempty"`
	ApprovalStatus string `json:"approval_status"`
}

// PublicFeed lists the records of a date for unauthenticated displays.
// Attendance is never published.
func (s *EventService) PublicFeed(ctx context.Context, date, classroomID string) ([]PublicEvent, error) {
	if date == "" {
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}
	if _, err := shared.ParseDate(date); err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be formatted YYYY-MM-DD")
	}

	filter := store.EventDayFilter{Date: date}
	if classroomID != "" {
		filter.ClassroomIDs = []string{classroomID}
	}
	days, err := s.store.EventDays.List(ctx, filter, 0, 0)
	if err != nil {
		return nil, s.internal("list event days", err)
	}
	if err := s.enrich(ctx, days); err != nil {
		return nil, err
	}

	out := []PublicEvent{}
	for _, d := range days {
		periods := make([]string, 0, len(d.Periods))
		for p := range d.Periods {
			if p != shared.PeriodAttendance {
				periods = append(periods, p)
			}
		}
		sort.Strings(periods)

		for _, p := range periods {
			for i, e := range d.Periods[p] {
				out = append(out, PublicEvent{
					ID:             fmt.Sprintf("%s_%s_%d", d.ID, p, i),
					Date:           d.Date,
					Period:         p,
					ClassroomID:    d.ClassroomID,
					ClassroomName:  d.ClassroomName,
					StudentID:      e.StudentID,
					StudentName:    e.StudentName,
					EventTypeKey:   e.EventTypeKey,
					EventTypeName:  e.EventTypeName,
					Points:         e.Points,
					Description:    e.Description,
					ApprovalStatus: d.ApprovalStatus,
				})
			}
		}
	}
	return out, nil
}

func (s *EventService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return status.Error(codes.Internal, op+" failed")
}
