// Package attendance turns the attendance period of event days into monthly
// absence sheets.
package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// Session absence codes. "p" is excused, "k" unexcused; "s" is the morning
// and "c" the afternoon session.
const (
	MorningExcused     = "attendance_sp"
	MorningUnexcused   = "attendance_sk"
	AfternoonExcused   = "attendance_cp"
	AfternoonUnexcused = "attendance_ck"
)

// combined full-day codes from before attendance was recorded per session
var legacyCodes = map[string][2]string{
	"attendance_spcp": {MorningExcused, AfternoonExcused},
	"attendance_skck": {MorningUnexcused, AfternoonUnexcused},
	"attendance_spck": {MorningExcused, AfternoonUnexcused},
	"attendance_skcp": {MorningUnexcused, AfternoonExcused},
}

func isMorning(code string) bool   { return code == MorningExcused || code == MorningUnexcused }
func isAfternoon(code string) bool { return code == AfternoonExcused || code == AfternoonUnexcused }

// Sessions is what a student missed on one day
type Sessions struct {
	Morning   string `json:"morning,omitempty"`
	Afternoon string `json:"afternoon,omitempty"`
}

// Record folds one attendance entry into s. The code decides the session
// when it names one; otherwise the entry's session is used.
func (s *Sessions) Record(e shared.EventEntry) {
	switch {
	case isMorning(e.EventTypeKey):
		s.Morning = e.EventTypeKey
	case isAfternoon(e.EventTypeKey):
		s.Afternoon = e.EventTypeKey
	default:
		if pair, ok := legacyCodes[e.EventTypeKey]; ok {
			s.Morning, s.Afternoon = pair[0], pair[1]
		}
	}
}

// Code is the short sheet code of the day, e.g. "sp", "ck" or "spck".
// It is empty when nothing was missed.
func (s Sessions) Code() string {
	code := ""
	if isMorning(s.Morning) {
		code += s.Morning[len("attendance_"):]
	}
	if isAfternoon(s.Afternoon) {
		code += s.Afternoon[len("attendance_"):]
	}
	return code
}

// Counts returns the number of excused and unexcused sessions
func (s Sessions) Counts() (excused, unexcused int) {
	for _, code := range []string{s.Morning, s.Afternoon} {
		switch code {
		case MorningExcused, AfternoonExcused:
			excused++
		case MorningUnexcused, AfternoonUnexcused:
			unexcused++
		}
	}
	return excused, unexcused
}

// StudentRow is one line of the monthly sheet
type StudentRow struct {
	StudentID      string            `json:"student_id"`
	StudentCode    string            `json:"student_code,omitempty"`
	FullName       string            `json:"full_name"`
	Days           map[string]string `json:"days"` // date -> code
	AbsentSessions int               `json:"absent_sessions"`
	Excused        int               `json:"excused"`
	Unexcused      int               `json:"unexcused"`
}

// MonthlySummary is the attendance sheet of a classroom for one month
type MonthlySummary struct {
	ClassroomID   string       `json:"classroom_id"`
	ClassroomName string       `json:"classroom_name"`
	Month         int          `json:"month"`
	Year          int          `json:"year"`
	DaysInMonth   int          `json:"days_in_month"`
	Students      []StudentRow `json:"students"`
	Totals        struct {
		AbsentSessions int `json:"absent_sessions"`
		Excused        int `json:"excused"`
		Unexcused      int `json:"unexcused"`
	} `json:"totals"`
}

// AttendanceService builds attendance sheets
type AttendanceService struct {
	store  *store.Store
	policy *policy.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewAttendanceService creates a new AttendanceService instance
func NewAttendanceService(st *store.Store, pol *policy.Policy, logger *zap.Logger) *AttendanceService {
	return &AttendanceService{store: st, policy: pol, logger: logger, now: time.Now}
}

// Monthly builds the sheet of classroomID for month/year. Zero month or year
// default to the current ones.
func (s *AttendanceService) Monthly(ctx context.Context, actor *policy.Actor, classroomID string, month, year int) (*MonthlySummary, error) {
	if classroomID == "" {
		return nil, status.Error(codes.InvalidArgument, "classroom_id is required")
	}
	now := s.now()
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 || year < 2000 || year > 2100 {
		return nil, status.Error(codes.InvalidArgument, "invalid month or year")
	}
	if err := s.policy.Authorize(actor, policy.ReadClassroom, policy.Resource{ClassroomID: classroomID}); err != nil {
		return nil, err
	}

	classroom, err := s.store.Classrooms.Get(ctx, classroomID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "classroom not found")
		}
		return nil, s.internal("load classroom", err)
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	students, err := s.store.Users.List(ctx, store.UserFilter{Role: shared.RoleStudent, ClassroomID: classroomID}, 0, 0)
	if err != nil {
		return nil, s.internal("list students", err)
	}
	days, err := s.store.EventDays.List(ctx, store.EventDayFilter{
		ClassroomIDs: []string{classroomID},
		DateFrom:     shared.FormatDate(first),
		DateTo:       shared.FormatDate(last),
		WithPeriod:   shared.PeriodAttendance,
	}, 0, 0)
	if err != nil {
		return nil, s.internal("list event days", err)
	}

	// date -> student -> sessions
	byDate := map[string]map[string]*Sessions{}
	for _, d := range days {
		perStudent := map[string]*Sessions{}
		for _, e := range d.Periods[shared.PeriodAttendance] {
			if e.StudentID == "" {
				continue
			}
			ss, ok := perStudent[e.StudentID]
			if !ok {
				ss = &Sessions{}
				perStudent[e.StudentID] = ss
			}
			ss.Record(e)
		}
		byDate[d.Date] = perStudent
	}

	out := &MonthlySummary{
		ClassroomID:   classroom.ID,
		ClassroomName: classroom.FullName,
		Month:         month,
		Year:          year,
		DaysInMonth:   last.Day(),
		Students:      make([]StudentRow, 0, len(students)),
	}
	for _, st := range students {
		row := StudentRow{StudentID: st.ID, StudentCode: st.StudentCode, FullName: st.FullName, Days: map[string]string{}}
		for day := 1; day <= last.Day(); day++ {
			date := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
			ss, ok := byDate[date][st.ID]
			if !ok {
				continue
			}
			code := ss.Code()
			if code == "" {
				continue
			}
			exc, unexc := ss.Counts()
			row.Days[date] = code
			row.Excused += exc
			row.Unexcused += unexc
			row.AbsentSessions += exc + unexc
		}
		out.Totals.AbsentSessions += row.AbsentSessions
		out.Totals.Excused += row.Excused
		out.Totals.Unexcused += row.Unexcused
		out.Students = append(out.Students, row)
	}

	return out, nil
}

func (s *AttendanceService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return status.Error(codes.Internal, op+" failed")
}
