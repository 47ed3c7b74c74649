// Package ranking computes classroom standings from approved event days.
package ranking

import (
	"sort"

	"schoolpoints/backend/internal/shared"
)

// Score is the point balance of one classroom
type Score struct {
	Positive int `json:"positive_points"`
	Negative int `json:"negative_points"` // absolute value of penalties
	Total    int `json:"total_points"`
}

func (s *Score) add(points int) {
	switch {
	case points > 0:
		s.Positive += points
	case points < 0:
		s.Negative -= points
	}
	s.Total += points
}

// Standing is one row of a ranking
type Standing struct {
	Rank        int               `json:"rank"`
	ClassroomID string            `json:"classroom_id"`
	Classroom   *shared.Classroom `json:"classroom,omitempty"`
	Entries     int               `json:"entries"`
	Score
}

// Aggregate sums the entries of days per classroom and ranks the result by
// total descending. Ties go to the classroom whose full name sorts first,
// then to the lower id. Classrooms without entries are left out. classrooms
// supplies names and may miss some ids.
func Aggregate(days []*shared.EventDay, classrooms map[string]*shared.Classroom) []Standing {
	byClass := map[string]*Standing{}
	for _, d := range days {
		if d.ClassroomID == "" {
			continue
		}
		for _, entries := range d.Periods {
			for _, e := range entries {
				st, ok := byClass[d.ClassroomID]
				if !ok {
					st = &Standing{ClassroomID: d.ClassroomID, Classroom: classrooms[d.ClassroomID]}
					byClass[d.ClassroomID] = st
				}
				st.Entries++
				st.add(e.Points)
			}
		}
	}

	out := make([]Standing, 0, len(byClass))
	for _, st := range byClass {
		out = append(out, *st)
	}

	name := func(s Standing) string {
		if s.Classroom != nil {
			return s.Classroom.FullName
		}
		return ""
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if ni, nj := name(out[i]), name(out[j]); ni != nj {
			return ni < nj
		}
		return out[i].ClassroomID < out[j].ClassroomID
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// PeriodBreakdown is the score of one period of one day
type PeriodBreakdown struct {
	Period  string `json:"period"`
	Entries int    `json:"entries"`
	Score
}

// DayBreakdown is the score of one day of a classroom
type DayBreakdown struct {
	Date    string            `json:"date"`
	Periods []PeriodBreakdown `json:"periods"`
	Score
}

// Breakdown splits the score of one classroom by date and period. Days and
// periods are returned in ascending order.
func Breakdown(days []*shared.EventDay) ([]DayBreakdown, Score) {
	var total Score
	out := make([]DayBreakdown, 0, len(days))
	for _, d := range days {
		db := DayBreakdown{Date: d.Date}
		for period, entries := range d.Periods {
			if len(entries) == 0 {
				continue
			}
			pb := PeriodBreakdown{Period: period, Entries: len(entries)}
			for _, e := range entries {
				pb.add(e.Points)
				db.add(e.Points)
				total.add(e.Points)
			}
			db.Periods = append(db.Periods, pb)
		}
		if len(db.Periods) == 0 {
			continue
		}
		sort.Slice(db.Periods, func(i, j int) bool { return periodLess(db.Periods[i].Period, db.Periods[j].Period) })
		out = append(out, db)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, total
}

// periodLess orders numbered lessons numerically ahead of sentinel keys
func periodLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	if isDigits(a) != isDigits(b) {
		return isDigits(a)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
