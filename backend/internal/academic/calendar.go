// Package academic resolves academic years, competition weeks and the date
// ranges rankings are computed over.
package academic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"schoolpoints/backend/internal/shared"
)

// The school year runs from September 1 to May 31 of the following year
const (
	yearStartMonth = time.September
	yearEndMonth   = time.May
	yearEndDay     = 31
)

// YearOf returns the academic year containing t, e.g. "2025-2026"
func YearOf(t time.Time) string {
	y := t.Year()
	if t.Month() >= yearStartMonth {
		return fmt.Sprintf("%d-%d", y, y+1)
	}
	return fmt.Sprintf("%d-%d", y-1, y)
}

// YearFromDate is YearOf for a YYYY-MM-DD string
func YearFromDate(date string) (string, error) {
	t, err := shared.ParseDate(date)
	if err != nil {
		return "", errors.Wrapf(err, "parse date %q", date)
	}
	return YearOf(t), nil
}

// ParseYear validates an academic year label and returns its first calendar
// year
func ParseYear(academicYear string) (int, error) {
	parts := strings.Split(academicYear, "-")
	if len(parts) != 2 {
		return 0, errors.Errorf("academic year %q must look like 2025-2026", academicYear)
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || end != start+1 {
		return 0, errors.Errorf("academic year %q must look like 2025-2026", academicYear)
	}
	return start, nil
}

// YearRange returns the first and last day of academicYear
func YearRange(academicYear string) (time.Time, time.Time, error) {
	first, err := ParseYear(academicYear)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(first, yearStartMonth, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(first+1, yearEndMonth, yearEndDay, 0, 0, 0, 0, time.UTC)
	return start, end, nil
}

// WeekRange returns the seven days of competition week n counted from start.
// Week 1 begins on start itself.
func WeekRange(start time.Time, n int) (time.Time, time.Time, error) {
	if n < 1 {
		return time.Time{}, time.Time{}, errors.Errorf("week number must be at least 1, got %d", n)
	}
	from := start.AddDate(0, 0, (n-1)*7)
	return from, from.AddDate(0, 0, 6), nil
}

// ISOWeek returns the Monday and Sunday of the ISO week containing t
func ISOWeek(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	monday := day.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 6)
}

// WeeksSince returns the 1-based week of t counted from anchor. Dates before
// the anchor are week 1.
func WeeksSince(anchor, t time.Time) int {
	days := int(truncate(t).Sub(truncate(anchor)).Hours() / 24)
	if days < 0 {
		return 1
	}
	return days/7 + 1
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
