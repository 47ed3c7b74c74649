package event

import (
	"strconv"
	"time"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
)

// legacySuddenPeriod is the pre-split key for sudden records, still found in
// old documents.
const legacySuddenPeriod = "sudden"

// IsSuddenPeriod reports whether period bypasses the approval workflow
func IsSuddenPeriod(period string) bool {
	switch period {
	case shared.PeriodViolationSudden, shared.PeriodBonusSudden, legacySuddenPeriod:
		return true
	}
	return false
}

// IsSentinelPeriod reports whether period is not a numbered lesson
func IsSentinelPeriod(period string) bool {
	return period == shared.PeriodAttendance || IsSuddenPeriod(period)
}

// ValidPeriodKey accepts lesson numbers ("1", "2", ...) and sentinel keys
func ValidPeriodKey(period string) bool {
	if IsSentinelPeriod(period) {
		return true
	}
	n, err := strconv.Atoi(period)
	return err == nil && n > 0 && strconv.Itoa(n) == period
}

// IdentityKeyFunc derives the key under which entries of a period replace
// each other
type IdentityKeyFunc func(shared.EventEntry) string

// IdentityKey keys an entry by student and attendance session
func IdentityKey(e shared.EventEntry) string {
	return e.StudentID + "\x00" + e.Session
}

// MergePeriod folds incoming into existing. Entries sharing a key are
// overwritten in place, new keys are appended in arrival order and keys absent
// from incoming are kept. An empty incoming list removes the period, which is
// reported as a nil result.
func MergePeriod(existing, incoming []shared.EventEntry, key IdentityKeyFunc) []shared.EventEntry {
	if len(incoming) == 0 {
		return nil
	}

	merged := make([]shared.EventEntry, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	put := func(e shared.EventEntry) {
		k := key(e)
		if i, ok := index[k]; ok {
			merged[i] = e
			return
		}
		index[k] = len(merged)
		merged = append(merged, e)
	}

	for _, e := range existing {
		put(e)
	}
	for _, e := range incoming {
		put(e)
	}
	return merged
}

// Mode selects how incoming periods are applied to a day
type Mode int

const (
	// ModeMerge merges lesson periods by identity key and replaces attendance
	ModeMerge Mode = iota
	// ModeReplace replaces every named period wholesale
	ModeReplace
)

// ApplyPeriods returns a new periods map with incoming applied to existing.
// Periods not named in incoming are carried over untouched; a period named
// with an empty list is removed.
func ApplyPeriods(existing, incoming map[string][]shared.EventEntry, mode Mode) map[string][]shared.EventEntry {
	out := make(map[string][]shared.EventEntry, len(existing)+len(incoming))
	for period, entries := range existing {
		if len(entries) > 0 {
			out[period] = append([]shared.EventEntry(nil), entries...)
		}
	}

	for period, entries := range incoming {
		var next []shared.EventEntry
		if mode == ModeReplace || period == shared.PeriodAttendance {
			if len(entries) > 0 {
				next = append([]shared.EventEntry(nil), entries...)
			}
		} else {
			next = MergePeriod(out[period], entries, IdentityKey)
		}

		if len(next) == 0 {
			delete(out, period)
		} else {
			out[period] = next
		}
	}
	return out
}

// TotalEvents counts the entries of every period
func TotalEvents(periods map[string][]shared.EventEntry) int {
	total := 0
	for _, entries := range periods {
		total += len(entries)
	}
	return total
}

// HasSuddenEntries reports whether periods carries any sudden record
func HasSuddenEntries(periods map[string][]shared.EventEntry) bool {
	for period, entries := range periods {
		if IsSuddenPeriod(period) && len(entries) > 0 {
			return true
		}
	}
	return false
}

// Approval is the approval block of an EventDay
type Approval struct {
	Status     string
	ApprovedBy string
	ByName     string
	At         *time.Time
}

// ApprovalOf reads the approval block of day
func ApprovalOf(day *shared.EventDay) Approval {
	return Approval{Status: day.ApprovalStatus, ApprovedBy: day.ApprovedBy, ByName: day.ApprovedByName, At: day.ApprovedAt}
}

// Apply writes a onto day
func (a Approval) Apply(day *shared.EventDay) {
	day.ApprovalStatus = a.Status
	day.ApprovedBy = a.ApprovedBy
	day.ApprovedByName = a.ByName
	day.ApprovedAt = a.At
}

// NextApproval computes the approval block after actor wrote incoming.
// prev is nil for a day created by this write.
//
// Sudden records are approved on write. Otherwise teachers and admins approve
// by writing, students send the day back to pending, and any other role
// leaves the previous state alone (pending for a new day).
func NextApproval(prev *Approval, actor *policy.Actor, incoming map[string][]shared.EventEntry, now time.Time) Approval {
	approvedBy := func() Approval {
		at := now
		return Approval{Status: shared.ApprovalApproved, ApprovedBy: actor.ID, ByName: actor.FullName, At: &at}
	}

	switch {
	case HasSuddenEntries(incoming):
		return approvedBy()
	case actor.HasRole(shared.RoleTeacher, shared.RoleAdmin):
		return approvedBy()
	case actor.HasRole(shared.RoleStudent):
		return Approval{Status: shared.ApprovalPending}
	case prev != nil:
		return *prev
	default:
		return Approval{Status: shared.ApprovalPending}
	}
}
