package handlers

import (
	"net/http"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/gateway/util"
	"schoolpoints/backend/internal/ranking"
)

// WeekHandler serves rankings, week milestones and the academic year
type WeekHandler struct {
	Rankings *ranking.RankingService
	Calendar *academic.CalendarService
}

func rangeQuery(w http.ResponseWriter, r *http.Request) (academic.RangeQuery, bool) {
	week, ok := intFrom(w, r, "week_number")
	if !ok {
		return academic.RangeQuery{}, false
	}
	return academic.RangeQuery{
		StartDate:    query(r, "start_date"),
		EndDate:      query(r, "end_date"),
		WeekNumber:   week,
		AcademicYear: query(r, "academic_year"),
	}, true
}

// -- Rankings --

// RealtimeRankings handles GET /api/week-summaries/rankings/realtime
func (h *WeekHandler) RealtimeRankings(w http.ResponseWriter, r *http.Request) {
	q, ok := rangeQuery(w, r)
	if !ok {
		return
	}
	res, err := h.Rankings.Realtime(r.Context(), actorFrom(r), q)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// RankingDetail handles GET /api/week-summaries/rankings/realtime/classroom-detail
func (h *WeekHandler) RankingDetail(w http.ResponseWriter, r *http.Request) {
	q, ok := rangeQuery(w, r)
	if !ok {
		return
	}
	res, err := h.Rankings.Detail(r.Context(), actorFrom(r), query(r, "classroom_id"), q)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// -- Milestones --

// GetMilestone handles GET /api/week-summaries/milestone
func (h *WeekHandler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	info, err := h.Calendar.WeekInfo(r.Context())
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, info)
}

// ResetMilestone handles POST /api/week-summaries/milestone
func (h *WeekHandler) ResetMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := h.Calendar.ResetMilestone(r.Context(), actorFrom(r))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, m)
}

// -- Academic year --

// CurrentAcademicYear handles GET /api/academic-year/current
func (h *WeekHandler) CurrentAcademicYear(w http.ResponseWriter, r *http.Request) {
	s, err := h.Calendar.Current(r.Context())
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, s)
}

// UpdateAcademicYear handles PUT /api/academic-year/current
func (h *WeekHandler) UpdateAcademicYear(w http.ResponseWriter, r *http.Request) {
	var req academic.UpdateCompetitionStartRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	s, err := h.Calendar.UpdateCurrent(r.Context(), actorFrom(r), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, s)
}
