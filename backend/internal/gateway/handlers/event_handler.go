package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"schoolpoints/backend/internal/attendance"
	"schoolpoints/backend/internal/event"
	"schoolpoints/backend/internal/gateway/util"
)

// EventHandler serves event days, event types and attendance sheets
type EventHandler struct {
	Events     *event.EventService
	Attendance *attendance.AttendanceService
}

// -- Request Structs --

type RESTApproveRequest struct {
	EventID string `json:"event_id" validate:"required"`
	Action  string `json:"action" validate:"required,oneof=approve reject"`
}

// -- Event days --

// ListEvents handles GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}

	res, err := h.Events.List(r.Context(), actorFrom(r), event.ListQuery{
		Date:        query(r, "date"),
		ClassroomID: query(r, "classroom_id"),
		View:        listView(r),
		Page:        page,
	})
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// listView reads ?view=, falling back to the include_sudden/include_bonus
// flags older clients send
func listView(r *http.Request) string {
	if v := query(r, "view"); v != "" {
		return v
	}
	sudden := strings.EqualFold(query(r, "include_sudden"), "true")
	bonus := strings.EqualFold(query(r, "include_bonus"), "true")
	switch {
	case sudden && bonus:
		return event.ViewAll
	case sudden:
		return event.ViewViolationSudden
	case bonus:
		return event.ViewBonusSudden
	}
	return event.ViewDaily
}

// UpsertEvents handles POST /api/events
func (h *EventHandler) UpsertEvents(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, event.ModeMerge)
}

// ReplaceEvents handles PUT /api/events/replace
func (h *EventHandler) ReplaceEvents(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, event.ModeReplace)
}

func (h *EventHandler) write(w http.ResponseWriter, r *http.Request, mode event.Mode) {
	var req event.UpsertRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}

	day, err := h.Events.Upsert(r.Context(), actorFrom(r), &req, mode)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, day)
}

// GetEventDetail handles GET /api/events/detail
func (h *EventHandler) GetEventDetail(w http.ResponseWriter, r *http.Request) {
	day, err := h.Events.Detail(r.Context(), actorFrom(r), event.DetailQuery{
		ID:          query(r, "id"),
		Date:        query(r, "date"),
		ClassroomID: query(r, "classroom_id"),
	})
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, day)
}

// ApproveEvents handles POST /api/events/approve
func (h *EventHandler) ApproveEvents(w http.ResponseWriter, r *http.Request) {
	var req RESTApproveRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}

	day, err := h.Events.Approve(r.Context(), actorFrom(r), req.EventID, req.Action)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, day)
}

// PublicEvents handles GET /api/events/public
func (h *EventHandler) PublicEvents(w http.ResponseWriter, r *http.Request) {
	items, err := h.Events.PublicFeed(r.Context(), query(r, "date"), query(r, "classroom_id"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
		"count":   len(items),
	})
}

// -- Event types --

// ListEventTypes handles GET /api/events/types
func (h *EventHandler) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Events.ListTypes(r.Context(), actorFrom(r))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, types)
}

// GetEventType handles GET /api/events/types/{key}
func (h *EventHandler) GetEventType(w http.ResponseWriter, r *http.Request) {
	t, err := h.Events.GetType(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, t)
}

// CreateEventType handles POST /api/events/types
func (h *EventHandler) CreateEventType(w http.ResponseWriter, r *http.Request) {
	var req event.EventTypeRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.Events.CreateType(r.Context(), actorFrom(r), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, t)
}

// UpdateEventType handles PUT /api/events/types/{key}. The key in the path
// wins over the body.
func (h *EventHandler) UpdateEventType(w http.ResponseWriter, r *http.Request) {
	var req event.EventTypeRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	req.Key = key
	if msg := util.Validate(&req); msg != "" {
		util.WriteJSONError(w, http.StatusBadRequest, msg)
		return
	}

	t, err := h.Events.UpdateType(r.Context(), actorFrom(r), key, &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, t)
}

// DeleteEventType handles DELETE /api/events/types/{key}
func (h *EventHandler) DeleteEventType(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.DeleteType(r.Context(), actorFrom(r), chi.URLParam(r, "key")); err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Event type deleted")
}

// -- Attendance --

// AttendanceSummary handles GET /api/events/attendance/summary
func (h *EventHandler) AttendanceSummary(w http.ResponseWriter, r *http.Request) {
	month, ok := intFrom(w, r, "month")
	if !ok {
		return
	}
	year, ok := intFrom(w, r, "year")
	if !ok {
		return
	}

	sum, err := h.Attendance.Monthly(r.Context(), actorFrom(r), query(r, "classroom_id"), month, year)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, sum)
}
