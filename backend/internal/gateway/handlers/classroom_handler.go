package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/gateway/util"
)

// ClassroomHandler serves the classroom registry
type ClassroomHandler struct {
	Classrooms *classroom.ClassroomService
}

// ListClassrooms handles GET /api/classrooms
func (h *ClassroomHandler) ListClassrooms(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	res, err := h.Classrooms.List(r.Context(), classroom.ListQuery{
		Search: query(r, "search"),
		Grade:  query(r, "grade"),
		Page:   page,
	})
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// Dropdown handles GET /api/classrooms/dropdown
func (h *ClassroomHandler) Dropdown(w http.ResponseWriter, r *http.Request) {
	h.dropdown(w, r, true)
}

// PublicDropdown handles GET /api/classrooms/dropdown/public. Teacher ids
// are left out.
func (h *ClassroomHandler) PublicDropdown(w http.ResponseWriter, r *http.Request) {
	h.dropdown(w, r, false)
}

func (h *ClassroomHandler) dropdown(w http.ResponseWriter, r *http.Request, withTeacher bool) {
	items, err := h.Classrooms.Dropdown(r.Context(), withTeacher)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, items)
}

// Stats handles GET /api/classrooms/stats
func (h *ClassroomHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Classrooms.Stats(r.Context(), actorFrom(r))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, st)
}

// GetClassroom handles GET /api/classrooms/{id}
func (h *ClassroomHandler) GetClassroom(w http.ResponseWriter, r *http.Request) {
	v, err := h.Classrooms.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, v)
}

// CreateClassroom handles POST /api/classrooms
func (h *ClassroomHandler) CreateClassroom(w http.ResponseWriter, r *http.Request) {
	var req classroom.CreateRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	req.HomeroomTeacherID = strings.TrimSpace(req.HomeroomTeacherID)

	v, err := h.Classrooms.Create(r.Context(), actorFrom(r), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, v)
}

// UpdateClassroom handles PATCH /api/classrooms/{id}
func (h *ClassroomHandler) UpdateClassroom(w http.ResponseWriter, r *http.Request) {
	var req classroom.UpdateRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}

	v, err := h.Classrooms.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, v)
}

// DeleteClassroom handles DELETE /api/classrooms/{id}
func (h *ClassroomHandler) DeleteClassroom(w http.ResponseWriter, r *http.Request) {
	if err := h.Classrooms.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Classroom deleted")
}
