package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolpoints/backend/internal/gateway/util"
	"schoolpoints/backend/internal/user"
)

// UserHandler serves profiles, teachers and students
type UserHandler struct {
	Users *user.UserService
}

// Profile handles GET /api/users/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Profile(r.Context(), actorFrom(r))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, u)
}

// -- Teachers --

// ListTeachers handles GET /api/teachers
func (h *UserHandler) ListTeachers(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	res, err := h.Users.ListTeachers(r.Context(), actorFrom(r), user.TeacherQuery{
		Search:  query(r, "search"),
		Subject: query(r, "subject"),
		Page:    page,
	})
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// GetTeacher handles GET /api/teachers/{id}
func (h *UserHandler) GetTeacher(w http.ResponseWriter, r *http.Request) {
	t, err := h.Users.GetTeacher(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, t)
}

// CreateTeacher handles POST /api/teachers
func (h *UserHandler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req user.CreateTeacherRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.Users.CreateTeacher(r.Context(), actorFrom(r), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, res)
}

// UpdateTeacher handles PATCH /api/teachers/{id}
func (h *UserHandler) UpdateTeacher(w http.ResponseWriter, r *http.Request) {
	var req user.UpdateTeacherRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	t, err := h.Users.UpdateTeacher(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, t)
}

// DeleteTeacher handles DELETE /api/teachers/{id}
func (h *UserHandler) DeleteTeacher(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.DeleteTeacher(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Teacher deleted")
}

// -- Students --

func studentQuery(w http.ResponseWriter, r *http.Request) (user.StudentQuery, bool) {
	page, ok := pageFrom(w, r)
	if !ok {
		return user.StudentQuery{}, false
	}
	return user.StudentQuery{
		ClassroomID: query(r, "classroom_id"),
		Gender:      query(r, "gender"),
		Search:      query(r, "search"),
		Page:        page,
	}, true
}

// ListStudents handles GET /api/students
func (h *UserHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	q, ok := studentQuery(w, r)
	if !ok {
		return
	}
	res, err := h.Users.ListStudents(r.Context(), actorFrom(r), q)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// StudentDropdown handles GET /api/students/dropdown
func (h *UserHandler) StudentDropdown(w http.ResponseWriter, r *http.Request) {
	items, err := h.Users.StudentDropdown(r.Context(), actorFrom(r), query(r, "classroom_id"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, items)
}

// MyClassroom handles GET /api/students/my-classroom
func (h *UserHandler) MyClassroom(w http.ResponseWriter, r *http.Request) {
	q, ok := studentQuery(w, r)
	if !ok {
		return
	}
	roster, err := h.Users.MyClassroom(r.Context(), actorFrom(r), q)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, roster)
}

// GetStudent handles GET /api/students/{id}
func (h *UserHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	s, err := h.Users.GetStudent(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, s)
}

// CreateStudent handles POST /api/students
func (h *UserHandler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req user.CreateStudentRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	s, err := h.Users.CreateStudent(r.Context(), actorFrom(r), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, s)
}

// UpdateStudent handles PATCH /api/students/{id}
func (h *UserHandler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	var req user.UpdateStudentRequest
	if !util.DecodeAndValidate(w, r, &req) {
		return
	}
	s, err := h.Users.UpdateStudent(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, s)
}

// DeleteStudent handles DELETE /api/students/{id}
func (h *UserHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.DeleteStudent(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		util.HandleGRPCError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Student deleted")
}
