package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHandleGRPCError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.Unauthenticated, http.StatusUnauthorized},
		{codes.PermissionDenied, http.StatusForbidden},
		{codes.NotFound, http.StatusNotFound},
		{codes.AlreadyExists, http.StatusConflict},
		{codes.Aborted, http.StatusConflict},
		{codes.FailedPrecondition, http.StatusConflict},
		{codes.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleGRPCError(rec, status.Error(tt.code, "boom"))
			assert.Equal(t, tt.want, rec.Code)
			assert.JSONEq(t, `{"success":false,"message":"boom"}`, rec.Body.String())
		})
	}

	t.Run("Plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		HandleGRPCError(rec, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractToken(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Token abc")
	_, err = ExtractToken(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Bearer abc.def")
	tok, err := ExtractToken(r)
	assert.NoError(t, err)
	assert.Equal(t, "abc.def", tok)
}

func TestValidate(t *testing.T) {
	type req struct {
		Name string  `json:"name" validate:"required,notblank"`
		Date string  `json:"date" validate:"required,isodate"`
		Note *string `json:"note" validate:"omitempty,notblank"`
	}
	blank := "   "

	assert.Empty(t, Validate(&req{Name: "A1", Date: "2025-10-06"}))

	msg := Validate(&req{Name: " ", Date: "06/10/2025", Note: &blank})
	assert.Contains(t, msg, "name cannot be blank")
	assert.Contains(t, msg, "note cannot be blank")
	assert.Contains(t, msg, "date must be a date in YYYY-MM-DD format")

	assert.Contains(t, Validate(&req{}), "name is a required field")
}

func TestDecodeAndValidate(t *testing.T) {
	type req struct {
		Name string `json:"name" validate:"required"`
	}

	rec := httptest.NewRecorder()
	var got req
	ok := DecodeAndValidate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`)), &got)
	assert.True(t, ok)
	assert.Equal(t, "x", got.Name)

	rec = httptest.NewRecorder()
	ok = DecodeAndValidate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)), &req{})
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	ok = DecodeAndValidate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), &req{})
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryPage(t *testing.T) {
	p, err := QueryPage(httptest.NewRequest(http.MethodGet, "/?page=3&page_size=500", nil))
	assert.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 100, p.PageSize)

	_, err = QueryPage(httptest.NewRequest(http.MethodGet, "/?page=x", nil))
	assert.Error(t, err)
}
