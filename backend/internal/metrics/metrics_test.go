package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.EventDayWritten("pending")
	m.EventDayWritten("pending")
	m.EventDayWritten("approved")
	m.EventDayConflict()
	m.RankingComputed("realtime", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventDayWrites.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventDayWrites.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventDayConflicts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rankingDuration))
}

func TestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/classrooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/classrooms/c"+string(rune('0'+i)), nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/classrooms/{id}", http.MethodGet, "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "schoolpoints_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
