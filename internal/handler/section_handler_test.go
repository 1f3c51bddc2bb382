package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository/inmem"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/lock"
)

// newRegistrarRouter wires the real service over in-memory stores.
func newRegistrarRouter(t *testing.T, claims *models.JWTClaims) (*gin.Engine, *inmem.HoldStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	holds := inmem.NewHoldStore()
	svc := service.NewRegistrationService(inmem.NewRegistrationStore(), lock.NewLocal(), service.NewHoldGate(holds, nil), nil, service.RegistrationServiceConfig{})
	settings := staticSettings{settings: openWindow}

	registrations := NewRegistrationHandler(svc, settings, nil)
	sections := NewSectionHandler(svc, settings, nil)
	students := NewStudentHandler(svc, service.NewHoldGate(holds, nil))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, claims)
		c.Next()
	})
	r.POST("/registrations", registrations.Register)
	r.POST("/registrations/drop", registrations.Drop)
	r.GET("/sections", sections.List)
	r.POST("/sections", sections.Create)
	r.GET("/sections/:id", sections.Get)
	r.PUT("/sections/:id/capacity", sections.UpdateCapacity)
	r.POST("/sections/:id/grades", sections.Complete)
	r.POST("/sections/:id/promote", sections.Promote)
	r.GET("/students/:id/enrollments", students.Enrollments)
	r.GET("/students/:id/holds", students.Holds)
	return r, holds
}

func call(r http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func TestSectionLifecycleOverHTTP(t *testing.T) {
	r, _ := newRegistrarRouter(t, registrar)

	w := call(r, http.MethodPost, "/sections", map[string]interface{}{
		"id": "CS101-01", "term_id": "2026FA", "course_code": "CS101", "title": "Intro", "credits": 3, "capacity": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S1", "section_id": "CS101-01"}).Code)
	require.Equal(t, http.StatusAccepted, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S2", "section_id": "CS101-01"}).Code)

	w = call(r, http.MethodGet, "/sections/CS101-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state models.SectionState
	decodeData(t, w, &state)
	assert.Equal(t, 1, state.Section.EnrolledCount)
	require.Len(t, state.Waitlist, 1)
	assert.Equal(t, "S2", state.Waitlist[0].StudentID)

	// Zero capacity fails validation.
	w = call(r, http.MethodPut, "/sections/CS101-01/capacity", map[string]int{"capacity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, http.MethodPut, "/sections/CS101-01/capacity", map[string]int{"capacity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodPost, "/sections/CS101-01/promote", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"promoted":["S2"]`)

	w = call(r, http.MethodPost, "/sections/CS101-01/grades", map[string]string{"student_id": "S1", "grade": "A"})
	require.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodGet, "/students/S1/enrollments?termId=2026FA", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var enrollments []models.Enrollment
	decodeData(t, w, &enrollments)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentCompleted, enrollments[0].State)
}

func TestSectionHandlerNotFoundAndConflict(t *testing.T) {
	r, holds := newRegistrarRouter(t, registrar)

	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/sections/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S1", "section_id": "missing"}).Code)

	require.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/sections", map[string]interface{}{
		"id": "MA201-01", "term_id": "2026FA", "course_code": "MA201", "title": "Calculus", "credits": 4, "capacity": 1,
	}).Code)
	require.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S1", "section_id": "MA201-01"}).Code)
	assert.Equal(t, http.StatusConflict, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S1", "section_id": "MA201-01"}).Code)

	require.NoError(t, holds.Raise(context.Background(), &models.FinancialHold{
		ID: "h1", StudentID: "S3", Category: models.HoldCategoryRegistrationBlocking, Reason: "manual", Active: true,
	}))
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/registrations", map[string]string{"student_id": "S3", "section_id": "MA201-01"}).Code)

	w := call(r, http.MethodGet, "/students/S3/holds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"manual"`)
}
