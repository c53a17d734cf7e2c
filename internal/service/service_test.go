package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"campusevents/internal/api/api"
	"campusevents/internal/dto"
	"campusevents/internal/model"
	"campusevents/internal/reconcile"
	"campusevents/internal/repo"
	"campusevents/internal/service"
)

func TestMain(m *testing.M) {
	zlog.Init()
	m.Run()
}

type env struct {
	store     *repo.Memory
	router    *ginext.Engine
	studentID int64
	eventID   int64
	start     time.Time
}

func newEnv(t *testing.T, capacity int) *env {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemory()

	collegeID, err := store.CreateCollege(ctx, &model.College{Name: "Riverside Tech", Status: "active"})
	require.NoError(t, err)
	adminID, err := store.CreateAdmin(ctx, &model.Admin{CollegeID: collegeID, Name: "Dana", Email: "dana@riverside.edu"})
	require.NoError(t, err)
	typeID, err := store.CreateEventType(ctx, &model.EventType{Name: "workshop"})
	require.NoError(t, err)
	studentID, err := store.CreateStudent(ctx, &model.Student{CollegeID: collegeID, Name: "Lee", Email: "lee@riverside.edu"})
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	eventID, err := store.CreateEvent(ctx, &model.Event{
		CollegeID: collegeID,
		Title:     "Distributed Systems 101",
		TypeID:    typeID,
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Capacity:  capacity,
		CreatedBy: adminID,
		Status:    model.EventStatusActive,
	})
	require.NoError(t, err)

	log := zerolog.Nop()
	svc := service.NewService(store, &log, nil, reconcile.New(store, &log), 0)
	router := api.NewRouters(&api.Routers{Service: svc})

	return &env{store: store, router: router, studentID: studentID, eventID: eventID, start: start}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func registerBody(studentID int64) map[string]any {
	return map[string]any{"student_id": studentID}
}

func (e *env) register(t *testing.T, studentID int64) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/register", e.eventID), registerBody(studentID))
}

func (e *env) registrationID(t *testing.T, rec *httptest.ResponseRecorder) int64 {
	t.Helper()
	resp := decode(t, rec)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var reg dto.RegistrationResponse
	require.NoError(t, json.Unmarshal(data, &reg))
	return reg.ID
}

func TestRegisterEndpoint(t *testing.T) {
	e := newEnv(t, 1)

	rec := e.register(t, e.studentID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", decode(t, rec).Status)

	t.Run("duplicate", func(t *testing.T) {
		rec := e.register(t, e.studentID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.RegistrationDuplicate, errorCode(t, rec))
	})

	t.Run("capacity exceeded", func(t *testing.T) {
		ctx := context.Background()
		otherID, err := e.store.CreateStudent(ctx, &model.Student{CollegeID: 1, Name: "Sam", Email: "sam@riverside.edu"})
		require.NoError(t, err)

		rec := e.register(t, otherID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.CapacityExceeded, errorCode(t, rec))
	})

	t.Run("unknown event", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/v1/events/9999/register", registerBody(e.studentID))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, dto.EventNotFound, errorCode(t, rec))
	})

	t.Run("missing student id", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/register", e.eventID), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.FieldIncorrect, errorCode(t, rec))
	})
}

func TestCheckInEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	regID := e.registrationID(t, e.register(t, e.studentID))

	t.Run("before start", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/checkin", regID), map[string]any{"attended": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.CheckInBeforeStart, errorCode(t, rec))
	})

	t.Run("at start", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/checkin", regID), map[string]any{
			"attended":      true,
			"check_in_time": e.start.Add(5 * time.Minute),
		})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("twice", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/checkin", regID), map[string]any{
			"attended":      true,
			"check_in_time": e.start.Add(10 * time.Minute),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.AlreadyCheckedIn, errorCode(t, rec))
	})

	t.Run("unknown registration", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/v1/registrations/9999/checkin", map[string]any{"attended": true})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, dto.RegistrationNotFound, errorCode(t, rec))
	})
}

func TestFeedbackEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	regID := e.registrationID(t, e.register(t, e.studentID))
	path := fmt.Sprintf("/v1/registrations/%d/feedback", regID)

	t.Run("without attendance", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, path, map[string]any{"rating": 4})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.NotAttended, errorCode(t, rec))
	})

	checkin := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/checkin", regID), map[string]any{
		"attended":      true,
		"check_in_time": e.start.Add(5 * time.Minute),
	})
	require.Equal(t, http.StatusCreated, checkin.Code)

	t.Run("rating above range", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, path, map[string]any{"rating": 6})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.FieldIncorrect, errorCode(t, rec))
	})

	t.Run("accepted", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, path, map[string]any{"rating": 5, "comments": "great talk"})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("duplicate", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, path, map[string]any{"rating": 3})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.FeedbackDuplicate, errorCode(t, rec))
	})
}

func TestCancelEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	regID := e.registrationID(t, e.register(t, e.studentID))
	path := fmt.Sprintf("/v1/registrations/%d/cancel", regID)

	rec := e.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("twice", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.AlreadyCancelled, errorCode(t, rec))
	})

	t.Run("after check-in", func(t *testing.T) {
		otherReg := e.registrationID(t, e.register(t, e.studentID))
		checkin := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/checkin", otherReg), map[string]any{
			"attended":      true,
			"check_in_time": e.start.Add(5 * time.Minute),
		})
		require.Equal(t, http.StatusCreated, checkin.Code)

		rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/registrations/%d/cancel", otherReg), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.AlreadyCheckedIn, errorCode(t, rec))
	})
}

func TestReconcileEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	now := time.Now()
	e.store.SeedEvent(model.Event{
		Title:     "last week's seminar",
		StartTime: now.Add(-3 * time.Hour),
		EndTime:   now.Add(-time.Hour),
		Capacity:  5,
		Status:    model.EventStatusActive,
	})

	rec := e.do(t, http.MethodPost, "/v1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report reconcile.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.RepairsApplied)
}

func TestEventInfoEndpoint(t *testing.T) {
	e := newEnv(t, 3)
	require.Equal(t, http.StatusCreated, e.register(t, e.studentID).Code)

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/events/%d", e.eventID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var info dto.EventInfoResponse
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, 2, info.AvailableSeats)
	assert.Empty(t, info.Registrations)

	t.Run("admin view lists registrations", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/events/%d?admin=true", e.eventID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode(t, rec)
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		var info dto.EventInfoResponse
		require.NoError(t, json.Unmarshal(data, &info))
		require.Len(t, info.Registrations, 1)
		assert.Equal(t, e.studentID, info.Registrations[0].StudentID)
	})

	t.Run("unknown event", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/v1/events/9999", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
