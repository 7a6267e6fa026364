package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Config{
		Location:     time.UTC,
		StoreTimeout: time.Second,
	}
	people := directory.NewService(directory.NewMemoryRepository(), zerolog.Nop(), time.Second)
	appts := appointment.NewService(appointment.Deps{
		Repo:      appointment.NewMemoryRepository(),
		Directory: people,
		Locker:    appointment.NewLocalLocker(),
		Logger:    zerolog.Nop(),
	}, cfg)

	h := NewRouter(RouterConfig{
		Appointments:  appts,
		Directory:     people,
		Tokens:        auth.NewTokens("test-secret", time.Hour),
		Logger:        zerolog.Nop(),
		Location:      time.UTC,
		Env:           "test",
		AuthRateRPS:   1000,
		AuthRateBurst: 1000,
	})

	return &testServer{t: t, handler: h}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(req RegisterRequest) AuthResponse {
	s.t.Helper()

	rec := s.do(http.MethodPost, "/register", "", req)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) patient(name string) AuthResponse {
	return s.register(RegisterRequest{Name: name, Username: name, Email: name + "@example.com", Password: "secret1"})
}

func (s *testServer) doctor(name, spec string) AuthResponse {
	return s.register(RegisterRequest{Role: "doctor", Name: name, Username: name, Email: name + "@clinic.test", Password: "secret1", Specialization: spec})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeAppointment(t *testing.T, rec *httptest.ResponseRecorder) AppointmentResponse {
	t.Helper()
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthLive(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthReadyWithoutDependencies(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, depDisabled, resp.Dependencies["postgres"])
	assert.Equal(t, depDisabled, resp.Dependencies["redis"])
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	reg := s.patient("ana")
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "patient", reg.Person.Role)

	rec := s.do(http.MethodPost, "/login", "", LoginRequest{Login: "ana", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/login", "", LoginRequest{Login: "ana", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeError(t, rec).Error)

	rec = s.do(http.MethodPost, "/register", "", RegisterRequest{Name: "x", Username: "other", Email: "ana@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_taken", decodeError(t, rec).Error)

	rec = s.do(http.MethodPost, "/register", "", RegisterRequest{Name: "x", Username: "ana", Email: "x@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "username_taken", decodeError(t, rec).Error)

	rec = s.do(http.MethodPost, "/register", "", RegisterRequest{Name: "x", Username: "x", Email: "not-an-email", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDoctorsCannotBook(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")

	rec := s.do(http.MethodPost, "/appointments", doc.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")
	ana := s.patient("ana")
	bob := s.patient("bob")

	rec := s.do(http.MethodPost, "/appointments", ana.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "9:00", TimeTo: "10:00", Comments: "headache",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAppointment(t, rec)
	assert.Equal(t, "09:00", created.TimeFrom)
	assert.Equal(t, ana.Person.ID, created.PatientID)

	path := "/appointments/" + created.ID.String()

	// adjacent slot is fine
	rec = s.do(http.MethodPost, "/appointments", bob.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "10:00", TimeTo: "11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/appointments", bob.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "09:30", TimeTo: "10:30",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "doctor_already_booked", decodeError(t, rec).Error)

	rec = s.do(http.MethodGet, path, doc.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, path, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	comment := "migraine"
	rec = s.do(http.MethodPatch, path, ana.Token, UpdateAppointmentRequest{Comments: &comment})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "migraine", decodeAppointment(t, rec).Comments)

	rec = s.do(http.MethodPatch, path, bob.Token, UpdateAppointmentRequest{Comments: &comment})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/appointments", doc.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "09:00", list[0].TimeFrom)
	assert.Equal(t, "10:00", list[1].TimeFrom)

	rec = s.do(http.MethodDelete, path, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, path, ana.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, path, ana.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccount(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")
	ana := s.patient("ana")

	rec := s.do(http.MethodGet, "/account", ana.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me PersonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, ana.Person.ID, me.ID)
	assert.Equal(t, "ana", me.Username)
	assert.Equal(t, "ana@example.com", me.Email)
	assert.Equal(t, "patient", me.Role)
	assert.Empty(t, me.Specialization)

	rec = s.do(http.MethodGet, "/account", doc.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "doctor", me.Role)
	assert.Equal(t, "Neurologist", me.Specialization)

	rec = s.do(http.MethodGet, "/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppointmentsNameBothParties(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")
	ana := s.patient("ana")

	rec := s.do(http.MethodPost, "/appointments", ana.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAppointment(t, rec)

	// a doctor's schedule shows who is coming
	rec = s.do(http.MethodGet, "/appointments", doc.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Patient)
	assert.Equal(t, "ana", list[0].Patient.Name)
	assert.Equal(t, "ana@example.com", list[0].Patient.Email)

	// a patient sees which doctor and specialty they booked
	rec = s.do(http.MethodGet, "/appointments/"+created.ID.String(), ana.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAppointment(t, rec)
	require.NotNil(t, got.Doctor)
	assert.Equal(t, "house", got.Doctor.Name)
	assert.Equal(t, "Neurologist", got.Doctor.Specialization)
	assert.Empty(t, got.Doctor.Email)
}

func TestCreateValidationErrors(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")
	ana := s.patient("ana")
	docID := doc.Person.ID.String()

	cases := []struct {
		name   string
		req    CreateAppointmentRequest
		status int
		code   string
	}{
		{"bad format", CreateAppointmentRequest{DoctorID: docID, Date: "01/01/2099", TimeFrom: "09:00", TimeTo: "10:00"}, http.StatusBadRequest, "invalid_format"},
		{"past", CreateAppointmentRequest{DoctorID: docID, Date: "2000-01-01", TimeFrom: "09:00", TimeTo: "10:00"}, http.StatusBadRequest, "past_appointment"},
		{"reversed", CreateAppointmentRequest{DoctorID: docID, Date: "2099-01-01", TimeFrom: "10:00", TimeTo: "09:00"}, http.StatusBadRequest, "invalid_range"},
		{"unknown doctor", CreateAppointmentRequest{DoctorID: uuid.NewString(), Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00"}, http.StatusUnprocessableEntity, "invalid_doctor"},
		{"patient as doctor", CreateAppointmentRequest{DoctorID: ana.Person.ID.String(), Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00"}, http.StatusUnprocessableEntity, "invalid_doctor"},
		{"malformed doctor id", CreateAppointmentRequest{DoctorID: "abc", Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00"}, http.StatusUnprocessableEntity, "invalid_doctor"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/appointments", ana.Token, tc.req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rec).Error)
		})
	}
}

func TestBookBySpecialization(t *testing.T) {
	s := newTestServer(t)
	s.doctor("zed", "Cardiologist")
	amy := s.doctor("amy", "Cardiologist")
	ana := s.patient("ana")
	bob := s.patient("bob")
	cy := s.patient("cy")

	req := CreateAppointmentRequest{Specialization: "Cardiologist", Date: "2099-03-01", TimeFrom: "09:00", TimeTo: "09:30"}

	rec := s.do(http.MethodPost, "/appointments", ana.Token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, amy.Person.ID, decodeAppointment(t, rec).DoctorID)

	rec = s.do(http.MethodPost, "/appointments", bob.Token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEqual(t, amy.Person.ID, decodeAppointment(t, rec).DoctorID)

	rec = s.do(http.MethodPost, "/appointments", cy.Token, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req.Specialization = "Dermatologist"
	rec = s.do(http.MethodPost, "/appointments", cy.Token, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListDoctors(t *testing.T) {
	s := newTestServer(t)
	s.doctor("zed", "Cardiologist")
	s.doctor("amy", "Neurologist")
	ana := s.patient("ana")

	rec := s.do(http.MethodGet, "/doctors?specialization=Neurologist", ana.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doctors []DoctorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, "amy", doctors[0].Name)
}

func TestCalendarExport(t *testing.T) {
	s := newTestServer(t)
	doc := s.doctor("house", "Neurologist")
	ana := s.patient("ana")

	rec := s.do(http.MethodPost, "/appointments", ana.Token, CreateAppointmentRequest{
		DoctorID: doc.Person.ID.String(), Date: "2099-01-01", TimeFrom: "09:00", TimeTo: "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/appointments/calendar.ics", ana.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))

	cal, err := ical.NewDecoder(rec.Body).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)

	summary, err := events[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Appointment with Dr. house", summary)
}

func TestRateLimitOnLogin(t *testing.T) {
	people := directory.NewService(directory.NewMemoryRepository(), zerolog.Nop(), time.Second)
	h := NewRouter(RouterConfig{
		Directory:     people,
		Tokens:        auth.NewTokens("test-secret", time.Hour),
		Logger:        zerolog.Nop(),
		AuthRateRPS:   0.001,
		AuthRateBurst: 2,
	})

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"login":"x","password":"y"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(RouterConfig{
		Tokens:      auth.NewTokens("test-secret", time.Hour),
		Logger:      zerolog.Nop(),
		CORSOrigins: []string{"http://localhost:3000"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/appointments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConcurrentModificationIsConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/appointments/x", nil)

	handleAppointmentError(rec, req, fmt.Errorf("update: %w", appointment.ErrStale))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "appointment_modified", decodeError(t, rec).Error)
}
