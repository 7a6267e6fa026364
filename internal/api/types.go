package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

type RegisterRequest struct {
	Role           string `json:"role"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Specialization string `json:"specialization"`
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token  string         `json:"token"`
	Person PersonResponse `json:"person"`
}

type PersonResponse struct {
	ID             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	Name           string    `json:"name"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Specialization string    `json:"specialization,omitempty"`
}

// DoctorResponse is what patients see when picking a doctor.
type DoctorResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

// CreateAppointmentRequest books doctor_id directly, or the first free doctor
// with the given specialization when doctor_id is empty.
type CreateAppointmentRequest struct {
	DoctorID       string `json:"doctor_id"`
	Specialization string `json:"specialization"`
	Date           string `json:"date"`
	TimeFrom       string `json:"time_from"`
	TimeTo         string `json:"time_to"`
	Comments       string `json:"comments"`
}

type UpdateAppointmentRequest struct {
	DoctorID *string `json:"doctor_id"`
	Date     *string `json:"date"`
	TimeFrom *string `json:"time_from"`
	TimeTo   *string `json:"time_to"`
	Comments *string `json:"comments"`
}

// AppointmentResponse carries the patient and doctor blocks whenever the
// directory can resolve them.
type AppointmentResponse struct {
	ID        uuid.UUID      `json:"id"`
	PatientID uuid.UUID      `json:"patient_id"`
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Patient   *PersonSummary `json:"patient,omitempty"`
	Doctor    *PersonSummary `json:"doctor,omitempty"`
	Date      string         `json:"date"`
	TimeFrom  string         `json:"time_from"`
	TimeTo    string         `json:"time_to"`
	Comments  string         `json:"comments"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type PersonSummary struct {
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date,
		TimeFrom:  a.StartTime,
		TimeTo:    a.EndTime,
		Comments:  a.Comment,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toPersonResponse(p *directory.Person) PersonResponse {
	return PersonResponse{
		ID:             p.ID,
		Role:           string(p.Role),
		Name:           p.Name,
		Username:       p.Handle,
		Email:          p.Email,
		Specialization: p.Specialization,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
