package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/calendar"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

func createAppointmentHandler(svc *appointment.Service, people *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booking := appointment.BookingRequest{
			PatientID: caller.ID,
			Date:      req.Date,
			StartTime: req.TimeFrom,
			EndTime:   req.TimeTo,
			Comment:   req.Comments,
		}

		var (
			appt *appointment.Appointment
			err  error
		)
		if req.DoctorID == "" && req.Specialization != "" {
			appt, err = svc.BookBySpecialization(r.Context(), booking, req.Specialization)
		} else {
			if req.DoctorID != "" {
				booking.DoctorID, err = uuid.Parse(req.DoctorID)
				if err != nil {
					writeError(w, http.StatusUnprocessableEntity, "invalid_doctor", "doctor_id must be a valid UUID")
					return
				}
			}
			appt, err = svc.CreateAppointment(r.Context(), booking)
		}
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, newPartyCache(people).describe(r, appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, people *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := listForCaller(r, svc)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		parties := newPartyCache(people)
		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, parties.describe(r, &appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func calendarHandler(svc *appointment.Service, people *directory.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := listForCaller(r, svc)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		parties := newPartyCache(people)
		names := make(map[uuid.UUID]string)
		for _, a := range appts {
			for _, id := range []uuid.UUID{a.PatientID, a.DoctorID} {
				p := parties.get(r, id)
				switch {
				case p == nil:
					names[id] = ""
				case p.IsDoctor():
					names[id] = "Dr. " + p.Name
				default:
					names[id] = p.Name
				}
			}
		}

		var buf bytes.Buffer
		err = calendar.Encode(&buf, appts, calendar.Options{
			Location: loc,
			Name:     "Clinic appointments",
			People:   names,
		})
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode calendar")
			writeError(w, http.StatusInternalServerError, "internal_error", "could not render calendar")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="appointments.ics"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func getAppointmentHandler(svc *appointment.Service, people *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, caller.ID)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newPartyCache(people).describe(r, appt))
	}
}

func updateAppointmentHandler(svc *appointment.Service, people *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		fields := appointment.UpdateFields{
			Date:      req.Date,
			StartTime: req.TimeFrom,
			EndTime:   req.TimeTo,
			Comment:   req.Comments,
		}
		if req.DoctorID != nil {
			doctorID, err := uuid.Parse(*req.DoctorID)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "invalid_doctor", "doctor_id must be a valid UUID")
				return
			}
			fields.DoctorID = &doctorID
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, caller.ID, fields)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newPartyCache(people).describe(r, appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.CancelAppointment(r.Context(), id, caller.ID); err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// partyCache resolves the people on a set of appointments, looking each one
// up once per request. An unresolvable person leaves its block out.
type partyCache struct {
	people *directory.Service
	byID   map[uuid.UUID]*directory.Person
}

func newPartyCache(people *directory.Service) *partyCache {
	return &partyCache{people: people, byID: make(map[uuid.UUID]*directory.Person)}
}

func (c *partyCache) get(r *http.Request, id uuid.UUID) *directory.Person {
	if p, seen := c.byID[id]; seen {
		return p
	}

	p, err := c.people.GetByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, directory.ErrPersonNotFound) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("person_id", id.String()).Msg("could not resolve appointment party")
		}
		p = nil
	}
	c.byID[id] = p
	return p
}

func (c *partyCache) describe(r *http.Request, a *appointment.Appointment) AppointmentResponse {
	resp := toAppointmentResponse(a)
	if p := c.get(r, a.PatientID); p != nil {
		resp.Patient = &PersonSummary{Name: p.Name, Email: p.Email}
	}
	if d := c.get(r, a.DoctorID); d != nil {
		resp.Doctor = &PersonSummary{Name: d.Name, Specialization: d.Specialization}
	}
	return resp
}

func listForCaller(r *http.Request, svc *appointment.Service) ([]appointment.Appointment, error) {
	caller, _ := GetCaller(r.Context())
	if caller.Role == directory.RoleDoctor {
		return svc.ListAppointmentsForDoctor(r.Context(), caller.ID)
	}
	return svc.ListAppointmentsForPatient(r.Context(), caller.ID)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
	case errors.Is(err, appointment.ErrPastAppointment):
		writeError(w, http.StatusBadRequest, "past_appointment", err.Error())
	case errors.Is(err, appointment.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, appointment.ErrInvalidDoctor):
		writeError(w, http.StatusUnprocessableEntity, "invalid_doctor", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "doctor_already_booked", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, appointment.ErrStale):
		writeError(w, http.StatusConflict, "appointment_modified", "appointment was changed concurrently, please retry")
	case errors.Is(err, appointment.ErrStoreFailure):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("appointment store failure")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "appointment store is unavailable, please retry")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected appointment error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
