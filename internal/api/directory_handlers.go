package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

func registerHandler(svc *directory.Service, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.Register(r.Context(), directory.RegisterInput{
			Role:           directory.Role(req.Role),
			Name:           req.Name,
			Handle:         req.Username,
			Email:          req.Email,
			Password:       req.Password,
			Specialization: req.Specialization,
		})
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}

		respondWithToken(w, r, tokens, p, http.StatusCreated)
	}
}

func loginHandler(svc *directory.Service, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.Authenticate(r.Context(), req.Login, req.Password)
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}

		respondWithToken(w, r, tokens, p, http.StatusOK)
	}
}

func accountHandler(svc *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := GetCaller(r.Context())

		p, err := svc.GetByID(r.Context(), caller.ID)
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPersonResponse(p))
	}
}

func listDoctorsHandler(svc *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context(), r.URL.Query().Get("specialization"))
		if err != nil {
			handleDirectoryError(w, r, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{ID: d.ID, Name: d.Name, Specialization: d.Specialization})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, tokens *auth.Tokens, p *directory.Person, status int) {
	token, err := tokens.Issue(p.ID.String(), string(p.Role))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue token")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, status, AuthResponse{Token: token, Person: toPersonResponse(p)})
}

func handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidPerson):
		writeError(w, http.StatusBadRequest, "invalid_person", err.Error())
	case errors.Is(err, directory.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, directory.ErrHandleTaken):
		writeError(w, http.StatusConflict, "username_taken", err.Error())
	case errors.Is(err, directory.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, directory.ErrPersonNotFound):
		writeError(w, http.StatusNotFound, "person_not_found", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected directory error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
