package handlers

import (
	"net/http"

	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/validate"
	"github.com/go-chi/chi/v5"
)

type applyRequest struct {
	CareRequestID string `json:"care_request_id" validate:"required,uuid"`
}

type statusUpdateRequest struct {
	ID     string `json:"id" validate:"required,uuid"`
	Status string `json:"status" validate:"required,oneof=pending accepted rejected interview_scheduled closed"`
}

func (a *API) applicationRoutes(r chi.Router) {
	r.Get("/check-application-limit", a.checkApplicationLimit)
	r.Post("/apply-care-request", a.applyCareRequest)
	r.Post("/care_applications/insert", a.applyCareRequest)
	r.Get("/care_applications/query", a.listApplications)
	r.Put("/care_applications/update", a.updateApplicationStatus)
	r.Get("/user-applications", a.userApplications)
	r.Get("/care-applications/status-count", a.applicationStatusCounts)
	r.Get("/active-care-applications", a.activeApplications)
	r.Get("/review-care-applications", a.reviewApplicants)
}

func (a *API) checkApplicationLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := a.Applications.CheckLimit(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (a *API) applyCareRequest(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}

	app, err := a.Applications.Apply(r.Context(), auth.UserIDFromContext(r.Context()), req.CareRequestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Care application submitted", Data: app})
}

func (a *API) listApplications(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Applications.ListForCaregiver(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) updateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}

	row, err := a.Applications.UpdateStatus(r.Context(), auth.UserIDFromContext(r.Context()), req.ID, req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Care application updated", Data: row})
}

func (a *API) userApplications(w http.ResponseWriter, r *http.Request) {
	ids, err := a.Applications.AppliedRequestIDs(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"care_request_ids": ids})
}

func (a *API) applicationStatusCounts(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("care_request_id")
	if err := validate.Var("care_request_id", requestID, "required,uuid"); err != nil {
		a.writeError(w, r, err)
		return
	}

	counts, err := a.Applications.StatusCounts(r.Context(), auth.UserIDFromContext(r.Context()), requestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) activeApplications(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Applications.ActiveForCaregiver(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) reviewApplicants(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("care_request_id")
	if requestID != "" {
		if err := validate.Var("care_request_id", requestID, "uuid"); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	rows, err := a.Applications.ReviewApplicants(r.Context(), auth.UserIDFromContext(r.Context()), requestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
