package handlers

import (
	"net/http"

	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/resources"
	"github.com/go-chi/chi/v5"
)

// resourceRoutes registers insert/update/query/get for every table in the
// catalog, e.g. POST /api/medications/insert.
func (a *API) resourceRoutes(r chi.Router) {
	for _, sc := range a.Catalog.All() {
		r.Route("/"+sc.Path, func(r chi.Router) {
			r.Post("/insert", a.createResource(sc))
			r.Put("/update", a.updateResource(sc))
			r.Get("/query", a.queryResource(sc))
			r.Get("/{id}", a.getResource(sc))
			if sc == resources.InterviewRequests {
				r.Post("/schedule", a.scheduleInterview)
			}
			if sc == resources.CareRequests {
				r.Post("/", a.createResource(sc))
				r.Get("/", a.queryResource(sc))
				r.Put("/{id}", a.updateCareRequest)
			}
		})
	}
}

// careRequestRoutes registers the browse endpoints caregivers use to find
// open requests, plus the careseeker's own list.
func (a *API) careRequestRoutes(r chi.Router) {
	r.Get("/my-care-requests", a.queryResource(resources.CareRequests))
	r.Get("/available-care-requests", a.browseCareRequests)
	r.Get("/care-requests/filter", a.browseCareRequests)
}

func (a *API) createResource(sc *resources.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil {
			a.writeError(w, r, err)
			return
		}

		row, err := a.Resources.Create(r.Context(), sc, auth.UserIDFromContext(r.Context()), body)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, MessageResponse{Message: sc.Name + " created", Data: row})
	}
}

func (a *API) updateResource(sc *resources.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.update(w, r, sc, body)
	}
}

func (a *API) updateCareRequest(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	body["id"] = chi.URLParam(r, "id")
	a.update(w, r, resources.CareRequests, body)
}

func (a *API) update(w http.ResponseWriter, r *http.Request, sc *resources.Schema, body map[string]any) {
	row, err := a.Resources.Update(r.Context(), sc, auth.UserIDFromContext(r.Context()), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: sc.Name + " updated", Data: row})
}

func (a *API) queryResource(sc *resources.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := ParsePagination(r, DefaultLimit)
		rows, err := a.Resources.Query(r.Context(), sc, auth.UserIDFromContext(r.Context()), r.URL.Query(), page.Limit, page.Offset)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func (a *API) getResource(sc *resources.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := a.Resources.Get(r.Context(), sc, auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func (a *API) browseCareRequests(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r, DefaultLimit)
	rows, err := a.Resources.Browse(r.Context(), resources.CareRequests, r.URL.Query(), page.Limit, page.Offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) scheduleInterview(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}

	row, err := a.Resources.ScheduleInterview(r.Context(), auth.UserIDFromContext(r.Context()), body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Interview scheduled", Data: row})
}
