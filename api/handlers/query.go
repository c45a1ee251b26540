package handlers

import (
	"errors"
	"net/http"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/query"
	"github.com/careconnect/backend/api/rules"
	"github.com/careconnect/backend/api/validate"
	"github.com/go-chi/chi/v5"
)

// runQuery handles POST /api/query. raw_sql payloads are only considered
// for admins; the engine refuses them for everyone else.
func (a *API) runQuery(w http.ResponseWriter, r *http.Request) {
	var p query.Payload
	if err := decodeJSON(w, r, &p); err != nil {
		a.writeError(w, r, err)
		return
	}

	privileged := false
	if p.RawSQL != "" && a.Queries.RawSQLEnabled {
		ok, err := a.Roles.HasRole(r.Context(), auth.UserIDFromContext(r.Context()), auth.RoleAdmin)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		privileged = ok
	}

	rows, err := a.Queries.Run(r.Context(), &p, privileged)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) executeRule(w http.ResponseWriter, r *http.Request) {
	var req rules.ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.Executor.Execute(r.Context(), req.RuleName, req.Parameters)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	list, err := a.Rules.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.Rules.Get(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, rules.ErrNotFound) {
		err = apierror.NotFound("Rule not found")
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var in rules.Input
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := validate.Struct(in); err != nil {
		a.writeError(w, r, err)
		return
	}

	created, err := a.Rules.Create(r.Context(), in.Rule())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("rule created", "name", created.Name, "by", auth.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Rule created", Data: created})
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	var patch rules.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}

	updated, err := a.Rules.Update(r.Context(), chi.URLParam(r, "name"), &patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("rule updated", "name", updated.Name, "by", auth.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Rule updated", Data: updated})
}
