package handlers

import "net/http"

// PublicConfig holds configuration that is safe to expose to the frontend.
type PublicConfig struct {
	SupabaseURL       string `json:"supabaseUrl,omitempty"`
	SentryDSN         string `json:"sentryDsn,omitempty"`
	SentryEnvironment string `json:"sentryEnvironment,omitempty"`
}

func (a *API) publicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Public)
}
