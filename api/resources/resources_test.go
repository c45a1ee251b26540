package resources_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/careconnect/backend/api/resources"
	"github.com/careconnect/backend/utils/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	callerID = "6b1f8c2e-4a7d-4f1b-9c55-0d2b7e3a9f10"
	otherID  = "2d3e4f50-6a7b-4c8d-9e0f-1a2b3c4d5e6f"
	rowID    = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	parentID = "0f1e2d3c-4b5a-4968-8776-655443322110"
)

type call struct {
	Method string
	Path   string
	Prefer string
	Query  url.Values
	Body   map[string]any
}

// fakeREST records every request and answers with the body returned by reply.
type fakeREST struct {
	mu    sync.Mutex
	calls []call
	reply func(c call) (int, string)
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := call{Method: r.Method, Path: r.URL.Path, Prefer: r.Header.Get("Prefer"), Query: r.URL.Query()}
	if r.Body != nil && r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&c.Body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	status, body := http.StatusOK, `[]`
	if f.reply != nil {
		status, body = f.reply(c)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeREST) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newService(t *testing.T, reply func(c call) (int, string)) (*resources.Service, *fakeREST) {
	t.Helper()
	fake := &fakeREST{reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := postgrest.New(postgrest.Config{
		URL:     srv.URL,
		APIKey:  "service-key",
		Timeout: time.Second,
		Retry:   retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	return &resources.Service{REST: client}, fake
}

func echoInsert(c call) (int, string) {
	if c.Method == http.MethodPost {
		b, _ := json.Marshal([]map[string]any{c.Body})
		return http.StatusCreated, string(b)
	}
	return http.StatusOK, `[]`
}

func requireKind(t *testing.T, err error, kind apierror.Kind) *apierror.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok, "expected *apierror.Error, got %T", err)
	assert.Equal(t, kind, e.Kind)
	return e
}

func TestCreate_InjectsCallerAsOwner(t *testing.T) {
	svc, fake := newService(t, echoInsert)

	row, err := svc.Create(context.Background(), resources.CaregiverReviews, callerID, map[string]any{
		"caregiver_user_id": otherID,
		"rating":            float64(5),
		"review_text":       "Kind and punctual",
		"reviewer_user_id":  otherID,
	})
	require.NoError(t, err)
	assert.Equal(t, callerID, row["reviewer_user_id"])

	calls := fake.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/rest/v1/caregiver_reviews", calls[0].Path)
	assert.Equal(t, callerID, calls[0].Body["reviewer_user_id"])
	assert.Equal(t, otherID, calls[0].Body["caregiver_user_id"])
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		schema  *resources.Schema
		body    map[string]any
		wantMsg string
	}{
		{
			name:    "unknown field",
			schema:  resources.CaregiverReviews,
			body:    map[string]any{"caregiver_user_id": otherID, "rating": float64(4), "approved": true},
			wantMsg: "Unknown field: approved",
		},
		{
			name:    "missing required",
			schema:  resources.CaregiverReviews,
			body:    map[string]any{"rating": float64(4)},
			wantMsg: "Missing required field: caregiver_user_id",
		},
		{
			name:    "null required",
			schema:  resources.DirectMessages,
			body:    map[string]any{"receiver_id": otherID, "content": nil},
			wantMsg: "Missing required field: content",
		},
		{
			name:    "wrong type",
			schema:  resources.CaregiverReviews,
			body:    map[string]any{"caregiver_user_id": otherID, "rating": "five"},
			wantMsg: "rating must be a number",
		},
		{
			name:    "bad uuid",
			schema:  resources.DirectMessages,
			body:    map[string]any{"receiver_id": "bob", "content": "hi"},
			wantMsg: "receiver_id must be a valid UUID",
		},
		{
			name:    "admin role is not self-assignable",
			schema:  resources.UserRoles,
			body:    map[string]any{"role": "admin"},
			wantMsg: "Invalid role: must be one of careseeker, caregiver, agency",
		},
		{
			name:    "list expected",
			schema:  resources.CareRequests,
			body:    map[string]any{"location": "Pune", "care_services_needed": "nursing"},
			wantMsg: "care_services_needed must be a list",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fake := newService(t, echoInsert)
			_, err := svc.Create(context.Background(), tt.schema, callerID, tt.body)
			e := requireKind(t, err, apierror.KindValidation)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Empty(t, fake.recorded(), "validation must happen before any upstream call")
		})
	}
}

func TestCreate_RatingOutOfRange(t *testing.T) {
	svc, _ := newService(t, echoInsert)
	_, err := svc.Create(context.Background(), resources.CaregiverReviews, callerID, map[string]any{
		"caregiver_user_id": otherID,
		"rating":            float64(6),
	})
	requireKind(t, err, apierror.KindValidation)
}

func TestCreate_UpsertForSingletons(t *testing.T) {
	svc, fake := newService(t, echoInsert)

	row, err := svc.Create(context.Background(), resources.Profiles, callerID, map[string]any{"first_name": "Asha", "id": otherID})
	require.NoError(t, err)
	assert.Equal(t, callerID, row["id"])
	assert.Contains(t, fake.recorded()[0].Prefer, "resolution=merge-duplicates")
}

func TestUpdate_ScopedToOwner(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		if c.Query.Get("id") == "eq."+rowID {
			return http.StatusOK, `[{"id":"` + rowID + `","status":"resolved"}]`
		}
		return http.StatusOK, `[]`
	})

	row, err := svc.Update(context.Background(), resources.CareDisputes, callerID, map[string]any{
		"id":       rowID,
		"status":   "resolved",
		"category": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "resolved", row["status"])

	calls := fake.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPatch, calls[0].Method)
	assert.Equal(t, "eq."+callerID, calls[0].Query.Get("care_receiver_user_id"))
	assert.Equal(t, map[string]any{"status": "resolved"}, calls[0].Body)

	_, err = svc.Update(context.Background(), resources.CareDisputes, callerID, map[string]any{
		"id":     otherID,
		"status": "resolved",
	})
	e := requireKind(t, err, apierror.KindNotFound)
	assert.Equal(t, "Dispute not found", e.Message)
}

func TestUpdate_Validation(t *testing.T) {
	svc, fake := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Update(ctx, resources.CareDisputes, callerID, map[string]any{"status": "x"})
	e := requireKind(t, err, apierror.KindValidation)
	assert.Equal(t, "Missing required field: id", e.Message)

	_, err = svc.Update(ctx, resources.CareDisputes, callerID, map[string]any{"id": "42", "status": "x"})
	e = requireKind(t, err, apierror.KindValidation)
	assert.Equal(t, "id must be a valid UUID", e.Message)

	_, err = svc.Update(ctx, resources.CareDisputes, callerID, map[string]any{"id": rowID})
	e = requireKind(t, err, apierror.KindValidation)
	assert.Equal(t, "No fields to update", e.Message)

	// Insert-only fields cannot be patched.
	_, err = svc.Update(ctx, resources.CareDisputes, callerID, map[string]any{"id": rowID, "dispute_reason": "x"})
	e = requireKind(t, err, apierror.KindValidation)
	assert.Equal(t, "Unknown field: dispute_reason", e.Message)

	assert.Empty(t, fake.recorded())
}

func TestUpdate_SingletonByOwner(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		return http.StatusOK, `[{"user_id":"` + callerID + `","blood_group":"O+"}]`
	})
	_, err := svc.Update(context.Background(), resources.HealthProfiles, callerID, map[string]any{"blood_group": "O+"})
	require.NoError(t, err)

	calls := fake.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "eq."+callerID, calls[0].Query.Get("user_id"))
	assert.Empty(t, calls[0].Query.Get("id"))
}

func TestUpdate_Guard(t *testing.T) {
	guardRow := func(requester, caregiver string) func(c call) (int, string) {
		return func(c call) (int, string) {
			if c.Method == http.MethodGet {
				return http.StatusOK, `[{"requester_id":"` + requester + `","caregiver_user_id":"` + caregiver + `"}]`
			}
			return http.StatusOK, `[{"id":"` + rowID + `","status":"accepted"}]`
		}
	}
	body := map[string]any{"id": rowID, "status": "accepted"}

	t.Run("caregiver may update", func(t *testing.T) {
		svc, fake := newService(t, guardRow(otherID, callerID))
		row, err := svc.Update(context.Background(), resources.InterviewRequests, callerID, body)
		require.NoError(t, err)
		assert.Equal(t, "accepted", row["status"])

		calls := fake.recorded()
		require.Len(t, calls, 2)
		assert.Equal(t, "requester_id,caregiver_user_id", calls[0].Query.Get("select"))
		assert.Equal(t, http.MethodPatch, calls[1].Method)
		assert.Equal(t, "eq."+rowID, calls[1].Query.Get("id"))
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		svc, fake := newService(t, guardRow(otherID, otherID))
		_, err := svc.Update(context.Background(), resources.InterviewRequests, callerID, body)
		requireKind(t, err, apierror.KindForbidden)
		assert.Len(t, fake.recorded(), 1)
	})

	t.Run("missing row", func(t *testing.T) {
		svc, _ := newService(t, nil)
		_, err := svc.Update(context.Background(), resources.InterviewRequests, callerID, body)
		e := requireKind(t, err, apierror.KindNotFound)
		assert.Equal(t, "Interview request not found", e.Message)
	})
}

func TestUpdate_CareServiceCancellationHook(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		if c.Method == http.MethodGet {
			return http.StatusOK, `[{"caregiver_user_id":"` + callerID + `"}]`
		}
		return http.StatusOK, `[{"id":"` + rowID + `"}]`
	})
	_, err := svc.Update(context.Background(), resources.CareServices, callerID, map[string]any{
		"id":                  rowID,
		"cancellation_reason": "relocating",
	})
	require.NoError(t, err)

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{
		"cancellation_reason":       "relocating",
		"cancellation_requested_by": callerID,
	}, calls[1].Body)
}

func TestScheduleInterview(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		if c.Method == http.MethodGet {
			return http.StatusOK, `[{"requester_id":"` + callerID + `","caregiver_user_id":"` + otherID + `"}]`
		}
		return http.StatusOK, `[{"id":"` + rowID + `","status":"scheduled"}]`
	})

	_, err := svc.ScheduleInterview(context.Background(), callerID, map[string]any{"id": rowID})
	requireKind(t, err, apierror.KindValidation)

	row, err := svc.ScheduleInterview(context.Background(), callerID, map[string]any{
		"id":                  rowID,
		"scheduled_date_time": "2025-06-03T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "scheduled", row["status"])

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "scheduled", calls[1].Body["status"])
	assert.Equal(t, "2025-06-03T10:00:00Z", calls[1].Body["scheduled_date_time"])
}

func TestQuery_OrOwnershipAndPagination(t *testing.T) {
	svc, fake := newService(t, nil)
	_, err := svc.Query(context.Background(), resources.DirectMessages, callerID, url.Values{}, 50, 10)
	require.NoError(t, err)

	calls := fake.recorded()
	require.Len(t, calls, 1)
	q := calls[0].Query
	assert.Equal(t, "(sender_id.eq."+callerID+",receiver_id.eq."+callerID+")", q.Get("or"))
	assert.Empty(t, q.Get("sender_id"))
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "10", q.Get("offset"))
	assert.Equal(t, "created_at.asc", q.Get("order"))
}

func TestQuery_LookupParam(t *testing.T) {
	svc, fake := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Query(ctx, resources.CaregiverProfiles, callerID, url.Values{"caregiver_user_id": {otherID}}, 0, 0)
	require.NoError(t, err)
	_, err = svc.Query(ctx, resources.CaregiverProfiles, callerID, url.Values{}, 0, 0)
	require.NoError(t, err)
	_, err = svc.Query(ctx, resources.CaregiverProfiles, callerID, url.Values{"caregiver_user_id": {"nope"}}, 0, 0)
	requireKind(t, err, apierror.KindValidation)

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "eq."+otherID, calls[0].Query.Get("user_id"))
	assert.Equal(t, "eq."+callerID, calls[1].Query.Get("user_id"))
}

func TestBrowse_AvailableCareRequestFilters(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		return http.StatusOK, `[{"id":"r1","location":"Pune"}]`
	})
	params := url.Values{
		"location":             {"Pune"},
		"care_services_needed": {"nursing", "cooking"},
		"food_provided":        {"true"},
		"special_needs":        {""},
		"user_id":              {otherID},
	}
	rows, err := svc.Browse(context.Background(), resources.CareRequests, params, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	q := fake.recorded()[0].Query
	assert.Equal(t, "ilike.*Pune*", q.Get("location"))
	assert.Equal(t, "cs.{nursing,cooking}", q.Get("care_services_needed"))
	assert.Equal(t, "eq.true", q.Get("food_provided"))
	assert.Empty(t, q.Get("special_needs"))
	assert.Empty(t, q.Get("user_id"), "undeclared params are not forwarded")
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "100", q.Get("limit"))
	assert.Empty(t, q.Get("offset"))
}

func TestMedications_OwnedThroughHealthProfile(t *testing.T) {
	t.Run("query embeds the parent owner", func(t *testing.T) {
		svc, fake := newService(t, nil)
		_, err := svc.Query(context.Background(), resources.Medications, callerID, url.Values{}, 100, 0)
		require.NoError(t, err)

		q := fake.recorded()[0].Query
		assert.Equal(t, "*,health_profiles!inner(user_id)", q.Get("select"))
		assert.Equal(t, "eq."+callerID, q.Get("health_profiles.user_id"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
	})

	t.Run("create rejects a foreign health profile", func(t *testing.T) {
		svc, fake := newService(t, echoInsert)
		_, err := svc.Create(context.Background(), resources.Medications, callerID, map[string]any{
			"health_profile_id": parentID,
			"name":              "Metformin",
		})
		requireKind(t, err, apierror.KindForbidden)

		calls := fake.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, "/rest/v1/health_profiles", calls[0].Path)
		assert.Equal(t, "eq."+callerID, calls[0].Query.Get("user_id"))
	})

	t.Run("create with own health profile", func(t *testing.T) {
		svc, fake := newService(t, func(c call) (int, string) {
			if c.Path == "/rest/v1/health_profiles" {
				return http.StatusOK, `[{"id":"` + parentID + `"}]`
			}
			return echoInsert(c)
		})
		row, err := svc.Create(context.Background(), resources.Medications, callerID, map[string]any{
			"health_profile_id": parentID,
			"name":              "Metformin",
			"dosage":            "500mg",
		})
		require.NoError(t, err)
		assert.Equal(t, "Metformin", row["name"])
		assert.Len(t, fake.recorded(), 2)
	})
}

func TestGet(t *testing.T) {
	svc, fake := newService(t, func(c call) (int, string) {
		if c.Query.Get("id") == "eq."+rowID {
			return http.StatusOK, `[{"id":"` + rowID + `"}]`
		}
		return http.StatusOK, `[]`
	})
	ctx := context.Background()

	row, err := svc.Get(ctx, resources.CareRequests, callerID, rowID)
	require.NoError(t, err)
	assert.Equal(t, rowID, row["id"])
	assert.Equal(t, "eq."+callerID, fake.recorded()[0].Query.Get("user_id"))

	_, err = svc.Get(ctx, resources.CareRequests, callerID, otherID)
	e := requireKind(t, err, apierror.KindNotFound)
	assert.Equal(t, "Care request not found", e.Message)

	_, err = svc.Get(ctx, resources.CareRequests, callerID, "r1")
	requireKind(t, err, apierror.KindValidation)
}

func TestUpstreamErrorIsReturned(t *testing.T) {
	svc, _ := newService(t, func(c call) (int, string) {
		return http.StatusConflict, `{"code":"23505","message":"duplicate key value violates unique constraint"}`
	})
	_, err := svc.Create(context.Background(), resources.UserRoles, callerID, map[string]any{"role": "caregiver"})
	require.Error(t, err)
	assert.True(t, postgrest.IsCode(err, "23505"))
}

func TestCatalog(t *testing.T) {
	reg := resources.Catalog()
	require.Len(t, reg.All(), 18)
	for _, sc := range reg.All() {
		assert.NotEmpty(t, sc.Name, sc.Path)
		assert.NotEmpty(t, sc.Table, sc.Path)
		assert.True(t, sc.OwnerColumn != "" || sc.Parent != nil, "%s has no owner", sc.Path)
		assert.NotEmpty(t, sc.Fields, sc.Path)
		assert.NotEmpty(t, sc.UpdateFields, sc.Path)
	}
	sc, ok := reg.Lookup("care-status-history")
	require.True(t, ok)
	assert.Equal(t, "care_request_status_history", sc.Table)
	_, ok = reg.Lookup("care_applications")
	assert.False(t, ok)
}
