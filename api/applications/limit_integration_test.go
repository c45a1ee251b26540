package applications_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/applications"
	"github.com/careconnect/backend/api/config"
	apitesting "github.com/careconnect/backend/api/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *apitesting.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_CONTAINER_TESTS") == "" {
		var err error
		testDB, err = apitesting.NewDB(context.Background(), slog.Default(), nil)
		if err != nil {
			slog.Warn("PostgreSQL container unavailable, integration tests will be skipped", "error", err)
			testDB = nil
		}
	}

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	os.Exit(code)
}

func setupService(t *testing.T) *applications.Service {
	t.Helper()
	if testDB == nil {
		t.Skip("PostgreSQL container not available")
	}
	apitesting.SetupTestDB(t, testDB, apitesting.PlatformSchema)
	return &applications.Service{DB: config.DB}
}

func newCareRequest(t *testing.T, owner string) string {
	t.Helper()
	var id string
	err := config.DB.GetContext(t.Context(), &id,
		`INSERT INTO care_requests (user_id) VALUES ($1) RETURNING id::text`, owner)
	require.NoError(t, err)
	return id
}

func seedApplication(t *testing.T, requestID, caregiver, status string) {
	t.Helper()
	_, err := config.DB.ExecContext(t.Context(),
		`INSERT INTO care_applications (care_request_id, caregiver_user_id, status) VALUES ($1, $2, $3)`,
		requestID, caregiver, status)
	require.NoError(t, err)
}

func TestApply_ThirdAcceptedFourthRejected(t *testing.T) {
	svc := setupService(t)
	ctx := t.Context()

	seedApplication(t, newCareRequest(t, careseekerID), caregiverID, "pending")
	seedApplication(t, newCareRequest(t, careseekerID), caregiverID, "interview_scheduled")
	// Inactive statuses never count.
	seedApplication(t, newCareRequest(t, careseekerID), caregiverID, "rejected")
	seedApplication(t, newCareRequest(t, careseekerID), caregiverID, "closed")

	limit, err := svc.CheckLimit(ctx, caregiverID)
	require.NoError(t, err)
	assert.Equal(t, &applications.Limit{LimitReached: false, CurrentCount: 2, MaxLimit: 3}, limit)

	third := newCareRequest(t, careseekerID)
	app, err := svc.Apply(ctx, caregiverID, third)
	require.NoError(t, err)
	assert.Equal(t, "pending", app.Status)
	assert.Equal(t, third, app.CareRequestID)
	require.NotNil(t, app.CareseekerUserID)
	assert.Equal(t, careseekerID, *app.CareseekerUserID)

	limit, err = svc.CheckLimit(ctx, caregiverID)
	require.NoError(t, err)
	assert.Equal(t, &applications.Limit{LimitReached: true, CurrentCount: 3, MaxLimit: 3}, limit)

	_, err = svc.Apply(ctx, caregiverID, newCareRequest(t, careseekerID))
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindValidation, e.Kind)
	assert.Equal(t, "You have reached the maximum of 3 applications", e.Message)

	limit, err = svc.CheckLimit(ctx, caregiverID)
	require.NoError(t, err)
	assert.Equal(t, 3, limit.CurrentCount)
}

func TestApply_DuplicateAndMissingRequest(t *testing.T) {
	svc := setupService(t)
	ctx := t.Context()

	req := newCareRequest(t, careseekerID)
	_, err := svc.Apply(ctx, caregiverID, req)
	require.NoError(t, err)

	_, err = svc.Apply(ctx, caregiverID, req)
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, "You have already applied for this care request", e.Message)

	_, err = svc.Apply(ctx, caregiverID, "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestApply_StatusUpdateCannotExceedLimit(t *testing.T) {
	setupService(t)
	ctx := t.Context()

	for range 3 {
		seedApplication(t, newCareRequest(t, careseekerID), caregiverID, "accepted")
	}
	reopened := newCareRequest(t, careseekerID)
	seedApplication(t, reopened, caregiverID, "rejected")

	_, err := config.DB.ExecContext(ctx,
		`UPDATE care_applications SET status = 'pending' WHERE care_request_id = $1`, reopened)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum of 3 applications")
}

func TestApply_ConcurrentSubmissionsRespectLimit(t *testing.T) {
	svc := setupService(t)
	ctx := t.Context()

	const attempts = 10
	requests := make([]string, attempts)
	for i := range requests {
		requests[i] = newCareRequest(t, careseekerID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		limited  int
	)
	for _, req := range requests {
		wg.Add(1)
		go func(req string) {
			defer wg.Done()
			_, err := svc.Apply(context.WithoutCancel(ctx), caregiverID, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apierror.Is(err, apierror.KindValidation):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(req)
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, attempts-3, limited)

	limit, err := svc.CheckLimit(ctx, caregiverID)
	require.NoError(t, err)
	assert.Equal(t, 3, limit.CurrentCount)
}
