// Package applications submits care applications and reports the active
// application limit. The limit itself is enforced by the database.
package applications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/handlers/dberror"
	"github.com/careconnect/backend/api/metrics"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/jmoiron/sqlx"
)

// LimitConstraint is the constraint name raised by the active-limit trigger.
const LimitConstraint = "care_applications_active_limit"

// DuplicateConstraint is the unique index on (care_request_id, caregiver_user_id).
const DuplicateConstraint = "care_applications_request_caregiver_key"

// ActiveStatuses count toward the limit.
var ActiveStatuses = []string{"pending", "accepted", "interview_scheduled"}

// Limit reports a caregiver's position against the active limit.
type Limit struct {
	LimitReached bool `json:"limit_reached" db:"limit_reached"`
	CurrentCount int  `json:"current_count" db:"current_count"`
	MaxLimit     int  `json:"max_limit" db:"max_limit"`
}

// Application is a row of care_applications.
type Application struct {
	ID               string    `json:"id" db:"id"`
	CareRequestID    string    `json:"care_request_id" db:"care_request_id"`
	CaregiverUserID  string    `json:"caregiver_user_id" db:"caregiver_user_id"`
	CareseekerUserID *string   `json:"careseeker_user_id" db:"careseeker_user_id"`
	Status           string    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Service runs application writes on the pool and reads through PostgREST.
type Service struct {
	DB   *sqlx.DB
	REST *postgrest.Client
}

const limitSQL = `
	SELECT count(*) AS current_count,
	       active_application_limit() AS max_limit,
	       count(*) >= active_application_limit() AS limit_reached
	  FROM care_applications
	 WHERE caregiver_user_id = $1
	   AND status IN ('pending', 'accepted', 'interview_scheduled')`

// CheckLimit counts the caregiver's active applications.
func (s *Service) CheckLimit(ctx context.Context, caregiverID string) (*Limit, error) {
	start := time.Now()
	var l Limit
	err := s.DB.GetContext(ctx, &l, limitSQL, caregiverID)
	metrics.RecordDBQuery("application_limit", time.Since(start), err)
	if err != nil {
		return nil, dberror.ToAPIError(fmt.Errorf("failed to count applications: %w", err))
	}
	return &l, nil
}

const applySQL = `
	INSERT INTO care_applications (care_request_id, caregiver_user_id, careseeker_user_id, status)
	SELECT r.id, $2, r.user_id, 'pending'
	  FROM care_requests r
	 WHERE r.id = $1
	RETURNING id, care_request_id, caregiver_user_id, careseeker_user_id, status, created_at`

// Apply submits an application from caregiverID to careRequestID. The
// careseeker is copied from the care request in the same statement; the
// duplicate and limit checks are enforced by the database under concurrency.
func (s *Service) Apply(ctx context.Context, caregiverID, careRequestID string) (*Application, error) {
	start := time.Now()
	var app Application
	err := s.DB.GetContext(ctx, &app, applySQL, careRequestID, caregiverID)
	metrics.RecordDBQuery("apply", time.Since(start), ignoreNoRows(err))

	switch {
	case err == nil:
		metrics.RecordApplication("accepted")
		return &app, nil
	case errors.Is(err, sql.ErrNoRows):
		metrics.RecordApplication("not_found")
		return nil, apierror.NotFound("Care request not found")
	case dberror.IsUniqueViolation(err, DuplicateConstraint):
		metrics.RecordApplication("duplicate")
		return nil, &apierror.Error{Kind: apierror.KindValidation, Message: "You have already applied for this care request", Err: err}
	case dberror.IsCheckViolation(err, LimitConstraint):
		metrics.RecordApplication("limit_reached")
		pgErr, _ := dberror.PgError(err)
		return nil, &apierror.Error{Kind: apierror.KindValidation, Message: pgErr.Message, Err: err}
	default:
		metrics.RecordApplication("error")
		return nil, dberror.ToAPIError(fmt.Errorf("failed to submit application: %w", err))
	}
}

func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}
