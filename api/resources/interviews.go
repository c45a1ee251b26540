package resources

import (
	"context"

	"github.com/careconnect/backend/api/apierror"
)

// ScheduleInterview sets the interview time and moves the request to
// scheduled. Either party of the interview may schedule it.
func (s *Service) ScheduleInterview(ctx context.Context, callerID string, body map[string]any) (map[string]any, error) {
	when, _ := body["scheduled_date_time"].(string)
	if when == "" {
		return nil, apierror.Validation("Missing required field: scheduled_date_time")
	}
	return s.Update(ctx, InterviewRequests, callerID, map[string]any{
		"id":                  body["id"],
		"scheduled_date_time": when,
		"status":              "scheduled",
	})
}
