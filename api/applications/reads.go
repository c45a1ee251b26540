package applications

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/careconnect/backend/api/apierror"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// StatusCount is one entry of the per-status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// inactiveForCaregiver are excluded from a caregiver's active list.
var inactiveForCaregiver = []any{"pending", "closed", "rejected"}

// ListForCaregiver returns every application submitted by caregiverID.
func (s *Service) ListForCaregiver(ctx context.Context, caregiverID string) ([]map[string]any, error) {
	return s.REST.From("care_applications").
		Select("*").
		Eq("caregiver_user_id", caregiverID).
		Order("created_at", true).
		Rows(ctx)
}

// UpdateStatus sets the status of an application on one of careseekerID's
// care requests.
func (s *Service) UpdateStatus(ctx context.Context, careseekerID, id, status string) (map[string]any, error) {
	resp, err := s.REST.From("care_applications").
		Eq("id", id).
		Eq("careseeker_user_id", careseekerID).
		Update(ctx, map[string]any{"status": status})
	if err != nil {
		return nil, err
	}
	row, err := resp.First()
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apierror.NotFound("Care application not found")
	}
	return row, nil
}

// AppliedRequestIDs returns the care requests caregiverID has applied to.
func (s *Service) AppliedRequestIDs(ctx context.Context, caregiverID string) ([]string, error) {
	resp, err := s.REST.From("care_applications").
		Select("care_request_id").
		Eq("caregiver_user_id", caregiverID).
		Execute(ctx)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	gjson.ParseBytes(resp.Body).ForEach(func(_, row gjson.Result) bool {
		if id := row.Get("care_request_id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids, nil
}

// StatusCounts counts applications per status for one of careseekerID's
// care requests, sorted by status.
func (s *Service) StatusCounts(ctx context.Context, careseekerID, careRequestID string) ([]StatusCount, error) {
	resp, err := s.REST.From("care_applications").
		Select("status").
		Eq("care_request_id", careRequestID).
		Eq("careseeker_user_id", careseekerID).
		Execute(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, st := range gjson.GetBytes(resp.Body, "#.status").Array() {
		status := st.String()
		if status == "" {
			status = "pending"
		}
		counts[status]++
	}

	out := make([]StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// ActiveForCaregiver returns caregiverID's applications that moved past
// review and are still open.
func (s *Service) ActiveForCaregiver(ctx context.Context, caregiverID string) ([]map[string]any, error) {
	return s.REST.From("care_applications").
		Select("id,care_request_id,status").
		Eq("caregiver_user_id", caregiverID).
		NotIn("status", inactiveForCaregiver...).
		Rows(ctx)
}

// ReviewApplicants returns one entry per application to careseekerID's
// requests, optionally narrowed to one care request: the applicant's caregiver
// profile annotated with application_status, care_request_id and the
// applicant's display name. Applicants without a caregiver profile are
// omitted.
func (s *Service) ReviewApplicants(ctx context.Context, careseekerID, careRequestID string) ([]map[string]any, error) {
	q := s.REST.From("care_applications").
		Select("caregiver_user_id,care_request_id,status").
		Eq("careseeker_user_id", careseekerID)
	if careRequestID != "" {
		q = q.Eq("care_request_id", careRequestID)
	}
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}

	type application struct {
		caregiverID, careRequestID, status string
	}
	var apps []application
	seen := map[string]bool{}
	var ids []any
	gjson.ParseBytes(resp.Body).ForEach(func(_, row gjson.Result) bool {
		id := row.Get("caregiver_user_id").String()
		if id == "" {
			return true
		}
		apps = append(apps, application{
			caregiverID:   id,
			careRequestID: row.Get("care_request_id").String(),
			status:        row.Get("status").String(),
		})
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return true
	})
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}

	var profiles, people []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = s.REST.From("caregiver_profiles").Select("*").In("user_id", ids...).Rows(gctx)
		if err != nil {
			return fmt.Errorf("failed to load caregiver profiles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		people, err = s.REST.From("profiles").Select("id,full_name").In("id", ids...).Rows(gctx)
		if err != nil {
			return fmt.Errorf("failed to load profiles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[string]any, len(people))
	for _, p := range people {
		if id, ok := p["id"].(string); ok {
			names[id] = p["full_name"]
		}
	}
	byCaregiver := make(map[string]map[string]any, len(profiles))
	for _, p := range profiles {
		if id, ok := p["user_id"].(string); ok {
			byCaregiver[id] = p
		}
	}

	out := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		profile, ok := byCaregiver[app.caregiverID]
		if !ok {
			continue
		}
		entry := maps.Clone(profile)
		entry["application_status"] = app.status
		entry["care_request_id"] = app.careRequestID
		if _, has := entry["full_name"]; !has {
			if name, ok := names[app.caregiverID]; ok {
				entry["full_name"] = name
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
