package signatures_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/careconnect/backend/api/signatures"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	agreementID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	signerID    = "6b1f8c2e-4a7d-4f1b-9c55-0d2b7e3a9f10"
	requestID   = "0f1e2d3c-4b5a-4968-8776-655443322110"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type request struct {
	Method string
	Table  string
	Query  map[string]string
	Body   map[string]any
}

// upstream is an in-memory PostgREST keyed by table.
type upstream struct {
	mu       sync.Mutex
	tables   map[string][]map[string]any
	requests []request
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Path[len("/rest/v1/"):]
	req := request{Method: r.Method, Table: table, Query: map[string]string{}}
	for k, v := range r.URL.Query() {
		req.Query[k] = v[0]
	}
	if r.Method != http.MethodGet {
		_ = json.NewDecoder(r.Body).Decode(&req.Body)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)

	match := func(row map[string]any) bool {
		for k, v := range req.Query {
			if k == "select" || k == "limit" || k == "order" {
				continue
			}
			if "eq."+toString(row[k]) != v {
				return false
			}
		}
		return true
	}

	var out []map[string]any
	switch r.Method {
	case http.MethodPost:
		u.tables[table] = append(u.tables[table], req.Body)
		out = append(out, req.Body)
	case http.MethodPatch:
		for _, row := range u.tables[table] {
			if match(row) {
				for k, v := range req.Body {
					row[k] = v
				}
				out = append(out, row)
			}
		}
	default:
		for _, row := range u.tables[table] {
			if match(row) {
				out = append(out, row)
			}
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (u *upstream) count(method, table string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, r := range u.requests {
		if r.Method == method && r.Table == table {
			n++
		}
	}
	return n
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func newService(t *testing.T, seed map[string][]map[string]any) (*signatures.Service, *upstream, *clockwork.FakeClock) {
	t.Helper()
	if seed == nil {
		seed = map[string][]map[string]any{}
	}
	up := &upstream{tables: seed}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	client, err := postgrest.New(postgrest.Config{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(now)
	return &signatures.Service{REST: client, Clock: clock}, up, clock
}

func createInput() signatures.CreateInput {
	return signatures.CreateInput{
		AgreementID:  agreementID,
		SignerUserID: signerID,
		SignerName:   "Asha Rao",
		SignerEmail:  "asha@example.com",
	}
}

func TestCreateRequest(t *testing.T) {
	svc, up, _ := newService(t, nil)

	res, err := svc.CreateRequest(context.Background(), createInput())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{6}$`), res.VerificationCode)
	assert.Equal(t, now.Add(7*24*time.Hour).Format(time.RFC3339Nano), res.ExpiresAt)

	stored := up.tables["digital_signature_requests"]
	require.Len(t, stored, 1)
	assert.Equal(t, "pending", stored[0]["status"])
	assert.Equal(t, "electronic", stored[0]["signature_type"])
	assert.Equal(t, res.SignatureRequestID, stored[0]["id"])
}

func TestCreateRequest_Validation(t *testing.T) {
	svc, up, _ := newService(t, nil)
	in := createInput()
	in.SignerEmail = "not-an-email"
	_, err := svc.CreateRequest(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))

	in = createInput()
	in.SignatureType = "wet_ink"
	_, err = svc.CreateRequest(context.Background(), in)
	assert.Equal(t, apierror.KindValidation, apierror.KindOf(err))
	assert.Empty(t, up.requests)
}

func TestCreateRequest_AlreadySigned(t *testing.T) {
	svc, up, _ := newService(t, map[string][]map[string]any{
		"digital_signatures": {{"id": "s1", "agreement_id": agreementID, "signer_user_id": signerID}},
	})
	res, err := svc.CreateRequest(context.Background(), createInput())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.AlreadySigned)
	assert.Equal(t, "s1", res.ExistingSignature["id"])
	assert.Zero(t, up.count(http.MethodPost, "digital_signature_requests"))
}

func pendingRequest(expires time.Time) map[string][]map[string]any {
	return map[string][]map[string]any{
		"digital_signature_requests": {{
			"id":                requestID,
			"agreement_id":      agreementID,
			"signer_user_id":    signerID,
			"verification_code": "AB12CD",
			"status":            "pending",
			"expires_at":        expires.Format(time.RFC3339Nano),
		}},
		"agreements": {{"id": agreementID}},
	}
}

func TestSign(t *testing.T) {
	svc, up, _ := newService(t, pendingRequest(now.Add(time.Hour)))
	ctx := context.Background()

	res, err := svc.Sign(ctx, signerID, signatures.SignInput{
		AgreementID:      agreementID,
		SignatureText:    "Asha Rao",
		VerificationCode: "ab12cd",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, signatures.Hash(agreementID, signerID, now), res.SignatureHash)
	assert.Equal(t, now.Format(time.RFC3339Nano), res.SignedAt)

	assert.Equal(t, "completed", up.tables["digital_signature_requests"][0]["status"])
	assert.Equal(t, res.SignedAt, up.tables["agreements"][0]["signed_on"])

	v, err := svc.Verify(ctx, res.SignatureID)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Equal(t, "Signature is valid", v.VerificationMessage)

	again, err := svc.Sign(ctx, signerID, signatures.SignInput{
		AgreementID:      agreementID,
		SignatureText:    "Asha Rao",
		VerificationCode: "AB12CD",
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadySigned)
	assert.Equal(t, 1, up.count(http.MethodPost, "digital_signatures"))
}

func TestSign_WrongCodeOrExpired(t *testing.T) {
	in := signatures.SignInput{AgreementID: agreementID, SignatureText: "Asha", VerificationCode: "ZZZZZZ"}

	svc, _, _ := newService(t, pendingRequest(now.Add(time.Hour)))
	_, err := svc.Sign(context.Background(), signerID, in)
	require.Error(t, err)
	e, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindNotFound, e.Kind)
	assert.Equal(t, "Invalid or expired signature request", e.Message)

	svc, up, clock := newService(t, pendingRequest(now.Add(time.Hour)))
	clock.Advance(2 * time.Hour)
	in.VerificationCode = "AB12CD"
	_, err = svc.Sign(context.Background(), signerID, in)
	require.Error(t, err)
	e, ok = apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, "Signature request has expired", e.Message)
	assert.Zero(t, up.count(http.MethodPost, "digital_signatures"))
}

func TestSign_RequestBelongsToSigner(t *testing.T) {
	svc, _, _ := newService(t, pendingRequest(now.Add(time.Hour)))
	_, err := svc.Sign(context.Background(), "2d3e4f50-6a7b-4c8d-9e0f-1a2b3c4d5e6f", signatures.SignInput{
		AgreementID:      agreementID,
		SignatureText:    "Someone else",
		VerificationCode: "AB12CD",
	})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestVerify(t *testing.T) {
	signedAt := now.Add(123456 * time.Microsecond)
	good := signatures.Hash(agreementID, signerID, signedAt)
	svc, _, _ := newService(t, map[string][]map[string]any{
		"digital_signatures": {
			// Postgres renders timestamptz with a +00:00 offset.
			{"id": "11111111-1111-4111-8111-111111111111", "agreement_id": agreementID, "signer_user_id": signerID,
				"signature_timestamp": "2025-06-01T12:00:00.123456+00:00", "signature_hash": good},
			{"id": "22222222-2222-4222-8222-222222222222", "agreement_id": agreementID, "signer_user_id": signerID,
				"signature_timestamp": "2025-06-01T12:00:00.123456+00:00", "signature_hash": "tampered"},
		},
	})
	ctx := context.Background()

	v, err := svc.Verify(ctx, "11111111-1111-4111-8111-111111111111")
	require.NoError(t, err)
	assert.True(t, v.IsValid)

	v, err = svc.Verify(ctx, "22222222-2222-4222-8222-222222222222")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Equal(t, "Signature verification failed", v.VerificationMessage)

	_, err = svc.Verify(ctx, "33333333-3333-4333-8333-333333333333")
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestForAgreement(t *testing.T) {
	svc, _, _ := newService(t, map[string][]map[string]any{
		"digital_signatures": {{"id": "s1", "agreement_id": agreementID}},
		"digital_signature_requests": {
			{"id": "r1", "agreement_id": agreementID, "status": "pending"},
			{"id": "r2", "agreement_id": agreementID, "status": "completed"},
			{"id": "r3", "agreement_id": "other", "status": "pending"},
		},
	})
	res, err := svc.ForAgreement(context.Background(), agreementID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalSignatures)
	assert.Len(t, res.SignatureRequests, 2)
	assert.Equal(t, 1, res.PendingRequests)
}

func TestAgreementSignedAndUserSigned(t *testing.T) {
	svc, _, _ := newService(t, map[string][]map[string]any{
		"digital_signatures": {
			{"id": "s1", "agreement_id": agreementID, "signer_user_id": signerID, "signature_timestamp": "2025-06-01T10:00:00Z"},
			{"id": "s2", "agreement_id": agreementID, "signer_user_id": "x", "signature_timestamp": "2025-06-01T11:00:00+00:00"},
		},
	})
	ctx := context.Background()

	status, err := svc.AgreementSigned(ctx, agreementID)
	require.NoError(t, err)
	assert.True(t, status.IsSigned)
	assert.Equal(t, 2, status.SignatureCount)
	assert.Equal(t, "s2", status.LatestSignature["signature_id"])
	assert.Equal(t, "Agreement is already signed with 2 signature(s)", status.Message)

	status, err = svc.AgreementSigned(ctx, "44444444-4444-4444-8444-444444444444")
	require.NoError(t, err)
	assert.False(t, status.IsSigned)

	user, err := svc.UserSigned(ctx, agreementID, signerID)
	require.NoError(t, err)
	assert.True(t, user.HasSigned)
	assert.Equal(t, "s1", user.Signature["signature_id"])

	user, err = svc.UserSigned(ctx, agreementID, "2d3e4f50-6a7b-4c8d-9e0f-1a2b3c4d5e6f")
	require.NoError(t, err)
	assert.False(t, user.HasSigned)
}
