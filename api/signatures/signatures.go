// Package signatures runs the electronic signature flow for agreements:
// a signer is issued a verification code, signs with it, and the stored
// signature hash can later be verified.
package signatures

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/careconnect/backend/api/validate"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	signaturesTable = "digital_signatures"
	requestsTable   = "digital_signature_requests"
	agreementsTable = "agreements"

	// RequestTTL is how long a verification code stays usable.
	RequestTTL = 7 * 24 * time.Hour

	alreadySignedMessage = "User has already signed this agreement"
)

// Service stores signatures through PostgREST.
type Service struct {
	REST  *postgrest.Client
	Clock clockwork.Clock
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

// CreateInput asks for a signature from one signer.
type CreateInput struct {
	AgreementID   string `json:"agreement_id" validate:"required,uuid"`
	SignerUserID  string `json:"signer_user_id" validate:"required,uuid"`
	SignerName    string `json:"signer_name" validate:"required"`
	SignerEmail   string `json:"signer_email" validate:"required,email"`
	SignatureType string `json:"signature_type" validate:"omitempty,oneof=electronic digital_certificate biometric"`
	IPAddress     string `json:"ip_address"`
	UserAgent     string `json:"user_agent"`
}

// RequestResult is the outcome of CreateRequest.
type RequestResult struct {
	Success            bool           `json:"success"`
	AlreadySigned      bool           `json:"already_signed,omitempty"`
	Message            string         `json:"message"`
	ExistingSignature  map[string]any `json:"existing_signature,omitempty"`
	SignatureRequestID string         `json:"signature_request_id,omitempty"`
	VerificationCode   string         `json:"verification_code,omitempty"`
	ExpiresAt          string         `json:"expires_at,omitempty"`
}

// CreateRequest issues a verification code to the signer unless they
// already signed the agreement.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*RequestResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	existing, err := s.signatureOf(ctx, in.AgreementID, in.SignerUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &RequestResult{Message: alreadySignedMessage, AlreadySigned: true, ExistingSignature: existing}, nil
	}

	if in.SignatureType == "" {
		in.SignatureType = "electronic"
	}
	now := s.now()
	id := uuid.NewString()
	code := verificationCode()
	expires := now.Add(RequestTTL).Format(time.RFC3339Nano)

	resp, err := s.REST.From(requestsTable).Insert(ctx, map[string]any{
		"id":                id,
		"agreement_id":      in.AgreementID,
		"signer_user_id":    in.SignerUserID,
		"signer_name":       in.SignerName,
		"signer_email":      in.SignerEmail,
		"signature_type":    in.SignatureType,
		"verification_code": code,
		"status":            "pending",
		"created_at":        now.Format(time.RFC3339Nano),
		"expires_at":        expires,
		"ip_address":        nullable(in.IPAddress),
		"user_agent":        nullable(in.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create signature request: %w", err)
	}
	if row, err := resp.First(); err != nil || row == nil {
		return nil, apierror.Internal("Failed to create signature request", err)
	}

	return &RequestResult{
		Success:            true,
		Message:            "Signature request created successfully",
		SignatureRequestID: id,
		VerificationCode:   code,
		ExpiresAt:          expires,
	}, nil
}

// SignInput signs an agreement with a previously issued code.
type SignInput struct {
	AgreementID      string `json:"agreement_id" validate:"required,uuid"`
	SignatureText    string `json:"signature_text" validate:"required"`
	VerificationCode string `json:"verification_code" validate:"required,len=6"`
}

// SignResult is the outcome of Sign.
type SignResult struct {
	Success           bool           `json:"success"`
	AlreadySigned     bool           `json:"already_signed,omitempty"`
	Message           string         `json:"message"`
	ExistingSignature map[string]any `json:"existing_signature,omitempty"`
	SignatureID       string         `json:"signature_id,omitempty"`
	SignatureHash     string         `json:"signature_hash,omitempty"`
	SignedAt          string         `json:"signed_at,omitempty"`
}

// Sign records signerID's signature on the agreement. The pending request
// must match the code and belong to the signer.
func (s *Service) Sign(ctx context.Context, signerID string, in SignInput) (*SignResult, error) {
	in.VerificationCode = strings.ToUpper(strings.TrimSpace(in.VerificationCode))
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	existing, err := s.signatureOf(ctx, in.AgreementID, signerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &SignResult{Message: alreadySignedMessage, AlreadySigned: true, ExistingSignature: existing}, nil
	}

	reqs, err := s.REST.From(requestsTable).
		Select("*").
		Eq("agreement_id", in.AgreementID).
		Eq("signer_user_id", signerID).
		Eq("verification_code", in.VerificationCode).
		Eq("status", "pending").
		Limit(1).
		Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signature request: %w", err)
	}
	if len(reqs) == 0 {
		return nil, apierror.NotFound("Invalid or expired signature request")
	}
	req := reqs[0]

	now := s.now()
	if expires, ok := parseTime(req["expires_at"]); ok && now.After(expires) {
		return nil, apierror.Validation("Signature request has expired")
	}

	signedAt := now.Truncate(time.Microsecond)
	stamp := signedAt.Format(time.RFC3339Nano)
	hash := Hash(in.AgreementID, signerID, signedAt)
	id := uuid.NewString()

	_, err = s.REST.From(signaturesTable).Insert(ctx, map[string]any{
		"id":                  id,
		"agreement_id":        in.AgreementID,
		"signer_user_id":      signerID,
		"signature_text":      in.SignatureText,
		"signature_hash":      hash,
		"signature_timestamp": stamp,
		"verification_code":   in.VerificationCode,
		"ip_address":          req["ip_address"],
		"user_agent":          req["user_agent"],
		"status":              "signed",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store signature: %w", err)
	}

	if _, err := s.REST.From(requestsTable).Eq("id", req["id"]).Update(ctx, map[string]any{"status": "completed"}); err != nil {
		return nil, fmt.Errorf("failed to complete signature request: %w", err)
	}
	if _, err := s.REST.From(agreementsTable).Eq("id", in.AgreementID).Update(ctx, map[string]any{"signed_on": stamp}); err != nil {
		return nil, fmt.Errorf("failed to stamp agreement: %w", err)
	}

	return &SignResult{
		Success:       true,
		Message:       "Agreement signed successfully",
		SignatureID:   id,
		SignatureHash: hash,
		SignedAt:      stamp,
	}, nil
}

// Verification reports whether a stored signature hash still matches.
type Verification struct {
	Success             bool           `json:"success"`
	SignatureID         string         `json:"signature_id"`
	IsValid             bool           `json:"is_valid"`
	SignatureData       map[string]any `json:"signature_data"`
	VerificationMessage string         `json:"verification_message"`
}

// Verify recomputes the hash of signature id.
func (s *Service) Verify(ctx context.Context, id string) (*Verification, error) {
	if err := validate.Var("signature_id", id, "uuid"); err != nil {
		return nil, err
	}
	rows, err := s.REST.From(signaturesTable).Select("*").Eq("id", id).Limit(1).Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signature: %w", err)
	}
	if len(rows) == 0 {
		return nil, apierror.NotFound("Signature not found")
	}
	sig := rows[0]

	valid := hashMatches(sig)
	msg := "Signature verification failed"
	if valid {
		msg = "Signature is valid"
	}
	return &Verification{
		Success:     true,
		SignatureID: id,
		IsValid:     valid,
		SignatureData: map[string]any{
			"signer_user_id":      sig["signer_user_id"],
			"signature_timestamp": sig["signature_timestamp"],
			"signature_text":      sig["signature_text"],
			"ip_address":          sig["ip_address"],
			"user_agent":          sig["user_agent"],
		},
		VerificationMessage: msg,
	}, nil
}

// AgreementSignatures lists the signatures and signature requests of an
// agreement.
type AgreementSignatures struct {
	Success           bool             `json:"success"`
	AgreementID       string           `json:"agreement_id"`
	Signatures        []map[string]any `json:"signatures"`
	SignatureRequests []map[string]any `json:"signature_requests"`
	TotalSignatures   int              `json:"total_signatures"`
	PendingRequests   int              `json:"pending_requests"`
}

func (s *Service) ForAgreement(ctx context.Context, agreementID string) (*AgreementSignatures, error) {
	if err := validate.Var("agreement_id", agreementID, "uuid"); err != nil {
		return nil, err
	}
	var sigs, reqs []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sigs, err = s.REST.From(signaturesTable).Select("*").Eq("agreement_id", agreementID).Rows(gctx)
		if err != nil {
			return fmt.Errorf("failed to load signatures: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		reqs, err = s.REST.From(requestsTable).Select("*").Eq("agreement_id", agreementID).Rows(gctx)
		if err != nil {
			return fmt.Errorf("failed to load signature requests: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pending := 0
	for _, r := range reqs {
		if r["status"] == "pending" {
			pending++
		}
	}
	return &AgreementSignatures{
		Success:           true,
		AgreementID:       agreementID,
		Signatures:        sigs,
		SignatureRequests: reqs,
		TotalSignatures:   len(sigs),
		PendingRequests:   pending,
	}, nil
}

// SignedStatus answers whether an agreement carries any signature.
type SignedStatus struct {
	Success         bool             `json:"success"`
	IsSigned        bool             `json:"is_signed"`
	SignatureCount  int              `json:"signature_count"`
	LatestSignature map[string]any   `json:"latest_signature,omitempty"`
	AllSignatures   []map[string]any `json:"all_signatures,omitempty"`
	Message         string           `json:"message"`
}

func (s *Service) AgreementSigned(ctx context.Context, agreementID string) (*SignedStatus, error) {
	if err := validate.Var("agreement_id", agreementID, "uuid"); err != nil {
		return nil, err
	}
	sigs, err := s.REST.From(signaturesTable).Select("*").Eq("agreement_id", agreementID).Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signatures: %w", err)
	}
	if len(sigs) == 0 {
		return &SignedStatus{Success: true, Message: "Agreement is not signed yet"}, nil
	}

	latest := sigs[0]
	latestAt, _ := parseTime(latest["signature_timestamp"])
	for _, sig := range sigs[1:] {
		if at, ok := parseTime(sig["signature_timestamp"]); ok && at.After(latestAt) {
			latest, latestAt = sig, at
		}
	}
	return &SignedStatus{
		Success:         true,
		IsSigned:        true,
		SignatureCount:  len(sigs),
		LatestSignature: summary(latest, "signer_user_id"),
		AllSignatures:   sigs,
		Message:         fmt.Sprintf("Agreement is already signed with %d signature(s)", len(sigs)),
	}, nil
}

// UserSignedStatus answers whether one user signed an agreement.
type UserSignedStatus struct {
	Success   bool           `json:"success"`
	HasSigned bool           `json:"has_signed"`
	Signature map[string]any `json:"signature,omitempty"`
	Message   string         `json:"message"`
}

func (s *Service) UserSigned(ctx context.Context, agreementID, userID string) (*UserSignedStatus, error) {
	if err := validate.Var("agreement_id", agreementID, "uuid"); err != nil {
		return nil, err
	}
	if err := validate.Var("user_id", userID, "uuid"); err != nil {
		return nil, err
	}
	sig, err := s.signatureOf(ctx, agreementID, userID)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return &UserSignedStatus{Success: true, Message: "User has not signed this agreement yet"}, nil
	}
	return &UserSignedStatus{
		Success:   true,
		HasSigned: true,
		Signature: summary(sig),
		Message:   alreadySignedMessage,
	}, nil
}

func (s *Service) signatureOf(ctx context.Context, agreementID, signerID string) (map[string]any, error) {
	rows, err := s.REST.From(signaturesTable).
		Select("*").
		Eq("agreement_id", agreementID).
		Eq("signer_user_id", signerID).
		Limit(1).
		Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signatures: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func summary(sig map[string]any, extra ...string) map[string]any {
	out := map[string]any{
		"signature_id":        sig["id"],
		"signature_text":      sig["signature_text"],
		"signature_timestamp": sig["signature_timestamp"],
		"signature_hash":      sig["signature_hash"],
	}
	for _, k := range extra {
		out[k] = sig[k]
	}
	return out
}

// Hash is the hex SHA-256 of "<agreement>:<signer>:<timestamp>" with the
// timestamp in RFC 3339 UTC at microsecond precision.
func Hash(agreementID, signerID string, at time.Time) string {
	return hashString(agreementID, signerID, at.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano))
}

func hashString(agreementID, signerID, stamp string) string {
	sum := sha256.Sum256([]byte(agreementID + ":" + signerID + ":" + stamp))
	return hex.EncodeToString(sum[:])
}

// hashMatches accepts the hash of the stored timestamp text as well as of
// its canonical form, since Postgres re-renders timestamptz on read.
func hashMatches(sig map[string]any) bool {
	stored, _ := sig["signature_hash"].(string)
	agreementID, _ := sig["agreement_id"].(string)
	signerID, _ := sig["signer_user_id"].(string)
	raw, _ := sig["signature_timestamp"].(string)
	if stored == "" {
		return false
	}
	if stored == hashString(agreementID, signerID, raw) {
		return true
	}
	at, ok := parseTime(raw)
	return ok && stored == Hash(agreementID, signerID, at)
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func verificationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
