package handlers

import (
	"mime"
	"net/http"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/signatures"
	"github.com/go-chi/chi/v5"
)

func (a *API) signatureRoutes(r chi.Router) {
	r.Post("/create-signature-request", a.createSignatureRequest)
	r.Post("/sign-agreement", a.signAgreement)
	r.Get("/verify-signature/{id}", a.verifySignature)
	r.Get("/agreement-signatures/{agreement_id}", a.agreementSignatures)
	r.Get("/check-agreement-signed/{agreement_id}", a.checkAgreementSigned)
	r.Get("/check-user-signed/{agreement_id}/{user_id}", a.checkUserSigned)
}

func (a *API) createSignatureRequest(w http.ResponseWriter, r *http.Request) {
	var in signatures.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	if in.IPAddress == "" {
		in.IPAddress = GetIPFromRequest(r)
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}

	res, err := a.Signatures.CreateRequest(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadySigned {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// signAgreement accepts either a JSON body or a submitted form.
func (a *API) signAgreement(w http.ResponseWriter, r *http.Request) {
	var in signatures.SignInput
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := parseForm(r); err != nil {
			a.writeError(w, r, &apierror.Error{Kind: apierror.KindValidation, Message: "Invalid form body", Err: err})
			return
		}
		in = signatures.SignInput{
			AgreementID:      r.PostFormValue("agreement_id"),
			SignatureText:    r.PostFormValue("signature_text"),
			VerificationCode: r.PostFormValue("verification_code"),
		}
	} else if err := decodeJSON(w, r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.Signatures.Sign(r.Context(), auth.UserIDFromContext(r.Context()), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) verifySignature(w http.ResponseWriter, r *http.Request) {
	res, err := a.Signatures.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) agreementSignatures(w http.ResponseWriter, r *http.Request) {
	res, err := a.Signatures.ForAgreement(r.Context(), chi.URLParam(r, "agreement_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) checkAgreementSigned(w http.ResponseWriter, r *http.Request) {
	res, err := a.Signatures.AgreementSigned(r.Context(), chi.URLParam(r, "agreement_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) checkUserSigned(w http.ResponseWriter, r *http.Request) {
	res, err := a.Signatures.UserSigned(r.Context(), chi.URLParam(r, "agreement_id"), chi.URLParam(r, "user_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func isForm(r *http.Request) bool {
	mt := mediaType(r)
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

func parseForm(r *http.Request) error {
	if mediaType(r) == "multipart/form-data" {
		return r.ParseMultipartForm(maxBodyBytes)
	}
	return r.ParseForm()
}
