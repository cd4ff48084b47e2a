// Copyright 2026 The Authgrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authgrid/authgrid/internal/mfa"
)

// ListFactors handles GET /mfa/factors
// @Summary List MFA Factors
// @Description Returns the caller's enrolled factors without secret material
// @Tags MFA
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /mfa/factors [get]
func (h *Handler) ListFactors(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	factors, err := h.mfaService.Factors(r.Context(), identity.Subject)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"factors": factors})
}

// EnrollFactor handles POST /mfa/enroll. TOTP enrolment returns the seed
// and provisioning URI once; delivery factors return the pending factor.
// @Summary Enroll MFA Factor
// @Description Enrolls a TOTP, SMS or email factor for the authenticated subject
// @Tags MFA
// @Accept json
// @Produce json
// @Param body body object true "Factor kind and optional destination"
// @Success 201 {object} mfa.TOTPEnrollment
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /mfa/enroll [post]
func (h *Handler) EnrollFactor(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	var req struct {
		Kind        mfa.Kind `json:"kind"`
		Destination string   `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Kind {
	case mfa.KindTOTP:
		enrollment, err := h.mfaService.EnrollTOTP(r.Context(), identity.Subject)
		if err != nil {
			h.respondMFAError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, enrollment)
	case mfa.KindSMS, mfa.KindEmail:
		factor, err := h.mfaService.EnrollDelivery(r.Context(), identity.Subject, req.Kind, req.Destination)
		if err != nil {
			h.respondMFAError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]any{
			"factor_id": factor.ID,
			"kind":      factor.Kind,
		})
	default:
		respondError(w, http.StatusBadRequest, "unsupported factor kind")
	}
}

// GenerateBackupCodes handles POST /mfa/backup-codes. The clear codes
// appear in this response and nowhere else.
// @Summary Generate Backup Codes
// @Description Replaces the subject's recovery codes and returns the new set once
// @Tags MFA
// @Produce json
// @Success 201 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /mfa/backup-codes [post]
func (h *Handler) GenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	codes, err := h.mfaService.GenerateBackupCodes(r.Context(), identity.Subject)
	if err != nil {
		h.respondMFAError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"backup_codes": codes})
}

// CreateChallenge handles POST /mfa/challenge
// @Summary Create MFA Challenge
// @Description Opens a verification challenge against an enrolled factor
// @Tags MFA
// @Accept json
// @Produce json
// @Param body body object true "Factor kind"
// @Success 201 {object} mfa.ChallengeInfo
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /mfa/challenge [post]
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	var req struct {
		Kind mfa.Kind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !mfa.ValidKind(req.Kind) {
		respondError(w, http.StatusBadRequest, "unsupported factor kind")
		return
	}

	info, err := h.mfaService.CreateChallenge(r.Context(), identity.Subject, req.Kind)
	if err != nil {
		h.respondMFAError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

// VerifyChallenge handles POST /mfa/verify. Unknown and foreign challenges
// are indistinguishable from a wrong code; expiry and lockout of the
// caller's own challenge report mfa_expired and mfa_locked.
// @Summary Verify MFA Challenge
// @Description Submits a code against an open challenge
// @Tags MFA
// @Accept json
// @Produce json
// @Param body body object true "Challenge ID and code"
// @Success 200 {object} mfa.VerifyResult
// @Failure 401 {object} mfa.VerifyResult
// @Router /mfa/verify [post]
func (h *Handler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "challenge_id and code are required")
		return
	}

	result, err := h.mfaService.Verify(r.Context(), req.ChallengeID, identity.Subject, req.Code)
	if err != nil {
		h.respondMFAError(w, err)
		return
	}
	if !result.Verified {
		respondJSON(w, http.StatusUnauthorized, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CancelChallenge handles DELETE /mfa/challenge/{id}
// @Summary Cancel MFA Challenge
// @Description Abandons an open challenge belonging to the caller
// @Tags MFA
// @Param id path string true "Challenge ID"
// @Success 204 {string} string "No Content"
// @Failure 404 {object} map[string]string
// @Router /mfa/challenge/{id} [delete]
func (h *Handler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if err := h.mfaService.Cancel(r.Context(), chi.URLParam(r, "id"), identity.Subject); err != nil {
		h.respondMFAError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mfa.ErrChallengeExpired):
		respondError(w, http.StatusUnauthorized, "mfa_expired")
	case errors.Is(err, mfa.ErrChallengeLocked):
		respondError(w, http.StatusUnauthorized, "mfa_locked")
	case errors.Is(err, mfa.ErrVerificationFailed):
		respondError(w, http.StatusUnauthorized, "mfa_invalid")
	case errors.Is(err, mfa.ErrFactorNotFound), errors.Is(err, mfa.ErrChallengeNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, mfa.ErrFactorExists):
		respondError(w, http.StatusConflict, "factor already enrolled")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
