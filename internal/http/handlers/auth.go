package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/tfchat/server/internal/apperr"
	"github.com/tfchat/server/internal/verify"
)

// AuthHandler handles the phone verification endpoints.
type AuthHandler struct {
	verifier *verify.Verifier
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(verifier *verify.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// requestCodeRequest is the body for POST /auth/request_otp.
type requestCodeRequest struct {
	Phone string `json:"phone"`
}

// requestCodeResponse is the response for request_otp.
type requestCodeResponse struct {
	OK         bool `json:"ok"`
	TTLSeconds int  `json:"ttl"`
}

// verifyCodeRequest is the body for POST /auth/verify_otp.
type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"otp"`
}

// verifyCodeResponse is the response for verify_otp.
type verifyCodeResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
}

// HandleRequestCode handles POST /auth/request_otp.
func (h *AuthHandler) HandleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "phone is required")
		return
	}

	ttl, err := h.verifier.RequestCode(r.Context(), req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotAuthorized):
			respondWithError(w, http.StatusForbidden, "phone not whitelisted")
		case errors.Is(err, apperr.ErrRateLimited):
			respondWithError(w, http.StatusTooManyRequests, "too many code requests, try later")
		case errors.Is(err, apperr.ErrInvalidArgument):
			respondWithError(w, http.StatusBadRequest, "phone is required")
		default:
			log.Printf("request code failed: %v", err)
			respondWithError(w, http.StatusInternalServerError, "failed to request code")
		}
		return
	}

	respondJSON(w, http.StatusOK, requestCodeResponse{OK: true, TTLSeconds: int(ttl.Seconds())})
}

// HandleVerifyCode handles POST /auth/verify_otp. Lockout, missing
// challenge, and wrong code share one external message so the response
// cannot be scripted against to probe verification state; the internal kind
// is logged.
func (h *AuthHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if req.Phone == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "phone and otp are required")
		return
	}

	token, err := h.verifier.VerifyCode(r.Context(), req.Phone, req.Code, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrExpired):
			respondWithError(w, http.StatusUnauthorized, "code expired")
		case errors.Is(err, apperr.ErrLockedOut),
			errors.Is(err, apperr.ErrNoChallenge),
			errors.Is(err, apperr.ErrInvalidCode):
			log.Printf("verification rejected: %v", err)
			respondWithError(w, http.StatusUnauthorized, "invalid or expired code")
		case errors.Is(err, apperr.ErrInvalidArgument):
			respondWithError(w, http.StatusBadRequest, "phone and otp are required")
		default:
			log.Printf("verification failed: %v", err)
			respondWithError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, verifyCodeResponse{OK: true, Token: token})
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// clientIP extracts the client IP from the request.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}
