package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
)

const maxBodyBytes = 1 << 20

const (
	msgResetSent     = "You will receive an email with instructions on how to reset your password in a few minutes."
	msgResetNotFound = "Email address not found in our records."
	msgInvalidToken  = "Invalid token"
	msgUnavailable   = "Service temporarily unavailable, please retry."
)

type signInRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	MFAToken     string `json:"mfa_token"`
	OTPCode      string `json:"otp_code"`
	BackupCode   string `json:"backup_code"`
	SSOAuthToken string `json:"sso_auth_token"`
}

type passwordRequest struct {
	Email string `json:"email"`
}

type passwordUpdateRequest struct {
	ResetPasswordToken   string `json:"reset_password_token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type sessionData struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.log(r).InfoContext(r.Context(), "sign-in body rejected", "error", err)
		s.respondLoginError(w, r, authgate.ErrInvalidCredentials)
		return
	}

	res, err := s.engine.Login(r.Context(), authgate.LoginRequest{
		Email:        body.Email,
		Password:     body.Password,
		MFAToken:     body.MFAToken,
		OTPCode:      body.OTPCode,
		BackupCode:   body.BackupCode,
		SSOAuthToken: body.SSOAuthToken,
	})
	if err != nil {
		s.respondLoginError(w, r, err)
		return
	}

	if res.Outcome == authgate.OutcomeChallengeIssued {
		respondWithJSON(w, http.StatusPartialContent, map[string]any{
			"mfa_required": true,
			"mfa_token":    res.Challenge.Token,
		})
		return
	}
	respondWithSession(w, res.Session)
}

func (s *Server) respondLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch authgate.RejectReason(err) {
	case authgate.ReasonInvalidCredentials:
		respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid login credentials. Please try again.", Reason: authgate.ReasonInvalidCredentials})
	case authgate.ReasonInvalidToken:
		respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid or expired token.", Reason: authgate.ReasonInvalidToken})
	case authgate.ReasonInvalidCode:
		respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid verification code.", Reason: authgate.ReasonInvalidCode})
	case authgate.ReasonAccountInactive:
		respondWithJSON(w, http.StatusForbidden, errorBody{Error: "Account is not active.", Reason: authgate.ReasonAccountInactive})
	default:
		s.respondUnavailable(w, r, err)
	}
}

func (s *Server) respondUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	s.log(r).ErrorContext(r.Context(), "request failed", "error", err)
	respondWithJSON(w, http.StatusServiceUnavailable, errorBody{Error: msgUnavailable, Reason: "unavailable"})
}

func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	target := s.opts.LoginPageURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "User was not found or was not logged in."})
		return
	}

	err := s.engine.Logout(r.Context(), token)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, authgate.ErrSessionInvalid):
		respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "User was not found or was not logged in."})
	default:
		s.respondUnavailable(w, r, err)
	}
}

func (s *Server) handlePasswordRequest(w http.ResponseWriter, r *http.Request) {
	var body passwordRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body", Reason: "invalid_request"})
		return
	}

	err := s.engine.RequestPasswordReset(r.Context(), body.Email)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, map[string]string{"message": msgResetSent})
	case errors.Is(err, authgate.ErrResetEmailNotFound):
		respondWithJSON(w, http.StatusNotFound, map[string]string{"message": msgResetNotFound})
	default:
		s.respondUnavailable(w, r, err)
	}
}

func (s *Server) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	var body passwordUpdateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body", Reason: "invalid_request"})
		return
	}

	sess, err := s.engine.CompletePasswordReset(r.Context(), authgate.ResetRequest{
		Token:                body.ResetPasswordToken,
		Password:             body.Password,
		PasswordConfirmation: body.PasswordConfirmation,
	})
	if err != nil {
		if authgate.RejectReason(err) != "" || errors.Is(err, authgate.ErrPasswordConfirmation) {
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"message":      msgInvalidToken,
				"redirect_url": "/",
			})
			return
		}
		s.respondUnavailable(w, r, err)
		return
	}
	respondWithSession(w, sess)
}

func (s *Server) handleExternalToken(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := middleware.AccessTokenFromContext(r.Context())
	token, err := s.engine.ExternalIdentityToken(r.Context(), accessToken)
	if err != nil {
		if errors.Is(err, authgate.ErrSessionInvalid) {
			respondWithJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		s.respondUnavailable(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.log(r).WarnContext(r.Context(), "health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondWithSession writes the session payload and echoes the access token
// in the access-token and Authorization headers.
func respondWithSession(w http.ResponseWriter, sess *authgate.Session) {
	w.Header().Set("access-token", sess.AccessToken)
	w.Header().Set("Authorization", "Bearer "+sess.AccessToken)
	respondWithJSON(w, http.StatusOK, map[string]sessionData{"data": {
		ID:          sess.UserID,
		Email:       sess.Email,
		Name:        sess.Name,
		SessionID:   sess.SessionID,
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.ExpiresAt.UTC(),
	}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
