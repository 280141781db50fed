package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teemow/accountbroker/internal/credentials"
)

// AccountsResponse is returned by GET /api/accounts.
type AccountsResponse struct {
	Accounts []credentials.AccountStatus `json:"accounts"`
	Total    int                         `json:"total"`
}

// AuthenticateRequest is the optional body of POST /api/accounts/authenticate.
type AuthenticateRequest struct {
	Email string `json:"email"`
}

// AuthenticateResponse carries the consent URL of a new attempt.
type AuthenticateResponse struct {
	AuthURL   string    `json:"authUrl"`
	State     string    `json:"state"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "accountbroker",
		"endpoints": []string{
			"GET /api/accounts",
			"POST /api/accounts/authenticate",
			"DELETE /api/accounts/{email}",
			"GET /api/accounts/{email}/profile",
			"GET " + CallbackPath,
		},
	})
}

func (s *HTTPServer) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.sc.Credentials().Accounts(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts, Total: len(accounts)})
}

func (s *HTTPServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
			return
		}
	}

	auth, err := s.sc.Flows().Begin(r.Context(), req.Email)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AuthenticateResponse{
		AuthURL:   auth.URL,
		State:     auth.State,
		Email:     auth.Account,
		ExpiresAt: auth.ExpiresAt,
		Message:   "Please visit the authorization URL to complete authentication",
	})
}

func (s *HTTPServer) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	account := credentials.NormalizeAccount(r.PathValue("email"))
	if err := s.sc.Credentials().Remove(r.Context(), account); err != nil {
		s.writeFailure(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Successfully removed account: %s", account),
	})
}

// handleProfile calls the provider with the account's managed credential.
// Provider failures other than credential errors surface as 502.
func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	profiles := s.sc.Profiles()
	if profiles == nil {
		writeError(w, http.StatusNotImplemented, "profile lookups are not configured", "")
		return
	}

	account := credentials.NormalizeAccount(r.PathValue("email"))
	if account == "" {
		writeError(w, http.StatusBadRequest, credentials.ErrInvalidAccount.Error(), "")
		return
	}

	profile, err := profiles.Profile(r.Context(), account)
	if err != nil {
		s.writeFailure(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
