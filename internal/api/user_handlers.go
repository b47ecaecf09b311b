package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tokenswallet/wallet-backend/internal/app"
	"github.com/tokenswallet/wallet-backend/internal/middleware"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	DisplayName        *string   `json:"displayName,omitempty"`
	PublicKey          *string   `json:"publicKey"`
	EthereumAddress    *string   `json:"ethereumAddress,omitempty"`
	SubstratePublicKey *string   `json:"substratePublicKey,omitempty"`
	CreatedAt          int64     `json:"createdAt"` // Unix timestamp in milliseconds
}

// SessionResponse is returned by register and login
type SessionResponse struct {
	AccountResponse
	Token string `json:"token"`
}

// RegisterRequest represents the registration request
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Chain    string `json:"chain,omitempty"`
}

// LoginRequest represents the login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates an account, provisions its first wallet and starts a session
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var chain types.Chain
	if req.Chain != "" {
		parsed, err := types.ParseChain(req.Chain)
		if err != nil {
			s.writeError(w, apperrors.ChainNotSupported(req.Chain))
			return
		}
		chain = parsed
	}

	account, err := s.accounts.Register(r.Context(), app.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Chain:    chain,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.startSession(w, r, http.StatusCreated, account)
}

// handleLogin verifies credentials and starts a session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	account, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.startSession(w, r, http.StatusOK, account)
}

// handleLogout clears the session cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated account
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, convertAccountToResponse(account))
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, status int, account *types.Account) {
	token, err := s.authMiddleware.IssueToken(account.ID, account.Email)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.authMiddleware.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	s.writeJSON(w, status, SessionResponse{
		AccountResponse: convertAccountToResponse(account),
		Token:           token,
	})
}

func convertAccountToResponse(a *types.Account) AccountResponse {
	return AccountResponse{
		ID:                 a.ID,
		Email:              a.Email,
		DisplayName:        a.DisplayName,
		PublicKey:          a.PublicKey(),
		EthereumAddress:    a.EthereumAddress,
		SubstratePublicKey: a.SubstrateAddress,
		CreatedAt:          a.CreatedAt.UnixMilli(),
	}
}
