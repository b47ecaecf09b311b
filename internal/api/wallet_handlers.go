package api

import (
	"net/http"
	"strings"

	"github.com/tokenswallet/wallet-backend/internal/middleware"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

// WalletResponse is returned by wallet provisioning
type WalletResponse struct {
	Chain   types.Chain `json:"chain"`
	Address string      `json:"address"`
}

// TransferRequest represents the API request to send tokens
type TransferRequest struct {
	ToAddress string  `json:"toAddress"`
	Amount    string  `json:"amount"`
	AssetID   *string `json:"assetId,omitempty"`
}

// handleWalletOperationsRouter routes /v1/wallets/{chain}[/balance|/transfers]
func (s *Server) handleWalletOperationsRouter(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/wallets/"), "/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" || len(pathParts) > 2 {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	chain, err := types.ParseChain(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.ChainNotSupported(pathParts[0]))
		return
	}

	if len(pathParts) == 1 {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w)
			return
		}
		s.handleProvisionWallet(w, r, chain)
		return
	}

	switch pathParts[1] {
	case "balance":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w)
			return
		}
		s.handleGetBalance(w, r, chain)
	case "transfers":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w)
			return
		}
		s.handleTransfer(w, r, chain)
	default:
		s.writeError(w, apperrors.ErrNotFound)
	}
}

// handleProvisionWallet returns the caller's address on chain, creating the wallet on first use
func (s *Server) handleProvisionWallet(w http.ResponseWriter, r *http.Request, chain types.Chain) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	address, err := s.accounts.ProvisionWallet(r.Context(), userID, chain)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, WalletResponse{Chain: chain, Address: address})
}

// handleGetBalance returns the free balance of ?address=, or of the caller's own wallet
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, chain types.Chain) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	balance, err := s.transfers.GetBalance(r.Context(), userID, chain, strings.TrimSpace(r.URL.Query().Get("address")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, balance)
}

// handleTransfer sends tokens from the caller's wallet on chain
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, chain types.Chain) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	var req TransferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.transfers.Transfer(r.Context(), types.TransferRequest{
		UserID:    userID,
		Chain:     chain,
		ToAddress: strings.TrimSpace(req.ToAddress),
		Amount:    strings.TrimSpace(req.Amount),
		AssetID:   req.AssetID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
