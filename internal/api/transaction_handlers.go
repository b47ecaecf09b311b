package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tokenswallet/wallet-backend/internal/middleware"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
	"github.com/tokenswallet/wallet-backend/pkg/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// TransferByEmailRequest is sent by trusted internal callers
type TransferByEmailRequest struct {
	Email     string `json:"email"`
	Chain     string `json:"chain,omitempty"`
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
}

// TransferByEmailResponse carries only the submitted hash
type TransferByEmailResponse struct {
	Hash string `json:"hash"`
}

// handleListTransactions lists receipts sent from or to ?address=.
// Without an address the caller's own public key is used.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.writeError(w, apperrors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxListLimit)
	}

	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		account, err := s.accounts.GetAccount(r.Context(), userID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if pk := account.PublicKey(); pk != nil {
			address = *pk
		}
	}

	receipts, err := s.transfers.ListTransactions(r.Context(), address, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if receipts == nil {
		receipts = []*types.TransactionReceipt{}
	}

	s.writeJSON(w, http.StatusOK, receipts)
}

// handleTransferByEmail sends tokens on behalf of the account owning email
func (s *Server) handleTransferByEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req TransferByEmailRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	chain := types.ChainEthereum
	if req.Chain != "" {
		parsed, err := types.ParseChain(req.Chain)
		if err != nil {
			s.writeError(w, apperrors.ChainNotSupported(req.Chain))
			return
		}
		chain = parsed
	}

	result, err := s.transfers.TransferByEmail(r.Context(),
		strings.ToLower(strings.TrimSpace(req.Email)), chain,
		strings.TrimSpace(req.ToAddress), strings.TrimSpace(req.Amount))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, TransferByEmailResponse{Hash: result.Hash})
}
