package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"qawakun/gateway/auth"
	"qawakun/gateway/middleware"
	"qawakun/issuance"
	"qawakun/proposals"
	"qawakun/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed json")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("encode response", "err", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Sessions ---

type loginRequest struct {
	Wallet    string `json:"wallet"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"signature"`

	// Static-credential login used by trusted frontends.
	User     string `json:"user"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Wallet) == "" {
		s.writeError(w, http.StatusBadRequest, "wallet required")
		return
	}
	switch {
	case req.User != "":
		if !s.credentialsMatch(req.User, req.Password) {
			s.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	default:
		if err := s.auth.VerifyLogin(req.Wallet, time.Unix(req.IssuedAt, 0), req.Signature); err != nil {
			switch {
			case errors.Is(err, auth.ErrStaleLogin):
				s.writeError(w, http.StatusUnauthorized, "login message expired")
			default:
				s.writeError(w, http.StatusUnauthorized, "signature verification failed")
			}
			return
		}
	}
	token, err := s.auth.Issue(req.Wallet)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "session issue failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(auth.TokenTTL.Seconds()),
	})
}

// --- Chat ---

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	wallet, ok := middleware.WalletFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "session required")
		return
	}
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.engine.Reply(r.Context(), walletIdentity(wallet), req.Message)
	if err != nil {
		s.logger.Error("chat failed", "wallet", wallet, "err", err)
		s.writeError(w, http.StatusBadGateway, "reply unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func walletIdentity(wallet string) string {
	return "wallet:" + strings.ToLower(wallet)
}

// --- Claims ---

type claimRequest struct {
	FID uint64 `json:"fid"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	wallet, _ := middleware.WalletFromContext(r.Context())
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	claim, err := s.workflow.Claim(r.Context(), wallet, req.FID, walletIdentity(wallet))
	if err != nil {
		s.writeClaimError(w, wallet, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, claim)
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	wallet, _ := middleware.WalletFromContext(r.Context())
	state, claim, err := s.workflow.Status(r.Context(), wallet, walletIdentity(wallet))
	if err != nil {
		s.logger.Error("claim status failed", "wallet", wallet, "err", err)
		s.writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	payload := map[string]interface{}{"state": state}
	if claim != nil {
		payload["claim"] = claim
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleClaimRecover(w http.ResponseWriter, r *http.Request) {
	wallet, _ := middleware.WalletFromContext(r.Context())
	claim, err := s.workflow.Resume(r.Context(), wallet)
	if err != nil {
		if errors.Is(err, issuance.ErrNothingPending) {
			s.writeError(w, http.StatusNotFound, "nothing to recover")
			return
		}
		s.writeClaimError(w, wallet, err)
		return
	}
	s.writeJSON(w, http.StatusOK, claim)
}

func (s *Server) writeClaimError(w http.ResponseWriter, wallet string, err error) {
	var engErr *issuance.InsufficientEngagementError
	switch {
	case errors.As(err, &engErr):
		s.writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":          "insufficient engagement",
			"turns":          engErr.Turns,
			"turns_required": engErr.Required,
		})
	case errors.Is(err, issuance.ErrAlreadyClaimed):
		s.writeError(w, http.StatusConflict, "already claimed")
	case errors.Is(err, issuance.ErrTransferFailed):
		s.writeError(w, http.StatusBadGateway, "transfer failed, use recover")
	default:
		s.logger.Error("claim failed", "wallet", wallet, "err", err)
		s.writeError(w, http.StatusInternalServerError, "claim failed")
	}
}

// --- Proposals ---

type proposalRequest struct {
	FID            uint64   `json:"fid"`
	ProposalType   string   `json:"proposal_type"`
	Description    string   `json:"description"`
	Flexibility    int      `json:"flexibility"`
	Contact        string   `json:"contact"`
	MessageHistory []string `json:"message_history"`
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	wallet, _ := middleware.WalletFromContext(r.Context())
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.manager.Submit(store.Proposal{
		Wallet:         wallet,
		FID:            req.FID,
		ProposalType:   req.ProposalType,
		Description:    req.Description,
		Flexibility:    req.Flexibility,
		Contact:        req.Contact,
		MessageHistory: req.MessageHistory,
	})
	if err != nil {
		if errors.Is(err, proposals.ErrInvalidType) {
			s.writeError(w, http.StatusBadRequest, "unknown proposal type")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	p, err := s.manager.Get(wallet)
	if err != nil {
		if errors.Is(err, proposals.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no proposal for wallet")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProposals(w http.ResponseWriter, _ *http.Request) {
	list, err := s.manager.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleVotingProposals(w http.ResponseWriter, _ *http.Request) {
	list, err := s.manager.ListByStatus(store.ProposalStatusInVoting)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePendingProposals(w http.ResponseWriter, _ *http.Request) {
	pending := make([]store.Proposal, 0)
	for _, status := range []int{store.ProposalStatusNew, store.ProposalStatusInReview} {
		list, err := s.manager.ListByStatus(status)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		pending = append(pending, list...)
	}
	s.writeJSON(w, http.StatusOK, pending)
}

type voteRequest struct {
	FID uint64 `json:"fid"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	voter, _ := middleware.WalletFromContext(r.Context())
	proposalWallet := chi.URLParam(r, "wallet")
	var req voteRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.manager.RecordVote(r.Context(), proposalWallet, voter, req.FID, walletIdentity(voter))
	if err != nil {
		switch {
		case errors.Is(err, proposals.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "no proposal for wallet")
		case errors.Is(err, proposals.ErrAlreadyVoted):
			s.writeError(w, http.StatusConflict, "already voted")
		default:
			var engErr *issuance.InsufficientEngagementError
			if errors.As(err, &engErr) {
				s.writeJSON(w, http.StatusForbidden, map[string]interface{}{
					"error":          "insufficient engagement",
					"turns":          engErr.Turns,
					"turns_required": engErr.Required,
				})
				return
			}
			s.logger.Error("vote failed", "proposal", proposalWallet, "voter", voter, "err", err)
			s.writeError(w, http.StatusInternalServerError, "vote failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type statusRequest struct {
	Status int `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.manager.UpdateStatus(wallet, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, proposals.ErrInvalidStatus):
			s.writeError(w, http.StatusBadRequest, "unknown status")
		case errors.Is(err, proposals.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "no proposal for wallet")
		default:
			s.writeError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type elevateRequest struct {
	Wallet string `json:"wallet"`
}

func (s *Server) handleElevate(w http.ResponseWriter, r *http.Request) {
	var req elevateRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.manager.Elevate(r.Context(), req.Wallet)
	if err != nil {
		switch {
		case errors.Is(err, proposals.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "no proposal for wallet")
		case errors.Is(err, proposals.ErrInvalidType):
			s.writeError(w, http.StatusBadRequest, "unknown proposal type")
		default:
			s.logger.Error("elevate failed", "wallet", req.Wallet, "err", err)
			s.writeError(w, http.StatusBadGateway, "on-chain mirror failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// --- Governance views ---

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.MonthlySummary(r.Context())
	if err != nil {
		s.logger.Error("monthly summary failed", "err", err)
		s.writeError(w, http.StatusBadGateway, "chain read failed")
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleActiveProposals(w http.ResponseWriter, r *http.Request) {
	ids, err := s.manager.ActiveProposalIDs(r.Context())
	if err != nil {
		s.logger.Error("active proposals failed", "err", err)
		s.writeError(w, http.StatusBadGateway, "chain read failed")
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"proposal_ids": out})
}

func (s *Server) handleExecuteMonthly(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ExecuteMonthly(r.Context()); err != nil {
		s.logger.Error("monthly selection failed", "err", err)
		s.writeError(w, http.StatusBadGateway, "monthly selection failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleWinning(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.WinningSummary(r.Context())
	if err != nil {
		s.logger.Error("winning summary failed", "err", err)
		s.writeError(w, http.StatusBadGateway, "chain read failed")
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

type governanceVoteRequest struct {
	ProposalID int64 `json:"proposal_id"`
	Support    bool  `json:"support"`
}

func (s *Server) handleGovernanceVote(w http.ResponseWriter, r *http.Request) {
	var req governanceVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.manager.VoteOnChain(r.Context(), big.NewInt(req.ProposalID), req.Support); err != nil {
		s.logger.Error("on-chain vote failed", "proposal_id", req.ProposalID, "err", err)
		s.writeError(w, http.StatusBadGateway, "on-chain vote failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// --- Narrative content ---

func (s *Server) handleGetContext(w http.ResponseWriter, _ *http.Request) {
	text, err := s.store.ContextText()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, "context unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"context": text})
}

type contextRequest struct {
	Context string `json:"context"`
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.PutContextText(req.Context); err != nil {
		s.writeError(w, http.StatusInternalServerError, "context update failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGetGameOptions(w http.ResponseWriter, _ *http.Request) {
	raw, err := s.store.GameOptions()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			raw = defaultGameOptions
		} else {
			s.writeError(w, http.StatusInternalServerError, "game options unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleSetGameOptions(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !json.Valid(raw) {
		s.writeError(w, http.StatusBadRequest, "game options must be json")
		return
	}
	if err := s.store.PutGameOptions(raw); err != nil {
		s.writeError(w, http.StatusInternalServerError, "game options update failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
