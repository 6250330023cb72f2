// Package proposals manages the community proposal lifecycle and mirrors
// approved proposals onto the governance contract.
package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"qawakun/issuance"
	"qawakun/ledger"
	"qawakun/store"
)

var (
	// ErrNotFound is returned when no proposal exists for a wallet.
	ErrNotFound = errors.New("proposals: not found")
	// ErrAlreadyVoted is returned when a wallet votes twice on a proposal.
	ErrAlreadyVoted = errors.New("proposals: already voted")
	// ErrInvalidType is returned for a proposal type outside the category set.
	ErrInvalidType = errors.New("proposals: invalid proposal type")
	// ErrInvalidStatus is returned for an unknown lifecycle status code.
	ErrInvalidStatus = errors.New("proposals: invalid status")
)

// proposalTypeCodes maps category names to the contract's enum values.
var proposalTypeCodes = map[string]uint8{
	"WORLD":      0,
	"CHARACTERS": 1,
	"LAWS":       2,
}

// TypeCode translates a category name to its on-chain enum value.
func TypeCode(proposalType string) (uint8, error) {
	code, ok := proposalTypeCodes[strings.ToUpper(strings.TrimSpace(proposalType))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, proposalType)
	}
	return code, nil
}

// GovChain is the governance contract surface the manager drives.
type GovChain interface {
	IndexProposal(ctx context.Context, proposer common.Address, proposalType uint8, description, conversation string, timestamp *big.Int) (*gethtypes.Receipt, error)
	Vote(ctx context.Context, proposalID *big.Int, support bool) (*gethtypes.Receipt, error)
	ExecuteMonthlySelection(ctx context.Context) (*gethtypes.Receipt, error)
	GetProposal(ctx context.Context, proposalID *big.Int) (ledger.ContractProposal, error)
	ActiveProposals(ctx context.Context) ([]*big.Int, error)
	MonthlyProposals(ctx context.Context, month *big.Int) ([]*big.Int, error)
	WinningProposals(ctx context.Context, month *big.Int) ([]*big.Int, error)
}

// Minter issues the credential paired with each vote.
type Minter interface {
	Claim(ctx context.Context, wallet string, fid uint64, identity string) (*store.ClaimRecord, error)
}

// Manager owns proposal records and their voting state.
type Manager struct {
	store  *store.Store
	chain  GovChain
	minter Minter
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewManager wires the proposal store, governance contract and the
// credential minter used for vote pairing.
func NewManager(st *store.Store, chain GovChain, minter Minter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		chain:  chain,
		minter: minter,
		logger: logger.With("component", "proposals"),
		nowFn:  time.Now,
	}
}

// Submit validates and stores a proposal. A wallet holds one proposal slot;
// resubmitting replaces the previous record and resets voting state.
func (m *Manager) Submit(p store.Proposal) (*store.Proposal, error) {
	if strings.TrimSpace(p.Wallet) == "" {
		return nil, errors.New("proposals: wallet required")
	}
	if _, err := TypeCode(p.ProposalType); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Description) == "" {
		return nil, errors.New("proposals: description required")
	}
	if p.Flexibility < 1 || p.Flexibility > 10 {
		return nil, errors.New("proposals: flexibility must be between 1 and 10")
	}
	p.Status = store.ProposalStatusNew
	p.Voters = nil
	p.Votes = 0
	p.VoteNFTs = nil
	if strings.TrimSpace(p.Timestamp) == "" {
		p.Timestamp = m.nowFn().UTC().Format(time.RFC3339)
	}
	if err := m.store.PutProposal(p); err != nil {
		return nil, err
	}
	m.logger.Info("proposal submitted", "wallet", p.Wallet, "type", p.ProposalType)
	return &p, nil
}

// Get returns the proposal stored for a wallet.
func (m *Manager) Get(wallet string) (*store.Proposal, error) {
	p, err := m.store.GetProposal(wallet)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns every stored proposal.
func (m *Manager) List() ([]store.Proposal, error) {
	return m.store.ListProposals()
}

// ListByStatus filters stored proposals to one lifecycle phase.
func (m *Manager) ListByStatus(status int) ([]store.Proposal, error) {
	if !store.ValidProposalStatus(status) {
		return nil, ErrInvalidStatus
	}
	all, err := m.store.ListProposals()
	if err != nil {
		return nil, err
	}
	var out []store.Proposal
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateStatus moves a proposal to another lifecycle phase.
func (m *Manager) UpdateStatus(wallet string, status int) (*store.Proposal, error) {
	if !store.ValidProposalStatus(status) {
		return nil, ErrInvalidStatus
	}
	p, err := m.Get(wallet)
	if err != nil {
		return nil, err
	}
	p.Status = status
	if err := m.store.PutProposal(*p); err != nil {
		return nil, err
	}
	m.logger.Info("proposal status updated", "wallet", wallet, "status", status)
	return p, nil
}

// RecordVote registers an off-chain vote. The vote is paired with a
// credential for the voter: it only counts once the voter holds one, so a
// failed issuance leaves the proposal untouched.
func (m *Manager) RecordVote(ctx context.Context, proposalWallet, voterWallet string, voterFID uint64, voterIdentity string) (*store.Proposal, error) {
	p, err := m.Get(proposalWallet)
	if err != nil {
		return nil, err
	}
	if p.HasVoter(voterWallet) {
		return nil, ErrAlreadyVoted
	}

	claim, err := m.minter.Claim(ctx, voterWallet, voterFID, voterIdentity)
	if err != nil {
		// A voter who already holds a credential pairs the vote with it.
		if !errors.Is(err, issuance.ErrAlreadyClaimed) {
			return nil, fmt.Errorf("proposals: vote credential: %w", err)
		}
		existing, lookupErr := m.store.GetClaim(voterWallet)
		if lookupErr != nil {
			return nil, fmt.Errorf("proposals: vote credential: %w", err)
		}
		claim = existing
	}

	p.Voters = append(p.Voters, voterWallet)
	p.Votes++
	p.VoteNFTs = append(p.VoteNFTs, store.VoteNFT{
		TokenID:     claim.TokenID,
		VoterWallet: voterWallet,
		Timestamp:   m.nowFn().UTC().Format(time.RFC3339),
	})
	if err := m.store.PutProposal(*p); err != nil {
		return nil, err
	}
	m.logger.Info("vote recorded", "proposal", proposalWallet, "voter", voterWallet, "votes", p.Votes)
	return p, nil
}

// Elevate moves a proposal into voting and mirrors it onto the governance
// contract.
func (m *Manager) Elevate(ctx context.Context, wallet string) (*store.Proposal, error) {
	p, err := m.Get(wallet)
	if err != nil {
		return nil, err
	}
	code, err := TypeCode(p.ProposalType)
	if err != nil {
		return nil, err
	}
	conversation, err := json.Marshal(map[string]interface{}{
		"messages":    p.MessageHistory,
		"contact":     p.Contact,
		"flexibility": p.Flexibility,
	})
	if err != nil {
		return nil, fmt.Errorf("proposals: encode conversation: %w", err)
	}
	receipt, err := m.chain.IndexProposal(ctx, common.HexToAddress(p.Wallet), code, p.Description, string(conversation), timestampToUnix(p.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("proposals: mirror on-chain: %w", err)
	}

	p.Status = store.ProposalStatusInVoting
	if err := m.store.PutProposal(*p); err != nil {
		return nil, err
	}
	m.logger.Info("proposal elevated", "wallet", wallet, "tx", receipt.TxHash.Hex())
	return p, nil
}

// VoteOnChain casts an operator vote on a mirrored proposal.
func (m *Manager) VoteOnChain(ctx context.Context, proposalID *big.Int, support bool) error {
	if _, err := m.chain.Vote(ctx, proposalID, support); err != nil {
		return fmt.Errorf("proposals: on-chain vote: %w", err)
	}
	return nil
}

// ExecuteMonthly triggers the contract's monthly winner selection.
func (m *Manager) ExecuteMonthly(ctx context.Context) error {
	receipt, err := m.chain.ExecuteMonthlySelection(ctx)
	if err != nil {
		return fmt.Errorf("proposals: monthly selection: %w", err)
	}
	m.logger.Info("monthly selection executed", "tx", receipt.TxHash.Hex())
	return nil
}

// ActiveProposalIDs lists the ids of proposals open for on-chain voting.
func (m *Manager) ActiveProposalIDs(ctx context.Context) ([]*big.Int, error) {
	ids, err := m.chain.ActiveProposals(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposals: read active: %w", err)
	}
	return ids, nil
}

// Summary is the API-facing shape of an on-chain proposal.
type Summary struct {
	ID             string `json:"id"`
	Proposer       string `json:"proposer"`
	ProposalType   string `json:"proposal_type"`
	Description    string `json:"description"`
	Conversation   string `json:"conversation"`
	Timestamp      int64  `json:"timestamp"`
	ApprovalCount  int64  `json:"approval_count"`
	RejectionCount int64  `json:"rejection_count"`
	Status         uint8  `json:"status"`
}

// MonthlySummary aggregates the current month's on-chain proposals. Ids
// whose record fails to load or convert are skipped so one bad entry never
// empties the report.
func (m *Manager) MonthlySummary(ctx context.Context) ([]Summary, error) {
	month := big.NewInt(int64(m.nowFn().UTC().Month()))
	ids, err := m.chain.MonthlyProposals(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("proposals: read monthly: %w", err)
	}
	return m.summarize(ctx, ids), nil
}

// WinningSummary lists the winners of every month's selection so far this
// year.
func (m *Manager) WinningSummary(ctx context.Context) ([]Summary, error) {
	current := int64(m.nowFn().UTC().Month())
	var out []Summary
	for month := int64(1); month <= current; month++ {
		ids, err := m.chain.WinningProposals(ctx, big.NewInt(month))
		if err != nil {
			return nil, fmt.Errorf("proposals: read winners for month %d: %w", month, err)
		}
		out = append(out, m.summarize(ctx, ids)...)
	}
	return out, nil
}

func (m *Manager) summarize(ctx context.Context, ids []*big.Int) []Summary {
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		p, err := m.chain.GetProposal(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unreadable proposal", "id", id, "err", err)
			continue
		}
		name, ok := typeName(p.ProposalType)
		if !ok {
			m.logger.Warn("skipping proposal with unknown type", "id", id, "type", p.ProposalType)
			continue
		}
		if p.Timestamp == nil || p.ApprovalCount == nil || p.RejectionCount == nil {
			m.logger.Warn("skipping proposal with missing counters", "id", id)
			continue
		}
		out = append(out, Summary{
			ID:             id.String(),
			Proposer:       p.Proposer.Hex(),
			ProposalType:   name,
			Description:    p.Description,
			Conversation:   p.Conversation,
			Timestamp:      p.Timestamp.Int64(),
			ApprovalCount:  p.ApprovalCount.Int64(),
			RejectionCount: p.RejectionCount.Int64(),
			Status:         p.Status,
		})
	}
	return out
}

func typeName(code uint8) (string, bool) {
	for name, c := range proposalTypeCodes {
		if c == code {
			return name, true
		}
	}
	return "", false
}

// timestampToUnix converts a stored ISO-8601 timestamp to epoch seconds.
// Records written by older clients carried already-numeric strings; those
// pass through digit extraction.
func timestampToUnix(ts string) *big.Int {
	if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
		return big.NewInt(parsed.Unix())
	}
	var digits strings.Builder
	for _, r := range ts {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() > 0 {
		if v, ok := new(big.Int).SetString(digits.String(), 10); ok {
			return v
		}
	}
	return big.NewInt(0)
}
