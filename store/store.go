package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"qawakun/storage"
)

// Key layout. Hash-style collections from the original deployment are kept
// as prefixes so records stay individually addressable by wallet.
const (
	prefixProposals   = "proposals/"
	prefixClaims      = "nft:claims/"
	prefixPending     = "nft:pending/"
	prefixConvo       = "conversation:"
	prefixFeedCursor  = "feed:cursor:"
	prefixFeedItem    = "feed:item:"
	keyContextText    = "context-text"
	keyGameOptions    = "game_options"
)

// ErrNotFound is returned when a record does not exist in its collection.
var ErrNotFound = errors.New("store: record not found")

// Store provides typed access to the service's persisted collections.
type Store struct {
	db storage.Database
}

// New wraps a raw key-value database with the typed collection layer.
func New(db storage.Database) *Store {
	if db == nil {
		panic("store: database required")
	}
	return &Store{db: db}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Claims ---

// ClaimRecord is the immutable receipt of a successful credential issuance.
// At most one exists per wallet.
type ClaimRecord struct {
	Wallet    string    `json:"wallet"`
	FID       uint64    `json:"fid"`
	Timestamp time.Time `json:"timestamp"`
	TokenID   string    `json:"token_id"`
}

func (s *Store) PutClaim(rec ClaimRecord) error {
	wallet := normalizeWallet(rec.Wallet)
	if wallet == "" {
		return errors.New("store: claim wallet required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode claim: %w", err)
	}
	return s.db.Put([]byte(prefixClaims+wallet), raw)
}

func (s *Store) GetClaim(wallet string) (*ClaimRecord, error) {
	raw, err := s.db.Get([]byte(prefixClaims + normalizeWallet(wallet)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec ClaimRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode claim: %w", err)
	}
	return &rec, nil
}

func (s *Store) HasClaim(wallet string) (bool, error) {
	return s.db.Has([]byte(prefixClaims + normalizeWallet(wallet)))
}

// --- Pending mints (transfer outbox) ---

// PendingMint records a minted token that has not yet reached the claimant.
// It survives process restarts so the transfer leg can be resumed.
type PendingMint struct {
	Wallet    string    `json:"wallet"`
	FID       uint64    `json:"fid"`
	TokenID   string    `json:"token_id"`
	MintTx    string    `json:"mint_tx"`
	CreatedAt time.Time `json:"created_at"`
}

// Token returns the pending token id as a big integer.
func (p PendingMint) Token() (*big.Int, bool) {
	id, ok := new(big.Int).SetString(p.TokenID, 10)
	return id, ok
}

func (s *Store) PutPendingMint(rec PendingMint) error {
	wallet := normalizeWallet(rec.Wallet)
	if wallet == "" {
		return errors.New("store: pending mint wallet required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode pending mint: %w", err)
	}
	return s.db.Put([]byte(prefixPending+wallet), raw)
}

func (s *Store) GetPendingMint(wallet string) (*PendingMint, error) {
	raw, err := s.db.Get([]byte(prefixPending + normalizeWallet(wallet)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec PendingMint
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode pending mint: %w", err)
	}
	return &rec, nil
}

func (s *Store) DeletePendingMint(wallet string) error {
	return s.db.Delete([]byte(prefixPending + normalizeWallet(wallet)))
}

// --- Proposals ---

// Proposal status codes, matching the values exposed over the API.
const (
	ProposalStatusNew      = 1
	ProposalStatusInReview = 2
	ProposalStatusInVoting = 3
	ProposalStatusRejected = 4
)

// ValidProposalStatus reports whether the code names a known lifecycle phase.
func ValidProposalStatus(status int) bool {
	return status >= ProposalStatusNew && status <= ProposalStatusRejected
}

// VoteNFT pairs a recorded vote with the credential minted for the voter.
type VoteNFT struct {
	TokenID     string `json:"token_id"`
	VoterWallet string `json:"voter_wallet"`
	Timestamp   string `json:"timestamp"`
}

// Proposal is the off-chain community proposal record. One slot per wallet:
// a later submission overwrites the earlier one.
type Proposal struct {
	Wallet         string    `json:"wallet"`
	FID            uint64    `json:"fid"`
	ProposalType   string    `json:"proposal_type"` // WORLD, CHARACTERS, LAWS
	Description    string    `json:"description"`
	Flexibility    int       `json:"flexibility"` // 1-10
	Contact        string    `json:"contact"`
	MessageHistory []string  `json:"message_history"`
	Timestamp      string    `json:"timestamp"` // ISO-8601
	Status         int       `json:"status"`
	Voters         []string  `json:"voters,omitempty"`
	Votes          int       `json:"votes,omitempty"`
	VoteNFTs       []VoteNFT `json:"vote_nfts,omitempty"`
}

// HasVoter reports whether the wallet already appears in the voter set.
func (p *Proposal) HasVoter(wallet string) bool {
	wallet = normalizeWallet(wallet)
	for _, v := range p.Voters {
		if normalizeWallet(v) == wallet {
			return true
		}
	}
	return false
}

func (s *Store) PutProposal(p Proposal) error {
	wallet := normalizeWallet(p.Wallet)
	if wallet == "" {
		return errors.New("store: proposal wallet required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode proposal: %w", err)
	}
	return s.db.Put([]byte(prefixProposals+wallet), raw)
}

func (s *Store) GetProposal(wallet string) (*Proposal, error) {
	raw, err := s.db.Get([]byte(prefixProposals + normalizeWallet(wallet)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode proposal: %w", err)
	}
	return &p, nil
}

// ListProposals returns every stored proposal. Records that fail to decode
// are skipped rather than aborting the listing.
func (s *Store) ListProposals() ([]Proposal, error) {
	var out []Proposal
	err := s.db.IteratePrefix([]byte(prefixProposals), func(_, value []byte) error {
		var p Proposal
		if err := json.Unmarshal(value, &p); err != nil {
			return nil
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// --- Conversations ---

// ChatMessage is a single turn in a per-identity conversation transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Store) PutConversation(identity string, messages []ChatMessage) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("store: conversation identity required")
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("store: encode conversation: %w", err)
	}
	return s.db.Put([]byte(prefixConvo+identity), raw)
}

// Conversation loads the stored transcript for an identity. A missing
// transcript yields an empty slice, not an error.
func (s *Store) Conversation(identity string) ([]ChatMessage, error) {
	raw, err := s.db.Get([]byte(prefixConvo + strings.TrimSpace(identity)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var messages []ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("store: decode conversation: %w", err)
	}
	return messages, nil
}

// UserTurnCount counts the user-authored turns in an identity's transcript.
func (s *Store) UserTurnCount(identity string) (int, error) {
	messages, err := s.Conversation(identity)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range messages {
		if m.Role == "user" {
			count++
		}
	}
	return count, nil
}

// --- Narrative context and game options ---

func (s *Store) PutContextText(text string) error {
	return s.db.Put([]byte(keyContextText), []byte(text))
}

func (s *Store) ContextText() (string, error) {
	raw, err := s.db.Get([]byte(keyContextText))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(raw), nil
}

func (s *Store) PutGameOptions(raw []byte) error {
	return s.db.Put([]byte(keyGameOptions), raw)
}

func (s *Store) GameOptions() ([]byte, error) {
	raw, err := s.db.Get([]byte(keyGameOptions))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

// --- Feed bookkeeping ---

// PutFeedCursor persists the high-watermark of processed items for a feed.
func (s *Store) PutFeedCursor(feed, itemID string) error {
	return s.db.Put([]byte(prefixFeedCursor+feed), []byte(itemID))
}

// FeedCursor returns the stored watermark, or "" when none exists yet.
func (s *Store) FeedCursor(feed string) (string, error) {
	raw, err := s.db.Get([]byte(prefixFeedCursor + feed))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(raw), nil
}

// FeedItem is the subset of a social post the classifier needs later.
type FeedItem struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	AuthorID  uint64 `json:"author_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func feedItemKey(feed, thread, id string) []byte {
	return []byte(prefixFeedItem + feed + ":" + thread + ":" + id)
}

func (s *Store) PutFeedItem(feed, thread string, item FeedItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("store: encode feed item: %w", err)
	}
	return s.db.Put(feedItemKey(feed, thread, item.ID), raw)
}

func (s *Store) FeedItem(feed, thread, id string) (*FeedItem, error) {
	raw, err := s.db.Get(feedItemKey(feed, thread, id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var item FeedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("store: decode feed item: %w", err)
	}
	return &item, nil
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
