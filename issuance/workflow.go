// Package issuance gates credential minting on conversational engagement
// and drives the mint-then-transfer sequence against the chain.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"qawakun/crypto"
	"qawakun/ledger"
	"qawakun/pinner"
	"qawakun/store"
)

// MinEngagementTurns is how many user-authored turns a conversation needs
// before the wallet becomes eligible to claim.
const MinEngagementTurns = 6

// State is where a wallet sits in the claim lifecycle.
type State string

const (
	StateUnclaimed   State = "unclaimed"
	StateEligible    State = "eligible"
	StateMinted      State = "minted"
	StateTransferred State = "transferred"
)

var (
	// ErrAlreadyClaimed is returned when the wallet already holds or has
	// been issued a credential.
	ErrAlreadyClaimed = errors.New("issuance: already claimed")
	// ErrTransferFailed is returned when the mint settled but the handoff
	// to the claimant did not. The pending record is kept for recovery.
	ErrTransferFailed = errors.New("issuance: transfer failed")
	// ErrNothingPending is returned by Resume when no stalled mint exists.
	ErrNothingPending = errors.New("issuance: nothing pending")
)

// InsufficientEngagementError reports how far a conversation is from the
// claim threshold.
type InsufficientEngagementError struct {
	Turns    int
	Required int
}

func (e *InsufficientEngagementError) Error() string {
	return fmt.Sprintf("issuance: %d of %d required turns", e.Turns, e.Required)
}

// Chain is the subset of the ledger client the workflow drives.
type Chain interface {
	BalanceOf(ctx context.Context, wallet common.Address) (*big.Int, error)
	Mint(ctx context.Context, encryptedData, imageURI string) (*gethtypes.Receipt, error)
	Transfer(ctx context.Context, to common.Address, tokenID *big.Int) (*gethtypes.Receipt, error)
	TokenIDFromReceipt(receipt *gethtypes.Receipt) (*big.Int, error)
}

// Config tunes the workflow.
type Config struct {
	// SettleDelay is how long to wait between the mint receipt and the
	// transfer so indexers observe the mint first.
	SettleDelay time.Duration
	// Artwork is the PNG pinned as the credential image.
	Artwork []byte
}

// Workflow issues credentials. Safe for concurrent use; per-wallet
// idempotence comes from the stored claim and on-chain balance guards.
type Workflow struct {
	store    *store.Store
	chain    Chain
	pins     pinner.Pinner
	envelope *crypto.Envelope
	cfg      Config
	logger   *slog.Logger

	nowFn   func() time.Time
	sleepFn func(context.Context, time.Duration) error
}

// New wires the workflow.
func New(st *store.Store, chain Chain, pins pinner.Pinner, envelope *crypto.Envelope, cfg Config, logger *slog.Logger) *Workflow {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:    st,
		chain:    chain,
		pins:     pins,
		envelope: envelope,
		cfg:      cfg,
		logger:   logger.With("component", "issuance"),
		nowFn:    time.Now,
		sleepFn:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// profile is the payload sealed into the credential's on-chain record.
type profile struct {
	Wallet     string              `json:"wallet"`
	FID        uint64              `json:"fid"`
	Timestamp  int64               `json:"timestamp"`
	Turns      int                 `json:"turns"`
	Transcript []store.ChatMessage `json:"transcript,omitempty"`
}

// Status reports the wallet's position in the claim lifecycle.
func (w *Workflow) Status(ctx context.Context, wallet, identity string) (State, *store.ClaimRecord, error) {
	claim, err := w.store.GetClaim(wallet)
	if err == nil {
		return StateTransferred, claim, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", nil, err
	}
	if _, err := w.store.GetPendingMint(wallet); err == nil {
		return StateMinted, nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", nil, err
	}
	turns, err := w.store.UserTurnCount(identity)
	if err != nil {
		return "", nil, err
	}
	if turns >= MinEngagementTurns {
		return StateEligible, nil, nil
	}
	return StateUnclaimed, nil, nil
}

// Claim runs the full issuance sequence for a wallet. It is idempotent:
// repeat calls after success return ErrAlreadyClaimed, and a call that finds
// a stalled mint resumes the transfer leg instead of minting again.
func (w *Workflow) Claim(ctx context.Context, wallet string, fid uint64, identity string) (*store.ClaimRecord, error) {
	if _, err := w.store.GetClaim(wallet); err == nil {
		return nil, ErrAlreadyClaimed
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if pending, err := w.store.GetPendingMint(wallet); err == nil {
		return w.finishTransfer(ctx, pending)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	addr := common.HexToAddress(wallet)
	balance, err := w.chain.BalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("issuance: check balance: %w", err)
	}
	if balance.Sign() > 0 {
		return nil, ErrAlreadyClaimed
	}

	turns, err := w.store.UserTurnCount(identity)
	if err != nil {
		return nil, err
	}
	if turns < MinEngagementTurns {
		return nil, &InsufficientEngagementError{Turns: turns, Required: MinEngagementTurns}
	}

	transcript, err := w.store.Conversation(identity)
	if err != nil {
		return nil, err
	}
	sealed, err := w.sealProfile(wallet, fid, turns, transcript)
	if err != nil {
		return nil, err
	}
	imageURI, err := w.pinArtwork(ctx)
	if err != nil {
		return nil, err
	}

	mintReceipt, err := w.chain.Mint(ctx, sealed, imageURI)
	if err != nil {
		// A revert caught at gas estimation usually means a concurrent
		// claim already minted for this wallet.
		var estErr *ledger.GasEstimationError
		if errors.As(err, &estErr) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyClaimed, err)
		}
		return nil, fmt.Errorf("issuance: mint: %w", err)
	}
	tokenID, err := w.chain.TokenIDFromReceipt(mintReceipt)
	if err != nil {
		return nil, fmt.Errorf("issuance: extract token id: %w", err)
	}

	pending := store.PendingMint{
		Wallet:    wallet,
		FID:       fid,
		TokenID:   tokenID.String(),
		MintTx:    mintReceipt.TxHash.Hex(),
		CreatedAt: w.nowFn().UTC(),
	}
	if err := w.store.PutPendingMint(pending); err != nil {
		return nil, fmt.Errorf("issuance: record pending mint: %w", err)
	}
	w.logger.Info("credential minted", "wallet", wallet, "token_id", tokenID.String())

	if err := w.sleepFn(ctx, w.cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return w.finishTransfer(ctx, &pending)
}

// Resume completes the transfer leg of a stalled mint.
func (w *Workflow) Resume(ctx context.Context, wallet string) (*store.ClaimRecord, error) {
	pending, err := w.store.GetPendingMint(wallet)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNothingPending
		}
		return nil, err
	}
	return w.finishTransfer(ctx, pending)
}

func (w *Workflow) finishTransfer(ctx context.Context, pending *store.PendingMint) (*store.ClaimRecord, error) {
	tokenID, ok := pending.Token()
	if !ok {
		return nil, fmt.Errorf("issuance: corrupt pending token id %q", pending.TokenID)
	}
	if _, err := w.chain.Transfer(ctx, common.HexToAddress(pending.Wallet), tokenID); err != nil {
		w.logger.Error("transfer failed, pending mint retained", "wallet", pending.Wallet, "token_id", pending.TokenID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	claim := store.ClaimRecord{
		Wallet:    pending.Wallet,
		FID:       pending.FID,
		Timestamp: w.nowFn().UTC(),
		TokenID:   pending.TokenID,
	}
	if err := w.store.PutClaim(claim); err != nil {
		return nil, fmt.Errorf("issuance: record claim: %w", err)
	}
	if err := w.store.DeletePendingMint(pending.Wallet); err != nil {
		return nil, fmt.Errorf("issuance: clear pending mint: %w", err)
	}
	w.logger.Info("credential transferred", "wallet", pending.Wallet, "token_id", pending.TokenID)
	return &claim, nil
}

// sealProfile encrypts the claimant's profile, transcript included, into
// the hex envelope the contract stores verbatim.
func (w *Workflow) sealProfile(wallet string, fid uint64, turns int, transcript []store.ChatMessage) (string, error) {
	raw, err := json.Marshal(profile{
		Wallet:     wallet,
		FID:        fid,
		Timestamp:  w.nowFn().Unix(),
		Turns:      turns,
		Transcript: transcript,
	})
	if err != nil {
		return "", fmt.Errorf("issuance: encode profile: %w", err)
	}
	sealed, err := w.envelope.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("issuance: seal profile: %w", err)
	}
	return sealed, nil
}

// pinArtwork uploads the credential image and returns its gateway URL, or
// an empty string when no artwork is configured.
func (w *Workflow) pinArtwork(ctx context.Context) (string, error) {
	if len(w.cfg.Artwork) == 0 {
		return "", nil
	}
	cid, err := w.pins.PinFile(ctx, "credential.png", w.cfg.Artwork)
	if err != nil {
		return "", fmt.Errorf("issuance: pin artwork: %w", err)
	}
	return w.pins.URL(cid), nil
}
