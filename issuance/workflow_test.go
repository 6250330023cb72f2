package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"qawakun/crypto"
	"qawakun/ledger"
	"qawakun/storage"
	"qawakun/store"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

type fakeChain struct {
	balance     *big.Int
	mintErr     error
	transferErr error
	tokenID     *big.Int

	mints        int
	transfers    int
	lastSealed   string
	lastImageURI string
}

func (f *fakeChain) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeChain) Mint(_ context.Context, encryptedData, imageURI string) (*gethtypes.Receipt, error) {
	f.mints++
	f.lastSealed = encryptedData
	f.lastImageURI = imageURI
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	return &gethtypes.Receipt{
		Status: gethtypes.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0x01"),
	}, nil
}

func (f *fakeChain) Transfer(context.Context, common.Address, *big.Int) (*gethtypes.Receipt, error) {
	f.transfers++
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful}, nil
}

func (f *fakeChain) TokenIDFromReceipt(*gethtypes.Receipt) (*big.Int, error) {
	if f.tokenID == nil {
		return big.NewInt(42), nil
	}
	return f.tokenID, nil
}

type fakePinner struct {
	filePins int
}

func (f *fakePinner) PinFile(context.Context, string, []byte) (string, error) {
	f.filePins++
	return "QmImage", nil
}

func (f *fakePinner) URL(cid string) string {
	return "https://gateway.test/ipfs/" + cid
}

func testEnvelope(t *testing.T) *crypto.Envelope {
	t.Helper()
	signer, err := crypto.NewSignerFromHex("4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	env, err := crypto.NewEnvelope(signer)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func newTestWorkflow(t *testing.T, chain *fakeChain) (*Workflow, *store.Store, *fakePinner) {
	t.Helper()
	st := store.New(storage.NewMemDB())
	pins := &fakePinner{}
	w := New(st, chain, pins, testEnvelope(t), Config{
		SettleDelay: time.Millisecond,
		Artwork:     []byte{0x89, 0x50},
	}, nil)
	w.sleepFn = func(context.Context, time.Duration) error { return nil }
	w.nowFn = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return w, st, pins
}

func seedTurns(t *testing.T, st *store.Store, identity string, userTurns int) {
	t.Helper()
	var messages []store.ChatMessage
	for i := 0; i < userTurns; i++ {
		messages = append(messages,
			store.ChatMessage{Role: "user", Content: "turn"},
			store.ChatMessage{Role: "assistant", Content: "reply"},
		)
	}
	if err := st.PutConversation(identity, messages); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}
}

func TestClaimHappyPath(t *testing.T) {
	chain := &fakeChain{}
	w, st, pins := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	claim, err := w.Claim(context.Background(), testWallet, 7, "id")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.TokenID != "42" || claim.FID != 7 {
		t.Fatalf("unexpected claim: %+v", claim)
	}
	if chain.mints != 1 || chain.transfers != 1 {
		t.Fatalf("expected 1 mint and 1 transfer, got %d/%d", chain.mints, chain.transfers)
	}
	if pins.filePins != 1 {
		t.Fatalf("expected 1 artwork pin, got %d", pins.filePins)
	}
	if chain.lastImageURI != "https://gateway.test/ipfs/QmImage" {
		t.Fatalf("unexpected image uri %q", chain.lastImageURI)
	}
	opened, err := testEnvelope(t).Open(chain.lastSealed)
	if err != nil {
		t.Fatalf("open sealed profile: %v", err)
	}
	var p profile
	if err := json.Unmarshal(opened, &p); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if p.Wallet != testWallet || p.FID != 7 || p.Turns != MinEngagementTurns {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if len(p.Transcript) != MinEngagementTurns*2 {
		t.Fatalf("expected full transcript, got %d messages", len(p.Transcript))
	}
	if _, err := st.GetPendingMint(testWallet); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending record should be cleared, got %v", err)
	}
	stored, err := st.GetClaim(testWallet)
	if err != nil || stored.TokenID != "42" {
		t.Fatalf("claim not persisted: %+v %v", stored, err)
	}
}

func TestClaimBelowThreshold(t *testing.T) {
	chain := &fakeChain{}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns-1)

	_, err := w.Claim(context.Background(), testWallet, 7, "id")
	var engErr *InsufficientEngagementError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected InsufficientEngagementError, got %v", err)
	}
	if engErr.Turns != MinEngagementTurns-1 || engErr.Required != MinEngagementTurns {
		t.Fatalf("unexpected counts: %+v", engErr)
	}
	if chain.mints != 0 {
		t.Fatal("no mint should happen below the threshold")
	}
}

func TestClaimTwiceReturnsAlreadyClaimed(t *testing.T) {
	chain := &fakeChain{}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	if _, err := w.Claim(context.Background(), testWallet, 7, "id"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := w.Claim(context.Background(), testWallet, 7, "id"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if chain.mints != 1 {
		t.Fatalf("expected exactly 1 mint, got %d", chain.mints)
	}
}

func TestClaimNonZeroBalance(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(1)}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	if _, err := w.Claim(context.Background(), testWallet, 7, "id"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if chain.mints != 0 {
		t.Fatal("wallets holding a credential must not mint")
	}
}

func TestClaimEstimateRevertMapsToAlreadyClaimed(t *testing.T) {
	chain := &fakeChain{mintErr: &ledger.GasEstimationError{Method: "mint", Err: errors.New("execution reverted")}}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	if _, err := w.Claim(context.Background(), testWallet, 7, "id"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimRPCFailureIsNotAlreadyClaimed(t *testing.T) {
	chain := &fakeChain{mintErr: errors.New("ledger: estimate gas for mint: dial tcp 127.0.0.1:8545: connect: connection refused")}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	_, err := w.Claim(context.Background(), testWallet, 7, "id")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("transient rpc failure must not report as already claimed, got %v", err)
	}
}

func TestClaimTransferFailureKeepsPendingAndResumes(t *testing.T) {
	chain := &fakeChain{transferErr: errors.New("rpc down")}
	w, st, _ := newTestWorkflow(t, chain)
	seedTurns(t, st, "id", MinEngagementTurns)

	if _, err := w.Claim(context.Background(), testWallet, 7, "id"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	pending, err := st.GetPendingMint(testWallet)
	if err != nil {
		t.Fatalf("pending record should survive, got %v", err)
	}
	if pending.TokenID != "42" {
		t.Fatalf("unexpected pending token id %q", pending.TokenID)
	}

	chain.transferErr = nil
	claim, err := w.Resume(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if claim.TokenID != "42" {
		t.Fatalf("unexpected resumed claim: %+v", claim)
	}
	if chain.mints != 1 {
		t.Fatalf("resume must not mint again, got %d mints", chain.mints)
	}
	if _, err := st.GetPendingMint(testWallet); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending record should be cleared after resume, got %v", err)
	}
}

func TestClaimWithPendingResumesTransfer(t *testing.T) {
	chain := &fakeChain{}
	w, st, _ := newTestWorkflow(t, chain)
	if err := st.PutPendingMint(store.PendingMint{Wallet: testWallet, FID: 7, TokenID: "99", MintTx: "0x01"}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	claim, err := w.Claim(context.Background(), testWallet, 7, "id")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.TokenID != "99" {
		t.Fatalf("expected pending token to be delivered, got %q", claim.TokenID)
	}
	if chain.mints != 0 || chain.transfers != 1 {
		t.Fatalf("expected transfer only, got %d mints %d transfers", chain.mints, chain.transfers)
	}
}

func TestResumeNothingPending(t *testing.T) {
	w, _, _ := newTestWorkflow(t, &fakeChain{})
	if _, err := w.Resume(context.Background(), testWallet); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	chain := &fakeChain{}
	w, st, _ := newTestWorkflow(t, chain)
	ctx := context.Background()

	state, _, err := w.Status(ctx, testWallet, "id")
	if err != nil || state != StateUnclaimed {
		t.Fatalf("expected unclaimed, got %v %v", state, err)
	}

	seedTurns(t, st, "id", MinEngagementTurns)
	state, _, err = w.Status(ctx, testWallet, "id")
	if err != nil || state != StateEligible {
		t.Fatalf("expected eligible, got %v %v", state, err)
	}

	if err := st.PutPendingMint(store.PendingMint{Wallet: testWallet, TokenID: "1"}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}
	state, _, err = w.Status(ctx, testWallet, "id")
	if err != nil || state != StateMinted {
		t.Fatalf("expected minted, got %v %v", state, err)
	}

	if err := st.DeletePendingMint(testWallet); err != nil {
		t.Fatalf("clear pending: %v", err)
	}
	if err := st.PutClaim(store.ClaimRecord{Wallet: testWallet, TokenID: "1"}); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	state, claim, err := w.Status(ctx, testWallet, "id")
	if err != nil || state != StateTransferred || claim == nil {
		t.Fatalf("expected transferred with record, got %v %v %v", state, claim, err)
	}
}
