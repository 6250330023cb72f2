package store

import (
	"errors"
	"testing"
	"time"

	"qawakun/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(storage.NewMemDB())
}

func TestClaimRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetClaim("0xABCD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := ClaimRecord{
		Wallet:    "0xABCD",
		FID:       77,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		TokenID:   "42",
	}
	if err := s.PutClaim(rec); err != nil {
		t.Fatalf("put claim: %v", err)
	}

	// Wallet lookup is case-insensitive.
	got, err := s.GetClaim("0xabcd")
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if got.TokenID != "42" || got.FID != 77 {
		t.Fatalf("unexpected claim: %+v", got)
	}

	ok, err := s.HasClaim("0xAbCd")
	if err != nil || !ok {
		t.Fatalf("expected claim present, ok=%v err=%v", ok, err)
	}
}

func TestPendingMintLifecycle(t *testing.T) {
	s := newTestStore(t)

	rec := PendingMint{
		Wallet:    "0xfeed",
		FID:       9,
		TokenID:   "1234",
		MintTx:    "0xdeadbeef",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutPendingMint(rec); err != nil {
		t.Fatalf("put pending: %v", err)
	}

	got, err := s.GetPendingMint("0xFEED")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	id, ok := got.Token()
	if !ok || id.String() != "1234" {
		t.Fatalf("unexpected token id: %v ok=%v", id, ok)
	}

	if err := s.DeletePendingMint("0xfeed"); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := s.GetPendingMint("0xfeed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestProposalOverwriteAndList(t *testing.T) {
	s := newTestStore(t)

	first := Proposal{
		Wallet:       "0xaa11",
		ProposalType: "WORLD",
		Description:  "first draft",
		Status:       ProposalStatusNew,
	}
	if err := s.PutProposal(first); err != nil {
		t.Fatalf("put proposal: %v", err)
	}

	second := first
	second.Description = "revised draft"
	if err := s.PutProposal(second); err != nil {
		t.Fatalf("put revised proposal: %v", err)
	}

	got, err := s.GetProposal("0xAA11")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Description != "revised draft" {
		t.Fatalf("expected overwrite, got %q", got.Description)
	}

	other := Proposal{Wallet: "0xbb22", ProposalType: "LAWS", Status: ProposalStatusInVoting}
	if err := s.PutProposal(other); err != nil {
		t.Fatalf("put other proposal: %v", err)
	}

	list, err := s.ListProposals()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(list))
	}
}

func TestProposalHasVoter(t *testing.T) {
	p := Proposal{Voters: []string{"0xAA", "0xbb"}}
	if !p.HasVoter("0xaa") {
		t.Fatal("expected case-insensitive voter match")
	}
	if p.HasVoter("0xcc") {
		t.Fatal("unexpected voter match")
	}
}

func TestValidProposalStatus(t *testing.T) {
	for _, status := range []int{ProposalStatusNew, ProposalStatusInReview, ProposalStatusInVoting, ProposalStatusRejected} {
		if !ValidProposalStatus(status) {
			t.Fatalf("status %d should be valid", status)
		}
	}
	for _, status := range []int{0, 5, -1} {
		if ValidProposalStatus(status) {
			t.Fatalf("status %d should be invalid", status)
		}
	}
}

func TestConversationAndTurnCount(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Conversation("farcaster:42")
	if err != nil {
		t.Fatalf("empty conversation: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(got))
	}

	messages := []ChatMessage{
		{Role: "system", Content: "context"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "tell me more"},
	}
	if err := s.PutConversation("farcaster:42", messages); err != nil {
		t.Fatalf("put conversation: %v", err)
	}

	count, err := s.UserTurnCount("farcaster:42")
	if err != nil {
		t.Fatalf("turn count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 user turns, got %d", count)
	}
}

func TestFeedCursor(t *testing.T) {
	s := newTestStore(t)

	cur, err := s.FeedCursor("farcaster")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur != "" {
		t.Fatalf("expected empty cursor, got %q", cur)
	}

	if err := s.PutFeedCursor("farcaster", "0x0123"); err != nil {
		t.Fatalf("put cursor: %v", err)
	}
	cur, err = s.FeedCursor("farcaster")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur != "0x0123" {
		t.Fatalf("unexpected cursor %q", cur)
	}
}

func TestFeedItemRoundTrip(t *testing.T) {
	s := newTestStore(t)

	item := FeedItem{ID: "c1", ThreadID: "t1", AuthorID: 5, Author: "anna", Text: "gm"}
	if err := s.PutFeedItem("farcaster", "t1", item); err != nil {
		t.Fatalf("put item: %v", err)
	}

	got, err := s.FeedItem("farcaster", "t1", "c1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Author != "anna" || got.AuthorID != 5 {
		t.Fatalf("unexpected item: %+v", got)
	}

	if _, err := s.FeedItem("farcaster", "t1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
