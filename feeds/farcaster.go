package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qawakun/store"
)

// FarcasterSource reads mentions and publishes casts through a Neynar-style
// hub API.
type FarcasterSource struct {
	baseURL    string
	apiKey     string
	signerUUID string
	fid        uint64
	http       *http.Client
}

// NewFarcasterSource builds the Farcaster feed client. fid is the account
// the service casts as, signerUUID its approved signer.
func NewFarcasterSource(baseURL, apiKey, signerUUID string, fid uint64) *FarcasterSource {
	return &FarcasterSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		signerUUID: signerUUID,
		fid:        fid,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (f *FarcasterSource) Name() string { return "farcaster" }

func (f *FarcasterSource) SelfID() uint64 { return f.fid }

type farcasterCast struct {
	Hash   string `json:"hash"`
	Text   string `json:"text"`
	Author struct {
		FID      uint64 `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
	ParentHash string    `json:"parent_hash"`
	ThreadHash string    `json:"thread_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

type notificationsResponse struct {
	Notifications []struct {
		Cast farcasterCast `json:"cast"`
	} `json:"notifications"`
	Next struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

// ListMentions fetches mention notifications newer than the cursor.
func (f *FarcasterSource) ListMentions(ctx context.Context, cursor string) ([]store.FeedItem, string, error) {
	query := url.Values{}
	query.Set("fid", fmt.Sprintf("%d", f.fid))
	query.Set("type", "mentions")
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v2/farcaster/notifications?"+query.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("farcaster: build request: %w", err)
	}

	var decoded notificationsResponse
	if err := f.do(req, &decoded); err != nil {
		return nil, "", err
	}

	items := make([]store.FeedItem, 0, len(decoded.Notifications))
	for _, n := range decoded.Notifications {
		cast := n.Cast
		if cast.Hash == "" {
			continue
		}
		items = append(items, store.FeedItem{
			ID:        cast.Hash,
			ThreadID:  cast.ThreadHash,
			ParentID:  cast.ParentHash,
			AuthorID:  cast.Author.FID,
			Author:    cast.Author.Username,
			Text:      cast.Text,
			Timestamp: cast.Timestamp.Unix(),
		})
	}
	return items, decoded.Next.Cursor, nil
}

// Publish casts a reply under the given parent hash.
func (f *FarcasterSource) Publish(ctx context.Context, text, replyTo string) error {
	body, err := json.Marshal(map[string]string{
		"signer_uuid": f.signerUUID,
		"text":        text,
		"parent":      replyTo,
	})
	if err != nil {
		return fmt.Errorf("farcaster: encode cast: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v2/farcaster/cast", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("farcaster: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, nil)
}

func (f *FarcasterSource) do(req *http.Request, out interface{}) error {
	req.Header.Set("x-api-key", f.apiKey)
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("farcaster: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("farcaster: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("farcaster: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("farcaster: decode response: %w", err)
	}
	return nil
}
