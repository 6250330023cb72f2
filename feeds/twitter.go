package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qawakun/store"
)

// TwitterSource reads mentions and posts replies through the v2 API.
type TwitterSource struct {
	baseURL string
	bearer  string
	userID  uint64
	http    *http.Client
}

// NewTwitterSource builds the Twitter feed client for the given account id.
func NewTwitterSource(baseURL, bearer string, userID uint64) *TwitterSource {
	return &TwitterSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		bearer:  bearer,
		userID:  userID,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (t *TwitterSource) Name() string { return "twitter" }

func (t *TwitterSource) SelfID() uint64 { return t.userID }

type mentionsResponse struct {
	Data []struct {
		ID             string    `json:"id"`
		Text           string    `json:"text"`
		AuthorID       string    `json:"author_id"`
		ConversationID string    `json:"conversation_id"`
		CreatedAt      time.Time `json:"created_at"`
		Referenced     []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"referenced_tweets"`
	} `json:"data"`
	Meta struct {
		NewestID string `json:"newest_id"`
	} `json:"meta"`
}

// ListMentions fetches mentions since the cursor (a tweet id).
func (t *TwitterSource) ListMentions(ctx context.Context, cursor string) ([]store.FeedItem, string, error) {
	query := url.Values{}
	query.Set("tweet.fields", "author_id,conversation_id,created_at,referenced_tweets")
	if cursor != "" {
		query.Set("since_id", cursor)
	}
	endpoint := fmt.Sprintf("%s/2/users/%d/mentions?%s", t.baseURL, t.userID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("twitter: build request: %w", err)
	}

	var decoded mentionsResponse
	if err := t.do(req, &decoded); err != nil {
		return nil, "", err
	}

	// The API returns newest first; reverse so processing is oldest first.
	items := make([]store.FeedItem, 0, len(decoded.Data))
	for i := len(decoded.Data) - 1; i >= 0; i-- {
		tw := decoded.Data[i]
		authorID, _ := strconv.ParseUint(tw.AuthorID, 10, 64)
		parent := ""
		for _, ref := range tw.Referenced {
			if ref.Type == "replied_to" {
				parent = ref.ID
			}
		}
		items = append(items, store.FeedItem{
			ID:        tw.ID,
			ThreadID:  tw.ConversationID,
			ParentID:  parent,
			AuthorID:  authorID,
			Text:      tw.Text,
			Timestamp: tw.CreatedAt.Unix(),
		})
	}
	return items, decoded.Meta.NewestID, nil
}

// Publish posts a reply tweet.
func (t *TwitterSource) Publish(ctx context.Context, text, replyTo string) error {
	payload := map[string]interface{}{"text": text}
	if replyTo != "" {
		payload["reply"] = map[string]string{"in_reply_to_tweet_id": replyTo}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("twitter: encode tweet: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("twitter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, nil)
}

func (t *TwitterSource) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+t.bearer)
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("twitter: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("twitter: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("twitter: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("twitter: decode response: %w", err)
	}
	return nil
}
