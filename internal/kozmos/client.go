// Package kozmos is the HTTP client for the Kozmos social API — the
// runtime's only inbound and outbound transport. It covers the four
// collaborator contracts the agent depends on: identity claim, heartbeat,
// feed read and reply dispatch.
package kozmos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnauthorized marks an invalid or expired bearer token. It is fatal:
// invite codes are single-use, so no automatic re-claim is possible.
var ErrUnauthorized = errors.New("kozmos: unauthorized")

// APIError is a non-auth server rejection (4xx/5xx).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kozmos: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRejection reports whether err is a server-side content/rate rejection
// (4xx other than 401) — a non-fatal skip, not a crash.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// User is the identity bound to a claimed token.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Identity is the result of a successful claim.
type Identity struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// FeedEntry is one item of the shared append-only feed.
type FeedEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedPage is one page of feed entries, ordered non-decreasing in time.
type FeedPage struct {
	Entries    []FeedEntry `json:"entries"`
	NextCursor string      `json:"nextCursor"`
}

// Client talks to the Kozmos API. The bearer token is written once by
// Claim and read-only afterwards.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Kozmos API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Claim exchanges a one-time invite code for a bearer token bound to a
// fixed identity. Failure is fatal to the caller — there is no retry,
// because invite codes are single-use.
func (c *Client) Claim(ctx context.Context, inviteCode string) (*Identity, error) {
	body, _ := json.Marshal(map[string]string{"invite_code": inviteCode})
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/agents/claim", body)
	if err != nil {
		return nil, fmt.Errorf("claim identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(resp, &id); err != nil {
		return nil, fmt.Errorf("parse claim response: %w", err)
	}
	if id.Token == "" {
		return nil, fmt.Errorf("claim response missing token")
	}
	c.token = id.Token
	return &id, nil
}

// Heartbeat posts a liveness signal under the bearer token. Any non-2xx
// is a liveness failure; 401 surfaces as ErrUnauthorized.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/agents/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Feed fetches entries strictly after the given cursor, bounded by limit.
func (c *Client) Feed(ctx context.Context, after string, limit int) (*FeedPage, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/feed?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	var page FeedPage
	if err := json.Unmarshal(resp, &page); err != nil {
		return nil, fmt.Errorf("parse feed page: %w", err)
	}
	return &page, nil
}

// Post dispatches a reply to the feed. Server-side content-length and
// rate rejections come back as *APIError (see IsRejection).
func (c *Client) Post(ctx context.Context, content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	if _, err := c.doRequest(ctx, http.MethodPost, "/api/feed", body); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

// --- HTTP helpers ---

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
