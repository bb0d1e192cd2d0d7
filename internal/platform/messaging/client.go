// Package messaging contains the JSON-over-HTTP client for the external
// messaging service, which owns conversations, message persistence, and
// device token storage.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// Client implements relay.MessagingService. Every call returns either the
// decoded result or an error; callers treat any error as a recoverable
// collaborator failure.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewClient builds a messaging-service client for the given base URL.
// The http.Client is shared and may carry the caller's transport settings;
// nil selects http.DefaultClient.
func NewClient(baseURL string, httpc *http.Client, logger zerolog.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		httpc:   httpc,
		logger:  logger.With().Str("component", "MessagingClient").Logger(),
	}
}

// GetConversation fetches all stored messages for one conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID, userID string) ([]relay.Message, error) {
	query := url.Values{"conversationId": {conversationID}, "userId": {userID}}
	var out struct {
		Messages []relay.Message `json:"messages"`
	}
	if err := c.get(ctx, "/conversations/messages", query, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// GetConversationsPerUser fetches every conversation the user belongs to,
// keyed by conversation id.
func (c *Client) GetConversationsPerUser(ctx context.Context, userID string) (map[string]relay.Conversation, error) {
	query := url.Values{"userId": {userID}}
	var out struct {
		Conversations map[string]relay.Conversation `json:"conversations"`
	}
	if err := c.get(ctx, "/conversations", query, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// SendMessage stores a message and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, messageBody string) (*relay.Message, error) {
	body := map[string]string{
		"conversationId": conversationID,
		"senderId":       senderID,
		"messageBody":    messageBody,
	}
	var out struct {
		Message *relay.Message `json:"message"`
	}
	if err := c.post(ctx, "/messages", body, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, fmt.Errorf("messaging service returned no message")
	}
	return out.Message, nil
}

// CreateConversation creates (or finds) a conversation for the given users.
func (c *Client) CreateConversation(ctx context.Context, userIDs []string) (*relay.CreateConversationResult, error) {
	body := map[string]any{"userIds": userIDs}
	var out relay.CreateConversationResult
	if err := c.post(ctx, "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpandConversation adds a user to an existing conversation.
func (c *Client) ExpandConversation(ctx context.Context, userID, conversationID string) error {
	body := map[string]string{
		"userId":         userID,
		"conversationId": conversationID,
	}
	return c.post(ctx, "/conversations/users", body, nil)
}

// SaveDeviceToken registers a device token for push delivery. The service
// treats duplicate registrations as a no-op.
func (c *Client) SaveDeviceToken(ctx context.Context, userID, token string) error {
	body := map[string]string{
		"userId": userID,
		"token":  token,
	}
	return c.post(ctx, "/devices", body, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("messaging service call failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("Messaging service returned an error")
		return fmt.Errorf("messaging service returned %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode messaging service response: %w", err)
	}
	return nil
}
