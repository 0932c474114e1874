package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"worklink/pkg/domain"
)

// APIError represents a messaging service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// apiClient calls the messaging service over HTTP.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string, httpClient *http.Client) *apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) createConversation(ctx context.Context, jobID *int64, clientID, workerID string) (*domain.Conversation, error) {
	req := map[string]any{"clientId": clientID, "workerId": workerID}
	if jobID != nil {
		req["jobId"] = *jobID
	}
	var conv domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *apiClient) listConversations(ctx context.Context, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error) {
	q := url.Values{}
	if filter != "" {
		q.Set("filter", string(filter))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Conversations []*domain.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *apiClient) setStatus(ctx context.Context, convID, action string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(convID)+"/status", map[string]string{"action": action}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *apiClient) sendMessage(ctx context.Context, convID string, content domain.Content, clientKey string) (*domain.Message, error) {
	req := map[string]any{"content": content, "clientKey": clientKey}
	var msg domain.Message
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(convID)+"/messages", req, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) messages(ctx context.Context, convID, cursor string, limit int) ([]*domain.Message, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Messages   []*domain.Message `json:"messages"`
		NextCursor string            `json:"nextCursor"`
	}
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(convID)+"/messages?"+q.Encode(), nil, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Messages, resp.NextCursor, nil
}

func (c *apiClient) markRead(ctx context.Context, convID string) (int, error) {
	var resp struct {
		Marked int `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(convID)+"/read", nil, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

func (c *apiClient) deleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *apiClient) unreadTotals(ctx context.Context) (domain.UnreadTotals, error) {
	var totals domain.UnreadTotals
	err := c.do(ctx, http.MethodGet, "/api/unread", nil, &totals)
	return totals, err
}
