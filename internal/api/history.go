package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/veilchat/veil-go/internal/chat"
)

// Persistence-mode classification reported by the history health check.
const (
	StatusWorking       = "PostgresDB is configured and working"
	StatusNotWorking    = "PostgresDB is not working"
	StatusNotConfigured = "PostgresDB is not configured"
)

// DBStatus is the tri-state outcome of the history health check.
type DBStatus struct {
	Available bool
	Status    string
}

// Working reports whether mutations should be mirrored to the remote store.
func (s DBStatus) Working() bool {
	return s.Available && s.Status == StatusWorking
}

// HistoryEnsure probes the history backend. The classification mirrors the
// response shape: a body carrying a message means a configured and reachable
// store, a 500 means configured but broken, anything else means unconfigured.
// Probe transport failures classify as not configured.
func (c *Client) HistoryEnsure(ctx context.Context) DBStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/ensure", nil)
	if err != nil {
		return DBStatus{Status: StatusNotConfigured}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return DBStatus{Status: StatusNotConfigured}
	}
	defer drainClose(resp)

	var body struct {
		Message string `json:"message"`
	}
	status := StatusNotConfigured
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		status = StatusWorking
	} else if resp.StatusCode == http.StatusInternalServerError {
		status = StatusNotWorking
	}
	return DBStatus{
		Available: resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status:    status,
	}
}

// ConversationSummary is one entry of the remote conversation list. Messages
// are fetched separately through HistoryRead.
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"createdAt"`
}

// HistoryList fetches the stored conversation index.
func (c *Client) HistoryList(ctx context.Context) ([]ConversationSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/list", nil)
	if err != nil {
		return nil, fmt.Errorf("build history list request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	defer drainClose(resp)
	var out []ConversationSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("history list decode: %w", err)
	}
	return out, nil
}

// HistoryRead fetches the messages of one stored conversation.
func (c *Client) HistoryRead(ctx context.Context, conversationID string) ([]chat.Message, error) {
	resp, err := c.postJSON(ctx, "/history/read", map[string]any{"conversation_id": conversationID})
	if err != nil {
		return nil, err
	}
	defer drainClose(resp)
	var body struct {
		Messages []struct {
			ID            string   `json:"id"`
			Role          chat.Role `json:"role"`
			Content       string   `json:"content"`
			CreatedAt     string   `json:"createdAt"`
			IdentifiedPII []string `json:"identified_pii"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("history read decode: %w", err)
	}
	out := make([]chat.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		out = append(out, chat.Message{
			ID:            m.ID,
			Role:          m.Role,
			Content:       m.Content,
			Date:          m.CreatedAt,
			IdentifiedPII: m.IdentifiedPII,
		})
	}
	return out, nil
}

func (c *Client) simpleHistoryCall(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// HistoryDelete removes one stored conversation.
func (c *Client) HistoryDelete(ctx context.Context, conversationID string) error {
	return c.simpleHistoryCall(ctx, http.MethodDelete, "/history/delete", map[string]any{"conversation_id": conversationID})
}

// HistoryDeleteAll removes every stored conversation.
func (c *Client) HistoryDeleteAll(ctx context.Context) error {
	return c.simpleHistoryCall(ctx, http.MethodDelete, "/history/delete_all", map[string]any{})
}

// HistoryClear removes the messages of one stored conversation but keeps it.
func (c *Client) HistoryClear(ctx context.Context, conversationID string) error {
	return c.simpleHistoryCall(ctx, http.MethodPost, "/history/clear", map[string]any{"conversation_id": conversationID})
}

// HistoryRename retitles one stored conversation.
func (c *Client) HistoryRename(ctx context.Context, conversationID, title string) error {
	return c.simpleHistoryCall(ctx, http.MethodPost, "/history/rename", map[string]any{
		"conversation_id": conversationID,
		"title":           title,
	})
}
