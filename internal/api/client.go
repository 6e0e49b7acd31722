// Package api is the HTTP client for the chat backend: the streaming
// generation endpoint, the history store, document upload, and the opaque
// menu/identity probes. Streaming requests run on a dedicated client with no
// overall timeout; lifetime is governed by the caller's context.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/config"
)

// Client talks to the backend API.
type Client struct {
	baseURL   string
	http      *http.Client
	streaming *http.Client
}

// New builds a client from configuration.
func New(cfg config.BackendConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		http:      &http.Client{Timeout: timeout},
		streaming: &http.Client{},
	}
}

// GenerateRequest is the payload of the streaming generation endpoint.
type GenerateRequest struct {
	Messages       []chat.Message `json:"messages"`
	Filter         string         `json:"filter,omitempty"`
	IsFileUploaded bool           `json:"isFileUploaded,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Generate issues a generation request and hands back the raw response so the
// caller can stream the body. The response is returned even on non-2xx status;
// the caller decides how to fail. Cancel the context to abort mid-stream.
func (c *Client) Generate(ctx context.Context, reqBody GenerateRequest) (*http.Response, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/history/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resp, nil
}

func drainClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// HistoryUpdate upserts the message list of a conversation in the remote
// history store.
func (c *Client) HistoryUpdate(ctx context.Context, conversationID string, messages []chat.Message) error {
	resp, err := c.postJSON(ctx, "/history/update", map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
	if err != nil {
		return err
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("history update: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// UploadResult is the extraction outcome for an uploaded document.
type UploadResult struct {
	Text             string
	FileName         string
	IdentifiedTokens []chat.MaskPosition
	Invalid          string
}

type uploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Text             string              `json:"text"`
		IdentifiedTokens []chat.MaskPosition `json:"identified_tokens"`
	} `json:"data"`
	FileInvalid struct {
		Message string `json:"message"`
	} `json:"fileInvalid"`
}

// UploadFile sends a document as multipart form data together with the
// masking-mode tag and returns the extracted text plus any privacy tokens.
func (c *Client) UploadFile(ctx context.Context, fileName string, content io.Reader, family chat.Family) (*UploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("pdfFile", fileName)
	if err != nil {
		return nil, fmt.Errorf("upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("upload copy: %w", err)
	}
	if err := w.WriteField("filter", string(family)); err != nil {
		return nil, fmt.Errorf("upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/upload-file", &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}
	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("upload decode: %w", err)
	}
	if !decoded.Success {
		if decoded.FileInvalid.Message != "" {
			return &UploadResult{Invalid: decoded.FileInvalid.Message}, nil
		}
		return nil, fmt.Errorf("upload rejected")
	}
	return &UploadResult{
		Text:             decoded.Data.Text,
		FileName:         fileName,
		IdentifiedTokens: decoded.Data.IdentifiedTokens,
		Invalid:          decoded.FileInvalid.Message,
	}, nil
}
