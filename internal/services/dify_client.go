package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	difyRequestTimeout = 30 * time.Second
	difyUploadTimeout  = 60 * time.Second
)

// ChatMessageRequest is a chat turn forwarded to the external API.
type ChatMessageRequest struct {
	EndUserID      string
	ConversationID string
	Query          string
	Inputs         map[string]interface{}
	FileIDs        []string
}

// Usage is the provider-reported token consumption for one answer.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// ChatMessageResponse is the blocking-mode answer from the external API.
type ChatMessageResponse struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	Metadata       struct {
		Usage Usage `json:"usage"`
	} `json:"metadata"`
}

// FileUploadResponse describes a file accepted by the external API.
type FileUploadResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	CreatedAt int64  `json:"created_at"`
}

// APIConversation is a conversation summary held by the external API.
type APIConversation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// APIMessage is one past chat turn held by the external API.
type APIMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Answer         string `json:"answer"`
	CreatedAt      int64  `json:"created_at"`
}

// APIError is a non-2xx reply from the external API, parsed defensively. The
// status code and provider code travel with the error so callers never have
// to sniff message text.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// DifyClient talks to a Dify-style conversational-AI HTTP API. All requests
// carry the service API key; per-user attribution goes through the `user`
// field the API defines for that purpose.
type DifyClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	log          zerolog.Logger
}

func NewDifyClient(apiKey, baseURL string, log zerolog.Logger) *DifyClient {
	return &DifyClient{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: difyRequestTimeout},
		uploadClient: &http.Client{Timeout: difyUploadTimeout},
		log:          log,
	}
}

func (c *DifyClient) SendChatMessage(ctx context.Context, req ChatMessageRequest) (*ChatMessageResponse, error) {
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"inputs":        inputs,
		"query":         req.Query,
		"response_mode": "blocking",
		"user":          req.EndUserID,
	}
	if req.ConversationID != "" {
		body["conversation_id"] = req.ConversationID
	}
	if len(req.FileIDs) > 0 {
		files := make([]map[string]interface{}, 0, len(req.FileIDs))
		for _, id := range req.FileIDs {
			files = append(files, map[string]interface{}{
				"type":            "document",
				"transfer_method": "local_file",
				"upload_file_id":  id,
			})
		}
		body["files"] = files
	}

	var out ChatMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat-messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *DifyClient) UploadFile(ctx context.Context, endUserID, filename string, content io.Reader) (*FileUploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.WriteField("user", endUserID); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.uploadClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseAPIError(resp)
	}

	var out FileUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &out, nil
}

func (c *DifyClient) ListConversations(ctx context.Context, endUserID string, limit int) ([]APIConversation, error) {
	query := url.Values{}
	query.Set("user", endUserID)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Data []APIConversation `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *DifyClient) ListMessages(ctx context.Context, endUserID, conversationID string, limit int) ([]APIMessage, error) {
	query := url.Values{}
	query.Set("user", endUserID)
	query.Set("conversation_id", conversationID)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Data []APIMessage `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/messages?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *DifyClient) RenameConversation(ctx context.Context, endUserID, conversationID, name string) error {
	body := map[string]interface{}{
		"name": name,
		"user": endUserID,
	}
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+conversationID+"/name", body, nil)
}

func (c *DifyClient) DeleteConversation(ctx context.Context, endUserID, conversationID string) error {
	body := map[string]interface{}{
		"user": endUserID,
	}
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+conversationID, body, nil)
}

// Ping checks reachability for the health endpoint.
func (c *DifyClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/info", nil, nil)
}

func (c *DifyClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request to external API failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseAPIError extracts message and code from an error body. Bodies that are
// not the documented JSON shape fall back to a generic "HTTP <status>"
// message; raw provider bodies are never passed through.
func (c *DifyClient) parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		c.log.Debug().Int("status", resp.StatusCode).Msg("external API returned non-JSON error body")
		return apiErr
	}
	if parsed.Message != "" {
		apiErr.Message = parsed.Message
	}
	apiErr.Code = parsed.Code
	return apiErr
}
