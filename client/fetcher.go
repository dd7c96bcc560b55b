package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akinalp/convo/models"
)

// Fetcher is the direct-read path the reconciliation protocol falls back
// on, plus the send call whose response carries the persisted message.
type Fetcher interface {
	FetchRoom(ctx context.Context, conversationID int64) (*models.RoomData, error)
	SendMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.MessagePayload, error)
}

// APIError is a non-2xx response from the HTTP API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration // set on 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// HTTPFetcher talks to the REST API with a bearer token.
type HTTPFetcher struct {
	BaseURL string // e.g. http://localhost:9090
	Token   string
	HTTP    *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchRoom calls GET /api/conversations/{id}.
func (f *HTTPFetcher) FetchRoom(ctx context.Context, conversationID int64) (*models.RoomData, error) {
	var room models.RoomData
	path := "/api/conversations/" + strconv.FormatInt(conversationID, 10)
	if err := f.do(ctx, http.MethodGet, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// SendMessage calls POST /api/messages.
func (f *HTTPFetcher) SendMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.MessagePayload, error) {
	var msg models.MessagePayload
	if err := f.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *HTTPFetcher) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, f.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Message: env.Error}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	return json.Unmarshal(env.Data, out)
}
