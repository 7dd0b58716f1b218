// Package syncclient is the HTTP client for the game server's move and
// liveness endpoints.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for the server's move-response taxonomy. Anything not
// matching one of these is a transient failure and retried with backoff.
var (
	// ErrConflict is an ordering/validity conflict (HTTP 409). The move may
	// become valid once earlier moves land, so it stays queued.
	ErrConflict = errors.New("move conflict")
	// ErrInvalidMove is a semantically invalid move (HTTP 422). It is
	// permanently discarded.
	ErrInvalidMove = errors.New("invalid move")
)

// Client is an HTTP client for the boardsync server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a new sync client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// MoveRequest is the body for POST /move.
type MoveRequest struct {
	GameID         string          `json:"game_id"`
	Move           json.RawMessage `json:"move"`
	PlayerID       string          `json:"player_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
}

// MoveResponse is the server's acceptance of a move.
type MoveResponse struct {
	ServerSequence int64           `json:"server_sequence"`
	State          json.RawMessage `json:"state,omitempty"`
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// SubmitMove posts a single queued move. A nil error means the server
// accepted it; ErrConflict and ErrInvalidMove classify rejections, any
// other error is transient.
func (c *Client) SubmitMove(req *MoveRequest) (*MoveResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal move: %w", err)
	}

	httpReq, err := http.NewRequest("POST", c.BaseURL+"/move", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var mr MoveResponse
		if len(body) > 0 {
			if err := json.Unmarshal(body, &mr); err != nil {
				return nil, fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return &mr, nil
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrConflict, errorMessage(body))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMove, errorMessage(body))
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(body))
	}
}

// Ping probes the liveness endpoint and returns the round-trip time.
func (c *Client) Ping() (time.Duration, error) {
	req, err := http.NewRequest("HEAD", c.BaseURL+"/ping", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("ping: HTTP %d", resp.StatusCode)
	}
	return time.Since(start), nil
}

func errorMessage(body []byte) string {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		return apiErr.Error()
	}
	return string(body)
}
