package syncclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func moveServer(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/move" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %s", ct)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestSubmitMoveAccepted(t *testing.T) {
	c := moveServer(t, http.StatusOK, `{"server_sequence":42,"state":{"board":[1]}}`)

	resp, err := c.SubmitMove(&MoveRequest{
		GameID:         "game-1",
		Move:           json.RawMessage(`{"from":"e2","to":"e4"}`),
		PlayerID:       "guest-a",
		SequenceNumber: 1,
		Timestamp:      time.Now(),
	})
	if err != nil {
		t.Fatalf("SubmitMove failed: %v", err)
	}
	if resp.ServerSequence != 42 {
		t.Errorf("server sequence: got %d, want 42", resp.ServerSequence)
	}
	if string(resp.State) != `{"board":[1]}` {
		t.Errorf("state: %s", resp.State)
	}
}

func TestSubmitMoveAcceptedEmptyBody(t *testing.T) {
	c := moveServer(t, http.StatusNoContent, "")

	resp, err := c.SubmitMove(&MoveRequest{GameID: "game-1", Move: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("SubmitMove failed: %v", err)
	}
	if resp.ServerSequence != 0 {
		t.Errorf("server sequence: got %d, want 0", resp.ServerSequence)
	}
}

func TestSubmitMoveConflict(t *testing.T) {
	c := moveServer(t, http.StatusConflict, `{"code":"sequence_conflict","message":"out of order"}`)

	_, err := c.SubmitMove(&MoveRequest{GameID: "game-1", Move: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of order") {
		t.Errorf("server message lost: %v", err)
	}
}

func TestSubmitMoveInvalid(t *testing.T) {
	c := moveServer(t, http.StatusUnprocessableEntity, `{"code":"illegal_move","message":"piece cannot move there"}`)

	_, err := c.SubmitMove(&MoveRequest{GameID: "game-1", Move: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Error("422 must not classify as conflict")
	}
}

func TestSubmitMoveServerErrorIsTransient(t *testing.T) {
	c := moveServer(t, http.StatusInternalServerError, "boom")

	_, err := c.SubmitMove(&MoveRequest{GameID: "game-1", Move: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidMove) {
		t.Errorf("500 must stay transient: %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("status missing from error: %v", err)
	}
}

func TestSubmitMoveNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1")
	c.HTTP.Timeout = time.Second

	_, err := c.SubmitMove(&MoveRequest{GameID: "game-1", Move: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidMove) {
		t.Errorf("network error must stay transient: %v", err)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "HEAD" || r.URL.Path != "/ping" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	latency, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if latency <= 0 {
		t.Errorf("latency: got %v, want > 0", latency)
	}
}

func TestPingErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Ping(); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestPingUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	c.HTTP.Timeout = time.Second

	if _, err := c.Ping(); err == nil {
		t.Fatal("expected error for unreachable host")
	}
}
