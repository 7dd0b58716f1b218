package game

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBoardsEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", `{"board":[1,2,3]}`, `{"board":[1,2,3]}`, true},
		{"key order", `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"whitespace", `{"a": 1}`, `{"a":1}`, true},
		{"different values", `{"a":1}`, `{"a":2}`, false},
		{"different shapes", `{"a":1}`, `[1]`, false},
		{"nested equal", `{"a":{"b":[1,2]}}`, `{"a":{"b":[1,2]}}`, true},
		{"nested differ", `{"a":{"b":[1,2]}}`, `{"a":{"b":[2,1]}}`, false},
		{"unparseable equal bytes", `not json`, `not json`, true},
		{"unparseable differ", `not json`, `also not json`, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := BoardsEqual(json.RawMessage(c.a), json.RawMessage(c.b))
			if got != c.want {
				t.Errorf("BoardsEqual(%s, %s): got %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestSnapshotClone(t *testing.T) {
	orig := Snapshot{
		Board: json.RawMessage(`{"pieces":[1,2]}`),
		Aux: map[string]AuxField{
			"clock": {
				Value:     json.RawMessage(`{"white":300}`),
				UpdatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			},
		},
	}

	clone := orig.Clone()

	if string(clone.Board) != string(orig.Board) {
		t.Errorf("board mismatch: %s", clone.Board)
	}
	if len(clone.Aux) != 1 {
		t.Fatalf("aux fields: got %d, want 1", len(clone.Aux))
	}

	// mutating the clone must not touch the original
	clone.Board[2] = 'X'
	if string(orig.Board) == string(clone.Board) {
		t.Error("clone shares board backing array")
	}
	cv := clone.Aux["clock"]
	cv.Value[2] = 'X'
	if string(orig.Aux["clock"].Value) == string(cv.Value) {
		t.Error("clone shares aux value backing array")
	}
}

func TestSnapshotCloneNilAux(t *testing.T) {
	orig := Snapshot{Board: json.RawMessage(`[]`)}
	clone := orig.Clone()
	if clone.Aux != nil {
		t.Error("clone invented an aux map")
	}
}
