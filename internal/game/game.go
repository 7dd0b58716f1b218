// Package game defines the contract between the sync engine and the
// external rules engine. The engine never interprets board contents; it
// treats boards and moves as opaque JSON and delegates legality checks and
// move application to a Rules implementation supplied by the host.
package game

import (
	"encoding/json"
	"reflect"
	"time"
)

// Move is an opaque move description produced by the UI layer.
type Move = json.RawMessage

// Rules is the external rules-engine collaborator. Both methods must be
// pure: no I/O, no mutation of the inputs.
type Rules interface {
	// IsLegal reports whether the move may be applied to the board.
	IsLegal(board json.RawMessage, move Move) bool
	// Apply returns the board that results from applying the move.
	Apply(board json.RawMessage, move Move) (json.RawMessage, error)
}

// AuxField is an auxiliary, non-board piece of game state (clocks, draw
// offers) carried alongside the board and merged independently of it.
type AuxField struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot is a full game state: the board plus auxiliary fields.
type Snapshot struct {
	Board json.RawMessage     `json:"board"`
	Aux   map[string]AuxField `json:"aux,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Board: append(json.RawMessage(nil), s.Board...)}
	if s.Aux != nil {
		out.Aux = make(map[string]AuxField, len(s.Aux))
		for k, v := range s.Aux {
			out.Aux[k] = AuxField{
				Value:     append(json.RawMessage(nil), v.Value...),
				UpdatedAt: v.UpdatedAt,
			}
		}
	}
	return out
}

// BoardsEqual compares two board representations structurally, ignoring
// key order and whitespace. Unparseable boards fall back to a byte
// comparison.
func BoardsEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}
