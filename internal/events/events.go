// Package events defines the append-only record of a game: state snapshots
// taken every tick and the discrete actions and notifications in between.
package events

import (
	"context"
	"encoding/json"
	"time"
)

type Kind string

const (
	KindState Kind = "state"
	KindEvent Kind = "event"
)

// OriginEnvironment marks events the game produced on its own.
const OriginEnvironment = "environment"

// Field names a top-level key of a state event's details.
type Field string

const (
	FieldPlayers Field = "players"
	FieldWalls   Field = "walls"
	FieldItems   Field = "items"
)

// Notable is the set of discrete event types replay needs besides state.
var Notable = []string{"chat", "new_round", "donation_processed", "color_changed"}

type Event struct {
	ID      int64           `json:"id"`
	Time    time.Time       `json:"time"`
	Kind    Kind            `json:"kind"`
	Origin  string          `json:"origin"`
	GameID  string          `json:"game_id"`
	Details json.RawMessage `json:"details"`
}

// New marshals details into an event.
func New(kind Kind, origin, gameID string, at time.Time, details any) (Event, error) {
	b, err := json.Marshal(details)
	if err != nil {
		return Event{}, err
	}
	return Event{Time: at, Kind: kind, Origin: origin, GameID: gameID, Details: b}, nil
}

// Attrs are the indexable attributes derived from an event's details.
type Attrs struct {
	Type       string
	HasPlayers bool
	HasWalls   bool
	HasItems   bool
}

func (a Attrs) Has(f Field) bool {
	switch f {
	case FieldPlayers:
		return a.HasPlayers
	case FieldWalls:
		return a.HasWalls
	case FieldItems:
		return a.HasItems
	}
	return false
}

// Attrs decodes the indexable attributes. Details that are not a JSON object
// yield the zero Attrs.
func (e Event) Attrs() Attrs {
	var probe struct {
		Type    string          `json:"type"`
		Players json.RawMessage `json:"players"`
		Walls   json.RawMessage `json:"walls"`
		Items   json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(e.Details, &probe); err != nil {
		return Attrs{}
	}
	return Attrs{
		Type:       probe.Type,
		HasPlayers: present(probe.Players),
		HasWalls:   present(probe.Walls),
		HasItems:   present(probe.Items),
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// InWindow reports whether t lies in (after, before].
func InWindow(t, after, before time.Time) bool {
	return t.After(after) && !t.After(before)
}

// Sink accepts events and returns their id.
type Sink interface {
	Append(ctx context.Context, e Event) (int64, error)
}

// Query is what replay needs from a store. Every lookup covers the window
// (after, before].
type Query interface {
	// LatestState returns the most recent state event carrying field.
	LatestState(ctx context.Context, field Field, after, before time.Time) (Event, bool, error)
	// ByTypes returns discrete events whose type is in types, oldest first.
	ByTypes(ctx context.Context, types []string, after, before time.Time) ([]Event, error)
	// Range returns every event, oldest first.
	Range(ctx context.Context, after, before time.Time) ([]Event, error)
}

type Store interface {
	Sink
	Query
}
