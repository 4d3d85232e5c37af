package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GridState is the serialized world. Walls and Items are pointers so that an
// omitted field ("unchanged") can be told apart from an empty one.
type GridState struct {
	Players        []PlayerState `json:"players"`
	Round          int           `json:"round"`
	DonationActive bool          `json:"donation_active"`
	Rows           int           `json:"rows"`
	Columns        int           `json:"columns"`
	Walls          *[]WallState  `json:"walls,omitempty"`
	Items          *[]ItemState  `json:"items,omitempty"`
}

type PlayerState struct {
	ID               string     `json:"id"`
	Position         [2]int     `json:"position"`
	Score            float64    `json:"score"`
	Payoff           float64    `json:"payoff"`
	Color            string     `json:"color"`
	MotionAuto       bool       `json:"motion_auto"`
	MotionDirection  string     `json:"motion_direction"`
	MotionSpeedLimit float64    `json:"motion_speed_limit"`
	MotionTimestamp  float64    `json:"motion_timestamp"`
	Name             string     `json:"name"`
	IdentityVisible  bool       `json:"identity_visible"`
	RecruiterID      string     `json:"recruiter_id"`
	CurrentItem      *ItemState `json:"current_item"`
}

// ItemState is one item. Position is null while a player carries it;
// Maturity is informational and ignored on load.
type ItemState struct {
	ID                int64   `json:"id"`
	ItemID            string  `json:"item_id"`
	Position          *[2]int `json:"position"`
	Maturity          float64 `json:"maturity"`
	CreationTimestamp float64 `json:"creation_timestamp"`
	RemainingUses     int     `json:"remaining_uses"`
}

// DefaultWallColor is the grey every generated wall gets.
var DefaultWallColor = [3]float64{0.5, 0.5, 0.5}

// WallState encodes as a bare [row,col] when the color is the default and as
// {"position":..,"color":..} otherwise. Both forms decode.
type WallState struct {
	Position [2]int
	Color    [3]float64
}

type wallObject struct {
	Position [2]int     `json:"position"`
	Color    [3]float64 `json:"color"`
}

func (w WallState) MarshalJSON() ([]byte, error) {
	if w.Color == DefaultWallColor {
		return json.Marshal(w.Position)
	}
	return json.Marshal(wallObject{Position: w.Position, Color: w.Color})
}

func (w *WallState) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty wall")
	}
	switch b[0] {
	case '[':
		w.Color = DefaultWallColor
		return json.Unmarshal(b, &w.Position)
	case '{':
		o := wallObject{Color: DefaultWallColor}
		if err := json.Unmarshal(b, &o); err != nil {
			return err
		}
		w.Position, w.Color = o.Position, o.Color
		return nil
	}
	return fmt.Errorf("wall must be an array or object, got %s", b)
}
