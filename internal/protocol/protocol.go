package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server message types.
const (
	TypeConnect        = "connect"
	TypeDisconnect     = "disconnect"
	TypeChat           = "chat"
	TypeChangeColor    = "change_color"
	TypeMove           = "move"
	TypeDonation       = "donation_submitted"
	TypePlantFood      = "plant_food"
	TypeToggleVisible  = "toggle_visible"
	TypeBuildWall      = "build_wall"
	TypeItemPickUp     = "item_pick_up"
	TypeItemConsume    = "item_consume"
	TypeItemTransition = "item_transition"
	TypeItemDrop       = "item_drop"
)

// Server -> client message types.
const (
	TypeWelcome           = "welcome"
	TypeState             = "state"
	TypeColorChanged      = "color_changed"
	TypeWallBuilt         = "wall_built"
	TypeDonationProcessed = "donation_processed"
	TypeNewRound          = "new_round"
	TypeStop              = "stop"
	TypeMoveRejection     = "move_rejection"
	TypeActionError       = "action_error"
	TypeConsumeError      = "consume_error"
)

// Spectator is the player id used by viewers that do not get an avatar.
const Spectator = "spectator"

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
