package protocol

// Action is any client -> server message. Only the fields relevant to Type
// are set; the rest stay zero.
type Action struct {
	Type       string  `json:"type"`
	PlayerID   string  `json:"player_id,omitempty"`
	ServerTime float64 `json:"server_time,omitempty"`

	// connect
	Name        string `json:"name,omitempty"`
	RecruiterID string `json:"recruiter_id,omitempty"`

	// move
	Move      string   `json:"move,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	Actual    string   `json:"actual,omitempty"`

	// chat
	Contents  string `json:"contents,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`

	// change_color
	Color string `json:"color,omitempty"`

	// donation_submitted
	DonorID     string  `json:"donor_id,omitempty"`
	RecipientID string  `json:"recipient_id,omitempty"`
	Amount      float64 `json:"amount,omitempty"`

	// plant_food, build_wall, item_*
	Position *[2]int `json:"position,omitempty"`

	// toggle_visible
	IdentityVisible *bool `json:"identity_visible,omitempty"`
}

// WELCOME (server -> client), the answer to connect.
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        string         `json:"player_id"`
	GameID          string         `json:"game_id"`
	Rows            int            `json:"rows"`
	Columns         int            `json:"columns"`
	NumColors       int            `json:"num_colors"`
	Colors          []string       `json:"colors"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	ItemsDigest       string `json:"items_digest"`
	TransitionsDigest string `json:"transitions_digest"`
	ItemCount         int    `json:"item_count"`
}

type StateMsg struct {
	Type          string    `json:"type"`
	Grid          GridState `json:"grid"`
	Count         int       `json:"count"`
	RemainingTime float64   `json:"remaining_time"`
	Round         int       `json:"round"`
}

type ChatMsg struct {
	Type    string `json:"type"`
	Message Action `json:"message"`
}

type ColorChangedMsg struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	OldColor string `json:"old_color"`
	NewColor string `json:"new_color"`
}

type WallBuiltMsg struct {
	Type string    `json:"type"`
	Wall WallState `json:"wall"`
}

type DonationProcessedMsg struct {
	Type        string  `json:"type"`
	DonorID     string  `json:"donor_id"`
	RecipientID string  `json:"recipient_id"`
	Amount      float64 `json:"amount"`
	Received    float64 `json:"received"`
}

type NewRoundMsg struct {
	Type  string `json:"type"`
	Round int    `json:"round"`
}

type StopMsg struct {
	Type string `json:"type"`
}

// RejectionMsg covers move_rejection, action_error and consume_error.
type RejectionMsg struct {
	Type       string     `json:"type"`
	PlayerID   string     `json:"player_id"`
	Code       string     `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
	Position   *[2]int    `json:"position,omitempty"`
	Item       *ItemState `json:"item"`
	PlayerItem *ItemState `json:"player_item"`
}
