package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrGameFull        = "E_GAME_FULL"
	ErrGameOver        = "E_GAME_OVER"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownPlayer = "E_UNKNOWN_PLAYER"
	ErrWaitTime      = "E_WAIT_TIME"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrBlocked       = "E_BLOCKED"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNoTransition  = "E_NO_TRANSITION"
	ErrTooFewActors  = "E_TOO_FEW_ACTORS"
	ErrNotAdjacent   = "E_NOT_ADJACENT"
	ErrHandsFull     = "E_HANDS_FULL"
	ErrHandsEmpty    = "E_HANDS_EMPTY"
	ErrNotEdible     = "E_NOT_EDIBLE"
	ErrDisabled      = "E_DISABLED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRateLimit:       {},
	ErrGameFull:        {},
	ErrGameOver:        {},
	ErrBadRequest:      {},
	ErrUnknownPlayer:   {},
	ErrWaitTime:        {},
	ErrNoResource:      {},
	ErrBlocked:         {},
	ErrInvalidTarget:   {},
	ErrNoTransition:    {},
	ErrTooFewActors:    {},
	ErrNotAdjacent:     {},
	ErrHandsFull:       {},
	ErrHandsEmpty:      {},
	ErrNotEdible:       {},
	ErrDisabled:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
