package grid

import (
	"errors"

	"griduniverse/internal/protocol"
)

var (
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrNoEmptyCell     = errors.New("no empty cell")
	ErrUnknownItemType = errors.New("unknown item type")
)

var DefaultWallColor = protocol.DefaultWallColor

// IllegalMoveError is an expected rejection of a move request. Nothing was
// mutated when it is returned.
type IllegalMoveError struct {
	Code   string
	Reason string
}

func (e *IllegalMoveError) Error() string { return "illegal move: " + e.Reason }

// ActionError is an expected rejection of any other player action. Kind is
// the notification type the client should see (action_error or
// consume_error).
type ActionError struct {
	Kind   string
	Code   string
	Reason string
}

func (e *ActionError) Error() string { return e.Kind + ": " + e.Reason }

func actionErr(code, reason string) *ActionError {
	return &ActionError{Kind: protocol.TypeActionError, Code: code, Reason: reason}
}

func consumeErr(code, reason string) *ActionError {
	return &ActionError{Kind: protocol.TypeConsumeError, Code: code, Reason: reason}
}
