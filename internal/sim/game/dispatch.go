package game

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"griduniverse/internal/events"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/grid"
)

type handlerFunc func(g *Game, a *protocol.Action) error

var handlers = map[string]handlerFunc{
	protocol.TypeConnect:        (*Game).handleConnect,
	protocol.TypeDisconnect:     (*Game).handleDisconnect,
	protocol.TypeChat:           (*Game).handleChat,
	protocol.TypeChangeColor:    (*Game).handleChangeColor,
	protocol.TypeMove:           (*Game).handleMove,
	protocol.TypeDonation:       (*Game).handleDonation,
	protocol.TypePlantFood:      (*Game).handlePlantFood,
	protocol.TypeToggleVisible:  (*Game).handleToggleVisible,
	protocol.TypeBuildWall:      (*Game).handleBuildWall,
	protocol.TypeItemPickUp:     (*Game).handleItemPickUp,
	protocol.TypeItemConsume:    (*Game).handleItemConsume,
	protocol.TypeItemTransition: (*Game).handleItemTransition,
	protocol.TypeItemDrop:       (*Game).handleItemDrop,
}

// Dispatch applies one inbound message. Rule violations are reported to
// clients and return nil; an error means the message could not be handled
// at all (unknown type or player).
func (g *Game) Dispatch(a protocol.Action) error {
	h, ok := handlers[a.Type]
	if !ok {
		return fmt.Errorf("unknown message type %q", a.Type)
	}
	if g.cfg.Replay && a.Type != protocol.TypeConnect && a.Type != protocol.TypeDisconnect {
		g.log.WithField("type", a.Type).Debug("ignored during replay")
		return nil
	}
	if a.PlayerID != "" {
		a.ServerTime = unixSeconds(g.now())
	}
	if err := h(g, &a); err != nil {
		return err
	}
	if a.PlayerID != "" {
		g.record(events.KindEvent, a.PlayerID, a)
	}
	return nil
}

// rejected turns an expected rule violation into a client notification.
// Anything else is passed back to the caller.
func (g *Game) rejected(a *protocol.Action, err error) error {
	if err == nil {
		return nil
	}
	var me *grid.IllegalMoveError
	if errors.As(err, &me) {
		g.reject(protocol.TypeMoveRejection, me.Code, me.Reason, a)
		return nil
	}
	var ae *grid.ActionError
	if errors.As(err, &ae) {
		g.reject(ae.Kind, ae.Code, ae.Reason, a)
		return nil
	}
	return err
}

func (g *Game) reject(kind, code, reason string, a *protocol.Action) {
	g.log.WithFields(log.Fields{"player": a.PlayerID, "type": a.Type, "code": code}).Debug(reason)
	msg := protocol.RejectionMsg{Type: kind, PlayerID: a.PlayerID, Code: code, Message: reason}
	p, ok := g.grid.Player(a.PlayerID)
	if ok {
		pos := p.Pos
		if a.Position != nil {
			pos = geom.P(a.Position[0], a.Position[1])
		}
		arr := [2]int{pos.Row, pos.Col}
		msg.Position = &arr
		msg.Item = g.grid.ItemState(g.grid.ItemAt(pos))
		msg.PlayerItem = g.grid.ItemState(p.CurrentItem)
	}
	g.publish(msg)
}

// position reads the target cell of an action, reporting a bad request
// when it is missing.
func (g *Game) position(a *protocol.Action) (geom.Pos, bool) {
	if a.Position == nil {
		g.reject(protocol.TypeActionError, protocol.ErrBadRequest, "position required", a)
		return geom.Pos{}, false
	}
	return geom.P(a.Position[0], a.Position[1]), true
}

func (g *Game) handleConnect(a *protocol.Action) error {
	_, err := g.grid.SpawnPlayer(a.PlayerID, grid.SpawnOptions{Name: a.Name, RecruiterID: a.RecruiterID, ColorIdx: -1})
	if err != nil {
		return fmt.Errorf("spawn %s: %w", a.PlayerID, err)
	}
	g.log.WithField("player", a.PlayerID).Info("player connected")
	return nil
}

func (g *Game) handleDisconnect(a *protocol.Action) error {
	if g.cfg.Replay {
		return nil
	}
	if err := g.grid.SetConnected(a.PlayerID, false); err != nil {
		return err
	}
	g.log.WithField("player", a.PlayerID).Info("player disconnected")
	return nil
}

func (g *Game) handleChat(a *protocol.Action) error {
	if _, ok := g.grid.Player(a.PlayerID); !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownPlayer, a.PlayerID)
	}
	g.grid.AppendChat(grid.ChatEntry{PlayerID: a.PlayerID, Time: a.ServerTime, Contents: a.Contents})
	if !a.Broadcast {
		g.publish(protocol.ChatMsg{Type: protocol.TypeChat, Message: *a})
	}
	return nil
}

func (g *Game) handleChangeColor(a *protocol.Action) error {
	cc, err := g.grid.ChangeColor(a.PlayerID, a.Color)
	if err != nil {
		return g.rejected(a, err)
	}
	if !cc.Changed {
		return nil
	}
	msg := protocol.ColorChangedMsg{Type: protocol.TypeColorChanged, PlayerID: a.PlayerID, OldColor: cc.OldColor, NewColor: cc.NewColor}
	g.publish(msg)
	g.record(events.KindEvent, events.OriginEnvironment, msg)
	return nil
}

func (g *Game) handleMove(a *protocol.Action) error {
	res, err := g.grid.Move(a.PlayerID, geom.Direction(a.Move), a.Timestamp)
	if err != nil {
		return g.rejected(a, err)
	}
	if !res.Moved {
		return nil
	}
	a.Actual = string(res.Direction)
	if res.Wall != nil {
		msg := protocol.WallBuiltMsg{
			Type: protocol.TypeWallBuilt,
			Wall: protocol.WallState{Position: [2]int{res.Wall.Pos.Row, res.Wall.Pos.Col}, Color: res.Wall.Color},
		}
		g.publish(msg)
		g.record(events.KindEvent, events.OriginEnvironment, msg)
	}
	return nil
}

func (g *Game) handleDonation(a *protocol.Action) error {
	donor := a.DonorID
	if donor == "" {
		donor = a.PlayerID
	}
	d, err := g.grid.Donate(donor, a.RecipientID, a.Amount)
	if err != nil {
		return g.rejected(a, err)
	}
	msg := protocol.DonationProcessedMsg{
		Type:        protocol.TypeDonationProcessed,
		DonorID:     donor,
		RecipientID: a.RecipientID,
		Amount:      a.Amount,
		Received:    d.Received,
	}
	g.publish(msg)
	g.record(events.KindEvent, events.OriginEnvironment, msg)
	return nil
}

func (g *Game) handlePlantFood(a *protocol.Action) error {
	pos, ok := g.position(a)
	if !ok {
		return nil
	}
	_, err := g.grid.Plant(a.PlayerID, pos)
	return g.rejected(a, err)
}

func (g *Game) handleToggleVisible(a *protocol.Action) error {
	if a.IdentityVisible == nil {
		g.reject(protocol.TypeActionError, protocol.ErrBadRequest, "identity_visible required", a)
		return nil
	}
	return g.grid.SetIdentityVisible(a.PlayerID, *a.IdentityVisible)
}

func (g *Game) handleBuildWall(a *protocol.Action) error {
	pos, ok := g.position(a)
	if !ok {
		return nil
	}
	return g.rejected(a, g.grid.BuildWall(a.PlayerID, pos))
}

func (g *Game) handleItemPickUp(a *protocol.Action) error {
	pos, ok := g.position(a)
	if !ok {
		return nil
	}
	_, err := g.grid.PickUp(a.PlayerID, pos)
	return g.rejected(a, err)
}

func (g *Game) handleItemConsume(a *protocol.Action) error {
	_, err := g.grid.ConsumeHeld(a.PlayerID)
	return g.rejected(a, err)
}

func (g *Game) handleItemTransition(a *protocol.Action) error {
	pos, ok := g.position(a)
	if !ok {
		return nil
	}
	_, err := g.grid.Transition(a.PlayerID, pos)
	return g.rejected(a, err)
}

func (g *Game) handleItemDrop(a *protocol.Action) error {
	pos, ok := g.position(a)
	if !ok {
		return nil
	}
	return g.rejected(a, g.grid.Drop(a.PlayerID, pos))
}
