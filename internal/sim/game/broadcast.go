package game

import (
	"encoding/json"
	"time"

	"griduniverse/internal/protocol"
)

// Items are resent in full every this many broadcasts, changed or not.
const itemsRefreshEvery = 50

func unixSeconds(t time.Time) float64 { return float64(t.UnixMilli()) / 1e3 }

func encode(v any) ([]byte, error) { return json.Marshal(v) }

// publish fans a message out to every connected client.
func (g *Game) publish(msg any) {
	b, err := encode(msg)
	if err != nil {
		g.log.WithError(err).Error("encode message")
		return
	}
	for _, c := range g.clients {
		if c.out != nil {
			sendLatest(c.out, b)
		}
	}
}

// BroadcastOnce sends one state message. Walls go out the first time and
// whenever the player count changes; items additionally when they changed
// and periodically. Nothing is sent once the game is over.
func (g *Game) BroadcastOnce() {
	if g.finalSent {
		return
	}
	n := g.grid.NumPlayers()
	g.broadcasts++
	countChanged := n != g.lastPlayerCount
	includeWalls := countChanged || !g.wallsSent
	includeItems := countChanged || g.broadcasts%itemsRefreshEvery == 0 || g.lastItems == nil || g.grid.ItemsChanged(g.lastItems)

	st := g.grid.Serialize(includeWalls, includeItems)
	if st.Items != nil {
		g.lastItems = *st.Items
	}
	if includeWalls {
		g.wallsSent = true
	}
	g.lastPlayerCount = n
	g.publish(protocol.StateMsg{
		Type:          protocol.TypeState,
		Grid:          st,
		Count:         g.broadcasts,
		RemainingTime: g.grid.RemainingRoundTime(),
		Round:         g.grid.Round,
	})
	g.finalSent = g.over
}

// sendLatest never blocks: when the client is behind, its oldest queued
// message is dropped to make room.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
