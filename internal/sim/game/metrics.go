package game

import "time"

// Metrics is a read-only view of the game loop, refreshed after every tick
// and safe to read from any goroutine.
type Metrics struct {
	Tick          uint64  `json:"tick"`
	Round         int     `json:"round"`
	Started       bool    `json:"started"`
	Over          bool    `json:"over"`
	RemainingTime float64 `json:"remaining_time"`

	Players    int `json:"players"`
	Connected  int `json:"connected"`
	Clients    int `json:"clients"`
	Spectators int `json:"spectators"`

	Items         int `json:"items"`
	Walls         int `json:"walls"`
	ItemsConsumed int `json:"items_consumed"`

	QueueDepths QueueDepths `json:"queue_depths"`

	EventsRecorded uint64  `json:"events_recorded"`
	EventsFailed   uint64  `json:"events_failed"`
	Broadcasts     int     `json:"broadcasts"`
	StepMS         float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (g *Game) Metrics() Metrics {
	if g == nil {
		return Metrics{}
	}
	m, _ := g.metrics.Load().(Metrics)
	return m
}

func (g *Game) publishMetrics(step time.Duration) {
	m := Metrics{
		Tick:           g.tick,
		Round:          g.grid.Round,
		Started:        g.grid.GameStarted(),
		Over:           g.over,
		RemainingTime:  g.grid.RemainingRoundTime(),
		Players:        g.grid.NumPlayers(),
		Items:          len(g.grid.Items()),
		Walls:          len(g.grid.WallPositions()),
		ItemsConsumed:  g.grid.ItemsConsumed,
		EventsRecorded: g.recorded,
		EventsFailed:   g.recordFail,
		Broadcasts:     g.broadcasts,
		StepMS:         float64(step.Microseconds()) / 1000,
		QueueDepths: QueueDepths{
			Inbox: len(g.inbox),
			Join:  len(g.join),
			Leave: len(g.leave),
		},
	}
	for _, p := range g.grid.Players() {
		if p.Connected {
			m.Connected++
		}
	}
	for _, c := range g.clients {
		if c.spectator {
			m.Spectators++
		} else {
			m.Clients++
		}
	}
	g.metrics.Store(m)
}
