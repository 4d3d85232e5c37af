package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"griduniverse/internal/protocol"
)

type ClientConfig struct {
	URL      string
	PlayerID string
	Name     string
	Policy   Policy
	Rand     *rand.Rand
	Log      *log.Entry

	// Keys are pressed at exponentially distributed intervals with this
	// mean, capped at MaxKeyInterval.
	MeanKeyInterval time.Duration
	MaxKeyInterval  time.Duration
}

// Client plays one connection until the game stops or ctx ends.
type Client struct {
	cfg  ClientConfig
	conn *websocket.Conn
	view *View
}

func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Policy == nil {
		return nil, errors.New("bot: policy required")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Log == nil {
		cfg.Log = log.WithField("component", "bot")
	}
	if cfg.MeanKeyInterval <= 0 {
		cfg.MeanKeyInterval = time.Second
	}
	if cfg.MaxKeyInterval <= 0 {
		cfg.MaxKeyInterval = 10 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c := &Client{cfg: cfg, conn: conn}
	if err := conn.WriteJSON(protocol.Action{Type: protocol.TypeConnect, PlayerID: cfg.PlayerID, Name: cfg.Name}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connect: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for c.view == nil {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("await welcome: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				conn.Close()
				return nil, err
			}
			c.view = NewView(w)
		case protocol.TypeActionError:
			var rej protocol.RejectionMsg
			_ = json.Unmarshal(msg, &rej)
			conn.Close()
			return nil, fmt.Errorf("join refused: %s", rej.Code)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return c, nil
}

func (c *Client) PlayerID() string { return c.view.PlayerID }

// Run reads state and presses keys until the server sends stop, the
// connection drops or ctx is canceled. Keys are only pressed once a state
// with the bot on the grid has arrived.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close()
	states := make(chan protocol.StateMsg, 1)
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(states) }()

	timer := time.NewTimer(c.wait())
	defer timer.Stop()
	ready := false
	sent := 0
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			c.cfg.Log.WithField("actions", sent).Info("finished")
			return err
		case st := <-states:
			c.view.Observe(st)
			_, ready = c.view.Me()
		case <-timer.C:
			if ready {
				a := c.cfg.Policy.Next(c.view)
				a.PlayerID = c.view.PlayerID
				if err := c.conn.WriteJSON(a); err != nil {
					return fmt.Errorf("send action: %w", err)
				}
				sent++
			}
			timer.Reset(c.wait())
		}
	}
}

// readLoop forwards the newest state and returns nil on stop.
func (c *Client) readLoop(states chan protocol.StateMsg) error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeStop:
			return nil
		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			select {
			case <-states:
			default:
			}
			states <- st
		case protocol.TypeMoveRejection, protocol.TypeActionError, protocol.TypeConsumeError:
			var rej protocol.RejectionMsg
			if err := json.Unmarshal(msg, &rej); err == nil && rej.PlayerID == c.view.PlayerID {
				c.cfg.Log.WithFields(log.Fields{"type": rej.Type, "code": rej.Code}).Debug("rejected")
			}
		}
	}
}

func (c *Client) wait() time.Duration {
	d := time.Duration(c.cfg.Rand.ExpFloat64() * float64(c.cfg.MeanKeyInterval))
	return time.Duration(math.Min(float64(d), float64(c.cfg.MaxKeyInterval)))
}
