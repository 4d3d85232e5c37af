// Package ws serves players and spectators over websocket. Each connection
// joins the game with a connect frame and then streams actions in and game
// messages out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/game"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	pongWait         = 60 * time.Second
	outQueue         = 64
)

type Server struct {
	game *game.Game
	log  *log.Entry

	limit rate.Limit
	burst int
	newID func() string
	// pongWait bounds how long a connection may stay silent, pongs included.
	// Pings go out at 9/10 of it.
	pongWait time.Duration

	upgrader websocket.Upgrader
}

func NewServer(g *game.Game, logger *log.Entry) *Server {
	rl := g.Tuning().RateLimits
	s := &Server{
		game:  g,
		log:   logger,
		limit: rate.Limit(rl.ActionsPerSecond),
		burst: rl.Burst,
		newID:    uuid.NewString,
		pongWait: pongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.limit <= 0 {
		s.limit = rate.Inf
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	return s
}

type conn struct {
	ws       *websocket.Conn
	playerID string
	connID   string
	out      chan []byte
	limiter  *rate.Limiter
	log      *log.Entry
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wc, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.WithError(err).Debug("upgrade")
			return
		}
		defer wc.Close()

		c := s.handshake(r.Context(), wc)
		if c == nil {
			return
		}
		c.log.Info("connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.writeLoop(ctx, cancel, s.pongWait*9/10)
		s.readLoop(ctx, c)

		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
		s.game.Disconnect(leaveCtx, game.LeaveRequest{ConnID: c.connID, Out: c.out})
		leaveCancel()
		c.log.Info("disconnected")
	}
}

func (s *Server) handshake(ctx context.Context, wc *websocket.Conn) *conn {
	_ = wc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := wc.ReadMessage()
	if err != nil {
		return nil
	}
	var hello protocol.Action
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeConnect {
		closeWith(wc, websocket.ClosePolicyViolation, "expected connect")
		return nil
	}
	if hello.PlayerID == "" {
		hello.PlayerID = s.newID()
	}
	if hello.Name == "" {
		hello.Name = hello.PlayerID
	}

	out := make(chan []byte, outQueue)
	resp, err := s.game.Join(ctx, game.JoinRequest{
		PlayerID:    hello.PlayerID,
		Name:        hello.Name,
		RecruiterID: hello.RecruiterID,
		Out:         out,
	})
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		code := protocol.ErrInternal
		switch {
		case errors.Is(err, game.ErrGameFull):
			code = protocol.ErrGameFull
		case errors.Is(err, game.ErrGameOver):
			code = protocol.ErrGameOver
		}
		_ = writeJSON(wc, protocol.RejectionMsg{Type: protocol.TypeActionError, PlayerID: hello.PlayerID, Code: code, Message: err.Error()})
		closeWith(wc, websocket.CloseTryAgainLater, code)
		return nil
	}
	if err := writeJSON(wc, resp.Welcome); err != nil {
		return nil
	}
	return &conn{
		ws:       wc,
		playerID: resp.Welcome.PlayerID,
		connID:   resp.ConnID,
		out:      out,
		limiter:  rate.NewLimiter(s.limit, s.burst),
		log:      s.log.WithFields(log.Fields{"player": resp.Welcome.PlayerID, "conn": resp.ConnID}),
	}
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	_ = c.ws.SetReadDeadline(time.Now().Add(s.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var a protocol.Action
		if err := json.Unmarshal(msg, &a); err != nil || a.Type == "" {
			c.reject(protocol.ErrProtoBadRequest, "malformed action")
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.pongWait))
		// Spectators only watch; a repeated connect is ignored.
		if c.playerID == protocol.Spectator || a.Type == protocol.TypeConnect {
			continue
		}
		if !c.limiter.Allow() {
			c.reject(protocol.ErrRateLimit, "too many actions")
			continue
		}
		a.PlayerID = c.playerID
		if err := s.game.Submit(ctx, a); err != nil {
			// After game over the writer still owes the client its stop
			// message; keep reading until the client hangs up.
			if errors.Is(err, game.ErrGameOver) {
				continue
			}
			c.log.WithError(err).Warn("submit")
			return
		}
	}
}

func (c *conn) reject(code, msg string) {
	b, err := json.Marshal(protocol.RejectionMsg{Type: protocol.TypeActionError, PlayerID: c.playerID, Code: code, Message: msg})
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
	}
}

func (c *conn) writeLoop(ctx context.Context, cancel context.CancelFunc, pingEvery time.Duration) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				_ = c.ws.Close()
				return
			}
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				_ = c.ws.Close()
				return
			}
			if base, err := protocol.DecodeBase(b); err == nil && base.Type == protocol.TypeStop {
				closeWith(c.ws, websocket.CloseNormalClosure, "game over")
			}
		}
	}
}

func writeJSON(wc *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wc.WriteMessage(websocket.TextMessage, b)
}

func closeWith(wc *websocket.Conn, code int, text string) {
	_ = wc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
