// Package session owns the lifetime of one client WebSocket connection:
// the sender/receiver pump pair and the per-agent relay tasks spawned for
// that connection's channel joins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
	"github.com/streamspace-dev/phoenixbridge/internal/protocol"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Session owns one client connection's bus, sender/receiver pumps, and the
// relay tasks (agent bus -> connection bus) for every channel it has
// joined.
type Session struct {
	id   string
	conn *websocket.Conn
	ctl  *channel.Controller

	mu     sync.Mutex
	relays map[string]context.CancelFunc
}

// New allocates a session ID, registers its connection bus with ctl, and
// returns the session. Call Run to actually pump messages.
func New(conn *websocket.Conn, ctl *channel.Controller) *Session {
	id := uuid.NewString()
	ctl.ConnAdd(id)
	return &Session{id: id, conn: conn, ctl: ctl, relays: make(map[string]context.CancelFunc)}
}

// ID returns the connection ID this session was registered under.
func (s *Session) ID() string { return s.id }

// Run blocks for the connection's lifetime: starts the sender and receiver
// pumps, waits for either to exit (peer disconnect, write failure, or ctx
// cancellation), cancels the other, then tears down every relay task and
// routing-table entry this connection owned.
func (s *Session) Run(ctx context.Context, dispatcher *protocol.Dispatcher) {
	log := logger.Session().With().Str("conn_id", s.id).Logger()
	log.Info().Msg("connection established")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	senderDone := make(chan struct{})
	receiverDone := make(chan struct{})

	go func() {
		s.sender(runCtx)
		close(senderDone)
	}()
	go func() {
		s.receiver(runCtx, dispatcher)
		close(receiverDone)
	}()

	select {
	case <-senderDone:
		log.Debug().Msg("sender exited, stopping receiver")
	case <-receiverDone:
		log.Debug().Msg("receiver exited, stopping sender")
	}
	cancel()
	<-senderDone
	<-receiverDone

	s.cleanup()
	log.Info().Msg("connection closed")
}

// sender pumps ChannelMessage values from the connection bus to the
// websocket. A Recv that times out after pingInterval with nothing to send
// is treated as the cue to ping the peer, the same keepalive rhythm the
// gateway's writePump predecessor used with a ticker.
func (s *Session) sender(ctx context.Context) {
	log := logger.Session().With().Str("conn_id", s.id).Logger()
	defer s.conn.Close()

	bus, err := s.ctl.ConnRx(s.id)
	if err != nil {
		log.Error().Err(err).Msg("no connection bus to read from")
		return
	}

	for {
		recvCtx, cancelRecv := context.WithTimeout(ctx, pingInterval)
		msg, err := bus.Recv(recvCtx)
		cancelRecv()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			var lag *channel.LagError
			switch {
			case errors.As(err, &lag):
				log.Warn().Uint64("skipped", lag.Skipped).Msg("connection bus lagged")
				continue
			case errors.Is(err, context.DeadlineExceeded):
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if werr := s.conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
					return
				}
				continue
			default:
				// channel.ErrBusClosed or outer ctx cancellation: connection is going away.
				return
			}
		}

		payload, merr := json.Marshal(msg.Reply)
		if merr != nil {
			log.Error().Err(merr).Msg("failed to encode reply")
			continue
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if werr := s.conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
			log.Debug().Err(werr).Msg("write failed, closing")
			return
		}
	}
}

// receiver reads frames off the websocket and hands each to the
// dispatcher. Pong handling and read-deadline resets live here since this
// goroutine is the connection's sole reader.
func (s *Session) receiver(ctx context.Context, dispatcher *protocol.Dispatcher) {
	log := logger.Session().With().Str("conn_id", s.id).Logger()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		dispatcher.HandleMessage(ctx, s.id, raw)
	}
}

// StartRelay implements protocol.RelayStarter: it spawns the task that
// forwards agentID's bus into this connection's bus, stamping joinRef onto
// every reply, until StopRelay is called or either bus closes.
func (s *Session) StartRelay(connID, agentID, channelName string, joinRef *string) {
	relayCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.relays[agentID] = cancel
	s.mu.Unlock()

	go s.relay(relayCtx, agentID, joinRef)
}

// StopRelay cancels and forgets the relay task for agentID, if any. This
// is what makes phx_leave actually stop delivery instead of leaving the
// relay task running with nothing left to clean it up.
func (s *Session) StopRelay(agentID string) {
	s.mu.Lock()
	cancel, ok := s.relays[agentID]
	if ok {
		delete(s.relays, agentID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Session) relay(ctx context.Context, agentID string, joinRef *string) {
	log := logger.Session().With().Str("conn_id", s.id).Str("agent_id", agentID).Logger()

	agentBus, err := s.ctl.AgentRx(agentID)
	if err != nil {
		log.Warn().Err(err).Msg("relay: agent bus already gone")
		return
	}

	for {
		msg, err := agentBus.Recv(ctx)
		if err != nil {
			var lag *channel.LagError
			if errors.As(err, &lag) {
				log.Warn().Uint64("skipped", lag.Skipped).Msg("agent bus lagged")
				continue
			}
			return
		}
		msg.Reply.JoinRef = joinRef
		if err := s.ctl.ConnSend(s.id, msg); err != nil {
			log.Debug().Err(err).Msg("relay: connection gone, stopping")
			return
		}
	}
}

// cleanup cancels every relay task this session owns and releases its
// routing-table entries.
func (s *Session) cleanup() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.relays))
	for _, cancel := range s.relays {
		cancels = append(cancels, cancel)
	}
	s.relays = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.ctl.ConnCleanup(s.id)
}
