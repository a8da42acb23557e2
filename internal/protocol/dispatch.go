package protocol

import (
	"context"
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/streamspace-dev/phoenixbridge/internal/bus"
	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
)

// RelayStarter is implemented by the session package's per-connection
// supervisor. Dispatcher calls StartRelay once a join has registered the
// agent in the channel's subscriber set, so the relay task (agent bus ->
// connection bus) is already running before the ok reply reaches the
// client, and calls StopRelay on leave so a joined agent's relay task
// never outlives its subscription.
type RelayStarter interface {
	StartRelay(connID, agentID, channelName string, joinRef *string)
	StopRelay(agentID string)
}

// Dispatcher turns decoded client frames into routing-table operations,
// conn bus replies, and external bus publishes.
type Dispatcher struct {
	ctl       *channel.Controller
	bus       *bus.Bus
	jwtSecret string
	relay     RelayStarter
}

// NewDispatcher builds a Dispatcher. jwtSecret is accepted and plumbed
// through for symmetry with the rest of the gateway's configuration but is
// never used to reject a join: tokens are decoded, not verified.
func NewDispatcher(ctl *channel.Controller, b *bus.Bus, jwtSecret string, relay RelayStarter) *Dispatcher {
	return &Dispatcher{ctl: ctl, bus: b, jwtSecret: jwtSecret, relay: relay}
}

// HandleMessage decodes one client frame and dispatches it. A frame that
// fails to decode is logged and dropped; the connection is left open.
func (d *Dispatcher) HandleMessage(ctx context.Context, connID string, raw []byte) {
	log := logger.Protocol()

	var rm RequestMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed frame")
		return
	}

	if rm.Topic == "phoenix" && rm.Event == "heartbeat" {
		d.sendReply(connID, channel.OkReply(rm.JoinRef, rm.EventRef, "phoenix"))
		log.Debug().Str("conn_id", connID).Msg("heartbeat processed")
	}

	switch rm.Event {
	case "phx_join":
		d.handleJoin(connID, rm)
	case "phx_leave":
		d.handleLeave(connID, rm)
	}

	// every event is republished regardless of how it was handled above
	d.publishToBus(ctx, rm)
}

func (d *Dispatcher) handleJoin(connID string, rm RequestMessage) {
	log := logger.Protocol()
	if rm.JoinRef == nil {
		log.Warn().Str("conn_id", connID).Str("topic", rm.Topic).Msg("phx_join without join_ref")
		return
	}
	joinRef := *rm.JoinRef
	channelName := rm.Topic
	agentID := channel.AgentID(connID, channelName, joinRef)

	if rm.Payload.Kind == PayloadJoin {
		logJoinToken(log, connID, rm.Payload.Token)
	}

	d.ctl.AgentAdd(agentID)
	if err := d.ctl.ChannelJoin(channelName, agentID); err != nil {
		log.Warn().Err(err).Str("channel", channelName).Msg("join rejected: unknown channel")
		d.ctl.AgentRm(agentID)
		d.sendReply(connID, channel.ErrorReply(rm.JoinRef, rm.EventRef, channelName))
		return
	}

	// Must be running before the ack goes out, or a broadcast racing the
	// join could be missed entirely.
	d.relay.StartRelay(connID, agentID, channelName, rm.JoinRef)

	d.sendReply(connID, channel.OkReply(rm.JoinRef, rm.EventRef, channelName))
	log.Info().Str("agent_id", agentID).Str("channel", channelName).Msg("agent joined")
}

func (d *Dispatcher) handleLeave(connID string, rm RequestMessage) {
	log := logger.Protocol()
	if rm.JoinRef == nil {
		log.Warn().Str("conn_id", connID).Str("topic", rm.Topic).Msg("phx_leave without join_ref")
		return
	}
	agentID := channel.AgentID(connID, rm.Topic, *rm.JoinRef)

	d.relay.StopRelay(agentID)
	d.ctl.ChannelLeave(rm.Topic, agentID)
	d.ctl.AgentRm(agentID)

	d.sendReply(connID, channel.OkReply(rm.JoinRef, rm.EventRef, rm.Topic))
	log.Info().Str("agent_id", agentID).Msg("agent left")
}

func (d *Dispatcher) sendReply(connID string, reply channel.ReplyMessage) {
	if err := d.ctl.ConnSend(connID, channel.ChannelMessage{Reply: reply}); err != nil {
		logger.Protocol().Warn().Err(err).Str("conn_id", connID).Msg("failed to deliver reply: connection gone")
	}
}

func (d *Dispatcher) publishToBus(ctx context.Context, rm RequestMessage) {
	if d.bus == nil || !d.bus.IsEnabled() {
		return
	}
	topic := bus.OutboundTopic(rm.Topic, rm.Event)
	if err := d.bus.Publish(ctx, topic, rm.Payload.Raw); err != nil {
		logger.Protocol().Warn().Err(err).Str("topic", topic).Msg("failed to publish to bus")
	}
}

// logJoinToken decodes a phx_join token's claims for log enrichment only.
// The signature is never checked and the result never gates the join.
func logJoinToken(log *zerolog.Logger, connID, token string) {
	if token == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Msg("join token is not a parseable JWT, ignoring")
		return
	}
	log.Debug().Str("conn_id", connID).Interface("claims", claims).Msg("join token decoded (signature not verified)")
}
