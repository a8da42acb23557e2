package channel

import (
	"strings"
	"sync"

	"github.com/streamspace-dev/phoenixbridge/internal/apperrors"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
)

// Controller is the single mutex-guarded owner of the three routing tables:
// channels by name, agents by composite ID, and connections by ID. Every
// operation here is a short, non-blocking read-modify-write under one lock
// — the heavy lifting (actually moving bytes) happens on the MessageBus
// values the tables hand back.
type Controller struct {
	mu          sync.Mutex
	channels    map[string]*Channel
	agents      map[string]*MessageBus
	connections map[string]*MessageBus
}

// NewController returns an empty routing-table set.
func NewController() *Controller {
	return &Controller{
		channels:    make(map[string]*Channel),
		agents:      make(map[string]*MessageBus),
		connections: make(map[string]*MessageBus),
	}
}

// ChannelAdd registers a channel name. Idempotent: adding a channel that
// already exists is a no-op.
func (c *Controller) ChannelAdd(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		c.channels[name] = newChannel(name)
		logger.Channel().Debug().Str("channel", name).Msg("channel added")
	}
}

// ConnAdd creates a connection bus for connID. Calling it again for a
// connection ID already in use closes the previous bus before replacing it,
// so no goroutine is left reading from an orphaned bus.
func (c *Controller) ConnAdd(connID string) *MessageBus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.connections[connID]; ok {
		old.Close()
	}
	bus := NewMessageBus(DefaultBacklog)
	c.connections[connID] = bus
	return bus
}

// ConnRx returns the receiver endpoint for a connection's bus.
func (c *Controller) ConnRx(connID string) (*MessageBus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bus, ok := c.connections[connID]
	if !ok {
		return nil, apperrors.ConnectionNotFound(connID)
	}
	return bus, nil
}

// ConnTx returns a cloneable sender handle for a connection's bus. The
// MessageBus pointer itself is the handle: Send is safe for concurrent use.
func (c *Controller) ConnTx(connID string) (*MessageBus, error) {
	return c.ConnRx(connID)
}

// ConnSend delivers msg to connID's bus, failing only if the connection is
// not registered at all.
func (c *Controller) ConnSend(connID string, msg ChannelMessage) error {
	c.mu.Lock()
	bus, ok := c.connections[connID]
	c.mu.Unlock()
	if !ok {
		return apperrors.ConnectionNotFound(connID)
	}
	bus.Send(msg)
	return nil
}

// ConnCleanup tears down a connection: closes its bus, and closes/removes
// every agent whose composite ID belongs to it (conn_id:channel:join_ref),
// leaving each of those agents' channels along the way. This is driven
// entirely by string-prefix matching on the agent ID, not by a live
// back-reference from Connection to its agents, so it can run unilaterally
// without walking channel objects.
func (c *Controller) ConnCleanup(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bus, ok := c.connections[connID]; ok {
		bus.Close()
		delete(c.connections, connID)
	}

	prefix := connID + ":"
	for agentID, bus := range c.agents {
		if !strings.HasPrefix(agentID, prefix) {
			continue
		}
		bus.Close()
		delete(c.agents, agentID)
		if channelName, ok := channelNameFromAgentID(agentID); ok {
			if ch, ok := c.channels[channelName]; ok {
				delete(ch.Agents, agentID)
			}
		}
	}
	logger.Channel().Debug().Str("conn_id", connID).Msg("connection cleaned up")
}

// AgentAdd creates an agent bus for agentID. Idempotent.
func (c *Controller) AgentAdd(agentID string) *MessageBus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bus, ok := c.agents[agentID]; ok {
		return bus
	}
	bus := NewMessageBus(DefaultBacklog)
	c.agents[agentID] = bus
	return bus
}

// AgentRx returns the receiver endpoint for an agent's bus.
func (c *Controller) AgentRx(agentID string) (*MessageBus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bus, ok := c.agents[agentID]
	if !ok {
		return nil, apperrors.AgentNotFound(agentID)
	}
	return bus, nil
}

// AgentRm closes and removes an agent's bus. Idempotent: removing an agent
// that is already gone is a no-op.
func (c *Controller) AgentRm(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bus, ok := c.agents[agentID]; ok {
		bus.Close()
		delete(c.agents, agentID)
	}
}

// ChannelJoin adds agentID to name's subscriber set. Returns
// apperrors.ChannelNotFound if name was never registered via ChannelAdd —
// join does not auto-create the channel.
func (c *Controller) ChannelJoin(name, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		return apperrors.ChannelNotFound(name)
	}
	ch.Agents[agentID] = struct{}{}
	return nil
}

// ChannelLeave removes agentID from name's subscriber set. Idempotent: a
// missing channel or an agent not currently in it is a no-op.
func (c *Controller) ChannelLeave(name, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		delete(ch.Agents, agentID)
	}
}

// ChannelBroadcast fans msg out to every agent currently subscribed to
// name, returning the number of agents it was handed to. Broadcasting to a
// channel with zero subscribers returns (0, nil); broadcasting to a channel
// that was never registered returns apperrors.ChannelNotFound.
func (c *Controller) ChannelBroadcast(name string, msg ChannelMessage) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		return 0, apperrors.ChannelNotFound(name)
	}
	sent := 0
	for agentID := range ch.Agents {
		if bus, ok := c.agents[agentID]; ok {
			bus.Send(msg)
			sent++
		}
	}
	return sent, nil
}

// channelNameFromAgentID splits the conn_id:channel_name:join_ref
// composite ID format used throughout the gateway. The channel name is
// everything between the first and the last ':', so channel names that
// themselves contain ':' (e.g. "room:lobby") are recovered intact.
func channelNameFromAgentID(agentID string) (string, bool) {
	first := strings.Index(agentID, ":")
	last := strings.LastIndex(agentID, ":")
	if first < 0 || last <= first {
		return "", false
	}
	return agentID[first+1 : last], true
}

// AgentID builds the composite agent identifier used to key the agents
// table, given the owning connection, the channel it joined, and the
// join_ref from the phx_join request.
func AgentID(connID, channelName, joinRef string) string {
	return connID + ":" + channelName + ":" + joinRef
}
