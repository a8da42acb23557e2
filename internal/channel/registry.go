package channel

// Channel is a named topic and the set of agent IDs currently subscribed to
// it. The channel itself has no message bus of its own:
// channel_broadcast fans a message out by iterating this set and sending
// into each agent's own MessageBus.
type Channel struct {
	Name   string
	Agents map[string]struct{}
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, Agents: make(map[string]struct{})}
}
