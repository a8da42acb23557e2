package bus

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
)

// broadcaster is the subset of *channel.Controller a Producer needs, kept
// as an interface so tests can supply a fake without standing up a full
// Controller.
type broadcaster interface {
	ChannelBroadcast(name string, msg channel.ChannelMessage) (int, error)
}

// Producer subscribes to a bus topic and rebroadcasts whatever arrives
// there into a local channel, stamping each outgoing frame with an
// auto-incrementing event_ref taken from a caller-supplied counter;
// producers handed the same counter draw their event_refs from one
// monotonic sequence.
type Producer struct {
	bus         *Bus
	broadcaster broadcaster
	channelName string
	event       string
	counter     *atomic.Uint64
}

// NewProducer builds a producer that relays InboundTopic(channelName,
// event) into channelName via ctl. counter is shared across every producer
// and in-process caller that stamps event_ref for this gateway instance.
func NewProducer(b *Bus, ctl broadcaster, channelName, event string, counter *atomic.Uint64) *Producer {
	return &Producer{bus: b, broadcaster: ctl, channelName: channelName, event: event, counter: counter}
}

// Run subscribes to the producer's topic and blocks, rebroadcasting
// incoming payloads until ctx is cancelled or the subscription errors.
func (p *Producer) Run(ctx context.Context) error {
	topic := InboundTopic(p.channelName, p.event)
	sub, err := p.bus.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	log := logger.Bus()
	log.Info().Str("topic", topic).Msg("producer subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			p.deliver(msg.Payload)
		}
	}
}

// deliver decodes a single bus payload into a Response and broadcasts it.
// Malformed payloads are logged and dropped rather than killing the
// producer loop — one bad publish on the external bus should not take the
// whole inbound path down.
func (p *Producer) deliver(payload string) {
	log := logger.Bus()

	var resp channel.Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		log.Warn().Err(err).Str("channel", p.channelName).Msg("dropping malformed bus payload")
		return
	}

	ref := p.counter.Add(1)
	reply := channel.ReplyMessage{
		JoinRef:  nil,
		EventRef: strconv.FormatUint(ref, 10),
		Topic:    p.channelName,
		Event:    p.event,
		Payload: channel.ReplyPayload{
			Status:   "ok",
			Response: resp,
		},
	}

	sent, err := p.broadcaster.ChannelBroadcast(p.channelName, channel.ChannelMessage{Reply: reply})
	if err != nil {
		log.Warn().Err(err).Str("channel", p.channelName).Msg("bus-driven broadcast failed")
		return
	}
	log.Debug().Str("channel", p.channelName).Int("subscribers", sent).Msg("relayed bus message")
}
