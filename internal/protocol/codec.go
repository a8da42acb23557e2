// Package protocol decodes client-to-server frames and dispatches them:
// heartbeat acks, phx_join/phx_leave lifecycle, and the unconditional
// republish of every frame onto the external bus.
package protocol

import (
	"encoding/json"
	"fmt"
)

// RequestPayloadKind discriminates the untagged payload shapes a client may
// send: {"token": "..."} for phx_join, {"message": "..."} for a passthrough
// chat-style message, or any other JSON object opaquely forwarded to the
// bus. A payload that is not a JSON object (or null) fails to decode.
type RequestPayloadKind int

const (
	PayloadRaw RequestPayloadKind = iota
	PayloadJoin
	PayloadMessage
)

// RequestPayload holds element 4 of an incoming frame. Raw always holds the
// exact bytes received, so the gateway can republish the payload unchanged
// regardless of which (if any) of the known shapes it matched.
type RequestPayload struct {
	Kind    RequestPayloadKind
	Token   string
	Message string
	Raw     json.RawMessage
}

func (p *RequestPayload) UnmarshalJSON(data []byte) error {
	raw := append(json.RawMessage(nil), data...)

	var probe struct {
		Token   *string `json:"token"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}

	switch {
	case probe.Token != nil:
		*p = RequestPayload{Kind: PayloadJoin, Token: *probe.Token, Raw: raw}
	case probe.Message != nil:
		*p = RequestPayload{Kind: PayloadMessage, Message: *probe.Message, Raw: raw}
	default:
		*p = RequestPayload{Kind: PayloadRaw, Raw: raw}
	}
	return nil
}

func (p RequestPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("{}"), nil
	}
	return p.Raw, nil
}

// RequestMessage is a client-to-server frame: the 5-tuple
// [join_ref, event_ref, topic, event, payload].
type RequestMessage struct {
	JoinRef  *string
	EventRef string
	Topic    string
	Event    string
	Payload  RequestPayload
}

func (m RequestMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]interface{}{m.JoinRef, m.EventRef, m.Topic, m.Event, m.Payload})
}

func (m *RequestMessage) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: request frame is not a JSON array: %w", err)
	}
	if len(raw) != 5 {
		return fmt.Errorf("protocol: request frame has %d elements, want 5", len(raw))
	}

	var joinRef *string
	if err := json.Unmarshal(raw[0], &joinRef); err != nil {
		return fmt.Errorf("protocol: decode join_ref: %w", err)
	}
	var eventRef, topic, event string
	if err := json.Unmarshal(raw[1], &eventRef); err != nil {
		return fmt.Errorf("protocol: decode event_ref: %w", err)
	}
	if err := json.Unmarshal(raw[2], &topic); err != nil {
		return fmt.Errorf("protocol: decode topic: %w", err)
	}
	if err := json.Unmarshal(raw[3], &event); err != nil {
		return fmt.Errorf("protocol: decode event: %w", err)
	}
	var payload RequestPayload
	if err := json.Unmarshal(raw[4], &payload); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}

	*m = RequestMessage{JoinRef: joinRef, EventRef: eventRef, Topic: topic, Event: event, Payload: payload}
	return nil
}
