package channel

import (
	"encoding/json"
	"fmt"
)

// ResponseType discriminates the tagged Response sum type carried by every
// phx_reply and broadcast frame.
type ResponseType string

const (
	ResponseEmpty     ResponseType = "null"
	ResponseJoin      ResponseType = "join"
	ResponseHeartbeat ResponseType = "heartbeat"
	ResponseDatetime  ResponseType = "datetime"
	ResponseMessage   ResponseType = "message"
)

// Response is the payload carried by a ReplyMessage's phx_reply / broadcast
// event. Only the fields relevant to Type are populated; MarshalJSON/
// UnmarshalJSON enforce that.
type Response struct {
	Type     ResponseType
	Datetime string
	Counter  uint32
	Message  string
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case ResponseDatetime:
		return json.Marshal(struct {
			Type     ResponseType `json:"type"`
			Datetime string       `json:"datetime"`
			Counter  uint32       `json:"counter"`
		}{r.Type, r.Datetime, r.Counter})
	case ResponseMessage:
		return json.Marshal(struct {
			Type    ResponseType `json:"type"`
			Message string       `json:"message"`
		}{r.Type, r.Message})
	case ResponseEmpty, ResponseJoin, ResponseHeartbeat:
		return json.Marshal(struct {
			Type ResponseType `json:"type"`
		}{r.Type})
	default:
		return nil, fmt.Errorf("channel: unknown response type %q", r.Type)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type ResponseType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("channel: decode response: %w", err)
	}

	switch probe.Type {
	case ResponseDatetime:
		var v struct {
			Datetime string `json:"datetime"`
			Counter  uint32 `json:"counter"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("channel: decode datetime response: %w", err)
		}
		*r = Response{Type: ResponseDatetime, Datetime: v.Datetime, Counter: v.Counter}
	case ResponseMessage:
		var v struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("channel: decode message response: %w", err)
		}
		*r = Response{Type: ResponseMessage, Message: v.Message}
	case ResponseEmpty, ResponseJoin, ResponseHeartbeat:
		*r = Response{Type: probe.Type}
	default:
		return fmt.Errorf("channel: unknown response type %q", probe.Type)
	}
	return nil
}

// ReplyPayload is the payload object carried in element 4 of a server-to-client frame.
type ReplyPayload struct {
	Status   string   `json:"status"`
	Response Response `json:"response"`
}

// ReplyMessage is a server-to-client frame: the 5-tuple
// [join_ref, event_ref, topic, event, payload].
type ReplyMessage struct {
	JoinRef  *string
	EventRef string
	Topic    string
	Event    string
	Payload  ReplyPayload
}

func (m ReplyMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]interface{}{m.JoinRef, m.EventRef, m.Topic, m.Event, m.Payload})
}

func (m *ReplyMessage) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("channel: reply frame is not a JSON array: %w", err)
	}
	if len(raw) != 5 {
		return fmt.Errorf("channel: reply frame has %d elements, want 5", len(raw))
	}
	var joinRef *string
	if err := json.Unmarshal(raw[0], &joinRef); err != nil {
		return fmt.Errorf("channel: decode join_ref: %w", err)
	}
	var eventRef, topic, event string
	if err := json.Unmarshal(raw[1], &eventRef); err != nil {
		return fmt.Errorf("channel: decode event_ref: %w", err)
	}
	if err := json.Unmarshal(raw[2], &topic); err != nil {
		return fmt.Errorf("channel: decode topic: %w", err)
	}
	if err := json.Unmarshal(raw[3], &event); err != nil {
		return fmt.Errorf("channel: decode event: %w", err)
	}
	var payload ReplyPayload
	if err := json.Unmarshal(raw[4], &payload); err != nil {
		return fmt.Errorf("channel: decode payload: %w", err)
	}
	*m = ReplyMessage{JoinRef: joinRef, EventRef: eventRef, Topic: topic, Event: event, Payload: payload}
	return nil
}

// ChannelMessage is the single kind of message that flows through a
// MessageBus. Kept as a struct, not a bare ReplyMessage, to leave room for
// a second variant later without breaking callers.
type ChannelMessage struct {
	Reply ReplyMessage
}

// OkReply builds the ack frame sent for a successful phx_join, phx_leave, or heartbeat.
func OkReply(joinRef *string, eventRef, topic string) ReplyMessage {
	return ReplyMessage{
		JoinRef:  joinRef,
		EventRef: eventRef,
		Topic:    topic,
		Event:    "phx_reply",
		Payload: ReplyPayload{
			Status:   "ok",
			Response: Response{Type: ResponseEmpty},
		},
	}
}

// ErrorReply builds the phx_reply error frame for a failed join or leave.
func ErrorReply(joinRef *string, eventRef, topic string) ReplyMessage {
	return ReplyMessage{
		JoinRef:  joinRef,
		EventRef: eventRef,
		Topic:    topic,
		Event:    "phx_reply",
		Payload: ReplyPayload{
			Status:   "error",
			Response: Response{Type: ResponseEmpty},
		},
	}
}
