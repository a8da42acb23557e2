package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		{Type: ResponseEmpty},
		{Type: ResponseJoin},
		{Type: ResponseHeartbeat},
		{Type: ResponseDatetime, Datetime: "2026-07-31T00:00:00Z", Counter: 42},
		{Type: ResponseMessage, Message: "hello"},
	}
	for _, want := range cases {
		raw, err := json.Marshal(want)
		require.NoError(t, err)

		var got Response
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, want, got)
	}
}

func TestResponseUnmarshalUnknownType(t *testing.T) {
	var r Response
	err := json.Unmarshal([]byte(`{"type":"bogus"}`), &r)
	assert.Error(t, err)
}

func TestReplyMessageRoundTrip(t *testing.T) {
	joinRef := "1"
	want := ReplyMessage{
		JoinRef:  &joinRef,
		EventRef: "2",
		Topic:    "room:lobby",
		Event:    "phx_reply",
		Payload: ReplyPayload{
			Status:   "ok",
			Response: Response{Type: ResponseEmpty},
		},
	}
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &arr))
	require.Len(t, arr, 5)

	var got ReplyMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, want, got)
}

func TestReplyMessageNilJoinRef(t *testing.T) {
	want := OkReply(nil, "3", "phoenix")
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var got ReplyMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Nil(t, got.JoinRef)
	assert.Equal(t, "3", got.EventRef)
}

func TestReplyMessageRejectsWrongArity(t *testing.T) {
	var m ReplyMessage
	err := json.Unmarshal([]byte(`["1","2","topic","event"]`), &m)
	assert.Error(t, err)
}

func TestOkAndErrorReplyStatus(t *testing.T) {
	assert.Equal(t, "ok", OkReply(nil, "1", "t").Payload.Status)
	assert.Equal(t, "error", ErrorReply(nil, "1", "t").Payload.Status)
}
