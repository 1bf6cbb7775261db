package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCarriesSeqAndPayload(t *testing.T) {
	ev, err := NewTranscript(RoleCustomer, "what is covered?", 0.87)
	require.NoError(t, err)
	ev.SessionID = "s1"
	ev.Seq = 7
	ev.Timestamp = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	env, err := Encode(ev)
	require.NoError(t, err)

	assert.Equal(t, TypeTranscriptNew, env.EventType)
	assert.Equal(t, "s1", env.SessionID)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Equal(t, "2025-03-01T12:00:00Z", env.Timestamp)

	var payload TranscriptPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, RoleCustomer, payload.Speaker)
	assert.Equal(t, "what is covered?", payload.Text)
}

func TestConnectionScopedEnvelopeOmitsSeq(t *testing.T) {
	env := NewErrorEnvelope("s1", ErrSessionClosed)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"seq"`)
}

func TestDecodeInboundTranscript(t *testing.T) {
	raw := []byte(`{"event_type":"transcript.new","session_id":"ignored","data":{"text":"hello there","confidence":0.9}}`)

	in, err := DecodeInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello there", in.Text)
	assert.Equal(t, 0.9, in.Confidence)
}

func TestDecodeInboundRejectsOtherTypes(t *testing.T) {
	for _, typ := range []string{TypeAIAnswer, TypeSessionEnded, "made.up", ""} {
		raw := []byte(`{"event_type":"` + typ + `","data":{"text":"x"}}`)
		_, err := DecodeInbound(raw)
		assert.ErrorIs(t, err, ErrInvalidInput, "type %q must be rejected", typ)
	}
}

func TestDecodeInboundRejectsMalformed(t *testing.T) {
	_, err := DecodeInbound([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = DecodeInbound([]byte(`{"event_type":"transcript.new","data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidInput, "empty text must be rejected")
}

func TestErrorEnvelopeCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrSessionNotFound, "not_found"},
		{ErrSessionClosed, "session_closed"},
		{ErrInvalidState, "invalid_state"},
		{ErrInvalidInput, "invalid_input"},
		{ErrUpstreamUnavailable, "upstream_unavailable"},
		{assert.AnError, "internal"},
	}

	for _, tt := range tests {
		env := NewErrorEnvelope("s1", tt.err)
		var data ErrorData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, tt.code, data.Code)
	}
}

func TestNewTranscriptValidation(t *testing.T) {
	_, err := NewTranscript(RoleCustomer, "", 0.9)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTranscript(RoleSystem, "text", 0.9)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStaffOnlyVisibility(t *testing.T) {
	assert.True(t, StaffOnly(TypeAIProcessing))
	assert.True(t, StaffOnly(TypeRAGContext))
	assert.True(t, StaffOnly(TypeAIAnswer))

	assert.False(t, StaffOnly(TypeTranscriptNew))
	assert.False(t, StaffOnly(TypeParticipantJoined))
	assert.False(t, StaffOnly(TypeParticipantLeft))
	assert.False(t, StaffOnly(TypeSessionEnded))
}
