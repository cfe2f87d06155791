package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomTypeConstants(t *testing.T) {
	assert.Equal(t, RoomType("direct"), RoomTypeDirect)
	assert.Equal(t, RoomType("group"), RoomTypeGroup)
}

func TestInvitationStatusConstants(t *testing.T) {
	assert.Equal(t, InvitationStatus("pending"), InvitationPending)
	assert.Equal(t, InvitationStatus("accepted"), InvitationAccepted)
	assert.Equal(t, InvitationStatus("declined"), InvitationDeclined)
}

func TestMessageValidate_Valid(t *testing.T) {
	m := Message{RoomID: "room-1", Content: "hello", MessageType: MessageTypeText}
	assert.NoError(t, m.Validate())
}

func TestMessageValidate_EmptyContent(t *testing.T) {
	m := Message{RoomID: "room-1", Content: "", MessageType: MessageTypeText}
	assert.Error(t, m.Validate())
}

func TestMessageValidate_TooLong(t *testing.T) {
	m := Message{RoomID: "room-1", Content: strings.Repeat("a", MaxMessageContentLength+1), MessageType: MessageTypeText}
	assert.Error(t, m.Validate())
}

func TestMessageValidate_UnknownType(t *testing.T) {
	m := Message{RoomID: "room-1", Content: "hello", MessageType: MessageType("video")}
	assert.Error(t, m.Validate())
}

func TestMessageValidate_SystemType(t *testing.T) {
	m := Message{RoomID: "room-1", Content: "x joined", MessageType: MessageTypeSystem}
	assert.NoError(t, m.Validate())
}

func TestTypingFrame_FalseIsNotOmitted(t *testing.T) {
	data, err := json.Marshal(NewTypingFrame("room-1", 7, "Anh", false))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"is_typing":false`)
	assert.Contains(t, string(data), `"type":"typing"`)
}

func TestUnreadUpdatedFrame_ZeroIsNotOmitted(t *testing.T) {
	data, err := json.Marshal(NewUnreadUpdatedFrame("room-1", 0))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"unread_count":0`)
}

func TestMessageFrame_TimestampIsRFC3339(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	frame := NewMessageFrame(Message{
		ID:          "m-1",
		RoomID:      "room-1",
		SenderID:    42,
		Content:     "hi",
		MessageType: MessageTypeText,
		CreatedAt:   created,
	}, "Anh Pham")

	assert.Equal(t, "2025-06-01T12:30:00Z", frame.CreatedAt)
	assert.Equal(t, "Anh Pham", frame.SenderName)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	// nil metadata must vanish from the wire
	assert.NotContains(t, string(data), "metadata")
}

func TestClientFrame_Unmarshal(t *testing.T) {
	raw := `{"type":"message","room_id":"room-1","content":"hi","message_type":"text","metadata":{"k":"v"}}`
	var frame ClientFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))
	assert.Equal(t, ClientFrameMessage, frame.Type)
	assert.Equal(t, "room-1", frame.RoomID)
	assert.JSONEq(t, `{"k":"v"}`, string(frame.Metadata))
}

func TestConnectionReplacedFrame_CarriesNotice(t *testing.T) {
	frame := NewConnectionReplacedFrame()
	assert.Equal(t, FrameConnectionReplaced, frame.Type)
	assert.Equal(t, ConnectionReplacedNotice, frame.Message)
}

func TestPongFrame(t *testing.T) {
	data, err := json.Marshal(NewPongFrame())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}
