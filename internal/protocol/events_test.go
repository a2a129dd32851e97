package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Decoding a single received message event
// ---------------------------------------------------------------------------

func TestDecode_SingleEvent(t *testing.T) {
	input := []byte(`{"type":"receivedMessage","messageId":42,"sendingUserId":"0xabc","text":"hello","chatRoomId":"0xowner","timestamp":1700000000}`)

	events, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != KindReceivedMessage {
		t.Errorf("expected type %q, got %q", KindReceivedMessage, ev.Type)
	}
	if ev.MessageID == nil || *ev.MessageID != 42 {
		t.Errorf("expected messageId 42, got %v", ev.MessageID)
	}
	if ev.SendingUserID == nil || *ev.SendingUserID != "0xabc" {
		t.Errorf("expected sendingUserId %q, got %v", "0xabc", ev.SendingUserID)
	}
	if ev.Text == nil || *ev.Text != "hello" {
		t.Errorf("expected text %q, got %v", "hello", ev.Text)
	}
	if ev.ChatRoomID != "0xowner" {
		t.Errorf("expected chatRoomId %q, got %q", "0xowner", ev.ChatRoomID)
	}
}

// ---------------------------------------------------------------------------
// Test: Optional fields stay absent rather than defaulting to zero values
// ---------------------------------------------------------------------------

func TestDecode_AbsentFieldsAreNil(t *testing.T) {
	input := []byte(`{"type":"userJoined","chatRoomId":"0xowner"}`)

	events, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.MessageID != nil {
		t.Errorf("expected nil messageId, got %v", *ev.MessageID)
	}
	if ev.SendingUserID != nil {
		t.Errorf("expected nil sendingUserId, got %q", *ev.SendingUserID)
	}
	if ev.Text != nil {
		t.Errorf("expected nil text, got %q", *ev.Text)
	}
	if ev.Timestamp != nil {
		t.Errorf("expected nil timestamp, got %v", *ev.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Test: Array frames decode element by element
// ---------------------------------------------------------------------------

func TestDecode_ArrayFrame(t *testing.T) {
	input := []byte(`[{"type":"receivedMessage","text":"one"},{"type":"receivedMessage","text":"two"}]`)

	events, err := Decode(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if *events[0].Text != "one" || *events[1].Text != "two" {
		t.Errorf("unexpected texts: %q, %q", *events[0].Text, *events[1].Text)
	}
}

func TestDecode_ArrayKeepsValidElements(t *testing.T) {
	input := []byte(`[{"type":"receivedMessage","text":"ok"},{"text":"no type"},{"type":"receivedMessage","text":"also ok"}]`)

	events, err := Decode(input)
	if err == nil {
		t.Fatal("expected an error for the invalid element, got nil")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 surviving events, got %d", len(events))
	}
	if *events[0].Text != "ok" || *events[1].Text != "also ok" {
		t.Errorf("unexpected texts: %q, %q", *events[0].Text, *events[1].Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Liveness probe produces no events and no error
// ---------------------------------------------------------------------------

func TestDecode_LivenessProbe(t *testing.T) {
	events, err := Decode([]byte("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for probe, got %d", len(events))
	}
}

func TestIsLivenessProbe(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"1", true},
		{`"1"`, false},
		{" 1", false},
		{"11", false},
		{"", false},
		{`{"type":"receivedMessage"}`, false},
	}
	for _, tc := range cases {
		if got := IsLivenessProbe([]byte(tc.input)); got != tc.want {
			t.Errorf("IsLivenessProbe(%q): expected %v, got %v", tc.input, tc.want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Structurally invalid payloads fail cleanly
// ---------------------------------------------------------------------------

func TestDecode_InvalidPayloads(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unterminated_object", `{"type":"receivedMessage"`},
		{"unterminated_array", `[{"type":"receivedMessage"}`},
		{"missing_type", `{"text":"hi"}`},
		{"empty", ``},
		{"whitespace", `   `},
		{"bare_number", `2`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, err := Decode([]byte(tc.input))
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if len(events) != 0 {
				t.Errorf("expected no events, got %d", len(events))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Outbound reply construction and round-trip fidelity
// ---------------------------------------------------------------------------

func TestNewReply_Shape(t *testing.T) {
	msgID := int64(99)
	out := NewReply("0xowner", "hey there", &msgID)

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["action"] != ActionSendMessage {
		t.Errorf("expected action %q, got %v", ActionSendMessage, result["action"])
	}
	if result["text"] != `"hey there"` {
		t.Errorf("expected quoted text, got %v", result["text"])
	}
	if result["chatRoomId"] != "0xowner" {
		t.Errorf("expected chatRoomId %q, got %v", "0xowner", result["chatRoomId"])
	}
	paths, ok := result["imagePaths"].([]interface{})
	if !ok {
		t.Fatalf("expected imagePaths to be an array, got %T", result["imagePaths"])
	}
	if len(paths) != 0 {
		t.Errorf("expected empty imagePaths, got %v", paths)
	}
	id, ok := result["replyingToMessageId"].(float64)
	if !ok || int64(id) != 99 {
		t.Errorf("expected replyingToMessageId 99, got %v", result["replyingToMessageId"])
	}
}

func TestNewReply_NoTarget(t *testing.T) {
	out := NewReply("0xowner", "hi", nil)

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if _, present := result["replyingToMessageId"]; present {
		t.Error("expected replyingToMessageId to be omitted when nil")
	}
}

func TestRoundTrip_OutboundThroughDecoder(t *testing.T) {
	msgID := int64(7)
	out := NewReply("0xroom", `with "escapes" and \backslashes\`, &msgID)

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded OutboundMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Text != out.Text {
		t.Errorf("text mismatch: expected %q, got %q", out.Text, decoded.Text)
	}
	if decoded.ChatRoomID != out.ChatRoomID {
		t.Errorf("chatRoomId mismatch: expected %q, got %q", out.ChatRoomID, decoded.ChatRoomID)
	}
	if decoded.ReplyingToMessageID == nil || *decoded.ReplyingToMessageID != 7 {
		t.Errorf("replyingToMessageId mismatch: got %v", decoded.ReplyingToMessageID)
	}
}
