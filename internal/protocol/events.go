// Package protocol defines the wire types exchanged with the remote chat
// server. Inbound frames carry either a single JSON event or a JSON array of
// events; outbound frames are a single JSON action object. A bare "1" frame
// is a liveness probe, not JSON.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Inbound events
// ---------------------------------------------------------------------------

// KindReceivedMessage is the event type carrying a chat message posted to a
// room. Other types exist server-side (presence, trades, etc.) and are
// carried through opaquely.
const KindReceivedMessage = "receivedMessage"

// LivenessProbe is the single-character control frame the server sends to
// check the connection is alive. It is answered at the transport layer and
// must never be interpreted as a chat payload.
const LivenessProbe = "1"

// QuotedMessage is the message being replied to, embedded in an inbound
// event when the sender used the reply feature.
type QuotedMessage struct {
	MessageID     int64  `json:"messageId"`
	SendingUserID string `json:"sendingUserId"`
	TwitterPfpURL string `json:"twitterPfpUrl"`
	TwitterName   string `json:"twitterName"`
	Timestamp     int64  `json:"timestamp"`
	Text          string `json:"text"`
}

// Event is one inbound unit of communication from the chat server. Only Type
// is guaranteed to be present; every other field is optional and modeled as
// a pointer (or nil slice) so that an absent field stays distinguishable
// from a zero value downstream.
type Event struct {
	Type          string         `json:"type"`
	MessageID     *int64         `json:"messageId,omitempty"`
	SendingUserID *string        `json:"sendingUserId,omitempty"`
	TwitterPfpURL *string        `json:"twitterPfpUrl,omitempty"`
	TwitterName   *string        `json:"twitterName,omitempty"`
	Text          *string        `json:"text,omitempty"`
	Timestamp     *int64         `json:"timestamp,omitempty"`
	ChatRoomID    string         `json:"chatRoomId,omitempty"`
	ImageURLs     []string       `json:"imageUrls,omitempty"`
	ReplyingTo    *QuotedMessage `json:"replyingToMessage,omitempty"`
}

// IsLivenessProbe reports whether a raw frame is the server's keepalive
// probe. The comparison is exact: "1" is the probe, `"1"` or ` 1 ` is not.
func IsLivenessProbe(data []byte) bool {
	return len(data) == 1 && data[0] == '1'
}

// Decode parses a raw inbound frame into zero or more events.
//
// A liveness probe yields no events and no error. A JSON array is decoded
// element by element: invalid elements are skipped and reported through the
// returned error while the valid ones are still returned, so a single bad
// element cannot take out the rest of the batch. A single JSON object yields
// exactly one event. Anything else is a decode failure.
func Decode(data []byte) ([]Event, error) {
	if IsLivenessProbe(data) {
		return nil, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("protocol: empty frame")
	}

	if trimmed[0] != '[' {
		ev, err := decodeOne(trimmed)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse event array: %w", err)
	}

	events := make([]Event, 0, len(elems))
	var errs []error
	for i, raw := range elems {
		ev, err := decodeOne(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

// decodeOne decodes a single JSON object into an Event and enforces the one
// hard invariant: the type discriminator must be present.
func decodeOne(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, errors.New("protocol: missing or empty \"type\" field")
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// Outbound messages
// ---------------------------------------------------------------------------

// ActionSendMessage posts a message to a chat room.
const ActionSendMessage = "sendMessage"

// OutboundMessage is the JSON action object sent back to the chat server.
// ImagePaths is always present in the serialized form, empty for text-only
// replies.
type OutboundMessage struct {
	Action              string   `json:"action"`
	Text                string   `json:"text"`
	ImagePaths          []string `json:"imagePaths"`
	ChatRoomID          string   `json:"chatRoomId"`
	ReplyingToMessageID *int64   `json:"replyingToMessageId,omitempty"`
}

// NewReply builds the sendMessage action for a generated reply. The text is
// wrapped in literal quote characters; the server's message renderer expects
// the quoted form. replyingTo may be nil when the trigger carried no
// messageId.
func NewReply(roomID, text string, replyingTo *int64) OutboundMessage {
	return OutboundMessage{
		Action:              ActionSendMessage,
		Text:                `"` + text + `"`,
		ImagePaths:          []string{},
		ChatRoomID:          roomID,
		ReplyingToMessageID: replyingTo,
	}
}
