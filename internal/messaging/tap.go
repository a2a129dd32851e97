// Package messaging publishes the relay's observed traffic to NATS so
// downstream services (moderation, analytics) can consume the stream without
// touching the relay itself. Publishing is best-effort: a failed publish is
// logged and the relay keeps going.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/echobot/chat-relay/internal/protocol"
)

// NATS subjects carrying the relay's tap stream.
const (
	SubjectEvent = "relay.event" // every decoded inbound event
	SubjectReply = "relay.reply" // every outbound auto-reply handed to the link
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// EventRecord is the envelope published on SubjectEvent.
type EventRecord struct {
	ObservedAt int64          `json:"observed_at"` // unix seconds
	Event      protocol.Event `json:"event"`
}

// ReplyRecord is the envelope published on SubjectReply. CorrelationID ties
// the record to the relay's reply-attempt log lines.
type ReplyRecord struct {
	CorrelationID string                   `json:"correlation_id"`
	SentAt        int64                    `json:"sent_at"` // unix seconds
	SenderID      string                   `json:"sender_id"`
	Message       protocol.OutboundMessage `json:"message"`
}

// Tap wraps the NATS connection used for publishing the stream.
type Tap struct {
	conn *nats.Conn
}

// NewTap connects to NATS with the given config and returns a ready Tap.
// It returns an error if the initial connection fails.
func NewTap(config Config) (*Tap, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Tap{conn: nc}, nil
}

// PublishEvent publishes a decoded inbound event on SubjectEvent.
func (t *Tap) PublishEvent(ev protocol.Event) error {
	data, err := json.Marshal(EventRecord{
		ObservedAt: time.Now().Unix(),
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("nats marshal event: %w", err)
	}
	return t.conn.Publish(SubjectEvent, data)
}

// PublishReply publishes a sent auto-reply on SubjectReply.
func (t *Tap) PublishReply(correlationID, senderID string, msg protocol.OutboundMessage) error {
	data, err := json.Marshal(ReplyRecord{
		CorrelationID: correlationID,
		SentAt:        time.Now().Unix(),
		SenderID:      senderID,
		Message:       msg,
	})
	if err != nil {
		return fmt.Errorf("nats marshal reply: %w", err)
	}
	return t.conn.Publish(SubjectReply, data)
}

// Close drains and closes the NATS connection.
func (t *Tap) Close() {
	if err := t.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] tap closed")
}
