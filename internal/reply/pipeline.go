// Package reply implements the auto-reply pipeline: it decides which
// inbound events deserve a generated reply, keeps the per-sender transcript
// current around the asynchronous completion call, and hands the outbound
// message to the transport.
package reply

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echobot/chat-relay/internal/completion"
	"github.com/echobot/chat-relay/internal/history"
	"github.com/echobot/chat-relay/internal/metrics"
	"github.com/echobot/chat-relay/internal/protocol"
)

// Sender hands an outbound message to the transport. Implemented by
// link.Link.
type Sender interface {
	Send(v interface{}) error
}

// Throttle limits reply frequency per sender. A nil Throttle means no
// limiting.
type Throttle interface {
	Allow(ctx context.Context, senderID string) (bool, error)
}

// ThrottleFunc adapts a function to the Throttle interface.
type ThrottleFunc func(ctx context.Context, senderID string) (bool, error)

// Allow implements Throttle.
func (f ThrottleFunc) Allow(ctx context.Context, senderID string) (bool, error) {
	return f(ctx, senderID)
}

// Tap receives a copy of the relay's observed traffic. Implemented by
// messaging.Tap. A nil Tap disables publishing.
type Tap interface {
	PublishEvent(ev protocol.Event) error
	PublishReply(correlationID, senderID string, msg protocol.OutboundMessage) error
}

// Config holds the pipeline's reply policy.
type Config struct {
	// OwnerID is both the monitored room and the identity whose own
	// messages never trigger a reply (the owner's room carries the owner's
	// address).
	OwnerID string

	// SystemPrompt is the fixed instruction turn prepended to every
	// completion request.
	SystemPrompt string
}

// Pipeline wires the eligibility policy, history store, completion
// capability and transport together. One Pipeline serves all senders.
type Pipeline struct {
	cfg       Config
	histories *history.Store
	completer completion.Completer
	sender    Sender
	throttle  Throttle
	tap       Tap

	wg sync.WaitGroup
}

// New creates a Pipeline. Throttle and tap are off until set.
func New(cfg Config, histories *history.Store, completer completion.Completer, sender Sender) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		histories: histories,
		completer: completer,
		sender:    sender,
	}
}

// SetThrottle installs a per-sender reply throttle.
func (p *Pipeline) SetThrottle(t Throttle) { p.throttle = t }

// SetTap installs a traffic tap.
func (p *Pipeline) SetTap(t Tap) { p.tap = t }

// HandleFrame decodes one raw inbound frame and processes each event in it.
// Decode failures drop the payload (or the bad array elements) and never
// propagate; the connection is unaffected.
func (p *Pipeline) HandleFrame(data []byte) {
	if protocol.IsLivenessProbe(data) {
		// Probes are answered by the link; this guard keeps one out of the
		// transcripts if it ever arrives by another path.
		return
	}

	events, err := protocol.Decode(data)
	if err != nil {
		metrics.DecodeFailuresTotal.Inc()
		log.Printf("[reply] dropped undecodable payload: %v", err)
	}
	for _, ev := range events {
		p.handleEvent(ev)
	}
}

// handleEvent applies the unconditional history append and, when the event
// is eligible, starts a reply attempt on its own goroutine. Two eligible
// events from one sender run independently; their assistant turns may land
// in either order.
func (p *Pipeline) handleEvent(ev protocol.Event) {
	metrics.EventsTotal.WithLabelValues(ev.Type).Inc()

	if p.tap != nil {
		if err := p.tap.PublishEvent(ev); err != nil {
			log.Printf("[reply] tap publish failed: %v", err)
		}
	}

	// Exactly one user-turn append per inbound event, eligible or not, so
	// the transcript reflects everything the sender said. An absent text is
	// not defaulted: appending "" would corrupt the transcript.
	if ev.SendingUserID != nil && ev.Text != nil {
		p.histories.Append(*ev.SendingUserID, history.Turn{
			Role:    history.RoleUser,
			Content: *ev.Text,
		})
		metrics.TrackedSenders.Set(float64(len(p.histories.Senders())))
	}

	if !p.eligible(ev) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reply(ev)
	}()
}

// eligible reports whether an event warrants a generated reply: a received
// chat message, in the owner's room, from a present sender who is not the
// owner, with a text body.
func (p *Pipeline) eligible(ev protocol.Event) bool {
	if ev.Type != protocol.KindReceivedMessage {
		return false
	}
	if ev.ChatRoomID != p.cfg.OwnerID {
		return false
	}
	if ev.SendingUserID == nil || *ev.SendingUserID == p.cfg.OwnerID {
		return false
	}
	if ev.Text == nil {
		return false
	}
	return true
}

// reply runs one completion attempt for an eligible event. The user turn is
// already in the transcript; on success the assistant turn is appended
// before the send, and stays there even if delivery fails — the relay's
// memory is authoritative, not the wire.
func (p *Pipeline) reply(ev protocol.Event) {
	sender := *ev.SendingUserID
	cid := uuid.NewString()
	ctx := context.Background()

	if p.throttle != nil {
		allowed, err := p.throttle.Allow(ctx, sender)
		if err != nil {
			log.Printf("[reply] cid=%s sender=%s throttle check error: %v", cid, sender, err)
		}
		if !allowed {
			metrics.RepliesTotal.WithLabelValues("throttled").Inc()
			log.Printf("[reply] cid=%s sender=%s throttled, skipping", cid, sender)
			return
		}
	}

	turns := append(
		[]history.Turn{{Role: history.RoleSystem, Content: p.cfg.SystemPrompt}},
		p.histories.Turns(sender)...,
	)

	start := time.Now()
	turn, err := p.completer.Complete(ctx, turns)
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RepliesTotal.WithLabelValues("completion_failed").Inc()
		log.Printf("[reply] cid=%s sender=%s completion failed: %v", cid, sender, err)
		return
	}

	p.histories.Append(sender, turn)

	out := protocol.NewReply(p.cfg.OwnerID, turn.Content, ev.MessageID)
	if err := p.sender.Send(out); err != nil {
		metrics.RepliesTotal.WithLabelValues("send_failed").Inc()
		log.Printf("[reply] cid=%s sender=%s send failed: %v", cid, sender, err)
		return
	}

	metrics.RepliesTotal.WithLabelValues("sent").Inc()
	log.Printf("[reply] cid=%s sender=%s reply sent (%d chars)", cid, sender, len(turn.Content))

	if p.tap != nil {
		if err := p.tap.PublishReply(cid, sender, out); err != nil {
			log.Printf("[reply] cid=%s tap publish failed: %v", cid, err)
		}
	}
}

// Wait blocks until all in-flight reply attempts have finished. Used during
// shutdown so a reply that already mutated history gets its chance to send.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
