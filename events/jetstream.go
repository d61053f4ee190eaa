/*
Package events publishes committed ledger events to NATS JetStream.

SUBJECTS:
  <prefix>.<event_type>, e.g. rentledger.entries.payment_applied

  One stream (default RENTLEDGER_EVENTS) captures <prefix>.>. Consumers
  use the entry id and version in the payload to order and deduplicate.

DELIVERY:
  The engine publishes after the owning write commits and only logs a
  publish failure, so delivery is at-most-once from the engine's side.
  The Nats-Msg-Id header is <entry_id>:<version>, which lets JetStream
  drop duplicates if a caller republishes.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/warp/rent-ledger/ledger"
)

const (
	DefaultStream  = "RENTLEDGER_EVENTS"
	DefaultSubject = "rentledger.entries"
)

// StreamPublisher is the slice of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher implements ledger.Publisher.
type JetStreamPublisher struct {
	js     StreamPublisher
	prefix string
}

var _ ledger.Publisher = (*JetStreamPublisher)(nil)

func NewJetStreamPublisher(js StreamPublisher, prefix string) *JetStreamPublisher {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &JetStreamPublisher{js: js, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *JetStreamPublisher) Subject(t ledger.EventType) string {
	return fmt.Sprintf("%s.%s", p.prefix, t)
}

func (p *JetStreamPublisher) Publish(ctx context.Context, evt ledger.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, string(evt.EntryID)+":"+strconv.FormatInt(evt.Version, 10))

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// =============================================================================
// CONNECTION
// =============================================================================

// Connect dials NATS and returns a JetStream handle. Reconnects forever.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("rentledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the stream that captures prefix.>.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	if name == "" {
		name = DefaultStream
	}
	if prefix == "" {
		prefix = DefaultSubject
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}
