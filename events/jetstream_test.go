package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/events"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
)

type recordingStream struct {
	msgs []*nats.Msg
	err  error
}

func (r *recordingStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, msg)
	return &jetstream.PubAck{Stream: events.DefaultStream, Sequence: uint64(len(r.msgs))}, nil
}

func TestPublish_SubjectPayloadAndMsgID(t *testing.T) {
	stream := &recordingStream{}
	pub := events.NewJetStreamPublisher(stream, "")

	evt := ledger.Event{
		Type:           ledger.EventPaymentApplied,
		EntryID:        "e1",
		Status:         ledger.StatusPartiallyPaid,
		Amount:         ledger.Money("600"),
		CounterpartyID: "tenant",
		Version:        3,
		At:             time.Date(2025, time.April, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), evt))

	require.Len(t, stream.msgs, 1)
	msg := stream.msgs[0]
	assert.Equal(t, "rentledger.entries.payment_applied", msg.Subject)
	assert.Equal(t, "e1:3", msg.Header.Get(nats.MsgIdHdr))

	var got ledger.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ledger.EventPaymentApplied, got.Type)
	assert.True(t, got.Amount.Equal(ledger.Money("600")))
}

func TestPublish_FailureDoesNotFailOperation(t *testing.T) {
	// GIVEN: A broker that rejects every publish
	// WHEN: A payment is registered
	// THEN: The payment commits anyway

	stream := &recordingStream{err: errors.New("no responders")}
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.OpenCashAccount(ctx, "caja", "Cash"))
	eng := ledger.NewEngine(mem,
		ledger.WithPublisher(events.NewJetStreamPublisher(stream, "rentledger.entries")),
		ledger.WithDefaultCashAccount("caja"))

	entry, err := eng.CreateEntry(ctx, ledger.NewEntry{Lines: []ledger.NewLine{
		{AccountID: "receivable-rent", Debit: ledger.Money("100"), CounterpartyID: "tenant"},
		{AccountID: "payable-landlord", Credit: ledger.Money("100"), CounterpartyID: "owner"},
	}})
	require.NoError(t, err)

	paid, err := eng.RegisterPayment(ctx, ledger.PaymentInput{EntryID: entry.ID, Amount: ledger.Money("100")})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, paid.Status)
}
