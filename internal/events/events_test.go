package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_PublishKeysByReceipt(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaWithWriter(w, time.Second, nil)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		StatusChanged{ReceiptID: "r-1", From: types.StatusDraft, To: types.StatusPendingOnchain, Event: types.EventApprove, At: at},
		StatusChanged{ReceiptID: "r-2", From: types.StatusNormal, To: types.StatusFrozen, Event: types.EventFreeze, At: at},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "r-1", string(w.msgs[0].Key))

	var got StatusChanged
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &got))
	assert.Equal(t, types.StatusFrozen, got.To)
	assert.Equal(t, types.EventFreeze, got.Event)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafka_PublishError(t *testing.T) {
	sentinel := errors.New("broker down")
	p := NewKafkaWithWriter(&fakeWriter{err: sentinel}, time.Second, nil)
	err := p.Publish(context.Background(), StatusChanged{ReceiptID: "r-1"})
	assert.ErrorIs(t, err, sentinel)

	assert.NoError(t, p.Publish(context.Background()))
}

func TestNewKafka_Validates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "receipts.status"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), StatusChanged{ReceiptID: "x"}))
	assert.NoError(t, p.Close())
}
