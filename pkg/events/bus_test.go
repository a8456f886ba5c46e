package events

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewBus(DefaultConfig(), watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := newMemoryBus(t)
	assert.Equal(t, DefaultTopic, b.Topic())
	msgs, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Event{
		Type:      TypeGuardrail,
		SessionID: "s-1",
		Phase:     "System Design",
		Message:   "[Guardrail] something",
		Data:      map[string]any{"missing": []string{"architect"}},
	}))

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, TypeGuardrail, msg.Metadata.Get("type"))
		e, err := Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "s-1", e.SessionID)
		assert.Equal(t, "System Design", e.Phase)
		assert.False(t, e.At.IsZero())
		assert.Equal(t, []any{"architect"}, e.Data["missing"])
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestMirrorHandlesEventsAndSkipsGarbage(t *testing.T) {
	msgs := make(chan *message.Message, 3)
	msgs <- message.NewMessage("1", []byte(`{"type":"turn.appended","turn":3,"speaker":"architect"}`))
	msgs <- message.NewMessage("2", []byte(`not json`))
	msgs <- message.NewMessage("3", []byte(`{"type":"meeting.finished"}`))
	close(msgs)

	got := []Event{}
	err := Mirror(context.Background(), msgs, func(e Event) { got = append(got, e) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Turn)
	assert.Equal(t, TypeMeetingFinished, got[1].Type)
}

func TestMirrorStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Mirror(ctx, make(chan *message.Message), func(Event) { t.Fatal("unexpected event") })
	require.NoError(t, err)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	LogHandler(logger)(Event{Type: TypePhaseApproved, Phase: "System Design", Message: "approved"})
	assert.Contains(t, buf.String(), `"type":"phase.approved"`)
	assert.Contains(t, buf.String(), `"message":"approved"`)
}

func TestDecodeRequiresType(t *testing.T) {
	_, err := Decode([]byte(`{"phase":"x"}`))
	require.Error(t, err)
}

func TestNewBusUnknownBackend(t *testing.T) {
	_, err := NewBus(Config{Backend: "kafka"}, watermill.NopLogger{})
	require.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Type: TypeGuardrail}))
}

func TestSubscribePreparesTopicFirst(t *testing.T) {
	b := newMemoryBus(t)
	var prepared []string
	b.prepare = func(_ context.Context, topic string) error {
		prepared = append(prepared, topic)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := b.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTopic}, prepared)

	b.prepare = func(context.Context, string) error { return errors.New("redis down") }
	_, err = b.Subscribe(ctx)
	require.EqualError(t, err, "redis down")
}
