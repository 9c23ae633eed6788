package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/metrics"
)

func TestGoChannelBusRoundTrip(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bus := NewGoChannelBus(m)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.Event{
		SessionID: "s1",
		Type:      domain.EventTypeMessageAppended,
		Payload:   map[string]any{"message_type": "user"},
	}))

	for _, ch := range []<-chan domain.Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "s1", ev.SessionID)
			assert.Equal(t, domain.EventTypeMessageAppended, ev.Type)
			assert.NotEmpty(t, ev.EventID)
			assert.NotZero(t, ev.Ts)
			assert.Equal(t, "user", ev.Payload["message_type"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedEventTotal.WithLabelValues("message_appended", "ok")))
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	bus := NewGoChannelBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestNewFromConfig(t *testing.T) {
	bus, err := NewFromConfig(&config.Config{EventsBackend: "gochannel"}, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewFromConfig(&config.Config{EventsBackend: "kafka"}, nil)
	assert.Error(t, err)
}
