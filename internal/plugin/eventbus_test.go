package plugin

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_EmitDeliversToSubscriber(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	received := make(chan any, 1)
	b.Subscribe("widget.created", "plugin-a", func(data any) error {
		received <- data
		return nil
	})

	b.Emit("widget.created", map[string]string{"id": "1"})

	select {
	case data := <-received:
		assert.Equal(t, map[string]string{"id": "1"}, data)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestEventBus_EmitSyncCollectsHandlerErrors(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	b.Subscribe("x", "a", func(data any) error { return assert.AnError })
	b.Subscribe("x", "b", func(data any) error { return nil })

	errs := b.EmitSync("x", nil)
	require.Len(t, errs, 1)
}

func TestEventBus_UnsubscribeAllRemovesEveryEvent(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	b.Subscribe("a", "p", func(data any) error { return nil })
	b.Subscribe("b", "p", func(data any) error { return nil })

	b.UnsubscribeAll("p")

	assert.Empty(t, b.handlersFor("a"))
	assert.Empty(t, b.handlersFor("b"))
}

func TestEventBus_PublishRemoteNoopWithoutBridge(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	// No NATS connection configured; publishRemote must be a silent no-op
	// rather than panicking on a nil *nats.Conn.
	assert.NotPanics(t, func() { b.publishRemote("x", map[string]string{"a": "b"}) })
}

func TestEventBus_CloseNATSBridgeWithoutBridgeIsNoop(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	assert.NotPanics(t, func() { b.CloseNATSBridge() })
}
