package plugin

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// natsEnvelope is the wire shape an EventBus bridges onto NATS: the event
// type, its JSON-encoded payload, and an origin id so a bridged bus never
// re-emits its own published events back into itself.
type natsEnvelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
}

// EnableNATSBridge connects to a NATS server and mirrors every Emit/EmitSync
// call onto the wildcard subject "apprun.events.>", and fans inbound
// messages from other apprun instances into this bus's local subscribers —
// letting plugins loaded in different processes (or different pods behind
// the same deployment) share events. A bus with no bridge behaves exactly
// as before: purely in-process.
func (b *EventBus) EnableNATSBridge(url string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return err
	}
	origin := uuid.NewString()
	b.nc = nc
	b.natsOrigin = origin

	_, err = nc.Subscribe("apprun.events.>", func(msg *nats.Msg) {
		var env natsEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.log.Warn().Err(err).Msg("discarding malformed NATS event envelope")
			return
		}
		if env.Origin == origin {
			return // our own publish, already delivered locally by Emit
		}
		var data any
		_ = json.Unmarshal(env.Data, &data)
		for _, h := range b.handlersFor(env.Type) {
			go func(handler EventHandler) {
				if err := handler(data); err != nil {
					b.log.Error().Err(err).Str("event", env.Type).Msg("remote event handler failed")
				}
			}(h)
		}
	})
	return err
}

// publishRemote mirrors an event onto NATS if a bridge is active; errors
// are logged, never returned, matching Emit's fire-and-forget contract.
func (b *EventBus) publishRemote(eventType string, data any) {
	if b.nc == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		b.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event for NATS bridge")
		return
	}
	env := natsEnvelope{Type: eventType, Data: payload, Origin: b.natsOrigin}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := b.nc.Publish("apprun.events."+eventType, raw); err != nil {
		b.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event to NATS")
	}
}

// CloseNATSBridge closes the bridged NATS connection, if any, without
// draining it first.
func (b *EventBus) CloseNATSBridge() {
	if b.nc != nil {
		b.nc.Close()
	}
}
