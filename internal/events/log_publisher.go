package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher emits events to the structured log. It stands in for a
// queue-backed publisher in deployments that run the sync core without
// the auxiliary services.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	log.Info().
		Str("event", ev.EventName()).
		Interface("payload", ev).
		Msg("domain event published")
	return nil
}
