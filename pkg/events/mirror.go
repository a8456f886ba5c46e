package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mirror decodes messages and hands them to handle until msgs is closed or
// ctx is done. Undecodable messages are logged and acked.
func Mirror(ctx context.Context, msgs <-chan *message.Message, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e, err := Decode(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("uuid", msg.UUID).Msg("dropping malformed meeting event")
				msg.Ack()
				continue
			}
			handle(e)
			msg.Ack()
		}
	}
}

// LogHandler writes each event to logger at debug level.
func LogHandler(logger zerolog.Logger) func(Event) {
	return func(e Event) {
		ev := logger.Debug().
			Str("type", e.Type).
			Str("session_id", e.SessionID).
			Str("phase", e.Phase)
		if e.Turn > 0 {
			ev = ev.Int("turn", e.Turn)
		}
		if e.Speaker != "" {
			ev = ev.Str("speaker", e.Speaker)
		}
		if len(e.Data) > 0 {
			ev = ev.Fields(e.Data)
		}
		ev.Msg(e.Message)
	}
}
