package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// zerologAdapter routes Watermill's internal logging through zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = (*zerologAdapter)(nil)

func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{logger: logger.With().Str("component", "watermill").Logger()}
}

func (a *zerologAdapter) with(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	if len(a.fields) > 0 {
		e = e.Fields(map[string]interface{}(a.fields))
	}
	if len(fields) > 0 {
		e = e.Fields(map[string]interface{}(fields))
	}
	return e
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.with(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.with(a.logger.Info(), fields).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.with(a.logger.Debug(), fields).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.with(a.logger.Trace(), fields).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}
