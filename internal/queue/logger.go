package queue

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// busLogger adapts zerolog to watermill.LoggerAdapter so bus internals log
// through the application logger.
type busLogger struct {
	log zerolog.Logger
}

func newBusLogger(log zerolog.Logger) busLogger {
	return busLogger{log: log.With().Str("component", "bus").Logger()}
}

func (l busLogger) event(e *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (l busLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.log.Error().Err(err), msg, fields)
}

func (l busLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.log.Info(), msg, fields)
}

func (l busLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), msg, fields)
}

func (l busLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.log.Trace(), msg, fields)
}

func (l busLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return busLogger{log: ctx.Logger()}
}
