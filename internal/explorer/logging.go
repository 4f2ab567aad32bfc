package explorer

import (
	"github.com/rs/zerolog"

	"manifold/internal/rag/service"
)

// zerologLogger adapts a zerolog.Logger to service.Logger, the shape the
// Orchestrator and its collaborators log through.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps zl as a service.Logger.
func NewZerologLogger(zl zerolog.Logger) service.Logger {
	return zerologLogger{log: zl}
}

func (z zerologLogger) Info(msg string, fields map[string]any) {
	z.event(z.log.Info(), fields).Msg(msg)
}

func (z zerologLogger) Error(msg string, fields map[string]any) {
	z.event(z.log.Error(), fields).Msg(msg)
}

func (z zerologLogger) Debug(msg string, fields map[string]any) {
	z.event(z.log.Debug(), fields).Msg(msg)
}

func (z zerologLogger) event(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
