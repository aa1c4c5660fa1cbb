package telemetry

import (
	"sort"

	"github.com/rs/zerolog"
)

// LogSink writes events at debug level and alerts at error level
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink over the given logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "sync").Logger()}
}

func (s *LogSink) Event(name string, fields Fields) {
	s.write(s.logger.Debug(), fields).Str("event", name).Msg(name)
}

func (s *LogSink) Alert(name string, fields Fields) {
	s.write(s.logger.Error(), fields).Str("alert", name).Msg("critical sync alert")
}

func (s *LogSink) write(e *zerolog.Event, fields Fields) *zerolog.Event {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = e.Interface(k, fields[k])
	}
	return e
}
