package hedge

import (
	"context"

	"github.com/rs/zerolog"
)

// LogListener logs every winning outcome.
type LogListener[Req, Resp any] struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogListener returns a listener logging winners at debug level.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	listener := hedge.NewLogListener[string, []byte](logger)
func NewLogListener[Req, Resp any](logger zerolog.Logger) *LogListener[Req, Resp] {
	return &LogListener[Req, Resp]{logger: logger, level: zerolog.DebugLevel}
}

// WithLevel returns a copy of the listener logging at level.
func (l *LogListener[Req, Resp]) WithLevel(level zerolog.Level) *LogListener[Req, Resp] {
	return &LogListener[Req, Resp]{logger: l.logger, level: level}
}

// Record implements Listener.
func (l *LogListener[Req, Resp]) Record(_ context.Context, outcome Outcome[Req, Resp]) {
	l.logger.WithLevel(l.level).
		Int("hedge_index", outcome.HedgeIndex).
		Bool("hedged", outcome.IsHedge()).
		Dur("elapsed", outcome.Elapsed).
		Msg("hedge race won")
}
