// Package zerolog adapts a zerolog.Logger to nodeflight.Logger.
package zerolog

import (
	"github.com/rs/zerolog"
	"github.com/unkn0wn-root/nodeflight"
)

var _ nodeflight.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

func (z Logger) Debug(msg string, f nodeflight.Fields) { z.emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f nodeflight.Fields)  { z.emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f nodeflight.Fields)  { z.emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f nodeflight.Fields) { z.emit(z.L.Error(), msg, f) }

// emit tolerates the nil event zerolog returns for disabled levels.
func (Logger) emit(e *zerolog.Event, msg string, f nodeflight.Fields) {
	if len(f) > 0 {
		e = e.Fields(map[string]any(f))
	}
	e.Msg(msg)
}
