// Package status drives the appliance status indicator.
package status

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/roach88/visiontool/internal/hal"
)

// RGB is an indicator colour.
type RGB struct{ R, G, B uint8 }

var colors = map[hal.State]RGB{
	hal.StateBoot:     {0, 0, 30},
	hal.StateIdle:     {0, 6, 0},
	hal.StateBusy:     {15, 15, 15},
	hal.StateOK:       {0, 40, 0},
	hal.StateOwner:    {0, 80, 0},
	hal.StateUnknown:  {50, 30, 0},
	hal.StateError:    {60, 0, 0},
	hal.StateLearning: {40, 0, 40},
}

// Color returns the colour shown for a state. Unknown states are off.
func Color(s hal.State) RGB {
	return colors[s]
}

// LogSink records state changes at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Set implements hal.StatusSink.
func (l LogSink) Set(s hal.State) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := Color(s)
	logger.Debug("status", "state", string(s), "rgb", fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B))
}

// GPIOSink drives a single indicator pin: high while the device is busy,
// learning or in error, low otherwise.
type GPIOSink struct {
	pin    gpio.PinOut
	logger *slog.Logger

	mu   sync.Mutex
	last gpio.Level
	set  bool
}

// OpenGPIO initialises the host drivers and looks up the named pin.
func OpenGPIO(name string, logger *slog.Logger) (*GPIOSink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return NewGPIOSink(pin, logger), nil
}

// NewGPIOSink wraps an output pin.
func NewGPIOSink(pin gpio.PinOut, logger *slog.Logger) *GPIOSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPIOSink{pin: pin, logger: logger}
}

// Level returns the pin level for a state.
func Level(s hal.State) gpio.Level {
	switch s {
	case hal.StateBusy, hal.StateLearning, hal.StateError:
		return gpio.High
	default:
		return gpio.Low
	}
}

// Set implements hal.StatusSink. Pin errors are logged, never returned.
func (g *GPIOSink) Set(s hal.State) {
	lvl := Level(s)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set && g.last == lvl {
		return
	}
	if err := g.pin.Out(lvl); err != nil {
		g.logger.Warn("status pin write failed", "state", string(s), "error", err)
		return
	}
	g.last = lvl
	g.set = true
}

// Multi fans a state out to several sinks.
type Multi []hal.StatusSink

// Set implements hal.StatusSink.
func (m Multi) Set(s hal.State) {
	for _, sink := range m {
		sink.Set(s)
	}
}

var (
	_ hal.StatusSink = LogSink{}
	_ hal.StatusSink = (*GPIOSink)(nil)
	_ hal.StatusSink = Multi(nil)
)
