// Package hw contains the narrow hardware collaborators the drivers use:
// GPIO lines, the one-wire bus, sensor scripts, serial ports, PJLink
// projectors and host telemetry.
package hw

import "time"

// Line is a requested GPIO line.
type Line interface {
	Value() (int, error)
	SetValue(v int) error
	Close() error
}

// Edge selects which input transitions produce events.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeBoth
)

// EdgeEvent is delivered on the GPIO library's goroutine, not the loop.
type EdgeEvent struct {
	Rising bool
	At     time.Duration // kernel timestamp
}

// InputOptions configures an input line.
type InputOptions struct {
	Edge     Edge
	Debounce time.Duration
	PullUp   bool
	Handler  func(EdgeEvent)
}

// GPIO opens lines on a GPIO chip.
type GPIO interface {
	Output(pin, initial int) (Line, error)
	Input(pin int, opts InputOptions) (Line, error)
}
