//go:build linux

package hw

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Chip is a GPIO character device such as "gpiochip0".
type Chip struct {
	Name string
}

// NewChip returns a GPIO backed by the named character device.
func NewChip(name string) *Chip {
	if name == "" {
		name = "gpiochip0"
	}
	return &Chip{Name: name}
}

func (c *Chip) Output(pin, initial int) (Line, error) {
	l, err := gpiocdev.RequestLine(c.Name, pin, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer("mpct-controller"))
	if err != nil {
		return nil, fmt.Errorf("gpio %s:%d output: %w", c.Name, pin, err)
	}
	return l, nil
}

func (c *Chip) Input(pin int, opts InputOptions) (Line, error) {
	reqOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer("mpct-controller")}
	if opts.PullUp {
		reqOpts = append(reqOpts, gpiocdev.WithPullUp)
	}
	switch opts.Edge {
	case EdgeRising:
		reqOpts = append(reqOpts, gpiocdev.WithRisingEdge)
	case EdgeBoth:
		reqOpts = append(reqOpts, gpiocdev.WithBothEdges)
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}
	if opts.Handler != nil {
		h := opts.Handler
		reqOpts = append(reqOpts, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			h(EdgeEvent{Rising: evt.Type == gpiocdev.LineEventRisingEdge, At: evt.Timestamp})
		}))
	}
	l, err := gpiocdev.RequestLine(c.Name, pin, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("gpio %s:%d input: %w", c.Name, pin, err)
	}
	return l, nil
}
