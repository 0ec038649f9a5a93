//go:build !linux

package hw

import (
	"errors"
	"fmt"
)

// Chip is unavailable off Linux; every request fails.
type Chip struct {
	Name string
}

func NewChip(name string) *Chip {
	return &Chip{Name: name}
}

func (c *Chip) Output(pin, initial int) (Line, error) {
	return nil, fmt.Errorf("gpio %s:%d: %w", c.Name, pin, errors.ErrUnsupported)
}

func (c *Chip) Input(pin int, opts InputOptions) (Line, error) {
	return nil, fmt.Errorf("gpio %s:%d: %w", c.Name, pin, errors.ErrUnsupported)
}
