//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Line is an Indicator on a Linux GPIO output line.
type Line struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
}

// NewLine requests pin on chip as an output, initially off.
func NewLine(chip string, pin int) (*Line, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	l, err := c.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("home-dashboard"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request indicator pin %d: %w", pin, err)
	}

	return &Line{chip: c, line: l, pin: pin}, nil
}

// Set drives the line high when on.
func (l *Line) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set indicator pin %d: %w", l.pin, err)
	}
	return nil
}

// Close turns the LED off and returns the pin to an input with pull-down,
// matching the Pi boot default.
func (l *Line) Close() error {
	var errs []error
	if l.line != nil {
		if err := l.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear indicator pin: %w", err))
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure indicator pin: %w", err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator pin: %w", err))
		}
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
