//go:build !linux

package gpio

import "errors"

// Line is not available on non-Linux platforms.
type Line struct{}

// NewLine returns an error on non-Linux platforms.
func NewLine(chip string, pin int) (*Line, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (l *Line) Set(bool) error { return errors.New("gpio: not supported") }

func (l *Line) Close() error { return nil }
