// Package gpio drives the presence indicator LED.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Indicator is a single on/off output.
type Indicator interface {
	// Set drives the output. true = lit.
	Set(on bool) error

	// Close releases GPIO resources and leaves the output off.
	Close() error
}

// DefaultChip is the character device the indicator line lives on.
const DefaultChip = "gpiochip0"

// Nop is an Indicator that does nothing. Used when no pin is configured.
type Nop struct{}

func (Nop) Set(bool) error { return nil }
func (Nop) Close() error   { return nil }

// Open returns a hardware indicator on chip/pin, or Nop when pin < 0.
func Open(chip string, pin int) (Indicator, error) {
	if pin < 0 {
		return Nop{}, nil
	}
	if chip == "" {
		chip = DefaultChip
	}
	l, err := NewLine(chip, pin)
	if err != nil {
		return nil, err
	}
	return l, nil
}
