// Package gate validates control intents and forwards them to the board
// only while it is present.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

// ErrInvalidIntent is wrapped by every validation failure.
var ErrInvalidIntent = errors.New("invalid intent")

// Servo travel limits in degrees.
const (
	MinAngle = 0
	MaxAngle = 180
)

// RGBModes lists the lighting modes the firmware understands.
var RGBModes = []string{"OFF", "RED", "GREEN", "BLUE", "RAINBOW", "BREATHING"}

// Intent is a user request to change an actuator.
type Intent struct {
	Kind  device.Kind
	On    bool
	Angle int
	Mode  string
}

// LED requests the built-in LED on or off.
func LED(on bool) Intent { return Intent{Kind: device.KindLED, On: on} }

// Servo requests a door servo angle.
func Servo(angle int) Intent { return Intent{Kind: device.KindServo, Angle: angle} }

// RGB requests a lighting mode. Case and surrounding space are ignored.
func RGB(mode string) Intent {
	return Intent{Kind: device.KindRGB, Mode: strings.ToUpper(strings.TrimSpace(mode))}
}

// Validate checks the intent's parameters.
func (i Intent) Validate() error {
	switch i.Kind {
	case device.KindLED:
		return nil
	case device.KindServo:
		if i.Angle < MinAngle || i.Angle > MaxAngle {
			return fmt.Errorf("%w: servo angle %d outside %d-%d", ErrInvalidIntent, i.Angle, MinAngle, MaxAngle)
		}
		return nil
	case device.KindRGB:
		for _, m := range RGBModes {
			if i.Mode == m {
				return nil
			}
		}
		return fmt.Errorf("%w: unknown RGB mode %q", ErrInvalidIntent, i.Mode)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, i.Kind)
}

// Result is the outcome reported to the user.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CommandID string `json:"commandId,omitempty"`
}

// Observer receives command outcomes, typically for metrics.
// outcome is one of "sent", "failed", "rejected_offline" or "invalid".
type Observer interface {
	CommandDone(kind device.Kind, outcome string)
}

// Gate is safe for concurrent use.
type Gate struct {
	dispatcher device.Dispatcher
	logger     *slog.Logger
	obs        Observer
	newID      func() string
	now        func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver attaches an Observer.
func WithObserver(obs Observer) Option {
	return func(g *Gate) { g.obs = obs }
}

// WithIDFunc replaces uuid generation, for tests.
func WithIDFunc(f func() string) Option {
	return func(g *Gate) { g.newID = f }
}

// New creates a Gate that dispatches through d.
func New(d device.Dispatcher, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		dispatcher: d,
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send validates intent, refuses it while the board is not online, and
// otherwise dispatches it and relays the channel's reply.
func (g *Gate) Send(ctx context.Context, intent Intent, info presence.ConnectionInfo) Result {
	if err := intent.Validate(); err != nil {
		g.done(intent.Kind, "invalid")
		return Result{Success: false, Message: err.Error()}
	}

	if !info.IsOnline {
		g.done(intent.Kind, "rejected_offline")
		return Result{Success: false, Message: OfflineMessage(info)}
	}

	cmd := device.Command{
		ID:       g.newID(),
		Kind:     intent.Kind,
		On:       intent.On,
		Angle:    intent.Angle,
		Mode:     intent.Mode,
		IssuedAt: g.now(),
	}

	ack, err := g.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		g.logger.Warn("command dispatch failed", "id", cmd.ID, "kind", cmd.Kind, "error", err)
		g.done(intent.Kind, "failed")
		return Result{Success: false, Message: FailureMessage(intent.Kind), CommandID: cmd.ID}
	}

	g.logger.Info("command sent", "id", cmd.ID, "kind", cmd.Kind, "success", ack.Success)
	if ack.Success {
		g.done(intent.Kind, "sent")
	} else {
		g.done(intent.Kind, "failed")
	}
	msg := ack.Message
	if msg == "" {
		msg = defaultAckMessage(intent, ack.Success)
	}
	return Result{Success: ack.Success, Message: msg, CommandID: cmd.ID}
}

func (g *Gate) done(kind device.Kind, outcome string) {
	if g.obs != nil {
		g.obs.CommandDone(kind, outcome)
	}
}

// OfflineMessage explains why a command was not sent.
func OfflineMessage(info presence.ConnectionInfo) string {
	switch info.Status {
	case presence.StatusError:
		return "Device connection check failed, command not sent"
	case presence.StatusUnknown:
		return "Device has never been seen, command not sent"
	}
	return fmt.Sprintf("Device offline for %ds, command not sent", info.SecondsOffline)
}

// FailureMessage is the generic per-kind transport failure message.
func FailureMessage(kind device.Kind) string {
	switch kind {
	case device.KindLED:
		return "LED control failed"
	case device.KindServo:
		return "Servo control failed"
	case device.KindRGB:
		return "RGB control failed"
	}
	return "Control failed"
}

func defaultAckMessage(i Intent, ok bool) string {
	if !ok {
		return FailureMessage(i.Kind)
	}
	switch i.Kind {
	case device.KindLED:
		if i.On {
			return "LED turned ON"
		}
		return "LED turned OFF"
	case device.KindServo:
		return fmt.Sprintf("Servo moved to %d°", i.Angle)
	case device.KindRGB:
		return "RGB mode set to " + i.Mode
	}
	return "Command sent"
}
