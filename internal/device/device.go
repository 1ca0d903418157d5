// Package device describes the controller board's data model and the
// collaborators used to read from it and send commands to it.
package device

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData means the backend holds no value for the requested key yet.
	ErrNoData = errors.New("device: no data")
	// ErrNotConnected means the transport to the backend is down.
	ErrNotConnected = errors.New("device: not connected")
)

// SensorReading is one sample of the board's sensors.
// If FromFallback is true, Temperature and Humidity came from the weather
// service rather than the board.
type SensorReading struct {
	Temperature     float64 `json:"temperature"`
	Humidity        float64 `json:"humidity"`
	LightLevel      int     `json:"lightLevel"`
	Distance        float64 `json:"distance"`
	MotionDetected  bool    `json:"motionDetected"`
	IsDark          bool    `json:"isDark"`
	JoystickPressed bool    `json:"joystickPressed"`
	JoyX            int     `json:"joyX"`
	JoyY            int     `json:"joyY"`
	// Timestamp is epoch seconds when the board recorded the sample.
	Timestamp    int64 `json:"timestamp"`
	FromFallback bool  `json:"fromFallback"`
}

// Status is the board's actuator and system state.
type Status struct {
	Servo struct {
		Open   bool `json:"open"`
		Moving bool `json:"moving"`
	} `json:"servo"`
	LED struct {
		On bool `json:"builtin"`
	} `json:"led"`
	RGB struct {
		Mode                    string `json:"mode"`
		ManualOverride          bool   `json:"manualMode"`
		ManualOverrideRemaining int    `json:"manualTimeLeft"`
	} `json:"rgb"`
	Buzzer struct {
		Active bool `json:"active"`
	} `json:"buzzer"`
	System struct {
		Ready    bool  `json:"ready"`
		UptimeMs int64 `json:"uptime"`
	} `json:"system"`
	Network struct {
		State   string `json:"status"`
		Address string `json:"ip"`
		Signal  int    `json:"rssi"`
	} `json:"wifi"`
	// Timestamp is epoch ms when the board last wrote its status.
	Timestamp int64 `json:"timestamp"`
}

// Source reads the board's state from whichever backend carries it.
type Source interface {
	// LastSeen returns the epoch-ms timestamp the board was last heard from,
	// or 0 if it never was.
	LastSeen(ctx context.Context) (int64, error)
	// Sensors returns the latest sensor sample, or nil if none exists.
	Sensors(ctx context.Context) (*SensorReading, error)
	// Status returns the latest status, or nil if none exists.
	Status(ctx context.Context) (*Status, error)
}

// Kind is the actuator a Command targets.
type Kind string

const (
	KindLED   Kind = "led"
	KindServo Kind = "servo"
	KindRGB   Kind = "rgb"
)

// Command is a validated control request ready for dispatch.
type Command struct {
	// ID correlates the command across logs and transports.
	ID       string
	Kind     Kind
	On       bool
	Angle    int
	Mode     string
	IssuedAt time.Time
}

// Body returns the JSON body the board expects for this command.
func (c Command) Body() map[string]any {
	switch c.Kind {
	case KindLED:
		return map[string]any{"state": c.On}
	case KindServo:
		return map[string]any{"angle": c.Angle}
	case KindRGB:
		return map[string]any{"mode": c.Mode}
	}
	return map[string]any{}
}

// Ack is the command channel's reply.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Dispatcher delivers commands to the board.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) (Ack, error)
}
