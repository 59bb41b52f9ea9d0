// Package control turns keyboard, slider, voice and button input into
// commands for the render loop.
package control

import (
	"strings"

	"echoes/internal/echo"
)

// Kind identifies a control command.
type Kind int

const (
	None Kind = iota
	OpacityUp
	OpacityDown
	SetOpacity
	IntervalUp
	IntervalDown
	SetInterval
	ToggleActive
	Activate
	Deactivate
	ToggleFreePaint
	ClearEchoes
	SetBackground
	CanvasAsBackground
	SaveSnapshot
)

var kindNames = map[Kind]string{
	None:               "none",
	OpacityUp:          "opacity_up",
	OpacityDown:        "opacity_down",
	SetOpacity:         "set_opacity",
	IntervalUp:         "interval_up",
	IntervalDown:       "interval_down",
	SetInterval:        "set_interval",
	ToggleActive:       "toggle_active",
	Activate:           "activate",
	Deactivate:         "deactivate",
	ToggleFreePaint:    "toggle_free_paint",
	ClearEchoes:        "clear",
	SetBackground:      "set_background",
	CanvasAsBackground: "add_layer",
	SaveSnapshot:       "save",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a command name as sent by the browser to its Kind.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name && k != None {
			return k, true
		}
	}
	return None, false
}

// Command is one control event. Value is used by SetOpacity and
// SetInterval; Image by SetBackground.
type Command struct {
	Kind  Kind
	Value int
	Image echo.Raster
}

// Release closes the image carried by the command, if any. Used when a
// command is dropped instead of applied.
func (c Command) Release() error {
	if c.Image == nil {
		return nil
	}
	return c.Image.Close()
}
