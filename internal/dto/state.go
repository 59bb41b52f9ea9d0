package dto

import "echoes/internal/params"

// State is what the render loop reports after each tick.
type State struct {
	params.Params
	Echoes        int    `json:"echoes"`
	MaxEchoes     int    `json:"max_echoes"`
	Segmented     bool   `json:"segmented"`
	HasBackground bool   `json:"has_background"`
	Tick          uint64 `json:"tick"`
}
