package dto

// ControlMessage is sent by the browser over the control websocket.
//
//	{"type":"key","key":"ArrowUp"}
//	{"type":"voice","text":"stop"}
//	{"type":"set_opacity","value":120}
//	{"type":"add_layer"}
type ControlMessage struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Text  string `json:"text,omitempty"`
	Value int    `json:"value,omitempty"`
}

// Control message types that are not command names.
const (
	ControlKey   = "key"
	ControlVoice = "voice"
)
