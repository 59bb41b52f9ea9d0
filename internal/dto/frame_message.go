package dto

// FrameMessage is broadcast to viewers after every rendered tick.
type FrameMessage struct {
	Image string `json:"image"` // base64 JPEG
	State State  `json:"state"`
}
