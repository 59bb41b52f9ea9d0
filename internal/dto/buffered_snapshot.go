package dto

import "time"

// BufferedSnapshot holds an encoded canvas before it is flushed to disk.
type BufferedSnapshot struct {
	ID        string
	Timestamp time.Time
	Echoes    int
	Data      []byte
}
