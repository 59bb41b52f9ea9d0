// Package echo holds the captured "echo" snapshots that are layered over
// the canvas. Entries are kept oldest first, snap to the global opacity
// level every tick and disappear once they outlive their lifetime.
package echo

import (
	"errors"
	"time"
)

const (
	// MaxEntries is the default number of echoes kept while active.
	MaxEntries = 25
	// Lifetime is how long an echo stays visible while active.
	Lifetime = 10 * time.Second
	// FullOpacity is the opacity of a freshly captured echo.
	FullOpacity = 255
)

// Raster is an image resource owned by the buffer. Close releases it.
type Raster interface {
	Close() error
}

// SnapFunc produces the raster for a new echo. It is only called when a
// capture actually happens.
type SnapFunc func() (Raster, error)

// Entry is one captured snapshot.
type Entry struct {
	Image     Raster
	Opacity   int
	Timestamp time.Time
}

// Buffer is an ordered list of echoes, oldest first. It is not safe for
// concurrent use; the render loop owns it.
type Buffer struct {
	entries  []*Entry
	capacity int
	lifetime time.Duration
}

// NewBuffer creates a buffer. Non-positive arguments fall back to
// MaxEntries and Lifetime.
func NewBuffer(capacity int, lifetime time.Duration) *Buffer {
	if capacity <= 0 {
		capacity = MaxEntries
	}
	if lifetime <= 0 {
		lifetime = Lifetime
	}
	return &Buffer{
		entries:  make([]*Entry, 0, capacity+1),
		capacity: capacity,
		lifetime: lifetime,
	}
}

// Capture appends a new echo when the system is active and a segmentation
// result exists, then enforces capacity. When inactive nothing happens,
// not even the capacity check.
func (b *Buffer) Capture(now time.Time, active, segmented bool, snap SnapFunc) error {
	if !active {
		return nil
	}

	var err error
	if segmented {
		var img Raster
		img, err = snap()
		if err == nil {
			b.entries = append(b.entries, &Entry{
				Image:     img,
				Opacity:   FullOpacity,
				Timestamp: now,
			})
		}
	}

	if evictErr := b.EnforceCapacity(active); evictErr != nil {
		err = errors.Join(err, evictErr)
	}
	return err
}

// EnforceCapacity evicts and releases exactly the oldest entry when active
// and over capacity.
func (b *Buffer) EnforceCapacity(active bool) error {
	if !active || len(b.entries) <= b.capacity {
		return nil
	}

	oldest := b.entries[0]
	b.entries[0] = nil
	b.entries = b.entries[1:]
	return release(oldest)
}

// Tick levels every entry to opacityLevel, hides entries older than the
// lifetime while active, and removes every entry left at zero opacity.
func (b *Buffer) Tick(now time.Time, opacityLevel int, active bool) error {
	var errs []error
	kept := b.entries[:0]
	for _, e := range b.entries {
		e.Opacity = opacityLevel
		if active && now.Sub(e.Timestamp) > b.lifetime {
			e.Opacity = 0
		}

		if e.Opacity <= 0 {
			if err := release(e); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		kept = append(kept, e)
	}

	for i := len(kept); i < len(b.entries); i++ {
		b.entries[i] = nil
	}
	b.entries = kept
	return errors.Join(errs...)
}

// Clear releases and removes every entry.
func (b *Buffer) Clear() error {
	var errs []error
	for i, e := range b.entries {
		if err := release(e); err != nil {
			errs = append(errs, err)
		}
		b.entries[i] = nil
	}
	b.entries = b.entries[:0]
	return errors.Join(errs...)
}

// Entries returns the live entries, oldest first. The slice is only valid
// until the next mutating call.
func (b *Buffer) Entries() []*Entry {
	return b.entries
}

// Len returns the number of live entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Capacity returns the maximum number of entries kept while active.
func (b *Buffer) Capacity() int {
	return b.capacity
}

func release(e *Entry) error {
	if e == nil || e.Image == nil {
		return nil
	}
	img := e.Image
	e.Image = nil
	return img.Close()
}
