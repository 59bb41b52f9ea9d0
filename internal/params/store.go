// Package params holds the parameters shared by the control surface and the
// render loop.
package params

const (
	MinOpacity     = 0
	MaxOpacity     = 255
	DefaultOpacity = 255
	OpacityStep    = 10

	MinInterval     = 400
	MaxInterval     = 2000
	DefaultInterval = 500
	IntervalStep    = 50
)

// Params is a copy of the store's values.
type Params struct {
	OpacityLevel  int  `json:"opacity_level"`
	IntervalRate  int  `json:"interval_rate"`
	Active        bool `json:"active"`
	FreePaintMode bool `json:"free_paint_mode"`
}

// Defaults returns the startup parameters.
func Defaults() Params {
	return Params{
		OpacityLevel: DefaultOpacity,
		IntervalRate: DefaultInterval,
		Active:       true,
	}
}

// Store is passed explicitly to everything that reads or mutates the
// parameters. It has no locking: only the render loop goroutine touches it.
type Store struct {
	p Params
}

// NewStore creates a store with the given initial values, clamped into range.
func NewStore(initial Params) *Store {
	s := &Store{p: initial}
	s.p.OpacityLevel = clamp(initial.OpacityLevel, MinOpacity, MaxOpacity)
	s.p.IntervalRate = clamp(initial.IntervalRate, MinInterval, MaxInterval)
	return s
}

// Get returns a copy of the current values.
func (s *Store) Get() Params {
	return s.p
}

func (s *Store) OpacityLevel() int { return s.p.OpacityLevel }
func (s *Store) IntervalRate() int { return s.p.IntervalRate }
func (s *Store) Active() bool { return s.p.Active }
func (s *Store) FreePaintMode() bool { return s.p.FreePaintMode }

func (s *Store) IncreaseOpacity() int { return s.SetOpacity(s.p.OpacityLevel + OpacityStep) }
func (s *Store) DecreaseOpacity() int { return s.SetOpacity(s.p.OpacityLevel - OpacityStep) }

// SetOpacity sets the opacity level, clamped to [0,255], and returns it.
func (s *Store) SetOpacity(v int) int {
	s.p.OpacityLevel = clamp(v, MinOpacity, MaxOpacity)
	return s.p.OpacityLevel
}

func (s *Store) IncreaseInterval() int { return s.SetInterval(s.p.IntervalRate + IntervalStep) }
func (s *Store) DecreaseInterval() int { return s.SetInterval(s.p.IntervalRate - IntervalStep) }

// SetInterval sets the capture interval in ms, clamped to [400,2000], and
// returns it.
func (s *Store) SetInterval(v int) int {
	s.p.IntervalRate = clamp(v, MinInterval, MaxInterval)
	return s.p.IntervalRate
}

func (s *Store) SetActive(v bool) { s.p.Active = v }

func (s *Store) ToggleActive() bool {
	s.p.Active = !s.p.Active
	return s.p.Active
}

func (s *Store) ToggleFreePaint() bool {
	s.p.FreePaintMode = !s.p.FreePaintMode
	return s.p.FreePaintMode
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
