package schedule

import (
	"fmt"
	"time"
)

// Slice is the computed time budget of one slide
type Slice struct {
	Slide      int
	Ratio      float64
	BeginRatio float64
	EndRatio   float64
	Duration   time.Duration
}

// Schedule distributes presentation time over slides. Absolute slides get
// their fixed time; relative points share what is left.
type Schedule struct {
	total    time.Duration // 0 when no presentation time is set
	specs    map[int]TimeSpec
	maxSlide int
}

// New creates a schedule. total may be zero when the presentation length is
// not known, in which case only relative timing is allowed.
func New(total time.Duration) *Schedule {
	return &Schedule{total: total, specs: make(map[int]TimeSpec)}
}

// Total returns the presentation time, 0 if unknown
func (s *Schedule) Total() time.Duration {
	return s.total
}

// HaveSlide records that slide exists without timing
func (s *Schedule) HaveSlide(slide int) {
	if slide > s.maxSlide {
		s.maxSlide = slide
	}
}

// Set attaches timing to slide
func (s *Schedule) Set(slide int, spec TimeSpec) {
	s.specs[slide] = spec
	s.HaveSlide(slide)
}

// SlideCount returns the highest slide number seen
func (s *Schedule) SlideCount() int {
	return s.maxSlide
}

// Compute returns one slice per slide, 1-indexed order.
func (s *Schedule) Compute() ([]Slice, error) {
	var absSecs, relPoints float64
	for slide := 1; slide <= s.maxSlide; slide++ {
		spec, ok := s.specs[slide]
		switch {
		case !ok:
			relPoints++
		case spec.Kind == SpecAbsolute:
			absSecs += spec.Seconds
		default:
			relPoints += spec.Points
		}
	}

	totalSecs := s.total.Seconds()
	if absSecs > 0 && s.total <= 0 {
		return nil, fmt.Errorf("%w: absolute slide timing needs a presentation time", ErrTimeSpecification)
	}

	relSecs := 1.0
	if s.total > 0 {
		relSecs = totalSecs - absSecs
		if relSecs < 0 {
			return nil, fmt.Errorf("%w: presentation time is %.0f seconds, but %.0f seconds are already allocated to absolute slides",
				ErrTimeSpecification, totalSecs, absSecs)
		}
	}
	if relPoints == 0 {
		relPoints = 1
	}

	slices := make([]Slice, 0, s.maxSlide)
	var cursor float64
	for slide := 1; slide <= s.maxSlide; slide++ {
		var secs float64
		spec, ok := s.specs[slide]
		switch {
		case !ok:
			secs = relSecs / relPoints
		case spec.Kind == SpecAbsolute:
			secs = spec.Seconds
		default:
			secs = spec.Points / relPoints * relSecs
		}

		ratio := secs
		if s.total > 0 {
			ratio = secs / totalSecs
		}
		slc := Slice{
			Slide:      slide,
			Ratio:      ratio,
			BeginRatio: cursor,
			EndRatio:   cursor + ratio,
		}
		if s.total > 0 {
			slc.Duration = time.Duration(secs * float64(time.Second))
		}
		cursor += ratio
		slices = append(slices, slc)
	}
	return slices, nil
}

// Ratios returns just the per-slide ratios
func (s *Schedule) Ratios() ([]float64, error) {
	slices, err := s.Compute()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(slices))
	for i, slc := range slices {
		out[i] = slc.Ratio
	}
	return out, nil
}
