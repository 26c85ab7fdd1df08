package slides

import (
	"errors"
	"fmt"
	"math"
)

// ratioTolerance absorbs float error when comparing cumulative ratios
const ratioTolerance = 1e-9

var (
	// ErrInvalidWeights is returned for an empty, negative or all-zero weighting
	ErrInvalidWeights = errors.New("invalid slide weights")
	// ErrInvalidSelector is returned when a selector cannot be resolved
	ErrInvalidSelector = errors.New("invalid slide selector")
)

// Subset is a contiguous, inclusive, 1-indexed range of slides
type Subset struct {
	Begin int `json:"begin_slide"`
	End   int `json:"end_slide"`
}

// Len returns the number of slides in the subset
func (s Subset) Len() int {
	return s.End - s.Begin + 1
}

// Contains reports whether slide lies within the subset
func (s Subset) Contains(slide int) bool {
	return slide >= s.Begin && slide <= s.End
}

func (s Subset) String() string {
	return fmt.Sprintf("%d - %d", s.Begin, s.End)
}

// Selector maps between slide numbers and shares of presentation time.
// It is immutable after construction.
type Selector struct {
	ratios     []float64
	cumulative []float64 // cumulative[i] = sum(ratios[0..i])
}

// NewSelector builds a Selector from per-slide relative weights. Weights are
// normalized so they sum to 1.
func NewSelector(weights []float64) (*Selector, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no slides", ErrInvalidWeights)
	}

	var total float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: slide %d has weight %v", ErrInvalidWeights, i+1, w)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}

	ratios := make([]float64, len(weights))
	cumulative := make([]float64, len(weights))
	var sum float64
	for i, w := range weights {
		ratios[i] = w / total
		sum += w
		cumulative[i] = sum / total
	}
	// Pin the last entry so floating error never leaves it short of 1.
	cumulative[len(cumulative)-1] = 1

	return &Selector{ratios: ratios, cumulative: cumulative}, nil
}

// NewUniformSelector returns a Selector where every slide has equal weight.
func NewUniformSelector(count int) (*Selector, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: slide count %d", ErrInvalidWeights, count)
	}
	weights := make([]float64, count)
	for i := range weights {
		weights[i] = 1
	}
	return NewSelector(weights)
}

// Count returns the number of slides
func (s *Selector) Count() int {
	return len(s.ratios)
}

// RatioOf returns the share of total time allotted to slide (1-indexed).
// Slides outside the deck have ratio 0.
func (s *Selector) RatioOf(slide int) float64 {
	if slide < 1 || slide > len(s.ratios) {
		return 0
	}
	return s.ratios[slide-1]
}

// CumulativeRatioBefore returns the share of time allotted to all slides
// preceding slide.
func (s *Selector) CumulativeRatioBefore(slide int) float64 {
	switch {
	case slide <= 1:
		return 0
	case slide > len(s.cumulative):
		return 1
	default:
		return s.cumulative[slide-2]
	}
}

// CumulativeRatioAfter returns the share of time allotted to slides up to
// and including slide.
func (s *Selector) CumulativeRatioAfter(slide int) float64 {
	switch {
	case slide < 1:
		return 0
	case slide >= len(s.cumulative):
		return 1
	default:
		return s.cumulative[slide-1]
	}
}

// RatioOfSubset returns the share of total time allotted to the subset.
func (s *Selector) RatioOfSubset(subset Subset) float64 {
	return s.CumulativeRatioAfter(subset.End) - s.CumulativeRatioBefore(subset.Begin)
}

// Ratios returns a copy of the normalized per-slide ratios.
func (s *Selector) Ratios() []float64 {
	out := make([]float64, len(s.ratios))
	copy(out, s.ratios)
	return out
}

// slideReaching returns the first slide whose cumulative ratio reaches
// ratio, i.e. the slide during which that share of time is used up.
func (s *Selector) slideReaching(ratio float64) int {
	for i, c := range s.cumulative {
		if c >= ratio-ratioTolerance {
			return i + 1
		}
	}
	return len(s.cumulative)
}

// slideStartingAt returns the first slide that starts at or after ratio, or
// Count()+1 when no slide does.
func (s *Selector) slideStartingAt(ratio float64) int {
	for slide := 1; slide <= len(s.ratios); slide++ {
		if s.CumulativeRatioBefore(slide) >= ratio-ratioTolerance {
			return slide
		}
	}
	return len(s.ratios) + 1
}

// countBoundary maps a fraction of the slide count to a slide number.
func (s *Selector) countBoundary(fraction float64) int {
	slide := int(math.Round(fraction * float64(len(s.ratios))))
	if slide < 1 {
		return 1
	}
	return slide
}
