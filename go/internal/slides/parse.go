package slides

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	rangeRE    = regexp.MustCompile(`^\s*(#)?\s*(?:(\d+)\s*(%)?)?\s*-\s*(?:(\d+)\s*(%)?)?\s*$`)
	fractionRE = regexp.MustCompile(`^\s*(#)?\s*(\d+)\s*/\s*(\d+)\s*$`)
)

// Parse resolves a selector such as "all", "10-20", "50%-", "#1/3" or "2/5"
// into a concrete subset. A leading "#" switches percentages and fractions
// from cumulative time to slide count.
func (s *Selector) Parse(text string) (Subset, error) {
	trimmed := strings.TrimSpace(text)
	if strings.EqualFold(trimmed, "all") || trimmed == "*" {
		return Subset{Begin: 1, End: s.Count()}, nil
	}

	if m := rangeRE.FindStringSubmatch(text); m != nil {
		byCount := m[1] != ""

		begin := 1
		if m[2] != "" {
			value, err := strconv.Atoi(m[2])
			if err != nil {
				return Subset{}, fmt.Errorf("%w: %q", ErrInvalidSelector, text)
			}
			begin = value
			if m[3] != "" {
				begin = s.percentBoundary(value, byCount)
				if begin > 1 {
					// Start after the boundary slide so "0%-50%" and
					// "50%-100%" do not share a slide.
					begin++
				}
			}
		}

		end := s.Count()
		if m[4] != "" {
			value, err := strconv.Atoi(m[4])
			if err != nil {
				return Subset{}, fmt.Errorf("%w: %q", ErrInvalidSelector, text)
			}
			end = value
			if m[5] != "" {
				end = s.percentBoundary(value, byCount)
			}
		}

		return s.makeSubset(text, begin, end)
	}

	if m := fractionRE.FindStringSubmatch(text); m != nil {
		byCount := m[1] != ""
		part, err1 := strconv.Atoi(m[2])
		parts, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil || part < 1 || parts < part {
			return Subset{}, fmt.Errorf("%w: fraction %q", ErrInvalidSelector, text)
		}

		lower := float64(part-1) / float64(parts)
		upper := float64(part) / float64(parts)

		var begin, end int
		if byCount {
			begin = int(math.Round(lower*float64(s.Count()))) + 1
			end = s.countBoundary(upper)
		} else {
			begin = s.slideStartingAt(lower)
			end = s.slideStartingAt(upper) - 1
		}
		return s.makeSubset(text, begin, end)
	}

	return Subset{}, fmt.Errorf("%w: unrecognized syntax %q", ErrInvalidSelector, text)
}

func (s *Selector) percentBoundary(percent int, byCount bool) int {
	fraction := float64(percent) / 100
	if byCount {
		return s.countBoundary(fraction)
	}
	return s.slideReaching(fraction)
}

func (s *Selector) makeSubset(text string, begin, end int) (Subset, error) {
	begin = clamp(begin, 1, s.Count())
	end = clamp(end, 1, s.Count())
	if begin > end {
		return Subset{}, fmt.Errorf("%w: %q selects no slides", ErrInvalidSelector, text)
	}
	return Subset{Begin: begin, End: end}, nil
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
