package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/deckpace/go/internal/timetools"
)

// ErrTimeSpecification is returned for malformed or inconsistent slide timing
var ErrTimeSpecification = errors.New("invalid time specification")

// SpecKind says whether a slide's time is fixed or a share of the remainder
type SpecKind int

const (
	SpecRelative SpecKind = iota
	SpecAbsolute
)

func (k SpecKind) String() string {
	if k == SpecAbsolute {
		return "absolute"
	}
	return "relative"
}

// TimeSpec is the timing annotation of one slide
type TimeSpec struct {
	Kind SpecKind
	// Seconds is set for SpecAbsolute
	Seconds float64
	// Points is set for SpecRelative; an unannotated slide is worth 1
	Points float64
}

var (
	absUnitRE  = regexp.MustCompile(`^\s*((?:\d*\.)?\d+)\s*(min|sec|m|s)\s*$`)
	absClockRE = regexp.MustCompile(`^\s*(\d+):(\d{2})\s*(hm|h:m|ms|m:s)?\s*$`)
	relRE      = regexp.MustCompile(`^\s*((?:\d*\.)?\d+)\s*$`)
)

// ParseTimeSpec parses a slide's timing. Exactly one of abs ("10 sec",
// "1.5m", "2:30" as m:s, "1:15 hm") and rel ("1.234") must be non-empty.
func ParseTimeSpec(abs, rel string) (TimeSpec, error) {
	switch {
	case abs == "" && rel == "":
		return TimeSpec{}, fmt.Errorf("%w: either absolute or relative timing must be supplied", ErrTimeSpecification)
	case abs != "" && rel != "":
		return TimeSpec{}, fmt.Errorf("%w: either absolute or relative timing must be supplied, not both", ErrTimeSpecification)
	case abs != "":
		secs, err := parseAbsolute(abs, "m:s")
		if err != nil {
			return TimeSpec{}, err
		}
		return TimeSpec{Kind: SpecAbsolute, Seconds: secs}, nil
	default:
		m := relRE.FindStringSubmatch(rel)
		if m == nil {
			return TimeSpec{}, fmt.Errorf("%w: invalid relative timing %q", ErrTimeSpecification, rel)
		}
		points, _ := strconv.ParseFloat(m[1], 64)
		return TimeSpec{Kind: SpecRelative, Points: points}, nil
	}
}

// parseAbsolute returns seconds. defaultClock decides whether a bare "X:YY"
// means hours:minutes ("h:m") or minutes:seconds ("m:s").
func parseAbsolute(text, defaultClock string) (float64, error) {
	if m := absUnitRE.FindStringSubmatch(text); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		if m[2] == "min" || m[2] == "m" {
			return value * 60, nil
		}
		return value, nil
	}

	if m := absClockRE.FindStringSubmatch(text); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		if minor > 59 {
			return 0, fmt.Errorf("%w: %q has %d in the minor field", ErrTimeSpecification, text, minor)
		}
		interpretation := m[3]
		if interpretation == "" {
			interpretation = defaultClock
		}
		switch strings.ReplaceAll(interpretation, ":", "") {
		case "hm":
			return float64(major*3600 + minor*60), nil
		default:
			return float64(major*60 + minor), nil
		}
	}

	return 0, fmt.Errorf("%w: invalid absolute timing %q", ErrTimeSpecification, text)
}

// TimeRange is a wall-clock span in minutes after midnight. End may exceed
// 1440 when the range crosses midnight.
type TimeRange struct {
	Begin int
	End   int
}

var timeRangeRE = regexp.MustCompile(`^\s*(\d+):(\d{2})\s*-\s*(\d+):(\d{2})\s*$`)

// ParseTimeRange parses "H:MM-H:MM"
func ParseTimeRange(text string) (TimeRange, error) {
	m := timeRangeRE.FindStringSubmatch(text)
	if m == nil {
		return TimeRange{}, fmt.Errorf("%w: invalid time range %q", ErrTimeSpecification, text)
	}
	var v [4]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	if v[0] > 23 || v[2] > 23 {
		return TimeRange{}, fmt.Errorf("%w: %q; hours must be in range 0..23", ErrTimeSpecification, text)
	}
	if v[1] > 59 || v[3] > 59 {
		return TimeRange{}, fmt.Errorf("%w: %q; minutes must be in range 0..59", ErrTimeSpecification, text)
	}

	r := TimeRange{Begin: v[0]*60 + v[1], End: v[2]*60 + v[3]}
	if r.End < r.Begin {
		r.End += 1440
	}
	return r, nil
}

// Duration is the length of the range
func (r TimeRange) Duration() time.Duration {
	return time.Duration(r.End-r.Begin) * time.Minute
}

func (r TimeRange) String() string {
	begin, end := r.Begin%1440, r.End%1440
	return fmt.Sprintf("%d:%02d-%d:%02d", begin/60, begin%60, end/60, end%60)
}

// TimeRanges is a list of presentation blocks, e.g. around a break
type TimeRanges []TimeRange

// ParseTimeRanges parses whitespace separated ranges
func ParseTimeRanges(text string) (TimeRanges, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty time range list", ErrTimeSpecification)
	}
	out := make(TimeRanges, 0, len(fields))
	for _, f := range fields {
		r, err := ParseTimeRange(f)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Duration is the total length of all ranges
func (rs TimeRanges) Duration() time.Duration {
	var total time.Duration
	for _, r := range rs {
		total += r.Duration()
	}
	return total
}

func (rs TimeRanges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

// ParsePresentationTime accepts an "H:MM" duration, a unit duration such as
// "45 min", or a list of time ranges.
func ParsePresentationTime(text string) (time.Duration, error) {
	if d, err := timetools.ParseDurationHHMM(text); err == nil {
		return d, nil
	}
	if secs, err := parseAbsolute(text, "h:m"); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	ranges, err := ParseTimeRanges(text)
	if err != nil {
		return 0, fmt.Errorf("%w: presentation time %q is neither a duration nor time ranges", ErrTimeSpecification, text)
	}
	return ranges.Duration(), nil
}
