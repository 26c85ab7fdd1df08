package timetools

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrParse is returned for any malformed time or timestamp expression
var ErrParse = errors.New("invalid time expression")

// ErrNoNominalDuration is returned when a fraction or percent timestamp is
// resolved before the nominal presentation duration is known
var ErrNoNominalDuration = errors.New("nominal presentation duration unknown")

// TimestampKind identifies which grammar produced a TimestampSpec
type TimestampKind int

const (
	// KindAbsolute is a wall-clock time, "[DD-]H:MM"
	KindAbsolute TimestampKind = iota
	// KindRelativeNow is an offset from now, "+H:MM"
	KindRelativeNow
	// KindRelativeDuration is a share of the nominal duration, "N/M" or "N%"
	KindRelativeDuration
)

func (k TimestampKind) String() string {
	switch k {
	case KindAbsolute:
		return "absolute"
	case KindRelativeNow:
		return "relative_now"
	case KindRelativeDuration:
		return "relative_duration"
	default:
		return "unknown"
	}
}

// TimestampSpec is a parsed end-time expression. It is resolved to a
// concrete instant only when a timer starts.
type TimestampSpec struct {
	Kind TimestampKind

	// KindAbsolute
	Day    int // 0 means "today's day of month"
	Hour   int
	Minute int

	// KindRelativeNow
	Offset time.Duration

	// KindRelativeDuration
	Ratio float64
}

var (
	hhmmRE     = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)
	absoluteRE = regexp.MustCompile(`^\s*(?:(\d{1,2})-)?\s*(\d{1,2}):(\d{2})\s*$`)
	relativeRE = regexp.MustCompile(`^\s*\+\s*(\d{1,2}):(\d{2})\s*$`)
	fractionRE = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*$`)
	percentRE  = regexp.MustCompile(`^\s*(\d+)\s*%\s*$`)
)

// ParseDurationHHMM parses "H:MM" or "HH:MM" into a duration.
func ParseDurationHHMM(text string) (time.Duration, error) {
	m := hhmmRE.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not H:MM", ErrParse, text)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	if minutes > 59 {
		return 0, fmt.Errorf("%w: minute %d out of range", ErrParse, minutes)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// ParseTimestamp parses an end-time expression. Grammars are tried in order
// and the first match wins: "[DD-]H:MM", "+H:MM", "N/M", "N%".
func ParseTimestamp(text string) (TimestampSpec, error) {
	if m := absoluteRE.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[2])
		minute, _ := strconv.Atoi(m[3])
		day := 0
		if m[1] != "" {
			day, _ = strconv.Atoi(m[1])
			if day < 1 || day > 31 {
				return TimestampSpec{}, fmt.Errorf("%w: day %d out of range", ErrParse, day)
			}
		}
		if hour > 23 {
			return TimestampSpec{}, fmt.Errorf("%w: hour %d out of range", ErrParse, hour)
		}
		if minute > 59 {
			return TimestampSpec{}, fmt.Errorf("%w: minute %d out of range", ErrParse, minute)
		}
		return TimestampSpec{Kind: KindAbsolute, Day: day, Hour: hour, Minute: minute}, nil
	}

	if m := relativeRE.FindStringSubmatch(text); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		if minutes > 59 {
			return TimestampSpec{}, fmt.Errorf("%w: minute %d out of range", ErrParse, minutes)
		}
		offset := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
		return TimestampSpec{Kind: KindRelativeNow, Offset: offset}, nil
	}

	if m := fractionRE.FindStringSubmatch(text); m != nil {
		numerator, err1 := strconv.Atoi(m[1])
		denominator, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || denominator == 0 {
			return TimestampSpec{}, fmt.Errorf("%w: bad fraction %q", ErrParse, text)
		}
		return TimestampSpec{Kind: KindRelativeDuration, Ratio: float64(numerator) / float64(denominator)}, nil
	}

	if m := percentRE.FindStringSubmatch(text); m != nil {
		percent, err := strconv.Atoi(m[1])
		if err != nil || percent == 0 {
			return TimestampSpec{}, fmt.Errorf("%w: bad percentage %q", ErrParse, text)
		}
		return TimestampSpec{Kind: KindRelativeDuration, Ratio: float64(percent) / 100}, nil
	}

	return TimestampSpec{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrParse, text)
}

// Resolve turns the timestamp into an instant. nominal is the nominal
// presentation duration and is only consulted for KindRelativeDuration.
func (s TimestampSpec) Resolve(nominal time.Duration, now time.Time) (time.Time, error) {
	switch s.Kind {
	case KindAbsolute:
		return s.resolveAbsolute(now), nil
	case KindRelativeNow:
		return now.Add(s.Offset), nil
	case KindRelativeDuration:
		if nominal <= 0 {
			return time.Time{}, ErrNoNominalDuration
		}
		return now.Add(time.Duration(s.Ratio * float64(nominal))), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown timestamp kind %d", ErrParse, s.Kind)
	}
}

// resolveAbsolute picks this month's or next month's occurrence, whichever
// is closer to now.
func (s TimestampSpec) resolveAbsolute(now time.Time) time.Time {
	day := s.Day
	if day == 0 {
		day = now.Day()
	}
	thisMonth := time.Date(now.Year(), now.Month(), day, s.Hour, s.Minute, 0, 0, now.Location())
	nextMonth := time.Date(now.Year(), now.Month()+1, day, s.Hour, s.Minute, 0, 0, now.Location())
	if absDuration(thisMonth.Sub(now)) < absDuration(nextMonth.Sub(now)) {
		return thisMonth
	}
	return nextMonth
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
