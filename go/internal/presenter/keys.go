package presenter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownKey is returned by HandleKey for unbound input
var ErrUnknownKey = errors.New("unknown key")

// HandleKey applies one line of terminal input. Recognized bindings:
//
//	PageDown, ArrowDown, ArrowRight, n   next slide
//	PageUp, ArrowUp, ArrowLeft, p        previous slide
//	Home / End                           first / last slide
//	f                                    start presentation (full-screen)
//	Escape                               leave full-screen
//	g <n>                                go to slide n
//	b <minutes>                          start a break
//	B                                    dismiss the break
func (p *Presenter) HandleKey(input string) error {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}

	switch key := fields[0]; key {
	case "PageDown", "ArrowDown", "ArrowRight", "n":
		p.Next()
	case "PageUp", "ArrowUp", "ArrowLeft", "p":
		p.Prev()
	case "Home":
		p.First()
	case "End":
		p.Last()
	case "f":
		p.StartPresentation()
	case "Escape":
		p.ExitFullscreen()
	case "g":
		if len(fields) != 2 {
			return fmt.Errorf("%w: usage g <slide>", ErrUnknownKey)
		}
		slide, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("invalid slide %q: %w", fields[1], err)
		}
		if !p.Goto(slide) && slide != p.surface.CurrentSlide() {
			return fmt.Errorf("no such slide: %d", slide)
		}
	case "b":
		minutes := 15.0
		if len(fields) == 2 {
			m, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return fmt.Errorf("invalid break length %q: %w", fields[1], err)
			}
			minutes = m
		}
		return p.Pause(time.Duration(minutes*float64(time.Minute)), nil)
	case "B":
		p.EndBreak()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}
