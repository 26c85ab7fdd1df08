package schedule

import (
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/deckpace/go/internal/protocol"
	"gopkg.in/yaml.v3"
)

// DeckFile is the YAML layout of a deck definition
type DeckFile struct {
	Title            string      `yaml:"title"`
	PresentationTime string      `yaml:"presentation_time"`
	Slides           []SlideFile `yaml:"slides"`
}

// SlideFile is one slide entry
type SlideFile struct {
	Title string    `yaml:"title"`
	Time  *TimeFile `yaml:"time,omitempty"`
}

// TimeFile holds a slide's timing; set exactly one field
type TimeFile struct {
	Abs string `yaml:"abs,omitempty"`
	Rel string `yaml:"rel,omitempty"`
}

// Deck is a loaded deck with its computed schedule
type Deck struct {
	Title            string
	PresentationTime string
	Nominal          time.Duration
	SlideTitles      []string
	Slices           []Slice
}

// LoadDeck reads and schedules a YAML deck file
func LoadDeck(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck %s: %w", path, err)
	}
	deck, err := ParseDeck(data)
	if err != nil {
		return nil, fmt.Errorf("deck %s: %w", path, err)
	}
	return deck, nil
}

// ParseDeck schedules a YAML deck definition
func ParseDeck(data []byte) (*Deck, error) {
	var file DeckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse deck YAML: %w", err)
	}
	if len(file.Slides) == 0 {
		return nil, fmt.Errorf("%w: deck has no slides", ErrTimeSpecification)
	}

	var nominal time.Duration
	if file.PresentationTime != "" {
		d, err := ParsePresentationTime(file.PresentationTime)
		if err != nil {
			return nil, err
		}
		nominal = d
	}

	sched := New(nominal)
	titles := make([]string, len(file.Slides))
	for i, slide := range file.Slides {
		n := i + 1
		titles[i] = slide.Title
		if slide.Time == nil {
			sched.HaveSlide(n)
			continue
		}
		spec, err := ParseTimeSpec(slide.Time.Abs, slide.Time.Rel)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", n, err)
		}
		sched.Set(n, spec)
	}

	slices, err := sched.Compute()
	if err != nil {
		return nil, err
	}

	return &Deck{
		Title:            file.Title,
		PresentationTime: file.PresentationTime,
		Nominal:          nominal,
		SlideTitles:      titles,
		Slices:           slices,
	}, nil
}

// SlideCount returns the number of slides
func (d *Deck) SlideCount() int {
	return len(d.Slices)
}

// Ratios returns the per-slide time ratios
func (d *Deck) Ratios() []float64 {
	out := make([]float64, len(d.Slices))
	for i, s := range d.Slices {
		out[i] = s.Ratio
	}
	return out
}

// Meta builds the presentation_meta payload announced by the presenter
func (d *Deck) Meta() protocol.PresentationMetaPayload {
	return protocol.PresentationMetaPayload{
		SlideCount:         d.SlideCount(),
		SlideRatios:        d.Ratios(),
		PresentationTime:   d.PresentationTime,
		NominalDurationSec: d.Nominal.Seconds(),
		Title:              d.Title,
	}
}
