package schedule

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTimeSpec_absolute(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"10 sec", 10},
		{"123s", 123},
		{"1min", 60},
		{"1.5m", 90},
		{".5 min", 30},
		{"2:30", 150},
		{"2:30ms", 150},
		{"2:30 m:s", 150},
		{"2:30hm", 9000},
		{"2:30 h:m", 9000},
	}
	for _, tt := range tests {
		spec, err := ParseTimeSpec(tt.in, "")
		if err != nil {
			t.Errorf("ParseTimeSpec(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if spec.Kind != SpecAbsolute || math.Abs(spec.Seconds-tt.want) > 1e-9 {
			t.Errorf("ParseTimeSpec(%q) = %+v, want %v seconds", tt.in, spec, tt.want)
		}
	}
}

func TestParseTimeSpec_relative(t *testing.T) {
	spec, err := ParseTimeSpec("", "1.234")
	if err != nil {
		t.Fatalf("ParseTimeSpec: %v", err)
	}
	if spec.Kind != SpecRelative || math.Abs(spec.Points-1.234) > 1e-9 {
		t.Errorf("spec = %+v", spec)
	}
}

func TestParseTimeSpec_invalid(t *testing.T) {
	cases := []struct{ abs, rel string }{
		{"", ""},
		{"1 min", "1"},
		{"", "ABC"},
		{":12", ""},
		{"1.234:30 min", ""},
		{"2:75", ""},
	}
	for _, c := range cases {
		if _, err := ParseTimeSpec(c.abs, c.rel); !errors.Is(err, ErrTimeSpecification) {
			t.Errorf("ParseTimeSpec(%q, %q) error = %v", c.abs, c.rel, err)
		}
	}
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("9:00-9:45")
	if err != nil {
		t.Fatalf("ParseTimeRange: %v", err)
	}
	if r.Duration() != 45*time.Minute || r.String() != "9:00-9:45" {
		t.Errorf("range = %v (%v)", r, r.Duration())
	}

	overnight, err := ParseTimeRange("23:30-0:15")
	if err != nil {
		t.Fatalf("ParseTimeRange: %v", err)
	}
	if overnight.Duration() != 45*time.Minute {
		t.Errorf("overnight duration = %v", overnight.Duration())
	}
	if overnight.String() != "23:30-0:15" {
		t.Errorf("overnight String = %q", overnight.String())
	}

	for _, bad := range []string{"24:00-1:00", "9:60-10:00", "9-10", ""} {
		if _, err := ParseTimeRange(bad); !errors.Is(err, ErrTimeSpecification) {
			t.Errorf("ParseTimeRange(%q) error = %v", bad, err)
		}
	}
}

func TestParsePresentationTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0:45", 45 * time.Minute},
		{"1:30", 90 * time.Minute},
		{"45 min", 45 * time.Minute},
		{"9:00-9:45 10:00-10:30", 75 * time.Minute},
	}
	for _, tt := range tests {
		got, err := ParsePresentationTime(tt.in)
		if err != nil {
			t.Errorf("ParsePresentationTime(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePresentationTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParsePresentationTime("soon"); !errors.Is(err, ErrTimeSpecification) {
		t.Errorf("ParsePresentationTime(soon) error = %v", err)
	}
}

func TestSchedule_mixed(t *testing.T) {
	// 10 minutes; slide 1 fixed at 2 minutes, slide 2 worth 2 points, slides
	// 3 and 4 worth 1 point each share the remaining 8 minutes.
	s := New(10 * time.Minute)
	s.Set(1, TimeSpec{Kind: SpecAbsolute, Seconds: 120})
	s.Set(2, TimeSpec{Kind: SpecRelative, Points: 2})
	s.HaveSlide(4)

	slices, err := s.Compute()
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(slices) != 4 {
		t.Fatalf("got %d slices", len(slices))
	}

	wantSecs := []float64{120, 240, 120, 120}
	var sum float64
	for i, slc := range slices {
		if math.Abs(slc.Duration.Seconds()-wantSecs[i]) > 1e-6 {
			t.Errorf("slide %d duration = %v, want %vs", i+1, slc.Duration, wantSecs[i])
		}
		if math.Abs(slc.BeginRatio-sum) > 1e-9 {
			t.Errorf("slide %d begin ratio = %v, want %v", i+1, slc.BeginRatio, sum)
		}
		sum += slc.Ratio
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("ratios sum to %v", sum)
	}
}

func TestSchedule_relativeOnlyWithoutTotal(t *testing.T) {
	s := New(0)
	s.Set(2, TimeSpec{Kind: SpecRelative, Points: 3})
	s.HaveSlide(3)

	ratios, err := s.Ratios()
	if err != nil {
		t.Fatalf("Ratios: %v", err)
	}
	want := []float64{0.2, 0.6, 0.2}
	for i := range want {
		if math.Abs(ratios[i]-want[i]) > 1e-9 {
			t.Errorf("ratio[%d] = %v, want %v", i, ratios[i], want[i])
		}
	}
}

func TestSchedule_errors(t *testing.T) {
	noTotal := New(0)
	noTotal.Set(1, TimeSpec{Kind: SpecAbsolute, Seconds: 60})
	if _, err := noTotal.Compute(); !errors.Is(err, ErrTimeSpecification) {
		t.Errorf("absolute without total error = %v", err)
	}

	overbooked := New(time.Minute)
	overbooked.Set(1, TimeSpec{Kind: SpecAbsolute, Seconds: 90})
	if _, err := overbooked.Compute(); !errors.Is(err, ErrTimeSpecification) {
		t.Errorf("overbooked error = %v", err)
	}
}

const sampleDeck = `
title: Pacing in practice
presentation_time: "0:20"
slides:
  - title: Welcome
    time:
      abs: "2 min"
  - title: Problem
    time:
      rel: "2"
  - title: Approach
  - title: Questions
`

func TestParseDeck(t *testing.T) {
	deck, err := ParseDeck([]byte(sampleDeck))
	if err != nil {
		t.Fatalf("ParseDeck: %v", err)
	}
	if deck.SlideCount() != 4 || deck.Nominal != 20*time.Minute {
		t.Fatalf("deck = %d slides, nominal %v", deck.SlideCount(), deck.Nominal)
	}
	if deck.SlideTitles[2] != "Approach" {
		t.Errorf("titles = %v", deck.SlideTitles)
	}

	meta := deck.Meta()
	if meta.Title != "Pacing in practice" || meta.SlideCount != 4 || meta.NominalDurationSec != 1200 {
		t.Errorf("meta = %+v", meta)
	}
	// 2 minutes fixed, then 18 minutes over 4 points.
	if math.Abs(meta.SlideRatios[0]-0.1) > 1e-9 || math.Abs(meta.SlideRatios[1]-0.45) > 1e-9 {
		t.Errorf("ratios = %v", meta.SlideRatios)
	}
	if _, err := meta.Selector(); err != nil {
		t.Errorf("meta does not build a selector: %v", err)
	}
}

func TestParseDeck_errors(t *testing.T) {
	if _, err := ParseDeck([]byte("title: empty\n")); !errors.Is(err, ErrTimeSpecification) {
		t.Errorf("empty deck error = %v", err)
	}
	bad := "slides:\n  - title: a\n    time:\n      abs: \"1 min\"\n      rel: \"1\"\n"
	if _, err := ParseDeck([]byte(bad)); !errors.Is(err, ErrTimeSpecification) {
		t.Errorf("double timing error = %v", err)
	}
	if _, err := ParseDeck([]byte("slides: [")); err == nil {
		t.Error("invalid YAML accepted")
	}
}

func TestLoadDeck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.yaml")
	if err := os.WriteFile(path, []byte(sampleDeck), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	deck, err := LoadDeck(path)
	if err != nil {
		t.Fatalf("LoadDeck: %v", err)
	}
	if deck.Title != "Pacing in practice" {
		t.Errorf("title = %q", deck.Title)
	}
	if _, err := LoadDeck(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadDeck of a missing file succeeded")
	}
}
