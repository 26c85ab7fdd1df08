package presenter

import "sync"

// Surface is the slide display the presenter drives. Slides are 1-indexed.
type Surface interface {
	SlideCount() int
	CurrentSlide() int
	// Goto shows slide and reports whether it was in range
	Goto(slide int) bool
	Fullscreen() bool
	SetFullscreen(on bool)
}

// Deck is an in-memory Surface for terminal presenters and tests
type Deck struct {
	mu         sync.Mutex
	titles     []string
	count      int
	current    int
	fullscreen bool
}

var _ Surface = (*Deck)(nil)

// NewDeck creates a deck of count slides positioned on slide 1. titles may be
// shorter than count.
func NewDeck(count int, titles []string) *Deck {
	current := 1
	if count < 1 {
		count, current = 0, 0
	}
	return &Deck{titles: titles, count: count, current: current}
}

func (d *Deck) SlideCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *Deck) CurrentSlide() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Deck) Goto(slide int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slide < 1 || slide > d.count {
		return false
	}
	d.current = slide
	return true
}

func (d *Deck) Fullscreen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}

func (d *Deck) SetFullscreen(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullscreen = on
}

// Title returns the title of slide, empty when unknown
func (d *Deck) Title(slide int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slide < 1 || slide > len(d.titles) {
		return ""
	}
	return d.titles[slide-1]
}
