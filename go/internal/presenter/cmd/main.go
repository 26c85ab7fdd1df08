package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/deckpace/go/internal/bus"
	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/eventloop"
	"github.com/mcdev12/deckpace/go/internal/feedback"
	"github.com/mcdev12/deckpace/go/internal/presenter"
	"github.com/mcdev12/deckpace/go/internal/schedule"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `keys:
  n / p, PageDown / PageUp   next / previous slide
  Home / End                 first / last slide
  g <n>                      go to slide n
  f                          start the presentation (full-screen)
  Escape                     leave full-screen
  b [minutes]                start a break (default 15)
  B                          end the break
  feedback key=value ...     submit audience feedback
  quit                       exit`

func main() {
	// Load .env file if it exists
	if err := config.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	deckPath := config.GetEnv("DECK_FILE", "deck.yaml")
	if len(os.Args) > 1 {
		deckPath = os.Args[1]
	}
	deck, err := schedule.LoadDeck(deckPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load deck")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.Open(ctx, bus.Options{
		Transport: config.GetEnv("BUS", "websocket"),
		URL:       config.GetEnv("BUS_URL", ""),
		Channel:   config.GetEnv("CHANNEL", ""),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bus")
	}
	defer b.Close()

	var sender *feedback.Sender
	if target := config.GetEnv("FEEDBACK_URL", ""); target != "" {
		sender, err = feedback.NewSender(target, map[string]any{
			"title":             deck.Title,
			"presentation_time": deck.PresentationTime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("invalid feedback endpoint")
		}
	}

	cfg := presenter.NewConfigFromEnv()
	cfg.OnBreakTick = func(s presenter.BreakStatus) {
		fmt.Fprintf(os.Stderr, "\rbreak: %s (%s)   ", s, s.State)
	}

	surface := presenter.NewDeck(deck.SlideCount(), deck.SlideTitles)
	loop := eventloop.New(clockwork.NewRealClock())
	p := presenter.New(cfg, loop, b, surface, deck.Meta())

	if err := p.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start presenter")
	}
	defer p.Close()

	log.Info().
		Str("title", deck.Title).
		Int("slides", deck.SlideCount()).
		Dur("nominal", deck.Nominal).
		Str("session_id", p.SessionID()).
		Msg("presenter ready")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readKeys(ctx, cancel, loop, p, surface, sender)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("event loop failed")
	}
}

// readKeys forwards stdin lines to the loop goroutine
func readKeys(ctx context.Context, quit func(), loop *eventloop.Loop, p *presenter.Presenter, surface *presenter.Deck, sender *feedback.Sender) {
	fmt.Fprintln(os.Stderr, usage)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "q":
			quit()
			return
		case strings.HasPrefix(line, "feedback"):
			submitFeedback(ctx, sender, strings.Fields(line)[1:])
			continue
		}

		loop.Post(func() {
			if err := p.HandleKey(line); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return
			}
			slide := surface.CurrentSlide()
			fmt.Fprintf(os.Stderr, "slide %d/%d %s\n", slide, surface.SlideCount(), surface.Title(slide))
		})
	}
	quit()
}

func submitFeedback(ctx context.Context, sender *feedback.Sender, args []string) {
	if sender == nil {
		fmt.Fprintln(os.Stderr, "feedback disabled: set FEEDBACK_URL")
		return
	}
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		fields[key] = value
	}
	outcome, err := sender.Submit(ctx, fields)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedback %s: %v\n", outcome, err)
		return
	}
	fmt.Fprintln(os.Stderr, "feedback submitted")
}
