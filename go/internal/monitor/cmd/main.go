package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/deckpace/go/internal/bus"
	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/eventloop"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/mcdev12/deckpace/go/internal/monitor"
	"github.com/mcdev12/deckpace/go/internal/rehearsal"
	"github.com/mcdev12/deckpace/go/internal/render"
	"github.com/mcdev12/deckpace/go/internal/timetools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `commands:
  end <time>      set the end time ("10:30", "+0:45", "3/4", "90%")
  subset <range>  select slides ("all", "3-12", "#50%-")
  arm             start on the next slide change
  start           start now
  stop            stop the timer
  runs            list recorded runs
  quit            exit`

func main() {
	// Load .env file if it exists
	if err := config.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "warn"))
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

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

	met := metrics.New()
	store, closeStore := openStore(ctx)
	defer closeStore()

	if port := config.GetEnv("METRICS_PORT", ""); port != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", met.Handler(nil))
		server := &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: r, ReadTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer server.Close()
	}

	cfg := monitor.NewConfigFromEnv()

	view := render.NewTerminal(os.Stdout)
	view.Clear = config.GetEnvBool("MONITOR_CLEAR_SCREEN", true)

	loop := eventloop.New(clockwork.NewRealClock())
	mon := monitor.New(cfg, loop, b, view, monitor.WithMetrics(met), monitor.WithStore(store))

	if end := config.GetEnv("MONITOR_END_TIME", ""); end != "" {
		loop.Post(func() { mon.SetEndTime(end) })
	}

	if err := mon.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start monitor")
	}
	defer mon.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readCommands(ctx, cancel, loop, mon, store)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("event loop failed")
	}
}

func openStore(ctx context.Context) (rehearsal.Store, func()) {
	dbCfg := config.NewDatabaseFromEnv()
	if !dbCfg.Enabled {
		return rehearsal.NewMemoryStore(), func() {}
	}

	store, pool, err := rehearsal.ConnectPostgres(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open rehearsal store")
	}
	log.Info().Str("database", dbCfg.Name).Msg("recording rehearsals to postgres")
	return store, pool.Close
}

// readCommands forwards stdin lines to the loop goroutine
func readCommands(ctx context.Context, quit func(), loop *eventloop.Loop, mon *monitor.Monitor, store rehearsal.Store) {
	fmt.Fprintln(os.Stderr, usage)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "quit", "q":
			quit()
			return
		case "runs":
			listRuns(ctx, store)
		case "end", "subset", "arm", "start", "stop":
			loop.Post(func() { runCommand(mon, cmd, arg) })
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		}
	}
	quit()
}

func runCommand(mon *monitor.Monitor, cmd, arg string) {
	var err error
	switch cmd {
	case "end":
		err = mon.SetEndTime(arg)
	case "subset":
		err = mon.SetSubset(arg)
	case "arm":
		err = mon.Arm()
	case "start":
		err = mon.StartTimer()
	case "stop":
		mon.StopTimer()
	}
	if err != nil {
		log.Warn().Err(err).Str("command", cmd).Msg("command failed")
	}
}

func listRuns(ctx context.Context, store rehearsal.Store) {
	runs, err := store.Recent(ctx, 10)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		return
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no recorded runs")
		return
	}
	for _, run := range runs {
		fmt.Fprintf(os.Stderr, "%s  %s  slides %s  final error %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			timetools.FormatDuration(run.Duration()),
			run.Subset,
			timetools.FormatDuration(run.FinalSpeedError))
	}
}
