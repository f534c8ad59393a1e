package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/adapters/httpapi"
	"github.com/avkor/facility/internal/config"
	"github.com/avkor/facility/internal/coordinator"
	"github.com/avkor/facility/internal/directory"
	"github.com/avkor/facility/internal/faults"
	"github.com/avkor/facility/internal/hub"
	"github.com/avkor/facility/internal/monitor"
	"github.com/avkor/facility/internal/queue"
	"github.com/avkor/facility/internal/registry"
	"github.com/avkor/facility/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	st, err := store.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	h := hub.NewHub(st)
	agg := faults.NewAggregator(st, h)
	reg := registry.NewRegistry(st, h)
	q := queue.NewQueue(st, queue.NewHTTPSender(), agg, h, cfg.QueueRetryDelay, cfg.QueueMaxAttempts)
	dir := directory.NewDirectory(st, directory.NewHTTPCentral(cfg.CentralURL), cfg.FacilityID)

	coord := coordinator.New(h, reg, q, dir, agg, st, coordinator.Config{
		RoomServicePort: cfg.RoomServicePort,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		GraceWindow:     cfg.GraceWindow,
		BookingWindow:   cfg.BookingWindow,
		StaleAfter:      cfg.StaleAfter,
	})
	h.SetStateSource(coord)
	h.SetErrorForwarder(agg)

	mon := monitor.New(reg, agg, q, monitor.NewHTTPProber(),
		cfg.CentralURL, cfg.RoomServicePort,
		cfg.ProbeInterval, cfg.ProbeBackoffInterval, cfg.HealthyWindow, cfg.ProbeRetryDelay)

	coord.Start(ctx)
	go dir.InitCounters(ctx, 5*time.Second)
	go mon.RunCentral(ctx)
	go mon.RunRooms(ctx)
	go q.Run(ctx, queue.DestCentral)
	go q.Run(ctx, queue.DestRooms)

	r := httpapi.SetupRouter(ctx, cfg, httpapi.Deps{
		Hub:         h,
		Coordinator: coord,
		Registry:    reg,
		Faults:      agg,
		Queue:       q,
		Directory:   dir,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("facility", cfg.FacilityID).Msg("facility server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
