package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/app"
	"github.com/quietroom/relay/internal/config"
	"github.com/quietroom/relay/internal/metrics"
	"github.com/quietroom/relay/internal/transport"
	router "github.com/quietroom/relay/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	core := app.NewServer(app.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SessionClientCap: cfg.SessionClientCap,
		OutboundQueueCap: cfg.OutboundQueueCap,
		DrainGrace:       cfg.DrainGrace,
		ReapInterval:     cfg.ReapInterval,
	}, m)

	udp := transport.NewServer(core)
	if err := udp.Start(ctx, cfg.UDPAddr()); err != nil {
		log.Fatal().Err(err).Msg("failed to start udp transport")
	}

	go core.Run(ctx)

	r := router.SetupRouter(cfg.Mode, core, prometheus.DefaultGatherer)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("status server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	log.Info().Str("addr", cfg.UDPAddr()).Msg("relay server started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-udp.Fatal():
		// The socket itself failed; exit loudly so the supervisor can
		// restart us.
		log.Error().Err(err).Msg("udp transport failed")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}
	udp.Stop()
	log.Info().Msg("Server exited gracefully")
}
