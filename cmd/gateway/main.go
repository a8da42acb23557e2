// Command gateway runs the WebSocket channel bridge: it upgrades client
// connections, routes phx_join/phx_leave/heartbeat frames through the
// in-memory channel fabric, and bridges to an external pub/sub bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace-dev/phoenixbridge/internal/bus"
	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/config"
	"github.com/streamspace-dev/phoenixbridge/internal/httpapi"
	"github.com/streamspace-dev/phoenixbridge/internal/logger"
	"github.com/streamspace-dev/phoenixbridge/internal/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	log.Info().Msg("starting gateway")

	ctl := channel.NewController()
	for _, name := range cfg.BootstrapChannels {
		ctl.ChannelAdd(name)
	}
	log.Info().Strs("channels", cfg.BootstrapChannels).Msg("bootstrap channels registered")

	externalBus, err := bus.New(bus.Config{
		Host:     cfg.BusHost,
		Port:     cfg.BusPort,
		Password: cfg.BusPassword,
		DB:       cfg.BusDB,
		Enabled:  cfg.BusEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize external bus")
	}
	defer externalBus.Close()

	if cfg.BusEnabled {
		log.Info().Msg("external bus enabled")
	} else {
		log.Info().Msg("external bus disabled, running channel-fabric only")
	}

	// Numbers the event_ref of producer-originated broadcasts. Dispatcher
	// replies do not use it: they echo the client's own event_ref.
	var eventRefCounter atomic.Uint64

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if cfg.BusEnabled && cfg.ProducerConfigured() {
		producer := bus.NewProducer(externalBus, ctl, cfg.ProducerChannel, cfg.ProducerEvent, &eventRefCounter)
		go func() {
			if err := producer.Run(runCtx); err != nil && err != context.Canceled {
				log.Warn().Err(err).Msg("inbound producer stopped")
			}
		}()
		log.Info().Str("channel", cfg.ProducerChannel).Str("event", cfg.ProducerEvent).Msg("inbound producer started")
	} else if cfg.ProducerConfigured() {
		log.Warn().Msg("PRODUCER_CHANNEL/PRODUCER_EVENT set but external bus is disabled, inbound producer not started")
	}

	newDispatcher := func(relay protocol.RelayStarter) *protocol.Dispatcher {
		return protocol.NewDispatcher(ctl, externalBus, cfg.JWTSecret, relay)
	}

	handler := httpapi.NewHandler(ctl, newDispatcher)

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // the /ws handler blocks for the connection's lifetime
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	} else {
		log.Info().Msg("http server stopped gracefully")
	}
}
