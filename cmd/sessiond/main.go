package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/authsession/internal/app"
	"github.com/charleshuang3/authsession/internal/config"
	"github.com/charleshuang3/authsession/internal/handlers/authapi"
	"github.com/charleshuang3/authsession/internal/handlers/firewall"
)

var (
	configPath = flag.String("c", os.Getenv("CONFIG_PATH"), "Path to configuration file")
)

func main() {
	flag.Parse()
	if *configPath == "" {
		log.Fatal().Msg("Config path must be provided via CONFIG_PATH env var or -c flag")
	}

	// Load configuration
	cfg := config.LoadConfig(*configPath)

	a, err := app.New(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// cron schedule
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	if _, err := a.Sweeper.Register(scheduler); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule refresh token sweeper")
	}
	if a.Outbox != nil {
		if _, err := a.Outbox.Register(scheduler); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule outbox publisher")
		}
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	// Set up Gin router
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	if cfg.Firewall != nil {
		fw, err := firewall.New(cfg.Firewall)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create firewall")
		}
		router.Use(fw.Middleware())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	authapi.New(a.Sessions, a.Users).RegisterHandlers(router.Group("/auth"))

	// Start server
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	go func() {
		log.Info().Msgf("start server at %q", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until we receive our signal.
	<-c

	// Create a deadline to wait for.
	wait := time.Second * 15
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown")
	}

	log.Info().Msg("shutting down")
}
