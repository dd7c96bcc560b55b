// Command convo serves the conversation API and its real-time fan-out.
//
// Wire-up order: config, logger, database, repositories, broadcast layer,
// services, handlers, routes, then the HTTP server with graceful shutdown.
// There are no globals; everything is built here and passed down.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/akinalp/convo/config"
	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config is part of what failed to load
		fallback := logger.New("info", "console")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	root := logger.New(cfg.Log.Level, cfg.Log.Format)
	log := logger.Component(root, "main")
	log.Info().Int("port", cfg.Server.Port).Bool("broadcast", cfg.Broadcast.Enabled).Msg("convo server starting")

	db, err := database.Open(cfg.Database.Path, logger.Component(root, "database"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	repos := initRepositories(db.Conn)
	bc := initBroadcast(cfg, repos, prometheus.DefaultRegisterer, root)
	svcs, limiters := initServices(db.Conn, repos, bc, cfg, root)
	defer limiters.Close()
	h := initHandlers(svcs, limiters, bc, cfg, root)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Auth, repos.User, nil)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     corsHandler.Handler(mux),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: hijacked socket connections manage their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	// sockets first so clients see the close, then drain HTTP
	bc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
		return
	}

	log.Info().Msg("server stopped gracefully")
}
