package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/oneiros/internal/analysis"
	"github.com/suPer8Hu/oneiros/internal/config"
	"github.com/suPer8Hu/oneiros/internal/conversation"
	"github.com/suPer8Hu/oneiros/internal/db"
	"github.com/suPer8Hu/oneiros/internal/httpapi"
	"github.com/suPer8Hu/oneiros/internal/httpapi/handlers"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/logging"
	"github.com/suPer8Hu/oneiros/internal/metrics"
	"github.com/suPer8Hu/oneiros/internal/store/rabbitmq"
	"github.com/suPer8Hu/oneiros/internal/store/redisstore"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("svc", "api").Logger()
	metrics.MustRegister()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	results := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TaskResultTTL)
	defer results.Close()
	if err := results.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	entries := journal.NewStore(gdb, cfg.EntriesPerDayLimit)
	messages := conversation.NewStore(gdb)
	dispatcher := tasks.NewDispatcher(pub, results, log)
	svc := analysis.NewService(gdb, entries, messages, dispatcher, log)
	h := handlers.NewHandler(entries, svc, tasks.NewProjection(results), log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg.JWTSecret, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
