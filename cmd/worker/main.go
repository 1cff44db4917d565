package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/oneiros/internal/ai"
	"github.com/suPer8Hu/oneiros/internal/analysis"
	"github.com/suPer8Hu/oneiros/internal/config"
	"github.com/suPer8Hu/oneiros/internal/conversation"
	"github.com/suPer8Hu/oneiros/internal/db"
	"github.com/suPer8Hu/oneiros/internal/journal"
	"github.com/suPer8Hu/oneiros/internal/logging"
	"github.com/suPer8Hu/oneiros/internal/metrics"
	"github.com/suPer8Hu/oneiros/internal/store/rabbitmq"
	"github.com/suPer8Hu/oneiros/internal/store/redisstore"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("svc", "worker").Logger()
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("model provider")
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
	assembler := conversation.NewAssembler(messages, entries, conversation.Limits{
		CharBudget:  cfg.ContextCharBudget,
		FollowUpCap: cfg.ContextFollowUpCap,
	})
	proc := analysis.NewProcessor(svc, entries, messages, assembler, provider, cfg.ModelTimeout, log)
	runner := tasks.NewRunner(proc.Handlers(), results, cfg.RabbitMaxAttempts, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, cfg.RabbitRetryDelay, pub, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}
	defer consumer.Close()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	log.Info().
		Str("provider", ai.ProviderName(provider)).
		Str("model", cfg.AIModel).
		Int("max_attempts", cfg.RabbitMaxAttempts).
		Msg("worker ready")

	if err := consumer.Run(ctx, runner); err != nil {
		log.Error().Err(err).Msg("consumer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// newProvider resolves the configured model gateway and applies pacing.
func newProvider(ctx context.Context, cfg config.Config) (ai.Provider, error) {
	reg := ai.NewDefaultRegistry(ai.Settings{
		Timeout:           cfg.ModelTimeout,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
		GeminiAPIKey:      cfg.GeminiAPIKey,
		GeminiBaseURL:     cfg.GeminiBaseURL,
	})
	p, err := reg.Get(ctx, cfg.AIProvider, cfg.AIModel)
	if err != nil {
		return nil, err
	}
	return ai.NewLimited(p, cfg.ModelRatePerSec, cfg.ModelRateBurst, cfg.WorkerConcurrency), nil
}
