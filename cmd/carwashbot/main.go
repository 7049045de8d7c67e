// Package main запускает бота автомойки: синхронизацию терминалов, Telegram-бота и операторское API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/carwash-bot/internal/cache"
	"github.com/mmeshcher/carwash-bot/internal/config"
	"github.com/mmeshcher/carwash-bot/internal/handler"
	"github.com/mmeshcher/carwash-bot/internal/metrics"
	"github.com/mmeshcher/carwash-bot/internal/middleware"
	"github.com/mmeshcher/carwash-bot/internal/parser"
	"github.com/mmeshcher/carwash-bot/internal/repository"
	"github.com/mmeshcher/carwash-bot/internal/scheduler"
	"github.com/mmeshcher/carwash-bot/internal/service"
	"github.com/mmeshcher/carwash-bot/internal/telegram"
	"github.com/mmeshcher/carwash-bot/internal/terminal"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		sugar.Fatalw("timezone error", "timezone", cfg.Timezone, "error", err.Error())
	}

	terminalConfigs, err := config.LoadTerminals(cfg.TerminalsFile)
	if err != nil {
		sugar.Fatalw("terminals configuration error", "file", cfg.TerminalsFile, "error", err.Error())
	}

	terminals := make([]service.Terminal, 0, len(terminalConfigs))
	for _, t := range terminalConfigs {
		client, err := terminal.NewClient(t, logger)
		if err != nil {
			sugar.Fatalw("terminal client error", "terminal", t.ID, "error", err.Error())
		}
		terminals = append(terminals, client)
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		conversations service.ConversationStore = cache.NewMemoryConversations()
		locker        service.Locker
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()

		conversations = cache.NewRedisConversations(rdb)
		locker = cache.NewRedisLocker(rdb)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	syncMetrics := metrics.NewSync(registry)

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		sugar.Fatalw("telegram initialization error", "error", err.Error())
	}
	messenger := telegram.NewMessenger(api, logger.Named("telegram"))

	jobs := scheduler.New(loc, logger.Named("scheduler"))

	// Компенсация за плохой отзыв начисляется через первый терминал из конфигурации.
	var compensationTerminal service.Terminal
	if len(terminals) > 0 {
		compensationTerminal = terminals[0]
	}

	feedback := service.NewFeedbackService(repo, repo, conversations, messenger, compensationTerminal,
		service.FeedbackConfig{BadFeedbackBonus: cfg.BadFeedbackBonus}, logger.Named("feedback"))

	dispatcher := service.NewDispatcher(repo, messenger, jobs, feedback, service.DispatcherConfig{
		NotifyInterval:   cfg.NotifyInterval,
		FeedbackMinDelay: cfg.FeedbackMinDelay,
		FeedbackMaxDelay: cfg.FeedbackMaxDelay,
	}, logger.Named("dispatcher"), syncMetrics)

	ledger := service.NewLedger(repo)
	syncer := service.NewSyncer(terminals, parser.New(loc), repo, ledger, dispatcher, locker,
		logger.Named("sync"), syncMetrics)

	if err := jobs.Every(cfg.SyncSchedule, "sync", func(ctx context.Context) {
		if _, err := syncer.RunCycle(ctx); err != nil {
			logger.Error("sync cycle failed", zap.Error(err))
		}
	}); err != nil {
		sugar.Fatalw("scheduler error", "schedule", cfg.SyncSchedule, "error", err.Error())
	}

	bot := telegram.NewBot(api, messenger, repo, ledger, feedback, conversations, logger.Named("bot"))

	operator := service.NewOperator(repo, syncer, ledger, dispatcher, terminals)
	h := handler.NewHandler(operator, logger.Named("http"), middleware.NewTokenAuth(cfg.AdminToken), registry)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Планировщик синхронизации и отложенных запросов отзывов
	g.Go(func() error {
		jobs.Start()
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return jobs.Stop(stopCtx)
	})

	// Telegram long polling
	g.Go(func() error {
		return bot.Run(ctx)
	})

	// Операторское HTTP API
	g.Go(func() error {
		sugar.Infow("starting operator API", "addr", cfg.RunAddress, "terminals", len(terminals))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
