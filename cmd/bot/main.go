// Package main - точка входа Discord-бота melon-rank.
//
// Бот начисляет опыт за сообщения и за присутствие в голосовых каналах,
// ведёт два независимых уровня (чат и голос) и показывает их командами
// rank и ranking.
//
// Архитектура:
// - Domain: движок прогрессии без внешних зависимостей
// - Application: команды, запросы и обработчики событий
// - Infrastructure: хранилища снапшота, шина событий, планировщик
// - Interface: Discord gateway, HTTP API, отрисовка карточек
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/melon-hub/melon-rank/config"

	// Application layer
	"github.com/melon-hub/melon-rank/internal/application/command"
	"github.com/melon-hub/melon-rank/internal/application/eventhandler"
	"github.com/melon-hub/melon-rank/internal/application/query"
	"github.com/melon-hub/melon-rank/internal/domain/progression"

	// Infrastructure layer
	"github.com/melon-hub/melon-rank/internal/infrastructure/messaging"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence"
	redisstore "github.com/melon-hub/melon-rank/internal/infrastructure/persistence/redis"
	"github.com/melon-hub/melon-rank/internal/infrastructure/scheduler"
	"github.com/melon-hub/melon-rank/internal/infrastructure/scheduler/jobs"

	// Interface layer
	"github.com/melon-hub/melon-rank/internal/interface/discord"
	httpserver "github.com/melon-hub/melon-rank/internal/interface/http"
	"github.com/melon-hub/melon-rank/internal/interface/http/handlers"
	"github.com/melon-hub/melon-rank/internal/interface/render"

	"github.com/melon-hub/melon-rank/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	features := cfg.Features()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting melon-rank bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.Storage.Driver,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := persistence.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store...")
		closeStore()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ВОССТАНОВЛЕНИЕ ТАБЛИЦЫ
	// ─────────────────────────────────────────────────────────────────────────
	rules := cfg.Progression.Rules()
	engine := progression.NewEngine(rules)

	table, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}
	stats := engine.Restore(table)
	log.Info("progress restored",
		"loaded", stats.Loaded,
		"repaired", stats.Repaired,
		"dropped", stats.Dropped,
		"degraded", store.Degraded(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busConfig)

	if cfg.Redis.PublishEvents {
		client, err := redisstore.NewClient(ctx, persistence.RedisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, events stay in-process", logger.Err(err))
		} else {
			defer func() { _ = client.Close() }()
			if err := eventBus.SubscribeAll(redisstore.NewEventPublisher(client, log).Handle); err != nil {
				return fmt.Errorf("failed to subscribe redis publisher: %w", err)
			}
			log.Info("forwarding events to redis pub/sub", "prefix", redisstore.ChannelPrefix)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. DISCORD SESSION
	// ─────────────────────────────────────────────────────────────────────────
	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	guildID := cfg.Discord.GuildID

	directory := discord.NewDirectory(session.State, guildID, discord.SessionFetcher(session), log)
	presence := discord.NewVoicePresence(session.State, guildID)
	presenter := discord.NewPresenter(language.Korean)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	flusher := command.NewFlusher(engine, store, eventBus, log)
	chatHandler := command.NewRecordChatActivityHandler(engine, flusher, eventBus, nil, log)
	voiceHandler := command.NewAwardVoicePresenceHandler(engine, presence, flusher, eventBus, log)

	leaderboardQuery := query.NewGetLeaderboardHandler(engine, directory)
	serverBoardQuery := query.NewGetServerBoardHandler(leaderboardQuery)
	progressQuery := query.NewGetMemberProgressHandler(engine)

	var cardRenderer discord.CardRenderer
	if r, err := render.NewCardRenderer(render.Config{AvatarTimeout: cfg.Render.AvatarTimeout, Logger: log}); err != nil {
		log.Warn("card renderer unavailable, rank replies fall back to embeds", logger.Err(err))
	} else {
		cardRenderer = r
	}
	cards := discord.NewCardService(progressQuery, directory, cardRenderer)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	var announcer eventhandler.Announcer
	if cfg.Discord.AnnounceChannelID != "" {
		announcer = discord.NewAnnouncer(session, cfg.Discord.AnnounceChannelID, presenter)
	}
	levelUpConfig := eventhandler.DefaultLevelUpConfig()
	levelUpConfig.ShouldAnnounce = func(memberID string) bool {
		return features.IsEnabledFor(config.FeatureAnnounceLevelUp, memberID)
	}
	if err := eventhandler.NewOnLevelUpHandler(announcer, log, levelUpConfig).Register(eventBus); err != nil {
		return fmt.Errorf("failed to register level-up handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	schedConfig.JobTimeout = cfg.Scheduler.JobTimeout
	sched := scheduler.NewScheduler(schedConfig)

	voiceJob := jobs.NewVoiceXPJob(voiceHandler, func() bool {
		return features.IsEnabled(config.FeatureVoiceIngest)
	}, log)
	if err := sched.Register(voiceJob, scheduler.NewIntervalSchedule(rules.VoiceTickInterval)); err != nil {
		return err
	}
	var limiter *discord.CommandLimiter
	if cfg.Discord.CommandsPerMinute > 0 {
		limiter = discord.NewCommandLimiter(discord.RateLimitConfig{
			RequestsPerMinute: cfg.Discord.CommandsPerMinute,
			BurstSize:         cfg.Discord.CommandBurst,
		}, nil)
	}
	pruners := jobs.PrunerGroup{chatHandler}
	if limiter != nil {
		pruners = append(pruners, limiter)
	}
	pruneJob := jobs.NewPruneCooldownsJob(pruners, rules.ChatCooldown, log)
	if err := sched.Register(pruneJob, scheduler.NewIntervalSchedule(cfg.Scheduler.PruneCooldownsInterval)); err != nil {
		return err
	}
	if cfg.Scheduler.SnapshotInterval > 0 {
		if err := sched.Register(jobs.NewSnapshotJob(flusher), scheduler.NewIntervalSchedule(cfg.Scheduler.SnapshotInterval)); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. DISCORD BOT
	// ─────────────────────────────────────────────────────────────────────────
	botConfig := discord.DefaultBotConfig(guildID)
	botConfig.RegisterCommands = cfg.Discord.RegisterCommands
	botConfig.CleanupCommands = cfg.Discord.CleanupCommands
	botConfig.LeaderboardSize = cfg.Progression.LeaderboardSize
	botConfig.Logger = log

	bot, err := discord.NewBot(session, botConfig, discord.BotDependencies{
		Chat:        chatHandler,
		ServerBoard: serverBoardQuery,
		Cards:       cards,
		Presenter:   presenter,
		Features:    features,
		Limiter:     limiter,
	})
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var httpServer *httpserver.Server
	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("store", handlers.NewPingCheck(store))
		health.AddReadinessCheck("snapshot", func(context.Context) error {
			if store.Degraded() {
				return errors.New("started from an empty table after a failed load")
			}
			if _, err := flusher.LastFlush(); err != nil {
				return err
			}
			return nil
		})
		health.AddReadinessCheck("discord", func(context.Context) error {
			session.RLock()
			defer session.RUnlock()
			if !session.DataReady {
				return errors.New("gateway not ready")
			}
			return nil
		})

		httpConfig := httpserver.DefaultConfig()
		httpConfig.Addr = cfg.HTTP.Addr
		httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
		httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
		httpConfig.Version = cfg.App.Version

		httpServer = httpserver.NewServer(httpConfig, httpserver.Dependencies{
			Leaderboard:   leaderboardQuery,
			Progress:      progressQuery,
			Cards:         cards,
			Features:      features,
			HealthChecker: health,
			Logger:        log,
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if err := bot.Start(gctx); err != nil {
		return fmt.Errorf("failed to start discord bot: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(gctx); err != nil {
			return err
		}
	} else {
		log.Warn("scheduler disabled, voice XP will not be awarded")
	}

	if httpServer != nil {
		g.Go(httpServer.Start)
	}

	log.Info("melon-rank is running", "guild_id", guildID, "http", cfg.HTTP.Enabled)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, log, sched, bot, httpServer, eventBus, flusher)
	})

	return g.Wait()
}

// shutdown stops producers first, then drains the bus and writes the final
// snapshot.
func shutdown(
	ctx context.Context,
	log *slog.Logger,
	sched *scheduler.Scheduler,
	bot *discord.Bot,
	httpServer *httpserver.Server,
	eventBus *messaging.InMemoryEventBus,
	flusher *command.Flusher,
) error {
	var errs []error

	log.Info("stopping scheduler...")
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	log.Info("stopping discord bot...")
	if err := bot.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("discord: %w", err))
	}

	if httpServer != nil {
		log.Info("stopping HTTP server...")
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}

	log.Info("draining event bus...")
	if err := eventBus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}

	log.Info("writing final snapshot...")
	if err := flusher.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		log.Warn("shutdown completed with errors", logger.Err(err))
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.Level)
	opts.Format = logger.Format(cfg.Observability.Format)
	if opts.Format == "" {
		opts.Format = logger.FormatFor(string(cfg.App.Environment))
	}
	opts.Service = cfg.App.Name
	opts.Env = string(cfg.App.Environment)

	log := logger.New(opts)
	slog.SetDefault(log)
	return log
}
