package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/alerts"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/buffer"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/classifier"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/config"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/cooldown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/evidence"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/lockdown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/message_processor"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/metrics"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/repository"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/router"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/rules"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/server"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yml", "path to the YAML configuration")
	readStdin := flag.Bool("stdin", false, "read JSON-lines interactions from standard input")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *readStdin, logger); err != nil {
		logger.Fatal("Guardian stopped with error", zap.Error(err))
	}
	logger.Info("Application stopped.")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func newHTTPLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}

func run(ctx context.Context, cfg *config.Config, readStdin bool, logger *zap.Logger) error {
	sched := scheduler.NewReal()
	defer sched.Stop()

	// Database connection
	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, logger); err != nil {
		return err
	}

	m := metrics.New()

	engine := rules.NewEngine(m, logger)
	stats, err := engine.LoadFile(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	logger.Info("Rules loaded",
		zap.String("version", stats.Version),
		zap.Int("labels", stats.Labels),
		zap.Int("compile_errors", stats.CompileErrors),
	)

	var detector *classifier.Detector
	if cfg.Classifier.Enabled {
		model, err := classifier.LoadModel(cfg.Classifier.Path)
		if err != nil {
			return fmt.Errorf("failed to load classifier model: %w", err)
		}
		detector = classifier.NewDetector(model, cfg.Classifier.Keywords, logger)
		logger.Info("Classifier model loaded", zap.String("version", model.Version), zap.Int("dim", model.Dim))
	}

	window, err := buffer.NewRollingWindow(buffer.WindowConfig{
		MaxInteractions: cfg.Window.MaxInteractions,
		MaxAge:          cfg.Window.MaxAge,
		CleanupInterval: cfg.Window.CleanupInterval,
	}, sched, logger)
	if err != nil {
		return err
	}
	defer window.Destroy()

	sealer, err := evidence.NewSealer(cfg.Evidence, logger)
	if err != nil {
		return err
	}

	vault := keyvault.New(repository.NewKeyRepository(db, logger), sched, cfg.KeyVault, logger)
	evidenceRepo := repository.NewEvidenceRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)

	sink, err := newAlertSink(cfg, logger)
	if err != nil {
		return err
	}

	block := service.NewBlockState(sched, logger)
	timer := lockdown.NewTimer(sched, logger, lockdown.WithHooks(
		func(time.Time) { m.SetLockdown(true) },
		func() { m.SetLockdown(false) },
	))
	defer timer.Stop()

	deps := router.Deps{
		Window:    window,
		Rules:     engine,
		Cooldown:  cooldown.NewFilter(repository.NewCooldownRepository(db), logger),
		Sealer:    sealer,
		Keys:      vault,
		Evidence:  evidenceRepo,
		Alerts:    alerts.NewRecorder(sink, alertRepo, logger),
		Block:     block,
		Educator:  block,
		Lockdown:  timer,
		Metrics:   m,
		Scheduler: sched,
		Logger:    logger,
	}
	if detector != nil {
		deps.Classifier = detector
	}
	r, err := router.New(deps, router.Config{
		CooldownWindow:   cfg.Cooldown.Window,
		LockdownDuration: cfg.Lockdown.Duration,
	})
	if err != nil {
		return err
	}

	guardian, err := service.NewGuardianService(vault, evidenceRepo, alertRepo, sched, cfg.Auth, logger)
	if err != nil {
		return err
	}

	processor := message_processor.NewProcessor(r, 10*time.Second, logger)

	if cfg.Rules.Watch {
		err := watch.File(ctx, cfg.Rules.Path, cfg.Rules.Debounce, logger, func() error {
			_, err := engine.LoadFile(cfg.Rules.Path)
			return err
		})
		if err != nil {
			return err
		}
	}
	if detector != nil && cfg.Classifier.Watch {
		if err := watch.File(ctx, cfg.Classifier.Path, cfg.Classifier.Debounce, logger, func() error {
			return detector.ReloadFrom(cfg.Classifier.Path)
		}); err != nil {
			return err
		}
	}

	gin.SetMode(cfg.Server.GinMode)
	srv := server.NewServer(server.Deps{
		Guardian: guardian,
		Ingest:   processor,
		Status: &service.StatusReporter{
			Block:    block,
			Lockdown: timer,
			Window:   window,
			Rules:    engine,
			Metrics:  m,
		},
		Metrics: m.Handler(),
	}, newHTTPLogger(cfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Address)
	})
	if readStdin {
		feed := make(chan models.Interaction, 64)
		g.Go(func() error {
			processor.Run(gctx, feed)
			return nil
		})
		// Not part of the group: a read on stdin cannot be interrupted.
		go func() {
			defer close(feed)
			err := message_processor.DecodeLines(gctx, os.Stdin, feed, logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Stdin feed stopped", zap.Error(err))
			}
		}()
	}
	return g.Wait()
}

func newAlertSink(cfg *config.Config, logger *zap.Logger) (alerts.Sink, error) {
	sinks := alerts.FanOut{alerts.NewLogSink(logger)}
	if tg := cfg.Alerts.Telegram; tg.Enabled {
		telegram, err := alerts.NewTelegramSink(tg.BotToken, tg.ChatIDs, tg.Retry, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, telegram)
	}
	return sinks, nil
}
