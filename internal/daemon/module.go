// Package daemon composes the pairmsg daemon out of its providers.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/bus"
	"github.com/pairmsg/pairmsg/internal/config"
	"github.com/pairmsg/pairmsg/internal/engine"
	"github.com/pairmsg/pairmsg/internal/gateway"
	"github.com/pairmsg/pairmsg/internal/lock"
	"github.com/pairmsg/pairmsg/internal/logging"
	"github.com/pairmsg/pairmsg/internal/media"
	"github.com/pairmsg/pairmsg/internal/outbox"
	"github.com/pairmsg/pairmsg/internal/store"
)

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideEngine,
			provideUploader,
			provideSender,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.Session().UserKey())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("data_dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath(), b)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideEngine(db *store.DB, logger *zap.Logger) *engine.Engine {
	return engine.New(db, logger)
}

// provideUploader returns nil when no object store is configured; the
// gateway then rejects upload requests.
func provideUploader(cfg *config.Config, logger *zap.Logger) (*media.Uploader, error) {
	if cfg.Media.Endpoint == "" {
		logger.Info("media uploads disabled")
		return nil, nil
	}
	return media.NewUploader(context.Background(), cfg.Media, logger)
}

func provideSender(cfg *config.Config, db *store.DB, eng *engine.Engine, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, eng, cfg.Session(), logger)
}

func provideGateway(cfg *config.Config, eng *engine.Engine, db *store.DB, uploader *media.Uploader, logger *zap.Logger) *gateway.Server {
	return gateway.New(cfg.ListenAddr, eng, db, uploader, cfg.Session(), logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *gateway.Server, lk *lock.Lock, eng *engine.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Make sure the local account's mailbox and directory entry
			// exist before anything else touches them.
			if err := eng.RegisterAccount(ctx, cfg.Session()); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gateway error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			logger.Info("daemon started", zap.String("listen_addr", cfg.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return lk.Release()
		},
	})
}
