package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/peerly/internal/api"
	"github.com/zulandar/peerly/internal/auth"
	"github.com/zulandar/peerly/internal/config"
	"github.com/zulandar/peerly/internal/db"
	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/maintenance"
	"github.com/zulandar/peerly/internal/marketplace"
	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/moderation"
	"github.com/zulandar/peerly/internal/moderation/discord"
	"github.com/zulandar/peerly/internal/moderation/slack"
	"github.com/zulandar/peerly/internal/realtime"
	"github.com/zulandar/peerly/internal/storage"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PeeRly API server",
		Long: `Starts the HTTP API with realtime message streams (SSE and WebSocket)
and the scheduled maintenance jobs. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides http.port)")
	return cmd
}

// app holds the wired services shared by serve and the admin commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	log      zerolog.Logger
	redis    *redis.Client
	hub      *realtime.Hub
	bridge   *realtime.RedisBridge
	broker   realtime.Broker
	auth     *auth.Service
	market   *marketplace.Service
	store    *messaging.GormStore
	registry *messaging.Registry
	reports  *moderation.Service
	uploads  *storage.MemStore
	notifier moderation.Notifier
}

// newApp connects every backing service named by cfg. Redis is optional:
// without it the change feed, token revocation and caches stay in-process.
func newApp(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, db: gormDB, log: log, hub: realtime.NewHub(0)}
	a.broker = a.hub

	var (
		revoker auth.Revoker
		cache   marketplace.Cache = marketplace.NewMemCache()
	)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opt)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.bridge, err = realtime.NewRedisBridge(realtime.RedisBridgeOpts{
			Client: a.redis,
			Prefix: cfg.Redis.ChannelPrefix,
			Hub:    a.hub,
			Logger: logging.Component(log, "realtime"),
		})
		if err != nil {
			return nil, err
		}
		a.broker = a.bridge
		revoker = auth.NewRedisRevoker(a.redis, cfg.Redis.ChannelPrefix)
		cache = marketplace.NewRedisCache(a.redis, cfg.Redis.ChannelPrefix)
	}

	var files storage.Store
	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		files = s3
	} else {
		log.Warn().Msg("storage.bucket not set; listing images are kept in memory")
		a.uploads = storage.NewMemStore(fmt.Sprintf("http://localhost:%d/uploads", cfg.HTTP.Port))
		files = a.uploads
	}

	var err error
	a.auth, err = auth.NewService(auth.Opts{
		DB:       gormDB,
		Secret:   cfg.Auth.Secret,
		TokenTTL: cfg.Auth.TokenTTL,
		Revoker:  revoker,
		Logger:   logging.Component(log, "auth"),
	})
	if err != nil {
		return nil, err
	}
	a.market, err = marketplace.NewService(marketplace.Opts{
		DB:      gormDB,
		Storage: files,
		Cache:   cache,
		Logger:  logging.Component(log, "marketplace"),
	})
	if err != nil {
		return nil, err
	}
	a.store, err = messaging.NewGormStore(messaging.StoreOpts{
		DB:        gormDB,
		Publisher: a.broker,
		Logger:    logging.Component(log, "messaging"),
	})
	if err != nil {
		return nil, err
	}
	a.registry, err = messaging.NewRegistry(messaging.RegistryOpts{
		Store:      a.store,
		Subscriber: a.broker,
		Settings: messaging.Settings{
			HistoryLimit:      cfg.Messaging.HistoryLimit,
			DirectoryLimit:    cfg.Messaging.DirectoryLimit,
			BadgeDelay:        cfg.Messaging.BadgeDelay,
			LocalEcho:         cfg.Messaging.EchoEnabled(),
			SendRatePerMinute: cfg.Messaging.SendRatePerMinute,
		},
		Logger: logging.Component(log, "messaging"),
	})
	if err != nil {
		return nil, err
	}

	a.notifier, err = newNotifier(cfg.Moderation)
	if err != nil {
		return nil, err
	}
	a.reports, err = moderation.NewService(moderation.Opts{
		DB:       gormDB,
		Notifier: a.notifier,
		Logger:   logging.Component(log, "moderation"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// appFromConfig wires the services for a one-shot admin command. Logs
// go to stderr at warn level unless the config asks for more.
func appFromConfig(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	return newApp(cmd.Context(), cfg, gormDB, logging.New(cfg.Env, level, cmd.ErrOrStderr()))
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// newNotifier returns the report forwarder for the configured provider,
// or nil when reports are only stored.
func newNotifier(cfg config.ModerationConfig) (moderation.Notifier, error) {
	switch cfg.Provider {
	case "slack":
		return slack.New(slack.Opts{BotToken: cfg.Token, ChannelID: cfg.ChannelID})
	case "discord":
		return discord.New(discord.Opts{BotToken: cfg.Token, ChannelID: cfg.ChannelID})
	default:
		return nil, nil
	}
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.HTTP.Port = port
	}
	log := logging.Setup(cfg.Env, cfg.LogLevel)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, gormDB, log)
	if err != nil {
		return err
	}
	defer a.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis bridge stopped")
			}
		}()
	}

	repairer, err := maintenance.NewRepairer(maintenance.RepairerOpts{
		DB:        gormDB,
		Publisher: a.broker,
		Logger:    logging.Component(log, "maintenance"),
	})
	if err != nil {
		return err
	}
	sched := maintenance.NewScheduler(logging.Component(log, "maintenance"))
	if err := sched.Add(repairer.RecencyJob(cfg.Maintenance.RecencyRepair)); err != nil {
		return err
	}
	if a.notifier != nil {
		digester, err := maintenance.NewDigester(maintenance.DigesterOpts{
			DB:       gormDB,
			Notifier: a.notifier,
			Logger:   logging.Component(log, "maintenance"),
		})
		if err != nil {
			return err
		}
		if err := sched.Add(digester.DigestJob(cfg.Maintenance.DailyDigest)); err != nil {
			return err
		}
	}
	go sched.Run(ctx)

	srv, err := api.New(api.Opts{
		Auth:          a.auth,
		Market:        a.market,
		Messages:      a.store,
		Registry:      a.registry,
		Reports:       a.reports,
		Uploads:       a.uploads,
		HTTP:          cfg.HTTP,
		CookieName:    cfg.Auth.CookieName,
		SecureCookies: cfg.Env == "production",
		HistoryLimit:  cfg.Messaging.HistoryLimit,
		Logger:        logging.Component(log, "api"),
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx, out)
}
