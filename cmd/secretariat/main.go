package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/betagouv/secretariat"
	"github.com/betagouv/secretariat/config"
	"github.com/betagouv/secretariat/directory"
	"github.com/betagouv/secretariat/middleware/csrf"
	"github.com/betagouv/secretariat/notify"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "secretariat:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		addr          string
		purgeInterval time.Duration
	)

	flagSet := pflag.NewFlagSet("secretariat", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides app.addr")
	flagSet.DurationVar(&purgeInterval, "purge-interval", 0, "interval between expired login token purges, overrides storage.purge_interval")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := newLogger("info", "pretty")
	cfg, err := config.Load(ctx, bootstrap.GetLogger("config"))
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.App.Addr = addr
	}
	if purgeInterval <= 0 {
		purgeInterval = cfg.GetPurgeInterval()
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)

	store, closeStore, err := openStore(ctx, cfg, logger.GetLogger("storage"))
	if err != nil {
		return err
	}
	defer closeStore()

	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	var notifier secretariat.NotificationChannel = notify.NewLogChannel(logger.GetLogger("notify"))
	if cfg.Notify.SlackWebhookURL != "" {
		notifier = notify.NewSlackWebhook(cfg.Notify.SlackWebhookURL, 0)
	}
	mailer := notify.NewLogMailer(logger.GetLogger("mailer"))
	codeHost := notify.NewLogCodeHost(cfg.Notify.GithubRepository, logger.GetLogger("codehost"))
	activity := notify.ActivityLogger(logger.GetLogger("activity"))

	tokens := secretariat.NewTokenManager(store,
		secretariat.WithTokenTTL(cfg.GetLoginTokenTTL()),
		secretariat.WithTokenLogger(logger.GetLogger("tokens")),
		secretariat.WithTokenActivitySink(activity),
	)

	sessions := secretariat.NewSessionServiceFromConfig(cfg, logger.GetLogger("sessions"))
	auther, err := secretariat.NewHTTPAuthenticator(sessions, cfg)
	if err != nil {
		return err
	}
	auther.Logger = logger.GetLogger("auth")

	actions := secretariat.NewAccountActions(dir, dir, mailer, notifier, codeHost,
		secretariat.WithMailDomain(cfg.GetMailDomain()),
		secretariat.WithBaseURL(cfg.GetBaseURL()),
		secretariat.WithActionsLogger(logger.GetLogger("actions")),
		secretariat.WithActionsActivitySink(activity),
	)

	controller := secretariat.NewAccountController(
		secretariat.WithControllerLogger(logger.GetLogger("http")),
		secretariat.WithAuthenticator(auther),
		secretariat.WithTokenManager(tokens),
		secretariat.WithLoginHandler(secretariat.NewLoginRequestHandler(
			dir, tokens, mailer, cfg.GetBaseURL(), cfg.GetMailDomain(), logger.GetLogger("login"),
		)),
		secretariat.WithAccountActions(actions),
		secretariat.WithDirectory(dir),
		secretariat.WithCSRFKey(csrf.DeriveKey(cfg.GetSigningKey())),
	)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:      "secretariat",
			ErrorHandler: errorHandler(logger.GetLogger("http")),
		}))
		return app
	})

	srv.Router().WithLogger(logger.GetLogger("router"))
	srv.Router().Use(mflash.New(mflash.ConfigDefault))
	secretariat.RegisterRoutes(srv.Router(), controller)

	go purgeLoop(ctx, tokens, purgeInterval, logger.GetLogger("purge"))

	logger.Info("listening", "addr", cfg.App.Addr)
	srv.Serve(cfg.App.Addr)

	<-ctx.Done()
	logger.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func openStore(ctx context.Context, cfg *config.Config, logger glog.Logger) (secretariat.LoginTokenStore, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.Storage.RedisAddr},
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reach redis")
		}
		logger.Info("login tokens stored in redis", "addr", cfg.Storage.RedisAddr)
		return secretariat.NewRedisLoginTokens(client, cfg.Storage.RedisPrefix), func() { _ = client.Close() }, nil

	case config.DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.Storage.DSN)
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres")
		}
		return migratedStore(ctx, bun.NewDB(sqldb, pgdialect.New()), "postgres", logger)

	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite")
		}
		sqldb.SetMaxOpenConns(1)
		return migratedStore(ctx, bun.NewDB(sqldb, sqlitedialect.New()), "sqlite3", logger)
	}
}

func migratedStore(ctx context.Context, db *bun.DB, dialect string, logger glog.Logger) (secretariat.LoginTokenStore, func(), error) {
	if err := secretariat.Migrate(ctx, db.DB, dialect); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repo := secretariat.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logger.Info("login tokens stored in sql", "dialect", dialect)
	return repo.LoginTokens(), func() { _ = db.Close() }, nil
}

func openDirectory(cfg *config.Config) (*directory.Memory, error) {
	if cfg.Directory.Fixture == "" {
		return directory.NewMemory(cfg.GetMailDomain(), nil), nil
	}
	return directory.LoadFile(cfg.Directory.Fixture, cfg.GetMailDomain())
}

func purgeLoop(ctx context.Context, tokens *secretariat.TokenManager, interval time.Duration, logger glog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tokens.Purge(ctx); err != nil {
				logger.Warn("purge failed", "error", err)
			}
		}
	}
}

func errorHandler(logger glog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			if richErr.Code != 0 {
				code = richErr.Code
			}
			logger.Error("request failed",
				"path", c.Path(),
				"error", richErr.Message,
				"category", richErr.Category,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "path", c.Path(), "error", err)
		}

		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
