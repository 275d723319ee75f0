package server

import (
	"context"
	"fmt"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/db"
	"github.com/authgate/apiserver/internal/handlers"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mailer"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/authgate/apiserver/internal/ratelimit"
	"github.com/authgate/apiserver/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// openDeps connects every backend cfg selects. On error, whatever was
// already opened is closed.
func openDeps(ctx context.Context, cfg config.Config, logger logging.Logger) (deps Deps, err error) {
	deps = Deps{Logger: logger, Pingers: map[string]handlers.Pinger{}}
	defer func() {
		if err != nil {
			closeAll(deps.closers)
		}
	}()

	var mongoDB *mongo.Database
	connectMongo := func() (*mongo.Database, error) {
		if mongoDB != nil {
			return mongoDB, nil
		}
		client, err := db.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		deps.closers = append(deps.closers, func() error { return client.Disconnect(context.Background()) })
		deps.Pingers["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		mongoDB = client.Database(cfg.Mongo.Database)
		return mongoDB, nil
	}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn(ctx, "using in-memory user store, accounts are lost on restart")
		deps.Users = store.NewMemoryUserRepository()
	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return deps, fmt.Errorf("connect postgres: %w", err)
		}
		deps.closers = append(deps.closers, conn.Close)
		deps.Pingers["postgres"] = conn.PingContext
		deps.Users = store.NewUserRepository(conn)
	default:
		database, err := connectMongo()
		if err != nil {
			return deps, err
		}
		users := store.NewMongoUserRepository(database)
		if err := users.EnsureIndexes(ctx); err != nil {
			return deps, fmt.Errorf("user indexes: %w", err)
		}
		deps.Users = users
	}

	switch cfg.RateLimit.Store {
	case config.StoreMongo:
		database, err := connectMongo()
		if err != nil {
			return deps, err
		}
		limits := ratelimit.NewMongoStore(database)
		if err := limits.EnsureIndexes(ctx); err != nil {
			return deps, fmt.Errorf("rate limit indexes: %w", err)
		}
		deps.RateLimits = limits
	default:
		limits := ratelimit.NewMemoryStore(cfg.RateLimit.Window)
		deps.closers = append(deps.closers, limits.Close)
		deps.RateLimits = limits
	}

	switch cfg.Mailer.Driver {
	case config.MailerRabbitMQ, config.MailerPubSub:
		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return deps, err
		}
		deps.closers = append(deps.closers, broker.Close)
		deps.Mailer = mailer.NewQueueMailer(broker, cfg.Mailer.Queue)
	default:
		deps.Mailer = NewSMTPMailer(cfg, logger)
	}

	return deps, nil
}

// NewSMTPMailer returns the direct SMTP mailer, or a logging stand-in in
// development when no SMTP host is configured.
func NewSMTPMailer(cfg config.Config, logger logging.Logger) mailer.Mailer {
	if cfg.SMTP.Host == "" && !cfg.IsProduction() {
		return mailer.NewLogMailer(logger.With("component", "mailer"))
	}
	return mailer.NewSMTPMailer(cfg.SMTP)
}
