package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"revguard/internal/config"
	"revguard/internal/constants"
	"revguard/internal/logger"
	"revguard/pkg/health"
	"revguard/pkg/migrations"
)

// Databases are the optional stores a service may have been configured
// with. Unconfigured stores stay nil.
type Databases struct {
	Postgres *sql.DB
	Redis    redis.UniversalClient
	Mongo    *mongo.Client
	MongoDB  *mongo.Database
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// Connect opens every configured store and registers its health check.
// On failure the stores opened so far are closed again.
func (dc *DatabaseConnector) Connect(ctx context.Context, registry *health.CheckerRegistry) (*Databases, error) {
	dbs := &Databases{}

	pg, err := dc.InitPostgreSQL(ctx)
	if err != nil {
		return nil, err
	}
	dbs.Postgres = pg

	rdb, err := dc.InitRedis(ctx)
	if err != nil {
		dc.ShutdownDatabases(ctx, dbs)
		return nil, err
	}
	dbs.Redis = rdb

	mc, err := dc.InitMongoDB(ctx)
	if err != nil {
		dc.ShutdownDatabases(ctx, dbs)
		return nil, err
	}
	if mc != nil {
		dbs.Mongo = mc
		dbs.MongoDB = mc.Database(dc.mongoDatabaseName())
		if err := migrations.EnsureMongoIndexes(ctx, dbs.MongoDB); err != nil {
			dc.ShutdownDatabases(ctx, dbs)
			return nil, fmt.Errorf("failed to ensure MongoDB indexes: %w", err)
		}
	}

	if registry != nil {
		if dbs.Postgres != nil {
			registry.Register(health.NewPostgreSQLChecker(dbs.Postgres))
		}
		if dbs.Redis != nil {
			registry.Register(health.NewRedisChecker(dbs.Redis))
		}
		if dbs.Mongo != nil {
			registry.Register(health.NewMongoDBChecker(dbs.Mongo))
		}
	}
	return dbs, nil
}

func (dc *DatabaseConnector) mongoDatabaseName() string {
	if name := dc.Config.Database.MongoDB.Database; name != "" {
		return name
	}
	return constants.DefaultMongoDBName
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (redis.UniversalClient, error) {
	if !dc.Config.Database.Redis.Enabled() {
		return nil, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port)},
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Infow("Redis connected successfully")
	return rdb, nil
}

// InitPostgreSQL connects and, when database.run_migrations is set, brings
// the schema up to date.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if !pg.Enabled() {
		return nil, nil
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, pg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			db.Close()
			return nil, err
		}
		dc.Logger.Infow("PostgreSQL migrations applied")
	}

	dc.Logger.Infow("PostgreSQL connected successfully")
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if !dc.Config.Database.MongoDB.Enabled() {
		return nil, nil
	}

	mongoOpts := options.Client().ApplyURI(dc.Config.Database.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Infow("MongoDB connected successfully")
	return mongoClient, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, dbs *Databases) []error {
	if dbs == nil {
		return nil
	}
	var errs []error

	if dbs.Redis != nil {
		if err := dbs.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dbs.Postgres != nil {
		if err := dbs.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dbs.Mongo != nil {
		if err := dbs.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
