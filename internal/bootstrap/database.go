package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/nbu-mindcare/triage-api/config"
	"github.com/nbu-mindcare/triage-api/internal/migrate"
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB establishes a connection to the PostgreSQL database through the pgx stdlib driver.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DBConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.DBConfig.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(1, maxOpen/4))
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
			"max_open_conns", maxOpen,
		)
	}

	return db, nil
}

// ConnectRedis establishes a connection to Redis. It returns a nil client when Redis is disabled.
//
//nolint:ireturn // the topology (direct, sentinel, cluster) is only known at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	if !cfg.RedisConfig.Enabled {
		if cfg.Logger != nil {
			cfg.Logger.Info("redis disabled; submission rate limiting is off")
		}
		return nil, nil
	}

	mode, opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := newRedisClient(mode, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis (%s): %w", mode, pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "mode", string(mode), "target", describeRedis(mode, opts))
	}
	return client, nil
}

type redisMode string

const (
	redisModeDirect   redisMode = "direct"
	redisModeSentinel redisMode = "sentinel"
	redisModeCluster  redisMode = "cluster"
)

// redisOptions resolves the configured topology into go-redis universal options.
// Credentials embedded in a redis:// or rediss:// URI override Password.
func redisOptions(cfg config.RedisConfig) (redisMode, *redis.UniversalOptions, error) {
	switch {
	case cfg.UseCluster:
		opts := &redis.UniversalOptions{Addrs: trimAddrs(cfg.ClusterNodes), Password: cfg.Password}
		if len(opts.Addrs) == 0 {
			// A single seed node given as URI is enough; the client discovers the rest.
			if err := applyRedisURI(opts, cfg.URI); err != nil {
				return "", nil, fmt.Errorf("redis cluster: %w", err)
			}
		}
		if len(opts.Addrs) == 0 {
			return "", nil, errors.New("redis cluster: no node addresses configured")
		}
		return redisModeCluster, opts, nil

	case cfg.UseSentinel:
		nodes := trimAddrs(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return "", nil, errors.New("redis sentinel: no sentinel nodes configured")
		}
		if strings.TrimSpace(cfg.SentinelMasterName) == "" {
			return "", nil, errors.New("redis sentinel: master name is required")
		}
		return redisModeSentinel, &redis.UniversalOptions{
			Addrs:            nodes,
			MasterName:       cfg.SentinelMasterName,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, nil

	default:
		opts := &redis.UniversalOptions{Password: cfg.Password, DB: cfg.DB}
		if err := applyRedisURI(opts, cfg.URI); err != nil {
			return "", nil, fmt.Errorf("redis: %w", err)
		}
		if len(opts.Addrs) == 0 {
			return "", nil, errors.New("redis: URI is required")
		}
		return redisModeDirect, opts, nil
	}
}

// applyRedisURI fills opts from uri, which is either host:port or a redis URL.
// An empty uri leaves opts untouched.
func applyRedisURI(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	opts.DB = parsed.DB
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

//nolint:ireturn // see ConnectRedis.
func newRedisClient(mode redisMode, opts *redis.UniversalOptions) redis.UniversalClient {
	switch mode {
	case redisModeCluster:
		return redis.NewClusterClient(opts.Cluster())
	case redisModeSentinel:
		return redis.NewFailoverClient(opts.Failover())
	default:
		return redis.NewClient(opts.Simple())
	}
}

// describeRedis renders the connection target for logs. It never includes credentials.
func describeRedis(mode redisMode, opts *redis.UniversalOptions) string {
	if mode == redisModeSentinel {
		return opts.MasterName + "@" + strings.Join(opts.Addrs, ",")
	}
	return strings.Join(opts.Addrs, ",")
}

func trimAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}

	return nil
}
