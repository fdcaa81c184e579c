package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/dashboard-sync/internal/config"
	"github.com/Sternrassler/dashboard-sync/pkg/cache"
	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/logging"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/ratelimit"
	"github.com/Sternrassler/dashboard-sync/pkg/screen"
	"github.com/Sternrassler/dashboard-sync/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries the resolved configuration between commands.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		baseURL  string
		token    string
		logLevel string
		redisURL string
	)

	root := &cobra.Command{
		Use:          "dashsync",
		Short:        "Keep dashboard screens in sync with their remote collections",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("base-url") {
				cfg.BaseURL = baseURL
			}
			if flags.Changed("token") {
				cfg.Token = token
			}
			if flags.Changed("redis-url") {
				cfg.RedisURL = redisURL
			}
			if flags.Changed("log-level") {
				if !logging.ValidLevel(logLevel) {
					return fmt.Errorf("--log-level %q must be debug, info, warn or error", logLevel)
				}
				cfg.LogLevel = logLevel
			}

			a.cfg = cfg
			a.logger = logging.Setup(logging.Config{
				Level:   logging.LogLevel(cfg.LogLevel),
				Pretty:  cfg.DevMode,
				Output:  cmd.ErrOrStderr(),
				Service: "dashsync",
			})
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&baseURL, "base-url", "", "remote API root (env DASHSYNC_BASE_URL)")
	pf.StringVar(&token, "token", "", "bearer token (env DASHSYNC_TOKEN)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (env DASHSYNC_LOG_LEVEL)")
	pf.StringVar(&redisURL, "redis-url", "", "shared cache and rate-limit state (env DASHSYNC_REDIS_URL)")

	root.AddCommand(
		newListCmd(a),
		newBulkCmd(a),
		newServeCmd(a),
	)
	return root
}

// backend is the remote connection shared by the sessions of a command.
type backend struct {
	client  *client.Client
	limiter *ratelimit.Tracker
	redis   *redis.Client
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func (a *app) connect(ctx context.Context) (*backend, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	b := &backend{}
	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.redis = redis.NewClient(opts)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	b.limiter = ratelimit.NewTracker(b.redis, ratelimit.DefaultConfig(), logging.NewLogger("ratelimit"))
	cm := cache.NewManager(b.redis, cache.Config{
		MemorySize: a.cfg.MemoryCacheSize,
		MemoryTTL:  a.cfg.MemoryCacheTTL,
	})

	cc := client.DefaultConfig(a.cfg.BaseURL, a.cfg.UserAgent)
	cc.Token = a.cfg.Token
	cc.Timeout = a.cfg.Timeout
	c, err := client.New(cc,
		client.WithCache(cm),
		client.WithRateLimiter(b.limiter),
		client.WithLogger(logging.NewLogger("remote-client")),
	)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.client = c
	return b, nil
}

func (a *app) newSession(b *backend, def *screen.Definition) (*screen.Session, error) {
	return def.NewSession(b.client, notify.NewLogNotifier(logging.NewLogger("notify")), func(cfg *session.Config[screen.Record]) {
		cfg.MaxAttempts = a.cfg.MaxAttempts
		cfg.Delay = a.cfg.RetryDelay
		cfg.FallbackTimeout = a.cfg.FallbackTimeout
		cfg.WorkingSet.MaxConcurrency = a.cfg.PageWorkers
		cfg.Bulk.MaxConcurrency = a.cfg.BulkConcurrency
		cfg.Bulk.RateLimiter = b.limiter
	})
}
