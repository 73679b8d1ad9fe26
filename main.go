package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koresolucoes/pontog-sub001/config"
	"github.com/koresolucoes/pontog-sub001/crypto"
	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/logging"
	"github.com/koresolucoes/pontog-sub001/metrics"
	"github.com/koresolucoes/pontog-sub001/push"
	"github.com/koresolucoes/pontog-sub001/storage"
	"github.com/koresolucoes/pontog-sub001/unread"
)

var (
	verbose bool
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "pontog",
	Short:         "Terminal client for Pontog conversations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load PONTOG_* variables from this file if it exists")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// unreadCounter is the inbox badge store, process-local or Redis-backed.
type unreadCounter interface {
	Set(ctx context.Context, conversationID int64, n int) error
	Count(ctx context.Context, conversationID int64) (int, error)
	Total(ctx context.Context) (int, error)
	ClearUnread(ctx context.Context, conversationID int64) error
}

// app holds everything a command needs, built from the persisted config.
type app struct {
	cfg     *config.ClientConfig
	cfgPath string
	dataDir string
	log     *zap.Logger
	keys    crypto.KeyPair
	store   *storage.Store
	redis   *redis.Client
	broker  feed.Broker
	unread  unreadCounter
	push    *push.Dispatcher
	metrics *metrics.Collector
	server  *http.Server
}

func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, verbose)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: filepath.Dir(cfgPath),
		log:     logger.With(zap.String("user_id", cfg.UserID)),
		metrics: metrics.New(),
	}

	a.keys, err = crypto.LoadOrCreateKeyPair(cfg.SigningKeyPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("prepare signing key: %w", err)
	}

	var opts []storage.Option
	if cfg.Feed == config.FeedRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.broker = feed.NewRedisHub(a.redis, cfg.RedisPrefix, a.log.Named("feed"))
		a.unread = unread.NewRedis(a.redis, cfg.RedisPrefix, cfg.UserID)
		opts = append(opts, storage.WithBroker(a.broker))
	} else {
		a.unread = unread.NewMemory()
	}

	store, dbPath, err := storage.Open(a.dataDir, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = store
	a.log.Debug("database open", zap.String("path", dbPath), zap.String("feed", cfg.Feed))

	if cfg.PushEndpoint != "" {
		a.push, err = push.New(push.Config{
			Endpoint:      cfg.PushEndpoint,
			APIKey:        cfg.PushAPIKey,
			SenderName:    cfg.DisplayName,
			RatePerMinute: cfg.PushRatePerMinute,
		}, a.log.Named("push"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		a.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	return a, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("database close error", zap.Error(err))
		}
	}
	if a.broker != nil {
		a.broker.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
