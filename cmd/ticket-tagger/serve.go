package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/ticket-tagger/pkg/cache"
	"github.com/Sternrassler/ticket-tagger/pkg/classifier"
	"github.com/Sternrassler/ticket-tagger/pkg/client"
	"github.com/Sternrassler/ticket-tagger/pkg/config"
	"github.com/Sternrassler/ticket-tagger/pkg/logging"
	"github.com/Sternrassler/ticket-tagger/pkg/metrics"
	"github.com/Sternrassler/ticket-tagger/pkg/ratelimit"
	"github.com/Sternrassler/ticket-tagger/pkg/sealed"
	"github.com/Sternrassler/ticket-tagger/pkg/tagger"
	"github.com/Sternrassler/ticket-tagger/pkg/webhook"
)

// sweepInterval is how often the in-memory store drops expired records.
const sweepInterval = time.Minute

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.Setup(logging.Config{
				Level:   logging.LogLevel(cfg.Log.Level),
				Pretty:  cfg.Log.Pretty,
				Output:  os.Stderr,
				Service: "ticket-tagger",
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// backend holds the storage-dependent parts of the server.
type backend struct {
	store   cache.Store
	memory  *cache.MemoryStore
	redis   *redis.Client
	tracker *ratelimit.Tracker
	window  *ratelimit.FixedWindow
	dedupe  webhook.Deduper
}

func (b *backend) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}

// newBackend connects to Redis when configured and falls back to the
// in-memory store otherwise.
func newBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.Cache.RedisURL == "" {
		logger.Warn().Msg("No Redis configured: using in-memory cache, rate limiting and dedupe disabled")
		memory := cache.NewMemoryStore(cfg.Cache.TTL)
		return &backend{store: memory, memory: memory}, nil
	}

	redisClient, err := connectRedis(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return nil, err
	}

	var opts []cache.RedisOption
	if cfg.Cache.EncryptionKey != "" {
		cipher, err := sealed.NewCipher(cfg.Cache.EncryptionKey)
		if err != nil {
			redisClient.Close()
			return nil, err
		}
		opts = append(opts, cache.WithCipher(cipher))
	}

	b := &backend{
		store:   cache.NewRedisStore(redisClient, cfg.Cache.TTL, opts...),
		redis:   redisClient,
		tracker: ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit")),
		dedupe:  webhook.NewRedisDeduper(redisClient, webhook.DefaultDeliveryTTL),
	}
	if cfg.Server.RateLimitMax > 0 {
		b.window = ratelimit.NewFixedWindow(redisClient, cfg.Server.RateLimitWindow, cfg.Server.RateLimitMax, logging.NewLogger("inbound-limit"))
	}
	logger.Info().Bool("encrypted", cfg.Cache.EncryptionKey != "").Msg("Connected to Redis")
	return b, nil
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return redisClient, nil
}

// newApp builds the platform app client on top of the backend.
func newApp(cfg *config.Config, b *backend) (*client.AppClient, error) {
	var roundTripper http.RoundTripper = http.DefaultTransport
	if b.tracker != nil {
		roundTripper = ratelimit.NewGate(roundTripper, b.tracker)
	}
	clientLogger := logging.NewLogger("platform-client")

	transport, err := client.NewTransport(client.TransportConfig{
		BaseURL:    cfg.App.APIURL,
		HTTPClient: &http.Client{Transport: roundTripper, Timeout: 30 * time.Second},
		Store:      b.store,
		UserAgent:  cfg.App.UserAgent,
		Logger:     &clientLogger,
	})
	if err != nil {
		return nil, err
	}
	return client.NewAppClient(transport, cfg.App.ID, []byte(cfg.App.PrivateKey))
}

// newRouter mounts the webhook, status and metrics endpoints.
func newRouter(hooks http.Handler, window *ratelimit.FixedWindow) *http.ServeMux {
	if window != nil {
		hooks = window.Middleware(hooks)
	}
	mux := http.NewServeMux()
	mux.Handle("/webhook", hooks)
	mux.HandleFunc("GET /status", statusHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "ticket-tagger is running"})
}

// newHandler assembles the full HTTP surface on top of the backend.
func newHandler(cfg *config.Config, b *backend) (http.Handler, error) {
	app, err := newApp(cfg, b)
	if err != nil {
		return nil, err
	}

	predictor := classifier.NewHTTPClassifier(cfg.Classifier.URL, nil, logging.NewLogger("classifier"))
	t := tagger.New(app, predictor, logging.NewLogger("tagger"), tagger.WithMinConfidence(cfg.Classifier.MinConfidence))

	var hookOpts []webhook.Option
	if b.dedupe != nil {
		hookOpts = append(hookOpts, webhook.WithDeduper(b.dedupe))
	}
	hooks := webhook.NewHandler([]byte(cfg.Server.WebhookSecret), logging.NewLogger("webhook"), hookOpts...)
	t.Register(hooks)

	return newRouter(hooks, b.window), nil
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	handler, err := newHandler(cfg, b)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("base_url", cfg.Server.BaseURL).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Dur("grace", cfg.Server.ShutdownGrace).Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if b.memory != nil {
		g.Go(func() error {
			b.memory.Run(gctx, sweepInterval)
			return nil
		})
	}
	return g.Wait()
}
