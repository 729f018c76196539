package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/audit"
	"github.com/lowc1012/adaptive-ratelimiter/internal/config"
	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
	"github.com/lowc1012/adaptive-ratelimiter/internal/utils"
	httplimiter "github.com/lowc1012/adaptive-ratelimiter/pkg/ratelimiter"
)

func HelloHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Hello, World!"))
}

func main() {
	defer log.Sync()

	cfg := config.FromEnv()
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address")
	flag.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "token_bucket, leaky_bucket, fixed_window or sliding_window")
	flag.StringVar((*string)(&cfg.Mode), "mode", string(cfg.Mode), "single, multi_tier or adaptive")
	flag.StringVar(&cfg.LimitType, "limit-type", cfg.LimitType, "named limit type used in single mode")
	flag.BoolVar(&cfg.TrustXFF, "trust-xff", cfg.TrustXFF, "use X-Forwarded-For for the client address")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Logger().Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       int(cfg.RedisDB),
		// lets the per-call store timeout bound socket reads
		ContextTimeoutEnabled: true,
	})
	defer func() { _ = redisClient.Close() }()

	breaker := store.NewCircuitBreaker(store.CircuitOptions{})
	counters := store.NewRedisStore(redisClient, store.WithTimeout(cfg.StoreTimeout), store.WithCircuitBreaker(breaker))
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	if err := counters.Ping(pingCtx); err != nil {
		// requests fail closed until redis is reachable
		log.Logger().Warn("Redis is not reachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	pingCancel()

	sink, closeSink := newAuditSink(ctx, cfg)
	defer closeSink()

	registry, err := ratelimiter.NewRegistry(nil)
	if err != nil {
		log.Logger().Fatal("Failed to build limit registry", zap.Error(err))
	}
	service := ratelimiter.NewService(counters, registry, sink, nil)

	checker, err := newChecker(cfg, counters, service, sink)
	if err != nil {
		log.Logger().Fatal("Failed to build rate limiter", zap.Error(err))
	}

	// each route is wrapped on its own so the limiter sees r.Pattern
	limit := httplimiter.Middleware(&httplimiter.Config{
		Checker: checker,
		User:    utils.NewHTTPHeadersExtractor(cfg.UserHeader),
		Address: utils.NewClientIPExtractor(cfg.TrustXFF),
		Guard:   ratelimiter.NewGuard(counters, nil),
	})

	root := http.NewServeMux()
	root.HandleFunc("/healthz", healthHandler(counters, breaker))
	root.Handle("/api/v1/hello", limit(http.HandlerFunc(HelloHandler)))
	root.Handle("/api/v1/ratelimit/status", limit(statusHandler(service)))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Logger().Info("Run a server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("mode", string(cfg.Mode)),
		zap.String("strategy", cfg.Type().String()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Logger().Fatal("Failed to serve handler", zap.Error(err))
	}
}

func newChecker(cfg *config.Config, s store.Store, service *ratelimiter.Service, sink audit.Sink) (ratelimiter.Checker, error) {
	switch cfg.Mode {
	case config.ModeSingle:
		return service.Checker(cfg.LimitType, cfg.Type(), false)
	case config.ModeAdaptive:
		a, err := ratelimiter.NewAdaptiveLimiter(s, ratelimiter.AdaptiveOptions{BaseLimit: cfg.AdaptiveBase})
		if err != nil {
			return nil, err
		}
		return ratelimiter.Audited(a, sink, "adaptive"), nil
	default:
		c, err := ratelimiter.NewDefaultCoordinator(s, cfg.LimitType, cfg.Type(), nil, nil)
		if err != nil {
			return nil, err
		}
		return ratelimiter.Audited(c, sink, cfg.LimitType), nil
	}
}

func newAuditSink(ctx context.Context, cfg *config.Config) (audit.Sink, func()) {
	sinks := audit.Multi{audit.NewLogSink(log.Logger())}
	closeFn := func() {}
	if cfg.MongoURI != "" {
		mongoSink, disconnect, err := audit.ConnectMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			log.Logger().Warn("Mongo audit sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, mongoSink)
			closeFn = func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = disconnect(shutdownCtx)
			}
		}
	}
	if cfg.AuditRPS > 0 {
		return audit.NewThrottled(sinks, cfg.AuditRPS, int(cfg.AuditRPS)+1), closeFn
	}
	return sinks, closeFn
}

func statusHandler(service *ratelimiter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, limitType := r.URL.Query().Get("id"), r.URL.Query().Get("type")
		st, err := service.Status(r.Context(), id, limitType)
		switch {
		case errors.Is(err, ratelimiter.ErrInvalidKey), errors.Is(err, ratelimiter.ErrUnknownLimitType):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"limitType": st.LimitType,
			"limit":     st.Limit,
			"window":    st.Window.String(),
			"current":   st.Current,
			"remaining": st.Remaining,
			"resetAt":   st.ResetAt.UTC().Format(time.RFC3339),
		})
	}
}

func healthHandler(s store.Store, breaker *store.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			http.Error(w, "store "+breaker.State().String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
