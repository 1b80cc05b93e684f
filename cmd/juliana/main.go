package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/juliana/internal/broadcast"
	"github.com/noah-isme/juliana/internal/config"
	"github.com/noah-isme/juliana/internal/display"
	"github.com/noah-isme/juliana/internal/events"
	"github.com/noah-isme/juliana/internal/health"
	"github.com/noah-isme/juliana/internal/httpapi"
	"github.com/noah-isme/juliana/internal/obs"
	"github.com/noah-isme/juliana/internal/pricing"
	"github.com/noah-isme/juliana/internal/resilience"
	"github.com/noah-isme/juliana/internal/rpc"
	"github.com/noah-isme/juliana/internal/scanner"
	"github.com/noah-isme/juliana/internal/terminal"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("terminal", cfg.TerminalID).
		Int64("event_id", cfg.EventID).
		Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "juliana",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
			TerminalID:    cfg.TerminalID,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probes := map[string]health.Probe{}

	bus := &events.Bus{}
	if cfg.HasDriver(config.DriverLog) {
		bus.Notifiers = append(bus.Notifiers, broadcast.LogNotifier{Logger: obs.Component(logger, "broadcast")})
	}
	if cfg.HasDriver(config.DriverRedis) {
		redisClient := newRedis(ctx, cfg, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		bus.Notifiers = append(bus.Notifiers, broadcast.RedisPublisher{Client: redisClient, Prefix: cfg.RedisPrefix})
		probes["redis"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}
	}
	if cfg.HasDriver(config.DriverAMQP) {
		publisher, err := broadcast.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect rabbitmq")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("close rabbitmq")
			}
		}()
		bus.Notifiers = append(bus.Notifiers, publisher)
	}
	logger.Info().
		Strs("drivers", cfg.BroadcastDrivers).
		Strs("topics", events.DefaultTopics()).
		Msg("broadcast_configured")

	book, err := pricing.NewBook(cfg.Products, cfg.DynamicProducts, cfg.PriceLinks)
	if err != nil {
		logger.Fatal().Err(err).Msg("build price book")
	}
	engine := pricing.NewEngine(book, pricing.Config{
		Delta:    cfg.PricingDelta,
		Exponent: cfg.PricingExponent,
	}, broadcast.PriceAdvertiser{Bus: bus}, obs.Component(logger, "pricing"))

	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("juliana-rpc").
		WithLogger(obs.Component(logger, "breaker"))
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rpcLogger := obs.Component(logger, "rpc")
	reads := resilience.HTTPClient{
		Client:      httpClient,
		Breaker:     breaker,
		Target:      "juliana-rpc",
		Logger:      rpcLogger,
		BaseBackoff: cfg.RPCBackoff,
		MaxAttempts: cfg.RPCMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.RPCTimeout,
	}
	orders := reads
	orders.MaxAttempts = 1
	backend := &rpc.Client{
		Endpoint: cfg.APIURL,
		HTTP:     reads,
		Orders:   orders,
		Headers:  rpcHeaders(cfg),
		Timeout:  cfg.RPCTimeout,
		Logger:   rpcLogger,
	}
	probes["rpc_circuit"] = func(context.Context, time.Duration) error {
		if breaker.State() == resilience.Open {
			return resilience.ErrOpenCircuit
		}
		return nil
	}

	screen := display.NewBuffer()
	controller := terminal.New(terminal.Config{
		EventID:      cfg.EventID,
		Countdown:    cfg.PaymentCountdown,
		TickInterval: cfg.CountdownInterval,
	}, terminal.Deps{
		Backend:   backend,
		Pricing:   engine,
		Display:   screen,
		Bus:       bus,
		Scheduler: terminal.TickerScheduler{},
		Logger:    obs.Component(logger, "terminal"),
	})

	source := &scanner.Source{
		URL:         cfg.ScannerURL,
		Subprotocol: cfg.ScannerProtocol,
		RetryBase:   cfg.ScannerRetryBase,
		RetryMax:    cfg.ScannerRetryMax,
		Logger:      obs.Component(logger, "scanner"),
	}
	probes["scanner"] = func(context.Context, time.Duration) error {
		if !source.Connected() {
			return errors.New("scanner disconnected")
		}
		return nil
	}

	var metricsHandler http.Handler
	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		metricsHandler = promhttp.Handler()
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}
	router := httpapi.NewRouter(httpapi.Options{
		Terminal:       controller,
		Prices:         engine,
		Display:        screen,
		Health:         health.Handler{Probes: probes, Timeout: 2 * time.Second},
		Logger:         obs.Component(logger, "http"),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: metricsHandler,
		Tracing:        tracingEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		HSTSMaxAge:     cfg.HSTSMaxAge,
	})

	scans := make(chan scanner.Event, 16)
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("loop", name).Msg("loop_exited")
				stop()
			}
		}()
	}
	run("pricing", func(ctx context.Context) error { return engine.Run(ctx, cfg.PricingInterval) })
	run("scanner", func(ctx context.Context) error { return source.Run(ctx, scans) })
	run("terminal", func(ctx context.Context) error { return controller.Run(ctx, scans) })

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server exited unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
	wg.Wait()
}

func newRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func rpcHeaders(cfg *config.Config) http.Header {
	h := http.Header{}
	if cfg.SessionCookie != "" {
		h.Set("Cookie", "sessionid="+cfg.SessionCookie)
	}
	if cfg.CSRFToken != "" {
		h.Set("X-CSRFToken", cfg.CSRFToken)
	}
	return h
}
