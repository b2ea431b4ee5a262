package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/buildhook/internal/analytics"
	"github.com/djlord-it/buildhook/internal/api"
	"github.com/djlord-it/buildhook/internal/circuitbreaker"
	"github.com/djlord-it/buildhook/internal/config"
	"github.com/djlord-it/buildhook/internal/cron"
	"github.com/djlord-it/buildhook/internal/dispatcher"
	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
	"github.com/djlord-it/buildhook/internal/leaderelection"
	"github.com/djlord-it/buildhook/internal/metrics"
	"github.com/djlord-it/buildhook/internal/observer"
	"github.com/djlord-it/buildhook/internal/pipeline"
	"github.com/djlord-it/buildhook/internal/reconciler"
	"github.com/djlord-it/buildhook/internal/settings"
	"github.com/djlord-it/buildhook/internal/status"
	"github.com/djlord-it/buildhook/internal/store/memory"
	"github.com/djlord-it/buildhook/internal/store/postgres"
	"github.com/djlord-it/buildhook/internal/store/sqlite"
	"github.com/djlord-it/buildhook/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// resyncLockName derives the advisory lock key when LEADER_LOCK_KEY is unset.
const resyncLockName = "buildhook-resync"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	if err := config.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitInvalidConfig)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "fingerprint":
		os.Exit(runFingerprint(os.Args[2:]))
	case "import":
		os.Exit(runImport(os.Args[2:]))
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`buildhook - content-change detection and static-site build trigger

Usage:
  buildhook <command> [flags]

Commands:
  serve        Start the HTTP API, change observer and build dispatcher
  validate     Validate configuration (no connections made)
  config       Print effective configuration as JSON (secrets masked)
  fingerprint  Compute the content fingerprint of a YAML/JSON export (-f file)
  import       Load a YAML/JSON content export into the configured store (-f file)
  version      Print version information

Environment Variables:
  ENV_FILE                  Optional .env file loaded before anything else
  STORE_DRIVER              postgres, sqlite or memory (default: postgres if DATABASE_URL is set, else sqlite)
  DATABASE_URL              PostgreSQL connection string
  SQLITE_PATH               SQLite database file (default: "buildhook.db")
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  ADMIN_TOKEN               Bearer token for /trigger-build and /settings/webhook
  INGEST_TOKEN              Bearer token for /events (optional)

  WEBHOOK_URL               Seed webhook URL, used when no settings are stored
  WEBHOOK_SECRET            Seed HMAC signing secret
  SITE_URL                  Seed site URL carried in payloads
  CI_REPO                   Seed CI repository (owner/name)
  CI_WORKFLOW_FILE          Seed CI workflow file
  CI_TOKEN                  Seed CI token
  CI_REF                    Seed CI ref (default: "main")
  CI_API_BASE_URL           Seed CI API base URL (default: "https://api.github.com")

  NATS_URL                  Publish build triggers to NATS as well (optional)
  NATS_SUBJECT              NATS subject (default: "buildhook.builds")
  REDIS_ADDR                Redis address for dispatch analytics (optional)
  ANALYTICS_RETENTION       Analytics key retention (default: "720h")

  DB_OP_TIMEOUT             Database startup operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "10")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DRAIN_TIMEOUT             Observer and dispatcher drain timeout (default: "30s")
  SINK_TIMEOUT              Per-sink delivery timeout (default: "10s")
  EMIT_TIMEOUT              Max wait when the trigger buffer is full (default: "2s")
  CHANGE_BUFFER_SIZE        Change event buffer (default: "1000")
  TRIGGER_BUFFER_SIZE       Build trigger buffer (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a sink is skipped, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  How long a sink stays skipped (default: "2m")

  RESYNC_SCHEDULE           Cron expression or descriptor for periodic resync (optional)
  RESYNC_TIMEZONE           Timezone for RESYNC_SCHEDULE (default: "UTC")
  LEADER_LOCK_KEY           Advisory lock key for resync leader election (postgres only)

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9090")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")`)
}

// backend is the full set of storage capabilities the service needs.
type backend interface {
	hasher.ContentSource
	pipeline.StateStore
	status.Store
	settings.Store
}

type storage struct {
	store  backend
	health api.HealthChecker // nil when there is nothing to ping
	db     *sql.DB           // postgres only
	close  func() error
}

func openStorage(cfg config.Config) (*storage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		log.Printf("buildhook: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &storage{store: store, health: db, db: db, close: db.Close}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("buildhook: sqlite store opened (path=%s)", cfg.SQLitePath)
		return &storage{store: store, health: store, close: store.Close}, nil

	case config.DriverMemory:
		return &storage{store: memory.New(), close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(cfg)

	st, err := openStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		return exitRuntimeError
	}
	defer st.close()

	settingsSvc := settings.NewService(st.store)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	_, err = settingsSvc.Load(loadCtx, cfg.Webhook)
	loadCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load webhook settings: %v\n", err)
		return exitRuntimeError
	}

	// Metrics default to a no-op sink so components never see a nil sink.
	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("buildhook: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("buildhook: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("buildhook: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("buildhook: METRICS_ENABLED not set; metrics disabled")
	}

	// A full change buffer answers /events with 503 without waiting.
	changeBus := channel.NewEventBus[domain.ChangeEvent]("changes", cfg.ChangeBufferSize,
		channel.NonBlocking(),
		channel.WithMetrics(metricsSink),
	)
	triggerBus := channel.NewEventBus[domain.TriggerEvent]("triggers", cfg.TriggerBufferSize,
		channel.WithEmitTimeout(cfg.EmitTimeout),
		channel.WithMetrics(metricsSink),
	)

	contentHasher := hasher.New(st.store)

	pipe := pipeline.New(contentHasher, st.store, triggerBus).WithMetrics(metricsSink)
	obs := observer.New(pipe).
		WithDrainTimeout(cfg.DrainTimeout).
		WithMetrics(metricsSink)

	disp := dispatcher.New(settingsSvc, &http.Client{}).
		WithSinkTimeout(cfg.SinkTimeout).
		WithDrainTimeout(cfg.DrainTimeout).
		WithMetrics(metricsSink)

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown).
			WithObserver(func(endpoint string, from, to circuitbreaker.State) {
				log.Printf("buildhook: circuit %s -> %s for %s", from, to, endpoint)
				metricsSink.BreakerStateChanged(endpoint, to.String())
			})
		disp = disp.WithBreaker(breaker)
		log.Printf("buildhook: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	if cfg.NATSURL != "" {
		nc, err := dispatcher.ConnectNATS(cfg.NATSURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to nats: %v\n", err)
			return exitRuntimeError
		}
		defer nc.Close()
		disp = disp.WithSink(dispatcher.NewNATSSink(nc, cfg.NATSSubject, cfg.SinkTimeout))
		log.Printf("buildhook: nats sink enabled (subject=%s)", cfg.NATSSubject)
	}

	var analyticsSink *analytics.RedisSink
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		analyticsSink = analytics.NewRedisSink(redisClient).WithRetention(cfg.AnalyticsRetention)
		disp = disp.WithAnalytics(analyticsSink)
		log.Printf("buildhook: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("buildhook: REDIS_ADDR not set; analytics disabled")
	}

	statusSvc := status.NewService(st.store, contentHasher, disp)

	apiHandler := api.NewHandler(changeBus, statusSvc, settingsSvc).
		WithAuth(cfg.AdminToken, cfg.IngestToken)
	if st.health != nil {
		apiHandler = apiHandler.WithHealthChecker(st.health)
	}
	if breaker != nil {
		apiHandler = apiHandler.WithBreakerStatus(breaker)
	}
	if analyticsSink != nil {
		apiHandler = apiHandler.WithAnalytics(analyticsSink)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("buildhook: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("buildhook: http server error: %v", err)
		}
	}()

	// Separate contexts per stage enable ordered shutdown.
	observerCtx, cancelObserver := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var observerWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var resyncWg sync.WaitGroup
	var cancelResync context.CancelFunc

	observerWg.Add(1)
	go func() {
		defer observerWg.Done()
		obs.Run(observerCtx, changeBus.Channel())
	}()

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, triggerBus.Channel())
	}()

	if cfg.ResyncSchedule != "" {
		schedule, err := cron.NewParser().Parse(cfg.ResyncSchedule, cfg.ResyncTimezone)
		if err != nil {
			// Validate already parsed it; this only fires on a changed environment.
			log.Printf("buildhook: resync disabled: %v", err)
		} else {
			var resyncCtx context.Context
			resyncCtx, cancelResync = context.WithCancel(context.Background())
			recon := reconciler.New(schedule, changeBus).WithMetrics(metricsSink)

			run := recon.Run
			if st.db != nil {
				lockKey := cfg.LeaderLockKey
				if lockKey == 0 {
					lockKey = leaderelection.LockKey(resyncLockName)
				}
				elector := leaderelection.New(st.db, lockKey, recon.Run).WithMetrics(metricsSink)
				run = elector.Run
			}

			resyncWg.Add(1)
			go func() {
				defer resyncWg.Done()
				run(resyncCtx)
			}()
			log.Printf("buildhook: resync enabled (schedule=%q, tz=%s, leader_election=%t)",
				cfg.ResyncSchedule, cfg.ResyncTimezone, st.db != nil)
		}
	}

	log.Printf("buildhook: started (store=%s, http=%s)", cfg.StoreDriver, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("buildhook: received signal %v, shutting down", received)

	// Phase 1: stop resync (no new scheduled events)
	if cancelResync != nil {
		log.Println("buildhook: stopping resync...")
		cancelResync()
		resyncWg.Wait()
		log.Println("buildhook: resync stopped")
	}

	// Phase 2: stop HTTP server (no new change events, in-flight manual triggers finish)
	log.Println("buildhook: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("buildhook: http server shutdown error: %v", err)
	}
	log.Println("buildhook: http server stopped")

	// Phase 3: stop observer (drains buffered change events into the trigger bus)
	log.Println("buildhook: stopping observer (draining events)...")
	cancelObserver()
	observerWg.Wait()
	log.Println("buildhook: observer stopped")

	// Phase 4: stop dispatcher (drains buffered triggers)
	log.Println("buildhook: stopping dispatcher (draining triggers)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("buildhook: dispatcher stopped")

	// Phase 5: stop metrics server if running
	if metricsServer != nil {
		log.Println("buildhook: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("buildhook: metrics server shutdown error: %v", err)
		}
		log.Println("buildhook: metrics server stopped")
	}

	log.Println("buildhook: stopped")
	return exitSuccess
}

// logConfigWarnings logs non-fatal configuration problems at startup.
func logConfigWarnings(cfg config.Config) {
	for _, w := range config.Warnings(cfg) {
		log.Printf("buildhook: WARNING: %s", w)
	}
	if cfg.ResyncSchedule == "" {
		log.Println("buildhook: WARNING: RESYNC_SCHEDULE not set: changes missed by the CMS hooks are never reconciled")
	}
	if cfg.StoreDriver == config.DriverSQLite && cfg.ResyncSchedule != "" {
		log.Println("buildhook: INFO: STORE_DRIVER=sqlite runs resync without leader election; run a single instance")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	for _, w := range config.Warnings(cfg) {
		fmt.Printf("warning: %s\n", w)
	}
	if cfg.ResyncSchedule != "" {
		// Validate has already parsed the schedule.
		schedule, _ := cron.NewParser().Parse(cfg.ResyncSchedule, cfg.ResyncTimezone)
		for _, run := range cron.Upcoming(schedule, time.Now(), 3) {
			fmt.Printf("next resync: %s\n", run.Format(time.RFC3339))
		}
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("buildhook version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
