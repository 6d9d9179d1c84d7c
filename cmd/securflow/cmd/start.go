package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/inbound/http"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/ajax"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/auditfile"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/auditstore"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/database"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/memory"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/notify"
	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/redisstore"
	"github.com/virapa/AjaxSecurFlow/internal/config"
	"github.com/virapa/AjaxSecurFlow/internal/domain/audit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
	"github.com/virapa/AjaxSecurFlow/internal/domain/cache"
	"github.com/virapa/AjaxSecurFlow/internal/domain/identity"
	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
	"github.com/virapa/AjaxSecurFlow/internal/domain/ratelimit"
	"github.com/virapa/AjaxSecurFlow/internal/domain/session"
	"github.com/virapa/AjaxSecurFlow/internal/service"
	"github.com/virapa/AjaxSecurFlow/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the SecurFlow gateway.

Shared state (sessions, cache, admission window, revocations, lockouts)
lives in Redis when redis.url is set and in process memory otherwise.

Examples:
  # Start with config file settings
  securflow start

  # Start with a development secret and operator key
  securflow start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, dev secret and operator key)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled, do not use in production")
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("securflow stopped")
	return nil
}

// stores is the shared state backing one gateway instance.
type stores struct {
	sessions    session.Store
	cache       cache.Backend
	windows     ratelimit.WindowStore
	revocations identity.RevocationStore
	attempts    identity.AttemptStore
	ping        func(ctx context.Context) error
	close       func()
}

// openStores selects Redis when configured and reachable, falling back to
// process memory so a single instance can still serve.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) stores {
	if cfg.UsesRedis() {
		rdb, err := redisstore.Open(ctx, redisstore.Config{
			URL:         cfg.Redis.URL,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: config.Duration(cfg.Redis.DialTimeout),
		})
		if err == nil {
			logger.Info("using redis store", "addr", rdb.Options().Addr)
			return redisStores(rdb)
		}
		logger.Warn("redis unavailable, falling back to in-memory store", "error", err)
	}

	kv := memory.NewKV()
	kv.StartCleanup(ctx)
	logger.Info("using in-memory store")
	return stores{
		sessions:    memory.NewSessionStore(kv),
		cache:       memory.NewCacheBackend(kv),
		windows:     memory.NewWindowStore(kv),
		revocations: memory.NewRevocationStore(kv),
		attempts:    memory.NewAttemptStore(kv),
		ping:        func(context.Context) error { return nil },
		close:       kv.Stop,
	}
}

func redisStores(rdb *redis.Client) stores {
	return stores{
		sessions:    redisstore.NewSessionStore(rdb),
		cache:       redisstore.NewCacheBackend(rdb),
		windows:     redisstore.NewWindowStore(rdb),
		revocations: redisstore.NewRevocationStore(rdb),
		attempts:    redisstore.NewAttemptStore(rdb),
		ping:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		close:       func() { _ = rdb.Close() },
	}
}

// run wires every component together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st := openStores(ctx, cfg, logger)
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var auditSvc *service.AuditService
	metrics := http.NewMetrics(reg, func() int64 { return auditSvc.DroppedRecords() })

	tracerProvider, shutdownTracing, err := telemetry.NewTracerProvider(telemetry.Config{
		Enabled:     cfg.Telemetry.Tracing,
		ServiceName: "securflow",
		Version:     Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
		PrettyPrint: cfg.Telemetry.PrettyPrint,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var db *gorm.DB
	if cfg.UsesDatabase() {
		db, err = database.Open(ctx, database.Config{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: config.Duration(cfg.Database.ConnMaxLifetime),
			LogQueries:      cfg.Database.LogQueries,
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = database.Close(db) }()
	}

	var auditStore interface {
		audit.Store
		audit.QueryStore
	}
	switch cfg.Audit.Output {
	case "database":
		auditStore = auditstore.New(db, logger)
	case "file":
		auditStore, err = auditfile.Open(auditfile.Config{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			RecentSize:    cfg.Audit.BufferSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit directory: %w", err)
		}
	default:
		auditStore = memory.NewAuditStore(os.Stdout, cfg.Audit.BufferSize)
	}
	defer func() { _ = auditStore.Close() }()
	auditSvc = service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
		service.WithRecordObserver(metrics.ObserveAuditRecord),
	)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	publisher, inbox, closePublisher := buildPublisher(cfg, db, logger)
	defer closePublisher()

	admission := ratelimit.NewAdmissionController(st.windows, ratelimit.Config{
		Limit:         cfg.Admission.Limit,
		Window:        config.Duration(cfg.Admission.Window),
		MaxWait:       config.Duration(cfg.Admission.MaxWait),
		RetryInterval: config.Duration(cfg.Admission.RetryInterval),
		MaxRetryAfter: config.Duration(cfg.Admission.MaxRetryAfter),
	}, logger, ratelimit.WithDecisionObserver(metrics.ObserveAdmission))

	upstream := ajax.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey,
		ajax.WithTimeout(config.Duration(cfg.Upstream.Timeout)),
		ajax.WithAdmission(admission),
		ajax.WithLogger(logger),
		ajax.WithCallObserver(metrics.ObserveUpstreamCall),
		ajax.WithTracerProvider(tracerProvider),
	)

	sessions := session.NewService(st.sessions, upstream, session.Config{
		SafetyMargin: config.Duration(cfg.Session.ExpiryMargin),
		RefreshTTL:   config.Duration(cfg.Session.RefreshTTL),
	}, logger, session.WithRefreshObserver(metrics.ObserveSessionRefresh))

	responses := cache.New(st.cache, logger, cache.WithLookupObserver(metrics.ObserveCacheLookup))

	guard, err := identity.NewGuard(identity.Config{
		Secret:     []byte(cfg.Identity.Secret),
		Issuer:     cfg.Identity.Issuer,
		AccessTTL:  config.Duration(cfg.Identity.AccessTTL),
		RefreshTTL: config.Duration(cfg.Identity.RefreshTTL),
	}, st.revocations,
		identity.WithAuditRecorder(auditSvc),
		identity.WithNotifier(publisher),
		identity.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create token guard: %w", err)
	}
	lockout := identity.NewLoginGuard(st.attempts, identity.LockoutConfig{
		MaxFailures:     cfg.Lockout.MaxFailures,
		FailureWindow:   config.Duration(cfg.Lockout.FailureWindow),
		LockoutDuration: config.Duration(cfg.Lockout.Duration),
	}, auditSvc, logger)

	gateway := service.NewGatewayClient(upstream, sessions, logger)
	hubs := service.NewHubService(gateway, responses, service.CacheTTLs{
		Hubs:    config.Duration(cfg.Cache.Hubs),
		Hub:     config.Duration(cfg.Cache.Hub),
		Devices: config.Duration(cfg.Cache.Devices),
		Device:  config.Duration(cfg.Cache.Device),
		Rooms:   config.Duration(cfg.Cache.Rooms),
		Groups:  config.Duration(cfg.Cache.Groups),
	}, auditSvc, logger)
	authn := service.NewAuthService(sessions, guard, lockout, auditSvc, logger)

	keys, err := operatorKeys(cfg.Operators)
	if err != nil {
		return err
	}
	logger.Debug("operator keys loaded", "count", len(keys))

	health := http.NewHealthChecker(Version, auditSvc)
	health.AddCheck("store", st.ping)
	if db != nil {
		health.AddCheck("database", func(ctx context.Context) error { return database.Ping(ctx, db) })
	}

	trusted, err := http.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid server.trusted_proxies: %w", err)
	}

	opts := []http.Option{
		http.WithTrustedProxies(trusted),
		http.WithOperators(auth.NewKeyVerifier(memory.NewKeyStore(keys...)), auditSvc),
		http.WithAdmissionStatus(admission),
		http.WithCacheStats(responses),
		http.WithAuditQuery(auditStore),
		http.WithHealth(health),
		http.WithMetrics(metrics, reg),
		http.WithLogger(logger),
	}
	if inbox != nil {
		opts = append(opts, http.WithInbox(inbox))
	}
	api := http.NewAPI(authn, hubs, gateway, guard, opts...)

	server := http.NewServer(api.Handler(),
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile),
		http.WithTimeouts(
			config.Duration(cfg.Server.ReadTimeout),
			config.Duration(cfg.Server.WriteTimeout),
			config.Duration(cfg.Server.ShutdownTimeout),
		),
		http.WithServerLogger(logger),
	)
	logger.Info("securflow starting",
		"addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.BaseURL,
		"audit", cfg.Audit.Output,
		"notify", cfg.Notify.Driver,
		"version", Version,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildPublisher returns the configured notification publisher, the inbox
// when notifications are persisted, and a cleanup func.
func buildPublisher(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (notification.Publisher, http.Inbox, func()) {
	logPub := notify.NewLogPublisher(logger)
	switch cfg.Notify.Driver {
	case "database":
		store := notify.NewStore(db)
		return notify.Fanout{store, logPub}, store, func() {}
	case "kafka":
		kp := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers:      cfg.Notify.Kafka.Brokers,
			Topic:        cfg.Notify.Kafka.Topic,
			WriteTimeout: config.Duration(cfg.Notify.Kafka.WriteTimeout),
		})
		return notify.Fanout{kp, logPub}, nil, func() {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka publisher close failed", "error", err)
			}
		}
	default:
		return logPub, nil, func() {}
	}
}

// operatorKeys converts validated config entries to operator keys.
func operatorKeys(ops []config.OperatorConfig) ([]*auth.OperatorKey, error) {
	now := time.Now().UTC()
	keys := make([]*auth.OperatorKey, 0, len(ops))
	for _, op := range ops {
		roles := make([]auth.Role, 0, len(op.Roles))
		for _, r := range op.Roles {
			roles = append(roles, auth.Role(r))
		}
		key := &auth.OperatorKey{
			Hash:      op.KeyHash,
			Operator:  auth.Operator{Name: op.Name, Roles: roles},
			CreatedAt: now,
		}
		if op.ExpiresAt != "" {
			exp, err := time.Parse(time.RFC3339, op.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("operator %q: invalid expires_at: %w", op.Name, err)
			}
			exp = exp.UTC()
			key.ExpiresAt = &exp
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
