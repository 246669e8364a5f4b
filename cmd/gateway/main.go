package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oropendola/gateway/internal/admission"
	"github.com/oropendola/gateway/internal/backends"
	"github.com/oropendola/gateway/internal/cache"
	"github.com/oropendola/gateway/internal/config"
	"github.com/oropendola/gateway/internal/credentials"
	"github.com/oropendola/gateway/internal/db"
	"github.com/oropendola/gateway/internal/httpapi"
	"github.com/oropendola/gateway/internal/router"
	"github.com/oropendola/gateway/internal/smart"
	"github.com/oropendola/gateway/internal/usage"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("gateway failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, wires the engine, and serves until a
// shutdown signal arrives.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 8318, "server port")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, errLoad := config.LoadFromEnv()
	if errLoad != nil {
		return errLoad
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)

	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	redisCfg, errRedis := config.LoadRedisConfig(configPath)
	if errRedis != nil {
		return errRedis
	}
	var redisClient *redis.Client
	if redisCfg.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		defer func() { _ = redisClient.Close() }()
	} else {
		log.Warn("redis not configured, quota and rate counters are per-instance")
	}

	routerCfg, errRouter := config.LoadRouterConfig(configPath)
	if errRouter != nil {
		return errRouter
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheMgr := cache.NewManager(redisClient, redisCfg.Prefix, nil)
	resolver := credentials.NewResolver(conn, cacheMgr, routerCfg.CredentialCacheTTL, nil)
	admitter := admission.NewController(cacheMgr, nil, admission.NewGormWriteBack(conn))

	registry := backends.NewRegistry(conn, nil)
	if errRefresh := registry.Refresh(ctx); errRefresh != nil {
		return errRefresh
	}
	go registry.RunRefresher(ctx, routerCfg.RegistryRefresh)

	checker := backends.NewHealthChecker(registry, nil)
	go checker.Run(ctx, routerCfg.HealthCheckInterval)

	notifier := usage.NewBudgetNotifier(conn, usage.LogNotifier{}, nil)
	sink := usage.NewGormSink(conn, notifier)
	affinity := smart.NewAffinity(cacheMgr)

	engine := router.NewRouter(resolver, admitter, registry, affinity, router.NewHTTPCaller(), sink, nil)
	server := httpapi.NewServer(engine, registry)
	return server.Run(ctx, *port)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
