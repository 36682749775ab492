// Package app wires configuration, adapters and services into a runnable
// process. Everything is owned by the App value; there is no package
// level state.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	_ "modernc.org/sqlite"

	"github.com/rl1809/hive-market/internal/adapter/handler"
	"github.com/rl1809/hive-market/internal/adapter/messaging"
	"github.com/rl1809/hive-market/internal/adapter/payment"
	"github.com/rl1809/hive-market/internal/adapter/storage"
	"github.com/rl1809/hive-market/internal/config"
	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/eventbus"
	"github.com/rl1809/hive-market/internal/core/service"
	"github.com/rl1809/hive-market/internal/metrics"
	"github.com/rl1809/hive-market/internal/port"
)

type repositories interface {
	port.CatalogRepository
	port.StockRepository
	port.CartRepository
	port.OrderRepository
	port.AccountRepository
}

type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	OrderBus   *eventbus.Bus[domain.Order]
	CatalogBus *eventbus.Bus[domain.CatalogItem]
	Services   handler.Services
	Payments   port.PaymentGateway

	http *handler.HTTPHandler
	grpc *handler.GRPCHandler

	runners []func(context.Context) error
	closers []func() error
}

// New builds the object graph described by cfg. Close releases what it
// opened even when Run is never called.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.OrderBus = eventbus.New[domain.Order]("orders", eventbus.WithLogger(logger), eventbus.WithMetrics(a.metrics))
	a.CatalogBus = eventbus.New[domain.CatalogItem]("catalog", eventbus.WithLogger(logger), eventbus.WithMetrics(a.metrics))

	repos, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	var (
		stock  port.StockRepository = repos
		locker port.Locker          = storage.NewMemoryLocker()
	)
	if cfg.Redis.Enabled {
		client, err := a.openRedis(ctx)
		if err != nil {
			return nil, err
		}
		stock = storage.NewRedisAdapter(client, repos)
		locker = storage.NewRedisLocker(client, cfg.Redis.LockTTL, cfg.Redis.LockRetry)
	}

	if a.Payments, err = a.paymentGateway(); err != nil {
		return nil, err
	}

	inventory := service.NewInventoryService(stock, a.CatalogBus, logger, a.metrics)
	carts := service.NewCartService(repos, repos, locker, logger)
	a.Services = handler.Services{
		Accounts: service.NewAccountService(repos, logger),
		Catalog:  service.NewCatalogService(repos, inventory, a.CatalogBus, logger),
		Carts:    carts,
		Orders: service.NewOrderService(service.OrderServiceConfig{
			Orders:    repos,
			Carts:     carts,
			Inventory: inventory,
			Payments:  a.Payments,
			Locker:    locker,
			Bus:       a.OrderBus,
			Currency:  cfg.Payment.Currency,
			Logger:    logger,
			Metrics:   a.metrics,
		}),
	}

	a.startRelays()

	a.http = handler.NewHTTPHandler(a.Services, logger, a.metrics, cfg.HTTP.AccountHeader)
	a.grpc = handler.NewGRPCHandler(a.Services, a.OrderBus, a.CatalogBus, cfg.GRPC.WatchBuffer, logger)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (repositories, error) {
	cfg := a.cfg.Storage
	var (
		driver  string
		dialect storage.Dialect
	)
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryAdapter(), nil
	case "mysql":
		driver, dialect = "mysql", storage.DialectMySQL
	case "sqlite":
		driver, dialect = "sqlite", storage.DialectSQLite
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	a.closers = append(a.closers, db.Close)

	if dialect == storage.DialectSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if cfg.Migrate {
		if err := storage.Migrate(ctx, db, dialect); err != nil {
			return nil, err
		}
	}
	a.logger.Info("connected to database", zap.String("backend", cfg.Backend))
	return storage.NewSQLAdapter(db, dialect), nil
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	cfg := a.cfg.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	return client, nil
}

func (a *App) paymentGateway() (port.PaymentGateway, error) {
	cfg := a.cfg.Payment
	switch cfg.Mode {
	case "http":
		return payment.NewHTTPGateway(payment.HTTPGatewayConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}, a.logger), nil
	case "simulator":
		limit, err := decimal.NewFromString(cfg.SimulatorLimit)
		if err != nil {
			return nil, fmt.Errorf("payment.simulator_limit: %w", err)
		}
		return payment.NewSimulator(limit, cfg.SimulatorLatency), nil
	default:
		return nil, fmt.Errorf("unknown payment mode %q", cfg.Mode)
	}
}

// startRelays subscribes Kafka relays to both buses when brokers are set.
func (a *App) startRelays() {
	brokers := messaging.ParseBrokers(a.cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return
	}
	orders := messaging.NewRelay[domain.Order](messaging.NewWriter(brokers, a.cfg.Kafka.OrderTopic), a.cfg.Kafka.Buffer, a.logger)
	a.OrderBus.Subscribe(orders)
	catalog := messaging.NewRelay[domain.CatalogItem](messaging.NewWriter(brokers, a.cfg.Kafka.CatalogTopic), a.cfg.Kafka.Buffer, a.logger)
	a.CatalogBus.Subscribe(catalog)

	a.runners = append(a.runners, orders.Run, catalog.Run)
	a.logger.Info("kafka relay enabled", zap.Strings("brokers", brokers))
}

// HTTPHandler returns the gin engine serving the REST API.
func (a *App) HTTPHandler() http.Handler {
	return a.http.Router()
}

// RegisterGRPC adds the order service to s.
func (a *App) RegisterGRPC(s grpc.ServiceRegistrar) {
	handler.RegisterOrderServiceServer(s, a.grpc)
}

// Run serves HTTP and gRPC and runs the relays until ctx is canceled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.HTTPHandler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(a.logUnary))
	a.RegisterGRPC(grpcServer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	for _, run := range a.runners {
		g.Go(func() error { return run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		// watch streams only end when their clients leave
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return err
	})
	return g.Wait()
}

func (a *App) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	a.logger.Debug("grpc call",
		zap.String("method", info.FullMethod),
		zap.Duration("latency", time.Since(start)),
		zap.Error(err),
	)
	return resp, err
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
