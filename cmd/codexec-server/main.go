// Command codexec-server accepts snippets over HTTP and runs each one in a
// fresh sandbox-init process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"codexec/internal/common/auth"
	"codexec/internal/common/http/middleware"
	"codexec/internal/common/ratelimit"
	"codexec/internal/execution/controller"
	"codexec/internal/execution/service"
	"codexec/internal/metrics"
	"codexec/internal/sandbox/engine"
	"codexec/internal/sandbox/observer"
	"codexec/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConfigPath = "configs/codexec.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env-file", defaultEnvFile, "Optional .env file with environment overrides")
	flag.Parse()

	configRequired := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configRequired = true
		}
	})

	appCfg, err := loadAppConfig(*configPath, configRequired, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	appCfg.Sandbox.HelperPath = resolveHelperPath(appCfg.Sandbox.HelperPath)

	sandbox, err := engine.NewEngine(appCfg.Sandbox)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}

	registry := metrics.NewRegistry()
	execMetrics, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("init metrics failed: %w", err)
	}

	execService, err := service.NewExecuteService(service.Config{
		Engine:         sandbox,
		Recorder:       observer.Multi{observer.Log{}, execMetrics},
		MaxConcurrent:  appCfg.Execution.MaxConcurrent,
		QueueTimeout:   appCfg.Execution.QueueTimeout,
		RequestTimeout: appCfg.Execution.RequestTimeout,
		MaxCodeBytes:   appCfg.Execution.MaxCodeBytes,
	})
	if err != nil {
		return fmt.Errorf("init execute service failed: %w", err)
	}

	var authenticator *auth.Authenticator
	if appCfg.Auth.Enabled {
		authenticator, err = auth.NewAuthenticator(appCfg.Auth.Secret, appCfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("init auth failed: %w", err)
		}
	}

	limiter, limiterCloser, err := ratelimit.New(appCfg.RateLimit, &appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init rate limiter failed: %w", err)
	}
	defer func() { _ = limiterCloser.Close() }()

	ctrl := controller.NewExecuteController(execService, appCfg.Server.MaxRequestBytes)
	servers := []*http.Server{buildHTTPServer(appCfg, ctrl, authenticator, limiter)}
	if appCfg.Metrics.Enabled {
		servers = append(servers, buildMetricsServer(appCfg, execMetrics))
	}

	logger.Info(ctx, "codexec server configured",
		zap.String("helper", appCfg.Sandbox.HelperPath),
		zap.Int64("max_concurrent", appCfg.Execution.MaxConcurrent),
		zap.Duration("cpu_time", appCfg.Sandbox.Limits.CPUTime),
		zap.Duration("wall_timeout", appCfg.Sandbox.WallTimeout),
		zap.Uint64("memory_bytes", appCfg.Sandbox.Limits.AddressSpaceBytes),
		zap.Bool("auth", authenticator != nil),
		zap.Bool("rate_limit", limiter != nil),
	)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(sigCtx, appCfg.Server.ShutdownTimeout, servers...)
}

// serve runs every server until ctx ends or one of them fails, then shuts
// all of them down.
func serve(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv // go 1.21 loop semantics: each goroutine needs its own copy
		g.Go(func() error {
			logger.Info(gctx, "http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down http servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func buildHTTPServer(cfg *AppConfig, ctrl *controller.ExecuteController, authenticator *auth.Authenticator, limiter ratelimit.Limiter) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(middleware.AccessLogMiddleware())

	ctrl.RegisterRoutes(router,
		middleware.AuthMiddleware(authenticator, cfg.Auth.Roles),
		middleware.RateLimitMiddleware(limiter, "execute"),
	)

	// WriteTimeout must outlast the longest execution.
	writeTimeout := cfg.Server.WriteTimeout
	if minimum := cfg.Execution.RequestTimeout + cfg.Execution.QueueTimeout + cfg.Server.ReadTimeout; writeTimeout < minimum {
		writeTimeout = minimum
	}
	return &http.Server{
		Addr:           cfg.Server.addr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}

func buildMetricsServer(cfg *AppConfig, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return &http.Server{
		Addr:              cfg.Metrics.addr(cfg.Server.Host),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
}

// resolveHelperPath prefers a helper installed next to this binary when the
// configured path is a bare name.
func resolveHelperPath(path string) string {
	if strings.ContainsRune(path, os.PathSeparator) {
		return path
	}
	self, err := os.Executable()
	if err != nil {
		return path
	}
	candidate := filepath.Join(filepath.Dir(self), path)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return path
}
