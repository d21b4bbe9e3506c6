// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/nacos"
	"loyaltyhub/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	Router chi.Router
	Config *Config
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己的 HTTP 路由
	// Closers 在 HTTP 服务器关闭之后按逆序执行（Kafka writer、DB 连接等）
	Closers []func(ctx context.Context) error
}

// StartService 封装了通用启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.Init(tracing.Options{
		ServiceName: info.ServiceName,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Infra.Jaeger.Endpoint,
		SampleRatio: cfg.Infra.Jaeger.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 可选的 Nacos 注册
	var (
		registrar *nacos.Registrar
		ip        string
	)
	if cfg.Infra.Nacos.Enabled {
		registrar, err = nacos.NewRegistrar(nacos.Options{
			Addrs:     cfg.Infra.Nacos.Addrs,
			Namespace: cfg.Infra.Nacos.Namespace,
			Group:     cfg.Infra.Nacos.Group,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		if ip, err = nacos.OutboundIP(); err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err = registrar.Register(info.ServiceName, ip, info.Port, map[string]string{"env": cfg.App.Env}); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. 路由与通用中间件
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Router: r, Config: cfg})
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 4. 优雅关停
	<-SignalContext().Done()
	log.Info().Str("service", info.ServiceName).Msg("shutting down service...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// a. 先从注册中心摘除，避免新流量进来
	if registrar != nil {
		if err := registrar.Deregister(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("error deregistering from nacos")
		}
		registrar.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}

	// c. 资源逆序释放
	for i := len(info.Closers) - 1; i >= 0; i-- {
		if err := info.Closers[i](ctx); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}

	// d. 最后关闭 Tracer Provider，确保缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer provider")
	}

	log.Info().Str("service", info.ServiceName).Msg("gracefully shut down")
}

// SignalContext 在收到 SIGINT / SIGTERM 时取消
func SignalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// requestLogger 把 request_id 写入 ctx 里的 logger，并记录访问日志
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.With(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
