// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stderr).With().Timestamp().Logger()

func init() {
	zerolog.DefaultContextLogger = &base
}

// Init 按服务名和级别初始化全局 logger
// pretty=true 时使用控制台格式，便于本地开发
func Init(serviceName, level string, pretty bool) {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	base = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
	zerolog.DefaultContextLogger = &base
}

// L 返回全局 logger，用于没有请求上下文的地方（启动、关停）
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回带有链路信息的 logger
// 如果 ctx 里有 span，会自动附加 trace_id / span_id
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	withTrace := l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &withTrace
}

// With 把附加字段写入 ctx 中的 logger，后续 Ctx(ctx) 都会带上
func With(ctx context.Context, key, value string) context.Context {
	l := zerolog.Ctx(ctx).With().Str(key, value).Logger()
	return l.WithContext(ctx)
}
