package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/kyronex/api/handlers"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/types"
)

// Middleware 标准 net/http 中间件
type Middleware func(http.Handler) http.Handler

// Chain 第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type requestIDKey struct{}

// RequestIDFromContext 没有时返回空串
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// =============================================================================
// 📝 statusRecorder
// =============================================================================

// statusRecorder 记录状态码和字节数。SSE 需要 Flush，WebSocket 升级需要 Hijack。
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.statusCode = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// =============================================================================
// 🛡️ Recovery / RequestID / SecurityHeaders
// =============================================================================

// Recovery 捕获 handler panic，返回 500 信封。http.ErrAbortHandler 原样抛出。
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic recovered",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				handlers.WriteError(w, types.NewError(types.ErrInternalError, "erreur interne"), nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 沿用客户端的 X-Request-ID（不超过 128 字符），否则生成 req-<uuid>
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// contentSecurityPolicy 前端用内联脚本、blob 音频和同源 WebSocket
const contentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: blob:; media-src 'self' blob:; connect-src 'self' ws: wss:"

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Permissions-Policy", "microphone=(self), camera=()"},
}

// SecurityHeaders 给每个响应加固定安全头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 📊 Observe：追踪 + 指标 + 访问日志
// =============================================================================

// Observe 为每个请求开一个 server span（继承上游 traceparent），
// 结束后记录 HTTP 指标和一条访问日志。静态资源、音频与探针不建 span，日志降为 Debug。
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	tracer := otel.Tracer("kyronex/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := normalizePath(r.URL.Path)
			asset := isAssetPath(r.URL.Path)
			rec := newStatusRecorder(w)

			var span trace.Span
			if !asset {
				ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(ctx, r.Method+" "+route,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
						semconv.HTTPRoute(route),
					),
				)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			if span != nil {
				span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
				if rec.statusCode >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
				}
				span.End()
			}
			collector.RecordHTTPRequest(r.Method, route, rec.statusCode, elapsed)

			level := zap.InfoLevel
			if asset {
				level = zap.DebugLevel
			}
			if ce := logger.Check(level, "request"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rec.statusCode),
					zap.Int64("bytes", rec.bytesWritten),
					zap.Duration("duration", elapsed),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())),
				)
			}
		})
	}
}

// idSegment UUID、8 位以上十六进制或纯数字的路径段
var idSegment = regexp.MustCompile(`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`)

// normalizePath 把路径折叠成有限的指标标签
//
//	/audio/1a2b3c4d_kitt.wav -> /audio/:name
//	/static/js/app.js        -> /static/*
//	/wp-admin/x.php          -> other
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/audio/"):
		return "/audio/:name"
	case strings.HasPrefix(path, "/static/"):
		return "/static/*"
	case path == "/" || isProbePath(path):
		return path
	case !strings.HasPrefix(path, "/api/"):
		return "other"
	}

	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if seg != "" && idSegment.MatchString(seg) {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}

func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/ready", "/readyz", "/version", "/metrics":
		return true
	}
	return false
}

func isAssetPath(path string) bool {
	return strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, "/audio/") || isProbePath(path)
}

// =============================================================================
// 🔐 APIKeyAuth / RateLimiter / CORS
// =============================================================================

// APIKeyAuth validKeys 为空时不鉴权。只检查 protectedPrefixes 下的路径，
// skipPaths 精确豁免。浏览器无法给 WebSocket 握手加请求头，升级请求也接受 ?api_key=。
func APIKeyAuth(validKeys, protectedPrefixes, skipPaths []string, logger *zap.Logger) Middleware {
	keys := make(map[string]bool, len(validKeys))
	for _, k := range validKeys {
		if k != "" {
			keys[k] = true
		}
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	protected := func(path string) bool {
		if skip[path] {
			return false
		}
		for _, prefix := range protectedPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !protected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				key = r.URL.Query().Get("api_key")
			}
			if !keys[key] {
				logger.Debug("missing or invalid API key",
					zap.String("path", r.URL.Path), zap.String("remote_addr", r.RemoteAddr))
				handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiter 每个对端 IP 一个令牌桶，3 分钟不活跃即回收
type ipLimiter struct {
	rps   rate.Limit
	burst int

	mu   sync.Mutex
	seen map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 3 * time.Minute

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	e, ok := l.seen[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.seen[ip] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (l *ipLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.seen {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.seen, ip)
		}
	}
}

// RateLimiter 按 IP 限流；静态资源、音频与探针不计数。ctx 结束时停止回收协程。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		l := &ipLimiter{rps: rate.Limit(rps), burst: burst, seen: make(map[string]*ipEntry)}
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					l.sweep(now)
				}
			}
		}()

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isAssetPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ip := handlers.ClientIP(r)
			if !l.allow(ip, time.Now()) {
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allowedOrigins 为空时不加任何头；含 "*" 时回显请求的 Origin
func CORS(allowedOrigins []string) Middleware {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (origins["*"] || origins[origin])
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Device-ID, Authorization")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions && origin != "" {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
