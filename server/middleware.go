package server

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

const (
	headerRequestID  = "X-Request-ID"
	compressMinBytes = 512
)

type middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

func chain(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func recovery(logger types.Logger, metrics types.MetricsManager) middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					buf := make([]byte, 16384)
					n := runtime.Stack(buf, false)

					logger.Error("Recovered from panic",
						zap.Any("panic", rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()),
						zap.ByteString("request_id", ctx.Response.Header.Peek(headerRequestID)),
						zap.String("stack", string(buf[:n])))
					metrics.Counter("http_panics_total", nil).Inc()

					writeError(ctx, types.NewError(types.KindInternal, "internal server error"))
				}
			}()

			next(ctx)
		}
	}
}

// requestID echoes the caller's X-Request-ID or assigns a new one.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		ctx.SetUserValue("request_id", id)
		ctx.Response.Header.Set(headerRequestID, id)

		next(ctx)
	}
}

func logging(logger types.Logger, metrics types.MetricsManager) middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			duration := time.Since(start)
			status := ctx.Response.StatusCode()

			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("remote_addr", remoteAddr(ctx)),
				zap.ByteString("request_id", ctx.Response.Header.Peek(headerRequestID)),
			}

			switch {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Debug("Request completed", fields...)
			}

			labels := map[string]string{"method": string(ctx.Method()), "status": strconv.Itoa(status)}
			metrics.Counter("http_requests_total", labels).Inc()
			metrics.Histogram("http_request_duration_seconds",
				[]float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
				map[string]string{"method": string(ctx.Method())},
			).Observe(duration.Seconds())
		}
	}
}

var brotliWriters = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

var compressibleTypes = []string{"application/json", "image/svg+xml", "text/"}

// compression brotli-encodes textual responses when the client accepts br.
// Raster images are already compressed and pass through untouched.
func compression(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)

		if !bytes.Contains(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding), []byte("br")) {
			return
		}
		if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
			return
		}

		body := ctx.Response.Body()
		if len(body) < compressMinBytes || !compressible(string(ctx.Response.Header.ContentType())) {
			return
		}

		var buf bytes.Buffer
		w := brotliWriters.Get().(*brotli.Writer)
		w.Reset(&buf)
		_, err := w.Write(body)
		if err == nil {
			err = w.Close()
		}
		brotliWriters.Put(w)
		if err != nil {
			return
		}

		ctx.Response.SetBodyRaw(buf.Bytes())
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "br")
		ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
	}
}

func compressible(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	for _, t := range compressibleTypes {
		if strings.HasSuffix(t, "/") && strings.HasPrefix(contentType, t) {
			return true
		}
		if t == contentType {
			return true
		}
	}
	return false
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return forwarded
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}
