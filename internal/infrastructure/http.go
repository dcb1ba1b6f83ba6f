package infrastructure

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/market-stream/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	defaultHTTPPort          = "8080"
	defaultReadTimeout       = 5 * time.Second
	defaultReadHeaderTimeout = 2 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultMaxHeaderBytes    = 1 << 20

	requestIDHeader = "X-Request-Id"
)

type requestIDKey struct{}

// HTTPServer carries the websocket gateway, the admin API and the health
// probes on one listener.
type HTTPServer struct {
	server *http.Server
}

type HTTPServerConfig struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultHTTPServerConfig listens on port.stream_gateway. The write timeout
// only covers plain requests; upgraded websockets manage their own deadlines.
func DefaultHTTPServerConfig() HTTPServerConfig {
	port := defaultHTTPPort
	if config.Env != nil {
		if p := strings.TrimPrefix(strings.TrimSpace(config.Env.Port["stream_gateway"]), ":"); p != "" {
			port = p
		}
	}

	return HTTPServerConfig{
		Addr:              ":" + port,
		ReadTimeout:       defaultReadTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

func NewHTTPServerWithConfig(cfg HTTPServerConfig, handler http.Handler) *HTTPServer {
	if cfg.Addr == "" {
		cfg.Addr = ":" + defaultHTTPPort
	}

	return &HTTPServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           withRequestLogging(handler),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    defaultMaxHeaderBytes,
		},
	}
}

func (h *HTTPServer) Start() error {
	logrus.WithField("addr", h.server.Addr).Info("http server starting")
	err := h.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting requests. Hijacked websocket connections are not
// tracked by net/http and must be closed by the gateway.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// Readiness flips /readyz between 200 and 503. The zero value is not ready.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) SetReady(ready bool) {
	r.ready.Store(ready)
}

func (r *Readiness) Ready() bool {
	return r.ready.Load()
}

// RegisterHealthRoutes adds /healthz and /readyz. A nil readiness is always ready.
func RegisterHealthRoutes(mux *http.ServeMux, readiness *Readiness) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if readiness != nil && !readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

// RequestID returns the id assigned to the request by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestLogging tags every request with an id, turns handler panics into
// 500s and logs the outcome. A websocket request is logged once it upgrades,
// not when the connection ends.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := logrus.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": clientIP(r),
		})
		writer := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		writer.onUpgrade = func() {
			logger.WithField("duration_ms", time.Since(started).Milliseconds()).Info("websocket upgraded")
		}

		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithField("panic", recovered).Error("panic recovered in http handler")
				if !writer.hijacked {
					writer.WriteHeader(http.StatusInternalServerError)
					_, _ = writer.Write([]byte("internal server error"))
				}
				return
			}
			if writer.hijacked {
				return
			}

			entry := logger.WithFields(logrus.Fields{
				"status":      writer.statusCode,
				"duration_ms": time.Since(started).Milliseconds(),
			})
			if strings.HasPrefix(r.URL.Path, "/healthz") || strings.HasPrefix(r.URL.Path, "/readyz") {
				entry.Debug("http request handled")
				return
			}
			entry.Info("http request handled")
		}()

		next.ServeHTTP(writer, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
	onUpgrade  func()
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket upgrades pass through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}

	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, err
	}
	r.hijacked = true
	r.statusCode = http.StatusSwitchingProtocols
	r.onUpgrade()
	return conn, rw, nil
}

func clientIP(r *http.Request) string {
	if forwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
