package main

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/gorilla/mux"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/rs/zerolog"
    "golang.org/x/time/rate"
)

var (
    httpRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts {
            Namespace: "relay",
            Subsystem: "http",
            Name: "requests_total",
            Help: "HTTP requests by route and status.",
        },
        []string{"route", "status"},
    )
    httpDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts {
            Namespace: "relay",
            Subsystem: "http",
            Name: "request_duration_seconds",
            Help: "Time spent handling HTTP requests, WebSockets excluded.",
            Buckets: prometheus.DefBuckets,
        },
        []string{"route"},
    )
)

func init() {
    prometheus.MustRegister(httpRequests, httpDuration)
}

// statusRecorder keep track of the status sent to the client.
type statusRecorder struct {
    http.ResponseWriter
    status int
    hijacked bool
}

func (r *statusRecorder) WriteHeader(status int) {
    r.status = status
    r.ResponseWriter.WriteHeader(status)
}

// Hijack the underlying connection, so WebSockets may be upgraded
// through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    hj, ok := r.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("response doesn't support hijacking")
    }

    r.hijacked = true
    r.status = http.StatusSwitchingProtocols
    return hj.Hijack()
}

// routeName retrieve the template of the route that matched `req`.
func routeName(req *http.Request) string {
    if route := mux.CurrentRoute(req); route != nil {
        if tpl, err := route.GetPathTemplate(); err == nil {
            return tpl
        }
    }
    return "unknown"
}

// logRequests log and measure every request.
func logRequests(logger zerolog.Logger) mux.MiddlewareFunc {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
            start := time.Now()
            rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

            next.ServeHTTP(rec, req)

            route := routeName(req)
            elapsed := time.Since(start)
            httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
            if !rec.hijacked {
                httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
            }

            logger.Info().
                    Str("remote", req.RemoteAddr).
                    Str("method", req.Method).
                    Str("path", req.URL.Path).
                    Int("status", rec.status).
                    Dur("duration", elapsed).
                    Msg("Request handled")
        })
    }
}

// limiterPool keeps a token bucket per sender.
type limiterPool struct {
    mu sync.Mutex
    m map[string]*rate.Limiter
    rps float64
    burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
    if burst <= 0 {
        burst = 1
    }

    return &limiterPool {
        m: make(map[string]*rate.Limiter),
        rps: rps,
        burst: burst,
    }
}

// Allow check whether `key` may do anything right now. Always true if
// the pool is disabled.
func (p *limiterPool) Allow(key string) bool {
    if p == nil || p.rps <= 0 {
        return true
    }

    p.mu.Lock()
    l, ok := p.m[key]
    if !ok {
        l = rate.NewLimiter(rate.Limit(p.rps), p.burst)
        p.m[key] = l
    }
    p.mu.Unlock()

    return l.Allow()
}
