package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"boxrate/internal/db"
	"boxrate/internal/metrics"
	"boxrate/internal/packing"
	"boxrate/internal/rate"
)

// ItemLookup expands a cart of variant quantities into packable items.
type ItemLookup interface {
	BuildItemList(ctx context.Context, cart map[string]int) ([]packing.Item, error)
}

// EstimateStore persists quotes for later retrieval.
type EstimateStore interface {
	Save(ctx context.Context, e *db.Estimate) error
	Get(ctx context.Context, id uuid.UUID) (*db.Estimate, error)
}

type Options struct {
	Catalog        []packing.Box
	Engine         *packing.Engine
	Gateway        rate.Gateway
	Normalizer     *rate.Normalizer
	Lookup         ItemLookup
	Store          EstimateStore // optional
	FallbackBox    packing.Box
	FallbackWeight float64
	MaxItems       int // total units per cart; DefaultMaxItems when zero
	WebhookSecret  string
	Currency       string
	Logger         *zap.Logger
}

type Server struct {
	catalog        []packing.Box
	engine         *packing.Engine
	gateway        rate.Gateway
	normalizer     *rate.Normalizer
	lookup         ItemLookup
	store          EstimateStore
	fallbackBox    packing.Box
	fallbackWeight float64
	maxItems       int
	webhookSecret  string
	currency       string
	log            *zap.Logger
	now            func() time.Time
}

func New(opts Options) http.Handler {
	return newServer(opts).routes()
}

func newServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = packing.NewEngine(nil, packing.DefaultDunnageRatio, log)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = rate.NewNormalizer(rate.DefaultConfig(), log)
	}
	if opts.Gateway == nil {
		opts.Gateway = rate.NewStatic(opts.Normalizer)
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	return &Server{
		catalog:        opts.Catalog,
		engine:         opts.Engine,
		gateway:        opts.Gateway,
		normalizer:     opts.Normalizer,
		lookup:         opts.Lookup,
		store:          opts.Store,
		fallbackBox:    opts.FallbackBox,
		fallbackWeight: opts.FallbackWeight,
		maxItems:       opts.MaxItems,
		webhookSecret:  opts.WebhookSecret,
		currency:       opts.Currency,
		log:            log,
		now:            time.Now,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/estimate-shipping", s.handleEstimateShipping)
	r.Post("/assign-box-and-shipstation", s.handleAssignBox)
	r.Post("/carrier-service", s.handleCarrierService)
	r.Get("/estimates/{id}", s.handleGetEstimate)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestIDMiddleware ensures X-Request-ID is set on the response.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func requestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// accessLog logs each request once it completes and records its duration
// under the matched route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(elapsed.Seconds())

		s.log.Info("http request",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", elapsed),
		)
	})
}
