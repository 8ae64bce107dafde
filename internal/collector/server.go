package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxBody bounds a POST beacon body.
	DefaultMaxBody = 64 * 1024

	// DefaultRate and DefaultBurst are the per-client beacon allowance.
	DefaultRate  = rate.Limit(10)
	DefaultBurst = 20

	// DefaultMaxStreams bounds live stream connections.
	DefaultMaxStreams = 100

	// ClientIdle is how long an idle client keeps its rate-limit state.
	ClientIdle = 10 * time.Minute
)

// Transport labels.
const (
	TransportGet  = "get"
	TransportPost = "post"
)

// Server receives beacons over HTTP.
type Server struct {
	store      *Store
	hub        *Hub
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics
	limiter    *limiter
	now        func() time.Time
	maxBody    int64
	trustProxy bool
	origins    []string
	maxStreams int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRate sets the per-client beacon allowance. rate.Inf disables limiting.
func WithRate(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = newLimiter(limit, burst) }
}

// WithRegistry registers the collector metrics on reg and serves reg on
// /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMaxBody bounds POST bodies.
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithTrustProxy identifies clients by the first X-Forwarded-For address.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// WithAllowedOrigins restricts CORS and stream origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxStreams bounds live stream connections.
func WithMaxStreams(n int) Option {
	return func(s *Server) { s.maxStreams = n }
}

// NewServer creates a server that writes beacons to store.
func NewServer(store *Store, opts ...Option) *Server {
	s := &Server{
		store:      store,
		logger:     zap.NewNop(),
		limiter:    newLimiter(DefaultRate, DefaultBurst),
		now:        time.Now,
		maxBody:    DefaultMaxBody,
		maxStreams: DefaultMaxStreams,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registry)
	s.hub = NewHub(s.logger.Named("stream"), s.maxStreams, s.origins)
	s.hub.onCount = func(n int) { s.metrics.streams.Set(float64(n)) }
	return s
}

// Hub returns the live stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/beacon", s.handleBeacon)
	mux.HandleFunc("/api/beacons", s.handleRecent)
	mux.Handle("/stream", s.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Run streams beacons and prunes idle rate-limit state until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.hub.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(ClientIdle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := s.limiter.Prune(s.now().Add(-ClientIdle)); n > 0 {
					s.logger.Debug("pruned idle clients", zap.Int("count", n))
				}
			}
		}
	})
	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	s.cors(w, r)

	var transport string
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		transport = TransportGet
	case http.MethodPost:
		transport = TransportPost
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	default:
		s.metrics.rejected.WithLabelValues(ReasonMethod).Inc()
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
		return
	}

	client := s.clientKey(r)
	now := s.now()
	if !s.limiter.Allow(client, now) {
		s.metrics.rejected.WithLabelValues(ReasonRateLimited).Inc()
		s.logger.Debug("beacon rate limited", zap.String("client", client))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.reject(w, client, err)
		return
	}
	rec, err := Decode(r.Form)
	if err != nil {
		s.reject(w, client, err)
		return
	}
	rec.Received = now.UTC()
	rec.Client = client
	rec.Transport = transport

	records := []Record{rec}
	if err := s.store.Insert(r.Context(), records); err != nil {
		s.metrics.rejected.WithLabelValues(ReasonStore).Inc()
		s.logger.Error("failed to store beacon", zap.Error(err))
		http.Error(w, "Failed to store beacon", http.StatusInternalServerError)
		return
	}
	rec = records[0]

	s.metrics.received.WithLabelValues(transport, rec.Initiator).Inc()
	s.metrics.stored.Inc()
	s.metrics.size.Observe(float64(len(r.Form)))
	s.logger.Debug("beacon stored",
		zap.Int64("id", rec.ID),
		zap.String("transport", transport),
		zap.String("initiator", rec.Initiator),
		zap.String("url", rec.URL))

	s.hub.Publish(rec)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reject(w http.ResponseWriter, client string, err error) {
	s.metrics.rejected.WithLabelValues(ReasonBadRequest).Inc()
	s.logger.Debug("beacon rejected", zap.String("client", client), zap.Error(err))

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "beacon too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	q := Query{
		Initiator: r.URL.Query().Get("initiator"),
		PageID:    r.URL.Query().Get("pid"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		q.Since = time.UnixMilli(ms)
	}

	records, err := s.store.Recent(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to query beacons", zap.Error(err))
		http.Error(w, "Failed to query beacons", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// cors lets XHR beacons with credentials through from allowed origins.
func (s *Server) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !s.originAllowed(origin) {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Add("Vary", "Origin")
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) clientKey(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
