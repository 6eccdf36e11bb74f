// Package server exposes the voxmux HTTP surface: the transcription WebSocket
// endpoint, health probes, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxmux/voxmux/internal/health"
	"github.com/voxmux/voxmux/internal/mux"
	"github.com/voxmux/voxmux/internal/observe"
	"github.com/voxmux/voxmux/internal/transcript"
	"github.com/voxmux/voxmux/pkg/vad"
)

// MaxChannels bounds the channels query parameter on the transcription
// endpoint.
const MaxChannels = 8

// shutdownTimeout bounds draining open connections during Shutdown.
const shutdownTimeout = 10 * time.Second

// Config holds the Server dependencies.
type Config struct {
	// ListenAddr is the TCP address to listen on (e.g., ":8080").
	ListenAddr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// OriginPatterns is the WebSocket origin allow-list, matched per
	// [websocket.AcceptOptions]. Empty allows every origin, since browser
	// clients stream from arbitrary pages.
	OriginPatterns []string

	Store     *mux.Store
	Scheduler *mux.Scheduler

	// NewDetector creates a voice activity detector for one connection. Each
	// session owns its detector and the server closes it on disconnect.
	NewDetector func() (vad.Detector, error)

	// Archive receives emitted transcripts; nil disables archiving.
	Archive transcript.Store

	// RecvTimeout is forwarded to each session; <= 0 selects the session
	// default.
	RecvTimeout time.Duration

	// Health serves the liveness and readiness probes; nil registers a
	// handler with no readiness checks.
	Health *health.Handler

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the voxmux HTTP server. Create it with [New], drive it with
// [Server.Run].
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	httpSrv *http.Server
}

// New assembles the HTTP routes and returns an unstarted Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	hh := cfg.Health
	if hh == nil {
		hh = health.New()
	}

	s := &Server{cfg: cfg, log: logger, metrics: metrics}

	router := http.NewServeMux()
	hh.Register(router)
	router.Handle("GET /metrics", promhttp.Handler())
	router.HandleFunc("GET /ws/transcription", s.handleTranscription)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(metrics)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's root HTTP handler, middleware included.
// Exposed for tests that serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully. A nil error
// means the server stopped because ctx was cancelled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// handleTranscription upgrades the request to a WebSocket and runs a session
// over it until the client disconnects.
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "guest"
	}

	channels := 1
	if raw := r.URL.Query().Get("channels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxChannels {
			http.Error(w, fmt.Sprintf("channels must be an integer in [1, %d]", MaxChannels), http.StatusBadRequest)
			return
		}
		channels = n
	}

	patterns := s.cfg.OriginPatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		s.log.Debug("websocket accept failed", "err", err)
		return
	}

	// Duplicate ids get turned away before the detector's model is loaded.
	// Session registration below is the authoritative check.
	if s.cfg.Store.Active(clientID) {
		s.log.Warn("rejected duplicate client id", "client_id", clientID)
		conn.Close(websocket.StatusPolicyViolation, "client id already connected")
		return
	}

	det, err := s.cfg.NewDetector()
	if err != nil {
		s.log.Error("detector creation failed", "err", err)
		conn.Close(websocket.StatusInternalError, "voice activity detector unavailable")
		return
	}
	defer func() {
		if err := det.Close(); err != nil {
			s.log.Debug("detector close failed", "err", err)
		}
	}()

	wsc := newWSConn(r.Context(), conn)
	defer wsc.stop()

	sess, err := mux.NewSession(mux.SessionConfig{
		SourceID:    clientID,
		Channels:    channels,
		Store:       s.cfg.Store,
		Scheduler:   s.cfg.Scheduler,
		Tracker:     vad.NewTracker(det),
		Conn:        wsc,
		Archive:     s.cfg.Archive,
		RecvTimeout: s.cfg.RecvTimeout,
		Metrics:     s.metrics,
		Logger:      s.log,
	})
	if err != nil {
		if errors.Is(err, mux.ErrDuplicateSource) {
			s.log.Warn("rejected duplicate client id", "client_id", clientID)
			conn.Close(websocket.StatusPolicyViolation, "client id already connected")
			return
		}
		s.log.Error("session setup failed", "client_id", clientID, "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	switch err := sess.Run(r.Context()); {
	case errors.Is(err, mux.ErrProtocol):
		conn.Close(websocket.StatusUnsupportedData, "malformed audio frame")
	case err != nil:
		conn.Close(websocket.StatusInternalError, "session error")
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
