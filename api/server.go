// Package api exposes the pipeline over HTTP: question answering
// (synchronous and SSE streaming), ingestion triggers, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/intelforge/intelforge/internal/answer"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/ingest"
	"github.com/intelforge/intelforge/internal/log"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// Retriever is the retrieval surface the API consumes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...index.SearchOption) (retrieve.Result, error)
}

// Synthesizer is the answering surface the API consumes.
type Synthesizer interface {
	Synthesize(ctx context.Context, result retrieve.Result, stream answer.StreamCallback) (answer.Answer, error)
}

// Ingestor runs one ingestion pass.
type Ingestor interface {
	Run(ctx context.Context) (*ingest.Report, error)
}

// Config tunes the HTTP server.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
}

// Server is the HTTP API server.
type Server struct {
	cfg         Config
	retriever   Retriever
	synthesizer Synthesizer
	ingestor    Ingestor
	logger      log.Logger
	httpServer  *http.Server
}

// NewServer wires the API over the given components. ingestor may be
// nil, in which case the ingest endpoint reports unavailable.
func NewServer(cfg Config, retriever Retriever, synthesizer Synthesizer, ingestor Ingestor, logger log.Logger) (*Server, error) {
	if retriever == nil || synthesizer == nil {
		return nil, errors.New("retriever and synthesizer are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}

	s := &Server{
		cfg:         cfg,
		retriever:   retriever,
		synthesizer: synthesizer,
		ingestor:    ingestor,
		logger:      logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if cfg.RateLimitRPS > 0 {
		rl := newRateLimiter(cfg.RateLimitRPS, max(cfg.RateLimitBurst, 1))
		handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("POST /api/query/stream", s.handleQueryStream)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler exposes the assembled handler chain, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// errorResponse is the JSON error body every endpoint shares.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorResponse{Code: code, Message: message}, logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("writing response", slog.String("error", err.Error()))
	}
}
