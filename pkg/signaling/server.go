package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
)

// OfferHandler negotiates one incoming offer and returns the answer.
// The caster's transport layer implements this by creating a Peer,
// setting the remote description, and returning the generated answer.
type OfferHandler func(ctx context.Context, offer SessionDescription) (SessionDescription, error)

// Server exposes an HTTP offer/answer endpoint and serves as the
// direct-path signaling mechanism; the manual envelope in envelope.go
// is the fallback when no route between peers exists.
type Server struct {
	log        *logger.Logger
	handleOffer OfferHandler
	httpServer *http.Server
}

// NewServer wires a signaling server that delegates offer handling to
// handleOffer.
func NewServer(handleOffer OfferHandler, log *logger.Logger) *Server {
	return &Server{log: log, handleOffer: handleOffer}
}

// Start begins serving on addr. Mirrors the mux/middleware shape used
// elsewhere in this codebase: a plain ServeMux wrapped in CORS and
// request-logging middleware.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/offer", s.handleOfferHTTP)
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("starting signaling server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("signaling server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("stopping signaling server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOfferHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var offer SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid offer body", http.StatusBadRequest)
		return
	}

	answer, err := s.handleOffer(r.Context(), offer)
	if err != nil {
		s.log.Error("offer negotiation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		s.log.Error("failed to encode answer", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info("signaling http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
