// Package http exposes the Audius source over a small JSON and streaming API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"audiussource/internal/core"
	"audiussource/internal/flood"
	"audiussource/pkg/audius"
)

const (
	serviceName      = "audiussource"
	shutdownTimeout  = 10 * time.Second
	fallbackMimeType = "audio/mpeg"
)

// Source is the part of *audius.Source the server uses.
type Source interface {
	Ready() bool
	Provider() audius.Provider
	LoadItem(ctx context.Context, identifier string) (audius.LoadResult, error)
	TrackByID(ctx context.Context, id string) (audius.LoadResult, error)
	EncodeTrack(track audius.Track) (string, error)
	DecodeTrack(encoded string) (audius.Track, error)
	StreamHandle(track audius.Track) *audius.StreamHandle
}

type Server struct {
	config    *core.ServerConfig
	source    Source
	logger    *zap.Logger
	server    *http.Server
	metrics   *Metrics
	floodgate *flood.Floodgate
}

func NewServer(config *core.ServerConfig, source Source, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	metrics.SetProviderReady(source.Ready())

	s := &Server{
		config:    config,
		source:    source,
		logger:    logger,
		metrics:   metrics,
		floodgate: flood.New(config.LoadLimitPerMinute),
	}
	s.server = createHTTPServer(config, s.routes())
	return s
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/", homeHandler)

	api := alice.New(s.limit)
	mux.Handle("GET /v1/loadtracks", api.ThenFunc(s.handleLoadTracks))
	mux.Handle("GET /v1/decodetrack", api.ThenFunc(s.handleDecodeTrack))
	mux.Handle("GET /v1/tracks/{id}", api.ThenFunc(s.handleTrack))
	mux.Handle("GET /v1/tracks/{id}/stream", api.ThenFunc(s.handleStream))

	return alice.New(s.recoverPanic, s.logRequest).Then(mux)
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Bool("provider_ready", s.source.Ready()))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")
		s.floodgate.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
}

type readyPayload struct {
	Status   string      `json:"status"`
	Service  string      `json:"service"`
	Provider string      `json:"provider,omitempty"`
	Limiter  flood.Stats `json:"limiter"`
}

func (s *Server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	payload := readyPayload{
		Status:   "ready",
		Service:  serviceName,
		Provider: string(s.source.Provider()),
		Limiter:  s.floodgate.GetStats(),
	}
	status := http.StatusOK
	if !s.source.Ready() {
		payload.Status = "no discovery provider"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, payload)
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>audiussource</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .endpoint { margin: 10px 0; }
        code { color: #0066cc; }
    </style>
</head>
<body>
    <h1>audiussource</h1>
    <p>Audius track, playlist, album and search resolution.</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><code>GET /v1/loadtracks?identifier=</code> - Resolve a URL or audsearch: query</div>
    <div class="endpoint"><code>GET /v1/decodetrack?encoded=</code> - Decode an encoded track</div>
    <div class="endpoint"><code>GET /v1/tracks/{id}</code> - Track metadata by id</div>
    <div class="endpoint"><code>GET /v1/tracks/{id}/stream</code> - Track audio</div>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`))
}

func (s *Server) handleLoadTracks(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		s.writeBadRequest(w, "identifier query parameter is required")
		return
	}

	result, err := s.source.LoadItem(r.Context(), identifier)
	if err != nil {
		s.logger.Warn("Lookup failed", zap.String("identifier", identifier), zap.Error(err))
		s.metrics.RecordLookup(loadTypeError)
		s.writeJSON(w, http.StatusOK, loadResultPayload{
			LoadType: loadTypeError,
			Data:     newErrorPayload("Failed to load "+identifier, err),
		})
		return
	}

	payload, err := s.newLoadResultPayload(result)
	if err != nil {
		s.writeError(w, "Failed to encode result", err)
		return
	}
	s.metrics.RecordLookup(payload.LoadType)
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDecodeTrack(w http.ResponseWriter, r *http.Request) {
	encoded := r.URL.Query().Get("encoded")
	if encoded == "" {
		s.writeBadRequest(w, "encoded query parameter is required")
		return
	}

	track, err := s.source.DecodeTrack(encoded)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}

	payload, err := s.newTrackPayload(track)
	if err != nil {
		s.writeError(w, "Failed to encode track", err)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// lookupTrack resolves the {id} path value. It writes the response and returns false on failure.
func (s *Server) lookupTrack(w http.ResponseWriter, r *http.Request) (audius.Track, bool) {
	id := r.PathValue("id")
	result, err := s.source.TrackByID(r.Context(), id)
	if err != nil {
		s.logger.Warn("Track lookup failed", zap.String("track_id", id), zap.Error(err))
		s.writeError(w, "Failed to load track "+id, err)
		return audius.Track{}, false
	}
	if result.Type != audius.LoadTrack {
		s.writeJSON(w, http.StatusNotFound, errorPayload{Message: "track " + id + " not found", Severity: severityCommon})
		return audius.Track{}, false
	}
	return *result.Track, true
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	track, ok := s.lookupTrack(w, r)
	if !ok {
		return
	}

	payload, err := s.newTrackPayload(track)
	if err != nil {
		s.writeError(w, "Failed to encode track", err)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	track, ok := s.lookupTrack(w, r)
	if !ok {
		return
	}

	stream, err := s.source.StreamHandle(track).Open(r.Context())
	if err != nil {
		s.metrics.RecordStreamOpen("error")
		s.writeError(w, "Failed to open stream for track "+track.ID(), err)
		return
	}
	defer func() {
		_ = stream.Close()
	}()
	s.metrics.RecordStreamOpen("ok")

	contentType := stream.ContentType()
	if contentType == "" {
		contentType = fallbackMimeType
	}
	w.Header().Set("Content-Type", contentType)

	if stream.Size() < 0 {
		// Without a length there is nothing to serve ranges against.
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, stream); err != nil {
			s.logger.Debug("Stream copy ended", zap.String("track_id", track.ID()), zap.Error(err))
		}
		return
	}

	http.ServeContent(w, r, "", time.Time{}, stream)
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.floodgate.Allow(clientKey(r)) {
			s.metrics.RecordRejected(r.Pattern)
			w.Header().Set("Retry-After", "60")
			s.writeJSON(w, http.StatusTooManyRequests, errorPayload{
				Message:  "too many requests",
				Severity: severityCommon,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Recovered from handler panic",
					zap.String("path", r.URL.Path), zap.Any("panic", rec))
				w.Header().Set("Connection", "close")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
