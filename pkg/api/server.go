package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/trunet-labs/trunet/pkg/audit/postgres"
	"github.com/trunet-labs/trunet/pkg/common/validation"
	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/pipeline"
	"github.com/trunet-labs/trunet/pkg/resilience"
	"github.com/trunet-labs/trunet/pkg/search"
)

// VerdictStore persists completed verdicts and serves lookups. Satisfied by
// the postgres audit database.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, verdict *content.Verdict, textContent string) error
	GetVerdict(ctx context.Context, verdictID string) (*postgres.VerdictRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*postgres.VerdictRecord, error)
	CountByRecommendation(ctx context.Context) (map[string]int64, error)
}

// ServerConfig wires the HTTP layer's dependencies. Verdicts and Index are
// optional; the related endpoints answer 503 when absent.
type ServerConfig struct {
	Orchestrator   *pipeline.Orchestrator
	Verdicts       VerdictStore
	Index          *search.VerdictIndex
	Hub            *Hub
	Health         *resilience.HealthMonitor
	Logger         *logging.Logger
	MaxUploadBytes int64
	DefaultTimeout time.Duration
	RateLimit      validation.RateLimitConfig
}

// Server is the HTTP front of the verification pipeline.
type Server struct {
	orchestrator   *pipeline.Orchestrator
	verdicts       VerdictStore
	index          *search.VerdictIndex
	hub            *Hub
	health         *resilience.HealthMonitor
	validator      *validation.Validator
	rateLimiter    *validation.RateLimiter
	logger         *logging.Logger
	maxUploadBytes int64
	defaultTimeout time.Duration
}

// NewServer creates the server and its rate limiter. Call Close on shutdown.
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("api")
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 100 << 20
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.RateLimit.RequestsPerMinute == 0 {
		config.RateLimit = validation.DefaultRateLimitConfig()
	}
	hub := config.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		orchestrator:   config.Orchestrator,
		verdicts:       config.Verdicts,
		index:          config.Index,
		hub:            hub,
		health:         config.Health,
		validator:      validation.NewValidator(config.MaxUploadBytes),
		rateLimiter:    validation.NewRateLimiter(config.RateLimit),
		logger:         logger,
		maxUploadBytes: config.MaxUploadBytes,
		defaultTimeout: config.DefaultTimeout,
	}
}

// Close stops the server's background workers.
func (s *Server) Close() {
	s.rateLimiter.Shutdown()
}

// Hub returns the progress hub so callers can wire it into the pipeline.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the API routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/verify", s.rateLimiter.Middleware(s.handleVerify)).Methods("POST")
	api.HandleFunc("/verdicts/search", s.handleSearchVerdicts).Methods("GET")
	api.HandleFunc("/verdicts/recent", s.handleRecentVerdicts).Methods("GET")
	api.HandleFunc("/verdicts/{id}", s.handleGetVerdict).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/ws", s.hub.HandleWebSocket)

	return router
}

type verifyResponse struct {
	Verdict *content.Verdict `json:"verdict"`
}

type errorResponse struct {
	Error   string             `json:"error"`
	Details []validationDetail `json:"details,omitempty"`
}

type validationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		sendError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	text := r.FormValue("text")
	submitterID := r.FormValue("submitter_id")

	var timeoutMs int64
	if raw := r.FormValue("timeout_ms"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			sendError(w, http.StatusBadRequest, "timeout_ms must be an integer")
			return
		}
		timeoutMs = parsed
	}

	headers := r.MultipartForm.File["files"]
	filenames := make([]string, 0, len(headers))
	fileSizes := make([]int64, 0, len(headers))
	for _, fh := range headers {
		filenames = append(filenames, fh.Filename)
		fileSizes = append(fileSizes, fh.Size)
	}

	if errs := s.validator.ValidateVerifyRequest(text, filenames, fileSizes, timeoutMs, submitterID); len(errs) > 0 {
		details := make([]validationDetail, 0, len(errs))
		for _, ve := range errs {
			details = append(details, validationDetail{Field: ve.Field, Message: ve.Message})
		}
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Details: details})
		return
	}

	files := make([]content.FileBlob, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			sendError(w, http.StatusBadRequest, "failed to open uploaded file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			sendError(w, http.StatusBadRequest, "failed to read uploaded file "+fh.Filename)
			return
		}
		files = append(files, content.FileBlob{
			Bytes:        data,
			OriginalName: fh.Filename,
			DeclaredMime: fh.Header.Get("Content-Type"),
			SizeBytes:    int64(len(data)),
		})
	}

	sub, err := content.NewSubmission(text, files, submitterID)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := s.defaultTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	verdict, err := s.orchestrator.Process(r.Context(), sub, &pipeline.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, content.ErrMalformedInput) {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("pipeline failure", map[string]interface{}{
			"submission": sub.ID,
			"error":      err.Error(),
		})
		sendError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	if s.verdicts != nil {
		if err := s.verdicts.SaveVerdict(r.Context(), verdict, text); err != nil {
			s.logger.Error("failed to persist verdict", map[string]interface{}{
				"verdict": verdict.ID,
				"error":   err.Error(),
			})
		}
	}
	if s.index != nil {
		s.index.IndexVerdict(verdict, text)
	}

	sendJSON(w, http.StatusOK, verifyResponse{Verdict: verdict})
}

func (s *Server) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		sendError(w, http.StatusServiceUnavailable, "verdict store not configured")
		return
	}

	id := mux.Vars(r)["id"]
	record, err := s.verdicts.GetVerdict(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrVerdictNotFound) {
			sendError(w, http.StatusNotFound, "verdict not found")
			return
		}
		s.logger.Error("verdict lookup failed", map[string]interface{}{
			"verdict": id,
			"error":   err.Error(),
		})
		sendError(w, http.StatusInternalServerError, "verdict lookup failed")
		return
	}

	sendJSON(w, http.StatusOK, record)
}

func (s *Server) handleRecentVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		sendError(w, http.StatusServiceUnavailable, "verdict store not configured")
		return
	}

	limit := parseLimit(r, 50)
	records, err := s.verdicts.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent verdicts query failed", map[string]interface{}{
			"error": err.Error(),
		})
		sendError(w, http.StatusInternalServerError, "query failed")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"verdicts": records})
}

func (s *Server) handleSearchVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		sendError(w, http.StatusServiceUnavailable, "search index not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		sendError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	hits, err := s.index.Search(r.Context(), query, parseLimit(r, 25))
	if err != nil {
		s.logger.Error("verdict search failed", map[string]interface{}{
			"query": s.validator.SanitizeInput(query),
			"error": err.Error(),
		})
		sendError(w, http.StatusInternalServerError, "search failed")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"query": query,
		"hits":  hits,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"pipeline":          s.orchestrator.GetStats(),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.index != nil {
		indexed, indexErrors := s.index.Stats()
		stats["search"] = map[string]int64{
			"indexed": indexed,
			"errors":  indexErrors,
		}
	}
	if s.verdicts != nil {
		if counts, err := s.verdicts.CountByRecommendation(r.Context()); err == nil {
			stats["recommendations"] = counts
		}
	}
	sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	overall := s.health.OverallStatus()
	status := http.StatusOK
	if overall == resilience.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	sendJSON(w, status, map[string]interface{}{
		"status":     overall.String(),
		"components": s.health.Snapshot(),
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, errorResponse{Error: message})
}
