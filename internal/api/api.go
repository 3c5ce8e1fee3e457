package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/forge/internal/destruction"
	"github.com/joescharf/forge/internal/differential"
	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/llm"
	"github.com/joescharf/forge/internal/markup"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// ViewerHeader names the user a request acts as.
const ViewerHeader = "X-Forge-User"

// Enricher suggests a description and priority for a task.
type Enricher interface {
	EnrichTask(ctx context.Context, title, description string, priorities []string) (*llm.EnrichedTask, error)
}

// Config holds the server options read from the config file.
type Config struct {
	// AllowedEditorProtocols limits the schemes editor deep links may use.
	AllowedEditorProtocols []string
	// InlineComments enables inline comment editing on diff pages.
	InlineComments bool
}

// Server provides the REST API and HTML handlers.
type Server struct {
	store     store.Store
	editor    *editor.Editor
	destroyer *destruction.Engine
	importer  *differential.Importer
	markup    *markup.Renderer
	enricher  Enricher
	app       *policy.Application
	cfg       Config
	logger    *zap.Logger
}

// NewServer creates a new API server.
// The enricher may be nil if no API key is configured.
func NewServer(s store.Store, ed *editor.Editor, app *policy.Application, enricher Enricher, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:     s,
		editor:    ed,
		destroyer: destruction.NewEngine(s, logger, destruction.DefaultExtensions()...),
		importer:  differential.NewImporter(s, logger),
		markup:    markup.NewRenderer(s, logger),
		enricher:  enricher,
		app:       app,
		cfg:       cfg,
		logger:    logger,
	}
}

// Router returns an http.Handler for the API and page routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	mux.HandleFunc("POST /api/v1/tasks", s.createTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.destroyTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/transactions", s.listTaskTransactions)
	mux.HandleFunc("POST /api/v1/tasks/{id}/enrich", s.enrichTask)

	mux.HandleFunc("GET /api/v1/users", s.listUsers)
	mux.HandleFunc("POST /api/v1/users", s.createUser)

	mux.HandleFunc("GET /api/v1/repositories", s.listRepositories)

	mux.HandleFunc("GET /api/v1/diffs", s.listDiffs)
	mux.HandleFunc("POST /api/v1/diffs", s.importDiff)
	mux.HandleFunc("GET /api/v1/diffs/{id}", s.getDiff)

	mux.HandleFunc("GET /differential/diff/{id}/", s.diffPage)
	mux.HandleFunc("GET /differential/changeset/", s.renderChangeset)
	mux.HandleFunc("POST "+inlineCommentURI, s.createInlineComment)
	mux.HandleFunc("DELETE "+inlineCommentURI+"{id}", s.deleteInlineComment)

	mux.HandleFunc("GET /task/{id}", s.taskPage)
	mux.Handle("GET /res/", s.resources())

	return corsMiddleware(s.logRequests(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ViewerHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, policy.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrValidation), errors.Is(err, differential.ErrEmptyDiff):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// viewer resolves the acting user from the request header. Requests without
// the header are anonymous and get a nil user.
func (s *Server) viewer(r *http.Request) (*models.User, error) {
	name := strings.TrimSpace(r.Header.Get(ViewerHeader))
	if name == "" {
		return nil, nil
	}
	u, err := s.store.GetUserByUsername(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user %q", policy.ErrPermissionDenied, name)
		}
		return nil, err
	}
	return u, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.PathValue("id"), "T"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// --- Users ---

type userInput struct {
	Username      string `json:"username"`
	RealName      string `json:"real_name"`
	Admin         bool   `json:"admin"`
	EditorPattern string `json:"editor_pattern"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !viewer.IsAdministrator() {
		writeError(w, http.StatusForbidden, "only administrators can create users")
		return
	}

	var in userInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	u := &models.User{
		Username:      in.Username,
		RealName:      in.RealName,
		Admin:         in.Admin,
		EditorPattern: in.EditorPattern,
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// --- Repositories ---

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}
