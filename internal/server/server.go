package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/service"
	"github.com/voyagen/techtube/internal/store"
	"github.com/voyagen/techtube/internal/youtube"
)

// Collector is the cycle engine as seen by the API. Implemented by service.Collector.
type Collector interface {
	RunCycle(ctx context.Context) (*service.Summary, error)
	Running() bool
	Last() *service.Summary
	Today() time.Time
}

// ChannelLookup resolves a channel reference before it is registered. Implemented by youtube.Client.
type ChannelLookup interface {
	LookupChannel(ctx context.Context, ref string) (*youtube.ChannelInfo, error)
}

// Deps are the server's collaborators. Channels and Similar may be nil.
type Deps struct {
	Store     store.Store
	Collector Collector
	Channels  ChannelLookup        // nil: channels are registered without validation
	Similar   store.EmbeddingStore // nil: similar-video lookups are disabled
	Port      string
}

// Server holds dependencies for the HTTP API.
type Server struct {
	store     store.Store
	collector Collector
	channels  ChannelLookup
	similar   store.EmbeddingStore
	port      string
	mux       *http.ServeMux

	// baseCtx outlives requests; background cycles started over HTTP stop with it.
	baseCtx context.Context
}

// New creates a Server and registers routes.
func New(d Deps) *Server {
	srv := &Server{
		store:     d.Store,
		collector: d.Collector,
		channels:  d.Channels,
		similar:   d.Similar,
		port:      d.Port,
		mux:       http.NewServeMux(),
		baseCtx:   context.Background(),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Cycles
	s.mux.HandleFunc("POST /api/cycles", s.handleRunCycle)
	s.mux.HandleFunc("GET /api/cycles/last", s.handleLastCycle)

	// Videos
	s.mux.HandleFunc("GET /api/videos", s.handleListVideos)
	s.mux.HandleFunc("GET /api/videos/{id}", s.handleGetVideo)
	s.mux.HandleFunc("POST /api/videos/{id}/state", s.handleSetWatchState)
	s.mux.HandleFunc("POST /api/videos/{id}/hide", s.handleHideVideo)
	s.mux.HandleFunc("GET /api/videos/{id}/similar", s.handleSimilarVideos)
	s.mux.HandleFunc("POST /api/tags/{tag}/hide", s.handleHideTag)

	// Keywords
	s.mux.HandleFunc("GET /api/keywords", s.handleListKeywords)
	s.mux.HandleFunc("POST /api/keywords", s.handleAddKeyword)
	s.mux.HandleFunc("DELETE /api/keywords/{keyword}", s.handleDeleteKeyword)
	s.mux.HandleFunc("GET /api/suggestions", s.handleSuggestions)

	// Channels
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("POST /api/channels", s.handleAddChannel)
	s.mux.HandleFunc("DELETE /api/channels/{id}", s.handleDeleteChannel)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.baseCtx = ctx
	addr := ":" + s.port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Minute, // POST /api/cycles?wait=true spans paced pages
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- cycle handlers ---

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.collector.Running() {
		writeErr(w, http.StatusConflict, service.ErrCycleInProgress)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		sum, err := s.collector.RunCycle(r.Context())
		switch {
		case errors.Is(err, service.ErrCycleInProgress):
			writeErr(w, http.StatusConflict, err)
		case err != nil && sum == nil:
			writeErr(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, sum)
		}
		return
	}

	// A cycle paces its pages over minutes; run it detached from the request.
	go func() {
		if _, err := s.collector.RunCycle(s.baseCtx); err != nil && !errors.Is(err, service.ErrCycleInProgress) {
			log.Error().Err(err).Msg("background cycle")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleLastCycle(w http.ResponseWriter, _ *http.Request) {
	sum := s.collector.Last()
	if sum == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no cycle has run since startup"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.collector.Running(),
		"summary": sum,
	})
}

// --- video handlers ---

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.VideoFilter{Query: q.Get("query")}

	if v := q.Get("state"); v != "" {
		st := models.WatchState(strings.ToUpper(v))
		if !st.Valid() {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid state: %s", v))
			return
		}
		filter.State = st
	}
	if v := q.Get("new"); v != "" {
		switch v {
		case "true", "1":
			filter.NewOnly = true
		case "false", "0":
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid new: %s (use true or false)", v))
			return
		}
	}
	page, perPage := 1, 50
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid page: %s", v))
			return
		}
		page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid per_page: %s", v))
			return
		}
		perPage = min(n, 200)
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	videos, total, err := s.store.ListVideos(r.Context(), filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"videos":   videos,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.store.GetVideo(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type watchStateRequest struct {
	State string `json:"state"`
}

func (s *Server) handleSetWatchState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req watchStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	st := models.WatchState(strings.ToUpper(req.State))
	if !st.Valid() {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("state must be UNWATCHED, WATCHING or WATCHED"))
		return
	}

	if err := s.store.SetWatchState(r.Context(), id, st); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"video_id":    id,
		"watch_state": st,
	})
}

func (s *Server) handleHideVideo(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HideVideo(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleHideTag(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimSpace(r.PathValue("tag"))
	if tag == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("tag is required"))
		return
	}
	n, err := s.store.HideVideosByTag(r.Context(), tag)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tag":    tag,
		"hidden": n,
	})
}

func (s *Server) handleSimilarVideos(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("similar videos are not configured (needs Postgres and VOYAGE_API_KEY)"))
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		limit = min(n, 50)
	}

	id := r.PathValue("id")
	videos, err := s.similar.SimilarVideos(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("video %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_id": id,
		"videos":   videos,
	})
}

// --- keyword handlers ---

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListKeywords(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []models.Keyword{}
	}
	writeJSON(w, http.StatusOK, list)
}

type addKeywordRequest struct {
	Keyword string `json:"keyword"`
}

func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var req addKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if strings.TrimSpace(req.Keyword) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("keyword is required"))
		return
	}

	// Dated yesterday so the next cycle can pick it up.
	k, err := s.store.AddKeyword(r.Context(), req.Keyword, s.collector.Today().AddDate(0, 0, -1))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) {
	kw := r.PathValue("keyword")
	if err := s.store.DeleteKeyword(r.Context(), kw); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("keyword %q not found", kw))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	words, err := s.store.SuggestWords(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if words == nil {
		words = []string{}
	}
	writeJSON(w, http.StatusOK, words)
}

// --- channel handlers ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListChannels(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, list)
}

type addChannelRequest struct {
	Channel string `json:"channel"` // channel id or @handle
	Title   string `json:"title"`
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var req addChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	ref := strings.TrimSpace(req.Channel)
	if ref == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("channel is required"))
		return
	}

	id, title := ref, req.Title
	if s.channels != nil {
		info, err := s.channels.LookupChannel(r.Context(), ref)
		switch {
		case errors.Is(err, youtube.ErrInvalidReference):
			writeErr(w, http.StatusUnprocessableEntity, fmt.Errorf("channel %q does not exist", ref))
			return
		case errors.Is(err, youtube.ErrQuotaExceeded):
			writeErr(w, http.StatusServiceUnavailable, err)
			return
		case err != nil:
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		id, title = info.ID, info.Title
	}

	ch, err := s.store.AddChannel(r.Context(), id, title)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteChannel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("channel %s not found", id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writeJSON")
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}
