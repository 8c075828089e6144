// Package api maps HTTP and MCP requests onto the RAG orchestrator and indexer.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"edumate-rag/internal/helper"
	"edumate-rag/internal/index"
	"edumate-rag/internal/models"
	"edumate-rag/internal/rag"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	SessionHeader   = "X-Session-ID"
	sessionQueryKey = "session_id"
)

// QueryService is implemented by *rag.RAG.
type QueryService interface {
	Query(ctx context.Context, sessionID, question string) (*models.QueryResult, error)
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
	ClearMemory(sessionID string)
	ConversationHistory(sessionID string) []models.Turn
	MemorySummary(sessionID string) models.MemorySummary
	ActiveSessions() int
}

// DocumentIndexer is implemented by *index.Indexer.
type DocumentIndexer interface {
	IndexPDFs(ctx context.Context, reset bool) (*models.IndexReport, error)
}

type CollectionInfoer interface {
	Info(ctx context.Context) (models.CollectionInfo, error)
}

type Deps struct {
	RAG        QueryService
	Indexer    DocumentIndexer
	Collection CollectionInfoer
	Model      string
}

var features = []string{
	"pdf_indexing",
	"semantic_search",
	"conversation_memory",
	"session_isolation",
	"markdown_rendering",
}

type QueryRequest struct {
	Question string `json:"question"`
}

type QueryResponse struct {
	*models.QueryResult
	AnswerHTML string `json:"answer_html,omitempty"`
}

type HistoryResponse struct {
	TotalTurns int           `json:"total_turns"`
	Messages   []models.Turn `json:"messages"`
}

type IndexResponse struct {
	Status           string              `json:"status"`
	Message          string              `json:"message"`
	DocumentsIndexed int                 `json:"documents_indexed"`
	Report           *models.IndexReport `json:"report,omitempty"`
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", handleQuery(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/index", handleIndex(deps))

		r.Route("/conversation", func(r chi.Router) {
			r.Get("/history", handleHistory(deps))
			r.Post("/clear", handleClear(deps))
			r.Get("/info", handleInfo(deps))
			r.Post("/new", handleNewSession)
		})
	})

	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "EduMate RAG API is running!"})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		info, err := deps.Collection.Info(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to read collection info")
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": status,
			"model":  deps.Model,
			"vector_store": map[string]any{
				"collection":        info.Name,
				"documents_indexed": info.Count,
			},
			"active_sessions": deps.RAG.ActiveSessions(),
			"features":        features,
		})
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "Question cannot be empty")
			return
		}

		session := sessionID(r)
		w.Header().Set(SessionHeader, session)

		result, err := deps.RAG.Query(r.Context(), session, req.Question)
		switch {
		case errors.Is(err, rag.ErrEmptyQuestion):
			httpError(w, http.StatusBadRequest, "Question cannot be empty")
			return
		case err != nil:
			log.Error().Err(err).Str("session", session).Msg("Query failed")
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}

		resp := QueryResponse{QueryResult: result}
		if r.URL.Query().Get("format") == "html" {
			html, err := helper.RenderMarkdown(result.Answer)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to render answer")
			}
			resp.AnswerHTML = html
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "q is required")
			return
		}
		k := 0
		if raw := r.URL.Query().Get("k"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 50 {
				httpError(w, http.StatusBadRequest, "k must be an integer between 1 and 50")
				return
			}
			k = n
		}

		results, err := deps.RAG.Search(r.Context(), q, k)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if results == nil {
			results = []models.SearchResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results})
	}
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reset := false
		if raw := r.URL.Query().Get("reset"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "reset must be a boolean")
				return
			}
			reset = v
		}

		report, err := deps.Indexer.IndexPDFs(r.Context(), reset)
		switch {
		case errors.Is(err, index.ErrNoDocuments):
			httpError(w, http.StatusBadRequest, "No documents found to index")
			return
		case err != nil:
			log.Error().Err(err).Msg("Indexing failed")
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}

		count := report.Indexed
		if info, err := deps.Collection.Info(r.Context()); err == nil {
			count = info.Count
		}
		writeJSON(w, http.StatusOK, IndexResponse{
			Status:           "success",
			Message:          fmt.Sprintf("Indexed %d chunks from %d files", report.Indexed, report.Files),
			DocumentsIndexed: count,
			Report:           report,
		})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionID(r)
		turns := deps.RAG.ConversationHistory(session)
		summary := deps.RAG.MemorySummary(session)
		writeJSON(w, http.StatusOK, HistoryResponse{
			TotalTurns: summary.TotalTurns,
			Messages:   turns,
		})
	}
}

func handleClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.RAG.ClearMemory(sessionID(r))
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Conversation memory cleared",
		})
	}
}

func handleInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.RAG.MemorySummary(sessionID(r)))
	}
}

func handleNewSession(w http.ResponseWriter, _ *http.Request) {
	id, err := helper.GenerateUUID()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set(SessionHeader, id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// sessionID reads the caller's conversation id, falling back to the shared default.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get(sessionQueryKey)); id != "" {
		return id
	}
	return models.DefaultSession
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
		h.Set("Access-Control-Expose-Headers", SessionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}
