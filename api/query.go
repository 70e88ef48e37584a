package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/passagedev/passage/internal/answer"
	"github.com/passagedev/passage/internal/retrieve"
)

// Query validation constants.
const (
	MaxQuestionLength = 8192
	MaxQueryTopK      = 50
)

// Answerer answers a question against the indexed corpus.
type Answerer interface {
	Answer(ctx context.Context, question string, topK int, opts ...retrieve.QueryOption) (answer.Response, error)
}

// QueryHandler handles the question answering endpoint.
type QueryHandler struct {
	svc    Answerer
	logger *slog.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(svc Answerer, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// QueryRequest is the request body for POST /api/query.
type QueryRequest struct {
	Question string            `json:"question"`
	TopK     int               `json:"top_k,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// query answers one question. The response carries the generated answer,
// the cited sources, and the exact prompt that was sent to the model.
func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question_required", "question must not be empty")
		return
	}
	if len(req.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "question_too_long", "question exceeds 8192 bytes")
		return
	}
	if req.TopK < 0 || req.TopK > MaxQueryTopK {
		writeError(w, http.StatusBadRequest, "invalid_top_k", "top_k must be between 0 and 50")
		return
	}

	var opts []retrieve.QueryOption
	for k, v := range req.Filters {
		opts = append(opts, retrieve.WithFilter(k, v))
	}

	resp, err := h.svc.Answer(r.Context(), req.Question, req.TopK, opts...)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		h.logger.Error("query failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusBadGateway, "query_failed", "failed to answer the question")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
