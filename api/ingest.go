package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/passagedev/passage/internal/chunk"
	"github.com/passagedev/passage/internal/ingest"
)

// Ingestion validation constants.
const (
	MaxIngestDocuments = 256
	MaxDocumentBytes   = 1 << 20 // 1 MiB of text per document
)

// Ingester feeds documents into the index.
type Ingester interface {
	Ingest(ctx context.Context, docs []chunk.Document) (ingest.Report, error)
}

// IngestHandler handles the document ingestion endpoint.
type IngestHandler struct {
	pipeline Ingester
	logger   *slog.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(pipeline Ingester, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
}

// IngestDocument is one document in an ingestion request.
type IngestDocument struct {
	ID        string            `json:"id"`
	SourceURI string            `json:"source_uri,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	Documents []IngestDocument `json:"documents"`
}

// IngestFailure reports one rejected document.
type IngestFailure struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// IngestResponse summarizes an ingestion run.
type IngestResponse struct {
	Accepted int             `json:"accepted"`
	Failed   []IngestFailure `json:"failed"`
}

// ingest indexes the posted documents. Documents that fail are reported
// individually; the request as a whole succeeds with 200 unless the input
// itself is invalid.
func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents_required", "documents must not be empty")
		return
	}
	if len(req.Documents) > MaxIngestDocuments {
		writeError(w, http.StatusBadRequest, "too_many_documents", "at most 256 documents per request")
		return
	}

	docs := make([]chunk.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if d.ID == "" {
			writeError(w, http.StatusBadRequest, "document_id_required", "every document needs an id")
			return
		}
		if len(d.Text) > MaxDocumentBytes {
			writeError(w, http.StatusBadRequest, "document_too_large", "document "+d.ID+" exceeds 1 MiB")
			return
		}
		docs = append(docs, chunk.Document{
			ID:        d.ID,
			SourceURI: d.SourceURI,
			Text:      d.Text,
			Metadata:  d.Metadata,
		})
	}

	report, err := h.pipeline.Ingest(r.Context(), docs)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("ingestion failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusBadGateway, "ingest_failed", "failed to ingest documents")
		return
	}

	resp := IngestResponse{Accepted: report.Accepted, Failed: []IngestFailure{}}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, IngestFailure{DocumentID: f.DocumentID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}
