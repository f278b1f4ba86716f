package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/okigami/torikomi/internal/decode"
	"github.com/okigami/torikomi/internal/models"
	"github.com/okigami/torikomi/internal/storage"
)

// handleUpload accepts a file as multipart form data (field "file") or as a
// raw body with a "filename" query parameter. New uploads are accepted with
// 202 and processed in the background; resubmitting already-seen content
// returns the existing job with 200.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sourceName, data, err := readUpload(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, isNew, err := s.pipeline.Submit(r.Context(), sourceName, data)
	if err != nil {
		switch {
		case errors.Is(err, decode.ErrUnsupportedFormat):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrUnavailable):
			s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		default:
			s.logger.Error("upload failed", zap.String("source", sourceName), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	status := http.StatusAccepted
	if !isNew {
		status = http.StatusOK
	}
	s.respondJSON(w, status, map[string]interface{}{
		"job":       job,
		"duplicate": !isNew,
	})
}

// readUpload extracts the source file name and content from the request.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("multipart upload requires a \"file\" field")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return header.Filename, data, nil
	}

	sourceName := r.URL.Query().Get("filename")
	if sourceName == "" {
		return "", nil, errors.New("raw uploads require a filename query parameter")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	return sourceName, data, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.storage.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns the job together with the first page of its records.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.storage.GetJob(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}

	filter := models.RecordFilter{ImportID: id}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	filter.Normalize(s.config.Query.DefaultLimit, s.config.Query.MaxLimit)

	records, err := s.storage.SearchRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("record page failed", zap.String("job_id", id), zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":     job,
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetJob(r.Context(), id); err != nil {
		s.respondStorageError(w, err)
		return
	}

	filter := models.RecordFilter{
		ImportID: id,
		Outcome:  r.URL.Query().Get("outcome"),
		Query:    r.URL.Query().Get("q"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	filter.Normalize(s.config.Query.DefaultLimit, s.config.Query.MaxLimit)

	records, err := s.storage.SearchRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("list records failed", zap.String("job_id", id), zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete job request", zap.String("job_id", id))

	recordIDs, err := s.storage.DeleteJob(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if s.index != nil && len(recordIDs) > 0 {
		if err := s.index.Remove(r.Context(), recordIDs); err != nil {
			s.logger.Warn("failed to drop vectors for deleted job",
				zap.String("job_id", id), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "deleted",
		"records_removed": len(recordIDs),
	})
}

type searchRequest struct {
	Query    string `json:"query"`
	ImportID string `json:"import_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type searchHit struct {
	Record *models.Record `json:"record"`
	Score  float64        `json:"score"`
}

// handleSearchRecords searches records. With a query it embeds the text and
// ranks by vector similarity; without one it falls back to a parameterized
// filter search. import_id and outcome narrow either mode.
func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = s.config.Query.DefaultLimit
	}
	if req.Limit > s.config.Query.MaxLimit {
		req.Limit = s.config.Query.MaxLimit
	}

	if req.Query == "" {
		s.searchByFilter(w, r, req)
		return
	}
	if s.index == nil || s.embedder == nil || !s.embedder.Enabled() {
		s.respondError(w, http.StatusNotImplemented, "semantic search not enabled")
		return
	}

	vectors := s.embedder.EmbedBatch(r.Context(), []string{req.Query})
	if vectors[0] == nil {
		s.respondError(w, http.StatusServiceUnavailable, "embedding unavailable")
		return
	}

	results, err := s.index.Search(r.Context(), vectors[0], req.Limit)
	if err != nil {
		s.logger.Error("vector search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, res := range results {
		ids[i] = res.ID
		scores[res.ID] = res.Score
	}
	records, err := s.storage.GetRecords(r.Context(), ids)
	if err != nil {
		s.logger.Error("record lookup failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(records))
	for _, rec := range records {
		if req.ImportID != "" && rec.ImportID != req.ImportID {
			continue
		}
		if req.Outcome != "" && string(rec.Outcome) != req.Outcome {
			continue
		}
		hits = append(hits, searchHit{Record: rec, Score: scores[rec.ID]})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": hits,
		"count":   len(hits),
	})
}

// searchByFilter serves query-less searches straight from storage.
func (s *Server) searchByFilter(w http.ResponseWriter, r *http.Request, req searchRequest) {
	filter := models.RecordFilter{
		ImportID: req.ImportID,
		Outcome:  req.Outcome,
		Limit:    req.Limit,
	}
	filter.Normalize(s.config.Query.DefaultLimit, s.config.Query.MaxLimit)

	records, err := s.storage.SearchRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error("filter search failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	hits := make([]searchHit, len(records))
	for i, rec := range records {
		hits[i] = searchHit{Record: rec}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": hits,
		"count":   len(hits),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	resp := map[string]interface{}{
		"stats":             stats,
		"embedding_enabled": s.embedder != nil && s.embedder.Enabled(),
	}
	if s.index != nil {
		resp["vector_index_size"] = s.index.Size()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, storage.ErrConflict):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
