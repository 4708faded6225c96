package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/intelforge/intelforge/internal/answer"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// queryRequest is the body of POST /api/query and /api/query/stream.
type queryRequest struct {
	Query      string         `json:"query"`
	TopK       int            `json:"top_k,omitempty"`
	SourceType string         `json:"source_type,omitempty"`
	Filter     map[string]any `json:"filter,omitempty"`
}

func (q queryRequest) searchOptions() []index.SearchOption {
	var opts []index.SearchOption
	if q.TopK > 0 {
		opts = append(opts, index.WithTopK(q.TopK))
	}
	if q.SourceType != "" {
		opts = append(opts, index.WithSourceType(q.SourceType))
	}
	if len(q.Filter) > 0 {
		opts = append(opts, index.WithFilter(q.Filter))
	}
	return opts
}

// handleQuery answers synchronously: retrieve, synthesize, one JSON
// response.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err), s.logger)
		return
	}

	ctx := r.Context()
	result, err := s.retriever.Retrieve(ctx, req.Query, req.searchOptions()...)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	ans, err := s.synthesizer.Synthesize(ctx, result, nil)
	if err != nil {
		s.logger.Error("synthesis failed", slog.String("error", err.Error()))
		WriteError(w, http.StatusBadGateway, "synthesis_failed", err.Error(), s.logger)
		return
	}

	writeJSON(w, http.StatusOK, ans, s.logger)
}

// writeQueryError maps retrieval failures to HTTP statuses: validation
// problems are the client's, everything else is ours.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieve.ErrEmptyQuery):
		WriteError(w, http.StatusBadRequest, "empty_query", "query is required", s.logger)
	case errors.Is(err, retrieve.ErrQueryTooLong):
		WriteError(w, http.StatusBadRequest, "query_too_long", err.Error(), s.logger)
	default:
		s.logger.Error("retrieval failed", slog.String("error", err.Error()))
		WriteError(w, http.StatusBadGateway, "retrieval_failed", err.Error(), s.logger)
	}
}

// SSEEvent payload types for the streaming endpoint.
type (
	// SSEChunkData is the data for "chunk" events.
	SSEChunkData struct {
		Text string `json:"text"`
	}

	// SSEDoneData is the data for "done" events.
	SSEDoneData struct {
		Answer answer.Answer `json:"answer"`
	}

	// SSEErrorData is the data for "error" events.
	SSEErrorData struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// handleQueryStream streams the answer over Server-Sent Events.
//
// Event types:
//   - chunk: partial answer text {"text": "..."}
//   - done:  final answer with citations
//   - error: terminal failure {"code": "...", "message": "..."}
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeSSEError(w, flusher, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	result, err := s.retriever.Retrieve(ctx, req.Query, req.searchOptions()...)
	if err != nil {
		s.writeSSEError(w, flusher, retrieveErrorCode(err), err.Error())
		return
	}

	ans, err := s.synthesizer.Synthesize(ctx, result, func(text string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.writeSSEChunk(w, flusher, text)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("client disconnected mid-stream")
			return
		}
		s.logger.Error("stream failed", slog.String("error", err.Error()))
		s.writeSSEError(w, flusher, "synthesis_failed", err.Error())
		return
	}

	s.writeSSEDone(w, flusher, ans)
}

func retrieveErrorCode(err error) string {
	switch {
	case errors.Is(err, retrieve.ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, retrieve.ErrQueryTooLong):
		return "query_too_long"
	default:
		return "retrieval_failed"
	}
}

func (s *Server) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, ans answer.Answer) {
	data, _ := json.Marshal(SSEDoneData{Answer: ans})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
