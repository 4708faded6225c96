package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/intelforge/intelforge/internal/ingest"
)

// handleIngest runs one ingestion pass synchronously and returns the run
// report. A run with some failed documents still returns the report with
// 200; only a fully failed run is an error status.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		WriteError(w, http.StatusServiceUnavailable, "ingest_unavailable", "no ingestion sources configured", s.logger)
		return
	}

	report, err := s.ingestor.Run(r.Context())
	if err != nil {
		var partial *ingest.PartialFailureError
		if errors.As(err, &partial) && report != nil && report.State != ingest.StateFailed {
			s.logger.Warn("ingestion completed with failures",
				slog.Int("failed", partial.Failed),
				slog.Int("total", partial.Total))
			writeJSON(w, http.StatusOK, report, s.logger)
			return
		}

		s.logger.Error("ingestion run failed", slog.String("error", err.Error()))
		if report != nil {
			writeJSON(w, http.StatusInternalServerError, report, s.logger)
			return
		}
		WriteError(w, http.StatusInternalServerError, "ingest_failed", err.Error(), s.logger)
		return
	}

	writeJSON(w, http.StatusOK, report, s.logger)
}
